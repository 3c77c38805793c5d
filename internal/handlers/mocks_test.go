package handlers

import (
	"context"

	"github.com/HammerMeetNail/quizduel/internal/models"
	"github.com/HammerMeetNail/quizduel/internal/services"
	"github.com/HammerMeetNail/quizduel/internal/store"
)

type mockInviteService struct {
	CreateInviteFunc               func(ctx context.Context, from, to models.Participant) (*models.Invite, error)
	AcceptInviteFunc               func(ctx context.Context, inviteID string) (string, error)
	DeclineInviteFunc              func(ctx context.Context, inviteID string) error
	CancelInviteFunc               func(ctx context.Context, inviteID string) error
	ExpireInviteFunc               func(ctx context.Context, inviteID string) error
	GetInviteFunc                  func(ctx context.Context, inviteID string) (*models.Invite, error)
	SubscribeToInviteFunc          func(ctx context.Context, inviteID string, fn func(*models.Invite)) (store.Unsubscribe, error)
	SubscribeToIncomingInvitesFunc func(ctx context.Context, userID string, fn func(*models.Invite)) (store.Unsubscribe, error)
}

func (m *mockInviteService) CreateInvite(ctx context.Context, from, to models.Participant) (*models.Invite, error) {
	if m.CreateInviteFunc != nil {
		return m.CreateInviteFunc(ctx, from, to)
	}
	return nil, nil
}

func (m *mockInviteService) AcceptInvite(ctx context.Context, inviteID string) (string, error) {
	if m.AcceptInviteFunc != nil {
		return m.AcceptInviteFunc(ctx, inviteID)
	}
	return "", nil
}

func (m *mockInviteService) DeclineInvite(ctx context.Context, inviteID string) error {
	if m.DeclineInviteFunc != nil {
		return m.DeclineInviteFunc(ctx, inviteID)
	}
	return nil
}

func (m *mockInviteService) CancelInvite(ctx context.Context, inviteID string) error {
	if m.CancelInviteFunc != nil {
		return m.CancelInviteFunc(ctx, inviteID)
	}
	return nil
}

func (m *mockInviteService) ExpireInvite(ctx context.Context, inviteID string) error {
	if m.ExpireInviteFunc != nil {
		return m.ExpireInviteFunc(ctx, inviteID)
	}
	return nil
}

func (m *mockInviteService) GetInvite(ctx context.Context, inviteID string) (*models.Invite, error) {
	if m.GetInviteFunc != nil {
		return m.GetInviteFunc(ctx, inviteID)
	}
	return nil, services.ErrInviteNotFound
}

func (m *mockInviteService) SubscribeToInvite(ctx context.Context, inviteID string, fn func(*models.Invite)) (store.Unsubscribe, error) {
	if m.SubscribeToInviteFunc != nil {
		return m.SubscribeToInviteFunc(ctx, inviteID, fn)
	}
	return func() {}, nil
}

func (m *mockInviteService) SubscribeToIncomingInvites(ctx context.Context, userID string, fn func(*models.Invite)) (store.Unsubscribe, error) {
	if m.SubscribeToIncomingInvitesFunc != nil {
		return m.SubscribeToIncomingInvitesFunc(ctx, userID, fn)
	}
	return func() {}, nil
}

type mockLobbyService struct {
	GetLobbyFunc func(ctx context.Context, lobbyID string) (*models.Lobby, error)
}

func (m *mockLobbyService) GetLobby(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	if m.GetLobbyFunc != nil {
		return m.GetLobbyFunc(ctx, lobbyID)
	}
	return nil, services.ErrLobbyNotFound
}

var (
	_ services.InviteServiceInterface = (*mockInviteService)(nil)
	_ services.LobbyServiceInterface  = (*mockLobbyService)(nil)
)
