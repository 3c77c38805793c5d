package services

import (
	"context"

	"github.com/HammerMeetNail/quizduel/internal/models"
	"github.com/HammerMeetNail/quizduel/internal/store"
)

// DocumentStore is the slice of *store.DocumentStore the services use.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (*store.Document, error)
	Set(ctx context.Context, collection, id string, data any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, filters ...store.Filter) ([]store.Document, error)
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error
	Watch(ctx context.Context, collection, id string, fn func(*store.Document)) (store.Unsubscribe, error)
	WatchQuery(ctx context.Context, collection string, filters []store.Filter, fn func([]store.Document)) (store.Unsubscribe, error)
}

// InviteServiceInterface defines the contract for invite lifecycle operations used by handlers.
type InviteServiceInterface interface {
	CreateInvite(ctx context.Context, from, to models.Participant) (*models.Invite, error)
	AcceptInvite(ctx context.Context, inviteID string) (string, error)
	DeclineInvite(ctx context.Context, inviteID string) error
	CancelInvite(ctx context.Context, inviteID string) error
	ExpireInvite(ctx context.Context, inviteID string) error
	GetInvite(ctx context.Context, inviteID string) (*models.Invite, error)
	SubscribeToInvite(ctx context.Context, inviteID string, fn func(*models.Invite)) (store.Unsubscribe, error)
	SubscribeToIncomingInvites(ctx context.Context, userID string, fn func(*models.Invite)) (store.Unsubscribe, error)
}

// AuthServiceInterface defines the contract for bearer token validation.
type AuthServiceInterface interface {
	ValidateToken(token string) (*models.User, error)
}

// LobbyServiceInterface defines the contract for lobby reads.
type LobbyServiceInterface interface {
	GetLobby(ctx context.Context, lobbyID string) (*models.Lobby, error)
}

var (
	_ DocumentStore          = (*store.DocumentStore)(nil)
	_ InviteServiceInterface = (*InviteService)(nil)
	_ LobbyServiceInterface  = (*LobbyService)(nil)
	_ AuthServiceInterface   = (*AuthService)(nil)
)
