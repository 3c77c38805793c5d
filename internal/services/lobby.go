package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/HammerMeetNail/quizduel/internal/models"
	"github.com/HammerMeetNail/quizduel/internal/store"
)

var ErrLobbyNotFound = errors.New("lobby not found")

// LobbyService reads friend lobbies. They are only ever written by
// InviteService.AcceptInvite.
type LobbyService struct {
	store DocumentStore
}

func NewLobbyService(docs DocumentStore) *LobbyService {
	return &LobbyService{store: docs}
}

func (s *LobbyService) GetLobby(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	if lobbyID == "" {
		return nil, ErrLobbyNotFound
	}
	doc, err := s.store.Get(ctx, models.LobbyCollection, lobbyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrLobbyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lobby: %w", err)
	}

	var lobby models.Lobby
	if err := doc.DataTo(&lobby); err != nil {
		return nil, err
	}
	lobby.ID = doc.ID
	return &lobby, nil
}
