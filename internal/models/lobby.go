package models

import (
	"fmt"
	"time"
)

// LobbyCollection is the document store collection holding lobbies.
const LobbyCollection = "lobbies"

const (
	// FriendLobbyPin marks a lobby as a non-matchmade session.
	FriendLobbyPin = "FRIEND"

	LobbyStatusLobby = "LOBBY"
)

// LobbyPlayer is the denormalized player record inside a lobby.
type LobbyPlayer struct {
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Score    int    `json:"score"`
}

// Lobby is a paired 2-player session spawned by an accepted invite.
type Lobby struct {
	ID           string                 `json:"id"`
	HostID       string                 `json:"hostId"`
	Pin          string                 `json:"pin"`
	Status       string                 `json:"status"`
	IsFriendGame bool                   `json:"isFriendGame"`
	CreatedAt    int64                  `json:"createdAt"`
	Players      map[string]LobbyPlayer `json:"players"`
}

// FriendLobbyID formats the document id of a friend lobby.
func FriendLobbyID(createdAtMillis int64) string {
	return fmt.Sprintf("friend_%d", createdAtMillis)
}

// NewFriendLobby seeds a lobby with both participants of an invite at
// score 0. The inviter hosts.
func NewFriendLobby(invite *Invite, now time.Time) *Lobby {
	createdAt := now.UnixMilli()
	return &Lobby{
		ID:           FriendLobbyID(createdAt),
		HostID:       invite.FromUserID,
		Pin:          FriendLobbyPin,
		Status:       LobbyStatusLobby,
		IsFriendGame: true,
		CreatedAt:    createdAt,
		Players: map[string]LobbyPlayer{
			invite.FromUserID: {Nickname: invite.FromUserName, Avatar: invite.FromUserAvatar},
			invite.ToUserID:   {Nickname: invite.ToUserName, Avatar: invite.ToUserAvatar},
		},
	}
}

// HasPlayer reports whether userID is seated in the lobby.
func (l *Lobby) HasPlayer(userID string) bool {
	_, ok := l.Players[userID]
	return ok
}
