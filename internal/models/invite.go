package models

import (
	"fmt"
	"time"
)

// InviteTTL is how long an invite stays actionable after creation.
const InviteTTL = 30 * time.Second

// InviteCollection is the document store collection holding invites.
const InviteCollection = "gameInvites"

type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusAccepted InviteStatus = "accepted"
	InviteStatusDeclined InviteStatus = "declined"
	InviteStatusExpired  InviteStatus = "expired"
)

// IsTerminal reports whether the status can no longer change.
func (s InviteStatus) IsTerminal() bool {
	return s == InviteStatusAccepted || s == InviteStatusDeclined || s == InviteStatusExpired
}

// Participant is the denormalized identity of one side of an invite.
type Participant struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Invite is one 1v1 challenge between two users. Field names match the
// stored document layout.
type Invite struct {
	ID             string       `json:"id"`
	FromUserID     string       `json:"fromUserId"`
	ToUserID       string       `json:"toUserId"`
	FromUserName   string       `json:"fromUserName"`
	ToUserName     string       `json:"toUserName"`
	FromUserAvatar string       `json:"fromUserAvatar,omitempty"`
	ToUserAvatar   string       `json:"toUserAvatar,omitempty"`
	Status         InviteStatus `json:"status"`
	CreatedAt      int64        `json:"createdAt"`
	ExpiresAt      int64        `json:"expiresAt"`
	GameRoomID     string       `json:"gameRoomId,omitempty"`
}

// NewInvite builds a pending invite created at now.
func NewInvite(from, to Participant, now time.Time) *Invite {
	createdAt := now.UnixMilli()
	return &Invite{
		ID:             InviteID(from.UserID, to.UserID, createdAt),
		FromUserID:     from.UserID,
		ToUserID:       to.UserID,
		FromUserName:   from.Name,
		ToUserName:     to.Name,
		FromUserAvatar: from.Avatar,
		ToUserAvatar:   to.Avatar,
		Status:         InviteStatusPending,
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt + InviteTTL.Milliseconds(),
	}
}

// InviteID formats the document id of an invite.
func InviteID(fromUserID, toUserID string, createdAtMillis int64) string {
	return fmt.Sprintf("invite_%s_%s_%d", fromUserID, toUserID, createdAtMillis)
}

// IsExpired compares the wall clock against ExpiresAt, regardless of the
// stored status.
func (i *Invite) IsExpired(now time.Time) bool {
	return now.UnixMilli() > i.ExpiresAt
}

// From returns the sender as a participant.
func (i *Invite) From() Participant {
	return Participant{UserID: i.FromUserID, Name: i.FromUserName, Avatar: i.FromUserAvatar}
}

// To returns the receiver as a participant.
func (i *Invite) To() Participant {
	return Participant{UserID: i.ToUserID, Name: i.ToUserName, Avatar: i.ToUserAvatar}
}

// Involves reports whether userID is the sender or the receiver.
func (i *Invite) Involves(userID string) bool {
	return userID != "" && (i.FromUserID == userID || i.ToUserID == userID)
}
