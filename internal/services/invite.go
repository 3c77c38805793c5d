package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/HammerMeetNail/quizduel/internal/logging"
	"github.com/HammerMeetNail/quizduel/internal/models"
	"github.com/HammerMeetNail/quizduel/internal/store"
)

var (
	ErrInviteNotFound     = errors.New("invite not found")
	ErrInviteNotPending   = errors.New("invite is no longer pending")
	ErrInviteExpired      = errors.New("invite has expired")
	ErrSelfInvite         = errors.New("cannot invite yourself")
	ErrInvalidParticipant = errors.New("participant user id is required")
	ErrLobbyIDExhausted   = errors.New("could not allocate a lobby id")
)

const (
	// maxLobbyIDAttempts bounds how many milliseconds a lobby id is bumped
	// past an existing one.
	maxLobbyIDAttempts = 10
	// maxLobbyCreateAttempts bounds accept retries after losing a lobby id
	// to a concurrent accept.
	maxLobbyCreateAttempts = 3
)

type InviteService struct {
	store  DocumentStore
	logger *logging.Logger
	now    func() time.Time
}

func NewInviteService(docs DocumentStore, logger *logging.Logger) *InviteService {
	if logger == nil {
		logger = logging.Default
	}
	return &InviteService{
		store:  docs,
		logger: logger.WithField("component", "invites"),
		now:    time.Now,
	}
}

// CreateInvite writes a pending invite from one user to another. An older
// pending invite from the same sender to the same receiver is removed in
// the same transaction.
func (s *InviteService) CreateInvite(ctx context.Context, from, to models.Participant) (*models.Invite, error) {
	if from.UserID == "" || to.UserID == "" {
		return nil, ErrInvalidParticipant
	}
	if from.UserID == to.UserID {
		return nil, ErrSelfInvite
	}

	invite := models.NewInvite(from, to, s.now())

	previous, err := s.store.Query(ctx, models.InviteCollection,
		store.Eq("fromUserId", from.UserID),
		store.Eq("toUserId", to.UserID),
		store.Eq("status", models.InviteStatusPending),
	)
	if err != nil {
		s.logFailure("create", invite.ID, err)
		return nil, fmt.Errorf("list previous invites: %w", err)
	}

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, doc := range previous {
			if doc.ID == invite.ID {
				continue
			}
			if err := tx.Delete(ctx, models.InviteCollection, doc.ID); err != nil {
				return err
			}
		}
		return tx.Set(ctx, models.InviteCollection, invite.ID, invite)
	})
	if err != nil {
		s.logFailure("create", invite.ID, err)
		return nil, fmt.Errorf("create invite: %w", err)
	}

	s.logger.Info("Invite created", map[string]interface{}{
		"invite_id":  invite.ID,
		"from":       invite.FromUserID,
		"to":         invite.ToUserID,
		"superseded": len(previous),
	})
	return invite, nil
}

// AcceptInvite provisions the friend lobby and marks the invite accepted in
// one transaction. An invite found past its expiry is deleted and
// ErrInviteExpired is returned.
func (s *InviteService) AcceptInvite(ctx context.Context, inviteID string) (string, error) {
	var lobbyID string
	var expired bool
	var err error

	// A lobby id claimed by a concurrent accept surfaces as
	// store.ErrAlreadyExists; the retry sees it taken and moves past it.
	for attempt := 0; attempt < maxLobbyCreateAttempts; attempt++ {
		lobbyID, expired, err = s.acceptOnce(ctx, inviteID)
		if !errors.Is(err, store.ErrAlreadyExists) {
			break
		}
		s.logger.Debug("Lobby id taken at commit; retrying accept", map[string]interface{}{
			"invite_id": inviteID,
			"attempt":   attempt + 1,
		})
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		err = ErrLobbyIDExhausted
	}
	if err != nil {
		s.logFailure("accept", inviteID, err)
		return "", err
	}
	if expired {
		s.logger.Info("Expired invite removed on accept", map[string]interface{}{"invite_id": inviteID})
		return "", ErrInviteExpired
	}

	s.logger.Info("Invite accepted", map[string]interface{}{
		"invite_id": inviteID,
		"lobby_id":  lobbyID,
	})
	return lobbyID, nil
}

func (s *InviteService) acceptOnce(ctx context.Context, inviteID string) (lobbyID string, expired bool, err error) {
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		lobbyID, expired = "", false

		invite, err := loadInvite(ctx, tx, inviteID)
		if err != nil {
			return err
		}
		if invite.Status != models.InviteStatusPending {
			return ErrInviteNotPending
		}

		now := s.now()
		if invite.IsExpired(now) {
			expired = true
			return tx.Delete(ctx, models.InviteCollection, inviteID)
		}

		lobby := models.NewFriendLobby(invite, now)
		if lobby.ID, err = freeLobbyID(ctx, tx, lobby.CreatedAt); err != nil {
			return err
		}

		if err := tx.Create(ctx, models.LobbyCollection, lobby.ID, lobby); err != nil {
			return err
		}
		if err := tx.Update(ctx, models.InviteCollection, inviteID, map[string]any{
			"status":     models.InviteStatusAccepted,
			"gameRoomId": lobby.ID,
		}); err != nil {
			return err
		}
		lobbyID = lobby.ID
		return nil
	})
	return lobbyID, expired, err
}

// DeclineInvite marks a pending, unexpired invite declined.
func (s *InviteService) DeclineInvite(ctx context.Context, inviteID string) error {
	var expired bool

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		expired = false

		invite, err := loadInvite(ctx, tx, inviteID)
		if err != nil {
			return err
		}
		if invite.Status != models.InviteStatusPending {
			return ErrInviteNotPending
		}
		if invite.IsExpired(s.now()) {
			expired = true
			return tx.Delete(ctx, models.InviteCollection, inviteID)
		}
		return tx.Update(ctx, models.InviteCollection, inviteID, map[string]any{
			"status": models.InviteStatusDeclined,
		})
	})
	if err != nil {
		s.logFailure("decline", inviteID, err)
		return err
	}
	if expired {
		return ErrInviteExpired
	}

	s.logger.Info("Invite declined", map[string]interface{}{"invite_id": inviteID})
	return nil
}

// CancelInvite deletes the invite. Cancelling an absent invite succeeds.
func (s *InviteService) CancelInvite(ctx context.Context, inviteID string) error {
	if err := s.store.Delete(ctx, models.InviteCollection, inviteID); err != nil {
		s.logFailure("cancel", inviteID, err)
		return fmt.Errorf("cancel invite: %w", err)
	}
	return nil
}

// ExpireInvite is the cleanup either client calls when its countdown ends.
// The stored expiresAt is authoritative: a pending invite that has not
// expired yet is left alone, and an accepted invite is kept for the sender
// to follow its lobby link. A missing invite is not an error.
func (s *InviteService) ExpireInvite(ctx context.Context, inviteID string) error {
	deleted := false
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		deleted = false

		invite, err := loadInvite(ctx, tx, inviteID)
		if errors.Is(err, ErrInviteNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !expirable(invite, s.now()) {
			return nil
		}
		deleted = true
		return tx.Delete(ctx, models.InviteCollection, inviteID)
	})
	if err != nil {
		s.logFailure("expire", inviteID, err)
		return fmt.Errorf("expire invite: %w", err)
	}
	if deleted {
		s.logger.Debug("Invite expired", map[string]interface{}{"invite_id": inviteID})
	}
	return nil
}

func (s *InviteService) GetInvite(ctx context.Context, inviteID string) (*models.Invite, error) {
	invite, err := loadInvite(ctx, s.store, inviteID)
	if err != nil {
		s.logFailure("get", inviteID, err)
		return nil, err
	}
	return invite, nil
}

// SubscribeToInvite calls fn with the invite now and after every change,
// or with nil while it does not exist. Statuses are passed through as-is.
func (s *InviteService) SubscribeToInvite(ctx context.Context, inviteID string, fn func(*models.Invite)) (store.Unsubscribe, error) {
	return s.store.Watch(ctx, models.InviteCollection, inviteID, func(doc *store.Document) {
		if doc == nil {
			fn(nil)
			return
		}
		var invite models.Invite
		if err := doc.DataTo(&invite); err != nil {
			s.logFailure("subscribe", inviteID, err)
			return
		}
		invite.ID = doc.ID
		fn(&invite)
	})
}

// SubscribeToIncomingInvites calls fn with the newest unexpired pending
// invite addressed to userID, or nil when there is none. Older pending
// invites are hidden, not deleted.
func (s *InviteService) SubscribeToIncomingInvites(ctx context.Context, userID string, fn func(*models.Invite)) (store.Unsubscribe, error) {
	if userID == "" {
		return nil, ErrInvalidParticipant
	}
	filters := []store.Filter{
		store.Eq("toUserId", userID),
		store.Eq("status", models.InviteStatusPending),
	}
	return s.store.WatchQuery(ctx, models.InviteCollection, filters, func(docs []store.Document) {
		fn(newestActiveInvite(docs, s.now(), s.logger))
	})
}

// newestActiveInvite picks the most recently created pending invite that
// has not expired at now. Equal createdAt values fall back to id order.
func newestActiveInvite(docs []store.Document, now time.Time, logger *logging.Logger) *models.Invite {
	active := make([]*models.Invite, 0, len(docs))
	for i := range docs {
		var invite models.Invite
		if err := docs[i].DataTo(&invite); err != nil {
			logger.Warn("Skipping unreadable invite", map[string]interface{}{
				"invite_id": docs[i].ID,
				"error":     err.Error(),
			})
			continue
		}
		invite.ID = docs[i].ID
		if invite.Status != models.InviteStatusPending || invite.IsExpired(now) {
			continue
		}
		active = append(active, &invite)
	}
	if len(active) == 0 {
		return nil
	}

	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt != active[j].CreatedAt {
			return active[i].CreatedAt > active[j].CreatedAt
		}
		return active[i].ID > active[j].ID
	})
	return active[0]
}

// expirable reports whether cleanup may delete the invite at now. Accepted
// invites are kept for the sender; other terminal ones can always go.
func expirable(invite *models.Invite, now time.Time) bool {
	if invite.Status == models.InviteStatusAccepted {
		return false
	}
	if invite.Status.IsTerminal() {
		return true
	}
	return invite.IsExpired(now)
}

type documentGetter interface {
	Get(ctx context.Context, collection, id string) (*store.Document, error)
}

func loadInvite(ctx context.Context, docs documentGetter, inviteID string) (*models.Invite, error) {
	if inviteID == "" {
		return nil, ErrInviteNotFound
	}
	doc, err := docs.Get(ctx, models.InviteCollection, inviteID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load invite: %w", err)
	}

	var invite models.Invite
	if err := doc.DataTo(&invite); err != nil {
		return nil, err
	}
	invite.ID = doc.ID
	return &invite, nil
}

// freeLobbyID returns friend_{createdAt}, moving forward a millisecond at a
// time while that id is taken.
func freeLobbyID(ctx context.Context, tx store.Tx, createdAt int64) (string, error) {
	for i := int64(0); i < maxLobbyIDAttempts; i++ {
		id := models.FriendLobbyID(createdAt + i)
		_, err := tx.Get(ctx, models.LobbyCollection, id)
		if errors.Is(err, store.ErrNotFound) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("check lobby id: %w", err)
		}
	}
	return "", ErrLobbyIDExhausted
}

// logFailure logs store and decoding failures. Business rejections are the
// caller's to report.
func (s *InviteService) logFailure(op, inviteID string, err error) {
	if isInviteRejection(err) || errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Error("Invite operation failed", map[string]interface{}{
		"op":        op,
		"invite_id": inviteID,
		"error":     err.Error(),
	})
}

func isInviteRejection(err error) bool {
	return errors.Is(err, ErrInviteNotFound) ||
		errors.Is(err, ErrInviteNotPending) ||
		errors.Is(err, ErrInviteExpired) ||
		errors.Is(err, ErrSelfInvite) ||
		errors.Is(err, ErrInvalidParticipant)
}
