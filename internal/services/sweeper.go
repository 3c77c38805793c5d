package services

import (
	"context"
	"errors"
	"time"

	"github.com/HammerMeetNail/quizduel/internal/logging"
	"github.com/HammerMeetNail/quizduel/internal/models"
	"github.com/HammerMeetNail/quizduel/internal/store"
)

// DefaultSweepInterval is used when the sweeper is built with a
// non-positive interval.
const DefaultSweepInterval = 5 * time.Second

// ExpirySweeper deletes invites whose expiry has passed so stale pending
// invites do not depend on a client countdown firing. Accepted invites are
// never touched.
type ExpirySweeper struct {
	store    DocumentStore
	interval time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

func NewExpirySweeper(docs DocumentStore, interval time.Duration, logger *logging.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = logging.Default
	}
	return &ExpirySweeper{
		store:    docs,
		interval: interval,
		logger:   logger.WithField("component", "sweeper"),
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Invite sweep failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// Sweep deletes every expired pending, declined or expired invite and
// returns how many were removed.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	removed := 0
	statuses := []models.InviteStatus{
		models.InviteStatusPending,
		models.InviteStatusDeclined,
		models.InviteStatusExpired,
	}

	for _, status := range statuses {
		docs, err := s.store.Query(ctx, models.InviteCollection, store.Eq("status", status))
		if err != nil {
			return removed, err
		}
		for i := range docs {
			var invite models.Invite
			if err := docs[i].DataTo(&invite); err != nil {
				s.logger.Warn("Skipping unreadable invite", map[string]interface{}{
					"invite_id": docs[i].ID,
					"error":     err.Error(),
				})
				continue
			}
			if !invite.IsExpired(s.now()) {
				continue
			}

			ok, err := s.deleteIfExpired(ctx, docs[i].ID)
			if err != nil {
				return removed, err
			}
			if ok {
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Info("Swept expired invites", map[string]interface{}{"removed": removed})
	}
	return removed, nil
}

// deleteIfExpired re-reads the invite inside a transaction so an invite
// accepted since the query is kept.
func (s *ExpirySweeper) deleteIfExpired(ctx context.Context, inviteID string) (bool, error) {
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
		now := s.now()
		// Declined and expired invites also wait for expiresAt here.
		if !invite.IsExpired(now) || !expirable(invite, now) {
			return nil
		}
		deleted = true
		return tx.Delete(ctx, models.InviteCollection, inviteID)
	})
	return deleted, err
}
