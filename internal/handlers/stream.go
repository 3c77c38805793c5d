package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/HammerMeetNail/quizduel/internal/logging"
	"github.com/HammerMeetNail/quizduel/internal/models"
	"github.com/HammerMeetNail/quizduel/internal/services"
	"github.com/HammerMeetNail/quizduel/internal/store"
)

const sseHeartbeatInterval = 15 * time.Second

// InviteEvent is the payload of every "invite" server-sent event. Invite is
// null when there is nothing to show.
type InviteEvent struct {
	Invite *models.Invite `json:"invite"`
}

// StreamHandler pushes invite snapshots to clients as server-sent events.
type StreamHandler struct {
	inviteService services.InviteServiceInterface
	heartbeat     time.Duration
}

func NewStreamHandler(inviteService services.InviteServiceInterface) *StreamHandler {
	return &StreamHandler{
		inviteService: inviteService,
		heartbeat:     sseHeartbeatInterval,
	}
}

// WithHeartbeat overrides the keep-alive comment interval.
func (h *StreamHandler) WithHeartbeat(d time.Duration) *StreamHandler {
	if d > 0 {
		h.heartbeat = d
	}
	return h
}

// Invite streams one invite to its sender or receiver.
func (h *StreamHandler) Invite(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	inviteID := r.PathValue("id")
	invite, err := h.inviteService.GetInvite(r.Context(), inviteID)
	if err != nil {
		writeInviteError(w, "stream", err)
		return
	}
	if !invite.Involves(user.ID) {
		writeError(w, http.StatusForbidden, "Not a participant of this invite")
		return
	}

	h.stream(w, r, func(ctx context.Context, fn func(*models.Invite)) (store.Unsubscribe, error) {
		return h.inviteService.SubscribeToInvite(ctx, inviteID, fn)
	})
}

// Incoming streams the newest pending invite addressed to the caller.
func (h *StreamHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	h.stream(w, r, func(ctx context.Context, fn func(*models.Invite)) (store.Unsubscribe, error) {
		return h.inviteService.SubscribeToIncomingInvites(ctx, user.ID, fn)
	})
}

type subscribeFunc func(ctx context.Context, fn func(*models.Invite)) (store.Unsubscribe, error)

func (h *StreamHandler) stream(w http.ResponseWriter, r *http.Request, subscribe subscribeFunc) {
	ctx, cancel := context.WithCancel(r.Context())

	updates := make(chan *models.Invite, 16)
	unsubscribe, err := subscribe(ctx, func(invite *models.Invite) {
		select {
		case updates <- invite:
		case <-ctx.Done():
		}
	})
	if err != nil {
		cancel()
		logging.Error("Invite subscription failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	defer func() {
		cancel()
		unsubscribe()
	}()

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logging.Warn("Could not clear write deadline", map[string]interface{}{"error": err.Error()})
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
		case invite := <-updates:
			if err := writeInviteEvent(w, invite); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeInviteEvent(w http.ResponseWriter, invite *models.Invite) error {
	data, err := json.Marshal(InviteEvent{Invite: invite})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: invite\ndata: %s\n\n", data)
	return err
}
