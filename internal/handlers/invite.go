package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/HammerMeetNail/quizduel/internal/logging"
	"github.com/HammerMeetNail/quizduel/internal/models"
	"github.com/HammerMeetNail/quizduel/internal/services"
)

type InviteHandler struct {
	inviteService services.InviteServiceInterface
}

func NewInviteHandler(inviteService services.InviteServiceInterface) *InviteHandler {
	return &InviteHandler{inviteService: inviteService}
}

type CreateGameInviteRequest struct {
	ToUserID     string `json:"toUserId"`
	ToUserName   string `json:"toUserName"`
	ToUserAvatar string `json:"toUserAvatar"`
}

type GameInviteResponse struct {
	InviteID string         `json:"inviteId,omitempty"`
	Invite   *models.Invite `json:"invite,omitempty"`
	Message  string         `json:"message,omitempty"`
}

type AcceptGameInviteResponse struct {
	LobbyID string `json:"lobbyId"`
}

func (h *InviteHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req CreateGameInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ToUserID = strings.TrimSpace(req.ToUserID)
	if req.ToUserID == "" {
		writeError(w, http.StatusBadRequest, "toUserId is required")
		return
	}

	to := models.Participant{
		UserID: req.ToUserID,
		Name:   strings.TrimSpace(req.ToUserName),
		Avatar: strings.TrimSpace(req.ToUserAvatar),
	}
	invite, err := h.inviteService.CreateInvite(r.Context(), user.Participant(), to)
	if err != nil {
		writeInviteError(w, "create", err)
		return
	}

	writeJSON(w, http.StatusCreated, GameInviteResponse{InviteID: invite.ID, Invite: invite})
}

func (h *InviteHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	invite, ok := h.loadAuthorized(w, r, user, anyParticipant)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, GameInviteResponse{InviteID: invite.ID, Invite: invite})
}

func (h *InviteHandler) Accept(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	invite, ok := h.loadAuthorized(w, r, user, receiverOnly)
	if !ok {
		return
	}

	lobbyID, err := h.inviteService.AcceptInvite(r.Context(), invite.ID)
	if err != nil {
		writeInviteError(w, "accept", err)
		return
	}
	writeJSON(w, http.StatusOK, AcceptGameInviteResponse{LobbyID: lobbyID})
}

func (h *InviteHandler) Decline(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	invite, ok := h.loadAuthorized(w, r, user, receiverOnly)
	if !ok {
		return
	}

	if err := h.inviteService.DeclineInvite(r.Context(), invite.ID); err != nil {
		writeInviteError(w, "decline", err)
		return
	}
	writeJSON(w, http.StatusOK, GameInviteResponse{Message: "Invite declined"})
}

// Cancel withdraws the caller's own invite. An invite that is already gone
// counts as cancelled.
func (h *InviteHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	inviteID := r.PathValue("id")
	invite, err := h.inviteService.GetInvite(r.Context(), inviteID)
	if errors.Is(err, services.ErrInviteNotFound) {
		writeJSON(w, http.StatusOK, GameInviteResponse{Message: "Invite cancelled"})
		return
	}
	if err != nil {
		writeInviteError(w, "cancel", err)
		return
	}
	if invite.FromUserID != user.ID {
		writeError(w, http.StatusForbidden, "Only the sender can cancel this invite")
		return
	}

	if err := h.inviteService.CancelInvite(r.Context(), inviteID); err != nil {
		writeInviteError(w, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, GameInviteResponse{Message: "Invite cancelled"})
}

// Expire is called by either side when its countdown runs out.
func (h *InviteHandler) Expire(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	inviteID := r.PathValue("id")
	invite, err := h.inviteService.GetInvite(r.Context(), inviteID)
	if errors.Is(err, services.ErrInviteNotFound) {
		writeJSON(w, http.StatusOK, GameInviteResponse{Message: "Invite expired"})
		return
	}
	if err != nil {
		writeInviteError(w, "expire", err)
		return
	}
	if !invite.Involves(user.ID) {
		writeError(w, http.StatusForbidden, "Not a participant of this invite")
		return
	}

	if err := h.inviteService.ExpireInvite(r.Context(), inviteID); err != nil {
		writeInviteError(w, "expire", err)
		return
	}
	writeJSON(w, http.StatusOK, GameInviteResponse{Message: "Invite expired"})
}

type inviteAccess int

const (
	anyParticipant inviteAccess = iota
	receiverOnly
)

// loadAuthorized fetches the invite named in the path and checks the
// caller may act on it. It writes the error response itself.
func (h *InviteHandler) loadAuthorized(w http.ResponseWriter, r *http.Request, user *models.User, access inviteAccess) (*models.Invite, bool) {
	invite, err := h.inviteService.GetInvite(r.Context(), r.PathValue("id"))
	if err != nil {
		writeInviteError(w, "load", err)
		return nil, false
	}

	switch access {
	case receiverOnly:
		if invite.ToUserID != user.ID {
			writeError(w, http.StatusForbidden, "Only the invited user can respond to this invite")
			return nil, false
		}
	default:
		if !invite.Involves(user.ID) {
			writeError(w, http.StatusForbidden, "Not a participant of this invite")
			return nil, false
		}
	}
	return invite, true
}

// writeInviteError maps service errors to responses. Anything unexpected
// is logged and reported as a generic 500.
func writeInviteError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, services.ErrInviteNotFound):
		writeError(w, http.StatusNotFound, "Invite not found")
	case errors.Is(err, services.ErrInviteNotPending):
		writeError(w, http.StatusConflict, "Invite is no longer pending")
	case errors.Is(err, services.ErrInviteExpired):
		writeError(w, http.StatusGone, "Invite has expired")
	case errors.Is(err, services.ErrSelfInvite):
		writeError(w, http.StatusBadRequest, "Cannot invite yourself")
	case errors.Is(err, services.ErrInvalidParticipant):
		writeError(w, http.StatusBadRequest, "toUserId is required")
	default:
		logging.Error("Invite request failed", map[string]interface{}{
			"op":    op,
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
