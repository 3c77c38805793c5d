package handlers

import (
	"errors"
	"net/http"

	"github.com/HammerMeetNail/quizduel/internal/logging"
	"github.com/HammerMeetNail/quizduel/internal/models"
	"github.com/HammerMeetNail/quizduel/internal/services"
)

type LobbyHandler struct {
	lobbyService services.LobbyServiceInterface
}

func NewLobbyHandler(lobbyService services.LobbyServiceInterface) *LobbyHandler {
	return &LobbyHandler{lobbyService: lobbyService}
}

type LobbyResponse struct {
	Lobby *models.Lobby `json:"lobby"`
}

func (h *LobbyHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	lobby, err := h.lobbyService.GetLobby(r.Context(), r.PathValue("id"))
	if errors.Is(err, services.ErrLobbyNotFound) {
		writeError(w, http.StatusNotFound, "Lobby not found")
		return
	}
	if err != nil {
		logging.Error("Lobby request failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !lobby.HasPlayer(user.ID) {
		writeError(w, http.StatusForbidden, "Not a player in this lobby")
		return
	}

	writeJSON(w, http.StatusOK, LobbyResponse{Lobby: lobby})
}
