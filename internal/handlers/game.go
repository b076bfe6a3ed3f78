package handlers

import (
	"errors"
	"net/http"

	"github.com/decred/slog"
	"github.com/gin-gonic/gin"

	"rugmania-backend/internal/models"
	"rugmania-backend/internal/services"
	"rugmania-backend/internal/wallet"
)

// SessionHandler serves /api/sessions, the server-side copy of a player's
// pending round secret.
type SessionHandler struct {
	redisService *services.RedisService
	log          slog.Logger
}

func NewSessionHandler(redisService *services.RedisService, log slog.Logger) *SessionHandler {
	if log == nil {
		log = slog.Disabled
	}
	return &SessionHandler{redisService: redisService, log: log}
}

func (h *SessionHandler) SaveSession(c *gin.Context) {
	var req models.SaveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request")
		return
	}

	addr, err := wallet.Normalize(req.PlayerAddress)
	if err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid address")
		return
	}
	if !requireOwner(c, addr) {
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidRequest, err.Error())
		return
	}

	session := &models.GameSession{
		PlayerAddress:  addr,
		ServerSeed:     req.ServerSeed,
		ServerSeedHash: req.ServerSeedHash,
		ClientSeed:     req.ClientSeed,
		BetAmount:      req.BetAmount,
		Difficulty:     req.Difficulty,
	}
	if err := h.redisService.PutGameSession(c.Request.Context(), session); err != nil {
		h.log.Errorf("Failed to save session for %s: %v", wallet.Truncate(addr), err)
		respondError(c, http.StatusInternalServerError, models.CodeInternal, "Failed to save session")
		return
	}

	h.log.Debugf("Saved session for %s", wallet.Truncate(addr))
	respondOK(c, gin.H{"success": true})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	addr, ok := queryAddress(c)
	if !ok || !requireOwner(c, addr) {
		return
	}

	session, err := h.redisService.GetGameSession(c.Request.Context(), addr)
	if errors.Is(err, services.ErrSessionNotFound) {
		respondError(c, http.StatusNotFound, models.CodeNotFound, "No active session")
		return
	}
	if err != nil {
		h.log.Errorf("Failed to load session for %s: %v", wallet.Truncate(addr), err)
		respondError(c, http.StatusInternalServerError, models.CodeInternal, "Failed to load session")
		return
	}

	var clientSeed *string
	if session.ClientSeed != "" {
		clientSeed = &session.ClientSeed
	}
	respondOK(c, gin.H{
		"serverSeed":     session.ServerSeed,
		"clientSeed":     clientSeed,
		"serverSeedHash": session.ServerSeedHash,
	})
}

func (h *SessionHandler) DeleteSession(c *gin.Context) {
	addr, ok := queryAddress(c)
	if !ok || !requireOwner(c, addr) {
		return
	}

	deleted, err := h.redisService.DeleteGameSession(c.Request.Context(), addr)
	if err != nil {
		h.log.Errorf("Failed to delete session for %s: %v", wallet.Truncate(addr), err)
		respondError(c, http.StatusInternalServerError, models.CodeInternal, "Failed to delete session")
		return
	}

	respondOK(c, gin.H{"success": true, "deleted": deleted})
}
