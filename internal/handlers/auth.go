package handlers

import (
	"net/http"
	"time"

	"github.com/decred/slog"
	"github.com/gin-gonic/gin"

	"rugmania-backend/internal/models"
	"rugmania-backend/internal/services"
	"rugmania-backend/internal/wallet"
)

// AuthHandler trades a signed session-access message for a bearer token
// scoped to the signing address.
type AuthHandler struct {
	jwtService *services.JWTService
	log        slog.Logger
	now        func() time.Time
}

func NewAuthHandler(jwtService *services.JWTService, log slog.Logger) *AuthHandler {
	if log == nil {
		log = slog.Disabled
	}
	return &AuthHandler{jwtService: jwtService, log: log, now: time.Now}
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req models.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request")
		return
	}

	addr, err := wallet.Normalize(req.Address)
	if err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid address")
		return
	}
	if !models.TimestampFresh(req.Timestamp, h.now()) {
		respondError(c, http.StatusUnauthorized, models.CodeUnauthorized, "Unauthorized")
		return
	}
	if err := wallet.VerifySigner(addr, models.SessionAccessMessage(addr, req.Timestamp), req.Signature); err != nil {
		respondError(c, http.StatusUnauthorized, models.CodeUnauthorized, "Unauthorized")
		return
	}

	token, expires, err := h.jwtService.GenerateToken(addr)
	if err != nil {
		h.log.Errorf("Failed to issue token: %v", err)
		respondError(c, http.StatusInternalServerError, models.CodeInternal, "Failed to issue token")
		return
	}

	respondOK(c, gin.H{"token": token, "expiresAt": expires.UnixMilli()})
}
