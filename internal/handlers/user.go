package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/gin-gonic/gin"

	"rugmania-backend/internal/models"
	"rugmania-backend/internal/services"
	"rugmania-backend/internal/storage"
	"rugmania-backend/internal/wallet"
)

type UserHandler struct {
	store        *storage.Store
	redisService *services.RedisService
	log          slog.Logger
	now          func() time.Time
}

// NewUserHandler wires the profile routes. redisService may be nil; it is
// only used to drop cached leaderboards after a rename.
func NewUserHandler(store *storage.Store, redisService *services.RedisService, log slog.Logger) *UserHandler {
	if log == nil {
		log = slog.Disabled
	}
	return &UserHandler{store: store, redisService: redisService, log: log, now: time.Now}
}

func (h *UserHandler) GetUser(c *gin.Context) {
	addr, ok := queryAddress(c)
	if !ok {
		return
	}

	user, err := h.store.GetUser(c.Request.Context(), addr)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondOK(c, gin.H{"address": addr, "username": wallet.Truncate(addr)})
		return
	case err != nil:
		h.log.Errorf("Failed to get user %s: %v", wallet.Truncate(addr), err)
		respondError(c, http.StatusInternalServerError, models.CodeInternal, "Failed to fetch")
		return
	}

	profile := models.UserProfile{Address: user.Address, Username: user.Username}
	if profile.Username == "" {
		profile.Username = wallet.Truncate(user.Address)
	}
	respondOK(c, gin.H{"address": profile.Address, "username": profile.Username})
}

func (h *UserHandler) SetUsername(c *gin.Context) {
	var req models.UsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidRequest, "Address and username required")
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

	username := strings.TrimSpace(req.Username)
	if !models.ValidUsername(username) {
		respondError(c, http.StatusBadRequest, models.CodeInvalidRequest,
			"Username must be 3-20 characters and contain only letters, numbers, and _")
		return
	}

	msg := models.UsernameMessage(addr, username, req.Timestamp)
	if err := wallet.VerifySigner(addr, msg, req.Signature); err != nil {
		respondError(c, http.StatusUnauthorized, models.CodeUnauthorized, "Unauthorized")
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.SetUsername(ctx, addr, username); err != nil {
		if errors.Is(err, storage.ErrUsernameTaken) {
			respondError(c, http.StatusConflict, models.CodeConflict, "Username already taken")
			return
		}
		h.log.Errorf("Failed to save username for %s: %v", wallet.Truncate(addr), err)
		respondError(c, http.StatusInternalServerError, models.CodeInternal, "Failed to save")
		return
	}

	if h.redisService != nil {
		if err := h.redisService.InvalidateLeaderboards(ctx, services.PeriodWeekly, services.PeriodAllTime); err != nil {
			h.log.Debugf("Leaderboard cache invalidation failed: %v", err)
		}
	}

	respondOK(c, gin.H{"success": true, "username": username})
}
