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

// SettlementHandler records finished rounds and serves the read models
// derived from them.
type SettlementHandler struct {
	settlements *services.SettlementService
	log         slog.Logger
}

func NewSettlementHandler(settlements *services.SettlementService, log slog.Logger) *SettlementHandler {
	if log == nil {
		log = slog.Disabled
	}
	return &SettlementHandler{settlements: settlements, log: log}
}

func (h *SettlementHandler) RecordSettlement(c *gin.Context) {
	var req models.SettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request")
		return
	}
	if _, err := wallet.Normalize(req.Player); err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid address")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidRequest, err.Error())
		return
	}

	_, dup, err := h.settlements.Record(c.Request.Context(), req)
	switch {
	case errors.Is(err, services.ErrUnverified):
		respondError(c, http.StatusUnauthorized, models.CodeUnverified, "Unauthorized")
		return
	case err != nil:
		h.log.Errorf("Failed to record settlement %s: %v", req.TxRef, err)
		respondError(c, http.StatusInternalServerError, models.CodeInternal, "Failed to record")
		return
	}

	if dup {
		respondOK(c, gin.H{"success": true, "duplicate": true})
		return
	}
	respondOK(c, gin.H{"success": true})
}

func (h *SettlementHandler) GetHistory(c *gin.Context) {
	addr, ok := queryAddress(c)
	if !ok {
		return
	}

	games, err := h.settlements.History(c.Request.Context(), addr)
	if err != nil {
		h.log.Errorf("Failed to fetch history for %s: %v", wallet.Truncate(addr), err)
		respondError(c, http.StatusInternalServerError, models.CodeInternal, "Failed to fetch game history")
		return
	}

	respondOK(c, gin.H{"games": games})
}

func (h *SettlementHandler) GetStats(c *gin.Context) {
	addr, ok := queryAddress(c)
	if !ok {
		return
	}

	stats, err := h.settlements.Stats(c.Request.Context(), addr)
	if err != nil {
		h.log.Errorf("Failed to fetch stats for %s: %v", wallet.Truncate(addr), err)
		respondError(c, http.StatusInternalServerError, models.CodeInternal, "Failed to fetch stats")
		return
	}

	respondOK(c, gin.H{
		"totalGames":    stats.TotalGames,
		"wins":          stats.Wins,
		"totalWagered":  stats.TotalWagered,
		"netProfitLoss": stats.NetProfitLoss,
	})
}

func (h *SettlementHandler) GetLeaderboard(c *gin.Context) {
	players, period, err := h.settlements.Leaderboard(c.Request.Context(), c.Query("period"))
	if err != nil {
		h.log.Errorf("Failed to build leaderboard: %v", err)
		respondError(c, http.StatusInternalServerError, models.CodeInternal, "Failed to fetch")
		return
	}

	respondOK(c, gin.H{"players": players, "period": period})
}
