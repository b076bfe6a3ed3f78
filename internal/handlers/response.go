package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rugmania-backend/internal/middleware"
	"rugmania-backend/internal/models"
	"rugmania-backend/internal/wallet"
)

func respondOK(c *gin.Context, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["ok"] = true
	c.JSON(http.StatusOK, body)
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.NewErrorResponse(code, message))
}

// queryAddress reads and normalizes ?address=, answering 400 itself when it
// is missing or malformed.
func queryAddress(c *gin.Context) (string, bool) {
	raw := c.Query("address")
	if raw == "" {
		respondError(c, http.StatusBadRequest, models.CodeInvalidRequest, "Address required")
		return "", false
	}
	addr, err := wallet.Normalize(raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid address")
		return "", false
	}
	return addr, true
}

// requireOwner answers 403 unless the bearer token was issued to addr.
func requireOwner(c *gin.Context, addr string) bool {
	if !middleware.OwnsAddress(c, addr) {
		respondError(c, http.StatusForbidden, models.CodeForbidden, "Token does not match address")
		return false
	}
	return true
}
