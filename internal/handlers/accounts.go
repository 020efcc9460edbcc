package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mail-aggregator-go/internal/orchestrator"
)

// GetAccounts returns the status of every account
func (h *Handlers) GetAccounts(c *gin.Context) {
	response := AccountsResponse{
		Running:  h.accounts.IsRunning(),
		Accounts: h.accounts.Statuses(),
	}
	if next := h.accounts.NextRescan(); !next.IsZero() {
		response.NextRescan = &next
	}
	c.JSON(http.StatusOK, response)
}

// Rescan queues a rescan of an account's primary folder
func (h *Handlers) Rescan(c *gin.Context) {
	account := c.Param("account")
	if err := h.accounts.Rescan(account); err != nil {
		if errors.Is(err, orchestrator.ErrUnknownAccount) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error(), Code: http.StatusNotFound})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "rescan_failed", Message: err.Error(), Code: http.StatusInternalServerError})
		return
	}

	logrus.WithField("account", account).Info("Rescan requested")
	c.JSON(http.StatusAccepted, gin.H{"account": account, "status": "queued"})
}
