package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mail-aggregator-go/internal/session"
)

// HealthCheck reports database reachability and the state of each account.
// A failed account degrades the status but does not fail the check.
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Accounts:  make(map[string]string),
		Metrics:   make(map[string]string),
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	for _, st := range h.accounts.Statuses() {
		response.Accounts[st.Account] = st.State.String()
		if st.State == session.StateFailed && response.Status == "ok" {
			response.Status = "degraded"
		}
	}

	if h.accounts.IsRunning() {
		response.Metrics["orchestrator"] = "running"
		if next := h.accounts.NextRescan(); !next.IsZero() {
			response.Metrics["next_rescan"] = next.Format(time.RFC3339)
		}
	} else {
		response.Metrics["orchestrator"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
