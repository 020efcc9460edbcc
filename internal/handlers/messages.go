package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mail-aggregator-go/internal/model"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 500
)

// GetMessage returns one indexed message addressed by account, folder and uid
func (h *Handlers) GetMessage(c *gin.Context) {
	account, folder := c.Query("account"), c.Query("folder")
	uid, err := strconv.ParseUint(c.Query("uid"), 10, 32)
	if account == "" || folder == "" || err != nil || uid == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "account, folder and a positive uid are required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	ref := model.MessageRef{Account: account, Folder: folder, UID: uint32(uid)}
	rec, err := h.store.Get(c.Request.Context(), ref.ID())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to fetch message", Code: http.StatusInternalServerError})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Message not found", Code: http.StatusNotFound})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetNotifications returns the most recent notifier attempts
func (h *Handlers) GetNotifications(c *gin.Context) {
	limit := defaultNotificationLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_limit", Message: "Invalid limit", Code: http.StatusBadRequest})
			return
		}
		limit = n
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}

	logs, err := h.store.RecentNotifications(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch notifications",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, logs)
}
