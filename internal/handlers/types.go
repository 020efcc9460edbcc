package handlers

import (
	"time"

	"mail-aggregator-go/internal/session"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Accounts  map[string]string `json:"accounts"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// AccountsResponse lists every configured account
type AccountsResponse struct {
	Running    bool             `json:"running"`
	NextRescan *time.Time       `json:"next_rescan,omitempty"`
	Accounts   []session.Status `json:"accounts"`
}
