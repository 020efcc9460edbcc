package model

import (
	"time"
)

// Notification attempt statuses
const (
	NotificationSuccess = "success"
	NotificationFailure = "failure"
)

// NotificationLog records one notifier attempt for an indexed message
type NotificationLog struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID string    `json:"message_id" gorm:"type:varchar(600);not null;index"`
	Notifier  string    `json:"notifier" gorm:"type:varchar(64);not null"`
	Category  string    `json:"category" gorm:"type:varchar(255)"`
	Status    string    `json:"status" gorm:"type:varchar(50);not null"`
	ErrorMsg  string    `json:"error_msg" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for NotificationLog
func (NotificationLog) TableName() string {
	return "notification_logs"
}
