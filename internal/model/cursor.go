package model

import "time"

// Cursor is the last-processed uid watermark for one (account, folder) pair.
// UIDValidity is the folder epoch the watermark belongs to; zero means unknown.
type Cursor struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Account     string    `json:"account" gorm:"type:varchar(255);not null;uniqueIndex:idx_cursor_account_folder"`
	Folder      string    `json:"folder" gorm:"type:varchar(255);not null;uniqueIndex:idx_cursor_account_folder"`
	LastUID     uint32    `json:"last_uid" gorm:"column:last_uid;not null"`
	UIDValidity uint32    `json:"uid_validity" gorm:"column:uid_validity;not null"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for Cursor
func (Cursor) TableName() string {
	return "cursors"
}
