package model

import (
	"fmt"
	"time"
)

// DefaultCategory is the label used whenever classification cannot be obtained
const DefaultCategory = "Uncategorized"

// Column limits in characters. An id is account, folder and a uint32 joined
// by two dashes, so it needs 2*MaxNameLength + 12.
const (
	MaxNameLength     = 255
	MaxCategoryLength = 255
	MaxIDLength       = 600
)

// MessageRef addresses one message: a uid is only unique within a folder's
// current UIDVALIDITY epoch.
type MessageRef struct {
	Account string
	Folder  string
	UID     uint32
}

// ID returns the composite index id "{account}-{folder}-{uid}"
func (r MessageRef) ID() string {
	return fmt.Sprintf("%s-%s-%d", r.Account, r.Folder, r.UID)
}

func (r MessageRef) String() string {
	return r.ID()
}

// MessageRecord is the unit persisted to the message index
type MessageRecord struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(600)"`
	Account   string    `json:"account" gorm:"type:varchar(255);not null;index:idx_records_account_folder"`
	Folder    string    `json:"folder" gorm:"type:varchar(255);not null;index:idx_records_account_folder"`
	UID       uint32    `json:"uid" gorm:"column:uid;not null"`
	Date      time.Time `json:"date" gorm:"index"`
	From      string    `json:"from" gorm:"column:from_address;type:text"`
	To        string    `json:"to" gorm:"column:to_address;type:text"`
	Subject   string    `json:"subject" gorm:"type:text"`
	Body      string    `json:"body" gorm:"type:longtext"`
	Category  string    `json:"category" gorm:"type:varchar(255);index"`
	IndexedAt time.Time `json:"indexed_at"`
}

// TableName specifies the table name for MessageRecord
func (MessageRecord) TableName() string {
	return "message_records"
}

// Ref returns the message reference the record was built from
func (m *MessageRecord) Ref() MessageRef {
	return MessageRef{Account: m.Account, Folder: m.Folder, UID: m.UID}
}
