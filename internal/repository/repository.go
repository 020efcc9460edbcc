package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mail-aggregator-go/internal/model"
)

// Repository is the gorm-backed message index and notification journal
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Upsert stores rec under id, replacing any record already stored under it
func (r *Repository) Upsert(ctx context.Context, id string, rec *model.MessageRecord) error {
	if id == "" {
		return fmt.Errorf("message record id is required")
	}
	rec.ID = id
	rec.IndexedAt = time.Now()

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(rec)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert message %s: %w", id, result.Error)
	}
	return nil
}

// Get returns the record stored under id, or nil when there is none
func (r *Repository) Get(ctx context.Context, id string) (*model.MessageRecord, error) {
	var rec model.MessageRecord
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&rec)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &rec, nil
}

// Count returns the number of indexed records
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.MessageRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// ListByFolder returns the records of one folder in uid order
func (r *Repository) ListByFolder(ctx context.Context, account, folder string) ([]model.MessageRecord, error) {
	var recs []model.MessageRecord
	result := r.db.WithContext(ctx).
		Where("account = ? AND folder = ?", account, folder).
		Order("uid").
		Find(&recs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list messages: %w", result.Error)
	}
	return recs, nil
}

// LogNotification records a notifier attempt for a message
func (r *Repository) LogNotification(ctx context.Context, messageID, notifier, category, status, errorMsg string) error {
	log := model.NotificationLog{
		MessageID: messageID,
		Notifier:  notifier,
		Category:  category,
		Status:    status,
		ErrorMsg:  errorMsg,
		CreatedAt: time.Now(),
	}
	result := r.db.WithContext(ctx).Create(&log)
	if result.Error != nil {
		return fmt.Errorf("failed to log notification attempt: %w", result.Error)
	}
	return nil
}

// Notifications returns the journal entries for one message
func (r *Repository) Notifications(ctx context.Context, messageID string) ([]model.NotificationLog, error) {
	var logs []model.NotificationLog
	result := r.db.WithContext(ctx).Where("message_id = ?", messageID).Order("id").Find(&logs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get notification logs: %w", result.Error)
	}
	return logs, nil
}

// RecentNotifications returns up to limit journal entries, newest first
func (r *Repository) RecentNotifications(ctx context.Context, limit int) ([]model.NotificationLog, error) {
	var logs []model.NotificationLog
	result := r.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&logs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get notification logs: %w", result.Error)
	}
	return logs, nil
}

// Ping checks the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
