package cursor

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mail-aggregator-go/internal/model"
)

// GormStore keeps one cursor row per (account, folder). Every write is a
// conditional per-row update, so concurrent writers never clobber each other.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a cursor store on an already migrated database
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) find(tx *gorm.DB, account, folder string) (*model.Cursor, error) {
	var c model.Cursor
	result := tx.Where("account = ? AND folder = ?", account, folder).First(&c)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &c, nil
}

// Get returns the stored uid or 0
func (s *GormStore) Get(ctx context.Context, account, folder string) (uint32, error) {
	c, err := s.find(s.db.WithContext(ctx), account, folder)
	if err != nil || c == nil {
		return 0, err
	}
	return c.LastUID, nil
}

// Set advances the cursor. The update only matches rows below uid, and the
// insert for a missing row yields to a concurrent insert of the same key.
func (s *GormStore) Set(ctx context.Context, account, folder string, uid uint32) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Cursor{}).
			Where("account = ? AND folder = ? AND last_uid < ?", account, folder, uid).
			Update("last_uid", uid)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}

		row := model.Cursor{Account: account, Folder: folder, LastUID: uid}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("failed to set cursor %s/%s: %w", account, folder, err)
	}
	return nil
}

// Epoch returns the recorded UIDVALIDITY
func (s *GormStore) Epoch(ctx context.Context, account, folder string) (uint32, bool, error) {
	c, err := s.find(s.db.WithContext(ctx), account, folder)
	if err != nil || c == nil {
		return 0, false, err
	}
	return c.UIDValidity, c.UIDValidity != 0, nil
}

// SetEpoch records validity, keeping the stored uid
func (s *GormStore) SetEpoch(ctx context.Context, account, folder string, validity uint32) error {
	return s.upsertEpoch(ctx, account, folder, validity, []string{"uid_validity", "updated_at"})
}

// ResetEpoch records validity and rewinds the cursor to 0
func (s *GormStore) ResetEpoch(ctx context.Context, account, folder string, validity uint32) error {
	return s.upsertEpoch(ctx, account, folder, validity, []string{"last_uid", "uid_validity", "updated_at"})
}

func (s *GormStore) upsertEpoch(ctx context.Context, account, folder string, validity uint32, columns []string) error {
	row := model.Cursor{Account: account, Folder: folder, LastUID: 0, UIDValidity: validity}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account"}, {Name: "folder"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).
		Create(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to store epoch for %s/%s: %w", account, folder, result.Error)
	}
	return nil
}
