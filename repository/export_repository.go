package repository

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"VizFM/db"
	"VizFM/model"
)

// ExportRepository persists export job outcomes for the history listing.
type ExportRepository interface {
	Upsert(record *model.ExportRecord) error
	GetByID(id string) (*model.ExportRecord, error)
	ListRecent(limit int) ([]*model.ExportRecord, error)
}

// gormExportRepository implements ExportRepository on GORM/MySQL.
type gormExportRepository struct {
	db *gorm.DB
}

// NewGormExportRepository creates a repository over the shared GORM handle.
func NewGormExportRepository() (ExportRepository, error) {
	if db.GormDB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if err := db.AutoMigrateModels(&model.ExportRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate export records: %w", err)
	}
	return &gormExportRepository{db: db.GormDB}, nil
}

// Upsert inserts or updates a record keyed by job ID.
func (r *gormExportRepository) Upsert(record *model.ExportRecord) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"filename", "mime_type", "size_bytes", "duration_sec",
			"state", "error_msg", "updated_at",
		}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert export record %s: %w", record.ID, err)
	}
	return nil
}

// GetByID fetches one record, nil when absent.
func (r *gormExportRepository) GetByID(id string) (*model.ExportRecord, error) {
	var record model.ExportRecord
	err := r.db.Where("id = ?", id).First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch export record %s: %w", id, err)
	}
	return &record, nil
}

// ListRecent returns the newest records first.
func (r *gormExportRepository) ListRecent(limit int) ([]*model.ExportRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []*model.ExportRecord
	err := r.db.Order("created_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list export records: %w", err)
	}
	return records, nil
}
