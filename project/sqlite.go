package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// projectRecord is the persisted row: one self-contained JSON document per
// project, keyed by project id. Milestones are embedded, so no joins exist.
type projectRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Document  []byte `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (projectRecord) TableName() string { return "projects" }

// SQLiteStore persists projects in a local sqlite database.
type SQLiteStore struct {
	db    *gorm.DB
	locks *keyedMutex
}

// NewSQLiteStore opens (creating when absent) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("project: open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&projectRecord{}); err != nil {
		return nil, fmt.Errorf("project: migrate store: %w", err)
	}
	return &SQLiteStore{db: db, locks: newKeyedMutex()}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create persists a new project.
func (s *SQLiteStore) Create(ctx context.Context, p *Project) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("project: encode document: %w", err)
	}
	record := projectRecord{ID: p.ID, Document: doc, CreatedAt: p.CreatedAt, UpdatedAt: p.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrExists
		}
		return err
	}
	return nil
}

// Get returns the stored project.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Project, error) {
	var record projectRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeDocument(record.Document)
}

// Update applies fn under the per-project lock and persists the result.
func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*Project) error) (*Project, error) {
	lock := s.locks.lock(id)
	defer lock.Unlock()

	working, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(working); err != nil {
		return nil, err
	}
	doc, err := json.Marshal(working)
	if err != nil {
		return nil, fmt.Errorf("project: encode document: %w", err)
	}
	err = s.db.WithContext(ctx).
		Model(&projectRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"document": doc, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return nil, err
	}
	return working.Clone(), nil
}

// List returns all stored projects ordered by creation time.
func (s *SQLiteStore) List(ctx context.Context) ([]*Project, error) {
	var records []projectRecord
	if err := s.db.WithContext(ctx).Order("created_at").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]*Project, 0, len(records))
	for _, record := range records {
		p, err := decodeDocument(record.Document)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeDocument(doc []byte) (*Project, error) {
	var p Project
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("project: decode document: %w", err)
	}
	return &p, nil
}

var _ Store = (*SQLiteStore)(nil)
