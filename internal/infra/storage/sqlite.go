package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"price_watch/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteStore is a domain.KVStore backed by a single SQLite table
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
// An empty path resolves to the per-user data directory.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		p, err := DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		dbPath = p
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.KVEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// DefaultDBPath resolves the database file path based on OS
func DefaultDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "PriceWatch", "data", "price_watch.db"), nil
}

// upsert replaces value and updated_at on key conflict
var upsert = clause.OnConflict{
	Columns:   []clause.Column{{Name: "key"}},
	DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
}

// Set stores a single key
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	entry := domain.KVEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(upsert).Create(&entry).Error
}

// Get retrieves a key. Not found is not an error.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry domain.KVEntry
	err := s.db.WithContext(ctx).First(&entry, "`key` = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

// MSet writes every pair in one statement, so readers never see half of a batch
func (s *SQLiteStore) MSet(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	now := time.Now()
	entries := make([]domain.KVEntry, 0, len(values))
	for k, v := range values {
		entries = append(entries, domain.KVEntry{Key: k, Value: v, UpdatedAt: now})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(upsert).Create(&entries).Error
	})
}

// MGet returns values in key order; nil marks a missing key
func (s *SQLiteStore) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	result := make([]*string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	var entries []domain.KVEntry
	if err := s.db.WithContext(ctx).Where("`key` IN ?", keys).Find(&entries).Error; err != nil {
		return nil, err
	}

	byKey := make(map[string]string, len(entries))
	for _, e := range entries {
		byKey[e.Key] = e.Value
	}
	for i, k := range keys {
		if v, ok := byKey[k]; ok {
			result[i] = &v
		}
	}
	return result, nil
}

// Keys lists stored keys with the given prefix
func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&domain.KVEntry{}).
		Where("`key` LIKE ?", prefix+"%").
		Order("`key`").
		Pluck("key", &keys).Error
	return keys, err
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
