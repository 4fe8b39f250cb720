package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// entry is one persisted key.
type entry struct {
	Key       string `gorm:"column:entry_key;primaryKey"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (entry) TableName() string { return "kv_entries" }

// SQLiteStore persists keys in a local SQLite file through gorm.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("storage")

	gormLogger := newGormLogAdapter(logger.Named("gorm"), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	// one connection keeps ":memory:" databases alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	if _, err := sqlDB.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		logger.Debug("journal mode not changed", zap.Error(err))
	}

	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrate kv_entries: %w", err)
	}

	logger.Debug("sqlite storage ready", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row entry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return row.Value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	row := entry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&entry{}).Error; err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var all []string
	if err := s.db.WithContext(ctx).Model(&entry{}).Order("entry_key").Pluck("entry_key", &all).Error; err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	keys := make([]string, 0, len(all))
	for _, key := range all {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormLogAdapter routes gorm's logger onto zap.
type gormLogAdapter struct {
	logger *zap.Logger
	config gormlogger.Config
}

func newGormLogAdapter(logger *zap.Logger, config gormlogger.Config) gormlogger.Interface {
	return &gormLogAdapter{logger: logger, config: config}
}

func (l *gormLogAdapter) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.config.LogLevel = level
	return &newLogger
}

func (l *gormLogAdapter) Info(_ context.Context, msg string, data ...interface{}) {
	if l.config.LogLevel >= gormlogger.Info {
		l.logger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogAdapter) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.config.LogLevel >= gormlogger.Warn {
		l.logger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogAdapter) Error(_ context.Context, msg string, data ...interface{}) {
	if l.config.LogLevel >= gormlogger.Error {
		l.logger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogAdapter) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.config.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.config.LogLevel >= gormlogger.Error &&
		!(l.config.IgnoreRecordNotFoundError && errors.Is(err, gorm.ErrRecordNotFound)):
		sql, rows := fc()
		l.logger.Error("gorm error",
			zap.Error(err),
			zap.Duration("elapsed", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
		)
	case l.config.SlowThreshold != 0 && elapsed > l.config.SlowThreshold && l.config.LogLevel >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.Warn("gorm slow query",
			zap.Duration("elapsed", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
		)
	case l.config.LogLevel >= gormlogger.Info:
		sql, rows := fc()
		l.logger.Debug("gorm query",
			zap.Duration("elapsed", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
		)
	}
}
