// Package storage is the durable key-value port behind the transcript store
// and the daily-care marker. Concurrent writers to one key are last-write-wins.
package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/companion/internal/config"
)

// Store is a string-keyed byte store.
type Store interface {
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove is a no-op for absent keys.
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

const (
	messagesPrefix      = "messages_"
	careDatePrefix      = "lastCareDate_"
	CurrentCompanionKey = "currentCompanionId"
	UserIDKey           = "userId"
)

// MessagesKey is the key holding a companion's persisted transcript.
func MessagesKey(companionID string) string { return messagesPrefix + companionID }

// CareDateKey is the key holding a companion's last daily-care date.
func CareDateKey(companionID string) string { return careDatePrefix + companionID }

// Open builds the store selected by configuration.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverSQLite:
		return OpenSQLite(cfg.Path, logger)
	case config.DriverRedis:
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// ClearCompanion removes everything persisted for one companion.
func ClearCompanion(ctx context.Context, s Store, companionID string) error {
	if err := s.Remove(ctx, MessagesKey(companionID)); err != nil {
		return fmt.Errorf("remove transcript: %w", err)
	}
	if err := s.Remove(ctx, CareDateKey(companionID)); err != nil {
		return fmt.Errorf("remove care marker: %w", err)
	}
	return nil
}

// ClearAll removes every transcript and care marker.
func ClearAll(ctx context.Context, s Store) error {
	for _, prefix := range []string{messagesPrefix, careDatePrefix} {
		keys, err := s.Keys(ctx, prefix)
		if err != nil {
			return fmt.Errorf("list %s keys: %w", prefix, err)
		}
		for _, key := range keys {
			if err := s.Remove(ctx, key); err != nil {
				return fmt.Errorf("remove %s: %w", key, err)
			}
		}
	}
	return nil
}

// EnsureUserID returns the stored user id, creating "user-<unix millis>" on
// first use.
func EnsureUserID(ctx context.Context, s Store, now time.Time) (string, error) {
	raw, ok, err := s.Get(ctx, UserIDKey)
	if err != nil {
		return "", fmt.Errorf("read user id: %w", err)
	}
	if ok && strings.TrimSpace(string(raw)) != "" {
		return strings.TrimSpace(string(raw)), nil
	}

	userID := "user-" + strconv.FormatInt(now.UnixMilli(), 10)
	if err := s.Set(ctx, UserIDKey, []byte(userID)); err != nil {
		return "", fmt.Errorf("write user id: %w", err)
	}
	return userID, nil
}
