// Package store persists credential sets and run screenshots. Postgres is the
// production backend; SQLite and a flat JSON file serve single-machine setups.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/worklog-cli/internal/config"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
	"go.uber.org/zap"
)

// DefaultRecentLimit is how many screenshots Recent returns when asked for none.
const DefaultRecentLimit = 10

// ErrNotFound is returned by Load for an unknown user.
var ErrNotFound = errors.New("configuration not found")

// ConfigStore holds one credential set per primary session token.
type ConfigStore interface {
	Load(ctx context.Context, key string) (worklog.Credentials, error)
	LoadAll(ctx context.Context) ([]worklog.Credentials, error)
	// Save inserts, or updates the set with the same primary token.
	Save(ctx context.Context, creds worklog.Credentials) error
	Count(ctx context.Context) (int, error)
	// Reset removes every credential set and its screenshots.
	Reset(ctx context.Context) error
}

// Screenshot is a stored capture.
type Screenshot struct {
	ID          int64     `json:"id"`
	Description string    `json:"description"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScreenshotLister reads back stored captures, newest first.
type ScreenshotLister interface {
	Recent(ctx context.Context, key string, limit int) ([]Screenshot, error)
}

// Backend is everything a storage driver provides.
type Backend interface {
	ConfigStore
	worklog.ScreenshotSink
	ScreenshotLister
	Close() error
}

// Open builds the backend selected by cfg.Driver, running migrations when
// cfg.Migrate is set.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		b, err = asBackend(OpenPostgres(ctx, cfg.URL, cfg.Migrate, logger))
	case config.DriverSQLite:
		b, err = asBackend(OpenSQLite(ctx, cfg.SQLitePath, cfg.Migrate, logger))
	case config.DriverFile:
		b, err = asBackend(OpenFile(cfg.FilePath, cfg.ScreenshotDir, logger))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("Storage backend opened.", zap.String("driver", cfg.Driver))
	return b, nil
}

// asBackend keeps a typed nil pointer out of the returned interface.
func asBackend[T Backend](b T, err error) (Backend, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}
