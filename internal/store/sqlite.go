package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const (
	sqliteUpsertConfig = `
        INSERT INTO worklog_config (
            auth_session_id, auth_session_id_legacy,
            keycloak_identity, keycloak_identity_legacy,
            keycloak_session, keycloak_session_legacy,
            tasks_completed, challenges, blockers)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (auth_session_id) DO UPDATE SET
            auth_session_id_legacy = excluded.auth_session_id_legacy,
            keycloak_identity = excluded.keycloak_identity,
            keycloak_identity_legacy = excluded.keycloak_identity_legacy,
            keycloak_session = excluded.keycloak_session,
            keycloak_session_legacy = excluded.keycloak_session_legacy,
            tasks_completed = excluded.tasks_completed,
            challenges = excluded.challenges,
            blockers = excluded.blockers,
            updated_at = CURRENT_TIMESTAMP;
    `
	sqliteLoadConfig  = sqlConfigColumns + ` WHERE auth_session_id = ?;`
	sqliteInsertShot  = `INSERT INTO worklog_screenshots (user_auth_session_id, description, screenshot_data, created_at) VALUES (?, ?, ?, ?);`
	sqliteRecentShots = `
        SELECT id, description, screenshot_data, created_at
        FROM worklog_screenshots
        WHERE user_auth_session_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?;
    `
)

// SQLiteStore is the embedded database Backend.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

var _ Backend = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, migrate bool, logger *zap.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if migrate {
		if err := Migrate(ctx, db, goose.DialectSQLite3, logger); err != nil {
			db.Close()
			return nil, err
		}
	}
	logger.Info("SQLite database ready.", zap.String("path", path))
	return &SQLiteStore{db: db, log: logger.Named("store"), now: time.Now}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (worklog.Credentials, error) {
	c, err := scanCredentials(s.db.QueryRowContext(ctx, sqliteLoadConfig, key))
	if errors.Is(err, sql.ErrNoRows) {
		return worklog.Credentials{}, fmt.Errorf("user %s: %w", worklog.MaskKey(key), ErrNotFound)
	}
	if err != nil {
		return worklog.Credentials{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]worklog.Credentials, error) {
	rows, err := s.db.QueryContext(ctx, sqlLoadAll)
	if err != nil {
		return nil, fmt.Errorf("failed to query configurations: %w", err)
	}
	defer rows.Close()

	var out []worklog.Credentials
	for rows.Next() {
		c, err := scanCredentials(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan configuration row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Save(ctx context.Context, c worklog.Credentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, sqliteUpsertConfig,
		c.Key(), c.AuthSessionIDLegacy,
		c.KeycloakIdentity, c.KeycloakIdentityLegacy,
		c.KeycloakSession, c.KeycloakSessionLegacy,
		c.Tasks, c.Challenges, c.Blockers,
	)
	if err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	s.log.Info("Configuration saved.", zap.String("user", c.MaskedKey()))
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlCountConfigs).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count configurations: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, sqlResetConfigs)
	if err != nil {
		return fmt.Errorf("failed to reset configurations: %w", err)
	}
	n, _ := res.RowsAffected()
	s.log.Info("All user configurations deleted.", zap.Int64("rows", n))
	return nil
}

func (s *SQLiteStore) SaveScreenshot(ctx context.Context, key, description string, png []byte) error {
	if _, err := s.db.ExecContext(ctx, sqliteInsertShot, key, description, png, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, key string, limit int) ([]Screenshot, error) {
	rows, err := s.db.QueryContext(ctx, sqliteRecentShots, key, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query screenshots: %w", err)
	}
	defer rows.Close()

	var out []Screenshot
	for rows.Next() {
		var (
			sh Screenshot
			ts timestamp
		)
		if err := rows.Scan(&sh.ID, &sh.Description, &sh.Data, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan screenshot row: %w", err)
		}
		sh.CreatedAt = ts.Time
		out = append(out, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// timestamp scans SQLite time values whichever way the driver surfaces them.
type timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

func (t *timestamp) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = x
	case int64:
		t.Time = time.Unix(x, 0).UTC()
	case []byte:
		return t.parse(string(x))
	case string:
		return t.parse(x)
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
	return nil
}

func (t *timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
