package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx", used for migrations
	"github.com/pressly/goose/v3"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
	"go.uber.org/zap"
)

// DBPool is the subset of pgxpool.Pool the store needs, so tests can use pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlUpsertConfig = `
        INSERT INTO worklog_config (
            auth_session_id, auth_session_id_legacy,
            keycloak_identity, keycloak_identity_legacy,
            keycloak_session, keycloak_session_legacy,
            tasks_completed, challenges, blockers)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (auth_session_id) DO UPDATE SET
            auth_session_id_legacy = EXCLUDED.auth_session_id_legacy,
            keycloak_identity = EXCLUDED.keycloak_identity,
            keycloak_identity_legacy = EXCLUDED.keycloak_identity_legacy,
            keycloak_session = EXCLUDED.keycloak_session,
            keycloak_session_legacy = EXCLUDED.keycloak_session_legacy,
            tasks_completed = EXCLUDED.tasks_completed,
            challenges = EXCLUDED.challenges,
            blockers = EXCLUDED.blockers,
            updated_at = now();
    `
	sqlConfigColumns = `
        SELECT auth_session_id, COALESCE(auth_session_id_legacy, ''),
            keycloak_identity, COALESCE(keycloak_identity_legacy, ''),
            keycloak_session, COALESCE(keycloak_session_legacy, ''),
            COALESCE(tasks_completed, ''), COALESCE(challenges, ''), COALESCE(blockers, '')
        FROM worklog_config`
	sqlLoadConfig    = sqlConfigColumns + ` WHERE auth_session_id = $1;`
	sqlLoadAll       = sqlConfigColumns + ` ORDER BY id;`
	sqlCountConfigs  = `SELECT COUNT(*) FROM worklog_config;`
	sqlResetConfigs  = `DELETE FROM worklog_config;`
	sqlInsertShot    = `INSERT INTO worklog_screenshots (user_auth_session_id, description, screenshot_data) VALUES ($1, $2, $3);`
	sqlRecentShots   = `
        SELECT id, description, screenshot_data, created_at
        FROM worklog_screenshots
        WHERE user_auth_session_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2;
    `
)

// PostgresStore is the pgx backed Backend.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ Backend = (*PostgresStore)(nil)

// NewPostgresStore wraps pool and verifies the connection.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool, log: logger.Named("store")}, nil
}

// OpenPostgres connects to url, optionally migrates, and returns the store.
func OpenPostgres(ctx context.Context, url string, migrate bool, logger *zap.Logger) (*PostgresStore, error) {
	if url == "" {
		return nil, errors.New("postgres driver selected but database.url is empty")
	}
	if migrate {
		db, err := sql.Open("pgx", url)
		if err != nil {
			return nil, fmt.Errorf("opening migration connection: %w", err)
		}
		err = Migrate(ctx, db, goose.DialectPostgres, logger)
		if cerr := db.Close(); cerr != nil {
			logger.Warn("Closing migration connection failed.", zap.Error(cerr))
		}
		if err != nil {
			return nil, err
		}
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	s, err := NewPostgresStore(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func scanCredentials(row pgx.Row) (worklog.Credentials, error) {
	var c worklog.Credentials
	err := row.Scan(
		&c.AuthSessionID, &c.AuthSessionIDLegacy,
		&c.KeycloakIdentity, &c.KeycloakIdentityLegacy,
		&c.KeycloakSession, &c.KeycloakSessionLegacy,
		&c.Tasks, &c.Challenges, &c.Blockers,
	)
	return c, err
}

func (s *PostgresStore) Load(ctx context.Context, key string) (worklog.Credentials, error) {
	c, err := scanCredentials(s.pool.QueryRow(ctx, sqlLoadConfig, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return worklog.Credentials{}, fmt.Errorf("user %s: %w", worklog.MaskKey(key), ErrNotFound)
	}
	if err != nil {
		return worklog.Credentials{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]worklog.Credentials, error) {
	rows, err := s.pool.Query(ctx, sqlLoadAll)
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
	s.log.Debug("Loaded user configurations.", zap.Int("count", len(out)))
	return out, nil
}

func (s *PostgresStore) Save(ctx context.Context, c worklog.Credentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, sqlUpsertConfig,
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

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, sqlCountConfigs).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count configurations: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	tag, err := s.pool.Exec(ctx, sqlResetConfigs)
	if err != nil {
		return fmt.Errorf("failed to reset configurations: %w", err)
	}
	s.log.Info("All user configurations deleted.", zap.Int64("rows", tag.RowsAffected()))
	return nil
}

func (s *PostgresStore) SaveScreenshot(ctx context.Context, key, description string, png []byte) error {
	if _, err := s.pool.Exec(ctx, sqlInsertShot, key, description, png); err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, key string, limit int) ([]Screenshot, error) {
	rows, err := s.pool.Query(ctx, sqlRecentShots, key, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query screenshots: %w", err)
	}
	defer rows.Close()

	var out []Screenshot
	for rows.Next() {
		var sh Screenshot
		if err := rows.Scan(&sh.ID, &sh.Description, &sh.Data, &sh.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan screenshot row: %w", err)
		}
		out = append(out, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
