// Package store persists per-profile browser sessions (user agent + cookies) in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/shehryarbajwa/session-keeper/pkg/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed width so lexical order matches chronological order
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the session store. Callers never see storage errors from Save,
// Load or Delete; those are logged and reported as false / empty.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at path and applies migrations
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("session store initialized", zap.String("path", path))

	return &Store{
		db:     db,
		path:   path,
		logger: logger.Named("store"),
		now:    time.Now,
	}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the session for profileID and refreshes its timestamp
func (s *Store) Save(ctx context.Context, profileID, userAgent string, cookies []models.Cookie) bool {
	log := s.logger.With(zap.String("profile_id", profileID))

	var blob sql.NullString
	if cookies != nil {
		data, err := json.Marshal(cookies)
		if err != nil {
			log.Error("failed to serialize cookies", zap.Error(err))
			return false
		}
		blob = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (profile_id, user_agent, cookies, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (profile_id) DO UPDATE SET
			user_agent = excluded.user_agent,
			cookies = excluded.cookies,
			last_updated = excluded.last_updated`,
		profileID, nullable(userAgent), blob, s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		log.Error("failed to save session", zap.Error(err))
		return false
	}

	log.Info("session saved", zap.Int("cookies", len(cookies)))
	return true
}

// Load returns the stored user agent and cookies for profileID. An unknown
// profile, a read failure and an unparsable cookie blob all yield "" / nil.
func (s *Store) Load(ctx context.Context, profileID string) (string, []models.Cookie) {
	log := s.logger.With(zap.String("profile_id", profileID))

	var userAgent, blob sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT user_agent, cookies FROM sessions WHERE profile_id = ?`, profileID,
	).Scan(&userAgent, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		log.Error("failed to load session", zap.Error(err))
		return "", nil
	}

	if !blob.Valid || blob.String == "" {
		return userAgent.String, nil
	}

	var cookies []models.Cookie
	if err := json.Unmarshal([]byte(blob.String), &cookies); err != nil {
		log.Warn("stored cookies are corrupt, treating as no session", zap.Error(err))
		return userAgent.String, nil
	}

	return userAgent.String, cookies
}

// ListAll returns every stored profile, most recently updated first
func (s *Store) ListAll(ctx context.Context) ([]models.ProfileSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT profile_id, last_updated FROM sessions ORDER BY last_updated DESC, profile_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := []models.ProfileSummary{}
	for rows.Next() {
		var id, updated string
		if err := rows.Scan(&id, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		ts, err := time.Parse(timeLayout, updated)
		if err != nil {
			s.logger.Warn("unparsable last_updated", zap.String("profile_id", id), zap.String("value", updated))
		}
		profiles = append(profiles, models.ProfileSummary{ProfileID: id, LastUpdated: ts})
	}

	return profiles, rows.Err()
}

// Delete removes the session for profileID. It reports true only when a
// record existed and was removed.
func (s *Store) Delete(ctx context.Context, profileID string) bool {
	log := s.logger.With(zap.String("profile_id", profileID))

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE profile_id = ?`, profileID)
	if err != nil {
		log.Error("failed to delete session", zap.Error(err))
		return false
	}

	n, err := res.RowsAffected()
	if err != nil {
		log.Error("failed to read affected rows", zap.Error(err))
		return false
	}

	if n > 0 {
		log.Info("session deleted")
	}
	return n > 0
}

// Status pings the database and reports basic figures
func (s *Store) Status(ctx context.Context) (*models.StoreStatus, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sessions`).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	return &models.StoreStatus{
		Driver:     "sqlite",
		Path:       s.path,
		Profiles:   count,
		ServerTime: s.now().UTC(),
	}, nil
}

// Schema lists the columns of the sessions table
func (s *Store) Schema(ctx context.Context) ([]models.Column, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(sessions)`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	defer rows.Close()

	var columns []models.Column
	for rows.Next() {
		var (
			col     models.Column
			notNull int
			pk      int
			def     sql.NullString
		)
		if err := rows.Scan(&col.Position, &col.Name, &col.Type, &notNull, &def, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.NotNull = notNull != 0
		col.PrimaryKey = pk != 0
		columns = append(columns, col)
	}

	return columns, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
