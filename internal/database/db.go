// Package database opens and maintains the SQLite databases used by the service.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schemas/*.sql
var schemas embed.FS

// Profile selects durability and speed trade-offs for a database.
type Profile string

const (
	// ProfileDurable fsyncs on every commit and never shrinks the file.
	ProfileDurable Profile = "durable"
	// ProfileStandard fsyncs at checkpoints and reclaims space incrementally.
	ProfileStandard Profile = "standard"
)

// Config describes one database.
type Config struct {
	// Path is a filesystem path or a "file:" URI (used for in-memory test databases).
	Path    string
	Profile Profile
	// Name selects the embedded schema and labels errors, e.g. "history".
	Name string
}

// DB wraps a configured *sql.DB.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
	name    string
}

// New opens the database, applies connection PRAGMAs and verifies it answers.
func New(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", connectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}
	configurePool(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{
		conn:    conn,
		path:    cfg.Path,
		profile: cfg.Profile,
		name:    cfg.Name,
	}, nil
}

func connectionString(path string, profile Profile) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	pragmas := []string{"journal_mode(WAL)", "busy_timeout(5000)"}

	switch profile {
	case ProfileDurable:
		pragmas = append(pragmas, "synchronous(FULL)", "auto_vacuum(NONE)")
	default:
		pragmas = append(pragmas, "synchronous(NORMAL)", "auto_vacuum(INCREMENTAL)", "temp_store(MEMORY)")
	}
	pragmas = append(pragmas, "foreign_keys(1)", "wal_autocheckpoint(1000)")

	return path + sep + "_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// configurePool keeps a small pool; SQLite serialises writers anyway.
func configurePool(conn *sql.DB) {
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)
}

// Migrate applies the embedded schema named after the database. Schemas use
// IF NOT EXISTS so running it again is harmless.
func (db *DB) Migrate(ctx context.Context) error {
	content, err := schemas.ReadFile("schemas/" + db.name + ".sql")
	if err != nil {
		return fmt.Errorf("no schema for database %q: %w", db.name, err)
	}

	return WithTransaction(ctx, db.conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to apply schema for %s: %w", db.name, err)
		}
		return nil
	})
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the pool for repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Name returns the database name.
func (db *DB) Name() string {
	return db.name
}

// Path returns the resolved path or URI.
func (db *DB) Path() string {
	return db.path
}

// Profile returns the configured profile.
func (db *DB) Profile() Profile {
	return db.profile
}

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func WithTransaction(ctx context.Context, conn *sql.DB, fn func(*sql.Tx) error) (err error) {
	if conn == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(tx)
}

// HealthCheck pings the database and runs a quick integrity check.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}

	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed for %s: %w", db.name, err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed for %s: %s", db.name, result)
	}
	return nil
}

// WALCheckpoint truncates the write-ahead log.
func (db *DB) WALCheckpoint(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint failed for %s: %w", db.name, err)
	}
	return nil
}

// Snapshot writes a consistent copy of the database to dest using VACUUM INTO.
// dest must not exist.
func (db *DB) Snapshot(ctx context.Context, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("snapshot of %s failed: %w", db.name, err)
	}
	return nil
}

// Stats describes the on-disk footprint of a database.
type Stats struct {
	SizeBytes     int64 `json:"size_bytes"`
	WALSizeBytes  int64 `json:"wal_size_bytes"`
	PageCount     int64 `json:"page_count"`
	PageSize      int64 `json:"page_size"`
	FreelistCount int64 `json:"freelist_count"`
}

// GetStats collects file sizes and page counters.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if info, err := os.Stat(db.path); err == nil {
		stats.SizeBytes = info.Size()
	}
	if info, err := os.Stat(db.path + "-wal"); err == nil {
		stats.WALSizeBytes = info.Size()
	}

	for pragma, dest := range map[string]*int64{
		"page_count":     &stats.PageCount,
		"page_size":      &stats.PageSize,
		"freelist_count": &stats.FreelistCount,
	} {
		if err := db.conn.QueryRowContext(ctx, "PRAGMA "+pragma).Scan(dest); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", pragma, err)
		}
	}
	return stats, nil
}
