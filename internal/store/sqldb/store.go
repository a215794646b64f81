// Package sqldb reads candle tables and stores resolved results in SQLite
// or PostgreSQL through sqlx.
package sqldb

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	sqlitePragmas  = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	defaultTimeout = 30 * time.Second
)

// Store is a candle reader and result writer over one database.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to dsn with driver ("sqlite3" or "postgres") and creates
// the schema. SQLite DSNs without options get WAL pragmas.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?" + sqlitePragmas
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("sqldb: unsupported driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldb open: %w", err)
	}
	if driver == DriverSQLite {
		// Single writer; an in-memory database lives on one connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqldb ping: %w", err)
	}
	s := &Store{db: db, timeout: defaultTimeout}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqldb schema: %w", err)
	}
	log.Printf("[sqldb] opened %s database", driver)
	return s, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	stmts := []string{`
		CREATE TABLE IF NOT EXISTS candles_tf (
			token      TEXT    NOT NULL,
			exchange   TEXT    NOT NULL,
			tf         INTEGER NOT NULL,
			ts         BIGINT  NOT NULL,
			open       BIGINT  NOT NULL,
			high       BIGINT  NOT NULL,
			low        BIGINT  NOT NULL,
			close      BIGINT  NOT NULL,
			volume     BIGINT,
			count      INTEGER,
			PRIMARY KEY (exchange, token, tf, ts)
		)`, `
		CREATE TABLE IF NOT EXISTS formula_results (
			block      TEXT    NOT NULL,
			stream     TEXT    NOT NULL,
			idx        INTEGER NOT NULL,
			ts         BIGINT  NOT NULL,
			run_id     TEXT    NOT NULL DEFAULT '',
			data       TEXT    NOT NULL,
			PRIMARY KEY (block, stream, idx)
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// DB returns the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
