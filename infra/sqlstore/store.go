// Package sqlstore keeps the registration table of data sets in SQLite or
// Postgres through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// DataSet is one registered data set.
type DataSet struct {
	Code         string
	Location     string
	Kind         string
	RegisteredAt time.Time
}

type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and creates the schema when missing.
// For sqlite the dsn is a file path.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = "regjournal.db"
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	case DriverPostgres:
		if dsn == "" {
			dsn = "postgres://localhost/regjournal?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unknown sql driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS data_sets (
		code TEXT PRIMARY KEY,
		location TEXT NOT NULL,
		kind TEXT NOT NULL,
		registered_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create data_sets table: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// InsertDataSet adds a row; a duplicate code is an error.
func (s *Store) InsertDataSet(ctx context.Context, ds DataSet) error {
	if ds.RegisteredAt.IsZero() {
		ds.RegisteredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		s.bind(`INSERT INTO data_sets (code, location, kind, registered_at) VALUES (?, ?, ?, ?)`),
		ds.Code, ds.Location, ds.Kind, ds.RegisteredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert data set %s: %w", ds.Code, err)
	}
	return nil
}

// DeleteDataSet removes a row and reports whether it existed.
func (s *Store) DeleteDataSet(ctx context.Context, code string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM data_sets WHERE code = ?`), code)
	if err != nil {
		return false, fmt.Errorf("delete data set %s: %w", code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetDataSet(ctx context.Context, code string) (DataSet, bool, error) {
	var (
		ds  DataSet
		reg string
	)
	err := s.db.QueryRowContext(ctx,
		s.bind(`SELECT code, location, kind, registered_at FROM data_sets WHERE code = ?`), code).
		Scan(&ds.Code, &ds.Location, &ds.Kind, &reg)
	if errors.Is(err, sql.ErrNoRows) {
		return DataSet{}, false, nil
	}
	if err != nil {
		return DataSet{}, false, fmt.Errorf("select data set %s: %w", code, err)
	}
	ds.RegisteredAt, _ = time.Parse(time.RFC3339Nano, reg)
	return ds, true, nil
}

// bind rewrites ? placeholders to $n for postgres.
func (s *Store) bind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
