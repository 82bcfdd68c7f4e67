package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"market_store/internal/domain"
)

// SQLiteDrive keeps every segment as a row of a single SQLite table.
type SQLiteDrive struct {
	db *sql.DB
}

// NewSQLiteDrive opens the database with WAL mode enabled.
func NewSQLiteDrive(dbPath string) (*SQLiteDrive, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-8000;",
		"PRAGMA busy_timeout=5000;",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS segments (
			security TEXT NOT NULL,
			data_type TEXT NOT NULL,
			date TEXT NOT NULL,
			payload BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (security, data_type, date)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create segments table: %w", err)
	}

	return &SQLiteDrive{db: db}, nil
}

func (d *SQLiteDrive) GetDrive(sec domain.SecurityID, dt domain.DataType) Drive {
	return &sqliteStream{db: d.db, security: sec.String(), dataType: dt.FileName()}
}

// Close closes the database connection.
func (d *SQLiteDrive) Close() error {
	return d.db.Close()
}

type sqliteStream struct {
	db       *sql.DB
	security string
	dataType string
}

func (s *sqliteStream) LoadStream(ctx context.Context, date time.Time) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM segments WHERE security = ? AND data_type = ? AND date = ?",
		s.security, s.dataType, dateKey(date),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load segment: %w", err)
	}
	return payload, nil
}

func (s *sqliteStream) SaveStream(ctx context.Context, date time.Time, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO segments (security, data_type, date, payload, updated_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT(security, data_type, date) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at",
		s.security, s.dataType, dateKey(date), data, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save segment: %w", err)
	}
	return nil
}

func (s *sqliteStream) Delete(ctx context.Context, date time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM segments WHERE security = ? AND data_type = ? AND date = ?",
		s.security, s.dataType, dateKey(date),
	)
	if err != nil {
		return fmt.Errorf("failed to delete segment: %w", err)
	}
	return nil
}

func (s *sqliteStream) Dates(ctx context.Context) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT date FROM segments WHERE security = ? AND data_type = ? ORDER BY date ASC",
		s.security, s.dataType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		date, err := parseDateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date %q: %w", key, err)
		}
		dates = append(dates, date)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return dates, nil
}
