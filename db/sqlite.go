// Package db persists the detection audit trail.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"minedetect/mine"
	"minedetect/pipeline"
)

const schema = `
    CREATE TABLE IF NOT EXISTS detections (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        detection_id TEXT NOT NULL,
        voltage REAL NOT NULL,
        height REAL NOT NULL,
        soil REAL NOT NULL,
        class INTEGER NOT NULL,
        name TEXT NOT NULL,
        confidence REAL NOT NULL,
        out_of_range INTEGER NOT NULL DEFAULT 0,
        out_of_range_fields TEXT NOT NULL DEFAULT '',
        advisory TEXT NOT NULL DEFAULT '',
        timestamp DATETIME NOT NULL,
        UNIQUE(detection_id)
    );
    CREATE INDEX IF NOT EXISTS idx_detections_timestamp ON detections(timestamp);
    CREATE TABLE IF NOT EXISTS data_quality (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        source TEXT NOT NULL,
        line INTEGER NOT NULL,
        rule TEXT NOT NULL,
        message TEXT NOT NULL,
        recorded_at DATETIME NOT NULL
    );
    `

// Store is the SQLite audit trail of detections.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	// sqlite3 allows one writer at a time
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return &Store{db: database}, nil
}

// Publish implements mine.Sink.
func (s *Store) Publish(ctx context.Context, d mine.Detection) error {
	return s.Record(ctx, d)
}

// Record saves one detection. A detection ID is stored at most once.
func (s *Store) Record(ctx context.Context, d mine.Detection) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO detections
            (detection_id, voltage, height, soil, class, name, confidence, out_of_range, out_of_range_fields, advisory, timestamp)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Request.Voltage, d.Request.Height, d.Request.Soil,
		d.Class, d.Name, d.Confidence,
		d.Advisory.OutOfRange, strings.Join(d.Advisory.Fields, ","), d.Advisory.Message,
		d.Timestamp.UTC())
	return err
}

// Recent returns up to limit detections, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]mine.Detection, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT detection_id, voltage, height, soil, class, name, confidence,
               out_of_range, out_of_range_fields, advisory, timestamp
        FROM detections
        ORDER BY timestamp DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detections []mine.Detection
	for rows.Next() {
		var d mine.Detection
		var fields string
		var ts time.Time
		err := rows.Scan(&d.ID, &d.Request.Voltage, &d.Request.Height, &d.Request.Soil,
			&d.Class, &d.Name, &d.Confidence,
			&d.Advisory.OutOfRange, &fields, &d.Advisory.Message, &ts)
		if err != nil {
			return nil, err
		}
		if fields != "" {
			d.Advisory.Fields = strings.Split(fields, ",")
		}
		d.Timestamp = ts
		detections = append(detections, d)
	}
	return detections, rows.Err()
}

// SaveQualityIssues records the rows rejected while cleaning source.
func (s *Store) SaveQualityIssues(ctx context.Context, source string, issues []pipeline.QualityIssue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO data_quality (source, line, rule, message, recorded_at)
        VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, issue := range issues {
		if _, err := stmt.ExecContext(ctx, source, issue.Line, issue.Rule, issue.Message, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// QualityIssues returns the issues recorded for source, ordered by line.
func (s *Store) QualityIssues(ctx context.Context, source string) ([]pipeline.QualityIssue, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT line, rule, message FROM data_quality
        WHERE source = ?
        ORDER BY line, id`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []pipeline.QualityIssue
	for rows.Next() {
		var issue pipeline.QualityIssue
		if err := rows.Scan(&issue.Line, &issue.Rule, &issue.Message); err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// Count returns the number of stored detections.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM detections`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
