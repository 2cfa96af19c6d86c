// Package journal keeps a local SQLite record of the readings the gateway
// forwarded and the directives it sent down the radio link. It is an audit
// trail only; failed publishes are never replayed from it.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"lora-gateway/internal/config"
	"lora-gateway/internal/node"
)

//go:embed queries/insert-reading.sql
var insertReadingSQL string

//go:embed queries/insert-directive.sql
var insertDirectiveSQL string

//go:embed queries/latest-readings.sql
var latestReadingsSQL string

//go:embed queries/latest-directives.sql
var latestDirectivesSQL string

// MaxLimit caps the number of rows a Latest* call returns.
const MaxLimit = 1000

type Reading struct {
	ID           int64     `json:"id"`
	ReceivedAt   time.Time `json:"received_at"`
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	SprinklerOn  bool      `json:"sprinkler_on"`
	Published    bool      `json:"published"`
	PublishError string    `json:"publish_error,omitempty"`
}

type DirectiveRecord struct {
	ID           int64     `json:"id"`
	SentAt       time.Time `json:"sent_at"`
	CommandValue string    `json:"command_value"`
	Directive    string    `json:"directive"`
}

type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at cfg.SQLitePath and brings
// its schema up to date.
func Open(cfg config.Config, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := migrate(db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	logger.Info("journal: opened", "path", cfg.SQLitePath)
	return &Journal{db: db, logger: logger}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// RecordReading stores a decoded reading with the outcome of its publish.
func (j *Journal) RecordReading(ctx context.Context, r node.SensorReading, receivedAt time.Time, publishErr error) error {
	var errText sql.NullString
	if publishErr != nil {
		errText = sql.NullString{String: publishErr.Error(), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, insertReadingSQL,
		receivedAt.UTC().Format(time.RFC3339Nano),
		r.Temperature,
		r.Humidity,
		r.SprinklerOn,
		publishErr == nil,
		errText,
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// RecordDirective stores a directive that was written to the port.
func (j *Journal) RecordDirective(ctx context.Context, value string, d node.Directive, sentAt time.Time) error {
	_, err := j.db.ExecContext(ctx, insertDirectiveSQL,
		sentAt.UTC().Format(time.RFC3339Nano),
		value,
		string(d),
	)
	if err != nil {
		return fmt.Errorf("insert directive: %w", err)
	}
	return nil
}

// LatestReadings returns up to limit readings, newest first.
func (j *Journal) LatestReadings(ctx context.Context, limit int) ([]Reading, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	rows, err := j.db.QueryContext(ctx, latestReadingsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			j.logger.Error("journal: close readings rows", "error", err)
		}
	}()

	out := []Reading{}
	for rows.Next() {
		var (
			rec Reading
			ts  string
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Temperature, &rec.Humidity, &rec.SprinklerOn, &rec.Published, &rec.PublishError); err != nil {
			return nil, err
		}
		if rec.ReceivedAt, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LatestDirectives returns up to limit directives, newest first.
func (j *Journal) LatestDirectives(ctx context.Context, limit int) ([]DirectiveRecord, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	rows, err := j.db.QueryContext(ctx, latestDirectivesSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			j.logger.Error("journal: close directives rows", "error", err)
		}
	}()

	out := []DirectiveRecord{}
	for rows.Next() {
		var (
			rec DirectiveRecord
			ts  string
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.CommandValue, &rec.Directive); err != nil {
			return nil, err
		}
		if rec.SentAt, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func checkLimit(limit int) error {
	if limit < 1 || limit > MaxLimit {
		return fmt.Errorf("limit must be between 1 and %d, got %d", MaxLimit, limit)
	}
	return nil
}

func parseTimestamp(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	return t, nil
}
