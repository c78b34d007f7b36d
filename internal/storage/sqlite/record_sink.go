// Package sqlite stores crawled records in a local SQLite file, for runs
// without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS raw_scraped_data (
	id           TEXT PRIMARY KEY,
	crawl_run_id TEXT NOT NULL,
	source_name  TEXT NOT NULL,
	source_url   TEXT,
	item_type    TEXT NOT NULL,
	raw_data     TEXT NOT NULL,
	data_hash    TEXT NOT NULL UNIQUE,
	scraped_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS raw_scraped_data_run ON raw_scraped_data (crawl_run_id);
`

// RecordSink implements crawler.Sink over SQLite.
type RecordSink struct {
	db      *sql.DB
	builder *storage.Builder
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string, builder *storage.Builder) (*RecordSink, error) {
	if path == "" {
		return nil, errors.New("sqlite.path is required")
	}
	if builder == nil {
		return nil, errors.New("item builder is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &RecordSink{db: db, builder: builder}, nil
}

// Accept implements crawler.Sink.
func (s *RecordSink) Accept(ctx context.Context, env crawler.Envelope) (crawler.AcceptStatus, error) {
	item, err := s.builder.Build(env)
	if err != nil {
		return "", err
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO raw_scraped_data (id, crawl_run_id, source_name, source_url, item_type, raw_data, data_hash, scraped_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (data_hash) DO NOTHING`,
		item.ID,
		item.RunID,
		item.Source,
		item.SourceURL,
		string(item.ItemType),
		string(item.Payload),
		item.DataHash,
		item.ScrapedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert item: %w", crawler.ErrPersist, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("%w: rows affected: %w", crawler.ErrPersist, err)
	}
	if n == 0 {
		return crawler.StatusDuplicateSkipped, nil
	}
	return crawler.StatusAck, nil
}

// Count returns the number of stored items for a run.
func (s *RecordSink) Count(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_scraped_data WHERE crawl_run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *RecordSink) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
