package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/storage"
)

const defaultRecordTable = "raw_scraped_data"

// RecordSink writes items into raw_scraped_data. The table needs a unique
// constraint on data_hash:
//
//	CREATE TABLE raw_scraped_data (
//		id           uuid PRIMARY KEY,
//		crawl_run_id uuid NOT NULL,
//		source_name  text NOT NULL,
//		source_url   text,
//		item_type    text NOT NULL,
//		raw_data     jsonb NOT NULL,
//		data_hash    text NOT NULL UNIQUE,
//		scraped_at   timestamptz NOT NULL
//	);
type RecordSink struct {
	db      DB
	table   string
	builder *storage.Builder
}

// NewRecordSink constructs a sink over db.
func NewRecordSink(db DB, table string, builder *storage.Builder) (*RecordSink, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("item builder is required")
	}
	name, err := tableName(table, defaultRecordTable)
	if err != nil {
		return nil, err
	}
	return &RecordSink{db: db, table: name, builder: builder}, nil
}

// Accept implements crawler.Sink. A conflicting data_hash inserts nothing and
// reports a duplicate.
func (s *RecordSink) Accept(ctx context.Context, env crawler.Envelope) (crawler.AcceptStatus, error) {
	item, err := s.builder.Build(env)
	if err != nil {
		return "", err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	crawl_run_id,
	source_name,
	source_url,
	item_type,
	raw_data,
	data_hash,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) ON CONFLICT (data_hash) DO NOTHING`, s.table)

	tag, err := s.db.Exec(ctx, query,
		item.ID,
		item.RunID,
		item.Source,
		item.SourceURL,
		string(item.ItemType),
		[]byte(item.Payload),
		item.DataHash,
		item.ScrapedAt,
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert item: %w", crawler.ErrPersist, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.StatusDuplicateSkipped, nil
	}
	return crawler.StatusAck, nil
}

// Close releases the underlying pool.
func (s *RecordSink) Close() {
	s.db.Close()
}
