// Package storage holds what every record sink shares: the stored envelope
// and how it is derived from a crawled record. Concrete sinks live in the
// subpackages.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/racing-crawler/internal/record"
)

// Item is one stored record. DataHash is the dedup key; ScrapedAt is kept
// outside the hashed payload so a re-crawl of unchanged data dedups.
type Item struct {
	ID        string          `json:"id"`
	RunID     string          `json:"crawl_run_id"`
	Source    string          `json:"source_name"`
	SourceURL string          `json:"source_url"`
	ItemType  record.Type     `json:"item_type"`
	Payload   json.RawMessage `json:"raw_data"`
	DataHash  string          `json:"data_hash"`
	ScrapedAt time.Time       `json:"scraped_at"`
}

// Hasher fingerprints bytes.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Builder turns envelopes into Items.
type Builder struct {
	hasher Hasher
	ids    crawler.IDGenerator
}

// NewBuilder returns a Builder. Both dependencies are required.
func NewBuilder(hasher Hasher, ids crawler.IDGenerator) (*Builder, error) {
	if hasher == nil || ids == nil {
		return nil, errors.New("hasher and id generator are required")
	}
	return &Builder{hasher: hasher, ids: ids}, nil
}

// Build canonicalizes the record, hashes it and assigns a fresh id.
// Failures wrap crawler.ErrPersist.
func (b *Builder) Build(env crawler.Envelope) (Item, error) {
	if env.Record == nil {
		return Item{}, fmt.Errorf("%w: empty record", crawler.ErrPersist)
	}
	payload, err := sha256.Canonical(env.Record)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %w", crawler.ErrPersist, err)
	}
	digest, err := b.hasher.Hash(payload)
	if err != nil {
		return Item{}, fmt.Errorf("%w: hash record: %w", crawler.ErrPersist, err)
	}
	id, err := b.ids.NewID()
	if err != nil {
		return Item{}, fmt.Errorf("%w: %w", crawler.ErrPersist, err)
	}
	return Item{
		ID:        id,
		RunID:     env.RunID,
		Source:    env.Source,
		SourceURL: env.Record.SourceURL(),
		ItemType:  env.Type(),
		Payload:   payload,
		DataHash:  digest,
		ScrapedAt: env.ScrapedAt.UTC(),
	}, nil
}
