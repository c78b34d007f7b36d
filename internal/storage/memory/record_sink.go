// Package memory provides in-process sinks and stores for development,
// dry runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/record"
	"github.com/JakeFAU/racing-crawler/internal/storage"
)

// RecordSink keeps accepted items in insertion order, deduplicated by hash.
type RecordSink struct {
	builder *storage.Builder

	mu     sync.RWMutex
	byHash map[string]struct{}
	items  []storage.Item
}

// NewRecordSink constructs a RecordSink.
func NewRecordSink(builder *storage.Builder) *RecordSink {
	return &RecordSink{builder: builder, byHash: make(map[string]struct{})}
}

// Accept implements crawler.Sink.
func (s *RecordSink) Accept(_ context.Context, env crawler.Envelope) (crawler.AcceptStatus, error) {
	item, err := s.builder.Build(env)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byHash[item.DataHash]; dup {
		return crawler.StatusDuplicateSkipped, nil
	}
	s.byHash[item.DataHash] = struct{}{}
	s.items = append(s.items, item)
	return crawler.StatusAck, nil
}

// Items returns a copy of the stored items, optionally filtered by type.
func (s *RecordSink) Items(types ...record.Type) []storage.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Item, 0, len(s.items))
	for _, it := range s.items {
		if len(types) == 0 || containsType(types, it.ItemType) {
			out = append(out, it)
		}
	}
	return out
}

func containsType(types []record.Type, t record.Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
