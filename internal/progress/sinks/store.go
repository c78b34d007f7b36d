package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/progress"
	"github.com/JakeFAU/racing-crawler/internal/store"
)

// StoreSink persists run lifecycle and counters via a store.RunRepository.
// Target counters are collapsed per run within a batch to reduce writes.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order. Counter deltas are flushed before any
// run is finished so a finished run carries its final counts.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]store.RunCounts)
	var order []uuid.UUID

	flush := func() error {
		for _, id := range order {
			if d := deltas[id]; !d.IsZero() {
				if err := s.repo.AddCounts(ctx, id, d); err != nil {
					return fmt.Errorf("add run counts: %w", err)
				}
			}
		}
		clear(deltas)
		order = order[:0]
		return nil
	}

	for _, evt := range batch {
		id := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, id, evt.Site, configJSON(evt.Note), evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageTargetDone:
			if _, ok := deltas[id]; !ok {
				order = append(order, id)
			}
			deltas[id] = deltas[id].Add(targetCounts(evt))
		case progress.StageRunDone, progress.StageRunError:
			if err := flush(); err != nil {
				return err
			}
			if err := s.finish(ctx, id, evt); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (s *StoreSink) finish(ctx context.Context, id uuid.UUID, evt progress.Event) error {
	status := store.RunCompleted
	var errMsg *string
	switch {
	case evt.Stage == progress.StageRunError:
		status = store.RunFailed
		if evt.Note != "" {
			note := evt.Note
			errMsg = &note
		}
		// A run can fail before it ever started.
		if err := s.repo.StartRun(ctx, id, evt.Site, nil, evt.TS.Add(-evt.Dur)); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case evt.Note == string(store.RunCancelled):
		status = store.RunCancelled
	}
	if err := s.repo.FinishRun(ctx, id, evt.TS, status, errMsg); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func targetCounts(evt progress.Event) store.RunCounts {
	c := store.RunCounts{
		TotalItems:     evt.RecordTotal(),
		DuplicateItems: evt.Duplicates,
		FailedItems:    evt.PersistErrors,
	}
	switch crawler.Outcome(evt.Outcome) {
	case crawler.OutcomeSuccess, crawler.OutcomeNoContent:
		c.TargetsOK = 1
	case crawler.OutcomeTimeout, crawler.OutcomeError, crawler.OutcomeNotFound:
		c.TargetsFailed = 1
	}
	return c
}

// configJSON keeps the note only when it is a JSON document.
func configJSON(note string) json.RawMessage {
	if note == "" || !json.Valid([]byte(note)) {
		return nil
	}
	return json.RawMessage(note)
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
