package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/racing-crawler/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Site: "entries"},
		{
			RunID:      runID,
			TS:         now.Add(time.Second),
			Stage:      progress.StageTargetDone,
			Site:       "entries",
			Role:       "EXTRACT_TABLE",
			Outcome:    "success",
			Records:    map[string]int64{"race": 8},
			Duplicates: 2,
			Dur:        3 * time.Second,
		},
		{
			RunID:        runID,
			TS:           now.Add(time.Second),
			Stage:        progress.StageTargetDone,
			Site:         "entries",
			Role:         "EXTRACT_TABLE",
			Outcome:      "not_found",
			Unrecognized: 1,
		},
		{RunID: runID, TS: now, Stage: progress.StageNoTracks, Site: "entries", Note: "2024-05-02"},
		{RunID: runID, TS: now.Add(time.Minute), Stage: progress.StageRunDone, Site: "entries", Dur: time.Minute, Note: "completed"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("completed")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.targets.WithLabelValues("entries", "EXTRACT_TABLE", "success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.targets.WithLabelValues("entries", "EXTRACT_TABLE", "not_found")), 1e-9)
	require.InDelta(t, 8.0, testutil.ToFloat64(sink.records.WithLabelValues("entries", "race")), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.duplicates.WithLabelValues("entries")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.unrecognized.WithLabelValues("entries")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.noTracks.WithLabelValues("entries")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.targetDuration, "racecrawler_target_duration_seconds"))
}

func TestPrometheusSinkRunErrorCountsFailed(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)
	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunError, Note: "boom"},
	}))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("failed")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsRunning), 1e-9)
}

func TestPrometheusSinkRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkWritesTargetFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{
		RunID:   progress.UUIDToBytes(uuid.New()),
		TS:      time.Now(),
		Stage:   progress.StageTargetDone,
		Site:    "news",
		URL:     "https://news.example/a",
		Outcome: "success",
		Records: map[string]int64{"article": 1},
	}}))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "TARGET_DONE", fields["stage"])
	require.Equal(t, "https://news.example/a", fields["url"])
	require.Equal(t, int64(1), fields["records"])
	require.NoError(t, sink.Close(context.Background()))
}
