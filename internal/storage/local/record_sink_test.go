package local_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/racing-crawler/internal/id/uuid"
	"github.com/JakeFAU/racing-crawler/internal/record"
	"github.com/JakeFAU/racing-crawler/internal/storage"
	"github.com/JakeFAU/racing-crawler/internal/storage/local"
)

func newBuilder(t *testing.T) *storage.Builder {
	t.Helper()
	b, err := storage.NewBuilder(sha256.New(), uuid.New())
	require.NoError(t, err)
	return b
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("ValidConfig", func(t *testing.T) {
		t.Parallel()
		sink, err := local.New(local.Config{BaseDir: t.TempDir()}, newBuilder(t))
		require.NoError(t, err)
		assert.NotNil(t, sink)
	})
	t.Run("CreatesMissingDir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "nested", "records")
		_, err := local.New(local.Config{BaseDir: dir}, newBuilder(t))
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{}, newBuilder(t))
		assert.Error(t, err)
	})
	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file}, newBuilder(t))
		assert.Error(t, err)
	})
	t.Run("MissingBuilder", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{BaseDir: t.TempDir()}, nil)
		assert.Error(t, err)
	})
}

func TestAcceptWritesOneFilePerHash(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	sink, err := local.New(local.Config{BaseDir: base, Prefix: "/records/"}, newBuilder(t))
	require.NoError(t, err)
	ctx := context.Background()
	rec := record.RankingRecord{Rank: record.Int(1), HorseName: record.Text("Sierra Leone")}
	env := crawler.Envelope{RunID: "run-1", Source: "rankings", Record: rec, ScrapedAt: time.Now()}

	status, err := sink.Accept(ctx, env)
	require.NoError(t, err)
	require.Equal(t, crawler.StatusAck, status)

	status, err = sink.Accept(ctx, env)
	require.NoError(t, err)
	require.Equal(t, crawler.StatusDuplicateSkipped, status)

	files, err := filepath.Glob(filepath.Join(base, "records", string(record.TypeRanking), "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var item storage.Item
	require.NoError(t, json.Unmarshal(data, &item))
	assert.Equal(t, "run-1", item.RunID)
	assert.Equal(t, "rankings", item.Source)
	assert.Equal(t, files[0], sink.Path(item))
}

func TestAcceptRejectsEmptyRecord(t *testing.T) {
	t.Parallel()

	sink, err := local.New(local.Config{BaseDir: t.TempDir()}, newBuilder(t))
	require.NoError(t, err)
	_, err = sink.Accept(context.Background(), crawler.Envelope{RunID: "run-1"})
	require.ErrorIs(t, err, crawler.ErrPersist)
}
