// Package local writes crawled records to the local filesystem, one JSON file
// per content hash.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/storage"
)

// Config captures the parameters for the local filesystem sink.
type Config struct {
	// BaseDir is the root directory where records will be stored.
	BaseDir string
	// Prefix is an optional subdirectory under BaseDir.
	Prefix string
}

// RecordSink writes each item to <base>/<prefix>/<item_type>/<data_hash>.json.
// Files are created exclusively, so an existing file reads as a duplicate.
type RecordSink struct {
	root    string
	builder *storage.Builder
}

// New creates the sink, making sure the base directory exists and is writable.
func New(cfg Config, builder *storage.Builder) (*RecordSink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("item builder is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &RecordSink{
		root:    filepath.Join(cfg.BaseDir, filepath.Clean("/"+strings.Trim(cfg.Prefix, "/"))),
		builder: builder,
	}, nil
}

// Accept implements crawler.Sink.
func (s *RecordSink) Accept(_ context.Context, env crawler.Envelope) (crawler.AcceptStatus, error) {
	item, err := s.builder.Build(env)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("%w: marshal item: %w", crawler.ErrPersist, err)
	}
	dir := filepath.Join(s.root, string(item.ItemType))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: create %s: %w", crawler.ErrPersist, dir, err)
	}
	name := filepath.Join(dir, item.DataHash+".json")
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return crawler.StatusDuplicateSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", crawler.ErrPersist, name, err)
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("%w: write %s: %w", crawler.ErrPersist, name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: close %s: %w", crawler.ErrPersist, name, err)
	}
	return crawler.StatusAck, nil
}

// Path returns where item would be written.
func (s *RecordSink) Path(item storage.Item) string {
	return filepath.Join(s.root, string(item.ItemType), item.DataHash+".json")
}
