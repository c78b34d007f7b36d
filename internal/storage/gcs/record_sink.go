// Package gcs stores crawled records in Google Cloud Storage, one object per
// content hash.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
	istorage "github.com/JakeFAU/racing-crawler/internal/storage"
)

// Config captures the bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// RecordSink writes each item as JSON to <prefix>/<item_type>/<data_hash>.json.
// Objects are created with a does-not-exist precondition, so a second write
// of the same content fails with 412 and reads as a duplicate.
type RecordSink struct {
	client  *storage.Client
	bucket  string
	prefix  string
	builder *istorage.Builder
}

// New creates a GCS-backed record sink.
func New(client *storage.Client, cfg Config, builder *istorage.Builder) (*RecordSink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("item builder is required")
	}
	return &RecordSink{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		builder: builder,
	}, nil
}

// Accept implements crawler.Sink.
func (s *RecordSink) Accept(ctx context.Context, env crawler.Envelope) (crawler.AcceptStatus, error) {
	item, err := s.builder.Build(env)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("%w: marshal item: %w", crawler.ErrPersist, err)
	}
	name := s.objectName(item)
	writer := s.client.Bucket(s.bucket).Object(name).
		If(storage.Conditions{DoesNotExist: true}).
		NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.Metadata = map[string]string{
		"crawl_run_id": item.RunID,
		"source_name":  item.Source,
	}
	if _, err := writer.Write(body); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("%w: write object %s: %w", crawler.ErrPersist, name, err)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return crawler.StatusDuplicateSkipped, nil
		}
		return "", fmt.Errorf("%w: close object %s: %w", crawler.ErrPersist, name, err)
	}
	return crawler.StatusAck, nil
}

func (s *RecordSink) objectName(item istorage.Item) string {
	return path.Join(s.prefix, string(item.ItemType), item.DataHash+".json")
}
