package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

// These tests swap the global tracer provider and so do not run in parallel.

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupValidates(t *testing.T) {
	_, err := Setup(context.Background(), Config{Enabled: true})
	require.ErrorContains(t, err, "service name")

	_, err = Setup(context.Background(), Config{Enabled: true, ServiceName: "racecrawler", SampleRatio: 2})
	require.ErrorContains(t, err, "sample ratio")
}

func TestSetupWithoutExporterRecordsSpans(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: true, ServiceName: "racecrawler"})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	_, span := otel.Tracer("test").Start(context.Background(), "target")
	defer span.End()
	require.True(t, span.SpanContext().IsValid())
	require.True(t, span.SpanContext().IsSampled())
}

func TestSetupExportsOverHTTP(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/traces" {
			posts.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	shutdown, err := Setup(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "racecrawler",
		HTTPEndpoint: srv.URL + "/v1/traces",
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "target")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	require.GreaterOrEqual(t, posts.Load(), int32(1))
}
