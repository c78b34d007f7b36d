// Package progress carries crawl observability events from the engine to
// pluggable sinks. Emitting never blocks a crawl: events are buffered, batched
// on a background goroutine, and dropped with a rate-limited warning when the
// buffer is full.
package progress
