// Package sinks implements progress consumers: Prometheus metrics, the crawl
// run store and structured logging. Each sink satisfies progress.Sink and is
// safe for repeated Consume/Close cycles.
package sinks
