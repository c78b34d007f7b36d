// Package store defines the persistence port for crawl run bookkeeping.
// Implementations live in internal/storage; this package must not import
// database drivers or concrete clients.
package store
