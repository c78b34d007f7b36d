// Package crawler implements the crawl engine: target dispatch by role,
// bounded fan-out, speculative track guesses, pagination and the record sink
// contract shared by the storage backends.
package crawler
