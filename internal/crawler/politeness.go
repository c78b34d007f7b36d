package crawler

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"
)

// visitTracker is the run-wide visited set. It is shared by every in-flight
// target and by pagination, so it must be safe for concurrent use.
type visitTracker interface {
	MarkIfNew(url string) bool
	Contains(url string) bool
}

type concurrentVisitTracker struct {
	seen sync.Map
}

func newConcurrentVisitTracker() *concurrentVisitTracker {
	return &concurrentVisitTracker{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *concurrentVisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// Contains implements navigate.Visited.
func (t *concurrentVisitTracker) Contains(url string) bool {
	_, ok := t.seen.Load(url)
	return ok
}

// pauseController abstracts how a target waits before it renders.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration) error
}

type timerPauseController struct{}

// Pause sleeps for delay, returning early with ctx's error on cancellation.
func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// randomJitter returns a uniform duration in [0, limit).
func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
