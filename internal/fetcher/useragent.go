package fetcher

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
)

// RandomSelector picks a uniformly random agent from the pool. A fixed seed
// makes the sequence reproducible.
func RandomSelector(seed uint64) crawler.UserAgentSelector {
	var mu sync.Mutex
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func(pool []string) string {
		if len(pool) == 0 {
			return ""
		}
		mu.Lock()
		defer mu.Unlock()
		return pool[rng.IntN(len(pool))]
	}
}

// RoundRobinSelector cycles through the pool in order.
func RoundRobinSelector() crawler.UserAgentSelector {
	var next atomic.Uint64
	return func(pool []string) string {
		if len(pool) == 0 {
			return ""
		}
		i := next.Add(1) - 1
		return pool[i%uint64(len(pool))]
	}
}
