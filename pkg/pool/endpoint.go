package pool

import (
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"
)

// Endpoint is the pool's record of one relay: rolling health counters used
// to soft-deprioritize flaky relays. An endpoint is never removed, only
// tried less often until a probe readmits it.
type Endpoint struct {
	URL string

	attempts  atomic.Int64
	successes atomic.Int64
	lastError atomic.Int64 // unix seconds
}

func (e *Endpoint) Success() {
	e.attempts.Add(1)
	e.successes.Add(1)
}

func (e *Endpoint) Failure() {
	e.attempts.Add(1)
	e.lastError.Store(time.Now().Unix())
}

// Score is the rolling success rate in [0,1]. An untried endpoint scores 1
// so new relays are given a chance.
func (e *Endpoint) Score() float64 {
	a := e.attempts.Load()
	if a == 0 {
		return 1
	}
	return float64(e.successes.Load()) / float64(a)
}

// Degraded endpoints have failed more often than not over a meaningful
// sample. They stay in the registry and keep receiving probes.
func (e *Endpoint) Degraded() bool {
	return e.attempts.Load() >= 4 && e.Score() < 0.5
}

// selectHealthy orders urls by rolling score and leaves degraded endpoints
// out of the fan-out while any healthier candidate remains. Degraded
// endpoints keep receiving probes, so one recovered dial readmits them.
func (p *Pool) selectHealthy(urls []string) []string {
	ordered := make([]string, len(urls))
	copy(ordered, urls)
	slices.SortStableFunc(ordered, func(a, b string) int {
		sa, sb := p.endpoint(a).Score(), p.endpoint(b).Score()
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		}
		return 0
	})
	cut := len(ordered)
	for cut > 0 && p.endpoint(ordered[cut-1]).Degraded() {
		cut--
	}
	if cut == 0 {
		// every candidate is degraded; a flaky relay set beats none at all
		return ordered
	}
	return ordered[:cut]
}
