package llm

import (
	"sync"

	"github.com/dshills/aura-go/graph/model"
)

// UsageAccumulator tallies token usage across invocations. Safe for
// concurrent use.
type UsageAccumulator struct {
	mu    sync.Mutex
	total model.Usage
	calls int64
}

// Record adds one invocation's usage.
func (u *UsageAccumulator) Record(usage model.Usage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.total.Add(usage)
	u.calls++
}

// Total returns the accumulated usage and the number of recorded calls.
func (u *UsageAccumulator) Total() (model.Usage, int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.total, u.calls
}
