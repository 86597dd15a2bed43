package llm

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/aura-go/graph/model"
)

// BatchResult is the outcome for one prompt in a batch. Exactly one of
// Result and Err is meaningful.
type BatchResult struct {
	Result Result
	Err    error
}

// InvokeBatch processes prompts in chunks of BatchSize, calling prompts
// within a chunk concurrently and pausing BatchDelay between chunks. The
// returned slice is positional: results[i] always corresponds to prompts[i],
// and one prompt's failure never aborts the rest.
func (inv *Invoker) InvokeBatch(ctx context.Context, prompts []string, opts model.Options) []BatchResult {
	results := make([]BatchResult, len(prompts))
	size := inv.cfg.BatchSize
	if size < 1 {
		size = 1
	}

	for start := 0; start < len(prompts); start += size {
		if start > 0 && inv.cfg.BatchDelay > 0 {
			select {
			case <-time.After(inv.cfg.BatchDelay):
			case <-ctx.Done():
				for i := start; i < len(prompts); i++ {
					results[i] = BatchResult{Err: ctx.Err()}
				}
				return results
			}
		}

		end := start + size
		if end > len(prompts) {
			end = len(prompts)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				res, err := inv.Invoke(ctx, prompts[idx], opts)
				results[idx] = BatchResult{Result: res, Err: err}
			}(i)
		}
		wg.Wait()
	}
	return results
}
