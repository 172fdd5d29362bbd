package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/xhad/assessor/internal/models"
)

// BatchItem is one submission of a batch run.
type BatchItem struct {
	Submission
	Prompt            string
	ReferenceMaterial string
}

// BatchResult pairs a batch item with its outcome. Err is set when the item
// could not be extracted or never ran.
type BatchResult struct {
	Index  int
	Result *models.AssessmentResult
	Err    error
}

// AssessBatch runs items on a pool of workers goroutines and returns their
// results in input order. A workers value of zero uses the configured pool
// size.
func (o *Orchestrator) AssessBatch(ctx context.Context, items []BatchItem, workers int, opts ...RunOption) []BatchResult {
	if workers <= 0 {
		workers = o.config.Workers
	}
	results := make([]BatchResult, len(items))

	pool := NewWorkerPool(workers, o.logger.With().Str("component", "batch").Logger())
	pool.Start()

	var wg sync.WaitGroup
	for i := range items {
		i := i
		results[i].Index = i
		results[i].Err = fmt.Errorf("item %d: assessment did not finish", i)

		wg.Add(1)
		err := pool.Submit(ctx, func() {
			defer wg.Done()
			item := items[i]
			itemOpts := opts
			if item.ReferenceMaterial != "" {
				itemOpts = append(append([]RunOption{}, opts...), WithReferenceMaterial(item.ReferenceMaterial))
			}
			result, err := o.Assess(ctx, item.Submission, item.Prompt, itemOpts...)
			results[i].Result = result
			results[i].Err = err
		})
		if err != nil {
			wg.Done()
			results[i].Err = fmt.Errorf("item %d: %w", i, err)
		}
	}

	wg.Wait()
	o.logger.Debug().Fields(pool.GetStats()).Msg("Batch pool drained")
	pool.Stop()

	o.logger.Info().Int("items", len(items)).Int("workers", workers).Msg("Batch finished")
	return results
}
