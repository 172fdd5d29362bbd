package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/pkg/extractor"
)

func TestAssessBatchKeepsInputOrder(t *testing.T) {
	o, _ := newTestOrchestrator(t, newRoutedOracle(), stubSearcher{})

	items := make([]BatchItem, 5)
	for i := range items {
		text := fmt.Sprintf("Answer number %d. %s", i, essay)
		items[i] = BatchItem{
			Submission: Submission{Raw: []byte(text), Filename: fmt.Sprintf("answer-%d.txt", i)},
			Prompt:     "Explain photosynthesis",
		}
	}
	items[3].Submission.Raw = []byte("  ")

	results := o.AssessBatch(context.Background(), items, 2)
	require.Len(t, results, 5)

	for i, r := range results {
		assert.Equal(t, i, r.Index)
		if i == 3 {
			assert.ErrorIs(t, r.Err, extractor.ErrEmptySubmission)
			assert.Nil(t, r.Result)
			continue
		}
		require.NoError(t, r.Err)
		require.NotNil(t, r.Result)
		assert.Equal(t, models.StateCompleted, r.Result.Status.State)
		assert.Equal(t, extractor.ContentID(fmt.Sprintf("Answer number %d. %s", i, essay)), r.Result.DocumentID)
	}
}

func TestAssessBatchCancelled(t *testing.T) {
	o, _ := newTestOrchestrator(t, newRoutedOracle(), stubSearcher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := o.AssessBatch(ctx, []BatchItem{{Submission: Submission{Raw: []byte(essay), Filename: "a.txt"}, Prompt: "Explain"}}, 1)

	require.Len(t, results, 1)
	if results[0].Err == nil {
		assert.Equal(t, models.StateFailed, results[0].Result.Status.State)
	}
}

func TestWorkerPoolRecoversFromPanic(t *testing.T) {
	pool := NewWorkerPool(1, zerolog.Nop())
	pool.Start()

	var ran atomic.Int32
	require.NoError(t, pool.Submit(context.Background(), func() { panic("boom") }))
	require.NoError(t, pool.Submit(context.Background(), func() { ran.Add(1) }))
	pool.Stop()

	assert.Equal(t, int32(1), ran.Load())
	assert.ErrorIs(t, pool.Submit(context.Background(), func() {}), ErrPoolStopped)
}

func TestWorkerPoolSubmitBlocksUntilCancelled(t *testing.T) {
	pool := NewWorkerPool(1, zerolog.Nop())
	pool.Start()

	release := make(chan struct{})
	block := func() { <-release }
	// one running task plus a full queue
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Submit(context.Background(), block))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, block)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	stats := pool.GetStats()
	assert.Equal(t, 1, stats["max_workers"])
	assert.Equal(t, 2, stats["queue_capacity"])

	close(release)
	pool.Stop()
}
