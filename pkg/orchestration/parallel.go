package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/agenthub-io/agenthub/pkg/llms"
)

// Aggregate statuses for a parallel batch.
const (
	ParallelAllCompleted = "all_completed"
	ParallelPartial      = "partial"
	ParallelAllFailed    = "all_failed"
	ParallelTimeout      = "timeout"
)

const defaultMaxConcurrency = 5

// ParallelConfig bounds a batch.
type ParallelConfig struct {
	// MaxConcurrency caps in-flight subagents. Defaults to 5.
	MaxConcurrency int

	// Timeout bounds the whole batch, not each task. Zero means no
	// overall limit beyond the per-task timeout.
	Timeout time.Duration

	// FailFast cancels the remaining tasks after the first failure.
	FailFast bool

	// Subagent applies to every task in the batch.
	Subagent SubagentConfig
}

// ParallelResult aggregates a batch. Results are ordered by task index,
// not completion order.
type ParallelResult struct {
	Status            string            `json:"status"`
	Results           []*SubagentResult `json:"results"`
	Completed         int               `json:"completed"`
	Failed            int               `json:"failed"`
	TotalInputTokens  int               `json:"total_input_tokens"`
	TotalOutputTokens int               `json:"total_output_tokens"`
	Duration          time.Duration     `json:"duration"`
}

// RunParallel fans tasks out across the spawner under a concurrency cap.
// Every task gets a result slot; a batch timeout marks unstarted and
// in-flight tasks as timed out rather than dropping them.
func RunParallel(ctx context.Context, spawner *Spawner, tasks []string, cfg ParallelConfig, contextMsgs []llms.Message) *ParallelResult {
	started := time.Now()
	out := &ParallelResult{Results: make([]*SubagentResult, len(tasks))}
	if len(tasks) == 0 {
		out.Status = ParallelAllCompleted
		return out
	}

	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = defaultMaxConcurrency
	}

	batchCtx := ctx
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		batchCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	} else {
		batchCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	for i, task := range tasks {
		if err := sem.Acquire(batchCtx, 1); err != nil {
			// Batch ended before this task could start.
			status, reason := SubagentCancelled, "batch cancelled before start"
			if errors.Is(batchCtx.Err(), context.DeadlineExceeded) {
				status, reason = SubagentTimeout, "batch timed out before start"
			}
			out.Results[i] = &SubagentResult{Status: status, Error: reason, Index: i}
			continue
		}
		wg.Add(1)
		go func(i int, task string) {
			defer wg.Done()
			defer sem.Release(1)
			result := spawner.Spawn(batchCtx, task, cfg.Subagent, contextMsgs, "", "")
			result.Index = i
			out.Results[i] = result
			if cfg.FailFast && !result.Succeeded() {
				cancel()
			}
		}(i, task)
	}
	wg.Wait()
	out.Duration = time.Since(started)

	timedOut := errors.Is(batchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	for _, result := range out.Results {
		if result == nil {
			continue
		}
		if result.Succeeded() {
			out.Completed++
		} else {
			out.Failed++
		}
		out.TotalInputTokens += result.InputTokens
		out.TotalOutputTokens += result.OutputTokens
	}

	switch {
	case timedOut && out.Failed > 0:
		out.Status = ParallelTimeout
	case out.Failed == 0:
		out.Status = ParallelAllCompleted
	case out.Completed == 0:
		out.Status = ParallelAllFailed
	default:
		out.Status = ParallelPartial
	}
	return out
}

// MapItems instantiates a task template per item ({item} is replaced) and
// runs the batch. Each result's Index matches the item's position.
func MapItems(ctx context.Context, spawner *Spawner, template string, items []string, cfg ParallelConfig) *ParallelResult {
	tasks := make([]string, len(items))
	for i, item := range items {
		tasks[i] = strings.ReplaceAll(template, "{item}", item)
	}
	return RunParallel(ctx, spawner, tasks, cfg, nil)
}
