package cli

import (
	"context"
	"fmt"
	"time"
)

// queueRunBudgets are handed to the server on the first and later
// batches of one "queue run". The first batch is kept short so the user
// sees progress quickly.
var queueRunBudgets = [2]time.Duration{3 * time.Second, 10 * time.Second}

func (a *App) QueueStatus(ctx context.Context, public bool) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	items, err := a.api.QueueStatus(ctx, public)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(a.out, "Queue is empty")
		return nil
	}

	for _, it := range items {
		line := fmt.Sprintf("#%d  %s  %d bytes", it.ID, it.ReceivedAt.Format(time.RFC3339), it.Size)
		if it.Error != "" {
			line += "  BLOCKED: " + it.Error
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

// QueueRun drains the queue batch by batch until it is empty or blocked.
func (a *App) QueueRun(ctx context.Context, public bool) error {
	var processed, deferred, batches int

	for {
		budget := queueRunBudgets[1]
		if batches == 0 {
			budget = queueRunBudgets[0]
		}

		callCtx, cancel := a.withTimeout(ctx)
		resp, err := a.api.QueueRun(callCtx, public, budget)
		cancel()
		if err != nil {
			return err
		}

		batches++
		processed += resp.Processed
		deferred += resp.Deferred

		if resp.Blocked {
			fmt.Fprintf(a.out, "Processed %d, deferred %d; queue is blocked, see 'queue status'\n", processed, deferred)
			return nil
		}
		if !resp.More {
			break
		}
		fmt.Fprintf(a.out, "... %d processed so far\n", processed)
	}

	fmt.Fprintf(a.out, "Processed %d, deferred %d\n", processed, deferred)
	return nil
}

func (a *App) QueueClear(ctx context.Context, id int64) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.api.QueueClear(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Item #%d will be retried on the next run\n", id)
	return nil
}

func (a *App) QueueDiscard(ctx context.Context, id int64) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.api.QueueDiscard(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Item #%d discarded\n", id)
	return nil
}
