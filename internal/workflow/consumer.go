package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/jlneal/choragen-sub010/internal/events"
	"github.com/jlneal/choragen-sub010/internal/store"
)

// WaitForChainComplete blocks at a chain_complete gate until every
// task in the bound chain reaches done. It consumes chain events from
// the bus and backstops with a periodic store poll, since event
// delivery is best-effort.
func (e *Engine) WaitForChainComplete(ctx context.Context, bus *events.Bus, wf *Workflow) error {
	if wf.ChainID == "" || e.tasks == nil {
		return fmt.Errorf("workflow %s has no bound chain", wf.ID)
	}

	done, err := e.chainDone(ctx, wf.ChainID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	// Chain events are emitted by the task tools without a workflow
	// id, so subscribe to the full stream and filter by chain.
	var ch <-chan events.Event
	if bus != nil {
		ch = bus.Subscribe("")
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				ch = nil
				continue
			}
			if ev.Type == events.TypeChainCompleted && ev.ChainID == wf.ChainID {
				return nil
			}
		case <-ticker.C:
			done, err := e.chainDone(ctx, wf.ChainID)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (e *Engine) chainDone(ctx context.Context, chainID string) (bool, error) {
	tasks, err := e.tasks.ListTasks(ctx, chainID)
	if err != nil {
		return false, err
	}
	if len(tasks) == 0 {
		return false, nil
	}
	for _, t := range tasks {
		if t.Status != store.TaskDone {
			return false, nil
		}
	}
	return true, nil
}
