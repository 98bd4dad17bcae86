package scope

import (
	"context"
	"fmt"
)

// StartFunc runs one chain. It is only invoked once the whole
// candidate set has passed conflict detection and holds its locks.
type StartFunc func(ctx context.Context, chainID string) error

// SpawnInParallel starts every chain in the candidate set concurrently,
// or none of them. Any scope conflict in the set (against each other or
// against already-running chains) aborts the whole spawn with an
// itemized report before any chain starts.
func SpawnInParallel(ctx context.Context, locks *LockManager, chains []ChainScope, start StartFunc) error {
	if len(chains) == 0 {
		return nil
	}

	if conflicts := FindConflicts(chains); len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}

	// Lock acquisition re-checks against chains already running and is
	// all-or-nothing.
	if err := locks.AcquireSet(chains); err != nil {
		return err
	}

	errc := make(chan error, len(chains))
	for _, cs := range chains {
		go func(chainID string) {
			runErr := start(ctx, chainID)
			relErr := locks.Release(chainID)
			switch {
			case runErr != nil:
				errc <- fmt.Errorf("chain %s: %w", chainID, runErr)
			case relErr != nil:
				errc <- fmt.Errorf("release %s: %w", chainID, relErr)
			default:
				errc <- nil
			}
		}(cs.ChainID)
	}

	var firstErr error
	for range chains {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
