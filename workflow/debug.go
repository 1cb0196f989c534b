package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/orquesta/orquesta/id"
)

// Steps returns the step states of a run in the order the handler first
// reached them.
func (r *Runner) Steps(ctx context.Context, runID id.RunID) ([]*Checkpoint, error) {
	steps, err := r.store.ListCheckpoints(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps for run %s: %w", runID, err)
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Seq == steps[j].Seq {
			return steps[i].CreatedAt.Before(steps[j].CreatedAt)
		}
		return steps[i].Seq < steps[j].Seq
	})
	return steps, nil
}

// InspectStep returns the stored state of one step.
func (r *Runner) InspectStep(ctx context.Context, runID id.RunID, stepName string) (*Checkpoint, error) {
	cp, err := r.store.GetCheckpoint(ctx, runID, stepName)
	if err != nil {
		return nil, fmt.Errorf("get step %q for run %s: %w", stepName, runID, err)
	}
	if cp == nil {
		return nil, fmt.Errorf("no step %q in run %s", stepName, runID)
	}
	return cp, nil
}
