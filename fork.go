package flow

import (
	"fmt"
	"slices"
)

// ForkActivityType is the type name nodes use for fork/join.
const ForkActivityType = "Fork"

// JoinMode decides when a fork completes.
type JoinMode string

const (
	// JoinModeWaitAny completes the fork on the first branch completion and
	// abandons every other branch.
	JoinModeWaitAny JoinMode = "WaitAny"
	// JoinModeWaitAll completes the fork once every branch has completed.
	JoinModeWaitAll JoinMode = "WaitAll"
)

const forkCompletedProperty = "Completed"

var (
	_ Activity              = (*Fork)(nil)
	_ ManualCompleter       = (*Fork)(nil)
	_ ChildCompletedHandler = (*Fork)(nil)
)

// Fork schedules each child node as a branch and joins them according to
// its "mode" input, which defaults to WaitAny. The set of completed branch
// IDs is kept in the "Completed" property so a join survives restarts.
//
// A faulted branch never counts as completed. It cancels the bookmarks of
// every other branch and faults the fork, in either mode.
type Fork struct{}

func (f *Fork) Name() string {
	return ForkActivityType
}

func (f *Fork) AutoComplete() bool {
	return false
}

func (f *Fork) Execute(ctx *ActivityContext) error {
	if _, err := joinMode(ctx); err != nil {
		return err
	}
	branches := ctx.Node().Children
	if len(branches) == 0 {
		return ctx.Complete()
	}
	ctx.SetProperty(forkCompletedProperty, []string{})
	return ctx.ScheduleActivities(branches...)
}

func (f *Fork) ChildCompleted(ctx *ActivityContext, child *ActivityState) error {
	branchIDs := ctx.Node().ChildIDs()
	if child.Status == ActivityStatusFaulted {
		f.cancelBranches(ctx)
		return ctx.Fault(fmt.Errorf("branch %q faulted: %w", child.NodeID, child.Err()))
	}

	completed, err := UpdatePropertyAs(ctx, forkCompletedProperty, func(current []string) []string {
		if !slices.Contains(current, child.NodeID) {
			current = append(current, child.NodeID)
		}
		return current
	})
	if err != nil {
		return err
	}

	mode, err := joinMode(ctx)
	if err != nil {
		return err
	}
	switch mode {
	case JoinModeWaitAny:
		f.cancelBranches(ctx)
		return ctx.Complete()
	default:
		for _, id := range branchIDs {
			if !slices.Contains(completed, id) {
				return nil
			}
		}
		return ctx.Complete()
	}
}

// cancelBranches removes every bookmark held anywhere under the fork's
// branches.
func (f *Fork) cancelBranches(ctx *ActivityContext) {
	var ids []string
	for _, branch := range ctx.Node().Children {
		for _, n := range Flatten(branch) {
			ids = append(ids, n.ID)
		}
	}
	ctx.RemoveBookmarks(ids...)
}

func joinMode(ctx *ActivityContext) (JoinMode, error) {
	mode, ok, err := InputAs[string](ctx, "mode")
	if err != nil {
		return "", err
	}
	if !ok || mode == "" {
		return JoinModeWaitAny, nil
	}
	switch JoinMode(mode) {
	case JoinModeWaitAny, JoinModeWaitAll:
		return JoinMode(mode), nil
	}
	return "", fmt.Errorf("unknown join mode %q", mode)
}
