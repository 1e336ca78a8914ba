package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weft-io/weft/internal/domain"
)

func runMerge(_ context.Context, _ *execution, _ *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	// Arrival counting happens in the walker before the node runs; by the
	// time this handler executes, input already holds the merged branches.
	state.Output = input
	return routeAll(input), nil
}

// arriveAtMerge counts one branch arrival. The satisfying arrival continues
// through the merge carrying the deep-merged inputs; earlier arrivals end
// their branch, later ones are dropped.
func (ex *execution) arriveAtMerge(node *domain.Node, input map[string]interface{}) (bool, map[string]interface{}, error) {
	var cfg domain.MergeConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return false, nil, err
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	wait := ex.mergeWaitLocked(node, cfg)
	if wait.released {
		// A count-mode merge releases before every feeder reports in; the
		// stragglers of the released round are dropped. Once the round is
		// fully accounted, the next arrival belongs to a new pass through
		// the merge (loop re-entry) and starts a fresh round.
		if wait.arrivals+wait.skipped < wait.expected {
			wait.arrivals++
			return false, nil, nil
		}
		wait.resetLocked()
	}

	wait.arrivals++
	wait.inputs = append(wait.inputs, input)

	if !wait.satisfiedLocked() {
		return false, nil, nil
	}
	wait.released = true

	merged, err := mergeOutputs(wait.inputs)
	if err != nil {
		return false, nil, err
	}
	return true, merged, nil
}

// mergeSkipArrival registers a dead feeding branch. It returns a flush
// token when the skip is what satisfies the merge, so live arrivals that
// came earlier still make it downstream. dead reports that no live branch
// remains and nothing ever arrived.
func (ex *execution) mergeSkipArrival(node *domain.Node) (flush *token, dead bool, err error) {
	var cfg domain.MergeConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, false, err
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	wait := ex.mergeWaitLocked(node, cfg)
	if wait.released {
		if wait.arrivals+wait.skipped < wait.expected {
			wait.skipped++
			return nil, false, nil
		}
		wait.resetLocked()
	}
	wait.skipped++

	if wait.arrivals == 0 {
		if wait.skipped >= wait.expected {
			return nil, true, nil
		}
		return nil, false, nil
	}
	if !wait.satisfiedLocked() {
		return nil, false, nil
	}
	wait.released = true

	merged, err := mergeOutputs(wait.inputs)
	if err != nil {
		return nil, false, err
	}
	return &token{nodeID: node.ID, input: merged, mergeFlush: true}, false, nil
}

func (ex *execution) mergeWaitLocked(node *domain.Node, cfg domain.MergeConfig) *mergeWait {
	wait, ok := ex.mergeWaits[node.ID]
	if !ok {
		expected := 0
		for _, conn := range ex.graph.IncomingConnections(node.ID) {
			if conn.Enabled {
				expected++
			}
		}
		wait = &mergeWait{expected: expected}
		if cfg.Mode == domain.MergeModeCount && cfg.Count > 0 {
			wait.countReq = cfg.Count
		}
		ex.mergeWaits[node.ID] = wait
	}
	return wait
}

// resetLocked clears the arrival accounting so the next pass through the
// merge (a loop body re-entering it) waits on a fresh round.
func (w *mergeWait) resetLocked() {
	w.arrivals = 0
	w.skipped = 0
	w.inputs = nil
	w.released = false
}

func (w *mergeWait) satisfiedLocked() bool {
	if w.countReq > 0 {
		return w.arrivals >= w.countReq
	}
	return w.arrivals > 0 && w.arrivals+w.skipped >= w.expected
}

func runParallel(_ context.Context, _ *execution, _ *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	// The walker fans the outgoing edges into goroutines after this handler
	// records the node; routing is computed there.
	state.Output = input
	return routeAll(input), nil
}

// fanOut runs each outgoing edge of a parallel node as its own branch. In
// all mode every branch must finish; in first mode the first branch to
// finish wins and the rest are cancelled. With a single live edge there is
// nothing to parallelize and the edge continues on the current walk.
func (ex *execution) fanOut(ctx context.Context, node *domain.Node, output map[string]interface{}) ([]token, error) {
	var cfg domain.ParallelConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	starts, err := ex.nextTokens(node, routeAll(output))
	if err != nil {
		return nil, err
	}
	if len(starts) <= 1 {
		return starts, nil
	}

	maxPar := ex.graph.Limits.MaxParallelism
	if maxPar <= 0 {
		maxPar = ex.engine.config.MaxParallelism
	}
	if len(starts) > maxPar {
		return nil, domain.Error{
			Type:    domain.ErrorTypeLimitExceeded,
			Message: fmt.Sprintf("parallel node fans out %d branches, limit is %d", len(starts), maxPar),
			Details: map[string]interface{}{"node_id": node.ID},
		}
	}

	branchCtx := ctx
	var cancel context.CancelFunc
	if cfg.TimeoutSeconds > 0 {
		branchCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
	} else {
		branchCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if cfg.Mode == domain.ParallelModeFirst {
		return nil, ex.raceBranches(branchCtx, cancel, starts)
	}
	return nil, ex.joinBranches(branchCtx, cancel, node, starts)
}

// joinBranches waits for every branch. A failing branch does not, by
// default, interrupt its siblings; they run to completion and the
// execution fails afterwards.
func (ex *execution) joinBranches(ctx context.Context, cancel context.CancelFunc, node *domain.Node, starts []token) error {
	var wg sync.WaitGroup
	errs := make([]error, len(starts))

	for i, start := range starts {
		wg.Add(1)
		go func(i int, start token) {
			defer wg.Done()
			if err := ex.runBranch(ctx, start); err != nil {
				errs[i] = err
				if ex.graph.Limits.ParallelAbortSiblings {
					cancel()
				}
			}
		}(i, start)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// raceBranches returns once the first branch completes successfully,
// cancelling the rest. Only when every branch fails does the race fail.
func (ex *execution) raceBranches(ctx context.Context, cancel context.CancelFunc, starts []token) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var won bool
	var firstErr error

	for _, start := range starts {
		wg.Add(1)
		go func(start token) {
			defer wg.Done()
			err := ex.runBranch(ctx, start)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won = true
				cancel()
			} else if firstErr == nil {
				firstErr = err
			}
		}(start)
	}
	wg.Wait()

	if won {
		return nil
	}
	return firstErr
}

func runEnd(_ context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.EndConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	out := input
	if cfg.OutputVariable != "" {
		value, _ := ex.execCtx.GetVariable(cfg.OutputVariable)
		out = map[string]interface{}{cfg.OutputVariable: value}
	}
	if err := ex.setOutput(out); err != nil {
		return nil, err
	}

	state.Output = out
	return routeNone(), nil
}
