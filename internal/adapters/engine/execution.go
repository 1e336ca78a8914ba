package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weft-io/weft/internal/domain"
)

// token is one unit of traversal work: a node to run and the data arriving
// on its input edge.
type token struct {
	nodeID string
	input  map[string]interface{}
	// mergeFlush marks a token that re-enters a merge node after a skipped
	// branch satisfied it; arrival counting is bypassed.
	mergeFlush bool
}

// routing is a handler's verdict on where the walk goes next. A nil ports
// slice means every output port; an empty non-nil slice ends the branch.
type routing struct {
	ports  []string
	output map[string]interface{}
}

func routeAll(output map[string]interface{}) *routing {
	return &routing{output: output}
}

func routePort(port string, output map[string]interface{}) *routing {
	return &routing{ports: []string{port}, output: output}
}

func routeNone() *routing {
	return &routing{ports: []string{}}
}

// loopState tracks one loop node across re-entries. The walker returns to
// the loop node over the graph's back edge; the state decides whether the
// next visit starts another iteration or leaves through the done port.
type loopState struct {
	active     bool
	broken     bool
	index      int
	iterations int
	items      []interface{}
}

// mergeWait accumulates branch arrivals at a merge node. Only the arrival
// that satisfies the merge continues downstream.
type mergeWait struct {
	expected int
	countReq int
	arrivals int
	skipped  int
	inputs   []map[string]interface{}
	released bool
}

type execution struct {
	engine  *Engine
	graph   *domain.WorkflowGraph
	execCtx *domain.ExecutionContext
	logger  *slog.Logger

	mu         sync.Mutex
	states     map[string]*domain.NodeExecutionState
	loopStates map[string]*loopState
	loopStack  []string
	mergeWaits map[string]*mergeWait
	trace      []domain.TraceEntry
	output     map[string]interface{}

	opCount atomic.Int64
}

func newExecution(e *Engine, graph *domain.WorkflowGraph, execCtx *domain.ExecutionContext, logger *slog.Logger) *execution {
	return &execution{
		engine:     e,
		graph:      graph,
		execCtx:    execCtx,
		logger:     logger,
		states:     make(map[string]*domain.NodeExecutionState),
		loopStates: make(map[string]*loopState),
		mergeWaits: make(map[string]*mergeWait),
	}
}

func (ex *execution) run(parent context.Context, trigger *domain.Node, timeout time.Duration) *domain.ExecutionResult {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	err := ex.runBranch(ctx, token{nodeID: trigger.ID, input: ex.execCtx.Snapshot()})

	result := &domain.ExecutionResult{
		ExecutionID:     ex.execCtx.ExecutionID,
		WorkflowID:      ex.graph.ID,
		WorkflowVersion: ex.graph.Version,
		NodeStates:      ex.states,
		Path:            ex.execCtx.Path(),
		Output:          ex.output,
		DryRun:          ex.execCtx.DryRun,
		Trace:           ex.trace,
		StartedAt:       ex.execCtx.StartedAt,
		CompletedAt:     time.Now(),
	}

	errKind, _ := domain.ErrorTypeOf(err)

	switch {
	case err == nil:
		result.Status = domain.ExecutionStatusCompleted
	case ex.execCtx.Cancelled() || ctx.Err() == context.Canceled || errKind == domain.ErrorTypeCancelled:
		result.Status = domain.ExecutionStatusCancelled
		result.Error = "execution cancelled"
		result.ErrorType = domain.ErrorTypeCancelled.String()
	case ctx.Err() == context.DeadlineExceeded:
		result.Status = domain.ExecutionStatusFailed
		result.Error = "execution exceeded its time budget"
		result.ErrorType = domain.ErrorTypeTimeout.String()
	default:
		result.Status = domain.ExecutionStatusFailed
		result.Error = err.Error()
		if t, ok := domain.ErrorTypeOf(err); ok {
			result.ErrorType = t.String()
		} else {
			result.ErrorType = domain.ErrorTypeNodeFailure.String()
		}
	}

	ex.markUnfinishedStates(result.Status)
	return result
}

// runBranch drains a work queue of tokens until the branch completes. New
// goroutines are spawned only by parallel nodes; everything else, loops and
// merges included, flows through this single loop.
func (ex *execution) runBranch(ctx context.Context, start token) error {
	queue := []token{start}

	for len(queue) > 0 {
		tok := queue[0]
		queue = queue[1:]

		if err := ex.checkpoint(ctx); err != nil {
			return err
		}

		node, ok := ex.graph.Node(tok.nodeID)
		if !ok {
			return domain.NewNotFoundError("node", tok.nodeID)
		}

		if node.Type == domain.NodeTypeMerge && !tok.mergeFlush {
			proceed, merged, err := ex.arriveAtMerge(node, tok.input)
			if err != nil {
				return err
			}
			if !proceed {
				continue
			}
			tok.input = merged
		}

		state, route := ex.executeNode(ctx, node, tok.input)

		if state.Status == domain.NodeStatusCancelled {
			if state.Cause != nil {
				return state.Cause
			}
			return domain.Error{
				Type:    domain.ErrorTypeCancelled,
				Message: "execution cancelled",
			}
		}

		if state.Status == domain.NodeStatusFailed {
			cont, follow, err := ex.handleFailure(node, state)
			if !cont {
				return err
			}
			queue = append(queue, follow...)
			continue
		}

		if node.Type == domain.NodeTypeParallel {
			joined, err := ex.fanOut(ctx, node, route.output)
			if err != nil {
				return err
			}
			queue = append(queue, joined...)
			continue
		}

		next, err := ex.nextTokens(node, route)
		if err != nil {
			return err
		}
		queue = append(queue, next...)
	}
	return nil
}

func (ex *execution) checkpoint(ctx context.Context) error {
	if ex.execCtx.Cancelled() {
		return domain.Error{
			Type:    domain.ErrorTypeCancelled,
			Message: "execution cancelled",
		}
	}
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return domain.NewTimeoutError("execution")
		}
		return domain.Error{
			Type:    domain.ErrorTypeCancelled,
			Message: "execution cancelled",
			Cause:   err,
		}
	}
	return nil
}

// nextTokens resolves the outgoing edges for the ports a handler selected,
// applying per-connection enablement and condition gates.
func (ex *execution) nextTokens(node *domain.Node, route *routing) ([]token, error) {
	if route == nil {
		return nil, nil
	}

	var conns []domain.Connection
	if route.ports == nil {
		conns = ex.graph.OutgoingConnections(node.ID)
	} else {
		for _, port := range route.ports {
			conns = append(conns, ex.graph.OutgoingFromPort(node.ID, port)...)
		}
	}

	var next []token
	for _, conn := range conns {
		if !conn.Enabled {
			continue
		}
		if conn.Condition != nil {
			ok, err := evalRule(*conn.Condition, ex.execCtx, nil)
			if err != nil {
				return nil, domain.Error{
					Type:    domain.ErrorTypeNodeFailure,
					Message: fmt.Sprintf("connection %s condition failed", conn.ID),
					Details: map[string]interface{}{"connection_id": conn.ID},
					Cause:   err,
				}
			}
			if !ok {
				continue
			}
		}
		next = append(next, token{nodeID: conn.TargetNode, input: route.output})
	}
	return next, nil
}

// handleFailure applies the workflow's failure policy after a node failed.
// It reports whether the branch may keep draining its queue, plus any merge
// flush tokens the skip propagation released.
func (ex *execution) handleFailure(node *domain.Node, state *domain.NodeExecutionState) (bool, []token, error) {
	policy := ex.graph.Limits.FailurePolicy
	if policy == "" {
		policy = ex.engine.config.FailurePolicy
	}

	ex.logger.Warn("node failed",
		"node_id", node.ID,
		"node_type", node.Type,
		"error", state.Error,
		"policy", policy)

	follow := ex.markSkippedDownstream(node.ID)

	if policy == domain.FailurePolicyContinue {
		return true, follow, nil
	}
	if state.Cause != nil {
		return false, nil, state.Cause
	}
	return false, nil, domain.NewNodeFailureError(node.ID, fmt.Errorf("%s", state.Error))
}

// markSkippedDownstream records a skipped state for every node reachable
// only through the given node, so the result shows why they never ran.
// Merge nodes register the dead branch instead, letting live siblings
// still satisfy the join; when the skip itself completes a merge, the
// returned flush token carries the waiting arrivals downstream.
func (ex *execution) markSkippedDownstream(nodeID string) []token {
	queue := []string{}
	for _, conn := range ex.graph.OutgoingConnections(nodeID) {
		queue = append(queue, conn.TargetNode)
	}

	var flushes []token
	seen := map[string]bool{nodeID: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		node, ok := ex.graph.Node(id)
		if !ok {
			continue
		}

		if node.Type == domain.NodeTypeMerge {
			flush, dead, err := ex.mergeSkipArrival(node)
			if err != nil {
				ex.logger.Error("merge skip bookkeeping failed", "node_id", id, "error", err)
				continue
			}
			if flush != nil {
				flushes = append(flushes, *flush)
				continue
			}
			if !dead {
				continue
			}
			// Every feeding branch is dead; the merge is skipped too.
		}

		ex.mu.Lock()
		_, done := ex.states[id]
		if !done {
			ex.states[id] = &domain.NodeExecutionState{
				NodeID: id,
				Status: domain.NodeStatusSkipped,
			}
		}
		ex.mu.Unlock()
		if done {
			continue
		}

		for _, conn := range ex.graph.OutgoingConnections(id) {
			queue = append(queue, conn.TargetNode)
		}
	}
	return flushes
}

// markUnfinishedStates settles nodes left mid-flight by a cancellation or
// timeout.
func (ex *execution) markUnfinishedStates(status domain.ExecutionStatus) {
	if status == domain.ExecutionStatusCompleted {
		return
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	for _, state := range ex.states {
		if !state.Status.Final() {
			state.Finalize(domain.NodeStatusCancelled)
		}
	}
}

func (ex *execution) setState(state *domain.NodeExecutionState) {
	ex.mu.Lock()
	ex.states[state.NodeID] = state
	ex.mu.Unlock()
}

func (ex *execution) nodeState(id string) (*domain.NodeExecutionState, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	s, ok := ex.states[id]
	return s, ok
}

func (ex *execution) traceEntry(nodeID, action string, detail map[string]interface{}) {
	ex.mu.Lock()
	ex.trace = append(ex.trace, domain.TraceEntry{
		NodeID: nodeID,
		Action: action,
		Detail: detail,
		At:     time.Now(),
	})
	ex.mu.Unlock()
}

func (ex *execution) setOutput(out map[string]interface{}) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.output == nil {
		ex.output = out
		return nil
	}
	merged, err := mergeInto(ex.output, out)
	if err != nil {
		return err
	}
	ex.output = merged
	return nil
}
