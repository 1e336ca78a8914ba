package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/weft-io/weft/internal/domain"
)

type handlerFunc func(ctx context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error)

// handlers maps every runnable node type to its implementation. Trigger
// nodes are entry points; at run time they pass their payload through so a
// walk can start on them uniformly.
var handlers = map[domain.NodeType]handlerFunc{
	domain.NodeTypeCommandTrigger:  runTrigger,
	domain.NodeTypeEventTrigger:    runTrigger,
	domain.NodeTypeWebhookTrigger:  runTrigger,
	domain.NodeTypeScheduleTrigger: runTrigger,

	domain.NodeTypeIf:     runIf,
	domain.NodeTypeSwitch: runSwitch,
	domain.NodeTypeFilter: runFilter,

	domain.NodeTypeModuleAction:  runModuleAction,
	domain.NodeTypeWebhookAction: runWebhookAction,
	domain.NodeTypeChatMessage:   runChatMessage,
	domain.NodeTypeBrowserSource: runBrowserSource,
	domain.NodeTypeDelay:         runDelay,

	domain.NodeTypeTransform:   runTransform,
	domain.NodeTypeVariableSet: runVariableSet,
	domain.NodeTypeVariableGet: runVariableGet,

	domain.NodeTypeForeach: runForeach,
	domain.NodeTypeWhile:   runWhile,
	domain.NodeTypeBreak:   runBreak,

	domain.NodeTypeMerge:    runMerge,
	domain.NodeTypeParallel: runParallel,
	domain.NodeTypeEnd:      runEnd,
}

// executeNode runs a single node and always returns a finalized state; no
// node error or panic escapes past this boundary. The routing return is nil
// when the node failed or ended the branch.
func (ex *execution) executeNode(ctx context.Context, node *domain.Node, input map[string]interface{}) (state *domain.NodeExecutionState, route *routing) {
	state = &domain.NodeExecutionState{
		NodeID:    node.ID,
		Status:    domain.NodeStatusRunning,
		Input:     input,
		StartedAt: time.Now(),
	}
	ex.setState(state)
	ex.execCtx.RecordVisit(node.ID)

	defer func() {
		if r := recover(); r != nil {
			perr := &domain.PanicError{
				NodeID:     node.ID,
				PanicValue: r,
				StackTrace: string(debug.Stack()),
			}
			ex.logger.Error("node panicked",
				"node_id", node.ID,
				"node_type", node.Type,
				"panic", fmt.Sprintf("%v", r))
			state.Fail(perr)
			route = nil
		}
	}()

	if !node.Enabled {
		state.Finalize(domain.NodeStatusSkipped)
		state.Output = input
		return state, routeAll(input)
	}

	maxOps := ex.graph.Limits.MaxOperations
	if maxOps <= 0 {
		maxOps = ex.engine.config.MaxOperations
	}
	if ops := ex.opCount.Add(1); int(ops) > maxOps {
		state.Fail(domain.Error{
			Type:    domain.ErrorTypeLimitExceeded,
			Message: fmt.Sprintf("operation budget of %d exhausted", maxOps),
			Details: map[string]interface{}{"node_id": node.ID},
		})
		return state, nil
	}

	handler, ok := handlers[node.Type]
	if !ok {
		state.Fail(domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: fmt.Sprintf("no handler for node type %q", node.Type),
			Details: map[string]interface{}{"node_id": node.ID},
		})
		return state, nil
	}

	ex.logger.Debug("executing node", "node_id", node.ID, "node_type", node.Type)

	route, err := handler(ctx, ex, node, state, input)
	if err != nil {
		// A node interrupted by cancellation is not a node failure; it is
		// settled as cancelled and the branch stops.
		if kind, ok := domain.ErrorTypeOf(err); ok && kind == domain.ErrorTypeCancelled {
			state.Cause = err
			state.Error = err.Error()
			state.ErrorType = kind.String()
			state.Finalize(domain.NodeStatusCancelled)
			return state, nil
		}
		state.Fail(err)
		return state, nil
	}

	if !state.Status.Final() {
		if state.Output == nil && route != nil {
			state.Output = route.output
		}
		state.Finalize(domain.NodeStatusCompleted)
	}
	return state, route
}

// runTrigger records the entry point and hands the payload downstream.
func runTrigger(_ context.Context, _ *execution, _ *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	state.Output = input
	return routeAll(input), nil
}
