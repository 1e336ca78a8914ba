package engine

import (
	"context"
	"fmt"

	"github.com/weft-io/weft/internal/domain"
)

const (
	portBreak    = "break"
	portContinue = "continue"
)

// Loop nodes rely on re-entry: the loop body's last edge leads back to the
// loop node, and the loop state decides whether the next visit begins
// another iteration or leaves through the done port.

func runForeach(_ context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.ForeachConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	itemVar := cfg.ItemVariable
	if itemVar == "" {
		itemVar = "item"
	}
	indexVar := cfg.IndexVariable
	if indexVar == "" {
		indexVar = "index"
	}
	maxIter := ex.loopCeiling(cfg.MaxIterations)

	ls := ex.loopState(node.ID)
	if ls == nil || !ls.active {
		raw, _ := ex.execCtx.GetVariable(cfg.ArrayVariable)
		items, ok := raw.([]interface{})
		if !ok && raw != nil {
			return nil, domain.Error{
				Type:    domain.ErrorTypeNodeFailure,
				Message: fmt.Sprintf("variable %q is not an array", cfg.ArrayVariable),
				Details: map[string]interface{}{"node_id": node.ID, "got": fmt.Sprintf("%T", raw)},
			}
		}

		if len(items) == 0 {
			state.AppendLog("array empty, 0 iterations")
			state.Output = input
			return routePort(portDone, input), nil
		}

		if err := ex.pushLoop(node.ID); err != nil {
			return nil, err
		}
		ls = &loopState{active: true, items: items, iterations: 1}
		ex.setLoopState(node.ID, ls)

		ex.execCtx.SetVariable(itemVar, items[0], domain.ScopeLocal)
		ex.execCtx.SetVariable(indexVar, 0, domain.ScopeLocal)
		return routePort(portLoop, input), nil
	}

	if ls.broken {
		state.AppendLog(fmt.Sprintf("broken after %d iterations", ls.iterations))
		return ex.finishLoop(node.ID, ls, state, input)
	}

	ls.index++
	if ls.index >= len(ls.items) {
		state.AppendLog(fmt.Sprintf("completed %d iterations", ls.iterations))
		return ex.finishLoop(node.ID, ls, state, input)
	}
	if ls.iterations >= maxIter {
		state.AppendLog(fmt.Sprintf("iteration limit of %d reached", maxIter))
		return ex.finishLoop(node.ID, ls, state, input)
	}
	ls.iterations++

	ex.execCtx.SetVariable(itemVar, ls.items[ls.index], domain.ScopeLocal)
	ex.execCtx.SetVariable(indexVar, ls.index, domain.ScopeLocal)
	return routePort(portLoop, input), nil
}

func runWhile(_ context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.WhileConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	maxIter := ex.loopCeiling(cfg.MaxIterations)

	ls := ex.loopState(node.ID)
	if ls == nil || !ls.active {
		ok, err := evalRules(cfg.Rules, ex.execCtx)
		if err != nil {
			return nil, domain.NewNodeFailureError(node.ID, err)
		}
		if !ok {
			state.AppendLog("condition false, 0 iterations")
			state.Output = input
			return routePort(portDone, input), nil
		}

		if err := ex.pushLoop(node.ID); err != nil {
			return nil, err
		}
		ex.setLoopState(node.ID, &loopState{active: true, iterations: 1})
		return routePort(portLoop, input), nil
	}

	if ls.broken {
		state.AppendLog(fmt.Sprintf("broken after %d iterations", ls.iterations))
		return ex.finishLoop(node.ID, ls, state, input)
	}
	if ls.iterations >= maxIter {
		state.AppendLog(fmt.Sprintf("iteration limit of %d reached", maxIter))
		return ex.finishLoop(node.ID, ls, state, input)
	}

	ok, err := evalRules(cfg.Rules, ex.execCtx)
	if err != nil {
		return nil, domain.NewNodeFailureError(node.ID, err)
	}
	if !ok {
		state.AppendLog(fmt.Sprintf("condition false after %d iterations", ls.iterations))
		return ex.finishLoop(node.ID, ls, state, input)
	}

	ls.iterations++
	return routePort(portLoop, input), nil
}

// runBreak flags the targeted loop so its next visit exits through the done
// port. Without a rule set, the break is unconditional.
func runBreak(_ context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.BreakConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	fire := true
	if len(cfg.Rules) > 0 {
		ok, err := evalRules(cfg.Rules, ex.execCtx)
		if err != nil {
			return nil, domain.NewNodeFailureError(node.ID, err)
		}
		fire = ok
	}

	if !fire {
		return ex.breakRoute(node, portContinue, input), nil
	}

	target := cfg.LoopNodeID
	if target == "" {
		target = ex.innermostLoop()
	}
	if target == "" {
		return nil, domain.Error{
			Type:    domain.ErrorTypeNodeFailure,
			Message: "break fired outside any active loop",
			Details: map[string]interface{}{"node_id": node.ID},
		}
	}

	ls := ex.loopState(target)
	if ls == nil || !ls.active {
		return nil, domain.Error{
			Type:    domain.ErrorTypeNodeFailure,
			Message: fmt.Sprintf("break targets loop %q which is not active", target),
			Details: map[string]interface{}{"node_id": node.ID, "loop_node_id": target},
		}
	}
	ls.broken = true

	state.AppendLog(fmt.Sprintf("breaking loop %s", target))
	return ex.breakRoute(node, portBreak, input), nil
}

// breakRoute prefers the named port when the author wired it, falling back
// to every outgoing edge for graphs that use a single exit.
func (ex *execution) breakRoute(node *domain.Node, port string, input map[string]interface{}) *routing {
	if len(ex.graph.OutgoingFromPort(node.ID, port)) > 0 {
		return routePort(port, input)
	}
	return routeAll(input)
}

func (ex *execution) finishLoop(nodeID string, ls *loopState, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	ls.active = false
	ls.broken = false
	ex.popLoop(nodeID)
	state.Output = input
	return routePort(portDone, input), nil
}

func (ex *execution) loopCeiling(configured int) int {
	max := ex.engine.config.MaxLoopIterations
	if configured > 0 && configured < max {
		return configured
	}
	return max
}

func (ex *execution) loopState(nodeID string) *loopState {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.loopStates[nodeID]
}

func (ex *execution) setLoopState(nodeID string, ls *loopState) {
	ex.mu.Lock()
	ex.loopStates[nodeID] = ls
	ex.mu.Unlock()
}

func (ex *execution) pushLoop(nodeID string) error {
	maxDepth := ex.graph.Limits.MaxLoopDepth
	if maxDepth <= 0 {
		maxDepth = ex.engine.config.MaxLoopDepth
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	if len(ex.loopStack)+1 > maxDepth {
		return domain.Error{
			Type:    domain.ErrorTypeLimitExceeded,
			Message: fmt.Sprintf("loop nesting exceeds depth limit of %d", maxDepth),
			Details: map[string]interface{}{"node_id": nodeID},
		}
	}
	ex.loopStack = append(ex.loopStack, nodeID)
	return nil
}

func (ex *execution) popLoop(nodeID string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	for i := len(ex.loopStack) - 1; i >= 0; i-- {
		if ex.loopStack[i] == nodeID {
			ex.loopStack = append(ex.loopStack[:i], ex.loopStack[i+1:]...)
			return
		}
	}
}

func (ex *execution) innermostLoop() string {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if len(ex.loopStack) == 0 {
		return ""
	}
	return ex.loopStack[len(ex.loopStack)-1]
}
