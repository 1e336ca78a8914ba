package engine

import (
	"context"
	"fmt"

	"github.com/weft-io/weft/internal/domain"
)

const (
	portTrue    = "true"
	portFalse   = "false"
	portDefault = "default"
	portLoop    = "loop"
	portDone    = "done"
)

func runIf(_ context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.IfConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	matched, err := evalRules(cfg.Rules, ex.execCtx)
	if err != nil {
		return nil, domain.NewNodeFailureError(node.ID, err)
	}

	state.AppendLog(fmt.Sprintf("condition evaluated to %t", matched))
	if matched {
		return routePort(portTrue, input), nil
	}
	return routePort(portFalse, input), nil
}

func runSwitch(_ context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.SwitchConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	value, _ := lookupPath(ex.execCtx.Snapshot(), cfg.Variable)
	for candidate, port := range cfg.Cases {
		if looseEquals(value, candidate) {
			state.AppendLog(fmt.Sprintf("matched case %q", candidate))
			return routePort(port, input), nil
		}
	}

	port := cfg.DefaultPort
	if port == "" {
		port = portDefault
	}
	state.AppendLog("no case matched, taking default port")
	return routePort(port, input), nil
}

// runFilter keeps the elements of an array variable that pass the rule set.
// Each element is visible to the rules as "item", its position as "index".
func runFilter(_ context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.FilterConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	raw, _ := ex.execCtx.GetVariable(cfg.InputVariable)
	items, ok := raw.([]interface{})
	if !ok && raw != nil {
		return nil, domain.Error{
			Type:    domain.ErrorTypeNodeFailure,
			Message: fmt.Sprintf("variable %q is not an array", cfg.InputVariable),
			Details: map[string]interface{}{"node_id": node.ID, "got": fmt.Sprintf("%T", raw)},
		}
	}

	kept := make([]interface{}, 0, len(items))
	for i, item := range items {
		pass, err := evalRulesWith(cfg.Rules, ex.execCtx, map[string]interface{}{
			"item":  item,
			"index": i,
		})
		if err != nil {
			return nil, domain.NewNodeFailureError(node.ID, err)
		}
		if pass {
			kept = append(kept, item)
		}
	}

	outName := cfg.OutputVariable
	if outName == "" {
		outName = cfg.InputVariable
	}
	ex.execCtx.SetVariable(outName, kept, domain.ScopeLocal)

	state.AppendLog(fmt.Sprintf("kept %d of %d elements", len(kept), len(items)))
	out, err := mergeInto(input, map[string]interface{}{outName: kept})
	if err != nil {
		return nil, err
	}
	return routeAll(out), nil
}
