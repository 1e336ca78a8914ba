package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/weft-io/weft/internal/domain"
)

// runTransform evaluates each configured expression in the sandbox and
// binds the results as local variables. Expressions are evaluated in name
// order so an expression can read the result of one sorting before it.
func runTransform(_ context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.TransformConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cfg.Expressions))
	for name := range cfg.Expressions {
		names = append(names, name)
	}
	sort.Strings(names)

	produced := make(map[string]interface{}, len(names))
	for _, name := range names {
		value, err := ex.engine.evaluator.Evaluate(cfg.Expressions[name], ex.execCtx.Snapshot())
		if err != nil {
			return nil, domain.Error{
				Type:    domain.ErrorTypeNodeFailure,
				Message: fmt.Sprintf("expression for %q failed", name),
				Details: map[string]interface{}{"node_id": node.ID, "variable": name},
				Cause:   err,
			}
		}
		ex.execCtx.SetVariable(name, value, domain.ScopeLocal)
		produced[name] = value
	}

	out, err := mergeInto(input, produced)
	if err != nil {
		return nil, err
	}
	state.Output = out
	return routeAll(out), nil
}

func runVariableSet(_ context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.VariableSetConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	scope := cfg.Scope
	if scope == "" {
		scope = domain.ScopeLocal
	}
	value := resolveValue(cfg.Value, ex.execCtx)
	ex.execCtx.SetVariable(cfg.Name, value, scope)

	state.AppendLog(fmt.Sprintf("set %s in %s scope", cfg.Name, scope))
	state.Output = input
	return routeAll(input), nil
}

func runVariableGet(_ context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.VariableGetConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	var value interface{}
	var found bool
	if cfg.Scope != "" {
		value, found = ex.execCtx.GetVariableInScope(cfg.Name, cfg.Scope)
	} else {
		value, found = ex.execCtx.GetVariable(cfg.Name)
	}
	if !found {
		value = cfg.Default
	}

	outName := cfg.OutputVariable
	if outName == "" {
		outName = cfg.Name
	}
	ex.execCtx.SetVariable(outName, value, domain.ScopeLocal)

	out, err := mergeInto(input, map[string]interface{}{outName: value})
	if err != nil {
		return nil, err
	}
	state.Output = out
	return routeAll(out), nil
}
