package validator

import (
	"fmt"
	"log/slog"

	"github.com/weft-io/weft/internal/domain"
)

// Finding is one validation outcome. Findings carry the node and field they
// apply to so callers can surface actionable messages.
type Finding struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"node_id,omitempty"`
	Field   string `json:"field,omitempty"`
}

func (f Finding) String() string {
	if f.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", f.Code, f.NodeID, f.Message)
	}
	return fmt.Sprintf("[%s] %s", f.Code, f.Message)
}

// Result is the full outcome of validating a graph. Warnings never flip
// Valid; callers decide whether they block activation.
type Result struct {
	Valid      bool                 `json:"valid"`
	Errors     []Finding            `json:"errors"`
	Warnings   []Finding            `json:"warnings"`
	NodeErrors map[string][]Finding `json:"node_errors"`
}

func (r *Result) addError(f Finding) {
	r.Errors = append(r.Errors, f)
	if f.NodeID != "" {
		r.NodeErrors[f.NodeID] = append(r.NodeErrors[f.NodeID], f)
	}
}

func (r *Result) addWarning(f Finding) {
	r.Warnings = append(r.Warnings, f)
}

// Validator checks a workflow graph for structural soundness, per-node
// configuration validity, connection compatibility and embedded-expression
// safety. Validate never returns an error value; all findings land in the
// Result.
type Validator struct {
	limits domain.ValidatorLimits
	logger *slog.Logger
}

func New(limits domain.ValidatorLimits, logger *slog.Logger) *Validator {
	return &Validator{
		limits: limits,
		logger: logger.With("component", "validator"),
	}
}

func (v *Validator) Validate(graph *domain.WorkflowGraph) *Result {
	result := &Result{
		Valid:      true,
		NodeErrors: map[string][]Finding{},
	}

	if graph == nil {
		result.addError(Finding{Code: "graph.nil", Message: "workflow graph is nil"})
		result.Valid = false
		return result
	}

	v.checkStructure(graph, result)
	v.checkNodes(graph, result)
	v.checkConnections(graph, result)
	v.scanExpressions(graph, result)

	result.Valid = len(result.Errors) == 0

	v.logger.Debug("graph validated",
		"workflow_id", graph.ID,
		"valid", result.Valid,
		"errors", len(result.Errors),
		"warnings", len(result.Warnings))

	return result
}
