package validator

import (
	"fmt"

	"github.com/weft-io/weft/internal/domain"
)

// checkConnections verifies both endpoints exist, directions are correct and
// the declared data kinds are compatible.
func (v *Validator) checkConnections(g *domain.WorkflowGraph, result *Result) {
	seen := map[string]bool{}

	for _, c := range g.Connections {
		if c.ID != "" && seen[c.ID] {
			result.addError(Finding{
				Code:    "connection.duplicate_id",
				Message: fmt.Sprintf("duplicate connection id %q", c.ID),
			})
		}
		seen[c.ID] = true

		src, srcOK := g.Nodes[c.SourceNode]
		if !srcOK {
			result.addError(Finding{
				Code:    "connection.endpoint",
				Message: fmt.Sprintf("connection %s references unknown source node %q", c.ID, c.SourceNode),
			})
		}
		dst, dstOK := g.Nodes[c.TargetNode]
		if !dstOK {
			result.addError(Finding{
				Code:    "connection.endpoint",
				Message: fmt.Sprintf("connection %s references unknown target node %q", c.ID, c.TargetNode),
			})
		}
		if !srcOK || !dstOK {
			continue
		}

		srcPort, ok := src.OutputPort(c.SourcePort)
		if !ok {
			// A connection leaving an input port is the same defect as a
			// missing port; report which it is for a sharper message.
			if _, isInput := src.InputPort(c.SourcePort); isInput {
				result.addError(Finding{
					Code:    "connection.direction",
					NodeID:  src.ID,
					Message: fmt.Sprintf("connection %s source port %q is an input port", c.ID, c.SourcePort),
				})
			} else {
				result.addError(Finding{
					Code:    "connection.port",
					NodeID:  src.ID,
					Message: fmt.Sprintf("connection %s references unknown output port %q on node %s", c.ID, c.SourcePort, src.ID),
				})
			}
			continue
		}

		dstPort, ok := dst.InputPort(c.TargetPort)
		if !ok {
			if _, isOutput := dst.OutputPort(c.TargetPort); isOutput {
				result.addError(Finding{
					Code:    "connection.direction",
					NodeID:  dst.ID,
					Message: fmt.Sprintf("connection %s target port %q is an output port", c.ID, c.TargetPort),
				})
			} else {
				result.addError(Finding{
					Code:    "connection.port",
					NodeID:  dst.ID,
					Message: fmt.Sprintf("connection %s references unknown input port %q on node %s", c.ID, c.TargetPort, dst.ID),
				})
			}
			continue
		}

		v.checkKindCompatibility(c, srcPort, dstPort, result)

		if !dstPort.AllowMultiple {
			v.checkSingleInput(g, c, dst.ID, dstPort.Name, result)
		}
	}
}

// checkKindCompatibility treats "any" as compatible with everything and
// object/array as loosely compatible (a warning, not an error).
func (v *Validator) checkKindCompatibility(c domain.Connection, src, dst domain.Port, result *Result) {
	if src.Kind == dst.Kind || src.Kind == domain.PortKindAny || dst.Kind == domain.PortKindAny {
		return
	}

	loose := (src.Kind == domain.PortKindObject && dst.Kind == domain.PortKindArray) ||
		(src.Kind == domain.PortKindArray && dst.Kind == domain.PortKindObject)
	if loose {
		result.addWarning(Finding{
			Code:    "connection.kind",
			NodeID:  c.TargetNode,
			Message: fmt.Sprintf("connection %s joins %s output to %s input; values pass through without conversion", c.ID, src.Kind, dst.Kind),
		})
		return
	}

	result.addError(Finding{
		Code:    "connection.kind",
		NodeID:  c.TargetNode,
		Message: fmt.Sprintf("connection %s joins incompatible kinds: %s output to %s input", c.ID, src.Kind, dst.Kind),
	})
}

func (v *Validator) checkSingleInput(g *domain.WorkflowGraph, c domain.Connection, nodeID, portName string, result *Result) {
	count := 0
	for _, other := range g.Connections {
		if other.Enabled && other.TargetNode == nodeID && other.TargetPort == portName {
			count++
		}
	}
	if count > 1 {
		result.addError(Finding{
			Code:    "connection.multiple",
			NodeID:  nodeID,
			Message: fmt.Sprintf("input port %q does not allow multiple incoming connections but has %d", portName, count),
		})
	}
}
