package domain

import (
	"time"

	"github.com/goccy/go-json"
)

type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusPaused   WorkflowStatus = "paused"
	WorkflowStatusDisabled WorkflowStatus = "disabled"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

type FailurePolicy string

const (
	FailurePolicyFailFast FailurePolicy = "fail_fast"
	FailurePolicyContinue FailurePolicy = "continue"
)

// ExecutionLimits bound a single run of the graph. Zero values fall back to
// engine defaults.
type ExecutionLimits struct {
	MaxDuration    time.Duration `json:"max_duration,omitempty"`
	MaxOperations  int           `json:"max_operations,omitempty"`
	MaxParallelism int           `json:"max_parallelism,omitempty"`
	MaxLoopDepth   int           `json:"max_loop_depth,omitempty"`
	FailurePolicy  FailurePolicy `json:"failure_policy,omitempty"`
	// ParallelAbortSiblings cancels sibling branches as soon as one branch
	// fails; the default lets siblings finish before the execution fails.
	ParallelAbortSiblings bool `json:"parallel_abort_siblings,omitempty"`
}

// WorkflowGraph is the aggregate a workflow author produces. The engine
// reads a snapshot and never mutates it; updates take effect only for
// executions started afterwards.
type WorkflowGraph struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Version     int                    `json:"version"`
	Status      WorkflowStatus         `json:"status"`
	Limits      ExecutionLimits        `json:"limits,omitempty"`
	Nodes       map[string]*Node       `json:"nodes"`
	Connections []Connection           `json:"connections"`
	Variables   map[string]interface{} `json:"variables,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at,omitempty"`
}

func (g *WorkflowGraph) Node(id string) (*Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

func (g *WorkflowGraph) TriggerNodes() []*Node {
	var triggers []*Node
	for _, n := range g.Nodes {
		if n.Type.IsTrigger() {
			triggers = append(triggers, n)
		}
	}
	return triggers
}

func (g *WorkflowGraph) TerminalNodes() []*Node {
	var terminals []*Node
	for _, n := range g.Nodes {
		if n.Type == NodeTypeEnd {
			terminals = append(terminals, n)
			continue
		}
		if len(g.OutgoingConnections(n.ID)) == 0 {
			terminals = append(terminals, n)
		}
	}
	return terminals
}

// OutgoingConnections returns enabled connections leaving the node, in
// declaration order.
func (g *WorkflowGraph) OutgoingConnections(nodeID string) []Connection {
	var out []Connection
	for _, c := range g.Connections {
		if c.SourceNode == nodeID && c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

// OutgoingFromPort narrows OutgoingConnections to a single source port.
func (g *WorkflowGraph) OutgoingFromPort(nodeID, port string) []Connection {
	var out []Connection
	for _, c := range g.Connections {
		if c.SourceNode == nodeID && c.SourcePort == port && c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

func (g *WorkflowGraph) IncomingConnections(nodeID string) []Connection {
	var in []Connection
	for _, c := range g.Connections {
		if c.TargetNode == nodeID && c.Enabled {
			in = append(in, c)
		}
	}
	return in
}

// Clone deep-copies the graph through its JSON representation. The engine
// snapshots the graph this way before an execution starts.
func (g *WorkflowGraph) Clone() (*WorkflowGraph, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, Error{
			Type:    ErrorTypeInternal,
			Message: "failed to snapshot workflow graph",
			Details: map[string]interface{}{"workflow_id": g.ID},
			Cause:   err,
		}
	}
	var clone WorkflowGraph
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, Error{
			Type:    ErrorTypeInternal,
			Message: "failed to restore workflow graph snapshot",
			Details: map[string]interface{}{"workflow_id": g.ID},
			Cause:   err,
		}
	}
	return &clone, nil
}

// MarshalGraph serializes the graph to its external JSON representation.
func MarshalGraph(g *WorkflowGraph) ([]byte, error) {
	return json.Marshal(g)
}

// UnmarshalGraph restores a graph from its external JSON representation.
// Round-tripping preserves nodes, connections and metadata exactly.
func UnmarshalGraph(data []byte) (*WorkflowGraph, error) {
	var g WorkflowGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, Error{
			Type:    ErrorTypeValidation,
			Message: "malformed workflow graph document",
			Cause:   err,
		}
	}
	if g.Nodes == nil {
		g.Nodes = map[string]*Node{}
	}
	return &g, nil
}
