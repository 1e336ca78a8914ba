package validator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	dgraph "github.com/dominikbraun/graph"

	"github.com/weft-io/weft/internal/domain"
)

// checkStructure verifies acyclicity (loop-category nodes exempt),
// reachability from trigger nodes, and node-count / depth ceilings.
func (v *Validator) checkStructure(g *domain.WorkflowGraph, result *Result) {
	if len(g.Nodes) == 0 {
		result.addError(Finding{Code: "graph.empty", Message: "workflow has no nodes"})
		return
	}

	if len(g.Nodes) > v.limits.MaxNodes {
		result.addError(Finding{
			Code:    "graph.too_large",
			Message: fmt.Sprintf("workflow has %d nodes, limit is %d", len(g.Nodes), v.limits.MaxNodes),
		})
	}

	triggers := g.TriggerNodes()
	if len(triggers) == 0 {
		result.addError(Finding{Code: "graph.no_trigger", Message: "workflow has no trigger node"})
	}

	v.checkCycles(g, result)
	v.checkReachability(g, triggers, result)
	v.checkDepth(g, triggers, result)
}

// checkCycles builds a cycle-rejecting directed graph from every edge that
// does not touch a loop-category node. The first edge that would close a
// cycle is reported with the offending node sequence.
func (v *Validator) checkCycles(g *domain.WorkflowGraph, result *Result) {
	dg := dgraph.New(dgraph.StringHash, dgraph.Directed(), dgraph.PreventCycles())

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		_ = dg.AddVertex(id)
	}

	adjacency := map[string][]string{}
	for _, c := range g.Connections {
		if !c.Enabled {
			continue
		}
		src, srcOK := g.Nodes[c.SourceNode]
		dst, dstOK := g.Nodes[c.TargetNode]
		if !srcOK || !dstOK {
			// Dangling endpoints are reported by the connection checks.
			continue
		}
		if src.Type.IsLoop() || dst.Type.IsLoop() {
			continue
		}

		if err := dg.AddEdge(c.SourceNode, c.TargetNode); err != nil {
			if errors.Is(err, dgraph.ErrEdgeCreatesCycle) {
				cycle := findPath(adjacency, c.TargetNode, c.SourceNode)
				cycle = append(cycle, c.TargetNode)
				result.addError(Finding{
					Code:    "graph.cycle",
					NodeID:  c.SourceNode,
					Message: "cycle detected: " + strings.Join(cycle, " -> "),
				})
				return
			}
			if !errors.Is(err, dgraph.ErrEdgeAlreadyExists) {
				result.addError(Finding{
					Code:    "graph.edge",
					NodeID:  c.SourceNode,
					Message: fmt.Sprintf("connection %s rejected: %v", c.ID, err),
				})
			}
			continue
		}
		adjacency[c.SourceNode] = append(adjacency[c.SourceNode], c.TargetNode)
	}
}

// findPath walks the already-accepted edges from start to goal so a detected
// cycle can be named node by node.
func findPath(adjacency map[string][]string, start, goal string) []string {
	type frame struct {
		node string
		path []string
	}

	visited := map[string]bool{start: true}
	stack := []frame{{node: start, path: []string{start}}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.node == goal {
			return f.path
		}
		for _, next := range adjacency[f.node] {
			if visited[next] {
				continue
			}
			visited[next] = true
			path := make([]string, len(f.path), len(f.path)+1)
			copy(path, f.path)
			stack = append(stack, frame{node: next, path: append(path, next)})
		}
	}
	return []string{start, goal}
}

// checkReachability flags nodes unreachable from every trigger as errors and
// triggers that cannot reach a terminal node as warnings.
func (v *Validator) checkReachability(g *domain.WorkflowGraph, triggers []*domain.Node, result *Result) {
	if len(triggers) == 0 {
		return
	}

	reachable := map[string]bool{}
	var queue []string
	for _, t := range triggers {
		reachable[t.ID] = true
		queue = append(queue, t.ID)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range g.OutgoingConnections(id) {
			if reachable[c.TargetNode] {
				continue
			}
			if _, ok := g.Nodes[c.TargetNode]; !ok {
				continue
			}
			reachable[c.TargetNode] = true
			queue = append(queue, c.TargetNode)
		}
	}

	for id, n := range g.Nodes {
		if n.Type.IsTrigger() {
			continue
		}
		if !reachable[id] {
			result.addError(Finding{
				Code:    "graph.orphan",
				NodeID:  id,
				Message: "node is not reachable from any trigger",
			})
		}
	}

	terminals := map[string]bool{}
	for _, t := range g.TerminalNodes() {
		terminals[t.ID] = true
	}

	for _, t := range triggers {
		if !v.canReachTerminal(g, t.ID, terminals) {
			result.addWarning(Finding{
				Code:    "graph.dead_end",
				NodeID:  t.ID,
				Message: "trigger cannot reach any terminal node",
			})
		}
	}
}

func (v *Validator) canReachTerminal(g *domain.WorkflowGraph, start string, terminals map[string]bool) bool {
	visited := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if terminals[id] {
			return true
		}
		for _, c := range g.OutgoingConnections(id) {
			if !visited[c.TargetNode] {
				visited[c.TargetNode] = true
				queue = append(queue, c.TargetNode)
			}
		}
	}
	return false
}

// checkDepth measures the longest simple path from any trigger, ignoring
// edges that touch loop nodes so loop back-edges do not inflate the result.
func (v *Validator) checkDepth(g *domain.WorkflowGraph, triggers []*domain.Node, result *Result) {
	memo := map[string]int{}
	onStack := map[string]bool{}

	var depthFrom func(id string) int
	depthFrom = func(id string) int {
		if d, ok := memo[id]; ok {
			return d
		}
		if onStack[id] {
			return 0
		}
		onStack[id] = true
		defer delete(onStack, id)

		max := 0
		node := g.Nodes[id]
		for _, c := range g.OutgoingConnections(id) {
			dst, ok := g.Nodes[c.TargetNode]
			if !ok {
				continue
			}
			if node != nil && node.Type.IsLoop() && dst.Type.IsLoop() {
				continue
			}
			if d := depthFrom(c.TargetNode); d > max {
				max = d
			}
		}
		memo[id] = max + 1
		return max + 1
	}

	deepest := 0
	for _, t := range triggers {
		if d := depthFrom(t.ID); d > deepest {
			deepest = d
		}
	}

	if deepest > v.limits.MaxDepth {
		result.addError(Finding{
			Code:    "graph.too_deep",
			Message: fmt.Sprintf("workflow depth %d exceeds limit of %d", deepest, v.limits.MaxDepth),
		})
	} else if deepest > v.limits.RecommendedDepth {
		result.addWarning(Finding{
			Code:    "graph.deep",
			Message: fmt.Sprintf("workflow depth %d exceeds recommended depth of %d", deepest, v.limits.RecommendedDepth),
		})
	}
}
