package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/ade/internal/interp"
	"github.com/roach88/ade/internal/ir"
)

// CycleWarning represents a potential recursion among action scripts. A
// retry action that calls itself under a while guard still terminates, so
// these are never errors.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["fetch", "search", "fetch"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on the script call graph.
//
// The algorithm:
//  1. Build action → called action edges from script steps whose head
//     names another definition, and from conditions naming one
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle warning
//
// A DAG (no cycles) returns an empty warning list.
func AnalyzeCycles(defs []ir.ActionDef) []CycleWarning {
	graph := buildCallGraph(defs)

	sccs := tarjanSCC(graph)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// callGraph maps an action type to the types its script may start.
type callGraph map[string][]string

func buildCallGraph(defs []ir.ActionDef) callGraph {
	names := make(map[string]string, len(defs))
	for _, d := range defs {
		names[ir.FoldName(d.Type)] = d.Type
	}

	graph := make(callGraph)
	for _, d := range defs {
		graph[d.Type] = []string{}
		seen := make(map[string]bool)
		link := func(tok string) {
			callee, ok := names[ir.FoldName(tok)]
			if ok && !seen[callee] {
				seen[callee] = true
				graph[d.Type] = append(graph[d.Type], callee)
			}
		}
		for _, ev := range d.Events {
			if len(ev) == 0 {
				continue
			}
			switch head := ir.FoldName(ev[0]); {
			case !interp.IsKeyword(head):
				link(ev[0])
			case (head == "if" || head == "elseif" || head == "while") && len(ev) == 2:
				link(ev[1])
			}
		}
	}
	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph callGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so the result is deterministic.
func tarjanSCC(graph callGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

func cycleSCCToWarning(scc []string, graph callGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Action calls itself: %s → %s", name, name),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential recursion detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath starts at the first SCC member and follows edges to
// other members until it returns to the start.
func reconstructCyclePath(scc []string, graph callGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
