package pipeline

import (
	"container/heap"
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
)

// Compile validates the step set and returns it in execution order.
//
// Edges come from RunsBefore/RunsAfter, from the bootstrap step to every step
// with RequiresPriorState, and from every other step to the terminal step.
// Ready steps are taken in name order, so the result is the same for the same
// set of steps regardless of registration order. The bootstrap step may not
// have predecessors and always comes first.
func Compile(steps []ports.Step) ([]ports.Step, error) {
	byName := make(map[string]ports.Step, len(steps))
	var bootstrap, terminal []string

	for _, st := range steps {
		info := st.Info()
		if strings.TrimSpace(info.Name) == "" {
			return nil, domain.NewEngineError(domain.CodeInvalidStep, fmt.Sprintf("step %T has no name", st), nil)
		}
		if info.Bootstrap && info.Terminal {
			return nil, domain.NewEngineError(domain.CodeInvalidStep,
				fmt.Sprintf("step %s cannot be both bootstrap and terminal", info.Name),
				map[string]any{"step": info.Name})
		}
		if _, dup := byName[info.Name]; dup {
			return nil, domain.NewEngineError(domain.CodeDuplicateStep,
				fmt.Sprintf("step %s registered more than once", info.Name),
				map[string]any{"step": info.Name})
		}
		byName[info.Name] = st
		if info.Bootstrap {
			bootstrap = append(bootstrap, info.Name)
		}
		if info.Terminal {
			terminal = append(terminal, info.Name)
		}
	}

	switch {
	case len(terminal) == 0:
		return nil, domain.NewEngineError(domain.CodeMissingTerminalStep, "no terminal step registered", nil)
	case len(terminal) > 1:
		return nil, domain.NewEngineError(domain.CodeDuplicateTerminalStep,
			"more than one terminal step: "+strings.Join(sorted(terminal), ", "),
			map[string]any{"steps": sorted(terminal)})
	case len(bootstrap) == 0:
		return nil, domain.NewEngineError(domain.CodeMissingBootstrapStep, "no bootstrap step registered", nil)
	case len(bootstrap) > 1:
		return nil, domain.NewEngineError(domain.CodeDuplicateBootstrapStep,
			"more than one bootstrap step: "+strings.Join(sorted(bootstrap), ", "),
			map[string]any{"steps": sorted(bootstrap)})
	}

	g, err := buildGraph(byName, bootstrap[0], terminal[0])
	if err != nil {
		return nil, err
	}

	if preds := g.predecessors(bootstrap[0]); len(preds) > 0 {
		return nil, domain.NewEngineError(domain.CodeInvalidStep,
			fmt.Sprintf("bootstrap step %s must run first, but is ordered after %s", bootstrap[0], strings.Join(preds, ", ")),
			map[string]any{"step": bootstrap[0], "before": preds})
	}

	order, unresolved := g.sort(bootstrap[0])
	if len(unresolved) > 0 {
		return nil, domain.NewEngineError(domain.CodePipelineCycle,
			"cycle or unsatisfiable constraints among: "+strings.Join(unresolved, ", "),
			map[string]any{"unresolved": unresolved})
	}

	out := make([]ports.Step, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}

type graph struct {
	edges    map[string]map[string]struct{}
	indegree map[string]int
}

func buildGraph(byName map[string]ports.Step, bootstrap, terminal string) (*graph, error) {
	g := &graph{
		edges:    make(map[string]map[string]struct{}, len(byName)),
		indegree: make(map[string]int, len(byName)),
	}
	for name := range byName {
		g.edges[name] = make(map[string]struct{})
		g.indegree[name] = 0
	}

	for _, name := range sorted(keys(byName)) {
		info := byName[name].Info()
		for _, next := range info.RunsBefore {
			if _, ok := byName[next]; !ok {
				return nil, unknownReference(name, "runsBefore", next)
			}
			g.add(name, next)
		}
		for _, prev := range info.RunsAfter {
			if _, ok := byName[prev]; !ok {
				return nil, unknownReference(name, "runsAfter", prev)
			}
			g.add(prev, name)
		}
		if info.RequiresPriorState {
			g.add(bootstrap, name)
		}
		if name != terminal {
			g.add(name, terminal)
		}
	}
	return g, nil
}

func unknownReference(step, field, target string) error {
	return domain.NewEngineError(domain.CodeUnknownStepReference,
		fmt.Sprintf("step %s %s unknown step %s", step, field, target),
		map[string]any{"step": step, "field": field, "target": target})
}

// add records from→to. Self edges and duplicates are ignored.
func (g *graph) add(from, to string) {
	if from == to {
		return
	}
	if _, exists := g.edges[from][to]; exists {
		return
	}
	g.edges[from][to] = struct{}{}
	g.indegree[to]++
}

func (g *graph) predecessors(name string) []string {
	var out []string
	for from, tos := range g.edges {
		if _, ok := tos[name]; ok {
			out = append(out, from)
		}
	}
	return sorted(out)
}

// sort runs Kahn's algorithm and returns the order plus any nodes left
// unresolved. first wins every tie so the bootstrap step leads the order.
func (g *graph) sort(first string) ([]string, []string) {
	indegree := make(map[string]int, len(g.indegree))
	ready := &nameHeap{first: first}
	for name, d := range g.indegree {
		indegree[name] = d
		if d == 0 {
			heap.Push(ready, name)
		}
	}

	order := make([]string, 0, len(indegree))
	for ready.Len() > 0 {
		name := heap.Pop(ready).(string)
		order = append(order, name)
		for next := range g.edges[name] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	if len(order) == len(indegree) {
		return order, nil
	}
	var unresolved []string
	for name, d := range indegree {
		if d > 0 {
			unresolved = append(unresolved, name)
		}
	}
	return order, sorted(unresolved)
}

type nameHeap struct {
	names []string
	first string
}

func (h *nameHeap) Len() int { return len(h.names) }

func (h *nameHeap) Less(i, j int) bool {
	a, b := h.names[i], h.names[j]
	if a == h.first || b == h.first {
		return a == h.first
	}
	return a < b
}

func (h *nameHeap) Swap(i, j int) { h.names[i], h.names[j] = h.names[j], h.names[i] }
func (h *nameHeap) Push(x any)    { h.names = append(h.names, x.(string)) }

func (h *nameHeap) Pop() any {
	n := len(h.names)
	x := h.names[n-1]
	h.names = h.names[:n-1]
	return x
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sorted(names []string) []string {
	out := slices.Clone(names)
	slices.Sort(out)
	return out
}
