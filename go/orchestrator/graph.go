package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/prismward/prism/go/model"
	"github.com/prismward/prism/go/observability"
)

// graph is a compiled model DAG. Dependency ids naming relations outside
// the plan (landed tables) are pruned at compile time; edges exist only
// between planned models.
type graph struct {
	nodes    map[string]*model.Model
	deps     map[string][]string
	children map[string][]string
	// order is a deterministic topological order, used for result output
	// and for seeding the ready set.
	order []string
}

func compileGraph(models []*model.Model) (*graph, error) {
	var g = &graph{
		nodes:    make(map[string]*model.Model, len(models)),
		deps:     make(map[string][]string, len(models)),
		children: make(map[string][]string),
	}
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := g.nodes[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %s", m.ID)
		}
		g.nodes[m.ID] = m
	}
	for id, m := range g.nodes {
		for _, dep := range m.DependsOn {
			if _, planned := g.nodes[dep]; !planned {
				continue
			}
			g.deps[id] = append(g.deps[id], dep)
			g.children[dep] = append(g.children[dep], id)
		}
		sort.Strings(g.deps[id])
	}
	for _, kids := range g.children {
		sort.Strings(kids)
	}
	return g, g.topoSort()
}

// topoSort fills g.order via Kahn's algorithm, failing on cycles.
func (g *graph) topoSort() error {
	var indegree = make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.deps[id])
	}
	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	g.order = g.order[:0]
	for len(ready) > 0 {
		var id = ready[0]
		ready = ready[1:]
		g.order = append(g.order, id)
		var added bool
		for _, child := range g.children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
				added = true
			}
		}
		if added {
			sort.Strings(ready)
		}
	}
	if len(g.order) != len(g.nodes) {
		var stuck []string
		for id, n := range indegree {
			if n > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return fmt.Errorf("model graph has a cycle through %v", stuck)
	}
	return nil
}

// subgraph returns the graph restricted to nodes selected by keep, with
// edges re-pruned.
func (g *graph) subgraph(keep func(*model.Model) bool) (*graph, error) {
	var models []*model.Model
	for _, id := range g.order {
		if keep(g.nodes[id]) {
			models = append(models, g.nodes[id])
		}
	}
	return compileGraph(models)
}

type completion struct {
	id     string
	result observability.RunResult
}

type execFunc func(ctx context.Context, m *model.Model) observability.RunResult

// execute runs the graph with up to fanOut concurrent models. A model runs
// only after all of its in-graph dependencies succeed. When ctx is
// cancelled or failFast trips, no further models start; in-flight models
// drain. Unstarted models receive Cancelled or Skipped results, so every
// node reports exactly one result, in g.order.
func (g *graph) execute(ctx context.Context, fanOut int, failFast bool, run execFunc) []observability.RunResult {
	if fanOut < 1 {
		fanOut = 1
	}
	var sem = semaphore.NewWeighted(int64(fanOut))

	var indegree = make(map[string]int, len(g.nodes))
	var ready []string
	for _, id := range g.order {
		indegree[id] = len(g.deps[id])
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var (
		completions = make(chan completion, len(g.nodes))
		results     = make(map[string]observability.RunResult, len(g.nodes))
		inFlight    = 0
		stopped     = false
		cancelled   = false
	)

	for {
		for !stopped && len(ready) > 0 && sem.TryAcquire(1) {
			var id = ready[0]
			ready = ready[1:]
			inFlight++
			go func(m *model.Model) {
				defer sem.Release(1)
				completions <- completion{id: m.ID, result: run(ctx, m)}
			}(g.nodes[id])
		}
		if inFlight == 0 {
			break
		}

		var c completion
		if stopped {
			c = <-completions
		} else {
			select {
			case c = <-completions:
			case <-ctx.Done():
				stopped, cancelled = true, true
				continue
			}
		}
		inFlight--
		results[c.id] = c.result

		switch c.result.Status {
		case observability.StatusSuccess:
			var added bool
			for _, child := range g.children[c.id] {
				indegree[child]--
				if indegree[child] == 0 {
					ready = append(ready, child)
					added = true
				}
			}
			if added {
				sort.Strings(ready)
			}
		case observability.StatusCancelled:
			stopped, cancelled = true, true
		default:
			if failFast {
				stopped = true
			}
		}
	}

	// Nodes never started: cancelled if the run was stopped, otherwise an
	// upstream failure starved them.
	var now = time.Now().UTC()
	var out = make([]observability.RunResult, 0, len(g.nodes))
	for _, id := range g.order {
		if r, ran := results[id]; ran {
			out = append(out, r)
			continue
		}
		var status = observability.StatusSkipped
		var message = "not run: an upstream model did not succeed"
		if cancelled {
			status = observability.StatusCancelled
			message = "not run: the invocation was cancelled"
		}
		out = append(out, observability.RunResult{
			ModelID:     id,
			Status:      status,
			Message:     message,
			StartedAt:   now,
			CompletedAt: now,
		})
	}
	return out
}
