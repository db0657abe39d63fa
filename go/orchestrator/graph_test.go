package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prismward/prism/go/model"
	"github.com/prismward/prism/go/observability"
	"github.com/prismward/prism/go/sqlgen"
)

func node(id string, deps ...string) *model.Model {
	return &model.Model{
		ID:        id,
		Layer:     model.LayerStar,
		Relation:  sqlgen.Relation{Schema: "prism", Name: id},
		SQL:       []string{"SELECT 1;"},
		DependsOn: deps,
	}
}

// recordingRun is an execFunc recording execution order and failing the
// ids in fail.
func recordingRun(fail map[string]bool) (execFunc, func() []string) {
	var mu sync.Mutex
	var order []string
	var run = func(ctx context.Context, m *model.Model) observability.RunResult {
		mu.Lock()
		order = append(order, m.ID)
		mu.Unlock()
		var status = observability.StatusSuccess
		if fail[m.ID] {
			status = observability.StatusError
		}
		return observability.RunResult{ModelID: m.ID, Status: status}
	}
	var snapshot = func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), order...)
	}
	return run, snapshot
}

func TestCompileGraphCycle(t *testing.T) {
	var _, err = compileGraph([]*model.Model{
		node("a", "b"), node("b", "c"), node("c", "a"),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestCompileGraphDuplicateID(t *testing.T) {
	var _, err = compileGraph([]*model.Model{node("a"), node("a")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate")
}

func TestCompileGraphPrunesExternalDeps(t *testing.T) {
	// Dependencies on relations outside the plan (landed tables) do not
	// become edges.
	var g, err = compileGraph([]*model.Model{node("a", "tyrell_corp.shopify_orders")})
	require.NoError(t, err)
	require.Empty(t, g.deps["a"])
	require.Equal(t, []string{"a"}, g.order)
}

func TestTopoOrder(t *testing.T) {
	var g, err = compileGraph([]*model.Model{
		node("stg", "src"), node("src"), node("fct", "int"), node("int", "stg"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"src", "stg", "int", "fct"}, g.order)
}

func TestExecuteRespectsDependencies(t *testing.T) {
	var g, err = compileGraph([]*model.Model{
		node("sink"), node("stg", "sink"), node("int", "stg"), node("fct", "int"),
	})
	require.NoError(t, err)

	var run, snapshot = recordingRun(nil)
	var results = g.execute(context.Background(), 4, false, run)

	require.Equal(t, []string{"sink", "stg", "int", "fct"}, snapshot())
	require.Len(t, results, 4)
	for _, r := range results {
		require.Equal(t, observability.StatusSuccess, r.Status)
	}
}

func TestExecuteFanOut(t *testing.T) {
	var models = []*model.Model{node("a"), node("b"), node("c"), node("d")}
	var g, err = compileGraph(models)
	require.NoError(t, err)

	var mu sync.Mutex
	var running, peak int
	var run = func(ctx context.Context, m *model.Model) observability.RunResult {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return observability.RunResult{ModelID: m.ID, Status: observability.StatusSuccess}
	}

	g.execute(context.Background(), 2, false, run)
	require.LessOrEqual(t, peak, 2)
	require.Greater(t, peak, 0)
}

func TestExecuteFailureSkipsDescendants(t *testing.T) {
	var g, err = compileGraph([]*model.Model{
		node("a"), node("b", "a"), node("c", "b"), node("d"),
	})
	require.NoError(t, err)

	var run, _ = recordingRun(map[string]bool{"b": true})
	var results = g.execute(context.Background(), 1, false, run)

	var byID = make(map[string]observability.RunResult)
	for _, r := range results {
		byID[r.ModelID] = r
	}
	require.Equal(t, observability.StatusSuccess, byID["a"].Status)
	require.Equal(t, observability.StatusError, byID["b"].Status)
	// c never starts; its skip names the upstream cause, not a cancellation.
	require.Equal(t, observability.StatusSkipped, byID["c"].Status)
	require.Contains(t, byID["c"].Message, "upstream")
	// d is independent of the failure and still runs.
	require.Equal(t, observability.StatusSuccess, byID["d"].Status)
}

func TestExecuteFailFastStopsScheduling(t *testing.T) {
	var g, err = compileGraph([]*model.Model{
		node("a"), node("b", "a"), node("c", "a"),
	})
	require.NoError(t, err)

	var run, _ = recordingRun(map[string]bool{"a": true})
	var results = g.execute(context.Background(), 1, true, run)

	var byID = make(map[string]observability.RunResult)
	for _, r := range results {
		byID[r.ModelID] = r
	}
	require.Equal(t, observability.StatusError, byID["a"].Status)
	require.Equal(t, observability.StatusSkipped, byID["b"].Status)
	require.Equal(t, observability.StatusSkipped, byID["c"].Status)
}

func TestExecuteCancellation(t *testing.T) {
	var g, err = compileGraph([]*model.Model{
		node("a"), node("b", "a"), node("c", "b"),
	})
	require.NoError(t, err)

	var ctx, cancel = context.WithCancel(context.Background())
	var run = func(rctx context.Context, m *model.Model) observability.RunResult {
		if m.ID == "a" {
			cancel()
			return observability.RunResult{ModelID: m.ID, Status: observability.StatusCancelled}
		}
		return observability.RunResult{ModelID: m.ID, Status: observability.StatusSuccess}
	}

	var results = g.execute(ctx, 2, false, run)
	var byID = make(map[string]observability.RunResult)
	for _, r := range results {
		byID[r.ModelID] = r
	}
	require.Equal(t, observability.StatusCancelled, byID["a"].Status)
	require.Equal(t, observability.StatusCancelled, byID["b"].Status)
	require.Equal(t, observability.StatusCancelled, byID["c"].Status)
	require.Contains(t, byID["b"].Message, "cancelled")
}

func TestSubgraph(t *testing.T) {
	var stg = node("stg")
	stg.Layer = model.LayerStaging
	var intNode = node("int", "stg")
	intNode.Layer = model.LayerIntermediate
	var fct = node("fct", "int")
	fct.Layer = model.LayerStar

	var g, err = compileGraph([]*model.Model{stg, intNode, fct})
	require.NoError(t, err)

	var sub, err2 = g.subgraph(func(m *model.Model) bool { return m.Layer.IsReporting() })
	require.NoError(t, err2)
	require.Equal(t, []string{"int", "fct"}, sub.order)
	// stg edges are pruned, int becomes a root.
	require.Empty(t, sub.deps["int"])
}
