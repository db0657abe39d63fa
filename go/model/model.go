// Package model defines the unit of materialization scheduled by the
// orchestrator: a named artifact with create statements, dependency edges,
// and an optional after-create merge hook.
package model

import (
	"fmt"
	"sort"

	"github.com/prismward/prism/go/sqlgen"
)

// Layer places a model within the pipeline's dataflow.
type Layer string

const (
	// LayerSource is a passthrough shim over a landed table.
	LayerSource Layer = "source"
	// LayerStaging is a per-tenant projection into the master contract.
	LayerStaging Layer = "staging"
	// LayerMaster is a multi-tenant append-only sink.
	LayerMaster Layer = "master"
	// LayerIntermediate is a tenant-scoped typed extraction of a sink.
	LayerIntermediate Layer = "intermediate"
	// LayerStar is a final fact or dimension table.
	LayerStar Layer = "star"
)

// reportingLayers are rebuilt by the second materialization pass.
var reportingLayers = map[Layer]struct{}{
	LayerIntermediate: {},
	LayerStar:         {},
}

// IsReporting reports whether the layer belongs to the reporting subtree.
func (l Layer) IsReporting() bool {
	var _, ok = reportingLayers[l]
	return ok
}

// Model is one materialization unit.
type Model struct {
	// ID is the unique node id, which is also the relation name.
	ID string
	// Layer of the model.
	Layer Layer
	// Tenant owning the model; empty for shared master sinks.
	Tenant string
	// Relation materialized by the model.
	Relation sqlgen.Relation
	// SQL statements creating (or recreating) the relation, in order.
	SQL []string
	// PostMerge is the push hook fired after the SQL completes. It must run
	// after view creation since the merge reads the created view.
	PostMerge *sqlgen.MergeSpec
	// DependsOn lists node ids which must materialize first.
	DependsOn []string
	// Tags annotate the model for observability.
	Tags []string
}

// Validate checks model shape.
func (m *Model) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("model is missing an id")
	}
	if len(m.SQL) == 0 {
		return fmt.Errorf("model %s has no statements", m.ID)
	}
	for _, dep := range m.DependsOn {
		if dep == m.ID {
			return fmt.Errorf("model %s depends on itself", m.ID)
		}
	}
	return nil
}

// SortModels orders models by id, for deterministic artifact output.
func SortModels(models []*Model) {
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
}
