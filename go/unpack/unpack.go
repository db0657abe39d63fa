// Package unpack generates intermediate models: tenant and source scoped
// tables which extract typed columns from a master sink's raw_data_payload.
// This is the sole locus of JSON-to-typed extraction; engines downstream
// consume only typed rows.
package unpack

import (
	"fmt"

	"github.com/prismward/prism/go/model"
	"github.com/prismward/prism/go/push"
	"github.com/prismward/prism/go/sqlgen"
)

// Spec extracts one typed column from the payload.
type Spec struct {
	// JSONKey within raw_data_payload.
	JSONKey string
	// Alias of the projected column. Defaults to JSONKey.
	Alias string
	// CastTo is the target type of the extraction.
	CastTo sqlgen.ColumnType
	// KeepAsJSON preserves nested structure instead of casting to text.
	KeepAsJSON bool
	// Expression overrides extraction entirely with a computed column.
	// The placeholder %s expands to the payload extraction of JSONKey.
	Expression string
}

func (s *Spec) alias() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.JSONKey
}

// IntermediateID is the model id int_{tenant}__{source}_{object}.
func IntermediateID(tenant, source, object string) string {
	return fmt.Sprintf("int_%s__%s_%s", tenant, source, object)
}

// IntermediateRelation locates the materialized intermediate table.
func IntermediateRelation(tenant, source, object string) sqlgen.Relation {
	return sqlgen.Relation{Schema: push.AnalyticsSchema, Name: IntermediateID(tenant, source, object)}
}

// BuildModel renders the intermediate model of one (tenant, source, object).
// The table is fully rebuilt on every reporting pass: passthrough columns,
// one typed column per spec, payload last, filtered to the owning tenant and
// source platform.
func BuildModel(d *sqlgen.Dialect, tenant, source, object, masterModelID string, specs []Spec) (*model.Model, error) {
	var rel = IntermediateRelation(tenant, source, object)
	var payload = d.Identifier("raw_data_payload")

	var sel = sqlgen.Select{
		From: push.SinkRelation(masterModelID),
		Columns: []sqlgen.SelectColumn{
			{Expr: d.Identifier("tenant_slug"), Alias: "tenant_slug"},
			{Expr: d.Identifier("source_platform"), Alias: "source_platform"},
			{Expr: d.Identifier("tenant_skey"), Alias: "tenant_skey"},
			{Expr: d.Identifier("loaded_at"), Alias: "loaded_at"},
		},
		Where: []string{
			fmt.Sprintf("%s = %s", d.Identifier("tenant_slug"), d.QuoteString(tenant)),
			fmt.Sprintf("%s = %s", d.Identifier("source_platform"), d.QuoteString(source)),
		},
	}

	for _, spec := range specs {
		var expr string
		switch {
		case spec.Expression != "":
			expr = fmt.Sprintf(spec.Expression, d.JSONExtractText(d, payload, spec.JSONKey))
		case spec.KeepAsJSON:
			expr = d.JSONExtractJSON(d, payload, spec.JSONKey)
		default:
			var cast, err = d.CastExpr(d.JSONExtractText(d, payload, spec.JSONKey), spec.CastTo)
			if err != nil {
				return nil, fmt.Errorf("intermediate %s column %s: %w", rel.Name, spec.alias(), err)
			}
			expr = cast
		}
		sel.Columns = append(sel.Columns, sqlgen.SelectColumn{Expr: expr, Alias: spec.alias()})
	}

	// Payload rides last so typed columns stay stable as specs grow.
	sel.Columns = append(sel.Columns, sqlgen.SelectColumn{Expr: payload, Alias: "raw_data_payload"})

	return &model.Model{
		ID:       rel.Name,
		Layer:    model.LayerIntermediate,
		Tenant:   tenant,
		Relation: rel,
		SQL: []string{
			d.DropTable(rel),
			d.CreateTableAs(rel, sel.Render(d)),
		},
		DependsOn: []string{masterModelID},
		Tags:      []string{"intermediate", source},
	}, nil
}
