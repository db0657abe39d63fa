// Package push implements the push circuit: the 7-column master sink
// contract, the per-tenant staging projection into it, and the idempotent
// after-create merge which hydrates the sink.
package push

import (
	"encoding/json"
	"fmt"

	"github.com/prismward/prism/go/fingerprint"
	"github.com/prismward/prism/go/model"
	"github.com/prismward/prism/go/sqlgen"
)

// MasterSchema holds the shared multi-tenant master sinks.
const MasterSchema = "prism_master"

// AnalyticsSchema holds all generated per-tenant models.
const AnalyticsSchema = "prism"

// ContractColumns is the 7-column master contract, in declared order. Any
// deviation in a sink is fatal.
var ContractColumns = []sqlgen.Column{
	{Name: "tenant_slug", Type: sqlgen.STRING, NotNull: true,
		Comment: "Owning tenant. Every read of a master sink filters on this column."},
	{Name: "tenant_skey", Type: sqlgen.STRING, NotNull: true,
		Comment: "Deterministic surrogate hash of tenant_slug."},
	{Name: "source_platform", Type: sqlgen.STRING, NotNull: true},
	{Name: "source_schema_hash", Type: sqlgen.STRING, NotNull: true,
		Comment: "Fingerprint of the landed source schema at push time."},
	{Name: "source_schema", Type: sqlgen.JSON,
		Comment: "Column-name to normalized-type map of the landed schema."},
	{Name: "raw_data_payload", Type: sqlgen.JSON,
		Comment: "Full original record, packaged as JSON."},
	{Name: "loaded_at", Type: sqlgen.TIMESTAMP, NotNull: true,
		Comment: "Wall clock at push execution."},
}

// mergeMatchColumns and mergeHashColumns form the push-circuit match key:
// (tenant_slug, source_platform, payload content hash).
var mergeMatchColumns = []string{"tenant_slug", "source_platform"}
var mergeHashColumns = []string{"raw_data_payload"}

// SinkRelation locates the master sink of a master model id.
func SinkRelation(masterModelID string) sqlgen.Relation {
	return sqlgen.Relation{Schema: MasterSchema, Name: masterModelID}
}

// SinkTable describes the master sink table of a master model id. The sink
// is a logic-free shell: no refs, no joins, hydrated only by merges.
func SinkTable(masterModelID string) *sqlgen.Table {
	var columns = make([]sqlgen.Column, len(ContractColumns))
	copy(columns, ContractColumns)
	return &sqlgen.Table{
		Relation:    SinkRelation(masterModelID),
		IfNotExists: true,
		Comment: "Append-only multi-tenant master sink. Created empty and idempotently;\n" +
			"never dropped or recreated by the pipeline.",
		Columns: columns,
	}
}

// SinkModel returns the materialization unit ensuring a master sink exists.
// The create is IF NOT EXISTS and the model never drops: recreating a sink
// would silently discard history.
func SinkModel(d *sqlgen.Dialect, masterModelID string) (*model.Model, error) {
	var table = SinkTable(masterModelID)
	var create, err = d.CreateTable(table)
	if err != nil {
		return nil, fmt.Errorf("rendering master sink %s: %w", masterModelID, err)
	}
	var stmts []string
	if ensure := d.EnsureSchema(MasterSchema); ensure != "" {
		stmts = append(stmts, ensure)
	}
	stmts = append(stmts, create)

	return &model.Model{
		ID:       masterModelID,
		Layer:    model.LayerMaster,
		Relation: table.Relation,
		SQL:      stmts,
		Tags:     []string{"master"},
	}, nil
}

// ValidateSinkColumns checks a described sink against the 7-column contract.
func ValidateSinkColumns(described []fingerprint.NamedType) error {
	if len(described) != len(ContractColumns) {
		return fmt.Errorf("master sink has %d columns, contract requires %d",
			len(described), len(ContractColumns))
	}
	for i, col := range ContractColumns {
		if described[i].Name != col.Name {
			return fmt.Errorf("master sink column %d is %q, contract requires %q",
				i, described[i].Name, col.Name)
		}
	}
	return nil
}

// StagingSpec is everything needed to build one staging view and its push
// hook.
type StagingSpec struct {
	TenantSlug     string
	SourcePlatform string
	Object         string
	// MasterModelID routes the push to its sink.
	MasterModelID string
	// SchemaHash is the landed table's fingerprint.
	SchemaHash string
	// LandedColumns are the described columns of the landed table, in
	// engine order. All of them package into raw_data_payload.
	LandedColumns []fingerprint.NamedType
	// ShimRelation is the source shim the view selects from.
	ShimRelation sqlgen.Relation
}

// StagingID is the model id stg_{tenant}__{source}_{object}.
func StagingID(tenant, source, object string) string {
	return fmt.Sprintf("stg_%s__%s_%s", tenant, source, object)
}

// StagingModel builds the staging view model: a row-by-row projection of the
// landed table into the 7-column contract, with the merge wired as an
// after-create hook. The hook must not run at build time; the merge reads
// the view it follows.
func StagingModel(d *sqlgen.Dialect, spec *StagingSpec) (*model.Model, error) {
	var id = StagingID(spec.TenantSlug, spec.SourcePlatform, spec.Object)
	var rel = sqlgen.Relation{Schema: AnalyticsSchema, Name: id}

	var schemaJSON, err = json.Marshal(schemaMap(spec.LandedColumns))
	if err != nil {
		return nil, fmt.Errorf("encoding source schema of %s: %w", id, err)
	}

	var payloadPairs []sqlgen.JSONPair
	for _, col := range spec.LandedColumns {
		payloadPairs = append(payloadPairs, sqlgen.JSONPair{
			Key:  col.Name,
			Expr: d.Identifier(col.Name),
		})
	}

	var sel = sqlgen.Select{
		From: spec.ShimRelation,
		Columns: []sqlgen.SelectColumn{
			{Expr: d.QuoteString(spec.TenantSlug), Alias: "tenant_slug"},
			{Expr: d.QuoteString(fingerprint.TenantKey(spec.TenantSlug)), Alias: "tenant_skey"},
			{Expr: d.QuoteString(spec.SourcePlatform), Alias: "source_platform"},
			{Expr: d.QuoteString(spec.SchemaHash), Alias: "source_schema_hash"},
			{Expr: d.QuoteString(string(schemaJSON)), Alias: "source_schema"},
			{Expr: d.JSONObject(d, payloadPairs), Alias: "raw_data_payload"},
			{Expr: d.CurrentTimestamp, Alias: "loaded_at"},
		},
	}

	var sink = SinkTable(spec.MasterModelID)
	return &model.Model{
		ID:       id,
		Layer:    model.LayerStaging,
		Tenant:   spec.TenantSlug,
		Relation: rel,
		SQL: []string{
			d.DropView(rel),
			d.CreateView(rel, sel.Render(d)),
		},
		PostMerge: &sqlgen.MergeSpec{
			Target:        sink.Relation,
			Source:        rel,
			MatchColumns:  mergeMatchColumns,
			HashColumns:   mergeHashColumns,
			InsertColumns: sink.ColumnNames(),
		},
		DependsOn: []string{
			ShimID(spec.TenantSlug, spec.SourcePlatform, spec.Object),
			spec.MasterModelID,
		},
		Tags: []string{"staging", spec.SourcePlatform},
	}, nil
}

// ShimID is the model id src_{tenant}__{source}_{object}.
func ShimID(tenant, source, object string) string {
	return fmt.Sprintf("src_%s__%s_%s", tenant, source, object)
}

// ShimModel builds the passthrough source shim over a landed table.
func ShimModel(d *sqlgen.Dialect, tenant, source, object string, landed sqlgen.Relation) *model.Model {
	var id = ShimID(tenant, source, object)
	var rel = sqlgen.Relation{Schema: AnalyticsSchema, Name: id}
	var body = "SELECT * FROM " + d.QualifyRelation(landed)
	return &model.Model{
		ID:       id,
		Layer:    model.LayerSource,
		Tenant:   tenant,
		Relation: rel,
		SQL: []string{
			d.DropView(rel),
			d.CreateView(rel, body),
		},
		Tags: []string{"source", source},
	}
}

func schemaMap(columns []fingerprint.NamedType) map[string]string {
	var out = make(map[string]string, len(columns))
	for _, col := range columns {
		out[col.Name] = fingerprint.NormalizeType(col.Type)
	}
	return out
}
