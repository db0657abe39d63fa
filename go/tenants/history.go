package tenants

import (
	"context"
	"fmt"

	"github.com/prismward/prism/go/sqlgen"
)

// historyClient is the slice of the warehouse client the recorder needs.
type historyClient interface {
	Dialect() *sqlgen.Dialect
	Execute(ctx context.Context, stmt string, args ...interface{}) error
}

var historyTable = &sqlgen.Table{
	Relation: sqlgen.Relation{Schema: "prism_meta", Name: "tenant_config_history"},
	Comment:  "Append-only governance log of tenants manifest writes.",
	Columns: []sqlgen.Column{
		{Name: "tenant_slug", Type: sqlgen.STRING, NotNull: true},
		{Name: "operation", Type: sqlgen.STRING, NotNull: true},
		{Name: "status", Type: sqlgen.STRING},
		{Name: "config_yaml", Type: sqlgen.STRING},
		{Name: "changed_at", Type: sqlgen.TIMESTAMP, NotNull: true},
	},
	IfNotExists: true,
}

// WarehouseHistory records manifest changes into the governance table.
type WarehouseHistory struct {
	client historyClient
}

// NewWarehouseHistory creates the governance table if absent and returns
// the recorder.
func NewWarehouseHistory(ctx context.Context, client historyClient) (*WarehouseHistory, error) {
	var d = client.Dialect()
	if err := client.Execute(ctx, d.EnsureSchema(historyTable.Relation.Schema)); err != nil {
		return nil, fmt.Errorf("creating governance schema: %w", err)
	}
	create, err := d.CreateTable(historyTable)
	if err != nil {
		return nil, err
	}
	if err = client.Execute(ctx, create); err != nil {
		return nil, fmt.Errorf("creating governance table: %w", err)
	}
	return &WarehouseHistory{client: client}, nil
}

// RecordConfigChange implements HistoryRecorder.
func (h *WarehouseHistory) RecordConfigChange(ctx context.Context, change ConfigChange) error {
	var d = h.client.Dialect()
	return h.client.Execute(ctx, d.InsertStatement(historyTable),
		change.TenantSlug,
		change.Operation,
		string(change.Status),
		change.ConfigYAML,
		change.ChangedAt.UTC(),
	)
}
