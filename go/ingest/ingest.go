// Package ingest defines the ingestion boundary of onboarding, plus the
// deterministic synthetic ingestor used by sandbox runs and tests.
package ingest

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/prismward/prism/go/connector"
	"github.com/prismward/prism/go/fingerprint"
	"github.com/prismward/prism/go/scaffold"
	"github.com/prismward/prism/go/sqlgen"
	"github.com/prismward/prism/go/tenants"
	"github.com/prismward/prism/go/warehouse"
)

// Ingestor lands raw rows of a tenant's enabled sources into per-tenant
// landed tables, bounded to |days| of history.
type Ingestor interface {
	Ingest(ctx context.Context, tenant tenants.TenantConfig, days int) error
}

// Synthetic is a deterministic in-process ingestor. It recreates each landed
// table with the catalog column set plus the loader's metadata columns and
// fills it with generated rows, so two runs over the same inputs land
// byte-identical tables.
type Synthetic struct {
	Warehouse *warehouse.Client
	// RowsPerDay is the generated row count per object per day.
	RowsPerDay int
}

func NewSynthetic(wh *warehouse.Client) *Synthetic {
	return &Synthetic{Warehouse: wh, RowsPerDay: 5}
}

// loadID is the synthetic loader's batch id, one per ingested day.
func loadID(day int) string {
	return fmt.Sprintf("1704067200.%04d", day)
}

func (s *Synthetic) Ingest(ctx context.Context, tenant tenants.TenantConfig, days int) error {
	if days <= 0 {
		days = 1
	}
	for _, source := range tenant.EnabledSources() {
		var objects = connector.ObjectsOf(source)
		if len(objects) == 0 {
			return fmt.Errorf("source %s is not in the connector catalog", source)
		}
		for _, object := range objects {
			var entry = connector.Lookup(source, object)
			if entry == nil {
				return fmt.Errorf("catalog entry %s/%s not found", source, object)
			}
			if err := s.landObject(ctx, tenant.Slug, entry, days); err != nil {
				return fmt.Errorf("landing %s/%s for %s: %w", source, object, tenant.Slug, err)
			}
		}
		log.WithFields(log.Fields{
			"tenant": tenant.Slug,
			"source": source,
			"days":   days,
		}).Info("landed synthetic source")
	}
	return nil
}

func (s *Synthetic) landObject(ctx context.Context, tenantSlug string, entry *connector.Entry, days int) error {
	var d = s.Warehouse.Dialect()
	var rel = scaffold.LandedRelation(tenantSlug, entry.Source, entry.Object)
	var table = landedTable(rel, entry)

	if err := s.Warehouse.Execute(ctx, d.EnsureSchema(rel.Schema)); err != nil {
		return err
	}
	if err := s.Warehouse.Execute(ctx, d.DropTable(rel)); err != nil {
		return err
	}
	create, err := d.CreateTable(table)
	if err != nil {
		return err
	}
	if err = s.Warehouse.Execute(ctx, create); err != nil {
		return err
	}

	var insert = d.InsertStatement(table)
	for day := 0; day < days; day++ {
		for row := 0; row < s.RowsPerDay; row++ {
			var seed = uint64(day)*1_000_003 + uint64(row)
			var values = connector.MockRow(entry, seed)
			values = append(values,
				fmt.Sprintf("%016x", seed),
				loadID(day),
				fmt.Sprintf("2024-01-%02dT00:00:00Z", 1+day%28),
			)
			if err := s.Warehouse.Execute(ctx, insert, values...); err != nil {
				return err
			}
		}
	}
	return nil
}

// landedTable declares the landed relation: the catalog columns followed by
// the loader's metadata columns, which fingerprinting ignores.
func landedTable(rel sqlgen.Relation, entry *connector.Entry) *sqlgen.Table {
	var table = &sqlgen.Table{Relation: rel}
	for _, col := range entry.Columns {
		table.Columns = append(table.Columns, sqlgen.Column{
			Name: col.Name,
			Type: landedColumnType(col.Type),
		})
	}
	table.Columns = append(table.Columns,
		sqlgen.Column{Name: "_dlt_id", Type: sqlgen.STRING},
		sqlgen.Column{Name: "_dlt_load_id", Type: sqlgen.STRING},
		sqlgen.Column{Name: "_extracted_at", Type: sqlgen.TIMESTAMP},
	)
	return table
}

func landedColumnType(catalogType string) sqlgen.ColumnType {
	switch fingerprint.NormalizeType(catalogType) {
	case "integer":
		return sqlgen.INTEGER
	case "number":
		return sqlgen.NUMBER
	case "boolean":
		return sqlgen.BOOLEAN
	case "timestamp":
		return sqlgen.TIMESTAMP
	case "date":
		return sqlgen.DATE
	case "json":
		return sqlgen.JSON
	default:
		return sqlgen.STRING
	}
}
