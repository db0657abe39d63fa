package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prismward/prism/go/connector"
	"github.com/prismward/prism/go/fingerprint"
	"github.com/prismward/prism/go/scaffold"
	"github.com/prismward/prism/go/tenants"
	"github.com/prismward/prism/go/warehouse"
)

func openSandbox(t *testing.T) *warehouse.Client {
	t.Helper()
	var wh, err = warehouse.Open(warehouse.TargetSandbox, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() })
	return wh
}

func shopifyTenant() tenants.TenantConfig {
	return tenants.TenantConfig{
		Slug:   "acme",
		Status: tenants.StatusOnboarding,
		Sources: []tenants.SourceConfig{
			{Platform: "shopify", Enabled: true},
			{Platform: "klaviyo", Enabled: false},
		},
	}
}

func TestIngestLandsAllObjects(t *testing.T) {
	var wh = openSandbox(t)
	var ctx = context.Background()

	require.NoError(t, NewSynthetic(wh).Ingest(ctx, shopifyTenant(), 3))

	for _, object := range connector.ObjectsOf("shopify") {
		var rel = scaffold.LandedRelation("acme", "shopify", object)
		var exists, err = wh.RelationExists(ctx, rel)
		require.NoError(t, err)
		require.True(t, exists, object)

		var n int
		var row = wh.QueryRow(ctx, "SELECT COUNT(*) FROM "+wh.Dialect().QualifyRelation(rel))
		require.NoError(t, row.Scan(&n))
		require.Equal(t, 15, n, object)
	}

	// Disabled sources never land.
	exists, err := wh.RelationExists(ctx, scaffold.LandedRelation("acme", "klaviyo", "campaigns"))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestIngestZeroDaysLandsOne(t *testing.T) {
	var wh = openSandbox(t)
	var ctx = context.Background()

	require.NoError(t, NewSynthetic(wh).Ingest(ctx, shopifyTenant(), 0))

	var rel = scaffold.LandedRelation("acme", "shopify", "orders")
	var n int
	var row = wh.QueryRow(ctx, "SELECT COUNT(*) FROM "+wh.Dialect().QualifyRelation(rel))
	require.NoError(t, row.Scan(&n))
	require.Equal(t, 5, n)
}

func TestIngestIsDeterministic(t *testing.T) {
	var ctx = context.Background()
	var rel = scaffold.LandedRelation("acme", "shopify", "orders")

	var land = func() []string {
		var wh = openSandbox(t)
		require.NoError(t, NewSynthetic(wh).Ingest(ctx, shopifyTenant(), 2))
		var rows, err = wh.Query(ctx,
			"SELECT id, total_price, _dlt_load_id FROM "+wh.Dialect().QualifyRelation(rel)+" ORDER BY _dlt_id")
		require.NoError(t, err)
		defer rows.Close()
		var out []string
		for rows.Next() {
			var id, load string
			var price float64
			require.NoError(t, rows.Scan(&id, &price, &load))
			out = append(out, id+"|"+load)
		}
		require.NoError(t, rows.Err())
		return out
	}

	var first = land()
	require.Len(t, first, 10)
	require.Equal(t, first, land())
}

func TestIngestLoadIDPerDay(t *testing.T) {
	var wh = openSandbox(t)
	var ctx = context.Background()

	require.NoError(t, NewSynthetic(wh).Ingest(ctx, shopifyTenant(), 2))

	var rel = scaffold.LandedRelation("acme", "shopify", "orders")
	var rows, err = wh.Query(ctx,
		"SELECT DISTINCT _dlt_load_id FROM "+wh.Dialect().QualifyRelation(rel)+" ORDER BY _dlt_load_id")
	require.NoError(t, err)
	defer rows.Close()

	var loads []string
	for rows.Next() {
		var load string
		require.NoError(t, rows.Scan(&load))
		loads = append(loads, load)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{"1704067200.0000", "1704067200.0001"}, loads)
}

func TestLandedSchemaMatchesCatalogFingerprint(t *testing.T) {
	var wh = openSandbox(t)
	var ctx = context.Background()

	require.NoError(t, NewSynthetic(wh).Ingest(ctx, shopifyTenant(), 1))

	// The landed table fingerprints to the published blueprint: metadata
	// columns are excluded, type spellings normalize.
	var entry = connector.Lookup("shopify", "orders")
	require.NotNil(t, entry)

	var described, err = wh.Describe(ctx, scaffold.LandedRelation("acme", "shopify", "orders"))
	require.NoError(t, err)
	var observed = make([]fingerprint.NamedType, len(described))
	for i, col := range described {
		observed[i] = fingerprint.NamedType{Name: col.Name, Type: col.Type}
	}
	require.Equal(t, fingerprint.Fingerprint(entry.Columns), fingerprint.Fingerprint(observed))
}

func TestIngestUnknownSource(t *testing.T) {
	var wh = openSandbox(t)
	var tenant = tenants.TenantConfig{
		Slug:    "acme",
		Status:  tenants.StatusOnboarding,
		Sources: []tenants.SourceConfig{{Platform: "telepathy", Enabled: true}},
	}
	require.Error(t, NewSynthetic(wh).Ingest(context.Background(), tenant, 1))
}
