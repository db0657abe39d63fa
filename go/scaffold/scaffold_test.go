package scaffold_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prismward/prism/go/connector"
	"github.com/prismward/prism/go/ingest"
	"github.com/prismward/prism/go/model"
	"github.com/prismward/prism/go/push"
	"github.com/prismward/prism/go/registry"
	"github.com/prismward/prism/go/scaffold"
	"github.com/prismward/prism/go/tenants"
	"github.com/prismward/prism/go/warehouse"
)

func newScaffolder(t *testing.T, artifactsDir string) (*scaffold.Scaffolder, *warehouse.Client) {
	t.Helper()
	var ctx = context.Background()

	var wh, err = warehouse.Open(warehouse.TargetSandbox, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() })

	reg, err := registry.New(wh)
	require.NoError(t, err)
	require.NoError(t, reg.Initialize(ctx, connector.ListSupported()))

	var tenant = tenants.TenantConfig{
		Slug:    "acme",
		Status:  tenants.StatusOnboarding,
		Sources: []tenants.SourceConfig{{Platform: "shopify", Enabled: true}},
	}
	require.NoError(t, ingest.NewSynthetic(wh).Ingest(ctx, tenant, 1))

	sc, err := scaffold.New(wh, reg, artifactsDir)
	require.NoError(t, err)
	return sc, wh
}

func TestLandedRelation(t *testing.T) {
	var rel = scaffold.LandedRelation("acme", "shopify", "orders")
	require.Equal(t, "acme", rel.Schema)
	require.Equal(t, "shopify_orders", rel.Name)
}

func TestScaffoldShape(t *testing.T) {
	var sc, _ = newScaffolder(t, "")
	var ctx = context.Background()

	var result, err = sc.Scaffold(ctx, "acme", "shopify", "orders")
	require.NoError(t, err)
	require.Equal(t, "shopify_v1_orders", result.MasterModelID)
	require.Len(t, result.Fingerprint, 32)

	// Sink, shim, staging, in build order.
	require.Len(t, result.Models, 3)
	require.Equal(t, model.LayerMaster, result.Models[0].Layer)
	require.Equal(t, "src_acme__shopify_orders", result.Models[1].ID)
	require.Equal(t, "stg_acme__shopify_orders", result.Models[2].ID)
	require.NotNil(t, result.Models[2].PostMerge)
}

func TestScaffoldIsDeterministic(t *testing.T) {
	var sc, _ = newScaffolder(t, "")
	var ctx = context.Background()

	first, err := sc.Scaffold(ctx, "acme", "shopify", "orders")
	require.NoError(t, err)
	second, err := sc.Scaffold(ctx, "acme", "shopify", "orders")
	require.NoError(t, err)

	require.Equal(t, first.Fingerprint, second.Fingerprint)
	for i := range first.Models {
		require.Equal(t, first.Models[i].SQL, second.Models[i].SQL)
	}
}

func TestVerifyWritesNothing(t *testing.T) {
	var artifacts = t.TempDir()
	var sc, wh = newScaffolder(t, artifacts)
	var ctx = context.Background()

	require.NoError(t, sc.Verify(ctx, "acme", "shopify", "orders"))

	// Verification is read-only: no sink, no views, no artifact files.
	exists, err := wh.RelationExists(ctx, push.SinkRelation("shopify_v1_orders"))
	require.NoError(t, err)
	require.False(t, exists)
	entries, err := os.ReadDir(artifacts)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestVerifyUnknownSchema(t *testing.T) {
	var sc, wh = newScaffolder(t, "")
	var ctx = context.Background()

	var rel = scaffold.LandedRelation("acme", "shopify", "orders")
	require.NoError(t, wh.Execute(ctx,
		"ALTER TABLE "+wh.Dialect().QualifyRelation(rel)+" ADD COLUMN surprise TEXT"))

	var err = sc.Verify(ctx, "acme", "shopify", "orders")
	var unknown *scaffold.UnknownSchemaError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "acme", unknown.TenantSlug)
	require.Equal(t, "shopify", unknown.SourcePlatform)
	require.Len(t, unknown.Fingerprint, 32)

	// The nearest blueprint guides the operator to the drift.
	require.NotNil(t, unknown.Closest)
	require.Equal(t, "shopify_v1_orders", unknown.Closest.MasterModelID)
	require.Equal(t, 1, unknown.ClosestDiff)
}

func TestScaffoldPersistsArtifacts(t *testing.T) {
	var artifacts = t.TempDir()
	var sc, _ = newScaffolder(t, artifacts)

	var _, err = sc.Scaffold(context.Background(), "acme", "shopify", "orders")
	require.NoError(t, err)

	// Shared sinks persist under _shared; tenant-owned layers under the
	// tenant directory.
	for _, path := range []string{
		filepath.Join(artifacts, "_shared", "master", "shopify_v1_orders.sql"),
		filepath.Join(artifacts, "acme", "source", "src_acme__shopify_orders.sql"),
		filepath.Join(artifacts, "acme", "staging", "stg_acme__shopify_orders.sql"),
	} {
		var body, err = os.ReadFile(path)
		require.NoError(t, err, path)
		require.NotEmpty(t, body)
	}
}
