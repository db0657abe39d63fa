package tenants

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	var s, err = Open(filepath.Join(t.TempDir(), "tenants.yaml"))
	require.NoError(t, err)
	return s
}

func tyrell() TenantConfig {
	return TenantConfig{
		Slug:         "tyrell_corp",
		BusinessName: "Tyrell Corp",
		Status:       StatusOnboarding,
		Sources: []SourceConfig{
			{Platform: "facebook_ads", Enabled: true},
			{Platform: "shopify", Enabled: true},
			{Platform: "google_analytics", Enabled: true, Logic: Logic{
				ConversionEvents: []string{"purchase"},
				FunnelSteps:      []string{"view_item", "add_to_cart", "purchase"},
			}},
			{Platform: "klaviyo", Enabled: false},
		},
	}
}

func TestOpenMissingManifest(t *testing.T) {
	var s = tempStore(t)
	require.Empty(t, s.List())
}

func TestUpsertPreservesOrder(t *testing.T) {
	var s = tempStore(t)
	var ctx = context.Background()

	require.NoError(t, s.Upsert(ctx, TenantConfig{Slug: "zeta", Status: StatusOnboarding}))
	require.NoError(t, s.Upsert(ctx, TenantConfig{Slug: "alpha", Status: StatusOnboarding}))
	require.NoError(t, s.Upsert(ctx, TenantConfig{Slug: "zeta", Status: StatusActive}))

	var list = s.List()
	require.Len(t, list, 2)
	require.Equal(t, "zeta", list[0].Slug)
	require.Equal(t, StatusActive, list[0].Status)
	require.Equal(t, "alpha", list[1].Slug)
}

func TestPersistenceRoundTrip(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "tenants.yaml")
	var ctx = context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, tyrell()))

	reopened, err := Open(path)
	require.NoError(t, err)

	got, err := reopened.Get("tyrell_corp")
	require.NoError(t, err)
	require.Equal(t, tyrell(), got)
}

func TestEnabledSourcesOrder(t *testing.T) {
	var cfg = tyrell()
	require.Equal(t,
		[]string{"facebook_ads", "shopify", "google_analytics"},
		cfg.EnabledSources())
}

func TestSourceLogic(t *testing.T) {
	var cfg = tyrell()
	require.Equal(t, []string{"purchase"}, cfg.SourceLogic("google_analytics").ConversionEvents)
	require.Empty(t, cfg.SourceLogic("shopify").FunnelSteps)
	require.Empty(t, cfg.SourceLogic("never_enabled").ConversionEvents)
}

func TestValidate(t *testing.T) {
	var cases = []struct {
		name string
		mut  func(*TenantConfig)
	}{
		{"empty slug", func(c *TenantConfig) { c.Slug = "" }},
		{"uppercase slug", func(c *TenantConfig) { c.Slug = "Tyrell" }},
		{"hyphen slug", func(c *TenantConfig) { c.Slug = "tyrell-corp" }},
		{"bad status", func(c *TenantConfig) { c.Status = "paused" }},
		{"duplicate source", func(c *TenantConfig) {
			c.Sources = append(c.Sources, SourceConfig{Platform: "shopify"})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cfg = tyrell()
			tc.mut(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
	var ok = tyrell()
	require.NoError(t, ok.Validate())
}

func TestMarkStatus(t *testing.T) {
	var s = tempStore(t)
	var ctx = context.Background()

	require.NoError(t, s.Upsert(ctx, tyrell()))
	require.NoError(t, s.MarkStatus(ctx, "tyrell_corp", StatusActive))

	got, err := s.Get("tyrell_corp")
	require.NoError(t, err)
	require.Equal(t, StatusActive, got.Status)

	require.Error(t, s.MarkStatus(ctx, "wallace_corp", StatusActive))
}

func TestSnapshotIsolation(t *testing.T) {
	var s = tempStore(t)
	var ctx = context.Background()
	require.NoError(t, s.Upsert(ctx, tyrell()))

	var list = s.List()
	list[0].Slug = "mutated"

	got, err := s.Get("tyrell_corp")
	require.NoError(t, err)
	require.Equal(t, "tyrell_corp", got.Slug)
}

type recordingHistory struct {
	changes []ConfigChange
}

func (r *recordingHistory) RecordConfigChange(_ context.Context, c ConfigChange) error {
	r.changes = append(r.changes, c)
	return nil
}

func TestHistoryRecorderReceivesWrites(t *testing.T) {
	var s = tempStore(t)
	var ctx = context.Background()
	var hist = &recordingHistory{}
	s.SetHistoryRecorder(hist)

	require.NoError(t, s.Upsert(ctx, tyrell()))
	require.NoError(t, s.MarkStatus(ctx, "tyrell_corp", StatusActive))

	require.Len(t, hist.changes, 2)
	require.Equal(t, "upsert", hist.changes[0].Operation)
	require.Equal(t, "mark_status", hist.changes[1].Operation)
	require.Equal(t, StatusActive, hist.changes[1].Status)
}
