package factory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prismward/prism/go/engines"
	"github.com/prismward/prism/go/model"
	"github.com/prismward/prism/go/sqlgen"
	"github.com/prismward/prism/go/tenants"
)

func tenantWith(sources ...tenants.SourceConfig) tenants.TenantConfig {
	return tenants.TenantConfig{
		Slug:    "tyrell_corp",
		Status:  tenants.StatusActive,
		Sources: sources,
	}
}

func resolve(t *testing.T, tenant tenants.TenantConfig) []*model.Model {
	t.Helper()
	var models, err = NewResolver(engines.NewRegistry()).Resolve(sqlgen.SQLiteDialect(), tenant)
	require.NoError(t, err)
	return models
}

func modelByID(models []*model.Model, id string) *model.Model {
	for _, m := range models {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func TestStarID(t *testing.T) {
	require.Equal(t, "fct_tyrell_corp__sessions", StarID("tyrell_corp", engines.Sessions, true))
	require.Equal(t, "dim_tyrell_corp__users", StarID("tyrell_corp", engines.Users, false))
	require.Equal(t, "prism", StarRelation("tyrell_corp", engines.Orders, true).Schema)
}

func TestResolveAlwaysEmitsAllDomains(t *testing.T) {
	var models = resolve(t, tenantWith())

	require.Len(t, models, len(engines.FactDomains)+len(engines.DimensionDomains))
	for _, domain := range engines.FactDomains {
		require.NotNil(t, modelByID(models, StarID("tyrell_corp", domain, true)), domain)
	}
	for _, domain := range engines.DimensionDomains {
		require.NotNil(t, modelByID(models, StarID("tyrell_corp", domain, false)), domain)
	}
}

func TestResolveTypedEmptyFallback(t *testing.T) {
	var models = resolve(t, tenantWith())
	var orders = modelByID(models, "fct_tyrell_corp__orders")

	// No contributing source: the model still carries the canonical columns
	// and zero rows, so downstream readers never break.
	var body = orders.SQL[1]
	require.Contains(t, body, "WHERE 1 = 0")
	require.Contains(t, body, `AS "order_id"`)
	require.Contains(t, body, `AS "line_items_json"`)
	require.NotContains(t, body, "UNION ALL")
	require.Empty(t, orders.DependsOn)
}

func TestResolveUnionBranchOrder(t *testing.T) {
	var models = resolve(t, tenantWith(
		tenants.SourceConfig{Platform: "woocommerce", Enabled: true},
		tenants.SourceConfig{Platform: "shopify", Enabled: true},
	))
	var orders = modelByID(models, "fct_tyrell_corp__orders")
	var body = orders.SQL[1]

	// Branches stack in manifest order, not alphabetically.
	var woo = strings.Index(body, "'woocommerce'")
	var shop = strings.Index(body, "'shopify'")
	require.Greater(t, woo, -1)
	require.Greater(t, shop, -1)
	require.Less(t, woo, shop)
	require.Contains(t, body, "UNION ALL")

	require.Equal(t, []string{
		"int_tyrell_corp__shopify_orders",
		"int_tyrell_corp__woocommerce_orders",
	}, orders.DependsOn)
}

func TestResolveDisabledSourceExcluded(t *testing.T) {
	var models = resolve(t, tenantWith(
		tenants.SourceConfig{Platform: "shopify", Enabled: true},
		tenants.SourceConfig{Platform: "facebook_ads", Enabled: false},
	))
	var ads = modelByID(models, "fct_tyrell_corp__ad_performance")
	require.Contains(t, ads.SQL[1], "WHERE 1 = 0")
	require.NotContains(t, ads.SQL[1], "facebook_ads")
}

func TestResolveSingleAnalyticsEnforced(t *testing.T) {
	var tenant = tenantWith(
		tenants.SourceConfig{Platform: "google_analytics", Enabled: true},
		tenants.SourceConfig{Platform: "amplitude", Enabled: true},
	)
	var _, err = NewResolver(engines.NewRegistry()).Resolve(sqlgen.SQLiteDialect(), tenant)
	require.Error(t, err)

	var ambiguous *AmbiguousSourceError
	require.ErrorAs(t, err, &ambiguous)
	require.Equal(t, "tyrell_corp", ambiguous.TenantSlug)
	require.Equal(t, []string{"amplitude", "google_analytics"}, ambiguous.Sources)
	require.Contains(t, err.Error(), "disable all but one")
}

func TestResolveSessionsFunnelColumns(t *testing.T) {
	var tenant = tenantWith(tenants.SourceConfig{
		Platform: "google_analytics",
		Enabled:  true,
		Logic: tenants.Logic{
			ConversionEvents: []string{"purchase"},
			FunnelSteps:      []string{"view_item", "purchase"},
		},
	})
	var models = resolve(t, tenant)
	var sessions = modelByID(models, "fct_tyrell_corp__sessions")

	require.Contains(t, sessions.SQL[1], `AS "funnel_step_1_view_item"`)
	require.Contains(t, sessions.SQL[1], `AS "funnel_step_2_purchase"`)
	require.Equal(t, []string{"int_tyrell_corp__google_analytics_events"}, sessions.DependsOn)
}

func TestResolveModelShape(t *testing.T) {
	var models = resolve(t, tenantWith(
		tenants.SourceConfig{Platform: "facebook_ads", Enabled: true},
	))
	for _, m := range models {
		require.Equal(t, model.LayerStar, m.Layer)
		require.Equal(t, "tyrell_corp", m.Tenant)
		require.Len(t, m.SQL, 2)
		require.Contains(t, m.SQL[0], "DROP TABLE")
		require.Contains(t, m.SQL[1], "CREATE TABLE")
		require.Contains(t, m.Tags, "star")
	}
}
