package engines

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prismward/prism/go/sqlgen"
	"github.com/prismward/prism/go/tenants"
)

func analyticsTenant(source string, logic tenants.Logic) tenants.TenantConfig {
	return tenants.TenantConfig{
		Slug:   "tyrell_corp",
		Status: tenants.StatusActive,
		Sources: []tenants.SourceConfig{
			{Platform: source, Enabled: true, Logic: logic},
			{Platform: "shopify", Enabled: true},
		},
	}
}

func buildSQL(t *testing.T, e *Engine, c *Context) string {
	t.Helper()
	require.NotNil(t, e)
	var sql, err = e.Build(c)
	require.NoError(t, err)
	return sql
}

func TestRegistryCoverage(t *testing.T) {
	var r = NewRegistry()

	for _, source := range adSources {
		require.NotNil(t, r.Lookup(source, AdPerformance), source)
		require.NotNil(t, r.Lookup(source, Campaigns), source)
		require.Nil(t, r.Lookup(source, Orders), source)
	}
	for _, source := range ecommerceSources {
		require.NotNil(t, r.Lookup(source, Orders), source)
		require.NotNil(t, r.Lookup(source, Products), source)
	}
	for _, source := range []string{"google_analytics", "amplitude"} {
		require.NotNil(t, r.Lookup(source, Sessions), source)
		require.NotNil(t, r.Lookup(source, Events), source)
		require.NotNil(t, r.Lookup(source, Users), source)
	}
	require.NotNil(t, r.Lookup("klaviyo", Campaigns))
	require.Nil(t, r.Lookup("klaviyo", Sessions))
	require.Nil(t, r.Lookup("not_a_source", Orders))
}

func TestRegistryDuplicatePanics(t *testing.T) {
	var r = NewRegistry()
	require.Panics(t, func() {
		r.Register(&Engine{Source: "shopify", Domain: Orders})
	})
}

func TestSourcesOfDeterministic(t *testing.T) {
	var r = NewRegistry()
	var sources = r.SourcesOf(Orders)
	require.Equal(t, []string{"bigcommerce", "shopify", "woocommerce"}, sources)
}

func TestCanonicalColumnsFunnelPivots(t *testing.T) {
	var logic = tenants.Logic{FunnelSteps: []string{"view_item", "Add To Cart", "purchase"}}
	var columns, err = CanonicalColumns(Sessions, logic)
	require.NoError(t, err)

	var names []string
	for _, col := range columns {
		names = append(names, col.Name)
	}
	require.Equal(t, "tenant_slug", names[0])
	require.Contains(t, names, "funnel_max_step")
	// Pivot columns are 1-indexed with event names sanitized to identifier
	// characters.
	require.Equal(t, "funnel_step_1_view_item", names[len(names)-3])
	require.Equal(t, "funnel_step_2_add_to_cart", names[len(names)-2])
	require.Equal(t, "funnel_step_3_purchase", names[len(names)-1])
}

func TestCanonicalColumnsUnknownDomain(t *testing.T) {
	var _, err = CanonicalColumns(Domain("weather"), tenants.Logic{})
	require.Error(t, err)
}

func TestAdEngineProjection(t *testing.T) {
	var r = NewRegistry()
	var c = &Context{Dialect: sqlgen.SQLiteDialect(), Tenant: analyticsTenant("facebook_ads", tenants.Logic{})}
	var sql = buildSQL(t, r.Lookup("facebook_ads", AdPerformance), c)

	require.Contains(t, sql, "'tyrell_corp' AS \"tenant_slug\"")
	require.Contains(t, sql, "'facebook_ads' AS \"source_platform\"")
	require.Contains(t, sql, "int_tyrell_corp__facebook_ads_ads_insights")
	require.Contains(t, sql, `"spend"`)
}

func TestGoogleAdsReadsPerformanceReport(t *testing.T) {
	var r = NewRegistry()
	var c = &Context{Dialect: sqlgen.SQLiteDialect(), Tenant: analyticsTenant("google_ads", tenants.Logic{})}
	var e = r.Lookup("google_ads", AdPerformance)
	require.Equal(t,
		[]string{"int_tyrell_corp__google_ads_ad_performance_report"},
		e.Inputs(c))
}

func TestGapSessionization(t *testing.T) {
	var r = NewRegistry()
	var logic = tenants.Logic{
		ConversionEvents: []string{"purchase"},
		FunnelSteps:      []string{"view_item", "add_to_cart", "purchase"},
	}
	var c = &Context{Dialect: sqlgen.SQLiteDialect(), Tenant: analyticsTenant("google_analytics", logic)}
	var sql = buildSQL(t, r.Lookup("google_analytics", Sessions), c)

	// Boundary detection: LAG over per-user event order, 30 minute gap in
	// microseconds.
	require.Contains(t, sql, "LAG(ts) OVER (PARTITION BY")
	require.Contains(t, sql, "1800000000")
	require.Contains(t, sql, "session_ordinal")
	require.Contains(t, sql, "|| '-' ||")

	require.Contains(t, sql, `IN ('purchase')`)
	require.Contains(t, sql, `AS "funnel_max_step"`)
	require.Contains(t, sql, `AS "funnel_step_1_view_item"`)
	require.Contains(t, sql, `AS "funnel_step_3_purchase"`)
	require.Contains(t, sql, "FIRST_VALUE(")
}

func TestNativeSessionization(t *testing.T) {
	var r = NewRegistry()
	var c = &Context{Dialect: sqlgen.SQLiteDialect(), Tenant: analyticsTenant("amplitude", tenants.Logic{})}
	var sql = buildSQL(t, r.Lookup("amplitude", Sessions), c)

	// Amplitude carries its own session id, so no gap computation appears.
	require.Contains(t, sql, `"session_id"`)
	require.NotContains(t, sql, "LAG(")
	require.NotContains(t, sql, "session_ordinal")
}

func TestSessionsWithoutConversionConfig(t *testing.T) {
	var r = NewRegistry()
	var c = &Context{Dialect: sqlgen.SQLiteDialect(), Tenant: analyticsTenant("google_analytics", tenants.Logic{})}
	var sql = buildSQL(t, r.Lookup("google_analytics", Sessions), c)

	require.NotContains(t, sql, " IN (")
	require.Contains(t, sql, `AS "is_conversion_session"`)
	require.NotContains(t, sql, "funnel_step_1")
}

func TestEventsProjection(t *testing.T) {
	var r = NewRegistry()
	var c = &Context{Dialect: sqlgen.SQLiteDialect(), Tenant: analyticsTenant("google_analytics", tenants.Logic{})}
	var sql = buildSQL(t, r.Lookup("google_analytics", Events), c)

	require.Contains(t, sql, `AS "event_name"`)
	require.Contains(t, sql, `session_key AS "session_id"`)
	require.Contains(t, sql, `"transaction_id" AS "order_id"`)
	require.Contains(t, sql, `"purchase_revenue" AS "order_total"`)
}

func TestUsersTransactionIDLink(t *testing.T) {
	var r = NewRegistry()
	var c = &Context{Dialect: sqlgen.SQLiteDialect(), Tenant: analyticsTenant("google_analytics", tenants.Logic{})}
	var e = r.Lookup("google_analytics", Users)

	// The users engine depends on each enabled ecommerce orders intermediate.
	require.Equal(t, []string{
		"int_tyrell_corp__google_analytics_events",
		"int_tyrell_corp__shopify_orders",
	}, e.Inputs(c))

	var sql = buildSQL(t, e, c)
	require.Contains(t, sql, "order_customers")
	require.Contains(t, sql, "int_tyrell_corp__shopify_orders")
	// Default strategy joins the analytics transaction id to the order id.
	require.Contains(t, sql, `e."transaction_id" = o."order_id"`)
	require.Contains(t, sql, `AS "is_customer"`)
	require.Contains(t, sql, `AS "first_geo_country"`)
}

func TestUsersEmailLinkNeedsEmail(t *testing.T) {
	var r = NewRegistry()
	var logic = tenants.Logic{IdentityStrategy: tenants.IdentityEmail}

	// Amplitude events carry customer_email; the email join applies.
	var c = &Context{Dialect: sqlgen.SQLiteDialect(), Tenant: analyticsTenant("amplitude", logic)}
	var sql = buildSQL(t, r.Lookup("amplitude", Users), c)
	require.Contains(t, sql, `e."customer_email" = o."customer_email"`)

	// Google Analytics events do not, so the strategy yields no links
	// instead of failing the build.
	c = &Context{Dialect: sqlgen.SQLiteDialect(), Tenant: analyticsTenant("google_analytics", logic)}
	sql = buildSQL(t, r.Lookup("google_analytics", Users), c)
	require.Contains(t, sql, "1 = 0")
	require.NotContains(t, sql, `e."customer_email"`)
}

func TestUsersWithoutEcommerce(t *testing.T) {
	var r = NewRegistry()
	var tenant = tenants.TenantConfig{
		Slug:   "tyrell_corp",
		Status: tenants.StatusActive,
		Sources: []tenants.SourceConfig{
			{Platform: "google_analytics", Enabled: true},
		},
	}
	var c = &Context{Dialect: sqlgen.SQLiteDialect(), Tenant: tenant}
	var sql = buildSQL(t, r.Lookup("google_analytics", Users), c)

	// No order sources: the link rollup is a typed empty relation and every
	// user resolves as non-customer.
	require.Contains(t, sql, "WHERE 1 = 0")
	require.NotContains(t, sql, "UNION ALL")
}

func TestFunnelStepColumnSanitization(t *testing.T) {
	require.Equal(t, "funnel_step_1_add_to_cart", FunnelStepColumn(0, "Add To Cart"))
	require.Equal(t, "funnel_step_4_sign_up_", FunnelStepColumn(3, "sign-up!"))
}

func TestBuildersRenderOnPostgres(t *testing.T) {
	var r = NewRegistry()
	var logic = tenants.Logic{ConversionEvents: []string{"purchase"}, FunnelSteps: []string{"view_item"}}
	var c = &Context{Dialect: sqlgen.PostgresDialect(), Tenant: analyticsTenant("google_analytics", logic)}

	for _, domain := range []Domain{Sessions, Events, Users} {
		var sql = buildSQL(t, r.Lookup("google_analytics", domain), c)
		require.False(t, strings.Contains(sql, "json_extract"), "postgres SQL must not use sqlite functions")
	}
}
