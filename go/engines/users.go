package engines

import (
	"fmt"
	"strings"

	"github.com/prismward/prism/go/connector"
	"github.com/prismward/prism/go/sqlgen"
	"github.com/prismward/prism/go/tenants"
	"github.com/prismward/prism/go/unpack"
)

// enabledEcommerce returns the tenant's enabled ecommerce sources in
// manifest order.
func enabledEcommerce(c *Context) []string {
	var out []string
	for _, src := range c.Tenant.EnabledSources() {
		if connector.SourceKind(src) == connector.KindEcommerce {
			out = append(out, src)
		}
	}
	return out
}

// buildUsers rolls the event stream up to one row per user_pseudo_id and
// resolves users against the tenant's order customers. The link predicate
// follows the tenant's identity strategy; a strategy the source cannot
// satisfy yields no links rather than an error, so the dimension still
// materializes with is_customer = false throughout.
func buildUsers(c *Context, spec *analyticsSpec) (string, error) {
	var d = c.Dialect
	var logic = c.Logic(spec.source)

	var ctes = spec.sessionizedCTEs(c)

	var firstWindow = fmt.Sprintf(
		"OVER (PARTITION BY %s ORDER BY ts, %s ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW)",
		d.Identifier("user_pseudo_id"), d.Identifier("loaded_at"))
	ctes = append(ctes, sqlgen.CTE{
		Name: "first_touch",
		Body: fmt.Sprintf(
			"SELECT *,\n\tFIRST_VALUE(%s) %s AS first_geo_country,\n\tFIRST_VALUE(%s) %s AS first_device_category\nFROM %s",
			d.Identifier("geo_country"), firstWindow,
			d.Identifier("device_category"), firstWindow,
			d.Identifier("sessionized")),
	})

	ctes = append(ctes, sqlgen.CTE{
		Name: "user_rollup",
		Body: fmt.Sprintf(
			"SELECT\n\t%s,\n\tMAX(%s) AS user_id,\n\tMIN(ts) AS first_ts,\n\tMAX(ts) AS last_ts,\n"+
				"\tCOUNT(*) AS total_events,\n\tCOUNT(DISTINCT session_key) AS total_sessions,\n"+
				"\tMIN(first_geo_country) AS first_geo_country,\n\tMIN(first_device_category) AS first_device_category\n"+
				"FROM %s\nGROUP BY %s",
			d.Identifier("user_pseudo_id"), d.Identifier("user_id"),
			d.Identifier("first_touch"), d.Identifier("user_pseudo_id")),
	})

	linkRollup, err := linkRollupCTEs(c, spec, logic)
	if err != nil {
		return "", err
	}
	ctes = append(ctes, linkRollup...)

	var isCustomer, _ = d.CastExpr(fmt.Sprintf(
		"CASE WHEN l.%s IS NOT NULL OR l.%s IS NOT NULL THEN 1 ELSE 0 END",
		d.Identifier("customer_id"), d.Identifier("customer_email")), sqlgen.BOOLEAN)

	var sel = sqlgen.Select{
		With: ctes,
		FromSQL: fmt.Sprintf("%s AS u LEFT JOIN %s AS l ON u.%s = l.%s",
			d.Identifier("user_rollup"), d.Identifier("link_rollup"),
			d.Identifier("user_pseudo_id"), d.Identifier("user_pseudo_id")),
		Columns: []sqlgen.SelectColumn{
			{Expr: d.QuoteString(c.Tenant.Slug), Alias: "tenant_slug"},
			{Expr: d.QuoteString(spec.source), Alias: "source_platform"},
			{Expr: "u." + d.Identifier("user_pseudo_id"), Alias: "user_pseudo_id"},
			{Expr: "u." + d.Identifier("user_id"), Alias: "user_id"},
			{Expr: "l." + d.Identifier("customer_email"), Alias: "customer_email"},
			{Expr: "l." + d.Identifier("customer_id"), Alias: "customer_id"},
			{Expr: isCustomer, Alias: "is_customer"},
			{Expr: spec.toTimestamp(d, "u.first_ts"), Alias: "first_seen_at"},
			{Expr: spec.toTimestamp(d, "u.last_ts"), Alias: "last_seen_at"},
			{Expr: "u.total_events", Alias: "total_events"},
			{Expr: "u.total_sessions", Alias: "total_sessions"},
			{Expr: "u.first_geo_country", Alias: "first_geo_country"},
			{Expr: "u.first_device_category", Alias: "first_device_category"},
		},
	}
	return sel.Render(d), nil
}

// linkRollupCTEs renders the identity resolution chain ending in a
// "link_rollup" relation keyed by user_pseudo_id.
func linkRollupCTEs(c *Context, spec *analyticsSpec, logic tenants.Logic) ([]sqlgen.CTE, error) {
	var d = c.Dialect
	var sources = enabledEcommerce(c)

	var predicate string
	switch logic.IdentityStrategy {
	case tenants.IdentityEmail:
		if spec.hasEmail {
			predicate = fmt.Sprintf("e.%s = o.%s",
				d.Identifier("customer_email"), d.Identifier("customer_email"))
		} else {
			// The source's events carry no email, so the strategy links
			// nothing.
			predicate = "1 = 0"
		}
	case tenants.IdentityTransactionID, "":
		predicate = fmt.Sprintf("e.%s = o.%s",
			d.Identifier("transaction_id"), d.Identifier("order_id"))
	default:
		return nil, fmt.Errorf("unknown identity strategy %q for source %s",
			logic.IdentityStrategy, spec.source)
	}

	if len(sources) == 0 {
		// No ecommerce sources enabled: an empty link set keeps the join
		// shape intact.
		var empty = fmt.Sprintf(
			"SELECT %s AS %s, %s AS %s, %s AS %s FROM (SELECT 1) AS prism_void WHERE 1 = 0",
			nullString(d), d.Identifier("user_pseudo_id"),
			nullString(d), d.Identifier("customer_email"),
			nullString(d), d.Identifier("customer_id"))
		return []sqlgen.CTE{{Name: "link_rollup", Body: empty}}, nil
	}

	var branches []string
	for _, src := range sources {
		var rel = unpack.IntermediateRelation(c.Tenant.Slug, src, "orders")
		branches = append(branches, fmt.Sprintf(
			"SELECT %s AS order_id, %s AS customer_email, %s AS customer_id FROM %s",
			castString(d, d.Identifier("order_id")),
			d.Identifier("customer_email"),
			castString(d, d.Identifier("customer_id")),
			d.QualifyRelation(rel)))
	}

	var links = fmt.Sprintf(
		"SELECT DISTINCT e.%s, o.customer_email, o.customer_id\nFROM %s AS e\nJOIN %s AS o ON %s",
		d.Identifier("user_pseudo_id"), d.Identifier("sessionized"),
		d.Identifier("order_customers"), predicate)

	var rollup = fmt.Sprintf(
		"SELECT %s, MAX(customer_email) AS customer_email, MAX(customer_id) AS customer_id\nFROM %s\nGROUP BY %s",
		d.Identifier("user_pseudo_id"), d.Identifier("user_links"), d.Identifier("user_pseudo_id"))

	return []sqlgen.CTE{
		{Name: "order_customers", Body: strings.Join(branches, "\nUNION ALL\n")},
		{Name: "user_links", Body: links},
		{Name: "link_rollup", Body: rollup},
	}, nil
}

func nullString(d *sqlgen.Dialect) string {
	var out, _ = d.CastExpr("NULL", sqlgen.STRING)
	return out
}
