package engines

import (
	"fmt"
	"strings"

	"github.com/prismward/prism/go/sqlgen"
	"github.com/prismward/prism/go/unpack"
)

// analyticsSpec describes how one analytics source expresses time and
// sessions. Gap-based sources derive session boundaries from a 30 minute
// inactivity rule; native-session sources adopt their own session id and
// skip the gap computation.
type analyticsSpec struct {
	source string
	object string
	// tsExpr renders the numeric event timestamp in native units.
	tsExpr func(d *sqlgen.Dialect) string
	// gap is the session boundary threshold in native units; zero for
	// native-session sources.
	gap int64
	// unitsPerSecond scales native time units to seconds.
	unitsPerSecond float64
	// nativeSessionColumn adopts the source's own session id when set.
	nativeSessionColumn string
	// hasEmail is true when the events intermediate carries customer_email,
	// enabling the email_match identity strategy.
	hasEmail bool
}

const sessionGapSeconds = 30 * 60

var analyticsSpecs = map[string]analyticsSpec{
	"google_analytics": {
		source: "google_analytics",
		object: "events",
		tsExpr: func(d *sqlgen.Dialect) string {
			return d.Identifier("event_timestamp")
		},
		gap:            sessionGapSeconds * 1_000_000, // event_timestamp is in microseconds
		unitsPerSecond: 1_000_000,
	},
	"amplitude": {
		source: "amplitude",
		object: "events",
		tsExpr: func(d *sqlgen.Dialect) string {
			return d.EpochSeconds(d, d.Identifier("event_timestamp"))
		},
		gap:                 sessionGapSeconds,
		unitsPerSecond:      1,
		nativeSessionColumn: "session_id",
		hasEmail:            true,
	},
}

// toTimestamp renders a TIMESTAMP from an aggregate of the native ts.
func (a *analyticsSpec) toTimestamp(d *sqlgen.Dialect, expr string) string {
	if a.unitsPerSecond != 1 {
		expr = fmt.Sprintf("(%s / %d)", expr, int64(a.unitsPerSecond))
	}
	return d.TimestampFromEpochSeconds(d, expr)
}

func (a *analyticsSpec) intermediateID(tenant string) string {
	return unpack.IntermediateID(tenant, a.source, a.object)
}

func (a *analyticsSpec) intermediateRelation(tenant string) sqlgen.Relation {
	return unpack.IntermediateRelation(tenant, a.source, a.object)
}

// eventColumns are the typed columns the sessionization reads from the
// events intermediate.
func (a *analyticsSpec) eventColumns() []string {
	var cols = []string{
		"event_name", "user_pseudo_id", "user_id",
		"traffic_source", "traffic_medium", "traffic_campaign",
		"geo_country", "device_category", "purchase_revenue", "transaction_id",
		"loaded_at",
	}
	if a.nativeSessionColumn != "" {
		cols = append(cols, a.nativeSessionColumn)
	}
	if a.hasEmail {
		cols = append(cols, "customer_email")
	}
	return cols
}

// sessionizedCTEs returns the shared CTE chain ending in a relation named
// "sessionized" where every event row carries ts (native units) and a
// per-user session_key. Ties on equal timestamps break by ingest order
// (loaded_at), keeping the numbering stable.
func (a *analyticsSpec) sessionizedCTEs(c *Context) []sqlgen.CTE {
	var d = c.Dialect
	var ts = a.tsExpr(d)
	var ordering = fmt.Sprintf("ORDER BY ts, %s", d.Identifier("loaded_at"))

	var baseCols []string
	for _, col := range a.eventColumns() {
		baseCols = append(baseCols, "\t"+d.Identifier(col))
	}
	var base = fmt.Sprintf("SELECT\n%s,\n\t%s AS ts\nFROM %s",
		strings.Join(baseCols, ",\n"), ts,
		d.QualifyRelation(a.intermediateRelation(c.Tenant.Slug)))

	if a.nativeSessionColumn != "" {
		// Native sessions: adopt the source's id as the session key.
		var keyed = fmt.Sprintf("SELECT *, %s AS session_key FROM %s",
			castString(d, d.Identifier(a.nativeSessionColumn)), d.Identifier("base_events"))
		return []sqlgen.CTE{
			{Name: "base_events", Body: base},
			{Name: "sessionized", Body: keyed},
		}
	}

	// A session boundary opens where the inactivity gap is exceeded; the
	// running boundary count is the per-user session ordinal.
	var marked = fmt.Sprintf(
		"SELECT *, LAG(ts) OVER (PARTITION BY %s %s) AS prev_ts\nFROM %s",
		d.Identifier("user_pseudo_id"), ordering, d.Identifier("base_events"))

	var numbered = fmt.Sprintf(
		"SELECT *,\n\tSUM(CASE WHEN prev_ts IS NULL OR ts - prev_ts > %d THEN 1 ELSE 0 END)"+
			" OVER (PARTITION BY %s %s ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW) AS session_ordinal\nFROM %s",
		a.gap, d.Identifier("user_pseudo_id"), ordering, d.Identifier("marked_events"))

	// Session id is {user_pseudo_id}-{session_ordinal}.
	var keyed = fmt.Sprintf("SELECT *, %s AS session_key FROM %s",
		sessionIDExpr(d), d.Identifier("numbered_events"))

	return []sqlgen.CTE{
		{Name: "base_events", Body: base},
		{Name: "marked_events", Body: marked},
		{Name: "numbered_events", Body: numbered},
		{Name: "sessionized", Body: keyed},
	}
}

func sessionIDExpr(d *sqlgen.Dialect) string {
	var ordinal, _ = d.CastExpr("session_ordinal", sqlgen.STRING)
	return fmt.Sprintf("%s || '-' || %s", d.Identifier("user_pseudo_id"), ordinal)
}

func castString(d *sqlgen.Dialect, expr string) string {
	var out, _ = d.CastExpr(expr, sqlgen.STRING)
	return out
}

func registerAnalyticsEngines(r *Registry) {
	for _, spec := range analyticsSpecs {
		var spec = spec

		r.Register(&Engine{
			Source: spec.source,
			Domain: Sessions,
			Inputs: func(c *Context) []string {
				return []string{spec.intermediateID(c.Tenant.Slug)}
			},
			Build: func(c *Context) (string, error) {
				return buildSessions(c, &spec)
			},
		})
		r.Register(&Engine{
			Source: spec.source,
			Domain: Events,
			Inputs: func(c *Context) []string {
				return []string{spec.intermediateID(c.Tenant.Slug)}
			},
			Build: func(c *Context) (string, error) {
				return buildEvents(c, &spec)
			},
		})
		r.Register(&Engine{
			Source: spec.source,
			Domain: Users,
			Inputs: func(c *Context) []string {
				var out = []string{spec.intermediateID(c.Tenant.Slug)}
				for _, src := range enabledEcommerce(c) {
					out = append(out, unpack.IntermediateID(c.Tenant.Slug, src, "orders"))
				}
				return out
			},
			Build: func(c *Context) (string, error) {
				return buildUsers(c, &spec)
			},
		})
	}
}

// buildSessions renders the per-session rollup: boundaries by the 30 minute
// gap rule (or native ids), first-touch attribution, revenue, conversion
// flag, and the tenant's funnel pivots.
func buildSessions(c *Context, spec *analyticsSpec) (string, error) {
	var d = c.Dialect
	var logic = c.Logic(spec.source)

	var ctes = spec.sessionizedCTEs(c)

	// First-touch attribution reads the earliest event of each session.
	var firstTouch = []string{
		"traffic_source", "traffic_medium", "traffic_campaign",
		"geo_country", "device_category",
	}
	var attributedCols = []string{"*"}
	for _, col := range firstTouch {
		attributedCols = append(attributedCols, fmt.Sprintf(
			"FIRST_VALUE(%s) OVER (PARTITION BY session_key ORDER BY ts, %s"+
				" ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW) AS %s",
			d.Identifier(col), d.Identifier("loaded_at"), d.Identifier("first_"+col)))
	}
	ctes = append(ctes, sqlgen.CTE{
		Name: "attributed",
		Body: fmt.Sprintf("SELECT %s\nFROM %s",
			strings.Join(attributedCols, ",\n\t"), d.Identifier("sessionized")),
	})

	var duration = fmt.Sprintf("CAST(MAX(ts) - MIN(ts) AS REAL) / %s",
		trimFloat(spec.unitsPerSecond))

	var conversion string
	if len(logic.ConversionEvents) == 0 {
		// No configured conversion events: every session is non-conversion.
		conversion = "0"
	} else {
		conversion = fmt.Sprintf("MAX(CASE WHEN %s IN (%s) THEN 1 ELSE 0 END)",
			d.Identifier("event_name"), quoteList(d, logic.ConversionEvents))
	}
	conversionExpr, err := d.CastExpr(conversion, sqlgen.BOOLEAN)
	if err != nil {
		return "", err
	}

	var maxStep string
	if len(logic.FunnelSteps) == 0 {
		maxStep = "0"
	} else {
		var whens []string
		// Rank descending so MAX picks the deepest step reached.
		for i, step := range logic.FunnelSteps {
			whens = append(whens, fmt.Sprintf("WHEN %s = %s THEN %d",
				d.Identifier("event_name"), d.QuoteString(step), i+1))
		}
		maxStep = fmt.Sprintf("MAX(CASE %s ELSE 0 END)", strings.Join(whens, " "))
	}

	var sel = sqlgen.Select{
		With:    ctes,
		FromSQL: d.Identifier("attributed"),
		Columns: []sqlgen.SelectColumn{
			{Expr: d.QuoteString(c.Tenant.Slug), Alias: "tenant_slug"},
			{Expr: d.QuoteString(spec.source), Alias: "source_platform"},
			{Expr: "session_key", Alias: "session_id"},
			{Expr: d.Identifier("user_pseudo_id"), Alias: "user_pseudo_id"},
			{Expr: "MAX(" + d.Identifier("user_id") + ")", Alias: "user_id"},
			{Expr: spec.toTimestamp(d, "MIN(ts)"), Alias: "session_start_ts"},
			{Expr: spec.toTimestamp(d, "MAX(ts)"), Alias: "session_end_ts"},
			{Expr: duration, Alias: "session_duration_seconds"},
			{Expr: "COUNT(*)", Alias: "events_in_session"},
			{Expr: "MIN(" + d.Identifier("first_traffic_source") + ")", Alias: "traffic_source"},
			{Expr: "MIN(" + d.Identifier("first_traffic_medium") + ")", Alias: "traffic_medium"},
			{Expr: "MIN(" + d.Identifier("first_traffic_campaign") + ")", Alias: "traffic_campaign"},
			{Expr: "MIN(" + d.Identifier("first_geo_country") + ")", Alias: "geo_country"},
			{Expr: "MIN(" + d.Identifier("first_device_category") + ")", Alias: "device_category"},
			{Expr: conversionExpr, Alias: "is_conversion_session"},
			{Expr: "SUM(COALESCE(" + d.Identifier("purchase_revenue") + ", 0))", Alias: "session_revenue"},
			{Expr: "MAX(" + d.Identifier("transaction_id") + ")", Alias: "transaction_id"},
			{Expr: maxStep, Alias: "funnel_max_step"},
		},
		GroupBy: []string{"session_key", d.Identifier("user_pseudo_id")},
	}

	for i, step := range logic.FunnelSteps {
		sel.Columns = append(sel.Columns, sqlgen.SelectColumn{
			Expr: fmt.Sprintf("SUM(CASE WHEN %s = %s THEN 1 ELSE 0 END)",
				d.Identifier("event_name"), d.QuoteString(step)),
			Alias: FunnelStepColumn(i, step),
		})
	}

	return sel.Render(d), nil
}

// buildEvents renders the canonical event stream with each event attached
// to its session.
func buildEvents(c *Context, spec *analyticsSpec) (string, error) {
	var d = c.Dialect

	var sel = sqlgen.Select{
		With:    spec.sessionizedCTEs(c),
		FromSQL: d.Identifier("sessionized"),
		Columns: []sqlgen.SelectColumn{
			{Expr: d.QuoteString(c.Tenant.Slug), Alias: "tenant_slug"},
			{Expr: d.QuoteString(spec.source), Alias: "source_platform"},
			{Expr: d.Identifier("event_name"), Alias: "event_name"},
			{Expr: spec.toTimestamp(d, "ts"), Alias: "event_timestamp"},
			{Expr: d.Identifier("user_pseudo_id"), Alias: "user_pseudo_id"},
			{Expr: d.Identifier("user_id"), Alias: "user_id"},
			{Expr: "session_key", Alias: "session_id"},
			{Expr: d.Identifier("transaction_id"), Alias: "order_id"},
			{Expr: d.Identifier("purchase_revenue"), Alias: "order_total"},
			{Expr: d.Identifier("traffic_source"), Alias: "traffic_source"},
			{Expr: d.Identifier("traffic_medium"), Alias: "traffic_medium"},
			{Expr: d.Identifier("traffic_campaign"), Alias: "traffic_campaign"},
			{Expr: d.Identifier("geo_country"), Alias: "geo_country"},
			{Expr: d.Identifier("device_category"), Alias: "device_category"},
		},
	}
	return sel.Render(d), nil
}

func quoteList(d *sqlgen.Dialect, values []string) string {
	var out = make([]string, len(values))
	for i, v := range values {
		out[i] = d.QuoteString(v)
	}
	return strings.Join(out, ", ")
}

// trimFloat renders a scale divisor without trailing zeros, but always with
// a decimal point so the division stays floating.
func trimFloat(f float64) string {
	var s = strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", f), "0"), ".")
	return s + ".0"
}
