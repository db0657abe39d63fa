// Package engines holds the per-source transformations from intermediate
// rows to the canonical column set of each analytic domain, and the explicit
// registry from which factories resolve them.
package engines

import (
	"fmt"
	"strings"

	"github.com/prismward/prism/go/sqlgen"
	"github.com/prismward/prism/go/tenants"
)

// Domain is one analytic domain with a single canonical schema.
type Domain string

// The supported analytic domains.
const (
	AdPerformance Domain = "ad_performance"
	Orders        Domain = "orders"
	Sessions      Domain = "sessions"
	Events        Domain = "events"
	Campaigns     Domain = "campaigns"
	Products      Domain = "products"
	Users         Domain = "users"
)

// FactDomains materialize as fct_ tables; DimensionDomains as dim_ tables.
var FactDomains = []Domain{AdPerformance, Orders, Sessions, Events}
var DimensionDomains = []Domain{Campaigns, Products, Users}

// SingleAnalyticsDomains admit exactly one enabled analytics source.
var SingleAnalyticsDomains = map[Domain]struct{}{
	Sessions: {},
	Events:   {},
	Users:    {},
}

func strCol(name string) sqlgen.Column  { return sqlgen.Column{Name: name, Type: sqlgen.STRING} }
func intCol(name string) sqlgen.Column  { return sqlgen.Column{Name: name, Type: sqlgen.INTEGER} }
func numCol(name string) sqlgen.Column  { return sqlgen.Column{Name: name, Type: sqlgen.NUMBER} }
func boolCol(name string) sqlgen.Column { return sqlgen.Column{Name: name, Type: sqlgen.BOOLEAN} }
func tsCol(name string) sqlgen.Column   { return sqlgen.Column{Name: name, Type: sqlgen.TIMESTAMP} }

// CanonicalColumns returns the exact ordered canonical schema of a domain.
// All engines of the domain emit this column list; factory UNION ALL
// composition depends on it. The sessions domain appends the tenant's
// configured funnel pivot columns.
func CanonicalColumns(domain Domain, logic tenants.Logic) ([]sqlgen.Column, error) {
	switch domain {
	case AdPerformance:
		return []sqlgen.Column{
			strCol("tenant_slug"), strCol("source_platform"),
			{Name: "report_date", Type: sqlgen.DATE},
			strCol("campaign_id"), strCol("ad_group_id"), strCol("ad_id"),
			numCol("spend"), intCol("impressions"), intCol("clicks"), numCol("conversions"),
		}, nil

	case Orders:
		return []sqlgen.Column{
			strCol("tenant_slug"), strCol("source_platform"),
			strCol("order_id"), tsCol("order_date"),
			numCol("total_price"), strCol("currency"), strCol("financial_status"),
			strCol("customer_email"), strCol("customer_id"),
			{Name: "line_items_json", Type: sqlgen.JSON},
		}, nil

	case Sessions:
		var out = []sqlgen.Column{
			strCol("tenant_slug"), strCol("source_platform"),
			strCol("session_id"), strCol("user_pseudo_id"), strCol("user_id"),
			tsCol("session_start_ts"), tsCol("session_end_ts"),
			numCol("session_duration_seconds"), intCol("events_in_session"),
			strCol("traffic_source"), strCol("traffic_medium"), strCol("traffic_campaign"),
			strCol("geo_country"), strCol("device_category"),
			boolCol("is_conversion_session"), numCol("session_revenue"), strCol("transaction_id"),
			intCol("funnel_max_step"),
		}
		for i, step := range logic.FunnelSteps {
			out = append(out, intCol(FunnelStepColumn(i, step)))
		}
		return out, nil

	case Events:
		return []sqlgen.Column{
			strCol("tenant_slug"), strCol("source_platform"),
			strCol("event_name"), tsCol("event_timestamp"),
			strCol("user_pseudo_id"), strCol("user_id"), strCol("session_id"),
			strCol("order_id"), numCol("order_total"),
			strCol("traffic_source"), strCol("traffic_medium"), strCol("traffic_campaign"),
			strCol("geo_country"), strCol("device_category"),
		}, nil

	case Campaigns:
		return []sqlgen.Column{
			strCol("tenant_slug"), strCol("source_platform"),
			strCol("campaign_id"), strCol("campaign_name"), strCol("campaign_status"),
		}, nil

	case Products:
		return []sqlgen.Column{
			strCol("tenant_slug"), strCol("source_platform"),
			strCol("product_id"), strCol("product_title"), numCol("product_price"),
			tsCol("created_at"),
		}, nil

	case Users:
		return []sqlgen.Column{
			strCol("tenant_slug"), strCol("source_platform"),
			strCol("user_pseudo_id"), strCol("user_id"),
			strCol("customer_email"), strCol("customer_id"), boolCol("is_customer"),
			tsCol("first_seen_at"), tsCol("last_seen_at"),
			intCol("total_events"), intCol("total_sessions"),
			strCol("first_geo_country"), strCol("first_device_category"),
		}, nil
	}
	return nil, fmt.Errorf("unknown analytic domain %q", domain)
}

// FunnelStepColumn names the pivot column of a 1-indexed funnel step:
// funnel_step_{i}_{event_name}, with the event name reduced to ascii
// identifier characters.
func FunnelStepColumn(index int, eventName string) string {
	return fmt.Sprintf("funnel_step_%d_%s", index+1, sanitizeIdent(eventName))
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
