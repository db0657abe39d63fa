// Package connector is the static, versioned catalog of supported source
// systems. Each entry names one (source, api_version, object) tuple and its
// canonical column contract, from which the blueprint registry derives its
// fingerprint routing table.
package connector

import (
	"fmt"
	"sort"

	"github.com/prismward/prism/go/fingerprint"
)

// Entry is one supported source-object contract.
type Entry struct {
	// Source platform, e.g. "shopify".
	Source string
	// APIVersion of the contract, e.g. "v1".
	APIVersion string
	// Object of the source, e.g. "orders".
	Object string
	// Columns is the canonical column list of the contract.
	Columns []fingerprint.NamedType
}

// MasterModelID is the identity {source}_{api_version}_{object}.
func (e *Entry) MasterModelID() string {
	return fmt.Sprintf("%s_%s_%s", e.Source, e.APIVersion, e.Object)
}

// Fingerprint of the canonical column contract.
func (e *Entry) Fingerprint() string {
	return fingerprint.Fingerprint(e.Columns)
}

// Kind classifies source platforms for factory resolution.
type Kind string

const (
	// KindAds sources produce paid-media performance data.
	KindAds Kind = "ads"
	// KindEcommerce sources produce orders, products, and customers.
	KindEcommerce Kind = "ecommerce"
	// KindAnalytics sources produce behavioral event streams. A tenant may
	// enable at most one for the sessions, events, and users domains.
	KindAnalytics Kind = "analytics"
	// KindMessaging sources produce campaign/engagement data.
	KindMessaging Kind = "messaging"
)

// sourceKinds classifies every supported source platform.
var sourceKinds = map[string]Kind{
	"shopify":          KindEcommerce,
	"bigcommerce":      KindEcommerce,
	"woocommerce":      KindEcommerce,
	"facebook_ads":     KindAds,
	"instagram_ads":    KindAds,
	"google_ads":       KindAds,
	"tiktok_ads":       KindAds,
	"pinterest_ads":    KindAds,
	"snapchat_ads":     KindAds,
	"linkedin_ads":     KindAds,
	"google_analytics": KindAnalytics,
	"amplitude":        KindAnalytics,
	"klaviyo":          KindMessaging,
}

// SourceKind returns the Kind of a source platform, or "" if unsupported.
func SourceKind(source string) Kind {
	return sourceKinds[source]
}

// Sources returns all supported source platforms in deterministic order.
func Sources() []string {
	var out []string
	for s := range sourceKinds {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func cols(pairs ...string) []fingerprint.NamedType {
	if len(pairs)%2 != 0 {
		panic("cols requires name/type pairs")
	}
	var out []fingerprint.NamedType
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, fingerprint.NamedType{Name: pairs[i], Type: pairs[i+1]})
	}
	return out
}

// adInsightsColumns is the shared shape of paid-media daily reports. Each
// platform adds at least one platform-specific column so that contracts
// fingerprint distinctly.
func adInsightsColumns(extra ...string) []fingerprint.NamedType {
	var base = cols(
		"date_start", "date",
		"campaign_id", "text",
		"campaign_name", "text",
		"adset_id", "text",
		"ad_id", "text",
		"spend", "double",
		"impressions", "bigint",
		"clicks", "bigint",
		"conversions", "double",
	)
	return append(base, cols(extra...)...)
}

func campaignColumns(extra ...string) []fingerprint.NamedType {
	var base = cols(
		"campaign_id", "text",
		"campaign_name", "text",
		"status", "text",
	)
	return append(base, cols(extra...)...)
}

// catalog enumerates every supported contract. Order within the slice is the
// catalog's deterministic enumeration order.
var catalog = []Entry{
	{Source: "shopify", APIVersion: "v1", Object: "orders", Columns: cols(
		"id", "bigint",
		"name", "text",
		"created_at", "timestamp",
		"total_price", "double",
		"currency", "text",
		"financial_status", "text",
		"email", "text",
		"customer_id", "bigint",
		"line_items", "json",
	)},
	{Source: "shopify", APIVersion: "v1", Object: "products", Columns: cols(
		"id", "bigint",
		"title", "text",
		"vendor", "text",
		"product_type", "text",
		"created_at", "timestamp",
		"variants", "json",
	)},
	{Source: "shopify", APIVersion: "v1", Object: "customers", Columns: cols(
		"id", "bigint",
		"email", "text",
		"first_name", "text",
		"last_name", "text",
		"created_at", "timestamp",
		"orders_count", "bigint",
		"total_spent", "double",
	)},
	{Source: "shopify", APIVersion: "v1", Object: "checkouts", Columns: cols(
		"id", "bigint",
		"token", "text",
		"created_at", "timestamp",
		"completed_at", "timestamp",
		"total_price", "double",
		"email", "text",
	)},

	{Source: "bigcommerce", APIVersion: "v3", Object: "orders", Columns: cols(
		"id", "bigint",
		"date_created", "timestamp",
		"total_inc_tax", "double",
		"currency_code", "text",
		"status", "text",
		"billing_email", "text",
		"customer_id", "bigint",
		"products", "json",
	)},
	{Source: "bigcommerce", APIVersion: "v3", Object: "products", Columns: cols(
		"id", "bigint",
		"name", "text",
		"sku", "text",
		"price", "double",
		"date_created", "timestamp",
	)},
	{Source: "bigcommerce", APIVersion: "v3", Object: "customers", Columns: cols(
		"id", "bigint",
		"email", "text",
		"first_name", "text",
		"last_name", "text",
		"date_created", "timestamp",
	)},

	{Source: "woocommerce", APIVersion: "v3", Object: "orders", Columns: cols(
		"id", "bigint",
		"date_created", "timestamp",
		"total", "double",
		"currency", "text",
		"status", "text",
		"billing", "json",
		"customer_id", "bigint",
		"line_items", "json",
	)},
	{Source: "woocommerce", APIVersion: "v3", Object: "products", Columns: cols(
		"id", "bigint",
		"name", "text",
		"price", "double",
		"date_created", "timestamp",
		"categories", "json",
	)},

	{Source: "facebook_ads", APIVersion: "v18", Object: "ads_insights",
		Columns: adInsightsColumns("reach", "bigint", "frequency", "double")},
	{Source: "facebook_ads", APIVersion: "v18", Object: "campaigns",
		Columns: campaignColumns("objective", "text", "daily_budget", "double")},

	{Source: "instagram_ads", APIVersion: "v18", Object: "ads_insights",
		Columns: adInsightsColumns("story_opens", "bigint")},
	{Source: "instagram_ads", APIVersion: "v18", Object: "campaigns",
		Columns: campaignColumns("placement", "text")},

	{Source: "google_ads", APIVersion: "v14", Object: "ad_performance_report", Columns: cols(
		"segments_date", "date",
		"campaign_id", "bigint",
		"ad_group_id", "bigint",
		"ad_group_ad_ad_id", "bigint",
		"metrics_cost_micros", "bigint",
		"metrics_impressions", "bigint",
		"metrics_clicks", "bigint",
		"metrics_conversions", "double",
	)},
	{Source: "google_ads", APIVersion: "v14", Object: "campaigns", Columns: cols(
		"campaign_id", "bigint",
		"campaign_name", "text",
		"campaign_status", "text",
		"campaign_advertising_channel_type", "text",
	)},

	{Source: "tiktok_ads", APIVersion: "v1", Object: "ads_insights",
		Columns: adInsightsColumns("video_views", "bigint")},
	{Source: "tiktok_ads", APIVersion: "v1", Object: "campaigns",
		Columns: campaignColumns("budget_mode", "text")},

	{Source: "pinterest_ads", APIVersion: "v5", Object: "ads_insights",
		Columns: adInsightsColumns("pin_clicks", "bigint")},
	{Source: "pinterest_ads", APIVersion: "v5", Object: "campaigns",
		Columns: campaignColumns("launch_date", "date")},

	{Source: "snapchat_ads", APIVersion: "v1", Object: "ads_insights",
		Columns: adInsightsColumns("swipe_ups", "bigint")},
	{Source: "snapchat_ads", APIVersion: "v1", Object: "campaigns",
		Columns: campaignColumns("start_time", "timestamp")},

	{Source: "linkedin_ads", APIVersion: "v2", Object: "ads_insights",
		Columns: adInsightsColumns("leads", "bigint")},
	{Source: "linkedin_ads", APIVersion: "v2", Object: "campaigns",
		Columns: campaignColumns("campaign_group", "text")},

	{Source: "google_analytics", APIVersion: "v1", Object: "events", Columns: cols(
		"event_name", "text",
		"event_timestamp", "bigint",
		"user_pseudo_id", "text",
		"user_id", "text",
		"traffic_source", "json",
		"geo", "json",
		"device", "json",
		"ecommerce", "json",
		"event_params", "json",
	)},
	{Source: "google_analytics", APIVersion: "v1", Object: "user_properties", Columns: cols(
		"user_pseudo_id", "text",
		"user_id", "text",
		"property_name", "text",
		"property_value", "text",
		"updated_at", "timestamp",
	)},

	{Source: "amplitude", APIVersion: "v2", Object: "events", Columns: cols(
		"event_type", "text",
		"event_time", "timestamp",
		"amplitude_id", "bigint",
		"user_id", "text",
		"session_id", "bigint",
		"event_properties", "json",
		"user_properties", "json",
		"country", "text",
		"device_type", "text",
		"revenue", "double",
	)},
	{Source: "amplitude", APIVersion: "v2", Object: "cohorts", Columns: cols(
		"cohort_id", "text",
		"name", "text",
		"size", "bigint",
		"last_computed", "timestamp",
	)},

	{Source: "klaviyo", APIVersion: "v3", Object: "events", Columns: cols(
		"id", "text",
		"metric_name", "text",
		"datetime", "timestamp",
		"profile_id", "text",
		"event_properties", "json",
	)},
	{Source: "klaviyo", APIVersion: "v3", Object: "campaigns", Columns: cols(
		"id", "text",
		"name", "text",
		"status", "text",
		"send_time", "timestamp",
	)},
	{Source: "klaviyo", APIVersion: "v3", Object: "lists", Columns: cols(
		"id", "text",
		"name", "text",
		"created", "timestamp",
		"profile_count", "bigint",
	)},
}

// ListSupported returns the full catalog in deterministic order: by source,
// then api_version, then object.
func ListSupported() []Entry {
	var out = make([]Entry, len(catalog))
	copy(out, catalog)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].APIVersion != out[j].APIVersion {
			return out[i].APIVersion < out[j].APIVersion
		}
		return out[i].Object < out[j].Object
	})
	return out
}

// Lookup returns the catalog entry of a (source, object) pair at the current
// catalog release, or nil if the pair is unsupported.
func Lookup(source, object string) *Entry {
	for i := range catalog {
		if catalog[i].Source == source && catalog[i].Object == object {
			var e = catalog[i]
			return &e
		}
	}
	return nil
}

// ObjectsOf returns the objects landed for one source platform, in catalog
// order.
func ObjectsOf(source string) []string {
	var out []string
	for _, e := range ListSupported() {
		if e.Source == source {
			out = append(out, e.Object)
		}
	}
	return out
}
