package unpack

import "github.com/prismward/prism/go/sqlgen"

// specsByMasterModel maps each master model id to the typed extraction of
// its payload. A master model without an entry still materializes an
// intermediate, carrying only the passthrough columns and the payload.
var specsByMasterModel = map[string][]Spec{
	"shopify_v1_orders": {
		{JSONKey: "id", Alias: "order_id", CastTo: sqlgen.STRING},
		{JSONKey: "created_at", Alias: "order_date", CastTo: sqlgen.TIMESTAMP},
		{JSONKey: "total_price", CastTo: sqlgen.NUMBER},
		{JSONKey: "currency", CastTo: sqlgen.STRING},
		{JSONKey: "financial_status", CastTo: sqlgen.STRING},
		{JSONKey: "email", Alias: "customer_email", CastTo: sqlgen.STRING},
		{JSONKey: "customer_id", CastTo: sqlgen.STRING},
		{JSONKey: "line_items", Alias: "line_items_json", KeepAsJSON: true},
	},
	"shopify_v1_products": {
		{JSONKey: "id", Alias: "product_id", CastTo: sqlgen.STRING},
		{JSONKey: "title", Alias: "product_title", CastTo: sqlgen.STRING},
		// Shopify carries price on variants; the first variant is canonical.
		{JSONKey: "variants.0.price", Alias: "product_price", CastTo: sqlgen.NUMBER},
		{JSONKey: "created_at", CastTo: sqlgen.TIMESTAMP},
		{JSONKey: "variants", Alias: "variants_json", KeepAsJSON: true},
	},
	"shopify_v1_customers": {
		{JSONKey: "id", Alias: "customer_id", CastTo: sqlgen.STRING},
		{JSONKey: "email", Alias: "customer_email", CastTo: sqlgen.STRING},
		{JSONKey: "created_at", CastTo: sqlgen.TIMESTAMP},
		{JSONKey: "orders_count", CastTo: sqlgen.INTEGER},
		{JSONKey: "total_spent", CastTo: sqlgen.NUMBER},
	},

	"bigcommerce_v3_orders": {
		{JSONKey: "id", Alias: "order_id", CastTo: sqlgen.STRING},
		{JSONKey: "date_created", Alias: "order_date", CastTo: sqlgen.TIMESTAMP},
		{JSONKey: "total_inc_tax", Alias: "total_price", CastTo: sqlgen.NUMBER},
		{JSONKey: "currency_code", Alias: "currency", CastTo: sqlgen.STRING},
		{JSONKey: "status", Alias: "financial_status", CastTo: sqlgen.STRING},
		{JSONKey: "billing_email", Alias: "customer_email", CastTo: sqlgen.STRING},
		{JSONKey: "customer_id", CastTo: sqlgen.STRING},
		{JSONKey: "products", Alias: "line_items_json", KeepAsJSON: true},
	},
	"bigcommerce_v3_products": {
		{JSONKey: "id", Alias: "product_id", CastTo: sqlgen.STRING},
		{JSONKey: "name", Alias: "product_title", CastTo: sqlgen.STRING},
		{JSONKey: "price", Alias: "product_price", CastTo: sqlgen.NUMBER},
		{JSONKey: "date_created", Alias: "created_at", CastTo: sqlgen.TIMESTAMP},
	},

	"woocommerce_v3_orders": {
		{JSONKey: "id", Alias: "order_id", CastTo: sqlgen.STRING},
		{JSONKey: "date_created", Alias: "order_date", CastTo: sqlgen.TIMESTAMP},
		{JSONKey: "total", Alias: "total_price", CastTo: sqlgen.NUMBER},
		{JSONKey: "currency", CastTo: sqlgen.STRING},
		{JSONKey: "status", Alias: "financial_status", CastTo: sqlgen.STRING},
		{JSONKey: "billing.email", Alias: "customer_email", CastTo: sqlgen.STRING},
		{JSONKey: "customer_id", CastTo: sqlgen.STRING},
		{JSONKey: "line_items", Alias: "line_items_json", KeepAsJSON: true},
	},
	"woocommerce_v3_products": {
		{JSONKey: "id", Alias: "product_id", CastTo: sqlgen.STRING},
		{JSONKey: "name", Alias: "product_title", CastTo: sqlgen.STRING},
		{JSONKey: "price", Alias: "product_price", CastTo: sqlgen.NUMBER},
		{JSONKey: "date_created", Alias: "created_at", CastTo: sqlgen.TIMESTAMP},
	},

	"google_ads_v14_ad_performance_report": {
		{JSONKey: "segments_date", Alias: "report_date", CastTo: sqlgen.DATE},
		{JSONKey: "campaign_id", CastTo: sqlgen.STRING},
		{JSONKey: "ad_group_id", CastTo: sqlgen.STRING},
		{JSONKey: "ad_group_ad_ad_id", Alias: "ad_id", CastTo: sqlgen.STRING},
		// Google reports cost in micros; scale to currency units here so the
		// engine consumes spend directly.
		{JSONKey: "metrics_cost_micros", Alias: "spend",
			Expression: "CAST(%s AS REAL) / 1000000.0"},
		{JSONKey: "metrics_impressions", Alias: "impressions", CastTo: sqlgen.INTEGER},
		{JSONKey: "metrics_clicks", Alias: "clicks", CastTo: sqlgen.INTEGER},
		{JSONKey: "metrics_conversions", Alias: "conversions", CastTo: sqlgen.NUMBER},
	},
	"google_ads_v14_campaigns": {
		{JSONKey: "campaign_id", CastTo: sqlgen.STRING},
		{JSONKey: "campaign_name", CastTo: sqlgen.STRING},
		{JSONKey: "campaign_status", CastTo: sqlgen.STRING},
	},

	"google_analytics_v1_events": {
		{JSONKey: "event_name", CastTo: sqlgen.STRING},
		{JSONKey: "event_timestamp", CastTo: sqlgen.INTEGER},
		{JSONKey: "user_pseudo_id", CastTo: sqlgen.STRING},
		{JSONKey: "user_id", CastTo: sqlgen.STRING},
		{JSONKey: "traffic_source.source", Alias: "traffic_source", CastTo: sqlgen.STRING},
		{JSONKey: "traffic_source.medium", Alias: "traffic_medium", CastTo: sqlgen.STRING},
		{JSONKey: "traffic_source.name", Alias: "traffic_campaign", CastTo: sqlgen.STRING},
		{JSONKey: "geo.country", Alias: "geo_country", CastTo: sqlgen.STRING},
		{JSONKey: "device.category", Alias: "device_category", CastTo: sqlgen.STRING},
		{JSONKey: "ecommerce.purchase_revenue", Alias: "purchase_revenue", CastTo: sqlgen.NUMBER},
		{JSONKey: "ecommerce.transaction_id", Alias: "transaction_id", CastTo: sqlgen.STRING},
	},

	"amplitude_v2_events": {
		{JSONKey: "event_type", Alias: "event_name", CastTo: sqlgen.STRING},
		{JSONKey: "event_time", Alias: "event_timestamp", CastTo: sqlgen.TIMESTAMP},
		{JSONKey: "amplitude_id", Alias: "user_pseudo_id", CastTo: sqlgen.STRING},
		{JSONKey: "user_id", CastTo: sqlgen.STRING},
		{JSONKey: "session_id", CastTo: sqlgen.STRING},
		{JSONKey: "user_properties.utm_source", Alias: "traffic_source", CastTo: sqlgen.STRING},
		{JSONKey: "user_properties.utm_medium", Alias: "traffic_medium", CastTo: sqlgen.STRING},
		{JSONKey: "user_properties.utm_campaign", Alias: "traffic_campaign", CastTo: sqlgen.STRING},
		{JSONKey: "country", Alias: "geo_country", CastTo: sqlgen.STRING},
		{JSONKey: "device_type", Alias: "device_category", CastTo: sqlgen.STRING},
		{JSONKey: "revenue", Alias: "purchase_revenue", CastTo: sqlgen.NUMBER},
		{JSONKey: "event_properties.transaction_id", Alias: "transaction_id", CastTo: sqlgen.STRING},
		{JSONKey: "event_properties.email", Alias: "customer_email", CastTo: sqlgen.STRING},
	},

	"klaviyo_v3_campaigns": {
		{JSONKey: "id", Alias: "campaign_id", CastTo: sqlgen.STRING},
		{JSONKey: "name", Alias: "campaign_name", CastTo: sqlgen.STRING},
		{JSONKey: "status", Alias: "campaign_status", CastTo: sqlgen.STRING},
	},
}

// adsInsightsSpecs is the shared extraction of paid-media daily reports.
func adsInsightsSpecs() []Spec {
	return []Spec{
		{JSONKey: "date_start", Alias: "report_date", CastTo: sqlgen.DATE},
		{JSONKey: "campaign_id", CastTo: sqlgen.STRING},
		{JSONKey: "campaign_name", CastTo: sqlgen.STRING},
		{JSONKey: "adset_id", Alias: "ad_group_id", CastTo: sqlgen.STRING},
		{JSONKey: "ad_id", CastTo: sqlgen.STRING},
		{JSONKey: "spend", CastTo: sqlgen.NUMBER},
		{JSONKey: "impressions", CastTo: sqlgen.INTEGER},
		{JSONKey: "clicks", CastTo: sqlgen.INTEGER},
		{JSONKey: "conversions", CastTo: sqlgen.NUMBER},
	}
}

// adsCampaignSpecs is the shared extraction of paid-media campaign objects.
func adsCampaignSpecs() []Spec {
	return []Spec{
		{JSONKey: "campaign_id", CastTo: sqlgen.STRING},
		{JSONKey: "campaign_name", CastTo: sqlgen.STRING},
		{JSONKey: "status", Alias: "campaign_status", CastTo: sqlgen.STRING},
	}
}

func init() {
	for _, source := range []string{
		"facebook_ads_v18", "instagram_ads_v18", "tiktok_ads_v1",
		"pinterest_ads_v5", "snapchat_ads_v1", "linkedin_ads_v2",
	} {
		specsByMasterModel[source+"_ads_insights"] = adsInsightsSpecs()
		specsByMasterModel[source+"_campaigns"] = adsCampaignSpecs()
	}
}

// SpecsFor returns the extraction specs of a master model id. The second
// return is false when only passthrough columns materialize.
func SpecsFor(masterModelID string) ([]Spec, bool) {
	var specs, ok = specsByMasterModel[masterModelID]
	return specs, ok
}
