package engines

import (
	"github.com/prismward/prism/go/tenants"
	"github.com/prismward/prism/go/unpack"
)

// adSources emit ads_insights and campaigns intermediates with the shared
// paid-media extraction, so one builder serves all of them.
var adSources = []string{
	"facebook_ads", "instagram_ads", "google_ads",
	"tiktok_ads", "pinterest_ads", "snapchat_ads", "linkedin_ads",
}

// insightsObject returns the landed object carrying daily ad performance.
func insightsObject(source string) string {
	if source == "google_ads" {
		return "ad_performance_report"
	}
	return "ads_insights"
}

func registerAdEngines(r *Registry) {
	for _, source := range adSources {
		var source = source

		r.Register(&Engine{
			Source: source,
			Domain: AdPerformance,
			Inputs: func(c *Context) []string {
				return []string{unpack.IntermediateID(c.Tenant.Slug, source, insightsObject(source))}
			},
			Build: func(c *Context) (string, error) {
				var columns, err = CanonicalColumns(AdPerformance, tenants.Logic{})
				if err != nil {
					return "", err
				}
				var from = unpack.IntermediateRelation(c.Tenant.Slug, source, insightsObject(source))
				return projectCanonical(c, source, from, columns), nil
			},
		})

		r.Register(&Engine{
			Source: source,
			Domain: Campaigns,
			Inputs: func(c *Context) []string {
				return []string{unpack.IntermediateID(c.Tenant.Slug, source, "campaigns")}
			},
			Build: func(c *Context) (string, error) {
				var columns, err = CanonicalColumns(Campaigns, tenants.Logic{})
				if err != nil {
					return "", err
				}
				var from = unpack.IntermediateRelation(c.Tenant.Slug, source, "campaigns")
				return projectCanonical(c, source, from, columns), nil
			},
		})
	}
}

func registerMessagingEngines(r *Registry) {
	r.Register(&Engine{
		Source: "klaviyo",
		Domain: Campaigns,
		Inputs: func(c *Context) []string {
			return []string{unpack.IntermediateID(c.Tenant.Slug, "klaviyo", "campaigns")}
		},
		Build: func(c *Context) (string, error) {
			var columns, err = CanonicalColumns(Campaigns, tenants.Logic{})
			if err != nil {
				return "", err
			}
			var from = unpack.IntermediateRelation(c.Tenant.Slug, "klaviyo", "campaigns")
			return projectCanonical(c, "klaviyo", from, columns), nil
		},
	})
}
