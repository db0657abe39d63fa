package engines

import (
	"github.com/prismward/prism/go/tenants"
	"github.com/prismward/prism/go/unpack"
)

// ecommerceSources emit orders and products intermediates whose extraction
// aliases already align with the canonical schemas.
var ecommerceSources = []string{"shopify", "bigcommerce", "woocommerce"}

func registerCommerceEngines(r *Registry) {
	for _, source := range ecommerceSources {
		var source = source

		r.Register(&Engine{
			Source: source,
			Domain: Orders,
			Inputs: func(c *Context) []string {
				return []string{unpack.IntermediateID(c.Tenant.Slug, source, "orders")}
			},
			Build: func(c *Context) (string, error) {
				var columns, err = CanonicalColumns(Orders, tenants.Logic{})
				if err != nil {
					return "", err
				}
				var from = unpack.IntermediateRelation(c.Tenant.Slug, source, "orders")
				return projectCanonical(c, source, from, columns), nil
			},
		})

		r.Register(&Engine{
			Source: source,
			Domain: Products,
			Inputs: func(c *Context) []string {
				return []string{unpack.IntermediateID(c.Tenant.Slug, source, "products")}
			},
			Build: func(c *Context) (string, error) {
				var columns, err = CanonicalColumns(Products, tenants.Logic{})
				if err != nil {
					return "", err
				}
				var from = unpack.IntermediateRelation(c.Tenant.Slug, source, "products")
				return projectCanonical(c, source, from, columns), nil
			},
		})
	}
}
