// Package factory composes per-source engine outputs into tenant-scoped
// star models, one fact or dimension table per analytic domain.
package factory

import (
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/prismward/prism/go/connector"
	"github.com/prismward/prism/go/engines"
	"github.com/prismward/prism/go/model"
	"github.com/prismward/prism/go/push"
	"github.com/prismward/prism/go/sqlgen"
	"github.com/prismward/prism/go/tenants"
)

// AmbiguousSourceError reports a tenant enabling more than one analytics
// source for a domain whose canonical schema admits exactly one.
type AmbiguousSourceError struct {
	TenantSlug string
	Domain     engines.Domain
	Sources    []string
}

func (e *AmbiguousSourceError) Error() string {
	return fmt.Sprintf(
		"tenant %s enables analytics sources [%s], but domain %s admits exactly one; disable all but one",
		e.TenantSlug, strings.Join(e.Sources, ", "), e.Domain)
}

// StarID names a tenant's star model: fct_{tenant}__{domain} or
// dim_{tenant}__{domain}.
func StarID(tenant string, domain engines.Domain, fact bool) string {
	var prefix = "dim"
	if fact {
		prefix = "fct"
	}
	return fmt.Sprintf("%s_%s__%s", prefix, tenant, domain)
}

// StarRelation places a star model in the analytics schema.
func StarRelation(tenant string, domain engines.Domain, fact bool) sqlgen.Relation {
	return sqlgen.Relation{Schema: push.AnalyticsSchema, Name: StarID(tenant, domain, fact)}
}

// Resolver builds the star models of a tenant from the engine registry.
type Resolver struct {
	registry *engines.Registry
}

func NewResolver(registry *engines.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve returns every star model of the tenant, fact and dimension, in
// deterministic order. Domains with no contributing source still produce a
// model with the canonical columns and zero rows, keeping downstream
// consumers schema-stable.
func (r *Resolver) Resolve(d *sqlgen.Dialect, tenant tenants.TenantConfig) ([]*model.Model, error) {
	var out []*model.Model
	for _, domain := range engines.FactDomains {
		var m, err = r.resolveDomain(d, tenant, domain, true)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	for _, domain := range engines.DimensionDomains {
		var m, err = r.resolveDomain(d, tenant, domain, false)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	model.SortModels(out)
	return out, nil
}

// resolveDomain composes the domain's star model. Branches stack in the
// tenant's manifest source order, so row provenance within the table is
// stable across rebuilds.
func (r *Resolver) resolveDomain(
	d *sqlgen.Dialect,
	tenant tenants.TenantConfig,
	domain engines.Domain,
	fact bool,
) (*model.Model, error) {
	var ctx = engines.Context{Dialect: d, Tenant: tenant}

	var contributing []*engines.Engine
	var contribSources []string
	for _, src := range tenant.EnabledSources() {
		if e := r.registry.Lookup(src, domain); e != nil {
			contributing = append(contributing, e)
			contribSources = append(contribSources, src)
		}
	}

	if _, single := engines.SingleAnalyticsDomains[domain]; single {
		var analytics []string
		for _, src := range tenant.EnabledSources() {
			if connector.SourceKind(src) == connector.KindAnalytics {
				analytics = append(analytics, src)
			}
		}
		if len(analytics) > 1 {
			sort.Strings(analytics)
			return nil, &AmbiguousSourceError{
				TenantSlug: tenant.Slug, Domain: domain, Sources: analytics}
		}
	}

	// The sessions schema varies with the funnel of the contributing
	// analytics source; other domains ignore the logic.
	var logic tenants.Logic
	if len(contribSources) == 1 {
		logic = tenant.SourceLogic(contribSources[0])
	}
	columns, err := engines.CanonicalColumns(domain, logic)
	if err != nil {
		return nil, err
	}

	var body string
	if len(contributing) == 0 {
		body, err = sqlgen.TypedEmptySelect(d, columns)
		if err != nil {
			return nil, err
		}
	} else {
		var branches []string
		for _, e := range contributing {
			var sql, err = e.Build(&ctx)
			if err != nil {
				return nil, fmt.Errorf("building %s engine of %s: %w", domain, e.Source, err)
			}
			branches = append(branches, sql)
		}
		body = sqlgen.UnionAll(branches)
	}

	var deps []string
	for _, e := range contributing {
		deps = append(deps, e.Inputs(&ctx)...)
	}
	sort.Strings(deps)
	deps = dedupe(deps)

	var rel = StarRelation(tenant.Slug, domain, fact)
	var m = &model.Model{
		ID:       StarID(tenant.Slug, domain, fact),
		Layer:    model.LayerStar,
		Tenant:   tenant.Slug,
		Relation: rel,
		SQL: []string{
			d.DropTable(rel),
			d.CreateTableAs(rel, body),
		},
		DependsOn: deps,
		Tags:      []string{"star", string(domain)},
	}

	log.WithFields(log.Fields{
		"tenant":  tenant.Slug,
		"domain":  domain,
		"sources": contribSources,
	}).Debug("resolved star model")

	return m, nil
}

func dedupe(sorted []string) []string {
	var out = sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}
