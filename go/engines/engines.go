package engines

import (
	"fmt"
	"sort"

	"github.com/prismward/prism/go/sqlgen"
	"github.com/prismward/prism/go/tenants"
)

// Context carries everything an engine needs to render its SELECT.
type Context struct {
	// Dialect of the target warehouse.
	Dialect *sqlgen.Dialect
	// Tenant whose pipeline the engine serves.
	Tenant tenants.TenantConfig
}

// Logic of the engine's source platform for this tenant.
func (c *Context) Logic(source string) tenants.Logic {
	return c.Tenant.SourceLogic(source)
}

// Engine transforms intermediate rows of one source platform into the
// canonical schema of one domain.
type Engine struct {
	// Source platform the engine reads.
	Source string
	// Domain the engine emits.
	Domain Domain
	// Inputs are node ids of the intermediate models the engine reads,
	// declared so the orchestrator can edge them into the DAG.
	Inputs func(c *Context) []string
	// Build renders the SELECT body emitting the domain's canonical schema.
	Build func(c *Context) (string, error)
}

type engineKey struct {
	source string
	domain Domain
}

// Registry is the explicit (source, domain) to engine map resolved at
// startup. A missing entry is not an error: the factory substitutes a typed
// empty result.
type Registry struct {
	engines map[engineKey]*Engine
}

// NewRegistry returns a Registry holding the built-in engine library.
func NewRegistry() *Registry {
	var r = &Registry{engines: make(map[engineKey]*Engine)}
	registerAdEngines(r)
	registerCommerceEngines(r)
	registerAnalyticsEngines(r)
	registerMessagingEngines(r)
	return r
}

// Register adds an engine; duplicate registration is a programming error.
func (r *Registry) Register(e *Engine) {
	var key = engineKey{source: e.Source, domain: e.Domain}
	if _, dup := r.engines[key]; dup {
		panic(fmt.Sprintf("duplicate engine for %s/%s", e.Source, e.Domain))
	}
	r.engines[key] = e
}

// Lookup returns the engine of (source, domain), or nil.
func (r *Registry) Lookup(source string, domain Domain) *Engine {
	return r.engines[engineKey{source: source, domain: domain}]
}

// SourcesOf returns all sources with a registered engine for the domain,
// in deterministic order.
func (r *Registry) SourcesOf(domain Domain) []string {
	var out []string
	for key := range r.engines {
		if key.domain == domain {
			out = append(out, key.source)
		}
	}
	sort.Strings(out)
	return out
}

// projectCanonical renders a plain projection of canonical columns where the
// intermediate already carries the aliased names. Constant tenant and source
// are injected, keeping tenant isolation independent of upstream rows.
func projectCanonical(c *Context, source string, from sqlgen.Relation, columns []sqlgen.Column) string {
	var d = c.Dialect
	var sel = sqlgen.Select{From: from}
	for _, col := range columns {
		switch col.Name {
		case "tenant_slug":
			sel.Columns = append(sel.Columns, sqlgen.SelectColumn{
				Expr: d.QuoteString(c.Tenant.Slug), Alias: "tenant_slug"})
		case "source_platform":
			sel.Columns = append(sel.Columns, sqlgen.SelectColumn{
				Expr: d.QuoteString(source), Alias: "source_platform"})
		default:
			sel.Columns = append(sel.Columns, sqlgen.SelectColumn{
				Expr: d.Identifier(col.Name), Alias: col.Name})
		}
	}
	return sel.Render(d)
}
