// Package orchestrator drives tenant onboarding: ingestion, scaffolding,
// model graph compilation, two-pass materialization, and observability.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/prismward/prism/go/connector"
	"github.com/prismward/prism/go/factory"
	"github.com/prismward/prism/go/fingerprint"
	"github.com/prismward/prism/go/ingest"
	"github.com/prismward/prism/go/model"
	"github.com/prismward/prism/go/observability"
	"github.com/prismward/prism/go/push"
	"github.com/prismward/prism/go/scaffold"
	"github.com/prismward/prism/go/tenants"
	"github.com/prismward/prism/go/unpack"
	"github.com/prismward/prism/go/warehouse"
)

// ReadinessState is the onboarding progress reported to callers.
type ReadinessState string

const (
	StateStarting   ReadinessState = "starting"
	StateIngesting  ReadinessState = "ingesting"
	StateModeling   ReadinessState = "modeling"
	StateCataloging ReadinessState = "cataloging"
	StateReady      ReadinessState = "ready"
	StateError      ReadinessState = "error"
)

// ReadinessFunc receives progress transitions of a tenant run.
type ReadinessFunc func(tenantSlug string, state ReadinessState, message string)

// ErrCancelled reports a run stopped by cooperative cancellation.
var ErrCancelled = errors.New("the run was cancelled")

// ErrRunFailed reports one or more model materializations failing without
// aborting the whole invocation.
var ErrRunFailed = errors.New("one or more models failed")

// IngestError wraps an external ingestor failure. Staging and master state
// is untouched when it occurs.
type IngestError struct {
	TenantSlug string
	Err        error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingestion of tenant %s failed: %s", e.TenantSlug, e.Err)
}
func (e *IngestError) Unwrap() error { return e.Err }

// Config bounds an orchestrator's execution.
type Config struct {
	// FanOut is the maximum concurrently executing models of one run.
	FanOut int
	// ModelTimeout bounds a single model materialization.
	ModelTimeout time.Duration
	// FailFast stops scheduling new models after the first failure.
	FailFast bool
}

func (c *Config) withDefaults() Config {
	var out = *c
	if out.FanOut <= 0 {
		out.FanOut = 4
	}
	if out.ModelTimeout <= 0 {
		out.ModelTimeout = 2 * time.Minute
	}
	return out
}

// Orchestrator coordinates one warehouse target. Distinct tenants may be
// onboarded concurrently on the same Orchestrator.
type Orchestrator struct {
	Warehouse  *warehouse.Client
	Tenants    *tenants.Store
	Scaffolder *scaffold.Scaffolder
	Ingestor   ingest.Ingestor
	Resolver   *factory.Resolver
	Config     Config
	// Readiness, when set, receives progress transitions.
	Readiness ReadinessFunc
}

// Report is the outcome of one onboarding invocation.
type Report struct {
	InvocationID string
	TenantSlug   string
	// Results holds every model result of both passes, pass A first.
	Results []observability.RunResult
	Tests   []observability.TestResult
	// Activated is true when the run succeeded and the tenant's status
	// flipped from onboarding to active.
	Activated bool
}

// Failed reports whether any model ended in a non-success status, taking
// the later pass's result where a model ran twice.
func (r *Report) Failed() bool {
	var last = make(map[string]observability.Status)
	for _, res := range r.Results {
		last[res.ModelID] = res.Status
	}
	for _, status := range last {
		if status != observability.StatusSuccess {
			return true
		}
	}
	return false
}

// Cancelled reports whether any result carries the cancelled status.
func (r *Report) Cancelled() bool {
	for _, res := range r.Results {
		if res.Status == observability.StatusCancelled {
			return true
		}
	}
	return false
}

func (o *Orchestrator) report(tenantSlug string, state ReadinessState, message string) {
	if o.Readiness != nil {
		o.Readiness(tenantSlug, state, message)
	}
	log.WithFields(log.Fields{
		"tenant": tenantSlug,
		"state":  state,
	}).Info(message)
}

// Onboard runs the full onboarding pipeline of one tenant: ingest |days| of
// history, verify and scaffold every landed table, compile the model DAG,
// materialize it, re-run the reporting subtree, persist observability
// artifacts, and flip the tenant active on success.
//
// Master sinks populate through staging post-hook merges during the first
// pass, so intermediates scheduled early in that pass may read sinks which
// are still empty. The second pass rebuilds every intermediate and star
// model after all merges commit, which is what makes cold onboarding
// converge.
func (o *Orchestrator) Onboard(ctx context.Context, tenantSlug string, days int) (*Report, error) {
	var cfg = o.Config.withDefaults()
	var rep = &Report{
		InvocationID: uuid.NewString(),
		TenantSlug:   tenantSlug,
	}

	o.report(tenantSlug, StateStarting, "starting onboarding run")

	tenant, err := o.Tenants.Get(tenantSlug)
	if err != nil {
		return rep, err
	}
	if err := tenant.Validate(); err != nil {
		return rep, fmt.Errorf("tenant %s manifest entry: %w", tenantSlug, err)
	}

	o.report(tenantSlug, StateIngesting, "ingesting enabled sources")
	if err := o.Ingestor.Ingest(ctx, tenant, days); err != nil {
		o.report(tenantSlug, StateError, "ingestion failed")
		if ctx.Err() != nil {
			return rep, ErrCancelled
		}
		return rep, &IngestError{TenantSlug: tenantSlug, Err: err}
	}

	o.report(tenantSlug, StateModeling, "scaffolding and compiling models")
	models, effective, tests, err := o.planModels(ctx, tenant)
	if err != nil {
		o.report(tenantSlug, StateError, "model planning failed")
		if ctx.Err() != nil {
			return rep, ErrCancelled
		}
		return rep, err
	}
	rep.Tests = tests

	g, err := compileGraph(models)
	if err != nil {
		o.report(tenantSlug, StateError, "model graph did not compile")
		return rep, err
	}

	var collector = observability.NewCollector(o.Warehouse, rep.InvocationID)
	if err = collector.Initialize(ctx); err != nil {
		return rep, err
	}
	if err = collector.RecordModels(ctx, models); err != nil {
		return rep, err
	}

	var run = func(ctx context.Context, m *model.Model) observability.RunResult {
		return o.runModel(ctx, cfg.ModelTimeout, m)
	}

	// Pass A: the full graph in dependency order.
	var passA = g.execute(ctx, cfg.FanOut, cfg.FailFast, run)
	rep.Results = append(rep.Results, passA...)

	// Pass B: the reporting refresh, unless the run is already cancelled.
	if !rep.Cancelled() && ctx.Err() == nil {
		reporting, err := g.subgraph(func(m *model.Model) bool {
			return m.Layer.IsReporting()
		})
		if err != nil {
			return rep, err
		}
		var passB = reporting.execute(ctx, cfg.FanOut, cfg.FailFast, run)
		rep.Results = append(rep.Results, passB...)
	}

	o.report(tenantSlug, StateCataloging, "validating sinks and writing artifacts")
	rep.Tests = append(rep.Tests, o.contractChecks(ctx, models)...)

	if err = collector.RecordResults(ctx, rep.Results); err != nil {
		return rep, err
	}
	if err = collector.RecordTests(ctx, rep.Tests); err != nil {
		return rep, err
	}

	if rep.Cancelled() {
		o.report(tenantSlug, StateError, "run cancelled")
		return rep, ErrCancelled
	}
	if rep.Failed() {
		o.report(tenantSlug, StateError, "run finished with failures")
		return rep, ErrRunFailed
	}

	if effective.Status == tenants.StatusOnboarding {
		if err = o.Tenants.MarkStatus(ctx, tenantSlug, tenants.StatusActive); err != nil {
			return rep, fmt.Errorf("activating tenant %s: %w", tenantSlug, err)
		}
		rep.Activated = true
	}
	o.report(tenantSlug, StateReady, "onboarding complete")
	return rep, nil
}

// planModels verifies every landed table against the registry, scaffolds
// the push circuit, builds intermediates, and resolves star models.
//
// An enabled source with missing landed tables is reported and excluded
// from the effective source set rather than failing the run; factories
// substitute typed empty results for its domains. Master rows of a
// previously landed source are never purged.
func (o *Orchestrator) planModels(
	ctx context.Context,
	tenant tenants.TenantConfig,
) ([]*model.Model, tenants.TenantConfig, []observability.TestResult, error) {
	var d = o.Warehouse.Dialect()
	var tests []observability.TestResult

	type landing struct {
		source, object string
	}
	var landings []landing
	var missing = make(map[string]bool)

	for _, source := range tenant.EnabledSources() {
		var objects = connector.ObjectsOf(source)
		if len(objects) == 0 {
			return nil, tenant, nil, fmt.Errorf("source %s is not in the connector catalog", source)
		}
		for _, object := range objects {
			var exists, err = o.Warehouse.RelationExists(ctx, scaffold.LandedRelation(tenant.Slug, source, object))
			if err != nil {
				return nil, tenant, nil, err
			}
			if !exists {
				missing[source] = true
				tests = append(tests, observability.TestResult{
					Name:    fmt.Sprintf("upstream_present_%s_%s", source, object),
					Status:  observability.StatusError,
					Message: fmt.Sprintf("landed table %s.%s_%s does not exist; source excluded from this run", tenant.Slug, source, object),
				})
				continue
			}
			landings = append(landings, landing{source: source, object: object})
		}
	}

	// All-or-nothing verification: no artifacts are written when any landed
	// table has an unregistered schema.
	for _, l := range landings {
		if missing[l.source] {
			continue
		}
		if err := o.Scaffolder.Verify(ctx, tenant.Slug, l.source, l.object); err != nil {
			return nil, tenant, nil, err
		}
	}

	var models []*model.Model
	var seen = make(map[string]bool)
	for _, l := range landings {
		if missing[l.source] {
			continue
		}
		result, err := o.Scaffolder.Scaffold(ctx, tenant.Slug, l.source, l.object)
		if err != nil {
			return nil, tenant, nil, err
		}
		for _, m := range result.Models {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			models = append(models, m)
		}

		var specs, _ = unpack.SpecsFor(result.MasterModelID)
		intermediate, err := unpack.BuildModel(d, tenant.Slug, l.source, l.object, result.MasterModelID, specs)
		if err != nil {
			return nil, tenant, nil, err
		}
		if !seen[intermediate.ID] {
			seen[intermediate.ID] = true
			models = append(models, intermediate)
		}
	}

	var effective = tenant
	if len(missing) > 0 {
		effective.Sources = nil
		for _, s := range tenant.Sources {
			if missing[s.Platform] {
				var off = s
				off.Enabled = false
				effective.Sources = append(effective.Sources, off)
				continue
			}
			effective.Sources = append(effective.Sources, s)
		}
	}

	stars, err := o.Resolver.Resolve(d, effective)
	if err != nil {
		return nil, effective, nil, err
	}
	models = append(models, stars...)

	return models, effective, tests, nil
}

// runModel executes one model's statements and post-hook under a deadline.
func (o *Orchestrator) runModel(ctx context.Context, timeout time.Duration, m *model.Model) observability.RunResult {
	var result = observability.RunResult{
		ModelID:   m.ID,
		StartedAt: time.Now().UTC(),
	}
	var mctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	for _, stmt := range m.SQL {
		if err = o.Warehouse.Execute(mctx, stmt); err != nil {
			break
		}
	}
	if err == nil && m.PostMerge != nil {
		result.RowsAffected, err = o.Warehouse.Merge(mctx, m.PostMerge)
	}
	result.CompletedAt = time.Now().UTC()

	switch {
	case err == nil:
		result.Status = observability.StatusSuccess
	case ctx.Err() != nil:
		result.Status = observability.StatusCancelled
		result.Message = err.Error()
	case errors.Is(mctx.Err(), context.DeadlineExceeded):
		result.Status = observability.StatusTimedOut
		result.Message = fmt.Sprintf("model exceeded its %s deadline", timeout)
	default:
		result.Status = observability.StatusError
		result.Message = err.Error()
	}

	log.WithFields(log.Fields{
		"model":  m.ID,
		"status": result.Status,
		"rows":   result.RowsAffected,
	}).Debug("materialized model")
	return result
}

// contractChecks verifies the 7 column contract of every master sink the
// plan touched.
func (o *Orchestrator) contractChecks(ctx context.Context, models []*model.Model) []observability.TestResult {
	var out []observability.TestResult
	for _, m := range models {
		if m.Layer != model.LayerMaster {
			continue
		}
		var check = observability.TestResult{
			Name:    "master_contract_" + m.ID,
			ModelID: m.ID,
			Status:  observability.StatusSuccess,
		}
		described, err := o.Warehouse.Describe(ctx, m.Relation)
		if err == nil {
			var columns = make([]fingerprint.NamedType, len(described))
			for i, col := range described {
				columns[i] = fingerprint.NamedType{Name: col.Name, Type: col.Type}
			}
			err = push.ValidateSinkColumns(columns)
		}
		if err != nil {
			check.Status = observability.StatusError
			check.Message = err.Error()
		}
		out = append(out, check)
	}
	return out
}
