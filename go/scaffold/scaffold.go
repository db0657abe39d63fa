// Package scaffold turns a landed source table into its pipeline artifacts:
// a source shim, a staging view wired with the push hook, and the guarantee
// that the routed master sink exists.
package scaffold

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/prismward/prism/go/fingerprint"
	"github.com/prismward/prism/go/model"
	"github.com/prismward/prism/go/push"
	"github.com/prismward/prism/go/registry"
	"github.com/prismward/prism/go/sqlgen"
	"github.com/prismward/prism/go/warehouse"
)

// UnknownSchemaError reports a landed table whose fingerprint has no
// registered blueprint. It carries the observed canonical columns and the
// closest known blueprint so an operator can see what drifted.
type UnknownSchemaError struct {
	TenantSlug     string
	SourcePlatform string
	Object         string
	Fingerprint    string
	Observed       []fingerprint.NamedType
	Closest        *registry.Blueprint
	ClosestDiff    int
}

func (e *UnknownSchemaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "unknown schema for %s.%s_%s (fingerprint %s)",
		e.TenantSlug, e.SourcePlatform, e.Object, e.Fingerprint)
	fmt.Fprintf(&b, "; observed columns: %s", renderColumns(e.Observed))
	if e.Closest != nil {
		fmt.Fprintf(&b, "; closest blueprint: %s (differs by %d columns: %s)",
			e.Closest.MasterModelID, e.ClosestDiff, renderColumns(e.Closest.Columns))
	}
	return b.String()
}

func renderColumns(columns []fingerprint.NamedType) string {
	var parts = make([]string, len(columns))
	for i, col := range columns {
		parts[i] = col.Name + ":" + col.Type
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

// Result is the output of scaffolding one landed table.
type Result struct {
	MasterModelID string
	Fingerprint   string
	// Models are the sink, shim, and staging models, in build order.
	Models []*model.Model
}

// Scaffolder builds pipeline artifacts from landed tables.
type Scaffolder struct {
	Warehouse *warehouse.Client
	Registry  *registry.Registry
	// ArtifactsDir is the root of persisted generated SQL. Empty disables
	// persistence (used by tests).
	ArtifactsDir string

	describeCache *lru.Cache[string, []fingerprint.NamedType]
}

// New returns a Scaffolder.
func New(wh *warehouse.Client, reg *registry.Registry, artifactsDir string) (*Scaffolder, error) {
	var cache, err = lru.New[string, []fingerprint.NamedType](128)
	if err != nil {
		return nil, err
	}
	return &Scaffolder{
		Warehouse:     wh,
		Registry:      reg,
		ArtifactsDir:  artifactsDir,
		describeCache: cache,
	}, nil
}

// LandedRelation locates the raw table of (tenant, source, object).
func LandedRelation(tenant, source, object string) sqlgen.Relation {
	return sqlgen.Relation{Schema: tenant, Name: source + "_" + object}
}

// Verify resolves a landed table against the blueprint registry without
// creating anything: describe, fingerprint, lookup. Callers verify every
// landed table before scaffolding any of them, so an unknown schema aborts
// a run with zero artifacts written.
func (s *Scaffolder) Verify(ctx context.Context, tenant, source, object string) error {
	var _, _, _, err = s.resolve(ctx, tenant, source, object)
	return err
}

func (s *Scaffolder) resolve(ctx context.Context, tenant, source, object string) ([]fingerprint.NamedType, string, registry.Blueprint, error) {
	var landed = LandedRelation(tenant, source, object)

	var columns, err = s.describe(ctx, landed)
	if err != nil {
		return nil, "", registry.Blueprint{}, fmt.Errorf("describing landed table %s: %w", landed, err)
	}

	var fp = fingerprint.Fingerprint(columns)
	bp, err := s.Registry.Lookup(ctx, fp)
	if errors.Is(err, registry.ErrNotRegistered) {
		var unknown = &UnknownSchemaError{
			TenantSlug:     tenant,
			SourcePlatform: source,
			Object:         object,
			Fingerprint:    fp,
			Observed:       fingerprint.Canonicalize(columns),
		}
		if closest, diff, cErr := s.Registry.Closest(ctx, columns); cErr == nil {
			unknown.Closest, unknown.ClosestDiff = closest, diff
		}
		return nil, "", registry.Blueprint{}, unknown
	} else if err != nil {
		return nil, "", registry.Blueprint{}, fmt.Errorf("looking up fingerprint of %s: %w", landed, err)
	}
	return columns, fp, bp, nil
}

// Scaffold runs the full scaffolding sequence for one landed table:
// describe, fingerprint, registry lookup, ensure sink, emit shim and
// staging artifacts. Same inputs always produce byte-identical artifacts.
func (s *Scaffolder) Scaffold(ctx context.Context, tenant, source, object string) (*Result, error) {
	var d = s.Warehouse.Dialect()
	var landed = LandedRelation(tenant, source, object)

	columns, fp, bp, err := s.resolve(ctx, tenant, source, object)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"tenant":      tenant,
		"landed":      landed.String(),
		"fingerprint": fp,
		"master":      bp.MasterModelID,
	}).Info("scaffolding landed table")

	sink, err := push.SinkModel(d, bp.MasterModelID)
	if err != nil {
		return nil, err
	}

	var shim = push.ShimModel(d, tenant, source, object, landed)

	staging, err := push.StagingModel(d, &push.StagingSpec{
		TenantSlug:     tenant,
		SourcePlatform: source,
		Object:         object,
		MasterModelID:  bp.MasterModelID,
		SchemaHash:     fp,
		LandedColumns:  columns,
		ShimRelation:   shim.Relation,
	})
	if err != nil {
		return nil, err
	}

	var result = &Result{
		MasterModelID: bp.MasterModelID,
		Fingerprint:   fp,
		Models:        []*model.Model{sink, shim, staging},
	}
	if err := s.persistArtifacts(tenant, result.Models); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Scaffolder) describe(ctx context.Context, rel sqlgen.Relation) ([]fingerprint.NamedType, error) {
	if cached, ok := s.describeCache.Get(rel.String()); ok {
		return cached, nil
	}
	var info, err = s.Warehouse.Describe(ctx, rel)
	if err != nil {
		return nil, err
	}
	var out = make([]fingerprint.NamedType, len(info))
	for i, col := range info {
		out[i] = fingerprint.NamedType{Name: col.Name, Type: col.Type}
	}
	s.describeCache.Add(rel.String(), out)
	return out, nil
}

// persistArtifacts writes each model's SQL under a deterministic path:
// {root}/{tenant}/{layer}/{model_id}.sql. Master sinks, which are shared,
// persist under the reserved tenant directory "_shared".
func (s *Scaffolder) persistArtifacts(tenant string, models []*model.Model) error {
	if s.ArtifactsDir == "" {
		return nil
	}
	for _, m := range models {
		var owner = tenant
		if m.Layer == model.LayerMaster {
			owner = "_shared"
		}
		var dir = filepath.Join(s.ArtifactsDir, owner, string(m.Layer))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating artifact dir: %w", err)
		}
		var body = strings.Join(m.SQL, "\n\n")
		if m.PostMerge != nil {
			var merge, err = s.Warehouse.Dialect().RenderMerge(m.PostMerge)
			if err != nil {
				return err
			}
			body += "\n\n-- post-hook\n" + merge
		}
		body += "\n"
		var path = filepath.Join(dir, m.ID+".sql")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return fmt.Errorf("writing artifact %s: %w", path, err)
		}
	}
	return nil
}
