// Package registry persists the routing table from source-object schema
// fingerprints to master model ids. It is populated once per catalog release
// and read-only thereafter.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/prismward/prism/go/connector"
	"github.com/prismward/prism/go/fingerprint"
	"github.com/prismward/prism/go/sqlgen"
)

// MetaSchema holds the pipeline's bookkeeping tables.
const MetaSchema = "prism_meta"

// TableName of the persisted blueprint table.
const TableName = "connector_blueprints"

// Blueprint is one persisted row of the registry.
type Blueprint struct {
	MasterModelID  string
	SourcePlatform string
	APIVersion     string
	Object         string
	Fingerprint    string
	Columns        []fingerprint.NamedType
}

// ErrNotRegistered is returned by Lookup for an unknown fingerprint.
var ErrNotRegistered = fmt.Errorf("fingerprint is not registered")

// CollisionError is the fatal registry-initialization error raised when two
// master model ids hash to the same fingerprint. No partial registry state
// is left behind.
type CollisionError struct {
	Fingerprint string
	ModelIDs    []string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("blueprint collision: fingerprint %s is shared by %s",
		e.Fingerprint, strings.Join(e.ModelIDs, ", "))
}

// Registry resolves fingerprints against the persisted blueprint table.
type Registry struct {
	client Client
	cache  *lru.Cache[string, Blueprint]
}

// Client is the warehouse surface the registry needs.
type Client interface {
	Dialect() *sqlgen.Dialect
	Execute(ctx context.Context, stmt string, args ...interface{}) error
	Query(ctx context.Context, stmt string, args ...interface{}) (*sql.Rows, error)
	Transactional(ctx context.Context, fn func(*sql.Tx) error) error
}

// New returns a Registry over the given warehouse client.
func New(client Client) (*Registry, error) {
	var cache, err = lru.New[string, Blueprint](256)
	if err != nil {
		return nil, err
	}
	return &Registry{client: client, cache: cache}, nil
}

// blueprintTable describes the persisted registry table at |rel|.
func blueprintTable(rel sqlgen.Relation) *sqlgen.Table {
	return &sqlgen.Table{
		Relation:    rel,
		IfNotExists: true,
		Comment:     "Routing table from source-object schema fingerprints to master model ids. Written only by registry initialization.",
		Columns: []sqlgen.Column{
			{Name: "master_model_id", Type: sqlgen.STRING, NotNull: true, PrimaryKey: true},
			{Name: "source_platform", Type: sqlgen.STRING, NotNull: true},
			{Name: "api_version", Type: sqlgen.STRING, NotNull: true},
			{Name: "object", Type: sqlgen.STRING, NotNull: true},
			{Name: "fingerprint", Type: sqlgen.STRING, NotNull: true},
			{Name: "canonical_schema", Type: sqlgen.JSON, NotNull: true},
		},
	}
}

func liveRelation() sqlgen.Relation {
	return sqlgen.Relation{Schema: MetaSchema, Name: TableName}
}

func stageRelation() sqlgen.Relation {
	return sqlgen.Relation{Schema: MetaSchema, Name: TableName + "_stage"}
}

// Initialize builds the registry from a catalog release. Each catalog entry
// contributes a synthetic row of its canonical columns, whose fingerprint is
// recorded against the entry's master model id. Rows stage into a side
// table which swaps in atomically, so a failed initialization leaves the
// previous registry intact and repeating a successful one is a no-op.
func (r *Registry) Initialize(ctx context.Context, entries []connector.Entry) error {
	var d = r.client.Dialect()

	// Detect collisions before touching the warehouse.
	var byFingerprint = make(map[string][]string)
	var rows []Blueprint
	for i := range entries {
		var e = &entries[i]
		var fp = e.Fingerprint()

		byFingerprint[fp] = append(byFingerprint[fp], e.MasterModelID())
		rows = append(rows, Blueprint{
			MasterModelID:  e.MasterModelID(),
			SourcePlatform: e.Source,
			APIVersion:     e.APIVersion,
			Object:         e.Object,
			Fingerprint:    fp,
			Columns:        fingerprint.Canonicalize(e.Columns),
		})
	}
	for fp, ids := range byFingerprint {
		if len(ids) > 1 {
			return &CollisionError{Fingerprint: fp, ModelIDs: ids}
		}
	}

	if stmt := d.EnsureSchema(MetaSchema); stmt != "" {
		if err := r.client.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring meta schema: %w", err)
		}
	}

	var stage = blueprintTable(stageRelation())
	stage.IfNotExists = false
	var createStage, err = d.CreateTable(stage)
	if err != nil {
		return fmt.Errorf("rendering stage table: %w", err)
	}
	if err := r.client.Execute(ctx, d.DropTable(stageRelation())); err != nil {
		return fmt.Errorf("dropping stale stage: %w", err)
	}
	if err := r.client.Execute(ctx, createStage); err != nil {
		return fmt.Errorf("creating stage: %w", err)
	}

	var insert = d.InsertStatement(stage)
	for _, bp := range rows {
		var schemaJSON, err = json.Marshal(columnMap(bp.Columns))
		if err != nil {
			return fmt.Errorf("encoding canonical schema: %w", err)
		}
		if err := r.client.Execute(ctx, insert,
			bp.MasterModelID,
			bp.SourcePlatform,
			bp.APIVersion,
			bp.Object,
			bp.Fingerprint,
			string(schemaJSON),
		); err != nil {
			return fmt.Errorf("staging blueprint %s: %w", bp.MasterModelID, err)
		}
	}

	// Swap the staged table in under one transaction.
	err = r.client.Transactional(ctx, func(txn *sql.Tx) error {
		if _, err := txn.ExecContext(ctx, d.DropTable(liveRelation())); err != nil {
			return fmt.Errorf("dropping previous registry: %w", err)
		}
		var rename = fmt.Sprintf("ALTER TABLE %s RENAME TO %s;",
			d.QualifyRelation(stageRelation()), renameTarget(d))
		if _, err := txn.ExecContext(ctx, rename); err != nil {
			return fmt.Errorf("swapping staged registry: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.cache.Purge()
	log.WithFields(log.Fields{
		"blueprints": len(rows),
	}).Info("initialized connector blueprint registry")
	return nil
}

// renameTarget is the RENAME TO argument: engines differ on whether it may
// be qualified.
func renameTarget(d *sqlgen.Dialect) string {
	if d.FlatSchemas {
		return d.Identifier(MetaSchema + "." + TableName)
	}
	// Postgres RENAME TO takes an unqualified name within the same schema.
	return d.Identifier(TableName)
}

// Lookup resolves a fingerprint to its Blueprint, or ErrNotRegistered.
func (r *Registry) Lookup(ctx context.Context, fp string) (Blueprint, error) {
	if bp, ok := r.cache.Get(fp); ok {
		return bp, nil
	}
	var d = r.client.Dialect()
	var stmt = fmt.Sprintf(
		`SELECT master_model_id, source_platform, api_version, object, canonical_schema FROM %s WHERE fingerprint = %s;`,
		d.QualifyRelation(liveRelation()), d.Placeholder(0))

	var rows, err = r.client.Query(ctx, stmt, fp)
	if err != nil {
		return Blueprint{}, fmt.Errorf("querying blueprint registry: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Blueprint{}, err
		}
		return Blueprint{}, fmt.Errorf("fingerprint %s: %w", fp, ErrNotRegistered)
	}
	var bp = Blueprint{Fingerprint: fp}
	var schemaJSON string
	if err := rows.Scan(&bp.MasterModelID, &bp.SourcePlatform, &bp.APIVersion, &bp.Object, &schemaJSON); err != nil {
		return Blueprint{}, fmt.Errorf("scanning blueprint: %w", err)
	}
	bp.Columns = columnsFromMap(schemaJSON)

	r.cache.Add(fp, bp)
	return bp, nil
}

// All returns every registered blueprint, ordered by master model id.
func (r *Registry) All(ctx context.Context) ([]Blueprint, error) {
	var d = r.client.Dialect()
	var stmt = fmt.Sprintf(
		`SELECT master_model_id, source_platform, api_version, object, fingerprint, canonical_schema FROM %s ORDER BY master_model_id ASC;`,
		d.QualifyRelation(liveRelation()))

	var rows, err = r.client.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("querying blueprint registry: %w", err)
	}
	defer rows.Close()

	var out []Blueprint
	for rows.Next() {
		var bp Blueprint
		var schemaJSON string
		if err := rows.Scan(&bp.MasterModelID, &bp.SourcePlatform, &bp.APIVersion,
			&bp.Object, &bp.Fingerprint, &schemaJSON); err != nil {
			return nil, fmt.Errorf("scanning blueprint: %w", err)
		}
		bp.Columns = columnsFromMap(schemaJSON)
		out = append(out, bp)
	}
	return out, rows.Err()
}

// Closest returns the registered blueprint with the smallest symmetric
// column-set difference from |observed|, for UnknownSchema diagnostics.
func (r *Registry) Closest(ctx context.Context, observed []fingerprint.NamedType) (*Blueprint, int, error) {
	var all, err = r.All(ctx)
	if err != nil {
		return nil, 0, err
	}
	var best *Blueprint
	var bestDiff int
	for i := range all {
		var diff = fingerprint.SymmetricDifference(observed, all[i].Columns)
		if best == nil || diff < bestDiff {
			best = &all[i]
			bestDiff = diff
		}
	}
	return best, bestDiff, nil
}

func columnMap(columns []fingerprint.NamedType) map[string]string {
	var out = make(map[string]string, len(columns))
	for _, col := range columns {
		out[col.Name] = col.Type
	}
	return out
}

func columnsFromMap(schemaJSON string) []fingerprint.NamedType {
	var m map[string]string
	if err := json.Unmarshal([]byte(schemaJSON), &m); err != nil {
		return nil
	}
	var out []fingerprint.NamedType
	for name, ty := range m {
		out = append(out, fingerprint.NamedType{Name: name, Type: ty})
	}
	return fingerprint.Canonicalize(out)
}
