// Package observability persists per-run model and result artifacts into
// warehouse tables read by the external catalog API.
package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/prismward/prism/go/model"
	"github.com/prismward/prism/go/sqlgen"
	"github.com/prismward/prism/go/warehouse"
)

// MetaSchema holds the artifact tables.
const MetaSchema = "prism_meta"

// insertBatchSize bounds value tuples per INSERT, keeping parameter counts
// under engine limits.
const insertBatchSize = 25

// Status of one model materialization.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// RunResult is one model materialization event.
type RunResult struct {
	ModelID      string
	Status       Status
	Message      string
	RowsAffected int64
	StartedAt    time.Time
	CompletedAt  time.Time
}

// ExecutionSeconds is the wall-clock duration of the event.
func (r *RunResult) ExecutionSeconds() float64 {
	if r.CompletedAt.Before(r.StartedAt) {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt).Seconds()
}

// TestResult is one declarative check evaluated during a run.
type TestResult struct {
	Name    string
	ModelID string
	Status  Status
	Message string
}

var modelArtifactsTable = &sqlgen.Table{
	Relation: sqlgen.Relation{Schema: MetaSchema, Name: "model_artifacts"},
	Comment:  "Node inventory of the most recent invocation per tenant.",
	Columns: []sqlgen.Column{
		{Name: "invocation_id", Type: sqlgen.STRING, NotNull: true},
		{Name: "node_id", Type: sqlgen.STRING, NotNull: true},
		{Name: "name", Type: sqlgen.STRING, NotNull: true},
		{Name: "layer", Type: sqlgen.STRING, NotNull: true},
		{Name: "tenant_slug", Type: sqlgen.STRING},
		{Name: "materialization", Type: sqlgen.STRING, NotNull: true},
		{Name: "tags", Type: sqlgen.STRING},
		{Name: "depends_on", Type: sqlgen.STRING},
		{Name: "generated_at", Type: sqlgen.TIMESTAMP, NotNull: true},
	},
	IfNotExists: true,
}

var runResultsTable = &sqlgen.Table{
	Relation: sqlgen.Relation{Schema: MetaSchema, Name: "run_results"},
	Comment:  "Per-model materialization outcomes, appended per invocation.",
	Columns: []sqlgen.Column{
		{Name: "invocation_id", Type: sqlgen.STRING, NotNull: true},
		{Name: "node_id", Type: sqlgen.STRING, NotNull: true},
		{Name: "status", Type: sqlgen.STRING, NotNull: true},
		{Name: "message", Type: sqlgen.STRING},
		{Name: "rows_affected", Type: sqlgen.INTEGER},
		{Name: "execution_time_seconds", Type: sqlgen.NUMBER},
		{Name: "started_at", Type: sqlgen.TIMESTAMP},
		{Name: "completed_at", Type: sqlgen.TIMESTAMP},
	},
	IfNotExists: true,
}

var testArtifactsTable = &sqlgen.Table{
	Relation: sqlgen.Relation{Schema: MetaSchema, Name: "test_artifacts"},
	Comment:  "Declarative check outcomes of the most recent invocation.",
	Columns: []sqlgen.Column{
		{Name: "invocation_id", Type: sqlgen.STRING, NotNull: true},
		{Name: "name", Type: sqlgen.STRING, NotNull: true},
		{Name: "node_id", Type: sqlgen.STRING},
		{Name: "status", Type: sqlgen.STRING, NotNull: true},
		{Name: "message", Type: sqlgen.STRING},
		{Name: "recorded_at", Type: sqlgen.TIMESTAMP, NotNull: true},
	},
	IfNotExists: true,
}

// Collector writes invocation-scoped artifacts. Inventory tables
// (model_artifacts, test_artifacts) are rewritten per invocation;
// run_results is append-only history.
type Collector struct {
	wh           *warehouse.Client
	invocationID string
}

func NewCollector(wh *warehouse.Client, invocationID string) *Collector {
	return &Collector{wh: wh, invocationID: invocationID}
}

// Initialize creates the artifact schema and tables if absent.
func (c *Collector) Initialize(ctx context.Context) error {
	var d = c.wh.Dialect()
	if err := c.wh.Execute(ctx, d.EnsureSchema(MetaSchema)); err != nil {
		return fmt.Errorf("creating artifact schema: %w", err)
	}
	for _, table := range []*sqlgen.Table{modelArtifactsTable, runResultsTable, testArtifactsTable} {
		var stmt, err = d.CreateTable(table)
		if err != nil {
			return fmt.Errorf("rendering %s: %w", table.Relation.Name, err)
		}
		if err = c.wh.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("creating %s: %w", table.Relation.Name, err)
		}
	}
	return nil
}

// RecordModels rewrites the node inventory with the compiled model set.
func (c *Collector) RecordModels(ctx context.Context, models []*model.Model) error {
	var now = time.Now().UTC()
	var rows = make([][]interface{}, 0, len(models))
	for _, m := range models {
		rows = append(rows, []interface{}{
			c.invocationID,
			m.ID,
			m.Relation.Name,
			string(m.Layer),
			m.Tenant,
			materializationOf(m),
			strings.Join(m.Tags, ","),
			strings.Join(m.DependsOn, ","),
			now,
		})
	}
	if err := c.truncate(ctx, modelArtifactsTable); err != nil {
		return err
	}
	return c.batchInsert(ctx, modelArtifactsTable, rows)
}

// RecordResults appends materialization outcomes.
func (c *Collector) RecordResults(ctx context.Context, results []RunResult) error {
	var rows = make([][]interface{}, 0, len(results))
	for _, r := range results {
		rows = append(rows, []interface{}{
			c.invocationID,
			r.ModelID,
			string(r.Status),
			r.Message,
			r.RowsAffected,
			r.ExecutionSeconds(),
			r.StartedAt.UTC(),
			r.CompletedAt.UTC(),
		})
	}
	return c.batchInsert(ctx, runResultsTable, rows)
}

// RecordTests rewrites the check outcomes of this invocation.
func (c *Collector) RecordTests(ctx context.Context, tests []TestResult) error {
	var now = time.Now().UTC()
	var rows = make([][]interface{}, 0, len(tests))
	for _, t := range tests {
		rows = append(rows, []interface{}{
			c.invocationID, t.Name, t.ModelID, string(t.Status), t.Message, now,
		})
	}
	if err := c.truncate(ctx, testArtifactsTable); err != nil {
		return err
	}
	return c.batchInsert(ctx, testArtifactsTable, rows)
}

func (c *Collector) truncate(ctx context.Context, table *sqlgen.Table) error {
	var d = c.wh.Dialect()
	var stmt = fmt.Sprintf("DELETE FROM %s;", d.QualifyRelation(table.Relation))
	if err := c.wh.Execute(ctx, stmt); err != nil {
		return fmt.Errorf("truncating %s: %w", table.Relation.Name, err)
	}
	return nil
}

func (c *Collector) batchInsert(ctx context.Context, table *sqlgen.Table, rows [][]interface{}) error {
	var d = c.wh.Dialect()
	for len(rows) > 0 {
		var n = len(rows)
		if n > insertBatchSize {
			n = insertBatchSize
		}
		var stmt = d.MultiInsertStatement(table, n)
		var args []interface{}
		for _, row := range rows[:n] {
			args = append(args, row...)
		}
		if err := c.wh.Execute(ctx, stmt, args...); err != nil {
			return fmt.Errorf("inserting into %s: %w", table.Relation.Name, err)
		}
		rows = rows[n:]
	}
	log.WithFields(log.Fields{
		"invocation": c.invocationID,
		"table":      table.Relation.Name,
	}).Debug("wrote artifact rows")
	return nil
}

func materializationOf(m *model.Model) string {
	switch m.Layer {
	case model.LayerSource, model.LayerStaging:
		return "view"
	default:
		return "table"
	}
}
