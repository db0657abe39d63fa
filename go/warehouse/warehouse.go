// Package warehouse wraps the target SQL engine behind a thin client:
// statement execution, query streaming, catalog enumeration, scoped
// transactions, and the merge primitive of the push circuit.
package warehouse

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prismward/prism/go/sqlgen"

	_ "github.com/jackc/pgx/v5/stdlib" // Import for registration side-effect.
	sqlite3 "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// Target selects the warehouse engine.
type Target string

const (
	// TargetSandbox is the file-local sqlite engine.
	TargetSandbox Target = "sandbox"
	// TargetDev is the managed Postgres engine.
	TargetDev Target = "dev"
)

// ParseTarget maps a CLI flag value to a Target.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetSandbox, TargetDev:
		return Target(s), nil
	}
	return "", fmt.Errorf("unknown target %q (expected sandbox or dev)", s)
}

// The sandbox driver registers an md5() scalar so the push-circuit match
// predicate renders identically on both targets.
const sandboxDriver = "sqlite3_prism"

var registerOnce sync.Once

func registerSandboxDriver() {
	registerOnce.Do(func() {
		sql.Register(sandboxDriver, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("md5", func(v string) string {
					var sum = md5.Sum([]byte(v))
					return hex.EncodeToString(sum[:])
				}, true)
			},
		})
	})
}

// ColumnInfo is one column of a described relation.
type ColumnInfo struct {
	Name string
	Type string
}

// Client is a connected warehouse endpoint. It is safe for concurrent use;
// merges into a shared master sink additionally serialize on a named lock
// scoped by the sink.
type Client struct {
	db      *sql.DB
	dialect *sqlgen.Dialect
	target  Target

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open connects to the warehouse selected by |target|. The sandbox target
// treats |dsn| as a sqlite file path (":memory:" is permitted for tests);
// the dev target expects a Postgres DSN, typically from PRISM_WAREHOUSE_DSN.
func Open(target Target, dsn string) (*Client, error) {
	var db *sql.DB
	var dialect *sqlgen.Dialect
	var err error

	switch target {
	case TargetSandbox:
		registerSandboxDriver()
		if !strings.Contains(dsn, "?") && dsn != ":memory:" {
			dsn = "file:" + dsn + "?_busy_timeout=5000"
		}
		db, err = sql.Open(sandboxDriver, dsn)
		dialect = sqlgen.SQLiteDialect()
	case TargetDev:
		db, err = sql.Open("pgx", dsn)
		dialect = sqlgen.PostgresDialect()
	default:
		return nil, fmt.Errorf("unknown warehouse target %q", target)
	}
	if err != nil {
		return nil, fmt.Errorf("opening warehouse: %w", err)
	}
	if target == TargetSandbox {
		// A single writer connection sidesteps sqlite's writer contention;
		// the engine serializes statements for us.
		db.SetMaxOpenConns(1)
	}
	return &Client{
		db:      db,
		dialect: dialect,
		target:  target,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// Dialect of the connected engine.
func (c *Client) Dialect() *sqlgen.Dialect { return c.dialect }

// Target of the connected engine.
func (c *Client) Target() Target { return c.target }

// Close the underlying connection pool.
func (c *Client) Close() error { return c.db.Close() }

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("connecting to warehouse: %w", err)
	}
	return nil
}

// Execute runs a statement, discarding any result rows. An empty statement
// is a no-op: flat-schema dialects render schema creation as "".
func (c *Client) Execute(ctx context.Context, stmt string, args ...interface{}) error {
	if strings.TrimSpace(stmt) == "" {
		return nil
	}
	var started = time.Now()
	var _, err = c.db.ExecContext(ctx, stmt, args...)
	observeStatement(string(c.target), "execute", started, err)
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}
	return nil
}

// ExecuteRows runs a statement and returns the count of affected rows.
func (c *Client) ExecuteRows(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	var started = time.Now()
	var res, err = c.db.ExecContext(ctx, stmt, args...)
	observeStatement(string(c.target), "execute", started, err)
	if err != nil {
		return 0, fmt.Errorf("executing statement: %w", err)
	}
	var n, raErr = res.RowsAffected()
	if raErr != nil {
		// Not every engine reports affected rows; treat as unknown.
		return 0, nil
	}
	return n, nil
}

// Query runs a statement and streams its result rows.
func (c *Client) Query(ctx context.Context, stmt string, args ...interface{}) (*sql.Rows, error) {
	var started = time.Now()
	var rows, err = c.db.QueryContext(ctx, stmt, args...)
	observeStatement(string(c.target), "query", started, err)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	return rows, nil
}

// QueryRow runs a statement expected to produce at most one row.
func (c *Client) QueryRow(ctx context.Context, stmt string, args ...interface{}) *sql.Row {
	return c.db.QueryRowContext(ctx, stmt, args...)
}

// Describe enumerates the columns and engine types of a relation.
func (c *Client) Describe(ctx context.Context, rel sqlgen.Relation) ([]ColumnInfo, error) {
	var stmt string
	var args []interface{}

	if c.target == TargetSandbox {
		stmt = `SELECT name, type FROM pragma_table_info(?) ORDER BY cid;`
		args = []interface{}{c.dialect.FlatName(rel)}
	} else {
		stmt = `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position;`
		args = []interface{}{rel.Schema, rel.Name}
	}

	var rows, err = c.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", rel, err)
	}
	defer rows.Close()

	var out []ColumnInfo
	for rows.Next() {
		var col ColumnInfo
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("scanning column of %s: %w", rel, err)
		}
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("relation %s does not exist or has no columns", rel)
	}
	return out, nil
}

// ListTables enumerates tables and views within a schema.
func (c *Client) ListTables(ctx context.Context, schema string) ([]string, error) {
	var stmt string
	var args []interface{}

	if c.target == TargetSandbox {
		stmt = `SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name LIKE ? ORDER BY name;`
		args = []interface{}{schema + ".%"}
	} else {
		stmt = `SELECT table_name FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_name;`
		args = []interface{}{schema}
	}

	var rows, err = c.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tables of %q: %w", schema, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if c.target == TargetSandbox {
			name = strings.TrimPrefix(name, schema+".")
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// RelationExists reports whether a table or view exists.
func (c *Client) RelationExists(ctx context.Context, rel sqlgen.Relation) (bool, error) {
	var stmt string
	var args []interface{}

	if c.target == TargetSandbox {
		stmt = `SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?;`
		args = []interface{}{c.dialect.FlatName(rel)}
	} else {
		stmt = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2;`
		args = []interface{}{rel.Schema, rel.Name}
	}
	var n int
	if err := c.QueryRow(ctx, stmt, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("checking %s: %w", rel, err)
	}
	return n > 0, nil
}

// Transactional runs |fn| within a transaction, guaranteeing commit on
// success and rollback on error, panic, or cancellation.
func (c *Client) Transactional(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	var txn *sql.Tx
	txn, err = c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	var committed bool
	defer func() {
		if !committed {
			_ = txn.Rollback()
		}
	}()

	if err = fn(txn); err != nil {
		return err
	}
	if err = txn.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}

// Merge runs the push-circuit merge, serialized per target sink by a named
// advisory lock. Returns the count of newly inserted master rows.
func (c *Client) Merge(ctx context.Context, spec *sqlgen.MergeSpec) (int64, error) {
	var stmt, err = c.dialect.RenderMerge(spec)
	if err != nil {
		return 0, fmt.Errorf("rendering merge into %s: %w", spec.Target, err)
	}

	var lock = c.namedLock(spec.Target.String())
	lock.Lock()
	defer lock.Unlock()

	rows, err := c.ExecuteRows(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("merge into %s: %w", spec.Target, err)
	}
	log.WithFields(log.Fields{
		"target": spec.Target.String(),
		"source": spec.Source.String(),
		"rows":   rows,
	}).Debug("merged staging rows into master sink")
	mergedRows.WithLabelValues(spec.Target.String()).Add(float64(rows))

	return rows, nil
}

// namedLock returns the process-wide mutex for a lock name.
func (c *Client) namedLock(name string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	var l, ok = c.locks[name]
	if !ok {
		l = new(sync.Mutex)
		c.locks[name] = l
	}
	return l
}
