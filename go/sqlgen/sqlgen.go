// Package sqlgen renders warehouse SQL from typed descriptions of tables,
// views, and merges. All generated statements flow through a Dialect so that
// the sandbox (sqlite) and dev (postgres) targets stay byte-deterministic
// for the same inputs.
package sqlgen

import (
	"bufio"
	"fmt"
	"strings"
)

// ColumnType is the minimal set of warehouse-agnostic types used by the
// pipeline. Nullability is modeled separately.
type ColumnType string

// ColumnType constants used by TypeMapper implementations.
const (
	STRING    ColumnType = "string"
	INTEGER   ColumnType = "integer"
	NUMBER    ColumnType = "number"
	BOOLEAN   ColumnType = "boolean"
	JSON      ColumnType = "json"
	TIMESTAMP ColumnType = "timestamp"
	DATE      ColumnType = "date"
)

// Column describes a single column of a warehouse table.
type Column struct {
	// The Name of the column.
	Name string
	// Comment is optional text used only on CREATE TABLE statements.
	Comment string
	// PrimaryKey is true if this column is part of the primary key.
	PrimaryKey bool
	// Type is the warehouse-agnostic type of the column.
	Type ColumnType
	// NotNull is true if the column disallows null values.
	NotNull bool
}

// Table describes a warehouse table from which CREATE TABLE and INSERT
// statements are generated.
type Table struct {
	// The table's qualified location.
	Relation Relation
	// Optional Comment added to create table statements.
	Comment string
	// Columns of the table, in declaration order.
	Columns []Column
	// If IfNotExists, the create statement is idempotent.
	IfNotExists bool
}

// GetColumn returns the named column, or nil.
func (t *Table) GetColumn(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// ColumnNames returns the ordered names of the table's columns.
func (t *Table) ColumnNames() []string {
	var out = make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Relation is a schema-qualified table or view name.
type Relation struct {
	Schema string
	Name   string
}

func (r Relation) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// TokenPair wraps text for quoting or commenting.
type TokenPair struct {
	Left  string
	Right string
}

func (pair TokenPair) writeWrapped(b *strings.Builder, text string) {
	b.WriteString(pair.Left)
	b.WriteString(text)
	b.WriteString(pair.Right)
}

// DoubleQuotes returns a TokenPair of double quote characters.
func DoubleQuotes() TokenPair {
	return TokenPair{Left: "\"", Right: "\""}
}

// CommentConfig determines how SQL comments are rendered.
type CommentConfig struct {
	// Linewise wraps each line of comment text separately when true.
	Linewise bool
	// Wrap bounds the beginning and end of the comment.
	Wrap TokenPair
}

// LineComment returns a CommentConfig for double-dash line comments.
func LineComment() CommentConfig {
	return CommentConfig{
		Linewise: true,
		Wrap:     TokenPair{Left: "-- ", Right: ""},
	}
}

// ResolvedColumnType is a rendered SQL type for one column.
type ResolvedColumnType struct {
	SQLType string
}

// A TypeMapper resolves a Column to a dialect SQL type. Mappers compose as
// decorators.
type TypeMapper interface {
	GetColumnType(column *Column) (*ResolvedColumnType, error)
}

// ConstColumnType is a TypeMapper which always renders a fixed SQL type.
type ConstColumnType string

// GetColumnType implements the TypeMapper interface.
func (c ConstColumnType) GetColumnType(*Column) (*ResolvedColumnType, error) {
	return &ResolvedColumnType{SQLType: string(c)}, nil
}

// ColumnTypeMapper selects a TypeMapper by the column's ColumnType.
type ColumnTypeMapper map[ColumnType]TypeMapper

// GetColumnType implements the TypeMapper interface.
func (m ColumnTypeMapper) GetColumnType(col *Column) (*ResolvedColumnType, error) {
	var mapper = m[col.Type]
	if mapper == nil {
		return nil, fmt.Errorf("unsupported column type %q", col.Type)
	}
	return mapper.GetColumnType(col)
}

// NullableTypeMapping wraps a TypeMapper to append NOT NULL constraints.
type NullableTypeMapping struct {
	NotNullText string
	Inner       TypeMapper
}

// GetColumnType implements the TypeMapper interface.
func (m NullableTypeMapping) GetColumnType(col *Column) (*ResolvedColumnType, error) {
	var ty, err = m.Inner.GetColumnType(col)
	if err != nil {
		return nil, err
	}
	if col.NotNull && len(m.NotNullText) > 0 {
		ty.SQLType = fmt.Sprintf("%s %s", ty.SQLType, m.NotNullText)
	}
	return ty, nil
}

// Dialect renders SQL for one target warehouse engine.
type Dialect struct {
	// Name of the dialect ("sqlite" or "postgres").
	Name string
	// CommentConf controls comment rendering.
	CommentConf CommentConfig
	// IdentifierQuotes wrap identifiers.
	IdentifierQuotes TokenPair
	// TypeMappings resolves column types.
	TypeMappings TypeMapper
	// Placeholder returns the parameter placeholder for a zero-based index.
	Placeholder func(int) string
	// FlatSchemas is true when the engine has no schema objects and
	// schema-qualified relations collapse into a single identifier.
	FlatSchemas bool
	// JSONExtractText renders extraction of a JSON key as text.
	JSONExtractText func(d *Dialect, expr, key string) string
	// JSONExtractJSON renders extraction of a JSON key preserving structure.
	JSONExtractJSON func(d *Dialect, expr, key string) string
	// JSONObject renders construction of a JSON object from column expressions.
	JSONObject func(d *Dialect, pairs []JSONPair) string
	// CurrentTimestamp is the expression for wall-clock now.
	CurrentTimestamp string
	// HashText renders the expression as a text operand for md5(). Engines
	// whose md5() overloads reject non-text types insert a cast here.
	HashText func(d *Dialect, expr string) string
	// EpochSeconds renders conversion of a timestamp expression to unix
	// seconds.
	EpochSeconds func(d *Dialect, expr string) string
	// TimestampFromEpochSeconds renders the inverse conversion.
	TimestampFromEpochSeconds func(d *Dialect, expr string) string
	// CreateViewPrefix opens a create-view statement idempotently.
	CreateViewPrefix string
}

// JSONPair is one key and source expression of a JSON object construction.
type JSONPair struct {
	Key  string
	Expr string
}

// PostgresPlaceholder returns $N placeholders, starting at $1.
func PostgresPlaceholder(i int) string {
	return fmt.Sprintf("$%d", i+1)
}

// QuestionMarkPlaceholder returns the constant string "?".
func QuestionMarkPlaceholder(int) string {
	return "?"
}

// SQLiteDialect returns the Dialect of the sandbox (file-local) target.
func SQLiteDialect() *Dialect {
	var mappings TypeMapper = NullableTypeMapping{
		NotNullText: "NOT NULL",
		Inner: ColumnTypeMapper{
			STRING:    ConstColumnType("TEXT"),
			INTEGER:   ConstColumnType("INTEGER"),
			NUMBER:    ConstColumnType("REAL"),
			BOOLEAN:   ConstColumnType("BOOLEAN"),
			// Sqlite accepts any declared type and pragma_table_info echoes
			// it back, so declaring JSON keeps Describe faithful to the
			// catalog type rather than collapsing it to TEXT.
			JSON:      ConstColumnType("JSON"),
			TIMESTAMP: ConstColumnType("TIMESTAMP"),
			DATE:      ConstColumnType("DATE"),
		},
	}
	return &Dialect{
		Name:             "sqlite",
		CommentConf:      LineComment(),
		IdentifierQuotes: DoubleQuotes(),
		TypeMappings:     mappings,
		Placeholder:      QuestionMarkPlaceholder,
		FlatSchemas:      true,
		JSONExtractText: func(d *Dialect, expr, key string) string {
			return fmt.Sprintf("json_extract(%s, %s)", expr, d.QuoteString(sqlitePath(key)))
		},
		JSONExtractJSON: func(d *Dialect, expr, key string) string {
			return fmt.Sprintf("json_extract(%s, %s)", expr, d.QuoteString(sqlitePath(key)))
		},
		JSONObject: func(d *Dialect, pairs []JSONPair) string {
			var args []string
			for _, p := range pairs {
				args = append(args, d.QuoteString(p.Key)+", "+p.Expr)
			}
			return "json_object(" + strings.Join(args, ", ") + ")"
		},
		CurrentTimestamp: "strftime('%Y-%m-%dT%H:%M:%fZ', 'now')",
		// The registered md5() scalar takes any affinity as text.
		HashText: func(d *Dialect, expr string) string { return expr },
		EpochSeconds: func(d *Dialect, expr string) string {
			return fmt.Sprintf("CAST(strftime('%%s', %s) AS INTEGER)", expr)
		},
		TimestampFromEpochSeconds: func(d *Dialect, expr string) string {
			return fmt.Sprintf("datetime(%s, 'unixepoch')", expr)
		},
		CreateViewPrefix: "CREATE VIEW IF NOT EXISTS ",
	}
}

// PostgresDialect returns the Dialect of the dev (managed cloud) target.
func PostgresDialect() *Dialect {
	var mappings TypeMapper = NullableTypeMapping{
		NotNullText: "NOT NULL",
		Inner: ColumnTypeMapper{
			STRING:    ConstColumnType("VARCHAR"),
			INTEGER:   ConstColumnType("BIGINT"),
			NUMBER:    ConstColumnType("DOUBLE PRECISION"),
			BOOLEAN:   ConstColumnType("BOOLEAN"),
			JSON:      ConstColumnType("JSON"),
			TIMESTAMP: ConstColumnType("TIMESTAMP"),
			DATE:      ConstColumnType("DATE"),
		},
	}
	return &Dialect{
		Name:             "postgres",
		CommentConf:      LineComment(),
		IdentifierQuotes: DoubleQuotes(),
		TypeMappings:     mappings,
		Placeholder:      PostgresPlaceholder,
		FlatSchemas:      false,
		JSONExtractText: func(d *Dialect, expr, key string) string {
			return fmt.Sprintf("(%s::json #>> %s)", expr, d.QuoteString(pgPath(key)))
		},
		JSONExtractJSON: func(d *Dialect, expr, key string) string {
			return fmt.Sprintf("(%s::json #> %s)", expr, d.QuoteString(pgPath(key)))
		},
		JSONObject: func(d *Dialect, pairs []JSONPair) string {
			var args []string
			for _, p := range pairs {
				args = append(args, d.QuoteString(p.Key)+", "+p.Expr)
			}
			return "json_build_object(" + strings.Join(args, ", ") + ")"
		},
		CurrentTimestamp: "now()",
		// md5() has only text and bytea overloads, and json does not cast
		// to either implicitly.
		HashText: func(d *Dialect, expr string) string { return expr + "::text" },
		EpochSeconds: func(d *Dialect, expr string) string {
			return fmt.Sprintf("CAST(EXTRACT(EPOCH FROM %s::timestamp) AS BIGINT)", expr)
		},
		TimestampFromEpochSeconds: func(d *Dialect, expr string) string {
			return fmt.Sprintf("to_timestamp(%s)::timestamp", expr)
		},
		CreateViewPrefix: "CREATE OR REPLACE VIEW ",
	}
}

// pgPath renders a dotted JSON key as a postgres text-array path, so nested
// keys traverse the same way sqlite's $.a.b paths do. Numeric segments index
// into arrays.
func pgPath(key string) string {
	return "{" + strings.Join(strings.Split(key, "."), ",") + "}"
}

// sqlitePath renders a dotted JSON key as a sqlite json path. Numeric
// segments render as array subscripts.
func sqlitePath(key string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range strings.Split(key, ".") {
		if isNumeric(seg) {
			b.WriteString("[" + seg + "]")
		} else {
			b.WriteString("." + seg)
		}
	}
	return b.String()
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Identifier quotes a single identifier.
func (d *Dialect) Identifier(ident string) string {
	var b strings.Builder
	d.IdentifierQuotes.writeWrapped(&b, ident)
	return b.String()
}

// QualifyRelation renders a Relation for use in statements. Engines without
// schema objects collapse the qualification into one identifier.
func (d *Dialect) QualifyRelation(r Relation) string {
	if r.Schema == "" {
		return d.Identifier(r.Name)
	}
	if d.FlatSchemas {
		return d.Identifier(r.Schema + "." + r.Name)
	}
	return d.Identifier(r.Schema) + "." + d.Identifier(r.Name)
}

// FlatName returns the relation name as stored by a FlatSchemas engine.
func (d *Dialect) FlatName(r Relation) string {
	if r.Schema == "" || !d.FlatSchemas {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// QuoteString renders a single-quoted SQL string literal, doubling any
// embedded quote characters.
func (d *Dialect) QuoteString(value string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for {
		var idx = strings.IndexByte(value, '\'')
		if idx == -1 {
			b.WriteString(value)
			break
		}
		b.WriteString(value[:idx])
		b.WriteString("''")
		value = value[idx+1:]
	}
	b.WriteByte('\'')
	return b.String()
}

// Comment returns the text wrapped as a SQL comment, ending with a newline.
func (d *Dialect) Comment(text string) string {
	var b strings.Builder
	d.writeComment(&b, text, "")
	return b.String()
}

// CastExpr renders a CAST of the expression to the dialect type of |ty|.
func (d *Dialect) CastExpr(expr string, ty ColumnType) (string, error) {
	var resolved, err = d.TypeMappings.GetColumnType(&Column{Name: "cast", Type: ty})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CAST(%s AS %s)", expr, resolved.SQLType), nil
}

// EnsureSchema returns the statement creating the schema, or "" when the
// engine has no schema objects.
func (d *Dialect) EnsureSchema(schema string) string {
	if d.FlatSchemas || schema == "" {
		return ""
	}
	return "CREATE SCHEMA IF NOT EXISTS " + d.Identifier(schema) + ";"
}

// CreateTable renders the CREATE TABLE statement for the table.
func (d *Dialect) CreateTable(table *Table) (string, error) {
	var b strings.Builder

	if len(table.Comment) > 0 {
		d.writeComment(&b, table.Comment, "")
	}
	b.WriteString("CREATE TABLE ")
	if table.IfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(d.QualifyRelation(table.Relation))
	b.WriteString(" (\n\t")

	for i, column := range table.Columns {
		if i > 0 {
			b.WriteString(",\n\t")
		}
		if len(column.Comment) > 0 {
			d.writeComment(&b, column.Comment, "\t")
			b.WriteByte('\t')
		}
		b.WriteString(d.Identifier(column.Name))
		b.WriteByte(' ')

		var resolved, err = d.TypeMappings.GetColumnType(&column)
		if err != nil {
			return "", err
		}
		b.WriteString(resolved.SQLType)
		if column.NotNull {
			b.WriteString(" NOT NULL")
		}
	}

	var hasPK bool
	for _, column := range table.Columns {
		if column.PrimaryKey {
			hasPK = true
		}
	}
	if hasPK {
		b.WriteString(",\n\n\tPRIMARY KEY(")
		var first = true
		for _, column := range table.Columns {
			if column.PrimaryKey {
				if !first {
					b.WriteString(", ")
				}
				first = false
				b.WriteString(d.Identifier(column.Name))
			}
		}
		b.WriteString(")")
	}
	b.WriteString("\n);")
	return b.String(), nil
}

// CreateView renders an idempotent view over the given SELECT body.
func (d *Dialect) CreateView(rel Relation, body string) string {
	var b strings.Builder
	b.WriteString(d.CreateViewPrefix)
	b.WriteString(d.QualifyRelation(rel))
	b.WriteString(" AS\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, ";") {
		b.WriteString(";")
	}
	return b.String()
}

// DropView renders an idempotent drop of a view.
func (d *Dialect) DropView(rel Relation) string {
	return "DROP VIEW IF EXISTS " + d.QualifyRelation(rel) + ";"
}

// DropTable renders an idempotent drop of a table.
func (d *Dialect) DropTable(rel Relation) string {
	return "DROP TABLE IF EXISTS " + d.QualifyRelation(rel) + ";"
}

// CreateTableAs renders re-materialization of a table from a SELECT body.
func (d *Dialect) CreateTableAs(rel Relation, body string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(d.QualifyRelation(rel))
	b.WriteString(" AS\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, ";") {
		b.WriteString(";")
	}
	return b.String()
}

// InsertStatement renders a parameterized INSERT covering all table columns.
func (d *Dialect) InsertStatement(table *Table) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.QualifyRelation(table.Relation))
	b.WriteString(" (")
	for i, col := range table.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Identifier(col.Name))
	}
	b.WriteString(") VALUES (")
	for i := range table.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Placeholder(i))
	}
	b.WriteString(");")
	return b.String()
}

// MultiInsertStatement renders a parameterized INSERT of |rows| value tuples.
func (d *Dialect) MultiInsertStatement(table *Table, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.QualifyRelation(table.Relation))
	b.WriteString(" (")
	for i, col := range table.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Identifier(col.Name))
	}
	b.WriteString(") VALUES ")
	var width = len(table.Columns)
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := 0; c < width; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(r*width + c))
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String()
}

func (d *Dialect) writeComment(b *strings.Builder, text string, indent string) {
	var comment = d.CommentConf
	var scanner = bufio.NewScanner(strings.NewReader(text))

	if comment.Linewise {
		var first = true
		for scanner.Scan() {
			if !first {
				b.WriteByte('\n')
				b.WriteString(indent)
			}
			first = false
			comment.Wrap.writeWrapped(b, scanner.Text())
		}
	} else {
		b.WriteString(comment.Wrap.Left)
		var first = true
		for scanner.Scan() {
			if !first {
				b.WriteByte('\n')
				b.WriteString(indent)
			}
			first = false
			b.WriteString(scanner.Text())
		}
		b.WriteString(comment.Wrap.Right)
	}
	b.WriteByte('\n')
}
