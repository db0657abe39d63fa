package sqlgen

import (
	"fmt"
	"strings"
)

// SelectColumn is one projected expression of a SELECT.
type SelectColumn struct {
	// Expr is the source expression.
	Expr string
	// Alias names the projected column. Required for determinism.
	Alias string
}

// Select is a structured SELECT statement builder.
type Select struct {
	// With holds named common table expressions, in order.
	With []CTE
	// Columns to project, in order.
	Columns []SelectColumn
	// From is the source relation, rendered by the dialect.
	From Relation
	// FromSQL overrides From with a raw source (a subquery or CTE name).
	FromSQL string
	// Where clauses, joined with AND.
	Where []string
	// GroupBy expressions, in order.
	GroupBy []string
}

// CTE is a named common table expression of a SELECT.
type CTE struct {
	Name string
	Body string
}

// Render the SELECT for the given dialect.
func (s *Select) Render(d *Dialect) string {
	var b strings.Builder

	if len(s.With) > 0 {
		b.WriteString("WITH ")
		for i, cte := range s.With {
			if i > 0 {
				b.WriteString(",\n")
			}
			b.WriteString(d.Identifier(cte.Name))
			b.WriteString(" AS (\n")
			b.WriteString(cte.Body)
			b.WriteString("\n)")
		}
		b.WriteString("\n")
	}

	b.WriteString("SELECT\n")
	for i, col := range s.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("\t")
		b.WriteString(col.Expr)
		if col.Alias != "" {
			b.WriteString(" AS ")
			b.WriteString(d.Identifier(col.Alias))
		}
	}
	b.WriteString("\nFROM ")
	if s.FromSQL != "" {
		b.WriteString(s.FromSQL)
	} else {
		b.WriteString(d.QualifyRelation(s.From))
	}
	if len(s.Where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(s.Where, "\n\tAND "))
	}
	if len(s.GroupBy) > 0 {
		b.WriteString("\nGROUP BY ")
		b.WriteString(strings.Join(s.GroupBy, ", "))
	}
	return b.String()
}

// UnionAll joins SELECT bodies with UNION ALL, preserving branch order.
func UnionAll(branches []string) string {
	return strings.Join(branches, "\nUNION ALL\n")
}

// TypedEmptySelect renders a zero-row SELECT whose projection carries the
// exact names and types of |columns|. It keeps a star-schema table typed and
// present for a tenant which has not onboarded the domain.
func TypedEmptySelect(d *Dialect, columns []Column) (string, error) {
	// A bare SELECT cannot carry a WHERE clause on every engine, so project
	// from a one-row inline source.
	var sel = Select{FromSQL: "(SELECT 1) AS prism_void"}
	for _, col := range columns {
		var expr, err = d.CastExpr("NULL", col.Type)
		if err != nil {
			return "", fmt.Errorf("typing empty column %q: %w", col.Name, err)
		}
		sel.Columns = append(sel.Columns, SelectColumn{Expr: expr, Alias: col.Name})
	}
	sel.Where = append(sel.Where, "1 = 0")
	return sel.Render(d), nil
}
