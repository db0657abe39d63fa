// Package fingerprint derives the stable 128-bit hash identifying a landed
// table's source-object contract. The hash depends only on the multiset of
// (column name, normalized type) pairs after stripping ETL-internal columns:
// column order, sample data, and row counts never affect it.
package fingerprint

import (
	"encoding/hex"
	"sort"
	"strings"

	"github.com/minio/highwayhash"
)

// The keyed hash uses a fixed key: fingerprints must be stable across
// processes, releases, and hosts.
var hashKey = []byte("prism.schema.fingerprint.key.v1!")

// NamedType is one (column name, engine type) pair of a described relation.
type NamedType struct {
	Name string
	Type string
}

// defaultExclusions are ETL/ingestion bookkeeping columns stripped before
// hashing. Adding or removing any of these on a landed table must not move
// its fingerprint.
var defaultExclusions = map[string]struct{}{
	"_dlt_id":       {},
	"_dlt_load_id":  {},
	"_dlt_root_id":  {},
	"_extracted_at": {},
	"_ingested_at":  {},
	"_row_id":       {},
}

// IsExcluded reports whether a column name belongs to the ETL-internal
// exclusion set.
func IsExcluded(name string) bool {
	var _, ok = defaultExclusions[normalizeName(name)]
	return ok
}

// typeEquivalence maps engine type spellings onto one canonical token, so a
// BIGINT landed by one adapter and an INT8 landed by another fingerprint
// identically.
var typeEquivalence = map[string]string{
	"bigint":   "integer",
	"int":      "integer",
	"int2":     "integer",
	"int4":     "integer",
	"int8":     "integer",
	"integer":  "integer",
	"long":     "integer",
	"smallint": "integer",

	"decimal":          "number",
	"double":           "number",
	"double precision": "number",
	"float":            "number",
	"float4":           "number",
	"float8":           "number",
	"numeric":          "number",
	"real":             "number",

	"char":              "string",
	"character":         "string",
	"character varying": "string",
	"string":            "string",
	"text":              "string",
	"varchar":           "string",

	"bool":    "boolean",
	"boolean": "boolean",

	"datetime":                    "timestamp",
	"timestamp":                   "timestamp",
	"timestamp with time zone":    "timestamp",
	"timestamp without time zone": "timestamp",
	"timestamptz":                 "timestamp",

	"date": "date",

	"json":    "json",
	"jsonb":   "json",
	"object":  "json",
	"variant": "json",
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// NormalizeType maps an engine type spelling to its canonical token.
// Parenthesized length arguments (e.g. VARCHAR(64)) are dropped first.
// Unknown spellings pass through lower-cased, so an unrecognized type still
// fingerprints deterministically.
func NormalizeType(ty string) string {
	var n = normalizeName(ty)
	if idx := strings.IndexByte(n, '('); idx != -1 {
		n = strings.TrimSpace(n[:idx])
	}
	if canonical, ok := typeEquivalence[n]; ok {
		return canonical
	}
	return n
}

// Canonicalize normalizes, filters, and sorts a column set into the exact
// form that is hashed. Exposed so diagnostics can show the canonical shape
// that was (or would be) fingerprinted.
func Canonicalize(columns []NamedType) []NamedType {
	var out []NamedType
	for _, col := range columns {
		var name = normalizeName(col.Name)
		if _, excluded := defaultExclusions[name]; excluded {
			continue
		}
		out = append(out, NamedType{Name: name, Type: NormalizeType(col.Type)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Fingerprint hashes a column set to its lowercase hex fingerprint.
// Identical contracts hash identically regardless of column order; any
// non-excluded column add, remove, or retype moves the hash.
func Fingerprint(columns []NamedType) string {
	var canonical = Canonicalize(columns)

	var parts = make([]string, len(canonical))
	for i, col := range canonical {
		parts[i] = col.Name + ":" + col.Type
	}
	var digest = highwayhash.Sum128([]byte(strings.Join(parts, "|")), hashKey)
	return hex.EncodeToString(digest[:])
}

// TenantKey derives the deterministic tenant surrogate key carried in the
// tenant_skey column of every master sink row.
func TenantKey(tenantSlug string) string {
	var digest = highwayhash.Sum128([]byte("tenant:"+tenantSlug), hashKey)
	return hex.EncodeToString(digest[:])
}

// SymmetricDifference counts columns present in exactly one of the two
// canonicalized sets, used to rank the closest known blueprint when a
// fingerprint is not registered.
func SymmetricDifference(a, b []NamedType) int {
	var counts = make(map[NamedType]int)
	for _, col := range Canonicalize(a) {
		counts[col]++
	}
	for _, col := range Canonicalize(b) {
		counts[col]--
	}
	var diff int
	for _, n := range counts {
		if n < 0 {
			n = -n
		}
		diff += n
	}
	return diff
}
