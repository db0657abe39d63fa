package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintIgnoresColumnOrder(t *testing.T) {
	var a = []NamedType{
		{Name: "id", Type: "text"},
		{Name: "total", Type: "double"},
		{Name: "created_at", Type: "timestamp"},
	}
	var b = []NamedType{
		{Name: "created_at", Type: "timestamp"},
		{Name: "id", Type: "text"},
		{Name: "total", Type: "double"},
	}
	require.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintIgnoresETLColumns(t *testing.T) {
	var base = []NamedType{
		{Name: "id", Type: "text"},
		{Name: "total", Type: "double"},
	}
	var withETL = append([]NamedType{
		{Name: "_dlt_id", Type: "text"},
		{Name: "_dlt_load_id", Type: "text"},
		{Name: "_extracted_at", Type: "timestamp"},
	}, base...)
	require.Equal(t, Fingerprint(base), Fingerprint(withETL))
}

func TestFingerprintTypeEquivalence(t *testing.T) {
	var a = []NamedType{
		{Name: "id", Type: "BIGINT"},
		{Name: "name", Type: "VARCHAR(255)"},
		{Name: "price", Type: "numeric"},
		{Name: "meta", Type: "jsonb"},
	}
	var b = []NamedType{
		{Name: "id", Type: "int8"},
		{Name: "name", Type: "text"},
		{Name: "price", Type: "double precision"},
		{Name: "meta", Type: "variant"},
	}
	require.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintSensitiveToSchemaChange(t *testing.T) {
	var base = []NamedType{{Name: "id", Type: "text"}}
	var added = append([]NamedType{{Name: "surprise", Type: "text"}}, base...)
	var retyped = []NamedType{{Name: "id", Type: "bigint"}}

	require.NotEqual(t, Fingerprint(base), Fingerprint(added))
	require.NotEqual(t, Fingerprint(base), Fingerprint(retyped))
}

func TestFingerprintShape(t *testing.T) {
	var fp = Fingerprint([]NamedType{{Name: "id", Type: "text"}})
	require.Len(t, fp, 32)
	require.Equal(t, fp, Fingerprint([]NamedType{{Name: "ID", Type: "TEXT"}}))
}

func TestNormalizeType(t *testing.T) {
	var cases = map[string]string{
		"VARCHAR(64)":                 "string",
		"timestamp without time zone": "timestamp",
		"Double Precision":            "number",
		"BOOL":                        "boolean",
		"weird_engine_type":           "weird_engine_type",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeType(in), "input %q", in)
	}
}

func TestCanonicalizeSortsAndFilters(t *testing.T) {
	var got = Canonicalize([]NamedType{
		{Name: "Zeta", Type: "TEXT"},
		{Name: "_row_id", Type: "text"},
		{Name: "alpha", Type: "BIGINT"},
	})
	require.Equal(t, []NamedType{
		{Name: "alpha", Type: "integer"},
		{Name: "zeta", Type: "string"},
	}, got)
}

func TestTenantKeyIsStableAndDistinct(t *testing.T) {
	require.Equal(t, TenantKey("tyrell_corp"), TenantKey("tyrell_corp"))
	require.NotEqual(t, TenantKey("tyrell_corp"), TenantKey("wallace_corp"))
	require.Len(t, TenantKey("tyrell_corp"), 32)
}

func TestSymmetricDifference(t *testing.T) {
	var a = []NamedType{
		{Name: "id", Type: "text"},
		{Name: "total", Type: "double"},
	}
	var b = []NamedType{
		{Name: "id", Type: "text"},
		{Name: "total", Type: "double"},
		{Name: "surprise", Type: "text"},
	}
	require.Equal(t, 0, SymmetricDifference(a, a))
	require.Equal(t, 1, SymmetricDifference(a, b))

	// A retyped column counts on both sides.
	var c = []NamedType{
		{Name: "id", Type: "bigint"},
		{Name: "total", Type: "double"},
	}
	require.Equal(t, 2, SymmetricDifference(a, c))
}
