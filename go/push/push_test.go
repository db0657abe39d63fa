package push

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prismward/prism/go/fingerprint"
	"github.com/prismward/prism/go/model"
	"github.com/prismward/prism/go/sqlgen"
)

func TestContractColumns(t *testing.T) {
	var names []string
	for _, col := range ContractColumns {
		names = append(names, col.Name)
	}
	require.Equal(t, []string{
		"tenant_slug",
		"tenant_skey",
		"source_platform",
		"source_schema_hash",
		"source_schema",
		"raw_data_payload",
		"loaded_at",
	}, names)

	require.Equal(t, sqlgen.JSON, ContractColumns[5].Type)
	require.Equal(t, sqlgen.TIMESTAMP, ContractColumns[6].Type)
	require.True(t, ContractColumns[0].NotNull)
}

func TestSinkModel(t *testing.T) {
	var m, err = SinkModel(sqlgen.PostgresDialect(), "shopify_v1_orders")
	require.NoError(t, err)
	require.Equal(t, "shopify_v1_orders", m.ID)
	require.Equal(t, model.LayerMaster, m.Layer)
	require.Equal(t, sqlgen.Relation{Schema: MasterSchema, Name: "shopify_v1_orders"}, m.Relation)
	require.Empty(t, m.Tenant)

	var sql = strings.Join(m.SQL, ";\n")
	require.Contains(t, sql, "CREATE TABLE IF NOT EXISTS")
	require.Contains(t, sql, `"tenant_slug"`)
	require.NotContains(t, sql, "DROP")
}

func TestValidateSinkColumns(t *testing.T) {
	var described []fingerprint.NamedType
	for _, col := range ContractColumns {
		described = append(described, fingerprint.NamedType{Name: col.Name, Type: "text"})
	}
	require.NoError(t, ValidateSinkColumns(described))

	require.Error(t, ValidateSinkColumns(described[:6]))

	var renamed = make([]fingerprint.NamedType, len(described))
	copy(renamed, described)
	renamed[1].Name = "tenant_surrogate"
	var err = ValidateSinkColumns(renamed)
	require.Error(t, err)
	require.Contains(t, err.Error(), "tenant_skey")
}

func stagingSpec() *StagingSpec {
	return &StagingSpec{
		TenantSlug:     "tyrell_corp",
		SourcePlatform: "shopify",
		Object:         "orders",
		MasterModelID:  "shopify_v1_orders",
		SchemaHash:     "00112233445566778899aabbccddeeff",
		LandedColumns: []fingerprint.NamedType{
			{Name: "order_id", Type: "TEXT"},
			{Name: "total_price", Type: "REAL"},
		},
		ShimRelation: sqlgen.Relation{Schema: AnalyticsSchema, Name: "src_tyrell_corp__shopify_orders"},
	}
}

func TestStagingModel(t *testing.T) {
	var d = sqlgen.SQLiteDialect()
	var m, err = StagingModel(d, stagingSpec())
	require.NoError(t, err)

	require.Equal(t, "stg_tyrell_corp__shopify_orders", m.ID)
	require.Equal(t, model.LayerStaging, m.Layer)
	require.Equal(t, "tyrell_corp", m.Tenant)
	require.Equal(t, []string{"src_tyrell_corp__shopify_orders", "shopify_v1_orders"}, m.DependsOn)

	// A staging model is a view: drop then create, no table DDL.
	require.Len(t, m.SQL, 2)
	require.Contains(t, m.SQL[0], "DROP VIEW")
	require.Contains(t, m.SQL[1], "CREATE VIEW")
	require.Contains(t, m.SQL[1], "'tyrell_corp'")
	require.Contains(t, m.SQL[1], fingerprint.TenantKey("tyrell_corp"))
	require.Contains(t, m.SQL[1], "raw_data_payload")
	require.Contains(t, m.SQL[1], "order_id")

	// The merge fires after the view exists, never inside the view DDL.
	require.NotNil(t, m.PostMerge)
	require.Equal(t, SinkRelation("shopify_v1_orders"), m.PostMerge.Target)
	require.Equal(t, m.Relation, m.PostMerge.Source)
	require.Equal(t, []string{"tenant_slug", "source_platform"}, m.PostMerge.MatchColumns)
	require.Equal(t, []string{"raw_data_payload"}, m.PostMerge.HashColumns)
	require.Len(t, m.PostMerge.InsertColumns, len(ContractColumns))
}

func TestStagingModelSchemaJSON(t *testing.T) {
	var m, err = StagingModel(sqlgen.PostgresDialect(), stagingSpec())
	require.NoError(t, err)
	// The packaged schema map carries normalized types.
	require.Contains(t, m.SQL[1], `"order_id":"string"`)
	require.Contains(t, m.SQL[1], `"total_price":"number"`)
}

func TestShimModel(t *testing.T) {
	var d = sqlgen.SQLiteDialect()
	var landed = sqlgen.Relation{Schema: "tyrell_corp", Name: "shopify_orders"}
	var m = ShimModel(d, "tyrell_corp", "shopify", "orders", landed)

	require.Equal(t, "src_tyrell_corp__shopify_orders", m.ID)
	require.Equal(t, model.LayerSource, m.Layer)
	require.Contains(t, m.SQL[1], "SELECT * FROM "+d.QualifyRelation(landed))
	require.Nil(t, m.PostMerge)
	require.Empty(t, m.DependsOn)
}
