package tenants

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prismward/prism/go/warehouse"
)

func TestWarehouseHistoryRecords(t *testing.T) {
	var ctx = context.Background()
	var wh, err = warehouse.Open(warehouse.TargetSandbox, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() })

	recorder, err := NewWarehouseHistory(ctx, wh)
	require.NoError(t, err)

	require.NoError(t, recorder.RecordConfigChange(ctx, ConfigChange{
		TenantSlug: "tyrell_corp",
		Operation:  "upsert",
		Status:     StatusOnboarding,
		ConfigYAML: "tenant_slug: tyrell_corp\n",
		ChangedAt:  time.Now(),
	}))
	require.NoError(t, recorder.RecordConfigChange(ctx, ConfigChange{
		TenantSlug: "tyrell_corp",
		Operation:  "mark_status",
		Status:     StatusActive,
		ChangedAt:  time.Now(),
	}))

	var rows, qErr = wh.Query(ctx,
		`SELECT operation, status FROM "prism_meta.tenant_config_history" ORDER BY operation`)
	require.NoError(t, qErr)
	defer rows.Close()

	type change struct{ op, status string }
	var got []change
	for rows.Next() {
		var c change
		require.NoError(t, rows.Scan(&c.op, &c.status))
		got = append(got, c)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []change{
		{"mark_status", "active"},
		{"upsert", "onboarding"},
	}, got)
}
