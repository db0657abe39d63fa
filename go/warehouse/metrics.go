package warehouse

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var statementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "prism_warehouse_statement_duration_seconds",
	Help: "Duration of warehouse statements.",
}, []string{"target", "kind", "status"})

var mergedRows = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "prism_warehouse_merged_rows_total",
	Help: "Rows inserted into master sinks by push-circuit merges.",
}, []string{"sink"})

func observeStatement(target, kind string, started time.Time, err error) {
	var status = "ok"
	if err != nil {
		status = "error"
	}
	statementDuration.WithLabelValues(target, kind, status).
		Observe(time.Since(started).Seconds())
}
