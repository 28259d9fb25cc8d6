package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/credpulse/internal/adapter/metrics"
)

const backendName = "postgres"

// MetricsTracer implements pgx.QueryTracer and records per-statement metrics.
type MetricsTracer struct {
	metrics *metrics.StoreMetrics
	clock   clockwork.Clock
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

func NewMetricsTracer(m *metrics.StoreMetrics, clock clockwork.Clock) *MetricsTracer {
	return &MetricsTracer{metrics: m, clock: clock}
}

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	queryName string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: t.clock.Now(),
		queryName: extractQueryName(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}

	status := "ok"
	if data.Err != nil {
		status = "error"
	}
	t.metrics.OperationDuration.WithLabelValues(backendName, qctx.queryName).Observe(t.clock.Since(qctx.startTime).Seconds())
	t.metrics.Operations.WithLabelValues(backendName, qctx.queryName, status).Inc()
}

// extractQueryName reduces SQL to its leading keyword to keep label
// cardinality low.
func extractQueryName(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	name := strings.ToUpper(fields[0])
	if len(name) > 20 {
		return name[:20]
	}
	return name
}
