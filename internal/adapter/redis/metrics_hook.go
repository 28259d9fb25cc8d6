package redis

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/credpulse/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const backendName = "redis"

// MetricsHook implements redis.Hook to collect metrics on all Redis operations.
type MetricsHook struct {
	metrics *metrics.StoreMetrics
	clock   clockwork.Clock
}

var _ goredis.Hook = (*MetricsHook)(nil)

func NewMetricsHook(m *metrics.StoreMetrics, clock clockwork.Clock) *MetricsHook {
	return &MetricsHook{metrics: m, clock: clock}
}

func (h *MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.metrics.Operations.WithLabelValues(backendName, "dial", "error").Inc()
		}
		return conn, err
	}
}

func (h *MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := h.clock.Now()
		err := next(ctx, cmd)
		h.observe(cmd.Name(), start, err)
		return err
	}
}

// ProcessPipelineHook tracks a pipeline as a single operation.
func (h *MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := h.clock.Now()
		err := next(ctx, cmds)
		h.observe("pipeline", start, err)
		return err
	}
}

func (h *MetricsHook) observe(operation string, start time.Time, err error) {
	status := "success"
	if isFailure(err) {
		status = "error"
	}
	h.metrics.Operations.WithLabelValues(backendName, operation, status).Inc()
	h.metrics.OperationDuration.WithLabelValues(backendName, operation).Observe(h.clock.Since(start).Seconds())
}

func isFailure(err error) bool {
	return err != nil && !errors.Is(err, goredis.Nil)
}
