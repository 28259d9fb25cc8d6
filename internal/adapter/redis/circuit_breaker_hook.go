package redis

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/credpulse/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const (
	breakerFailureThreshold = 5
	breakerDelay            = 30 * time.Second
	fallbackTTL             = 5 * time.Minute
)

// CircuitBreakerHook implements redis.Hook and stops sending commands to an
// unhealthy Redis. While open, story reads are answered from the last
// successful HGETALL for that key; writes fail fast.
type CircuitBreakerHook struct {
	cb      circuitbreaker.CircuitBreaker[any]
	clock   clockwork.Clock
	metrics *metrics.StoreMetrics

	mu        sync.RWMutex
	fallback  map[string]cachedHash
	lastPrune time.Time
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

type cachedHash struct {
	fields   map[string]string
	storedAt time.Time
}

// NewCircuitBreakerHook opens after 5 consecutive failures, probes again
// after 30s and closes on the first successful probe.
func NewCircuitBreakerHook(m *metrics.StoreMetrics, clock clockwork.Clock) *CircuitBreakerHook {
	h := &CircuitBreakerHook{
		clock:    clock,
		metrics:  m,
		fallback: make(map[string]cachedHash),
	}
	h.lastPrune = clock.Now()

	h.cb = circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(breakerFailureThreshold).
		WithDelay(breakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", backendName,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			m.CircuitBreakerFlips.WithLabelValues(backendName, e.NewState.String()).Inc()
			m.CircuitBreakerState.WithLabelValues(backendName).Set(stateToFloat(e.NewState))
		}).
		Build()

	m.CircuitBreakerState.WithLabelValues(backendName).Set(stateToFloat(circuitbreaker.ClosedState))
	return h
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !h.cb.TryAcquirePermit() {
			return nil, fmt.Errorf("redis circuit breaker open: %w", circuitbreaker.ErrOpen)
		}
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.cb.RecordError(err)
			return nil, err
		}
		h.cb.RecordSuccess()
		return conn, nil
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return h.handleFallback(cmd)
		}

		err := next(ctx, cmd)
		if isFailure(err) {
			h.cb.RecordError(err)
			return err
		}
		h.cb.RecordSuccess()
		h.remember(cmd)
		return err
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return fmt.Errorf("redis circuit breaker open: %w", circuitbreaker.ErrOpen)
		}

		err := next(ctx, cmds)
		if isFailure(err) {
			h.cb.RecordError(err)
			return err
		}
		h.cb.RecordSuccess()
		return err
	}
}

// handleFallback serves HGETALL from the fallback cache while the breaker is
// open. Everything else fails with circuitbreaker.ErrOpen.
func (h *CircuitBreakerHook) handleFallback(cmd goredis.Cmder) error {
	if c, ok := cmd.(*goredis.MapStringStringCmd); ok && cmd.Name() == "hgetall" {
		if fields, ok := h.lookup(cmdKey(cmd)); ok {
			slog.Debug("Circuit breaker open, serving from cache", "command", cmd.Name(), "key", cmdKey(cmd))
			c.SetVal(fields)
			return nil
		}
	}

	err := fmt.Errorf("redis circuit breaker open: %w", circuitbreaker.ErrOpen)
	cmd.SetErr(err)
	return err
}

func (h *CircuitBreakerHook) remember(cmd goredis.Cmder) {
	c, ok := cmd.(*goredis.MapStringStringCmd)
	if !ok || cmd.Name() != "hgetall" || len(c.Val()) == 0 {
		return
	}

	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.fallback[cmdKey(cmd)] = cachedHash{fields: maps.Clone(c.Val()), storedAt: now}
	h.pruneLocked(now)
}

// pruneLocked drops expired entries, at most once per TTL.
func (h *CircuitBreakerHook) pruneLocked(now time.Time) {
	if now.Sub(h.lastPrune) < fallbackTTL {
		return
	}
	h.lastPrune = now
	maps.DeleteFunc(h.fallback, func(_ string, cached cachedHash) bool {
		return now.Sub(cached.storedAt) > fallbackTTL
	})
}

func (h *CircuitBreakerHook) cachedKeys() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.fallback)
}

func (h *CircuitBreakerHook) lookup(key string) (map[string]string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cached, ok := h.fallback[key]
	if !ok || h.clock.Since(cached.storedAt) > fallbackTTL {
		return nil, false
	}
	return maps.Clone(cached.fields), true
}

func cmdKey(cmd goredis.Cmder) string {
	args := cmd.Args()
	if len(args) < 2 {
		return ""
	}
	return fmt.Sprint(args[1])
}

// State returns the current breaker state.
func (h *CircuitBreakerHook) State() circuitbreaker.State {
	return h.cb.State()
}
