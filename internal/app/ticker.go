package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/credpulse/internal/platform/correlation"
)

// viewCache is the part of the aggregator the refresher drives.
type viewCache interface {
	CachedStories() []string
	Forget(storyID string) bool
}

// ViewRefresher periodically drops cached story views so the next read picks
// up increments made by other instances sharing the store. Views with votes
// awaiting persistence are skipped until a later tick.
type ViewRefresher struct {
	views    viewCache
	clock    clockwork.Clock
	interval time.Duration
}

func NewViewRefresher(views viewCache, clock clockwork.Clock, interval time.Duration) *ViewRefresher {
	return &ViewRefresher{views: views, clock: clock, interval: interval}
}

// Run starts the periodic refresh loop. It blocks until ctx is cancelled.
func (r *ViewRefresher) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.refresh(ctx)
		}
	}
}

// refresh returns how many views were dropped.
func (r *ViewRefresher) refresh(ctx context.Context) int {
	tickCtx := correlation.WithID(ctx, correlation.NewID())

	dropped, busy := 0, 0
	for _, id := range r.views.CachedStories() {
		if r.views.Forget(id) {
			dropped++
			continue
		}
		busy++
	}

	if dropped > 0 || busy > 0 {
		slog.DebugContext(tickCtx, "Refreshed story views", "dropped", dropped, "busy", busy)
	}
	return dropped
}
