package app

import (
	"context"
	"fmt"
	"time"

	"github.com/pscheid92/credpulse/internal/domain"
	"golang.org/x/sync/singleflight"
)

const storyLoadTimeout = 5 * time.Second

type storyGetter func(ctx context.Context, id string) (*domain.Story, error)

// sharedLoad reads a story once for all concurrent callers using the same key.
// The read is detached from the cancellation of whichever caller started it
// and bounded by storyLoadTimeout instead. Each caller stops waiting as soon
// as its own ctx ends; the others keep waiting for the result.
func sharedLoad(ctx context.Context, group *singleflight.Group, key, storyID string, get storyGetter) (*domain.Story, bool, error) {
	ch := group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storyLoadTimeout)
		defer cancel()
		return get(loadCtx, storyID)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		story, ok := res.Val.(*domain.Story)
		if !ok || story == nil {
			return nil, res.Shared, fmt.Errorf("store returned no story for %s", storyID)
		}
		return story, res.Shared, nil
	}
}
