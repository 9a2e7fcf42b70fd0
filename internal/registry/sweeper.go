package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/motorpool/internal/logging"
	"go.uber.org/zap"
)

// SweeperOpts configures StartSweeper.
type SweeperOpts struct {
	Registry *Registry
	Schedule string        // 5-field cron expression
	MaxIdle  time.Duration // entries idle longer than this are dropped
	Logger   *zap.Logger
	OnSweep  func(removed, remaining int) // optional, e.g. to update a gauge
}

// StartSweeper runs Registry.Sweep on the given cron schedule until ctx is
// cancelled. The returned channel closes once the cron runner has stopped.
func StartSweeper(ctx context.Context, opts SweeperOpts) (<-chan struct{}, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry: registry is required")
	}
	if opts.MaxIdle <= 0 {
		return nil, fmt.Errorf("registry: max idle must be positive")
	}
	log := logging.OrNop(opts.Logger)

	c := cron.New()
	_, err := c.AddFunc(opts.Schedule, func() {
		removed := opts.Registry.Sweep(opts.MaxIdle)
		remaining := opts.Registry.Len()
		if removed > 0 {
			log.Info("registry sweep", zap.Int("removed", removed), zap.Int("remaining", remaining))
		}
		if opts.OnSweep != nil {
			opts.OnSweep(removed, remaining)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("registry: sweep schedule %q: %w", opts.Schedule, err)
	}
	c.Start()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		close(done)
	}()
	return done, nil
}
