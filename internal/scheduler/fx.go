package scheduler

import (
	"context"

	"github.com/smallbiznis/featuregate/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

// BackgroundModule runs the scheduler loop for the lifetime of the app.
var BackgroundModule = fx.Module("scheduler.background",
	fx.Invoke(StartBackground),
)

func StartBackground(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.Scheduler.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go sched.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
