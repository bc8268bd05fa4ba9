package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/featuregate/internal/audit"
	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"github.com/smallbiznis/featuregate/internal/authorization"
	"github.com/smallbiznis/featuregate/internal/cache"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/feature"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/migration"
	"github.com/smallbiznis/featuregate/internal/observability"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	"github.com/smallbiznis/featuregate/internal/quota"
	"github.com/smallbiznis/featuregate/internal/ratelimit"
	"github.com/smallbiznis/featuregate/internal/redis"
	"github.com/smallbiznis/featuregate/internal/scheduler"
	"github.com/smallbiznis/featuregate/internal/server"
	"github.com/smallbiznis/featuregate/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "featuregate",
		Short:         "Feature usage metering service",
		Version:       readVersionFromEnv(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newCatalogCmd(), newSchedulerCmd(), newRoleCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the retention sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			if migrate {
				if err := runMigrate(); err != nil {
					return err
				}
			}
			runServe()
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before serving")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newCatalogCmd() *cobra.Command {
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the feature catalog",
	}
	catalog.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Upsert features.yml into the catalog and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogSync(cmd)
		},
	})
	return catalog
}

func newSchedulerCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run background jobs without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if once {
				return runSchedulerOnce()
			}
			runScheduler()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run every job a single time and exit")
	return cmd
}

func newRoleCmd() *cobra.Command {
	role := &cobra.Command{
		Use:   "role",
		Short: "Grant or revoke admin roles",
	}
	role.AddCommand(
		&cobra.Command{
			Use:   "grant <user-id> <role>",
			Short: "Grant a role to a user",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRoleChange(args[0], args[1], true)
			},
		},
		&cobra.Command{
			Use:   "revoke <user-id> <role>",
			Short: "Revoke a role from a user",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRoleChange(args[0], args[1], false)
			},
		},
	)
	return role
}

func baseModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
	)
}

func quotaModules() fx.Option {
	return fx.Options(
		redis.Module,
		cache.Module,
		feature.Module,
		quota.Module,
		ratelimit.Module,
	)
}

func runMigrate() error {
	app := fx.New(
		baseModules(),
		migration.Module,
	)
	return startAndStop(app, 2*time.Minute, nil)
}

func runServe() {
	app := fx.New(
		baseModules(),
		quotaModules(),
		audit.Module,
		feature.CatalogSyncModule,
		authorization.Module,
		scheduler.Module,
		scheduler.BackgroundModule,
		server.Module,
	)
	app.Run()
}

func runScheduler() {
	app := fx.New(
		baseModules(),
		quotaModules(),
		scheduler.Module,
		scheduler.BackgroundModule,
	)
	app.Run()
}

func runSchedulerOnce() error {
	var (
		cfg   config.Config
		sched *scheduler.Scheduler
	)
	app := fx.New(
		baseModules(),
		quotaModules(),
		scheduler.Module,
		fx.Populate(&cfg, &sched),
	)
	return startAndStop(app, 5*time.Minute, func(ctx context.Context) error {
		runErr := sched.RunOnce(ctx)

		pusher := obsmetrics.NewPushgatewayPusher(cfg.Scheduler.PushgatewayURL, cfg.AppName+"-scheduler", map[string]string{
			"environment": cfg.Environment,
		})
		if err := pusher.Push(ctx, prometheus.DefaultGatherer); err != nil {
			fmt.Fprintln(os.Stderr, "pushgateway push failed:", err)
		}
		return runErr
	})
}

func runCatalogSync(cmd *cobra.Command) error {
	var (
		holder *config.CatalogHolder
		svc    featuredomain.Service
		audits auditdomain.Service
		log    *zap.Logger
	)
	app := fx.New(
		baseModules(),
		cache.Module,
		feature.Module,
		audit.Module,
		fx.Provide(config.NewCatalogHolder),
		fx.Populate(&holder, &svc, &audits, &log),
	)
	return startAndStop(app, time.Minute, func(ctx context.Context) error {
		result, err := svc.SyncCatalog(ctx, holder.Get())
		if err != nil {
			return err
		}
		feature.RecordCatalogSync(ctx, audits, log.Named("feature.catalog"), result)
		fmt.Fprintf(cmd.OutOrStdout(), "catalog synced: %d created, %d updated, %d unchanged\n",
			result.Created, result.Updated, result.Unchanged)
		return nil
	})
}

func runRoleChange(userID, role string, grant bool) error {
	var authz authorization.Service
	app := fx.New(
		baseModules(),
		authorization.Module,
		fx.Populate(&authz),
	)
	return startAndStop(app, time.Minute, func(ctx context.Context) error {
		if grant {
			return authz.GrantRole(ctx, userID, role)
		}
		return authz.RevokeRole(ctx, userID, role)
	})
}

// startAndStop starts app, runs fn and stops the app again.
func startAndStop(app *fx.App, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()

	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func registerSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
