package feature

import (
	"context"

	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/feature/repository"
	"github.com/smallbiznis/featuregate/internal/feature/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("feature.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

// CatalogSyncModule seeds the catalog on start and re-syncs on every reload
// of features.yml.
var CatalogSyncModule = fx.Module("feature.catalog",
	fx.Provide(config.NewCatalogHolder),
	fx.Invoke(registerCatalogSync),
)

type catalogSyncParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Holder    *config.CatalogHolder
	Svc       domain.Service
	Log       *zap.Logger
	Audit     auditdomain.Service `optional:"true"`
}

func registerCatalogSync(p catalogSyncParams) {
	log := p.Log.Named("feature.catalog")
	sync := func(ctx context.Context, entries []config.CatalogEntry) error {
		result, err := p.Svc.SyncCatalog(ctx, entries)
		if err != nil {
			return err
		}
		RecordCatalogSync(ctx, p.Audit, log, result)
		return nil
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sync(ctx, p.Holder.Get())
		},
	})
	p.Holder.OnChange(func(entries []config.CatalogEntry) {
		if err := sync(context.Background(), entries); err != nil {
			log.Error("catalog resync failed", zap.Error(err))
		}
	})
}

// RecordCatalogSync logs and audits a sync that changed the catalog.
func RecordCatalogSync(ctx context.Context, audit auditdomain.Service, log *zap.Logger, result domain.SyncResult) {
	if result.Created == 0 && result.Updated == 0 {
		return
	}
	log.Info("catalog synced",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
	)
	if audit == nil {
		return
	}
	_ = audit.AuditLog(ctx, "catalog.sync", auditdomain.TargetCatalog, nil, map[string]any{
		"created":   result.Created,
		"updated":   result.Updated,
		"unchanged": result.Unchanged,
	})
}
