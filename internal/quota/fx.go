package quota

import (
	"github.com/smallbiznis/featuregate/internal/config"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/quota/domain"
	"github.com/smallbiznis/featuregate/internal/quota/repository"
	"github.com/smallbiznis/featuregate/internal/quota/service"
	"github.com/smallbiznis/featuregate/internal/quota/store/gormstore"
	"github.com/smallbiznis/featuregate/internal/quota/store/redisstore"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("quota.service",
	fx.Provide(repository.Provide),
	fx.Provide(provideLimitResolver),
	fx.Provide(provideStore),
	fx.Provide(service.New),
)

func provideLimitResolver(features featuredomain.Service) domain.LimitResolver {
	return features
}

func provideStore(cfg config.Config, log *zap.Logger, gp gormstore.Params, rp redisstore.Params) domain.Store {
	var store domain.Store
	if cfg.UsesRedisStore() {
		store = redisstore.New(rp)
	} else {
		store = gormstore.New(gp)
	}
	log.Info("usage store selected", zap.String("store", store.Name()))
	return store
}
