package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/featuregate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectFeature  = "feature"
	ObjectOverride = "feature_override"
	ObjectCatalog  = "catalog"
	ObjectAuditLog = "audit_log"
)

const (
	ActionFeatureView    = "feature.view"
	ActionFeatureCreate  = "feature.create"
	ActionFeatureUpdate  = "feature.update"
	ActionFeatureArchive = "feature.archive"

	ActionOverrideView   = "override.view"
	ActionOverrideManage = "override.manage"

	ActionCatalogSync = "catalog.sync"

	ActionAuditView = "audit.view"
)

const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads policies from the casbin_rule table, seeds the built-in
// role permissions and grants the admin role to cfg.AdminUserIDs.
func NewEnforcer(db *gorm.DB, cfg config.Config) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	for _, userID := range cfg.AdminUserIDs {
		if _, err := enforcer.AddGroupingPolicy(subject(userID), roleName(RoleAdmin)); err != nil {
			return nil, err
		}
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, userID, object, action string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject(userID), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("user_id", userID),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) GrantRole(ctx context.Context, userID, role string) error {
	sub, r, err := normalizeGrant(userID, role)
	if err != nil {
		return err
	}
	added, err := s.enforcer.AddGroupingPolicy(sub, r)
	if err != nil {
		return err
	}
	if added {
		s.log.Info("role granted", zap.String("user_id", userID), zap.String("role", role))
	}
	return nil
}

func (s *ServiceImpl) RevokeRole(ctx context.Context, userID, role string) error {
	sub, r, err := normalizeGrant(userID, role)
	if err != nil {
		return err
	}
	_, err = s.enforcer.RemoveGroupingPolicy(sub, r)
	return err
}

func normalizeGrant(userID, role string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", "", ErrInvalidActor
	}
	switch role = strings.ToLower(strings.TrimSpace(role)); role {
	case RoleAdmin, RoleViewer:
	default:
		return "", "", ErrInvalidRole
	}
	return subject(userID), roleName(role), nil
}

func subject(userID string) string {
	return fmt.Sprintf("user:%s", strings.TrimSpace(userID))
}

func roleName(role string) string {
	return fmt.Sprintf("role:%s", role)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:viewer", ObjectFeature, ActionFeatureView},
		{"role:viewer", ObjectOverride, ActionOverrideView},

		{"role:admin", ObjectFeature, ActionFeatureView},
		{"role:admin", ObjectFeature, ActionFeatureCreate},
		{"role:admin", ObjectFeature, ActionFeatureUpdate},
		{"role:admin", ObjectFeature, ActionFeatureArchive},
		{"role:admin", ObjectOverride, ActionOverrideView},
		{"role:admin", ObjectOverride, ActionOverrideManage},
		{"role:admin", ObjectCatalog, ActionCatalogSync},
		{"role:admin", ObjectAuditLog, ActionAuditView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
