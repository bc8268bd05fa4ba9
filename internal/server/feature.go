package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/observability/logger"
	"go.uber.org/zap"
)

type createFeatureRequest struct {
	Key          string  `json:"key"`
	Name         string  `json:"name"`
	Description  *string `json:"description"`
	DefaultValue int64   `json:"default_value"`
	Unlimited    bool    `json:"unlimited"`
	Active       *bool   `json:"active"`
}

type updateFeatureRequest struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	DefaultValue *int64  `json:"default_value,omitempty"`
	Unlimited    *bool   `json:"unlimited,omitempty"`
	Active       *bool   `json:"active,omitempty"`
}

type setOverrideRequest struct {
	LimitValue int64   `json:"limit_value"`
	Unlimited  bool    `json:"unlimited"`
	Reason     *string `json:"reason"`
}

func (s *Server) CreateFeature(c *gin.Context) {
	var req createFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.featureSvc.Create(c.Request.Context(), featuredomain.CreateRequest{
		Key:          strings.TrimSpace(req.Key),
		Name:         strings.TrimSpace(req.Name),
		Description:  trimFeatureString(req.Description),
		DefaultValue: req.DefaultValue,
		Unlimited:    req.Unlimited,
		Active:       req.Active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditAdmin(c, "feature.create", auditdomain.TargetFeature, resp.Key, map[string]any{
		"default_value": resp.DefaultValue,
		"unlimited":     resp.Unlimited,
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListFeatures(c *gin.Context) {
	var query struct {
		Active string `form:"active"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	active, err := parseOptionalBool(query.Active)
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	resp, err := s.featureSvc.List(c.Request.Context(), featuredomain.ListRequest{Active: active})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetFeature(c *gin.Context) {
	resp, err := s.featureSvc.Get(c.Request.Context(), c.Param("feature_key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateFeature(c *gin.Context) {
	var req updateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.featureSvc.Update(c.Request.Context(), featuredomain.UpdateRequest{
		Key:          c.Param("feature_key"),
		Name:         trimFeatureString(req.Name),
		Description:  trimFeatureString(req.Description),
		DefaultValue: req.DefaultValue,
		Unlimited:    req.Unlimited,
		Active:       req.Active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditAdmin(c, "feature.update", auditdomain.TargetFeature, resp.Key, map[string]any{
		"default_value": resp.DefaultValue,
		"unlimited":     resp.Unlimited,
		"active":        resp.Active,
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ArchiveFeature(c *gin.Context) {
	resp, err := s.featureSvc.Archive(c.Request.Context(), c.Param("feature_key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditAdmin(c, "feature.archive", auditdomain.TargetFeature, resp.Key, nil)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListOverrides(c *gin.Context) {
	resp, err := s.featureSvc.ListOverrides(c.Request.Context(), c.Param("feature_key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetOverride(c *gin.Context) {
	var req setOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.featureSvc.SetOverride(c.Request.Context(), featuredomain.SetOverrideRequest{
		UserID:     c.Param("user_id"),
		FeatureKey: c.Param("feature_key"),
		LimitValue: req.LimitValue,
		Unlimited:  req.Unlimited,
		Reason:     trimFeatureString(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditAdmin(c, "override.set", auditdomain.TargetOverride, resp.UserID, map[string]any{
		"feature_key": resp.FeatureKey,
		"limit_value": resp.LimitValue,
		"unlimited":   resp.Unlimited,
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteOverride(c *gin.Context) {
	featureKey := c.Param("feature_key")
	targetUserID := c.Param("user_id")
	if err := s.featureSvc.DeleteOverride(c.Request.Context(), targetUserID, featureKey); err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditAdmin(c, "override.delete", auditdomain.TargetOverride, targetUserID, map[string]any{
		"feature_key": featureKey,
	})
	c.Status(http.StatusNoContent)
}

// auditAdmin records a catalog mutation after it has been committed. A failed
// audit write is logged and does not fail the request.
func (s *Server) auditAdmin(c *gin.Context, action, targetType, targetID string, metadata map[string]any) {
	ctx := c.Request.Context()
	actor, _ := actorFromContext(c)
	logger.FromContext(ctx).Info("admin action",
		zap.String("action", action),
		zap.String("actor_id", actor.ID),
		zap.String("target_type", targetType),
		zap.String("target_id", targetID),
	)
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, action, targetType, &targetID, metadata); err != nil {
		logger.FromContext(ctx).Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func trimFeatureString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
