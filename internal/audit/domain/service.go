package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/featuregate/pkg/db/pagination"
)

const (
	TargetFeature  = "feature"
	TargetOverride = "feature_override"
	TargetCatalog  = "catalog"
)

type ListRequest struct {
	pagination.Pagination
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	ActorID    string `form:"actor_id"`
}

type ListResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	// AuditLog persists an entry. The actor and request ID are taken from ctx.
	AuditLog(ctx context.Context, action, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var ErrInvalidAction = errors.New("invalid_action")
