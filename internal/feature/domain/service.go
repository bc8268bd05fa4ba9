package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/featuregate/internal/config"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, key string) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Archive(ctx context.Context, key string) (*Response, error)

	SetOverride(ctx context.Context, req SetOverrideRequest) (*OverrideResponse, error)
	DeleteOverride(ctx context.Context, userID, key string) error
	ListOverrides(ctx context.Context, key string) ([]OverrideResponse, error)

	SyncCatalog(ctx context.Context, entries []config.CatalogEntry) (SyncResult, error)
	ResolveLimit(ctx context.Context, userID, key string) (EffectiveLimit, error)
}

type ListRequest struct {
	Active *bool
}

type CreateRequest struct {
	Key          string  `json:"key"`
	Name         string  `json:"name"`
	Description  *string `json:"description"`
	DefaultValue int64   `json:"default_value"`
	Unlimited    bool    `json:"unlimited"`
	Active       *bool   `json:"active"`
}

type UpdateRequest struct {
	Key          string  `json:"-"`
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	DefaultValue *int64  `json:"default_value,omitempty"`
	Unlimited    *bool   `json:"unlimited,omitempty"`
	Active       *bool   `json:"active,omitempty"`
}

type SetOverrideRequest struct {
	UserID     string  `json:"-"`
	FeatureKey string  `json:"-"`
	LimitValue int64   `json:"limit_value"`
	Unlimited  bool    `json:"unlimited"`
	Reason     *string `json:"reason"`
}

type Response struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	DefaultValue int64     `json:"default_value"`
	Unlimited    bool      `json:"unlimited"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type OverrideResponse struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	FeatureKey string    `json:"feature_key"`
	LimitValue int64     `json:"limit_value"`
	Unlimited  bool      `json:"unlimited"`
	Reason     *string   `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type SyncResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

var (
	ErrInvalidKey       = errors.New("invalid_feature_key")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidLimit     = errors.New("invalid_limit")
	ErrInvalidUser      = errors.New("invalid_user")
	ErrNotFound         = errors.New("feature_not_found")
	ErrInactive         = errors.New("feature_inactive")
	ErrAlreadyExists    = errors.New("feature_already_exists")
	ErrOverrideNotFound = errors.New("override_not_found")
)
