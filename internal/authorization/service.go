package authorization

import (
	"context"
	"errors"
)

type Service interface {
	// Authorize returns ErrForbidden when userID may not perform action on object.
	Authorize(ctx context.Context, userID, object, action string) error
	GrantRole(ctx context.Context, userID, role string) error
	RevokeRole(ctx context.Context, userID, role string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrForbidden     = errors.New("forbidden")
)
