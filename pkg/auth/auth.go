// Package auth carries the authenticated user of a request in its context.
package auth

import (
	"context"
	"errors"

	"github.com/hashicorp-forge/wopihost/pkg/storage"
)

type contextKey string

// UserKey is the context key of the authenticated *storage.User.
const UserKey contextKey = "user"

// ErrNoUser is returned when the context carries no user.
var ErrNoUser = errors.New("no authenticated user in request context")

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *storage.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUser returns the authenticated user of ctx.
func GetUser(ctx context.Context) (*storage.User, error) {
	u, ok := ctx.Value(UserKey).(*storage.User)
	if !ok || u == nil {
		return nil, ErrNoUser
	}
	return u, nil
}

// MustGetUser returns the authenticated user of ctx. It panics when there is
// none, so it may only be used behind the authentication middleware.
func MustGetUser(ctx context.Context) *storage.User {
	u, err := GetUser(ctx)
	if err != nil {
		panic(err)
	}
	return u
}
