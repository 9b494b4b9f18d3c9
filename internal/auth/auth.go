// Package auth resolves bearer tokens to authenticated principals.
// Registration, OTP and credential hashing live outside the core; this
// service only answers "who is calling".
package auth

import (
	"context"
	"fmt"

	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/logging"
)

// Principal is an authenticated caller.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Service authenticates callers.
type Service struct {
	store *storage.Storage
	log   *logging.Logger
}

// New creates an auth service.
func New(store *storage.Storage) *Service {
	return &Service{
		store: store,
		log:   logging.GetDefault().Component("auth"),
	}
}

// Authenticate resolves a bearer token. Missing, unknown or expired
// tokens return errs.ErrUnauthenticated.
func (s *Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", errs.ErrUnauthenticated)
	}
	u, err := s.store.GetUserByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: u.ID, IsAdmin: u.IsAdmin}, nil
}

// RequireAdmin fails with errs.ErrForbidden unless the principal is an
// administrator.
func (s *Service) RequireAdmin(p *Principal) error {
	if p == nil {
		return errs.ErrUnauthenticated
	}
	if !p.IsAdmin {
		return fmt.Errorf("admin required: %w", errs.ErrForbidden)
	}
	return nil
}
