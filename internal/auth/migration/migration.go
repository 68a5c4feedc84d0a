// Package migration decides whether a first-time login should take over an
// existing, not yet linked account instead of creating a new one.
package migration

import (
	"context"
	"errors"

	"oidc-linker/internal/directory"
	"oidc-linker/internal/logger"
)

var ErrNilStore = errors.New("migration: nil store")

// Finder is the part of the identity store migration needs.
type Finder interface {
	FindUnlinkedUserByEmail(ctx context.Context, email string) (int64, string, error)
	FindUnlinkedUserByUsername(ctx context.Context, name string) (int64, error)
}

type Options struct {
	ByEmail    bool
	ByUsername bool
}

type Resolver struct {
	store Finder
	opts  Options
}

func New(store Finder, opts Options) (*Resolver, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	return &Resolver{store: store, opts: opts}, nil
}

// ByEmail returns the oldest unlinked account registered with email.
// A miss, a disabled option or an empty email all return (0, "", nil).
func (r *Resolver) ByEmail(ctx context.Context, email string) (int64, string, error) {
	if !r.opts.ByEmail || email == "" {
		return 0, "", nil
	}

	logger.Debug("checking email migration", map[string]any{"email": email})
	return r.store.FindUnlinkedUserByEmail(ctx, email)
}

// ByUsername returns the unlinked account called candidate along with the
// canonical form of the name. Invalid candidates never match.
func (r *Resolver) ByUsername(ctx context.Context, candidate string) (int64, string, error) {
	if !r.opts.ByUsername {
		return 0, "", nil
	}

	name, err := directory.CanonicalName(candidate)
	if err != nil {
		logger.Debug("invalid username for migration", map[string]any{"username": candidate})
		return 0, "", nil
	}

	logger.Debug("checking username migration", map[string]any{"username": name})
	id, err := r.store.FindUnlinkedUserByUsername(ctx, name)
	if err != nil || id == 0 {
		return 0, "", err
	}
	return id, name, nil
}
