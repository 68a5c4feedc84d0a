// Package username picks the account name a new login should receive.
package username

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"oidc-linker/internal/auth/claims"
	"oidc-linker/internal/directory"
	"oidc-linker/internal/logger"
)

// Default replaces a missing preferred username.
const Default = "User"

var ErrNilRegistry = errors.New("username: nil registry")

// ClaimReader returns a claim value, or "" when the provider did not send it.
type ClaimReader interface {
	Claim(ctx context.Context, name string) (string, error)
}

// Registry answers whether an account name is taken.
type Registry interface {
	IsRegistered(ctx context.Context, name string) (bool, error)
}

// Processor rewrites a claim value. It sees every token attribute.
type Processor func(value string, attrs claims.Value) string

// Apply runs p, or returns value unchanged when p is nil.
func (p Processor) Apply(value string, attrs claims.Value) string {
	if p == nil {
		return value
	}
	return p(value, attrs)
}

type Options struct {
	// Claim overrides the preferred_username claim name.
	Claim string

	UseRealName  bool
	UseEmailName bool

	Processor Processor
}

type Resolver struct {
	registry Registry
	opts     Options
	newToken func() string
}

func New(registry Registry, opts Options) (*Resolver, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	return &Resolver{registry: registry, opts: opts, newToken: uuid.NewString}, nil
}

// Preferred derives the canonical preferred name, or "" when there is none
// or the candidate is not a legal account name.
func (r *Resolver) Preferred(ctx context.Context, src ClaimReader, realName, email string, attrs claims.Value) (string, error) {
	claim := r.opts.Claim
	if claim == "" {
		claim = "preferred_username"
	}

	preferred, err := src.Claim(ctx, claim)
	if err != nil {
		return "", err
	}

	switch {
	case preferred != "":
		logger.Debug("preferred username from provider", map[string]any{"claim": claim, "value": preferred})
	case r.opts.UseRealName && realName != "":
		preferred = realName
		logger.Debug("using real name as preferred username", map[string]any{"value": preferred})
	case r.opts.UseEmailName && email != "":
		preferred = FromEmail(email)
		logger.Debug("using email as preferred username", map[string]any{"value": preferred})
	default:
		logger.Debug("no preferred username", nil)
	}

	preferred = r.opts.Processor.Apply(preferred, attrs)
	if preferred == "" {
		return "", nil
	}

	canonical, err := directory.CanonicalName(preferred)
	if err != nil {
		logger.Debug("preferred username rejected", map[string]any{"value": preferred})
		return "", nil
	}
	return canonical, nil
}

// FromEmail returns the local part of an address. An address without a
// local part is returned whole.
func FromEmail(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// Available returns preferred if no registered account has that name, else
// the first of preferred1, preferred2, ... that is free.
func (r *Resolver) Available(ctx context.Context, preferred string) (string, error) {
	if preferred == "" {
		preferred = Default
	}

	taken, err := r.registry.IsRegistered(ctx, preferred)
	if err != nil {
		return "", err
	}
	if !taken {
		return preferred, nil
	}

	for n := 1; ; n++ {
		candidate := preferred + strconv.Itoa(n)
		taken, err := r.registry.IsRegistered(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}

// Random returns an unused canonical name built from a random UUID.
func (r *Resolver) Random(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		name, err := directory.CanonicalName(r.newToken())
		if err != nil {
			continue
		}

		taken, err := r.registry.IsRegistered(ctx, name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
	}
}
