// Package groups mirrors roles found in the access token into group
// memberships the service owns.
package groups

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"oidc-linker/internal/auth/claims"
	"oidc-linker/internal/config"
	"oidc-linker/internal/logger"
	"oidc-linker/internal/metrics"
	"oidc-linker/internal/session"
)

// ManagedPrefix marks every group this package adds or removes.
const ManagedPrefix = "oidc_"

// Method tags how the current session was authenticated.
type Method string

const (
	MethodOIDC     Method = "oidc"
	MethodPassword Method = "password"
)

var ErrNilDependency = errors.New("groups: nil dependency")

// Members is the host's group membership API.
type Members interface {
	Groups(ctx context.Context, userID int64) ([]string, error)
	AddToGroup(ctx context.Context, userID int64, group string) error
	RemoveFromGroup(ctx context.Context, userID int64, group string) error
}

// Identities resolves a linked identity to its local user.
type Identities interface {
	FindUserByIdentity(ctx context.Context, subject, issuer string) (int64, string, error)
}

// AuthContext describes the session a sync runs for.
type AuthContext struct {
	Method Method
	Roles  config.RoleMappings
	Tokens *session.TokenCache
}

type Synchronizer struct {
	members    Members
	identities Identities
}

func New(members Members, identities Identities) (*Synchronizer, error) {
	if members == nil || identities == nil {
		return nil, ErrNilDependency
	}
	return &Synchronizer{members: members, identities: identities}, nil
}

// Populate reconciles the user's managed groups with the roles in the
// session's access token. It does nothing unless the session came from an
// OIDC login whose identity is linked to userID.
func (s *Synchronizer) Populate(ctx context.Context, ac AuthContext, userID int64) error {
	if ac.Method != MethodOIDC || ac.Tokens == nil || ac.Tokens.AccessTokenClaims.IsNull() {
		return nil
	}

	linked, _, err := s.identities.FindUserByIdentity(ctx, ac.Tokens.Subject, ac.Tokens.Issuer)
	if err != nil {
		return fmt.Errorf("groups: resolve identity: %w", err)
	}
	if linked == 0 || linked != userID {
		logger.Debug("group sync skipped: token belongs to another user", map[string]any{
			"user_id": userID,
		})
		return nil
	}

	want := Managed(ac.Tokens.AccessTokenClaims, ac.Roles)

	current, err := s.members.Groups(ctx, userID)
	if err != nil {
		return err
	}

	have := make(map[string]struct{})
	for _, g := range current {
		if strings.HasPrefix(g, ManagedPrefix) {
			have[g] = struct{}{}
		}
	}

	var removed, added int
	for _, g := range sortedKeys(have) {
		if _, keep := want[g]; keep {
			continue
		}
		if err := s.members.RemoveFromGroup(ctx, userID, g); err != nil {
			return err
		}
		removed++
	}
	for _, g := range sortedKeys(want) {
		if _, ok := have[g]; ok {
			continue
		}
		if err := s.members.AddToGroup(ctx, userID, g); err != nil {
			return err
		}
		added++
	}

	metrics.RecordGroupChanges(added, removed)
	if added > 0 || removed > 0 {
		logger.Info("groups synchronized", map[string]any{
			"user_id": userID,
			"added":   added,
			"removed": removed,
		})
	}
	return nil
}

// Managed computes the managed group set for an access token payload.
func Managed(payload claims.Value, roles config.RoleMappings) map[string]struct{} {
	out := make(map[string]struct{})
	for _, m := range []config.RoleMapping{roles.GlobalRoles, roles.WikiRoles} {
		if len(m.Property) == 0 {
			continue
		}
		node, ok := payload.Lookup(m.Property...)
		if !ok {
			continue
		}

		prefixes := m.Prefix
		if len(prefixes) == 0 {
			prefixes = []string{""}
		}
		for _, role := range node.Strings() {
			for _, p := range prefixes {
				out[ManagedPrefix+p+role] = struct{}{}
			}
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
