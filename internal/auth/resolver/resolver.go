// Package resolver decides which local account a completed OIDC login
// belongs to.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"oidc-linker/internal/auth"
	"oidc-linker/internal/auth/claims"
	"oidc-linker/internal/auth/provider"
	"oidc-linker/internal/auth/username"
	"oidc-linker/internal/session"
)

// State names a step of a login attempt.
type State string

const (
	StateStart              State = "START"
	StateHandshake          State = "PROTOCOL_HANDSHAKE"
	StateClaimsExtracted    State = "CLAIMS_EXTRACTED"
	StateDirectMatch        State = "DIRECT_MATCH"
	StateEmailMigration     State = "EMAIL_MIGRATION"
	StateUsernameResolution State = "USERNAME_RESOLUTION"
	StateUsernameMigration  State = "USERNAME_MIGRATION"
	StateAccountAllocation  State = "ACCOUNT_ALLOCATION"
)

var (
	ErrNilDependency = errors.New("resolver: nil dependency")
	ErrNoSubject     = errors.New("resolver: provider returned no subject")
)

// Error is a failed login attempt and the state it failed in.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolver: %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Request carries what the callback received for one login attempt.
type Request struct {
	Code         string
	CodeVerifier string
	SessionID    string
}

// LinkStore is the identity store as the orchestrator uses it.
type LinkStore interface {
	FindUserByIdentity(ctx context.Context, subject, issuer string) (int64, string, error)
	SaveLink(ctx context.Context, userID int64, subject, issuer string) error
}

// Migrations finds unlinked accounts a login may take over.
type Migrations interface {
	ByEmail(ctx context.Context, email string) (int64, string, error)
	ByUsername(ctx context.Context, candidate string) (int64, string, error)
}

// Usernames derives names for new accounts.
type Usernames interface {
	Preferred(ctx context.Context, src username.ClaimReader, realName, email string, attrs claims.Value) (string, error)
	Available(ctx context.Context, preferred string) (string, error)
	Random(ctx context.Context) (string, error)
}

// TokenCache keeps the session's tokens.
type TokenCache interface {
	Save(ctx context.Context, sessionID string, c *session.TokenCache) error
	Clear(ctx context.Context, sessionIDs ...string) error
}

// Resolver is implemented by Authenticator; handlers depend on it.
type Resolver interface {
	Authenticate(ctx context.Context, req Request) (*auth.Result, error)
	SaveLink(ctx context.Context, userID int64, subject, issuer string) error
	Client() provider.Client
}
