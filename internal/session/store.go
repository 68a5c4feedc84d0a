package session

import (
	"context"
	"time"
)

// Session represents an authenticated user session.
// It stores identity pointers only; tokens live in the TokenStore.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    int64     `json:"user_id"`
	Issuer    string    `json:"issuer"` // issuer id the login came through
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store defines how sessions are stored and retrieved.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Update(ctx context.Context, s Session) error
	Delete(ctx context.Context, sessionID string) error

	// DeleteForUser ends every session of a user and returns their ids.
	DeleteForUser(ctx context.Context, userID int64) ([]string, error)
}
