package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"oidc-linker/internal/db"
)

// LegacyUpdate names the ledger entry for copying identities out of the
// users table.
const LegacyUpdate = "oidc-links-from-user-columns"

const copyLegacyLinks = `
INSERT INTO oidc_links (user_id, subject, issuer, created_at, updated_at)
SELECT id, subject, issuer, ?, ?
FROM users
WHERE subject IS NOT NULL AND issuer IS NOT NULL
ON CONFLICT (user_id) DO NOTHING`

// legacyUser is the shape of users before links had their own table.
type legacyUser struct {
	ID      int64
	Subject *string
	Issuer  *string
}

func (legacyUser) TableName() string { return "users" }

// HasLegacyColumns reports whether users still carries subject and issuer.
func (s *Store) HasLegacyColumns() bool {
	m := s.db.Migrator()
	return m.HasColumn(&legacyUser{}, "subject") && m.HasColumn(&legacyUser{}, "issuer")
}

// MigrateLegacyColumns copies (subject, issuer) pairs stored directly on
// users into oidc_links. It runs at most once and only when both columns
// exist; existing links are kept. It reports the number of rows copied.
func (s *Store) MigrateLegacyColumns(ctx context.Context) (int64, error) {
	if !s.HasLegacyColumns() {
		return 0, nil
	}

	var copied int64
	_, err := db.RunOnce(ctx, s.db, LegacyUpdate, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Exec(copyLegacyLinks, now, now)
		copied = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("store: legacy links: %w", err)
	}
	return copied, nil
}

// DropLegacyColumns removes users.subject and users.issuer once their data
// has been copied.
func (s *Store) DropLegacyColumns(ctx context.Context) error {
	applied, err := db.Applied(ctx, s.db, LegacyUpdate)
	if err != nil {
		return err
	}
	if !applied && s.HasLegacyColumns() {
		return fmt.Errorf("store: legacy columns not migrated yet")
	}

	m := s.db.WithContext(ctx).Migrator()
	for _, col := range []string{"subject", "issuer"} {
		if !m.HasColumn(&legacyUser{}, col) {
			continue
		}
		if err := m.DropColumn(&legacyUser{}, col); err != nil {
			return fmt.Errorf("store: drop users.%s: %w", col, err)
		}
	}
	return nil
}
