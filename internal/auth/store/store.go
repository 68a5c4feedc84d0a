// Package store persists the link between a local account and the
// (subject, issuer) pair an identity provider knows it by.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNilDB = errors.New("store: nil db")

// Link is one row per linked account.
type Link struct {
	UserID    int64  `gorm:"primaryKey;autoIncrement:false"`
	Subject   string `gorm:"size:255;not null;uniqueIndex:idx_oidc_links_identity"`
	Issuer    string `gorm:"size:255;not null;uniqueIndex:idx_oidc_links_identity"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Link) TableName() string { return "oidc_links" }

func Models() []any {
	return []any{&Link{}}
}

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	return &Store{db: db}, nil
}

// SaveLink points userID at (subject, issuer), replacing any previous pair
// for that user.
func (s *Store) SaveLink(ctx context.Context, userID int64, subject, issuer string) error {
	link := &Link{UserID: userID, Subject: subject, Issuer: issuer}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"subject", "issuer", "updated_at"}),
		}).
		Create(link).Error
	if err != nil {
		return fmt.Errorf("store: save link for %d: %w", userID, err)
	}
	return nil
}

type account struct {
	ID   int64
	Name string
}

// FindUserByIdentity returns the account linked to (subject, issuer).
// A miss is (0, "", nil).
func (s *Store) FindUserByIdentity(ctx context.Context, subject, issuer string) (int64, string, error) {
	var rows []account
	err := s.db.WithContext(ctx).
		Table("users").
		Select("users.id, users.name").
		Joins("JOIN oidc_links ON oidc_links.user_id = users.id").
		Where("oidc_links.subject = ? AND oidc_links.issuer = ?", subject, issuer).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return 0, "", fmt.Errorf("store: find by identity: %w", err)
	}
	if len(rows) == 0 {
		return 0, "", nil
	}
	return rows[0].ID, rows[0].Name, nil
}

// FindUnlinkedUserByUsername returns the id of the account called name,
// but only while that account has no link yet. A miss is 0.
func (s *Store) FindUnlinkedUserByUsername(ctx context.Context, name string) (int64, error) {
	var rows []account
	err := s.unlinked(ctx).
		Where("users.name = ?", name).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("store: find unlinked by name: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].ID, nil
}

// FindUnlinkedUserByEmail returns the earliest registered unlinked account
// with this email. Equal registration times fall back to the lower id.
func (s *Store) FindUnlinkedUserByEmail(ctx context.Context, email string) (int64, string, error) {
	var rows []account
	err := s.unlinked(ctx).
		Where("users.email = ?", email).
		Order("users.registered_at ASC").
		Order("users.id ASC").
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return 0, "", fmt.Errorf("store: find unlinked by email: %w", err)
	}
	if len(rows) == 0 {
		return 0, "", nil
	}
	return rows[0].ID, rows[0].Name, nil
}

func (s *Store) unlinked(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("users").
		Select("users.id, users.name").
		Joins("LEFT JOIN oidc_links ON oidc_links.user_id = users.id").
		Where("oidc_links.user_id IS NULL")
}
