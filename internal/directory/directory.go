// Package directory is the local account directory: registered users, their
// registration time and their group memberships.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNilDB        = errors.New("directory: nil db")
	ErrUserNotFound = errors.New("directory: user not found")
	ErrNameTaken    = errors.New("directory: user name already registered")
)

type User struct {
	ID           int64     `gorm:"primaryKey"`
	Name         string    `gorm:"size:255;not null;uniqueIndex"`
	RealName     string    `gorm:"size:255"`
	Email        string    `gorm:"size:255;index"`
	RegisteredAt time.Time `gorm:"not null;index"`
}

func (User) TableName() string { return "users" }

type UserGroup struct {
	UserID int64  `gorm:"primaryKey;autoIncrement:false"`
	Name   string `gorm:"primaryKey;column:group_name;size:255"`
}

func (UserGroup) TableName() string { return "user_groups" }

// Models lists the tables the directory owns, for schema migration.
func Models() []any {
	return []any{&User{}, &UserGroup{}}
}

type Directory struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) (*Directory, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	return &Directory{db: db, now: time.Now}, nil
}

func (d *Directory) UserByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := d.db.WithContext(ctx).Where("id = ?", id).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: user %d: %w", id, err)
	}
	return &u, nil
}

// UserByName looks up an account by its canonical name.
func (d *Directory) UserByName(ctx context.Context, name string) (*User, error) {
	canonical, err := CanonicalName(name)
	if err != nil {
		return nil, ErrUserNotFound
	}

	var u User
	err = d.db.WithContext(ctx).Where("name = ?", canonical).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: user %q: %w", canonical, err)
	}
	return &u, nil
}

// IsRegistered reports whether an account with exactly this name exists.
func (d *Directory) IsRegistered(ctx context.Context, name string) (bool, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&User{}).Where("name = ?", name).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("directory: registered %q: %w", name, err)
	}
	return n > 0, nil
}

// CreateUser registers a new account. The name is canonicalized first.
func (d *Directory) CreateUser(ctx context.Context, name, realName, email string) (*User, error) {
	canonical, err := CanonicalName(name)
	if err != nil {
		return nil, err
	}

	u := &User{
		Name:         canonical,
		RealName:     realName,
		Email:        email,
		RegisteredAt: d.now().UTC(),
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&User{}).Where("name = ?", canonical).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrNameTaken
		}
		return tx.Create(u).Error
	})
	if errors.Is(err, ErrNameTaken) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("directory: create %q: %w", canonical, err)
	}
	return u, nil
}

// SyncProfile overwrites the stored real name and email when they changed.
// Empty values leave the stored field alone.
func (d *Directory) SyncProfile(ctx context.Context, id int64, realName, email string) error {
	updates := map[string]any{}
	if realName != "" {
		updates["real_name"] = realName
	}
	if email != "" {
		updates["email"] = email
	}
	if len(updates) == 0 {
		return nil
	}

	res := d.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("directory: sync profile %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := d.UserByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Groups returns the user's group names in sorted order.
func (d *Directory) Groups(ctx context.Context, userID int64) ([]string, error) {
	var names []string
	err := d.db.WithContext(ctx).Model(&UserGroup{}).
		Where("user_id = ?", userID).
		Pluck("group_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("directory: groups of %d: %w", userID, err)
	}
	sort.Strings(names)
	return names, nil
}

func (d *Directory) AddToGroup(ctx context.Context, userID int64, group string) error {
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&UserGroup{UserID: userID, Name: group}).Error
	if err != nil {
		return fmt.Errorf("directory: add %d to %q: %w", userID, group, err)
	}
	return nil
}

func (d *Directory) RemoveFromGroup(ctx context.Context, userID int64, group string) error {
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND group_name = ?", userID, group).
		Delete(&UserGroup{}).Error
	if err != nil {
		return fmt.Errorf("directory: remove %d from %q: %w", userID, group, err)
	}
	return nil
}
