package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SchemaUpdate records a one-off data update that has already been applied.
type SchemaUpdate struct {
	Name      string    `gorm:"primaryKey;size:191"`
	AppliedAt time.Time `gorm:"not null"`
}

func (SchemaUpdate) TableName() string { return "schema_updates" }

// Migrate creates or updates the tables of the given models and the update
// ledger itself.
func Migrate(ctx context.Context, gdb *gorm.DB, models ...any) error {
	all := append([]any{&SchemaUpdate{}}, models...)
	if err := gdb.WithContext(ctx).AutoMigrate(all...); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}

// RunOnce executes fn inside a transaction unless an update called name has
// already been recorded. It reports whether fn ran.
func RunOnce(ctx context.Context, gdb *gorm.DB, name string, fn func(tx *gorm.DB) error) (bool, error) {
	ran := false
	err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing SchemaUpdate
		err := tx.Where("name = ?", name).Take(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := fn(tx); err != nil {
			return err
		}

		ran = true
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&SchemaUpdate{Name: name, AppliedAt: time.Now().UTC()}).Error
	})
	if err != nil {
		return false, fmt.Errorf("db: update %s: %w", name, err)
	}
	return ran, nil
}

// Applied reports whether the named update is recorded.
func Applied(ctx context.Context, gdb *gorm.DB, name string) (bool, error) {
	var n int64
	if err := gdb.WithContext(ctx).Model(&SchemaUpdate{}).Where("name = ?", name).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
