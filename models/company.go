package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Company mirrors the bookkeeping system's company: rows are created with the
// external company id as primary key so foreign keys line up across refreshes.
type Company struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnsureCompany inserts the company row if it does not exist yet. Runs inside
// the caller's reconciliation transaction.
func EnsureCompany(tx *gorm.DB, id int, name string) error {
	if id == 0 {
		return nil
	}
	if name == "" {
		name = fmt.Sprintf("Company %d", id)
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Company{ID: id, Name: name}).Error
}
