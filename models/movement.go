package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Movement is one dated cash flow entry attributed to a company. Rows tagged
// with a refresh source type are owned by that source's latest reconciliation
// run; a new run fully replaces them.
type Movement struct {
	ID              int             `gorm:"primary_key" json:"id"`
	CompanyId       int             `gorm:"index;not null" json:"company_id"`
	Category        string          `gorm:"size:20;not null" json:"category"`
	Type            string          `gorm:"index;size:100;not null" json:"type"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	Sign            string          `gorm:"size:10;not null" json:"sign"`
	MovementDate    time.Time       `gorm:"type:date;not null" json:"movement_date"`
	ReferenceType   string          `gorm:"size:50;not null" json:"reference_type"`
	Reference       string          `gorm:"size:100;not null" json:"reference"`
	ReferenceStatus string          `gorm:"size:50" json:"reference_status"`
	Source          string          `gorm:"size:30;not null" json:"source"`
	Note            string          `gorm:"type:text" json:"note"`
	Status          string          `gorm:"size:20;not null" json:"status"`
	ExchangeRate    *float64        `json:"exchange_rate"`
	OdooLink        string          `gorm:"size:512" json:"odoo_link"`
	ArchiveVersion  int             `gorm:"not null;default:1" json:"archive_version"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	CreatedBy       int             `gorm:"not null" json:"created_by"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	UpdatedBy       *int            `json:"updated_by"`
}
