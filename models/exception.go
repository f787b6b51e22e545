package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exception is a fetched record that could not be cleanly ledgered. It keeps
// the would-be movement's reference info plus the disqualifying reason, and
// awaits manual resolution. Same full-replace lifecycle as Movement.
type Exception struct {
	ID              int             `gorm:"primary_key" json:"id"`
	CompanyId       int             `gorm:"index;not null" json:"company_id"`
	Category        string          `gorm:"size:50" json:"category"`
	Type            string          `gorm:"index;size:100;not null" json:"type"`
	ExceptionType   string          `gorm:"size:20;not null" json:"exception_type"`
	Criticality     string          `gorm:"size:20;not null" json:"criticality"`
	Description     string          `gorm:"type:text" json:"description"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	Sign            string          `gorm:"size:10" json:"sign"`
	ReferenceType   string          `gorm:"size:50" json:"reference_type"`
	Reference       string          `gorm:"size:100" json:"reference"`
	ReferenceStatus string          `gorm:"size:50" json:"reference_status"`
	OdooLink        string          `gorm:"size:512" json:"odoo_link"`
	Status          string          `gorm:"size:20;not null" json:"status"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
