package models

// Refresh execution lifecycle. An execution is created in running and only
// ever leaves it for one of the terminal states.
const (
	RefreshStatusRunning   = "running"
	RefreshStatusCompleted = "completed"
	RefreshStatusFailed    = "failed"
	RefreshStatusCancelled = "cancelled"
)

// Movement direction relative to the treasury.
const (
	SignInflow  = "Inflow"
	SignOutflow = "Outflow"
)

// Movement / exception categories.
const (
	CategorySales     = "Sales"
	CategoryPurchases = "Purchases"
)

// Reference document kinds, derived from the bookkeeping move type.
const (
	ReferenceTypeInvoice    = "Invoice"
	ReferenceTypeCreditNote = "CreditNote"
)

// Settlement status of the referenced document.
const (
	ReferenceStatusPaid      = "Paid"
	ReferenceStatusPending   = "Pending"
	ReferenceStatusCancelled = "Cancelled"
)

const (
	RowStatusActive   = "Active"
	RowStatusResolved = "Resolved"
)

const (
	ExceptionTypeAuto      = "Auto"
	CriticalityWarning     = "Warning"
	MovementSourceExternal = "Odoo"
)

const (
	RoleAdmin   = "Admin"
	RoleManager = "Manager"
)
