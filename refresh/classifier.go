package refresh

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/treasury_backend/models"
	"bitbucket.org/mmdatafocus/treasury_backend/odoo"
	"github.com/shopspring/decimal"
)

// Disqualifying reasons, one fixed string per predicate. Precedence when a
// record trips several at once: non-automatable state, past due date,
// missing exchange rate, due date equal to invoice date.
const (
	ReasonNotAutomatable = "Payment state is not automatable"
	ReasonDueDatePast    = "Due date in the past (before today)"
	ReasonMissingRate    = "Missing or invalid exchange rate (custom_rate)"
	ReasonDueEqualsIssue = "Due date equals invoice date"
)

// DedupKey identifies one logical row for duplicate suppression within a
// single reconciliation pass.
type DedupKey struct {
	CompanyID      int
	ReferenceType  string
	Reference      string
	ArchiveVersion int
}

// MovementCandidate is a record the classifier cleared for ledgering.
type MovementCandidate struct {
	CompanyID       int
	CompanyName     string
	Category        string
	Sign            string
	Amount          decimal.Decimal
	Date            time.Time
	ReferenceType   string
	Reference       string
	ReferenceStatus string
	ExchangeRate    *float64
}

// ExceptionCandidate is a record a disqualifying predicate rejected.
type ExceptionCandidate struct {
	CompanyID       int
	CompanyName     string
	Category        string
	Sign            string
	Amount          decimal.Decimal
	ReferenceType   string
	Reference       string
	ReferenceStatus string
	Reason          string
}

// Classification is the outcome for one record: exactly one of Movement or
// Exception is set, or neither when the residual amount is zero (nothing left
// to ledger).
type Classification struct {
	Key       DedupKey
	Movement  *MovementCandidate
	Exception *ExceptionCandidate
}

// Classify maps one fetched record to a movement or exception candidate.
// Pure: no I/O, no clock access beyond the supplied reference date.
func Classify(rec odoo.AccountMove, rules SourceRules, today time.Time) Classification {
	today = truncateToDate(today)

	refType := models.ReferenceTypeCreditNote
	sign := oppositeSign(rules.InvoiceSign)
	if rec.MoveType == rules.InvoiceMoveType {
		refType = models.ReferenceTypeInvoice
		sign = rules.InvoiceSign
	}

	// The natural reference can be blank or reused ("/" is common), so the
	// external id is embedded to keep references unique.
	base := string(rec.Name)
	if base == "" {
		base = string(rec.Ref)
	}
	reference := base
	if rec.ID != 0 {
		reference = fmt.Sprintf("%s (ID:%d)", base, rec.ID)
	}

	key := DedupKey{
		CompanyID:      rec.Company.ID,
		ReferenceType:  refType,
		Reference:      reference,
		ArchiveVersion: 1,
	}

	refStatus := referenceStatus(rec.PaymentState)

	amount, rate := ledgerAmount(rec, rules)

	if reason := disqualify(rec, rules, today); reason != "" {
		return Classification{
			Key: key,
			Exception: &ExceptionCandidate{
				CompanyID:       rec.Company.ID,
				CompanyName:     rec.Company.Name,
				Category:        rules.Category,
				Sign:            sign,
				Amount:          exceptionAmount(rec, rules),
				ReferenceType:   refType,
				Reference:       reference,
				ReferenceStatus: refStatus,
				Reason:          reason,
			},
		}
	}

	if amount.Sign() <= 0 {
		// Fully settled residual; nothing to ledger.
		return Classification{Key: key}
	}

	return Classification{
		Key: key,
		Movement: &MovementCandidate{
			CompanyID:       rec.Company.ID,
			CompanyName:     rec.Company.Name,
			Category:        rules.Category,
			Sign:            sign,
			Amount:          amount,
			Date:            movementDate(rec, today),
			ReferenceType:   refType,
			Reference:       reference,
			ReferenceStatus: refStatus,
			ExchangeRate:    rate,
		},
	}
}

// disqualify returns the first matching disqualifying reason, or "".
func disqualify(rec odoo.AccountMove, rules SourceRules, today time.Time) string {
	for _, state := range rules.NonAutomatableStates {
		if rec.PaymentState == state {
			return ReasonNotAutomatable
		}
	}
	if rec.InvoiceDateDue.Set && truncateToDate(rec.InvoiceDateDue.Value).Before(today) {
		return ReasonDueDatePast
	}
	if rules.RequiresConversion && (!rec.CustomRate.Set || rec.CustomRate.Value <= 0) {
		return ReasonMissingRate
	}
	if rules.FlagDueEqualsIssue && rec.InvoiceDateDue.Set && rec.InvoiceDate.Set &&
		truncateToDate(rec.InvoiceDateDue.Value).Equal(truncateToDate(rec.InvoiceDate.Value)) {
		return ReasonDueEqualsIssue
	}
	return ""
}

// ledgerAmount computes the absolute amount to ledger and the exchange rate
// used, if any. The sign of the cash flow comes from the document kind, never
// from the raw amount's arithmetic sign.
func ledgerAmount(rec odoo.AccountMove, rules SourceRules) (decimal.Decimal, *float64) {
	if rules.RequiresConversion {
		total := decimal.NewFromFloat(rec.AmountTotal)
		if rec.CustomRate.Set && rec.CustomRate.Value > 0 {
			rate := rec.CustomRate.Value
			return total.Mul(decimal.NewFromFloat(rate)).Abs().Round(2), &rate
		}
		return total.Abs().Round(2), nil
	}
	return decimal.NewFromFloat(rec.AmountResidual).Abs().Round(2), nil
}

// exceptionAmount is what a flagged row records: the document total, converted
// when a usable rate is present. The residual is for movements only.
func exceptionAmount(rec odoo.AccountMove, rules SourceRules) decimal.Decimal {
	total := decimal.NewFromFloat(rec.AmountTotal)
	if rules.RequiresConversion && rec.CustomRate.Set && rec.CustomRate.Value > 0 {
		total = total.Mul(decimal.NewFromFloat(rec.CustomRate.Value))
	}
	return total.Abs().Round(2)
}

func movementDate(rec odoo.AccountMove, today time.Time) time.Time {
	if rec.InvoiceDateDue.Set {
		return truncateToDate(rec.InvoiceDateDue.Value)
	}
	if rec.InvoiceDate.Set {
		return truncateToDate(rec.InvoiceDate.Value)
	}
	return today
}

func referenceStatus(paymentState string) string {
	switch paymentState {
	case "paid":
		return models.ReferenceStatusPaid
	case "reversed", "cancelled":
		return models.ReferenceStatusCancelled
	default:
		return models.ReferenceStatusPending
	}
}

func oppositeSign(sign string) string {
	if sign == models.SignInflow {
		return models.SignOutflow
	}
	return models.SignInflow
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
