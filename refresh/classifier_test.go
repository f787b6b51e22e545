package refresh

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/treasury_backend/models"
	"bitbucket.org/mmdatafocus/treasury_backend/odoo"
)

func date(y int, m time.Month, d int) odoo.Date {
	return odoo.Date{Value: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Set: true}
}

func localSalesRules(t *testing.T) SourceRules {
	t.Helper()
	rules, ok := SourceByKey("local_sales")
	if !ok {
		t.Fatal("local_sales source not configured")
	}
	return rules
}

func importPurchasesRules(t *testing.T) SourceRules {
	t.Helper()
	rules, ok := SourceByKey("import_purchases")
	if !ok {
		t.Fatal("import_purchases source not configured")
	}
	return rules
}

func openInvoice(id int) odoo.AccountMove {
	return odoo.AccountMove{
		ID:             id,
		Name:           "INV/2026/0042",
		MoveType:       "out_invoice",
		State:          "posted",
		PaymentState:   "not_paid",
		InvoiceDate:    date(2026, 3, 1),
		InvoiceDateDue: date(2026, 4, 15),
		AmountTotal:    500,
		AmountResidual: 250.5,
		Company:        odoo.Many2One{ID: 1, Name: "Main Co"},
	}
}

func TestClassifyOpenInvoiceBecomesMovement(t *testing.T) {
	today := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	rules := localSalesRules(t)

	got := Classify(openInvoice(42), rules, today)
	if got.Exception != nil {
		t.Fatalf("expected movement, got exception %q", got.Exception.Reason)
	}
	if got.Movement == nil {
		t.Fatal("expected movement, got neither")
	}

	m := got.Movement
	if m.Sign != models.SignInflow {
		t.Errorf("sign = %q, want %q", m.Sign, models.SignInflow)
	}
	if m.ReferenceType != models.ReferenceTypeInvoice {
		t.Errorf("referenceType = %q, want %q", m.ReferenceType, models.ReferenceTypeInvoice)
	}
	if m.Reference != "INV/2026/0042 (ID:42)" {
		t.Errorf("reference = %q", m.Reference)
	}
	if m.Amount.String() != "250.5" {
		t.Errorf("amount = %s, want 250.5", m.Amount)
	}
	if !m.Date.Equal(time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("movement date = %s, want due date", m.Date)
	}
	if m.ReferenceStatus != models.ReferenceStatusPending {
		t.Errorf("referenceStatus = %q, want %q", m.ReferenceStatus, models.ReferenceStatusPending)
	}
}

func TestClassifyCreditNoteGetsOppositeSign(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rec := openInvoice(7)
	rec.MoveType = "out_refund"
	rec.Name = "RINV/2026/0007"

	got := Classify(rec, localSalesRules(t), today)
	if got.Movement == nil {
		t.Fatal("expected movement")
	}
	if got.Movement.Sign != models.SignOutflow {
		t.Errorf("sign = %q, want %q", got.Movement.Sign, models.SignOutflow)
	}
	if got.Movement.ReferenceType != models.ReferenceTypeCreditNote {
		t.Errorf("referenceType = %q, want %q", got.Movement.ReferenceType, models.ReferenceTypeCreditNote)
	}
}

func TestClassifyDisqualificationPrecedence(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	// Trips every predicate at once: reversed state, due date in the past,
	// due date equal to invoice date.
	rec := openInvoice(9)
	rec.PaymentState = "reversed"
	rec.InvoiceDate = date(2026, 2, 1)
	rec.InvoiceDateDue = date(2026, 2, 1)

	got := Classify(rec, localSalesRules(t), today)
	if got.Exception == nil {
		t.Fatal("expected exception")
	}
	if got.Exception.Reason != ReasonNotAutomatable {
		t.Errorf("reason = %q, want %q", got.Exception.Reason, ReasonNotAutomatable)
	}

	// Automatable again: past due date now outranks due==invoice date.
	rec.PaymentState = "not_paid"
	got = Classify(rec, localSalesRules(t), today)
	if got.Exception == nil || got.Exception.Reason != ReasonDueDatePast {
		t.Fatalf("expected %q, got %+v", ReasonDueDatePast, got.Exception)
	}

	// Due date in the future but equal to the invoice date.
	rec.InvoiceDate = date(2026, 5, 1)
	rec.InvoiceDateDue = date(2026, 5, 1)
	got = Classify(rec, localSalesRules(t), today)
	if got.Exception == nil || got.Exception.Reason != ReasonDueEqualsIssue {
		t.Fatalf("expected %q, got %+v", ReasonDueEqualsIssue, got.Exception)
	}
}

func TestClassifyDueTodayIsNotPast(t *testing.T) {
	today := time.Date(2026, 4, 15, 23, 0, 0, 0, time.UTC)
	got := Classify(openInvoice(3), localSalesRules(t), today)
	if got.Exception != nil {
		t.Fatalf("due-today record flagged: %q", got.Exception.Reason)
	}
	if got.Movement == nil {
		t.Fatal("expected movement")
	}
}

func TestClassifyConvertedAmount(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rules := importPurchasesRules(t)

	rec := odoo.AccountMove{
		ID:             11,
		Name:           "BILL/2026/0011",
		MoveType:       "in_invoice",
		PaymentState:   "not_paid",
		InvoiceDate:    date(2026, 3, 5),
		InvoiceDateDue: date(2026, 6, 1),
		AmountTotal:    -120,
		AmountResidual: -120,
		Company:        odoo.Many2One{ID: 1, Name: "Main Co"},
		CustomRate:     odoo.Float{Value: 3.1, Set: true},
	}

	got := Classify(rec, rules, today)
	if got.Movement == nil {
		t.Fatalf("expected movement, got %+v", got.Exception)
	}
	if got.Movement.Amount.String() != "372" {
		t.Errorf("amount = %s, want 372 (abs(total) x rate)", got.Movement.Amount)
	}
	if got.Movement.ExchangeRate == nil || *got.Movement.ExchangeRate != 3.1 {
		t.Errorf("exchangeRate = %v, want 3.1", got.Movement.ExchangeRate)
	}
	if got.Movement.Sign != models.SignOutflow {
		t.Errorf("sign = %q, want %q", got.Movement.Sign, models.SignOutflow)
	}
}

func TestClassifyExceptionAmountUsesDocumentTotal(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rec := openInvoice(7)
	rec.PaymentState = "reversed"

	got := Classify(rec, localSalesRules(t), today)
	if got.Exception == nil {
		t.Fatal("reversed invoice should be flagged")
	}
	if got.Exception.Amount.String() != "500" {
		t.Errorf("exception amount = %s, want 500 (document total, not residual)", got.Exception.Amount)
	}
}

func TestClassifyMissingRateFlagsException(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rules := importPurchasesRules(t)

	for name, rate := range map[string]odoo.Float{
		"absent":       {},
		"zero":         {Value: 0, Set: true},
		"non-positive": {Value: -2, Set: true},
	} {
		rec := odoo.AccountMove{
			ID:             12,
			Name:           "BILL/2026/0012",
			MoveType:       "in_invoice",
			PaymentState:   "not_paid",
			InvoiceDateDue: date(2026, 6, 1),
			AmountTotal:    100,
			Company:        odoo.Many2One{ID: 1, Name: "Main Co"},
			CustomRate:     rate,
		}
		got := Classify(rec, rules, today)
		if got.Exception == nil || got.Exception.Reason != ReasonMissingRate {
			t.Errorf("%s rate: expected %q, got %+v", name, ReasonMissingRate, got.Exception)
			continue
		}
		// No usable rate: the flagged amount stays the unconverted total.
		if got.Exception.Amount.String() != "100" {
			t.Errorf("%s rate: exception amount = %s, want 100", name, got.Exception.Amount)
		}
	}
}

func TestClassifyZeroResidualYieldsNothing(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rec := openInvoice(5)
	rec.AmountResidual = 0

	got := Classify(rec, localSalesRules(t), today)
	if got.Movement != nil || got.Exception != nil {
		t.Fatalf("settled record classified: %+v", got)
	}
}

func TestClassifyMovementDateFallback(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	rec := openInvoice(6)
	rec.InvoiceDateDue = odoo.Date{}
	got := Classify(rec, localSalesRules(t), today)
	if got.Movement == nil {
		t.Fatal("expected movement")
	}
	if !got.Movement.Date.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %s, want invoice date", got.Movement.Date)
	}

	rec.InvoiceDate = odoo.Date{}
	got = Classify(rec, localSalesRules(t), today)
	if got.Movement == nil {
		t.Fatal("expected movement")
	}
	if !got.Movement.Date.Equal(today) {
		t.Errorf("date = %s, want today", got.Movement.Date)
	}
}

func TestReferenceStatusMapping(t *testing.T) {
	cases := map[string]string{
		"paid":       models.ReferenceStatusPaid,
		"reversed":   models.ReferenceStatusCancelled,
		"cancelled":  models.ReferenceStatusCancelled,
		"not_paid":   models.ReferenceStatusPending,
		"partial":    models.ReferenceStatusPending,
		"in_payment": models.ReferenceStatusPending,
	}
	for state, want := range cases {
		if got := referenceStatus(state); got != want {
			t.Errorf("referenceStatus(%q) = %q, want %q", state, got, want)
		}
	}
}
