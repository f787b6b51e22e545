package refresh

import (
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/treasury_backend/models"
	"bitbucket.org/mmdatafocus/treasury_backend/odoo"
)

func testLink(id int) string {
	return fmt.Sprintf("https://odoo.example.com/web#id=%d&model=account.move&view_type=form", id)
}

func TestBuildReconciliationSplitsMovementsAndExceptions(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rules := localSalesRules(t)

	flagged := openInvoice(2)
	flagged.Name = "INV/2026/0002"
	flagged.PaymentState = "reversed"

	built := buildReconciliation(rules, []odoo.AccountMove{openInvoice(1), flagged}, today, testLink)

	if len(built.movements) != 1 {
		t.Fatalf("movements = %d, want 1", len(built.movements))
	}
	if len(built.exceptions) != 1 {
		t.Fatalf("exceptions = %d, want 1", len(built.exceptions))
	}

	m := built.movements[0]
	if m.Type != rules.Name {
		t.Errorf("movement type = %q, want %q", m.Type, rules.Name)
	}
	if m.Source != models.MovementSourceExternal {
		t.Errorf("movement source = %q", m.Source)
	}
	if m.Status != models.RowStatusActive {
		t.Errorf("movement status = %q", m.Status)
	}
	if m.OdooLink != testLink(1) {
		t.Errorf("odooLink = %q", m.OdooLink)
	}
	if m.ArchiveVersion != 1 {
		t.Errorf("archiveVersion = %d, want 1", m.ArchiveVersion)
	}

	e := built.exceptions[0]
	if e.Type != rules.Name {
		t.Errorf("exception type = %q, want %q", e.Type, rules.Name)
	}
	if e.ExceptionType != models.ExceptionTypeAuto {
		t.Errorf("exceptionType = %q", e.ExceptionType)
	}
	if e.Criticality != models.CriticalityWarning {
		t.Errorf("criticality = %q", e.Criticality)
	}
	if e.Description != ReasonNotAutomatable {
		t.Errorf("description = %q", e.Description)
	}
	if e.Amount.String() != "500" {
		t.Errorf("exception amount = %s, want the document total 500", e.Amount)
	}
}

func TestBuildReconciliationFirstOccurrenceWins(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rules := localSalesRules(t)

	first := openInvoice(42)
	first.AmountResidual = 100
	second := openInvoice(42)
	second.AmountResidual = 999

	built := buildReconciliation(rules, []odoo.AccountMove{first, second}, today, nil)
	if len(built.movements) != 1 {
		t.Fatalf("movements = %d, want 1", len(built.movements))
	}
	if built.duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", built.duplicates)
	}
	if built.movements[0].Amount.String() != "100" {
		t.Errorf("kept amount = %s, want the first occurrence's 100", built.movements[0].Amount)
	}
}

func TestBuildReconciliationDistinctIDsAreNotDuplicates(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rules := localSalesRules(t)

	// Same document name, different upstream ids. The embedded id keeps the
	// references distinct.
	a := openInvoice(1)
	a.Name = "/"
	b := openInvoice(2)
	b.Name = "/"

	built := buildReconciliation(rules, []odoo.AccountMove{a, b}, today, nil)
	if len(built.movements) != 2 {
		t.Fatalf("movements = %d, want 2", len(built.movements))
	}
	if built.duplicates != 0 {
		t.Errorf("duplicates = %d, want 0", built.duplicates)
	}
}

func TestBuildReconciliationIsDeterministic(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rules := localSalesRules(t)

	records := []odoo.AccountMove{openInvoice(1), openInvoice(2), openInvoice(3)}
	first := buildReconciliation(rules, records, today, testLink)
	second := buildReconciliation(rules, records, today, testLink)

	if len(first.movements) != len(second.movements) {
		t.Fatalf("movement counts differ: %d vs %d", len(first.movements), len(second.movements))
	}
	for i := range first.movements {
		if first.movements[i].Reference != second.movements[i].Reference {
			t.Errorf("row %d reference differs: %q vs %q", i, first.movements[i].Reference, second.movements[i].Reference)
		}
		if !first.movements[i].Amount.Equal(second.movements[i].Amount) {
			t.Errorf("row %d amount differs", i)
		}
	}
}

func TestBuildReconciliationCollectsCompanies(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rules := localSalesRules(t)

	a := openInvoice(1)
	a.Company = odoo.Many2One{ID: 1, Name: "Main Co"}
	b := openInvoice(2)
	b.Company = odoo.Many2One{ID: 2, Name: "Subsidiary"}

	built := buildReconciliation(rules, []odoo.AccountMove{a, b}, today, nil)
	if len(built.companies) != 2 {
		t.Fatalf("companies = %d, want 2", len(built.companies))
	}
	if built.companies[2] != "Subsidiary" {
		t.Errorf("companies[2] = %q", built.companies[2])
	}
}
