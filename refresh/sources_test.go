package refresh

import (
	"testing"
)

func findCondition(t *testing.T, rules SourceRules, field string) (string, any, bool) {
	t.Helper()
	for _, cond := range rules.Domain() {
		if cond.Field == field {
			return cond.Operator, cond.Value, true
		}
	}
	return "", nil, false
}

func TestDomainExcludesPaidDocuments(t *testing.T) {
	for _, rules := range Sources() {
		op, value, ok := findCondition(t, rules, "payment_state")
		if !ok {
			t.Fatalf("%s: no payment_state condition", rules.Key)
		}
		if op != "!=" || value != "paid" {
			t.Errorf("%s: payment_state condition = %s %v", rules.Key, op, value)
		}
	}
}

func TestDomainOriginPrefixOnlyForImports(t *testing.T) {
	imports := importPurchasesRules(t)
	op, value, ok := findCondition(t, imports, "invoice_origin")
	if !ok {
		t.Fatal("import_purchases: no invoice_origin condition")
	}
	if op != "ilike" || value != "CE%" {
		t.Errorf("invoice_origin condition = %s %v", op, value)
	}

	if _, _, ok := findCondition(t, localSalesRules(t), "invoice_origin"); ok {
		t.Error("local_sales should not filter on invoice_origin")
	}
}

func TestDomainCompanyScope(t *testing.T) {
	t.Setenv("ODOO_COMPANY_ID", "")
	_, value, ok := findCondition(t, localSalesRules(t), "company_id")
	if !ok {
		t.Fatal("no company_id condition")
	}
	if value != 1 {
		t.Errorf("default company id = %v, want 1", value)
	}

	t.Setenv("ODOO_COMPANY_ID", "4")
	_, value, _ = findCondition(t, localSalesRules(t), "company_id")
	if value != 4 {
		t.Errorf("company id = %v, want 4", value)
	}
}

func TestDomainDateFloor(t *testing.T) {
	t.Setenv("ODOO_DATE_FROM", "")
	if _, _, ok := findCondition(t, localSalesRules(t), "invoice_date"); ok {
		t.Error("invoice_date condition present without ODOO_DATE_FROM")
	}

	t.Setenv("ODOO_DATE_FROM", "2025-01-01")
	op, value, ok := findCondition(t, localSalesRules(t), "invoice_date")
	if !ok {
		t.Fatal("no invoice_date condition with ODOO_DATE_FROM set")
	}
	if op != ">=" || value != "2025-01-01" {
		t.Errorf("invoice_date condition = %s %v", op, value)
	}
}

func TestDefaultJobsMatchSourceOrder(t *testing.T) {
	jobs := DefaultJobs()
	sources := Sources()
	if len(jobs) != len(sources) {
		t.Fatalf("jobs = %d, sources = %d", len(jobs), len(sources))
	}
	for i := range jobs {
		if jobs[i].Key != sources[i].Key {
			t.Errorf("job %d key = %q, want %q", i, jobs[i].Key, sources[i].Key)
		}
		if jobs[i].Description == "" {
			t.Errorf("job %q has no step description", jobs[i].Key)
		}
	}
}
