package refresh

import (
	"os"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/treasury_backend/models"
	"bitbucket.org/mmdatafocus/treasury_backend/odoo"
)

// SourceRules describes one ingestion source type: which bookkeeping
// documents it fetches and how the classifier turns them into movements or
// exceptions. Each source owns all ledger rows tagged with its Name; a
// reconciliation run fully replaces them.
type SourceRules struct {
	Key         string
	Name        string
	Description string
	Category    string

	// MoveTypes are the account.move document kinds this source ingests.
	// InvoiceMoveType is the "primary" kind; the other is its credit note.
	MoveTypes       []string
	InvoiceMoveType string
	// InvoiceSign is the cash direction of the primary kind; the credit
	// note kind gets the opposite sign.
	InvoiceSign string

	// OriginPrefix, when set, restricts the fetch to documents whose
	// invoice_origin starts with the prefix.
	OriginPrefix string

	// RequiresConversion sources ledger abs(total x exchange rate); a
	// missing or non-positive rate disqualifies the record. All other
	// sources ledger the outstanding abs(residual).
	RequiresConversion bool

	// NonAutomatableStates are payment states the business rules refuse to
	// ledger automatically (e.g. reversed, cancelled).
	NonAutomatableStates []string

	// FlagDueEqualsIssue treats due date == invoice date as anomalous.
	FlagDueEqualsIssue bool
}

func (r SourceRules) JobSpec() JobSpec {
	return JobSpec{Key: r.Key, Name: r.Name, Description: r.Description}
}

// Domain builds the Odoo search domain for this source. Paid documents are
// excluded upstream; the classifier only ever sees open ones.
func (r SourceRules) Domain() []odoo.Condition {
	domain := []odoo.Condition{
		{Field: "move_type", Operator: "in", Value: r.MoveTypes},
		{Field: "state", Operator: "in", Value: []string{"draft", "posted"}},
		{Field: "payment_state", Operator: "!=", Value: "paid"},
	}
	if r.OriginPrefix != "" {
		domain = append(domain, odoo.Condition{Field: "invoice_origin", Operator: "ilike", Value: r.OriginPrefix + "%"})
	}
	if companyID := envCompanyID(); companyID > 0 {
		domain = append(domain, odoo.Condition{Field: "company_id", Operator: "=", Value: companyID})
	}
	if from := strings.TrimSpace(os.Getenv("ODOO_DATE_FROM")); from != "" {
		domain = append(domain, odoo.Condition{Field: "invoice_date", Operator: ">=", Value: from})
	}
	return domain
}

func envCompanyID() int {
	v := strings.TrimSpace(os.Getenv("ODOO_COMPANY_ID"))
	if v == "" {
		return 1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 1
	}
	return n
}

// Sources returns the configured source types in execution order.
func Sources() []SourceRules {
	return []SourceRules{
		{
			Key:             "import_purchases",
			Name:            "Import Purchases",
			Description:     "Importing foreign purchases from Odoo",
			Category:        models.CategoryPurchases,
			MoveTypes:       []string{"in_invoice", "in_refund"},
			InvoiceMoveType: "in_invoice",
			InvoiceSign:     models.SignOutflow,
			OriginPrefix:    "CE",
			// Foreign-currency purchases: amounts converted at the
			// document's custom rate.
			RequiresConversion: true,
		},
		{
			Key:                  "local_sales",
			Name:                 "Local Sales",
			Description:          "Importing local sales from Odoo",
			Category:             models.CategorySales,
			MoveTypes:            []string{"out_invoice", "out_refund"},
			InvoiceMoveType:      "out_invoice",
			InvoiceSign:          models.SignInflow,
			NonAutomatableStates: []string{"reversed", "cancelled"},
			FlagDueEqualsIssue:   true,
		},
		{
			Key:                  "local_purchases",
			Name:                 "Local Purchases",
			Description:          "Importing local purchases with due dates from Odoo",
			Category:             models.CategoryPurchases,
			MoveTypes:            []string{"in_invoice", "in_refund"},
			InvoiceMoveType:      "in_invoice",
			InvoiceSign:          models.SignOutflow,
			NonAutomatableStates: []string{"reversed", "cancelled"},
			FlagDueEqualsIssue:   true,
		},
	}
}

// SourceByKey looks a source up by its job key.
func SourceByKey(key string) (SourceRules, bool) {
	for _, s := range Sources() {
		if s.Key == key {
			return s, true
		}
	}
	return SourceRules{}, false
}

// DefaultJobs returns the refresh job list in execution order.
func DefaultJobs() []JobSpec {
	sources := Sources()
	jobs := make([]JobSpec, 0, len(sources))
	for _, s := range sources {
		jobs = append(jobs, s.JobSpec())
	}
	return jobs
}
