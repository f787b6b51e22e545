package odoo

import (
	"bytes"
	"encoding/json"
	"time"
)

// Odoo serializes empty fields as JSON false instead of null. The wrapper
// types below absorb that quirk so the rest of the codebase never sees it.

// String decodes either a JSON string or false (empty).
type String string

func (s *String) UnmarshalJSON(raw []byte) error {
	if isOdooFalse(raw) {
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*s = String(v)
	return nil
}

// Float decodes a JSON number or false (absent). Set reports presence.
type Float struct {
	Value float64
	Set   bool
}

func (f *Float) UnmarshalJSON(raw []byte) error {
	if isOdooFalse(raw) {
		*f = Float{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*f = Float{Value: v, Set: true}
	return nil
}

// Date decodes an ISO date string or false (absent).
type Date struct {
	Value time.Time
	Set   bool
}

func (d *Date) UnmarshalJSON(raw []byte) error {
	if isOdooFalse(raw) {
		*d = Date{}
		return nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if v == "" {
		*d = Date{}
		return nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return err
	}
	*d = Date{Value: t, Set: true}
	return nil
}

// Many2One decodes Odoo's [id, display_name] pair or false.
type Many2One struct {
	ID   int
	Name string
}

func (m *Many2One) UnmarshalJSON(raw []byte) error {
	if isOdooFalse(raw) {
		*m = Many2One{}
		return nil
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return err
	}
	if len(pair) > 0 {
		if err := json.Unmarshal(pair[0], &m.ID); err != nil {
			return err
		}
	}
	if len(pair) > 1 {
		if err := json.Unmarshal(pair[1], &m.Name); err != nil {
			return err
		}
	}
	return nil
}

func isOdooFalse(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("false"))
}

// AccountMove is one bookkeeping document (invoice / credit note) as read
// from account.move.
type AccountMove struct {
	ID             int      `json:"id"`
	Name           String   `json:"name"`
	Ref            String   `json:"ref"`
	MoveType       string   `json:"move_type"`
	State          string   `json:"state"`
	PaymentState   string   `json:"payment_state"`
	InvoiceDate    Date     `json:"invoice_date"`
	InvoiceDateDue Date     `json:"invoice_date_due"`
	AmountTotal    float64  `json:"amount_total"`
	AmountResidual float64  `json:"amount_residual"`
	InvoiceOrigin  String   `json:"invoice_origin"`
	Company        Many2One `json:"company_id"`
	CustomRate     Float    `json:"custom_rate"`
}

// MoveFields is the field list requested from account.move reads.
var MoveFields = []string{
	"name",
	"ref",
	"move_type",
	"state",
	"payment_state",
	"invoice_date",
	"invoice_date_due",
	"amount_total",
	"amount_residual",
	"invoice_origin",
	"company_id",
	"custom_rate",
}

// Condition is one element of an Odoo search domain: [field, operator, value].
type Condition struct {
	Field    string
	Operator string
	Value    any
}

func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.Field, c.Operator, c.Value})
}
