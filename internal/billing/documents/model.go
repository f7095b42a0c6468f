package documents

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/billing-core/internal/billing/sequence"
	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

// InvoiceType classifies invoices for tax reporting.
type InvoiceType string

const (
	InvoiceTypeTax     InvoiceType = "TAX_INVOICE"
	InvoiceTypeReceipt InvoiceType = "RECEIPT"
	InvoiceTypeInvoice InvoiceType = "INVOICE"
	InvoiceTypeDeal    InvoiceType = "DEAL_INVOICE"
	InvoiceTypeRefund  InvoiceType = "REFUND_INVOICE"
)

// Valid reports whether t is a known invoice type.
func (t InvoiceType) Valid() bool {
	switch t {
	case InvoiceTypeTax, InvoiceTypeReceipt, InvoiceTypeInvoice, InvoiceTypeDeal, InvoiceTypeRefund:
		return true
	}
	return false
}

// LineItem is one priced row of a document.
type LineItem struct {
	Position    int             `json:"position"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	AmountNet   decimal.Decimal `json:"amount_net"`
	VAT         decimal.Decimal `json:"vat"`
}

// Document is a quote, invoice or credit note. Fields under a kind heading are
// only meaningful for that kind.
type Document struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Kind            shared.Kind     `json:"kind"`
	FiscalYear      int             `json:"fiscal_year"`
	Number          int64           `json:"number"`
	DisplayNumber   string          `json:"display_number"`
	Status          shared.Status   `json:"status"`
	IssueDate       time.Time       `json:"issue_date"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	ClientID        *string         `json:"client_id,omitempty"`
	ClientName      *string         `json:"client_name,omitempty"`
	GuestClientName *string         `json:"guest_client_name,omitempty"`
	Currency        string          `json:"currency"`
	Lines           []LineItem      `json:"lines"`
	AmountNet       decimal.Decimal `json:"amount_net"`
	VAT             decimal.Decimal `json:"vat"`
	AmountGross     decimal.Decimal `json:"amount_gross"`
	Notes           *string         `json:"notes,omitempty"`

	// Quote
	IsSigned  bool       `json:"is_signed"`
	SignedAt  *time.Time `json:"signed_at,omitempty"`
	Signature *string    `json:"signature,omitempty"`
	InvoiceID *string    `json:"invoice_id,omitempty"`

	// Invoice
	InvoiceType   InvoiceType      `json:"invoice_type,omitempty"`
	SourceQuoteID *string          `json:"source_quote_id,omitempty"`
	PaidAt        *time.Time       `json:"paid_at,omitempty"`
	PaidAmount    *decimal.Decimal `json:"paid_amount,omitempty"`

	// Credit note
	LinkedInvoiceID *string `json:"linked_invoice_id,omitempty"`
	Reason          *string `json:"reason,omitempty"`
	DocumentHash    *string `json:"document_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Totals returns the document's net, VAT and gross amounts.
func (d Document) Totals() shared.Totals {
	return shared.Totals{Net: d.AmountNet, VAT: d.VAT, Gross: d.AmountGross}
}

// TotalCredit is the gross amount a credit note gives back.
func (d Document) TotalCredit() decimal.Decimal {
	return d.AmountGross
}

// EntityName is the client label printed on the document.
func (d Document) EntityName() string {
	if d.ClientName != nil && *d.ClientName != "" {
		return *d.ClientName
	}
	if d.GuestClientName != nil {
		return *d.GuestClientName
	}
	return ""
}

// IsImmutable reports whether the document content is locked against edits.
func (d Document) IsImmutable() bool {
	switch d.Kind {
	case shared.KindQuote:
		return d.IsSigned || d.Status == shared.StatusAccepted || d.Status == shared.StatusCancelled
	case shared.KindInvoice:
		return d.Status == shared.StatusPaid
	case shared.KindCreditNote:
		return d.Status == shared.StatusCancelled
	}
	return false
}

// SequenceKey derives the numbering key for the document.
func (d Document) SequenceKey(policy sequence.Policy) sequence.Key {
	return policy.KeyFor(d.OwnerID, d.Kind, d.IssueDate)
}

// applyLines replaces the lines and recomputes every amount from them.
func (d *Document) applyLines(lines []LineItem) {
	totals := shared.Totals{Net: decimal.Zero, VAT: decimal.Zero, Gross: decimal.Zero}
	d.Lines = make([]LineItem, len(lines))
	for i, line := range lines {
		line.Position = i + 1
		line.AmountNet, line.VAT = shared.CalculateLine(line.Quantity, line.UnitPrice, line.VATRate)
		totals = totals.Add(line.AmountNet, line.VAT)
		d.Lines[i] = line
	}
	d.AmountNet = totals.Net
	d.VAT = totals.VAT
	d.AmountGross = totals.Gross
}

// effectiveVATRate is the single rate shared by every line, or the blended rate
// when lines differ.
func (d Document) effectiveVATRate(fallback decimal.Decimal) decimal.Decimal {
	if len(d.Lines) == 0 {
		return fallback
	}
	rate := d.Lines[0].VATRate
	for _, line := range d.Lines[1:] {
		if !line.VATRate.Equal(rate) {
			if d.AmountNet.IsZero() {
				return fallback
			}
			return d.VAT.Div(d.AmountNet).Round(4)
		}
	}
	return rate
}

// computeHash fingerprints the fields that make a credit note legally binding.
func (d Document) computeHash() string {
	linked := ""
	if d.LinkedInvoiceID != nil {
		linked = *d.LinkedInvoiceID
	}
	reason := ""
	if d.Reason != nil {
		reason = *d.Reason
	}
	payload := fmt.Sprintf("%s|%s|%s|%s|%s", d.DisplayNumber, d.IssueDate.Format("2006-01-02"), d.TotalCredit().StringFixed(2), linked, reason)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// LineInput is a caller-supplied line before amounts are derived.
type LineInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	// VATRate is a fraction; nil takes the configured default.
	VATRate *decimal.Decimal
}

// Input carries the caller-controlled fields of a new document.
type Input struct {
	IssueDate       time.Time
	DueDate         *time.Time
	ClientID        *string
	GuestClientName *string
	Currency        string
	Notes           *string
	Lines           []LineInput

	InvoiceType InvoiceType

	LinkedInvoiceID *string
	Reason          *string
	// CreditAmount creates a single net line at the linked invoice's VAT rate
	// when no lines are given.
	CreditAmount *decimal.Decimal
}

// Patch lists the fields to change; nil leaves a field untouched.
type Patch struct {
	IssueDate       *time.Time
	DueDate         *time.Time
	ClientID        *string
	GuestClientName *string
	Currency        *string
	Notes           *string
	Lines           []LineInput
	InvoiceType     *InvoiceType
	Reason          *string
}

// StatusChange requests a lifecycle transition. Paid fields only apply when an
// invoice moves to PAID.
type StatusChange struct {
	Status     shared.Status
	PaidAt     *time.Time
	PaidAmount *decimal.Decimal
}

// Filter narrows List results.
type Filter struct {
	Status   *shared.Status
	From     *time.Time
	To       *time.Time
	ClientID *string
	Limit    int
	Offset   int
}
