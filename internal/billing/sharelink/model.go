// Package sharelink issues unguessable tokens that expose a document without
// authentication.
package sharelink

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

// Token is the persisted mapping from token to document. At most one exists per document.
type Token struct {
	Token      string      `json:"token"`
	Kind       shared.Kind `json:"kind"`
	DocumentID string      `json:"document_id"`
	OwnerID    string      `json:"owner_id"`
	IssuedAt   time.Time   `json:"issued_at"`
}

// Ref is what a token resolves to.
type Ref struct {
	Kind       shared.Kind `json:"kind"`
	DocumentID string      `json:"document_id"`
	OwnerID    string      `json:"owner_id"`
}

// Link is returned to owners sharing a document.
type Link struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// PublicLine is a document line as shown to the recipient.
type PublicLine struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	AmountNet   decimal.Decimal `json:"amount_net"`
	VAT         decimal.Decimal `json:"vat"`
}

// PublicView is the recipient-facing projection of a document. It carries no
// internal identifiers.
type PublicView struct {
	Kind           shared.Kind     `json:"kind"`
	Number         string          `json:"number"`
	Status         shared.Status   `json:"status"`
	InvoiceType    string          `json:"invoice_type,omitempty"`
	IssueDate      string          `json:"issue_date"`
	DueDate        string          `json:"due_date,omitempty"`
	ClientName     string          `json:"client_name,omitempty"`
	Currency       string          `json:"currency"`
	Lines          []PublicLine    `json:"lines"`
	AmountNet      decimal.Decimal `json:"amount_net"`
	VAT            decimal.Decimal `json:"vat"`
	AmountGross    decimal.Decimal `json:"amount_gross"`
	FormattedGross string          `json:"formatted_gross"`
	Notes          string          `json:"notes,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	IsSigned       bool            `json:"is_signed"`
	SignedAt       *time.Time      `json:"signed_at,omitempty"`
	CanSign        bool            `json:"can_sign"`
}
