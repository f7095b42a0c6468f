package shared

import (
	"fmt"
	"strings"
)

// Kind identifies the billing document family.
type Kind string

const (
	KindQuote      Kind = "QUOTE"
	KindInvoice    Kind = "INVOICE"
	KindCreditNote Kind = "CREDIT_NOTE"
)

// Kinds lists every document kind.
var Kinds = []Kind{KindQuote, KindInvoice, KindCreditNote}

// ParseKind accepts both the stored form ("CREDIT_NOTE") and the URL slug ("credit-note").
func ParseKind(raw string) (Kind, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_"))
	for _, k := range Kinds {
		if string(k) == normalized {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown document kind %q", ErrValidation, raw)
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, err := ParseKind(string(k))
	return err == nil
}

// Slug renders the kind the way it appears in URLs.
func (k Kind) Slug() string {
	return strings.ToLower(strings.ReplaceAll(string(k), "_", "-"))
}

// Status is a lifecycle state. The allowed set depends on the Kind.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusAccepted  Status = "ACCEPTED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
	StatusPaid      Status = "PAID"
	StatusOverdue   Status = "OVERDUE"
)

var lifecycles = map[Kind]map[Status][]Status{
	KindQuote: {
		StatusDraft:     {StatusSent, StatusCancelled},
		StatusSent:      {StatusAccepted, StatusExpired, StatusCancelled},
		StatusAccepted:  nil,
		StatusExpired:   nil,
		StatusCancelled: nil,
	},
	KindInvoice: {
		StatusDraft:     {StatusSent, StatusCancelled},
		StatusSent:      {StatusPaid, StatusOverdue, StatusCancelled},
		StatusOverdue:   {StatusPaid, StatusCancelled},
		StatusPaid:      nil,
		StatusCancelled: nil,
	},
	KindCreditNote: {
		StatusDraft:     {StatusSent, StatusCancelled},
		StatusSent:      {StatusCancelled},
		StatusCancelled: nil,
	},
}

// ParseStatus validates raw against the statuses known for kind.
func ParseStatus(kind Kind, raw string) (Status, error) {
	table, ok := lifecycles[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown document kind %q", ErrValidation, kind)
	}
	status := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := table[status]; !ok {
		return "", fmt.Errorf("%w: status %q is not valid for %s", ErrValidation, raw, kind)
	}
	return status, nil
}

// ValidateTransition checks a status change against the kind's lifecycle.
// Re-applying the current status is accepted as a no-op.
func ValidateTransition(kind Kind, current, target Status) error {
	if current == target {
		return nil
	}
	for _, next := range lifecycles[kind][current] {
		if next == target {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, kind, current, target)
}
