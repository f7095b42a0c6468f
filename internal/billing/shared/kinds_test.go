package shared

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKindAcceptsSlugAndStoredForm(t *testing.T) {
	for _, raw := range []string{"credit-note", "CREDIT_NOTE", " Credit-Note "} {
		kind, err := ParseKind(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, KindCreditNote, kind)
	}
	assert.Equal(t, "credit-note", KindCreditNote.Slug())

	_, err := ParseKind("receipt")
	require.ErrorIs(t, err, ErrValidation)
}

func TestParseStatusIsKindSpecific(t *testing.T) {
	status, err := ParseStatus(KindInvoice, "paid")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, status)

	_, err = ParseStatus(KindQuote, "PAID")
	require.ErrorIs(t, err, ErrValidation)

	_, err = ParseStatus(KindCreditNote, "ACCEPTED")
	require.ErrorIs(t, err, ErrValidation)
}

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		kind    Kind
		from    Status
		to      Status
		allowed bool
	}{
		{KindQuote, StatusDraft, StatusSent, true},
		{KindQuote, StatusSent, StatusAccepted, true},
		{KindQuote, StatusSent, StatusExpired, true},
		{KindQuote, StatusDraft, StatusAccepted, false},
		{KindQuote, StatusAccepted, StatusDraft, false},
		{KindQuote, StatusAccepted, StatusAccepted, true},
		{KindInvoice, StatusSent, StatusPaid, true},
		{KindInvoice, StatusOverdue, StatusPaid, true},
		{KindInvoice, StatusPaid, StatusCancelled, false},
		{KindInvoice, StatusDraft, StatusPaid, false},
		{KindCreditNote, StatusSent, StatusCancelled, true},
		{KindCreditNote, StatusCancelled, StatusDraft, false},
	}
	for _, tc := range cases {
		err := ValidateTransition(tc.kind, tc.from, tc.to)
		if tc.allowed {
			assert.NoError(t, err, "%s %s->%s", tc.kind, tc.from, tc.to)
			continue
		}
		assert.True(t, errors.Is(err, ErrInvalidTransition), "%s %s->%s", tc.kind, tc.from, tc.to)
	}
}

func TestCalculateLineKeepsGrossEqualNetPlusVAT(t *testing.T) {
	net, vat := CalculateLine(decimal.RequireFromString("3"), decimal.RequireFromString("33.33"), decimal.RequireFromString("0.17"))
	assert.Equal(t, "99.99", net.StringFixed(2))
	assert.Equal(t, "17", vat.String())

	totals := Totals{}.Add(net, vat).Add(CalculateLine(decimal.NewFromInt(1), decimal.RequireFromString("0.05"), decimal.RequireFromString("0.18")))
	assert.True(t, totals.Gross.Equal(totals.Net.Add(totals.VAT)))
	assert.Equal(t, "100.04", totals.Net.StringFixed(2))
	assert.Equal(t, "17.01", totals.VAT.StringFixed(2))

	neg := totals.Neg()
	assert.True(t, neg.Gross.Equal(totals.Gross.Neg()))
}
