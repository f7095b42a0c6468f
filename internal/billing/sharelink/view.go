package sharelink

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/odyssey-erp/billing-core/internal/billing/documents"
	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

const dateLayout = "2006-01-02"

// FormatAmount renders an amount with grouping and two decimals, prefixed with
// the ISO currency code, e.g. "ILS 1,170.00".
func FormatAmount(tag language.Tag, code string, amount decimal.Decimal) string {
	unit, err := currency.ParseISO(code)
	prefix := code
	if err == nil {
		prefix = unit.String()
	}
	f, _ := amount.Float64()
	p := message.NewPrinter(tag)
	return prefix + " " + p.Sprint(number.Decimal(f, number.Scale(2)))
}

func newPublicView(doc documents.Document, tag language.Tag) PublicView {
	view := PublicView{
		Kind:           doc.Kind,
		Number:         doc.DisplayNumber,
		Status:         doc.Status,
		InvoiceType:    string(doc.InvoiceType),
		IssueDate:      doc.IssueDate.Format(dateLayout),
		ClientName:     doc.EntityName(),
		Currency:       doc.Currency,
		Lines:          make([]PublicLine, len(doc.Lines)),
		AmountNet:      doc.AmountNet,
		VAT:            doc.VAT,
		AmountGross:    doc.AmountGross,
		FormattedGross: FormatAmount(tag, doc.Currency, doc.AmountGross),
		IsSigned:       doc.IsSigned,
		SignedAt:       doc.SignedAt,
		CanSign:        doc.Kind == shared.KindQuote && !doc.IsSigned && doc.Status == shared.StatusSent,
	}
	if doc.DueDate != nil {
		view.DueDate = doc.DueDate.Format(dateLayout)
	}
	if doc.Notes != nil {
		view.Notes = *doc.Notes
	}
	if doc.Reason != nil {
		view.Reason = *doc.Reason
	}
	for i, line := range doc.Lines {
		view.Lines[i] = PublicLine{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			VATRate:     line.VATRate,
			AmountNet:   line.AmountNet,
			VAT:         line.VAT,
		}
	}
	return view
}
