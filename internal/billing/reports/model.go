// Package reports builds profit and loss reports from issued documents,
// manual incomes and expenses.
package reports

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

// TransactionType tags the origin of a report line.
type TransactionType string

const (
	TxInvoice    TransactionType = "INVOICE"
	TxCreditNote TransactionType = "CREDIT_NOTE"
	TxIncome     TransactionType = "INCOME"
	TxExpense    TransactionType = "EXPENSE"
)

// DocumentEntry is an invoice or credit note as seen by the report.
type DocumentEntry struct {
	ID            string
	Kind          shared.Kind
	DisplayNumber string
	Status        shared.Status
	IssueDate     time.Time
	ClientName    string
	Currency      string
	Net           decimal.Decimal
	VAT           decimal.Decimal
	Gross         decimal.Decimal
}

// Income is a manually recorded income. Gross is Amount.
type Income struct {
	ID              string
	Date            time.Time
	Description     string
	Source          string
	Category        string
	ClientName      string
	Amount          decimal.Decimal
	VATAmount       decimal.Decimal
	AmountBeforeVAT *decimal.Decimal
	Currency        string
	InvoiceID       *string
}

// Split returns the net and VAT parts of Amount. A recorded VAT amount wins;
// otherwise VAT is whatever Amount holds above AmountBeforeVAT.
func (i Income) Split() (net, vat decimal.Decimal) {
	switch {
	case !i.VATAmount.IsZero():
		return i.Amount.Sub(i.VATAmount), i.VATAmount
	case i.AmountBeforeVAT != nil && !i.AmountBeforeVAT.IsZero():
		return *i.AmountBeforeVAT, i.Amount.Sub(*i.AmountBeforeVAT)
	default:
		return i.Amount, decimal.Zero
	}
}

// Label is the text shown for the income in the report.
func (i Income) Label() string {
	switch {
	case i.Source != "":
		return i.Source
	case i.Category != "":
		return i.Category
	default:
		return i.Description
	}
}

// Expense is a recorded cost. Amount is gross.
type Expense struct {
	ID             string
	Date           time.Time
	Description    string
	Category       string
	SupplierName   string
	Amount         decimal.Decimal
	VATAmount      decimal.Decimal
	Currency       string
	IsDeductible   bool
	DeductibleRate *decimal.Decimal
}

// Rate returns the deductible share, defaulting to 1.
func (e Expense) Rate() decimal.Decimal {
	if e.DeductibleRate != nil {
		return *e.DeductibleRate
	}
	return decimal.NewFromInt(1)
}

// RevenueSummary totals the revenue side.
type RevenueSummary struct {
	Taxable decimal.Decimal `json:"taxable"`
	VAT     decimal.Decimal `json:"vat"`
	Total   decimal.Decimal `json:"total"`
}

// ExpenseSummary totals the expense side.
type ExpenseSummary struct {
	Total         decimal.Decimal `json:"total"`
	Recognized    decimal.Decimal `json:"recognized"`
	VATRecognized decimal.Decimal `json:"vat_recognized"`
}

// TransactionItem is one record that contributed to the report, converted to
// the report currency. Credit notes carry negative amounts.
type TransactionItem struct {
	ID               string          `json:"id"`
	Type             TransactionType `json:"type"`
	Date             time.Time       `json:"date"`
	Description      string          `json:"description"`
	EntityName       string          `json:"entity_name,omitempty"`
	Number           string          `json:"number,omitempty"`
	Category         string          `json:"category,omitempty"`
	OriginalCurrency string          `json:"original_currency"`
	AmountNet        decimal.Decimal `json:"amount_net"`
	VAT              decimal.Decimal `json:"vat"`
	Amount           decimal.Decimal `json:"amount"`
	// IsRecognized is set on expenses only.
	IsRecognized *bool `json:"is_recognized,omitempty"`
}

// ProfitLossReport is the aggregate for one owner and date range.
type ProfitLossReport struct {
	OwnerID      string            `json:"owner_id"`
	Year         int               `json:"year,omitempty"`
	Currency     string            `json:"currency"`
	From         time.Time         `json:"from"`
	To           time.Time         `json:"to"`
	Revenue      RevenueSummary    `json:"revenue"`
	Expenses     ExpenseSummary    `json:"expenses"`
	NetProfit    decimal.Decimal   `json:"net_profit"`
	Transactions []TransactionItem `json:"transactions"`
	GeneratedAt  time.Time         `json:"generated_at"`
}
