package reports

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

// Options controls aggregation.
type Options struct {
	// Currency is the report currency. Rates maps other ISO codes to units
	// of Currency per unit.
	Currency      string
	Rates         map[string]decimal.Decimal
	ExcludeDrafts bool
	Clock         func() time.Time
}

// Aggregator computes profit and loss from a Source.
type Aggregator struct {
	source Source
	opts   Options
}

// NewAggregator builds an aggregator over source.
func NewAggregator(source Source, opts Options) *Aggregator {
	opts.Currency = strings.ToUpper(strings.TrimSpace(opts.Currency))
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	rates := make(map[string]decimal.Decimal, len(opts.Rates)+1)
	for code, rate := range opts.Rates {
		rates[strings.ToUpper(code)] = rate
	}
	if opts.Currency != "" {
		rates[opts.Currency] = decimal.NewFromInt(1)
	}
	opts.Rates = rates
	return &Aggregator{source: source, opts: opts}
}

// Currency reports the currency reports are expressed in.
func (a *Aggregator) Currency() string {
	return a.opts.Currency
}

// Build aggregates the owner's records issued between from and to inclusive.
func (a *Aggregator) Build(ctx context.Context, ownerID string, from, to time.Time) (ProfitLossReport, error) {
	if to.Before(from) {
		return ProfitLossReport{}, fmt.Errorf("%w: report range ends before it starts", shared.ErrValidation)
	}
	docs, err := a.source.Documents(ctx, ownerID, from, to)
	if err != nil {
		return ProfitLossReport{}, err
	}
	incomes, err := a.source.Incomes(ctx, ownerID, from, to)
	if err != nil {
		return ProfitLossReport{}, err
	}
	expenses, err := a.source.Expenses(ctx, ownerID, from, to)
	if err != nil {
		return ProfitLossReport{}, err
	}

	report := ProfitLossReport{
		OwnerID:      ownerID,
		Currency:     a.opts.Currency,
		From:         from,
		To:           to,
		Transactions: make([]TransactionItem, 0, len(docs)+len(incomes)+len(expenses)),
		GeneratedAt:  a.opts.Clock().UTC(),
	}
	b := builder{report: &report, conv: a.convert}

	for _, doc := range docs {
		if !inRange(doc.IssueDate, from, to) || !a.counts(doc) {
			continue
		}
		if err := b.document(doc); err != nil {
			return ProfitLossReport{}, err
		}
	}
	for _, income := range incomes {
		if income.InvoiceID != nil || !inRange(income.Date, from, to) {
			continue
		}
		if err := b.income(income); err != nil {
			return ProfitLossReport{}, err
		}
	}
	for _, expense := range expenses {
		if !inRange(expense.Date, from, to) {
			continue
		}
		if err := b.expense(expense); err != nil {
			return ProfitLossReport{}, err
		}
	}

	report.NetProfit = report.Revenue.Taxable.Sub(report.Expenses.Recognized)
	sortTransactions(report.Transactions)
	return report, nil
}

func (a *Aggregator) counts(doc DocumentEntry) bool {
	if doc.Kind != shared.KindInvoice && doc.Kind != shared.KindCreditNote {
		return false
	}
	switch doc.Status {
	case shared.StatusCancelled:
		return false
	case shared.StatusDraft:
		return !a.opts.ExcludeDrafts
	}
	return true
}

func (a *Aggregator) convert(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" || code == a.opts.Currency {
		return amount, nil
	}
	rate, ok := a.opts.Rates[code]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no exchange rate for %s", shared.ErrValidation, code)
	}
	return shared.Round(amount.Mul(rate)), nil
}

type builder struct {
	report *ProfitLossReport
	conv   func(decimal.Decimal, string) (decimal.Decimal, error)
}

func (b builder) convertAll(currency string, amounts ...decimal.Decimal) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(amounts))
	for i, amount := range amounts {
		converted, err := b.conv(amount, currency)
		if err != nil {
			return nil, err
		}
		out[i] = converted
	}
	return out, nil
}

func (b builder) document(doc DocumentEntry) error {
	v, err := b.convertAll(doc.Currency, doc.Net, doc.VAT, doc.Gross)
	if err != nil {
		return err
	}
	net, vat, gross := v[0], v[1], v[2]
	txType := TxInvoice
	if doc.Kind == shared.KindCreditNote {
		txType = TxCreditNote
		net, vat, gross = net.Neg(), vat.Neg(), gross.Neg()
	}
	rev := &b.report.Revenue
	rev.Taxable = rev.Taxable.Add(net)
	rev.VAT = rev.VAT.Add(vat)
	rev.Total = rev.Total.Add(gross)
	b.report.Transactions = append(b.report.Transactions, TransactionItem{
		ID:               doc.ID,
		Type:             txType,
		Date:             doc.IssueDate,
		Description:      doc.DisplayNumber,
		EntityName:       doc.ClientName,
		Number:           doc.DisplayNumber,
		OriginalCurrency: doc.Currency,
		AmountNet:        net,
		VAT:              vat,
		Amount:           gross,
	})
	return nil
}

func (b builder) income(income Income) error {
	baseNet, baseVAT := income.Split()
	v, err := b.convertAll(income.Currency, baseNet, baseVAT, income.Amount)
	if err != nil {
		return err
	}
	net, vat, gross := v[0], v[1], v[2]
	rev := &b.report.Revenue
	rev.Taxable = rev.Taxable.Add(net)
	rev.VAT = rev.VAT.Add(vat)
	rev.Total = rev.Total.Add(gross)
	b.report.Transactions = append(b.report.Transactions, TransactionItem{
		ID:               income.ID,
		Type:             TxIncome,
		Date:             income.Date,
		Description:      income.Label(),
		Category:         income.Category,
		EntityName:       income.ClientName,
		OriginalCurrency: income.Currency,
		AmountNet:        net,
		VAT:              vat,
		Amount:           gross,
	})
	return nil
}

func (b builder) expense(expense Expense) error {
	v, err := b.convertAll(expense.Currency, expense.Amount, expense.VATAmount)
	if err != nil {
		return err
	}
	gross, vat := v[0], v[1]
	net := gross.Sub(vat)
	exp := &b.report.Expenses
	exp.Total = exp.Total.Add(gross)
	recognized := expense.IsDeductible
	if recognized {
		exp.Recognized = exp.Recognized.Add(shared.Round(net.Mul(expense.Rate())))
		exp.VATRecognized = exp.VATRecognized.Add(vat)
	}
	b.report.Transactions = append(b.report.Transactions, TransactionItem{
		ID:               expense.ID,
		Type:             TxExpense,
		Date:             expense.Date,
		Description:      expense.Description,
		EntityName:       expense.SupplierName,
		Category:         expense.Category,
		OriginalCurrency: expense.Currency,
		AmountNet:        net,
		VAT:              vat,
		Amount:           gross,
		IsRecognized:     &recognized,
	})
	return nil
}

func inRange(day, from, to time.Time) bool {
	return !day.Before(from) && !day.After(to)
}

// sortTransactions orders newest first, then by type and id.
func sortTransactions(items []TransactionItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
}
