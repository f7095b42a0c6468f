package reports_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/billing-core/internal/billing/reports"
	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

const owner = "owner-1"

type fakeSource struct {
	docs     []reports.DocumentEntry
	incomes  []reports.Income
	expenses []reports.Expense
	err      error
	calls    atomic.Int32
}

func (f *fakeSource) Documents(ctx context.Context, ownerID string, from, to time.Time) ([]reports.DocumentEntry, error) {
	f.calls.Add(1)
	return f.docs, f.err
}

func (f *fakeSource) Incomes(ctx context.Context, ownerID string, from, to time.Time) ([]reports.Income, error) {
	return f.incomes, nil
}

func (f *fakeSource) Expenses(ctx context.Context, ownerID string, from, to time.Time) ([]reports.Expense, error) {
	return f.expenses, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }

func invoice(id string, status shared.Status, date time.Time, net, vat string) reports.DocumentEntry {
	n, v := dec(net), dec(vat)
	return reports.DocumentEntry{
		ID: id, Kind: shared.KindInvoice, DisplayNumber: id, Status: status, IssueDate: date,
		Currency: "ILS", Net: n, VAT: v, Gross: n.Add(v),
	}
}

func newAggregator(src reports.Source, opts reports.Options) *reports.Aggregator {
	if opts.Currency == "" {
		opts.Currency = "ILS"
	}
	return reports.NewAggregator(src, opts)
}

func yearRange() (time.Time, time.Time) { return reports.YearRange(2024) }

func TestBuildBasicProfit(t *testing.T) {
	src := &fakeSource{
		docs: []reports.DocumentEntry{invoice("1001", shared.StatusSent, day(3, 1), "1000", "170")},
		expenses: []reports.Expense{
			{ID: "e1", Date: day(3, 5), Amount: dec("234"), VATAmount: dec("34"), Currency: "ILS", IsDeductible: true},
		},
	}
	from, to := yearRange()
	report, err := newAggregator(src, reports.Options{}).Build(context.Background(), owner, from, to)
	require.NoError(t, err)

	assert.Equal(t, "1000", report.Revenue.Taxable.String())
	assert.Equal(t, "170", report.Revenue.VAT.String())
	assert.Equal(t, "1170", report.Revenue.Total.String())
	assert.Equal(t, "200", report.Expenses.Recognized.String())
	assert.Equal(t, "34", report.Expenses.VATRecognized.String())
	assert.Equal(t, "234", report.Expenses.Total.String())
	assert.Equal(t, "800", report.NetProfit.String())
	assert.Len(t, report.Transactions, 2)
}

func TestBuildCreditNoteSubtracts(t *testing.T) {
	credit := reports.DocumentEntry{
		ID: "cn", Kind: shared.KindCreditNote, DisplayNumber: "CN-1001", Status: shared.StatusSent,
		IssueDate: day(4, 1), Currency: "ILS", Net: dec("100"), VAT: dec("17"), Gross: dec("117"),
	}
	src := &fakeSource{docs: []reports.DocumentEntry{invoice("1001", shared.StatusPaid, day(3, 1), "1000", "170"), credit}}
	from, to := yearRange()
	report, err := newAggregator(src, reports.Options{}).Build(context.Background(), owner, from, to)
	require.NoError(t, err)

	assert.Equal(t, "900", report.Revenue.Taxable.String())
	assert.Equal(t, "153", report.Revenue.VAT.String())
	assert.Equal(t, "900", report.NetProfit.String())
	assert.Equal(t, reports.TxCreditNote, report.Transactions[0].Type)
	assert.True(t, report.Transactions[0].Amount.IsNegative())
}

func TestBuildStatusFiltering(t *testing.T) {
	src := &fakeSource{docs: []reports.DocumentEntry{
		invoice("a", shared.StatusDraft, day(1, 10), "100", "0"),
		invoice("b", shared.StatusCancelled, day(1, 11), "500", "0"),
		invoice("c", shared.StatusOverdue, day(1, 12), "50", "0"),
	}}
	from, to := yearRange()

	report, err := newAggregator(src, reports.Options{}).Build(context.Background(), owner, from, to)
	require.NoError(t, err)
	assert.Equal(t, "150", report.Revenue.Taxable.String())

	strict, err := newAggregator(src, reports.Options{ExcludeDrafts: true}).Build(context.Background(), owner, from, to)
	require.NoError(t, err)
	assert.Equal(t, "50", strict.Revenue.Taxable.String())
}

func TestBuildIncomes(t *testing.T) {
	linked := "inv-1"
	before := dec("80")
	src := &fakeSource{incomes: []reports.Income{
		{ID: "i1", Date: day(2, 1), Amount: dec("117"), VATAmount: dec("17"), Currency: "ILS", Category: "consulting"},
		{ID: "i2", Date: day(2, 2), Amount: dec("90"), VATAmount: dec("10"), AmountBeforeVAT: &before, Currency: "ILS", Source: "Marketplace", ClientName: "Etsy"},
		{ID: "i3", Date: day(2, 3), Amount: dec("1000"), Currency: "ILS", InvoiceID: &linked},
	}}
	from, to := yearRange()
	report, err := newAggregator(src, reports.Options{}).Build(context.Background(), owner, from, to)
	require.NoError(t, err)

	assert.Equal(t, "180", report.Revenue.Taxable.String())
	assert.Equal(t, "27", report.Revenue.VAT.String())
	assert.Equal(t, "207", report.Revenue.Total.String())
	require.Len(t, report.Transactions, 2)

	marketplace := report.Transactions[0]
	assert.Equal(t, "i2", marketplace.ID)
	assert.Equal(t, "Marketplace", marketplace.Description)
	assert.Equal(t, "80", marketplace.AmountNet.String())
	assert.Equal(t, "10", marketplace.VAT.String())
	raw, err := json.Marshal(marketplace)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"amount_net":"80"`)
	assert.Contains(t, string(raw), `"entity_name":"Etsy"`)

	consulting := report.Transactions[1]
	assert.Equal(t, "consulting", consulting.Description)
	assert.Equal(t, "consulting", consulting.Category)
}

func TestBuildIncomeVATFromAmountBeforeVAT(t *testing.T) {
	before := dec("100")
	src := &fakeSource{incomes: []reports.Income{
		{ID: "i1", Date: day(4, 1), Amount: dec("118"), AmountBeforeVAT: &before, Currency: "ILS"},
		{ID: "i2", Date: day(4, 2), Amount: dec("50"), Currency: "ILS"},
	}}
	from, to := yearRange()
	report, err := newAggregator(src, reports.Options{}).Build(context.Background(), owner, from, to)
	require.NoError(t, err)

	assert.Equal(t, "150", report.Revenue.Taxable.String())
	assert.Equal(t, "18", report.Revenue.VAT.String())
	assert.Equal(t, "168", report.Revenue.Total.String())
	assert.True(t, report.Revenue.Taxable.Add(report.Revenue.VAT).Equal(report.Revenue.Total))
}

func TestBuildExpenseDeductibility(t *testing.T) {
	half := dec("0.5")
	src := &fakeSource{expenses: []reports.Expense{
		{ID: "car", Date: day(5, 1), Amount: dec("1170"), VATAmount: dec("170"), Currency: "ILS", IsDeductible: true, DeductibleRate: &half},
		{ID: "gift", Date: day(5, 2), Amount: dec("300"), VATAmount: dec("0"), Currency: "ILS", IsDeductible: false},
	}}
	from, to := yearRange()
	report, err := newAggregator(src, reports.Options{}).Build(context.Background(), owner, from, to)
	require.NoError(t, err)

	assert.Equal(t, "1470", report.Expenses.Total.String())
	assert.Equal(t, "500", report.Expenses.Recognized.String())
	assert.Equal(t, "170", report.Expenses.VATRecognized.String())
	assert.Equal(t, "-500", report.NetProfit.String())
}

func TestBuildConvertsCurrencies(t *testing.T) {
	usd := invoice("usd", shared.StatusSent, day(6, 1), "100", "0")
	usd.Currency = "USD"
	src := &fakeSource{docs: []reports.DocumentEntry{usd}}
	from, to := yearRange()

	report, err := newAggregator(src, reports.Options{Rates: map[string]decimal.Decimal{"usd": dec("3.7")}}).
		Build(context.Background(), owner, from, to)
	require.NoError(t, err)
	assert.Equal(t, "370", report.Revenue.Taxable.String())
	assert.Equal(t, "USD", report.Transactions[0].OriginalCurrency)

	_, err = newAggregator(src, reports.Options{}).Build(context.Background(), owner, from, to)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestBuildSortsNewestFirst(t *testing.T) {
	src := &fakeSource{
		docs: []reports.DocumentEntry{
			invoice("b", shared.StatusSent, day(1, 5), "1", "0"),
			invoice("a", shared.StatusSent, day(1, 5), "1", "0"),
			invoice("c", shared.StatusSent, day(3, 1), "1", "0"),
		},
		expenses: []reports.Expense{{ID: "e", Date: day(1, 5), Amount: dec("1"), Currency: "ILS"}},
	}
	from, to := yearRange()
	report, err := newAggregator(src, reports.Options{}).Build(context.Background(), owner, from, to)
	require.NoError(t, err)

	var ids []string
	for _, tx := range report.Transactions {
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []string{"c", "e", "a", "b"}, ids)
}

func TestBuildIgnoresOutOfRange(t *testing.T) {
	src := &fakeSource{docs: []reports.DocumentEntry{
		invoice("old", shared.StatusSent, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), "100", "0"),
		invoice("last", shared.StatusSent, day(12, 31), "10", "0"),
	}}
	from, to := yearRange()
	report, err := newAggregator(src, reports.Options{}).Build(context.Background(), owner, from, to)
	require.NoError(t, err)
	assert.Equal(t, "10", report.Revenue.Taxable.String())
}

func TestBuildValidatesRangeAndPropagatesErrors(t *testing.T) {
	from, to := yearRange()
	_, err := newAggregator(&fakeSource{}, reports.Options{}).Build(context.Background(), owner, to, from)
	assert.ErrorIs(t, err, shared.ErrValidation)

	boom := errors.New("boom")
	_, err = newAggregator(&fakeSource{err: boom}, reports.Options{}).Build(context.Background(), owner, from, to)
	assert.ErrorIs(t, err, boom)
}
