package documents_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/billing-core/internal/billing/documents"
	"github.com/odyssey-erp/billing-core/internal/billing/documents/doctest"
	"github.com/odyssey-erp/billing-core/internal/billing/sequence"
	"github.com/odyssey-erp/billing-core/internal/billing/shared"
	platformshared "github.com/odyssey-erp/billing-core/internal/shared"
)

const owner = "owner-1"

var fixedNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	owners []string
}

func (n *recordingNotifier) DocumentsChanged(ctx context.Context, ownerID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.owners = append(n.owners, ownerID)
}

type recordingAudit struct {
	entries []platformshared.AuditLog
	err     error
}

func (a *recordingAudit) Record(ctx context.Context, log platformshared.AuditLog) error {
	a.entries = append(a.entries, log)
	return a.err
}

type countingMetrics struct {
	created  map[string]int
	failures int
	statuses []string
}

func (m *countingMetrics) DocumentCreated(kind string) {
	if m.created == nil {
		m.created = map[string]int{}
	}
	m.created[kind]++
}
func (m *countingMetrics) StatusChanged(kind, status string) { m.statuses = append(m.statuses, status) }
func (m *countingMetrics) AllocationFailed(kind string)      { m.failures++ }

type fixture struct {
	repo     *doctest.Repository
	svc      *documents.Service
	notifier *recordingNotifier
	audit    *recordingAudit
	metrics  *countingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     doctest.NewRepository(),
		notifier: &recordingNotifier{},
		audit:    &recordingAudit{},
		metrics:  &countingMetrics{},
	}
	f.svc = documents.NewService(f.repo, documents.ServiceConfig{
		DefaultCurrency: "ILS",
		DefaultVATRate:  decimal.RequireFromString("0.18"),
		Notifier:        f.notifier,
		Audit:           f.audit,
		Metrics:         f.metrics,
		Clock:           func() time.Time { return fixedNow },
	})
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rate(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func str(s string) *string { return &s }

func basicInput() documents.Input {
	return documents.Input{
		IssueDate:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		GuestClientName: str("Walk-in"),
		Lines: []documents.LineInput{
			{Description: "Design work", Quantity: dec("10"), UnitPrice: dec("100"), VATRate: rate("0.17")},
		},
	}
}

func TestCreateAssignsNumberTotalsAndDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invoice, err := f.svc.Create(ctx, shared.KindInvoice, owner, basicInput())
	require.NoError(t, err)
	assert.Equal(t, shared.StatusDraft, invoice.Status)
	assert.Equal(t, int64(1001), invoice.Number)
	assert.Equal(t, "1001", invoice.DisplayNumber)
	assert.Equal(t, documents.InvoiceTypeTax, invoice.InvoiceType)
	assert.Equal(t, "ILS", invoice.Currency)
	assert.Equal(t, "1000", invoice.AmountNet.String())
	assert.Equal(t, "170", invoice.VAT.String())
	assert.True(t, invoice.AmountGross.Equal(invoice.AmountNet.Add(invoice.VAT)))

	second, err := f.svc.Create(ctx, shared.KindInvoice, owner, basicInput())
	require.NoError(t, err)
	assert.Equal(t, int64(1002), second.Number)

	quote, err := f.svc.Create(ctx, shared.KindQuote, owner, basicInput())
	require.NoError(t, err)
	assert.Equal(t, "2001", quote.DisplayNumber)

	assert.Equal(t, 2, f.metrics.created["INVOICE"])
	assert.Len(t, f.notifier.owners, 3)
	require.Len(t, f.audit.entries, 3)
	assert.Equal(t, "document.create", f.audit.entries[0].Action)
}

func TestCreateUsesDefaultVATRate(t *testing.T) {
	f := newFixture(t)
	in := basicInput()
	in.Lines[0].VATRate = nil

	doc, err := f.svc.Create(context.Background(), shared.KindQuote, owner, in)
	require.NoError(t, err)
	assert.Equal(t, "180", doc.VAT.String())
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noLines := basicInput()
	noLines.Lines = nil
	_, err := f.svc.Create(ctx, shared.KindInvoice, owner, noLines)
	require.ErrorIs(t, err, shared.ErrValidation)

	badQty := basicInput()
	badQty.Lines[0].Quantity = decimal.Zero
	_, err = f.svc.Create(ctx, shared.KindInvoice, owner, badQty)
	require.ErrorIs(t, err, shared.ErrValidation)

	badRate := basicInput()
	badRate.Lines[0].VATRate = rate("17")
	_, err = f.svc.Create(ctx, shared.KindInvoice, owner, badRate)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Create(ctx, shared.Kind("RECEIPT"), owner, basicInput())
	require.ErrorIs(t, err, shared.ErrValidation)

	assert.Equal(t, 0, f.repo.Count(owner, shared.KindInvoice))
}

func TestCreateFailsClosedOnAllocationFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.Allocator().Fail = errors.New("sequence store unavailable")

	_, err := f.svc.Create(context.Background(), shared.KindInvoice, owner, basicInput())
	require.ErrorIs(t, err, shared.ErrAllocationFailure)
	assert.Equal(t, 0, f.repo.Count(owner, shared.KindInvoice))
	assert.Equal(t, 1, f.metrics.failures)
}

func TestRolledBackCreateDoesNotConsumeNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.InsertError = errors.New("disk full")

	_, err := f.svc.Create(ctx, shared.KindInvoice, owner, basicInput())
	require.Error(t, err)

	f.repo.InsertError = nil
	doc, err := f.svc.Create(ctx, shared.KindInvoice, owner, basicInput())
	require.NoError(t, err)
	assert.Equal(t, int64(1001), doc.Number)
}

func TestConcurrentCreatesProduceDistinctConsecutiveNumbers(t *testing.T) {
	f := newFixture(t)
	const workers = 50
	numbers := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := f.svc.Create(context.Background(), shared.KindInvoice, owner, basicInput())
			assert.NoError(t, err)
			numbers <- doc.Number
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[int64]bool{}
	for n := range numbers {
		assert.False(t, seen[n], "duplicate number %d", n)
		seen[n] = true
	}
	for n := int64(1001); n < 1001+workers; n++ {
		assert.True(t, seen[n], "missing number %d", n)
	}
}

func TestUpdateRecomputesTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.Create(ctx, shared.KindQuote, owner, basicInput())
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, shared.KindQuote, owner, doc.ID, documents.Patch{
		Notes: str("revised"),
		Lines: []documents.LineInput{
			{Description: "Design", Quantity: dec("2"), UnitPrice: dec("50.50"), VATRate: rate("0.17")},
			{Description: "Hosting", Quantity: dec("1"), UnitPrice: dec("19.99"), VATRate: rate("0")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "120.99", updated.AmountNet.StringFixed(2))
	assert.Equal(t, "17.17", updated.VAT.StringFixed(2))
	assert.True(t, updated.AmountGross.Equal(updated.AmountNet.Add(updated.VAT)))
	assert.Equal(t, doc.Number, updated.Number)

	stored, err := f.svc.Get(ctx, shared.KindQuote, owner, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "revised", *stored.Notes)
	assert.Len(t, stored.Lines, 2)
}

func TestUpdateRejectsImmutableDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quote, err := f.svc.Create(ctx, shared.KindQuote, owner, basicInput())
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, shared.KindQuote, owner, quote.ID, shared.StatusSent)
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, shared.KindQuote, owner, quote.ID, shared.StatusAccepted)
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, shared.KindQuote, owner, quote.ID, documents.Patch{Notes: str("x")})
	require.ErrorIs(t, err, shared.ErrImmutableDocument)

	invoice, err := f.svc.Create(ctx, shared.KindInvoice, owner, basicInput())
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, shared.KindInvoice, owner, invoice.ID, shared.StatusSent)
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, shared.KindInvoice, owner, invoice.ID, documents.Patch{Notes: str("still editable")})
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, shared.KindInvoice, owner, invoice.ID, shared.StatusPaid)
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, shared.KindInvoice, owner, invoice.ID, documents.Patch{Notes: str("x")})
	require.ErrorIs(t, err, shared.ErrImmutableDocument)
}

func TestUpdateSignedQuoteIsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quote, err := f.svc.Create(ctx, shared.KindQuote, owner, basicInput())
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, shared.KindQuote, owner, quote.ID, shared.StatusSent)
	require.NoError(t, err)

	signed, err := f.svc.SignQuote(ctx, owner, quote.ID, "data:image/png;base64,AAAA")
	require.NoError(t, err)
	assert.True(t, signed.IsSigned)
	assert.Equal(t, shared.StatusAccepted, signed.Status)
	require.NotNil(t, signed.SignedAt)
	assert.Equal(t, fixedNow, *signed.SignedAt)

	_, err = f.svc.Update(ctx, shared.KindQuote, owner, quote.ID, documents.Patch{Notes: str("x")})
	require.ErrorIs(t, err, shared.ErrImmutableDocument)

	_, err = f.svc.SignQuote(ctx, owner, quote.ID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestSignQuoteRequiresSentStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quote, err := f.svc.Create(ctx, shared.KindQuote, owner, basicInput())
	require.NoError(t, err)

	_, err = f.svc.SignQuote(ctx, owner, quote.ID, "sig")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.svc.SignQuote(ctx, owner, quote.ID, "  ")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSetStatusRejectsOutOfTableTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quote, err := f.svc.Create(ctx, shared.KindQuote, owner, basicInput())
	require.NoError(t, err)

	_, err = f.svc.SetStatus(ctx, shared.KindQuote, owner, quote.ID, shared.StatusAccepted)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	stored, err := f.svc.Get(ctx, shared.KindQuote, owner, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.StatusDraft, stored.Status)

	_, err = f.svc.SetStatus(ctx, shared.KindQuote, owner, quote.ID, shared.StatusPaid)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSetSameStatusIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.Create(ctx, shared.KindCreditNote, owner, basicInput())
	require.NoError(t, err)
	notified := len(f.notifier.owners)

	same, err := f.svc.SetStatus(ctx, shared.KindCreditNote, owner, doc.ID, shared.StatusDraft)
	require.NoError(t, err)
	assert.Equal(t, shared.StatusDraft, same.Status)
	assert.Len(t, f.notifier.owners, notified)
}

func TestSetPaidStampsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice, err := f.svc.Create(ctx, shared.KindInvoice, owner, basicInput())
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, shared.KindInvoice, owner, invoice.ID, shared.StatusSent)
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, shared.KindInvoice, owner, invoice.ID, shared.StatusOverdue)
	require.NoError(t, err)

	paid, err := f.svc.ChangeStatus(ctx, shared.KindInvoice, owner, invoice.ID, documents.StatusChange{Status: shared.StatusPaid})
	require.NoError(t, err)
	require.NotNil(t, paid.PaidAt)
	require.NotNil(t, paid.PaidAmount)
	assert.True(t, paid.PaidAmount.Equal(invoice.AmountGross))
	assert.Equal(t, []string{"SENT", "OVERDUE", "PAID"}, f.metrics.statuses)
}

func TestCreditNoteFromAmountUsesInvoiceRateAndHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice, err := f.svc.Create(ctx, shared.KindInvoice, owner, basicInput())
	require.NoError(t, err)

	amount := dec("100")
	note, err := f.svc.Create(ctx, shared.KindCreditNote, owner, documents.Input{
		IssueDate:       time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
		LinkedInvoiceID: &invoice.ID,
		Reason:          str("discount"),
		CreditAmount:    &amount,
	})
	require.NoError(t, err)
	assert.Equal(t, "CN-1001", note.DisplayNumber)
	assert.Equal(t, "100", note.AmountNet.String())
	assert.Equal(t, "17", note.VAT.String())
	assert.Equal(t, "117", note.TotalCredit().String())
	require.NotNil(t, note.DocumentHash)
	assert.Len(t, *note.DocumentHash, 64)

	updated, err := f.svc.Update(ctx, shared.KindCreditNote, owner, note.ID, documents.Patch{Reason: str("price correction")})
	require.NoError(t, err)
	assert.NotEqual(t, *note.DocumentHash, *updated.DocumentHash)
}

func TestCreditNoteRejectsUnknownInvoice(t *testing.T) {
	f := newFixture(t)
	amount := dec("10")
	_, err := f.svc.Create(context.Background(), shared.KindCreditNote, owner, documents.Input{
		LinkedInvoiceID: str("00000000-0000-0000-0000-000000000000"),
		CreditAmount:    &amount,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreditNoteFollowsInvoiceCurrencyAndClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := basicInput()
	in.Currency = "usd"
	invoice, err := f.svc.Create(ctx, shared.KindInvoice, owner, in)
	require.NoError(t, err)
	require.Equal(t, "USD", invoice.Currency)

	amount := dec("100")
	note, err := f.svc.Create(ctx, shared.KindCreditNote, owner, documents.Input{
		IssueDate:       time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
		LinkedInvoiceID: &invoice.ID,
		CreditAmount:    &amount,
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", note.Currency)
	require.NotNil(t, note.GuestClientName)
	assert.Equal(t, "Walk-in", *note.GuestClientName)
	assert.Equal(t, "117", note.TotalCredit().String())

	_, err = f.svc.Create(ctx, shared.KindCreditNote, owner, documents.Input{
		LinkedInvoiceID: &invoice.ID,
		Currency:        "ILS",
		CreditAmount:    &amount,
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Update(ctx, shared.KindCreditNote, owner, note.ID, documents.Patch{Currency: str("EUR")})
	require.ErrorIs(t, err, shared.ErrValidation)
	stored, err := f.svc.Get(ctx, shared.KindCreditNote, owner, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "USD", stored.Currency)
}

func TestDeleteInvoiceInUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice, err := f.svc.Create(ctx, shared.KindInvoice, owner, basicInput())
	require.NoError(t, err)
	amount := dec("10")
	note, err := f.svc.Create(ctx, shared.KindCreditNote, owner, documents.Input{LinkedInvoiceID: &invoice.ID, CreditAmount: &amount})
	require.NoError(t, err)

	err = f.svc.Delete(ctx, shared.KindInvoice, owner, invoice.ID)
	require.ErrorIs(t, err, shared.ErrDocumentInUse)

	require.NoError(t, f.svc.Delete(ctx, shared.KindCreditNote, owner, note.ID))
	f.repo.AddIncomeReference(invoice.ID)
	err = f.svc.Delete(ctx, shared.KindInvoice, owner, invoice.ID)
	require.ErrorIs(t, err, shared.ErrDocumentInUse)
}

func TestOwnershipIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.Create(ctx, shared.KindInvoice, owner, basicInput())
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, shared.KindInvoice, "intruder", doc.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.Get(ctx, shared.KindQuote, owner, doc.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	err = f.svc.Delete(ctx, shared.KindInvoice, "intruder", doc.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Create(ctx, shared.KindInvoice, owner, basicInput())
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, shared.KindInvoice, owner, basicInput())
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, shared.KindInvoice, owner, first.ID, shared.StatusSent)
	require.NoError(t, err)

	sent := shared.StatusSent
	docs, total, err := f.svc.List(ctx, shared.KindInvoice, owner, documents.Filter{Status: &sent})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, first.ID, docs[0].ID)

	_, total, err = f.svc.List(ctx, shared.KindInvoice, owner, documents.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestTransitionPastDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	in := basicInput()
	in.DueDate = &due

	late, err := f.svc.Create(ctx, shared.KindInvoice, owner, in)
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, shared.KindInvoice, owner, late.ID, shared.StatusSent)
	require.NoError(t, err)
	draft, err := f.svc.Create(ctx, shared.KindInvoice, owner, in)
	require.NoError(t, err)

	moved, err := f.svc.TransitionPastDue(ctx, shared.KindInvoice, shared.StatusSent, shared.StatusOverdue, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	stored, err := f.svc.Get(ctx, shared.KindInvoice, owner, late.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.StatusOverdue, stored.Status)
	stillDraft, err := f.svc.Get(ctx, shared.KindInvoice, owner, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.StatusDraft, stillDraft.Status)

	_, err = f.svc.TransitionPastDue(ctx, shared.KindInvoice, shared.StatusDraft, shared.StatusPaid, fixedNow)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestAuditFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.audit.err = errors.New("audit table missing")
	_, err := f.svc.Create(context.Background(), shared.KindInvoice, owner, basicInput())
	require.NoError(t, err)
}

func TestYearlyResetPolicy(t *testing.T) {
	repo := doctest.NewRepository()
	svc := documents.NewService(repo, documents.ServiceConfig{
		Policy:         sequence.Policy{ResetYearly: true},
		DefaultVATRate: dec("0.18"),
		Clock:          func() time.Time { return fixedNow },
	})
	ctx := context.Background()
	in := basicInput()
	a, err := svc.Create(ctx, shared.KindInvoice, owner, in)
	require.NoError(t, err)
	in.IssueDate = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	b, err := svc.Create(ctx, shared.KindInvoice, owner, in)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), a.Number)
	assert.Equal(t, int64(1001), b.Number)
	assert.Equal(t, 2025, b.FiscalYear)

	_, err = svc.Update(ctx, shared.KindInvoice, owner, a.ID, documents.Patch{IssueDate: &in.IssueDate})
	require.ErrorIs(t, err, shared.ErrValidation)

	sameYear := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	moved, err := svc.Update(ctx, shared.KindInvoice, owner, a.ID, documents.Patch{IssueDate: &sameYear})
	require.NoError(t, err)
	assert.Equal(t, sameYear, moved.IssueDate)
	assert.Equal(t, 2024, moved.FiscalYear)
}

func TestCreateRejectsUnknownCurrency(t *testing.T) {
	f := newFixture(t)
	in := basicInput()
	in.Currency = "ABC"

	_, err := f.svc.Create(context.Background(), shared.KindInvoice, owner, in)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Equal(t, 0, f.repo.Count(owner, shared.KindInvoice))
}
