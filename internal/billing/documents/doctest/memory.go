// Package doctest provides an in-memory documents.Repository for tests.
package doctest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/billing-core/internal/billing/documents"
	"github.com/odyssey-erp/billing-core/internal/billing/sequence"
	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

// Repository keeps documents in memory. Transactions are serialised by a
// single mutex and rolled back by restoring a snapshot.
type Repository struct {
	txMu sync.Mutex
	mu   sync.Mutex

	docs      map[string]documents.Document
	incomeRef map[string]int
	alloc     *sequence.MemoryAllocator

	// TxError is returned by WithTx before fn runs.
	TxError error
	// InsertError is returned by Insert.
	InsertError error
	// BeforeCommit runs after fn succeeded and may veto the commit.
	BeforeCommit func() error
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{
		docs:      make(map[string]documents.Document),
		incomeRef: make(map[string]int),
		alloc:     sequence.NewMemoryAllocator(),
	}
}

// Allocator exposes the backing allocator so tests can force failures.
func (r *Repository) Allocator() *sequence.MemoryAllocator {
	return r.alloc
}

// Put stores doc as-is.
func (r *Repository) Put(doc documents.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = clone(doc)
}

// AddIncomeReference records an income row pointing at invoiceID.
func (r *Repository) AddIncomeReference(invoiceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incomeRef[invoiceID]++
}

// Count returns how many documents of kind are stored for owner.
func (r *Repository) Count(ownerID string, kind shared.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.docs {
		if d.OwnerID == ownerID && d.Kind == kind {
			n++
		}
	}
	return n
}

// WithTx implements documents.Repository.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, documents.TxRepository) error) error {
	if r.TxError != nil {
		return r.TxError
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snapshot := make(map[string]documents.Document, len(r.docs))
	for k, v := range r.docs {
		snapshot[k] = v
	}
	r.mu.Unlock()

	tx := &txRepository{repo: r}
	err := fn(ctx, tx)
	if err == nil && r.BeforeCommit != nil {
		err = r.BeforeCommit()
	}
	if err != nil {
		r.mu.Lock()
		r.docs = snapshot
		r.mu.Unlock()
		for i := len(tx.allocated) - 1; i >= 0; i-- {
			r.alloc.Release(tx.allocated[i].key, tx.allocated[i].n)
		}
		return err
	}
	return nil
}

func (r *Repository) get(ownerID string, kind shared.Kind, id string) (documents.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok || doc.OwnerID != ownerID || doc.Kind != kind {
		return documents.Document{}, fmt.Errorf("%w: %s %s", shared.ErrNotFound, kind, id)
	}
	return clone(doc), nil
}

// Get implements documents.Repository.
func (r *Repository) Get(ctx context.Context, ownerID string, kind shared.Kind, id string) (documents.Document, error) {
	return r.get(ownerID, kind, id)
}

// List implements documents.Repository.
func (r *Repository) List(ctx context.Context, ownerID string, kind shared.Kind, filter documents.Filter) ([]documents.Document, int, error) {
	r.mu.Lock()
	matches := make([]documents.Document, 0)
	for _, d := range r.docs {
		if d.OwnerID != ownerID || d.Kind != kind {
			continue
		}
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		if filter.From != nil && d.IssueDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && d.IssueDate.After(*filter.To) {
			continue
		}
		if filter.ClientID != nil && (d.ClientID == nil || *d.ClientID != *filter.ClientID) {
			continue
		}
		matches = append(matches, clone(d))
	}
	r.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].IssueDate.Equal(matches[j].IssueDate) {
			return matches[i].IssueDate.After(matches[j].IssueDate)
		}
		return matches[i].Number > matches[j].Number
	})
	total := len(matches)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

// ListPastDue implements documents.Repository.
func (r *Repository) ListPastDue(ctx context.Context, kind shared.Kind, status shared.Status, asOf time.Time) ([]documents.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]documents.Document, 0)
	for _, d := range r.docs {
		if d.Kind == kind && d.Status == status && d.DueDate != nil && d.DueDate.Before(asOf) {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(*out[j].DueDate) })
	return out, nil
}

type allocation struct {
	key sequence.Key
	n   int64
}

type txRepository struct {
	repo      *Repository
	allocated []allocation
}

func (t *txRepository) NextNumber(ctx context.Context, key sequence.Key) (int64, error) {
	n, err := t.repo.alloc.Next(ctx, key)
	if err != nil {
		return 0, err
	}
	t.allocated = append(t.allocated, allocation{key: key, n: n})
	return n, nil
}

func (t *txRepository) GetForUpdate(ctx context.Context, ownerID string, kind shared.Kind, id string) (documents.Document, error) {
	return t.repo.get(ownerID, kind, id)
}

func (t *txRepository) Insert(ctx context.Context, doc documents.Document) error {
	if t.repo.InsertError != nil {
		return t.repo.InsertError
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if doc.SourceQuoteID != nil {
		for _, existing := range t.repo.docs {
			if existing.SourceQuoteID != nil && *existing.SourceQuoteID == *doc.SourceQuoteID {
				return fmt.Errorf("%w: quote %s", shared.ErrAlreadyConverted, *doc.SourceQuoteID)
			}
		}
	}
	t.repo.docs[doc.ID] = clone(doc)
	return nil
}

func (t *txRepository) Update(ctx context.Context, doc documents.Document) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	existing, ok := t.repo.docs[doc.ID]
	if !ok || existing.OwnerID != doc.OwnerID {
		return fmt.Errorf("%w: %s %s", shared.ErrNotFound, doc.Kind, doc.ID)
	}
	doc.InvoiceID = existing.InvoiceID
	t.repo.docs[doc.ID] = clone(doc)
	return nil
}

func (t *txRepository) Delete(ctx context.Context, ownerID string, kind shared.Kind, id string) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	existing, ok := t.repo.docs[id]
	if !ok || existing.OwnerID != ownerID || existing.Kind != kind {
		return fmt.Errorf("%w: %s %s", shared.ErrNotFound, kind, id)
	}
	delete(t.repo.docs, id)
	return nil
}

func (t *txRepository) CountInvoiceReferences(ctx context.Context, ownerID, invoiceID string) (int, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	count := t.repo.incomeRef[invoiceID]
	for _, d := range t.repo.docs {
		if d.OwnerID == ownerID && d.Kind == shared.KindCreditNote && d.LinkedInvoiceID != nil && *d.LinkedInvoiceID == invoiceID {
			count++
		}
	}
	return count, nil
}

func (t *txRepository) LinkInvoice(ctx context.Context, ownerID, quoteID, invoiceID string) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	quote, ok := t.repo.docs[quoteID]
	if !ok || quote.OwnerID != ownerID || quote.Kind != shared.KindQuote || quote.InvoiceID != nil {
		return false, nil
	}
	id := invoiceID
	quote.InvoiceID = &id
	t.repo.docs[quoteID] = quote
	return true, nil
}

func clone(doc documents.Document) documents.Document {
	if doc.Lines != nil {
		lines := make([]documents.LineItem, len(doc.Lines))
		copy(lines, doc.Lines)
		doc.Lines = lines
	}
	return doc
}
