// Package sequence allocates gap-free document numbers per owner, kind and
// (optionally) fiscal year.
package sequence

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

// Key scopes a counter. FiscalYear is zero when yearly reset is disabled.
type Key struct {
	OwnerID    string
	Kind       shared.Kind
	FiscalYear int
}

// Allocator hands out the next number for a key.
type Allocator interface {
	Next(ctx context.Context, key Key) (int64, error)
}

// Policy decides how keys are derived from a document.
type Policy struct {
	ResetYearly bool
}

// KeyFor derives the counter key for a document issued at issueDate.
func (p Policy) KeyFor(ownerID string, kind shared.Kind, issueDate time.Time) Key {
	key := Key{OwnerID: ownerID, Kind: kind}
	if p.ResetYearly {
		key.FiscalYear = issueDate.Year()
	}
	return key
}

// StartValue is the first number issued for a kind.
func StartValue(kind shared.Kind) int64 {
	switch kind {
	case shared.KindQuote:
		return 2001
	default:
		return 1001
	}
}

// Format renders a number the way it is printed on the document.
func Format(kind shared.Kind, n int64) string {
	if kind == shared.KindCreditNote {
		return "CN-" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

func allocationError(key Key, err error) error {
	return fmt.Errorf("%w: %s/%s/%d: %v", shared.ErrAllocationFailure, key.OwnerID, key.Kind, key.FiscalYear, err)
}

// MemoryAllocator is a process-local allocator used by tests and tooling.
type MemoryAllocator struct {
	mu     sync.Mutex
	values map[Key]int64
	// Fail forces every allocation to fail when set.
	Fail error
}

// NewMemoryAllocator constructs an empty allocator.
func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{values: make(map[Key]int64)}
}

// Next implements Allocator.
func (m *MemoryAllocator) Next(ctx context.Context, key Key) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, allocationError(key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return 0, allocationError(key, m.Fail)
	}
	current, ok := m.values[key]
	if !ok {
		current = StartValue(key.Kind) - 1
	}
	current++
	m.values[key] = current
	return current, nil
}

// Release gives back n when it is still the latest number for key, mirroring a
// rolled back transaction.
func (m *MemoryAllocator) Release(key Key, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[key] == n {
		m.values[key] = n - 1
	}
}
