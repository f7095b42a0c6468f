// Package linktest provides an in-memory share token repository for tests.
package linktest

import (
	"context"
	"sync"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
	"github.com/odyssey-erp/billing-core/internal/billing/sharelink"
)

// Repository implements sharelink.Repository in memory.
type Repository struct {
	mu    sync.Mutex
	byDoc map[string]sharelink.Token
	finds int
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{byDoc: map[string]sharelink.Token{}}
}

func docKey(kind shared.Kind, id string) string { return string(kind) + "/" + id }

// Finds reports how many lookups reached the repository.
func (r *Repository) Finds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finds
}

func (r *Repository) Upsert(ctx context.Context, t sharelink.Token) (sharelink.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byDoc[docKey(t.Kind, t.DocumentID)]; ok {
		return existing, nil
	}
	r.byDoc[docKey(t.Kind, t.DocumentID)] = t
	return t, nil
}

func (r *Repository) Find(ctx context.Context, token string) (sharelink.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	for _, t := range r.byDoc {
		if t.Token == token {
			return t, nil
		}
	}
	return sharelink.Token{}, shared.ErrTokenNotFound
}

func (r *Repository) Delete(ctx context.Context, ownerID string, kind shared.Kind, documentID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byDoc[docKey(kind, documentID)]
	if !ok || t.OwnerID != ownerID {
		return "", shared.ErrTokenNotFound
	}
	delete(r.byDoc, docKey(kind, documentID))
	return t.Token, nil
}
