package sharelink

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

// Repository persists share tokens.
type Repository interface {
	// Upsert stores t unless the document already has a token, in which case
	// the existing token is returned unchanged.
	Upsert(ctx context.Context, t Token) (Token, error)
	Find(ctx context.Context, token string) (Token, error)
	// Delete removes the token of a document and returns it.
	Delete(ctx context.Context, ownerID string, kind shared.Kind, documentID string) (string, error)
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository stores tokens in the share_tokens table.
type PGRepository struct {
	db dbtx
}

// NewRepository builds a Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: pool}
}

func (r *PGRepository) Upsert(ctx context.Context, t Token) (Token, error) {
	const query = `INSERT INTO share_tokens (token, owner_id, document_kind, document_id, issued_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (document_kind, document_id) DO UPDATE SET document_kind = EXCLUDED.document_kind
RETURNING token, owner_id, document_kind, document_id::text, issued_at`
	var out Token
	err := r.db.QueryRow(ctx, query, t.Token, t.OwnerID, string(t.Kind), t.DocumentID, t.IssuedAt).
		Scan(&out.Token, &out.OwnerID, &out.Kind, &out.DocumentID, &out.IssuedAt)
	if err != nil {
		return Token{}, fmt.Errorf("sharelink: upsert token: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Find(ctx context.Context, token string) (Token, error) {
	const query = `SELECT token, owner_id, document_kind, document_id::text, issued_at FROM share_tokens WHERE token = $1`
	var out Token
	err := r.db.QueryRow(ctx, query, token).Scan(&out.Token, &out.OwnerID, &out.Kind, &out.DocumentID, &out.IssuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, shared.ErrTokenNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("sharelink: find token: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Delete(ctx context.Context, ownerID string, kind shared.Kind, documentID string) (string, error) {
	const query = `DELETE FROM share_tokens WHERE owner_id = $1 AND document_kind = $2 AND document_id::text = $3 RETURNING token`
	var token string
	err := r.db.QueryRow(ctx, query, ownerID, string(kind), documentID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", shared.ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sharelink: delete token: %w", err)
	}
	return token, nil
}
