package sequence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by pgx.Tx and *pgxpool.Pool.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Postgres allocates numbers from the document_sequences table. It must run on
// the transaction that inserts the document: the upsert takes a row lock that
// serialises concurrent callers, and a rollback returns the number.
type Postgres struct {
	db DBTX
}

// NewPostgres binds an allocator to db.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

const nextSQL = `INSERT INTO document_sequences (owner_id, kind, fiscal_year, last_value)
VALUES ($1, $2, $3, $4)
ON CONFLICT (owner_id, kind, fiscal_year)
DO UPDATE SET last_value = document_sequences.last_value + 1, updated_at = NOW()
RETURNING last_value`

// Next implements Allocator.
func (p *Postgres) Next(ctx context.Context, key Key) (int64, error) {
	if p == nil || p.db == nil {
		return 0, allocationError(key, errors.New("allocator not configured"))
	}
	var value int64
	if err := p.db.QueryRow(ctx, nextSQL, key.OwnerID, string(key.Kind), key.FiscalYear, StartValue(key.Kind)).Scan(&value); err != nil {
		return 0, allocationError(key, err)
	}
	return value, nil
}

// Current returns the last number issued for key, or zero when none was.
func (p *Postgres) Current(ctx context.Context, key Key) (int64, error) {
	var value int64
	err := p.db.QueryRow(ctx, `SELECT last_value FROM document_sequences WHERE owner_id = $1 AND kind = $2 AND fiscal_year = $3`,
		key.OwnerID, string(key.Kind), key.FiscalYear).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}
