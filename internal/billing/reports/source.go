package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Source loads the raw records for a report. Ranges are inclusive.
type Source interface {
	Documents(ctx context.Context, ownerID string, from, to time.Time) ([]DocumentEntry, error)
	Incomes(ctx context.Context, ownerID string, from, to time.Time) ([]Income, error)
	Expenses(ctx context.Context, ownerID string, from, to time.Time) ([]Expense, error)
}

// PGSource reads report inputs from Postgres.
type PGSource struct {
	pool *pgxpool.Pool
}

// NewSource builds the Postgres source.
func NewSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

func (s *PGSource) Documents(ctx context.Context, ownerID string, from, to time.Time) ([]DocumentEntry, error) {
	const query = `SELECT d.id::text, d.kind, d.display_number, d.status, d.issue_date,
       COALESCE(c.name, d.guest_client_name, ''), d.currency, d.amount_net, d.vat, d.amount_gross
FROM documents d
LEFT JOIN clients c ON c.id = d.client_id
WHERE d.owner_id = $1 AND d.kind IN ('INVOICE','CREDIT_NOTE') AND d.status <> 'CANCELLED'
  AND d.issue_date BETWEEN $2::date AND $3::date`
	rows, err := s.pool.Query(ctx, query, ownerID, from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("reports: query documents: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DocumentEntry, error) {
		var e DocumentEntry
		err := row.Scan(&e.ID, &e.Kind, &e.DisplayNumber, &e.Status, &e.IssueDate, &e.ClientName, &e.Currency, &e.Net, &e.VAT, &e.Gross)
		return e, err
	})
}

func (s *PGSource) Incomes(ctx context.Context, ownerID string, from, to time.Time) ([]Income, error) {
	const query = `SELECT id::text, income_date, description, COALESCE(source, ''), COALESCE(category, ''),
       COALESCE(client_name, ''), amount, COALESCE(vat_amount, 0),
       amount_before_vat, currency, invoice_id::text
FROM incomes
WHERE owner_id = $1 AND invoice_id IS NULL AND income_date BETWEEN $2::date AND $3::date`
	rows, err := s.pool.Query(ctx, query, ownerID, from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("reports: query incomes: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Income, error) {
		var i Income
		var before decimal.NullDecimal
		err := row.Scan(&i.ID, &i.Date, &i.Description, &i.Source, &i.Category, &i.ClientName, &i.Amount, &i.VATAmount, &before, &i.Currency, &i.InvoiceID)
		if before.Valid {
			i.AmountBeforeVAT = &before.Decimal
		}
		return i, err
	})
}

func (s *PGSource) Expenses(ctx context.Context, ownerID string, from, to time.Time) ([]Expense, error) {
	const query = `SELECT id::text, expense_date, description, COALESCE(category, ''), COALESCE(supplier_name, ''),
       amount, COALESCE(vat_amount, 0), currency, is_deductible, deductible_rate
FROM expenses
WHERE owner_id = $1 AND expense_date BETWEEN $2::date AND $3::date`
	rows, err := s.pool.Query(ctx, query, ownerID, from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("reports: query expenses: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Expense, error) {
		var e Expense
		var rate decimal.NullDecimal
		err := row.Scan(&e.ID, &e.Date, &e.Description, &e.Category, &e.SupplierName, &e.Amount, &e.VATAmount, &e.Currency, &e.IsDeductible, &rate)
		if rate.Valid {
			e.DeductibleRate = &rate.Decimal
		}
		return e, err
	})
}

// ActiveOwners lists owners with documents touched since the given instant.
func (s *PGSource) ActiveOwners(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT owner_id FROM documents WHERE updated_at >= $1 ORDER BY owner_id`, since)
	if err != nil {
		return nil, fmt.Errorf("reports: query active owners: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
