package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/billing-core/internal/billing/sequence"
	"github.com/odyssey-erp/billing-core/internal/billing/shared"
	"github.com/odyssey-erp/billing-core/internal/platform/db"
)

// Repository reads documents and opens transactions for writes.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, ownerID string, kind shared.Kind, id string) (Document, error)
	List(ctx context.Context, ownerID string, kind shared.Kind, filter Filter) ([]Document, int, error)
	// ListPastDue returns documents of every owner in status whose due date is before asOf.
	ListPastDue(ctx context.Context, kind shared.Kind, status shared.Status, asOf time.Time) ([]Document, error)
}

// TxRepository exposes the operations that run inside one transaction.
type TxRepository interface {
	NextNumber(ctx context.Context, key sequence.Key) (int64, error)
	// GetForUpdate loads the document and locks its row until the transaction ends.
	GetForUpdate(ctx context.Context, ownerID string, kind shared.Kind, id string) (Document, error)
	Insert(ctx context.Context, doc Document) error
	Update(ctx context.Context, doc Document) error
	Delete(ctx context.Context, ownerID string, kind shared.Kind, id string) error
	// CountInvoiceReferences counts credit notes and incomes pointing at an invoice.
	CountInvoiceReferences(ctx context.Context, ownerID, invoiceID string) (int, error)
	// LinkInvoice sets quote.invoice_id only while it is still empty and reports
	// whether the row changed.
	LinkInvoice(ctx context.Context, ownerID, quoteID, invoiceID string) (bool, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PGRepository is the Postgres implementation of Repository.
type PGRepository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs a Postgres backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, db: pool}
}

// WithTx runs fn in a read-committed transaction with a transactional
// repository. Sequence upserts and FOR UPDATE reads provide the ordering.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{db: tx, alloc: sequence.NewPostgres(tx)})
	})
}

const documentColumns = `d.id, d.owner_id, d.kind, d.fiscal_year, d.number, d.display_number, d.status,
d.issue_date, d.due_date, d.client_id::text, c.name, d.guest_client_name, d.currency,
d.amount_net, d.vat, d.amount_gross, d.notes,
d.is_signed, d.signed_at, d.signature, d.invoice_id::text,
COALESCE(d.invoice_type, ''), d.source_quote_id::text, d.paid_at, d.paid_amount,
d.linked_invoice_id::text, d.reason, d.document_hash, d.created_at, d.updated_at`

const sourceQuoteConstraint = "documents_source_quote_uidx"

const documentFrom = ` FROM documents d LEFT JOIN clients c ON c.id = d.client_id AND c.owner_id = d.owner_id`

func scanDocument(row pgx.Row) (Document, error) {
	var (
		doc         Document
		kind        string
		status      string
		invoiceType string
	)
	err := row.Scan(
		&doc.ID, &doc.OwnerID, &kind, &doc.FiscalYear, &doc.Number, &doc.DisplayNumber, &status,
		&doc.IssueDate, &doc.DueDate, &doc.ClientID, &doc.ClientName, &doc.GuestClientName, &doc.Currency,
		&doc.AmountNet, &doc.VAT, &doc.AmountGross, &doc.Notes,
		&doc.IsSigned, &doc.SignedAt, &doc.Signature, &doc.InvoiceID,
		&invoiceType, &doc.SourceQuoteID, &doc.PaidAt, &doc.PaidAmount,
		&doc.LinkedInvoiceID, &doc.Reason, &doc.DocumentHash, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	doc.Kind = shared.Kind(kind)
	doc.Status = shared.Status(status)
	doc.InvoiceType = InvoiceType(invoiceType)
	return doc, nil
}

func loadLines(ctx context.Context, q dbtx, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]string, len(docs))
	index := make(map[string]int, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		index[d.ID] = i
		docs[i].Lines = []LineItem{}
	}
	rows, err := q.Query(ctx, `SELECT document_id::text, position, description, quantity, unit_price, vat_rate, amount_net, vat
FROM document_lines WHERE document_id = ANY($1::text[]::uuid[]) ORDER BY document_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var docID string
		var line LineItem
		if err := rows.Scan(&docID, &line.Position, &line.Description, &line.Quantity, &line.UnitPrice, &line.VATRate, &line.AmountNet, &line.VAT); err != nil {
			return err
		}
		i := index[docID]
		docs[i].Lines = append(docs[i].Lines, line)
	}
	return rows.Err()
}

func getDocument(ctx context.Context, q dbtx, ownerID string, kind shared.Kind, id string, lock bool) (Document, error) {
	query := `SELECT ` + documentColumns + documentFrom + ` WHERE d.id = $1 AND d.owner_id = $2 AND d.kind = $3`
	if lock {
		query += ` FOR UPDATE OF d`
	}
	doc, err := scanDocument(q.QueryRow(ctx, query, id, ownerID, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("%w: %s %s", shared.ErrNotFound, kind, id)
		}
		if db.HasCode(err, "22P02") {
			return Document{}, fmt.Errorf("%w: %s %s", shared.ErrNotFound, kind, id)
		}
		return Document{}, err
	}
	docs := []Document{doc}
	if err := loadLines(ctx, q, docs); err != nil {
		return Document{}, err
	}
	return docs[0], nil
}

// Get loads a document owned by ownerID.
func (r *PGRepository) Get(ctx context.Context, ownerID string, kind shared.Kind, id string) (Document, error) {
	return getDocument(ctx, r.db, ownerID, kind, id, false)
}

// List returns a page of documents and the total match count.
func (r *PGRepository) List(ctx context.Context, ownerID string, kind shared.Kind, filter Filter) ([]Document, int, error) {
	conditions := []string{"d.owner_id = $1", "d.kind = $2"}
	args := []interface{}{ownerID, string(kind)}
	argPos := 3

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("d.status = $%d", argPos))
		args = append(args, string(*filter.Status))
		argPos++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("d.issue_date >= $%d", argPos))
		args = append(args, *filter.From)
		argPos++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("d.issue_date <= $%d", argPos))
		args = append(args, *filter.To)
		argPos++
	}
	if filter.ClientID != nil {
		conditions = append(conditions, fmt.Sprintf("d.client_id = $%d", argPos))
		args = append(args, *filter.ClientID)
		argPos++
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents d`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + documentColumns + documentFrom + where +
		fmt.Sprintf(` ORDER BY d.issue_date DESC, d.number DESC LIMIT $%d OFFSET $%d`, argPos, argPos+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	docs, err := collectDocuments(rows)
	if err != nil {
		return nil, 0, err
	}
	if err := loadLines(ctx, r.db, docs); err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// ListPastDue implements Repository.
func (r *PGRepository) ListPastDue(ctx context.Context, kind shared.Kind, status shared.Status, asOf time.Time) ([]Document, error) {
	rows, err := r.db.Query(ctx, `SELECT `+documentColumns+documentFrom+`
WHERE d.kind = $1 AND d.status = $2 AND d.due_date IS NOT NULL AND d.due_date < $3
ORDER BY d.owner_id, d.due_date`, string(kind), string(status), asOf)
	if err != nil {
		return nil, err
	}
	return collectDocuments(rows)
}

func collectDocuments(rows pgx.Rows) ([]Document, error) {
	defer rows.Close()
	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type pgTxRepository struct {
	db    dbtx
	alloc *sequence.Postgres
}

func (r *pgTxRepository) NextNumber(ctx context.Context, key sequence.Key) (int64, error) {
	return r.alloc.Next(ctx, key)
}

func (r *pgTxRepository) GetForUpdate(ctx context.Context, ownerID string, kind shared.Kind, id string) (Document, error) {
	return getDocument(ctx, r.db, ownerID, kind, id, true)
}

func nullableType(t InvoiceType) *string {
	if t == "" {
		return nil
	}
	s := string(t)
	return &s
}

func (r *pgTxRepository) Insert(ctx context.Context, doc Document) error {
	_, err := r.db.Exec(ctx, `INSERT INTO documents (
	id, owner_id, kind, fiscal_year, number, display_number, status, issue_date, due_date,
	client_id, guest_client_name, currency, amount_net, vat, amount_gross, notes,
	is_signed, signed_at, signature, invoice_id, invoice_type, source_quote_id, paid_at, paid_amount,
	linked_invoice_id, reason, document_hash, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29)`,
		doc.ID, doc.OwnerID, string(doc.Kind), doc.FiscalYear, doc.Number, doc.DisplayNumber, string(doc.Status), doc.IssueDate, doc.DueDate,
		doc.ClientID, doc.GuestClientName, doc.Currency, doc.AmountNet, doc.VAT, doc.AmountGross, doc.Notes,
		doc.IsSigned, doc.SignedAt, doc.Signature, doc.InvoiceID, nullableType(doc.InvoiceType), doc.SourceQuoteID, doc.PaidAt, doc.PaidAmount,
		doc.LinkedInvoiceID, doc.Reason, doc.DocumentHash, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if db.ConstraintName(err) == sourceQuoteConstraint {
			return fmt.Errorf("%w: quote %s", shared.ErrAlreadyConverted, *doc.SourceQuoteID)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return r.replaceLines(ctx, doc)
}

func (r *pgTxRepository) replaceLines(ctx context.Context, doc Document) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM document_lines WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("delete lines: %w", err)
	}
	for _, line := range doc.Lines {
		_, err := r.db.Exec(ctx, `INSERT INTO document_lines (document_id, position, description, quantity, unit_price, vat_rate, amount_net, vat)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, doc.ID, line.Position, line.Description, line.Quantity, line.UnitPrice, line.VATRate, line.AmountNet, line.VAT)
		if err != nil {
			return fmt.Errorf("insert line: %w", err)
		}
	}
	return nil
}

func (r *pgTxRepository) Update(ctx context.Context, doc Document) error {
	tag, err := r.db.Exec(ctx, `UPDATE documents SET
	status = $3, issue_date = $4, due_date = $5, client_id = $6, guest_client_name = $7, currency = $8,
	amount_net = $9, vat = $10, amount_gross = $11, notes = $12,
	is_signed = $13, signed_at = $14, signature = $15, invoice_type = $16, paid_at = $17, paid_amount = $18,
	reason = $19, document_hash = $20, updated_at = $21
WHERE id = $1 AND owner_id = $2`,
		doc.ID, doc.OwnerID, string(doc.Status), doc.IssueDate, doc.DueDate, doc.ClientID, doc.GuestClientName, doc.Currency,
		doc.AmountNet, doc.VAT, doc.AmountGross, doc.Notes,
		doc.IsSigned, doc.SignedAt, doc.Signature, nullableType(doc.InvoiceType), doc.PaidAt, doc.PaidAmount,
		doc.Reason, doc.DocumentHash, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", shared.ErrNotFound, doc.Kind, doc.ID)
	}
	return r.replaceLines(ctx, doc)
}

func (r *pgTxRepository) Delete(ctx context.Context, ownerID string, kind shared.Kind, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND owner_id = $2 AND kind = $3`, id, ownerID, string(kind))
	if err != nil {
		if db.HasCode(err, db.CodeForeignKeyViolation) {
			return fmt.Errorf("%w: %s %s", shared.ErrDocumentInUse, kind, id)
		}
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", shared.ErrNotFound, kind, id)
	}
	return nil
}

func (r *pgTxRepository) CountInvoiceReferences(ctx context.Context, ownerID, invoiceID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT
	(SELECT COUNT(*) FROM documents WHERE owner_id = $1 AND kind = 'CREDIT_NOTE' AND linked_invoice_id = $2) +
	(SELECT COUNT(*) FROM incomes WHERE owner_id = $1 AND invoice_id = $2)`, ownerID, invoiceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count invoice references: %w", err)
	}
	return count, nil
}

func (r *pgTxRepository) LinkInvoice(ctx context.Context, ownerID, quoteID, invoiceID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE documents SET invoice_id = $3, updated_at = NOW()
WHERE id = $1 AND owner_id = $2 AND kind = 'QUOTE' AND invoice_id IS NULL`, quoteID, ownerID, invoiceID)
	if err != nil {
		return false, fmt.Errorf("link invoice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
