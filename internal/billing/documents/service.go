package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/billing-core/internal/billing/sequence"
	"github.com/odyssey-erp/billing-core/internal/billing/shared"
	platformshared "github.com/odyssey-erp/billing-core/internal/shared"
)

// ChangeNotifier is told whenever an owner's documents change.
type ChangeNotifier interface {
	DocumentsChanged(ctx context.Context, ownerID string)
}

// AuditRecorder persists an audit trail entry.
type AuditRecorder interface {
	Record(ctx context.Context, log platformshared.AuditLog) error
}

// Recorder receives lifecycle counters.
type Recorder interface {
	DocumentCreated(kind string)
	StatusChanged(kind, status string)
	AllocationFailed(kind string)
}

// ServiceConfig wires optional collaborators and defaults.
type ServiceConfig struct {
	Policy          sequence.Policy
	DefaultCurrency string
	DefaultVATRate  decimal.Decimal
	Notifier        ChangeNotifier
	Audit           AuditRecorder
	Metrics         Recorder
	Logger          *slog.Logger
	Clock           func() time.Time
}

// Service owns document lifecycle rules.
type Service struct {
	repo            Repository
	policy          sequence.Policy
	defaultCurrency string
	defaultVATRate  decimal.Decimal
	notifier        ChangeNotifier
	audit           AuditRecorder
	metrics         Recorder
	logger          *slog.Logger
	clock           func() time.Time
}

// NewService constructs the document service.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	svc := &Service{
		repo:            repo,
		policy:          cfg.Policy,
		defaultCurrency: strings.ToUpper(cfg.DefaultCurrency),
		defaultVATRate:  cfg.DefaultVATRate,
		notifier:        cfg.Notifier,
		audit:           cfg.Audit,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		clock:           cfg.Clock,
	}
	if svc.defaultCurrency == "" {
		svc.defaultCurrency = "ILS"
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.clock == nil {
		svc.clock = func() time.Time { return time.Now().UTC() }
	}
	return svc
}

// Repository exposes the underlying repository for collaborating services.
func (s *Service) Repository() Repository {
	return s.repo
}

// Policy returns the numbering policy.
func (s *Service) Policy() sequence.Policy {
	return s.policy
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.clock()
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Get returns one document.
func (s *Service) Get(ctx context.Context, kind shared.Kind, ownerID, id string) (Document, error) {
	if !kind.Valid() {
		return Document{}, fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, kind)
	}
	return s.repo.Get(ctx, ownerID, kind, id)
}

// List returns a filtered page of documents and the total count.
func (s *Service) List(ctx context.Context, kind shared.Kind, ownerID string, filter Filter) ([]Document, int, error) {
	if !kind.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, kind)
	}
	return s.repo.List(ctx, ownerID, kind, filter)
}

// Create stores a new DRAFT document with the next number for its key.
func (s *Service) Create(ctx context.Context, kind shared.Kind, ownerID string, in Input) (Document, error) {
	if !kind.Valid() {
		return Document{}, fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, kind)
	}
	if ownerID == "" {
		return Document{}, fmt.Errorf("%w: owner required", shared.ErrValidation)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return Document{}, fmt.Errorf("generate id: %w", err)
	}
	now := s.clock()
	doc := Document{
		ID:              id.String(),
		OwnerID:         ownerID,
		Kind:            kind,
		Status:          shared.StatusDraft,
		IssueDate:       dateOnly(in.IssueDate),
		DueDate:         in.DueDate,
		ClientID:        in.ClientID,
		GuestClientName: in.GuestClientName,
		Currency:        strings.ToUpper(strings.TrimSpace(in.Currency)),
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.IssueDate.IsZero() {
		doc.IssueDate = dateOnly(now)
	}
	if kind == shared.KindInvoice {
		doc.InvoiceType = in.InvoiceType
		if doc.InvoiceType == "" {
			doc.InvoiceType = InvoiceTypeTax
		}
	}
	if kind == shared.KindCreditNote {
		doc.LinkedInvoiceID = in.LinkedInvoiceID
		doc.Reason = in.Reason
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inputs := in.Lines
		if kind == shared.KindCreditNote && doc.LinkedInvoiceID != nil {
			invoice, err := tx.GetForUpdate(ctx, ownerID, shared.KindInvoice, *doc.LinkedInvoiceID)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					return fmt.Errorf("%w: linked invoice %s not found", shared.ErrValidation, *doc.LinkedInvoiceID)
				}
				return err
			}
			if doc.Currency != "" && doc.Currency != invoice.Currency {
				return fmt.Errorf("%w: credit note currency %s differs from invoice %s currency %s", shared.ErrValidation, doc.Currency, invoice.DisplayNumber, invoice.Currency)
			}
			doc.Currency = invoice.Currency
			if doc.ClientID == nil && doc.GuestClientName == nil {
				doc.ClientID = invoice.ClientID
				doc.ClientName = invoice.ClientName
				doc.GuestClientName = invoice.GuestClientName
			}
			if len(inputs) == 0 && in.CreditAmount != nil {
				rate := invoice.effectiveVATRate(s.defaultVATRate)
				inputs = []LineInput{{
					Description: "Credit for invoice " + invoice.DisplayNumber,
					Quantity:    decimal.NewFromInt(1),
					UnitPrice:   *in.CreditAmount,
					VATRate:     &rate,
				}}
			}
		}
		if doc.Currency == "" {
			doc.Currency = s.defaultCurrency
		}
		lines, err := s.buildLines(inputs)
		if err != nil {
			return err
		}
		doc.applyLines(lines)
		if err := s.validate(doc); err != nil {
			return err
		}

		key := doc.SequenceKey(s.policy)
		number, err := tx.NextNumber(ctx, key)
		if err != nil {
			if s.metrics != nil {
				s.metrics.AllocationFailed(string(kind))
			}
			return err
		}
		doc.FiscalYear = key.FiscalYear
		doc.Number = number
		doc.DisplayNumber = sequence.Format(kind, number)
		if kind == shared.KindCreditNote {
			hash := doc.computeHash()
			doc.DocumentHash = &hash
		}
		return tx.Insert(ctx, doc)
	})
	if err != nil {
		return Document{}, err
	}

	if s.metrics != nil {
		s.metrics.DocumentCreated(string(kind))
	}
	s.afterChange(ctx, doc, "document.create", nil)
	return doc, nil
}

// Update edits a document that is not locked.
func (s *Service) Update(ctx context.Context, kind shared.Kind, ownerID, id string, patch Patch) (Document, error) {
	if !kind.Valid() {
		return Document{}, fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, kind)
	}
	var updated Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, ownerID, kind, id)
		if err != nil {
			return err
		}
		if doc.IsImmutable() {
			return fmt.Errorf("%w: %s %s is %s", shared.ErrImmutableDocument, kind, doc.DisplayNumber, doc.Status)
		}
		if err := s.applyPatch(&doc, patch); err != nil {
			return err
		}
		if err := s.validate(doc); err != nil {
			return err
		}
		doc.UpdatedAt = s.clock()
		if doc.Kind == shared.KindCreditNote {
			hash := doc.computeHash()
			doc.DocumentHash = &hash
		}
		if err := tx.Update(ctx, doc); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.afterChange(ctx, updated, "document.update", nil)
	return updated, nil
}

// Delete removes a document. Invoices referenced by credit notes or incomes are kept.
func (s *Service) Delete(ctx context.Context, kind shared.Kind, ownerID, id string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, kind)
	}
	var deleted Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, ownerID, kind, id)
		if err != nil {
			return err
		}
		if kind == shared.KindInvoice {
			refs, err := tx.CountInvoiceReferences(ctx, ownerID, id)
			if err != nil {
				return err
			}
			if refs > 0 {
				return fmt.Errorf("%w: invoice %s has %d linked records", shared.ErrDocumentInUse, doc.DisplayNumber, refs)
			}
		}
		deleted = doc
		return tx.Delete(ctx, ownerID, kind, id)
	})
	if err != nil {
		return err
	}
	s.afterChange(ctx, deleted, "document.delete", nil)
	return nil
}

// SetStatus moves a document along its lifecycle.
func (s *Service) SetStatus(ctx context.Context, kind shared.Kind, ownerID, id string, status shared.Status) (Document, error) {
	return s.ChangeStatus(ctx, kind, ownerID, id, StatusChange{Status: status})
}

// ChangeStatus is SetStatus with optional payment details.
func (s *Service) ChangeStatus(ctx context.Context, kind shared.Kind, ownerID, id string, change StatusChange) (Document, error) {
	if _, err := shared.ParseStatus(kind, string(change.Status)); err != nil {
		return Document{}, err
	}
	var (
		result  Document
		changed bool
		from    shared.Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, ownerID, kind, id)
		if err != nil {
			return err
		}
		if err := shared.ValidateTransition(kind, doc.Status, change.Status); err != nil {
			return err
		}
		result = doc
		if doc.Status == change.Status {
			return nil
		}
		from = doc.Status
		now := s.clock()
		doc.Status = change.Status
		doc.UpdatedAt = now
		if kind == shared.KindInvoice && change.Status == shared.StatusPaid {
			paidAt := now
			if change.PaidAt != nil {
				paidAt = *change.PaidAt
			}
			amount := doc.AmountGross
			if change.PaidAmount != nil {
				amount = *change.PaidAmount
			}
			doc.PaidAt = &paidAt
			doc.PaidAmount = &amount
		}
		if err := tx.Update(ctx, doc); err != nil {
			return err
		}
		result = doc
		changed = true
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	if changed {
		if s.metrics != nil {
			s.metrics.StatusChanged(string(kind), string(change.Status))
		}
		s.afterChange(ctx, result, "document.status", map[string]any{"from": from, "to": change.Status})
	}
	return result, nil
}

// SignQuote records the client's signature on a SENT quote and accepts it.
func (s *Service) SignQuote(ctx context.Context, ownerID, id, signature string) (Document, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return Document{}, fmt.Errorf("%w: signature required", shared.ErrValidation)
	}
	var signed Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, ownerID, shared.KindQuote, id)
		if err != nil {
			return err
		}
		if doc.IsSigned {
			return fmt.Errorf("%w: quote %s already signed", shared.ErrInvalidTransition, doc.DisplayNumber)
		}
		if doc.Status != shared.StatusSent {
			return fmt.Errorf("%w: quote %s is %s, only SENT quotes can be signed", shared.ErrInvalidTransition, doc.DisplayNumber, doc.Status)
		}
		now := s.clock()
		doc.IsSigned = true
		doc.SignedAt = &now
		doc.Signature = &signature
		doc.Status = shared.StatusAccepted
		doc.UpdatedAt = now
		if err := tx.Update(ctx, doc); err != nil {
			return err
		}
		signed = doc
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	if s.metrics != nil {
		s.metrics.StatusChanged(string(shared.KindQuote), string(shared.StatusAccepted))
	}
	s.afterChange(ctx, signed, "quote.sign", nil)
	return signed, nil
}

// TransitionPastDue moves every document of kind in status `from` whose due
// date is before asOf to `to`. It returns how many documents moved.
func (s *Service) TransitionPastDue(ctx context.Context, kind shared.Kind, from, to shared.Status, asOf time.Time) (int, error) {
	if err := shared.ValidateTransition(kind, from, to); err != nil {
		return 0, err
	}
	docs, err := s.repo.ListPastDue(ctx, kind, from, dateOnly(asOf))
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, doc := range docs {
		_, err := s.SetStatus(ctx, kind, doc.OwnerID, doc.ID, to)
		if err != nil {
			// The document may have moved since it was listed.
			if errors.Is(err, shared.ErrInvalidTransition) || errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (s *Service) buildLines(inputs []LineInput) ([]LineItem, error) {
	lines := make([]LineItem, 0, len(inputs))
	for i, in := range inputs {
		rate := s.defaultVATRate
		if in.VATRate != nil {
			rate = *in.VATRate
		}
		if strings.TrimSpace(in.Description) == "" {
			return nil, fmt.Errorf("%w: line %d: description required", shared.ErrValidation, i+1)
		}
		if !in.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: line %d: quantity must be positive", shared.ErrValidation, i+1)
		}
		if in.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: line %d: unit price must not be negative", shared.ErrValidation, i+1)
		}
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: line %d: vat rate must be between 0 and 1", shared.ErrValidation, i+1)
		}
		lines = append(lines, LineItem{
			Description: strings.TrimSpace(in.Description),
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			VATRate:     rate,
		})
	}
	return lines, nil
}

func (s *Service) applyPatch(doc *Document, patch Patch) error {
	if patch.IssueDate != nil {
		issued := dateOnly(*patch.IssueDate)
		if s.policy.ResetYearly && doc.FiscalYear != 0 && issued.Year() != doc.FiscalYear {
			return fmt.Errorf("%w: %s %s is numbered in the %d series, issue date must stay in that year", shared.ErrValidation, doc.Kind, doc.DisplayNumber, doc.FiscalYear)
		}
		doc.IssueDate = issued
	}
	if patch.DueDate != nil {
		doc.DueDate = patch.DueDate
	}
	if patch.ClientID != nil {
		doc.ClientID = patch.ClientID
		doc.ClientName = nil
	}
	if patch.GuestClientName != nil {
		doc.GuestClientName = patch.GuestClientName
	}
	if patch.Currency != nil {
		code := strings.ToUpper(strings.TrimSpace(*patch.Currency))
		if doc.Kind == shared.KindCreditNote && doc.LinkedInvoiceID != nil && code != doc.Currency {
			return fmt.Errorf("%w: credit note %s follows its invoice currency %s", shared.ErrValidation, doc.DisplayNumber, doc.Currency)
		}
		doc.Currency = code
	}
	if patch.Notes != nil {
		doc.Notes = patch.Notes
	}
	if patch.InvoiceType != nil && doc.Kind == shared.KindInvoice {
		doc.InvoiceType = *patch.InvoiceType
	}
	if patch.Reason != nil && doc.Kind == shared.KindCreditNote {
		doc.Reason = patch.Reason
	}
	if patch.Lines != nil {
		lines, err := s.buildLines(patch.Lines)
		if err != nil {
			return err
		}
		doc.applyLines(lines)
	}
	return nil
}

func (s *Service) validate(doc Document) error {
	if len(doc.Lines) == 0 {
		return fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	if _, err := currency.ParseISO(doc.Currency); err != nil || len(doc.Currency) != 3 {
		return fmt.Errorf("%w: currency %q is not an ISO 4217 code", shared.ErrValidation, doc.Currency)
	}
	if doc.Kind == shared.KindInvoice && !doc.InvoiceType.Valid() {
		return fmt.Errorf("%w: unknown invoice type %q", shared.ErrValidation, doc.InvoiceType)
	}
	if doc.DueDate != nil && doc.DueDate.Before(doc.IssueDate) {
		return fmt.Errorf("%w: due date before issue date", shared.ErrValidation)
	}
	return nil
}

func (s *Service) afterChange(ctx context.Context, doc Document, action string, meta map[string]any) {
	if s.notifier != nil {
		s.notifier.DocumentsChanged(ctx, doc.OwnerID)
	}
	if s.audit != nil {
		entry := platformshared.AuditLog{
			OwnerID:  doc.OwnerID,
			Action:   action,
			Entity:   string(doc.Kind),
			EntityID: doc.ID,
			Meta:     meta,
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("record audit log", slog.String("action", action), slog.String("document_id", doc.ID), slog.Any("error", err))
		}
	}
}
