// Package conversion turns signed, accepted quotes into draft invoices exactly once.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/billing-core/internal/billing/documents"
	"github.com/odyssey-erp/billing-core/internal/billing/sequence"
	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

// Result labels reported to metrics.
const (
	ResultConverted        = "converted"
	ResultAlreadyConverted = "already_converted"
	ResultNotEligible      = "not_eligible"
	ResultError            = "error"
)

// Recorder receives conversion outcomes.
type Recorder interface {
	Conversion(result string)
	DocumentCreated(kind string)
}

// Service converts quotes to invoices.
type Service struct {
	repo     documents.Repository
	policy   sequence.Policy
	notifier documents.ChangeNotifier
	metrics  Recorder
	logger   *slog.Logger
	clock    func() time.Time
}

// Config wires optional collaborators.
type Config struct {
	Policy   sequence.Policy
	Notifier documents.ChangeNotifier
	Metrics  Recorder
	Logger   *slog.Logger
	Clock    func() time.Time
}

// NewService constructs the conversion service on top of the documents repository.
func NewService(repo documents.Repository, cfg Config) *Service {
	svc := &Service{
		repo:     repo,
		policy:   cfg.Policy,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.clock == nil {
		svc.clock = func() time.Time { return time.Now().UTC() }
	}
	return svc
}

// ConvertQuoteToInvoice creates a DRAFT invoice from a signed, accepted quote and
// links the two. The quote row lock, the guarded link update and the unique
// source_quote_id index make concurrent attempts yield exactly one invoice.
func (s *Service) ConvertQuoteToInvoice(ctx context.Context, quoteID, ownerID string) (documents.Document, error) {
	var invoice documents.Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx documents.TxRepository) error {
		quote, err := tx.GetForUpdate(ctx, ownerID, shared.KindQuote, quoteID)
		if err != nil {
			return err
		}
		if quote.InvoiceID != nil {
			return fmt.Errorf("%w: quote %s -> invoice %s", shared.ErrAlreadyConverted, quote.DisplayNumber, *quote.InvoiceID)
		}
		if !quote.IsSigned || quote.Status != shared.StatusAccepted {
			return fmt.Errorf("%w: quote %s is %s, signed=%t", shared.ErrNotEligible, quote.DisplayNumber, quote.Status, quote.IsSigned)
		}

		draft, err := s.buildInvoice(quote)
		if err != nil {
			return err
		}
		key := draft.SequenceKey(s.policy)
		number, err := tx.NextNumber(ctx, key)
		if err != nil {
			return err
		}
		draft.FiscalYear = key.FiscalYear
		draft.Number = number
		draft.DisplayNumber = sequence.Format(shared.KindInvoice, number)
		if err := tx.Insert(ctx, draft); err != nil {
			return err
		}

		linked, err := tx.LinkInvoice(ctx, ownerID, quote.ID, draft.ID)
		if err != nil {
			return err
		}
		if !linked {
			return fmt.Errorf("%w: quote %s", shared.ErrAlreadyConverted, quote.DisplayNumber)
		}
		invoice = draft
		return nil
	})
	if err != nil {
		result := resultFor(err)
		s.record(result)
		if result == ResultError {
			s.logger.Error("quote conversion failed", slog.String("owner_id", ownerID), slog.String("quote_id", quoteID), slog.Any("error", err))
		}
		return documents.Document{}, err
	}

	s.record(ResultConverted)
	if s.metrics != nil {
		s.metrics.DocumentCreated(string(shared.KindInvoice))
	}
	if s.notifier != nil {
		s.notifier.DocumentsChanged(ctx, ownerID)
	}
	s.logger.Info("quote converted",
		slog.String("owner_id", ownerID),
		slog.String("quote_id", quoteID),
		slog.String("invoice_id", invoice.ID),
		slog.String("invoice_number", invoice.DisplayNumber),
	)
	return invoice, nil
}

func (s *Service) buildInvoice(quote documents.Document) (documents.Document, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return documents.Document{}, fmt.Errorf("generate id: %w", err)
	}
	now := s.clock()
	y, m, d := now.Date()
	quoteID := quote.ID
	lines := make([]documents.LineItem, len(quote.Lines))
	copy(lines, quote.Lines)
	return documents.Document{
		ID:              id.String(),
		OwnerID:         quote.OwnerID,
		Kind:            shared.KindInvoice,
		Status:          shared.StatusDraft,
		IssueDate:       time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		ClientID:        quote.ClientID,
		ClientName:      quote.ClientName,
		GuestClientName: quote.GuestClientName,
		Currency:        quote.Currency,
		Lines:           lines,
		AmountNet:       quote.AmountNet,
		VAT:             quote.VAT,
		AmountGross:     quote.AmountGross,
		Notes:           quote.Notes,
		InvoiceType:     documents.InvoiceTypeTax,
		SourceQuoteID:   &quoteID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (s *Service) record(result string) {
	if s.metrics != nil {
		s.metrics.Conversion(result)
	}
}

func resultFor(err error) string {
	switch {
	case errors.Is(err, shared.ErrAlreadyConverted):
		return ResultAlreadyConverted
	case errors.Is(err, shared.ErrNotEligible):
		return ResultNotEligible
	default:
		return ResultError
	}
}
