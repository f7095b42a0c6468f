package documents

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
	"github.com/odyssey-erp/billing-core/internal/platform/httpx"
	platformshared "github.com/odyssey-erp/billing-core/internal/shared"
)

// Handler exposes the document API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers document routes relative to /api/v1/documents.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{kind}", h.create)
	r.Get("/{kind}", h.list)
	r.Get("/{kind}/{id}", h.show)
	r.Patch("/{kind}/{id}", h.update)
	r.Delete("/{kind}/{id}", h.delete)
	r.Post("/{kind}/{id}/status", h.setStatus)
	r.Post("/{kind}/{id}/sign", h.sign)
}

type lineRequest struct {
	Description string           `json:"description" validate:"required,max=500"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	VATRate     *decimal.Decimal `json:"vat_rate,omitempty"`
}

type documentRequest struct {
	IssueDate       string           `json:"issue_date" validate:"omitempty,datetime=2006-01-02"`
	DueDate         *string          `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	ClientID        *string          `json:"client_id" validate:"omitempty,uuid"`
	GuestClientName *string          `json:"guest_client_name" validate:"omitempty,max=200"`
	Currency        string           `json:"currency" validate:"omitempty,len=3,alpha"`
	Notes           *string          `json:"notes" validate:"omitempty,max=2000"`
	Lines           []lineRequest    `json:"lines" validate:"max=200,dive"`
	InvoiceType     string           `json:"invoice_type" validate:"omitempty,oneof=TAX_INVOICE RECEIPT INVOICE DEAL_INVOICE REFUND_INVOICE"`
	LinkedInvoiceID *string          `json:"linked_invoice_id" validate:"omitempty,uuid"`
	Reason          *string          `json:"reason" validate:"omitempty,max=500"`
	CreditAmount    *decimal.Decimal `json:"credit_amount"`
}

type patchRequest struct {
	IssueDate       *string        `json:"issue_date" validate:"omitempty,datetime=2006-01-02"`
	DueDate         *string        `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	ClientID        *string        `json:"client_id" validate:"omitempty,uuid"`
	GuestClientName *string        `json:"guest_client_name" validate:"omitempty,max=200"`
	Currency        *string        `json:"currency" validate:"omitempty,len=3,alpha"`
	Notes           *string        `json:"notes" validate:"omitempty,max=2000"`
	Lines           *[]lineRequest `json:"lines" validate:"omitempty,max=200,dive"`
	InvoiceType     *string        `json:"invoice_type" validate:"omitempty,oneof=TAX_INVOICE RECEIPT INVOICE DEAL_INVOICE REFUND_INVOICE"`
	Reason          *string        `json:"reason" validate:"omitempty,max=500"`
}

type statusRequest struct {
	Status     string           `json:"status" validate:"required"`
	PaidAt     *string          `json:"paid_at" validate:"omitempty,datetime=2006-01-02"`
	PaidAmount *decimal.Decimal `json:"paid_amount"`
}

type signRequest struct {
	Signature string `json:"signature" validate:"required,max=10000"`
}

type listResponse struct {
	Items      []Document                `json:"items"`
	Pagination platformshared.Pagination `json:"pagination"`
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	httpx.RespondError(w, h.logger, err)
}

func params(r *http.Request) (shared.Kind, string, error) {
	owner, ok := platformshared.OwnerFromContext(r.Context())
	if !ok {
		return "", "", platformshared.ErrOwnerMissing
	}
	kind, err := shared.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return "", "", err
	}
	return kind, owner, nil
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse(time.DateOnly, raw)
}

func parseOptionalDate(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	t, err := parseDate(*raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func toLineInputs(in []lineRequest) []LineInput {
	out := make([]LineInput, len(in))
	for i, l := range in {
		out[i] = LineInput{Description: l.Description, Quantity: l.Quantity, UnitPrice: l.UnitPrice, VATRate: l.VATRate}
	}
	return out
}

func (req documentRequest) input() (Input, error) {
	in := Input{
		ClientID:        req.ClientID,
		GuestClientName: req.GuestClientName,
		Currency:        req.Currency,
		Notes:           req.Notes,
		Lines:           toLineInputs(req.Lines),
		InvoiceType:     InvoiceType(req.InvoiceType),
		LinkedInvoiceID: req.LinkedInvoiceID,
		Reason:          req.Reason,
		CreditAmount:    req.CreditAmount,
	}
	if req.IssueDate != "" {
		issue, err := parseDate(req.IssueDate)
		if err != nil {
			return Input{}, err
		}
		in.IssueDate = issue
	}
	due, err := parseOptionalDate(req.DueDate)
	if err != nil {
		return Input{}, err
	}
	in.DueDate = due
	return in, nil
}

func (req patchRequest) patch() (Patch, error) {
	p := Patch{
		ClientID:        req.ClientID,
		GuestClientName: req.GuestClientName,
		Currency:        req.Currency,
		Notes:           req.Notes,
		Reason:          req.Reason,
	}
	issue, err := parseOptionalDate(req.IssueDate)
	if err != nil {
		return Patch{}, err
	}
	p.IssueDate = issue
	due, err := parseOptionalDate(req.DueDate)
	if err != nil {
		return Patch{}, err
	}
	p.DueDate = due
	if req.Lines != nil {
		p.Lines = toLineInputs(*req.Lines)
	}
	if req.InvoiceType != nil {
		t := InvoiceType(*req.InvoiceType)
		p.InvoiceType = &t
	}
	return p, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	kind, owner, err := params(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req documentRequest
	if err := httpx.DecodeJSON(r, h.validate, &req); err != nil {
		h.fail(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, err)
		return
	}
	doc, err := h.service.Create(r.Context(), kind, owner, in)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	kind, owner, err := params(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	query := r.URL.Query()
	page, perPage := platformshared.PageFromQuery(query)
	filter := Filter{Limit: perPage, Offset: (page - 1) * perPage}
	if raw := query.Get("status"); raw != "" {
		status, err := shared.ParseStatus(kind, raw)
		if err != nil {
			h.fail(w, err)
			return
		}
		filter.Status = &status
	}
	if raw := query.Get("client_id"); raw != "" {
		filter.ClientID = &raw
	}
	for name, target := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		t, err := parseDate(raw)
		if err != nil {
			h.fail(w, validationErr(name, raw))
			return
		}
		*target = &t
	}
	docs, total, err := h.service.List(r.Context(), kind, owner, filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	if docs == nil {
		docs = []Document{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: docs, Pagination: platformshared.NewPagination(page, perPage, total)})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	kind, owner, err := params(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	doc, err := h.service.Get(r.Context(), kind, owner, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	kind, owner, err := params(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req patchRequest
	if err := httpx.DecodeJSON(r, h.validate, &req); err != nil {
		h.fail(w, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		h.fail(w, err)
		return
	}
	doc, err := h.service.Update(r.Context(), kind, owner, chi.URLParam(r, "id"), patch)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	kind, owner, err := params(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), kind, owner, chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	kind, owner, err := params(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, h.validate, &req); err != nil {
		h.fail(w, err)
		return
	}
	status, err := shared.ParseStatus(kind, req.Status)
	if err != nil {
		h.fail(w, err)
		return
	}
	paidAt, err := parseOptionalDate(req.PaidAt)
	if err != nil {
		h.fail(w, validationErr("paid_at", *req.PaidAt))
		return
	}
	doc, err := h.service.ChangeStatus(r.Context(), kind, owner, chi.URLParam(r, "id"), StatusChange{
		Status:     status,
		PaidAt:     paidAt,
		PaidAmount: req.PaidAmount,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	kind, owner, err := params(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if kind != shared.KindQuote {
		h.fail(w, shared.ErrNotFound)
		return
	}
	var req signRequest
	if err := httpx.DecodeJSON(r, h.validate, &req); err != nil {
		h.fail(w, err)
		return
	}
	doc, err := h.service.SignQuote(r.Context(), owner, chi.URLParam(r, "id"), req.Signature)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func validationErr(field, raw string) error {
	return fmt.Errorf("%w: invalid %s %q", shared.ErrValidation, field, raw)
}
