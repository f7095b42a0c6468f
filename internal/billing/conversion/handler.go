package conversion

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
	"github.com/odyssey-erp/billing-core/internal/platform/httpx"
	platformshared "github.com/odyssey-erp/billing-core/internal/shared"
)

// Handler exposes quote conversion.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers conversion routes relative to /api/v1/documents.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{kind}/{id}/convert", h.convert)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	owner, ok := platformshared.OwnerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, h.logger, platformshared.ErrOwnerMissing)
		return
	}
	kind, err := shared.ParseKind(chi.URLParam(r, "kind"))
	if err != nil || kind != shared.KindQuote {
		httpx.RespondError(w, h.logger, shared.ErrNotFound)
		return
	}
	invoice, err := h.service.ConvertQuoteToInvoice(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoice)
}
