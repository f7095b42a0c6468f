package reports

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
	"github.com/odyssey-erp/billing-core/internal/platform/httpx"
	platformshared "github.com/odyssey-erp/billing-core/internal/shared"
)

// Handler exposes report endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers routes relative to /api/v1/reports.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/profit-loss/{year}", h.profitLoss)
}

func (h *Handler) profitLoss(w http.ResponseWriter, r *http.Request) {
	owner, ok := platformshared.OwnerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, h.logger, platformshared.ErrOwnerMissing)
		return
	}
	rawYear := chi.URLParam(r, "year")
	year, err := strconv.Atoi(rawYear)
	if err != nil {
		httpx.RespondError(w, h.logger, fmt.Errorf("%w: invalid year %q", shared.ErrValidation, rawYear))
		return
	}
	from, err := optionalDate(r, "from")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	to, err := optionalDate(r, "to")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	report, err := h.service.ProfitLoss(r.Context(), owner, year, from, to)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func optionalDate(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s %q", shared.ErrValidation, name, raw)
	}
	return &t, nil
}
