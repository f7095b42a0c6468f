package periods

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

// Handler exposes period listings.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers routes relative to /api/v1/periods.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
}

type listResponse struct {
	Year        int         `json:"year"`
	Granularity Granularity `json:"granularity"`
	Periods     []Period    `json:"periods"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	owner, ok := platformshared.OwnerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, h.logger, platformshared.ErrOwnerMissing)
		return
	}
	query := r.URL.Query()
	year := time.Now().Year()
	if raw := query.Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, h.logger, fmt.Errorf("%w: invalid year %q", shared.ErrValidation, raw))
			return
		}
		year = parsed
	}
	granularity, err := ParseGranularity(query.Get("granularity"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	list, err := h.service.Periods(r.Context(), owner, year, granularity)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Year: year, Granularity: granularity, Periods: list})
}
