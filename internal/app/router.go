package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/billing-core/internal/billing/conversion"
	"github.com/odyssey-erp/billing-core/internal/billing/documents"
	"github.com/odyssey-erp/billing-core/internal/billing/periods"
	"github.com/odyssey-erp/billing-core/internal/billing/reports"
	"github.com/odyssey-erp/billing-core/internal/billing/sharelink"
	"github.com/odyssey-erp/billing-core/internal/observability"
	"github.com/odyssey-erp/billing-core/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	DocumentsHandler  *documents.Handler
	ConversionHandler *conversion.Handler
	ShareHandler      *sharelink.Handler
	PeriodsHandler    *periods.Handler
	ReportsHandler    *reports.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with billing defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	apiLimit, publicLimit := 0, 0
	if params.Config != nil {
		apiLimit, publicLimit = params.Config.APIRateLimit, params.Config.PublicRateLimit
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(apiLimit))
		r.Use(RequireOwner(params.Logger))
		r.Route("/documents", func(r chi.Router) {
			if params.DocumentsHandler != nil {
				params.DocumentsHandler.MountRoutes(r)
			}
			if params.ConversionHandler != nil {
				params.ConversionHandler.MountRoutes(r)
			}
			if params.ShareHandler != nil {
				params.ShareHandler.MountOwnerRoutes(r)
			}
		})
		if params.PeriodsHandler != nil {
			r.Route("/periods", params.PeriodsHandler.MountRoutes)
		}
		if params.ReportsHandler != nil {
			r.Route("/reports", params.ReportsHandler.MountRoutes)
		}
	})

	if params.ShareHandler != nil {
		r.Group(func(r chi.Router) {
			r.Use(RateLimit(publicLimit))
			params.ShareHandler.MountPublicRoutes(r)
		})
	}

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
