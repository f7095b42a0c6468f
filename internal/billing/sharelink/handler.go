package sharelink

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
	"github.com/odyssey-erp/billing-core/internal/platform/httpx"
	platformshared "github.com/odyssey-erp/billing-core/internal/shared"
)

// Handler serves share link management and the public document pages.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountOwnerRoutes registers routes relative to /api/v1/documents.
func (h *Handler) MountOwnerRoutes(r chi.Router) {
	r.Post("/{kind}/{id}/share", h.issue)
	r.Delete("/{kind}/{id}/share", h.revoke)
}

// MountPublicRoutes registers unauthenticated token routes.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	for _, kind := range shared.Kinds {
		r.Get("/"+kind.Slug()+"/{token}", h.view(kind))
	}
	r.Post("/"+shared.KindQuote.Slug()+"/{token}/sign", h.sign)
}

type signRequest struct {
	Signature string `json:"signature" validate:"required,max=10000"`
}

func (h *Handler) ownerParams(r *http.Request) (shared.Kind, string, error) {
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

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	kind, owner, err := h.ownerParams(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	link, err := h.service.IssueLink(r.Context(), kind, chi.URLParam(r, "id"), owner)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, link)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	kind, owner, err := h.ownerParams(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.Revoke(r.Context(), kind, chi.URLParam(r, "id"), owner); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) view(kind shared.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.service.PublicDocument(r.Context(), kind, chi.URLParam(r, "token"))
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		httpx.JSON(w, http.StatusOK, view)
	}
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := httpx.DecodeJSON(r, h.validate, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	view, err := h.service.SignQuote(r.Context(), chi.URLParam(r, "token"), req.Signature)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}
