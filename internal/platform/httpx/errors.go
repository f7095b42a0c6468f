package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
	platformshared "github.com/odyssey-erp/billing-core/internal/shared"
)

const problemBase = "https://billing.odyssey-erp.dev/problems/"

type problemKind struct {
	err    error
	status int
	slug   string
	title  string
}

var problemKinds = []problemKind{
	{shared.ErrNotFound, http.StatusNotFound, "not-found", "Not Found"},
	{shared.ErrTokenNotFound, http.StatusNotFound, "token-not-found", "Link Not Found"},
	{shared.ErrImmutableDocument, http.StatusConflict, "immutable-document", "Document Locked"},
	{shared.ErrDocumentInUse, http.StatusConflict, "document-in-use", "Document In Use"},
	{shared.ErrAlreadyConverted, http.StatusConflict, "already-converted", "Already Converted"},
	{shared.ErrInvalidTransition, http.StatusConflict, "invalid-transition", "Invalid Transition"},
	{shared.ErrNotEligible, http.StatusUnprocessableEntity, "not-eligible", "Not Eligible"},
	{shared.ErrAllocationFailure, http.StatusServiceUnavailable, "allocation-failure", "Number Allocation Failed"},
	{shared.ErrValidation, http.StatusBadRequest, "validation", "Validation Failed"},
	{platformshared.ErrOwnerMissing, http.StatusUnauthorized, "owner-missing", "Unauthorized"},
}

// RespondError maps domain errors to RFC 7807 responses. Unknown errors are
// logged and reported as 500 without detail.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	for _, kind := range problemKinds {
		if errors.Is(err, kind.err) {
			write(w, ProblemDetail{
				Type:   problemBase + kind.slug,
				Title:  kind.title,
				Status: kind.status,
				Detail: err.Error(),
			})
			return
		}
	}
	if logger != nil {
		logger.Error("unhandled error", slog.Any("error", err))
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
