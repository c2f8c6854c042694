package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/optfolio/opttracker/internal/domain"
)

// OperationService defines the methods that the operation handler requires.
type OperationService interface {
	GroupOperations(ctx context.Context, groupID string, includeHidden bool) ([]domain.Operation, error)
	ListOperations(ctx context.Context, opts domain.ListOpts) ([]domain.Operation, error)
}

// OperationHandler serves the reporting view over operation groups.
type OperationHandler struct {
	operations OperationService
	logger     *slog.Logger
}

// NewOperationHandler creates an OperationHandler with the given service and logger.
func NewOperationHandler(operations OperationService, logger *slog.Logger) *OperationHandler {
	return &OperationHandler{
		operations: operations,
		logger:     logger,
	}
}

// listOperationsResponse wraps the list operations response.
type listOperationsResponse struct {
	Operations []domain.Operation `json:"operations"`
}

// ListOperations returns operations, either for one reporting group or
// across all groups. Hidden operations are excluded from group views unless
// include_hidden=true.
// GET /api/operations?group=<id>&include_hidden=false
func (h *OperationHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		ops []domain.Operation
		err error
	)
	if group := q.Get("group"); group != "" {
		includeHidden := q.Get("include_hidden") == "true"
		ops, err = h.operations.GroupOperations(r.Context(), group, includeHidden)
	} else {
		ops, err = h.operations.ListOperations(r.Context(), parseListOpts(r))
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list operations failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list operations")
		return
	}

	if ops == nil {
		ops = []domain.Operation{}
	}

	writeJSON(w, http.StatusOK, listOperationsResponse{Operations: ops})
}
