package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/optfolio/opttracker/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Open(ctx context.Context, req domain.OpenRequest) (domain.Position, error)
	AddEntry(ctx context.Context, req domain.EntryRequest) (domain.Position, error)
	ProcessExit(ctx context.Context, req domain.ExitRequest) (domain.ExitResult, error)
	Get(ctx context.Context, id string) (domain.Position, error)
	List(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// writeServiceError maps domain errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "position not found")
	case errors.Is(err, domain.ErrPositionClosed):
		writeError(w, http.StatusConflict, "position is closed")
	case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrVersionConflict):
		writeError(w, http.StatusConflict, "position is being modified, retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// openPositionRequest is the JSON body for opening a position. Monetary
// values are decimal strings; dates accept RFC3339 or 2006-01-02.
type openPositionRequest struct {
	AccountID   string `json:"account_id"`
	Brokerage   string `json:"brokerage"`
	Symbol      string `json:"symbol"`
	Direction   string `json:"direction"`
	EntryDate   string `json:"entry_date"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	RequestedBy string `json:"requested_by"`
}

// OpenPosition creates a new position from its first fill.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var body openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.AccountID == "" || body.Symbol == "" {
		writeError(w, http.StatusBadRequest, "account_id and symbol are required")
		return
	}

	entryDate, err := parseTime(body.EntryDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry_date")
		return
	}
	unitPrice, err := decimal.NewFromString(body.UnitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid unit_price")
		return
	}

	pos, err := h.positions.Open(r.Context(), domain.OpenRequest{
		AccountID:   body.AccountID,
		Brokerage:   body.Brokerage,
		Symbol:      body.Symbol,
		Direction:   domain.Direction(body.Direction),
		EntryDate:   entryDate,
		Quantity:    body.Quantity,
		UnitPrice:   unitPrice,
		RequestedBy: body.RequestedBy,
	})
	if err != nil {
		if !domain.IsValidation(err) {
			h.logger.ErrorContext(r.Context(), "handler: open position failed",
				slog.String("symbol", body.Symbol),
				slog.String("error", err.Error()),
			)
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// addEntryRequest is the JSON body for adding a lot to a position.
type addEntryRequest struct {
	EntryDate   string `json:"entry_date"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	RequestedBy string `json:"requested_by"`
}

// AddEntry appends an additional lot to an existing position.
// POST /api/positions/{id}/entries
func (h *PositionHandler) AddEntry(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var body addEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	entryDate, err := parseTime(body.EntryDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry_date")
		return
	}
	unitPrice, err := decimal.NewFromString(body.UnitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid unit_price")
		return
	}

	pos, err := h.positions.AddEntry(r.Context(), domain.EntryRequest{
		PositionID:  id,
		EntryDate:   entryDate,
		Quantity:    body.Quantity,
		UnitPrice:   unitPrice,
		RequestedBy: body.RequestedBy,
	})
	if err != nil {
		if !domain.IsValidation(err) {
			h.logger.ErrorContext(r.Context(), "handler: add entry failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// exitRequest is the JSON body for exiting quantity from a position.
type exitRequest struct {
	ExitDate      string `json:"exit_date"`
	Quantity      int64  `json:"quantity"`
	ExitUnitPrice string `json:"exit_unit_price"`
	Strategy      string `json:"strategy"`
	RequestedBy   string `json:"requested_by"`
}

// ProcessExit runs an exit against the position.
// POST /api/positions/{id}/exit
func (h *PositionHandler) ProcessExit(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var body exitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	exitDate, err := parseTime(body.ExitDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid exit_date")
		return
	}
	exitPrice, err := decimal.NewFromString(body.ExitUnitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid exit_unit_price")
		return
	}

	result, err := h.positions.ProcessExit(r.Context(), domain.ExitRequest{
		PositionID:    id,
		ExitDate:      exitDate,
		Quantity:      body.Quantity,
		ExitUnitPrice: exitPrice,
		StrategyHint:  domain.ExitStrategy(body.Strategy),
		RequestedBy:   body.RequestedBy,
	})
	if err != nil {
		if !domain.IsValidation(err) {
			h.logger.ErrorContext(r.Context(), "handler: process exit failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetPosition returns the full position aggregate.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	pos, err := h.positions.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "handler: get position failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns positions for a given account, newest first.
// GET /api/positions?account=acct-1
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account query parameter required")
		return
	}

	positions, err := h.positions.List(r.Context(), account, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
