package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"mintqueue-system/internal/ledger"
	"mintqueue-system/internal/status"
	"mintqueue-system/services"
)

type TriggerHandler struct {
	app            *pocketbase.PocketBase
	triggerService *services.TriggerService
}

func NewTriggerHandler(app *pocketbase.PocketBase, triggerService *services.TriggerService) *TriggerHandler {
	return &TriggerHandler{
		app:            app,
		triggerService: triggerService,
	}
}

// BuildTrigger - returns the unsigned trigger transaction if the queue is
// triggerable; rejected prechecks name the failed condition and construct
// no transaction.
func (h *TriggerHandler) BuildTrigger(e *core.RequestEvent) error {
	var req struct {
		MarketplaceID string `json:"marketplace_id"`
		Participant   string `json:"participant"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Participant == "" {
		return apis.NewBadRequestError("Invalid request", errors.New("participant must not be empty"))
	}

	txn, err := h.triggerService.BuildTrigger(e.Request.Context(), req.MarketplaceID, req.Participant)
	if err != nil {
		return triggerError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"transaction": txn})
}

// ExecuteTrigger - submits the signed trigger and runs the batch mint
// fan-out after confirmation.
func (h *TriggerHandler) ExecuteTrigger(e *core.RequestEvent) error {
	var req struct {
		MarketplaceID     string                   `json:"marketplace_id"`
		SignedTransaction ledger.SignedTransaction `json:"signed_transaction"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	outcome, err := h.triggerService.ExecuteTrigger(e.Request.Context(), req.MarketplaceID, req.SignedTransaction)
	if err != nil {
		slog.Error("trigger execution failed", "marketplace_id", req.MarketplaceID, "error", err)
		return triggerError(err)
	}

	return e.JSON(http.StatusOK, outcome)
}

func triggerError(err error) error {
	switch {
	case errors.Is(err, status.ErrLedgerNotConfigured):
		return apis.NewNotFoundError("No queue configured for marketplace", err)
	case errors.Is(err, status.ErrThresholdNotMet):
		return apis.NewBadRequestError("Threshold not met", err)
	case errors.Is(err, status.ErrWindowExpired):
		return apis.NewBadRequestError("Time window expired", err)
	case errors.Is(err, status.ErrAlreadyTriggered):
		return apis.NewBadRequestError("Queue already triggered", err)
	default:
		return apis.NewBadRequestError("Failed to trigger queue", err)
	}
}
