package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"mintqueue-system/internal/ledger"
	"mintqueue-system/internal/status"
	"mintqueue-system/models"
	"mintqueue-system/services"
)

type RefundHandler struct {
	app           *pocketbase.PocketBase
	refundService *services.RefundService
}

func NewRefundHandler(app *pocketbase.PocketBase, refundService *services.RefundService) *RefundHandler {
	return &RefundHandler{
		app:           app,
		refundService: refundService,
	}
}

// BuildRefund - returns the unsigned refund transaction; a rejected
// precheck tells the caller exactly which refund condition failed.
func (h *RefundHandler) BuildRefund(e *core.RequestEvent) error {
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

	txn, err := h.refundService.BuildRefund(e.Request.Context(), req.MarketplaceID, req.Participant)
	if err != nil {
		return refundError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"transaction": txn})
}

// SubmitRefund - submits the signed refund and marks mirrored requests
func (h *RefundHandler) SubmitRefund(e *core.RequestEvent) error {
	var req struct {
		MarketplaceID     string                   `json:"marketplace_id"`
		SignedTransaction ledger.SignedTransaction `json:"signed_transaction"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	amount, err := h.refundService.SubmitRefund(e.Request.Context(), req.MarketplaceID, req.SignedTransaction)
	if err != nil {
		return refundError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"refunded": models.FromBaseUnits(amount).String(),
		"message":  "Escrow refunded",
	})
}

func refundError(err error) error {
	switch {
	case errors.Is(err, status.ErrLedgerNotConfigured):
		return apis.NewNotFoundError("No queue configured for marketplace", err)
	case errors.Is(err, status.ErrNoEscrowToRefund):
		return apis.NewBadRequestError("No escrow to refund", err)
	case errors.Is(err, status.ErrRefundWindowStillOpen):
		return apis.NewBadRequestError("Refund rejected: time window still open", err)
	case errors.Is(err, status.ErrRefundAfterThresholdMet):
		return apis.NewBadRequestError("Refund rejected: threshold met, call trigger instead", err)
	default:
		return apis.NewBadRequestError("Failed to refund", err)
	}
}
