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
	"mintqueue-system/models"
	"mintqueue-system/services"
)

type QueueHandler struct {
	app          *pocketbase.PocketBase
	queueService *services.QueueService
}

func NewQueueHandler(app *pocketbase.PocketBase, queueService *services.QueueService) *QueueHandler {
	return &QueueHandler{
		app:          app,
		queueService: queueService,
	}
}

// Deploy - install a fresh escrow queue for a marketplace
func (h *QueueHandler) Deploy(e *core.RequestEvent) error {
	var req models.QueueConfigInput
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.MarketplaceID == "" {
		return apis.NewBadRequestError("Invalid request", errors.New("marketplace_id must not be empty"))
	}

	instanceID, err := h.queueService.Deploy(e.Request.Context(), req)
	if err != nil {
		if errors.Is(err, status.ErrAlreadyConfigured) {
			return apis.NewBadRequestError("Queue already configured for marketplace", err)
		}
		slog.Error("deploy failed", "marketplace_id", req.MarketplaceID, "error", err)
		return apis.NewBadRequestError("Failed to deploy queue", err)
	}

	return e.JSON(http.StatusOK, map[string]any{"instance_id": instanceID})
}

// GetStatus - ledger-backed queue status for a marketplace
func (h *QueueHandler) GetStatus(e *core.RequestEvent) error {
	marketplaceID := e.Request.URL.Query().Get("marketplace_id")
	if marketplaceID == "" {
		return apis.NewBadRequestError("marketplace_id required", nil)
	}
	ctx := e.Request.Context()

	inst, err := h.queueService.Instance(ctx, marketplaceID)
	if err != nil {
		if errors.Is(err, status.ErrLedgerNotConfigured) {
			return e.JSON(http.StatusOK, map[string]any{"configured": false})
		}
		return apis.NewBadRequestError("Failed to resolve queue", err)
	}

	st, err := h.queueService.QueueStatus(ctx, inst.InstanceID)
	if err != nil {
		return apis.NewBadRequestError("Failed to read queue status", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"configured":   true,
		"instance_id":  inst.InstanceID,
		"config":       inst.Config,
		"queue_status": st,
	})
}

// BuildJoin - returns the unsigned join transaction for wallet signing
func (h *QueueHandler) BuildJoin(e *core.RequestEvent) error {
	var req struct {
		MarketplaceID string   `json:"marketplace_id"`
		Participant   string   `json:"participant"`
		NFTIDs        []string `json:"nft_ids"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Participant == "" {
		return apis.NewBadRequestError("Invalid request", errors.New("participant must not be empty"))
	}
	if len(req.NFTIDs) == 0 {
		return apis.NewBadRequestError("Invalid request", errors.New("nft_ids must not be empty"))
	}

	txn, amount, err := h.queueService.BuildJoin(e.Request.Context(), req.MarketplaceID, req.Participant, req.NFTIDs)
	if err != nil {
		return joinError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"transaction": txn,
		"amount":      models.FromBaseUnits(amount).String(),
	})
}

// SubmitJoin - submits the signed join and mirrors the queue request
func (h *QueueHandler) SubmitJoin(e *core.RequestEvent) error {
	var req struct {
		MarketplaceID     string                   `json:"marketplace_id"`
		UserID            string                   `json:"user_id"`
		NFTIDs            []string                 `json:"nft_ids"`
		SignedTransaction ledger.SignedTransaction `json:"signed_transaction"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.UserID == "" {
		return apis.NewBadRequestError("Invalid request", errors.New("user_id must not be empty"))
	}

	request, err := h.queueService.SubmitJoin(e.Request.Context(), req.MarketplaceID, req.UserID, req.NFTIDs, req.SignedTransaction)
	if err != nil {
		return joinError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"request": request,
		"message": "Successfully joined mint queue",
	})
}

func joinError(err error) error {
	switch {
	case errors.Is(err, status.ErrLedgerNotConfigured):
		return apis.NewNotFoundError("No queue configured for marketplace", err)
	case errors.Is(err, status.ErrWindowAlreadyExpired):
		return apis.NewBadRequestError("Queue window already expired, refund and restart", err)
	case errors.Is(err, status.ErrInsufficientPayment), errors.Is(err, status.ErrInvalidAmount):
		return apis.NewBadRequestError("Payment does not match base cost for requested assets", err)
	case errors.Is(err, status.ErrBatchTooLarge):
		return apis.NewBadRequestError("Too many assets in one join batch", err)
	default:
		return apis.NewBadRequestError("Failed to join queue", err)
	}
}
