package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"

	"mintqueue-system/models"
	"mintqueue-system/services"
)

type AdminHandler struct {
	app          *pocketbase.PocketBase
	queueService *services.QueueService
	redis        *redis.Client
}

func NewAdminHandler(app *pocketbase.PocketBase, queueService *services.QueueService, redisClient *redis.Client) *AdminHandler {
	return &AdminHandler{
		app:          app,
		queueService: queueService,
		redis:        redisClient,
	}
}

// GetQueueDashboard - operator view across every live queue instance
func (h *AdminHandler) GetQueueDashboard(e *core.RequestEvent) error {
	ctx := e.Request.Context()

	instances, err := h.queueService.Store.ListActiveInstances(ctx)
	if err != nil {
		return apis.NewBadRequestError("Failed to list instances", err)
	}

	dashboard := make([]map[string]any, 0, len(instances))
	for _, inst := range instances {
		entry := map[string]any{
			"marketplace_id": inst.MarketplaceID,
			"instance_id":    inst.InstanceID,
			"threshold":      inst.Config.Threshold,
			"base_cost":      models.FromBaseUnits(inst.Config.BaseCost).String(),
			"effective_cost": models.FromBaseUnits(inst.Config.EffectiveCost).String(),
		}
		if st, err := h.queueService.QueueStatus(ctx, inst.InstanceID); err == nil {
			entry["queue_count"] = st.QueueCount
			entry["total_escrowed"] = models.FromBaseUnits(st.TotalEscrowed).String()
			entry["cycle"] = st.Cycle
			entry["can_trigger"] = st.CanTrigger
			entry["can_refund"] = st.CanRefund
		}
		if pending, err := h.queueService.Store.PendingRequests(ctx, inst.InstanceID, instCycle(entry)); err == nil {
			entry["pending_requests"] = len(pending)
		}
		dashboard = append(dashboard, entry)
	}

	return e.JSON(http.StatusOK, map[string]any{"instances": dashboard})
}

func instCycle(entry map[string]any) uint64 {
	if c, ok := entry["cycle"].(uint64); ok {
		return c
	}
	return 0
}
