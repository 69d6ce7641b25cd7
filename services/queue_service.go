package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"mintqueue-system/config"
	"mintqueue-system/internal/ledger"
	"mintqueue-system/internal/status"
	"mintqueue-system/internal/wallet"
	"mintqueue-system/models"
	"mintqueue-system/monitoring"
	"mintqueue-system/utils"
)

// QueueService orchestrates deployment and the join flow. The escrow ledger
// stays the single source of truth for balances; this service only mirrors
// and reconciles.
type QueueService struct {
	Redis    *redis.Client
	PubNub   *pubnub.PubNub
	Ledger   ledger.Client
	Operator wallet.Signer
	Store    MirrorStore
	Config   *config.Config

	breaker *utils.CircuitBreaker
}

func NewQueueService(redisClient *redis.Client, pn *pubnub.PubNub, lc ledger.Client, operator wallet.Signer, store MirrorStore, cfg *config.Config) *QueueService {
	return &QueueService{
		Redis:    redisClient,
		PubNub:   pn,
		Ledger:   lc,
		Operator: operator,
		Store:    store,
		Config:   cfg,
		breaker:  utils.NewCircuitBreaker("ledger-submit", 100, 60*time.Second),
	}
}

// Deploy installs a fresh escrow queue instance for a marketplace. A
// marketplace may have at most one live queue at a time.
func (s *QueueService) Deploy(ctx context.Context, input models.QueueConfigInput) (string, error) {
	if err := input.Validate(); err != nil {
		monitoring.TrackOperation("deploy", "rejected")
		return "", err
	}

	existing, err := s.Store.ActiveInstance(ctx, input.MarketplaceID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		monitoring.TrackOperation("deploy", "rejected")
		return "", status.ErrAlreadyConfigured
	}

	baseCost, _ := models.ToBaseUnits(input.BaseCost)
	effectiveCost, _ := models.ToBaseUnits(input.EffectiveCost)
	cfg := ledger.Config{
		Threshold:       input.Threshold,
		BaseCost:        baseCost,
		EffectiveCost:   effectiveCost,
		PlatformAddress: input.PlatformAddress,
		EscrowAddress:   input.EscrowAddress,
		TimeWindow:      time.Duration(input.TimeWindowSecs) * time.Second,
	}

	txn, err := s.buildTransaction(ctx, "", ledger.ActionConfigure, s.Operator.Address())
	if err != nil {
		return "", err
	}
	txn.Config = &cfg

	stx, err := s.Operator.Sign(txn)
	if err != nil {
		return "", err
	}

	receipt, err := submitAndConfirm(ctx, s.Ledger, s.breaker, s.Config.MintRetries, s.Config.MintRetryDelay, stx)
	if err != nil {
		monitoring.TrackOperation("deploy", "error")
		return "", err
	}

	inst := &models.QueueInstance{
		MarketplaceID: input.MarketplaceID,
		InstanceID:    receipt.InstanceID,
		Config:        cfg,
		Active:        true,
	}
	if err := s.Store.SaveInstance(ctx, inst); err != nil {
		return "", err
	}

	bindKey := fmt.Sprintf("queue:instance:%s", input.MarketplaceID)
	s.Redis.Set(ctx, bindKey, receipt.InstanceID, 0)

	slog.Info("queue instance deployed",
		"marketplace_id", input.MarketplaceID,
		"instance_id", receipt.InstanceID,
		"threshold", cfg.Threshold,
	)
	monitoring.TrackOperation("deploy", "success")
	return receipt.InstanceID, nil
}

// Instance resolves the live instance for a marketplace, Redis first with a
// mirror-store fallback.
func (s *QueueService) Instance(ctx context.Context, marketplaceID string) (*models.QueueInstance, error) {
	inst, err := s.Store.ActiveInstance(ctx, marketplaceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, status.ErrLedgerNotConfigured
	}
	return inst, nil
}

// QueueStatus returns the ledger status snapshot, cached briefly in Redis.
// Every snapshot may be stale by the time a follow-up transaction lands; the
// ledger's own acceptance stays the final authority.
func (s *QueueService) QueueStatus(ctx context.Context, instanceID string) (ledger.Status, error) {
	cacheKey := fmt.Sprintf("queue:status:%s", instanceID)
	if raw, err := s.Redis.Get(ctx, cacheKey).Result(); err == nil {
		var st ledger.Status
		if err := json.Unmarshal([]byte(raw), &st); err == nil {
			return st, nil
		}
	}

	st, err := s.Ledger.QueueStatus(ctx, instanceID)
	if err != nil {
		return ledger.Status{}, err
	}
	if data, err := json.Marshal(st); err == nil {
		s.Redis.Set(ctx, cacheKey, data, s.Config.StatusCacheTTL)
	}
	return st, nil
}

// RefreshStatus drops the cached snapshot and re-reads the ledger. Called
// after every confirmed action so mirror updates key off fresh state.
func (s *QueueService) RefreshStatus(ctx context.Context, instanceID string) (ledger.Status, error) {
	s.Redis.Del(ctx, fmt.Sprintf("queue:status:%s", instanceID))
	return s.QueueStatus(ctx, instanceID)
}

// BuildJoin composes the unsigned join transaction for wallet signing.
// Payment is always collected at base cost per asset.
func (s *QueueService) BuildJoin(ctx context.Context, marketplaceID, walletAddress string, nftIDs []string) (ledger.Transaction, uint64, error) {
	if len(nftIDs) == 0 {
		return ledger.Transaction{}, 0, status.ErrInvalidAmount
	}
	if len(nftIDs) > models.MaxBatchAssets {
		return ledger.Transaction{}, 0, status.ErrBatchTooLarge
	}
	inst, err := s.Instance(ctx, marketplaceID)
	if err != nil {
		return ledger.Transaction{}, 0, err
	}

	// Precheck to save a wasted signature round-trip; the ledger enforces
	// this again on submission.
	if st, err := s.QueueStatus(ctx, inst.InstanceID); err == nil {
		if st.QueueCount > 0 && !st.CanTrigger && st.CanRefund {
			return ledger.Transaction{}, 0, status.ErrWindowAlreadyExpired
		}
	}

	amount := models.JoinCost(inst.Config.BaseCost, len(nftIDs))
	txn, err := s.buildTransaction(ctx, inst.InstanceID, ledger.ActionJoin, walletAddress)
	if err != nil {
		return ledger.Transaction{}, 0, err
	}
	txn.Amount = amount
	return txn, amount, nil
}

// SubmitJoin broadcasts a signed join, waits for confirmation and mirrors
// one QueueRequest row for the batch in the current cycle.
func (s *QueueService) SubmitJoin(ctx context.Context, marketplaceID, userID string, nftIDs []string, stx ledger.SignedTransaction) (*models.QueueRequest, error) {
	inst, err := s.Instance(ctx, marketplaceID)
	if err != nil {
		return nil, err
	}
	if stx.Txn.Instance != inst.InstanceID {
		return nil, status.ErrLedgerNotConfigured
	}
	if len(nftIDs) > models.MaxBatchAssets {
		monitoring.TrackOperation("join", "rejected")
		return nil, status.ErrBatchTooLarge
	}
	if stx.Txn.Amount != models.JoinCost(inst.Config.BaseCost, len(nftIDs)) {
		monitoring.TrackOperation("join", "rejected")
		return nil, status.ErrInsufficientPayment
	}

	receipt, err := submitAndConfirm(ctx, s.Ledger, s.breaker, s.Config.MintRetries, s.Config.MintRetryDelay, stx)
	if err != nil {
		monitoring.TrackOperation("join", "error")
		return nil, err
	}

	// The cycle comes from the receipt, not from a status re-read: a
	// settlement may land between this join's confirmation and any later
	// read, and the row must stay keyed to the cycle the escrow paid into.
	req := &models.QueueRequest{
		InstanceID:    inst.InstanceID,
		Cycle:         receipt.Cycle,
		MarketplaceID: marketplaceID,
		UserID:        userID,
		WalletAddress: stx.Txn.Sender,
		NFTIDs:        nftIDs,
		Status:        models.RequestPending,
		TxID:          receipt.TxID,
	}
	if err := s.Store.CreateRequest(ctx, req); err != nil {
		// The escrow is already confirmed on the ledger; surface the mirror
		// failure but do not pretend the join failed.
		slog.Error("mirror write failed after confirmed join", "tx_id", receipt.TxID, "error", err)
		return nil, err
	}

	participantKey := fmt.Sprintf("queue:participant:%s:%s", inst.InstanceID, stx.Txn.Sender)
	s.Redis.HSet(ctx, participantKey, map[string]any{
		"user_id":   userID,
		"joined_at": time.Now().Unix(),
		"escrowed":  stx.Txn.Amount,
	})

	notice := map[string]any{
		"type":        "queue_joined",
		"instance_id": inst.InstanceID,
		"cycle":       receipt.Cycle,
	}
	if st, err := s.RefreshStatus(ctx, inst.InstanceID); err == nil {
		notice["queue_count"] = st.QueueCount
		notice["can_trigger"] = st.CanTrigger
	}
	publishToUser(s.PubNub, userID, notice)

	slog.Info("join confirmed", "instance_id", inst.InstanceID, "wallet", stx.Txn.Sender, "amount", stx.Txn.Amount)
	monitoring.TrackOperation("join", "success")
	return req, nil
}

// WatchExpiredWindows announces refund availability once a queue's window
// lapses without a settlement.
func (s *QueueService) WatchExpiredWindows(ctx context.Context) {
	ticker := time.NewTicker(s.Config.ExpiryCheckTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		instances, err := s.Store.ListActiveInstances(ctx)
		if err != nil {
			slog.Error("list active instances", "error", err)
			continue
		}
		for _, inst := range instances {
			st, err := s.RefreshStatus(ctx, inst.InstanceID)
			if err != nil || !st.CanRefund {
				continue
			}
			announceKey := fmt.Sprintf("queue:expiry:%s:%d", inst.InstanceID, st.Cycle)
			ok, err := s.Redis.SetNX(ctx, announceKey, "1", 24*time.Hour).Result()
			if err != nil || !ok {
				continue
			}
			slog.Info("queue window expired without trigger", "instance_id", inst.InstanceID, "cycle", st.Cycle)
			requests, err := s.Store.PendingRequests(ctx, inst.InstanceID, st.Cycle)
			if err != nil {
				continue
			}
			for _, req := range requests {
				publishToUser(s.PubNub, req.UserID, map[string]any{
					"type":        "refund_available",
					"instance_id": inst.InstanceID,
					"cycle":       st.Cycle,
				})
			}
		}
	}
}

// ReconcileMirror repairs rows stranded by a crashed or skipped fan-out.
// Mirror rows are derived state; a stranded row must never look queued or
// in flight forever. Two sweeps:
//   - rows stuck in processing (the fan-out died mid-mint)
//   - rows still pending in a cycle the ledger has already settled (the
//     fan-out never picked them up, or failed to mark them)
func (s *QueueService) ReconcileMirror(ctx context.Context) {
	requests, err := s.Store.ProcessingRequests(ctx)
	if err != nil {
		slog.Error("reconcile mirror", "error", err)
		return
	}
	for _, req := range requests {
		if err := s.Store.SetRequestStatus(ctx, req.ID, models.RequestFailed, status.ErrMintInterrupted.Error()); err != nil {
			slog.Error("reconcile request", "request_id", req.ID, "error", err)
		}
	}
	if len(requests) > 0 {
		slog.Info("reconciled interrupted mint requests", "count", len(requests))
	}

	instances, err := s.Store.ListActiveInstances(ctx)
	if err != nil {
		slog.Error("reconcile mirror", "error", err)
		return
	}
	for _, inst := range instances {
		st, err := s.Ledger.QueueStatus(ctx, inst.InstanceID)
		if err != nil {
			slog.Error("reconcile status read", "instance_id", inst.InstanceID, "error", err)
			continue
		}
		stale, err := s.Store.PendingRequestsBefore(ctx, inst.InstanceID, st.Cycle)
		if err != nil {
			slog.Error("reconcile stale rows", "instance_id", inst.InstanceID, "error", err)
			continue
		}
		for _, req := range stale {
			if err := s.Store.SetRequestStatus(ctx, req.ID, models.RequestFailed, status.ErrMintInterrupted.Error()); err != nil {
				slog.Error("reconcile request", "request_id", req.ID, "error", err)
			}
		}
		if len(stale) > 0 {
			slog.Warn("failed pending rows from settled cycles", "instance_id", inst.InstanceID, "count", len(stale))
		}
	}
}

func (s *QueueService) buildTransaction(ctx context.Context, instanceID string, action ledger.Action, sender string) (ledger.Transaction, error) {
	params, err := s.Ledger.SuggestedParams(ctx)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		Instance:   instanceID,
		Action:     action,
		Sender:     sender,
		FirstValid: params.FirstValid,
		LastValid:  params.LastValid,
		Fee:        params.Fee,
		GenesisID:  params.GenesisID,
	}, nil
}

// submitAndConfirm pushes a signed transaction through the breaker,
// retrying only transient node failures with backoff. Ledger state
// rejections are authoritative and returned as-is.
func submitAndConfirm(ctx context.Context, lc ledger.Client, cb *utils.CircuitBreaker, retries int, delay time.Duration, stx ledger.SignedTransaction) (ledger.Receipt, error) {
	var txID string
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ledger.Receipt{}, ctx.Err()
			case <-time.After(delay * time.Duration(attempt)):
			}
		}
		result, err := cb.Execute(ctx, func() (interface{}, error) {
			return lc.Submit(ctx, stx)
		})
		if err == nil {
			txID = result.(string)
			lastErr = nil
			break
		}
		lastErr = err
		if !status.IsTransient(err) && !errors.Is(err, utils.ErrBreakerOpen) {
			return ledger.Receipt{}, err
		}
	}
	if lastErr != nil {
		return ledger.Receipt{}, fmt.Errorf("submission retries exhausted: %w", lastErr)
	}
	return lc.WaitForConfirmation(ctx, txID)
}

func publishToUser(pn *pubnub.PubNub, userID string, payload map[string]any) {
	if pn == nil || userID == "" {
		return
	}
	channel := fmt.Sprintf("user-%s", userID)
	pn.Publish().
		Channel(channel).
		Message(payload).
		Execute()
}
