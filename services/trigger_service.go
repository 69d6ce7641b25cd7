package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
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

// Minter performs one asset mint. Implementations must return
// status.ErrAlreadyMinted for the semantic duplicate case so the fan-out
// knows not to retry it.
type Minter interface {
	Mint(ctx context.Context, instanceID, assetID string) (string, error)
}

// LedgerMinter mints assets through operator-signed ledger transactions.
type LedgerMinter struct {
	Ledger   ledger.Client
	Operator wallet.Signer
}

func (m *LedgerMinter) Mint(ctx context.Context, instanceID, assetID string) (string, error) {
	params, err := m.Ledger.SuggestedParams(ctx)
	if err != nil {
		return "", err
	}
	txn := ledger.Transaction{
		Instance:   instanceID,
		Action:     ledger.ActionMint,
		Sender:     m.Operator.Address(),
		AssetID:    assetID,
		FirstValid: params.FirstValid,
		LastValid:  params.LastValid,
		Fee:        params.Fee,
		GenesisID:  params.GenesisID,
	}
	stx, err := m.Operator.Sign(txn)
	if err != nil {
		return "", err
	}
	txID, err := m.Ledger.Submit(ctx, stx)
	if err != nil {
		return "", err
	}
	if _, err := m.Ledger.WaitForConfirmation(ctx, txID); err != nil {
		return "", err
	}
	return txID, nil
}

// TriggerService decides whether a trigger is legal, submits it and runs the
// batch mint fan-out after ledger confirmation. It must tolerate a
// concurrent instance racing it: the ledger picks the winner, the loser
// no-ops.
type TriggerService struct {
	Redis  *redis.Client
	PubNub *pubnub.PubNub
	Ledger ledger.Client
	Store  MirrorStore
	Minter Minter
	Config *config.Config

	queue   *QueueService
	breaker *utils.CircuitBreaker
}

func NewTriggerService(redisClient *redis.Client, pn *pubnub.PubNub, lc ledger.Client, store MirrorStore, minter Minter, queue *QueueService, cfg *config.Config) *TriggerService {
	return &TriggerService{
		Redis:   redisClient,
		PubNub:  pn,
		Ledger:  lc,
		Store:   store,
		Minter:  minter,
		Config:  cfg,
		queue:   queue,
		breaker: utils.NewCircuitBreaker("ledger-submit", 100, 60*time.Second),
	}
}

// BuildTrigger composes the unsigned trigger transaction. Any participant
// may trigger; acceptance is a pure function of queue state. The precheck
// avoids wasting a signature round-trip, nothing more.
func (s *TriggerService) BuildTrigger(ctx context.Context, marketplaceID, walletAddress string) (ledger.Transaction, error) {
	inst, err := s.queue.Instance(ctx, marketplaceID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	st, err := s.queue.RefreshStatus(ctx, inst.InstanceID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if !st.CanTrigger {
		monitoring.TrackOperation("trigger", "rejected")
		if st.QueueCount > 0 && st.CanRefund {
			return ledger.Transaction{}, status.ErrWindowExpired
		}
		return ledger.Transaction{}, status.ErrThresholdNotMet
	}
	return s.queue.buildTransaction(ctx, inst.InstanceID, ledger.ActionTrigger, walletAddress)
}

// ExecuteTrigger submits the signed trigger and, once the ledger confirms
// the settlement, fans out the pending mirrored requests. Fan-out never
// starts before confirmation, so it can never run against an un-escrowed or
// already-settled cycle.
func (s *TriggerService) ExecuteTrigger(ctx context.Context, marketplaceID string, stx ledger.SignedTransaction) (*models.TriggerOutcome, error) {
	inst, err := s.queue.Instance(ctx, marketplaceID)
	if err != nil {
		return nil, err
	}

	receipt, err := submitAndConfirm(ctx, s.Ledger, s.breaker, s.Config.MintRetries, s.Config.MintRetryDelay, stx)
	if err != nil {
		monitoring.TrackOperation("trigger", "error")
		return nil, err
	}
	if receipt.Trigger == nil {
		return nil, fmt.Errorf("trigger receipt missing settlement for tx %s", receipt.TxID)
	}

	if _, err := s.queue.RefreshStatus(ctx, inst.InstanceID); err != nil {
		slog.Warn("status refresh after trigger", "error", err)
	}

	outcome := &models.TriggerOutcome{
		InstanceID:    inst.InstanceID,
		Cycle:         receipt.Trigger.Cycle,
		TxID:          receipt.TxID,
		Success:       true,
		Disbursements: disbursementTable(inst.Config, receipt.Trigger),
	}

	// One fan-out per settled cycle. A racing trigger that lost the ledger
	// ordering, or a duplicate submission of the winner, stops here.
	lockKey := fmt.Sprintf("queue:fanout:%s:%d", inst.InstanceID, receipt.Trigger.Cycle)
	acquired, err := s.Redis.SetNX(ctx, lockKey, receipt.TxID, s.Config.FanoutLockTTL).Result()
	if err != nil {
		// The settlement is already confirmed on the ledger; a failed claim
		// check must not discard it. The rows stay pending and the
		// reconciliation sweep picks the cycle up if nothing else does.
		slog.Error("fan-out claim failed", "instance_id", inst.InstanceID, "cycle", receipt.Trigger.Cycle, "error", err)
		outcome.FanOutPending = true
		return outcome, nil
	}
	if !acquired {
		slog.Info("fan-out already claimed for cycle", "instance_id", inst.InstanceID, "cycle", receipt.Trigger.Cycle)
		return outcome, nil
	}

	requests, err := s.Store.PendingRequests(ctx, inst.InstanceID, receipt.Trigger.Cycle)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		slog.Info("no pending requests remain to mint", "instance_id", inst.InstanceID, "cycle", receipt.Trigger.Cycle)
		monitoring.TrackOperation("trigger", "success")
		return outcome, nil
	}

	results, mintErrs := s.fanOut(ctx, inst.InstanceID, requests)
	outcome.MintResults = results
	outcome.MintErrors = mintErrs

	slog.Info("trigger settled",
		"instance_id", inst.InstanceID,
		"cycle", receipt.Trigger.Cycle,
		"requests", len(requests),
		"minted", len(results),
		"failed", len(mintErrs),
	)
	monitoring.TrackOperation("trigger", "success")
	return outcome, nil
}

// fanOut mints every pending request with bounded concurrency. Each request
// is independent: one failure is recorded and does not block or roll back
// sibling mints. Assets inside one request mint sequentially.
func (s *TriggerService) fanOut(ctx context.Context, instanceID string, requests []*models.QueueRequest) ([]models.MintResult, []models.MintError) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		results  []models.MintResult
		mintErrs []models.MintError
	)
	sem := make(chan struct{}, s.Config.MintWorkers)

	for _, req := range requests {
		if err := s.Store.SetRequestStatus(ctx, req.ID, models.RequestProcessing, ""); err != nil {
			// Left pending; the reconciliation sweep fails the row once
			// its cycle is behind the ledger.
			slog.Error("mark request processing", "request_id", req.ID, "error", err)
			continue
		}

		wg.Add(1)
		go func(req *models.QueueRequest) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var requestErrs []models.MintError
			for _, assetID := range req.NFTIDs {
				start := time.Now()
				txID, err := s.mintWithRetry(ctx, instanceID, assetID)
				if err != nil {
					monitoring.TrackMint(instanceID, "failed", time.Since(start))
					requestErrs = append(requestErrs, models.MintError{
						RequestID: req.ID,
						NFTID:     assetID,
						Reason:    err.Error(),
					})
					continue
				}
				monitoring.TrackMint(instanceID, "minted", time.Since(start))
				mu.Lock()
				results = append(results, models.MintResult{RequestID: req.ID, NFTID: assetID, TxID: txID})
				mu.Unlock()
			}

			finalStatus := models.RequestMinted
			errMsg := ""
			if len(requestErrs) > 0 {
				finalStatus = models.RequestFailed
				errMsg = requestErrs[0].Reason
				mu.Lock()
				mintErrs = append(mintErrs, requestErrs...)
				mu.Unlock()
			}
			if err := s.Store.SetRequestStatus(ctx, req.ID, finalStatus, errMsg); err != nil {
				slog.Error("finalize request", "request_id", req.ID, "error", err)
			}

			publishToUser(s.PubNub, req.UserID, map[string]any{
				"type":       "mint_result",
				"request_id": req.ID,
				"status":     string(finalStatus),
				"errors":     len(requestErrs),
			})
		}(req)
	}

	wg.Wait()
	return results, mintErrs
}

// mintWithRetry retries transient submission failures with backoff and a
// per-asset timeout. Semantic failures such as an already minted asset are
// never retried.
func (s *TriggerService) mintWithRetry(ctx context.Context, instanceID, assetID string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.Config.MintRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(s.Config.MintRetryDelay * time.Duration(attempt)):
			}
		}
		mintCtx, cancel := context.WithTimeout(ctx, s.Config.MintTimeout)
		txID, err := s.Minter.Mint(mintCtx, instanceID, assetID)
		cancel()
		if err == nil {
			return txID, nil
		}
		lastErr = err
		if !status.IsTransient(err) && !errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
	}
	return "", fmt.Errorf("mint retries exhausted for asset %s: %w", assetID, lastErr)
}

func disbursementTable(cfg ledger.Config, tr *ledger.TriggerReceipt) map[string]string {
	table := make(map[string]string, len(tr.Credits)+1)
	table[cfg.PlatformAddress] = models.FromBaseUnits(tr.PlatformPayout).String()
	for _, credit := range tr.Credits {
		table[credit.Address] = models.FromBaseUnits(credit.Amount).String()
	}
	return table
}
