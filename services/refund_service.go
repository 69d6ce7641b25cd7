package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"mintqueue-system/config"
	"mintqueue-system/internal/ledger"
	"mintqueue-system/internal/status"
	"mintqueue-system/models"
	"mintqueue-system/monitoring"
	"mintqueue-system/utils"
)

// RefundService handles escrow reclaims once a window expires without a
// settlement. The error from a rejected precheck names the exact failed
// condition so the client can decide whether to wait or to trigger instead.
type RefundService struct {
	Redis  *redis.Client
	PubNub *pubnub.PubNub
	Ledger ledger.Client
	Store  MirrorStore
	Config *config.Config

	queue   *QueueService
	breaker *utils.CircuitBreaker
}

func NewRefundService(redisClient *redis.Client, pn *pubnub.PubNub, lc ledger.Client, store MirrorStore, queue *QueueService, cfg *config.Config) *RefundService {
	return &RefundService{
		Redis:   redisClient,
		PubNub:  pn,
		Ledger:  lc,
		Store:   store,
		Config:  cfg,
		queue:   queue,
		breaker: utils.NewCircuitBreaker("ledger-submit", 100, 60*time.Second),
	}
}

// BuildRefund composes the unsigned refund transaction after checking the
// refund conditions against a fresh status snapshot.
func (s *RefundService) BuildRefund(ctx context.Context, marketplaceID, walletAddress string) (ledger.Transaction, error) {
	inst, err := s.queue.Instance(ctx, marketplaceID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	st, err := s.queue.RefreshStatus(ctx, inst.InstanceID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if !st.CanRefund {
		monitoring.TrackOperation("refund", "rejected")
		if st.CanTrigger {
			return ledger.Transaction{}, status.ErrRefundAfterThresholdMet
		}
		if st.QueueCount == 0 {
			return ledger.Transaction{}, status.ErrNoEscrowToRefund
		}
		return ledger.Transaction{}, status.ErrRefundWindowStillOpen
	}
	return s.queue.buildTransaction(ctx, inst.InstanceID, ledger.ActionRefund, walletAddress)
}

// SubmitRefund broadcasts the signed refund, waits for confirmation and
// marks every mirrored request of that participant in the cycle refunded.
func (s *RefundService) SubmitRefund(ctx context.Context, marketplaceID string, stx ledger.SignedTransaction) (uint64, error) {
	inst, err := s.queue.Instance(ctx, marketplaceID)
	if err != nil {
		return 0, err
	}
	if stx.Txn.Instance != inst.InstanceID {
		return 0, status.ErrLedgerNotConfigured
	}

	receipt, err := submitAndConfirm(ctx, s.Ledger, s.breaker, s.Config.MintRetries, s.Config.MintRetryDelay, stx)
	if err != nil {
		if status.IsRefundRejection(err) {
			monitoring.TrackOperation("refund", "rejected")
		} else {
			monitoring.TrackOperation("refund", "error")
		}
		return 0, err
	}

	if _, err := s.queue.RefreshStatus(ctx, inst.InstanceID); err != nil {
		slog.Warn("status refresh after refund", "error", err)
	}

	// Receipt cycle, not a status re-read: the rows to mark are the ones in
	// the cycle the refund actually drained.
	requests, err := s.Store.ParticipantRequests(ctx, inst.InstanceID, receipt.Cycle, stx.Txn.Sender)
	if err != nil {
		return 0, err
	}
	for _, req := range requests {
		if req.Status != models.RequestPending {
			continue
		}
		if err := s.Store.SetRequestStatus(ctx, req.ID, models.RequestRefunded, ""); err != nil {
			slog.Error("mark request refunded", "request_id", req.ID, "error", err)
		}
		refID, _ := utils.GenerateCode(4)
		publishToUser(s.PubNub, req.UserID, map[string]any{
			"type":       "refund_confirmed",
			"request_id": req.ID,
			"reference":  refID,
			"amount":     models.FromBaseUnits(receipt.Amount).String(),
		})
	}

	participantKey := fmt.Sprintf("queue:participant:%s:%s", inst.InstanceID, stx.Txn.Sender)
	s.Redis.Del(ctx, participantKey)

	slog.Info("refund confirmed", "instance_id", inst.InstanceID, "wallet", stx.Txn.Sender, "amount", receipt.Amount)
	monitoring.TrackOperation("refund", "success")
	return receipt.Amount, nil
}
