package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mintqueue-system/internal/status"
	"mintqueue-system/internal/wallet"
	"mintqueue-system/models"
)

func (e *testEnv) refundService() *RefundService {
	return NewRefundService(e.redisDB, nil, e.ledger, e.store, e.queue, e.cfg)
}

func TestBuildRefund_NamesTheFailedCondition(t *testing.T) {
	env := newTestEnv(t)
	env.deploy(t, "market-1")
	rs := env.refundService()

	alice, err := wallet.NewLocalSigner()
	require.NoError(t, err)

	// Empty queue: there is nothing to refund.
	_, err = rs.BuildRefund(context.Background(), "market-1", alice.Address())
	assert.ErrorIs(t, err, status.ErrNoEscrowToRefund)

	// Escrowed but the window is still open.
	env.join(t, "market-1", "user-alice", alice, []string{"nft-1"})
	_, err = rs.BuildRefund(context.Background(), "market-1", alice.Address())
	assert.ErrorIs(t, err, status.ErrRefundWindowStillOpen)

	// Threshold reached: the queue should be triggered, not refunded.
	bob, err := wallet.NewLocalSigner()
	require.NoError(t, err)
	env.join(t, "market-1", "user-bob", bob, []string{"nft-2"})
	_, err = rs.BuildRefund(context.Background(), "market-1", alice.Address())
	assert.ErrorIs(t, err, status.ErrRefundAfterThresholdMet)
}

func TestSubmitRefund_ReturnsFullEscrow(t *testing.T) {
	env := newTestEnv(t)
	instanceID := env.deploy(t, "market-1")
	rs := env.refundService()

	alice, err := wallet.NewLocalSigner()
	require.NoError(t, err)
	req := env.join(t, "market-1", "user-alice", alice, []string{"nft-1", "nft-2"})

	env.ledger.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	txn, err := rs.BuildRefund(context.Background(), "market-1", alice.Address())
	require.NoError(t, err)
	stx, err := alice.Sign(txn)
	require.NoError(t, err)

	amount, err := rs.SubmitRefund(context.Background(), "market-1", stx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000_000), amount)

	got := env.store.request(t, req.ID)
	assert.Equal(t, models.RequestRefunded, got.Status)

	st, err := env.ledger.QueueStatus(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Zero(t, st.QueueCount)
	assert.Zero(t, st.TotalEscrowed)
}

func TestSubmitRefund_RoundTripAllowsRejoin(t *testing.T) {
	env := newTestEnv(t)
	instanceID := env.deploy(t, "market-1")
	rs := env.refundService()

	alice, err := wallet.NewLocalSigner()
	require.NoError(t, err)
	env.join(t, "market-1", "user-alice", alice, []string{"nft-1"})

	expired := time.Now().Add(2 * time.Hour)
	env.ledger.SetClock(func() time.Time { return expired })

	txn, err := rs.BuildRefund(context.Background(), "market-1", alice.Address())
	require.NoError(t, err)
	stx, err := alice.Sign(txn)
	require.NoError(t, err)
	_, err = rs.SubmitRefund(context.Background(), "market-1", stx)
	require.NoError(t, err)

	// Draining the queue arms a fresh accumulation window right away.
	env.join(t, "market-1", "user-alice", alice, []string{"nft-1"})

	st, err := env.ledger.QueueStatus(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.QueueCount)
	assert.False(t, st.CanRefund)
}

func TestSubmitRefund_DoubleRefundRejected(t *testing.T) {
	env := newTestEnv(t)
	env.deploy(t, "market-1")
	rs := env.refundService()

	alice, err := wallet.NewLocalSigner()
	require.NoError(t, err)
	env.join(t, "market-1", "user-alice", alice, []string{"nft-1"})

	env.ledger.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	txn, err := rs.BuildRefund(context.Background(), "market-1", alice.Address())
	require.NoError(t, err)
	stx, err := alice.Sign(txn)
	require.NoError(t, err)
	_, err = rs.SubmitRefund(context.Background(), "market-1", stx)
	require.NoError(t, err)

	// A replayed refund finds no escrow for the wallet.
	replay, err := env.queue.buildTransaction(context.Background(), txn.Instance, txn.Action, alice.Address())
	require.NoError(t, err)
	replayStx, err := alice.Sign(replay)
	require.NoError(t, err)
	_, err = rs.SubmitRefund(context.Background(), "market-1", replayStx)
	assert.ErrorIs(t, err, status.ErrNoEscrowToRefund)
}
