package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mintqueue-system/internal/ledger"
	"mintqueue-system/internal/status"
	"mintqueue-system/internal/wallet"
)

func newSigner(t *testing.T) *wallet.LocalSigner {
	t.Helper()
	signer, err := wallet.NewLocalSigner()
	require.NoError(t, err)
	return signer
}

func buildTxn(t *testing.T, l *ledger.MemoryLedger, instance string, action ledger.Action, signer *wallet.LocalSigner) ledger.Transaction {
	t.Helper()
	params, err := l.SuggestedParams(context.Background())
	require.NoError(t, err)
	return ledger.Transaction{
		Instance:   instance,
		Action:     action,
		Sender:     signer.Address(),
		FirstValid: params.FirstValid,
		LastValid:  params.LastValid,
		Fee:        params.Fee,
		GenesisID:  params.GenesisID,
	}
}

func deployInstance(t *testing.T, l *ledger.MemoryLedger, operator *wallet.LocalSigner) string {
	t.Helper()
	txn := buildTxn(t, l, "", ledger.ActionConfigure, operator)
	txn.Config = &ledger.Config{
		Threshold:       2,
		BaseCost:        10,
		EffectiveCost:   7,
		PlatformAddress: "MQPLATFORM",
		EscrowAddress:   "MQESCROW",
		TimeWindow:      time.Hour,
	}
	stx, err := operator.Sign(txn)
	require.NoError(t, err)

	txID, err := l.Submit(context.Background(), stx)
	require.NoError(t, err)

	receipt, err := l.WaitForConfirmation(context.Background(), txID)
	require.NoError(t, err)
	require.NotEmpty(t, receipt.InstanceID)
	return receipt.InstanceID
}

func TestMemoryLedger_ConfigureAndJoin(t *testing.T) {
	l := ledger.NewMemoryLedger()
	operator := newSigner(t)
	alice := newSigner(t)

	instanceID := deployInstance(t, l, operator)

	join := buildTxn(t, l, instanceID, ledger.ActionJoin, alice)
	join.Amount = 10
	stx, err := alice.Sign(join)
	require.NoError(t, err)

	txID, err := l.Submit(context.Background(), stx)
	require.NoError(t, err)
	receipt, err := l.WaitForConfirmation(context.Background(), txID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), receipt.Amount)
	assert.Equal(t, uint64(0), receipt.Cycle)

	st, err := l.QueueStatus(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.QueueCount)
	assert.Equal(t, uint64(10), st.TotalEscrowed)
}

func TestMemoryLedger_RejectsBadSignature(t *testing.T) {
	l := ledger.NewMemoryLedger()
	operator := newSigner(t)
	alice := newSigner(t)
	mallory := newSigner(t)

	instanceID := deployInstance(t, l, operator)

	join := buildTxn(t, l, instanceID, ledger.ActionJoin, alice)
	join.Amount = 10
	stx, err := alice.Sign(join)
	require.NoError(t, err)

	// Tampered payload.
	tampered := stx
	tampered.Txn.Amount = 20
	_, err = l.Submit(context.Background(), tampered)
	assert.ErrorIs(t, err, status.ErrBadSignature)

	// Mallory cannot sign for alice's address.
	forged := join
	_, err = mallory.Sign(forged)
	assert.Error(t, err)
}

func TestMemoryLedger_TriggerFlow(t *testing.T) {
	l := ledger.NewMemoryLedger()
	operator := newSigner(t)
	alice := newSigner(t)
	bob := newSigner(t)

	instanceID := deployInstance(t, l, operator)

	for _, signer := range []*wallet.LocalSigner{alice, bob} {
		join := buildTxn(t, l, instanceID, ledger.ActionJoin, signer)
		join.Amount = 10
		stx, err := signer.Sign(join)
		require.NoError(t, err)
		_, err = l.Submit(context.Background(), stx)
		require.NoError(t, err)
	}

	trigger := buildTxn(t, l, instanceID, ledger.ActionTrigger, bob)
	stx, err := bob.Sign(trigger)
	require.NoError(t, err)

	txID, err := l.Submit(context.Background(), stx)
	require.NoError(t, err)
	receipt, err := l.WaitForConfirmation(context.Background(), txID)
	require.NoError(t, err)
	require.NotNil(t, receipt.Trigger)
	assert.Equal(t, uint64(0), receipt.Cycle)
	assert.Equal(t, uint64(2), receipt.Trigger.Units)
	assert.Equal(t, uint64(14), receipt.Trigger.PlatformPayout)

	// The racing second trigger observes the settled queue.
	second := buildTxn(t, l, instanceID, ledger.ActionTrigger, alice)
	stx, err = alice.Sign(second)
	require.NoError(t, err)
	_, err = l.Submit(context.Background(), stx)
	assert.ErrorIs(t, err, status.ErrAlreadyTriggered)
}

func TestMemoryLedger_MintTracksAssets(t *testing.T) {
	l := ledger.NewMemoryLedger()
	operator := newSigner(t)

	instanceID := deployInstance(t, l, operator)

	mint := buildTxn(t, l, instanceID, ledger.ActionMint, operator)
	mint.AssetID = "nft-1"
	stx, err := operator.Sign(mint)
	require.NoError(t, err)
	_, err = l.Submit(context.Background(), stx)
	require.NoError(t, err)

	dup := buildTxn(t, l, instanceID, ledger.ActionMint, operator)
	dup.AssetID = "nft-1"
	stx, err = operator.Sign(dup)
	require.NoError(t, err)
	_, err = l.Submit(context.Background(), stx)
	assert.ErrorIs(t, err, status.ErrAlreadyMinted)
}

func TestMemoryLedger_UnknownInstance(t *testing.T) {
	l := ledger.NewMemoryLedger()
	alice := newSigner(t)

	join := buildTxn(t, l, "mq-missing", ledger.ActionJoin, alice)
	join.Amount = 10
	stx, err := alice.Sign(join)
	require.NoError(t, err)

	_, err = l.Submit(context.Background(), stx)
	assert.ErrorIs(t, err, status.ErrLedgerNotConfigured)

	_, err = l.QueueStatus(context.Background(), "mq-missing")
	assert.ErrorIs(t, err, status.ErrLedgerNotConfigured)
}

func TestMemoryLedger_UnknownTxn(t *testing.T) {
	l := ledger.NewMemoryLedger()

	_, err := l.WaitForConfirmation(context.Background(), "DEADBEEF")
	assert.ErrorIs(t, err, status.ErrTxnNotFound)
}

func TestMemoryLedger_TransientFailures(t *testing.T) {
	l := ledger.NewMemoryLedger()
	operator := newSigner(t)

	l.FailSubmissions(1)

	txn := buildTxn(t, l, "", ledger.ActionConfigure, operator)
	txn.Config = &ledger.Config{
		Threshold:       1,
		BaseCost:        10,
		EffectiveCost:   7,
		PlatformAddress: "MQPLATFORM",
		EscrowAddress:   "MQESCROW",
		TimeWindow:      time.Hour,
	}
	stx, err := operator.Sign(txn)
	require.NoError(t, err)

	_, err = l.Submit(context.Background(), stx)
	assert.ErrorIs(t, err, status.ErrLedgerUnavailable)

	// Next submission goes through.
	_, err = l.Submit(context.Background(), stx)
	require.NoError(t, err)
}
