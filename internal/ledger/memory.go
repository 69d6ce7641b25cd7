package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"mintqueue-system/internal/status"
)

const memoryGenesisID = "mintqueue-local"

// AddressFromPublicKey derives the ledger address for an ed25519 public key.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	sum := blake2b.Sum256(pub)
	return "MQ" + strings.ToUpper(hex.EncodeToString(sum[:20]))
}

// MemoryLedger is an in-process ledger node hosting escrow queue program
// instances. Submitted transactions are verified and applied under one lock,
// which models the chain's linearized transaction ordering. It backs local
// development and every ledger-coupled test.
type MemoryLedger struct {
	now func() time.Time

	mu        sync.Mutex
	round     uint64
	instances map[string]*Program
	receipts  map[string]Receipt
	failNext  int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		now:       time.Now,
		instances: make(map[string]*Program),
		receipts:  make(map[string]Receipt),
	}
}

// SetClock overrides the ledger clock. Tests use it to move past a time
// window without sleeping.
func (l *MemoryLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// FailSubmissions makes the next n submissions fail as node outages, for
// exercising the transient-retry path.
func (l *MemoryLedger) FailSubmissions(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = n
}

func (l *MemoryLedger) SuggestedParams(_ context.Context) (Params, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Params{
		FirstValid: l.round,
		LastValid:  l.round + 1000,
		Fee:        1000,
		GenesisID:  memoryGenesisID,
	}, nil
}

func txID(txn Transaction, round uint64) string {
	sum := blake2b.Sum256(append(txn.Encode(), byte(round), byte(round>>8), byte(round>>16)))
	return strings.ToUpper(hex.EncodeToString(sum[:16]))
}

// Submit verifies the wallet signature and applies the transaction. The
// program's own rejections come back as errors; no receipt is written for a
// rejected transaction.
func (l *MemoryLedger) Submit(_ context.Context, stx SignedTransaction) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failNext > 0 {
		l.failNext--
		return "", status.ErrLedgerUnavailable
	}

	if len(stx.PublicKey) != ed25519.PublicKeySize ||
		!ed25519.Verify(ed25519.PublicKey(stx.PublicKey), stx.Txn.Encode(), stx.Signature) {
		return "", status.ErrBadSignature
	}
	if stx.Txn.Sender != AddressFromPublicKey(ed25519.PublicKey(stx.PublicKey)) {
		return "", status.ErrBadSignature
	}

	l.round++
	id := txID(stx.Txn, l.round)
	receipt := Receipt{TxID: id, Round: l.round, Action: stx.Txn.Action}

	switch stx.Txn.Action {
	case ActionConfigure:
		if stx.Txn.Config == nil {
			return "", fmt.Errorf("configure: %w", status.ErrInvalidCosts)
		}
		instanceID := "mq-" + strings.ToLower(id[:12])
		l.instances[instanceID] = NewProgram(*stx.Txn.Config)
		receipt.InstanceID = instanceID

	case ActionJoin:
		prog, err := l.instance(stx.Txn.Instance)
		if err != nil {
			return "", err
		}
		if err := prog.Join(stx.Txn.Sender, stx.Txn.Amount, l.now()); err != nil {
			return "", err
		}
		receipt.InstanceID = stx.Txn.Instance
		receipt.Cycle = prog.Cycle()
		receipt.Amount = stx.Txn.Amount

	case ActionTrigger:
		prog, err := l.instance(stx.Txn.Instance)
		if err != nil {
			return "", err
		}
		tr, err := prog.Trigger(stx.Txn.Sender, l.now())
		if err != nil {
			return "", err
		}
		receipt.InstanceID = stx.Txn.Instance
		receipt.Cycle = tr.Cycle
		receipt.Trigger = tr

	case ActionRefund:
		prog, err := l.instance(stx.Txn.Instance)
		if err != nil {
			return "", err
		}
		amount, err := prog.Refund(stx.Txn.Sender, l.now())
		if err != nil {
			return "", err
		}
		receipt.InstanceID = stx.Txn.Instance
		receipt.Cycle = prog.Cycle()
		receipt.Amount = amount

	case ActionMint:
		prog, err := l.instance(stx.Txn.Instance)
		if err != nil {
			return "", err
		}
		if err := prog.Mint(stx.Txn.AssetID); err != nil {
			return "", err
		}
		receipt.InstanceID = stx.Txn.Instance

	default:
		return "", fmt.Errorf("unknown action %q", stx.Txn.Action)
	}

	l.receipts[id] = receipt
	return id, nil
}

func (l *MemoryLedger) instance(id string) (*Program, error) {
	prog, ok := l.instances[id]
	if !ok {
		return nil, status.ErrLedgerNotConfigured
	}
	return prog, nil
}

// WaitForConfirmation polls for the receipt. Confirmation is immediate on
// the in-process ledger, so only an unknown id ever waits.
func (l *MemoryLedger) WaitForConfirmation(ctx context.Context, id string) (Receipt, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for attempt := 0; ; attempt++ {
		l.mu.Lock()
		receipt, ok := l.receipts[id]
		l.mu.Unlock()
		if ok {
			return receipt, nil
		}
		if attempt >= 3 {
			return Receipt{}, status.ErrTxnNotFound
		}
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *MemoryLedger) QueueStatus(_ context.Context, instanceID string) (Status, error) {
	l.mu.Lock()
	prog, ok := l.instances[instanceID]
	now := l.now()
	l.mu.Unlock()
	if !ok {
		return Status{}, status.ErrLedgerNotConfigured
	}
	return prog.Status(now), nil
}

// InstanceConfig exposes an instance's immutable config for status reads.
func (l *MemoryLedger) InstanceConfig(instanceID string) (Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prog, ok := l.instances[instanceID]
	if !ok {
		return Config{}, status.ErrLedgerNotConfigured
	}
	return prog.Config(), nil
}
