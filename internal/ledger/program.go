package ledger

import (
	"sync"
	"time"

	"mintqueue-system/internal/status"
)

// Program is the escrow queue state machine. It is the single writer for
// QueueState and every EscrowRecord; all mutations go through the four
// actions under one mutex, which gives concurrent callers the linearizable
// ordering the rest of the system relies on.
type Program struct {
	cfg Config

	mu                sync.Mutex
	queueCount        uint64
	totalEscrowed     uint64
	queueStartTime    time.Time
	cycle             uint64
	settledSinceEmpty bool
	escrows           map[string]uint64
	minted            map[string]bool
}

func NewProgram(cfg Config) *Program {
	return &Program{
		cfg:     cfg,
		escrows: make(map[string]uint64),
		minted:  make(map[string]bool),
	}
}

func (p *Program) Config() Config {
	return p.cfg
}

// Cycle is the current queue cycle number. Receipts carry it so off-chain
// mirror rows key to the cycle their transaction actually landed in.
func (p *Program) Cycle() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycle
}

// thresholdAmount is the escrowed-value target derived from the participant
// count target at base cost.
func (p *Program) thresholdAmount() uint64 {
	return p.cfg.BaseCost * p.cfg.Threshold
}

func (p *Program) thresholdReached() bool {
	return p.totalEscrowed >= p.thresholdAmount() || p.queueCount >= p.cfg.Threshold
}

func (p *Program) windowExpired(now time.Time) bool {
	if p.queueStartTime.IsZero() {
		return false
	}
	return now.After(p.queueStartTime.Add(p.cfg.TimeWindow))
}

// Join escrows amount for participant. The payment moves atomically with
// this state update. Amount is always collected at base cost per asset, so
// it must be a positive multiple of the base cost.
func (p *Program) Join(participant string, amount uint64, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount == 0 {
		return status.ErrInvalidAmount
	}
	if amount%p.cfg.BaseCost != 0 {
		return status.ErrInsufficientPayment
	}
	if p.windowExpired(now) {
		// The cycle must be refunded and restarted before new joins.
		return status.ErrWindowAlreadyExpired
	}

	if p.escrows[participant] == 0 {
		p.queueCount++
	}
	if p.queueStartTime.IsZero() {
		p.queueStartTime = now
		p.settledSinceEmpty = false
	}
	p.escrows[participant] += amount
	p.totalEscrowed += amount
	return nil
}

// Trigger settles the cycle. Any participant may call it; acceptance is a
// pure function of queue state, not of caller identity. On success the
// platform is paid effectiveCost per unit, each participant is credited the
// pro-rata discount surplus, and QueueState resets so a new cycle can begin
// immediately.
func (p *Program) Trigger(caller string, now time.Time) (*TriggerReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queueCount == 0 {
		if p.settledSinceEmpty {
			return nil, status.ErrAlreadyTriggered
		}
		return nil, status.ErrThresholdNotMet
	}
	if !p.thresholdReached() {
		return nil, status.ErrThresholdNotMet
	}
	if p.windowExpired(now) {
		return nil, status.ErrWindowExpired
	}

	units := p.totalEscrowed / p.cfg.BaseCost
	receipt := &TriggerReceipt{
		Cycle:          p.cycle,
		Units:          units,
		PlatformPayout: p.cfg.EffectiveCost * units,
	}
	discount := p.cfg.BaseCost - p.cfg.EffectiveCost
	for addr, escrowed := range p.escrows {
		credit := discount * (escrowed / p.cfg.BaseCost)
		if credit > 0 {
			receipt.Credits = append(receipt.Credits, Disbursement{Address: addr, Amount: credit})
		}
	}

	p.queueCount = 0
	p.totalEscrowed = 0
	p.queueStartTime = time.Time{}
	p.escrows = make(map[string]uint64)
	p.cycle++
	p.settledSinceEmpty = true
	return receipt, nil
}

// Refund returns participant's full escrow once the window has expired
// without a settlement. The error tells the caller exactly which condition
// failed so it can decide whether to wait or to call Trigger instead.
func (p *Program) Refund(participant string, now time.Time) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	amount := p.escrows[participant]
	if amount == 0 {
		return 0, status.ErrNoEscrowToRefund
	}
	if !p.windowExpired(now) {
		if p.thresholdReached() {
			return 0, status.ErrRefundAfterThresholdMet
		}
		return 0, status.ErrRefundWindowStillOpen
	}

	delete(p.escrows, participant)
	p.queueCount--
	p.totalEscrowed -= amount
	if p.queueCount == 0 {
		p.queueStartTime = time.Time{}
	}
	return amount, nil
}

// Mint records one asset mint. Re-minting is the canonical semantic failure
// of a fan-out: isolated, never retried.
func (p *Program) Mint(assetID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.minted[assetID] {
		return status.ErrAlreadyMinted
	}
	p.minted[assetID] = true
	return nil
}

// Status is the read-only snapshot. CanRefund here is the cycle-level
// condition; the per-participant escrow check happens inside Refund.
func (p *Program) Status(now time.Time) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Status{
		QueueCount:     p.queueCount,
		TotalEscrowed:  p.totalEscrowed,
		QueueStartTime: p.queueStartTime,
		Cycle:          p.cycle,
		CanTrigger:     p.queueCount > 0 && p.thresholdReached() && !p.windowExpired(now),
		CanRefund:      p.queueCount > 0 && p.windowExpired(now),
	}
}
