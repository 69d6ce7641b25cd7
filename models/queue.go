package models

import (
	"time"

	"github.com/shopspring/decimal"

	"mintqueue-system/internal/ledger"
)

// RequestStatus tracks a mirrored queue request through its lifecycle.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing"
	RequestRefunded   RequestStatus = "refunded"
	RequestMinted     RequestStatus = "minted"
	RequestFailed     RequestStatus = "failed"
)

// QueueRequest is one mirror-store row: a batch of assets one participant
// wants minted. It is derived state; the escrow ledger owns the money.
type QueueRequest struct {
	ID            string        `json:"id"`
	InstanceID    string        `json:"instance_id"`
	Cycle         uint64        `json:"cycle"`
	MarketplaceID string        `json:"marketplace_id"`
	UserID        string        `json:"user_id"`
	WalletAddress string        `json:"wallet_address"`
	NFTIDs        []string      `json:"nft_ids"`
	Status        RequestStatus `json:"status"`
	TxID          string        `json:"tx_id,omitempty"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// QueueInstance binds a marketplace to its deployed ledger instance. The
// immutable ledger config is mirrored here so join costs survive a cache
// flush; the ledger copy stays authoritative.
type QueueInstance struct {
	ID            string        `json:"id"`
	MarketplaceID string        `json:"marketplace_id"`
	InstanceID    string        `json:"instance_id"`
	Config        ledger.Config `json:"config"`
	Active        bool          `json:"active"`
	CreatedAt     time.Time     `json:"created_at"`
}

// QueueConfigInput is the deploy request body. Costs arrive as decimals and
// are converted to ledger base units before the configure transaction is
// built.
type QueueConfigInput struct {
	MarketplaceID   string          `json:"marketplace_id"`
	Threshold       uint64          `json:"threshold"`
	BaseCost        decimal.Decimal `json:"base_cost"`
	EffectiveCost   decimal.Decimal `json:"effective_cost"`
	PlatformAddress string          `json:"platform_address"`
	EscrowAddress   string          `json:"escrow_address"`
	TimeWindowSecs  int64           `json:"time_window_seconds"`
}

// MintResult records the outcome of one asset mint inside a fan-out.
type MintResult struct {
	RequestID string `json:"request_id"`
	NFTID     string `json:"nft_id"`
	TxID      string `json:"tx_id"`
}

// MintError records one isolated per-asset failure. It never fails the
// overall trigger.
type MintError struct {
	RequestID string `json:"request_id"`
	NFTID     string `json:"nft_id"`
	Reason    string `json:"reason"`
}

// TriggerOutcome is the PUT trigger response: the settlement plus every
// per-asset result collected by the fan-out. FanOutPending marks a confirmed
// settlement whose fan-out could not claim the cycle lock and still needs to
// run (or be reconciled).
type TriggerOutcome struct {
	InstanceID    string            `json:"instance_id"`
	Cycle         uint64            `json:"cycle"`
	TxID          string            `json:"tx_id"`
	Success       bool              `json:"success"`
	FanOutPending bool              `json:"fan_out_pending,omitempty"`
	MintResults   []MintResult      `json:"mint_results"`
	MintErrors    []MintError       `json:"mint_errors"`
	Disbursements map[string]string `json:"disbursements"`
}
