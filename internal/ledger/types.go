package ledger

import (
	"encoding/json"
	"time"
)

// Action identifies one of the escrow queue program's state-changing
// transactions.
type Action string

const (
	ActionConfigure Action = "configure"
	ActionJoin      Action = "join"
	ActionTrigger   Action = "trigger"
	ActionRefund    Action = "refund"
	ActionMint      Action = "mint"
)

// Config holds the immutable economic parameters fixed at deployment.
// Amounts are in ledger base units.
type Config struct {
	Threshold       uint64        `json:"threshold"`
	BaseCost        uint64        `json:"base_cost"`
	EffectiveCost   uint64        `json:"effective_cost"`
	PlatformAddress string        `json:"platform_address"`
	EscrowAddress   string        `json:"escrow_address"`
	TimeWindow      time.Duration `json:"time_window"`
}

// Status is the read-only queue snapshot. It may be stale by the time a
// follow-up transaction is submitted; the ledger's own acceptance is the
// final authority.
type Status struct {
	QueueCount     uint64    `json:"queue_count"`
	TotalEscrowed  uint64    `json:"total_escrowed"`
	QueueStartTime time.Time `json:"queue_start_time"`
	Cycle          uint64    `json:"cycle"`
	CanTrigger     bool      `json:"can_trigger"`
	CanRefund      bool      `json:"can_refund"`
}

// Params are the suggested transaction parameters a client stamps onto an
// unsigned transaction before handing it to a wallet.
type Params struct {
	FirstValid uint64 `json:"first_valid"`
	LastValid  uint64 `json:"last_valid"`
	Fee        uint64 `json:"fee"`
	GenesisID  string `json:"genesis_id"`
}

// Transaction is an unsigned program call. For joins the escrow payment is
// carried in Amount and moves atomically with the state update.
type Transaction struct {
	Instance   string  `json:"instance"`
	Action     Action  `json:"action"`
	Sender     string  `json:"sender"`
	Amount     uint64  `json:"amount,omitempty"`
	AssetID    string  `json:"asset_id,omitempty"`
	Config     *Config `json:"config,omitempty"`
	FirstValid uint64  `json:"first_valid"`
	LastValid  uint64  `json:"last_valid"`
	Fee        uint64  `json:"fee"`
	GenesisID  string  `json:"genesis_id"`
}

// Encode returns the canonical byte form covered by a wallet signature.
func (t Transaction) Encode() []byte {
	data, _ := json.Marshal(t)
	return data
}

// SignedTransaction pairs a transaction with the wallet signature that
// authorizes it. Signing is never performed server-side for participants.
type SignedTransaction struct {
	Txn       Transaction `json:"txn"`
	Signature []byte      `json:"signature"`
	PublicKey []byte      `json:"public_key"`
}

// Disbursement is one payout line of a settlement: the platform payment at
// effective cost plus each participant's pro-rata discount credit.
type Disbursement struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// TriggerReceipt describes a confirmed settlement.
type TriggerReceipt struct {
	Cycle          uint64         `json:"cycle"`
	Units          uint64         `json:"units"`
	PlatformPayout uint64         `json:"platform_payout"`
	Credits        []Disbursement `json:"credits"`
}

// Receipt is returned once a submitted transaction is confirmed. Cycle is
// the queue cycle the transaction was applied in; mirror records must be
// stamped from it, never from a status read that may already reflect a
// later settlement.
type Receipt struct {
	TxID       string          `json:"tx_id"`
	Round      uint64          `json:"round"`
	Action     Action          `json:"action"`
	InstanceID string          `json:"instance_id,omitempty"`
	Cycle      uint64          `json:"cycle"`
	Amount     uint64          `json:"amount,omitempty"`
	Trigger    *TriggerReceipt `json:"trigger,omitempty"`
}
