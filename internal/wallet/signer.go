package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"mintqueue-system/internal/ledger"
)

// Signer produces wallet signatures. Participant signing always happens in
// the participant's own wallet; the server only ever signs with its operator
// account (configure and mint transactions).
type Signer interface {
	Address() string
	Sign(txn ledger.Transaction) (ledger.SignedTransaction, error)
}

// LocalSigner is an in-process ed25519 wallet.
type LocalSigner struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func NewLocalSigner() (*LocalSigner, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{priv: priv, pub: pub}, nil
}

// NewLocalSignerFromSeed restores a signer from a hex-encoded 32-byte seed,
// as configured for the operator account.
func NewLocalSignerFromSeed(hexSeed string) (*LocalSigner, error) {
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("decode operator seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("operator seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &LocalSigner{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

func (s *LocalSigner) Address() string {
	return ledger.AddressFromPublicKey(s.pub)
}

func (s *LocalSigner) Sign(txn ledger.Transaction) (ledger.SignedTransaction, error) {
	if txn.Sender != s.Address() {
		return ledger.SignedTransaction{}, fmt.Errorf("transaction sender %s does not match wallet %s", txn.Sender, s.Address())
	}
	return ledger.SignedTransaction{
		Txn:       txn,
		Signature: ed25519.Sign(s.priv, txn.Encode()),
		PublicKey: append([]byte(nil), s.pub...),
	}, nil
}
