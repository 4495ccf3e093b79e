package client

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ValidateSignature checks that tx is a base58-encoded Solana transaction
// signature, the identifier the explorer's /solana/tx page expects.
func ValidateSignature(tx string) error {
	if tx == "" {
		return fmt.Errorf("transaction signature is required")
	}
	if len(tx) > 128 {
		return fmt.Errorf("transaction signature too long")
	}
	if _, err := solana.SignatureFromBase58(tx); err != nil {
		return fmt.Errorf("invalid transaction signature: %w", err)
	}
	return nil
}
