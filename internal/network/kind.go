package network

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// Kind is the address and signing family of a network.
type Kind int

const (
	KindEVM Kind = iota + 1
	KindSVM
)

func (k Kind) String() string {
	switch k {
	case KindEVM:
		return "evm"
	case KindSVM:
		return "svm"
	default:
		return "unknown"
	}
}

// ValidateAddress checks that addr is well formed for this kind: 0x-prefixed
// hex for EVM, a base58 ed25519 public key for SVM.
func (k Kind) ValidateAddress(addr string) error {
	switch k {
	case KindEVM:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid evm address %q", addr)
		}
		return nil
	case KindSVM:
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return fmt.Errorf("invalid solana address %q: %w", addr, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported network kind %d", int(k))
	}
}
