package paymentclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	x402evm "github.com/coinbase/x402/go/mechanisms/evm"
	evmexact "github.com/coinbase/x402/go/mechanisms/evm/exact/v1/client"
	evmsigner "github.com/coinbase/x402/go/signers/evm"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alecgard/paygate/internal/network"
	"github.com/alecgard/paygate/internal/x402"
)

// EVMSigner signs EIP-3009 TransferWithAuthorization payments with a local
// private key.
type EVMSigner struct {
	signer   x402evm.ClientEvmSigner
	scheme   *evmexact.ExactEvmSchemeV1
	networks *network.Registry
}

// NewEVMSigner creates a signer from a hex private key, with or without the
// 0x prefix.
func NewEVMSigner(privateKeyHex string, networks *network.Registry) (*EVMSigner, error) {
	signer, err := evmsigner.NewClientSignerFromPrivateKey(strings.TrimSpace(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("invalid evm private key: %w", err)
	}
	return &EVMSigner{
		signer:   signer,
		scheme:   evmexact.NewExactEvmSchemeV1(signer),
		networks: networks,
	}, nil
}

// Address returns the checksummed paying address.
func (s *EVMSigner) Address() string {
	return s.signer.Address()
}

// Sign authorizes a transfer of the requirement's full amount to its payee.
func (s *EVMSigner) Sign(ctx context.Context, req x402.PaymentRequirement) (string, error) {
	n, err := s.networks.Get(req.Network)
	if err != nil {
		return "", err
	}
	if n.Kind != network.KindEVM {
		return "", fmt.Errorf("network %s is not an evm network", req.Network)
	}
	if req.Scheme != x402.SchemeExact {
		return "", fmt.Errorf("unsupported scheme %q", req.Scheme)
	}
	value, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok || value.Sign() <= 0 {
		return "", fmt.Errorf("invalid amount %q", req.MaxAmountRequired)
	}
	if !common.IsHexAddress(req.PayTo) {
		return "", fmt.Errorf("invalid payee address %q", req.PayTo)
	}

	// The token domain comes from the registry unless the server overrides it.
	signed := req
	signed.PayTo = common.HexToAddress(req.PayTo).Hex()
	if signed.MaxTimeoutSeconds <= 0 {
		signed.MaxTimeoutSeconds = x402.DefaultMaxTimeoutSeconds
	}
	if signed.Asset == "" {
		signed.Asset = n.Asset.Address
	}
	signed.Extra = map[string]any{
		"name":    req.ExtraString("name", n.Asset.Name),
		"version": req.ExtraString("version", n.Asset.Version),
	}

	v1, err := signed.V1()
	if err != nil {
		return "", err
	}
	// The scheme resolves chain ids from CAIP-2 names only.
	v1.Network = fmt.Sprintf("eip155:%s", n.ChainID)

	out, err := s.scheme.CreatePaymentPayload(ctx, v1)
	if err != nil {
		return "", fmt.Errorf("signing authorization: %w", err)
	}
	out.Network = req.Network

	payload, err := x402.PayloadFromV1(out)
	if err != nil {
		return "", err
	}
	return x402.EncodeToken(payload)
}
