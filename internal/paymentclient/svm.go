package paymentclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/alecgard/paygate/internal/network"
	"github.com/alecgard/paygate/internal/x402"
)

const (
	svmComputeUnits     uint32 = 6500
	svmComputeUnitPrice uint64 = 1
)

// BlockhashSource returns recent blockhashes; *rpc.Client satisfies it.
type BlockhashSource interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

// SVMSigner signs Solana exact payments as partially signed SPL
// TransferChecked transactions. The facilitator pays the fee and adds the
// fee payer signature.
type SVMSigner struct {
	key       solana.PrivateKey
	networks  *network.Registry
	blockhash BlockhashSource
}

// NewSVMSigner creates a signer from a base58 private key. A nil source
// uses the public RPC endpoint of the payment's network.
func NewSVMSigner(privateKeyBase58 string, networks *network.Registry, source BlockhashSource) (*SVMSigner, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid solana private key: %w", err)
	}
	return &SVMSigner{key: key, networks: networks, blockhash: source}, nil
}

// Address returns the paying public key.
func (s *SVMSigner) Address() string {
	return s.key.PublicKey().String()
}

// Sign builds and partially signs the transfer for req.
func (s *SVMSigner) Sign(ctx context.Context, req x402.PaymentRequirement) (string, error) {
	n, err := s.networks.Get(req.Network)
	if err != nil {
		return "", err
	}
	if n.Kind != network.KindSVM {
		return "", fmt.Errorf("network %s is not a solana network", req.Network)
	}
	if req.Scheme != x402.SchemeExact {
		return "", fmt.Errorf("unsupported scheme %q", req.Scheme)
	}
	amount, err := strconv.ParseUint(req.MaxAmountRequired, 10, 64)
	if err != nil || amount == 0 {
		return "", fmt.Errorf("invalid amount %q", req.MaxAmountRequired)
	}
	asset := req.Asset
	if asset == "" {
		asset = n.Asset.Address
	}
	mint, err := solana.PublicKeyFromBase58(asset)
	if err != nil {
		return "", fmt.Errorf("invalid mint %q: %w", asset, err)
	}
	payTo, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return "", fmt.Errorf("invalid payee address %q: %w", req.PayTo, err)
	}
	feePayerAddr := req.ExtraString("feePayer", "")
	if feePayerAddr == "" {
		return "", fmt.Errorf("feePayer is required in the requirement's extra for solana payments")
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return "", fmt.Errorf("invalid feePayer %q: %w", feePayerAddr, err)
	}

	owner := s.key.PublicKey()
	source, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return "", fmt.Errorf("deriving source token account: %w", err)
	}
	destination, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return "", fmt.Errorf("deriving destination token account: %w", err)
	}

	recent, err := s.source(req.Network).GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("fetching blockhash: %w", err)
	}

	limit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(svmComputeUnits).
		ValidateAndBuild()
	if err != nil {
		return "", fmt.Errorf("building compute limit: %w", err)
	}
	price, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(svmComputeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return "", fmt.Errorf("building compute price: %w", err)
	}
	transfer, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(uint8(n.Asset.Decimals)).
		SetSourceAccount(source).
		SetMintAccount(mint).
		SetDestinationAccount(destination).
		SetOwnerAccount(owner).
		ValidateAndBuild()
	if err != nil {
		return "", fmt.Errorf("building transfer: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{limit, price, transfer},
		recent.Value.Blockhash,
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		return "", fmt.Errorf("building transaction: %w", err)
	}
	if _, err := tx.PartialSign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(owner) {
			return &s.key
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("signing transaction: %w", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encoding transaction: %w", err)
	}

	payload, err := json.Marshal(x402.SVMPayload{Transaction: base64.StdEncoding.EncodeToString(raw)})
	if err != nil {
		return "", fmt.Errorf("encoding svm payload: %w", err)
	}
	return x402.EncodeToken(&x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload:     payload,
	})
}

func (s *SVMSigner) source(networkID string) BlockhashSource {
	if s.blockhash != nil {
		return s.blockhash
	}
	if networkID == "solana-devnet" {
		return rpc.New(rpc.DevNet_RPC)
	}
	return rpc.New(rpc.MainNetBeta_RPC)
}
