package paymentclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	x402evm "github.com/coinbase/x402/go/mechanisms/evm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alecgard/paygate/internal/network"
	"github.com/alecgard/paygate/internal/x402"
)

// --- Fakes ---

type fixedBlockhash struct {
	hash solana.Hash
	err  error
}

func (f *fixedBlockhash) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: f.hash, LastValidBlockHeight: 100},
	}, nil
}

// --- Helpers ---

func requirementFor(t *testing.T, networkID, payTo string, extra map[string]any) x402.PaymentRequirement {
	t.Helper()
	n, err := network.Default().Get(networkID)
	require.NoError(t, err)
	return x402.Build(x402.Offer{
		Price:        x402.MustParsePrice("0.0015"),
		Recipient:    payTo,
		Resource:     "https://proxy.example/mcp/t1",
		Description:  "weather",
		NetworkExtra: map[string]map[string]any{networkID: extra},
	}, n)
}

func decodePayload(t *testing.T, token string) *x402.PaymentPayload {
	t.Helper()
	p, err := x402.DecodeToken(token)
	require.NoError(t, err)
	return p
}

// --- EVM ---

func TestEVMSignerRecoversToPayer(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := NewEVMSigner("0x"+hex.EncodeToString(crypto.FromECDSA(key)), network.Default())
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), signer.Address())

	req := requirementFor(t, "base-sepolia", "0x209693bc6afc0c5328ba36faf03c514ef312287c", nil)
	before := time.Now().Unix()
	token, err := signer.Sign(context.Background(), req)
	require.NoError(t, err)

	p := decodePayload(t, token)
	assert.Equal(t, "base-sepolia", p.Network)
	assert.Equal(t, x402.SchemeExact, p.Scheme)
	assert.Equal(t, signer.Address(), p.Payer())

	var evm x402.EVMPayload
	require.NoError(t, json.Unmarshal(p.Payload, &evm))
	auth := evm.Authorization
	assert.Equal(t, "1500", auth.Value)
	assert.Equal(t, "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", auth.To)
	assert.Len(t, auth.Nonce, 66)

	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	require.NoError(t, err)
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, before-600, validAfter, 5)
	assert.Equal(t, int64(600+req.MaxTimeoutSeconds), validBefore-validAfter)

	n, _ := network.Default().Get("base-sepolia")
	digest, err := x402evm.HashEIP3009Authorization(x402evm.ExactEIP3009Authorization{
		From:        auth.From,
		To:          auth.To,
		Value:       auth.Value,
		ValidAfter:  auth.ValidAfter,
		ValidBefore: auth.ValidBefore,
		Nonce:       auth.Nonce,
	}, n.ChainID, req.Asset, "USD Coin", "2")
	require.NoError(t, err)

	sig, err := hex.DecodeString(strings.TrimPrefix(evm.Signature, "0x"))
	require.NoError(t, err)
	require.Len(t, sig, 65)
	sig[64] -= 27
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), crypto.PubkeyToAddress(*pub).Hex())
}

func TestEVMSignerRejects(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := NewEVMSigner(hex.EncodeToString(crypto.FromECDSA(key)), network.Default())
	require.NoError(t, err)

	svmReq := requirementFor(t, "solana", "9B5XszUGdMaxCZ7uSQhPzdks5ZQSmWxrmzCSvtJ6Ns6g", nil)
	_, err = signer.Sign(context.Background(), svmReq)
	assert.Error(t, err)

	unknown := requirementFor(t, "base", "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", nil)
	unknown.Network = "fantom"
	_, err = signer.Sign(context.Background(), unknown)
	assert.ErrorIs(t, err, network.ErrUnknownNetwork)

	zero := requirementFor(t, "base", "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", nil)
	zero.MaxAmountRequired = "0"
	_, err = signer.Sign(context.Background(), zero)
	assert.Error(t, err)
}

func TestNewEVMSignerInvalidKey(t *testing.T) {
	_, err := NewEVMSigner("not-a-key", network.Default())
	assert.Error(t, err)
}

// --- SVM ---

func TestSVMSignerBuildsPartiallySignedTransfer(t *testing.T) {
	wallet := solana.NewWallet()
	feePayer := solana.NewWallet().PublicKey()
	source := &fixedBlockhash{hash: solana.MustHashFromBase58("4sGjMW1sUnHzSxGspuhpqLDx6wiyjNtZAMdL4VZHirAn")}

	signer, err := NewSVMSigner(wallet.PrivateKey.String(), network.Default(), source)
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey().String(), signer.Address())

	req := requirementFor(t, "solana-devnet", "9B5XszUGdMaxCZ7uSQhPzdks5ZQSmWxrmzCSvtJ6Ns6g",
		map[string]any{"feePayer": feePayer.String()})
	token, err := signer.Sign(context.Background(), req)
	require.NoError(t, err)

	p := decodePayload(t, token)
	assert.Equal(t, "solana-devnet", p.Network)

	var svm x402.SVMPayload
	require.NoError(t, json.Unmarshal(p.Payload, &svm))
	var tx solana.Transaction
	require.NoError(t, tx.UnmarshalBase64(svm.Transaction))

	assert.Len(t, tx.Message.Instructions, 3)
	require.NotEmpty(t, tx.Message.AccountKeys)
	assert.True(t, tx.Message.AccountKeys[0].Equals(feePayer), "fee payer must be the first account")
	assert.Equal(t, source.hash, tx.Message.RecentBlockhash)

	idx, err := tx.GetAccountIndex(wallet.PublicKey())
	require.NoError(t, err)
	require.Greater(t, len(tx.Signatures), int(idx))
	assert.NotEqual(t, solana.Signature{}, tx.Signatures[idx], "payer signature must be present")
	assert.Equal(t, solana.Signature{}, tx.Signatures[0], "fee payer signature is left to the facilitator")
}

func TestSVMSignerRequiresFeePayer(t *testing.T) {
	wallet := solana.NewWallet()
	signer, err := NewSVMSigner(wallet.PrivateKey.String(), network.Default(), &fixedBlockhash{})
	require.NoError(t, err)

	req := requirementFor(t, "solana", "9B5XszUGdMaxCZ7uSQhPzdks5ZQSmWxrmzCSvtJ6Ns6g", nil)
	_, err = signer.Sign(context.Background(), req)
	assert.ErrorContains(t, err, "feePayer")
}

func TestSVMSignerBlockhashFailure(t *testing.T) {
	wallet := solana.NewWallet()
	boom := errors.New("rpc down")
	signer, err := NewSVMSigner(wallet.PrivateKey.String(), network.Default(), &fixedBlockhash{err: boom})
	require.NoError(t, err)

	req := requirementFor(t, "solana", "9B5XszUGdMaxCZ7uSQhPzdks5ZQSmWxrmzCSvtJ6Ns6g",
		map[string]any{"feePayer": solana.NewWallet().PublicKey().String()})
	_, err = signer.Sign(context.Background(), req)
	assert.ErrorIs(t, err, boom)
}

// --- Wallet service ---

func TestWalletSignerRequest(t *testing.T) {
	var got walletPaymentRequest
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"status":"ok","xPayment":{"x402Version":1,"scheme":"exact","network":"base","payload":{"signature":"0x01"}}}`)
	}))
	defer srv.Close()

	req := requirementFor(t, "base", "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", nil)
	req.MaxTimeoutSeconds = 0
	token, err := NewWalletSigner(srv.URL+"/", "jwt-1", "agent").Sign(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "/api/payment/x402V1Payment", path)
	assert.Equal(t, "Bearer jwt-1", auth)
	assert.Equal(t, "1500", got.Amount)
	assert.Equal(t, "USDC", got.Currency)
	assert.Equal(t, "proxy.example", got.Host)
	assert.Equal(t, "USD Coin", got.TokenName)
	assert.Equal(t, "2", got.TokenVersion)
	assert.Equal(t, 60, got.ValidityWindowSeconds)

	p := decodePayload(t, token)
	assert.Equal(t, "base", p.Network)
}

func TestWalletSignerWholeResponseWithoutXPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"x402Version":1,"scheme":"exact","network":"base","payload":{"signature":"0x02"}}`)
	}))
	defer srv.Close()

	token, err := NewWalletSigner(srv.URL, "jwt", "agent").Sign(context.Background(),
		requirementFor(t, "base", "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", nil))
	require.NoError(t, err)
	assert.Equal(t, "base", decodePayload(t, token).Network)
}

func TestWalletSignerNeedsApproval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"need_approval","approvalUrl":"https://wallet.example/approve/1"}`)
	}))
	defer srv.Close()

	_, err := NewWalletSigner(srv.URL, "jwt", "agent").Sign(context.Background(),
		requirementFor(t, "base", "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", nil))
	require.Error(t, err)
	assert.Equal(t, x402.KindApprovalRequired, x402.KindOf(err))
	assert.Contains(t, err.Error(), "Payment requires approval. Please visit: https://wallet.example/approve/1")
}

func TestWalletSignerAgentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"code":"agent_not_found","message":"agent unknown",
			"payment_model_context":{"instructions":"Agent ID: 0f8fad5b-d9cb-469f-a165-70867728950e is not linked"}}`)
	}))
	defer srv.Close()

	_, err := NewWalletSigner(srv.URL, "jwt", "My Agent").Sign(context.Background(),
		requirementFor(t, "base", "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", nil))
	require.Error(t, err)
	assert.Equal(t, x402.KindPaymentCreation, x402.KindOf(err))
	assert.Contains(t, err.Error(), "Payment failed: agent unknown")
	assert.Contains(t, err.Error(),
		"https://agentwallet.fluxapay.xyz/add-agent?agentId=0f8fad5b-d9cb-469f-a165-70867728950e&name=My%20Agent")
}

func TestWalletSignerPlainFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"message":"database unavailable"}`)
	}))
	defer srv.Close()

	_, err := NewWalletSigner(srv.URL, "jwt", "agent").Sign(context.Background(),
		requirementFor(t, "base", "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", nil))
	require.Error(t, err)
	assert.Empty(t, x402.KindOf(err))
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestResourceHost(t *testing.T) {
	assert.Equal(t, "proxy.example", resourceHost("https://proxy.example:8443/mcp/t1"))
	assert.Equal(t, "weather-server", resourceHost("mcp://weather-server/tools/forecast"))
	assert.Equal(t, "bare", resourceHost("bare/path"))
}
