package paymentclient

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/alecgard/paygate/internal/x402"
)

// AutoApprove approves every payment, logging the offers it was shown.
func AutoApprove(network string) ConfirmFunc {
	return func(ctx context.Context, accepts []x402.PaymentRequirement) (bool, error) {
		logOffers(accepts, network)
		return true, nil
	}
}

// ApproveUpTo approves a payment when the offer on network costs at most
// limit smallest units. Offers on other networks are ignored; a missing
// offer is approved so the caller reports the unsupported network.
func ApproveUpTo(network string, limit *big.Int) ConfirmFunc {
	return func(ctx context.Context, accepts []x402.PaymentRequirement) (bool, error) {
		logOffers(accepts, network)
		offer, ok := x402.Match(accepts, network)
		if !ok {
			return true, nil
		}
		amount, ok := new(big.Int).SetString(offer.MaxAmountRequired, 10)
		if !ok {
			slog.Warn("refusing payment with malformed amount", "network", network, "amount", offer.MaxAmountRequired)
			return false, nil
		}
		if amount.Cmp(limit) > 0 {
			slog.Warn("refusing payment above limit", "network", network, "amount", amount.String(), "limit", limit.String())
			return false, nil
		}
		return true, nil
	}
}

func logOffers(accepts []x402.PaymentRequirement, network string) {
	for _, a := range accepts {
		slog.Info("payment offer", "network", a.Network, "amount", a.MaxAmountRequired, "description", a.Description)
	}
	slog.Info("paying on network", "network", network)
}
