package x402

import "github.com/alecgard/paygate/internal/network"

// Offer is the per-tool input to the requirement builder.
type Offer struct {
	Price       Price
	Recipient   string
	Resource    string
	Description string
	// MaxTimeoutSeconds defaults to DefaultMaxTimeoutSeconds when zero.
	MaxTimeoutSeconds int
	// NetworkExtra is merged into the extra block of the matching network,
	// e.g. the facilitator's Solana fee payer.
	NetworkExtra map[string]map[string]any
}

// Build returns the payment requirement for one network. The amount is
// floor(price × 10^decimals); a price below the asset's smallest unit yields
// "0" and is left for tool configuration validation to reject.
func Build(o Offer, n network.Network) PaymentRequirement {
	timeout := o.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultMaxTimeoutSeconds
	}
	extra := make(map[string]any, 2+len(o.NetworkExtra[n.ID]))
	for k, v := range o.NetworkExtra[n.ID] {
		extra[k] = v
	}
	extra["name"] = n.Asset.Name
	extra["version"] = n.Asset.Version

	return PaymentRequirement{
		Scheme:            SchemeExact,
		Network:           n.ID,
		MaxAmountRequired: o.Price.SmallestUnits(n.Asset.Decimals).String(),
		PayTo:             o.Recipient,
		Asset:             n.Asset.Address,
		MaxTimeoutSeconds: timeout,
		Resource:          o.Resource,
		MimeType:          MimeTypeJSON,
		Description:       o.Description,
		Extra:             extra,
	}
}

// Accepts builds one requirement per network in registry order.
func Accepts(o Offer, reg *network.Registry) []PaymentRequirement {
	nets := reg.Networks()
	out := make([]PaymentRequirement, 0, len(nets))
	for _, n := range nets {
		out = append(out, Build(o, n))
	}
	return out
}

// Match returns the requirement whose network equals networkID.
func Match(accepts []PaymentRequirement, networkID string) (PaymentRequirement, bool) {
	for _, r := range accepts {
		if r.Network == networkID {
			return r, true
		}
	}
	return PaymentRequirement{}, false
}

// ToolAnnotations is the payment block added to priced tools in tools/list.
type ToolAnnotations struct {
	PaymentHint     bool                `json:"paymentHint"`
	PaymentPriceUSD Price               `json:"paymentPriceUSD"`
	PaymentNetworks []NetworkAnnotation `json:"paymentNetworks"`
	PaymentVersion  int                 `json:"paymentVersion"`
}

// NetworkAnnotation describes one network a priced tool can be paid on.
type NetworkAnnotation struct {
	Network           string          `json:"network"`
	Recipient         string          `json:"recipient"`
	MaxAmountRequired string          `json:"maxAmountRequired"`
	Asset             AssetAnnotation `json:"asset"`
	Type              string          `json:"type"`
}

// AssetAnnotation is the asset part of a NetworkAnnotation.
type AssetAnnotation struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol"`
}

// Annotate returns the tools/list payment block for a priced tool.
func Annotate(price Price, recipient string, reg *network.Registry) ToolAnnotations {
	nets := reg.Networks()
	ann := ToolAnnotations{
		PaymentHint:     true,
		PaymentPriceUSD: price,
		PaymentNetworks: make([]NetworkAnnotation, 0, len(nets)),
		PaymentVersion:  Version,
	}
	for _, n := range nets {
		ann.PaymentNetworks = append(ann.PaymentNetworks, NetworkAnnotation{
			Network:           n.ID,
			Recipient:         recipient,
			MaxAmountRequired: price.SmallestUnits(n.Asset.Decimals).String(),
			Asset: AssetAnnotation{
				Address:  n.Asset.Address,
				Decimals: n.Asset.Decimals,
				Symbol:   n.Asset.Symbol,
			},
			Type: n.Kind.String(),
		})
	}
	return ann
}
