package network

import "math/big"

const usdcDecimals = 6

func evmUSDC(id string, chainID int64, testnet bool, address, name string) Network {
	return Network{
		ID:      id,
		Kind:    KindEVM,
		ChainID: big.NewInt(chainID),
		Testnet: testnet,
		Asset: Asset{
			Address:  address,
			Symbol:   "USDC",
			Decimals: usdcDecimals,
			Name:     name,
			Version:  "2",
		},
	}
}

func svmUSDC(id string, testnet bool, mint string) Network {
	return Network{
		ID:      id,
		Kind:    KindSVM,
		Testnet: testnet,
		Asset: Asset{
			Address:  mint,
			Symbol:   "USDC",
			Decimals: usdcDecimals,
			Name:     "USD Coin",
			Version:  "1",
		},
	}
}

// Builtin returns the networks the proxy supports out of the box, in the
// order they are offered to clients.
func Builtin() []Network {
	return []Network{
		evmUSDC("base-sepolia", 84532, true, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", "USD Coin"),
		evmUSDC("base", 8453, false, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USD Coin"),
		evmUSDC("avalanche-fuji", 43113, true, "0x5425890298aed601595a70AB815c96711a31Bc65", "USD Coin"),
		evmUSDC("avalanche", 43114, false, "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", "USDC"),
		evmUSDC("iotex", 4689, false, "0xcdf79194c6c285077a58da47641d4dbe51f63542", "USD Coin"),
		evmUSDC("sei", 1329, false, "0xe15fc38f6d8c56af07bbcbe3baf5708a2bf42392", "USD Coin"),
		evmUSDC("sei-testnet", 1328, true, "0x4fcf1784b31630811181f670aea7a7bef803eaed", "USD Coin"),
		evmUSDC("polygon-amoy", 80002, true, "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", "USD Coin"),
		svmUSDC("solana", false, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		svmUSDC("solana-devnet", true, "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"),
	}
}

var defaultRegistry = mustNew(Builtin()...)

// Default returns the registry built from Builtin. It is shared and read-only.
func Default() *Registry {
	return defaultRegistry
}

func mustNew(networks ...Network) *Registry {
	r, err := New(networks...)
	if err != nil {
		panic(err)
	}
	return r
}
