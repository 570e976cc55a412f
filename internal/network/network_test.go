package network

import (
	"errors"
	"testing"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	if r.Len() != 10 {
		t.Fatalf("expected 10 builtin networks, got %d", r.Len())
	}

	ids := r.IDs()
	if ids[0] != "base-sepolia" || ids[1] != "base" {
		t.Errorf("unexpected leading order: %v", ids[:2])
	}
	if ids[len(ids)-1] != "solana-devnet" {
		t.Errorf("expected solana-devnet last, got %s", ids[len(ids)-1])
	}

	base, ok := r.Lookup("base")
	if !ok {
		t.Fatal("base not found")
	}
	if base.Kind != KindEVM {
		t.Errorf("expected evm, got %s", base.Kind)
	}
	if base.ChainID.Int64() != 8453 {
		t.Errorf("expected chain id 8453, got %s", base.ChainID)
	}
	if base.Asset.Decimals != 6 {
		t.Errorf("expected 6 decimals, got %d", base.Asset.Decimals)
	}

	sol, ok := r.Lookup("solana")
	if !ok {
		t.Fatal("solana not found")
	}
	if sol.Kind != KindSVM {
		t.Errorf("expected svm, got %s", sol.Kind)
	}
	if sol.ChainID != nil {
		t.Errorf("expected nil chain id for svm, got %s", sol.ChainID)
	}
	if sol.Asset.Version != "1" {
		t.Errorf("expected version 1, got %s", sol.Asset.Version)
	}
}

func TestLookupUnknown(t *testing.T) {
	r := Default()

	if _, ok := r.Lookup("ethereum-classic"); ok {
		t.Fatal("expected lookup miss")
	}
	_, err := r.Get("ethereum-classic")
	if !errors.Is(err, ErrUnknownNetwork) {
		t.Fatalf("expected ErrUnknownNetwork, got %v", err)
	}
}

func TestNetworksReturnsCopy(t *testing.T) {
	r := Default()
	nets := r.Networks()
	nets[0].ID = "mutated"

	if r.Networks()[0].ID != "base-sepolia" {
		t.Fatal("registry was mutated through Networks()")
	}
}

func TestSubsetKeepsRegistryOrder(t *testing.T) {
	sub, err := Default().Subset([]string{"solana", "base"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := sub.IDs()
	if len(ids) != 2 || ids[0] != "base" || ids[1] != "solana" {
		t.Fatalf("unexpected subset: %v", ids)
	}

	if _, err := Default().Subset([]string{"base", "nope"}); !errors.Is(err, ErrUnknownNetwork) {
		t.Fatalf("expected ErrUnknownNetwork, got %v", err)
	}

	same, err := Default().Subset(nil)
	if err != nil || same != Default() {
		t.Fatal("empty subset should return the receiver")
	}
}

func TestNewValidation(t *testing.T) {
	valid := Builtin()[0]

	tests := []struct {
		name string
		nets []Network
	}{
		{"missing id", []Network{{Kind: KindEVM}}},
		{"duplicate", []Network{valid, valid}},
		{"bad evm asset", []Network{{ID: "x", Kind: KindEVM, ChainID: valid.ChainID, Asset: Asset{Address: "not-hex", Decimals: 6}}}},
		{"evm without chain id", []Network{{ID: "x", Kind: KindEVM, Asset: valid.Asset}}},
		{"bad svm mint", []Network{{ID: "x", Kind: KindSVM, Asset: Asset{Address: "0xabc", Decimals: 6}}}},
		{"unknown kind", []Network{{ID: "x", Asset: Asset{Address: "abc"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.nets...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	if err := KindEVM.ValidateAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"); err != nil {
		t.Errorf("expected valid evm address: %v", err)
	}
	if err := KindEVM.ValidateAddress("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"); err == nil {
		t.Error("expected base58 to be rejected for evm")
	}
	if err := KindSVM.ValidateAddress("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"); err != nil {
		t.Errorf("expected valid solana address: %v", err)
	}
	if err := KindSVM.ValidateAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"); err == nil {
		t.Error("expected hex to be rejected for svm")
	}
}

func TestMinUnit(t *testing.T) {
	base, _ := Default().Lookup("base")
	if got := base.MinUnit().FloatString(6); got != "0.000001" {
		t.Fatalf("expected 0.000001, got %s", got)
	}
}
