package game

import (
	"errors"
	"testing"

	"colonywars/internal/ledger"
)

func TestValidateAllianceName(t *testing.T) {
	valid := map[string]string{
		"Iron Pact":        "Iron Pact",
		"  north   wind  ": "north wind",
		"red_dawn-7":       "red_dawn-7",
		"abc":              "abc",
	}
	for in, want := range valid {
		got, err := ValidateAllianceName(in)
		if err != nil {
			t.Fatalf("expected name %q to be valid: %v", in, err)
		}
		if got != want {
			t.Fatalf("ValidateAllianceName(%q) = %q, want %q", in, got, want)
		}
	}

	invalid := []string{"", "ab", "  a  ", "bad!name", "this alliance name is far too long"}
	for _, s := range invalid {
		if _, err := ValidateAllianceName(s); !errors.Is(err, ErrInvalidAllianceName) {
			t.Fatalf("expected name %q to fail, got %v", s, err)
		}
	}
}

func TestParseFeeTypeRejectsUnknownKeys(t *testing.T) {
	f, err := ParseFeeType("territory_claim")
	if err != nil || f != ledger.FeeTerritoryClaim {
		t.Fatalf("territory_claim parsed to %v, %v", f, err)
	}
	if _, err := ParseFeeType("trading_fee"); !errors.Is(err, ErrUnknownFeeType) {
		t.Fatalf("expected ErrUnknownFeeType, got %v", err)
	}
}

func TestForgivenessThreshold(t *testing.T) {
	tests := []struct {
		members int
		want    int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 3},
		{4, 3},
		{5, 4},
		{8, 6},
	}
	for _, tc := range tests {
		if got := ForgivenessThreshold(tc.members); got != tc.want {
			t.Fatalf("ForgivenessThreshold(%d) = %d, want %d", tc.members, got, tc.want)
		}
	}
}

func TestWithdrawalPenalty(t *testing.T) {
	tests := []struct {
		stake       int64
		territories int
		want        int64
	}{
		{1000, 0, 500},
		{1000, 2, 600},
		{1000, 5, 750},
		{1000, 20, 750},
		{0, 3, 0},
	}
	for _, tc := range tests {
		if got := WithdrawalPenalty(tc.stake, tc.territories); got != tc.want {
			t.Fatalf("WithdrawalPenalty(%d, %d) = %d, want %d", tc.stake, tc.territories, got, tc.want)
		}
	}
}

func TestSynergyBonus(t *testing.T) {
	full := []int{100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100}
	tests := []struct {
		name                       string
		territory, infra, resource int
		charges                    []int
		want                       int
	}{
		{"empty", 0, 0, 0, nil, 0},
		{"one of each", 1, 1, 1, []int{80, 80, 80}, 195},
		{"zero charge ignored", 1, 0, 0, []int{0, 0}, 80},
		{"average rounds down to tens", 2, 0, 0, []int{55, 60}, 50 + 60 + 50},
		{"full squad capped", MaxTerritoryCards, MaxInfraCards, MaxResourceCards, full, MaxSynergyBonus},
	}
	for _, tc := range tests {
		got := SynergyBonus(tc.territory, tc.infra, tc.resource, tc.charges)
		if got != tc.want {
			t.Fatalf("%s: synergy = %d, want %d", tc.name, got, tc.want)
		}
		if again := SynergyBonus(tc.territory, tc.infra, tc.resource, tc.charges); again != got {
			t.Fatalf("%s: synergy not stable: %d then %d", tc.name, got, again)
		}
		if got < 0 || got > MaxSynergyBonus {
			t.Fatalf("%s: synergy %d out of bounds", tc.name, got)
		}
	}
}

func TestAllianceBonus(t *testing.T) {
	members := func(n int) []ledger.Address {
		out := make([]ledger.Address, n)
		for i := range out {
			out[i] = ledger.Address(string(rune('a' + i)))
		}
		return out
	}
	tests := []struct {
		name                       string
		al                         ledger.Alliance
		base, reinforcement, funds int
	}{
		{
			name: "unstable alliance is halved",
			al:   ledger.Alliance{Members: members(5), StabilityIndex: 20, BetrayalCount: 1, SharedTreasury: 5000},
			base: 10, reinforcement: 10, funds: 2,
		},
		{
			name: "stable four",
			al:   ledger.Alliance{Members: members(4), StabilityIndex: 85},
			base: 45, reinforcement: 16, funds: 0,
		},
		{
			name: "capped",
			al:   ledger.Alliance{Members: members(8), StabilityIndex: 100, SharedTreasury: 50_000},
			base: 50, reinforcement: 20, funds: 20,
		},
		{
			name: "betrayals floor at zero",
			al:   ledger.Alliance{Members: members(2), StabilityIndex: 50, BetrayalCount: 9},
			base: 0, reinforcement: 8, funds: 0,
		},
	}
	for _, tc := range tests {
		base, reinforcement, funds := allianceBonus(tc.al)
		if base != tc.base || reinforcement != tc.reinforcement || funds != tc.funds {
			t.Fatalf("%s: bonus = %d/%d/%d, want %d/%d/%d", tc.name, base, reinforcement, funds, tc.base, tc.reinforcement, tc.funds)
		}
	}
}
