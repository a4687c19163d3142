package game

import (
	"time"

	"colonywars/internal/ledger"
)

type SeasonInput struct {
	Start        time.Time
	Registration time.Duration
	Warfare      time.Duration
	Resolution   time.Duration
	PrizePool    int64
}

// SquadInput lists the assets of a squad by slot category.
type SquadInput struct {
	Territory      []ledger.TokenRef `json:"territory"`
	Infrastructure []ledger.TokenRef `json:"infrastructure"`
	Resource       []ledger.TokenRef `json:"resource"`
}

type squadItem struct {
	token    ledger.TokenRef
	category ledger.Category
}

func (in SquadInput) items() []squadItem {
	out := make([]squadItem, 0, len(in.Territory)+len(in.Infrastructure)+len(in.Resource))
	for _, t := range in.Territory {
		out = append(out, squadItem{t, ledger.CategoryTerritory})
	}
	for _, t := range in.Infrastructure {
		out = append(out, squadItem{t, ledger.CategoryInfrastructure})
	}
	for _, t := range in.Resource {
		out = append(out, squadItem{t, ledger.CategoryResource})
	}
	return out
}

type DefensiveBonus struct {
	Colony        ledger.ID `json:"colony"`
	Alliance      ledger.ID `json:"alliance"`
	SharePercent  int       `json:"share_percent"`
	Base          int       `json:"base"`
	Reinforcement int       `json:"reinforcement"`
	Treasury      int       `json:"treasury"`
	Total         int       `json:"total"`
}

type ThreatLevel string

const (
	ThreatSafe     ThreatLevel = "SAFE"
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

type Readiness struct {
	CanAttack bool `json:"can_attack"`
	CanDefend bool `json:"can_defend"`
	CanSiege  bool `json:"can_siege"`
	CanRaid   bool `json:"can_raid"`
	Score     int  `json:"score"`
}

type AllianceSummary struct {
	ID             ledger.ID      `json:"id"`
	Name           string         `json:"name"`
	Members        int            `json:"members"`
	StabilityIndex int            `json:"stability_index"`
	SharedTreasury int64          `json:"shared_treasury"`
	IsLeader       bool           `json:"is_leader"`
	Bonus          DefensiveBonus `json:"bonus"`
}

type SquadSummary struct {
	Territory         int `json:"territory"`
	Infrastructure    int `json:"infrastructure"`
	Resource          int `json:"resource"`
	SynergyBonus      int `json:"synergy_bonus"`
	UniqueCollections int `json:"unique_collections"`
}

type StrategicOverview struct {
	Colony                ledger.ID        `json:"colony"`
	Season                uint64           `json:"season"`
	Phase                 ledger.Phase     `json:"phase"`
	Registered            bool             `json:"registered"`
	DefensiveStake        int64            `json:"defensive_stake"`
	Readiness             Readiness        `json:"readiness"`
	Threat                ThreatLevel      `json:"threat"`
	OverallScore          int              `json:"overall_score"`
	IncomingAttacks       int              `json:"incoming_attacks"`
	ActiveSieges          int              `json:"active_sieges"`
	OutgoingAttacks       int              `json:"outgoing_attacks"`
	Territories           int              `json:"territories"`
	VulnerableTerritories []ledger.ID      `json:"vulnerable_territories"`
	Alliance              *AllianceSummary `json:"alliance,omitempty"`
	Squad                 *SquadSummary    `json:"squad,omitempty"`
	Recommendations       []string         `json:"recommendations"`
}

type WithdrawalResult struct {
	Colony      ledger.ID `json:"colony"`
	Stake       int64     `json:"stake"`
	Territories int       `json:"territories"`
	Penalty     int64     `json:"penalty"`
	Refund      int64     `json:"refund"`
	Betrayal    bool      `json:"betrayal"`
}

type WinProbability string

const (
	VeryUnlikely WinProbability = "VERY_UNLIKELY"
	Unlikely     WinProbability = "UNLIKELY"
	EvenOdds     WinProbability = "EVEN"
	Likely       WinProbability = "LIKELY"
	VeryLikely   WinProbability = "VERY_LIKELY"
)

type BattlePowerComparison struct {
	Attacker      ledger.ID      `json:"attacker"`
	Defender      ledger.ID      `json:"defender"`
	AttackerPower int64          `json:"attacker_power"`
	DefenderPower int64          `json:"defender_power"`
	RatioPercent  int64          `json:"ratio_percent"`
	Outcome       WinProbability `json:"outcome"`
}

// SweepResult counts what one maintenance pass closed.
type SweepResult struct {
	ProposalsExpired   int  `json:"proposals_expired"`
	InvitationsExpired int  `json:"invitations_expired"`
	SeasonEnded        bool `json:"season_ended"`
}
