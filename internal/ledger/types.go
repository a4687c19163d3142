package ledger

import (
	"fmt"
	"strings"
	"time"
)

type Phase string

const (
	PhasePending      Phase = "pending"
	PhaseRegistration Phase = "registration"
	PhaseWarfare      Phase = "warfare"
	PhaseResolution   Phase = "resolution"
	PhaseEnded        Phase = "ended"
)

type Season struct {
	ID                 uint64    `json:"id"`
	Active             bool      `json:"active"`
	StartTime          time.Time `json:"start_time"`
	RegistrationEnd    time.Time `json:"registration_end"`
	WarfareEnd         time.Time `json:"warfare_end"`
	ResolutionEnd      time.Time `json:"resolution_end"`
	PrizePool          int64     `json:"prize_pool"`
	RegisteredColonies []ID      `json:"registered_colonies"`
}

// Phase reports where now falls in the season calendar.
func (s Season) Phase(now time.Time) Phase {
	switch {
	case !s.Active:
		return PhaseEnded
	case now.Before(s.StartTime):
		return PhasePending
	case now.Before(s.RegistrationEnd):
		return PhaseRegistration
	case now.Before(s.WarfareEnd):
		return PhaseWarfare
	case now.Before(s.ResolutionEnd):
		return PhaseResolution
	default:
		return PhaseEnded
	}
}

type ColonyWarProfile struct {
	Colony            ID        `json:"colony"`
	Season            uint64    `json:"season"`
	Owner             Address   `json:"owner"`
	Registered        bool      `json:"registered"`
	DefensiveStake    int64     `json:"defensive_stake"`
	StakeIncreases    int       `json:"stake_increases"`
	LastAttackTime    time.Time `json:"last_attack_time"`
	LastReinforceTime time.Time `json:"last_reinforce_time"`
	Reputation        int64     `json:"reputation"`
}

type Alliance struct {
	ID             ID        `json:"id"`
	Name           string    `json:"name"`
	LeaderColony   ID        `json:"leader_colony"`
	Members        []Address `json:"members"`
	SharedTreasury int64     `json:"shared_treasury"`
	StabilityIndex int       `json:"stability_index"`
	BetrayalCount  int       `json:"betrayal_count"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

func (a Alliance) HasMember(addr Address) bool {
	for _, m := range a.Members {
		if m == addr {
			return true
		}
	}
	return false
}

type ForgivenessProposal struct {
	Alliance       ID        `json:"alliance"`
	BetrayerColony ID        `json:"betrayer_colony"`
	Proposer       Address   `json:"proposer"`
	VoteEnd        time.Time `json:"vote_end"`
	YesVotes       int       `json:"yes_votes"`
	TotalVotes     int       `json:"total_votes"`
	Voters         []Address `json:"voters"`
	Executed       bool      `json:"executed"`
	Active         bool      `json:"active"`
}

func (p ForgivenessProposal) HasVoted(addr Address) bool {
	for _, v := range p.Voters {
		if v == addr {
			return true
		}
	}
	return false
}

type AllianceInvitation struct {
	TargetColony ID        `json:"target_colony"`
	Alliance     ID        `json:"alliance"`
	Inviter      Address   `json:"inviter"`
	Expiry       time.Time `json:"expiry"`
	Active       bool      `json:"active"`
}

// Departure remembers when a colony last left an alliance, for the betrayal
// grace window.
type Departure struct {
	Alliance ID        `json:"alliance"`
	Colony   ID        `json:"colony"`
	Member   Address   `json:"member"`
	At       time.Time `json:"at"`
}

// Category is both a collection type and a squad slot type.
type Category uint8

const (
	CategoryTerritory Category = iota + 1
	CategoryInfrastructure
	CategoryResource
)

func (c Category) String() string {
	switch c {
	case CategoryTerritory:
		return "territory"
	case CategoryInfrastructure:
		return "infrastructure"
	case CategoryResource:
		return "resource"
	default:
		return fmt.Sprintf("category(%d)", c)
	}
}

func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "territory":
		return CategoryTerritory, nil
	case "infrastructure", "infra":
		return CategoryInfrastructure, nil
	case "resource":
		return CategoryResource, nil
	default:
		return 0, fmt.Errorf("unknown category %q", s)
	}
}

func (c Category) MarshalText() ([]byte, error) {
	if c == 0 {
		return []byte{}, nil
	}
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = 0
		return nil
	}
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type Collection struct {
	ID              ID       `json:"id"`
	ContractAddress Address  `json:"contract_address"`
	Type            Category `json:"type"`
	Enabled         bool     `json:"enabled"`
}

type SquadStakePosition struct {
	Colony                 ID         `json:"colony"`
	TerritoryCards         []TokenRef `json:"territory_cards"`
	InfraCards             []TokenRef `json:"infra_cards"`
	ResourceCards          []TokenRef `json:"resource_cards"`
	StakedAt               time.Time  `json:"staked_at"`
	TotalSynergyBonus      int        `json:"total_synergy_bonus"`
	UniqueCollectionsCount int        `json:"unique_collections_count"`
	Active                 bool       `json:"active"`
}

// Cards returns the slot list for a category.
func (p *SquadStakePosition) Cards(c Category) *[]TokenRef {
	switch c {
	case CategoryTerritory:
		return &p.TerritoryCards
	case CategoryInfrastructure:
		return &p.InfraCards
	default:
		return &p.ResourceCards
	}
}

func (p SquadStakePosition) All() []TokenRef {
	out := make([]TokenRef, 0, p.Size())
	out = append(out, p.TerritoryCards...)
	out = append(out, p.InfraCards...)
	out = append(out, p.ResourceCards...)
	return out
}

func (p SquadStakePosition) Size() int {
	return len(p.TerritoryCards) + len(p.InfraCards) + len(p.ResourceCards)
}

// StakeRecord is the token side of the token<->colony index.
type StakeRecord struct {
	Token    TokenRef  `json:"token"`
	Category Category  `json:"category"`
	Colony   ID        `json:"colony"`
	Staker   Address   `json:"staker"`
	StakedAt time.Time `json:"staked_at"`
}

type Territory struct {
	ID                     ID        `json:"id"`
	ControllingColony      ID        `json:"controlling_colony"`
	TerritoryType          uint8     `json:"territory_type"`
	BonusValue             int       `json:"bonus_value"`
	LastMaintenancePayment time.Time `json:"last_maintenance_payment"`
	Active                 bool      `json:"active"`
}

type ResourceNode struct {
	Territory       ID        `json:"territory"`
	ResourceType    uint8     `json:"resource_type"`
	NodeLevel       int       `json:"node_level"`
	LastHarvestTime time.Time `json:"last_harvest_time"`
	Active          bool      `json:"active"`
}

const FlagStakedLock uint8 = 1 << 0

type PowerMatrix struct {
	Token          TokenRef  `json:"token"`
	CurrentCharge  int       `json:"current_charge"`
	MaxCharge      int       `json:"max_charge"`
	LastChargeTime time.Time `json:"last_charge_time"`
	Fatigue        int       `json:"fatigue"`
	Flags          uint8     `json:"flags"`
}

func (p PowerMatrix) Locked() bool { return p.Flags&FlagStakedLock != 0 }

type Battle struct {
	ID          ID        `json:"id"`
	Season      uint64    `json:"season"`
	Attacker    ID        `json:"attacker"`
	Defender    ID        `json:"defender"`
	Territory   ID        `json:"territory"`
	Siege       bool      `json:"siege"`
	StartedAt   time.Time `json:"started_at"`
	Resolved    bool      `json:"resolved"`
	AttackerWon bool      `json:"attacker_won"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// FeeType is the closed set of fees the admin facet can tune.
type FeeType uint8

const (
	FeeAllianceFormation FeeType = iota
	FeeSeasonRegistration
	FeeTerritoryClaim
	FeeTerritoryMaintenance
	FeeSquadStake
	feeTypeCount
)

var feeTypeNames = [feeTypeCount]string{
	FeeAllianceFormation:    "alliance_formation",
	FeeSeasonRegistration:   "season_registration",
	FeeTerritoryClaim:       "territory_claim",
	FeeTerritoryMaintenance: "territory_maintenance",
	FeeSquadStake:           "squad_stake",
}

func (f FeeType) String() string {
	if f < feeTypeCount {
		return feeTypeNames[f]
	}
	return fmt.Sprintf("fee(%d)", f)
}

// ParseFeeType maps a fee key to its enum value. Unknown keys are an error.
func ParseFeeType(s string) (FeeType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range feeTypeNames {
		if name == s {
			return FeeType(i), true
		}
	}
	return 0, false
}

// FeeTypes lists every fee in table order.
func FeeTypes() []FeeType {
	out := make([]FeeType, feeTypeCount)
	for i := range out {
		out[i] = FeeType(i)
	}
	return out
}

type Fees [feeTypeCount]int64

type Config struct {
	MaxAllianceMembers       int           `json:"max_alliance_members"`
	AllianceCreationWindow   time.Duration `json:"alliance_creation_window"`
	InvitationTTL            time.Duration `json:"invitation_ttl"`
	BetrayalGrace            time.Duration `json:"betrayal_grace"`
	BetrayalCooldown         time.Duration `json:"betrayal_cooldown"`
	ForgivenessWindow        time.Duration `json:"forgiveness_window"`
	MinStakeChargePercent    int           `json:"min_stake_charge_percent"`
	MaxReinforcements        int           `json:"max_reinforcements"`
	ReinforcementCooldown    time.Duration `json:"reinforcement_cooldown"`
	MaintenancePeriod        time.Duration `json:"maintenance_period"`
	AttackCooldown           time.Duration `json:"attack_cooldown"`
	MinRegistrationStake     int64         `json:"min_registration_stake"`
	MinAttackStake           int64         `json:"min_attack_stake"`
	MaxJoinDebt              int64         `json:"max_join_debt"`
	ChargeRegenPerHour       int           `json:"charge_regen_per_hour"`
	ChargeEventMultiplierBps int           `json:"charge_event_multiplier_bps"`
	Fees                     Fees          `json:"fees"`
	Admins                   []Address     `json:"admins"`
}

func DefaultConfig() Config {
	cfg := Config{
		MaxAllianceMembers:       8,
		AllianceCreationWindow:   24 * time.Hour,
		InvitationTTL:            7 * 24 * time.Hour,
		BetrayalGrace:            24 * time.Hour,
		BetrayalCooldown:         7 * 24 * time.Hour,
		ForgivenessWindow:        48 * time.Hour,
		MinStakeChargePercent:    50,
		MaxReinforcements:        2,
		ReinforcementCooldown:    time.Hour,
		MaintenancePeriod:        7 * 24 * time.Hour,
		AttackCooldown:           6 * time.Hour,
		MinRegistrationStake:     100,
		MinAttackStake:           500,
		MaxJoinDebt:              10_000,
		ChargeRegenPerHour:       5,
		ChargeEventMultiplierBps: 10_000,
	}
	cfg.Fees[FeeAllianceFormation] = 100
	return cfg
}

func (c Config) IsAdmin(addr Address) bool {
	for _, a := range c.Admins {
		if a == addr {
			return true
		}
	}
	return false
}
