package game

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"colonywars/internal/ledger"
	"colonywars/internal/oracle"
)

const (
	MaxTerritoryCards = 3
	MaxInfraCards     = 5
	MaxResourceCards  = 4

	MaxSynergyBonus = 500

	LeavePenalty     = 10
	BetrayalPenalty  = 30
	InitialStability = 100

	ReinforcementPenaltyPercent = 20
	ForgivenessQuorumPercent    = 75

	MaxSeedTerritories = 256
)

var (
	ErrReentrantCall     = ledger.ErrReentrantCall
	ErrAllianceNotFound  = ledger.ErrAllianceNotFound
	ErrAllianceInactive  = ledger.ErrAllianceInactive
	ErrAllianceFull      = ledger.ErrAllianceFull
	ErrAlreadyInAlliance = ledger.ErrAlreadyInAlliance
	ErrNotMember         = ledger.ErrNotMember
	ErrInsufficientFunds = oracle.ErrInsufficientFunds

	ErrOracleUnavailable = errors.New("external oracle unavailable")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotController     = errors.New("caller does not control colony")
	ErrNotColonyOwner    = errors.New("caller did not create colony")
	ErrInvalidAmount     = errors.New("amount must be > 0")

	ErrNoActiveSeason      = errors.New("no active season")
	ErrSeasonActive        = errors.New("current season has not ended")
	ErrInvalidSeason       = errors.New("season phases must have positive length")
	ErrRegistrationClosed  = errors.New("season registration is closed")
	ErrNotWarfarePhase     = errors.New("season is not in its warfare phase")
	ErrColonyNotRegistered = errors.New("colony is not registered for the current season")
	ErrAlreadyRegistered   = errors.New("colony is already registered for the current season")
	ErrStakeTooLow         = errors.New("defensive stake below minimum")
	ErrNoPrimaryColony     = errors.New("no primary colony set")

	ErrAllianceAlreadyExists   = errors.New("alliance already exists")
	ErrInvalidAllianceName     = errors.New("alliance name must be 3-32 letters, digits, spaces, '-' or '_'")
	ErrBetrayalCooldownActive  = errors.New("betrayal cooldown active")
	ErrRateLimitExceeded       = errors.New("rate limit exceeded")
	ErrFormationNotYetAllowed  = errors.New("alliance formation not yet allowed")
	ErrFormationClosed         = errors.New("alliance formation closed for this season")
	ErrCannotLeaveAsLeader     = errors.New("leader cannot leave while other members remain")
	ErrSameColony              = errors.New("same colony")
	ErrNotLeader               = errors.New("caller is not the alliance leader")
	ErrDuplicateController     = errors.New("controller already holds a seat in this alliance")
	ErrDebtTooHigh             = errors.New("colony debt too high to join")
	ErrMarkedBetrayer          = errors.New("colony is marked as a betrayer of this alliance")
	ErrInvitationPending       = errors.New("an invitation is already pending for this colony")
	ErrInvitationNotFound      = errors.New("invitation not found")
	ErrInvitationExpired       = errors.New("invitation expired")
	ErrNotBetrayer             = errors.New("colony is not a current or recent member")
	ErrBetrayalAlreadyRecorded = errors.New("betrayal already recorded")
	ErrNotMarked               = errors.New("colony is not marked as a betrayer")
	ErrProposalActive          = errors.New("a forgiveness proposal is already active")
	ErrNoActiveProposal        = errors.New("no active forgiveness proposal")
	ErrAlreadyVoted            = errors.New("already voted")
	ErrVotingClosed            = errors.New("voting window closed")
	ErrAllianceNotEmpty        = errors.New("alliance still has other members")
	ErrInsufficientTreasury    = errors.New("insufficient alliance treasury")

	ErrSquadAlreadyStaked      = errors.New("colony already has an active squad")
	ErrNoActiveSquad           = errors.New("colony has no active squad")
	ErrEmptySquad              = errors.New("squad must contain at least one asset")
	ErrSquadSlotFull           = errors.New("squad category is full")
	ErrDuplicateAsset          = errors.New("asset listed twice")
	ErrAssetNotInSquad         = errors.New("asset is not part of this squad")
	ErrCollectionNotRegistered = errors.New("collection not registered")
	ErrCollectionDisabled      = errors.New("collection disabled")
	ErrCategoryMismatch        = errors.New("collection type does not match item type")
	ErrAssetAlreadyStaked      = errors.New("asset already staked")
	ErrNotAssetOwner           = errors.New("caller does not hold the asset")
	ErrPowerCoreMissing        = errors.New("asset has no power core")
	ErrChargeTooLow            = errors.New("power core charge too low")
	ErrPowerCoreLocked         = errors.New("power core locked while staked")
	ErrInvalidPowerCore        = errors.New("invalid power core parameters")

	ErrTerritoryNotFound      = errors.New("territory not found")
	ErrTerritoryControlled    = errors.New("territory already controlled")
	ErrNotTerritoryController = errors.New("colony does not control territory")
	ErrInvalidSeedCount       = errors.New("territory seed count out of range")

	ErrBattleNotFound        = errors.New("battle not found")
	ErrBattleResolved        = errors.New("battle already resolved")
	ErrAlliedTarget          = errors.New("cannot attack an allied colony")
	ErrAttackCooldown        = errors.New("attack cooldown active")
	ErrReinforcementLimit    = errors.New("reinforcement limit reached for this season")
	ErrReinforcementTooLarge = errors.New("reinforcement exceeds half of current stake")

	ErrUnknownFeeType    = errors.New("unknown fee type")
	ErrInvalidConfig     = errors.New("invalid configuration value")
	ErrUnknownCollection = errors.New("unknown collection")
)

var allianceNameRE = regexp.MustCompile(`^[A-Za-z0-9 _-]{3,32}$`)

func ValidateAllianceName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if !allianceNameRE.MatchString(name) {
		return "", ErrInvalidAllianceName
	}
	return name, nil
}

// ParseFeeType is the strict form of ledger.ParseFeeType used at the edges.
func ParseFeeType(s string) (ledger.FeeType, error) {
	f, ok := ledger.ParseFeeType(s)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFeeType, s)
	}
	return f, nil
}

// ForgivenessThreshold is the number of yes votes that forgives a betrayer in
// an alliance of the given size: 75% rounded up, at least one.
func ForgivenessThreshold(members int) int {
	t := (members*ForgivenessQuorumPercent + 99) / 100
	if t < 1 {
		return 1
	}
	return t
}

// WithdrawalPenalty is half the stake plus 5% per controlled territory, the
// progressive part capped at a quarter of the stake.
func WithdrawalPenalty(stake int64, territories int) int64 {
	extra := stake * int64(territories) * 5 / 100
	if limit := stake / 4; extra > limit {
		extra = limit
	}
	return stake/2 + extra
}

func floorSub(v, by int) int {
	if v-by < 0 {
		return 0
	}
	return v - by
}
