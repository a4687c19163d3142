package ledger

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSeasonStarted          EventType = "season.started"
	EventSeasonEnded            EventType = "season.ended"
	EventColonyRegistered       EventType = "colony.registered"
	EventPrimaryColonySet       EventType = "colony.primary_set"
	EventColonyWithdrawn        EventType = "colony.withdrawn"
	EventStakeReinforced        EventType = "colony.stake_reinforced"
	EventAllianceCreated        EventType = "alliance.created"
	EventAllianceJoined         EventType = "alliance.joined"
	EventAllianceLeft           EventType = "alliance.left"
	EventAllianceDisbanded      EventType = "alliance.disbanded"
	EventLeadershipChanged      EventType = "alliance.leader_changed"
	EventInvitationSent         EventType = "alliance.invitation_sent"
	EventInvitationAccepted     EventType = "alliance.invitation_accepted"
	EventInvitationDeclined     EventType = "alliance.invitation_declined"
	EventInvitationExpired      EventType = "alliance.invitation_expired"
	EventContribution           EventType = "alliance.contribution"
	EventAidSent                EventType = "alliance.aid_sent"
	EventBetrayalRecorded       EventType = "alliance.betrayal_recorded"
	EventForgivenessProposed    EventType = "forgiveness.proposed"
	EventForgivenessVoted       EventType = "forgiveness.voted"
	EventForgivenessExecuted    EventType = "forgiveness.executed"
	EventForgivenessRejected    EventType = "forgiveness.rejected"
	EventForgivenessExpired     EventType = "forgiveness.expired"
	EventSquadStaked            EventType = "squad.staked"
	EventSquadUnstaked          EventType = "squad.unstaked"
	EventSquadMemberAdded       EventType = "squad.member_added"
	EventSquadMemberRemoved     EventType = "squad.member_removed"
	EventSquadMemberSwapped     EventType = "squad.member_swapped"
	EventSquadEmergencyUnstaked EventType = "squad.emergency_unstaked"
	EventSynergyUpdated         EventType = "squad.synergy_updated"
	EventPowerCoreInstalled     EventType = "power_core.installed"
	EventPowerCoreConsumed      EventType = "power_core.consumed"
	EventTerritorySeeded        EventType = "territory.seeded"
	EventTerritoryClaimed       EventType = "territory.claimed"
	EventTerritoryMaintained    EventType = "territory.maintained"
	EventTerritoryForfeited     EventType = "territory.forfeited"
	EventBattleDeclared         EventType = "battle.declared"
	EventBattleResolved         EventType = "battle.resolved"
	EventConfigChanged          EventType = "config.changed"
	EventCollectionRegistered   EventType = "collection.registered"
)

// Event is one entry of the audit log. Events are emitted inside a
// transaction and become visible only if it commits.
type Event struct {
	ID       uuid.UUID      `json:"id"`
	Seq      uint64         `json:"seq"`
	Type     EventType      `json:"type"`
	Season   uint64         `json:"season,omitempty"`
	Colony   ID             `json:"colony,omitempty"`
	Alliance ID             `json:"alliance,omitempty"`
	Actor    Address        `json:"actor,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	At       time.Time      `json:"at"`
}

// Batch is the set of events produced by one committed operation.
type Batch struct {
	TxID   uuid.UUID `json:"tx_id"`
	At     time.Time `json:"at"`
	Events []Event   `json:"events"`

	// State is the ledger as of the last event in the batch. It is only set
	// for stores built WithCommitSnapshots.
	State *Snapshot `json:"-"`
}
