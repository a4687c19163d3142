package ledger

import (
	"slices"
	"time"
)

type profileKey struct {
	Season uint64
	Colony ID
}

// state is the whole ledger. Every transaction works on a clone and the clone
// replaces the live state only on commit.
type state struct {
	config Config

	seasons       []Season
	currentSeason uint64

	profiles map[profileKey]ColonyWarProfile

	alliances      map[ID]Alliance
	allianceByName map[string]ID
	proposals      map[ID]ForgivenessProposal
	invitations    map[ID]AllianceInvitation

	colonyAlliance  map[ID]ID
	addressAlliance map[Address]ID
	memberColony    map[Address]ID
	primaryColony   map[Address]ID
	departures      map[ID]Departure
	betrayalMarks   map[ID]map[ID]bool
	lastBetrayal    map[ID]time.Time
	lastFormation   map[Address]time.Time

	collections map[ID]Collection
	squads      map[ID]SquadStakePosition
	stakes      map[ID]StakeRecord
	powerCores  map[ID]PowerMatrix

	territories       map[ID]Territory
	nodes             map[ID]ResourceNode
	colonyTerritories map[ID][]ID

	battles   map[ID]Battle
	battleSeq uint64
}

func newState(cfg Config) state {
	return state{
		config:            cfg,
		profiles:          map[profileKey]ColonyWarProfile{},
		alliances:         map[ID]Alliance{},
		allianceByName:    map[string]ID{},
		proposals:         map[ID]ForgivenessProposal{},
		invitations:       map[ID]AllianceInvitation{},
		colonyAlliance:    map[ID]ID{},
		addressAlliance:   map[Address]ID{},
		memberColony:      map[Address]ID{},
		primaryColony:     map[Address]ID{},
		departures:        map[ID]Departure{},
		betrayalMarks:     map[ID]map[ID]bool{},
		lastBetrayal:      map[ID]time.Time{},
		lastFormation:     map[Address]time.Time{},
		collections:       map[ID]Collection{},
		squads:            map[ID]SquadStakePosition{},
		stakes:            map[ID]StakeRecord{},
		powerCores:        map[ID]PowerMatrix{},
		territories:       map[ID]Territory{},
		nodes:             map[ID]ResourceNode{},
		colonyTerritories: map[ID][]ID{},
		battles:           map[ID]Battle{},
	}
}

func (s state) clone() state {
	out := newState(cloneConfig(s.config))
	out.currentSeason = s.currentSeason
	out.battleSeq = s.battleSeq

	out.seasons = make([]Season, len(s.seasons))
	for i, season := range s.seasons {
		out.seasons[i] = cloneSeason(season)
	}
	for k, v := range s.profiles {
		out.profiles[k] = v
	}
	for k, v := range s.alliances {
		out.alliances[k] = cloneAlliance(v)
	}
	for k, v := range s.allianceByName {
		out.allianceByName[k] = v
	}
	for k, v := range s.proposals {
		out.proposals[k] = cloneProposal(v)
	}
	for k, v := range s.invitations {
		out.invitations[k] = v
	}
	for k, v := range s.colonyAlliance {
		out.colonyAlliance[k] = v
	}
	for k, v := range s.addressAlliance {
		out.addressAlliance[k] = v
	}
	for k, v := range s.memberColony {
		out.memberColony[k] = v
	}
	for k, v := range s.primaryColony {
		out.primaryColony[k] = v
	}
	for k, v := range s.departures {
		out.departures[k] = v
	}
	for k, marks := range s.betrayalMarks {
		m := make(map[ID]bool, len(marks))
		for c, ok := range marks {
			m[c] = ok
		}
		out.betrayalMarks[k] = m
	}
	for k, v := range s.lastBetrayal {
		out.lastBetrayal[k] = v
	}
	for k, v := range s.lastFormation {
		out.lastFormation[k] = v
	}
	for k, v := range s.collections {
		out.collections[k] = v
	}
	for k, v := range s.squads {
		out.squads[k] = cloneSquad(v)
	}
	for k, v := range s.stakes {
		out.stakes[k] = v
	}
	for k, v := range s.powerCores {
		out.powerCores[k] = v
	}
	for k, v := range s.territories {
		out.territories[k] = v
	}
	for k, v := range s.nodes {
		out.nodes[k] = v
	}
	for k, v := range s.colonyTerritories {
		out.colonyTerritories[k] = slices.Clone(v)
	}
	for k, v := range s.battles {
		out.battles[k] = v
	}
	return out
}

func cloneConfig(c Config) Config {
	c.Admins = slices.Clone(c.Admins)
	return c
}

func cloneSeason(s Season) Season {
	s.RegisteredColonies = slices.Clone(s.RegisteredColonies)
	return s
}

func cloneAlliance(a Alliance) Alliance {
	a.Members = slices.Clone(a.Members)
	return a
}

func cloneProposal(p ForgivenessProposal) ForgivenessProposal {
	p.Voters = slices.Clone(p.Voters)
	return p
}

func cloneSquad(p SquadStakePosition) SquadStakePosition {
	p.TerritoryCards = slices.Clone(p.TerritoryCards)
	p.InfraCards = slices.Clone(p.InfraCards)
	p.ResourceCards = slices.Clone(p.ResourceCards)
	return p
}
