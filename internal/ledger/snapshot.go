package ledger

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"
)

const snapshotVersion = 1

// Snapshot is a serializable copy of the whole ledger. Collections are sorted
// so that equal ledgers encode to identical bytes.
type Snapshot struct {
	Version       int                `json:"version"`
	Seq           uint64             `json:"seq"`
	Config        Config             `json:"config"`
	Seasons       []Season           `json:"seasons"`
	CurrentSeason uint64             `json:"current_season"`
	Profiles      []ColonyWarProfile `json:"profiles"`

	Alliances   []Alliance            `json:"alliances"`
	Proposals   []ForgivenessProposal `json:"proposals"`
	Invitations []AllianceInvitation  `json:"invitations"`
	Memberships []Membership          `json:"memberships"`
	Primary     []PrimaryEntry        `json:"primary"`
	Departures  []Departure           `json:"departures"`
	Marks       []BetrayalMark        `json:"marks"`
	Betrayals   []Timestamp           `json:"betrayals"`
	Formations  []AddressTimestamp    `json:"formations"`

	Collections []Collection         `json:"collections"`
	Squads      []SquadStakePosition `json:"squads"`
	Stakes      []StakeRecord        `json:"stakes"`
	PowerCores  []PowerMatrix        `json:"power_cores"`

	Territories []Territory    `json:"territories"`
	Nodes       []ResourceNode `json:"nodes"`
	Battles     []Battle       `json:"battles"`
	BattleSeq   uint64         `json:"battle_seq"`
}

type Membership struct {
	Address  Address `json:"address"`
	Alliance ID      `json:"alliance"`
	Colony   ID      `json:"colony"`
}

type PrimaryEntry struct {
	Address Address `json:"address"`
	Colony  ID      `json:"colony"`
}

type BetrayalMark struct {
	Alliance ID `json:"alliance"`
	Colony   ID `json:"colony"`
}

type Timestamp struct {
	Key ID        `json:"key"`
	At  time.Time `json:"at"`
}

type AddressTimestamp struct {
	Address Address   `json:"address"`
	At      time.Time `json:"at"`
}

func lessID(a, b ID) bool { return bytes.Compare(a[:], b[:]) < 0 }

// Export copies the committed ledger into a Snapshot.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return exportState(s.st, s.seq)
}

func exportState(st state, seq uint64) Snapshot {
	st = st.clone()
	snap := Snapshot{
		Version:       snapshotVersion,
		Seq:           seq,
		Config:        st.config,
		Seasons:       st.seasons,
		CurrentSeason: st.currentSeason,
		BattleSeq:     st.battleSeq,
	}

	for _, p := range st.profiles {
		snap.Profiles = append(snap.Profiles, p)
	}
	sort.Slice(snap.Profiles, func(i, j int) bool {
		a, b := snap.Profiles[i], snap.Profiles[j]
		if a.Season != b.Season {
			return a.Season < b.Season
		}
		return lessID(a.Colony, b.Colony)
	})

	for _, a := range st.alliances {
		snap.Alliances = append(snap.Alliances, a)
	}
	sort.Slice(snap.Alliances, func(i, j int) bool { return lessID(snap.Alliances[i].ID, snap.Alliances[j].ID) })

	for _, p := range st.proposals {
		snap.Proposals = append(snap.Proposals, p)
	}
	sort.Slice(snap.Proposals, func(i, j int) bool { return lessID(snap.Proposals[i].Alliance, snap.Proposals[j].Alliance) })

	for _, inv := range st.invitations {
		snap.Invitations = append(snap.Invitations, inv)
	}
	sort.Slice(snap.Invitations, func(i, j int) bool {
		return lessID(snap.Invitations[i].TargetColony, snap.Invitations[j].TargetColony)
	})

	for addr, alliance := range st.addressAlliance {
		snap.Memberships = append(snap.Memberships, Membership{Address: addr, Alliance: alliance, Colony: st.memberColony[addr]})
	}
	sort.Slice(snap.Memberships, func(i, j int) bool { return snap.Memberships[i].Address < snap.Memberships[j].Address })

	for addr, colony := range st.primaryColony {
		snap.Primary = append(snap.Primary, PrimaryEntry{Address: addr, Colony: colony})
	}
	sort.Slice(snap.Primary, func(i, j int) bool { return snap.Primary[i].Address < snap.Primary[j].Address })

	for _, d := range st.departures {
		snap.Departures = append(snap.Departures, d)
	}
	sort.Slice(snap.Departures, func(i, j int) bool { return lessID(snap.Departures[i].Colony, snap.Departures[j].Colony) })

	for alliance, marks := range st.betrayalMarks {
		for colony, ok := range marks {
			if ok {
				snap.Marks = append(snap.Marks, BetrayalMark{Alliance: alliance, Colony: colony})
			}
		}
	}
	sort.Slice(snap.Marks, func(i, j int) bool {
		if snap.Marks[i].Alliance != snap.Marks[j].Alliance {
			return lessID(snap.Marks[i].Alliance, snap.Marks[j].Alliance)
		}
		return lessID(snap.Marks[i].Colony, snap.Marks[j].Colony)
	})

	for colony, at := range st.lastBetrayal {
		snap.Betrayals = append(snap.Betrayals, Timestamp{Key: colony, At: at})
	}
	sort.Slice(snap.Betrayals, func(i, j int) bool { return lessID(snap.Betrayals[i].Key, snap.Betrayals[j].Key) })

	for addr, at := range st.lastFormation {
		snap.Formations = append(snap.Formations, AddressTimestamp{Address: addr, At: at})
	}
	sort.Slice(snap.Formations, func(i, j int) bool { return snap.Formations[i].Address < snap.Formations[j].Address })

	for _, c := range st.collections {
		snap.Collections = append(snap.Collections, c)
	}
	sort.Slice(snap.Collections, func(i, j int) bool { return lessID(snap.Collections[i].ID, snap.Collections[j].ID) })

	for _, sq := range st.squads {
		snap.Squads = append(snap.Squads, sq)
	}
	sort.Slice(snap.Squads, func(i, j int) bool { return lessID(snap.Squads[i].Colony, snap.Squads[j].Colony) })

	for _, r := range st.stakes {
		snap.Stakes = append(snap.Stakes, r)
	}
	sort.Slice(snap.Stakes, func(i, j int) bool { return lessID(snap.Stakes[i].Token.Key(), snap.Stakes[j].Token.Key()) })

	for _, p := range st.powerCores {
		snap.PowerCores = append(snap.PowerCores, p)
	}
	sort.Slice(snap.PowerCores, func(i, j int) bool {
		return lessID(snap.PowerCores[i].Token.Key(), snap.PowerCores[j].Token.Key())
	})

	for _, t := range st.territories {
		snap.Territories = append(snap.Territories, t)
	}
	sort.Slice(snap.Territories, func(i, j int) bool { return lessID(snap.Territories[i].ID, snap.Territories[j].ID) })

	for _, n := range st.nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return lessID(snap.Nodes[i].Territory, snap.Nodes[j].Territory) })

	for _, b := range st.battles {
		snap.Battles = append(snap.Battles, b)
	}
	sortBattles(snap.Battles)
	return snap
}

// Import replaces the ledger with snap, rebuilding every derived index.
func (s *Store) Import(snap Snapshot) error {
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	st := newState(cloneConfig(snap.Config))
	st.currentSeason = snap.CurrentSeason
	st.battleSeq = snap.BattleSeq
	for _, season := range snap.Seasons {
		st.seasons = append(st.seasons, cloneSeason(season))
	}
	for i, season := range st.seasons {
		if season.ID != uint64(i)+1 {
			return fmt.Errorf("snapshot season %d out of order", season.ID)
		}
	}
	for _, p := range snap.Profiles {
		st.profiles[profileKey{p.Season, p.Colony}] = p
	}
	for _, a := range snap.Alliances {
		st.alliances[a.ID] = cloneAlliance(a)
		if a.Active {
			st.allianceByName[allianceNameKey(a.Name)] = a.ID
		}
	}
	for _, p := range snap.Proposals {
		st.proposals[p.Alliance] = cloneProposal(p)
	}
	for _, inv := range snap.Invitations {
		st.invitations[inv.TargetColony] = inv
	}
	for _, m := range snap.Memberships {
		st.addressAlliance[m.Address] = m.Alliance
		st.memberColony[m.Address] = m.Colony
		st.colonyAlliance[m.Colony] = m.Alliance
	}
	for _, p := range snap.Primary {
		st.primaryColony[p.Address] = p.Colony
	}
	for _, d := range snap.Departures {
		st.departures[d.Colony] = d
	}
	for _, m := range snap.Marks {
		marks, ok := st.betrayalMarks[m.Alliance]
		if !ok {
			marks = map[ID]bool{}
			st.betrayalMarks[m.Alliance] = marks
		}
		marks[m.Colony] = true
	}
	for _, b := range snap.Betrayals {
		st.lastBetrayal[b.Key] = b.At
	}
	for _, f := range snap.Formations {
		st.lastFormation[f.Address] = f.At
	}
	for _, c := range snap.Collections {
		st.collections[c.ID] = c
	}
	for _, sq := range snap.Squads {
		st.squads[sq.Colony] = cloneSquad(sq)
	}
	for _, r := range snap.Stakes {
		st.stakes[r.Token.Key()] = r
	}
	for _, p := range snap.PowerCores {
		st.powerCores[p.Token.Key()] = p
	}
	for _, t := range snap.Territories {
		st.territories[t.ID] = t
		if !t.ControllingColony.IsZero() {
			st.colonyTerritories[t.ControllingColony] = append(st.colonyTerritories[t.ControllingColony], t.ID)
		}
	}
	for _, n := range snap.Nodes {
		st.nodes[n.Territory] = n
	}
	for _, b := range snap.Battles {
		st.battles[b.ID] = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inOperation.Load() {
		return ErrReentrantCall
	}
	s.st = st
	s.seq = snap.Seq
	s.tail = nil
	return nil
}

// EncodeSnapshot writes snap as LZ4-compressed JSON.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return snap, fmt.Errorf("decompress snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Checksum is the BLAKE3 hex digest of an encoded snapshot.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
