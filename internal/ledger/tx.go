package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAllianceNotFound  = errors.New("alliance not found")
	ErrAllianceInactive  = errors.New("alliance is not active")
	ErrAllianceFull      = errors.New("alliance is at member capacity")
	ErrAlreadyInAlliance = errors.New("already a member of an alliance")
	ErrNotMember         = errors.New("not an alliance member")
	ErrNameTaken         = errors.New("alliance name already in use")
	ErrAlreadyStaked     = errors.New("asset is already staked")
	ErrSeasonNotFound    = errors.New("season not found")
)

// Tx is the accessor surface of one ledger operation. Values returned by
// getters are copies; changes take effect only through the Put/Set methods.
type Tx struct {
	ctx       context.Context
	st        state
	now       time.Time
	log       *slog.Logger
	readOnly  bool
	events    []Event
	rollbacks []func(context.Context)
}

func (tx *Tx) Context() context.Context { return tx.ctx }

func (tx *Tx) Now() time.Time { return tx.now }

func (tx *Tx) Logger() *slog.Logger { return tx.log }

func (tx *Tx) write() {
	if tx.readOnly {
		panic("ledger: write in read-only view")
	}
}

// Emit queues an audit event; it is published only if the operation commits.
func (tx *Tx) Emit(ev Event) {
	tx.write()
	ev.ID = uuid.New()
	if ev.At.IsZero() {
		ev.At = tx.now
	}
	tx.events = append(tx.events, ev)
}

// OnRollback registers a compensation for an external side effect. It runs,
// newest first, if the operation does not commit.
func (tx *Tx) OnRollback(fn func(ctx context.Context)) {
	tx.write()
	tx.rollbacks = append(tx.rollbacks, fn)
}

func (tx *Tx) rollback() {
	for i := len(tx.rollbacks) - 1; i >= 0; i-- {
		tx.rollbacks[i](tx.ctx)
	}
	tx.rollbacks = nil
	tx.events = nil
}

// --- config ---

func (tx *Tx) Config() Config { return cloneConfig(tx.st.config) }

func (tx *Tx) SetConfig(cfg Config) {
	tx.write()
	tx.st.config = cloneConfig(cfg)
}

// --- seasons ---

func (tx *Tx) CurrentSeason() (Season, bool) {
	if tx.st.currentSeason == 0 {
		return Season{}, false
	}
	s, ok := tx.Season(tx.st.currentSeason)
	if !ok || !s.Active {
		return Season{}, false
	}
	return s, true
}

func (tx *Tx) Season(id uint64) (Season, bool) {
	if id == 0 || id > uint64(len(tx.st.seasons)) {
		return Season{}, false
	}
	return cloneSeason(tx.st.seasons[id-1]), true
}

func (tx *Tx) Seasons() []Season {
	out := make([]Season, len(tx.st.seasons))
	for i, s := range tx.st.seasons {
		out[i] = cloneSeason(s)
	}
	return out
}

// AppendSeason adds a season, makes it current and deactivates the previous
// current season. Seasons are never removed.
func (tx *Tx) AppendSeason(s Season) Season {
	tx.write()
	if prev := tx.st.currentSeason; prev != 0 {
		tx.st.seasons[prev-1].Active = false
	}
	s.ID = uint64(len(tx.st.seasons)) + 1
	s.Active = true
	tx.st.seasons = append(tx.st.seasons, cloneSeason(s))
	tx.st.currentSeason = s.ID
	return cloneSeason(s)
}

func (tx *Tx) PutSeason(s Season) error {
	tx.write()
	if s.ID == 0 || s.ID > uint64(len(tx.st.seasons)) {
		return ErrSeasonNotFound
	}
	tx.st.seasons[s.ID-1] = cloneSeason(s)
	return nil
}

// --- colony profiles ---

func (tx *Tx) Profile(season uint64, colony ID) (ColonyWarProfile, bool) {
	p, ok := tx.st.profiles[profileKey{season, colony}]
	return p, ok
}

func (tx *Tx) PutProfile(p ColonyWarProfile) {
	tx.write()
	tx.st.profiles[profileKey{p.Season, p.Colony}] = p
}

// RegisterColony stores a registered profile and lists the colony on its
// season.
func (tx *Tx) RegisterColony(p ColonyWarProfile) error {
	tx.write()
	s, ok := tx.Season(p.Season)
	if !ok {
		return ErrSeasonNotFound
	}
	p.Registered = true
	tx.st.profiles[profileKey{p.Season, p.Colony}] = p
	if !slices.Contains(s.RegisteredColonies, p.Colony) {
		s.RegisteredColonies = append(s.RegisteredColonies, p.Colony)
	}
	return tx.PutSeason(s)
}

// DeregisterColony removes the colony from its season and deletes its profile.
func (tx *Tx) DeregisterColony(season uint64, colony ID) error {
	tx.write()
	s, ok := tx.Season(season)
	if !ok {
		return ErrSeasonNotFound
	}
	delete(tx.st.profiles, profileKey{season, colony})
	s.RegisteredColonies = slices.DeleteFunc(s.RegisteredColonies, func(c ID) bool { return c == colony })
	return tx.PutSeason(s)
}

// Registered reports whether colony holds a registered profile in the current
// season.
func (tx *Tx) Registered(colony ID) (ColonyWarProfile, bool) {
	s, ok := tx.CurrentSeason()
	if !ok {
		return ColonyWarProfile{}, false
	}
	p, ok := tx.Profile(s.ID, colony)
	if !ok || !p.Registered {
		return ColonyWarProfile{}, false
	}
	return p, true
}

func (tx *Tx) PrimaryColony(addr Address) (ID, bool) {
	c, ok := tx.st.primaryColony[addr]
	return c, ok
}

func (tx *Tx) SetPrimaryColony(addr Address, colony ID) {
	tx.write()
	if colony.IsZero() {
		delete(tx.st.primaryColony, addr)
		return
	}
	tx.st.primaryColony[addr] = colony
}

// --- alliances ---

func (tx *Tx) Alliance(id ID) (Alliance, bool) {
	a, ok := tx.st.alliances[id]
	if !ok {
		return Alliance{}, false
	}
	return cloneAlliance(a), true
}

func (tx *Tx) Alliances() []Alliance {
	out := make([]Alliance, 0, len(tx.st.alliances))
	for _, a := range tx.st.alliances {
		out = append(out, cloneAlliance(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

func allianceNameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (tx *Tx) AllianceByName(name string) (ID, bool) {
	id, ok := tx.st.allianceByName[allianceNameKey(name)]
	return id, ok
}

// CreateAlliance stores a new alliance and reserves its name. Members are
// added separately through AddAllianceMember.
func (tx *Tx) CreateAlliance(a Alliance) error {
	tx.write()
	if _, ok := tx.st.alliances[a.ID]; ok {
		return fmt.Errorf("%w: id %s", ErrNameTaken, a.ID.Short())
	}
	key := allianceNameKey(a.Name)
	if _, ok := tx.st.allianceByName[key]; ok {
		return fmt.Errorf("%w: %s", ErrNameTaken, a.Name)
	}
	a.Members = nil
	tx.st.alliances[a.ID] = a
	tx.st.allianceByName[key] = a.ID
	return nil
}

// PutAlliance updates alliance fields. Membership is owned by
// AddAllianceMember/RemoveAllianceMember and is not taken from a.
func (tx *Tx) PutAlliance(a Alliance) error {
	tx.write()
	cur, ok := tx.st.alliances[a.ID]
	if !ok {
		return ErrAllianceNotFound
	}
	a.Members = cur.Members
	if cur.Active && !a.Active {
		if id, ok := tx.st.allianceByName[allianceNameKey(cur.Name)]; ok && id == a.ID {
			delete(tx.st.allianceByName, allianceNameKey(cur.Name))
		}
	}
	tx.st.alliances[a.ID] = a
	return nil
}

// AddAllianceMember adds addr (joining with colony) to the alliance. It is
// the single place that enforces capacity and one-alliance-per-address.
func (tx *Tx) AddAllianceMember(allianceID ID, addr Address, colony ID) error {
	tx.write()
	a, ok := tx.st.alliances[allianceID]
	if !ok {
		return ErrAllianceNotFound
	}
	if !a.Active {
		return ErrAllianceInactive
	}
	if len(a.Members) >= tx.st.config.MaxAllianceMembers {
		return ErrAllianceFull
	}
	if _, ok := tx.st.addressAlliance[addr]; ok {
		return ErrAlreadyInAlliance
	}
	if _, ok := tx.st.colonyAlliance[colony]; ok {
		return fmt.Errorf("%w: colony %s", ErrAlreadyInAlliance, colony.Short())
	}
	a.Members = append(slices.Clone(a.Members), addr)
	tx.st.alliances[allianceID] = a
	tx.st.addressAlliance[addr] = allianceID
	tx.st.memberColony[addr] = colony
	tx.st.colonyAlliance[colony] = allianceID
	return nil
}

// RemoveAllianceMember removes addr from the alliance and clears every index
// direction. It returns the colony the member held the seat with.
func (tx *Tx) RemoveAllianceMember(allianceID ID, addr Address) (ID, error) {
	tx.write()
	a, ok := tx.st.alliances[allianceID]
	if !ok {
		return ZeroID, ErrAllianceNotFound
	}
	idx := slices.Index(a.Members, addr)
	if idx < 0 {
		return ZeroID, ErrNotMember
	}
	a.Members = slices.Delete(slices.Clone(a.Members), idx, idx+1)
	if len(a.Members) == 0 {
		a.Members = nil
	}
	tx.st.alliances[allianceID] = a
	colony := tx.st.memberColony[addr]
	delete(tx.st.addressAlliance, addr)
	delete(tx.st.memberColony, addr)
	if cur, ok := tx.st.colonyAlliance[colony]; ok && cur == allianceID {
		delete(tx.st.colonyAlliance, colony)
	}
	return colony, nil
}

func (tx *Tx) AllianceOfAddress(addr Address) (ID, bool) {
	id, ok := tx.st.addressAlliance[addr]
	return id, ok
}

func (tx *Tx) AllianceOfColony(colony ID) (ID, bool) {
	id, ok := tx.st.colonyAlliance[colony]
	return id, ok
}

// MemberColony is the colony addr holds its alliance seat with.
func (tx *Tx) MemberColony(addr Address) (ID, bool) {
	c, ok := tx.st.memberColony[addr]
	return c, ok
}

// MemberOfColony returns the member address seated with colony.
func (tx *Tx) MemberOfColony(allianceID ID, colony ID) (Address, bool) {
	a, ok := tx.st.alliances[allianceID]
	if !ok {
		return "", false
	}
	for _, m := range a.Members {
		if tx.st.memberColony[m] == colony {
			return m, true
		}
	}
	return "", false
}

func (tx *Tx) Proposal(allianceID ID) (ForgivenessProposal, bool) {
	p, ok := tx.st.proposals[allianceID]
	if !ok {
		return ForgivenessProposal{}, false
	}
	return cloneProposal(p), true
}

func (tx *Tx) PutProposal(p ForgivenessProposal) {
	tx.write()
	tx.st.proposals[p.Alliance] = cloneProposal(p)
}

func (tx *Tx) Proposals() []ForgivenessProposal {
	out := make([]ForgivenessProposal, 0, len(tx.st.proposals))
	for _, p := range tx.st.proposals {
		out = append(out, cloneProposal(p))
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Alliance[:], out[j].Alliance[:]) < 0 })
	return out
}

func (tx *Tx) Invitation(colony ID) (AllianceInvitation, bool) {
	inv, ok := tx.st.invitations[colony]
	return inv, ok
}

func (tx *Tx) PutInvitation(inv AllianceInvitation) {
	tx.write()
	tx.st.invitations[inv.TargetColony] = inv
}

func (tx *Tx) Invitations() []AllianceInvitation {
	out := make([]AllianceInvitation, 0, len(tx.st.invitations))
	for _, inv := range tx.st.invitations {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].TargetColony[:], out[j].TargetColony[:]) < 0 })
	return out
}

func (tx *Tx) Departure(colony ID) (Departure, bool) {
	d, ok := tx.st.departures[colony]
	return d, ok
}

func (tx *Tx) PutDeparture(d Departure) {
	tx.write()
	tx.st.departures[d.Colony] = d
}

func (tx *Tx) IsMarked(allianceID, colony ID) bool {
	return tx.st.betrayalMarks[allianceID][colony]
}

func (tx *Tx) MarkBetrayal(allianceID, colony ID) {
	tx.write()
	marks, ok := tx.st.betrayalMarks[allianceID]
	if !ok {
		marks = map[ID]bool{}
		tx.st.betrayalMarks[allianceID] = marks
	}
	marks[colony] = true
}

func (tx *Tx) ClearBetrayalMark(allianceID, colony ID) {
	tx.write()
	marks, ok := tx.st.betrayalMarks[allianceID]
	if !ok {
		return
	}
	delete(marks, colony)
	if len(marks) == 0 {
		delete(tx.st.betrayalMarks, allianceID)
	}
}

// LastBetrayal is the zero time when the colony has no active cooldown.
func (tx *Tx) LastBetrayal(colony ID) time.Time {
	return tx.st.lastBetrayal[colony]
}

func (tx *Tx) SetLastBetrayal(colony ID, at time.Time) {
	tx.write()
	if at.IsZero() {
		delete(tx.st.lastBetrayal, colony)
		return
	}
	tx.st.lastBetrayal[colony] = at
}

func (tx *Tx) LastFormation(addr Address) time.Time {
	return tx.st.lastFormation[addr]
}

func (tx *Tx) SetLastFormation(addr Address, at time.Time) {
	tx.write()
	tx.st.lastFormation[addr] = at
}

// --- collections, squads, stakes, power cores ---

func (tx *Tx) Collection(id ID) (Collection, bool) {
	c, ok := tx.st.collections[id]
	return c, ok
}

func (tx *Tx) PutCollection(c Collection) {
	tx.write()
	tx.st.collections[c.ID] = c
}

func (tx *Tx) Collections() []Collection {
	out := make([]Collection, 0, len(tx.st.collections))
	for _, c := range tx.st.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out
}

func (tx *Tx) Squad(colony ID) (SquadStakePosition, bool) {
	p, ok := tx.st.squads[colony]
	if !ok {
		return SquadStakePosition{}, false
	}
	return cloneSquad(p), true
}

func (tx *Tx) PutSquad(p SquadStakePosition) {
	tx.write()
	tx.st.squads[p.Colony] = cloneSquad(p)
}

func (tx *Tx) DeleteSquad(colony ID) {
	tx.write()
	delete(tx.st.squads, colony)
}

func (tx *Tx) Stake(token TokenRef) (StakeRecord, bool) {
	r, ok := tx.st.stakes[token.Key()]
	return r, ok
}

func (tx *Tx) PutStake(r StakeRecord) error {
	tx.write()
	key := r.Token.Key()
	if cur, ok := tx.st.stakes[key]; ok && cur.Colony != r.Colony {
		return ErrAlreadyStaked
	}
	tx.st.stakes[key] = r
	return nil
}

func (tx *Tx) DeleteStake(token TokenRef) {
	tx.write()
	delete(tx.st.stakes, token.Key())
}

// CollectionStaked reports whether any asset of the collection is staked.
func (tx *Tx) CollectionStaked(collection ID) bool {
	for _, r := range tx.st.stakes {
		if r.Token.Collection == collection {
			return true
		}
	}
	return false
}

func (tx *Tx) PowerCore(token TokenRef) (PowerMatrix, bool) {
	p, ok := tx.st.powerCores[token.Key()]
	return p, ok
}

func (tx *Tx) PutPowerCore(p PowerMatrix) {
	tx.write()
	tx.st.powerCores[p.Token.Key()] = p
}

// --- territories ---

func (tx *Tx) Territory(id ID) (Territory, bool) {
	t, ok := tx.st.territories[id]
	return t, ok
}

// PutTerritory stores territory fields except control, which is owned by
// SetTerritoryController.
func (tx *Tx) PutTerritory(t Territory) {
	tx.write()
	if cur, ok := tx.st.territories[t.ID]; ok {
		t.ControllingColony = cur.ControllingColony
	} else {
		t.ControllingColony = ZeroID
	}
	tx.st.territories[t.ID] = t
}

// SetTerritoryController moves control of a territory and updates the
// colony->territories index on both sides.
func (tx *Tx) SetTerritoryController(id ID, colony ID) error {
	tx.write()
	t, ok := tx.st.territories[id]
	if !ok {
		return fmt.Errorf("territory %s not found", id.Short())
	}
	if prev := t.ControllingColony; !prev.IsZero() {
		list := slices.DeleteFunc(slices.Clone(tx.st.colonyTerritories[prev]), func(x ID) bool { return x == id })
		if len(list) == 0 {
			delete(tx.st.colonyTerritories, prev)
		} else {
			tx.st.colonyTerritories[prev] = list
		}
	}
	t.ControllingColony = colony
	tx.st.territories[id] = t
	if !colony.IsZero() {
		tx.st.colonyTerritories[colony] = append(slices.Clone(tx.st.colonyTerritories[colony]), id)
	}
	return nil
}

func (tx *Tx) TerritoriesOf(colony ID) []Territory {
	ids := tx.st.colonyTerritories[colony]
	out := make([]Territory, 0, len(ids))
	for _, id := range ids {
		out = append(out, tx.st.territories[id])
	}
	return out
}

func (tx *Tx) Territories() []Territory {
	out := make([]Territory, 0, len(tx.st.territories))
	for _, t := range tx.st.territories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out
}

func (tx *Tx) Node(territory ID) (ResourceNode, bool) {
	n, ok := tx.st.nodes[territory]
	return n, ok
}

func (tx *Tx) PutNode(n ResourceNode) {
	tx.write()
	tx.st.nodes[n.Territory] = n
}

// --- battles ---

// NextBattleID reserves the id of the next battle.
func (tx *Tx) NextBattleID(season uint64) ID {
	tx.write()
	tx.st.battleSeq++
	var a, b [8]byte
	binary.BigEndian.PutUint64(a[:], season)
	binary.BigEndian.PutUint64(b[:], tx.st.battleSeq)
	return DeriveID("battle", a[:], b[:])
}

func (tx *Tx) Battle(id ID) (Battle, bool) {
	b, ok := tx.st.battles[id]
	return b, ok
}

func (tx *Tx) PutBattle(b Battle) {
	tx.write()
	tx.st.battles[b.ID] = b
}

// BattlesInvolving lists battles of the season where colony is attacker or
// defender, oldest first.
func (tx *Tx) BattlesInvolving(season uint64, colony ID) []Battle {
	out := make([]Battle, 0)
	for _, b := range tx.st.battles {
		if b.Season != season {
			continue
		}
		if b.Attacker == colony || b.Defender == colony {
			out = append(out, b)
		}
	}
	sortBattles(out)
	return out
}

func sortBattles(bs []Battle) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].StartedAt.Equal(bs[j].StartedAt) {
			return bs[i].StartedAt.Before(bs[j].StartedAt)
		}
		return bytes.Compare(bs[i].ID[:], bs[j].ID[:]) < 0
	})
}
