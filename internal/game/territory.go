package game

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"colonywars/internal/ledger"
)

const (
	TerritoryPlains uint8 = iota
	TerritoryForest
	TerritoryHighlands
	TerritoryMountains
	territoryTypeCount
)

const resourceTypeCount = 4

// Territories manages the contested map: generation, claims and upkeep.
type Territories struct {
	*engine
}

// fractalNoise layers octaves of noise into a value in [0, 1).
func fractalNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total, amplitude, maxVal := 0.0, 1.0, 0.0
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxVal
}

// generateTerritories lays count territories on a square grid and derives
// their type, bonus and resource node from noise, so the same seed always
// produces the same map.
func generateTerritories(count int, seed int64, now time.Time) ([]ledger.Territory, []ledger.ResourceNode) {
	terrain := opensimplex.NewNormalized(seed)
	richness := opensimplex.NewNormalized(seed + 1)
	side := int(math.Ceil(math.Sqrt(float64(count))))

	var seedBytes [8]byte
	binary.BigEndian.PutUint64(seedBytes[:], uint64(seed))

	territories := make([]ledger.Territory, 0, count)
	nodes := make([]ledger.ResourceNode, 0)
	for i := 0; i < count; i++ {
		x, y := float64(i%side), float64(i/side)
		elev := fractalNoise(terrain, x, y, 4, 0.15, 0.5)
		rich := fractalNoise(richness, x, y, 3, 0.2, 0.5)

		var idx [8]byte
		binary.BigEndian.PutUint64(idx[:], uint64(i))
		t := ledger.Territory{
			ID:            ledger.DeriveID("territory", seedBytes[:], idx[:]),
			TerritoryType: min(uint8(elev*float64(territoryTypeCount)), territoryTypeCount-1),
			BonusValue:    5 + int(elev*20),
			Active:        true,
		}
		territories = append(territories, t)
		if rich >= 0.5 {
			nodes = append(nodes, ledger.ResourceNode{
				Territory:       t.ID,
				ResourceType:    uint8(int(rich*100) % resourceTypeCount),
				NodeLevel:       1 + int((rich-0.5)*6),
				LastHarvestTime: now,
				Active:          true,
			})
		}
	}
	return territories, nodes
}

// Seed generates count territories from seed. Territories that already exist
// are left untouched.
func (t *Territories) Seed(ctx context.Context, caller ledger.Address, count int, seed int64) ([]ledger.Territory, error) {
	var out []ledger.Territory
	err := t.update(ctx, "seed_territories", func(tx *ledger.Tx) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		if count <= 0 || count > MaxSeedTerritories {
			return fmt.Errorf("%w: %d", ErrInvalidSeedCount, count)
		}
		territories, nodes := generateTerritories(count, seed, tx.Now())
		created := map[ledger.ID]bool{}
		for _, terr := range territories {
			if _, ok := tx.Territory(terr.ID); ok {
				continue
			}
			tx.PutTerritory(terr)
			created[terr.ID] = true
			out = append(out, terr)
		}
		for _, n := range nodes {
			if created[n.Territory] {
				tx.PutNode(n)
			}
		}
		tx.Emit(ledger.Event{
			Type:  ledger.EventTerritorySeeded,
			Actor: caller,
			Data:  map[string]any{"seed": seed, "created": len(out)},
		})
		return nil
	})
	return out, err
}

// Claim puts an uncontrolled territory under colony's control.
func (t *Territories) Claim(ctx context.Context, caller ledger.Address, colony, territory ledger.ID) (ledger.Territory, error) {
	var out ledger.Territory
	err := t.update(ctx, "claim_territory", func(tx *ledger.Tx) error {
		if err := t.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		s, err := t.currentSeason(tx)
		if err != nil {
			return err
		}
		switch s.Phase(tx.Now()) {
		case ledger.PhaseRegistration, ledger.PhaseWarfare:
		default:
			return fmt.Errorf("%w: claims are closed in %s", ErrRegistrationClosed, s.Phase(tx.Now()))
		}
		if _, err := t.registered(tx, colony); err != nil {
			return err
		}
		terr, ok := tx.Territory(territory)
		if !ok || !terr.Active {
			return ErrTerritoryNotFound
		}
		if !terr.ControllingColony.IsZero() {
			return ErrTerritoryControlled
		}
		fee := tx.Config().Fees[ledger.FeeTerritoryClaim]
		if err := t.collect(tx, caller, fee, "territory claim"); err != nil {
			return err
		}
		if err := addToPrizePool(tx, fee); err != nil {
			return err
		}
		terr.LastMaintenancePayment = tx.Now()
		tx.PutTerritory(terr)
		if err := tx.SetTerritoryController(territory, colony); err != nil {
			return err
		}
		out, _ = tx.Territory(territory)
		tx.Emit(ledger.Event{
			Type:   ledger.EventTerritoryClaimed,
			Season: s.ID,
			Colony: colony,
			Actor:  caller,
			Data:   map[string]any{"territory": territory.String(), "fee": fee},
		})
		return nil
	})
	return out, err
}

func (t *Territories) PayMaintenance(ctx context.Context, caller ledger.Address, colony, territory ledger.ID) (ledger.Territory, error) {
	var out ledger.Territory
	err := t.update(ctx, "pay_maintenance", func(tx *ledger.Tx) error {
		if err := t.requireAuthorized(tx, colony, caller); err != nil {
			return err
		}
		terr, ok := tx.Territory(territory)
		if !ok {
			return ErrTerritoryNotFound
		}
		if terr.ControllingColony != colony {
			return ErrNotTerritoryController
		}
		fee := tx.Config().Fees[ledger.FeeTerritoryMaintenance]
		if err := t.collect(tx, caller, fee, "territory maintenance"); err != nil {
			return err
		}
		if err := addToPrizePool(tx, fee); err != nil {
			return err
		}
		terr.LastMaintenancePayment = tx.Now()
		tx.PutTerritory(terr)
		out = terr
		tx.Emit(ledger.Event{
			Type:   ledger.EventTerritoryMaintained,
			Colony: colony,
			Actor:  caller,
			Data:   map[string]any{"territory": territory.String(), "fee": fee},
		})
		return nil
	})
	return out, err
}

// vulnerableTerritories lists colony territories whose maintenance is overdue.
func vulnerableTerritories(tx *ledger.Tx, colony ledger.ID) []ledger.Territory {
	period := tx.Config().MaintenancePeriod
	now := tx.Now()
	out := make([]ledger.Territory, 0)
	for _, terr := range tx.TerritoriesOf(colony) {
		if now.Sub(terr.LastMaintenancePayment) > period {
			out = append(out, terr)
		}
	}
	return out
}

func (t *Territories) Vulnerable(ctx context.Context, colony ledger.ID) ([]ledger.Territory, error) {
	var out []ledger.Territory
	err := t.view(ctx, func(tx *ledger.Tx) error {
		out = vulnerableTerritories(tx, colony)
		return nil
	})
	return out, err
}

func (t *Territories) Controlled(ctx context.Context, colony ledger.ID) ([]ledger.Territory, error) {
	var out []ledger.Territory
	err := t.view(ctx, func(tx *ledger.Tx) error {
		out = tx.TerritoriesOf(colony)
		return nil
	})
	return out, err
}

func (t *Territories) Territory(ctx context.Context, id ledger.ID) (ledger.Territory, *ledger.ResourceNode, error) {
	var (
		out  ledger.Territory
		node *ledger.ResourceNode
	)
	err := t.view(ctx, func(tx *ledger.Tx) error {
		terr, ok := tx.Territory(id)
		if !ok {
			return ErrTerritoryNotFound
		}
		out = terr
		if n, ok := tx.Node(id); ok {
			node = &n
		}
		return nil
	})
	return out, node, err
}
