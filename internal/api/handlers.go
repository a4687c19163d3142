package api

import (
	"net/http"
	"strings"
	"time"

	"colonywars/internal/game"
	"colonywars/internal/ledger"

	"github.com/go-chi/chi/v5"
)

// --- seasons and registry ---

func (s *Server) handleCurrentSeason(w http.ResponseWriter, r *http.Request) {
	season, err := s.game.Registry.CurrentSeason(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"season": season,
		"phase":  season.Phase(s.game.Store().Now()),
	})
}

func (s *Server) handleStartSeason(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Start        time.Time `json:"start"`
		Registration string    `json:"registration"`
		Warfare      string    `json:"warfare"`
		Resolution   string    `json:"resolution"`
		PrizePool    int64     `json:"prize_pool"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	input := game.SeasonInput{Start: in.Start, PrizePool: in.PrizePool}
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"registration", in.Registration, &input.Registration},
		{"warfare", in.Warfare, &input.Warfare},
		{"resolution", in.Resolution, &input.Resolution},
	} {
		d, err := time.ParseDuration(strings.TrimSpace(f.raw))
		if err != nil {
			writeError(w, http.StatusBadRequest, f.name+": "+err.Error())
			return
		}
		*f.dst = d
	}
	season, err := s.game.Registry.StartSeason(r.Context(), callerFromContext(r.Context()), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, season)
}

func (s *Server) handleEndSeason(w http.ResponseWriter, r *http.Request) {
	season, err := s.game.Registry.EndSeason(r.Context(), callerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, season)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Stake int64 `json:"stake"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	profile, err := s.game.Registry.RegisterColony(r.Context(), callerFromContext(r.Context()), colony, in.Stake)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleSetPrimary(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.Registry.SetPrimaryColony(r.Context(), callerFromContext(r.Context()), colony); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePrimaryColony(w http.ResponseWriter, r *http.Request) {
	colony, err := s.game.Registry.PrimaryColony(r.Context(), ledger.NormalizeAddress(chi.URLParam(r, "address")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"colony": colony})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	profile, err := s.game.Registry.Profile(r.Context(), colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleAuthorization(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addr := ledger.NormalizeAddress(r.URL.Query().Get("address"))
	if addr.IsZero() {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	creator, err := s.game.Registry.IsColonyCreator(r.Context(), colony, addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	authorized, err := s.game.Registry.IsAuthorizedForColony(r.Context(), colony, addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"creator": creator, "authorized": authorized})
}

// --- strategic overview ---

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Overview.ColonyStrategicOverview(r.Context(), colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReinforce(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	profile, err := s.game.Overview.ReinforceDefensivePosition(r.Context(), callerFromContext(r.Context()), colony, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Overview.WithdrawFromWarfare(r.Context(), callerFromContext(r.Context()), colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBattlePower(w http.ResponseWriter, r *http.Request) {
	attacker, err := ledger.ParseID(r.URL.Query().Get("attacker"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "attacker: "+err.Error())
		return
	}
	defender, err := ledger.ParseID(r.URL.Query().Get("defender"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "defender: "+err.Error())
		return
	}
	out, err := s.game.Overview.CompareBattlePower(r.Context(), attacker, defender)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- alliances ---

func (s *Server) handleAlliances(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	out, err := s.game.Alliances.List(r.Context(), activeOnly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alliances": out})
}

func (s *Server) handleAlliance(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "alliance")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Alliances.Alliance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleColonyAlliance(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Alliances.AllianceOf(r.Context(), colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBonuses(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Alliances.DefensiveBonuses(r.Context(), colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "alliance")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Alliances.Proposal(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAlliance(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name   string    `json:"name"`
		Colony ledger.ID `json:"colony"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Alliances.CreateAlliance(r.Context(), callerFromContext(r.Context()), in.Name, in.Colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleJoinAlliance(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "alliance")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Colony ledger.ID `json:"colony"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.Alliances.JoinAlliance(r.Context(), callerFromContext(r.Context()), id, in.Colony); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSendInvitation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Colony ledger.ID `json:"colony"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Alliances.SendInvitation(r.Context(), callerFromContext(r.Context()), in.Colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleInvitation(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Alliances.Invitation(r.Context(), colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.Alliances.AcceptInvitation(r.Context(), callerFromContext(r.Context()), colony); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDeclineInvitation(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.Alliances.DeclineInvitation(r.Context(), callerFromContext(r.Context()), colony); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if err := s.game.Alliances.LeaveAlliance(r.Context(), callerFromContext(r.Context())); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDisband(w http.ResponseWriter, r *http.Request) {
	if err := s.game.Alliances.DisbandAlliance(r.Context(), callerFromContext(r.Context())); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTransferLeadership(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Colony ledger.ID `json:"colony"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.Alliances.TransferLeadership(r.Context(), callerFromContext(r.Context()), in.Colony); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	treasury, err := s.game.Alliances.Contribute(r.Context(), callerFromContext(r.Context()), in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shared_treasury": treasury})
}

func (s *Server) handleAid(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Colony ledger.ID `json:"colony"`
		Amount int64     `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.Alliances.SendAid(r.Context(), callerFromContext(r.Context()), in.Colony, in.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleBetrayal(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Colony ledger.ID `json:"colony"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.Alliances.RecordBetrayal(r.Context(), callerFromContext(r.Context()), in.Colony); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleProposeForgiveness(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Colony ledger.ID `json:"colony"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Alliances.ProposeForgiveness(r.Context(), callerFromContext(r.Context()), in.Colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Support bool `json:"support"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Alliances.VoteOnForgiveness(r.Context(), callerFromContext(r.Context()), in.Support)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- squads and power cores ---

func (s *Server) handleSquad(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Squads.Squad(r.Context(), colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSynergy(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bonus, err := s.game.Squads.Synergy(r.Context(), colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synergy_bonus": bonus})
}

func (s *Server) handleStakeSquad(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in game.SquadInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Squads.StakeSquad(r.Context(), callerFromContext(r.Context()), colony, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleAddSquadItem(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Category string          `json:"category"`
		Token    ledger.TokenRef `json:"token"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	category, err := ledger.ParseCategory(in.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Squads.AddSquadItem(r.Context(), callerFromContext(r.Context()), colony, category, in.Token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRemoveSquadItem(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Token ledger.TokenRef `json:"token"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Squads.RemoveSquadItem(r.Context(), callerFromContext(r.Context()), colony, in.Token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSwapSquadItem(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Outgoing ledger.TokenRef `json:"outgoing"`
		Incoming ledger.TokenRef `json:"incoming"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Squads.SwapSquadItem(r.Context(), callerFromContext(r.Context()), colony, in.Outgoing, in.Incoming)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.Squads.UnstakeSquad(r.Context(), callerFromContext(r.Context()), colony); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEmergencyUnstake(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.Squads.EmergencyUnstake(r.Context(), callerFromContext(r.Context()), colony); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePowerCore(w http.ResponseWriter, r *http.Request) {
	token, err := tokenParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.PowerCores.Charge(r.Context(), token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInstallPowerCore(w http.ResponseWriter, r *http.Request) {
	token, err := tokenParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		MaxCharge int `json:"max_charge"`
		Charge    int `json:"charge"`
		Fatigue   int `json:"fatigue"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.PowerCores.Install(r.Context(), callerFromContext(r.Context()), token, in.MaxCharge, in.Charge, in.Fatigue)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConsumeCharge(w http.ResponseWriter, r *http.Request) {
	token, err := tokenParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Amount int `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.PowerCores.Consume(r.Context(), callerFromContext(r.Context()), token, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- territories and battles ---

func (s *Server) handleSeedTerritories(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Count int   `json:"count"`
		Seed  int64 `json:"seed"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Territories.Seed(r.Context(), callerFromContext(r.Context()), in.Count, in.Seed)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"territories": out})
}

func (s *Server) handleTerritory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "territory")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	terr, node, err := s.game.Territories.Territory(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"territory": terr, "node": node})
}

func (s *Server) handleControlled(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Territories.Controlled(r.Context(), colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"territories": out})
}

func (s *Server) handleVulnerable(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Territories.Vulnerable(r.Context(), colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"territories": out})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	territory, err := idParam(r, "territory")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Territories.Claim(r.Context(), callerFromContext(r.Context()), colony, territory)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMaintain(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	territory, err := idParam(r, "territory")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Territories.PayMaintenance(r.Context(), callerFromContext(r.Context()), colony, territory)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeclareBattle(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Attacker  ledger.ID `json:"attacker"`
		Defender  ledger.ID `json:"defender"`
		Territory ledger.ID `json:"territory"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Battles.Declare(r.Context(), callerFromContext(r.Context()), in.Attacker, in.Defender, in.Territory)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleBattle(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "battle")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Battles.Battle(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleColonyBattles(w http.ResponseWriter, r *http.Request) {
	colony, err := idParam(r, "colony")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Battles.Involving(r.Context(), colony)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"battles": out})
}

func (s *Server) handleResolveBattle(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "battle")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		AttackerWon bool `json:"attacker_won"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Battles.Resolve(r.Context(), callerFromContext(r.Context()), id, in.AttackerWon)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- admin ---

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Admin.Config(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Admin.Collections(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": out})
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Key    string `json:"key"`
		Amount int64  `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Admin.SetFee(r.Context(), callerFromContext(r.Context()), in.Key, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetMaxMembers(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Max int `json:"max"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Admin.SetMaxAllianceMembers(r.Context(), callerFromContext(r.Context()), in.Max)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegisterCollection(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Contract string `json:"contract"`
		Category string `json:"category"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	category, err := ledger.ParseCategory(in.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Admin.RegisterCollection(r.Context(), callerFromContext(r.Context()), ledger.NormalizeAddress(in.Contract), category)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleCollectionEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Admin.SetCollectionEnabled(r.Context(), callerFromContext(r.Context()), id, in.Enabled)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
