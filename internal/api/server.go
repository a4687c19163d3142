package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"colonywars/internal/config"
	"colonywars/internal/db"
	"colonywars/internal/game"
	"colonywars/internal/ledger"
	"colonywars/internal/oracle"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const callerHeader = "X-Caller-Address"

type contextKey string

const callerContextKey contextKey = "caller"

// EventLog serves journaled events older than the in-memory tail.
type EventLog interface {
	Events(ctx context.Context, after uint64, limit int) ([]ledger.Event, error)
}

type Server struct {
	cfg     config.APIConfig
	log     *slog.Logger
	game    *game.Service
	history EventLog
	limiter *callerLimiter
	mux     *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, gameSvc *game.Service, history EventLog) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		game:    gameSvc,
		history: history,
		limiter: newCallerLimiter(cfg.RateLimit, cfg.RateBurst),
		mux:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rejectReentrant)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "seq": s.game.Store().LastSeq()})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.middleware)

		r.Get("/season", s.handleCurrentSeason)
		r.Get("/config", s.handleConfig)
		r.Get("/collections", s.handleCollections)
		r.Get("/events", s.handleEvents)
		r.Get("/battle-power", s.handleBattlePower)
		r.Get("/addresses/{address}/primary", s.handlePrimaryColony)

		r.Get("/colonies/{colony}/profile", s.handleProfile)
		r.Get("/colonies/{colony}/overview", s.handleOverview)
		r.Get("/colonies/{colony}/authorization", s.handleAuthorization)
		r.Get("/colonies/{colony}/alliance", s.handleColonyAlliance)
		r.Get("/colonies/{colony}/bonuses", s.handleBonuses)
		r.Get("/colonies/{colony}/invitation", s.handleInvitation)
		r.Get("/colonies/{colony}/squad", s.handleSquad)
		r.Get("/colonies/{colony}/squad/synergy", s.handleSynergy)
		r.Get("/colonies/{colony}/territories", s.handleControlled)
		r.Get("/colonies/{colony}/territories/vulnerable", s.handleVulnerable)
		r.Get("/colonies/{colony}/battles", s.handleColonyBattles)

		r.Get("/alliances", s.handleAlliances)
		r.Get("/alliances/{alliance}", s.handleAlliance)
		r.Get("/alliances/{alliance}/proposal", s.handleProposal)
		r.Get("/territories/{territory}", s.handleTerritory)
		r.Get("/battles/{battle}", s.handleBattle)
		r.Get("/power-cores/{collection}/{token}", s.handlePowerCore)

		r.Group(func(r chi.Router) {
			r.Use(s.callerMiddleware)

			r.Post("/colonies/{colony}/register", s.handleRegister)
			r.Post("/colonies/{colony}/primary", s.handleSetPrimary)
			r.Post("/colonies/{colony}/reinforce", s.handleReinforce)
			r.Post("/colonies/{colony}/withdraw", s.handleWithdraw)
			r.Post("/colonies/{colony}/invitation/accept", s.handleAcceptInvitation)
			r.Post("/colonies/{colony}/invitation/decline", s.handleDeclineInvitation)
			r.Post("/colonies/{colony}/squad", s.handleStakeSquad)
			r.Post("/colonies/{colony}/squad/items", s.handleAddSquadItem)
			r.Post("/colonies/{colony}/squad/items/remove", s.handleRemoveSquadItem)
			r.Post("/colonies/{colony}/squad/swap", s.handleSwapSquadItem)
			r.Post("/colonies/{colony}/squad/unstake", s.handleUnstake)
			r.Post("/colonies/{colony}/squad/emergency-unstake", s.handleEmergencyUnstake)
			r.Post("/colonies/{colony}/territories/{territory}/claim", s.handleClaim)
			r.Post("/colonies/{colony}/territories/{territory}/maintain", s.handleMaintain)

			r.Post("/alliances", s.handleCreateAlliance)
			r.Post("/alliances/{alliance}/join", s.handleJoinAlliance)
			r.Post("/alliance/invitations", s.handleSendInvitation)
			r.Post("/alliance/leave", s.handleLeave)
			r.Post("/alliance/disband", s.handleDisband)
			r.Post("/alliance/leader", s.handleTransferLeadership)
			r.Post("/alliance/contribute", s.handleContribute)
			r.Post("/alliance/aid", s.handleAid)
			r.Post("/alliance/betrayals", s.handleBetrayal)
			r.Post("/alliance/forgiveness", s.handleProposeForgiveness)
			r.Post("/alliance/forgiveness/vote", s.handleVote)

			r.Post("/battles", s.handleDeclareBattle)
			r.Post("/power-cores/{collection}/{token}/consume", s.handleConsumeCharge)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/seasons", s.handleStartSeason)
				r.Post("/seasons/end", s.handleEndSeason)
				r.Post("/fees", s.handleSetFee)
				r.Post("/max-alliance-members", s.handleSetMaxMembers)
				r.Post("/collections", s.handleRegisterCollection)
				r.Post("/collections/{id}/enabled", s.handleCollectionEnabled)
				r.Post("/territories/seed", s.handleSeedTerritories)
				r.Post("/battles/{battle}/resolve", s.handleResolveBattle)
				r.Post("/power-cores/{collection}/{token}", s.handleInstallPowerCore)
				r.Post("/sweep", s.handleSweep)
			})
		})
	})
}

// rejectReentrant turns away oracle callbacks made from inside a ledger
// operation. Served normally they would wait on the lock that operation holds.
func rejectReentrant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(oracle.OperationHeader) != "" {
			writeError(w, http.StatusConflict, ledger.ErrReentrantCall.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerMiddleware requires the caller address set by the upstream gateway.
func (s *Server) callerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := callerAddress(r)
		if caller.IsZero() {
			writeError(w, http.StatusUnauthorized, "missing "+callerHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), callerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerAddress(r *http.Request) ledger.Address {
	return ledger.NormalizeAddress(r.Header.Get(callerHeader))
}

func callerFromContext(ctx context.Context) ledger.Address {
	caller, _ := ctx.Value(callerContextKey).(ledger.Address)
	return caller
}

// statusFor maps domain errors to HTTP statuses. Order matters only where a
// wrapped error matches more than one entry.
var statusFor = []struct {
	err    error
	status int
}{
	{game.ErrOracleUnavailable, http.StatusServiceUnavailable},
	{game.ErrReentrantCall, http.StatusConflict},
	{db.ErrTxConflict, http.StatusConflict},
	{game.ErrRateLimitExceeded, http.StatusTooManyRequests},

	{game.ErrUnauthorized, http.StatusForbidden},
	{game.ErrNotController, http.StatusForbidden},
	{game.ErrNotColonyOwner, http.StatusForbidden},
	{game.ErrNotLeader, http.StatusForbidden},
	{game.ErrNotAssetOwner, http.StatusForbidden},
	{game.ErrNotTerritoryController, http.StatusForbidden},

	{game.ErrNoActiveSeason, http.StatusNotFound},
	{game.ErrColonyNotRegistered, http.StatusNotFound},
	{game.ErrNoPrimaryColony, http.StatusNotFound},
	{game.ErrAllianceNotFound, http.StatusNotFound},
	{game.ErrNotMember, http.StatusNotFound},
	{game.ErrInvitationNotFound, http.StatusNotFound},
	{game.ErrNoActiveProposal, http.StatusNotFound},
	{game.ErrNoActiveSquad, http.StatusNotFound},
	{game.ErrPowerCoreMissing, http.StatusNotFound},
	{game.ErrCollectionNotRegistered, http.StatusNotFound},
	{game.ErrUnknownCollection, http.StatusNotFound},
	{game.ErrTerritoryNotFound, http.StatusNotFound},
	{game.ErrBattleNotFound, http.StatusNotFound},

	{game.ErrAllianceAlreadyExists, http.StatusConflict},
	{game.ErrAlreadyInAlliance, http.StatusConflict},
	{game.ErrAlreadyRegistered, http.StatusConflict},
	{game.ErrSeasonActive, http.StatusConflict},
	{game.ErrDuplicateController, http.StatusConflict},
	{game.ErrInvitationPending, http.StatusConflict},
	{game.ErrBetrayalAlreadyRecorded, http.StatusConflict},
	{game.ErrProposalActive, http.StatusConflict},
	{game.ErrAlreadyVoted, http.StatusConflict},
	{game.ErrSquadAlreadyStaked, http.StatusConflict},
	{game.ErrAssetAlreadyStaked, http.StatusConflict},
	{game.ErrPowerCoreLocked, http.StatusConflict},
	{game.ErrTerritoryControlled, http.StatusConflict},
	{game.ErrBattleResolved, http.StatusConflict},
	{game.ErrAllianceNotEmpty, http.StatusConflict},
	{game.ErrCannotLeaveAsLeader, http.StatusConflict},

	{game.ErrBetrayalCooldownActive, http.StatusUnprocessableEntity},
	{game.ErrFormationNotYetAllowed, http.StatusUnprocessableEntity},
	{game.ErrFormationClosed, http.StatusUnprocessableEntity},
	{game.ErrRegistrationClosed, http.StatusUnprocessableEntity},
	{game.ErrNotWarfarePhase, http.StatusUnprocessableEntity},
	{game.ErrAttackCooldown, http.StatusUnprocessableEntity},
	{game.ErrReinforcementLimit, http.StatusUnprocessableEntity},
	{game.ErrInvitationExpired, http.StatusUnprocessableEntity},
	{game.ErrVotingClosed, http.StatusUnprocessableEntity},
	{game.ErrAllianceFull, http.StatusUnprocessableEntity},
	{game.ErrAllianceInactive, http.StatusUnprocessableEntity},
	{game.ErrDebtTooHigh, http.StatusUnprocessableEntity},
	{game.ErrMarkedBetrayer, http.StatusUnprocessableEntity},
	{game.ErrChargeTooLow, http.StatusUnprocessableEntity},
	{game.ErrCollectionDisabled, http.StatusUnprocessableEntity},
	{game.ErrStakeTooLow, http.StatusUnprocessableEntity},
	{game.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{game.ErrInsufficientTreasury, http.StatusUnprocessableEntity},
	{game.ErrSquadSlotFull, http.StatusUnprocessableEntity},
	{game.ErrAlliedTarget, http.StatusUnprocessableEntity},

	{game.ErrInvalidAmount, http.StatusBadRequest},
	{game.ErrInvalidSeason, http.StatusBadRequest},
	{game.ErrInvalidAllianceName, http.StatusBadRequest},
	{game.ErrSameColony, http.StatusBadRequest},
	{game.ErrNotBetrayer, http.StatusBadRequest},
	{game.ErrNotMarked, http.StatusBadRequest},
	{game.ErrEmptySquad, http.StatusBadRequest},
	{game.ErrDuplicateAsset, http.StatusBadRequest},
	{game.ErrAssetNotInSquad, http.StatusBadRequest},
	{game.ErrCategoryMismatch, http.StatusBadRequest},
	{game.ErrInvalidPowerCore, http.StatusBadRequest},
	{game.ErrInvalidSeedCount, http.StatusBadRequest},
	{game.ErrReinforcementTooLarge, http.StatusBadRequest},
	{game.ErrUnknownFeeType, http.StatusBadRequest},
	{game.ErrInvalidConfig, http.StatusBadRequest},
	{ledger.ErrInvalidID, http.StatusBadRequest},
}

func writeDomainError(w http.ResponseWriter, err error) {
	for _, m := range statusFor {
		if errors.Is(err, m.err) {
			writeError(w, m.status, err.Error())
			return
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idParam(r *http.Request, name string) (ledger.ID, error) {
	id, err := ledger.ParseID(chi.URLParam(r, name))
	if err != nil {
		return ledger.ZeroID, fmt.Errorf("%s: %w", name, err)
	}
	return id, nil
}

func tokenParam(r *http.Request) (ledger.TokenRef, error) {
	collection, err := idParam(r, "collection")
	if err != nil {
		return ledger.TokenRef{}, err
	}
	tokenID, err := strconv.ParseUint(chi.URLParam(r, "token"), 10, 64)
	if err != nil {
		return ledger.TokenRef{}, fmt.Errorf("token: %w", err)
	}
	return ledger.TokenRef{Collection: collection, TokenID: tokenID}, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, err := strconv.ParseUint(strings.TrimSpace(r.URL.Query().Get("after")), 10, 64)
	if err != nil && r.URL.Query().Get("after") != "" {
		writeError(w, http.StatusBadRequest, "after must be a sequence number")
		return
	}
	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	events := s.game.Events(after, limit)
	// The tail is bounded; fall back to the journal when it no longer
	// reaches back to after.
	if s.history != nil && (len(events) == 0 || events[0].Seq != after+1) && after < s.game.Store().LastSeq() {
		events, err = s.history.Events(r.Context(), after, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "last_seq": s.game.Store().LastSeq()})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.game.Admin.Config(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !cfg.IsAdmin(callerFromContext(r.Context())) {
		writeDomainError(w, game.ErrUnauthorized)
		return
	}
	out, err := s.game.Sweep(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
