package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"colonywars/internal/game"
	"colonywars/internal/ledger"
)

const callerHeader = "X-Caller-Address"

// APIError is a non-2xx answer from the API. Message is the server's error
// text when the body carried one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server rather than the
// network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Caller  ledger.Address
}

func NewClient(baseURL string, caller ledger.Address) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
		Caller: caller,
	}
}

type SeasonView struct {
	Season ledger.Season `json:"season"`
	Phase  ledger.Phase  `json:"phase"`
}

type EventPage struct {
	Events  []ledger.Event `json:"events"`
	LastSeq uint64         `json:"last_seq"`
}

type TerritoryView struct {
	Territory ledger.Territory    `json:"territory"`
	Node      ledger.ResourceNode `json:"node"`
}

func (c *Client) Health(ctx context.Context) (uint64, error) {
	var out struct {
		Seq uint64 `json:"seq"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/healthz", c.Caller, nil, &out)
	return out.Seq, err
}

func (c *Client) Season(ctx context.Context) (SeasonView, error) {
	var out SeasonView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/season", c.Caller, nil, &out)
	return out, err
}

func (c *Client) Config(ctx context.Context) (ledger.Config, error) {
	var out ledger.Config
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/config", c.Caller, nil, &out)
	return out, err
}

func (c *Client) Events(ctx context.Context, after uint64, limit int) (EventPage, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	q.Set("limit", strconv.Itoa(limit))
	var out EventPage
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/events?"+q.Encode(), c.Caller, nil, &out)
	return out, err
}

func (c *Client) PrimaryColony(ctx context.Context, addr ledger.Address) (ledger.ID, error) {
	var out struct {
		Colony ledger.ID `json:"colony"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/addresses/"+url.PathEscape(string(addr))+"/primary", c.Caller, nil, &out)
	return out.Colony, err
}

func (c *Client) Profile(ctx context.Context, colony ledger.ID) (ledger.ColonyWarProfile, error) {
	var out ledger.ColonyWarProfile
	err := c.jsonRequest(ctx, http.MethodGet, colonyPath(colony, "profile"), c.Caller, nil, &out)
	return out, err
}

func (c *Client) Overview(ctx context.Context, colony ledger.ID) (game.StrategicOverview, error) {
	var out game.StrategicOverview
	err := c.jsonRequest(ctx, http.MethodGet, colonyPath(colony, "overview"), c.Caller, nil, &out)
	return out, err
}

func (c *Client) BattlePower(ctx context.Context, attacker, defender ledger.ID) (game.BattlePowerComparison, error) {
	q := url.Values{}
	q.Set("attacker", attacker.String())
	q.Set("defender", defender.String())
	var out game.BattlePowerComparison
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/battle-power?"+q.Encode(), c.Caller, nil, &out)
	return out, err
}

func (c *Client) RegisterColony(ctx context.Context, colony ledger.ID, stake int64) (ledger.ColonyWarProfile, error) {
	var out ledger.ColonyWarProfile
	err := c.jsonRequest(ctx, http.MethodPost, colonyPath(colony, "register"), c.Caller, map[string]any{
		"stake": stake,
	}, &out)
	return out, err
}

func (c *Client) SetPrimary(ctx context.Context, colony ledger.ID) error {
	return c.jsonRequest(ctx, http.MethodPost, colonyPath(colony, "primary"), c.Caller, map[string]any{}, nil)
}

func (c *Client) Reinforce(ctx context.Context, colony ledger.ID, amount int64) (ledger.ColonyWarProfile, error) {
	var out ledger.ColonyWarProfile
	err := c.jsonRequest(ctx, http.MethodPost, colonyPath(colony, "reinforce"), c.Caller, map[string]any{
		"amount": amount,
	}, &out)
	return out, err
}

func (c *Client) Withdraw(ctx context.Context, colony ledger.ID) (game.WithdrawalResult, error) {
	var out game.WithdrawalResult
	err := c.jsonRequest(ctx, http.MethodPost, colonyPath(colony, "withdraw"), c.Caller, map[string]any{}, &out)
	return out, err
}

func (c *Client) Alliances(ctx context.Context, all bool) ([]ledger.Alliance, error) {
	path := "/v1/alliances"
	if all {
		path += "?all=true"
	}
	var out struct {
		Alliances []ledger.Alliance `json:"alliances"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, c.Caller, nil, &out)
	return out.Alliances, err
}

func (c *Client) Alliance(ctx context.Context, id ledger.ID) (ledger.Alliance, error) {
	var out ledger.Alliance
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/alliances/"+id.String(), c.Caller, nil, &out)
	return out, err
}

func (c *Client) AllianceOf(ctx context.Context, colony ledger.ID) (ledger.Alliance, error) {
	var out ledger.Alliance
	err := c.jsonRequest(ctx, http.MethodGet, colonyPath(colony, "alliance"), c.Caller, nil, &out)
	return out, err
}

func (c *Client) Bonuses(ctx context.Context, colony ledger.ID) (game.DefensiveBonus, error) {
	var out game.DefensiveBonus
	err := c.jsonRequest(ctx, http.MethodGet, colonyPath(colony, "bonuses"), c.Caller, nil, &out)
	return out, err
}

func (c *Client) Proposal(ctx context.Context, alliance ledger.ID) (ledger.ForgivenessProposal, error) {
	var out ledger.ForgivenessProposal
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/alliances/"+alliance.String()+"/proposal", c.Caller, nil, &out)
	return out, err
}

func (c *Client) Invitation(ctx context.Context, colony ledger.ID) (ledger.AllianceInvitation, error) {
	var out ledger.AllianceInvitation
	err := c.jsonRequest(ctx, http.MethodGet, colonyPath(colony, "invitation"), c.Caller, nil, &out)
	return out, err
}

func (c *Client) CreateAlliance(ctx context.Context, name string, colony ledger.ID) (ledger.Alliance, error) {
	var out ledger.Alliance
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/alliances", c.Caller, map[string]any{
		"name":   name,
		"colony": colony,
	}, &out)
	return out, err
}

func (c *Client) JoinAlliance(ctx context.Context, alliance, colony ledger.ID) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/alliances/"+alliance.String()+"/join", c.Caller, map[string]any{
		"colony": colony,
	}, nil)
}

func (c *Client) Invite(ctx context.Context, colony ledger.ID) (ledger.AllianceInvitation, error) {
	var out ledger.AllianceInvitation
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/alliance/invitations", c.Caller, map[string]any{
		"colony": colony,
	}, &out)
	return out, err
}

func (c *Client) AcceptInvitation(ctx context.Context, colony ledger.ID) error {
	return c.jsonRequest(ctx, http.MethodPost, colonyPath(colony, "invitation/accept"), c.Caller, map[string]any{}, nil)
}

func (c *Client) DeclineInvitation(ctx context.Context, colony ledger.ID) error {
	return c.jsonRequest(ctx, http.MethodPost, colonyPath(colony, "invitation/decline"), c.Caller, map[string]any{}, nil)
}

func (c *Client) LeaveAlliance(ctx context.Context) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/alliance/leave", c.Caller, map[string]any{}, nil)
}

func (c *Client) DisbandAlliance(ctx context.Context) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/alliance/disband", c.Caller, map[string]any{}, nil)
}

func (c *Client) TransferLeadership(ctx context.Context, colony ledger.ID) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/alliance/leader", c.Caller, map[string]any{
		"colony": colony,
	}, nil)
}

func (c *Client) Contribute(ctx context.Context, amount int64) (int64, error) {
	var out struct {
		SharedTreasury int64 `json:"shared_treasury"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/alliance/contribute", c.Caller, map[string]any{
		"amount": amount,
	}, &out)
	return out.SharedTreasury, err
}

func (c *Client) SendAid(ctx context.Context, colony ledger.ID, amount int64) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/alliance/aid", c.Caller, map[string]any{
		"colony": colony,
		"amount": amount,
	}, nil)
}

func (c *Client) RecordBetrayal(ctx context.Context, colony ledger.ID) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/alliance/betrayals", c.Caller, map[string]any{
		"colony": colony,
	}, nil)
}

func (c *Client) ProposeForgiveness(ctx context.Context, colony ledger.ID) (ledger.ForgivenessProposal, error) {
	var out ledger.ForgivenessProposal
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/alliance/forgiveness", c.Caller, map[string]any{
		"colony": colony,
	}, &out)
	return out, err
}

func (c *Client) Vote(ctx context.Context, support bool) (ledger.ForgivenessProposal, error) {
	var out ledger.ForgivenessProposal
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/alliance/forgiveness/vote", c.Caller, map[string]any{
		"support": support,
	}, &out)
	return out, err
}

func (c *Client) Squad(ctx context.Context, colony ledger.ID) (ledger.SquadStakePosition, error) {
	var out ledger.SquadStakePosition
	err := c.jsonRequest(ctx, http.MethodGet, colonyPath(colony, "squad"), c.Caller, nil, &out)
	return out, err
}

func (c *Client) StakeSquad(ctx context.Context, colony ledger.ID, in game.SquadInput) (ledger.SquadStakePosition, error) {
	var out ledger.SquadStakePosition
	err := c.jsonRequest(ctx, http.MethodPost, colonyPath(colony, "squad"), c.Caller, in, &out)
	return out, err
}

func (c *Client) UnstakeSquad(ctx context.Context, colony ledger.ID, emergency bool) error {
	action := "squad/unstake"
	if emergency {
		action = "squad/emergency-unstake"
	}
	return c.jsonRequest(ctx, http.MethodPost, colonyPath(colony, action), c.Caller, map[string]any{}, nil)
}

func (c *Client) Territories(ctx context.Context, colony ledger.ID, vulnerableOnly bool) ([]ledger.Territory, error) {
	action := "territories"
	if vulnerableOnly {
		action = "territories/vulnerable"
	}
	var out struct {
		Territories []ledger.Territory `json:"territories"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, colonyPath(colony, action), c.Caller, nil, &out)
	return out.Territories, err
}

func (c *Client) Territory(ctx context.Context, id ledger.ID) (TerritoryView, error) {
	var out TerritoryView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/territories/"+id.String(), c.Caller, nil, &out)
	return out, err
}

func (c *Client) ClaimTerritory(ctx context.Context, colony, territory ledger.ID) (ledger.Territory, error) {
	var out ledger.Territory
	err := c.jsonRequest(ctx, http.MethodPost, colonyPath(colony, "territories/"+territory.String()+"/claim"), c.Caller, map[string]any{}, &out)
	return out, err
}

func (c *Client) PayMaintenance(ctx context.Context, colony, territory ledger.ID) (ledger.Territory, error) {
	var out ledger.Territory
	err := c.jsonRequest(ctx, http.MethodPost, colonyPath(colony, "territories/"+territory.String()+"/maintain"), c.Caller, map[string]any{}, &out)
	return out, err
}

func (c *Client) Battles(ctx context.Context, colony ledger.ID) ([]ledger.Battle, error) {
	var out struct {
		Battles []ledger.Battle `json:"battles"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, colonyPath(colony, "battles"), c.Caller, nil, &out)
	return out.Battles, err
}

func (c *Client) DeclareBattle(ctx context.Context, attacker, defender, territory ledger.ID) (ledger.Battle, error) {
	var out ledger.Battle
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/battles", c.Caller, map[string]any{
		"attacker":  attacker,
		"defender":  defender,
		"territory": territory,
	}, &out)
	return out, err
}

// Do sends an arbitrary request as caller. Replayed offline commands use it
// so they keep the address they were queued under.
func (c *Client) Do(ctx context.Context, method, path string, caller ledger.Address, body map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, caller, body, &out)
	return out, err
}

func colonyPath(colony ledger.ID, action string) string {
	return "/v1/colonies/" + colony.String() + "/" + action
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, caller ledger.Address, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !caller.IsZero() {
		req.Header.Set(callerHeader, string(caller))
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
