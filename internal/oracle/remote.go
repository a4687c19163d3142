package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"colonywars/internal/ledger"
)

// OperationHeader is set on gateway requests made while a ledger operation is
// running. A gateway that calls back into the API must forward it.
const OperationHeader = "X-Ledger-Operation"

// Remote talks to an oracle gateway over JSON/HTTP. Transport failures and
// 5xx answers wrap ErrUnavailable; 4xx answers wrap ErrRejected.
type Remote struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewRemote(baseURL, apiKey string) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (r *Remote) Set() Set {
	return Set{Authority: r, Debt: r, Custody: r, Treasury: r}
}

type boolResponse struct {
	OK bool `json:"ok"`
}

type debtResponse struct {
	Debt int64 `json:"debt"`
}

type ownerResponse struct {
	Owner string `json:"owner"`
}

type transferRequest struct {
	Collection string `json:"collection"`
	TokenID    uint64 `json:"token_id"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
}

type fundsRequest struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
	Memo    string `json:"memo"`
}

func (r *Remote) IsColonyCreator(ctx context.Context, colony ledger.ID, addr ledger.Address) (bool, error) {
	var out boolResponse
	q := url.Values{"address": {string(addr)}}
	if err := r.getJSON(ctx, "/v1/colonies/"+colony.String()+"/creator?"+q.Encode(), &out); err != nil {
		return false, err
	}
	return out.OK, nil
}

func (r *Remote) IsAuthorizedForColony(ctx context.Context, colony ledger.ID, addr ledger.Address) (bool, error) {
	var out boolResponse
	q := url.Values{"address": {string(addr)}}
	if err := r.getJSON(ctx, "/v1/colonies/"+colony.String()+"/authorized?"+q.Encode(), &out); err != nil {
		return false, err
	}
	return out.OK, nil
}

func (r *Remote) CurrentColonyDebt(ctx context.Context, colony ledger.ID) (int64, error) {
	var out debtResponse
	if err := r.getJSON(ctx, "/v1/colonies/"+colony.String()+"/debt", &out); err != nil {
		return 0, err
	}
	return out.Debt, nil
}

func (r *Remote) OwnerOf(ctx context.Context, token ledger.TokenRef) (ledger.Address, error) {
	var out ownerResponse
	path := "/v1/tokens/" + token.Collection.String() + "/" + strconv.FormatUint(token.TokenID, 10) + "/owner"
	if err := r.getJSON(ctx, path, &out); err != nil {
		return "", err
	}
	return ledger.NormalizeAddress(out.Owner), nil
}

func (r *Remote) TransferCustody(ctx context.Context, token ledger.TokenRef, from, to ledger.Address) error {
	payload := transferRequest{
		Collection: token.Collection.String(),
		TokenID:    token.TokenID,
		From:       string(from),
		To:         string(to),
	}
	return r.postJSON(ctx, "/v1/tokens/transfer", payload, nil)
}

func (r *Remote) UnstakeHook(ctx context.Context, token ledger.TokenRef) error {
	payload := transferRequest{Collection: token.Collection.String(), TokenID: token.TokenID}
	return r.postJSON(ctx, "/v1/tokens/unstake", payload, nil)
}

func (r *Remote) Collect(ctx context.Context, from ledger.Address, amount int64, memo string) error {
	return r.postJSON(ctx, "/v1/treasury/collect", fundsRequest{Address: string(from), Amount: amount, Memo: memo}, nil)
}

func (r *Remote) Disburse(ctx context.Context, to ledger.Address, amount int64, memo string) error {
	return r.postJSON(ctx, "/v1/treasury/disburse", fundsRequest{Address: string(to), Amount: amount, Memo: memo}, nil)
}

func (r *Remote) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return err
	}
	return r.do(req, out)
}

func (r *Remote) postJSON(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, out)
}

func (r *Remote) do(req *http.Request, out any) error {
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}
	if ledger.InOperation(req.Context()) {
		req.Header.Set(OperationHeader, "1")
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		kind := ErrUnavailable
		if resp.StatusCode < 500 {
			kind = ErrRejected
		}
		if resp.StatusCode == http.StatusPaymentRequired {
			kind = ErrInsufficientFunds
		}
		return fmt.Errorf("%w: status %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
