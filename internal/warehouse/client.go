// Package warehouse is the HTTP client for the backend warehouse API. It is
// the single call site that talks to the network collaborator: the error
// taxonomy (QueryFailure, ErrAuthExpired) is constructed here and nowhere
// else.
package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/crispab/codekvast-dashboard/internal/methods"
	"github.com/crispab/codekvast-dashboard/internal/metrics"
)

const (
	statusPath       = "/dashboard/api/v1/status"
	methodsPath      = "/dashboard/api/v1/methods"
	methodDetailPath = "/dashboard/api/v1/method/detail/"
	agentsDeletePath = "/dashboard/api/v1/agents/delete"

	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response is read for the
	// failure message.
	maxErrorBody = 4 << 10
)

// ErrAuthExpired reports a 401/403 from the warehouse. It is the one error
// class that changes global session state: callers must run the
// logged-out transition.
var ErrAuthExpired = errors.New("authentication expired")

// QueryFailure is a network or backend error during a search or poll. Views
// recover locally: clear the working data set and show the message.
type QueryFailure struct {
	Message    string
	StatusCode int
}

func (e *QueryFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("warehouse query failed (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return "warehouse query failed: " + e.Message
}

// TokenSource supplies the bearer token forwarded from the session cookie.
// An empty token sends the request unauthenticated.
type TokenSource func() string

type ctxKey int

const tokenCtxKey ctxKey = iota

// ContextWithToken carries a request-scoped bearer token. It takes precedence
// over the client's TokenSource, so one shared Client can serve many
// sessions.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenCtxKey, token)
}

func tokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenCtxKey).(string)
	return token, ok && token != ""
}

// Client talks to the warehouse API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokenFor   TokenSource
	now        func() time.Time
}

// NewClient builds a Client. timeout <= 0 picks the default.
func NewClient(baseURL string, timeout time.Duration, tokenFor TokenSource) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokenFor:   tokenFor,
		now:        time.Now,
	}
}

// GetStatus fetches the price-plan/usage/agent snapshot.
func (c *Client) GetStatus(ctx context.Context) (StatusSnapshot, error) {
	var snapshot StatusSnapshot
	err := c.do(ctx, http.MethodGet, statusPath, nil, &snapshot, "status")
	return snapshot, err
}

// SearchMethods runs a method search. The criteria's relative cutoff is
// resolved to an absolute instant here, at submission time.
func (c *Client) SearchMethods(ctx context.Context, criteria methods.SearchCriteria) ([]methods.MethodDescriptor, error) {
	var resp searchResponse
	path := methodsPath + criteria.QueryString(c.now())
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, "methods"); err != nil {
		return nil, err
	}
	return resp.Methods, nil
}

// GetMethodByID fetches the record-by-id detail payload.
func (c *Client) GetMethodByID(ctx context.Context, id int64) (methods.MethodDetail, error) {
	var detail methods.MethodDetail
	err := c.do(ctx, http.MethodGet, methodDetailPath+strconv.FormatInt(id, 10), nil, &detail, "method_detail")
	return detail, err
}

// DeleteAgents deletes the selected agent records.
func (c *Client) DeleteAgents(ctx context.Context, ids []int64) error {
	body := struct {
		AgentIDs []int64 `json:"agentIds"`
	}{AgentIDs: ids}
	return c.do(ctx, http.MethodPost, agentsDeletePath, body, nil, "agents_delete")
}

// do performs one API call, decoding a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any, endpoint string) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &QueryFailure{Message: err.Error()}
		}
		reqBody = strings.NewReader(string(raw))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &QueryFailure{Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok, ok := tokenFromContext(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+tok)
	} else if c.tokenFor != nil {
		if tok := c.tokenFor(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	metrics.QueryDuration.WithLabelValues(endpoint).Observe(c.now().Sub(start).Seconds())
	if err != nil {
		metrics.QueryFailuresTotal.WithLabelValues(endpoint, "network").Inc()
		return &QueryFailure{Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.AuthExpiredTotal.Inc()
		return fmt.Errorf("%w (HTTP %d)", ErrAuthExpired, resp.StatusCode)
	case resp.StatusCode >= 400:
		metrics.QueryFailuresTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &QueryFailure{Message: strings.TrimSpace(string(msg)), StatusCode: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.QueryFailuresTotal.WithLabelValues(endpoint, "decode").Inc()
		return &QueryFailure{Message: "undecodable response: " + err.Error()}
	}
	return nil
}
