package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/labstack/echo/v5"

	"github.com/crispab/codekvast-dashboard/internal/http/authn"
	"github.com/crispab/codekvast-dashboard/internal/http/viewmodels"
	"github.com/crispab/codekvast-dashboard/internal/methods"
	"github.com/crispab/codekvast-dashboard/internal/poll"
	"github.com/crispab/codekvast-dashboard/internal/session"
	"github.com/crispab/codekvast-dashboard/internal/status"
	"github.com/crispab/codekvast-dashboard/internal/warehouse"
)

type harness struct {
	h        *Handlers
	sessions *scs.SessionManager
	e        *echo.Echo
}

func newHarness(t *testing.T, backend http.HandlerFunc) *harness {
	t.Helper()

	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	client := warehouse.NewClient(server.URL, time.Second, nil)
	cache := status.NewCache(client)
	controller := methods.NewController(client.SearchMethods)
	poller := poll.New(func(ctx context.Context) { _ = cache.Refresh(ctx) }, time.Minute)
	t.Cleanup(poller.Stop)

	sessions := scs.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &harness{
		h:        New(log, sessions, client, cache, controller, poller),
		sessions: sessions,
		e:        echo.New(),
	}
}

// newContext builds an echo context with a loaded scs session and, when tok is
// non-empty, a session-token cookie plus the derived login state.
func (hs *harness) newContext(t *testing.T, method, target, tok, body string) (*echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tok != "" {
		req.AddCookie(&http.Cookie{Name: session.TokenCookie, Value: tok})
	}
	ctx, err := hs.sessions.Load(req.Context(), "")
	if err != nil {
		t.Fatalf("sessions.Load() error = %v", err)
	}
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	c := hs.e.NewContext(req, rec)
	store := authn.NewRequestStore(c, hs.sessions, false)
	c.Set(authn.ContextKeySession, session.New(store))
	return c, rec
}

func makeToken(t *testing.T, email string, exp time.Time) string {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"sub":   "user-1",
		"email": email,
		"exp":   exp.Unix(),
	})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return "h." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("json.Unmarshal(%q) error = %v", rec.Body.String(), err)
	}
	return out
}

func TestGetSessionLoggedOut(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	c, rec := hs.newContext(t, http.MethodGet, "/api/session", "", "")

	if err := hs.h.GetSession(c); err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	view := decodeJSON[viewmodels.SessionView](t, rec)
	if view.LoggedIn {
		t.Fatal("LoggedIn = true, want false")
	}
	if view.Identity != nil {
		t.Fatalf("Identity = %+v, want nil", view.Identity)
	}
}

func TestGetSessionLoggedIn(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))
	c, rec := hs.newContext(t, http.MethodGet, "/api/session", tok, "")

	if err := hs.h.GetSession(c); err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	view := decodeJSON[viewmodels.SessionView](t, rec)
	if !view.LoggedIn {
		t.Fatal("LoggedIn = false, want true")
	}
	if view.Identity == nil || view.Identity.Email != "user@example.com" {
		t.Fatalf("Identity = %+v", view.Identity)
	}
	if view.ExpiresIn == "" {
		t.Fatal("ExpiresIn is empty")
	}
}

func TestLogoutDestroysSessionAndState(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))
	c, rec := hs.newContext(t, http.MethodPost, "/api/logout", tok, "")

	state, _ := authn.SessionFromContext(c)
	if !state.IsLoggedIn() {
		t.Fatal("precondition: not logged in")
	}

	if err := hs.h.Logout(c); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if identity, ok := state.Identity(); ok {
		t.Fatalf("Identity() = %+v after logout", identity)
	}
	if hs.sessions.Exists(c.Request().Context(), session.LoginFlagKey) {
		t.Fatal("login flag survived logout")
	}
}

func TestRefreshStatusPopulatesSnapshot(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dashboard/api/v1/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(warehouse.StatusSnapshot{
			PricePlan:  "DEMO",
			NumMethods: 42,
			Agents:     []warehouse.Agent{{ID: 1, AppName: "app"}},
		})
	})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))
	c, rec := hs.newContext(t, http.MethodPost, "/api/status/refresh", tok, "")

	if err := hs.h.RefreshStatus(c); err != nil {
		t.Fatalf("RefreshStatus() error = %v", err)
	}
	view := decodeJSON[status.View](t, rec)
	if !view.HasSnapshot {
		t.Fatal("HasSnapshot = false")
	}
	if view.Snapshot.NumMethods != 42 {
		t.Fatalf("NumMethods = %d, want 42", view.Snapshot.NumMethods)
	}
	if len(view.Agents) != 1 {
		t.Fatalf("len(Agents) = %d, want 1", len(view.Agents))
	}
}

func TestRefreshStatusFailureIsFoldedIntoView(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))
	c, rec := hs.newContext(t, http.MethodPost, "/api/status/refresh", tok, "")

	if err := hs.h.RefreshStatus(c); err != nil {
		t.Fatalf("RefreshStatus() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	view := decodeJSON[status.View](t, rec)
	if view.HasSnapshot {
		t.Fatal("HasSnapshot = true after failure")
	}
	if !strings.HasPrefix(view.ErrorMessage, "Communication failure: ") {
		t.Fatalf("ErrorMessage = %q", view.ErrorMessage)
	}
}

func TestRefreshStatusAuthExpiredForcesLogout(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))
	c, rec := hs.newContext(t, http.MethodPost, "/api/status/refresh", tok, "")

	if err := hs.h.RefreshStatus(c); err != nil {
		t.Fatalf("RefreshStatus() error = %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	state, _ := authn.SessionFromContext(c)
	if _, ok := state.Identity(); ok {
		t.Fatal("identity survived auth expiry")
	}
}

func TestConfigurePollStartStopAndInterval(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(warehouse.StatusSnapshot{})
	})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))

	c, rec := hs.newContext(t, http.MethodPost, "/api/poll", tok, `{"active":true,"intervalSeconds":30}`)
	if err := hs.h.ConfigurePoll(c); err != nil {
		t.Fatalf("ConfigurePoll() error = %v", err)
	}
	view := decodeJSON[viewmodels.PollView](t, rec)
	if !view.Active {
		t.Fatal("Active = false after start")
	}
	if view.IntervalSeconds != 30 {
		t.Fatalf("IntervalSeconds = %d, want 30", view.IntervalSeconds)
	}
	if view.TickCount < 1 {
		t.Fatalf("TickCount = %d, want >= 1", view.TickCount)
	}

	c, rec = hs.newContext(t, http.MethodPost, "/api/poll", tok, `{"active":false}`)
	if err := hs.h.ConfigurePoll(c); err != nil {
		t.Fatalf("ConfigurePoll() error = %v", err)
	}
	view = decodeJSON[viewmodels.PollView](t, rec)
	if view.Active {
		t.Fatal("Active = true after stop")
	}
}

func TestConfigurePollClampsShortIntervals(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))

	c, rec := hs.newContext(t, http.MethodPost, "/api/poll", tok, `{"intervalSeconds":2}`)
	if err := hs.h.ConfigurePoll(c); err != nil {
		t.Fatalf("ConfigurePoll() error = %v", err)
	}
	view := decodeJSON[viewmodels.PollView](t, rec)
	if view.IntervalSeconds != int(poll.MinInterval/time.Second) {
		t.Fatalf("IntervalSeconds = %d, want %d", view.IntervalSeconds, int(poll.MinInterval/time.Second))
	}
}

func TestConfigurePollRejectsNonPositiveInterval(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))

	c, _ := hs.newContext(t, http.MethodPost, "/api/poll", tok, `{"intervalSeconds":0}`)
	err := hs.h.ConfigurePoll(c)
	if err == nil {
		t.Fatal("ConfigurePoll() accepted intervalSeconds=0")
	}
	if httpStatus(err) != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", httpStatus(err), http.StatusBadRequest)
	}
}

func TestSearchMethodsPopulatesView(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/dashboard/api/v1/methods") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"methods": []methods.MethodDescriptor{
				{ID: 2, Signature: "b.B.b"},
				{ID: 1, Signature: "a.A.a"},
			},
			"numMethods": 2,
		})
	})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))
	c, rec := hs.newContext(t, http.MethodPost, "/api/methods/search", tok,
		`{"criteria":{"signature":"a","maxResults":100,"minCollectedDays":14}}`)

	if err := hs.h.SearchMethods(c); err != nil {
		t.Fatalf("SearchMethods() error = %v", err)
	}
	view := decodeJSON[methods.ViewState](t, rec)
	if len(view.Records) != 2 {
		t.Fatalf("len(Records) = %d, want 2", len(view.Records))
	}
	if view.Records[0].Signature != "a.A.a" {
		t.Fatalf("Records[0].Signature = %q, want ascending signature order", view.Records[0].Signature)
	}
}

func TestSearchMethodsRejectsOutOfBoundsCriteria(t *testing.T) {
	queried := false
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) { queried = true })
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))
	c, _ := hs.newContext(t, http.MethodPost, "/api/methods/search", tok,
		`{"criteria":{"maxResults":99999,"minCollectedDays":14}}`)

	err := hs.h.SearchMethods(c)
	if err == nil {
		t.Fatal("SearchMethods() accepted out-of-bounds criteria")
	}
	if httpStatus(err) != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", httpStatus(err), http.StatusBadRequest)
	}
	if queried {
		t.Fatal("warehouse queried despite invalid criteria")
	}
}

func TestSearchMethodsFailureIsFoldedIntoView(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))
	c, rec := hs.newContext(t, http.MethodPost, "/api/methods/search", tok,
		`{"criteria":{"maxResults":100,"minCollectedDays":14}}`)

	if err := hs.h.SearchMethods(c); err != nil {
		t.Fatalf("SearchMethods() error = %v", err)
	}
	view := decodeJSON[methods.ViewState](t, rec)
	if len(view.Records) != 0 {
		t.Fatalf("len(Records) = %d, want 0 after failure", len(view.Records))
	}
	if !strings.HasPrefix(view.ErrorMessage, "Communication failure: ") {
		t.Fatalf("ErrorMessage = %q", view.ErrorMessage)
	}
}

func TestSortMethodsTogglesDirection(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))

	c, rec := hs.newContext(t, http.MethodPost, "/api/methods/sort", tok, `{"column":"signature"}`)
	if err := hs.h.SortMethods(c); err != nil {
		t.Fatalf("SortMethods() error = %v", err)
	}
	view := decodeJSON[methods.ViewState](t, rec)
	if view.Sort.Ascending {
		t.Fatal("repeating the active column should flip to descending")
	}

	c, _ = hs.newContext(t, http.MethodPost, "/api/methods/sort", tok, `{"column":"bogus"}`)
	err := hs.h.SortMethods(c)
	if err == nil || httpStatus(err) != http.StatusBadRequest {
		t.Fatalf("SortMethods(bogus) error = %v, want 400", err)
	}
}

func TestSelectAndFilterMethods(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))
	hs.h.Methods.Replace([]methods.MethodDescriptor{
		{ID: 1, Signature: "a.A.a"},
		{ID: 2, Signature: "b.B.b"},
	})

	c, rec := hs.newContext(t, http.MethodPost, "/api/methods/select", tok, `{"id":2}`)
	if err := hs.h.SelectMethod(c); err != nil {
		t.Fatalf("SelectMethod() error = %v", err)
	}
	view := decodeJSON[methods.ViewState](t, rec)
	if view.Selected == nil || view.Selected.ID != 2 {
		t.Fatalf("Selected = %+v, want id 2", view.Selected)
	}

	c, rec = hs.newContext(t, http.MethodPost, "/api/methods/select", tok, `{"id":null}`)
	if err := hs.h.SelectMethod(c); err != nil {
		t.Fatalf("SelectMethod() error = %v", err)
	}
	view = decodeJSON[methods.ViewState](t, rec)
	if view.Selected != nil {
		t.Fatalf("Selected = %+v, want nil after clear", view.Selected)
	}

	c, rec = hs.newContext(t, http.MethodPost, "/api/methods/filter", tok, `{"field":"signature","value":"b.b"}`)
	if err := hs.h.FilterMethods(c); err != nil {
		t.Fatalf("FilterMethods() error = %v", err)
	}
	view = decodeJSON[methods.ViewState](t, rec)
	if len(view.Records) != 1 || view.Records[0].ID != 2 {
		t.Fatalf("Records = %+v, want only id 2", view.Records)
	}
}

func TestGetMethodByID(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dashboard/api/v1/method/detail/7":
			_ = json.NewEncoder(w).Encode(methods.MethodDetail{
				MethodDescriptor: methods.MethodDescriptor{ID: 7, Signature: "a.A.a"},
				DeclaringType:    "a.A",
			})
		default:
			http.NotFound(w, r)
		}
	})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))

	c, rec := hs.newContext(t, http.MethodGet, "/api/methods/7", tok, "")
	c.SetPathValues(echo.PathValues{{Name: "id", Value: "7"}})
	if err := hs.h.GetMethodByID(c); err != nil {
		t.Fatalf("GetMethodByID() error = %v", err)
	}
	detail := decodeJSON[methods.MethodDetail](t, rec)
	if detail.ID != 7 || detail.DeclaringType != "a.A" {
		t.Fatalf("detail = %+v", detail)
	}

	c, _ = hs.newContext(t, http.MethodGet, "/api/methods/8", tok, "")
	c.SetPathValues(echo.PathValues{{Name: "id", Value: "8"}})
	err := hs.h.GetMethodByID(c)
	if err == nil || httpStatus(err) != http.StatusNotFound {
		t.Fatalf("GetMethodByID(8) error = %v, want 404", err)
	}

	c, _ = hs.newContext(t, http.MethodGet, "/api/methods/x", tok, "")
	c.SetPathValues(echo.PathValues{{Name: "id", Value: "x"}})
	err = hs.h.GetMethodByID(c)
	if err == nil || httpStatus(err) != http.StatusBadRequest {
		t.Fatalf("GetMethodByID(x) error = %v, want 400", err)
	}
}

func TestDeleteAgentsRequiresSelection(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))

	c, _ := hs.newContext(t, http.MethodPost, "/api/agents/delete", tok, `{}`)
	err := hs.h.DeleteAgents(c)
	if err == nil || httpStatus(err) != http.StatusBadRequest {
		t.Fatalf("DeleteAgents() error = %v, want 400", err)
	}
}

func TestDeleteAgentsPostsIDsAndRefreshes(t *testing.T) {
	var deleted []int64
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dashboard/api/v1/agents/delete":
			var req struct {
				AgentIDs []int64 `json:"agentIds"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			deleted = req.AgentIDs
			w.WriteHeader(http.StatusOK)
		case "/dashboard/api/v1/status":
			_ = json.NewEncoder(w).Encode(warehouse.StatusSnapshot{
				Agents: []warehouse.Agent{{ID: 3, AppName: "survivor"}},
			})
		default:
			http.NotFound(w, r)
		}
	})
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))

	c, rec := hs.newContext(t, http.MethodPost, "/api/agents/delete", tok, `{"agentIds":[1,2]}`)
	if err := hs.h.DeleteAgents(c); err != nil {
		t.Fatalf("DeleteAgents() error = %v", err)
	}
	if len(deleted) != 2 || deleted[0] != 1 || deleted[1] != 2 {
		t.Fatalf("deleted = %v, want [1 2]", deleted)
	}
	view := decodeJSON[status.View](t, rec)
	if len(view.Agents) != 1 || view.Agents[0].ID != 3 {
		t.Fatalf("Agents = %+v, want refreshed snapshot", view.Agents)
	}
}

func TestSelectAgentsReplacesSelection(t *testing.T) {
	hs := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(warehouse.StatusSnapshot{
			Agents: []warehouse.Agent{{ID: 1}, {ID: 2}},
		})
	})
	if err := hs.h.Status.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	tok := makeToken(t, "user@example.com", time.Now().Add(time.Hour))

	c, rec := hs.newContext(t, http.MethodPost, "/api/agents/select", tok, `{"agentIds":[2,99]}`)
	if err := hs.h.SelectAgents(c); err != nil {
		t.Fatalf("SelectAgents() error = %v", err)
	}
	view := decodeJSON[status.View](t, rec)
	var selected []int64
	for _, agent := range view.Agents {
		if agent.Selected {
			selected = append(selected, agent.ID)
		}
	}
	if len(selected) != 1 || selected[0] != 2 {
		t.Fatalf("selected = %v, want [2]; unknown ids must be ignored", selected)
	}
}

func httpStatus(err error) int {
	if httpErr, ok := err.(*echo.HTTPError); ok {
		return httpErr.Code
	}
	return 0
}
