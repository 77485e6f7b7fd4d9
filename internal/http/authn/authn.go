// Package authn re-derives the login state on every request. Each request is
// a navigation tick: the session-token cookie is re-decoded and re-checked
// rather than trusted from a previous request.
package authn

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/alexedwards/scs/v2"
	"github.com/labstack/echo/v5"

	"github.com/crispab/codekvast-dashboard/internal/metrics"
	"github.com/crispab/codekvast-dashboard/internal/session"
)

const (
	// ContextKeySession stores the request's *session.State.
	ContextKeySession = "session_state"
)

// RequestStore adapts one HTTP exchange to the session.Store contract. The
// token and navData cookies are read from the request; the persisted login
// flag lives in the scs-managed server-side session.
type RequestStore struct {
	c        *echo.Context
	sessions *scs.SessionManager
	secure   bool
	written  map[string]string
	removed  map[string]bool
}

// NewRequestStore builds a RequestStore over an echo context.
func NewRequestStore(c *echo.Context, sessions *scs.SessionManager, secure bool) *RequestStore {
	return &RequestStore{
		c:        c,
		sessions: sessions,
		secure:   secure,
		written:  make(map[string]string),
		removed:  make(map[string]bool),
	}
}

func (s *RequestStore) Get(name string) (string, bool) {
	if s.removed[name] {
		return "", false
	}
	if v, ok := s.written[name]; ok {
		return v, true
	}
	if name == session.LoginFlagKey {
		v := s.sessions.GetString(s.c.Request().Context(), name)
		return v, v != ""
	}
	cookie, err := s.c.Cookie(name)
	if err != nil || cookie == nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

func (s *RequestStore) Set(name, value string) {
	delete(s.removed, name)
	s.written[name] = value
	if name == session.LoginFlagKey {
		s.sessions.Put(s.c.Request().Context(), name, value)
		return
	}
	s.c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *RequestStore) Remove(name string) {
	delete(s.written, name)
	s.removed[name] = true
	if name == session.LoginFlagKey {
		s.sessions.Remove(s.c.Request().Context(), name)
		return
	}
	s.c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionFromContext returns the request's session state, resolved by
// ResolveSession.
func SessionFromContext(c *echo.Context) (*session.State, bool) {
	state, ok := c.Get(ContextKeySession).(*session.State)
	return state, ok
}

// IdentityFromContext returns the request's identity, if logged in.
func IdentityFromContext(c *echo.Context) (session.Identity, bool) {
	state, ok := SessionFromContext(c)
	if !ok {
		return session.Identity{}, false
	}
	return state.Identity()
}

// ResolveSession derives the session state for every request and stores it in
// the context. It never rejects; pair it with RequireAuth for gated routes.
func ResolveSession(sessions *scs.SessionManager, secure bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			store := NewRequestStore(c, sessions, secure)
			state := session.New(store)
			state.Subscribe(func(identity session.Identity, loggedIn bool) {
				transition := "logout"
				source := identity.Source
				if loggedIn {
					transition = "login"
				}
				if source == "" {
					source = "none"
				}
				metrics.SessionTransitionsTotal.WithLabelValues(transition, source).Inc()
			})
			c.Set(ContextKeySession, state)
			return next(c)
		}
	}
}

// RequireAuth rejects requests whose re-derived state is not logged in:
// 401 JSON for API calls, a redirect to /login for page navigations.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			state, ok := SessionFromContext(c)
			if !ok || !state.IsLoggedIn() {
				return HandleUnauth(c)
			}
			return next(c)
		}
	}
}

// HandleUnauth renders the "not logged in" outcome for a request.
func HandleUnauth(c *echo.Context) error {
	if isAPIRequest(c) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	location := "/login"
	if c.Request().Method == http.MethodGet {
		if next := SanitizeNext(c.Request().URL.RequestURI()); next != "" {
			location = "/login?next=" + url.QueryEscape(next)
		}
	}
	return c.Redirect(http.StatusSeeOther, location)
}

func isAPIRequest(c *echo.Context) bool {
	return strings.HasPrefix(c.Request().URL.Path, "/api/")
}

// SanitizeNext keeps post-login redirect targets on-site.
func SanitizeNext(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || len(next) > 2048 {
		return ""
	}
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return ""
	}

	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" || u.Scheme != "" {
		return ""
	}
	if u.Path == "/login" || strings.HasPrefix(u.Path, "/login/") {
		return ""
	}
	if strings.Contains(next, "\\") {
		return ""
	}
	return next
}
