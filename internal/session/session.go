// Package session holds the dashboard's login state machine. State is derived
// from the server-owned session-token cookie and re-derived on every
// navigation; the only durable artifact this package owns is a small
// "was logged in" flag.
package session

import (
	"sync"
	"time"

	"github.com/crispab/codekvast-dashboard/internal/token"
)

const (
	// TokenCookie is the server-set cookie carrying the bearer session token.
	TokenCookie = "sessionToken"
	// NavDataCookie carries the Heroku navigation-data blob, when present.
	NavDataCookie = "navData"
	// LoginFlagKey is the persisted "was logged in" marker. Only the two
	// transition operations write it.
	LoginFlagKey = "codekvastLoggedIn"
)

// Store is the cookie/local-storage collaborator. Implementations are not
// required to be safe for concurrent use; State serializes access.
type Store interface {
	Get(name string) (string, bool)
	Set(name, value string)
	Remove(name string)
}

// Identity describes who is logged in and where the login came from.
type Identity struct {
	Subject   string `json:"subject"`
	Email     string `json:"email"`
	Source    string `json:"source"`
	SourceApp string `json:"sourceApp,omitempty"`
}

// Observer receives one synchronous notification per transition. loggedIn
// false carries a zero Identity.
type Observer func(identity Identity, loggedIn bool)

type observerEntry struct {
	id int
	fn Observer
}

// State is the login state machine. It is exclusively owned by the
// application shell; views read it and mutate only through SetLoggedInAs and
// SetLoggedOut.
type State struct {
	mu              sync.Mutex
	cookies         Store
	loggedIn        bool
	identity        Identity
	expiresAtMillis int64
	observers       []observerEntry
	nextObserverID  int
	resetHooks      []func()
	now             func() time.Time
}

// Option configures a State.
type Option func(*State)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// New builds a State over the given cookie store and derives the initial
// state from the session-token cookie.
func New(cookies Store, opts ...Option) *State {
	s := &State{cookies: cookies, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.Revalidate()
	return s
}

// Subscribe registers an observer and returns its unsubscribe func.
// Observers are notified in registration order.
func (s *State) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextObserverID
	s.nextObserverID++
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, entry := range s.observers {
			if entry.id == id {
				s.observers = append(s.observers[:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// OnLogout registers a hook run on every transition to LoggedOut, used to
// reset source-specific integration handles.
func (s *State) OnLogout(hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetHooks = append(s.resetHooks, hook)
}

// SetLoggedInAs transitions to LoggedIn. It persists the login flag and
// notifies observers. Callers invoke it only after a successful, non-expired
// token decode.
func (s *State) SetLoggedInAs(identity Identity, expiresAtMillis int64) {
	s.mu.Lock()
	s.loggedIn = true
	s.identity = identity
	s.expiresAtMillis = expiresAtMillis
	s.cookies.Set(LoginFlagKey, "true")
	notify := s.notificationLocked()
	s.mu.Unlock()
	notify()
}

// SetLoggedOut transitions to LoggedOut. It clears the persisted login flag,
// runs the registered reset hooks, and notifies observers. Idempotent in
// effect: the persisted flag and identity always end up cleared.
func (s *State) SetLoggedOut() {
	s.mu.Lock()
	notify := s.logoutLocked()
	s.mu.Unlock()
	notify()
}

// IsLoggedIn reports the current state. It is self-correcting: when the
// backing session cookie has disappeared, or the identity has expired, it
// forces the LoggedOut transition before answering. Safe to call repeatedly.
func (s *State) IsLoggedIn() bool {
	s.mu.Lock()
	notify := func() {}
	if s.loggedIn {
		if _, ok := s.cookies.Get(TokenCookie); !ok {
			notify = s.logoutLocked()
		} else if s.expiresAtMillis != 0 && s.now().Unix() > s.expiresAtMillis/1000 {
			// Expiry is checked at second granularity, matching token.IsExpired,
			// so the whole of the exp second is still valid.
			notify = s.logoutLocked()
		}
	}
	loggedIn := s.loggedIn
	s.mu.Unlock()
	notify()
	return loggedIn
}

// Identity returns the current identity, if logged in.
func (s *State) Identity() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loggedIn {
		return Identity{}, false
	}
	return s.identity, true
}

// ExpiresAtMillis returns the current identity's expiry instant, if logged in.
func (s *State) ExpiresAtMillis() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loggedIn {
		return 0, false
	}
	return s.expiresAtMillis, true
}

// Revalidate re-derives the state from the session-token cookie: re-decodes
// the token and re-checks expiry. Every navigation event calls this, so the
// state is re-synchronized rather than cached indefinitely. Returns the
// resulting logged-in status.
func (s *State) Revalidate() bool {
	s.mu.Lock()
	notify := func() {}

	tok, ok := s.cookies.Get(TokenCookie)
	if !ok {
		if s.loggedIn {
			notify = s.logoutLocked()
		}
		s.mu.Unlock()
		notify()
		return false
	}

	nav, _ := s.cookies.Get(NavDataCookie)
	claims, err := token.Decode(tok, nav)
	if err != nil || token.IsExpired(claims, s.now()) {
		if s.loggedIn {
			notify = s.logoutLocked()
		}
		s.mu.Unlock()
		notify()
		return false
	}

	identity := Identity{
		Subject:   claims.Subject,
		Email:     claims.Email,
		Source:    claims.Source,
		SourceApp: claims.SourceApp,
	}
	changed := !s.loggedIn || s.identity != identity || s.expiresAtMillis != claims.ExpiresAtMillis()
	s.loggedIn = true
	s.identity = identity
	s.expiresAtMillis = claims.ExpiresAtMillis()
	if changed {
		s.cookies.Set(LoginFlagKey, "true")
		notify = s.notificationLocked()
	}
	s.mu.Unlock()
	notify()
	return true
}

// logoutLocked performs the LoggedOut transition and returns the deferred
// observer notification. Callers hold s.mu.
func (s *State) logoutLocked() func() {
	s.loggedIn = false
	s.identity = Identity{}
	s.expiresAtMillis = 0
	s.cookies.Remove(LoginFlagKey)

	hooks := make([]func(), len(s.resetHooks))
	copy(hooks, s.resetHooks)
	notify := s.notificationLocked()
	return func() {
		for _, hook := range hooks {
			hook()
		}
		notify()
	}
}

// notificationLocked snapshots the current state and observer list and
// returns a func that delivers exactly one notification to each observer,
// in registration order. Callers hold s.mu and invoke the result after
// releasing it, so observers may call back into State.
func (s *State) notificationLocked() func() {
	identity := s.identity
	loggedIn := s.loggedIn
	observers := make([]observerEntry, len(s.observers))
	copy(observers, s.observers)
	return func() {
		for _, entry := range observers {
			entry.fn(identity, loggedIn)
		}
	}
}
