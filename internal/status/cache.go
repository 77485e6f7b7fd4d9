// Package status caches the warehouse status snapshot for the live status
// view and tracks the multi-select state of agent records.
package status

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/crispab/codekvast-dashboard/internal/age"
	"github.com/crispab/codekvast-dashboard/internal/metrics"
	"github.com/crispab/codekvast-dashboard/internal/warehouse"
)

// Fetcher fetches a fresh snapshot. *warehouse.Client implements it.
type Fetcher interface {
	GetStatus(ctx context.Context) (warehouse.StatusSnapshot, error)
}

// AgentRow is an agent record decorated with its selection marker.
type AgentRow struct {
	warehouse.Agent
	Selected bool `json:"selected"`
}

// View is the view-ready projection of the cache.
type View struct {
	Snapshot     warehouse.StatusSnapshot `json:"snapshot"`
	HasSnapshot  bool                     `json:"hasSnapshot"`
	Agents       []AgentRow               `json:"agents"`
	FetchedAgo   string                   `json:"fetchedAgo,omitempty"`
	ErrorMessage string                   `json:"errorMessage,omitempty"`
	FailedAgo    string                   `json:"failedAgo,omitempty"`
}

// Cache holds the latest snapshot. Refresh is the poller action; a failed
// refresh clears the snapshot rather than serving stale data.
type Cache struct {
	mu              sync.Mutex
	fetch           Fetcher
	snapshot        warehouse.StatusSnapshot
	hasSnapshot     bool
	fetchedAtMillis int64
	errorMessage    string
	failedAtMillis  int64
	selected        map[int64]bool
	now             func() time.Time
	group           singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache builds an empty Cache over the given fetcher.
func NewCache(fetch Fetcher, opts ...Option) *Cache {
	c := &Cache{fetch: fetch, selected: make(map[int64]bool), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh replaces the snapshot. Concurrent refreshes (a manual refresh
// racing a poller tick) collapse into one fetch. On failure the cached
// snapshot is cleared and a communication-failure message recorded; the
// error is returned for logging but is already handled.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("status", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Cache) refresh(ctx context.Context) error {
	snapshot, err := c.fetch.GetStatus(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		metrics.SnapshotRefreshesTotal.WithLabelValues("failure").Inc()
		c.snapshot = warehouse.StatusSnapshot{}
		c.hasSnapshot = false
		c.fetchedAtMillis = 0
		c.errorMessage = "Communication failure: " + err.Error()
		c.failedAtMillis = c.now().UnixMilli()
		c.selected = make(map[int64]bool)
		return err
	}

	metrics.SnapshotRefreshesTotal.WithLabelValues("success").Inc()
	metrics.SnapshotAgeSeconds.Set(0)
	c.snapshot = snapshot
	c.hasSnapshot = true
	c.fetchedAtMillis = c.now().UnixMilli()
	c.errorMessage = ""
	c.failedAtMillis = 0
	c.pruneSelectionLocked()
	return nil
}

// SelectAgent sets the selection marker for one agent record. Unknown ids are
// ignored.
func (c *Cache) SelectAgent(id int64, selected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasAgentLocked(id) {
		return
	}
	if selected {
		c.selected[id] = true
		return
	}
	delete(c.selected, id)
}

// SelectedAgentIDs returns the selected agent ids in ascending order.
func (c *Cache) SelectedAgentIDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.selected))
	for id := range c.selected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ClearAgentSelection drops all selection markers.
func (c *Cache) ClearAgentSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = make(map[int64]bool)
}

// View returns the current snapshot projection with ages stamped at view
// time.
func (c *Cache) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	view := View{
		Snapshot:     c.snapshot,
		HasSnapshot:  c.hasSnapshot,
		ErrorMessage: c.errorMessage,
	}
	if c.fetchedAtMillis != 0 {
		view.FetchedAgo = age.FormatMillis(c.fetchedAtMillis, now)
		metrics.SnapshotAgeSeconds.Set(now.Sub(time.UnixMilli(c.fetchedAtMillis)).Seconds())
	}
	if c.failedAtMillis != 0 {
		view.FailedAgo = age.FormatMillis(c.failedAtMillis, now)
	}
	view.Agents = make([]AgentRow, len(c.snapshot.Agents))
	for i, agent := range c.snapshot.Agents {
		view.Agents[i] = AgentRow{Agent: agent, Selected: c.selected[agent.ID]}
	}
	return view
}

// pruneSelectionLocked drops markers for agents no longer in the snapshot.
func (c *Cache) pruneSelectionLocked() {
	for id := range c.selected {
		if !c.hasAgentLocked(id) {
			delete(c.selected, id)
		}
	}
}

func (c *Cache) hasAgentLocked(id int64) bool {
	for _, agent := range c.snapshot.Agents {
		if agent.ID == id {
			return true
		}
	}
	return false
}
