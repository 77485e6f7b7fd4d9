package methods

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crispab/codekvast-dashboard/internal/age"
)

// QueryFunc runs a search against the warehouse. It is the injected network
// collaborator; the controller never talks to the network itself.
type QueryFunc func(ctx context.Context, criteria SearchCriteria) ([]MethodDescriptor, error)

// FilterField names a client-side filter column.
type FilterField string

const (
	FilterSignature   FilterField = "signature"
	FilterApplication FilterField = "application"
	FilterEnvironment FilterField = "environment"
)

// ViewState is the view-ready projection of the controller.
type ViewState struct {
	Records      []MethodDescriptor `json:"records"`
	Selected     *MethodDescriptor  `json:"selected,omitempty"`
	Sort         SortSpec           `json:"sort"`
	TotalCount   int                `json:"totalCount"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
	// FailedAgo is the age of the last failure, stamped at view time.
	FailedAgo string `json:"failedAgo,omitempty"`
}

// Controller sorts, filters, and preserves selection over a mutable record
// collection. Results of concurrent submissions are applied in completion
// order; a stale result may be applied and immediately superseded, but it
// never resurrects a cleared selection.
type Controller struct {
	mu             sync.Mutex
	query          QueryFunc
	criteria       SearchCriteria
	sortSpec       SortSpec
	filters        map[FilterField]string
	records        []MethodDescriptor
	selectedID     int64
	hasSelection   bool
	errorMessage   string
	failedAtMillis int64
	now            func() time.Time
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// NewController builds a controller with default criteria and an ascending
// signature sort.
func NewController(query QueryFunc, opts ...ControllerOption) *Controller {
	c := &Controller{
		query:    query,
		criteria: DefaultCriteria(),
		sortSpec: SortSpec{Column: SortBySignature, Ascending: true},
		filters:  make(map[FilterField]string),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCriteria replaces the search criteria used by the next Submit.
func (c *Controller) SetCriteria(criteria SearchCriteria) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.criteria = criteria
}

// Criteria returns the current search criteria.
func (c *Controller) Criteria() SearchCriteria {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.criteria
}

// Submit runs the query and replaces the record collection with the result.
// On failure the collection and selection are cleared (never left stale) and
// an error message is recorded for the view; the error is also returned so
// the caller can log it, but it is already handled.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	criteria := c.criteria
	c.mu.Unlock()

	if err := criteria.Validate(); err != nil {
		return err
	}

	records, err := c.query(ctx, criteria)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.records = nil
		c.selectedID = 0
		c.hasSelection = false
		c.errorMessage = "Communication failure: " + err.Error()
		c.failedAtMillis = c.now().UnixMilli()
		return err
	}

	c.errorMessage = ""
	c.failedAtMillis = 0
	c.replaceLocked(records)
	return nil
}

// Replace installs a record collection directly, applying the same selection
// preservation rules as a completed Submit. Poll-driven views use it when the
// fetch happens elsewhere.
func (c *Controller) Replace(records []MethodDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorMessage = ""
	c.failedAtMillis = 0
	c.replaceLocked(records)
}

// SortBy applies a column selection: re-selecting the active column flips the
// direction, a new column resets to ascending.
func (c *Controller) SortBy(column SortColumn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sortSpec.Toggle(column)
}

// Sort returns the active sort spec.
func (c *Controller) Sort() SortSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortSpec
}

// Select marks the record with the given id as selected. Selecting an id that
// is not in the collection clears the selection.
func (c *Controller) Select(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if indexOfID(c.records, id) < 0 {
		c.selectedID = 0
		c.hasSelection = false
		return
	}
	c.selectedID = id
	c.hasSelection = true
}

// ClearSelection drops the current selection.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedID = 0
	c.hasSelection = false
}

// SetFilter installs a case-insensitive substring filter for a field. An
// empty value matches everything for that field.
func (c *Controller) SetFilter(field FilterField, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value = strings.TrimSpace(value)
	if value == "" {
		delete(c.filters, field)
		return
	}
	c.filters[field] = value
}

// View produces the sorted, filtered projection plus selection state.
func (c *Controller) View() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()

	filtered := make([]MethodDescriptor, 0, len(c.records))
	for _, record := range c.records {
		if c.matchesFiltersLocked(record) {
			filtered = append(filtered, record)
		}
	}
	sortRecords(filtered, c.sortSpec)

	state := ViewState{
		Records:      filtered,
		Sort:         c.sortSpec,
		TotalCount:   len(c.records),
		ErrorMessage: c.errorMessage,
	}
	if c.failedAtMillis != 0 {
		state.FailedAgo = age.FormatMillis(c.failedAtMillis, c.now())
	}
	// Selection is resolved against the filtered slice: a record hidden by an
	// active filter is not reported as selected, but the underlying selection
	// survives and reappears when the filter is relaxed.
	if c.hasSelection {
		if i := indexOfID(filtered, c.selectedID); i >= 0 {
			selected := filtered[i]
			state.Selected = &selected
		}
	}
	return state
}

// replaceLocked swaps in a fresh collection and preserves selection by id:
// a vanished id clears the selection, a sole record is auto-selected.
func (c *Controller) replaceLocked(records []MethodDescriptor) {
	c.records = records
	if c.hasSelection && indexOfID(records, c.selectedID) < 0 {
		c.selectedID = 0
		c.hasSelection = false
	}
	if len(records) == 1 {
		c.selectedID = records[0].ID
		c.hasSelection = true
	}
}

func (c *Controller) matchesFiltersLocked(record MethodDescriptor) bool {
	for field, value := range c.filters {
		if !matchesField(record, field, value) {
			return false
		}
	}
	return true
}

func matchesField(record MethodDescriptor, field FilterField, value string) bool {
	switch field {
	case FilterSignature:
		return containsFold(record.Signature, value)
	case FilterApplication:
		return anyContainsFold(record.Applications, value)
	case FilterEnvironment:
		return anyContainsFold(record.Environments, value)
	default:
		return true
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func anyContainsFold(values []string, needle string) bool {
	for _, v := range values {
		if containsFold(v, needle) {
			return true
		}
	}
	return false
}

func indexOfID(records []MethodDescriptor, id int64) int {
	for i, record := range records {
		if record.ID == id {
			return i
		}
	}
	return -1
}

// sortRecords orders records by the sort spec's column with ties always
// broken by ascending id, so the result is deterministic regardless of the
// input permutation or prior sort history.
func sortRecords(records []MethodDescriptor, spec SortSpec) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		cmp := compareColumn(a, b, spec.Column)
		if !spec.Ascending {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp < 0
		}
		return a.ID < b.ID
	})
}

func compareColumn(a, b MethodDescriptor, column SortColumn) int {
	switch column {
	case SortByAge:
		// Smaller age means more recently invoked, so ascending age orders
		// by descending invocation instant.
		return compareInt64(b.LastInvokedAtMillis, a.LastInvokedAtMillis)
	case SortByCollectedDays:
		return compareInt64(int64(a.CollectedDays), int64(b.CollectedDays))
	default:
		lowerA, lowerB := strings.ToLower(a.Signature), strings.ToLower(b.Signature)
		if lowerA != lowerB {
			return strings.Compare(lowerA, lowerB)
		}
		return strings.Compare(a.Signature, b.Signature)
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
