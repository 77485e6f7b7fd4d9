// Package viewmodels holds the JSON shapes exchanged with the dashboard UI.
package viewmodels

import (
	"github.com/crispab/codekvast-dashboard/internal/methods"
	"github.com/crispab/codekvast-dashboard/internal/session"
)

// SessionView describes the current login state.
type SessionView struct {
	LoggedIn        bool              `json:"loggedIn"`
	Identity        *session.Identity `json:"identity,omitempty"`
	ExpiresAtMillis int64             `json:"expiresAtMillis,omitempty"`
	ExpiresIn       string            `json:"expiresIn,omitempty"`
}

// PollView describes the status poller.
type PollView struct {
	Active          bool  `json:"active"`
	IntervalSeconds int   `json:"intervalSeconds"`
	TickCount       int64 `json:"tickCount"`
}

// PollRequest reconfigures the status poller. A nil field leaves that aspect
// unchanged.
type PollRequest struct {
	Active          *bool `json:"active,omitempty"`
	IntervalSeconds *int  `json:"intervalSeconds,omitempty"`
}

// SearchRequest carries the criteria of a method search.
type SearchRequest struct {
	Criteria methods.SearchCriteria `json:"criteria"`
}

// SortRequest selects a sort column; repeating the active column flips the
// direction.
type SortRequest struct {
	Column methods.SortColumn `json:"column"`
}

// SelectRequest marks one method record as selected. A nil ID clears the
// selection.
type SelectRequest struct {
	ID *int64 `json:"id"`
}

// FilterRequest sets one client-side filter. An empty value clears the
// filter for that field.
type FilterRequest struct {
	Field methods.FilterField `json:"field"`
	Value string              `json:"value"`
}

// DeleteAgentsRequest names the agent records to delete. When IDs is empty
// the current selection is used.
type DeleteAgentsRequest struct {
	IDs []int64 `json:"agentIds,omitempty"`
}

// ErrorResponse is the generic error payload. Internal details never leak:
// the reference correlates with the server log line.
type ErrorResponse struct {
	Error     string `json:"error"`
	Reference string `json:"reference,omitempty"`
	Code      string `json:"code,omitempty"`
}
