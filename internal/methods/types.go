// Package methods holds the method search domain: search criteria, the
// result-set controller that keeps a view-ready ordered/filtered subset, and
// the sort/selection rules shared by the dashboard's method views.
package methods

// MethodDescriptor is one method record returned by a warehouse search. The
// collection is replaced wholesale on every successful search or poll.
type MethodDescriptor struct {
	ID                   int64    `json:"id"`
	Signature            string   `json:"signature"`
	Visibility           string   `json:"visibility,omitempty"`
	LastInvokedAtMillis  int64    `json:"lastInvokedAtMillis"`
	CollectedDays        int      `json:"collectedDays"`
	CollectedSinceMillis int64    `json:"collectedSinceMillis,omitempty"`
	CollectedToMillis    int64    `json:"collectedToMillis,omitempty"`
	Tracked              bool     `json:"tracked"`
	Applications         []string `json:"occursInApplications,omitempty"`
	Environments         []string `json:"collectedInEnvironments,omitempty"`
	Tags                 []string `json:"tags,omitempty"`
}

// MethodDetail is the record-by-id payload, a superset of the search row.
type MethodDetail struct {
	MethodDescriptor
	DeclaringType   string `json:"declaringType,omitempty"`
	Modifiers       string `json:"modifiers,omitempty"`
	PackageName     string `json:"packageName,omitempty"`
	StatusesSummary string `json:"statusesSummary,omitempty"`
}

// SortColumn names a sortable column of the method table.
type SortColumn string

const (
	SortBySignature     SortColumn = "signature"
	SortByAge           SortColumn = "age"
	SortByCollectedDays SortColumn = "collectedDays"
)

// SortSpec is the active sort order. Toggling the same column flips the
// direction; choosing a new column resets to ascending.
type SortSpec struct {
	Column    SortColumn `json:"column"`
	Ascending bool       `json:"ascending"`
}

// Toggle applies a column selection to the spec.
func (s *SortSpec) Toggle(column SortColumn) {
	if s.Column == column {
		s.Ascending = !s.Ascending
		return
	}
	s.Column = column
	s.Ascending = true
}
