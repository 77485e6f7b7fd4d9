package methods

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultMaxResults bounds a search unless the caller asks otherwise.
const DefaultMaxResults = 100

// DefaultMinCollectedDays skips methods with too little collection history to
// judge.
const DefaultMinCollectedDays = 14

var validate = validator.New()

// SearchCriteria is the declarative search form. It is created with defaults,
// mutated by user input, and read immutably at submission time.
type SearchCriteria struct {
	Signature        string `json:"signature" validate:"max=2000"`
	Application      string `json:"application" validate:"max=255"`
	Environment      string `json:"environment" validate:"max=255"`
	Version          string `json:"version" validate:"max=255"`
	Location         string `json:"location" validate:"max=255"`
	Hostname         string `json:"hostname" validate:"max=255"`
	MaxResults       int    `json:"maxResults" validate:"min=1,max=10000"`
	MinCollectedDays int    `json:"minCollectedDays" validate:"min=0"`
	// InvokedBeforeDays filters to methods not invoked for N days. The
	// absolute cutoff is computed at submission time, so re-running an
	// identical search later yields a different cutoff.
	InvokedBeforeDays int  `json:"invokedBeforeDays" validate:"min=0"`
	IncludeUntracked  bool `json:"includeUntracked"`
}

// DefaultCriteria returns the criteria a fresh search view starts from.
func DefaultCriteria() SearchCriteria {
	return SearchCriteria{
		MaxResults:       DefaultMaxResults,
		MinCollectedDays: DefaultMinCollectedDays,
	}
}

// Validate checks field bounds.
func (c SearchCriteria) Validate() error {
	return validate.Struct(c)
}

// NormalizeSignature rewrites the IDE "copy reference" member separator to a
// dot, so com.acme.Foo#bar searches match com.acme.Foo.bar.
func NormalizeSignature(signature string) string {
	return strings.ReplaceAll(strings.TrimSpace(signature), "#", ".")
}

// CutoffMillis translates InvokedBeforeDays to an absolute epoch-millisecond
// cutoff relative to now. Zero means no cutoff.
func (c SearchCriteria) CutoffMillis(now time.Time) int64 {
	if c.InvokedBeforeDays <= 0 {
		return 0
	}
	return now.Add(-time.Duration(c.InvokedBeforeDays) * 24 * time.Hour).UnixMilli()
}

// QueryString encodes the criteria for the warehouse search endpoint: each
// non-empty, non-default criterion as key=value, the first joined by "?" and
// the rest by "&", with percent-escaped values.
func (c SearchCriteria) QueryString(now time.Time) string {
	var pairs []string
	add := func(key, value string) {
		pairs = append(pairs, key+"="+url.QueryEscape(value))
	}

	if signature := NormalizeSignature(c.Signature); signature != "" {
		add("signature", signature)
	}
	if v := strings.TrimSpace(c.Application); v != "" {
		add("application", v)
	}
	if v := strings.TrimSpace(c.Environment); v != "" {
		add("environment", v)
	}
	if v := strings.TrimSpace(c.Version); v != "" {
		add("version", v)
	}
	if v := strings.TrimSpace(c.Location); v != "" {
		add("location", v)
	}
	if v := strings.TrimSpace(c.Hostname); v != "" {
		add("hostname", v)
	}
	if c.MaxResults > 0 && c.MaxResults != DefaultMaxResults {
		add("maxResults", strconv.Itoa(c.MaxResults))
	}
	if c.MinCollectedDays > 0 && c.MinCollectedDays != DefaultMinCollectedDays {
		add("minCollectedDays", strconv.Itoa(c.MinCollectedDays))
	}
	if cutoff := c.CutoffMillis(now); cutoff > 0 {
		add("onlyInvokedBeforeMillis", strconv.FormatInt(cutoff, 10))
	}
	if c.IncludeUntracked {
		add("includeUntracked", "true")
	}

	if len(pairs) == 0 {
		return ""
	}
	return "?" + strings.Join(pairs, "&")
}
