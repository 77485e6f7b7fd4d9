package methods

import (
	"context"
	"errors"
	"testing"
	"time"
)

var controllerNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return controllerNow }
}

func staticQuery(records []MethodDescriptor, err error) QueryFunc {
	return func(ctx context.Context, criteria SearchCriteria) ([]MethodDescriptor, error) {
		return records, err
	}
}

func sampleRecords() []MethodDescriptor {
	return []MethodDescriptor{
		{ID: 3, Signature: "com.acme.Zebra.run", LastInvokedAtMillis: 3000, CollectedDays: 5, Applications: []string{"shop"}},
		{ID: 1, Signature: "com.acme.Alpha.run", LastInvokedAtMillis: 1000, CollectedDays: 20, Applications: []string{"billing"}},
		{ID: 2, Signature: "com.acme.Middle.run", LastInvokedAtMillis: 2000, CollectedDays: 20, Applications: []string{"shop"}},
	}
}

func signatures(records []MethodDescriptor) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Signature
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSortBySignatureDoubleInvocationReverses(t *testing.T) {
	c := NewController(staticQuery(nil, nil), WithClock(fixedClock()))
	c.Replace(sampleRecords())

	first := signatures(c.View().Records)
	want := []string{"com.acme.Alpha.run", "com.acme.Middle.run", "com.acme.Zebra.run"}
	if !equalStrings(first, want) {
		t.Fatalf("ascending = %v, want %v", first, want)
	}

	c.SortBy(SortBySignature)
	second := signatures(c.View().Records)
	for i := range first {
		if second[i] != first[len(first)-1-i] {
			t.Fatalf("descending = %v, want exact reverse of %v", second, first)
		}
	}
}

func TestSortingIsDeterministicForAnyInputOrder(t *testing.T) {
	records := sampleRecords()
	permutations := [][]MethodDescriptor{
		{records[0], records[1], records[2]},
		{records[2], records[1], records[0]},
		{records[1], records[0], records[2]},
	}

	var reference []string
	for i, perm := range permutations {
		c := NewController(staticQuery(nil, nil), WithClock(fixedClock()))
		c.SortBy(SortByCollectedDays) // new column resets to ascending
		c.Replace(perm)
		got := signatures(c.View().Records)
		if i == 0 {
			reference = got
			continue
		}
		if !equalStrings(got, reference) {
			t.Fatalf("permutation %d sorted to %v, want %v", i, got, reference)
		}
	}

	// Equal collected-days keys fall back to ascending id.
	if reference[1] != "com.acme.Alpha.run" || reference[2] != "com.acme.Middle.run" {
		t.Fatalf("tie-break order = %v, want id-ascending within equal keys", reference)
	}
}

func TestSortByAgeOrdersByInvocationInstant(t *testing.T) {
	c := NewController(staticQuery(nil, nil), WithClock(fixedClock()))
	c.SortBy(SortByAge)
	c.Replace(sampleRecords())

	got := signatures(c.View().Records)
	// Ascending age: most recently invoked first.
	want := []string{"com.acme.Zebra.run", "com.acme.Middle.run", "com.acme.Alpha.run"}
	if !equalStrings(got, want) {
		t.Fatalf("age sort = %v, want %v", got, want)
	}
}

func TestSortSpecToggleAndReset(t *testing.T) {
	c := NewController(staticQuery(nil, nil), WithClock(fixedClock()))

	if got := c.Sort(); got.Column != SortBySignature || !got.Ascending {
		t.Fatalf("initial sort = %+v", got)
	}
	c.SortBy(SortBySignature)
	if got := c.Sort(); got.Ascending {
		t.Fatal("re-selecting the same column should flip direction")
	}
	c.SortBy(SortByAge)
	if got := c.Sort(); got.Column != SortByAge || !got.Ascending {
		t.Fatalf("new column should reset to ascending, got %+v", got)
	}
}

func TestSelectionClearedWhenRecordDisappears(t *testing.T) {
	c := NewController(staticQuery(nil, nil), WithClock(fixedClock()))
	c.Replace([]MethodDescriptor{{ID: 1, Signature: "a"}, {ID: 2, Signature: "b"}})

	c.Select(1)
	if view := c.View(); view.Selected == nil || view.Selected.ID != 1 {
		t.Fatalf("Selected = %+v, want id 1", view.Selected)
	}

	c.Replace([]MethodDescriptor{{ID: 2, Signature: "b"}, {ID: 3, Signature: "c"}})
	if view := c.View(); view.Selected != nil {
		t.Fatalf("Selected = %+v, want none after id vanished", view.Selected)
	}
}

func TestSelectionPreservedAcrossRefresh(t *testing.T) {
	c := NewController(staticQuery(nil, nil), WithClock(fixedClock()))
	c.Replace([]MethodDescriptor{{ID: 1, Signature: "a"}, {ID: 2, Signature: "b"}})
	c.Select(2)

	c.Replace([]MethodDescriptor{{ID: 2, Signature: "b"}, {ID: 9, Signature: "z"}})
	if view := c.View(); view.Selected == nil || view.Selected.ID != 2 {
		t.Fatalf("Selected = %+v, want id 2 preserved", view.Selected)
	}
}

func TestSoleRecordIsAutoSelected(t *testing.T) {
	c := NewController(staticQuery(nil, nil), WithClock(fixedClock()))
	c.Replace([]MethodDescriptor{{ID: 7, Signature: "only"}})

	if view := c.View(); view.Selected == nil || view.Selected.ID != 7 {
		t.Fatalf("Selected = %+v, want sole record auto-selected", view.Selected)
	}
}

func TestStaleResultDoesNotResurrectClearedSelection(t *testing.T) {
	c := NewController(staticQuery(nil, nil), WithClock(fixedClock()))
	c.Replace([]MethodDescriptor{{ID: 1, Signature: "a"}, {ID: 2, Signature: "b"}})
	c.Select(1)
	c.ClearSelection()

	// A superseded response containing the old id arrives late.
	c.Replace([]MethodDescriptor{{ID: 1, Signature: "a"}, {ID: 2, Signature: "b"}})
	if view := c.View(); view.Selected != nil {
		t.Fatalf("Selected = %+v, want cleared selection to stay cleared", view.Selected)
	}
}

func TestFiltersAreConjunctiveAndCaseInsensitive(t *testing.T) {
	c := NewController(staticQuery(nil, nil), WithClock(fixedClock()))
	c.Replace(sampleRecords())

	c.SetFilter(FilterApplication, "SHOP")
	view := c.View()
	if len(view.Records) != 2 {
		t.Fatalf("filtered count = %d, want 2", len(view.Records))
	}

	c.SetFilter(FilterSignature, "zebra")
	view = c.View()
	if len(view.Records) != 1 || view.Records[0].ID != 3 {
		t.Fatalf("conjunction filter = %v", signatures(view.Records))
	}
	if view.TotalCount != 3 {
		t.Fatalf("TotalCount = %d, want unfiltered 3", view.TotalCount)
	}

	// Empty value matches everything for that field.
	c.SetFilter(FilterSignature, "")
	if got := len(c.View().Records); got != 2 {
		t.Fatalf("after clearing signature filter, count = %d, want 2", got)
	}
}

func TestSelectionHiddenByFilterIsNotReported(t *testing.T) {
	c := NewController(staticQuery(nil, nil), WithClock(fixedClock()))
	c.Replace(sampleRecords())
	c.Select(3) // com.acme.Zebra.run, applications [shop]

	c.SetFilter(FilterApplication, "billing")
	view := c.View()
	if view.Selected != nil {
		t.Fatalf("Selected = %+v, want hidden while filtered out", view.Selected)
	}

	// Relaxing the filter brings the selection back.
	c.SetFilter(FilterApplication, "")
	if view := c.View(); view.Selected == nil || view.Selected.ID != 3 {
		t.Fatalf("Selected = %+v, want id 3 after filter relaxed", view.Selected)
	}
}

func TestSubmitReplacesCollection(t *testing.T) {
	c := NewController(staticQuery(sampleRecords(), nil), WithClock(fixedClock()))
	if err := c.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := len(c.View().Records); got != 3 {
		t.Fatalf("records = %d, want 3", got)
	}
}

func TestSubmitFailureClearsCollectionAndSelection(t *testing.T) {
	records := sampleRecords()
	var fail bool
	query := func(ctx context.Context, criteria SearchCriteria) ([]MethodDescriptor, error) {
		if fail {
			return nil, errors.New("backend unreachable")
		}
		return records, nil
	}

	c := NewController(query, WithClock(fixedClock()))
	if err := c.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	c.Select(1)

	fail = true
	if err := c.Submit(context.Background()); err == nil {
		t.Fatal("Submit() error = nil, want failure")
	}

	view := c.View()
	if len(view.Records) != 0 {
		t.Fatalf("records = %d, want cleared", len(view.Records))
	}
	if view.Selected != nil {
		t.Fatal("selection survived a failed submission")
	}
	if view.ErrorMessage == "" {
		t.Fatal("ErrorMessage empty after failure")
	}

	// A later success clears the failure state.
	fail = false
	if err := c.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if view := c.View(); view.ErrorMessage != "" || view.FailedAgo != "" {
		t.Fatalf("failure state not cleared: %+v", view)
	}
}

func TestSubmitFailureStampsAge(t *testing.T) {
	query := staticQuery(nil, errors.New("boom"))
	now := controllerNow
	clock := func() time.Time { return now }

	c := NewController(query, WithClock(clock))
	if err := c.Submit(context.Background()); err == nil {
		t.Fatal("Submit() error = nil, want failure")
	}

	now = now.Add(2 * time.Minute)
	if got := c.View().FailedAgo; got != "2m" {
		t.Fatalf("FailedAgo = %q, want %q", got, "2m")
	}
}

func TestSubmitRejectsInvalidCriteria(t *testing.T) {
	var called bool
	query := func(ctx context.Context, criteria SearchCriteria) ([]MethodDescriptor, error) {
		called = true
		return nil, nil
	}
	c := NewController(query, WithClock(fixedClock()))
	criteria := DefaultCriteria()
	criteria.MaxResults = -5
	c.SetCriteria(criteria)

	if err := c.Submit(context.Background()); err == nil {
		t.Fatal("Submit() accepted invalid criteria")
	}
	if called {
		t.Fatal("query ran despite invalid criteria")
	}
}
