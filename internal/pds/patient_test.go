package pds

import (
	"context"
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestNamesByStartDate(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &PatientDetails{Names: []Name{
		{Use: "old", Given: []string{"Jim"}, Family: "Stevens", Period: &Period{Start: date(2001, 1, 1), End: date(2005, 1, 1)}},
		{Use: "usual", Given: []string{"Jane"}, Family: "Smith", Period: &Period{Start: date(2015, 1, 1)}},
		{Use: "nickname", Given: []string{"JJ"}, Family: "Jones"},
		{Use: "old", Given: []string{"Jane"}, Family: "Brown", Period: &Period{Start: date(2006, 1, 1), End: date(2014, 1, 1)}},
	}}
	got := p.NamesByStartDate(now)
	want := []string{"Smith", "Brown", "Stevens", "Jones"}
	if len(got) != len(want) {
		t.Fatalf("got %d names, want %d", len(got), len(want))
	}
	for i, n := range got {
		if n.Family != want[i] {
			t.Errorf("position %d = %q, want %q", i, n.Family, want[i])
		}
	}
}

func TestCurrentNameFallsBackToFirst(t *testing.T) {
	p := &PatientDetails{Names: []Name{{Use: "old", Family: "First"}, {Use: "old", Family: "Second"}}}
	n, ok := p.CurrentName(time.Now())
	if !ok || n.Family != "First" {
		t.Fatalf("current = %+v, %v", n, ok)
	}
	if _, ok := (&PatientDetails{}).CurrentName(time.Now()); ok {
		t.Fatal("expected no current name")
	}
}

func TestODSCodeOrStatus(t *testing.T) {
	tests := []struct {
		name string
		p    PatientDetails
		want string
	}{
		{"active gp", PatientDetails{GeneralPracticeODS: "Y12345", GeneralPracticeActive: true}, "Y12345"},
		{"restricted", PatientDetails{Restricted: true, GeneralPracticeODS: "Y12345", GeneralPracticeActive: true}, ODSRestricted},
		{"deceased", PatientDetails{DeathNotificationStatus: DeathNotificationFormal}, ODSDeceased},
		{"no gp", PatientDetails{GeneralPracticeODS: "Y12345"}, ODSSuspended},
	}
	for _, tt := range tests {
		if got := tt.p.ODSCodeOrStatus(); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

type countingFetcher struct {
	calls int
	err   error
}

func (f *countingFetcher) FetchPatientDetails(ctx context.Context, nhsNumber string) (*PatientDetails, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &PatientDetails{NHSNumber: nhsNumber}, nil
}

func TestCachedRegistry(t *testing.T) {
	inner := &countingFetcher{}
	cache := NewCachedRegistry(inner, 10, time.Minute)
	for i := 0; i < 3; i++ {
		if _, err := cache.FetchPatientDetails(context.Background(), "9000000009"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d, want 1", inner.calls)
	}

	failing := &countingFetcher{err: ErrRateLimited}
	cache = NewCachedRegistry(failing, 10, time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := cache.FetchPatientDetails(context.Background(), "9000000009"); !errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected rate limit error, got %v", err)
		}
	}
	if failing.calls != 2 {
		t.Fatalf("errors must not be cached, inner calls = %d", failing.calls)
	}
}
