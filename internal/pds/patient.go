// Package pds reads patient demographics from the Personal Demographics
// Service. The bulk upload only ever reads a patient; nothing is written back.
package pds

import (
	"sort"
	"time"
)

// Status codes used instead of an ODS code when a patient has no active GP.
const (
	ODSDeceased   = "DECE"
	ODSRestricted = "REST"
	ODSSuspended  = "SUSP"
)

// DeathNotificationStatus is the PDS death notification code.
type DeathNotificationStatus string

const (
	DeathNotificationInformal DeathNotificationStatus = "1"
	DeathNotificationFormal   DeathNotificationStatus = "2"
	DeathNotificationRemoved  DeathNotificationStatus = "U"
)

// Label returns the upper case name used in acceptance notes.
func (s DeathNotificationStatus) Label() string {
	switch s {
	case DeathNotificationInformal:
		return "INFORMAL"
	case DeathNotificationFormal:
		return "FORMAL"
	case DeathNotificationRemoved:
		return "REMOVED"
	}
	return string(s)
}

// Period bounds a name or a GP registration. Nil ends are open.
type Period struct {
	Start *time.Time
	End   *time.Time
}

// ActiveAt reports whether t falls inside the period.
func (p *Period) ActiveAt(t time.Time) bool {
	if p == nil {
		return true
	}
	if p.Start != nil && t.Before(*p.Start) {
		return false
	}
	if p.End != nil && t.After(*p.End) {
		return false
	}
	return true
}

func (p *Period) start() time.Time {
	if p == nil || p.Start == nil {
		return time.Time{}
	}
	return *p.Start
}

// Name is one current or historical name of a patient.
type Name struct {
	Use    string
	Given  []string
	Family string
	Period *Period
}

// PatientDetails is the registry snapshot the workflow validates against.
type PatientDetails struct {
	NHSNumber               string
	Names                   []Name
	BirthDate               *time.Time
	Deceased                bool
	DeathNotificationStatus DeathNotificationStatus
	GeneralPracticeODS      string
	GeneralPracticeActive   bool
	Restricted              bool
}

// CurrentName is the active "usual" name with the latest start, falling back
// to the first name supplied. ok is false when the patient has no names.
func (p *PatientDetails) CurrentName(now time.Time) (Name, bool) {
	if len(p.Names) == 0 {
		return Name{}, false
	}
	best := -1
	for i, n := range p.Names {
		if n.Use != "usual" || !n.Period.ActiveAt(now) {
			continue
		}
		if best < 0 || n.Period.start().After(p.Names[best].Period.start()) {
			best = i
		}
	}
	if best < 0 {
		return p.Names[0], true
	}
	return p.Names[best], true
}

// NamesByStartDate lists the current name first and every other name by
// descending start date. Names without a start date sort last.
func (p *PatientDetails) NamesByStartDate(now time.Time) []Name {
	current, ok := p.CurrentName(now)
	if !ok {
		return nil
	}
	rest := make([]Name, 0, len(p.Names))
	skipped := false
	for _, n := range p.Names {
		if !skipped && sameName(n, current) {
			skipped = true
			continue
		}
		rest = append(rest, n)
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].Period.start().After(rest[j].Period.start())
	})
	return append([]Name{current}, rest...)
}

// ODSCodeOrStatus returns the registered practice, or the inactive status
// explaining why there is none.
func (p *PatientDetails) ODSCodeOrStatus() string {
	switch {
	case p.Restricted:
		return ODSRestricted
	case p.GeneralPracticeActive && p.GeneralPracticeODS != "":
		return p.GeneralPracticeODS
	case p.Deceased || p.DeathNotificationStatus == DeathNotificationFormal:
		return ODSDeceased
	}
	return ODSSuspended
}

func sameName(a, b Name) bool {
	if a.Family != b.Family || a.Use != b.Use || len(a.Given) != len(b.Given) {
		return false
	}
	for i := range a.Given {
		if a.Given[i] != b.Given[i] {
			return false
		}
	}
	return a.Period.start().Equal(b.Period.start())
}
