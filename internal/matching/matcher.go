// Package matching compares the patient identity written in a file name with
// the registry record. Strict mode is a plain accept/reject gate; lenient mode
// grades the match and accepts weaker evidence with an audit note.
package matching

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/nhsdigital/lg-bulk-upload/internal/filename"
	"github.com/nhsdigital/lg-bulk-upload/internal/pds"
)

// Rejection messages.
const (
	MsgNameMismatch        = "Patient name does not match our records"
	MsgNameMismatchPartial = "Patient name does not match our records 1/3"
	MsgDOBMismatch         = "Patient DoB does not match our records"
)

// Mode selects the name validation policy.
type Mode string

const (
	ModeStrict  Mode = "strict"
	ModeLenient Mode = "lenient"
)

// ParseMode reads a configured mode; anything but "lenient" is strict.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeLenient)) {
		return ModeLenient
	}
	return ModeStrict
}

// Score grades a lenient name match.
type Score int

const (
	NoMatch Score = iota
	PartialMatch
	MixedFullMatch
	FullMatch
)

func (s Score) String() string {
	switch s {
	case PartialMatch:
		return "partial match"
	case MixedFullMatch:
		return "mixed full match"
	case FullMatch:
		return "full match"
	}
	return "no match"
}

// Result is the outcome of a successful match.
type Result struct {
	// AcceptanceReason is empty in strict mode.
	AcceptanceReason string
	HistoricalMatch  bool
	Score            Score
}

// Matcher holds the clock used to decide which registry name is current.
type Matcher struct {
	now func() time.Time
}

// New returns a Matcher using the wall clock.
func New() *Matcher {
	return &Matcher{now: time.Now}
}

// Match validates the first file name of a batch against the registry. The
// batch has already been checked for agreement, so one name speaks for all.
func (m *Matcher) Match(fileNames []string, patient *pds.PatientDetails, mode Mode) (Result, error) {
	if len(fileNames) == 0 {
		return Result{}, filename.InvalidFiles(filename.MsgNamingConvention)
	}
	info, err := filename.ExtractInfo(fileNames[0])
	if err != nil {
		return Result{}, err
	}
	if mode == ModeLenient {
		return m.matchLenient(info, patient)
	}
	return m.matchStrict(info, patient)
}

func (m *Matcher) matchStrict(info filename.Fields, patient *pds.PatientDetails) (Result, error) {
	dobValid := dateOfBirthMatches(info.DateOfBirth, patient.BirthDate)

	current, ok := patient.CurrentName(m.now())
	if !ok {
		return Result{}, filename.InvalidFiles(MsgNameMismatch)
	}
	if strictNameMatch(info.PatientName, current) {
		if !dobValid {
			return Result{}, filename.InvalidFiles(MsgDOBMismatch)
		}
		return Result{Score: FullMatch}, nil
	}
	for _, name := range patient.Names {
		if strictNameMatch(info.PatientName, name) {
			return Result{Score: FullMatch, HistoricalMatch: true}, nil
		}
	}
	return Result{}, filename.InvalidFiles(MsgNameMismatch)
}

func (m *Matcher) matchLenient(info filename.Fields, patient *pds.PatientDetails) (Result, error) {
	dobValid := dateOfBirthMatches(info.DateOfBirth, patient.BirthDate)
	ns := m.CalculateScore(info.PatientName, patient)

	points := 0
	if dobValid {
		points++
	}
	switch ns.Score {
	case NoMatch:
		return Result{}, filename.InvalidFiles(MsgNameMismatch)
	case PartialMatch:
		if !dobValid {
			return Result{}, filename.InvalidFiles(MsgNameMismatchPartial)
		}
		points++
	default:
		points += 2
	}
	return Result{
		AcceptanceReason: fmt.Sprintf("Patient matched on %s %d/3 (given names: %d, family names: %d)",
			ns.Score, points, ns.GivenMatched, ns.FamilyMatched),
		HistoricalMatch: ns.Historical,
		Score:           ns.Score,
	}, nil
}

// NameScore grades a file name against the registry names.
type NameScore struct {
	Score      Score
	Historical bool
	// GivenMatched and FamilyMatched count the distinct registry given and
	// family names found in the file name.
	GivenMatched  int
	FamilyMatched int
}

// CalculateScore grades the file name against every registry name, current
// name first. A full match on one entry wins immediately with that entry's
// counts; otherwise given and family hits are collected across entries.
func (m *Matcher) CalculateScore(filePatientName string, patient *pds.PatientDetails) NameScore {
	givenSeen := map[string]bool{}
	familySeen := map[string]bool{}
	firstGiven, firstFamily := -1, -1
	for i, name := range patient.NamesByStartDate(m.now()) {
		given := matchedGiven(filePatientName, name.Given)
		family := name.Family != "" && containsName(filePatientName, name.Family)
		if len(given) > 0 && family {
			return NameScore{Score: FullMatch, Historical: i != 0, GivenMatched: len(given), FamilyMatched: 1}
		}
		for _, g := range given {
			givenSeen[g] = true
		}
		if len(given) > 0 && firstGiven < 0 {
			firstGiven = i
		}
		if family {
			familySeen[normalise(name.Family)] = true
			if firstFamily < 0 {
				firstFamily = i
			}
		}
	}
	ns := NameScore{GivenMatched: len(givenSeen), FamilyMatched: len(familySeen)}
	switch {
	case firstGiven >= 0 && firstFamily >= 0:
		ns.Score, ns.Historical = MixedFullMatch, true
	case firstGiven >= 0:
		ns.Score, ns.Historical = PartialMatch, firstGiven != 0
	case firstFamily >= 0:
		ns.Score, ns.Historical = PartialMatch, firstFamily != 0
	}
	return ns
}

func strictNameMatch(filePatientName string, name pds.Name) bool {
	if len(name.Given) == 0 || name.Given[0] == "" || name.Family == "" {
		return false
	}
	full := normalise(filePatientName)
	return strings.HasPrefix(full, normalise(name.Given[0])) &&
		strings.HasSuffix(full, normalise(name.Family))
}

// matchedGiven returns the distinct normalised given names found in the file
// name.
func matchedGiven(filePatientName string, given []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, g := range given {
		n := normalise(g)
		if n == "" || seen[n] || !containsName(filePatientName, g) {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func containsName(filePatientName, part string) bool {
	return strings.Contains(normalise(filePatientName), normalise(part))
}

func normalise(s string) string {
	return norm.NFC.String(strings.ToLower(strings.TrimSpace(s)))
}

func dateOfBirthMatches(fileDOB time.Time, registryDOB *time.Time) bool {
	if registryDOB == nil {
		return false
	}
	y1, m1, d1 := fileDOB.Date()
	y2, m2, d2 := registryDOB.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
