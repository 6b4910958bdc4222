package filename

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Stage failure messages, recorded per manifest row when correction fails.
const (
	MsgInvalidPath        = "Incorrect document path format"
	MsgInvalidPageNumbers = "Incorrect document number format"
	MsgInvalidMarker      = "Invalid Lloyd_George_Record separator"
	MsgInvalidName        = "Invalid patient name"
	MsgInvalidDigitCount  = "Incorrect NHS number or date format"
	MsgInvalidNHSNumber   = "Invalid NHS number"
	MsgInvalidDate        = "Invalid date format"
	MsgInvalidExtension   = "Invalid file extension"
)

// o-like characters seen in scanned manifests: latin o, zero, greek omicron,
// armenian oh and the ideographic zero.
const oLike = `[o0οօ〇]`

var (
	pageTokenPattern = regexp.MustCompile(`(?i)\d+\D*of\D*\d+`)
	// embeddedTokenPattern finds a page token anywhere in a path.
	embeddedTokenPattern = regexp.MustCompile(`(?i)\d+\s*of\s*\d+`)
	pagePattern          = regexp.MustCompile(`(?i)^\D*?(\d+)\D*?of\D*?(\d+)`)
	markerPattern        = regexp.MustCompile(`(?i)^[^\p{L}]*ll` + oLike + `yd[^\p{L}]*ge` + oLike + `rge[^\p{L}]*rec` + oLike + `rd`)
	namePattern          = regexp.MustCompile(`^[^\p{L}\p{M}\d]*([\p{L}\p{M}]+(?:[^\p{L}\p{M}\d]+[\p{L}\p{M}]+)*)`)
	nhsPattern           = regexp.MustCompile(`((?:[^_\d]*\d){10})(.*)$`)
	datePattern          = regexp.MustCompile(`(\d{1,2})[-./](\d{1,2})[-./](\d{2,4})`)
	extPattern           = regexp.MustCompile(`(\.[^.]*)$`)
	nameJunkPattern      = regexp.MustCompile(`[^\p{L}\p{M}'\-]+`)
)

// Strategy is a named variant of the tolerant correction pipeline. The two
// variants differ only in whether the digit count of the remainder is checked
// before the NHS number and date are extracted.
type Strategy struct {
	name      string
	digitGate bool
}

var (
	// Standard rejects names whose remainder after the patient name does not
	// hold exactly 18 digits (10 NHS number + 8 date).
	Standard = Strategy{name: "standard", digitGate: true}
	// General skips the digit-count check and lets the stages decide.
	General = Strategy{name: "general"}
)

// StrategyByName resolves a configured strategy name.
func StrategyByName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Standard.name:
		return Standard, nil
	case General.name:
		return General, nil
	}
	return Strategy{}, fmt.Errorf("unknown filename strategy %q", name)
}

// Name reports the strategy name.
func (s Strategy) Name() string { return s.name }

// Correct rebuilds a convention file path from a loosely formatted one,
// keeping any directory prefix.
func (s Strategy) Correct(filePath string) (string, error) {
	filePath = norm.NFC.String(filePath)

	prefix, rest, err := ExtractDocumentPath(filePath)
	if err != nil {
		return "", err
	}
	page, total, rest, err := ExtractPageNumbers(rest)
	if err != nil {
		return "", err
	}
	rest, err = ExtractLloydGeorgeMarker(rest)
	if err != nil {
		return "", err
	}
	patientName, rest, err := ExtractPatientName(rest)
	if err != nil {
		return "", err
	}
	if s.digitGate && countDigits(rest) != 18 {
		return "", invalidFileName(MsgInvalidDigitCount)
	}
	nhsNumber, rest, err := ExtractNHSNumber(rest)
	if err != nil {
		return "", err
	}
	dob, rest, err := ExtractDate(rest)
	if err != nil {
		return "", err
	}
	ext, err := ExtractExtension(rest)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%dof%d_Lloyd_George_Record_[%s]_[%s]_[%s]%s",
		prefix, page, total, NormaliseName(patientName), nhsNumber, dob, ext), nil
}

// ExtractDocumentPath splits off the directory prefix, which ends at the
// last '/' before the page token such as "1of3". The token is looked for in
// the base name first, then anywhere in the path.
func ExtractDocumentPath(filePath string) (prefix, rest string, err error) {
	idx := strings.LastIndex(filePath, "/")
	if pageTokenPattern.MatchString(filePath[idx+1:]) {
		return filePath[:idx+1], filePath[idx+1:], nil
	}
	locs := embeddedTokenPattern.FindAllStringIndex(filePath, -1)
	if locs == nil {
		return "", "", invalidFileName(MsgInvalidPath)
	}
	cut := strings.LastIndex(filePath[:locs[len(locs)-1][0]], "/") + 1
	return filePath[:cut], filePath[cut:], nil
}

// ExtractPageNumbers reads the leading "<page> of <total>" pair.
func ExtractPageNumbers(s string) (page, total int, rest string, err error) {
	loc := pagePattern.FindStringSubmatchIndex(s)
	if loc == nil {
		return 0, 0, "", invalidFileName(MsgInvalidPageNumbers)
	}
	page, err = strconv.Atoi(s[loc[2]:loc[3]])
	if err != nil {
		return 0, 0, "", invalidFileName(MsgInvalidPageNumbers)
	}
	total, err = strconv.Atoi(s[loc[4]:loc[5]])
	if err != nil {
		return 0, 0, "", invalidFileName(MsgInvalidPageNumbers)
	}
	return page, total, s[loc[1]:], nil
}

// ExtractLloydGeorgeMarker strips the "Lloyd George Record" marker.
func ExtractLloydGeorgeMarker(s string) (string, error) {
	loc := markerPattern.FindStringIndex(s)
	if loc == nil {
		return "", invalidFileName(MsgInvalidMarker)
	}
	return s[loc[1]:], nil
}

// ExtractPatientName returns the raw run of letters up to the first digit.
func ExtractPatientName(s string) (name, rest string, err error) {
	loc := namePattern.FindStringSubmatchIndex(s)
	if loc == nil {
		return "", "", invalidFileName(MsgInvalidName)
	}
	return s[loc[2]:loc[3]], s[loc[3]:], nil
}

// ExtractNHSNumber collects the first ten digits, tolerating junk between
// them as long as no underscore separates two of them.
func ExtractNHSNumber(s string) (nhsNumber, rest string, err error) {
	m := nhsPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", invalidFileName(MsgInvalidNHSNumber)
	}
	var b strings.Builder
	for _, r := range m[1] {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String(), m[2], nil
}

// ExtractDate reads a day, month and year separated by '-', '.' or '/' and
// returns it as dd-mm-yyyy. Two digit years are read as 20yy.
func ExtractDate(s string) (date, rest string, err error) {
	loc := datePattern.FindStringSubmatchIndex(s)
	if loc == nil {
		return "", "", invalidFileName(MsgInvalidDate)
	}
	day, _ := strconv.Atoi(s[loc[2]:loc[3]])
	month, _ := strconv.Atoi(s[loc[4]:loc[5]])
	year := s[loc[6]:loc[7]]
	switch len(year) {
	case 2:
		year = "20" + year
	case 4:
	default:
		return "", "", invalidFileName(MsgInvalidDate)
	}
	date = fmt.Sprintf("%02d-%02d-%s", day, month, year)
	if _, err := time.Parse(DateLayout, date); err != nil {
		return "", "", invalidFileName(MsgInvalidDate)
	}
	return date, s[loc[1]:], nil
}

// ExtractExtension returns the final ".ext" suffix.
func ExtractExtension(s string) (string, error) {
	m := extPattern.FindStringSubmatch(s)
	if m == nil {
		return "", invalidFileName(MsgInvalidExtension)
	}
	return m[1], nil
}

// NormaliseName turns separators into single spaces and title-cases each
// word. Apostrophes and hyphens inside a word are kept and the letter after
// either is upper-cased.
func NormaliseName(name string) string {
	name = norm.NFC.String(name)
	name = nameJunkPattern.ReplaceAllString(name, " ")
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = strings.TrimFunc(w, func(r rune) bool { return r == '\'' || r == '-' })
	}
	name = strings.Join(strings.Fields(strings.Join(words, " ")), " ")
	caser := cases.Title(language.Und)
	parts := strings.Split(name, "'")
	for i, part := range parts {
		parts[i] = caser.String(part)
	}
	return strings.Join(parts, "'")
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
