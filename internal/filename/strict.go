package filename

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DateLayout is the dd-mm-yyyy date format used inside file names.
const DateLayout = "02-01-2006"

var (
	// Names are checked after NFC normalisation so decomposed accents are
	// accepted as well.
	conventionPattern = regexp.MustCompile(
		`^[0-9]+of[0-9]+_Lloyd_George_Record_\[[\p{L}\s\-']+\]_\[[0-9]{10}\]_\[\d\d-\d\d-\d\d\d\d\]\.pdf$`)

	infoPattern = regexp.MustCompile(
		`^(\d+)of(\d+)_Lloyd_George_Record_\[(.*)\]_\[(\d{10})\]_\[(\d\d-\d\d-\d\d\d\d)\](\.pdf)$`)
)

// Fields holds everything the naming convention encodes.
type Fields struct {
	PageIndex     int
	TotalPages    int
	PatientName   string
	NHSNumber     string
	DateOfBirth   time.Time
	FileExtension string

	rawPageIndex  string
	rawTotalPages string
	rawBirthDate  string
}

// FileName reassembles the convention name from the fields. For any name
// accepted by ExtractInfo the result is byte-identical to the input.
func (f Fields) FileName() string {
	page, total, dob := f.rawPageIndex, f.rawTotalPages, f.rawBirthDate
	if page == "" {
		page = strconv.Itoa(f.PageIndex)
	}
	if total == "" {
		total = strconv.Itoa(f.TotalPages)
	}
	if dob == "" {
		dob = f.DateOfBirth.Format(DateLayout)
	}
	return fmt.Sprintf("%sof%s_Lloyd_George_Record_[%s]_[%s]_[%s]%s",
		page, total, f.PatientName, f.NHSNumber, dob, f.FileExtension)
}

// ExtractInfo splits a convention file name into its fields.
func ExtractInfo(name string) (Fields, error) {
	m := infoPattern.FindStringSubmatch(name)
	if m == nil {
		return Fields{}, InvalidFiles(MsgNamingConvention)
	}
	page, err := strconv.Atoi(m[1])
	if err != nil {
		return Fields{}, InvalidFiles(MsgNamingConvention)
	}
	total, err := strconv.Atoi(m[2])
	if err != nil {
		return Fields{}, InvalidFiles(MsgNamingConvention)
	}
	if page < 1 || page > total {
		return Fields{}, InvalidFiles(MsgNamingConvention)
	}
	dob, err := time.Parse(DateLayout, m[5])
	if err != nil {
		return Fields{}, InvalidFiles(MsgNamingConvention)
	}
	return Fields{
		PageIndex:     page,
		TotalPages:    total,
		PatientName:   m[3],
		NHSNumber:     m[4],
		DateOfBirth:   dob,
		FileExtension: m[6],
		rawPageIndex:  m[1],
		rawTotalPages: m[2],
		rawBirthDate:  m[5],
	}, nil
}

// ValidateName checks a single name against the naming convention.
func ValidateName(name string) error {
	if !conventionPattern.MatchString(norm.NFC.String(name)) {
		return InvalidFiles(MsgNamingConvention)
	}
	return nil
}
