package pds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrPatientNotFound means PDS holds no patient for the NHS number.
	ErrPatientNotFound = errors.New("Patient does not exist for given NHS number")
	// ErrInvalidRequest means PDS rejected the NHS number.
	ErrInvalidRequest = errors.New("Failed to retrieve patient details from PDS")
	// ErrRateLimited means PDS answered 429. Callers stop the whole batch.
	ErrRateLimited = errors.New("PDS rate limit reached")
	// ErrServer covers any other non-success answer.
	ErrServer = errors.New("PDS returned an unexpected error")
	// ErrInvalidResponse means the body could not be read as a FHIR Patient.
	ErrInvalidResponse = errors.New("PDS returned an invalid patient resource")
)

const (
	deathNotificationURL = "https://fhir.hl7.org.uk/StructureDefinition/Extension-UKCore-DeathNotificationStatus"
	fhirDate             = "2006-01-02"
)

// Client fetches FHIR Patient resources from PDS.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// NewClient builds a PDS client. baseURL is the FHIR R4 root, for example
// https://sandbox.api.service.nhs.uk/personal-demographics/FHIR/R4.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "pds").Logger(),
		now:        time.Now,
	}
}

// FetchPatientDetails reads and converts one patient.
func (c *Client) FetchPatientDetails(ctx context.Context, nhsNumber string) (*PatientDetails, error) {
	endpoint := fmt.Sprintf("%s/Patient/%s", c.baseURL, url.PathEscape(nhsNumber))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build pds request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServer, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrPatientNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn().Msg("pds responded with too many requests")
		return nil, ErrRateLimited
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: status %d", ErrInvalidRequest, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServer, err)
	}
	return ParsePatient(body, c.now())
}

type fhirPeriod struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type fhirPatient struct {
	ID        string `json:"id"`
	BirthDate string `json:"birthDate"`
	Deceased  string `json:"deceasedDateTime"`
	Name      []struct {
		Use    string      `json:"use"`
		Given  []string    `json:"given"`
		Family string      `json:"family"`
		Period *fhirPeriod `json:"period"`
	} `json:"name"`
	GeneralPractitioner []struct {
		Identifier struct {
			Value  string      `json:"value"`
			Period *fhirPeriod `json:"period"`
		} `json:"identifier"`
	} `json:"generalPractitioner"`
	Meta struct {
		Security []struct {
			Code string `json:"code"`
		} `json:"security"`
	} `json:"meta"`
	Extension []struct {
		URL       string `json:"url"`
		Extension []struct {
			URL                  string `json:"url"`
			ValueCodeableConcept struct {
				Coding []struct {
					Code string `json:"code"`
				} `json:"coding"`
			} `json:"valueCodeableConcept"`
		} `json:"extension"`
	} `json:"extension"`
}

// ParsePatient converts a FHIR Patient document. now decides which GP
// registration is active.
func ParsePatient(body []byte, now time.Time) (*PatientDetails, error) {
	var raw fhirPatient
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	details := &PatientDetails{
		NHSNumber: raw.ID,
		Deceased:  raw.Deceased != "",
	}
	if raw.BirthDate != "" {
		dob, err := time.Parse(fhirDate, raw.BirthDate)
		if err != nil {
			return nil, fmt.Errorf("%w: birth date %q", ErrInvalidResponse, raw.BirthDate)
		}
		details.BirthDate = &dob
	}
	for _, n := range raw.Name {
		details.Names = append(details.Names, Name{
			Use:    n.Use,
			Given:  n.Given,
			Family: n.Family,
			Period: parsePeriod(n.Period),
		})
	}
	for _, gp := range raw.GeneralPractitioner {
		period := parsePeriod(gp.Identifier.Period)
		details.GeneralPracticeODS = gp.Identifier.Value
		if period.ActiveAt(now) {
			details.GeneralPracticeActive = true
			break
		}
	}
	for _, s := range raw.Meta.Security {
		if s.Code == "R" || strings.EqualFold(s.Code, "REDACTED") {
			details.Restricted = true
		}
	}
	for _, ext := range raw.Extension {
		if ext.URL != deathNotificationURL {
			continue
		}
		for _, inner := range ext.Extension {
			if inner.URL == "deathNotificationStatus" && len(inner.ValueCodeableConcept.Coding) > 0 {
				details.DeathNotificationStatus = DeathNotificationStatus(inner.ValueCodeableConcept.Coding[0].Code)
			}
		}
	}
	switch details.DeathNotificationStatus {
	case DeathNotificationInformal, DeathNotificationFormal:
		details.Deceased = true
	}
	return details, nil
}

func parsePeriod(p *fhirPeriod) *Period {
	if p == nil {
		return nil
	}
	out := &Period{}
	if t, err := time.Parse(fhirDate, p.Start); err == nil {
		out.Start = &t
	}
	if t, err := time.Parse(fhirDate, p.End); err == nil {
		out.End = &t
	}
	return out
}
