package bulkupload

import (
	"context"
	"strings"

	"github.com/nhsdigital/lg-bulk-upload/internal/model"
	"github.com/nhsdigital/lg-bulk-upload/internal/pds"
	"github.com/nhsdigital/lg-bulk-upload/internal/validator"
)

// Sentinel errors whose text is itself the report reason.
var reportedErrors = []error{
	validator.ErrInvalidNHSNumber,
	validator.ErrPatientRecordExists,
	pds.ErrPatientNotFound,
	pds.ErrInvalidRequest,
	pds.ErrServer,
	pds.ErrInvalidResponse,
}

type validation struct {
	patientODS       string
	acceptanceReason string
}

// validate checks the file names, looks the patient up and matches the names
// against the registry. patientODS is filled in as soon as it is known so
// failure reports can carry it.
func (s *Service) validate(ctx context.Context, staging *model.StagingMetadata) (validation, error) {
	var v validation
	if err := validator.ValidateNHSNumber(staging.NHSNumber); err != nil {
		return v, err
	}
	fileNames := staging.FileNames()
	if err := validator.ValidateLGFileNames(ctx, s.deps.Metadata, fileNames, staging.NHSNumber); err != nil {
		return v, err
	}
	if s.opts.BypassPDS {
		v.patientODS = staging.UploaderODSCode()
		return v, nil
	}

	patient, err := s.deps.Registry.FetchPatientDetails(ctx, staging.NHSNumber)
	if err != nil {
		return v, err
	}
	v.patientODS = patient.ODSCodeOrStatus()

	match, err := s.matcher.Match(fileNames, patient, s.opts.Mode)
	if err != nil {
		return v, err
	}
	v.acceptanceReason = match.AcceptanceReason
	if match.HistoricalMatch {
		v.acceptanceReason = acceptReason(v.acceptanceReason, NoteHistoricalName)
	}

	if !s.odsAllowed(v.patientODS) {
		return v, fail(MsgNotRegisteredAtPractice, nil)
	}
	if patient.Deceased {
		note := NoteDeceased
		if patient.DeathNotificationStatus != "" {
			note += " - " + patient.DeathNotificationStatus.Label()
		}
		v.acceptanceReason = acceptReason(v.acceptanceReason, note)
	}
	if v.patientODS == pds.ODSRestricted {
		v.acceptanceReason = acceptReason(v.acceptanceReason, NoteRestricted)
	}
	return v, nil
}

// odsAllowed applies the pilot allowlist. Patients without an active
// practice are always allowed.
func (s *Service) odsAllowed(code string) bool {
	switch code {
	case pds.ODSDeceased, pds.ODSRestricted, pds.ODSSuspended:
		return true
	}
	for _, allowed := range s.opts.PilotODSCodes {
		if strings.EqualFold(allowed, "ALL") || strings.EqualFold(allowed, code) {
			return true
		}
	}
	return false
}
