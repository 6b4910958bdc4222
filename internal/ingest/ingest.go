// Package ingest turns a metadata manifest into one queued staging message
// per patient.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/nhsdigital/lg-bulk-upload/internal/filename"
	"github.com/nhsdigital/lg-bulk-upload/internal/model"
)

var metadataRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lg_metadata_rows_total",
	Help: "Manifest rows processed by ingestion, by result.",
}, []string{"result"})

// StagingStore reads and archives manifests in the staging bucket.
type StagingStore interface {
	DownloadStaging(ctx context.Context, key string) ([]byte, error)
	ArchiveStaging(ctx context.Context, key, destKey string) error
}

// ReportWriter records bulk upload report rows.
type ReportWriter interface {
	Insert(ctx context.Context, reports ...model.BulkUploadReport) error
}

// StagingSender dispatches patient groups to the upload queue.
type StagingSender interface {
	NewRunGroupID() string
	SendStaging(ctx context.Context, staging *model.StagingMetadata, groupID string) error
}

// Result summarises one ingestion run.
type Result struct {
	GroupID     string
	Patients    int
	Rejected    int
	ArchivedTo  string
	Corrections map[string]string
}

// Processor runs ingestion.
type Processor struct {
	store         StagingStore
	reports       ReportWriter
	sender        StagingSender
	strategy      filename.Strategy
	archivePrefix string
	logger        zerolog.Logger
	now           func() time.Time
	newID         func() string
}

// NewProcessor builds an ingestion processor. Rows whose file name breaks
// the naming convention are rewritten with strategy.
func NewProcessor(store StagingStore, reports ReportWriter, sender StagingSender, strategy filename.Strategy, archivePrefix string, logger zerolog.Logger) *Processor {
	return &Processor{
		store:         store,
		reports:       reports,
		sender:        sender,
		strategy:      strategy,
		archivePrefix: archivePrefix,
		logger:        logger.With().Str("component", "ingest").Logger(),
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

type groupKey struct {
	nhsNumber string
	odsCode   string
}

// ProcessMetadata ingests the manifest stored under key.
func (p *Processor) ProcessMetadata(ctx context.Context, key string) (*Result, error) {
	p.logger.Info().Str("key", key).Msg("processing metadata manifest")

	data, err := p.store.DownloadStaging(ctx, key)
	if err != nil {
		return nil, &MetadataError{Message: fmt.Sprintf("Could not retrieve metadata file %s", key), Err: err}
	}
	rows, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	res := &Result{Corrections: map[string]string{}}
	var order []groupKey
	groups := map[groupKey]*model.StagingMetadata{}
	for _, row := range rows {
		fixed, err := p.checkFilePath(row.FilePath)
		if err != nil {
			res.Rejected++
			metadataRowsTotal.WithLabelValues("rejected").Inc()
			p.rejectRow(ctx, row, err)
			continue
		}
		if fixed != row.FilePath {
			res.Corrections[row.FilePath] = fixed
			metadataRowsTotal.WithLabelValues("corrected").Inc()
			row.FilePath = fixed
		} else {
			metadataRowsTotal.WithLabelValues("accepted").Inc()
		}

		k := groupKey{nhsNumber: row.NHSNumber, odsCode: row.GPPracticeCode}
		g, ok := groups[k]
		if !ok {
			g = &model.StagingMetadata{NHSNumber: row.NHSNumber}
			groups[k] = g
			order = append(order, k)
		}
		g.Files = append(g.Files, row)
	}
	for orig, fixed := range res.Corrections {
		p.logger.Info().Str("from", orig).Str("to", fixed).Msg("file name corrected")
	}

	res.GroupID = p.sender.NewRunGroupID()
	for _, k := range order {
		if err := p.sender.SendStaging(ctx, groups[k], res.GroupID); err != nil {
			return nil, fmt.Errorf("send staging metadata: %w", err)
		}
		res.Patients++
	}

	res.ArchivedTo = p.archiveKey(key)
	if err := p.store.ArchiveStaging(ctx, key, res.ArchivedTo); err != nil {
		return nil, fmt.Errorf("archive metadata: %w", err)
	}
	p.logger.Info().
		Str("group", res.GroupID).
		Int("patients", res.Patients).
		Int("rejected_rows", res.Rejected).
		Int("corrected_rows", len(res.Corrections)).
		Str("archived_to", res.ArchivedTo).
		Msg("metadata manifest processed")
	return res, nil
}

// checkFilePath returns the path unchanged when its file name already follows
// the convention, or the corrected path.
func (p *Processor) checkFilePath(filePath string) (string, error) {
	if filename.ValidateName(path.Base(filePath)) == nil {
		return filePath, nil
	}
	return p.strategy.Correct(filePath)
}

func (p *Processor) rejectRow(ctx context.Context, row model.MetadataFile, cause error) {
	reason := cause.Error()
	var invalid *filename.InvalidFileNameError
	if errors.As(cause, &invalid) {
		reason = invalid.Message
	}
	p.logger.Warn().Str("file", row.FilePath).Str("reason", reason).Msg("manifest row rejected")

	single := &model.StagingMetadata{NHSNumber: row.NHSNumber, Files: []model.MetadataFile{row}}
	reports := model.NewReports(single, model.UploadStatusFailed, reason, "", p.now(), p.newID)
	if err := p.reports.Insert(ctx, reports...); err != nil {
		p.logger.Error().Err(err).Str("file", row.FilePath).Msg("failed to write report for rejected row")
	}
}

func (p *Processor) archiveKey(key string) string {
	now := p.now().UTC()
	return fmt.Sprintf("%s/%s/%s_%s", p.archivePrefix, now.Format("2006-01-02"), now.Format("150405"), path.Base(key))
}
