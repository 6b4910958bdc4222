package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nhsdigital/lg-bulk-upload/internal/model"
	"github.com/nhsdigital/lg-bulk-upload/internal/validator"
)

// ReportLister reads bulk upload report rows.
type ReportLister interface {
	ListByNHSNumber(ctx context.Context, nhsNumber string) ([]model.BulkUploadReport, error)
}

// DocumentLister reads a patient's document references.
type DocumentLister interface {
	ListByNHSNumber(ctx context.Context, docType model.DocumentType, nhsNumber string) ([]model.DocumentReference, error)
}

// MetadataEnqueuer schedules a manifest ingestion run.
type MetadataEnqueuer interface {
	EnqueueMetadata(ctx context.Context, key string) (string, error)
}

// Server exposes the ops endpoints: health, metrics, report and document
// lookups and a manual ingestion trigger.
type Server struct {
	address     string
	metadataKey string
	reports     ReportLister
	documents   DocumentLister
	enqueuer    MetadataEnqueuer
	logger      zerolog.Logger
	server      *http.Server
	once        sync.Once
}

// New constructs a Server. metadataKey is used when a trigger names no key.
func New(address, metadataKey string, reports ReportLister, documents DocumentLister, enqueuer MetadataEnqueuer, logger zerolog.Logger) *Server {
	return &Server{
		address:     address,
		metadataKey: metadataKey,
		reports:     reports,
		documents:   documents,
		enqueuer:    enqueuer,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/reports", s.handleReports)
	mux.HandleFunc("/documents", s.handleDocuments)
	mux.HandleFunc("/metadata/process", s.handleMetadataProcess)
	return s.loggingMiddleware(mux)
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info().Str("address", s.address).Msg("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	nhsNumber, ok := s.nhsNumberParam(w, r)
	if !ok {
		return
	}
	reports, err := s.reports.ListByNHSNumber(r.Context(), nhsNumber)
	if err != nil {
		s.logger.Error().Err(err).Msg("list reports")
		http.Error(w, "failed to read reports", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []model.BulkUploadReport{}
	}
	s.respondJSON(w, http.StatusOK, reports)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	nhsNumber, ok := s.nhsNumberParam(w, r)
	if !ok {
		return
	}
	docType := model.DocumentType(strings.ToUpper(r.URL.Query().Get("type")))
	switch docType {
	case "":
		docType = model.DocTypeLloydGeorge
	case model.DocTypeLloydGeorge, model.DocTypeARF:
	default:
		http.Error(w, "unknown document type", http.StatusBadRequest)
		return
	}
	docs, err := s.documents.ListByNHSNumber(r.Context(), docType, nhsNumber)
	if err != nil {
		s.logger.Error().Err(err).Msg("list documents")
		http.Error(w, "failed to read documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []model.DocumentReference{}
	}
	s.respondJSON(w, http.StatusOK, docs)
}

func (s *Server) handleMetadataProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		key = s.metadataKey
	}
	id, err := s.enqueuer.EnqueueMetadata(r.Context(), key)
	if err != nil {
		s.logger.Error().Err(err).Msg("enqueue metadata task")
		http.Error(w, "failed to queue job", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"task_id": id, "key": key})
}

func (s *Server) nhsNumberParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	nhsNumber := r.URL.Query().Get("nhs_number")
	if err := validator.ValidateNHSNumber(nhsNumber); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return nhsNumber, true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("request")
	})
}
