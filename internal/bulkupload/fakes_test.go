package bulkupload

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhsdigital/lg-bulk-upload/internal/matching"
	"github.com/nhsdigital/lg-bulk-upload/internal/model"
	"github.com/nhsdigital/lg-bulk-upload/internal/pds"
	"github.com/nhsdigital/lg-bulk-upload/internal/queue"
)

type fakeObjects struct {
	staged    map[string][]byte
	tags      map[string]string
	permanent map[string][]byte
	deleted   []string
	copyErr   map[string]error
	tagErr    error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		staged:    map[string][]byte{},
		tags:      map[string]string{},
		permanent: map[string][]byte{},
		copyErr:   map[string]error{},
	}
}

func (f *fakeObjects) stage(key, scanResult string, data []byte) {
	f.staged[key] = data
	if scanResult != "" {
		f.tags[key] = scanResult
	}
}

func (f *fakeObjects) StagingExists(_ context.Context, key string) (bool, error) {
	_, ok := f.staged[key]
	return ok, nil
}

func (f *fakeObjects) StagingTag(_ context.Context, key, tagKey string) (string, bool, error) {
	if f.tagErr != nil {
		return "", false, f.tagErr
	}
	if _, ok := f.staged[key]; !ok {
		return "", false, errors.New("object not found")
	}
	if tagKey != ScanResultTag {
		return "", false, nil
	}
	v, ok := f.tags[key]
	return v, ok, nil
}

func (f *fakeObjects) DownloadStaging(_ context.Context, key string) ([]byte, error) {
	data, ok := f.staged[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (f *fakeObjects) DeleteStaging(_ context.Context, key string) error {
	delete(f.staged, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeObjects) PermanentBucket() string { return "lloyd-george" }

func (f *fakeObjects) BeginTransfer() ObjectTransaction { return &fakeObjectTx{store: f} }

type fakeObjectTx struct {
	store  *fakeObjects
	copied []string
}

func (t *fakeObjectTx) Copy(_ context.Context, src, dest string) error {
	if err := t.store.copyErr[src]; err != nil {
		return err
	}
	data, ok := t.store.staged[src]
	if !ok {
		return errors.New("source missing")
	}
	t.store.permanent[dest] = data
	t.copied = append(t.copied, dest)
	return nil
}

func (t *fakeObjectTx) Size(_ context.Context, dest string) (int64, error) {
	return int64(len(t.store.permanent[dest])), nil
}

func (t *fakeObjectTx) Commit() { t.copied = nil }

func (t *fakeObjectTx) Rollback(context.Context) error {
	for _, k := range t.copied {
		delete(t.store.permanent, k)
	}
	t.copied = nil
	return nil
}

type fakeMetadata struct {
	existing  bool
	queryErr  error
	createErr error
	commitErr error
	docs      []model.DocumentReference
	rollbacks int
}

func (f *fakeMetadata) HasActiveRecord(context.Context, model.DocumentType, string) (bool, error) {
	return f.existing, f.queryErr
}

func (f *fakeMetadata) BeginTransfer(context.Context) (MetadataTransaction, error) {
	return &fakeMetadataTx{store: f}, nil
}

type fakeMetadataTx struct {
	store   *fakeMetadata
	pending []model.DocumentReference
}

func (t *fakeMetadataTx) Create(_ context.Context, doc *model.DocumentReference) error {
	if t.store.createErr != nil {
		return t.store.createErr
	}
	t.pending = append(t.pending, *doc)
	return nil
}

func (t *fakeMetadataTx) Commit(context.Context) error {
	if t.store.commitErr != nil {
		return t.store.commitErr
	}
	for _, d := range t.pending {
		d.MarkUploaded(time.Now())
		t.store.docs = append(t.store.docs, d)
	}
	t.pending = nil
	return nil
}

func (t *fakeMetadataTx) Rollback(context.Context) error {
	t.store.rollbacks++
	t.pending = nil
	return nil
}

type fakeReports struct{ rows []model.BulkUploadReport }

func (f *fakeReports) Insert(_ context.Context, reports ...model.BulkUploadReport) error {
	f.rows = append(f.rows, reports...)
	return nil
}

type fakeRegistry struct {
	patients map[string]*pds.PatientDetails
	errs     map[string]error
	calls    int
}

func (f *fakeRegistry) FetchPatientDetails(_ context.Context, nhs string) (*pds.PatientDetails, error) {
	f.calls++
	if err := f.errs[nhs]; err != nil {
		return nil, err
	}
	p, ok := f.patients[nhs]
	if !ok {
		return nil, pds.ErrPatientNotFound
	}
	return p, nil
}

type fakeQueue struct {
	requeued []model.StagingMetadata
	returned []queue.Envelope
	stitched []string
}

func (f *fakeQueue) Requeue(_ context.Context, s *model.StagingMetadata) error {
	f.requeued = append(f.requeued, *s)
	return nil
}

func (f *fakeQueue) ReturnToQueue(_ context.Context, env queue.Envelope) error {
	f.returned = append(f.returned, env)
	return nil
}

func (f *fakeQueue) SendStitching(_ context.Context, nhs string) error {
	f.stitched = append(f.stitched, nhs)
	return nil
}

type harness struct {
	svc      *Service
	objects  *fakeObjects
	metadata *fakeMetadata
	reports  *fakeReports
	registry *fakeRegistry
	queue    *fakeQueue
}

func newHarness(opts Options) *harness {
	h := &harness{
		objects:  newFakeObjects(),
		metadata: &fakeMetadata{},
		reports:  &fakeReports{},
		registry: &fakeRegistry{patients: map[string]*pds.PatientDetails{}, errs: map[string]error{}},
		queue:    &fakeQueue{},
	}
	if opts.Mode == "" {
		opts.Mode = matching.ModeStrict
	}
	if opts.PilotODSCodes == nil {
		opts.PilotODSCodes = []string{"ALL"}
	}
	if opts.MaxVirusScanRetries == 0 {
		opts.MaxVirusScanRetries = 14
	}
	h.svc = NewService(Dependencies{
		Objects:  h.objects,
		Metadata: h.metadata,
		Reports:  h.reports,
		Registry: h.registry,
		Queue:    h.queue,
	}, opts, zerolog.Nop())
	n := 0
	h.svc.newID = func() string { n++; return "id" + strconv.Itoa(n) }
	h.svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func patient(nhs, given, family string) *pds.PatientDetails {
	return &pds.PatientDetails{
		NHSNumber:             nhs,
		Names:                 []pds.Name{{Use: "usual", Given: []string{given}, Family: family, Period: &pds.Period{Start: day(2015, 1, 1)}}},
		BirthDate:             day(2010, 10, 22),
		GeneralPracticeODS:    "Y12345",
		GeneralPracticeActive: true,
	}
}

func lgName(page, total int, name, nhs string) string {
	return strconv.Itoa(page) + "of" + strconv.Itoa(total) + "_Lloyd_George_Record_[" + name + "]_[" + nhs + "]_[22-10-2010].pdf"
}

// stagedPatient stages a patient's files with the given scan result and
// returns the staging metadata describing them.
func (h *harness) stagedPatient(nhs, name string, pages int, scanResult string) *model.StagingMetadata {
	s := &model.StagingMetadata{NHSNumber: nhs}
	for i := 1; i <= pages; i++ {
		fp := "/" + nhs + "/" + lgName(i, pages, name, nhs)
		h.objects.stage(fp[1:], scanResult, []byte("page "+strconv.Itoa(i)))
		s.Files = append(s.Files, model.MetadataFile{FilePath: fp, GPPracticeCode: "Y12345", ScanDate: "01/01/2023"})
	}
	return s
}

func envelope(t *testing.T, id string, s *model.StagingMetadata) queue.Envelope {
	t.Helper()
	body, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return queue.Envelope{ID: id, Body: string(body), Attributes: map[string]string{queue.AttrNHSNumber: s.NHSNumber}}
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
