package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nhsdigital/lg-bulk-upload/internal/database"
	"github.com/nhsdigital/lg-bulk-upload/internal/model"
)

var testTables = model.Tables{LloydGeorge: "lloyd_george_references", ARF: "arf_references"}

// setupTestDB starts a Postgres container and applies the migrations.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("lg_test"),
		postgres.WithUsername("lg"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	if err := database.Migrate(dsn, zerolog.Nop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := database.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func newDoc(nhs string) *model.DocumentReference {
	return &model.DocumentReference{
		ID:                 uuid.NewString(),
		NHSNumber:          nhs,
		DocumentType:       model.DocTypeLloydGeorge,
		FileName:           "1of1_Lloyd_George_Record_[Jane Smith]_[" + nhs + "]_[22-10-2010].pdf",
		S3BucketName:       "lg",
		FileSize:           42,
		Uploading:          true,
		VirusScannerResult: model.VirusScanClean,
		CurrentGPODS:       "Y12345",
		Custodian:          "Y12345",
	}
}

func TestDocumentTxCommit(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewDocumentRepository(pool, testTables)
	ctx := context.Background()

	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Create(ctx, newDoc("9000000009")); err != nil {
		t.Fatalf("create: %v", err)
	}
	exists, err := repo.HasActiveRecord(ctx, model.DocTypeLloydGeorge, "9000000009")
	if err != nil || exists {
		t.Fatalf("uncommitted row must not be visible: %v %v", exists, err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback after commit should be a no-op: %v", err)
	}

	docs, err := repo.ListByNHSNumber(ctx, model.DocTypeLloydGeorge, "9000000009")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].DocStatus != model.DocStatusFinal || !docs[0].Uploaded || docs[0].Uploading {
		t.Fatalf("unexpected rows %+v", docs)
	}
	exists, err = repo.HasActiveRecord(ctx, model.DocTypeLloydGeorge, "9000000009")
	if err != nil || !exists {
		t.Fatalf("expected active record: %v %v", exists, err)
	}

	if err := repo.Delete(ctx, model.DocTypeLloydGeorge, docs[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	docs, _ = repo.ListByNHSNumber(ctx, model.DocTypeLloydGeorge, "9000000009")
	if len(docs) != 0 {
		t.Fatalf("expected no rows after delete, got %d", len(docs))
	}
}

func TestDocumentTxRollback(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewDocumentRepository(pool, testTables)
	ctx := context.Background()

	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := tx.Create(ctx, newDoc("9434765919")); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	docs, err := repo.ListByNHSNumber(ctx, model.DocTypeLloydGeorge, "9434765919")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("rolled back rows are visible: %+v", docs)
	}
}

func TestReportRepository(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewReportRepository(pool, "bulk_upload_reports")
	ctx := context.Background()

	staging := &model.StagingMetadata{
		NHSNumber: "9449305552",
		Files: []model.MetadataFile{
			{FilePath: "/9449305552/1of2_a.pdf", GPPracticeCode: "Y12345"},
			{FilePath: "/9449305552/2of2_a.pdf", GPPracticeCode: "Y12345"},
		},
	}
	rows := model.NewReports(staging, model.UploadStatusFailed, "Invalid NHS number", "", time.Now(), uuid.NewString)
	if err := repo.Insert(ctx, rows...); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := repo.ListByNHSNumber(ctx, "9449305552")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].UploadStatus != model.UploadStatusFailed || got[0].Reason != "Invalid NHS number" {
		t.Fatalf("unexpected row %+v", got[0])
	}
}

func TestUnknownDocumentType(t *testing.T) {
	repo := NewDocumentRepository(nil, testTables)
	if _, err := repo.HasActiveRecord(context.Background(), "XYZ", "9000000009"); err == nil {
		t.Fatal("expected error for unknown document type")
	}
}
