package runs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoCreate(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now().UTC()
	run := Run{
		ID:                "run-1",
		AccountID:         "acct-1",
		BusinessContextID: "ctx-1",
		SubjectIdentifier: "acme_corp",
		AnalysisDepth:     "standard",
		Status:            StatusQueued,
		CreditsCost:       5,
		CreatedAt:         now,
	}

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(
			run.ID,
			run.AccountID,
			run.BusinessContextID,
			run.SubjectIdentifier,
			run.AnalysisDepth,
			run.Status,
			run.CreditsCost,
			run.Checkpoint,
			now,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), run); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoCreateMapsUniqueViolation(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO runs").
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "runs_active_tuple_idx" (SQLSTATE 23505)`))

	err := repo.Create(context.Background(), Run{ID: "run-1"})
	if !errors.Is(err, ErrDuplicateRun) {
		t.Fatalf("err = %v, want ErrDuplicateRun", err)
	}
}

func TestPGRepoGetByIDScansRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now().UTC()
	started := now.Add(-time.Minute)
	rows := sqlmock.NewRows([]string{
		"id", "account_id", "business_context_id", "subject_identifier", "analysis_depth",
		"status", "credits_cost", "checkpoint", "credits_deducted", "refund_issued",
		"result", "error_code", "error_message", "started_at", "completed_at", "created_at", "updated_at",
	}).AddRow(
		"run-1", "acct-1", "ctx-1", "acme_corp", "standard",
		StatusComplete, 5, "persist_result", true, false,
		`{"score":72.5}`, nil, nil, started, now, now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM runs").WithArgs("run-1").WillReturnRows(rows)

	run, err := repo.GetByID(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if run.Status != StatusComplete || !run.CreditsDeducted {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.Result["score"] != 72.5 {
		t.Fatalf("result = %v, want score 72.5", run.Result)
	}
	if run.StartedAt == nil || run.CompletedAt == nil {
		t.Fatal("expected started and completed timestamps")
	}
	if run.ErrorCode != nil {
		t.Fatalf("errorCode = %v, want nil", run.ErrorCode)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM runs").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPGRepoUpdateStatusRequiresRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE runs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", StatusFailed, nil, nil, nil, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPGRepoSetResultKeepsStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE runs").
		WithArgs("run-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetResult(context.Background(), "run-1", map[string]any{
		"score":      0.0,
		"summary":    "This profile is private, so its content cannot be analyzed.",
		"resultType": "subject_restricted",
	})
	if err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoMarkRefundIssuedTestAndSet(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE runs").
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE runs").
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.MarkRefundIssued(context.Background(), "run-1")
	if err != nil || !first {
		t.Fatalf("first MarkRefundIssued = %v, %v; want true", first, err)
	}
	second, err := repo.MarkRefundIssued(context.Background(), "run-1")
	if err != nil || second {
		t.Fatalf("second MarkRefundIssued = %v, %v; want false", second, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
