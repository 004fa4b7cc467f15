package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-cloner/internal/store"
)

var historyColumns = []string{
	"job_id", "url", "full_site", "status", "phase", "started_at", "updated_at", "finished_at",
	"pages_captured", "pages_failed", "bytes_captured", "assets", "error_message",
}

func newMockStore(t *testing.T) (*HistoryStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewHistoryStoreWithPool(mock, "")
	require.NoError(t, err)
	return s, mock
}

func TestStartRunInsertsRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO clone_runs").
		WithArgs("job-1", "https://example.com/", true, "running", started).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.StartRun(context.Background(), store.RunStart{
		JobID:     "job-1",
		URL:       "https://example.com/",
		FullSite:  true,
		StartedAt: started,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddPagesAndPhase(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	at := time.Unix(1700000100, 0).UTC()
	mock.ExpectExec("UPDATE clone_runs SET phase").
		WithArgs("capturing", at, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE clone_runs").
		WithArgs(int64(4), int64(1), int64(4096), at, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdatePhase(context.Background(), "job-1", "capturing", at))
	require.NoError(t, s.AddPages(context.Background(), "job-1", store.PageDelta{Captured: 4, Failed: 1, Bytes: 4096, At: at}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunMissingRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE clone_runs").
		WithArgs("failed", pgxmock.AnyArg(), int64(0), pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	msg := "no pages could be captured"
	err := s.FinishRun(context.Background(), "ghost", store.RunFinish{
		Status:     store.RunFailed,
		FinishedAt: time.Now(),
		Error:      &msg,
	})
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunRejectsRunningStatus(t *testing.T) {
	t.Parallel()

	s, _ := newMockStore(t)
	err := s.FinishRun(context.Background(), "job-1", store.RunFinish{Status: store.RunRunning})
	require.Error(t, err)
}

func TestGetRunScansRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(90 * time.Second)
	rows := pgxmock.NewRows(historyColumns).AddRow(
		"job-1", "https://example.com/", true, "completed", "rewriting", started, finished, finished,
		int64(5), int64(1), int64(20480), int64(3), nil,
	)
	mock.ExpectQuery("SELECT (.+) FROM clone_runs WHERE job_id").WithArgs("job-1").WillReturnRows(rows)

	run, err := s.GetRun(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, store.RunCompleted, run.Status)
	require.Equal(t, "rewriting", run.Phase)
	require.Equal(t, int64(5), run.PagesCaptured)
	require.NotNil(t, run.FinishedAt)
	require.True(t, finished.Equal(*run.FinishedAt))
	require.Nil(t, run.ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM clone_runs").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListRunsFiltersByStatus(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows(historyColumns).
		AddRow("job-2", "https://b.example/", false, "failed", "capturing", now, now, now,
			int64(0), int64(1), int64(0), int64(0), "capture failed").
		AddRow("job-1", "https://a.example/", false, "failed", "capturing", now.Add(-time.Hour), now, now,
			int64(0), int64(1), int64(0), int64(0), "capture failed")
	status := store.RunFailed
	mock.ExpectQuery("SELECT (.+) FROM clone_runs").
		WithArgs(pgxmock.AnyArg(), 10, 0).
		WillReturnRows(rows)

	runs, err := s.ListRuns(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "job-2", runs[0].JobID)
	require.NotNil(t, runs[0].ErrorMessage)
	require.Equal(t, "capture failed", *runs[0].ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewHistoryStoreWithPool(mock, "runs; DROP TABLE users")
	require.Error(t, err)
	_, err = NewHistoryStoreWithPool(nil, "")
	require.Error(t, err)
	_, err = NewHistoryStore(context.Background(), Config{})
	require.Error(t, err)
}

func TestPingReportsPoolHealth(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewHistoryStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(pgx.ErrTxClosed)
	require.ErrorIs(t, s.Ping(context.Background()), pgx.ErrTxClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}
