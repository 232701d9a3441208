package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutline/creator-discovery/internal/creator"
	"github.com/scoutline/creator-discovery/internal/jobs"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newMockTracker(t *testing.T) (*jobs.Tracker, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	tracker := jobs.NewTrackerWithPool(mock, fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}, nil)
	return tracker, mock
}

func TestCreateJobInsertsJobAndAggregateRow(t *testing.T) {
	t.Parallel()
	tracker, mock := newMockTracker(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs("job-1", "user-1", "reels", []string{"vegan"}, []string{"vegan"},
			50, "pending", "pending", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO job_aggregates`).
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := tracker.CreateJob(context.Background(), creator.Job{
		ID:               "job-1",
		UserID:           "user-1",
		Platform:         creator.PlatformReels,
		Keywords:         []string{"vegan"},
		UsedKeywords:     []string{"vegan"},
		TargetResults:    50,
		Status:           creator.JobStatusPending,
		EnrichmentStatus: creator.EnrichmentPending,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	tracker, mock := newMockTracker(t)

	mock.ExpectQuery(`SELECT id, user_id, platform`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := tracker.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, jobs.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansCountersAndStatus(t *testing.T) {
	t.Parallel()
	tracker, mock := newMockTracker(t)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, user_id, platform`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "platform", "keywords", "used_keywords", "target_results",
			"status", "enrichment_status",
			"keywords_dispatched", "keywords_completed", "creators_found", "creators_enriched",
			"expansion_round", "stop_reason", "error_text", "created_at", "updated_at",
		}).AddRow(
			"job-1", "user-1", "longvideo", []string{"golf", "golf tips"}, []string{"golf", "golf tips"}, 100,
			"searching", "pending",
			6, 4, 83, 10,
			1, "", "", now, now,
		))

	job, err := tracker.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, creator.PlatformLongVideo, job.Platform)
	assert.Equal(t, creator.JobStatusSearching, job.Status)
	assert.Equal(t, creator.JobCounters{
		KeywordsDispatched: 6,
		KeywordsCompleted:  4,
		CreatorsFound:      83,
		CreatorsEnriched:   10,
	}, job.Counters)
	assert.Equal(t, 1, job.ExpansionRound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusRefusesTerminalTransitions(t *testing.T) {
	t.Parallel()
	tracker, mock := newMockTracker(t)

	// A terminal row matches no rows; the guard makes this a silent no-op.
	mock.ExpectExec(`UPDATE jobs SET status = \$2`).
		WithArgs("job-1", "searching", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := tracker.UpdateStatus(context.Background(), "job-1", creator.JobStatusSearching)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementCountersIsOneAtomicUpdate(t *testing.T) {
	t.Parallel()
	tracker, mock := newMockTracker(t)

	mock.ExpectExec(`keywords_dispatched = keywords_dispatched \+ \$2`).
		WithArgs("job-1", 0, 1, 12, 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := tracker.IncrementCounters(context.Background(), "job-1", creator.JobCounters{
		KeywordsCompleted: 1,
		CreatorsFound:     12,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendKeywordsConcatenatesInDatabase(t *testing.T) {
	t.Parallel()
	tracker, mock := newMockTracker(t)

	mock.ExpectExec(`keywords = keywords \|\| \$2`).
		WithArgs("job-1", []string{"golf drills", "golf swing"}, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := tracker.AppendKeywords(context.Background(), "job-1", []string{"golf drills", "golf swing"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementExpansionRoundReturnsNewValue(t *testing.T) {
	t.Parallel()
	tracker, mock := newMockTracker(t)

	mock.ExpectQuery(`expansion_round = expansion_round \+ 1`).
		WithArgs("job-1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"expansion_round"}).AddRow(2))

	round, err := tracker.IncrementExpansionRound(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, round)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordShortfallFirstReasonWins(t *testing.T) {
	t.Parallel()
	tracker, mock := newMockTracker(t)

	// The guard only matches rows with no reason yet, so a later worker
	// observing a different stop condition cannot overwrite the first.
	mock.ExpectExec(`UPDATE jobs SET stop_reason = \$2`).
		WithArgs("job-1", "yield_below_minimum", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE jobs SET stop_reason = \$2`).
		WithArgs("job-1", "round_limit_reached", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, tracker.RecordShortfall(context.Background(), "job-1", "yield_below_minimum"))
	require.NoError(t, tracker.RecordShortfall(context.Background(), "job-1", "round_limit_reached"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetErrorKeepsTerminalGuard(t *testing.T) {
	t.Parallel()
	tracker, mock := newMockTracker(t)

	mock.ExpectExec(`UPDATE jobs SET status = 'error'`).
		WithArgs("job-1", "publish failed", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := tracker.SetError(context.Background(), "job-1", "publish failed")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
