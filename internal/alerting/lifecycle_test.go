package alerting

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/envwatch/enviro-server/internal/apperrors"
	"github.com/envwatch/enviro-server/internal/database"
	"github.com/envwatch/enviro-server/internal/metrics"
)

func newTestLifecycle(t *testing.T) (*Lifecycle, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLifecycle(database.Wrap(db), zap.NewNop()), mock
}

var alertRowColumns = []string{
	"id", "threshold_id", "level", "title", "message", "area", "area_key",
	"is_automatic", "source_data", "station_id", "status", "sent_at",
	"sent_count", "created_by", "created_at", "resolved_at",
}

func TestRaise_Inserted(t *testing.T) {
	lifecycle, mock := newTestLifecycle(t)

	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO alerts").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(createdAt))

	thresholdID := 7
	alert, raised, err := lifecycle.Raise(context.Background(), RaiseSpec{
		ThresholdID: &thresholdID,
		Level:       metrics.LevelHigh,
		Title:       "PM25 GT 100.00 breached",
		IsAutomatic: true,
	})
	require.NoError(t, err)
	require.True(t, raised)
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, database.AlertStatusActive, alert.Status)
	assert.Equal(t, database.GlobalAreaKey, alert.AreaKey)
	assert.Equal(t, createdAt, alert.CreatedAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRaise_DroppedOnActiveConflict(t *testing.T) {
	lifecycle, mock := newTestLifecycle(t)

	// ON CONFLICT DO NOTHING returns no row when an ACTIVE alert for the
	// key already committed.
	mock.ExpectQuery("INSERT INTO alerts").WillReturnError(sql.ErrNoRows)

	thresholdID := 7
	alert, raised, err := lifecycle.Raise(context.Background(), RaiseSpec{
		ThresholdID: &thresholdID,
		Level:       metrics.LevelHigh,
		IsAutomatic: true,
	})
	require.NoError(t, err)
	assert.False(t, raised)
	assert.Nil(t, alert)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve(t *testing.T) {
	lifecycle, mock := newTestLifecycle(t)

	mock.ExpectExec("UPDATE alerts").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, lifecycle.Resolve(context.Background(), "a-1", time.Now()))

	mock.ExpectExec("UPDATE alerts").WillReturnResult(sqlmock.NewResult(0, 0))
	err := lifecycle.Resolve(context.Background(), "a-2", time.Now())
	assert.True(t, apperrors.IsNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveByKey_NoActiveAlert(t *testing.T) {
	lifecycle, mock := newTestLifecycle(t)

	mock.ExpectQuery("SELECT (.+) FROM alerts").WillReturnError(sql.ErrNoRows)

	alert, err := lifecycle.ActiveByKey(context.Background(), 7, database.GlobalAreaKey)
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestActiveByKey_Found(t *testing.T) {
	lifecycle, mock := newTestLifecycle(t)

	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	thresholdID := 7
	mock.ExpectQuery("SELECT (.+) FROM alerts").
		WillReturnRows(sqlmock.NewRows(alertRowColumns).AddRow(
			"a-1", thresholdID, "HIGH", "title", "message", nil, "global",
			true, []byte(`{"stationId":"st-1"}`), "st-1", "ACTIVE", nil,
			0, nil, createdAt, nil,
		))

	alert, err := lifecycle.ActiveByKey(context.Background(), thresholdID, database.GlobalAreaKey)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "a-1", alert.ID)
	assert.Equal(t, metrics.LevelHigh, alert.Level)
	assert.True(t, alert.IsAutomatic)
	assert.NotEmpty(t, alert.SourceData)
	assert.Nil(t, alert.ResolvedAt)
}

func TestLastResolvedAt_NeverResolved(t *testing.T) {
	lifecycle, mock := newTestLifecycle(t)

	mock.ExpectQuery("SELECT MAX").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	at, err := lifecycle.LastResolvedAt(context.Background(), 7, database.GlobalAreaKey)
	require.NoError(t, err)
	assert.Nil(t, at)
}

func TestStatsByLevel_ZeroFillsEveryLevel(t *testing.T) {
	lifecycle, mock := newTestLifecycle(t)

	mock.ExpectQuery("SELECT level, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"level", "count"}).
			AddRow("HIGH", 2).
			AddRow("LOW", 1))

	stats, err := lifecycle.StatsByLevel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Len(t, stats.ByLevel, len(metrics.Levels))
	assert.Equal(t, 2, stats.ByLevel[metrics.LevelHigh])
	assert.Equal(t, 1, stats.ByLevel[metrics.LevelLow])
	assert.Equal(t, 0, stats.ByLevel[metrics.LevelMedium])
	assert.Equal(t, 0, stats.ByLevel[metrics.LevelCritical])
}

func TestTrend_ZeroFillsMissingDays(t *testing.T) {
	lifecycle, mock := newTestLifecycle(t)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	mock.ExpectQuery("SELECT DATE").
		WillReturnRows(sqlmock.NewRows([]string{"date", "count"}).
			AddRow(today, 4))

	trend, err := lifecycle.Trend(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, trend, 30)

	// Consecutive calendar days, oldest first.
	for i := 1; i < len(trend); i++ {
		prev, err := time.Parse("2006-01-02", trend[i-1].Date)
		require.NoError(t, err)
		cur, err := time.Parse("2006-01-02", trend[i].Date)
		require.NoError(t, err)
		assert.Equal(t, prev.AddDate(0, 0, 1), cur)
	}

	assert.Equal(t, today.Format("2006-01-02"), trend[29].Date)
	assert.Equal(t, 4, trend[29].Count)
	assert.Equal(t, 0, trend[0].Count)
}

func TestTrend_RejectsNonPositiveDays(t *testing.T) {
	lifecycle, _ := newTestLifecycle(t)

	_, err := lifecycle.Trend(context.Background(), 0)
	assert.True(t, apperrors.IsValidation(err))
}

func TestRecordDispatch(t *testing.T) {
	lifecycle, mock := newTestLifecycle(t)

	mock.ExpectExec("UPDATE alerts").
		WithArgs(sqlmock.AnyArg(), 3, "a-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, lifecycle.RecordDispatch(context.Background(), "a-1", 3, time.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_AppliesFiltersAndPaging(t *testing.T) {
	lifecycle, mock := newTestLifecycle(t)

	level := metrics.LevelHigh
	automatic := true

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("HIGH", true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(41))

	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM alerts").
		WithArgs("HIGH", true, 20, 20).
		WillReturnRows(sqlmock.NewRows(alertRowColumns).AddRow(
			"a-1", 7, "HIGH", "title", "message", nil, "global",
			true, nil, nil, "RESOLVED", nil, 0, nil, createdAt, createdAt,
		))

	alerts, total, err := lifecycle.List(context.Background(), ListFilter{
		Level:     &level,
		Automatic: &automatic,
		Page:      2,
		Limit:     20,
	})
	require.NoError(t, err)
	assert.Equal(t, 41, total)
	require.Len(t, alerts, 1)
	assert.Equal(t, database.AlertStatusResolved, alerts[0].Status)
	require.NotNil(t, alerts[0].ResolvedAt)

	require.NoError(t, mock.ExpectationsWereMet())
}
