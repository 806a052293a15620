package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/envwatch/enviro-server/internal/alerting"
	"github.com/envwatch/enviro-server/internal/database"
	"github.com/envwatch/enviro-server/internal/readings"
	"github.com/envwatch/enviro-server/pkg/config"
)

type testEnv struct {
	app   *fiber.App
	mock  sqlmock.Sqlmock
	redis *redis.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	db := database.Wrap(sqlDB)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	logger := zap.NewNop()
	lifecycle := alerting.NewLifecycle(db, logger)
	scheduler := alerting.NewScheduler(redisClient,
		func(ctx context.Context) error { return nil },
		time.Minute, 55*time.Second, logger)

	cfg := &config.HTTPConfig{DefaultPageLen: 20, MaxPageLen: 200}
	app := NewApp(cfg, logger)
	NewAlertController(lifecycle, scheduler, cfg.DefaultPageLen, cfg.MaxPageLen, logger).RegisterRoutes(app)
	NewThresholdController(db, logger).RegisterRoutes(app)
	NewHistoryController(db, readings.NewStore(db), cfg.DefaultPageLen, cfg.MaxPageLen, logger).RegisterRoutes(app)

	return &testEnv{app: app, mock: mock, redis: redisClient}
}

func (e *testEnv) do(t *testing.T, method, target, body string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req, 5000)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var decoded map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAlertStats_ZeroFilled(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("SELECT level, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"level", "count"}).AddRow("CRITICAL", 5))

	resp, body := env.do(t, "GET", "/alerts/stats", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5.0, body["total"])

	byLevel, ok := body["byLevel"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, byLevel, 4)
	assert.Equal(t, 5.0, byLevel["CRITICAL"])
	assert.Equal(t, 0.0, byLevel["LOW"])
}

func TestGetAlert_UnknownIs404(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("SELECT (.+) FROM alerts").WillReturnError(sql.ErrNoRows)

	resp, body := env.do(t, "GET", "/alerts/no-such-id", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "not found")
}

func TestListAlerts_BadTypeFilter(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "GET", "/alerts?type=escalated", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	fields, ok := body["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, fields, "type")
}

func TestListAlerts_DefaultsToPageOne(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	env.mock.ExpectQuery("SELECT (.+) FROM alerts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	resp, body := env.do(t, "GET", "/alerts", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, body["page"])
	assert.Equal(t, 20.0, body["limit"])
	assert.Equal(t, 0.0, body["total"])
}

func TestActiveAlerts_StoreOutageIs503(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("SELECT (.+) FROM alerts").
		WillReturnError(sql.ErrConnDone)

	resp, _ := env.do(t, "GET", "/alerts/active", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "30", resp.Header.Get("Retry-After"))
}

func TestCreateAlert_RequiresCreatedBy(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "POST", "/alerts",
		`{"level":"HIGH","title":"Flooding downtown"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	fields, ok := body["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, fields, "CreatedBy")
}

func TestCreateAlert_Manual(t *testing.T) {
	env := newTestEnv(t)

	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.mock.ExpectQuery("INSERT INTO alerts").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(createdAt))

	resp, body := env.do(t, "POST", "/alerts",
		`{"level":"HIGH","title":"Flooding downtown","message":"Avoid riverside roads","createdBy":"operator-7"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ACTIVE", body["status"])
	assert.Equal(t, false, body["isAutomatic"])
	assert.Equal(t, "operator-7", body["createdBy"])
	assert.NotEmpty(t, body["id"])
}

func TestTriggerCheck_ConflictsWithRunningTick(t *testing.T) {
	env := newTestEnv(t)

	started := make(chan struct{})
	release := make(chan struct{})
	busy := alerting.NewScheduler(env.redis, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, time.Minute, 55*time.Second, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- busy.TriggerNow(context.Background()) }()
	<-started

	resp, _ := env.do(t, "POST", "/alerts/trigger-check", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(release)
	require.NoError(t, <-done)

	resp, body := env.do(t, "POST", "/alerts/trigger-check", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
}

func TestCreateThreshold_DegenerateArea(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "POST", "/alert-thresholds",
		`{"metric":"PM25","operator":"GT","value":100,"level":"HIGH","area":[[[105.8,21.02],[105.81,21.02]]]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	fields, ok := body["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, fields, "area")
}

func TestCreateThreshold(t *testing.T) {
	env := newTestEnv(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.mock.ExpectQuery("INSERT INTO alert_thresholds").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(12, now, now))

	resp, body := env.do(t, "POST", "/alert-thresholds",
		`{"metric":"PM25","operator":"GT","value":100,"level":"HIGH","cooldownSeconds":3600}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 12.0, body["id"])
	assert.Equal(t, true, body["isActive"])
	assert.Equal(t, 3600.0, body["cooldownSeconds"])
}

func TestHistory_RequiresStation(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "GET", "/weather", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	fields, ok := body["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, fields, "StationID")
}

func TestHistory_UnknownStationIs404(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("SELECT station_id").WillReturnError(sql.ErrNoRows)

	resp, _ := env.do(t, "GET", "/weather?stationId=ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistory_MetricFamilyIsEnforced(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "GET", "/air-quality?stationId=st-1&metric=TEMPERATURE", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistory_AggregatedSeries(t *testing.T) {
	env := newTestEnv(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.mock.ExpectQuery("SELECT station_id").
		WillReturnRows(sqlmock.NewRows([]string{"station_id", "name", "lat", "lng", "created_at"}).
			AddRow("st-1", "Hoan Kiem", 21.028, 105.852, now))

	env.mock.ExpectQuery("SELECT observed_at, value").
		WillReturnRows(sqlmock.NewRows([]string{"observed_at", "value"}).
			AddRow(time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC), 80.0).
			AddRow(time.Date(2026, 3, 1, 10, 40, 0, 0, time.UTC), 120.0))

	resp, body := env.do(t, "GET",
		"/air-quality?stationId=st-1&metric=PM25&interval=hourly&startDate=2026-03-01&endDate=2026-03-02", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PM25", body["metric"])
	assert.Equal(t, "hourly", body["interval"])
	assert.Equal(t, 1.0, body["total"])

	items, ok := body["items"].([]interface{})
	require.True(t, ok)
	require.Len(t, items, 1)
	bucket := items[0].(map[string]interface{})
	assert.Equal(t, 100.0, bucket["avg"])
	assert.Equal(t, 2.0, bucket["count"])
}
