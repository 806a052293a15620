package alerting

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/envwatch/enviro-server/internal/apperrors"
	"github.com/envwatch/enviro-server/internal/database"
	"github.com/envwatch/enviro-server/internal/geo"
	"github.com/envwatch/enviro-server/internal/metrics"
)

const alertColumns = `id, threshold_id, level, title, message, area, area_key,
	is_automatic, source_data, station_id, status, sent_at, sent_count,
	created_by, created_at, resolved_at`

// Lifecycle owns Alert state transitions and the alert query surface.
// The at-most-one-ACTIVE-per-(threshold, area) invariant is enforced by a
// partial unique index, not by any in-process state.
type Lifecycle struct {
	db     *database.DB
	logger *zap.Logger
}

func NewLifecycle(db *database.DB, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{db: db, logger: logger}
}

// RaiseSpec describes an alert to raise.
type RaiseSpec struct {
	ThresholdID *int
	Level       metrics.Level
	Title       string
	Message     string
	Area        geo.Polygon
	IsAutomatic bool
	SourceData  json.RawMessage
	StationID   *string
	CreatedBy   *string
}

// Raise inserts a new ACTIVE alert. When a concurrent raise for the same
// (threshold, area) key already committed, the conditional insert hits the
// partial unique index and this raise is dropped: the return is (nil, false).
func (l *Lifecycle) Raise(ctx context.Context, spec RaiseSpec) (*database.Alert, bool, error) {
	areaJSON, err := marshalArea(spec.Area)
	if err != nil {
		return nil, false, err
	}
	areaKey := database.AreaKey(spec.Area)

	query := `
		INSERT INTO alerts (id, threshold_id, level, title, message, area, area_key,
		                    is_automatic, source_data, station_id, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'ACTIVE', $11)
		ON CONFLICT (threshold_id, area_key) WHERE status = 'ACTIVE' DO NOTHING
		RETURNING created_at
	`

	id := uuid.NewString()
	var createdAt time.Time
	err = l.db.QueryRowContext(ctx, query,
		id, spec.ThresholdID, spec.Level, spec.Title, spec.Message,
		areaJSON, areaKey, spec.IsAutomatic, nullableJSON(spec.SourceData),
		spec.StationID, spec.CreatedBy,
	).Scan(&createdAt)

	if err == sql.ErrNoRows {
		// Lost the conditional write; an ACTIVE alert for this key exists.
		l.logger.Debug("raise dropped, active alert already exists",
			zap.String("area_key", areaKey))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &apperrors.StoreUnavailableError{Op: "raise alert", Err: err}
	}

	alert := &database.Alert{
		ID:          id,
		ThresholdID: spec.ThresholdID,
		Level:       spec.Level,
		Title:       spec.Title,
		Message:     spec.Message,
		Area:        spec.Area,
		AreaKey:     areaKey,
		IsAutomatic: spec.IsAutomatic,
		SourceData:  spec.SourceData,
		StationID:   spec.StationID,
		Status:      database.AlertStatusActive,
		CreatedBy:   spec.CreatedBy,
		CreatedAt:   createdAt,
	}

	l.logger.Info("alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("level", string(alert.Level)),
		zap.Bool("automatic", alert.IsAutomatic))

	return alert, true, nil
}

// Resolve closes one alert by id. Resolving an already-resolved or unknown
// alert returns NotFoundError.
func (l *Lifecycle) Resolve(ctx context.Context, alertID string, at time.Time) error {
	query := `
		UPDATE alerts
		SET status = 'RESOLVED', resolved_at = $1
		WHERE id = $2 AND status = 'ACTIVE'
	`

	result, err := l.db.ExecContext(ctx, query, at, alertID)
	if err != nil {
		return &apperrors.StoreUnavailableError{Op: "resolve alert", Err: err}
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &apperrors.NotFoundError{Kind: "active alert", ID: alertID}
	}

	l.logger.Info("alert resolved", zap.String("alert_id", alertID))
	return nil
}

// ResolveByKey closes the ACTIVE alert for a (threshold, area) key, if one
// exists. The resolution timestamp feeds the cooldown check on later raises.
func (l *Lifecycle) ResolveByKey(ctx context.Context, thresholdID int, areaKey string, at time.Time) (*database.Alert, error) {
	query := fmt.Sprintf(`
		UPDATE alerts
		SET status = 'RESOLVED', resolved_at = $1
		WHERE threshold_id = $2 AND area_key = $3 AND status = 'ACTIVE'
		RETURNING %s
	`, alertColumns)

	alert, err := scanAlert(l.db.QueryRowContext(ctx, query, at, thresholdID, areaKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "resolve alert by key", Err: err}
	}

	l.logger.Info("alert resolved",
		zap.String("alert_id", alert.ID),
		zap.Int("threshold_id", thresholdID))

	return alert, nil
}

// ActiveByKey returns the ACTIVE alert for a (threshold, area) key, or nil.
func (l *Lifecycle) ActiveByKey(ctx context.Context, thresholdID int, areaKey string) (*database.Alert, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		WHERE threshold_id = $1 AND area_key = $2 AND status = 'ACTIVE'
	`, alertColumns)

	alert, err := scanAlert(l.db.QueryRowContext(ctx, query, thresholdID, areaKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "get active alert", Err: err}
	}

	return alert, nil
}

// LastResolvedAt returns when the most recent alert for a key resolved, or
// nil when the key never resolved before.
func (l *Lifecycle) LastResolvedAt(ctx context.Context, thresholdID int, areaKey string) (*time.Time, error) {
	query := `
		SELECT MAX(resolved_at) FROM alerts
		WHERE threshold_id = $1 AND area_key = $2 AND status = 'RESOLVED'
	`

	var resolvedAt sql.NullTime
	err := l.db.QueryRowContext(ctx, query, thresholdID, areaKey).Scan(&resolvedAt)
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "last resolved at", Err: err}
	}

	if !resolvedAt.Valid {
		return nil, nil
	}
	return &resolvedAt.Time, nil
}

// Get returns one alert by id.
func (l *Lifecycle) Get(ctx context.Context, alertID string) (*database.Alert, error) {
	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE id = $1`, alertColumns)

	alert, err := scanAlert(l.db.QueryRowContext(ctx, query, alertID))
	if err == sql.ErrNoRows {
		return nil, &apperrors.NotFoundError{Kind: "alert", ID: alertID}
	}
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "get alert", Err: err}
	}

	return alert, nil
}

// ListFilter narrows and pages the alert list.
type ListFilter struct {
	Level     *metrics.Level
	Automatic *bool
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	Limit     int
}

// List returns a page of alerts newest-first plus the unpaged total.
func (l *Lifecycle) List(ctx context.Context, filter ListFilter) ([]*database.Alert, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}

	if filter.Level != nil {
		args = append(args, string(*filter.Level))
		where += fmt.Sprintf(" AND level = $%d", len(args))
	}
	if filter.Automatic != nil {
		args = append(args, *filter.Automatic)
		where += fmt.Sprintf(" AND is_automatic = $%d", len(args))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		where += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM alerts " + where
	if err := l.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, &apperrors.StoreUnavailableError{Op: "count alerts", Err: err}
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}

	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf("SELECT %s FROM alerts %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		alertColumns, where, len(args)-1, len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, &apperrors.StoreUnavailableError{Op: "list alerts", Err: err}
	}
	defer rows.Close()

	var alerts []*database.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, total, rows.Err()
}

// Active returns every ACTIVE alert newest-first.
func (l *Lifecycle) Active(ctx context.Context) ([]*database.Alert, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		WHERE status = 'ACTIVE'
		ORDER BY created_at DESC
	`, alertColumns)

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "list active alerts", Err: err}
	}
	defer rows.Close()

	var alerts []*database.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// LevelStats is the statsByLevel result. Every level key is present, with
// zero counts for levels that never alerted.
type LevelStats struct {
	Total   int                   `json:"total"`
	ByLevel map[metrics.Level]int `json:"byLevel"`
}

// StatsByLevel counts all alerts grouped by severity.
func (l *Lifecycle) StatsByLevel(ctx context.Context) (*LevelStats, error) {
	query := `SELECT level, COUNT(*) FROM alerts GROUP BY level`

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "alert stats", Err: err}
	}
	defer rows.Close()

	stats := &LevelStats{ByLevel: make(map[metrics.Level]int, len(metrics.Levels))}
	for _, level := range metrics.Levels {
		stats.ByLevel[level] = 0
	}

	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		stats.ByLevel[metrics.Level(level)] = count
		stats.Total += count
	}

	return stats, rows.Err()
}

// TrendPoint is one calendar day in a trend series.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Trend groups alerts by UTC calendar day over the trailing window ending
// today. Unlike aggregation buckets, days without alerts are zero-filled so
// trend charts can draw them.
func (l *Lifecycle) Trend(ctx context.Context, days int) ([]TrendPoint, error) {
	if days < 1 {
		return nil, apperrors.NewValidation("days", "must be at least 1")
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -(days - 1))

	query := `
		SELECT DATE(created_at AT TIME ZONE 'UTC'), COUNT(*)
		FROM alerts
		WHERE created_at >= $1
		GROUP BY 1
	`

	rows, err := l.db.QueryContext(ctx, query, start)
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "alert trend", Err: err}
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var day time.Time
		var count int
		if err := rows.Scan(&day, &count); err != nil {
			return nil, err
		}
		counts[day.Format("2006-01-02")] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trend := make([]TrendPoint, 0, days)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		trend = append(trend, TrendPoint{Date: date, Count: counts[date]})
	}

	return trend, nil
}

// RecordDispatch stamps sent_at and adds the attempted batch count to
// sent_count. sent_count only ever increases.
func (l *Lifecycle) RecordDispatch(ctx context.Context, alertID string, attempted int, at time.Time) error {
	query := `
		UPDATE alerts
		SET sent_at = $1, sent_count = sent_count + $2
		WHERE id = $3
	`

	result, err := l.db.ExecContext(ctx, query, at, attempted, alertID)
	if err != nil {
		return &apperrors.StoreUnavailableError{Op: "record dispatch", Err: err}
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &apperrors.NotFoundError{Kind: "alert", ID: alertID}
	}

	return nil
}

func scanAlert(row interface{ Scan(...interface{}) error }) (*database.Alert, error) {
	var a database.Alert
	var level string
	var areaJSON []byte
	var sourceData []byte
	var sentAt, resolvedAt sql.NullTime

	err := row.Scan(&a.ID, &a.ThresholdID, &level, &a.Title, &a.Message,
		&areaJSON, &a.AreaKey, &a.IsAutomatic, &sourceData, &a.StationID,
		&a.Status, &sentAt, &a.SentCount, &a.CreatedBy, &a.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	a.Level = metrics.Level(level)
	if len(areaJSON) > 0 {
		var area geo.Polygon
		if err := json.Unmarshal(areaJSON, &area); err != nil {
			return nil, fmt.Errorf("failed to decode alert area: %w", err)
		}
		a.Area = area
	}
	if len(sourceData) > 0 {
		a.SourceData = json.RawMessage(sourceData)
	}
	if sentAt.Valid {
		a.SentAt = &sentAt.Time
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}

	return &a, nil
}

func marshalArea(p geo.Polygon) (interface{}, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode area: %w", err)
	}
	return data, nil
}

func nullableJSON(data json.RawMessage) interface{} {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}
