package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/envwatch/enviro-server/internal/apperrors"
	"github.com/envwatch/enviro-server/internal/geo"
	"github.com/envwatch/enviro-server/internal/metrics"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// Wrap adopts an existing connection (used by tests).
func Wrap(db *sql.DB) *DB {
	return &DB{db}
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		filePath := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	return nil
}

// ListStations returns every registered station.
func (db *DB) ListStations(ctx context.Context) ([]*Station, error) {
	query := `
		SELECT station_id, name, lat, lng, created_at
		FROM stations
		ORDER BY station_id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "list stations", Err: err}
	}
	defer rows.Close()

	var stations []*Station
	for rows.Next() {
		var s Station
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lng, &s.CreatedAt); err != nil {
			return nil, err
		}
		stations = append(stations, &s)
	}

	return stations, rows.Err()
}

// GetStation retrieves one station by id.
func (db *DB) GetStation(ctx context.Context, stationID string) (*Station, error) {
	query := `
		SELECT station_id, name, lat, lng, created_at
		FROM stations
		WHERE station_id = $1
	`

	var s Station
	err := db.QueryRowContext(ctx, query, stationID).Scan(&s.ID, &s.Name, &s.Lat, &s.Lng, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &apperrors.NotFoundError{Kind: "station", ID: stationID}
	}
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "get station", Err: err}
	}

	return &s, nil
}

// GetActiveThresholds returns all thresholds the evaluator must consider.
func (db *DB) GetActiveThresholds(ctx context.Context) ([]*AlertThreshold, error) {
	query := `
		SELECT id, metric, operator, value, level, area, cooldown_seconds,
		       is_active, created_at, updated_at
		FROM alert_thresholds
		WHERE is_active = true
		ORDER BY id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "list active thresholds", Err: err}
	}
	defer rows.Close()

	var thresholds []*AlertThreshold
	for rows.Next() {
		t, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		thresholds = append(thresholds, t)
	}

	return thresholds, rows.Err()
}

// ListThresholds returns every threshold, active or not.
func (db *DB) ListThresholds(ctx context.Context) ([]*AlertThreshold, error) {
	query := `
		SELECT id, metric, operator, value, level, area, cooldown_seconds,
		       is_active, created_at, updated_at
		FROM alert_thresholds
		ORDER BY id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "list thresholds", Err: err}
	}
	defer rows.Close()

	var thresholds []*AlertThreshold
	for rows.Next() {
		t, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		thresholds = append(thresholds, t)
	}

	return thresholds, rows.Err()
}

// GetThreshold retrieves one threshold by id.
func (db *DB) GetThreshold(ctx context.Context, id int) (*AlertThreshold, error) {
	query := `
		SELECT id, metric, operator, value, level, area, cooldown_seconds,
		       is_active, created_at, updated_at
		FROM alert_thresholds
		WHERE id = $1
	`

	row := db.QueryRowContext(ctx, query, id)
	t, err := scanThreshold(row)
	if err == sql.ErrNoRows {
		return nil, &apperrors.NotFoundError{Kind: "threshold", ID: fmt.Sprint(id)}
	}
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "get threshold", Err: err}
	}

	return t, nil
}

// CreateThreshold inserts a new threshold and fills in its id.
func (db *DB) CreateThreshold(ctx context.Context, t *AlertThreshold) error {
	areaJSON, err := marshalArea(t.Area)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alert_thresholds (metric, operator, value, level, area, cooldown_seconds, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err = db.QueryRowContext(ctx, query,
		t.Metric, t.Operator, t.Value, t.Level, areaJSON, t.CooldownSeconds, t.IsActive,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return &apperrors.StoreUnavailableError{Op: "create threshold", Err: err}
	}

	return nil
}

// UpdateThreshold persists the mutable fields of a threshold.
func (db *DB) UpdateThreshold(ctx context.Context, t *AlertThreshold) error {
	areaJSON, err := marshalArea(t.Area)
	if err != nil {
		return err
	}

	query := `
		UPDATE alert_thresholds
		SET metric = $1, operator = $2, value = $3, level = $4, area = $5,
		    cooldown_seconds = $6, is_active = $7, updated_at = CURRENT_TIMESTAMP
		WHERE id = $8
	`

	result, err := db.ExecContext(ctx, query,
		t.Metric, t.Operator, t.Value, t.Level, areaJSON, t.CooldownSeconds, t.IsActive, t.ID,
	)
	if err != nil {
		return &apperrors.StoreUnavailableError{Op: "update threshold", Err: err}
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &apperrors.NotFoundError{Kind: "threshold", ID: fmt.Sprint(t.ID)}
	}

	return nil
}

// DeleteThreshold removes a threshold. Alerts it raised are retained for
// history and trends: the FK detaches them on delete, and any still-ACTIVE
// alert is resolved first, since no rule remains to ever clear it.
func (db *DB) DeleteThreshold(ctx context.Context, id int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &apperrors.StoreUnavailableError{Op: "delete threshold", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE alerts
		SET status = 'RESOLVED', resolved_at = CURRENT_TIMESTAMP
		WHERE threshold_id = $1 AND status = 'ACTIVE'
	`, id)
	if err != nil {
		return &apperrors.StoreUnavailableError{Op: "delete threshold", Err: err}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM alert_thresholds WHERE id = $1`, id)
	if err != nil {
		return &apperrors.StoreUnavailableError{Op: "delete threshold", Err: err}
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &apperrors.NotFoundError{Kind: "threshold", ID: fmt.Sprint(id)}
	}

	if err := tx.Commit(); err != nil {
		return &apperrors.StoreUnavailableError{Op: "delete threshold", Err: err}
	}

	return nil
}

// ListActiveSubscriptions returns every active recipient registration.
func (db *DB) ListActiveSubscriptions(ctx context.Context) ([]*Subscription, error) {
	query := `
		SELECT id, user_id, device_token, lat, lng, is_active
		FROM subscriptions
		WHERE is_active = true
		ORDER BY id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "list subscriptions", Err: err}
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.DeviceToken, &s.Lat, &s.Lng, &s.IsActive); err != nil {
			return nil, err
		}
		subs = append(subs, &s)
	}

	return subs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanThreshold(row rowScanner) (*AlertThreshold, error) {
	var t AlertThreshold
	var metric, operator, level string
	var areaJSON []byte

	err := row.Scan(&t.ID, &metric, &operator, &t.Value, &level, &areaJSON,
		&t.CooldownSeconds, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Metric = metrics.Metric(metric)
	t.Operator = metrics.Operator(operator)
	t.Level = metrics.Level(level)

	if len(areaJSON) > 0 {
		var area geo.Polygon
		if err := json.Unmarshal(areaJSON, &area); err != nil {
			return nil, fmt.Errorf("failed to decode threshold area: %w", err)
		}
		t.Area = area
	}

	return &t, nil
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
