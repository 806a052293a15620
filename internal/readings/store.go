package readings

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/envwatch/enviro-server/internal/apperrors"
	"github.com/envwatch/enviro-server/internal/database"
	"github.com/envwatch/enviro-server/internal/metrics"
)

// Reading is one assembled observation: the latest value of each requested
// metric for a station. ObservedAt is the newest timestamp among them.
type Reading struct {
	StationID  string
	Values     map[metrics.Metric]float64
	ObservedAt time.Time
	Source     string
}

// Point is a single (timestamp, value) pair from a range query.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Store is the read-only adapter over the readings table. It imposes no
// caching policy; callers decide their own freshness requirements.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Latest returns the most recent value per requested metric for a station.
// If no requested metric has any reading, it returns NotFoundError.
func (s *Store) Latest(ctx context.Context, stationID string, wanted []metrics.Metric) (*Reading, error) {
	names := make([]string, len(wanted))
	for i, m := range wanted {
		names[i] = string(m)
	}

	query := `
		SELECT DISTINCT ON (metric) metric, value, observed_at, source
		FROM readings
		WHERE station_id = $1 AND metric = ANY($2)
		ORDER BY metric, observed_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, stationID, pq.Array(names))
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "latest reading", Err: err}
	}
	defer rows.Close()

	reading := &Reading{
		StationID: stationID,
		Values:    make(map[metrics.Metric]float64),
	}

	for rows.Next() {
		var metric string
		var value float64
		var observedAt time.Time
		var source string
		if err := rows.Scan(&metric, &value, &observedAt, &source); err != nil {
			return nil, err
		}

		reading.Values[metrics.Metric(metric)] = value
		if observedAt.After(reading.ObservedAt) {
			reading.ObservedAt = observedAt
			reading.Source = source
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(reading.Values) == 0 {
		return nil, &apperrors.NotFoundError{
			Kind: "reading",
			ID:   fmt.Sprintf("station %s", stationID),
		}
	}

	return reading, nil
}

// Range returns the ordered (timestamp, value) sequence for one station and
// metric inside [start, end].
func (s *Store) Range(ctx context.Context, stationID string, metric metrics.Metric, start, end time.Time) ([]Point, error) {
	query := `
		SELECT observed_at, value
		FROM readings
		WHERE station_id = $1 AND metric = $2 AND observed_at >= $3 AND observed_at <= $4
		ORDER BY observed_at
	`

	rows, err := s.db.QueryContext(ctx, query, stationID, string(metric), start, end)
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Op: "range readings", Err: err}
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			return nil, err
		}
		points = append(points, p)
	}

	return points, rows.Err()
}
