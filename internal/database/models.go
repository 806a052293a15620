package database

import (
	"encoding/json"
	"time"

	"github.com/envwatch/enviro-server/internal/geo"
	"github.com/envwatch/enviro-server/internal/metrics"
)

// Station is a registered monitoring station.
type Station struct {
	ID        string
	Name      string
	Lat       float64
	Lng       float64
	CreatedAt time.Time
}

// Geo converts the station row into its geographic view.
func (s *Station) Geo() geo.Station {
	return geo.Station{
		ID:       s.ID,
		Name:     s.Name,
		Location: geo.Point{Lng: s.Lng, Lat: s.Lat},
	}
}

// AlertThreshold is a standing operator-defined rule. The evaluator never
// mutates it; is_active toggles are operator actions.
type AlertThreshold struct {
	ID              int
	Metric          metrics.Metric
	Operator        metrics.Operator
	Value           float64
	Level           metrics.Level
	Area            geo.Polygon // nil means global scope
	CooldownSeconds int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Alert is a raised or resolved incident. Alerts are never deleted; resolved
// ones feed trend statistics.
type Alert struct {
	ID          string
	ThresholdID *int
	Level       metrics.Level
	Title       string
	Message     string
	Area        geo.Polygon
	AreaKey     string
	IsAutomatic bool
	SourceData  json.RawMessage
	StationID   *string
	Status      string
	SentAt      *time.Time
	SentCount   int
	CreatedBy   *string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

const (
	AlertStatusActive   = "ACTIVE"
	AlertStatusResolved = "RESOLVED"
)

// GlobalAreaKey is the area_key recorded for alerts without a polygon, so
// the (threshold_id, area_key) uniqueness key stays well-defined.
const GlobalAreaKey = "global"

// AreaKey canonicalizes a polygon into the uniqueness key column. The JSON
// serialization of the ring set is stable for a given stored threshold.
func AreaKey(p geo.Polygon) string {
	if !p.IsUsable() {
		return GlobalAreaKey
	}
	data, err := json.Marshal(p)
	if err != nil {
		return GlobalAreaKey
	}
	return string(data)
}

// Subscription is a registered recipient device with its location.
type Subscription struct {
	ID          int
	UserID      string
	DeviceToken string
	Lat         float64
	Lng         float64
	IsActive    bool
}
