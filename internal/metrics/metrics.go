package metrics

import "fmt"

// Metric identifies an observed environmental quantity.
type Metric string

const (
	MetricAQI           Metric = "AQI"
	MetricPM25          Metric = "PM25"
	MetricPM10          Metric = "PM10"
	MetricCO            Metric = "CO"
	MetricNO2           Metric = "NO2"
	MetricO3            Metric = "O3"
	MetricSO2           Metric = "SO2"
	MetricTemperature   Metric = "TEMPERATURE"
	MetricHumidity      Metric = "HUMIDITY"
	MetricWindSpeed     Metric = "WIND_SPEED"
	MetricPrecipitation Metric = "PRECIPITATION"
	MetricUVIndex       Metric = "UV_INDEX"
)

// All lists every known metric. Order is stable for display purposes.
var All = []Metric{
	MetricAQI, MetricPM25, MetricPM10, MetricCO, MetricNO2, MetricO3, MetricSO2,
	MetricTemperature, MetricHumidity, MetricWindSpeed, MetricPrecipitation, MetricUVIndex,
}

// airQualityMetrics are the metrics served by the air-quality history endpoint;
// everything else is weather.
var airQualityMetrics = map[Metric]bool{
	MetricAQI:  true,
	MetricPM25: true,
	MetricPM10: true,
	MetricCO:   true,
	MetricNO2:  true,
	MetricO3:   true,
	MetricSO2:  true,
}

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	m := Metric(s)
	for _, known := range All {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric: %q", s)
}

// IsAirQuality reports whether m belongs to the air-quality family.
func (m Metric) IsAirQuality() bool {
	return airQualityMetrics[m]
}

// Operator is a threshold comparison operator.
type Operator string

const (
	OpGT  Operator = "GT"
	OpGTE Operator = "GTE"
	OpLT  Operator = "LT"
	OpLTE Operator = "LTE"
)

// ParseOperator validates an operator name.
func ParseOperator(s string) (Operator, error) {
	switch op := Operator(s); op {
	case OpGT, OpGTE, OpLT, OpLTE:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operator: %q", s)
	}
}

// Compare applies the operator to (value, boundary). GT and LT exclude
// equality, GTE and LTE include it. Unknown operators never match.
func (op Operator) Compare(value, boundary float64) bool {
	switch op {
	case OpGT:
		return value > boundary
	case OpGTE:
		return value >= boundary
	case OpLT:
		return value < boundary
	case OpLTE:
		return value <= boundary
	default:
		return false
	}
}

// Level grades the severity of a threshold or alert.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Levels lists all severity levels from least to most severe.
var Levels = []Level{LevelLow, LevelMedium, LevelHigh, LevelCritical}

// ParseLevel validates a severity level name.
func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return l, nil
	default:
		return "", fmt.Errorf("unknown level: %q", s)
	}
}
