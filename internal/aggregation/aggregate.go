package aggregation

import (
	"fmt"
	"sort"
	"time"

	"github.com/envwatch/enviro-server/internal/readings"
)

// Interval selects the bucket granularity for historical queries. It is a
// query-time parameter, not a stored entity.
type Interval string

const (
	IntervalRaw    Interval = "raw"
	IntervalHourly Interval = "hourly"
	Interval6H     Interval = "6h"
	IntervalDaily  Interval = "daily"
)

// ParseInterval validates an interval name; empty defaults to raw.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case "":
		return IntervalRaw, nil
	case IntervalRaw, IntervalHourly, Interval6H, IntervalDaily:
		return Interval(s), nil
	default:
		return "", fmt.Errorf("unknown interval: %q", s)
	}
}

// Bucket holds commutative statistics for one time bucket. Feeding the same
// readings in any order produces identical buckets.
type Bucket struct {
	BucketStart time.Time `json:"bucketStart"`
	Avg         float64   `json:"avg"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Count       int       `json:"count"`
}

type accumulator struct {
	sum   float64
	min   float64
	max   float64
	count int
}

// Aggregate buckets a raw reading sequence. Raw is a passthrough where each
// point becomes a single-sample bucket. Buckets with zero readings are
// omitted; callers render gaps explicitly.
func Aggregate(points []readings.Point, interval Interval) []Bucket {
	if interval == IntervalRaw {
		buckets := make([]Bucket, 0, len(points))
		for _, p := range points {
			buckets = append(buckets, Bucket{
				BucketStart: p.Timestamp,
				Avg:         p.Value,
				Min:         p.Value,
				Max:         p.Value,
				Count:       1,
			})
		}
		return buckets
	}

	accs := make(map[time.Time]*accumulator)
	for _, p := range points {
		key := bucketStart(p.Timestamp, interval)
		acc, ok := accs[key]
		if !ok {
			accs[key] = &accumulator{sum: p.Value, min: p.Value, max: p.Value, count: 1}
			continue
		}
		acc.sum += p.Value
		acc.count++
		if p.Value < acc.min {
			acc.min = p.Value
		}
		if p.Value > acc.max {
			acc.max = p.Value
		}
	}

	buckets := make([]Bucket, 0, len(accs))
	for start, acc := range accs {
		buckets = append(buckets, Bucket{
			BucketStart: start,
			Avg:         acc.sum / float64(acc.count),
			Min:         acc.min,
			Max:         acc.max,
			Count:       acc.count,
		})
	}

	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].BucketStart.Before(buckets[j].BucketStart)
	})

	return buckets
}

// bucketStart truncates a timestamp to its bucket boundary. Hourly keys use
// the observation instant as recorded (identical across fixed-offset zones);
// 6h and daily boundaries are anchored at 00:00 UTC.
func bucketStart(ts time.Time, interval Interval) time.Time {
	switch interval {
	case IntervalHourly:
		return ts.Truncate(time.Hour)
	case Interval6H:
		u := ts.UTC()
		return time.Date(u.Year(), u.Month(), u.Day(), (u.Hour()/6)*6, 0, 0, 0, time.UTC)
	case IntervalDaily:
		u := ts.UTC()
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return ts
	}
}

// Paginate slices the bucketed output. Pages are 1-based; an out-of-range
// page yields an empty slice.
func Paginate(buckets []Bucket, page, limit int) []Bucket {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		return nil
	}

	start := (page - 1) * limit
	if start >= len(buckets) {
		return []Bucket{}
	}

	end := start + limit
	if end > len(buckets) {
		end = len(buckets)
	}
	return buckets[start:end]
}
