package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/envwatch/enviro-server/internal/apperrors"
	"github.com/envwatch/enviro-server/internal/database"
	"github.com/envwatch/enviro-server/internal/geo"
	"github.com/envwatch/enviro-server/internal/metrics"
	"github.com/envwatch/enviro-server/internal/readings"
)

// RuleSource supplies the evaluator's rule set and station registry.
// *database.DB satisfies it.
type RuleSource interface {
	GetActiveThresholds(ctx context.Context) ([]*database.AlertThreshold, error)
	ListStations(ctx context.Context) ([]*database.Station, error)
}

// ReadingSource is the evaluator's view of the reading store adapter.
type ReadingSource interface {
	Latest(ctx context.Context, stationID string, wanted []metrics.Metric) (*readings.Reading, error)
}

// AlertStore is the evaluator's view of the lifecycle manager.
type AlertStore interface {
	ActiveByKey(ctx context.Context, thresholdID int, areaKey string) (*database.Alert, error)
	LastResolvedAt(ctx context.Context, thresholdID int, areaKey string) (*time.Time, error)
	Raise(ctx context.Context, spec RaiseSpec) (*database.Alert, bool, error)
	ResolveByKey(ctx context.Context, thresholdID int, areaKey string, at time.Time) (*database.Alert, error)
}

// Dispatcher hands raised and resolved alerts to the notification side.
// Dispatch failures never affect alert state.
type Dispatcher interface {
	DispatchRaised(ctx context.Context, alert *database.Alert) error
	DispatchResolved(ctx context.Context, alert *database.Alert) error
}

// TriggerSnapshot is the sourceData audit record stored with an automatic
// alert: the reading that tripped the rule. It is written once at raise time
// and never refreshed while the alert stays ACTIVE.
type TriggerSnapshot struct {
	StationID  string    `json:"stationId"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Boundary   float64   `json:"boundary"`
	Operator   string    `json:"operator"`
	ObservedAt time.Time `json:"observedAt"`
	Source     string    `json:"source,omitempty"`
}

// EvaluatorOptions tune one evaluator instance.
type EvaluatorOptions struct {
	StalenessBound    time.Duration
	Workers           int
	StoreTimeout      time.Duration
	ThresholdCacheTTL time.Duration
}

// Evaluator runs the per-tick threshold check. Thresholds are evaluated
// concurrently; correctness of the one-ACTIVE-alert-per-key invariant comes
// from the lifecycle manager's conditional write, not from this process.
type Evaluator struct {
	rules      RuleSource
	readings   ReadingSource
	alerts     AlertStore
	dispatcher Dispatcher
	logger     *zap.Logger
	opts       EvaluatorOptions

	now func() time.Time

	cacheMu          sync.Mutex
	cachedThresholds []*database.AlertThreshold
	cacheLoadedAt    time.Time
}

func NewEvaluator(rules RuleSource, readingStore ReadingSource, alerts AlertStore,
	dispatcher Dispatcher, opts EvaluatorOptions, logger *zap.Logger) *Evaluator {

	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.StalenessBound <= 0 {
		opts.StalenessBound = 30 * time.Minute
	}

	return &Evaluator{
		rules:      rules,
		readings:   readingStore,
		alerts:     alerts,
		dispatcher: dispatcher,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}
}

// RunTick evaluates every active threshold once. A store failure aborts the
// whole tick (already-committed raises and resolves stand); single station
// read failures only skip that station.
func (e *Evaluator) RunTick(ctx context.Context) error {
	now := e.now()

	thresholds, err := e.getThresholds(ctx)
	if err != nil {
		return fmt.Errorf("tick aborted: %w", err)
	}

	stations, err := e.rules.ListStations(ctx)
	if err != nil {
		return fmt.Errorf("tick aborted: %w", err)
	}

	geoStations := make([]geo.Station, len(stations))
	for i, s := range stations {
		geoStations[i] = s.Geo()
	}

	tickCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan *database.AlertThreshold)
	errs := make(chan error, len(thresholds))

	var wg sync.WaitGroup
	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for threshold := range jobs {
				if err := e.evaluateThreshold(tickCtx, threshold, geoStations, now); err != nil {
					if apperrors.IsStoreUnavailable(err) {
						errs <- err
						cancel() // abort the rest of the tick
						return
					}
					e.logger.Warn("threshold evaluation failed",
						zap.Int("threshold_id", threshold.ID),
						zap.Error(err))
				}
			}
		}()
	}

	for _, threshold := range thresholds {
		select {
		case jobs <- threshold:
		case <-tickCtx.Done():
		}
		if tickCtx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		return fmt.Errorf("tick aborted: %w", err)
	}

	e.logger.Debug("tick complete",
		zap.Int("thresholds", len(thresholds)),
		zap.Int("stations", len(stations)))

	return nil
}

// evaluateThreshold walks one rule through the QUIET/ACTIVE state machine
// for its (threshold, area) key.
func (e *Evaluator) evaluateThreshold(ctx context.Context, threshold *database.AlertThreshold,
	stations []geo.Station, now time.Time) error {

	areaKey := database.AreaKey(threshold.Area)

	candidates := stations
	if threshold.Area.IsUsable() {
		candidates = geo.MatchStations(threshold.Area, stations)
	}

	trigger, err := e.findTrigger(ctx, threshold, candidates, now)
	if err != nil {
		return err
	}

	active, err := e.alerts.ActiveByKey(ctx, threshold.ID, areaKey)
	if err != nil {
		return err
	}

	if trigger == nil {
		if active == nil {
			return nil // QUIET, nothing to do
		}
		resolved, err := e.alerts.ResolveByKey(ctx, threshold.ID, areaKey, now)
		if err != nil {
			return err
		}
		if resolved != nil {
			if err := e.dispatcher.DispatchResolved(ctx, resolved); err != nil {
				e.logger.Warn("resolved dispatch failed",
					zap.String("alert_id", resolved.ID), zap.Error(err))
			}
		}
		return nil
	}

	if active != nil {
		// Condition still holds; the existing alert continues and its
		// sourceData snapshot is left as raised.
		return nil
	}

	lastResolved, err := e.alerts.LastResolvedAt(ctx, threshold.ID, areaKey)
	if err != nil {
		return err
	}
	cooldown := time.Duration(threshold.CooldownSeconds) * time.Second
	if lastResolved != nil && now.Sub(*lastResolved) < cooldown {
		e.logger.Debug("raise suppressed by cooldown",
			zap.Int("threshold_id", threshold.ID),
			zap.Duration("remaining", cooldown-now.Sub(*lastResolved)))
		return nil
	}

	sourceData, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to encode trigger snapshot: %w", err)
	}

	stationID := trigger.StationID
	alert, raised, err := e.alerts.Raise(ctx, RaiseSpec{
		ThresholdID: &threshold.ID,
		Level:       threshold.Level,
		Title: fmt.Sprintf("%s %s %.2f breached",
			threshold.Metric, threshold.Operator, threshold.Value),
		Message: fmt.Sprintf("Station %s reported %s = %.2f",
			trigger.StationID, threshold.Metric, trigger.Value),
		Area:        threshold.Area,
		IsAutomatic: true,
		SourceData:  sourceData,
		StationID:   &stationID,
	})
	if err != nil {
		return err
	}
	if !raised {
		return nil // concurrent raise won; nothing to dispatch
	}

	if err := e.dispatcher.DispatchRaised(ctx, alert); err != nil {
		// Delivery is best-effort; the alert stands regardless.
		e.logger.Warn("dispatch failed",
			zap.String("alert_id", alert.ID), zap.Error(err))
	}

	return nil
}

// findTrigger returns the first candidate station (in matcher order) whose
// fresh reading satisfies the rule, or nil when the condition does not hold.
// Stations with no reading inside the staleness bound are unknown, never
// "below threshold".
func (e *Evaluator) findTrigger(ctx context.Context, threshold *database.AlertThreshold,
	candidates []geo.Station, now time.Time) (*TriggerSnapshot, error) {

	for _, station := range candidates {
		reading, err := e.latestReading(ctx, station.ID, threshold.Metric)
		if err != nil {
			if apperrors.IsStoreUnavailable(err) {
				return nil, err
			}
			if !apperrors.IsNotFound(err) && !apperrors.IsStaleData(err) {
				e.logger.Warn("station read failed, skipping for this tick",
					zap.String("station_id", station.ID), zap.Error(err))
			}
			continue
		}

		if now.Sub(reading.ObservedAt) > e.opts.StalenessBound {
			continue
		}

		value, ok := reading.Values[threshold.Metric]
		if !ok {
			continue
		}

		if threshold.Operator.Compare(value, threshold.Value) {
			return &TriggerSnapshot{
				StationID:  station.ID,
				Metric:     string(threshold.Metric),
				Value:      value,
				Boundary:   threshold.Value,
				Operator:   string(threshold.Operator),
				ObservedAt: reading.ObservedAt,
				Source:     reading.Source,
			}, nil
		}
	}

	return nil, nil
}

func (e *Evaluator) latestReading(ctx context.Context, stationID string, metric metrics.Metric) (*readings.Reading, error) {
	if e.opts.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.StoreTimeout)
		defer cancel()
	}
	return e.readings.Latest(ctx, stationID, []metrics.Metric{metric})
}

// getThresholds reuses the loaded rule set within the cache TTL so every
// tick does not re-read unchanged rules.
func (e *Evaluator) getThresholds(ctx context.Context) ([]*database.AlertThreshold, error) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	if e.opts.ThresholdCacheTTL > 0 &&
		e.cachedThresholds != nil &&
		e.now().Sub(e.cacheLoadedAt) < e.opts.ThresholdCacheTTL {
		return e.cachedThresholds, nil
	}

	thresholds, err := e.rules.GetActiveThresholds(ctx)
	if err != nil {
		return nil, err
	}

	e.cachedThresholds = thresholds
	e.cacheLoadedAt = e.now()

	return thresholds, nil
}
