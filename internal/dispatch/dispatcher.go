package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/envwatch/enviro-server/internal/alerting"
	"github.com/envwatch/enviro-server/internal/apperrors"
	"github.com/envwatch/enviro-server/internal/database"
	"github.com/envwatch/enviro-server/internal/geo"
	"github.com/envwatch/enviro-server/internal/protocol"
)

// Notifier is the abstract notification capability. Transport mechanics
// (APNs, FCM, email routing) live behind it.
type Notifier interface {
	Notify(ctx context.Context, event *protocol.AlertEvent) error
}

// SubscriptionSource resolves registered recipient devices.
// *database.DB satisfies it.
type SubscriptionSource interface {
	ListActiveSubscriptions(ctx context.Context) ([]*database.Subscription, error)
}

// DispatchRecorder records delivery counters on the alert.
// *alerting.Lifecycle satisfies it.
type DispatchRecorder interface {
	RecordDispatch(ctx context.Context, alertID string, attempted int, at time.Time) error
}

// Result reports one dispatch: how many notifier batches were attempted and
// how many recipients they covered.
type Result struct {
	Attempted  int `json:"attempted"`
	Recipients int `json:"recipients"`
}

// Coordinator resolves an alert's recipients and hands batches to the
// notifier. Delivery is best-effort: notifier failures are logged and
// counted, never rolled back or retried within the evaluation tick.
type Coordinator struct {
	subs      SubscriptionSource
	recorder  DispatchRecorder
	notifier  Notifier
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

func NewCoordinator(subs SubscriptionSource, recorder DispatchRecorder, notifier Notifier,
	batchSize int, logger *zap.Logger) *Coordinator {

	if batchSize < 1 {
		batchSize = 100
	}
	return &Coordinator{
		subs:      subs,
		recorder:  recorder,
		notifier:  notifier,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Dispatch notifies every recipient inside the alert's area (every active
// subscriber when the alert is global) and stamps sentAt/sentCount. A
// partial notifier failure is reported but leaves the alert ACTIVE.
func (c *Coordinator) Dispatch(ctx context.Context, alert *database.Alert) (*Result, error) {
	subs, err := c.subs.ListActiveSubscriptions(ctx)
	if err != nil {
		return nil, err
	}

	tokens := recipientTokens(alert.Area, subs)
	event := eventFromAlert(alert, protocol.EventTypeRaised)

	result := &Result{Recipients: len(tokens)}
	failed := 0
	var lastErr error

	for start := 0; start < len(tokens); start += c.batchSize {
		end := start + c.batchSize
		if end > len(tokens) {
			end = len(tokens)
		}

		batch := *event
		batch.Recipients = tokens[start:end]

		result.Attempted++
		if err := c.notifier.Notify(ctx, &batch); err != nil {
			failed++
			lastErr = err
		}
	}

	if err := c.recorder.RecordDispatch(ctx, alert.ID, result.Attempted, c.now()); err != nil {
		c.logger.Error("failed to record dispatch counters",
			zap.String("alert_id", alert.ID), zap.Error(err))
	}

	if failed > 0 {
		return result, &apperrors.DispatchPartialFailureError{
			AlertID:   alert.ID,
			Attempted: result.Attempted,
			Failed:    failed,
			Err:       lastErr,
		}
	}

	return result, nil
}

// DispatchRaised adapts Dispatch for the evaluator: the outcome is logged
// and only the error propagates.
func (c *Coordinator) DispatchRaised(ctx context.Context, alert *database.Alert) error {
	result, err := c.Dispatch(ctx, alert)
	if result != nil {
		c.logger.Info("alert dispatched",
			zap.String("alert_id", alert.ID),
			zap.Int("recipients", result.Recipients),
			zap.Int("attempted", result.Attempted))
	}
	return err
}

// DispatchResolved publishes a resolution event with no recipient fan-out;
// consumers decide whether resolutions reach end users.
func (c *Coordinator) DispatchResolved(ctx context.Context, alert *database.Alert) error {
	return c.notifier.Notify(ctx, eventFromAlert(alert, protocol.EventTypeResolved))
}

func recipientTokens(area geo.Polygon, subs []*database.Subscription) []string {
	var tokens []string
	for _, sub := range subs {
		if area.IsUsable() && !area.Contains(geo.Point{Lng: sub.Lng, Lat: sub.Lat}) {
			continue
		}
		tokens = append(tokens, sub.DeviceToken)
	}
	return tokens
}

func eventFromAlert(alert *database.Alert, eventType protocol.EventType) *protocol.AlertEvent {
	event := &protocol.AlertEvent{
		Type:        eventType,
		AlertID:     alert.ID,
		ThresholdID: alert.ThresholdID,
		Level:       string(alert.Level),
		Title:       alert.Title,
		Message:     alert.Message,
		OccurredAt:  alert.CreatedAt,
	}
	if alert.StationID != nil {
		event.StationID = *alert.StationID
	}
	if eventType == protocol.EventTypeResolved && alert.ResolvedAt != nil {
		event.OccurredAt = *alert.ResolvedAt
	}

	if len(alert.SourceData) > 0 {
		var snapshot alerting.TriggerSnapshot
		if err := json.Unmarshal(alert.SourceData, &snapshot); err == nil {
			event.Metric = snapshot.Metric
			event.Value = snapshot.Value
			event.Boundary = snapshot.Boundary
			event.Operator = snapshot.Operator
		}
	}

	return event
}

// EventProducer publishes encoded events to the alerts topic.
// *queue.Producer satisfies it.
type EventProducer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// KafkaNotifier publishes alert events to the alerts topic, keyed by alert
// id so one alert's events stay ordered on a single partition.
type KafkaNotifier struct {
	producer EventProducer
}

func NewKafkaNotifier(producer EventProducer) *KafkaNotifier {
	return &KafkaNotifier{producer: producer}
}

func (n *KafkaNotifier) Notify(ctx context.Context, event *protocol.AlertEvent) error {
	data, err := protocol.EncodeAlertEvent(event)
	if err != nil {
		return err
	}
	return n.producer.Publish(ctx, event.AlertID, data)
}
