package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeAlertEvent(t *testing.T) {
	thresholdID := 7
	event := &AlertEvent{
		Type:        EventTypeRaised,
		AlertID:     "a-1",
		ThresholdID: &thresholdID,
		Level:       "HIGH",
		Title:       "PM25 GT 100.00 breached",
		Metric:      "PM25",
		Value:       130,
		Boundary:    100,
		Operator:    "GT",
		StationID:   "st-1",
		OccurredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Recipients:  []string{"tok-1", "tok-2"},
	}

	data, err := EncodeAlertEvent(event)
	require.NoError(t, err)

	decoded, err := DecodeAlertEvent(data)
	require.NoError(t, err)
	assert.Equal(t, event, decoded)
}

func TestDecodeAlertEvent_Rejects(t *testing.T) {
	_, err := DecodeAlertEvent([]byte("{not json"))
	assert.Error(t, err)

	_, err = DecodeAlertEvent([]byte(`{"type":"escalated","alert_id":"a-1"}`))
	assert.Error(t, err)

	_, err = DecodeAlertEvent([]byte(`{"type":"raised"}`))
	assert.Error(t, err)
}
