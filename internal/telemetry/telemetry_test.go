package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicRoundTrip(t *testing.T) {
	topic := Topic("lamp01", "brightness")
	assert.Equal(t, "/v1/device/lamp01/sensor/brightness/rawdata", topic)

	deviceID, sensorID, err := ParseTopic(topic)
	require.NoError(t, err)
	assert.Equal(t, "lamp01", deviceID)
	assert.Equal(t, "brightness", sensorID)
}

func TestParseTopic_RejectsOtherShapes(t *testing.T) {
	for _, topic := range []string{
		"",
		"/v1/device/lamp01/rawdata",
		"/v2/device/lamp01/sensor/brightness/rawdata",
		"v1/device/lamp01/sensor/brightness/rawdata",
		"/v1/device/lamp01/sensor/brightness/status",
	} {
		_, _, err := ParseTopic(topic)
		assert.Error(t, err, "topic %q", topic)
	}
}

func TestParseEvent(t *testing.T) {
	payload := []byte(`{"id":"brightness","deviceId":"lamp01","time":"2026-05-20T14:30:00Z","value":70.5}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "brightness", event.SensorID)
	assert.Equal(t, "lamp01", event.DeviceID)
	assert.Equal(t, time.Date(2026, 5, 20, 14, 30, 0, 0, time.UTC), event.Time)
	assert.Equal(t, "70.5", event.Value)
}

func TestParseEvent_ValueKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string", `"available"`, "available"},
		{"integer", `70`, "70"},
		{"bool", `true`, "true"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload := []byte(`{"id":"s","deviceId":"d","time":"2026-05-20T14:30:00Z","value":` + tc.raw + `}`)
			event, err := ParseEvent(payload)
			require.NoError(t, err)
			assert.Equal(t, tc.want, event.Value)
		})
	}
}

func TestParseEvent_BadPayload(t *testing.T) {
	_, err := ParseEvent([]byte(`{"id":"s","deviceId":"d","time":"yesterday","value":1}`))
	assert.Error(t, err)

	_, err = ParseEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseEvent([]byte(`{"id":"s","deviceId":"d","time":"2026-05-20T14:30:00Z","value":{"nested":1}}`))
	assert.Error(t, err)
}
