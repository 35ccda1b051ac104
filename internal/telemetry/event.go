package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Event is one inbound telemetry sample as published on a rawdata topic.
type Event struct {
	SensorID string
	DeviceID string
	Time     time.Time
	Value    string
}

// rawEvent mirrors the bus payload. Value arrives as an arbitrary JSON
// scalar and is normalized to a string.
type rawEvent struct {
	ID       string          `json:"id"`
	DeviceID string          `json:"deviceId"`
	Time     string          `json:"time"`
	Value    json.RawMessage `json:"value"`
}

func ParseEvent(payload []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal telemetry payload: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, raw.Time)
	if err != nil {
		return Event{}, fmt.Errorf("failed to parse telemetry timestamp %q: %w", raw.Time, err)
	}

	value, err := normalizeValue(raw.Value)
	if err != nil {
		return Event{}, err
	}

	return Event{
		SensorID: raw.ID,
		DeviceID: raw.DeviceID,
		Time:     ts,
		Value:    value,
	}, nil
}

func normalizeValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), nil
	}

	return "", fmt.Errorf("unsupported telemetry value %s", string(raw))
}
