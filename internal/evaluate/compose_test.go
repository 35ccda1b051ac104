package evaluate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/device"
	"kestrel/internal/logger"
	"kestrel/internal/rule"
)

type fakeDirectory struct {
	devices map[string]*device.Device
}

func (d *fakeDirectory) GetDevice(ctx context.Context, id string) (*device.Device, error) {
	dev, ok := d.devices[id]
	if !ok {
		return nil, fmt.Errorf("no such device %s", id)
	}
	return dev, nil
}

func (d *fakeDirectory) GetDevices(ctx context.Context, ids []string) ([]device.Device, error) {
	var devices []device.Device
	for _, id := range ids {
		if dev, ok := d.devices[id]; ok {
			devices = append(devices, *dev)
		}
	}
	return devices, nil
}

func (d *fakeDirectory) ProjectKey(ctx context.Context, deviceID string) (device.TenantCredential, error) {
	return device.TenantCredential{Username: "project", Password: "key"}, nil
}

func (d *fakeDirectory) DevicesUnderGroup(ctx context.Context, groupID string, deviceIDs []string) (bool, error) {
	return true, nil
}

type fakeReader struct {
	readings map[string]device.Reading // deviceID:sensorID
}

func (r *fakeReader) ReadSensor(ctx context.Context, cred device.TenantCredential, deviceID, sensorID string, kind device.SensorKind) (device.Reading, error) {
	reading, ok := r.readings[deviceID+":"+sensorID]
	if !ok {
		return device.Reading{}, fmt.Errorf("no reading for %s %s", deviceID, sensorID)
	}
	return reading, nil
}

func gaugeDevice(id string, values map[string]string, now time.Time) (*device.Device, map[string]device.Reading) {
	sensors := make(map[string]device.Sensor, len(values))
	readings := make(map[string]device.Reading, len(values))
	for sensorID, value := range values {
		sensors[sensorID] = device.Sensor{ID: sensorID, Kind: device.KindGauge, Unit: "%"}
		readings[id+":"+sensorID] = device.Reading{Value: value, Time: now}
	}
	return &device.Device{ID: id, Name: id, Sensors: sensors}, readings
}

func lampFixture(t *testing.T) (*Composer, time.Time) {
	t.Helper()
	now := time.Now()

	lamp01, readings01 := gaugeDevice("lamp01", map[string]string{
		"setBrightnessPercent": "50",
		"brightnessPercent":    "50",
	}, now)
	lamp02, readings02 := gaugeDevice("lamp02", map[string]string{
		"setBrightnessPercent": "70",
		"brightnessPercent":    "70",
	}, now)

	directory := &fakeDirectory{devices: map[string]*device.Device{
		"lamp01": lamp01,
		"lamp02": lamp02,
	}}
	readings := make(map[string]device.Reading)
	for k, v := range readings01 {
		readings[k] = v
	}
	for k, v := range readings02 {
		readings[k] = v
	}

	return NewComposer(directory, &fakeReader{readings: readings}, logger.NopLogger()), now
}

func TestCompose_FirstSatisfyingDeviceWins(t *testing.T) {
	composer, now := lampFixture(t)

	r := &rule.Rule{
		Logic: rule.LogicAnd,
		Triggers: []rule.Trigger{
			{
				DeviceIDs: []string{"lamp01", "lamp02"},
				Logic:     rule.LogicAnd,
				Conditions: []rule.Condition{
					{SensorID: "setBrightnessPercent", Operator: rule.OpGreater, Value: "60"},
					{SensorID: "brightnessPercent", Operator: rule.OpGreater, Value: "60"},
				},
			},
		},
	}

	outcome, err := composer.Compose(context.Background(), now, r)
	require.NoError(t, err)
	assert.True(t, outcome.Fired)
	assert.Equal(t,
		"(lamp02 setBrightnessPercent > 60 % AND lamp02 brightnessPercent > 60 %)",
		outcome.Expressions["en"])
	assert.Equal(t,
		"lamp02 setBrightnessPercent = 70 %, lamp02 brightnessPercent = 70 %",
		outcome.CurrentValues["en"])
}

func TestCompose_TopLevelAndNoPartialMatch(t *testing.T) {
	composer, now := lampFixture(t)

	// Neither lamp exceeds 80, so the first trigger already fails.
	r := &rule.Rule{
		Logic: rule.LogicAnd,
		Triggers: []rule.Trigger{
			{
				DeviceIDs:  []string{"lamp01", "lamp02"},
				Conditions: []rule.Condition{{SensorID: "brightnessPercent", Operator: rule.OpGreater, Value: "80"}},
			},
			{
				DeviceIDs:  []string{"lamp01", "lamp02"},
				Conditions: []rule.Condition{{SensorID: "setBrightnessPercent", Operator: rule.OpGreater, Value: "40"}},
			},
		},
	}

	outcome, err := composer.Compose(context.Background(), now, r)
	require.NoError(t, err)
	assert.False(t, outcome.Fired)
	assert.Empty(t, outcome.Expressions["en"])
	assert.Empty(t, outcome.CurrentValues["en"])
}

func TestCompose_TopLevelOrShortCircuits(t *testing.T) {
	composer, now := lampFixture(t)

	r := &rule.Rule{
		Logic: rule.LogicOr,
		Triggers: []rule.Trigger{
			{
				DeviceIDs:  []string{"lamp02"},
				Conditions: []rule.Condition{{SensorID: "brightnessPercent", Operator: rule.OpGreater, Value: "60"}},
			},
			{
				// Never reached: topic-level OR stops at the first satisfied trigger.
				DeviceIDs:  []string{"missing-device"},
				Conditions: []rule.Condition{{SensorID: "brightnessPercent", Operator: rule.OpGreater, Value: "0"}},
			},
		},
	}

	outcome, err := composer.Compose(context.Background(), now, r)
	require.NoError(t, err)
	assert.True(t, outcome.Fired)
	assert.Equal(t, "(lamp02 brightnessPercent > 60 %)", outcome.Expressions["en"])
}

func TestCompose_ConditionOrFirstPassWins(t *testing.T) {
	composer, now := lampFixture(t)

	r := &rule.Rule{
		Triggers: []rule.Trigger{
			{
				DeviceIDs: []string{"lamp01"},
				Logic:     rule.LogicOr,
				Conditions: []rule.Condition{
					{SensorID: "brightnessPercent", Operator: rule.OpGreater, Value: "80"},
					{SensorID: "setBrightnessPercent", Operator: rule.OpLessOrEqual, Value: "50"},
				},
			},
		},
	}

	outcome, err := composer.Compose(context.Background(), now, r)
	require.NoError(t, err)
	assert.True(t, outcome.Fired)
	// Both evaluated fragments appear, joined with the trigger's OR.
	assert.Equal(t,
		"(lamp01 brightnessPercent > 80 % OR lamp01 setBrightnessPercent <= 50 %)",
		outcome.Expressions["en"])
}

func TestCompose_BuildsEveryLanguage(t *testing.T) {
	composer, now := lampFixture(t)

	r := &rule.Rule{
		Triggers: []rule.Trigger{
			{
				DeviceIDs:  []string{"lamp02"},
				Conditions: []rule.Condition{{SensorID: "brightnessPercent", Operator: rule.OpGreater, Value: "60"}},
			},
		},
	}

	outcome, err := composer.Compose(context.Background(), now, r)
	require.NoError(t, err)
	require.True(t, outcome.Fired)
	for _, lang := range Languages {
		assert.NotEmpty(t, outcome.Expressions[lang], "expression for %s", lang)
		assert.NotEmpty(t, outcome.CurrentValues[lang], "current value for %s", lang)
	}
	assert.Equal(t, "(lamp02 brightnessPercent 大於 60 %)", outcome.Expressions["zh-TW"])
}
