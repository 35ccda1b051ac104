package evaluate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/device"
	"kestrel/internal/rule"
	pkgerrors "kestrel/pkg/errors"
)

func TestCheck_GaugeComparisons(t *testing.T) {
	now := time.Now()
	reading := device.Reading{Value: "70", Time: now}

	tests := []struct {
		name  string
		op    rule.Operator
		value string
		pass  bool
	}{
		{"greater pass", rule.OpGreater, "60", true},
		{"greater fail", rule.OpGreater, "70", false},
		{"greater or equal on boundary", rule.OpGreaterOrEqual, "70", true},
		{"less fail", rule.OpLess, "60", false},
		{"less or equal on boundary", rule.OpLessOrEqual, "70", true},
		{"equal pass", rule.OpEqual, "70", true},
		{"not equal pass", rule.OpNotEqual, "60", true},
		{"between inside", rule.OpBetween, "60,80", true},
		{"between on lower bound", rule.OpBetween, "70,80", true},
		{"between outside", rule.OpBetween, "80,90", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := Check(now, device.KindGauge, reading, tc.op, tc.value)
			require.NoError(t, err)
			assert.Equal(t, tc.pass, result.Pass)
			assert.Equal(t, "70", result.CurrentValue)
		})
	}
}

func TestCheck_GaugeNormalizesCurrentValue(t *testing.T) {
	now := time.Now()
	result, err := Check(now, device.KindGauge, device.Reading{Value: "70.500", Time: now}, rule.OpGreater, "60")
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Equal(t, "70.5", result.CurrentValue)
}

func TestCheck_TextIsOneOf(t *testing.T) {
	now := time.Now()
	value := "available,ok,done,health"

	result, err := Check(now, device.KindText, device.Reading{Value: "available", Time: now}, rule.OpIsOneOf, value)
	require.NoError(t, err)
	assert.True(t, result.Pass)

	result, err = Check(now, device.KindText, device.Reading{Value: "other", Time: now}, rule.OpIsOneOf, value)
	require.NoError(t, err)
	assert.False(t, result.Pass)
}

func TestCheck_TextContains(t *testing.T) {
	now := time.Now()
	result, err := Check(now, device.KindText, device.Reading{Value: "door opened", Time: now}, rule.OpContains, "open")
	require.NoError(t, err)
	assert.True(t, result.Pass)
}

func TestCheck_SwitchEquality(t *testing.T) {
	now := time.Now()

	result, err := Check(now, device.KindSwitch, device.Reading{Value: "TRUE", Time: now}, rule.OpEqual, "TRUE")
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Equal(t, "TRUE", result.CurrentValue)

	result, err = Check(now, device.KindSwitch, device.Reading{Value: "FALSE", Time: now}, rule.OpNotEqual, "TRUE")
	require.NoError(t, err)
	assert.True(t, result.Pass)

	_, err = Check(now, device.KindSwitch, device.Reading{Value: "TRUE", Time: now}, rule.OpEqual, "yes")
	assert.Error(t, err)
}

func TestCheck_SnapshotUpdatedWithin(t *testing.T) {
	now := time.Now()

	fresh := device.Reading{Value: "https://cam.example/snap.jpg", Time: now.Add(-5 * time.Second)}
	result, err := Check(now, device.KindSnapshot, fresh, rule.OpUpdatedWithin, "10")
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Equal(t, "https://cam.example/snap.jpg", result.SnapshotURL)

	// The boundary is inclusive: exactly 10s old still passes.
	boundary := device.Reading{Value: "https://cam.example/snap.jpg", Time: now.Add(-10 * time.Second)}
	result, err = Check(now, device.KindSnapshot, boundary, rule.OpUpdatedWithin, "10")
	require.NoError(t, err)
	assert.True(t, result.Pass)

	stale := device.Reading{Value: "https://cam.example/snap.jpg", Time: now.Add(-11 * time.Second)}
	result, err = Check(now, device.KindSnapshot, stale, rule.OpUpdatedWithin, "10")
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Empty(t, result.SnapshotURL)
}

func TestCheck_UnsupportedOperatorFailsLoudly(t *testing.T) {
	now := time.Now()

	_, err := Check(now, device.KindSnapshot, device.Reading{Value: "url", Time: now}, rule.OpGreater, "1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotImplemented(err))

	_, err = Check(now, device.KindSwitch, device.Reading{Value: "TRUE", Time: now}, rule.OpContains, "TR")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotImplemented(err))
}

func TestCheck_Idempotent(t *testing.T) {
	now := time.Now()
	reading := device.Reading{Value: "42.5", Time: now}

	first, err := Check(now, device.KindGauge, reading, rule.OpBetween, "40,45")
	require.NoError(t, err)
	second, err := Check(now, device.KindGauge, reading, rule.OpBetween, "40,45")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
