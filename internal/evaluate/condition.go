package evaluate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"kestrel/internal/device"
	"kestrel/internal/rule"
	pkgerrors "kestrel/pkg/errors"
)

// Result is the outcome of checking one condition against one reading.
type Result struct {
	Pass bool
	// CurrentValue is the normalized observed value, without labels or
	// units; the composer decorates it per language.
	CurrentValue string
	// SnapshotURL is set when a snapshot condition passes, so the firing
	// can attach the image to notifications.
	SnapshotURL string
}

// Check evaluates one condition. The operator subset is determined by the
// sensor kind; an operator outside that subset is a programming contract
// violation surfaced as a NOT_IMPLEMENTED error, never a silent pass or
// fail.
func Check(now time.Time, kind device.SensorKind, reading device.Reading, op rule.Operator, value string) (Result, error) {
	switch kind {
	case device.KindGauge:
		return checkGauge(now, reading, op, value)
	case device.KindText:
		return checkText(now, reading, op, value)
	case device.KindSwitch:
		return checkSwitch(now, reading, op, value)
	case device.KindSnapshot:
		return checkSnapshot(now, reading, op, value)
	default:
		return Result{}, notImplemented(kind, op)
	}
}

func notImplemented(kind device.SensorKind, op rule.Operator) error {
	return pkgerrors.ErrNotImplemented.
		WithDetail("message", fmt.Sprintf("operator %q is not implemented for sensor kind %q", op, kind))
}

func checkGauge(now time.Time, reading device.Reading, op rule.Operator, value string) (Result, error) {
	if op == rule.OpUpdatedWithin {
		pass, err := updatedWithin(now, reading, value)
		if err != nil {
			return Result{}, err
		}
		return Result{Pass: pass, CurrentValue: normalizeNumber(reading.Value)}, nil
	}

	current, err := strconv.ParseFloat(strings.TrimSpace(reading.Value), 64)
	if err != nil {
		return Result{}, fmt.Errorf("gauge reading %q is not a number: %w", reading.Value, err)
	}
	result := Result{CurrentValue: formatNumber(current)}

	switch op {
	case rule.OpGreater, rule.OpGreaterOrEqual, rule.OpLess, rule.OpLessOrEqual, rule.OpEqual, rule.OpNotEqual:
		threshold, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return Result{}, fmt.Errorf("comparison value %q is not a number: %w", value, err)
		}
		switch op {
		case rule.OpGreater:
			result.Pass = current > threshold
		case rule.OpGreaterOrEqual:
			result.Pass = current >= threshold
		case rule.OpLess:
			result.Pass = current < threshold
		case rule.OpLessOrEqual:
			result.Pass = current <= threshold
		case rule.OpEqual:
			result.Pass = current == threshold
		case rule.OpNotEqual:
			result.Pass = current != threshold
		}
		return result, nil

	case rule.OpBetween:
		lowStr, highStr := splitPair(value)
		low, err := strconv.ParseFloat(lowStr, 64)
		if err != nil {
			return Result{}, fmt.Errorf("between lower bound %q is not a number: %w", lowStr, err)
		}
		high, err := strconv.ParseFloat(highStr, 64)
		if err != nil {
			return Result{}, fmt.Errorf("between upper bound %q is not a number: %w", highStr, err)
		}
		result.Pass = current >= low && current <= high
		return result, nil

	default:
		return Result{}, notImplemented(device.KindGauge, op)
	}
}

func checkText(now time.Time, reading device.Reading, op rule.Operator, value string) (Result, error) {
	result := Result{CurrentValue: reading.Value}

	switch op {
	case rule.OpEqual:
		result.Pass = reading.Value == value
	case rule.OpNotEqual:
		result.Pass = reading.Value != value
	case rule.OpContains:
		result.Pass = strings.Contains(reading.Value, value)
	case rule.OpIsOneOf:
		for _, candidate := range strings.Split(value, ",") {
			if reading.Value == strings.TrimSpace(candidate) {
				result.Pass = true
				break
			}
		}
	case rule.OpUpdatedWithin:
		pass, err := updatedWithin(now, reading, value)
		if err != nil {
			return Result{}, err
		}
		result.Pass = pass
	default:
		return Result{}, notImplemented(device.KindText, op)
	}
	return result, nil
}

func checkSwitch(now time.Time, reading device.Reading, op rule.Operator, value string) (Result, error) {
	current := strings.EqualFold(reading.Value, "TRUE")
	result := Result{CurrentValue: formatBool(current)}

	switch op {
	case rule.OpEqual, rule.OpNotEqual:
		expected, err := parseBoolLiteral(value)
		if err != nil {
			return Result{}, err
		}
		if op == rule.OpEqual {
			result.Pass = current == expected
		} else {
			result.Pass = current != expected
		}
	case rule.OpUpdatedWithin:
		pass, err := updatedWithin(now, reading, value)
		if err != nil {
			return Result{}, err
		}
		result.Pass = pass
	default:
		return Result{}, notImplemented(device.KindSwitch, op)
	}
	return result, nil
}

// checkSnapshot supports only updatedWithin. On pass the reading value,
// which carries the image URL, is returned for attachment.
func checkSnapshot(now time.Time, reading device.Reading, op rule.Operator, value string) (Result, error) {
	if op != rule.OpUpdatedWithin {
		return Result{}, notImplemented(device.KindSnapshot, op)
	}

	pass, err := updatedWithin(now, reading, value)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Pass:         pass,
		CurrentValue: reading.Time.Format(time.RFC3339),
	}
	if pass {
		result.SnapshotURL = reading.Value
	}
	return result, nil
}

// updatedWithin passes when the reading is no older than the threshold;
// the boundary is inclusive.
func updatedWithin(now time.Time, reading device.Reading, value string) (bool, error) {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("updatedWithin value %q is not a whole number of seconds: %w", value, err)
	}
	return now.Sub(reading.Time) <= time.Duration(seconds)*time.Second, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func normalizeNumber(s string) string {
	if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return formatNumber(v)
	}
	return s
}

func formatBool(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func parseBoolLiteral(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRUE":
		return true, nil
	case "FALSE":
		return false, nil
	default:
		return false, fmt.Errorf("boolean value must be TRUE or FALSE, got %q", s)
	}
}
