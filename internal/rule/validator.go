package rule

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"kestrel/internal/device"
	pkgerrors "kestrel/pkg/errors"
)

// maxSafeNumber bounds numeric comparison literals to the range where
// float64 represents every integer exactly.
const maxSafeNumber = float64(1<<53 - 1)

func validationError(field, reason string) error {
	return pkgerrors.ErrValidation.
		WithDetail("field", field).
		WithDetail("message", reason)
}

// Validate rejects malformed rules synchronously at authoring time. Every
// failure carries a machine-readable field and reason; nothing is coerced.
func Validate(r *Rule) error {
	if r.Name == "" {
		return validationError("name", "name is required")
	}
	if err := validateEffectiveAt(r.EffectiveAt); err != nil {
		return err
	}

	if len(r.Triggers) == 0 {
		return validationError("if", "at least one trigger is required")
	}
	if len(r.Triggers) > 1 && !r.Logic.Valid() {
		return validationError("logic", "logic operator is required when more than one trigger is set")
	}
	for i, trigger := range r.Triggers {
		if err := validateTrigger(i, trigger); err != nil {
			return err
		}
	}

	if len(r.Actions) == 0 {
		return validationError("then", "at least one action is required")
	}
	for i, action := range r.Actions {
		if err := validateAction(i, action); err != nil {
			return err
		}
	}

	return nil
}

func validateEffectiveAt(e EffectiveAt) error {
	if _, err := time.LoadLocation(e.TimeZone); err != nil {
		return validationError("effective_at.timezone", fmt.Sprintf("unknown timezone %q", e.TimeZone))
	}

	if _, _, err := ParseMonthDay(e.DateFrom); err != nil {
		return validationError("effective_at.date_from", err.Error())
	}
	if _, _, err := ParseMonthDay(e.DateTo); err != nil {
		return validationError("effective_at.date_to", err.Error())
	}

	if len(e.Weekdays) == 0 {
		return validationError("effective_at.weekdays", "at least one weekday is required")
	}
	seen := make(map[int]bool)
	for _, d := range e.Weekdays {
		if d < 1 || d > 7 {
			return validationError("effective_at.weekdays", fmt.Sprintf("weekday %d out of range 1-7", d))
		}
		if seen[d] {
			return validationError("effective_at.weekdays", fmt.Sprintf("duplicate weekday %d", d))
		}
		seen[d] = true
	}

	if _, err := ParseHourMinute(e.TimeFrom); err != nil {
		return validationError("effective_at.time_from", err.Error())
	}
	if _, err := ParseHourMinute(e.TimeTo); err != nil {
		return validationError("effective_at.time_to", err.Error())
	}

	return nil
}

func validateTrigger(idx int, t Trigger) error {
	field := fmt.Sprintf("if[%d]", idx)

	if len(t.DeviceIDs) == 0 {
		return validationError(field+".device_ids", "at least one device is required")
	}
	if len(t.Conditions) == 0 {
		return validationError(field+".conditions", "at least one condition is required")
	}
	if len(t.Conditions) > 1 && !t.Logic.Valid() {
		return validationError(field+".logic", "logic operator is required when more than one condition is set")
	}

	for i, cond := range t.Conditions {
		if err := validateCondition(fmt.Sprintf("%s.conditions[%d]", field, i), cond); err != nil {
			return err
		}
	}
	return nil
}

func validateCondition(field string, c Condition) error {
	if c.SensorID == "" {
		return validationError(field+".sensor_id", "sensor is required")
	}
	if !c.Operator.Valid() {
		return validationError(field+".operator", fmt.Sprintf("unknown operator %q", c.Operator))
	}

	switch {
	case c.Operator == OpBetween:
		parts := strings.Split(c.Value, ",")
		if len(parts) != 2 {
			return validationError(field+".value", "between requires a comma-separated pair")
		}
		for _, part := range parts {
			if err := validateNumericLiteral(part); err != nil {
				return validationError(field+".value", err.Error())
			}
		}
	case c.Operator == OpUpdatedWithin:
		seconds, err := strconv.Atoi(strings.TrimSpace(c.Value))
		if err != nil || seconds <= 0 {
			return validationError(field+".value", "updatedWithin requires a positive whole number of seconds")
		}
	case c.Operator.Numeric():
		if err := validateNumericLiteral(c.Value); err != nil {
			return validationError(field+".value", err.Error())
		}
	}
	return nil
}

func validateNumericLiteral(s string) error {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%q is not a number", s)
	}
	// ParseFloat also accepts exponent, hex and inf/nan spellings;
	// literals must stay in plain decimal form.
	if strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != '-' && r != '+'
	}) >= 0 {
		return fmt.Errorf("%q must be a plain decimal number", s)
	}
	if math.Abs(v) > maxSafeNumber {
		return fmt.Errorf("%q is outside the safe numeric range", s)
	}
	if dot := strings.IndexByte(s, '.'); dot >= 0 && len(s)-dot-1 > 3 {
		return fmt.Errorf("%q has more than 3 decimal places", s)
	}
	return nil
}

func validateAction(idx int, a Action) error {
	field := fmt.Sprintf("then[%d]", idx)

	switch a.Type {
	case ActionDevice:
		if a.Device == nil {
			return validationError(field, "device action payload is missing")
		}
		if len(a.Device.DeviceIDs) == 0 {
			return validationError(field+".device_ids", "at least one device is required")
		}
		if a.Device.SensorID == "" {
			return validationError(field+".sensor_id", "sensor is required")
		}
	case ActionNotify:
		if a.Notify == nil {
			return validationError(field, "notify action payload is missing")
		}
		if a.Notify.Template == "" {
			return validationError(field+".template", "message template is required")
		}
		if len(a.Notify.UserIDs) == 0 {
			return validationError(field+".user_ids", "at least one user is required")
		}
	default:
		return validationError(field+".type", fmt.Sprintf("unknown action type %q", a.Type))
	}
	return nil
}

// GroupValidator checks that every device a rule references belongs to the
// rule's owning group. User membership is checked by the authoring surface.
type GroupValidator struct {
	directory device.Directory
}

func NewGroupValidator(directory device.Directory) *GroupValidator {
	return &GroupValidator{directory: directory}
}

func (v *GroupValidator) ValidateOwnership(ctx context.Context, r *Rule) error {
	var deviceIDs []string
	for _, trigger := range r.Triggers {
		deviceIDs = append(deviceIDs, trigger.DeviceIDs...)
	}
	for _, action := range r.Actions {
		if action.Type == ActionDevice && action.Device != nil {
			deviceIDs = append(deviceIDs, action.Device.DeviceIDs...)
		}
	}
	if len(deviceIDs) == 0 {
		return nil
	}

	ok, err := v.directory.DevicesUnderGroup(ctx, r.GroupID, deviceIDs)
	if err != nil {
		return fmt.Errorf("failed to check device group membership: %w", err)
	}
	if !ok {
		return validationError("group_id", "rule references devices outside the owning group")
	}
	return nil
}
