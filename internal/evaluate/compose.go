package evaluate

import (
	"context"
	"strings"
	"time"

	"kestrel/internal/device"
	"kestrel/internal/logger"
	"kestrel/internal/rule"
	pkgerrors "kestrel/pkg/errors"
)

// Outcome is the result of composing a rule's trigger tree: whether it
// fired, plus the per-language expression and current-value strings that
// become the notification payload, and any snapshot attachments collected
// along the way.
type Outcome struct {
	Fired         bool
	Expressions   map[string]string
	CurrentValues map[string]string
	Attachments   []device.ImageRef
}

// Composer walks a rule's triggers against fresh sensor state.
type Composer struct {
	directory device.Directory
	reader    device.SensorReader
	logger    logger.Logger
}

func NewComposer(directory device.Directory, reader device.SensorReader, log logger.Logger) *Composer {
	return &Composer{
		directory: directory,
		reader:    reader,
		logger:    log,
	}
}

// triggerFragments holds the per-language strings built while one device
// satisfied (or was evaluated against) one trigger.
type triggerFragments struct {
	expressions   map[string][]string
	currentValues map[string][]string
	attachments   []device.ImageRef
}

func newTriggerFragments() *triggerFragments {
	f := &triggerFragments{
		expressions:   make(map[string][]string),
		currentValues: make(map[string][]string),
	}
	return f
}

// Compose evaluates every trigger under the rule's top-level operator with
// short-circuiting: OR stops at the first satisfied trigger, AND concludes
// "not fired" at the first unsatisfied one. Expression and current-value
// strings are folded per language as evaluation proceeds.
func (c *Composer) Compose(ctx context.Context, now time.Time, r *rule.Rule) (*Outcome, error) {
	topLogic := r.Logic
	if topLogic == "" {
		topLogic = rule.LogicAnd
	}

	exprGroups := make(map[string][]string)
	valueParts := make(map[string][]string)
	var attachments []device.ImageRef

	anySatisfied := false
	for _, trigger := range r.Triggers {
		satisfied, frags, err := c.evalTrigger(ctx, now, trigger)
		if err != nil {
			return nil, err
		}

		if satisfied {
			anySatisfied = true
			condJoiner := trigger.Logic
			if condJoiner == "" {
				condJoiner = rule.LogicAnd
			}
			for _, lang := range Languages {
				if parts := frags.expressions[lang]; len(parts) > 0 {
					group := "(" + strings.Join(parts, conditionJoiner(lang, condJoiner)) + ")"
					exprGroups[lang] = append(exprGroups[lang], group)
				}
				valueParts[lang] = append(valueParts[lang], frags.currentValues[lang]...)
			}
			attachments = append(attachments, frags.attachments...)
		}

		if topLogic == rule.LogicAnd && !satisfied {
			return &Outcome{
				Fired:         false,
				Expressions:   map[string]string{},
				CurrentValues: map[string]string{},
			}, nil
		}
		if topLogic == rule.LogicOr && satisfied {
			break
		}
	}

	outcome := &Outcome{
		Fired:         anySatisfied,
		Expressions:   make(map[string]string, len(Languages)),
		CurrentValues: make(map[string]string, len(Languages)),
		Attachments:   attachments,
	}
	for _, lang := range Languages {
		outcome.Expressions[lang] = strings.Join(exprGroups[lang], triggerJoiner(lang, topLogic))
		outcome.CurrentValues[lang] = strings.Join(valueParts[lang], ", ")
	}
	return outcome, nil
}

// evalTrigger checks the trigger's condition group against each candidate
// device in order; the first device that satisfies the group wins and the
// remaining devices are skipped.
func (c *Composer) evalTrigger(ctx context.Context, now time.Time, trigger rule.Trigger) (bool, *triggerFragments, error) {
	logic := trigger.Logic
	if logic == "" {
		logic = rule.LogicAnd
	}

	for _, deviceID := range trigger.DeviceIDs {
		dev, err := c.directory.GetDevice(ctx, deviceID)
		if err != nil {
			c.logger.WarnwCtx(ctx, "Skipping device, directory lookup failed",
				"device_id", deviceID,
				"error", err,
			)
			continue
		}
		cred, err := c.directory.ProjectKey(ctx, deviceID)
		if err != nil {
			c.logger.WarnwCtx(ctx, "Skipping device, project key lookup failed",
				"device_id", deviceID,
				"error", err,
			)
			continue
		}

		satisfied, frags, err := c.evalDevice(ctx, now, dev, cred, logic, trigger.Conditions)
		if err != nil {
			return false, nil, err
		}
		if satisfied {
			return true, frags, nil
		}
	}
	return false, newTriggerFragments(), nil
}

// evalDevice applies the condition group to one device. AND requires every
// condition to pass; OR is satisfied by the first passing condition and
// stops there.
func (c *Composer) evalDevice(ctx context.Context, now time.Time, dev *device.Device, cred device.TenantCredential, logic rule.LogicOperator, conditions []rule.Condition) (bool, *triggerFragments, error) {
	frags := newTriggerFragments()

	for _, cond := range conditions {
		sensor, ok := dev.Sensors[cond.SensorID]
		if !ok {
			c.logger.WarnwCtx(ctx, "Device has no such sensor, condition treated as unsatisfied",
				"device_id", dev.ID,
				"sensor_id", cond.SensorID,
			)
			if logic == rule.LogicAnd {
				return false, nil, nil
			}
			continue
		}

		reading, err := c.reader.ReadSensor(ctx, cred, dev.ID, cond.SensorID, sensor.Kind)
		if err != nil {
			c.logger.WarnwCtx(ctx, "Sensor read failed, condition treated as unsatisfied",
				"device_id", dev.ID,
				"sensor_id", cond.SensorID,
				"error", err,
			)
			if logic == rule.LogicAnd {
				return false, nil, nil
			}
			continue
		}

		result, err := Check(now, sensor.Kind, reading, cond.Operator, cond.Value)
		if err != nil {
			if pkgerrors.IsNotImplemented(err) {
				// Contract violation: validated rules never reach this.
				return false, nil, err
			}
			c.logger.WarnwCtx(ctx, "Condition evaluation failed, treated as unsatisfied",
				"device_id", dev.ID,
				"sensor_id", cond.SensorID,
				"error", err,
			)
			if logic == rule.LogicAnd {
				return false, nil, nil
			}
			continue
		}

		c.appendFragments(frags, dev, sensor, cond, result)
		if result.Pass && result.SnapshotURL != "" {
			frags.attachments = append(frags.attachments, device.ImageRef{
				Credential: cred,
				URL:        result.SnapshotURL,
			})
		}

		if logic == rule.LogicAnd && !result.Pass {
			return false, nil, nil
		}
		if logic == rule.LogicOr && result.Pass {
			return true, frags, nil
		}
	}

	if logic == rule.LogicAnd {
		return true, frags, nil
	}
	return false, nil, nil
}

func (c *Composer) appendFragments(frags *triggerFragments, dev *device.Device, sensor device.Sensor, cond rule.Condition, result Result) {
	for _, lang := range Languages {
		label := sensor.DisplayName(lang)
		frags.expressions[lang] = append(frags.expressions[lang],
			expressionFragment(lang, dev.Name, label, cond.Operator, cond.Value, sensor.Unit))
		frags.currentValues[lang] = append(frags.currentValues[lang],
			currentValueFragment(lang, dev.Name, label, result.CurrentValue, sensor.Unit))
	}
}
