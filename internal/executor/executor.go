package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"kestrel/internal/audit"
	"kestrel/internal/broker"
	"kestrel/internal/config"
	"kestrel/internal/device"
	"kestrel/internal/evaluate"
	"kestrel/internal/logger"
	"kestrel/internal/rule"
	pkgerrors "kestrel/pkg/errors"
	"kestrel/pkg/logging"
	"kestrel/pkg/metrics"
)

// Composer evaluates a rule's trigger tree against fresh sensor state.
type Composer interface {
	Compose(ctx context.Context, now time.Time, r *rule.Rule) (*evaluate.Outcome, error)
}

// NotifyDispatcher delivers one notify action for a fired rule.
type NotifyDispatcher interface {
	Dispatch(ctx context.Context, now time.Time, r *rule.Rule, action *rule.NotifyAction, outcome *evaluate.Outcome)
}

// FiringLogger persists one audit entry per firing.
type FiringLogger interface {
	LogFiring(ctx context.Context, entry *audit.Entry) error
}

// Executor is the queue-side half of the engine. It re-fetches the rule,
// checks the scheduling window, composes the trigger tree against fresh
// sensor state and, on a firing, carries out every action.
type Executor struct {
	rules     rule.Repository
	composer  Composer
	directory device.Directory
	writer    device.SensorWriter
	notifier  NotifyDispatcher
	auditor   FiringLogger
	producer  broker.Producer
	defLang   string
	logger    logger.Logger
}

func New(rules rule.Repository, composer Composer, directory device.Directory, writer device.SensorWriter, notifier NotifyDispatcher, auditor FiringLogger, producer broker.Producer, cfg config.NotifyConfig, log logger.Logger) *Executor {
	defLang := cfg.DefaultLanguage
	if defLang == "" {
		defLang = evaluate.DefaultLanguage
	}
	return &Executor{
		rules:     rules,
		composer:  composer,
		directory: directory,
		writer:    writer,
		notifier:  notifier,
		auditor:   auditor,
		producer:  producer,
		defLang:   defLang,
		logger:    log,
	}
}

// HandleEvaluation processes one queued evaluation. A returned error makes
// the queue retry the task; permanent conditions (rule deleted, disabled,
// outside its window, conditions unmet) complete without error.
func (e *Executor) HandleEvaluation(ctx context.Context, ruleID string) error {
	start := time.Now()
	ctx = logging.WithRuleID(ctx, ruleID)
	ctx = logging.WithTraceID(ctx, uuid.New().String())

	r, err := e.rules.GetRule(ctx, ruleID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			e.logger.InfowCtx(ctx, "Rule deleted before evaluation ran")
			return nil
		}
		metrics.RuleEvaluationsTotal.WithLabelValues("error").Inc()
		return err
	}

	if !r.Enabled {
		e.logger.DebugwCtx(ctx, "Skipping disabled rule")
		e.conclude(ctx, start, "not_fired")
		return nil
	}

	now := time.Now()
	effective, err := rule.IsEffective(now, r.EffectiveAt)
	if err != nil {
		metrics.RuleEvaluationsTotal.WithLabelValues("error").Inc()
		return err
	}
	if !effective {
		e.logger.DebugwCtx(ctx, "Rule outside its effective window")
		e.conclude(ctx, start, "not_effective")
		return nil
	}

	outcome, err := e.composer.Compose(ctx, now, r)
	if err != nil {
		metrics.RuleEvaluationsTotal.WithLabelValues("error").Inc()
		return err
	}
	if !outcome.Fired {
		e.conclude(ctx, start, "not_fired")
		return nil
	}

	executed := e.runActions(ctx, now, r, outcome)
	e.recordFiring(ctx, now, r, outcome, executed)
	e.conclude(ctx, start, "fired")

	e.logger.InfowCtx(ctx, "Rule fired",
		"rule_name", r.Name,
		"expression", outcome.Expressions[e.defLang],
	)
	return nil
}

func (e *Executor) conclude(ctx context.Context, start time.Time, status string) {
	metrics.RuleEvaluationsTotal.WithLabelValues(status).Inc()
	metrics.ObserveEvaluationDuration(time.Since(start), status)
}

// runActions carries out every action of a fired rule. Device writes to
// distinct devices run concurrently; a failed write is recorded and does
// not abort the remaining actions.
func (e *Executor) runActions(ctx context.Context, now time.Time, r *rule.Rule, outcome *evaluate.Outcome) []audit.ExecutedAction {
	var (
		mu       sync.Mutex
		executed []audit.ExecutedAction
	)
	record := func(a audit.ExecutedAction) {
		mu.Lock()
		executed = append(executed, a)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for _, action := range r.Actions {
		switch action.Type {
		case rule.ActionDevice:
			if action.Device == nil {
				continue
			}
			for _, deviceID := range action.Device.DeviceIDs {
				wg.Add(1)
				go func(deviceID string, act rule.DeviceAction) {
					defer wg.Done()
					record(e.writeDevice(ctx, deviceID, act))
				}(deviceID, *action.Device)
			}
		case rule.ActionNotify:
			if action.Notify == nil {
				continue
			}
			e.notifier.Dispatch(ctx, now, r, action.Notify, outcome)
			record(audit.ExecutedAction{
				Type:    rule.ActionNotify,
				UserIDs: action.Notify.UserIDs,
			})
		}
	}
	wg.Wait()

	return executed
}

func (e *Executor) writeDevice(ctx context.Context, deviceID string, act rule.DeviceAction) audit.ExecutedAction {
	ctx = logging.WithDeviceID(ctx, deviceID)
	entry := audit.ExecutedAction{
		Type:     rule.ActionDevice,
		DeviceID: deviceID,
		SensorID: act.SensorID,
		Value:    act.Value,
	}

	cred, err := e.directory.ProjectKey(ctx, deviceID)
	if err == nil {
		err = e.writer.WriteSensor(ctx, cred, deviceID, act.SensorID, act.Value)
	}
	if err != nil {
		entry.Error = err.Error()
		metrics.DeviceActionsTotal.WithLabelValues("error").Inc()
		e.logger.ErrorwCtx(ctx, "Failed to write device sensor",
			"error", err,
			"sensor_id", act.SensorID,
		)
		return entry
	}

	metrics.DeviceActionsTotal.WithLabelValues("success").Inc()
	return entry
}

func (e *Executor) recordFiring(ctx context.Context, now time.Time, r *rule.Rule, outcome *evaluate.Outcome, executed []audit.ExecutedAction) {
	entry := &audit.Entry{
		RuleID:       r.ID,
		RuleName:     r.Name,
		FiredAt:      now,
		Expression:   outcome.Expressions[e.defLang],
		CurrentValue: outcome.CurrentValues[e.defLang],
		Actions:      executed,
	}
	if err := e.auditor.LogFiring(ctx, entry); err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to persist firing entry", "error", err)
	}

	event := broker.FiringEvent{
		Timestamp:    now,
		RuleID:       r.ID,
		RuleName:     r.Name,
		Expression:   entry.Expression,
		CurrentValue: entry.CurrentValue,
	}
	if err := e.producer.PublishFiring(ctx, event); err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to publish firing event", "error", err)
	}
}
