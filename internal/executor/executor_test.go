package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/audit"
	"kestrel/internal/broker"
	"kestrel/internal/config"
	"kestrel/internal/device"
	"kestrel/internal/evaluate"
	"kestrel/internal/logger"
	"kestrel/internal/rule"
	pkgerrors "kestrel/pkg/errors"
)

type stubRepo struct {
	rule.Repository
	rules map[string]*rule.Rule
}

func (r *stubRepo) GetRule(ctx context.Context, id string) (*rule.Rule, error) {
	if found, ok := r.rules[id]; ok {
		return found, nil
	}
	return nil, pkgerrors.ErrNotFound
}

type stubComposer struct {
	outcome *evaluate.Outcome
	err     error
	calls   int
}

func (c *stubComposer) Compose(ctx context.Context, now time.Time, r *rule.Rule) (*evaluate.Outcome, error) {
	c.calls++
	return c.outcome, c.err
}

type stubDirectory struct {
	device.Directory
}

func (stubDirectory) ProjectKey(ctx context.Context, deviceID string) (device.TenantCredential, error) {
	return device.TenantCredential{Username: "tenant-a"}, nil
}

type stubWriter struct {
	mu     sync.Mutex
	writes map[string]string // deviceID:sensorID -> value
	fail   map[string]bool
}

func newStubWriter() *stubWriter {
	return &stubWriter{writes: make(map[string]string), fail: make(map[string]bool)}
}

func (w *stubWriter) WriteSensor(ctx context.Context, cred device.TenantCredential, deviceID, sensorID, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail[deviceID] {
		return errors.New("device offline")
	}
	w.writes[deviceID+":"+sensorID] = value
	return nil
}

type stubNotifier struct {
	dispatched int
}

func (n *stubNotifier) Dispatch(ctx context.Context, now time.Time, r *rule.Rule, action *rule.NotifyAction, outcome *evaluate.Outcome) {
	n.dispatched++
}

type stubAuditor struct {
	entries []*audit.Entry
}

func (a *stubAuditor) LogFiring(ctx context.Context, entry *audit.Entry) error {
	a.entries = append(a.entries, entry)
	return nil
}

type stubProducer struct {
	events []broker.FiringEvent
}

func (p *stubProducer) PublishFiring(ctx context.Context, event broker.FiringEvent) error {
	p.events = append(p.events, event)
	return nil
}

func (p *stubProducer) Close() error { return nil }

func alwaysEffective() rule.EffectiveAt {
	return rule.EffectiveAt{
		TimeZone: "UTC",
		DateFrom: "01-01",
		DateTo:   "12-31",
		Weekdays: []int{1, 2, 3, 4, 5, 6, 7},
		TimeFrom: "00:00",
		TimeTo:   "23:59",
	}
}

func neverEffective() rule.EffectiveAt {
	window := alwaysEffective()
	// A weekday set that matches no day keeps the window closed without
	// depending on the wall clock.
	window.Weekdays = []int{}
	return window
}

func firedOutcome() *evaluate.Outcome {
	return &evaluate.Outcome{
		Fired:         true,
		Expressions:   map[string]string{"en": "(lamp02 brightnessPercent > 60 %)"},
		CurrentValues: map[string]string{"en": "lamp02 brightnessPercent = 70 %"},
	}
}

type fixture struct {
	exec     *Executor
	repo     *stubRepo
	composer *stubComposer
	writer   *stubWriter
	notifier *stubNotifier
	auditor  *stubAuditor
	producer *stubProducer
}

func newFixture(r *rule.Rule, composer *stubComposer) *fixture {
	f := &fixture{
		repo:     &stubRepo{rules: map[string]*rule.Rule{}},
		composer: composer,
		writer:   newStubWriter(),
		notifier: &stubNotifier{},
		auditor:  &stubAuditor{},
		producer: &stubProducer{},
	}
	if r != nil {
		f.repo.rules[r.ID] = r
	}
	f.exec = New(f.repo, f.composer, stubDirectory{}, f.writer, f.notifier, f.auditor, f.producer,
		config.NotifyConfig{DefaultLanguage: "en"}, logger.NopLogger())
	return f
}

func TestHandleEvaluation_DeletedRuleCompletes(t *testing.T) {
	f := newFixture(nil, &stubComposer{})

	err := f.exec.HandleEvaluation(context.Background(), "gone")
	require.NoError(t, err, "a deleted rule must not retry")
	assert.Zero(t, f.composer.calls)
}

func TestHandleEvaluation_DisabledRuleSkipped(t *testing.T) {
	r := &rule.Rule{ID: "rule-1", Enabled: false, EffectiveAt: alwaysEffective()}
	f := newFixture(r, &stubComposer{outcome: firedOutcome()})

	require.NoError(t, f.exec.HandleEvaluation(context.Background(), "rule-1"))
	assert.Zero(t, f.composer.calls)
	assert.Empty(t, f.auditor.entries)
}

func TestHandleEvaluation_OutsideWindowSkipped(t *testing.T) {
	r := &rule.Rule{ID: "rule-1", Enabled: true, EffectiveAt: neverEffective()}
	f := newFixture(r, &stubComposer{outcome: firedOutcome()})

	require.NoError(t, f.exec.HandleEvaluation(context.Background(), "rule-1"))
	assert.Zero(t, f.composer.calls, "window check runs before composition")
}

func TestHandleEvaluation_NotFiredIsNoop(t *testing.T) {
	r := &rule.Rule{ID: "rule-1", Enabled: true, EffectiveAt: alwaysEffective()}
	f := newFixture(r, &stubComposer{outcome: &evaluate.Outcome{Fired: false}})

	require.NoError(t, f.exec.HandleEvaluation(context.Background(), "rule-1"))
	assert.Equal(t, 1, f.composer.calls)
	assert.Empty(t, f.writer.writes)
	assert.Empty(t, f.auditor.entries)
	assert.Empty(t, f.producer.events)
}

func TestHandleEvaluation_FiredRunsAllActions(t *testing.T) {
	r := &rule.Rule{
		ID:          "rule-1",
		Name:        "Brightness alert",
		Enabled:     true,
		EffectiveAt: alwaysEffective(),
		Actions: []rule.Action{
			{
				Type: rule.ActionDevice,
				Device: &rule.DeviceAction{
					DeviceIDs: []string{"lamp01", "lamp03"},
					SensorID:  "power",
					Value:     "FALSE",
				},
			},
			{
				Type:   rule.ActionNotify,
				Notify: &rule.NotifyAction{Template: "{{expression}}", UserIDs: []string{"u1"}},
			},
		},
	}
	f := newFixture(r, &stubComposer{outcome: firedOutcome()})

	require.NoError(t, f.exec.HandleEvaluation(context.Background(), "rule-1"))

	assert.Equal(t, "FALSE", f.writer.writes["lamp01:power"])
	assert.Equal(t, "FALSE", f.writer.writes["lamp03:power"])
	assert.Equal(t, 1, f.notifier.dispatched)

	require.Len(t, f.auditor.entries, 1)
	entry := f.auditor.entries[0]
	assert.Equal(t, "(lamp02 brightnessPercent > 60 %)", entry.Expression)
	assert.Equal(t, "lamp02 brightnessPercent = 70 %", entry.CurrentValue)
	assert.Len(t, entry.Actions, 3)

	require.Len(t, f.producer.events, 1)
	assert.Equal(t, "rule-1", f.producer.events[0].RuleID)
}

func TestHandleEvaluation_DeviceFailureDoesNotAbortOthers(t *testing.T) {
	r := &rule.Rule{
		ID:          "rule-1",
		Enabled:     true,
		EffectiveAt: alwaysEffective(),
		Actions: []rule.Action{
			{
				Type: rule.ActionDevice,
				Device: &rule.DeviceAction{
					DeviceIDs: []string{"lamp01", "lamp02"},
					SensorID:  "power",
					Value:     "TRUE",
				},
			},
		},
	}
	f := newFixture(r, &stubComposer{outcome: firedOutcome()})
	f.writer.fail["lamp01"] = true

	require.NoError(t, f.exec.HandleEvaluation(context.Background(), "rule-1"))

	assert.Equal(t, "TRUE", f.writer.writes["lamp02:power"])

	require.Len(t, f.auditor.entries, 1)
	var failed, succeeded int
	for _, action := range f.auditor.entries[0].Actions {
		if action.Error != "" {
			failed++
		} else {
			succeeded++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, succeeded)
}

func TestHandleEvaluation_ComposeErrorRetries(t *testing.T) {
	r := &rule.Rule{ID: "rule-1", Enabled: true, EffectiveAt: alwaysEffective()}
	f := newFixture(r, &stubComposer{err: errors.New("directory unavailable")})

	err := f.exec.HandleEvaluation(context.Background(), "rule-1")
	assert.Error(t, err, "transient compose failures are retried by the queue")
}
