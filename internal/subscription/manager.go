package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"kestrel/internal/device"
	"kestrel/internal/logger"
	"kestrel/internal/rule"
	"kestrel/internal/telemetry"
	"kestrel/pkg/metrics"
)

// BusSubscriber is the telemetry-bus surface the manager drives.
type BusSubscriber interface {
	Subscribe(ctx context.Context, cred device.TenantCredential, topic string) error
	Unsubscribe(ctx context.Context, cred device.TenantCredential, topic string) error
}

// Entry is a read-only view of one reference-counted topic.
type Entry struct {
	Tenant string `json:"tenant"`
	Topic  string `json:"topic"`
	Refs   int    `json:"refs"`
}

type entry struct {
	cred  device.TenantCredential
	topic string
	refs  int
}

// Manager owns the reference-counted table of telemetry topics. The table
// is runtime-only: it is rebuilt from persisted rules at startup and
// mutated from the rule-authoring path, which may touch overlapping
// device/sensor sets concurrently, hence the single mutex.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry

	bus       BusSubscriber
	directory device.Directory
	rules     rule.Repository
	logger    logger.Logger
}

func NewManager(bus BusSubscriber, directory device.Directory, rules rule.Repository, log logger.Logger) *Manager {
	return &Manager{
		entries:   make(map[string]*entry),
		bus:       bus,
		directory: directory,
		rules:     rules,
		logger:    log,
	}
}

func key(tenant, topic string) string {
	return tenant + "\x00" + topic
}

// AddReference bumps the count for the (tenant, device, sensor) topic,
// subscribing on the transition from absent.
func (m *Manager) AddReference(ctx context.Context, cred device.TenantCredential, deviceID, sensorID string) error {
	topic := telemetry.Topic(deviceID, sensorID)

	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(cred.Username, topic)
	if e, ok := m.entries[k]; ok {
		e.refs++
		return nil
	}

	if err := m.bus.Subscribe(ctx, cred, topic); err != nil {
		return fmt.Errorf("failed to subscribe topic %s: %w", topic, err)
	}
	m.entries[k] = &entry{cred: cred, topic: topic, refs: 1}
	metrics.TopicSubscriptionsActive.Set(float64(len(m.entries)))
	return nil
}

// RemoveReference decrements the count, unsubscribing and dropping the
// entry on the transition to zero.
func (m *Manager) RemoveReference(ctx context.Context, cred device.TenantCredential, deviceID, sensorID string) error {
	topic := telemetry.Topic(deviceID, sensorID)

	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(cred.Username, topic)
	e, ok := m.entries[k]
	if !ok {
		m.logger.WarnwCtx(ctx, "Removing reference for unknown topic",
			"topic", topic,
			"tenant", cred.Username,
		)
		return nil
	}

	e.refs--
	if e.refs > 0 {
		return nil
	}

	delete(m.entries, k)
	metrics.TopicSubscriptionsActive.Set(float64(len(m.entries)))

	if err := m.bus.Unsubscribe(ctx, cred, topic); err != nil {
		return fmt.Errorf("failed to unsubscribe topic %s: %w", topic, err)
	}
	return nil
}

// AddRule issues one reference per (device, condition sensor) pair across
// the rule's triggers. Called on rule creation and for the new shape on
// edit.
func (m *Manager) AddRule(ctx context.Context, r *rule.Rule) error {
	return m.eachTriggerPair(ctx, r, m.AddReference)
}

// RemoveRule releases the references AddRule took. Called on rule deletion
// and for the old shape on edit.
func (m *Manager) RemoveRule(ctx context.Context, r *rule.Rule) error {
	return m.eachTriggerPair(ctx, r, m.RemoveReference)
}

func (m *Manager) eachTriggerPair(ctx context.Context, r *rule.Rule, fn func(context.Context, device.TenantCredential, string, string) error) error {
	for _, trigger := range r.Triggers {
		for _, deviceID := range trigger.DeviceIDs {
			cred, err := m.directory.ProjectKey(ctx, deviceID)
			if err != nil {
				return fmt.Errorf("failed to resolve project key for device %s: %w", deviceID, err)
			}
			for _, cond := range trigger.Conditions {
				if err := fn(ctx, cred, deviceID, cond.SensorID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Rebuild reconstructs exact reference counts by scanning every persisted
// rule once. Counts are never persisted; this runs at process start.
func (m *Manager) Rebuild(ctx context.Context) error {
	rules, err := m.rules.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rules for subscription rebuild: %w", err)
	}

	for i := range rules {
		if err := m.AddRule(ctx, &rules[i]); err != nil {
			return err
		}
	}

	m.logger.InfowCtx(ctx, "Rebuilt topic subscription table",
		"rules", len(rules),
		"topics", m.Size(),
	)
	return nil
}

func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Snapshot returns the current table for the ops API.
func (m *Manager) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, Entry{
			Tenant: e.cred.Username,
			Topic:  e.topic,
			Refs:   e.refs,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Tenant != entries[j].Tenant {
			return entries[i].Tenant < entries[j].Tenant
		}
		return entries[i].Topic < entries[j].Topic
	})
	return entries
}
