package dispatch

import (
	"context"
	"time"

	"kestrel/internal/device"
	"kestrel/internal/logger"
	"kestrel/internal/telemetry"
	"kestrel/pkg/metrics"
)

// Enqueuer submits a rule evaluation to the job queue.
type Enqueuer interface {
	EnqueueEvaluation(ctx context.Context, ruleID string) error
}

// Recorder keeps the most recent reading per (device, sensor).
type Recorder interface {
	Record(ctx context.Context, deviceID, sensorID string, reading device.Reading) error
}

// Dispatcher sits between the telemetry bus and the job queue. It filters
// stale samples, records the last value per sensor and enqueues one
// evaluation per matched rule. It never evaluates conditions itself.
type Dispatcher struct {
	index     *Index
	store     Recorder
	queue     Enqueuer
	staleness time.Duration
	logger    logger.Logger
}

func NewDispatcher(index *Index, store Recorder, queue Enqueuer, staleness time.Duration, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		index:     index,
		store:     store,
		queue:     queue,
		staleness: staleness,
		logger:    log,
	}
}

// HandleEvent is the bus callback. Errors are logged, not returned to the
// bus; a bad sample must not wedge the MQTT client.
func (d *Dispatcher) HandleEvent(ctx context.Context, event telemetry.Event) {
	metrics.TelemetryEventsTotal.WithLabelValues("received").Inc()

	if d.staleness > 0 && time.Since(event.Time) > d.staleness {
		metrics.TelemetryEventsTotal.WithLabelValues("stale").Inc()
		d.logger.DebugwCtx(ctx, "Discarding stale telemetry event",
			"device_id", event.DeviceID,
			"sensor_id", event.SensorID,
			"event_time", event.Time,
		)
		return
	}

	reading := device.Reading{Value: event.Value, Time: event.Time}
	if err := d.store.Record(ctx, event.DeviceID, event.SensorID, reading); err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to record last value",
			"error", err,
			"device_id", event.DeviceID,
			"sensor_id", event.SensorID,
		)
	}

	ruleIDs := d.index.Match(event.DeviceID, event.SensorID)
	if len(ruleIDs) == 0 {
		metrics.TelemetryEventsTotal.WithLabelValues("unmatched").Inc()
		return
	}
	metrics.TelemetryEventsTotal.WithLabelValues("matched").Inc()

	for _, ruleID := range ruleIDs {
		if err := d.queue.EnqueueEvaluation(ctx, ruleID); err != nil {
			d.logger.ErrorwCtx(ctx, "Failed to enqueue rule evaluation",
				"error", err,
				"rule_id", ruleID,
				"device_id", event.DeviceID,
				"sensor_id", event.SensorID,
			)
		}
	}
}
