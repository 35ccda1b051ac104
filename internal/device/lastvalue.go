package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kestrel/internal/logger"
)

const lastValueTTL = time.Hour

// LastValueStore keeps the most recent telemetry sample per (device, sensor)
// in Redis. The dispatcher writes every fresh event into it; the executor
// reads current sensor state from it, falling back to the directory when a
// sensor has not reported since startup.
type LastValueStore struct {
	client   *redis.Client
	fallback SensorReader
	logger   logger.Logger
}

func NewLastValueStore(client *redis.Client, fallback SensorReader, log logger.Logger) *LastValueStore {
	return &LastValueStore{
		client:   client,
		fallback: fallback,
		logger:   log,
	}
}

func lastValueKey(deviceID, sensorID string) string {
	return fmt.Sprintf("reading:%s:%s", deviceID, sensorID)
}

func (s *LastValueStore) Record(ctx context.Context, deviceID, sensorID string, reading Reading) error {
	raw, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	if err := s.client.Set(ctx, lastValueKey(deviceID, sensorID), raw, lastValueTTL).Err(); err != nil {
		return fmt.Errorf("failed to store reading: %w", err)
	}
	return nil
}

func (s *LastValueStore) ReadSensor(ctx context.Context, cred TenantCredential, deviceID, sensorID string, kind SensorKind) (Reading, error) {
	raw, err := s.client.Get(ctx, lastValueKey(deviceID, sensorID)).Result()
	if err == nil {
		var reading Reading
		if err := json.Unmarshal([]byte(raw), &reading); err == nil {
			return reading, nil
		}
		s.logger.WarnwCtx(ctx, "Discarding malformed cached reading",
			"device_id", deviceID,
			"sensor_id", sensorID,
		)
	} else if err != redis.Nil {
		s.logger.WarnwCtx(ctx, "Reading cache unavailable, falling back to directory",
			"device_id", deviceID,
			"sensor_id", sensorID,
			"error", err,
		)
	}

	if s.fallback == nil {
		return Reading{}, fmt.Errorf("no reading available for device %s sensor %s", deviceID, sensorID)
	}
	return s.fallback.ReadSensor(ctx, cred, deviceID, sensorID, kind)
}
