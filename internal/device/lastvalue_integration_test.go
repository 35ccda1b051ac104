//go:build integration

package device

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"

	"kestrel/internal/logger"
)

type fallbackReader struct {
	reading Reading
	err     error
	calls   int
}

func (r *fallbackReader) ReadSensor(ctx context.Context, cred TenantCredential, deviceID, sensorID string, kind SensorKind) (Reading, error) {
	r.calls++
	return r.reading, r.err
}

func setupLastValueStore(t *testing.T, fallback SensorReader) *LastValueStore {
	t.Helper()
	ctx := context.Background()

	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	container, err := redismodule.Run(ctx, "redis:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() {
		client.Close()
	})

	return NewLastValueStore(client, fallback, logger.NopLogger())
}

func TestLastValueStore_RecordThenRead(t *testing.T) {
	fallback := &fallbackReader{err: errors.New("directory should not be asked")}
	store := setupLastValueStore(t, fallback)
	ctx := context.Background()

	written := Reading{Value: "70.5", Time: time.Now().UTC().Truncate(time.Millisecond)}
	require.NoError(t, store.Record(ctx, "lamp01", "brightness", written))

	got, err := store.ReadSensor(ctx, TenantCredential{}, "lamp01", "brightness", KindGauge)
	require.NoError(t, err)
	assert.Equal(t, written.Value, got.Value)
	assert.True(t, written.Time.Equal(got.Time))
	assert.Zero(t, fallback.calls)
}

func TestLastValueStore_FallsBackWhenCold(t *testing.T) {
	expected := Reading{Value: "21.5", Time: time.Now()}
	fallback := &fallbackReader{reading: expected}
	store := setupLastValueStore(t, fallback)

	got, err := store.ReadSensor(context.Background(), TenantCredential{}, "thermostat01", "temperature", KindGauge)
	require.NoError(t, err)
	assert.Equal(t, expected.Value, got.Value)
	assert.Equal(t, 1, fallback.calls)
}
