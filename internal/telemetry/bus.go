package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"kestrel/internal/config"
	"kestrel/internal/device"
	"kestrel/internal/logger"
	"kestrel/pkg/retry"
)

const subscribeQoS = 1

// EventHandler receives every parsed inbound telemetry event. It must be
// non-blocking; heavy work belongs on the job queue.
type EventHandler func(ctx context.Context, ev Event)

// Bus maintains one MQTT connection per tenant credential and keeps track
// of the topics held on each, so a reconnect can re-issue every
// subscription.
type Bus struct {
	cfg     config.TelemetryConfig
	handler EventHandler
	logger  logger.Logger

	mu      sync.Mutex
	conns   map[string]*tenantConn
	baseCtx context.Context
}

type tenantConn struct {
	client mqtt.Client
	cred   device.TenantCredential
	topics map[string]bool
}

func NewBus(cfg config.TelemetryConfig, handler EventHandler, log logger.Logger) *Bus {
	return &Bus{
		cfg:     cfg,
		handler: handler,
		logger:  log,
		conns:   make(map[string]*tenantConn),
		baseCtx: context.Background(),
	}
}

// Start sets the base context inbound events are handled under.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.baseCtx = ctx
}

func (b *Bus) Subscribe(ctx context.Context, cred device.TenantCredential, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := b.connLocked(ctx, cred)
	if err != nil {
		return err
	}

	token := conn.client.Subscribe(topic, subscribeQoS, b.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	conn.topics[topic] = true
	b.logger.InfowCtx(ctx, "Subscribed to telemetry topic",
		"topic", topic,
		"tenant", cred.Username,
	)
	return nil
}

func (b *Bus) Unsubscribe(ctx context.Context, cred device.TenantCredential, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, ok := b.conns[cred.Username]
	if !ok {
		return nil
	}

	token := conn.client.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", topic, err)
	}
	delete(conn.topics, topic)

	b.logger.InfowCtx(ctx, "Unsubscribed from telemetry topic",
		"topic", topic,
		"tenant", cred.Username,
	)

	if len(conn.topics) == 0 {
		conn.client.Disconnect(250)
		delete(b.conns, cred.Username)
	}
	return nil
}

// Clients exposes the live connections for health checks.
func (b *Bus) Clients() []mqtt.Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients := make([]mqtt.Client, 0, len(b.conns))
	for _, conn := range b.conns {
		clients = append(clients, conn.client)
	}
	return clients
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for username, conn := range b.conns {
		conn.client.Disconnect(250)
		delete(b.conns, username)
	}
}

// connLocked returns the tenant's connection, dialing it on first use.
// Caller holds b.mu.
func (b *Bus) connLocked(ctx context.Context, cred device.TenantCredential) (*tenantConn, error) {
	if conn, ok := b.conns[cred.Username]; ok {
		return conn, nil
	}

	conn := &tenantConn{
		cred:   cred,
		topics: make(map[string]bool),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.BrokerURL).
		SetClientID(fmt.Sprintf("%s-%s", b.cfg.ClientIDPrefix, cred.Username)).
		SetUsername(cred.Username).
		SetPassword(cred.Password).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(b.cfg.Reconnect.MaxInterval).
		SetOnConnectHandler(func(client mqtt.Client) {
			b.resubscribe(conn)
		}).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			b.logger.Warnw("Telemetry connection lost",
				"tenant", cred.Username,
				"error", err,
			)
		})

	client := mqtt.NewClient(opts)

	connect := func() error {
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to telemetry broker: %w", err)
		}
		return nil
	}
	policy := backoff.WithContext(
		retry.ExponentialBackoffWithMaxElapsed(
			b.cfg.Reconnect.InitialInterval,
			b.cfg.Reconnect.MaxInterval,
			b.cfg.Reconnect.MaxInterval*2,
			b.cfg.Reconnect.Multiplier,
		), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, err
	}

	b.conns[cred.Username] = conn
	conn.client = client
	return conn, nil
}

// resubscribe re-issues every held topic after a reconnect.
func (b *Bus) resubscribe(conn *tenantConn) {
	b.mu.Lock()
	topics := make([]string, 0, len(conn.topics))
	for topic := range conn.topics {
		topics = append(topics, topic)
	}
	b.mu.Unlock()

	for _, topic := range topics {
		token := conn.client.Subscribe(topic, subscribeQoS, b.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			b.logger.Errorw("Failed to restore telemetry subscription",
				"topic", topic,
				"tenant", conn.cred.Username,
				"error", err,
			)
		}
	}
}

func (b *Bus) onMessage(client mqtt.Client, msg mqtt.Message) {
	b.mu.Lock()
	ctx := b.baseCtx
	b.mu.Unlock()

	ev, err := ParseEvent(msg.Payload())
	if err != nil {
		b.logger.WarnwCtx(ctx, "Discarding malformed telemetry payload",
			"topic", msg.Topic(),
			"error", err,
		)
		return
	}

	// Some publishers omit the IDs from the payload; the topic is
	// authoritative either way.
	if deviceID, sensorID, err := ParseTopic(msg.Topic()); err == nil {
		ev.DeviceID = deviceID
		ev.SensorID = sensorID
	}

	b.handler(ctx, ev)
}
