package config

import (
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Queue     QueueConfig
	Events    EventsConfig
	Notify    NotifyConfig
	Directory DirectoryConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// TelemetryConfig drives the MQTT connection to the sensor bus.
type TelemetryConfig struct {
	BrokerURL          string        `mapstructure:"broker_url"`
	ClientIDPrefix     string        `mapstructure:"client_id_prefix"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	Reconnect          ReconnectConfig
}

type ReconnectConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

type QueueConfig struct {
	Name        string `mapstructure:"name"`
	Concurrency int    `mapstructure:"concurrency"`
	MaxRetry    int    `mapstructure:"max_retry"`
}

// EventsConfig configures the Kafka firing-event stream consumed by
// downstream analytics.
type EventsConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	FiringTopic string   `mapstructure:"firing_topic"`
}

type NotifyConfig struct {
	DefaultLanguage string  `mapstructure:"default_language"`
	SendRPS         float64 `mapstructure:"send_rps"`
	SendBurst       int     `mapstructure:"send_burst"`
}

type DirectoryConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	TimeoutSeconds time.Duration `mapstructure:"timeout_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                8080,
			ReadTimeoutSeconds:  10 * time.Second,
			WriteTimeoutSeconds: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ClientIDPrefix:     "kestrel",
			StalenessThreshold: 30 * time.Second,
			Reconnect: ReconnectConfig{
				InitialInterval: time.Second,
				MaxInterval:     2 * time.Minute,
				Multiplier:      2.0,
			},
		},
		Queue: QueueConfig{
			Name:        "rule-evaluation",
			Concurrency: 10,
			MaxRetry:    3,
		},
		Notify: NotifyConfig{
			DefaultLanguage: "en",
			SendRPS:         10.0,
			SendBurst:       20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
