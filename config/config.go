package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wfunc/srtgame/broker"
	"github.com/wfunc/srtgame/topology"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Broker    BrokerConfig    `mapstructure:"broker"`
	Topology  TopologyConfig  `mapstructure:"topology"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Client    ClientConfig    `mapstructure:"client"`
	Store     StoreConfig     `mapstructure:"store"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

type BrokerConfig struct {
	URL         string `mapstructure:"url"`
	ContainerID string `mapstructure:"container_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	// Only for brokers with self-signed certificates in test setups.
	InsecureSkipVerifyForTesting bool          `mapstructure:"insecure_skip_verify_for_testing"`
	ConnectTimeout               time.Duration `mapstructure:"connect_timeout"`
	Retry                        RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
	MaxTries        uint          `mapstructure:"max_tries"`
}

type TopologyConfig struct {
	GameEvents string `mapstructure:"game_events"`
	Commands   string `mapstructure:"commands"`
}

type DispatchConfig struct {
	AckMode string `mapstructure:"ack_mode"`
	Credit  int32  `mapstructure:"credit"`
	// Relay publishes every applied command on the game-event topic.
	Relay bool `mapstructure:"relay"`
}

type ClientConfig struct {
	UUID         string        `mapstructure:"uuid"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

type StoreConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type MonitorConfig struct {
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
}

type TelemetryConfig struct {
	// Endpoint of an OTLP/HTTP collector. Tracing is off when empty.
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.url", "amqp://localhost:5672")
	v.SetDefault("broker.container_id", "")
	v.SetDefault("broker.username", "")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.insecure_skip_verify_for_testing", false)
	v.SetDefault("broker.connect_timeout", 10*time.Second)
	v.SetDefault("broker.retry.initial_interval", 500*time.Millisecond)
	v.SetDefault("broker.retry.max_interval", 10*time.Second)
	v.SetDefault("broker.retry.max_elapsed_time", 2*time.Minute)
	v.SetDefault("broker.retry.max_tries", 0)

	v.SetDefault("topology.game_events", topology.GameEventAddress)
	v.SetDefault("topology.commands", topology.CommandAddress)

	v.SetDefault("dispatch.ack_mode", "before_handle")
	v.SetDefault("dispatch.credit", 10)
	v.SetDefault("dispatch.relay", true)

	v.SetDefault("client.uuid", "")
	v.SetDefault("client.tick_interval", 50*time.Millisecond)

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "postgres")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.dbname", "srtgame")
	v.SetDefault("store.postgres.sslmode", "disable")

	v.SetDefault("monitor.address", ":9090")
	v.SetDefault("monitor.namespace", "srtgame")

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "srtgame")

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from path. A missing file is not an error;
// defaults and SRT_* environment variables still apply.
func LoadConfig(path string) (config *Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	config = &Config{}
	if err = v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.Broker.URL)
	if err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") || u.Host == "" {
		return fmt.Errorf("%w: broker.url %q must be amqp:// or amqps://", ErrInvalidConfig, c.Broker.URL)
	}
	if _, err := broker.ParseAckMode(c.Dispatch.AckMode); err != nil {
		return fmt.Errorf("%w: dispatch.ack_mode: %w", ErrInvalidConfig, err)
	}
	if c.Dispatch.Credit < 0 {
		return fmt.Errorf("%w: dispatch.credit must not be negative", ErrInvalidConfig)
	}
	if c.Client.TickInterval <= 0 {
		return fmt.Errorf("%w: client.tick_interval must be positive", ErrInvalidConfig)
	}
	if _, err := topology.New(c.Addresses()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) Addresses() topology.Addresses {
	return topology.Addresses{
		GameEvents: c.Topology.GameEvents,
		Commands:   c.Topology.Commands,
	}
}

// BrokerOptions maps the broker and dispatch sections onto session options.
func (c *Config) BrokerOptions() broker.Options {
	mode, _ := broker.ParseAckMode(c.Dispatch.AckMode)
	return broker.Options{
		ContainerID:        c.Broker.ContainerID,
		Username:           c.Broker.Username,
		Password:           c.Broker.Password,
		InsecureSkipVerify: c.Broker.InsecureSkipVerifyForTesting,
		AckMode:            mode,
		Credit:             c.Dispatch.Credit,
	}
}

func (c *Config) RetryPolicy() broker.RetryPolicy {
	return broker.RetryPolicy{
		InitialInterval: c.Broker.Retry.InitialInterval,
		MaxInterval:     c.Broker.Retry.MaxInterval,
		MaxElapsedTime:  c.Broker.Retry.MaxElapsedTime,
		MaxTries:        c.Broker.Retry.MaxTries,
	}
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}
