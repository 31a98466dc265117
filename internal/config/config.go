// Package config loads the versioned studio.yaml service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	Version int           `yaml:"version" validate:"eq=1"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr" validate:"required"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key" validate:"required_with=TLSCert"`
}

type StorageConfig struct {
	Backend   string         `yaml:"backend" validate:"oneof=memory postgres dynamodb"`
	Workspace string         `yaml:"workspace" validate:"required"`
	Postgres  PostgresConfig `yaml:"postgres"`
	DynamoDB  DynamoDBConfig `yaml:"dynamodb"`
}

// PostgresConfig fields left empty fall back to the PG* environment.
// The password is never read from the file.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	Password string `yaml:"-"`
}

type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos" validate:"max=2"`
	Username    string `yaml:"username"`
	Password    string `yaml:"-"`
}

type ClientConfig struct {
	BaseURL     string        `yaml:"base_url" validate:"required,url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

type LoggingConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Default returns a configuration that runs without a file.
func Default() *Config {
	return &Config{
		Version: 1,
		Server:  ServerConfig{Addr: ":8092"},
		Storage: StorageConfig{
			Backend:   BackendMemory,
			Workspace: "default",
			DynamoDB:  DynamoDBConfig{Table: "dialogstudio-branches"},
		},
		MQTT: MQTTConfig{
			ClientID:    "dialogstudio",
			TopicPrefix: "dialogstudio",
			QoS:         1,
		},
		Client: ClientConfig{
			BaseURL:     "http://localhost:8092/api/v1",
			Timeout:     10 * time.Second,
			MaxFailures: 5,
			OpenTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// secrets, then validates. A missing file is not an error when path is
// empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if cfg.Version != 1 {
			return nil, fmt.Errorf("unsupported studio.yaml version: %d", cfg.Version)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays DIALOGSTUDIO_* variables and resolves secrets.
func (c *Config) applyEnv() error {
	if v := os.Getenv("DIALOGSTUDIO_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DIALOGSTUDIO_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("DIALOGSTUDIO_WORKSPACE"); v != "" {
		c.Storage.Workspace = v
	}
	if v := os.Getenv("DIALOGSTUDIO_API_URL"); v != "" {
		c.Client.BaseURL = v
	}
	if v := os.Getenv("DIALOGSTUDIO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MQTT_URL"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("DIALOGSTUDIO_MQTT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DIALOGSTUDIO_MQTT_ENABLED: %w", err)
		}
		c.MQTT.Enabled = enabled
	}

	var err error
	if c.Storage.Postgres.Password, err = ResolveSecret("DIALOGSTUDIO_PG_PASSWORD"); err != nil {
		return err
	}
	if c.MQTT.Password, err = ResolveSecret("DIALOGSTUDIO_MQTT_PASSWORD"); err != nil {
		return err
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fe := verrs[0]
		return fmt.Errorf("invalid config: %s failed %q", fe.Namespace(), fe.Tag())
	}
	return err
}
