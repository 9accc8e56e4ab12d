package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the gateway
type Config struct {
	GatewayID     string `yaml:"gateway_id"`
	HTTPPort      int    `yaml:"http_port"`
	RedisURL      string `yaml:"redis_url"`
	NATSURL       string `yaml:"nats_url"`
	EventEncoding string `yaml:"event_encoding"`
	Debug         bool   `yaml:"debug"`

	CAN CANConfig `yaml:"can"`
	DLT DLTConfig `yaml:"dlt"`

	// File the configuration was loaded from, empty if none
	Path string `yaml:"-"`
}

// CANConfig holds the serial CAN adapter settings
type CANConfig struct {
	Interface    string `yaml:"interface"`
	SerialNumber string `yaml:"interface_serial_number"`
	ProductID    uint16 `yaml:"interface_product_identifier"`
	VendorID     uint16 `yaml:"interface_vendor_identifier"`
	Active       bool   `yaml:"active"`
	BaudRate     int    `yaml:"baud_rate"`

	MessageID   uint32 `yaml:"message_id"`
	MessageData string `yaml:"message_data"`

	Cyclic [2]CyclicConfig `yaml:"cyclic"`
}

// CyclicConfig holds the settings of one cyclic message slot
type CyclicConfig struct {
	Active    bool   `yaml:"active"`
	TimeoutMs int    `yaml:"timeout_ms"`
	ID        uint32 `yaml:"id"`
	Data      string `yaml:"data"`
}

// DLTConfig holds the DLT server settings
type DLTConfig struct {
	Port          int    `yaml:"port"`
	ApplicationID string `yaml:"application_id"`
	ContextID     string `yaml:"context_id"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		GatewayID:     "node-01",
		HTTPPort:      8081,
		EventEncoding: "json",
		CAN: CANConfig{
			BaudRate: 115200,
		},
		DLT: DLTConfig{
			Port:          3491,
			ApplicationID: "DLT",
			ContextID:     "Mini",
		},
	}
}

// Load loads configuration from the file named by DLTCAN_CONFIG, if set,
// and then from environment variables
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("DLTCAN_CONFIG"); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML settings file on top of the defaults
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Save writes the configuration as YAML to path
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate checks values the gateway cannot run with
func (c *Config) Validate() error {
	switch c.EventEncoding {
	case "json", "cbor":
	default:
		return fmt.Errorf("unknown event encoding %q", c.EventEncoding)
	}
	if c.DLT.Port <= 0 || c.DLT.Port > 0xFFFF {
		return fmt.Errorf("invalid DLT port %d", c.DLT.Port)
	}
	for i, slot := range c.CAN.Cyclic {
		if slot.Active && slot.TimeoutMs <= 0 {
			return fmt.Errorf("cyclic message %d is active without a timeout", i+1)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.GatewayID = getEnv("GATEWAY_ID", cfg.GatewayID)
	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", cfg.HTTPPort)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.EventEncoding = strings.ToLower(getEnv("EVENT_ENCODING", cfg.EventEncoding))
	cfg.Debug = getEnvAsBool("DLTCAN_DEBUG", cfg.Debug)

	cfg.CAN.Interface = getEnv("CAN_INTERFACE", cfg.CAN.Interface)
	cfg.CAN.Active = getEnvAsBool("CAN_ACTIVE", cfg.CAN.Active)
	cfg.CAN.BaudRate = getEnvAsInt("CAN_BAUD_RATE", cfg.CAN.BaudRate)

	cfg.DLT.Port = getEnvAsInt("DLT_PORT", cfg.DLT.Port)
	cfg.DLT.ApplicationID = getEnv("DLT_APPLICATION_ID", cfg.DLT.ApplicationID)
	cfg.DLT.ContextID = getEnv("DLT_CONTEXT_ID", cfg.DLT.ContextID)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
