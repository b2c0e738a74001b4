package tool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moyoez/readersync/types"
)

const defaultConfigName = "readersync.yaml"

// AppConfig is the persisted node configuration.
type AppConfig struct {
	DeviceID   string `yaml:"deviceId"`
	Alias      string `yaml:"alias"`
	DeviceType string `yaml:"deviceType"`
	Version    string `yaml:"version"`
	Port       int    `yaml:"port"`
	Protocol   string `yaml:"protocol"`
	Pin        string `yaml:"pin,omitempty"`

	MulticastAddress string        `yaml:"multicastAddress"`
	MulticastPort    int           `yaml:"multicastPort"`
	AnnounceInterval time.Duration `yaml:"announceInterval"`
	LivenessFactor   int           `yaml:"livenessFactor"`
	Reachability     string        `yaml:"reachability"` // tcp | icmp | none

	DatabasePath     string        `yaml:"databasePath"`
	ConflictStrategy string        `yaml:"conflictStrategy"`
	SessionTimeout   time.Duration `yaml:"sessionTimeout"`
	NotifyURL        string        `yaml:"notifyUrl,omitempty"`
	LogDir           string        `yaml:"logDir"`
}

// DefaultAppConfig returns a config with a fresh device id.
func DefaultAppConfig() AppConfig {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "IReader Device"
	}
	return AppConfig{
		DeviceID:         GenerateRandomUUID(),
		Alias:            host,
		DeviceType:       string(types.DeviceTypeDesktop),
		Version:          "2.0.14",
		Port:             DefaultAPIPort,
		Protocol:         "http",
		MulticastAddress: "224.0.0.170",
		MulticastPort:    8964,
		AnnounceInterval: 5 * time.Second,
		LivenessFactor:   3,
		Reachability:     "tcp",
		DatabasePath:     "readersync.db",
		ConflictStrategy: string(types.StrategyNewestWins),
		SessionTimeout:   60 * time.Second,
		LogDir:           "log",
	}
}

// DefaultConfigPath is readersync.yaml next to the executable, or in the working dir.
func DefaultConfigPath() string {
	if dir := GetRunPositionDir(); dir != "" {
		return filepath.Join(dir, defaultConfigName)
	}
	return defaultConfigName
}

// LoadConfig reads path (or the default path). A missing file is created with defaults.
func LoadConfig(path string) (AppConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg := DefaultAppConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := SaveConfig(path, cfg); err != nil {
			DefaultLogger.Warnf("Could not write default config to %s: %v", path, err)
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = GenerateRandomUUID()
		if err := SaveConfig(path, cfg); err != nil {
			DefaultLogger.Warnf("Could not persist generated device id: %v", err)
		}
	}
	return cfg, cfg.Validate()
}

// SaveConfig writes cfg as YAML.
func SaveConfig(path string, cfg AppConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks values that would break the node at runtime.
func (c AppConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Protocol != "http" && c.Protocol != "https" {
		return fmt.Errorf("invalid protocol %q", c.Protocol)
	}
	if c.AnnounceInterval <= 0 {
		return fmt.Errorf("announceInterval must be positive")
	}
	if c.LivenessFactor < 2 {
		return fmt.Errorf("livenessFactor must be at least 2")
	}
	if _, err := types.ParseStrategy(c.ConflictStrategy); err != nil {
		return err
	}
	switch c.Reachability {
	case "tcp", "icmp", "none":
	default:
		return fmt.Errorf("invalid reachability probe %q", c.Reachability)
	}
	return nil
}

// LivenessWindow is how long a silent peer stays in the discovery snapshot.
func (c AppConfig) LivenessWindow() time.Duration {
	return c.AnnounceInterval * time.Duration(c.LivenessFactor)
}

// SelfAnnounce builds the announce message of this node.
func (c AppConfig) SelfAnnounce() *types.AnnounceMessage {
	return &types.AnnounceMessage{
		DeviceID:        c.DeviceID,
		DeviceName:      c.Alias,
		DeviceType:      types.ParseDeviceType(c.DeviceType),
		AppVersion:      c.Version,
		ProtocolVersion: types.ProtocolVersion,
		Port:            c.Port,
		Protocol:        c.Protocol,
		Announce:        true,
	}
}
