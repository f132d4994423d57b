package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	// MeshHost is the gateway serving the node database. Empty means discover over mDNS.
	MeshHost      string        `yaml:"mesh_host"`
	MeshNodesPath string        `yaml:"mesh_nodes_path"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	CommandPrefix string        `yaml:"command_prefix"`
	RecentWindow  time.Duration `yaml:"recent_window"`
	// MetricsAddr is the listen address for /metrics. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
	DBusEnabled bool   `yaml:"dbus_enabled"`
}

func DefaultSettings() *Settings {
	return &Settings{
		MeshNodesPath: "/json/nodes",
		PollInterval:  30 * time.Second,
		CommandPrefix: "@nara",
		RecentWindow:  time.Hour,
		DBusEnabled:   true,
	}
}

func DefaultSettingsPath() string {
	return filepath.Join(ConfigDir(), "settings.yaml")
}

func LoadOrInitializeSettingsFromDefaultLocation() (bool, *Settings) {
	return LoadOrInitializeSettings(DefaultSettingsPath())
}

// LoadOrInitializeSettings returns the settings at path, or defaults and true
// when there is no usable file yet.
func LoadOrInitializeSettings(path string) (bool, *Settings) {
	if settings, err := LoadSettings(path); err == nil {
		return false, settings
	}

	return true, DefaultSettings()
}

// LoadSettings reads path on top of the defaults, so keys missing from the
// file keep their default values.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	settings := DefaultSettings()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	if settings.PollInterval <= 0 {
		return nil, fmt.Errorf("poll_interval must be positive, got %s", settings.PollInterval)
	}
	if settings.RecentWindow <= 0 {
		return nil, fmt.Errorf("recent_window must be positive, got %s", settings.RecentWindow)
	}

	return settings, nil
}

func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
