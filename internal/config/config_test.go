package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOrInitializeSettings_MissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	created, settings := LoadOrInitializeSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	if !created {
		t.Fatalf("expected new settings")
	}
	if settings.PollInterval != 30*time.Second || settings.CommandPrefix != "@nara" || !settings.DBusEnabled {
		t.Fatalf("settings=%+v", settings)
	}
}

func TestLoadSettings_PartialFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "mesh_host: 192.168.1.20\npoll_interval: 1m\nmetrics_addr: \":9108\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	settings, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if settings.MeshHost != "192.168.1.20" || settings.PollInterval != time.Minute || settings.MetricsAddr != ":9108" {
		t.Fatalf("settings=%+v", settings)
	}
	if settings.RecentWindow != time.Hour || settings.MeshNodesPath != "/json/nodes" {
		t.Fatalf("defaults lost: %+v", settings)
	}
}

func TestLoadSettings_RejectsNonPositiveInterval(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("poll_interval: 0s\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadSettings(path); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSettings_SaveRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	in := DefaultSettings()
	in.MeshHost = "meshtastic.local"
	in.RecentWindow = 2 * time.Hour

	if err := in.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	out, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if *out != *in {
		t.Fatalf("out=%+v in=%+v", out, in)
	}
}

func TestDBPath_EnvOverride(t *testing.T) {
	t.Setenv(DB_PATH_ENV, "/tmp/custom.sqlite")

	if got := DBPath(); got != "/tmp/custom.sqlite" {
		t.Fatalf("path=%s", got)
	}
}

func TestDataDir_XDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	if got := DataDir(); got != filepath.Join("/xdg/data", APP_DIR_NAME) {
		t.Fatalf("dir=%s", got)
	}
}
