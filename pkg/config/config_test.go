package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFlagsDefaults(t *testing.T) {
	cli, err := ParseFlags([]string{})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if cli.DataDir != "/var/lib/concentrator" {
		t.Fatalf("unexpected default DataDir: %q", cli.DataDir)
	}
}

func TestParseFlagsRecognizesShortAndLong(t *testing.T) {
	cli, err := ParseFlags([]string{"-c", "/etc/concentrator", "--daemon", "-e", "ops@example.com"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if cli.ConfDir != "/etc/concentrator" || !cli.Daemon || cli.Email != "ops@example.com" {
		t.Fatalf("unexpected CLI: %+v", cli)
	}
}

func TestLoadAppliesEnvDefaults(t *testing.T) {
	os.Unsetenv("CONCENTRATOR_LISTEN_ADDRESS")
	e, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if e.ListenAddress != ":7678" {
		t.Fatalf("expected default listen address, got %q", e.ListenAddress)
	}
}

func TestWriteStartupFilesCreatesPidAndMarker(t *testing.T) {
	dir := t.TempDir()
	if err := WriteStartupFiles(dir); err != nil {
		t.Fatalf("WriteStartupFiles: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".pid")); err != nil {
		t.Fatalf("expected .pid file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".start")); err != nil {
		t.Fatalf("expected .start file: %v", err)
	}
}
