package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func testDefaults(t *testing.T) *Config {
	t.Helper()
	home := t.TempDir()
	return defaults(home)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	cfg := testDefaults(t)
	if err := os.MkdirAll(filepath.Dir(cfg.ConfigPath), 0o755); err != nil {
		t.Fatalf("mkdir error = %v", err)
	}
	content := "port: 9999\ntoken: test-token\ninterpreter: python3 -X dev\nencoding: latin1\ndb_path: /tmp/custom/puppy.db\n"
	if err := os.WriteFile(cfg.ConfigPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file error = %v", err)
	}

	got, err := load(cfg, nil)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if got.Port != 9999 || got.Token != "test-token" || got.DBPath != "/tmp/custom/puppy.db" {
		t.Fatalf("config = %#v", got)
	}
	if got.DeviceDir != "/dev" {
		t.Fatalf("DeviceDir = %q, want default /dev", got.DeviceDir)
	}

	command, args, err := got.InterpreterCommand()
	if err != nil {
		t.Fatalf("InterpreterCommand() error = %v", err)
	}
	if command != "python3" || !reflect.DeepEqual(args, []string{"-X", "dev"}) {
		t.Fatalf("InterpreterCommand() = %q %q", command, args)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	cfg := testDefaults(t)
	if err := os.MkdirAll(filepath.Dir(cfg.ConfigPath), 0o755); err != nil {
		t.Fatalf("mkdir error = %v", err)
	}
	if err := os.WriteFile(cfg.ConfigPath, []byte("port: 9999\ntoken: file-token\n"), 0o600); err != nil {
		t.Fatalf("write config file error = %v", err)
	}

	got, err := load(cfg, []string{"-port", "7000", "-log-level", "debug", "run", "hello"})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if got.Port != 7000 || got.Token != "file-token" {
		t.Fatalf("config = %#v", got)
	}
	if level, _ := got.Level(); level != slog.LevelDebug {
		t.Fatalf("Level() = %v, want debug", level)
	}
	if !reflect.DeepEqual(got.Args(), []string{"run", "hello"}) {
		t.Fatalf("Args() = %q", got.Args())
	}
}

func TestLoadGeneratesAndPersistsToken(t *testing.T) {
	cfg := testDefaults(t)

	got, err := load(cfg, nil)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if len(got.Token) != 32 {
		t.Fatalf("Token = %q, want 32 hex chars", got.Token)
	}

	data, err := os.ReadFile(got.ConfigPath)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "token: "+got.Token) {
		t.Fatalf("config file = %s", data)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 70000 }},
		{"encoding", func(c *Config) { c.Encoding = "klingon-8" }},
		{"interpreter empty", func(c *Config) { c.Interpreter = "  " }},
		{"interpreter quoting", func(c *Config) { c.Interpreter = `"python3` }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		cfg := testDefaults(t)
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate() error = nil", tt.name)
		}
	}
}
