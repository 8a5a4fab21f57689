package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"github.com/user/puppy/internal/textcodec"
)

type Config struct {
	Port        int    `yaml:"port"`
	Token       string `yaml:"token"`
	ProjectRoot string `yaml:"project_root"`
	DBPath      string `yaml:"db_path"`
	Interpreter string `yaml:"interpreter"`
	Encoding    string `yaml:"encoding"`
	DeviceDir   string `yaml:"device_dir"`
	LogLevel    string `yaml:"log_level"`

	ConfigPath string `yaml:"-"`
	PrintToken bool   `yaml:"-"`

	rest []string
}

func defaults(home string) *Config {
	return &Config{
		Port:        8765,
		ProjectRoot: filepath.Join(home, "puppy-projects"),
		DBPath:      filepath.Join(home, ".config", "puppy", "puppy.db"),
		Interpreter: "python3",
		Encoding:    textcodec.DefaultEncoding,
		DeviceDir:   "/dev",
		LogLevel:    "info",
		ConfigPath:  filepath.Join(home, ".config", "puppy", "config.yaml"),
	}
}

// Load reads ~/.config/puppy/config.yaml and overlays command line flags.
func Load(args []string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return load(defaults(homeDir), args)
}

func load(cfg *Config, args []string) (*Config, error) {
	if err := cfg.loadFromFile(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	fs := flag.NewFlagSet("puppy", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "authentication token (auto-generated if empty)")
	fs.StringVar(&cfg.ProjectRoot, "root", cfg.ProjectRoot, "directory holding projects")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path")
	fs.StringVar(&cfg.Interpreter, "interpreter", cfg.Interpreter, "command used to run programs")
	fs.StringVar(&cfg.Encoding, "encoding", cfg.Encoding, "text encoding of program and device output")
	fs.StringVar(&cfg.DeviceDir, "device-dir", cfg.DeviceDir, "directory watched for serial devices")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.PrintToken, "print-token", false, "print token to stdout (for local debugging)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	cfg.rest = fs.Args()
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if _, err := textcodec.Lookup(c.Encoding); err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}
	if _, _, err := c.InterpreterCommand(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// InterpreterCommand splits Interpreter with shell quoting rules, so values
// like `"/opt/my python/bin/python3" -X dev` work.
func (c *Config) InterpreterCommand() (string, []string, error) {
	words, err := shellquote.Split(c.Interpreter)
	if err != nil {
		return "", nil, fmt.Errorf("invalid interpreter %q: %w", c.Interpreter, err)
	}
	if len(words) == 0 {
		return "", nil, fmt.Errorf("interpreter cannot be empty")
	}
	return words[0], words[1:], nil
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Args returns the positional arguments left after flag parsing.
func (c *Config) Args() []string {
	return c.rest
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", c.ConfigPath, err)
	}
	return nil
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.ConfigPath, data, 0o600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
