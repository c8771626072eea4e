package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config models caseline.yml.
type Config struct {
	Codes struct {
		Requirement string `yaml:"requirement"`
		TestCase    string `yaml:"test_case"`
		Bug         string `yaml:"bug"`
	} `yaml:"codes"`
	Execution struct {
		PlanMode string `yaml:"plan_mode"`
	} `yaml:"execution"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

var prefixPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{0,9}$`)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	prefixes := map[string]string{
		"codes.requirement": c.Codes.Requirement,
		"codes.test_case":   c.Codes.TestCase,
		"codes.bug":         c.Codes.Bug,
	}
	seen := map[string]string{}
	for key, p := range prefixes {
		if p == "" {
			return fmt.Errorf("config.%s is required", key)
		}
		if !prefixPattern.MatchString(p) {
			return fmt.Errorf("config.%s %q is invalid; use up to 10 letters or digits", key, p)
		}
		if other, ok := seen[p]; ok {
			return fmt.Errorf("config.%s duplicates prefix of config.%s", key, other)
		}
		seen[p] = key
	}
	if c.Execution.PlanMode != "pull" && c.Execution.PlanMode != "push" {
		return fmt.Errorf("config.execution.plan_mode must be 'pull' or 'push'")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is invalid", c.Log.Level)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `codes:
  requirement: REQ
  test_case: TC
  bug: BUG

execution:
  # pull walks the live plan order; push pre-creates one result per case.
  # suite runs are always push.
  plan_mode: pull

server:
  addr: 127.0.0.1:8080
  base_path: /v0

log:
  level: info
`
