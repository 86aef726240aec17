package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SergeiSkv/pictofix/dataset"
	"github.com/SergeiSkv/pictofix/history"
	"github.com/SergeiSkv/pictofix/models"
	"github.com/SergeiSkv/pictofix/normalizer"
	"github.com/SergeiSkv/pictofix/server"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// Config represents the pictofix configuration file
type Config struct {
	// Bonus text normalizer
	Normalizer struct {
		Profile       string                `yaml:"profile" json:"profile"`
		NFC           bool                  `yaml:"nfc" json:"nfc"`
		Labels        []string              `yaml:"labels" json:"labels"`
		PercentLabels []string              `yaml:"percent_labels" json:"percent_labels"`
		Rules         map[string]RuleConfig `yaml:"rules" json:"rules"`
	} `yaml:"normalizer" json:"normalizer"`

	Paths struct {
		Dataset    string `yaml:"dataset" json:"dataset"`
		HistoryDir string `yaml:"history_dir,omitempty" json:"history_dir,omitempty"` // defaults to the dataset directory
	} `yaml:"paths" json:"paths"`

	Output struct {
		Format     string `yaml:"format" json:"format"`           // "text" or "json"
		MaxChanges int    `yaml:"max_changes" json:"max_changes"` // 0 = unlimited
	} `yaml:"output" json:"output"`

	History struct {
		Enabled     bool   `yaml:"enabled" json:"enabled"`
		Keep        int    `yaml:"keep" json:"keep"` // 0 = keep everything
		LockTimeout string `yaml:"lock_timeout" json:"lock_timeout"`
	} `yaml:"history" json:"history"`

	Server struct {
		Addr           string   `yaml:"addr" json:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
		PerPage        int      `yaml:"per_page" json:"per_page"`
		StaticDir      string   `yaml:"static_dir,omitempty" json:"static_dir,omitempty"`
	} `yaml:"server" json:"server"`
}

// RuleConfig toggles a single normalizer rule
type RuleConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	config := &Config{}

	opts := normalizer.DefaultOptions()
	config.Normalizer.Profile = string(opts.Profile)
	config.Normalizer.NFC = opts.NFC
	config.Normalizer.Labels = opts.Labels
	config.Normalizer.PercentLabels = opts.PercentLabels
	config.Normalizer.Rules = make(map[string]RuleConfig, len(models.AllRules()))
	for _, id := range models.AllRules() {
		config.Normalizer.Rules[id.String()] = RuleConfig{Enabled: true}
	}

	config.Paths.Dataset = dataset.DefaultPath

	config.Output.Format = formatText
	config.Output.MaxChanges = 0

	config.History.Enabled = true
	config.History.Keep = 50
	config.History.LockTimeout = history.DefaultTimeout.String()

	config.Server.Addr = "127.0.0.1:8080"
	config.Server.AllowedOrigins = []string{"http://localhost:*"}
	config.Server.PerPage = server.DefaultPerPage

	return config
}

// findConfigPath searches for a config file in common locations
func findConfigPath() string {
	locations := []string{
		".pictofix.yaml",
		".pictofix.yml",
		".pictofix.json",
		"pictofix.yaml",
		"pictofix.yml",
		"pictofix.json",
	}

	// Check the current directory
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	// Check home directory
	home, _ := os.UserHomeDir()
	if home == "" {
		return ""
	}

	for _, loc := range locations {
		configPath := filepath.Join(home, ".config", "pictofix", loc)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}
	return ""
}

// LoadConfig loads configuration from a file or returns default.
// Keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	resolvedPath := resolveConfigPath(path)
	if resolvedPath == "" {
		return DefaultConfig(), nil
	}

	file, err := os.Open(resolvedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer func() { _ = file.Close() }()

	config, err := decodeConfigFile(file, resolvedPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", resolvedPath, err)
	}
	return config, nil
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	return findConfigPath()
}

func decodeConfigFile(r io.ReadSeeker, path string) (*Config, error) {
	config := DefaultConfig()
	defaults := config.Normalizer.Rules
	config.Normalizer.Rules = nil
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		if err := json.NewDecoder(r).Decode(config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read YAML config: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := tryJSONThenYAML(r, config); err != nil {
			return nil, err
		}
	}

	config.Normalizer.Rules = mergeRules(defaults, config.Normalizer.Rules)
	return config, nil
}

// mergeRules lays the file's rule toggles over the defaults under canonical
// names, so "decimal_spacing" replaces "decimal-spacing" instead of sitting
// next to it. Unknown names are kept for Validate to report.
func mergeRules(defaults, overrides map[string]RuleConfig) map[string]RuleConfig {
	merged := make(map[string]RuleConfig, len(defaults)+len(overrides))
	for name, cfg := range defaults {
		merged[name] = cfg
	}
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		key := name
		if id, err := models.ParseRuleID(name); err == nil {
			key = id.String()
		}
		merged[key] = overrides[name]
	}
	return merged
}

func tryJSONThenYAML(r io.ReadSeeker, config *Config) error {
	if err := json.NewDecoder(r).Decode(config); err == nil {
		return nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to reset file position: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read config for YAML parsing: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config (tried JSON and YAML): %w", err)
	}
	return nil
}

// Validate checks the values a typo could break
func (c *Config) Validate() error {
	if _, err := normalizer.ParseProfile(c.Normalizer.Profile); err != nil {
		return err
	}
	for name := range c.Normalizer.Rules {
		if _, err := models.ParseRuleID(name); err != nil {
			return err
		}
	}
	switch strings.ToLower(c.Output.Format) {
	case "", formatText, formatJSON:
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}
	if c.History.LockTimeout != "" {
		if _, err := time.ParseDuration(c.History.LockTimeout); err != nil {
			return fmt.Errorf("invalid history lock_timeout: %w", err)
		}
	}
	return nil
}

// GetRuleConfig returns config for a specific rule. Rules not listed are enabled.
func (c *Config) GetRuleConfig(id models.RuleID) RuleConfig {
	if cfg, ok := c.Normalizer.Rules[id.String()]; ok {
		return cfg
	}
	names := make([]string, 0, len(c.Normalizer.Rules))
	for name := range c.Normalizer.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if parsed, err := models.ParseRuleID(name); err == nil && parsed == id {
			return c.Normalizer.Rules[name]
		}
	}
	return RuleConfig{Enabled: true}
}

// NormalizerOptions builds the normalizer options. A non-empty profile
// overrides the configured one.
func (c *Config) NormalizerOptions(profile string) normalizer.Options {
	if profile == "" {
		profile = c.Normalizer.Profile
	}
	opts := normalizer.Options{
		Profile:       normalizer.Profile(profile),
		NFC:           c.Normalizer.NFC,
		Labels:        c.Normalizer.Labels,
		PercentLabels: c.Normalizer.PercentLabels,
	}
	for _, id := range models.AllRules() {
		if !c.GetRuleConfig(id).Enabled {
			opts.Disabled = append(opts.Disabled, id)
		}
	}
	return opts
}

// HistoryTimeout is how long to wait for another pictofix process to release the history lock
func (c *Config) HistoryTimeout() time.Duration {
	d, err := time.ParseDuration(c.History.LockTimeout)
	if err != nil || d <= 0 {
		return history.DefaultTimeout
	}
	return d
}

// ServerOptions converts the server section
func (c *Config) ServerOptions() server.Options {
	return server.Options{
		AllowedOrigins: c.Server.AllowedOrigins,
		PerPage:        c.Server.PerPage,
		StaticDir:      c.Server.StaticDir,
	}
}

// UseJSON reports whether reports go out as JSON
func (c *Config) UseJSON() bool {
	return jsonOutput || strings.EqualFold(c.Output.Format, formatJSON)
}
