// Package config loads the node configuration: cluster topology, generation
// parameters and serving switches. Topology is read once at process start; a
// role change requires a restart.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure returned from Load.
var ErrInvalid = errors.New("invalid configuration")

// Config is the process-wide configuration of a node.
type Config struct {
	Address string   `yaml:"address"`
	Port    int      `yaml:"port"`
	Master  string   `yaml:"master"`
	Slaves  []string `yaml:"slaves"`

	DataDir      string `yaml:"dataDir"`
	StaticDir    string `yaml:"staticDir"`
	TemplateDir  string `yaml:"templateDir"`
	GenericThumb string `yaml:"genericThumb"`

	PageSize              int `yaml:"pageSize"`
	PreviewCount          int `yaml:"previewCount"`
	MultiboardThreadCount int `yaml:"multiboardThreadCount"`
	RebuildConcurrency    int `yaml:"rebuildConcurrency"`

	DefaultLanguage         string `yaml:"defaultLanguage"`
	UseAlternativeLanguages bool   `yaml:"useAlternativeLanguages"`
	Maintenance             bool   `yaml:"maintenance"`
	Disable304              bool   `yaml:"disable304"`
	Debug                   bool   `yaml:"debug"`
	Verbose                 bool   `yaml:"verbose"`
	CSP                     string `yaml:"csp"`

	SignalAddress  string        `yaml:"signalAddress"`
	HealthInterval time.Duration `yaml:"healthInterval"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() Config {
	return Config{
		Address:            ":8080",
		Port:               8080,
		DataDir:            "./data",
		StaticDir:          "./static",
		PageSize:           10,
		PreviewCount:       5,
		DefaultLanguage:    "en",
		RebuildConcurrency: 1,
		SignalAddress:      "127.0.0.1:8090",
		HealthInterval:     5 * time.Second,
	}
}

// Load reads the YAML file at path on top of Defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Address = getenv("BOARDD_ADDR", c.Address)
	c.DataDir = getenv("BOARDD_DATA_DIR", c.DataDir)
	c.Master = getenv("BOARDD_MASTER", c.Master)
	if v := os.Getenv("BOARDD_SLAVES"); v != "" {
		c.Slaves = strings.Split(v, ",")
	}
}

// Normalize trims addresses and drops empty slave entries.
func (c *Config) Normalize() {
	c.Master = strings.TrimSpace(c.Master)
	c.DefaultLanguage = strings.TrimSpace(c.DefaultLanguage)
	slaves := make([]string, 0, len(c.Slaves))
	for _, s := range c.Slaves {
		if s = strings.TrimSpace(s); s != "" {
			slaves = append(slaves, s)
		}
	}
	c.Slaves = slaves
}

// Validate reports every problem at once, joined into a single error.
func (c *Config) Validate() error {
	var errs []string

	if c.Master != "" && len(c.Slaves) > 0 {
		errs = append(errs, "master and slaves are mutually exclusive")
	}
	seen := make(map[string]bool, len(c.Slaves))
	for _, s := range c.Slaves {
		if seen[s] {
			errs = append(errs, fmt.Sprintf("duplicate slave %q", s))
		}
		seen[s] = true
	}
	if c.PageSize < 1 {
		errs = append(errs, "pageSize must be at least 1")
	}
	if c.PreviewCount < 0 {
		errs = append(errs, "previewCount must not be negative")
	}
	if c.MultiboardThreadCount < 0 {
		errs = append(errs, "multiboardThreadCount must not be negative")
	}
	if c.RebuildConcurrency < 1 {
		errs = append(errs, "rebuildConcurrency must be at least 1")
	}
	if c.DefaultLanguage == "" {
		errs = append(errs, "defaultLanguage must not be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, "port out of range")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// MaintenanceActive reports whether maintenance mode applies to this node.
// Slaves never enter maintenance; the master answers for them.
func (c *Config) MaintenanceActive() bool {
	return c.Maintenance && c.Master == ""
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
