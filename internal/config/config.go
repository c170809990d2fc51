// Package config provides YAML-based configuration loading for Paperdeck.
package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/paperdeck/internal/workflow"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a key is absent.
const (
	DefaultBaseURL       = "http://localhost:8000"
	DefaultTimeout       = 30 * time.Second
	DefaultPollSchedule  = "@every 2s"
	DefaultStyle         = "academic"
	DefaultLength        = "medium"
	DefaultDensity       = "medium"
	DefaultContent       = "paper"
	DefaultCancelTimeout = 60 * time.Second
	DefaultMaxAttempts   = 3
	DefaultParallel      = 4
	DefaultDSN           = "file:paperdeck?mode=memory&cache=shared"
	DefaultDashboardPort = 8090
	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
)

var (
	validLengths   = []string{"short", "medium", "long"}
	validDensities = []string{"sparse", "medium", "dense"}
	validContents  = []string{"paper", "general"}
)

// Config is the top-level Paperdeck configuration, loaded from config.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Generation GenerationConfig `yaml:"generation"`
	Upload     UploadConfig     `yaml:"upload"`
	Store      StoreConfig      `yaml:"store"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	AuthServer AuthServerConfig `yaml:"auth_server"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig locates the backend hosting the pipeline, upload and auth
// endpoints.
type ServerConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig controls the login session.
type AuthConfig struct {
	Required     *bool  `yaml:"required"` // defaults to true
	PollSchedule string `yaml:"poll_schedule"`
}

// GenerationConfig holds the default generation options.
type GenerationConfig struct {
	OutputType    string        `yaml:"output_type"`
	Style         string        `yaml:"style"`
	Length        string        `yaml:"length"`
	Density       string        `yaml:"density"`
	Content       string        `yaml:"content"`
	CancelTimeout time.Duration `yaml:"cancel_timeout"`
}

// UploadConfig tunes file uploads.
type UploadConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	Parallel    int `yaml:"parallel"`
}

// StoreConfig locates the session event store.
type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

// DashboardConfig holds settings for the local web dashboard.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// AuthServerConfig enables the built-in OAuth backend.
type AuthServerConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	AuthorizeURL string   `yaml:"authorize_url"`
	TokenURL     string   `yaml:"token_url"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// LogConfig controls the optional rotating log file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// AuthRequired reports whether generation needs an authenticated session.
func (c *Config) AuthRequired() bool {
	return c.Auth.Required == nil || *c.Auth.Required
}

// PollSchedule parses the login polling schedule.
func (c *Config) PollSchedule() (cron.Schedule, error) {
	s, err := cron.ParseStandard(c.Auth.PollSchedule)
	if err != nil {
		return nil, fmt.Errorf("config: auth.poll_schedule: %w", err)
	}
	return s, nil
}

// OutputType returns the validated default output type.
func (c *Config) OutputType() workflow.OutputType {
	return workflow.OutputType(c.Generation.OutputType)
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = DefaultBaseURL
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.Timeout == 0 {
		c.Server.Timeout = DefaultTimeout
	}
	if c.Auth.PollSchedule == "" {
		c.Auth.PollSchedule = DefaultPollSchedule
	}
	if c.Generation.OutputType == "" {
		c.Generation.OutputType = string(workflow.OutputSlides)
	}
	if c.Generation.Style == "" {
		c.Generation.Style = DefaultStyle
	}
	if c.Generation.Length == "" {
		c.Generation.Length = DefaultLength
	}
	if c.Generation.Density == "" {
		c.Generation.Density = DefaultDensity
	}
	if c.Generation.Content == "" {
		c.Generation.Content = DefaultContent
	}
	if c.Generation.CancelTimeout == 0 {
		c.Generation.CancelTimeout = DefaultCancelTimeout
	}
	if c.Upload.MaxAttempts == 0 {
		c.Upload.MaxAttempts = DefaultMaxAttempts
	}
	if c.Upload.Parallel == 0 {
		c.Upload.Parallel = DefaultParallel
	}
	if c.Store.DSN == "" {
		c.Store.DSN = DefaultDSN
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = DefaultDashboardPort
	}
	if c.AuthServer.RedirectURL == "" {
		c.AuthServer.RedirectURL = fmt.Sprintf("http://localhost:%d/auth/oauth/callback", c.Dashboard.Port)
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if u, err := url.Parse(c.Server.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("server.base_url %q must be an http(s) URL", c.Server.BaseURL))
	}
	if c.Server.Timeout < 0 {
		errs = append(errs, "server.timeout must be positive")
	}
	if _, err := cron.ParseStandard(c.Auth.PollSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("auth.poll_schedule %q: %v", c.Auth.PollSchedule, err))
	}
	if _, err := workflow.ParseOutputType(c.Generation.OutputType); err != nil {
		errs = append(errs, fmt.Sprintf("generation.output_type %q must be slides or poster", c.Generation.OutputType))
	}
	if !slices.Contains(validLengths, c.Generation.Length) {
		errs = append(errs, fmt.Sprintf("generation.length %q must be one of %s", c.Generation.Length, strings.Join(validLengths, ", ")))
	}
	if !slices.Contains(validDensities, c.Generation.Density) {
		errs = append(errs, fmt.Sprintf("generation.density %q must be one of %s", c.Generation.Density, strings.Join(validDensities, ", ")))
	}
	if !slices.Contains(validContents, c.Generation.Content) {
		errs = append(errs, fmt.Sprintf("generation.content %q must be one of %s", c.Generation.Content, strings.Join(validContents, ", ")))
	}
	if c.Generation.CancelTimeout < 0 {
		errs = append(errs, "generation.cancel_timeout must be positive")
	}
	if c.Upload.MaxAttempts < 1 {
		errs = append(errs, "upload.max_attempts must be at least 1")
	}
	if c.Upload.Parallel < 1 {
		errs = append(errs, "upload.parallel must be at least 1")
	}
	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if c.AuthServer.Enabled && c.AuthServer.ClientID == "" {
		errs = append(errs, "auth_server.client_id is required when auth_server is enabled")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateGeneration checks per-request overrides of the generation
// options.
func ValidateGeneration(g GenerationConfig) error {
	var errs []string
	if _, err := workflow.ParseOutputType(g.OutputType); err != nil {
		errs = append(errs, fmt.Sprintf("output type %q must be slides or poster", g.OutputType))
	}
	if g.Length != "" && !slices.Contains(validLengths, g.Length) {
		errs = append(errs, fmt.Sprintf("length %q must be one of %s", g.Length, strings.Join(validLengths, ", ")))
	}
	if g.Density != "" && !slices.Contains(validDensities, g.Density) {
		errs = append(errs, fmt.Sprintf("density %q must be one of %s", g.Density, strings.Join(validDensities, ", ")))
	}
	if g.Content != "" && !slices.Contains(validContents, g.Content) {
		errs = append(errs, fmt.Sprintf("content %q must be one of %s", g.Content, strings.Join(validContents, ", ")))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
