// Package config loads the mailer configuration from TOML or YAML plus
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mirsubmit/backend/internal/model"
	"github.com/mirsubmit/backend/pkg/auth"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DevSessionSecret is used when no secret is configured. Validate warns about it.
const DevSessionSecret = "dev-secret-change-in-production-32bytes"

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig             `toml:"server" yaml:"server"`
	Session  SessionConfig            `toml:"session" yaml:"session"`
	Database DatabaseConfig           `toml:"database" yaml:"database"`
	Captcha  CaptchaConfig            `toml:"captcha" yaml:"captcha"`
	SMTP     SMTPConfig               `toml:"smtp" yaml:"smtp"`
	Logging  LoggingConfig            `toml:"logging" yaml:"logging"`
	Mailer   MailerConfig             `toml:"mailer" yaml:"mailer"`
	Flows    []FlowConfig             `toml:"flows" yaml:"flows"`
	Handlers map[string]HandlerConfig `toml:"handlers" yaml:"handlers"`
}

type ServerConfig struct {
	Listen                string   `toml:"listen" yaml:"listen"`
	BaseURL               string   `toml:"base_url" yaml:"base_url"`
	MaxRequestSize        int64    `toml:"max_request_size" yaml:"max_request_size"`
	UnknownActionRedirect string   `toml:"unknown_action_redirect" yaml:"unknown_action_redirect"`
	AllowedRedirectHosts  []string `toml:"allowed_redirect_hosts" yaml:"allowed_redirect_hosts"`
	TrustProxy            bool     `toml:"trust_proxy" yaml:"trust_proxy"`
	RateLimit             float64  `toml:"rate_limit" yaml:"rate_limit"`
	RateBurst             int      `toml:"rate_burst" yaml:"rate_burst"`
	ShutdownTimeout       string   `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	MetricsEnabled        bool     `toml:"metrics_enabled" yaml:"metrics_enabled"`
}

type SessionConfig struct {
	Store            string   `toml:"store" yaml:"store"` // memory, redis, memcached, postgres
	TTL              string   `toml:"ttl" yaml:"ttl"`
	CookieName       string   `toml:"cookie_name" yaml:"cookie_name"`
	Secret           string   `toml:"secret" yaml:"secret"`
	SecureCookie     bool     `toml:"secure_cookie" yaml:"secure_cookie"`
	RedisAddr        string   `toml:"redis_addr" yaml:"redis_addr"`
	RedisPassword    string   `toml:"redis_password" yaml:"redis_password"`
	RedisDB          int      `toml:"redis_db" yaml:"redis_db"`
	MemcachedServers []string `toml:"memcached_servers" yaml:"memcached_servers"`
}

type DatabaseConfig struct {
	URL string `toml:"url" yaml:"url"`
}

type CaptchaConfig struct {
	Length    int    `toml:"length" yaml:"length"`
	Width     int    `toml:"width" yaml:"width"`
	Height    int    `toml:"height" yaml:"height"`
	AudioLang string `toml:"audio_lang" yaml:"audio_lang"`
}

type SMTPConfig struct {
	Transport       string `toml:"transport" yaml:"transport"` // smtp or log
	Addr            string `toml:"addr" yaml:"addr"`
	Username        string `toml:"username" yaml:"username"`
	Password        string `toml:"password" yaml:"password"`
	BreakerFailures uint32 `toml:"breaker_failures" yaml:"breaker_failures"`
	BreakerTimeout  string `toml:"breaker_timeout" yaml:"breaker_timeout"`
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

type MailerConfig struct {
	DisallowedDomains []string `toml:"disallowed_domains" yaml:"disallowed_domains"`
}

// FlowConfig maps an action name to a handler. An empty Handler uses the
// handler with the flow's name.
type FlowConfig struct {
	Name           string `toml:"name" yaml:"name"`
	Handler        string `toml:"handler" yaml:"handler"`
	RequireCaptcha bool   `toml:"require_captcha" yaml:"require_captcha"`
	FormURL        string `toml:"form_url" yaml:"form_url"`
	SuccessURL     string `toml:"success_url" yaml:"success_url"`
}

// HandlerConfig configures one mail submission handler.
type HandlerConfig struct {
	Sender         string            `toml:"sender" yaml:"sender"`
	Recipients     []string          `toml:"recipients" yaml:"recipients"`
	Subject        string            `toml:"subject" yaml:"subject"`
	Template       string            `toml:"template" yaml:"template"`
	RequiredFields []string          `toml:"required_fields" yaml:"required_fields"`
	Attachments    *AttachmentConfig `toml:"attachments" yaml:"attachments"`
}

type AttachmentConfig struct {
	UploadDir    string `toml:"upload_dir" yaml:"upload_dir"`
	MinCount     *int   `toml:"min_count" yaml:"min_count"`
	MaxCount     *int   `toml:"max_count" yaml:"max_count"`
	MaxFileSize  *int64 `toml:"max_file_size" yaml:"max_file_size"`
	MaxTotalSize *int64 `toml:"max_total_size" yaml:"max_total_size"`
}

// Model converts to the domain type. A nil receiver disables attachments.
func (a *AttachmentConfig) Model() *model.AttachmentConfig {
	if a == nil {
		return nil
	}
	return &model.AttachmentConfig{
		UploadDir:    a.UploadDir,
		MinCount:     a.MinCount,
		MaxCount:     a.MaxCount,
		MaxFileSize:  a.MaxFileSize,
		MaxTotalSize: a.MaxTotalSize,
	}
}

// DefaultConfig returns the configuration used for anything a file leaves unset.
// It carries the legacy "submit_request" flow; recipients still have to be configured.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Listen = ":8080"
	cfg.Server.MaxRequestSize = 32 << 20
	cfg.Server.UnknownActionRedirect = "/editor/submit_request.xed"
	cfg.Server.RateLimit = 0.5
	cfg.Server.RateBurst = 5
	cfg.Server.ShutdownTimeout = "10s"
	cfg.Server.MetricsEnabled = true

	cfg.Session.Store = "memory"
	cfg.Session.TTL = "30m"
	cfg.Session.CookieName = "mailer_session"
	cfg.Session.SecureCookie = true

	cfg.Captcha.Length = 6
	cfg.Captcha.Width = 200
	cfg.Captcha.Height = 50
	cfg.Captcha.AudioLang = "en"

	cfg.SMTP.Transport = "log"
	cfg.SMTP.BreakerFailures = 5
	cfg.SMTP.BreakerTimeout = "30s"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Flows = []FlowConfig{{
		Name:           "submit_request",
		Handler:        "submit_request",
		RequireCaptcha: true,
		FormURL:        "/editor/submit_request.xed",
		SuccessURL:     "/content/index.xml",
	}}
	cfg.Handlers = map[string]HandlerConfig{
		"submit_request": {
			Sender:         "noreply@localhost",
			Subject:        "[Publikationsserver] - Online-Einreichung",
			Template:       "builtin:submit_request",
			RequiredFields: []string{"name", "mail", "title_de"},
		},
	}
	return cfg
}

// Load reads a .env file if present, then the config file at path (TOML, or
// YAML for .yaml/.yml), then environment overrides, and validates the result.
// An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, filepath.Ext(path), cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)

	if res := cfg.Validate(); !res.Valid() {
		return nil, res.Err()
	}
	return cfg, nil
}

// Parse decodes data into cfg. ext selects YAML for ".yaml" and ".yml".
// Flows and handlers given in data replace the defaults instead of merging.
func Parse(data []byte, ext string, cfg *Config) error {
	var lists struct {
		Flows    []FlowConfig             `toml:"flows" yaml:"flows"`
		Handlers map[string]HandlerConfig `toml:"handlers" yaml:"handlers"`
	}
	if err := decode(data, ext, &lists); err != nil {
		return err
	}
	if err := decode(data, ext, cfg); err != nil {
		return err
	}
	if lists.Flows != nil {
		cfg.Flows = lists.Flows
	}
	if lists.Handlers != nil {
		cfg.Handlers = lists.Handlers
	}
	return nil
}

func decode(data []byte, ext string, v any) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("error parsing YAML configuration: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("error parsing TOML configuration: %w", err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Server.Listen, "LISTEN_ADDR")
	set(&c.Server.BaseURL, "BASE_URL")
	set(&c.Session.Secret, "SESSION_SECRET")
	set(&c.Session.Store, "SESSION_STORE")
	set(&c.Session.RedisAddr, "REDIS_ADDR")
	set(&c.Session.RedisPassword, "REDIS_PASSWORD")
	set(&c.Database.URL, "DATABASE_URL")
	set(&c.SMTP.Addr, "SMTP_ADDR")
	set(&c.SMTP.Username, "SMTP_USERNAME")
	set(&c.SMTP.Password, "SMTP_PASSWORD")
	set(&c.SMTP.Transport, "SMTP_TRANSPORT")
	set(&c.Logging.Level, "LOG_LEVEL")
	if v := getenv("MEMCACHED_SERVERS"); v != "" {
		c.Session.MemcachedServers = splitList(v)
	}
	if v := getenv("DISALLOWED_MAIL_DOMAINS"); v != "" {
		c.Mailer.DisallowedDomains = splitList(v)
	}
	if v := getenv("EDITOR_MAIL"); v != "" {
		if h, ok := c.Handlers["submit_request"]; ok {
			h.Recipients = splitList(v)
			c.Handlers["submit_request"] = h
		}
	}
	if v := getenv("SECURE_COOKIE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Session.SecureCookie = b
		}
	}
}

// Flow returns the flow configured for action.
func (c *Config) Flow(action string) (FlowConfig, bool) {
	for _, f := range c.Flows {
		if f.Name == action {
			return f, true
		}
	}
	return FlowConfig{}, false
}

// SessionTTL returns the parsed session TTL. Call after Validate.
func (c *Config) SessionTTL() time.Duration {
	return mustDuration(c.Session.TTL, 30*time.Minute)
}

// ShutdownTimeout returns the parsed graceful shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return mustDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// BreakerTimeout returns how long the SMTP breaker stays open.
func (c *Config) BreakerTimeout() time.Duration {
	return mustDuration(c.SMTP.BreakerTimeout, 30*time.Second)
}

// SessionSecretBytes returns the cookie signing key.
func (c *Config) SessionSecretBytes() []byte {
	if c.Session.Secret == "" {
		return auth.SessionSecretBytes(DevSessionSecret)
	}
	return auth.SessionSecretBytes(c.Session.Secret)
}

func mustDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
