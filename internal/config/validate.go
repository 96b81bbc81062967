package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// ValidationIssue is one configuration problem.
type ValidationIssue struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationIssue) Error() string {
	return fmt.Sprintf("config validation error in field '%s': %s (current value: %v)", e.Field, e.Message, e.Value)
}

// ValidationResult collects every problem found by Validate.
type ValidationResult struct {
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

func (vr *ValidationResult) AddError(field string, value interface{}, message string) {
	vr.Errors = append(vr.Errors, ValidationIssue{Field: field, Value: value, Message: message})
}

func (vr *ValidationResult) AddWarning(field string, value interface{}, message string) {
	vr.Warnings = append(vr.Warnings, ValidationIssue{Field: field, Value: value, Message: message})
}

func (vr *ValidationResult) Valid() bool { return len(vr.Errors) == 0 }

// Err returns a *ConfigurationError, or nil when valid.
func (vr *ValidationResult) Err() error {
	if vr.Valid() {
		return nil
	}
	return &ConfigurationError{Issues: vr.Errors}
}

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Issues []ValidationIssue
}

func (e *ConfigurationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Error()
	}
	return "configuration validation failed: " + strings.Join(msgs, "; ")
}

// Validate checks the whole configuration.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.validateServer(result)
	c.validateSession(result)
	c.validateSMTP(result)
	c.validateFlows(result)
	c.validateHandlers(result)
	return result
}

func (c *Config) validateServer(result *ValidationResult) {
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		result.AddError("server.listen", c.Server.Listen, "must be host:port")
	}
	if c.Server.MaxRequestSize <= 0 {
		result.AddError("server.max_request_size", c.Server.MaxRequestSize, "must be positive")
	}
	if c.Server.BaseURL != "" {
		u, err := url.Parse(c.Server.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			result.AddError("server.base_url", c.Server.BaseURL, "must be an absolute URL")
		}
	}
	if c.Server.RateLimit < 0 {
		result.AddError("server.rate_limit", c.Server.RateLimit, "must not be negative")
	}
	validateDuration(result, "server.shutdown_timeout", c.Server.ShutdownTimeout)
}

func (c *Config) validateSession(result *ValidationResult) {
	validateDuration(result, "session.ttl", c.Session.TTL)
	if c.Session.CookieName == "" {
		result.AddError("session.cookie_name", c.Session.CookieName, "is required")
	}
	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			result.AddError("session.redis_addr", c.Session.RedisAddr, "is required for the redis store")
		}
	case "memcached":
		if len(c.Session.MemcachedServers) == 0 {
			result.AddError("session.memcached_servers", nil, "at least one server is required for the memcached store")
		}
	case "postgres":
		if c.Database.URL == "" {
			result.AddError("database.url", "", "is required for the postgres store")
		}
	default:
		result.AddError("session.store", c.Session.Store, "must be memory, redis, memcached or postgres")
	}
	if c.Session.Secret == "" {
		result.AddWarning("session.secret", "", "not set, using the development secret")
	} else if len(c.Session.Secret) < 32 {
		result.AddError("session.secret", len(c.Session.Secret), "must be at least 32 bytes")
	}
}

func (c *Config) validateSMTP(result *ValidationResult) {
	switch c.SMTP.Transport {
	case "log":
	case "smtp":
		if _, _, err := net.SplitHostPort(c.SMTP.Addr); err != nil {
			result.AddError("smtp.addr", c.SMTP.Addr, "must be host:port")
		}
		validateDuration(result, "smtp.breaker_timeout", c.SMTP.BreakerTimeout)
	default:
		result.AddError("smtp.transport", c.SMTP.Transport, "must be smtp or log")
	}
}

func (c *Config) validateFlows(result *ValidationResult) {
	seen := map[string]bool{}
	for i, f := range c.Flows {
		field := fmt.Sprintf("flows[%d]", i)
		switch f.Name {
		case "":
			result.AddError(field+".name", f.Name, "is required")
		case "captcha", "captcha-play":
			result.AddError(field+".name", f.Name, "is reserved")
		}
		if seen[f.Name] {
			result.AddError(field+".name", f.Name, "is duplicated")
		}
		seen[f.Name] = true
		handlerID := f.Handler
		if handlerID == "" {
			handlerID = f.Name
		}
		if _, ok := c.Handlers[handlerID]; !ok {
			result.AddError(field+".handler", handlerID, "no such handler")
		}
		if f.FormURL == "" {
			result.AddError(field+".form_url", f.FormURL, "is required")
		}
		if f.SuccessURL == "" {
			result.AddError(field+".success_url", f.SuccessURL, "is required")
		}
	}
}

func (c *Config) validateHandlers(result *ValidationResult) {
	for id, h := range c.Handlers {
		field := "handlers." + id
		if _, err := mail.ParseAddress(h.Sender); err != nil {
			result.AddError(field+".sender", h.Sender, "must be a mail address")
		}
		if len(h.Recipients) == 0 {
			result.AddError(field+".recipients", nil, "at least one recipient is required")
		}
		for _, r := range h.Recipients {
			if _, err := mail.ParseAddress(r); err != nil {
				result.AddError(field+".recipients", r, "must be a mail address")
			}
		}
		if h.Template == "" {
			result.AddError(field+".template", h.Template, "is required")
		}
		if err := h.Attachments.Model().Validate(); err != nil {
			result.AddError(field+".attachments", nil, err.Error())
		}
	}
}

func validateDuration(result *ValidationResult, field, value string) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err != nil || d <= 0 {
		result.AddError(field, value, "must be a positive duration")
	}
}
