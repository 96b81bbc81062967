// Package app wires configuration into the HTTP handler tree.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mirsubmit/backend/internal/config"
	"github.com/mirsubmit/backend/internal/handler"
	"github.com/mirsubmit/backend/internal/mailer"
	"github.com/mirsubmit/backend/internal/metrics"
	"github.com/mirsubmit/backend/internal/repository"
	"github.com/mirsubmit/backend/internal/service"
	"github.com/mirsubmit/backend/internal/storage"
	"github.com/mirsubmit/backend/pkg/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// memoryCleanupInterval is how often the in-process session store drops expired slots.
const memoryCleanupInterval = time.Minute

// App is the assembled service.
type App struct {
	Handler  http.Handler
	Sessions repository.SessionStore
	Registry *prometheus.Registry

	pool    *pgxpool.Pool
	closers []func()
}

// New builds every component named by cfg. Connections to external stores
// are opened and pinged here, so a misconfigured store fails at startup.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.Registry)

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if cfg.Database.URL != "" {
		pool, err := repository.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
	}

	sessions, err := a.openSessionStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	a.Sessions = sessions

	delivery := NewDelivery(cfg.SMTP, cfg.BreakerTimeout(), m)
	stager := storage.NewLocalStager()

	registry := service.NewHandlerRegistry()
	for id, hc := range cfg.Handlers {
		h, err := NewMailHandler(hc, stager, delivery, m)
		if err != nil {
			return nil, fmt.Errorf("handler %q: %w", id, err)
		}
		if err := registry.Register(id, h); err != nil {
			return nil, err
		}
	}

	var audit *service.AuditService
	if a.pool != nil {
		audit = service.NewAuditService(repository.NewPgSubmissionLogRepository(a.pool))
	} else {
		audit = service.NewAuditService(nil)
	}

	captchaSvc := service.NewCaptchaService(service.NewChallengeStore(sessions), service.CaptchaOptions{
		Length:    cfg.Captcha.Length,
		Width:     cfg.Captcha.Width,
		Height:    cfg.Captcha.Height,
		AudioLang: cfg.Captcha.AudioLang,
	})
	mailerHandler := handler.NewMailerHandler(captchaSvc, registry, audit, m, MailerConfig(cfg))

	var mailerRoute http.Handler = auth.VisitorSession(auth.CookieConfig{
		Name:   cfg.Session.CookieName,
		Secret: cfg.SessionSecretBytes(),
		Secure: cfg.Session.SecureCookie,
	})(mailerHandler)
	if cfg.Server.RateLimit > 0 {
		trusted := 0
		if cfg.Server.TrustProxy {
			trusted = 1
		}
		limiter := handler.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, trusted)
		a.closers = append(a.closers, limiter.Close)
		mailerRoute = limiter.Middleware(mailerRoute)
	}

	var db handler.Pinger
	if a.pool != nil {
		db = a.pool
	}
	health := handler.New(sessions, db)

	r := mux.NewRouter()
	r.Use(handler.RequestLogger, handler.SecurityHeaders)
	r.HandleFunc("/api/health", health.Health).Methods(http.MethodGet)
	if cfg.Server.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.Handle("/mailer", mailerRoute).Methods(http.MethodGet, http.MethodPost)
	a.Handler = r

	ok = true
	return a, nil
}

func (a *App) openSessionStore(ctx context.Context, cfg *config.Config) (repository.SessionStore, error) {
	ttl := cfg.SessionTTL()
	switch cfg.Session.Store {
	case "memory":
		store := repository.NewMemorySessionStore(ttl, memoryCleanupInterval)
		a.closers = append(a.closers, func() { _ = store.Close() })
		return store, nil
	case "redis":
		client, err := repository.DialRedis(ctx, cfg.Session.RedisAddr, cfg.Session.RedisPassword, cfg.Session.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return repository.NewRedisSessionStore(client, ttl), nil
	case "memcached":
		store := repository.NewMemcachedSessionStore(ttl, cfg.Session.MemcachedServers...)
		if err := store.Ping(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		if a.pool == nil {
			return nil, errors.New("postgres store requires database.url")
		}
		store := repository.NewPgSessionStore(a.pool, ttl)
		a.closers = append(a.closers, a.purgeLoop(store, ttl))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Session.Store)
	}
}

// purgeLoop deletes expired postgres session rows once per TTL and returns its stop func.
func (a *App) purgeLoop(store *repository.PgSessionStore, every time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := store.PurgeExpired(ctx)
				if err != nil {
					slog.Warn("failed to purge expired sessions", "error", err)
					continue
				}
				if n > 0 {
					slog.Debug("purged expired sessions", "count", n)
				}
			}
		}
	}()
	return cancel
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// NewDelivery builds the outbound transport. The SMTP transport is wrapped in
// a circuit breaker; both are instrumented.
func NewDelivery(cfg config.SMTPConfig, breakerTimeout time.Duration, m *metrics.Metrics) mailer.Delivery {
	if cfg.Transport != "smtp" {
		return mailer.Instrument(mailer.LogDelivery{}, m)
	}
	bc := mailer.DefaultBreakerConfig()
	bc.Timeout = breakerTimeout
	if cfg.BreakerFailures > 0 {
		bc.ConsecutiveFailures = cfg.BreakerFailures
	}
	smtpDelivery := mailer.NewSMTPDelivery(mailer.SMTPConfig{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	return mailer.Instrument(mailer.NewBreakerDelivery(smtpDelivery, bc), m)
}

// NewMailHandler builds a mail submission handler from its configuration.
func NewMailHandler(hc config.HandlerConfig, stager storage.Stager, delivery mailer.Delivery, m *metrics.Metrics) (*service.MailSubmissionHandler, error) {
	tmpl, err := service.LoadTemplate(hc.Template)
	if err != nil {
		return nil, &config.ConfigurationError{Issues: []config.ValidationIssue{{
			Field: "template", Value: hc.Template, Message: err.Error(),
		}}}
	}
	return service.NewMailSubmissionHandler(service.MailHandlerConfig{
		Sender:         hc.Sender,
		Recipients:     hc.Recipients,
		Subject:        hc.Subject,
		Renderer:       service.NewTemplateRenderer(tmpl),
		RequiredFields: hc.RequiredFields,
		Attachments:    hc.Attachments.Model(),
	}, stager, delivery, m)
}

// MailerConfig maps the server and flow settings onto the endpoint. Relative
// form and success URLs are resolved against server.base_url.
func MailerConfig(cfg *config.Config) handler.MailerConfig {
	mc := handler.MailerConfig{
		UnknownActionRedirect: resolveURL(cfg.Server.BaseURL, cfg.Server.UnknownActionRedirect),
		DisallowedDomains:     cfg.Mailer.DisallowedDomains,
		MaxRequestSize:        cfg.Server.MaxRequestSize,
		AllowedRedirectHosts:  append([]string(nil), cfg.Server.AllowedRedirectHosts...),
	}
	if u, err := url.Parse(cfg.Server.BaseURL); err == nil && u.Host != "" {
		mc.AllowedRedirectHosts = append(mc.AllowedRedirectHosts, u.Host)
	}
	for _, f := range cfg.Flows {
		handlerID := f.Handler
		if handlerID == "" {
			handlerID = f.Name
		}
		mc.Flows = append(mc.Flows, handler.Flow{
			Name:           f.Name,
			Handler:        handlerID,
			RequireCaptcha: f.RequireCaptcha,
			FormURL:        resolveURL(cfg.Server.BaseURL, f.FormURL),
			SuccessURL:     resolveURL(cfg.Server.BaseURL, f.SuccessURL),
		})
	}
	return mc
}

func resolveURL(base, ref string) string {
	if base == "" || ref == "" || !strings.HasPrefix(ref, "/") {
		return ref
	}
	return strings.TrimRight(base, "/") + ref
}
