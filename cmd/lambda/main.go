// Command lambda serves the mailer endpoint behind an API Gateway proxy integration.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/mirsubmit/backend/internal/app"
	"github.com/mirsubmit/backend/internal/config"
	"github.com/mirsubmit/backend/internal/logging"
)

func main() {
	cfg, err := config.Load(os.Getenv("MAILER_CONFIG"))
	if err != nil {
		logging.Fatal("failed to load configuration", "error", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if cfg.Session.Store == "memory" {
		slog.Warn("memory session store is per function instance, captchas may not survive between requests")
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		logging.Fatal("failed to start", "error", err)
	}
	defer a.Close()

	lambda.Start(newProxy(a.Handler).Handle)
}
