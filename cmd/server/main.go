// Package main provides the entry point for the Nexus CRM sync API server
//
// @title Nexus CRM Sync API
// @version 1.0.0
// @description Synchronizes donors, donations and interactions between Nexus and external CRMs
// @BasePath /
// @schemes http https
//
// @securityDefinitions.apikey apiKey
// @in header
// @name X-API-Key
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/nexus-fundraising/nexus/domain/activity"
	"github.com/nexus-fundraising/nexus/domain/crm/providers"
	"github.com/nexus-fundraising/nexus/domain/crmsync"
	"github.com/nexus-fundraising/nexus/domain/health"
	"github.com/nexus-fundraising/nexus/domain/integrations"
	"github.com/nexus-fundraising/nexus/domain/reconcile"
	"github.com/nexus-fundraising/nexus/domain/scheduler"
	"github.com/nexus-fundraising/nexus/domain/tracing"
	"github.com/nexus-fundraising/nexus/domain/webhooks"
	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/internal/database"
	"github.com/nexus-fundraising/nexus/internal/server"
	"github.com/nexus-fundraising/nexus/internal/storage"
	"github.com/nexus-fundraising/nexus/internal/version"
	"github.com/nexus-fundraising/nexus/pkg/auth"
	"github.com/nexus-fundraising/nexus/pkg/encryption"
	"github.com/nexus-fundraising/nexus/pkg/logger"
	"github.com/nexus-fundraising/nexus/pkg/syshealth"
)

func main() {
	// .env.local takes precedence over .env
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure
		logger.Module,
		config.Module,
		database.Module,
		server.Module,
		tracing.Module,
		auth.Module,
		encryption.Module,
		syshealth.Module,
		storage.Module,

		// CRM adapters and canonical store
		providers.Module,
		reconcile.Module,

		// Domain
		integrations.Module,
		activity.Module,
		webhooks.Module,
		crmsync.Module,
		scheduler.Module,
		health.Module,

		fx.Invoke(func(log *slog.Logger) {
			log.Info("starting nexus crm sync", slog.String("version", version.Get().String()))
		}),
	).Run()
}
