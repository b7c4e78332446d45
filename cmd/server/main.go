// Package main provides the entry point for the CrawlForge API server
//
// @title CrawlForge API
// @version 0.4.0
// @description Control plane for distributed image-collection crawl jobs
// @host localhost:4100
// @BasePath /
// @schemes http https
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Bearer token (format: "Bearer <token>")
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/crawlforge/crawlforge/domain/activity"
	"github.com/crawlforge/crawlforge/domain/cleanup"
	"github.com/crawlforge/crawlforge/domain/health"
	"github.com/crawlforge/crawlforge/domain/jobs"
	"github.com/crawlforge/crawlforge/domain/projects"
	"github.com/crawlforge/crawlforge/domain/quota"
	"github.com/crawlforge/crawlforge/domain/scheduler"
	"github.com/crawlforge/crawlforge/domain/users"
	"github.com/crawlforge/crawlforge/internal/config"
	"github.com/crawlforge/crawlforge/internal/database"
	"github.com/crawlforge/crawlforge/internal/migrate"
	"github.com/crawlforge/crawlforge/internal/server"
	"github.com/crawlforge/crawlforge/internal/storage"
	"github.com/crawlforge/crawlforge/internal/taskqueue"
	"github.com/crawlforge/crawlforge/pkg/auth"
	"github.com/crawlforge/crawlforge/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		storage.Module,
		taskqueue.Module,

		// Auth module
		auth.Module,

		// Domain modules
		users.Module,
		activity.Module,
		quota.Module,
		projects.Module,
		jobs.Module,
		cleanup.Module,
		health.Module,

		// Scheduler module (cron-based cleanup and queue maintenance)
		scheduler.Module,

		// HTTP server (routes, middleware, lifecycle)
		server.Module,
	).Run()
}
