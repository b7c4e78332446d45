package config

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"

	"github.com/crawlforge/crawlforge/pkg/mathutil"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"4100"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// SchedulerEnabled controls the periodic cleanup and queue
	// maintenance tasks
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`

	Database DatabaseConfig
	Storage  StorageConfig
	Auth     AuthConfig
	Queue    QueueConfig
	Resource ResourceConfig
	Cleanup  CleanupConfig
	Tiers    TierConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"crawlforge"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"crawlforge"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// StorageConfig holds object store (MinIO/S3) settings. When Endpoint is
// empty the local filesystem provider rooted at LocalRoot is used.
type StorageConfig struct {
	Endpoint   string        `env:"STORAGE_ENDPOINT" envDefault:""`
	AccessKey  string        `env:"STORAGE_ACCESS_KEY" envDefault:""`
	SecretKey  string        `env:"STORAGE_SECRET_KEY" envDefault:""`
	Region     string        `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket     string        `env:"STORAGE_BUCKET" envDefault:"crawlforge"`
	LocalRoot  string        `env:"STORAGE_LOCAL_ROOT" envDefault:"/var/lib/crawlforge/objects"`
	PresignTTL time.Duration `env:"STORAGE_PRESIGN_TTL" envDefault:"1h"`
}

// UseS3 returns true if the S3 provider is configured
func (s *StorageConfig) UseS3() bool {
	return s.Endpoint != "" && s.AccessKey != "" && s.SecretKey != ""
}

// AuthConfig holds token verification settings
type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens (HS256)
	JWTSecret string `env:"AUTH_JWT_SECRET" envDefault:""`
	// DebugToken bypasses verification in local development
	DebugToken string `env:"AUTH_DEBUG_TOKEN" envDefault:""`
}

// QueueConfig holds durable task queue settings
type QueueConfig struct {
	Name                string        `env:"QUEUE_NAME" envDefault:"crawl"`
	MaxAttempts         int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3"`
	BaseRetryDelaySec   int           `env:"QUEUE_BASE_RETRY_DELAY_SEC" envDefault:"60"`
	MaxRetryDelaySec    int           `env:"QUEUE_MAX_RETRY_DELAY_SEC" envDefault:"3600"`
	StaleThreshold      time.Duration `env:"QUEUE_STALE_THRESHOLD" envDefault:"30m"`
	MaintenanceInterval time.Duration `env:"QUEUE_MAINTENANCE_INTERVAL" envDefault:"5m"`
}

// ResourceConfig holds the process-wide scheduling limits. All chunk
// admission math derives from these values.
type ResourceConfig struct {
	// MaxConcurrentChunks is the configured global chunk ceiling
	MaxConcurrentChunks int `env:"RESOURCE_MAX_CONCURRENT_CHUNKS" envDefault:"35"`
	// MaxTempStorageMB is the temp-storage budget in megabytes
	MaxTempStorageMB int `env:"RESOURCE_MAX_TEMP_STORAGE_MB" envDefault:"51200"`
	// ChunkSizeImages is the number of images per chunk
	ChunkSizeImages int `env:"RESOURCE_CHUNK_SIZE_IMAGES" envDefault:"500"`
	// EstimatedImageSizeMB is the planning estimate for one image
	EstimatedImageSizeMB float64 `env:"RESOURCE_ESTIMATED_IMAGE_SIZE_MB" envDefault:"0.5"`
	// StorageSafetyMargin is the fraction of the budget held back (0..0.5)
	StorageSafetyMargin float64 `env:"RESOURCE_STORAGE_SAFETY_MARGIN" envDefault:"0.2"`
}

// EffectiveMaxChunks returns the lesser of the configured ceiling and
// the storage-derived ceiling:
//
//	floor(budget * (1 - margin) / (chunk_size * image_size))
func (r *ResourceConfig) EffectiveMaxChunks() int {
	margin := mathutil.ClampFloat(r.StorageSafetyMargin, 0, 0.5)

	perChunkMB := float64(r.ChunkSizeImages) * r.EstimatedImageSizeMB
	if perChunkMB <= 0 {
		return r.MaxConcurrentChunks
	}

	storageCeiling := int(math.Floor(float64(r.MaxTempStorageMB) * (1 - margin) / perChunkMB))
	return mathutil.MinInt(r.MaxConcurrentChunks, storageCeiling)
}

// CleanupConfig holds temp-storage reclamation thresholds
type CleanupConfig struct {
	// EmergencyThreshold is the usage percentage that triggers emergency cleanup
	EmergencyThreshold float64 `env:"CLEANUP_EMERGENCY_THRESHOLD" envDefault:"95"`
	// WarningThreshold is the usage percentage that logs a warning
	WarningThreshold float64 `env:"CLEANUP_WARNING_THRESHOLD" envDefault:"85"`
	// MaxOrphanAgeHours is the age past which unmapped files are orphans
	MaxOrphanAgeHours int `env:"CLEANUP_MAX_ORPHAN_AGE_HOURS" envDefault:"24"`
	// ScheduledInterval is how often the scheduled trigger runs
	ScheduledInterval time.Duration `env:"CLEANUP_SCHEDULED_INTERVAL" envDefault:"30m"`
}

// TierConfig holds the per-tier numeric limits. Defaults are the
// built-in Free/Pro/Enterprise tables; every value is env-overridable.
type TierConfig struct {
	Free       TierLimits `envPrefix:"TIER_FREE_"`
	Pro        TierLimits `envPrefix:"TIER_PRO_"`
	Enterprise TierLimits `envPrefix:"TIER_ENTERPRISE_"`
}

// TierLimits is the numeric limit set for one pricing tier
type TierLimits struct {
	MaxConcurrentJobs int `env:"MAX_CONCURRENT_JOBS"`
	MaxImagesPerJob   int `env:"MAX_IMAGES_PER_JOB"`
	MaxJobsPerDay     int `env:"MAX_JOBS_PER_DAY"`
	MaxProjects       int `env:"MAX_PROJECTS"`
	MaxTeamMembers    int `env:"MAX_TEAM_MEMBERS"`
}

// defaultTiers are the built-in tier tables
var defaultTiers = TierConfig{
	Free: TierLimits{
		MaxConcurrentJobs: 1,
		MaxImagesPerJob:   1000,
		MaxJobsPerDay:     5,
		MaxProjects:       2,
		MaxTeamMembers:    1,
	},
	Pro: TierLimits{
		MaxConcurrentJobs: 5,
		MaxImagesPerJob:   10000,
		MaxJobsPerDay:     50,
		MaxProjects:       20,
		MaxTeamMembers:    10,
	},
	Enterprise: TierLimits{
		MaxConcurrentJobs: 25,
		MaxImagesPerJob:   50000,
		MaxJobsPerDay:     500,
		MaxProjects:       200,
		MaxTeamMembers:    100,
	},
}

// Limits resolves a tier name to its limit table. Unknown tiers fall
// back to Free.
func (t *TierConfig) Limits(tier string) (string, TierLimits) {
	switch tier {
	case "pro":
		return "pro", t.Pro
	case "enterprise":
		return "enterprise", t.Enterprise
	default:
		return "free", t.Free
	}
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{Tiers: defaultTiers}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// env.Parse zeroes unset tier fields; restore built-ins where the
	// environment did not override.
	restoreTierDefaults(&cfg.Tiers.Free, defaultTiers.Free)
	restoreTierDefaults(&cfg.Tiers.Pro, defaultTiers.Pro)
	restoreTierDefaults(&cfg.Tiers.Enterprise, defaultTiers.Enterprise)

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.Int("effective_max_chunks", cfg.Resource.EffectiveMaxChunks()),
	)

	return cfg, nil
}

func restoreTierDefaults(limits *TierLimits, fallback TierLimits) {
	if limits.MaxConcurrentJobs == 0 {
		limits.MaxConcurrentJobs = fallback.MaxConcurrentJobs
	}
	if limits.MaxImagesPerJob == 0 {
		limits.MaxImagesPerJob = fallback.MaxImagesPerJob
	}
	if limits.MaxJobsPerDay == 0 {
		limits.MaxJobsPerDay = fallback.MaxJobsPerDay
	}
	if limits.MaxProjects == 0 {
		limits.MaxProjects = fallback.MaxProjects
	}
	if limits.MaxTeamMembers == 0 {
		limits.MaxTeamMembers = fallback.MaxTeamMembers
	}
}
