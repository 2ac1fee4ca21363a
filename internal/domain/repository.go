// Package domain defines the core types and collaborator interfaces for caretrust.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
// List operations return records ordered by time ascending.
type Repository interface {
	// Profile operations
	SaveProfile(ctx context.Context, tenantID string, p *CaregiverProfile) error
	GetProfile(ctx context.Context, tenantID string, subjectID string) (*CaregiverProfile, error)
	ListSubjects(ctx context.Context, tenantID string) ([]string, error)

	// Activity operations
	SaveActivity(ctx context.Context, tenantID string, a *ActivityRecord) error
	GetActivity(ctx context.Context, tenantID string, activityID string) (*ActivityRecord, error)
	ListActivities(ctx context.Context, tenantID string, subjectID string, since time.Time, limit int) ([]*ActivityRecord, error)

	// Testimony operations
	SaveTestimony(ctx context.Context, tenantID string, t *TestimonyRecord) error
	ListTestimonies(ctx context.Context, tenantID string, subjectID string, limit int) ([]*TestimonyRecord, error)
	ListTestimoniesSince(ctx context.Context, tenantID string, since time.Time, limit int) ([]*TestimonyRecord, error)

	// Score history
	SaveScore(ctx context.Context, tenantID string, s *ScoreResult) error
	LatestScore(ctx context.Context, tenantID string, subjectID string) (*ScoreResult, error)
	ListScores(ctx context.Context, tenantID string, subjectID string, limit int) ([]*ScoreResult, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific. PostgresDSN, when set, replaces the fields below.
	PostgresDSN      string `mapstructure:"postgres_dsn"`
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
