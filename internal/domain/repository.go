// Package domain defines the core interfaces and types for CallGuard.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Call operations
	SaveCall(ctx context.Context, tenantID string, call *CallRecord) error
	GetCall(ctx context.Context, tenantID string, callID string) (*CallRecord, error)
	CountCallsByCaller(ctx context.Context, tenantID string, callerNumber string, since time.Time) (int64, error)

	// Detection rule operations
	SaveRule(ctx context.Context, tenantID string, rule *DetectionRule) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*DetectionRule, error)
	ListActiveRules(ctx context.Context, tenantID string) ([]*DetectionRule, error)
	DeleteRule(ctx context.Context, tenantID string, ruleID string) error

	// Analysis results
	SaveAnalysis(ctx context.Context, tenantID string, analysis *Analysis) error
	GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*Analysis, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
