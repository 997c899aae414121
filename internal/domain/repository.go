package domain

import (
	"context"
	"time"
)

// Repository defines the interface for configuration reads and audit
// writes. All methods require tenantID for strict multi-tenancy
// isolation. Configuration entities are authored externally and are
// read-only here; the only conditional write into configuration is the
// list-item auto-insert performed by "In List" validation.
type Repository interface {
	// Configuration snapshot
	LoadTenantConfig(ctx context.Context, tenantID string) (*TenantConfig, error)

	// Managed lists (read + conditional insert)
	GetManagedList(ctx context.Context, tenantID string, name string) (*ManagedList, error)
	GetListItem(ctx context.Context, tenantID string, listID int64, value string) (*ListItem, error)
	ListItems(ctx context.Context, tenantID string, listID int64) ([]ListItem, error)
	InsertListItem(ctx context.Context, tenantID string, item *ListItem) error

	// Decision audit
	SaveEvaluation(ctx context.Context, tenantID string, eval *EvaluationHistory) error
	FinalizeEvaluation(ctx context.Context, tenantID string, eval *EvaluationHistory) error
	GetEvaluation(ctx context.Context, tenantID string, evalID string) (*EvaluationHistory, error)

	// External call audit
	SaveAPICallAudit(ctx context.Context, tenantID string, audit *APICallAudit) error
	ListAPICallAudits(ctx context.Context, tenantID string, requestID string) ([]APICallAudit, error)

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
