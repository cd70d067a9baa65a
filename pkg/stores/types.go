package stores

import (
	"context"
	"database/sql"
	"time"
)

// DeploymentStatus represents the status of a deployment run
type DeploymentStatus string

const (
	DeploymentStatusRunning        DeploymentStatus = "running"
	DeploymentStatusSuccess        DeploymentStatus = "success"
	DeploymentStatusPartialFailure DeploymentStatus = "partial-failure"
	DeploymentStatusFatal          DeploymentStatus = "fatal"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Deployment represents one pipeline run
type Deployment struct {
	ID            string           `json:"id"`
	CorrelationID string           `json:"correlation_id"`
	Scope         string           `json:"scope"`
	WorkspacePath string           `json:"workspace_path"`
	Status        DeploymentStatus `json:"status"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
	Error         *string          `json:"error,omitempty"`
	// ManifestSummary is the rule deployment summary as a JSON blob.
	ManifestSummary *string   `json:"manifest_summary,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// StageRecord represents one stage execution within a deployment
type StageRecord struct {
	ID           int64  `json:"id"`
	DeploymentID string `json:"deployment_id"`
	Stage        string `json:"stage"`
	Status       string `json:"status"`
	Retried      bool   `json:"retried"`
	Detail       *string `json:"detail,omitempty"`
	// Outcomes is the per-setting outcome list as a JSON blob.
	Outcomes   *string   `json:"outcomes,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RuleRecord represents one rule outcome from a content deployment
type RuleRecord struct {
	ID           int64     `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	RuleID       string    `json:"rule_id"`
	Outcome      string    `json:"outcome"`
	Message      *string   `json:"message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Event represents an append-only log event
type Event struct {
	ID           int64      `json:"id"`
	DeploymentID *string    `json:"deployment_id,omitempty"`
	Stage        *string    `json:"stage,omitempty"`
	Level        EventLevel `json:"level"`
	Message      string     `json:"message"`
	Details      *string    `json:"details,omitempty"` // JSON blob
	Timestamp    time.Time  `json:"timestamp"`
}

// SettingState represents the last observed reconcile outcome for a remote
// resource, kept across deployments so operators can see what the tool
// believes it configured and when.
type SettingState struct {
	ID               string    `json:"id"`
	ResourcePath     string    `json:"resource_path"`
	Kind             string    `json:"kind"`
	Status           string    `json:"status"`
	Detail           *string   `json:"detail,omitempty"`
	LastDeploymentID string    `json:"last_deployment_id"`
	LastApplied      time.Time `json:"last_applied"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "deployment.started", "deployment.finished"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // deployment/resource ID
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Deployment operations
	CreateDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, id string, status DeploymentStatus, errMsg, manifestSummary *string) error
	ListDeployments(ctx context.Context, limit, offset int) ([]*Deployment, error)
	DeleteDeployment(ctx context.Context, id string) error

	// StageRecord operations
	CreateStageRecord(ctx context.Context, sr *StageRecord) error
	ListStageRecordsByDeployment(ctx context.Context, deploymentID string) ([]*StageRecord, error)

	// RuleRecord operations
	CreateRuleRecords(ctx context.Context, records []*RuleRecord) error
	ListRuleRecordsByDeployment(ctx context.Context, deploymentID string) ([]*RuleRecord, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, deploymentID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// SettingState operations
	UpsertSettingState(ctx context.Context, state *SettingState) error
	GetSettingState(ctx context.Context, resourcePath string) (*SettingState, error)
	ListSettingStates(ctx context.Context, limit, offset int) ([]*SettingState, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
