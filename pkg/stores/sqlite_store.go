package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// CreateDeployment creates a new deployment record
func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *Deployment) error {
	query := `
		INSERT INTO deployments (
			id, correlation_id, scope, workspace_path, status,
			started_at, finished_at, error, manifest_summary, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID,
		d.CorrelationID,
		d.Scope,
		d.WorkspacePath,
		d.Status,
		d.StartedAt,
		d.FinishedAt,
		d.Error,
		d.ManifestSummary,
		d.CreatedAt,
		d.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	return nil
}

// GetDeployment retrieves a deployment by ID
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	query := `
		SELECT id, correlation_id, scope, workspace_path, status,
			   started_at, finished_at, error, manifest_summary, created_at, updated_at
		FROM deployments
		WHERE id = ?
	`

	d := &Deployment{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID,
		&d.CorrelationID,
		&d.Scope,
		&d.WorkspacePath,
		&d.Status,
		&d.StartedAt,
		&d.FinishedAt,
		&d.Error,
		&d.ManifestSummary,
		&d.CreatedAt,
		&d.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deployment not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	return d, nil
}

// UpdateDeploymentStatus updates the status of a deployment
func (s *SQLiteStore) UpdateDeploymentStatus(ctx context.Context, id string, status DeploymentStatus, errMsg, manifestSummary *string) error {
	query := `
		UPDATE deployments
		SET status = ?, error = ?, manifest_summary = COALESCE(?, manifest_summary),
			finished_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	var finishedAt *time.Time
	if status != DeploymentStatusRunning {
		now := time.Now().UTC()
		finishedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, manifestSummary, finishedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update deployment status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("deployment not found: %s", id)
	}

	return nil
}

// ListDeployments lists deployments with pagination
func (s *SQLiteStore) ListDeployments(ctx context.Context, limit, offset int) ([]*Deployment, error) {
	query := `
		SELECT id, correlation_id, scope, workspace_path, status,
			   started_at, finished_at, error, manifest_summary, created_at, updated_at
		FROM deployments
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*Deployment{}
	for rows.Next() {
		d := &Deployment{}
		err := rows.Scan(
			&d.ID,
			&d.CorrelationID,
			&d.Scope,
			&d.WorkspacePath,
			&d.Status,
			&d.StartedAt,
			&d.FinishedAt,
			&d.Error,
			&d.ManifestSummary,
			&d.CreatedAt,
			&d.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	return deployments, nil
}

// DeleteDeployment deletes a deployment by ID
func (s *SQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	query := `DELETE FROM deployments WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("deployment not found: %s", id)
	}

	return nil
}

// CreateStageRecord creates a new stage record
func (s *SQLiteStore) CreateStageRecord(ctx context.Context, sr *StageRecord) error {
	query := `
		INSERT INTO stage_records (
			deployment_id, stage, status, retried, detail, outcomes, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		sr.DeploymentID,
		sr.Stage,
		sr.Status,
		sr.Retried,
		sr.Detail,
		sr.Outcomes,
		sr.DurationMS,
		sr.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create stage record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get stage record ID: %w", err)
	}

	sr.ID = id
	return nil
}

// ListStageRecordsByDeployment lists all stage records for a deployment
func (s *SQLiteStore) ListStageRecordsByDeployment(ctx context.Context, deploymentID string) ([]*StageRecord, error) {
	query := `
		SELECT id, deployment_id, stage, status, retried, detail, outcomes, duration_ms, created_at
		FROM stage_records
		WHERE deployment_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage records: %w", err)
	}
	defer rows.Close()

	records := []*StageRecord{}
	for rows.Next() {
		sr := &StageRecord{}
		err := rows.Scan(
			&sr.ID,
			&sr.DeploymentID,
			&sr.Stage,
			&sr.Status,
			&sr.Retried,
			&sr.Detail,
			&sr.Outcomes,
			&sr.DurationMS,
			&sr.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage record: %w", err)
		}
		records = append(records, sr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stage records: %w", err)
	}

	return records, nil
}

// CreateRuleRecords inserts rule outcomes in one transaction
func (s *SQLiteStore) CreateRuleRecords(ctx context.Context, records []*RuleRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `
		INSERT INTO rule_records (deployment_id, rule_id, outcome, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	for _, r := range records {
		result, err := tx.ExecContext(ctx, query,
			r.DeploymentID,
			r.RuleID,
			r.Outcome,
			r.Message,
			r.CreatedAt,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to create rule record: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to get rule record ID: %w", err)
		}
		r.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule records: %w", err)
	}
	return nil
}

// ListRuleRecordsByDeployment lists all rule outcomes for a deployment
func (s *SQLiteStore) ListRuleRecordsByDeployment(ctx context.Context, deploymentID string) ([]*RuleRecord, error) {
	query := `
		SELECT id, deployment_id, rule_id, outcome, message, created_at
		FROM rule_records
		WHERE deployment_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule records: %w", err)
	}
	defer rows.Close()

	records := []*RuleRecord{}
	for rows.Next() {
		r := &RuleRecord{}
		err := rows.Scan(
			&r.ID,
			&r.DeploymentID,
			&r.RuleID,
			&r.Outcome,
			&r.Message,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule record: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule records: %w", err)
	}

	return records, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (deployment_id, stage, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.DeploymentID,
		event.Stage,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters and pagination
func (s *SQLiteStore) GetEvents(ctx context.Context, deploymentID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, deployment_id, stage, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR deployment_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID, deploymentID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.DeploymentID,
			&event.Stage,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// UpsertSettingState inserts or updates the last observed state of a resource
func (s *SQLiteStore) UpsertSettingState(ctx context.Context, state *SettingState) error {
	query := `
		INSERT INTO setting_states (
			id, resource_path, kind, status, detail, last_deployment_id, last_applied, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_path) DO UPDATE SET
			kind = excluded.kind,
			status = excluded.status,
			detail = excluded.detail,
			last_deployment_id = excluded.last_deployment_id,
			last_applied = excluded.last_applied,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		state.ID,
		state.ResourcePath,
		state.Kind,
		state.Status,
		state.Detail,
		state.LastDeploymentID,
		state.LastApplied,
		state.CreatedAt,
		state.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert setting state: %w", err)
	}

	return nil
}

// GetSettingState retrieves the last observed state for a resource path
func (s *SQLiteStore) GetSettingState(ctx context.Context, resourcePath string) (*SettingState, error) {
	query := `
		SELECT id, resource_path, kind, status, detail, last_deployment_id, last_applied, created_at, updated_at
		FROM setting_states
		WHERE resource_path = ?
	`

	state := &SettingState{}
	err := s.db.QueryRowContext(ctx, query, resourcePath).Scan(
		&state.ID,
		&state.ResourcePath,
		&state.Kind,
		&state.Status,
		&state.Detail,
		&state.LastDeploymentID,
		&state.LastApplied,
		&state.CreatedAt,
		&state.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("setting state not found: %s", resourcePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting state: %w", err)
	}

	return state, nil
}

// ListSettingStates lists setting states with pagination
func (s *SQLiteStore) ListSettingStates(ctx context.Context, limit, offset int) ([]*SettingState, error) {
	query := `
		SELECT id, resource_path, kind, status, detail, last_deployment_id, last_applied, created_at, updated_at
		FROM setting_states
		ORDER BY last_applied DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list setting states: %w", err)
	}
	defer rows.Close()

	states := []*SettingState{}
	for rows.Next() {
		state := &SettingState{}
		err := rows.Scan(
			&state.ID,
			&state.ResourcePath,
			&state.Kind,
			&state.Status,
			&state.Detail,
			&state.LastDeploymentID,
			&state.LastApplied,
			&state.CreatedAt,
			&state.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan setting state: %w", err)
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating setting states: %w", err)
	}

	return states, nil
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
