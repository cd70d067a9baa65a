package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/castellan-io/castellan/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	// Create store configuration
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	// Store is now ready to use
	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_CreateDeployment demonstrates creating a new deployment record.
func ExampleSQLiteStore_CreateDeployment() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	// Create a new deployment
	deployment := &stores.Deployment{
		ID:            "dep-001",
		CorrelationID: "deploy-tag-1234",
		Scope:         "/subscriptions/s1/resourceGroups/rg1",
		WorkspacePath: "/workspaces/prod-sec",
		Status:        stores.DeploymentStatusRunning,
		StartedAt:     time.Now(),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := store.CreateDeployment(ctx, deployment); err != nil {
		log.Fatal(err)
	}

	// Retrieve the deployment
	retrieved, err := store.GetDeployment(ctx, "dep-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Deployment ID: %s, Status: %s\n", retrieved.ID, retrieved.Status)
	// Output: Deployment ID: dep-001, Status: running
}

// ExampleSQLiteStore_UpsertSettingState demonstrates tracking reconciled settings.
func ExampleSQLiteStore_UpsertSettingState() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	// Upsert setting state (insert)
	state := &stores.SettingState{
		ID:               "ss-001",
		ResourcePath:     "/workspaces/prod-sec/settings/Ueba",
		Kind:             "Ueba",
		Status:           "configured",
		LastDeploymentID: "dep-001",
		LastApplied:      time.Now(),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	if err := store.UpsertSettingState(ctx, state); err != nil {
		log.Fatal(err)
	}

	// Get the state
	retrieved, err := store.GetSettingState(ctx, "/workspaces/prod-sec/settings/Ueba")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Setting: %s, Status: %s\n", retrieved.Kind, retrieved.Status)
	// Output: Setting: Ueba, Status: configured
}

// ExampleSQLiteStore_AppendEvent demonstrates logging events.
func ExampleSQLiteStore_AppendEvent() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	// Create a deployment
	deployment := &stores.Deployment{
		ID:            "dep-003",
		CorrelationID: "deploy-tag-5678",
		Scope:         "/subscriptions/s1/resourceGroups/rg1",
		WorkspacePath: "/workspaces/prod-sec",
		Status:        stores.DeploymentStatusRunning,
		StartedAt:     time.Now(),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	_ = store.CreateDeployment(ctx, deployment)

	// Log an event
	details := `{"stage":"infrastructure"}`
	event := &stores.Event{
		DeploymentID: &deployment.ID,
		Level:        stores.EventLevelInfo,
		Message:      "Starting deployment",
		Details:      &details,
		Timestamp:    time.Now(),
	}

	if err := store.AppendEvent(ctx, event); err != nil {
		log.Fatal(err)
	}

	// Retrieve events
	events, err := store.GetEvents(ctx, &deployment.ID, nil, 10, 0)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Event count: %d, Message: %s\n", len(events), events[0].Message)
	// Output: Event count: 1, Message: Starting deployment
}

// ExampleSQLiteStore_BeginTx demonstrates using transactions.
func ExampleSQLiteStore_BeginTx() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	// Begin transaction
	tx, err := store.BeginTx(ctx)
	if err != nil {
		log.Fatal(err)
	}

	// Perform operations within transaction
	query := `
		INSERT INTO deployments (id, correlation_id, scope, workspace_path, status, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	_, err = tx.ExecContext(ctx, query, "dep-tx-001", "deploy-tag-9999",
		"/subscriptions/s1/resourceGroups/rg1", "/workspaces/prod-sec", "running", now, now, now)

	if err != nil {
		_ = store.RollbackTx(tx)
		log.Fatal(err)
	}

	// Commit transaction
	if err := store.CommitTx(tx); err != nil {
		log.Fatal(err)
	}

	// Verify deployment was created
	deployment, err := store.GetDeployment(ctx, "dep-tx-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Transaction committed: Deployment %s created\n", deployment.ID)
	// Output: Transaction committed: Deployment dep-tx-001 created
}
