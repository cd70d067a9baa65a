package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the Castellan system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// DeploymentID is the associated deployment ID, if applicable.
	DeploymentID string `json:"deployment_id,omitempty"`

	// Stage is the associated pipeline stage, if applicable.
	Stage string `json:"stage,omitempty"`

	// Resource is the associated resource path, if applicable.
	Resource string `json:"resource,omitempty"`

	// RuleID is the associated detection rule, if applicable.
	RuleID string `json:"rule_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeDeploymentStarted   = "deployment.started"
	EventTypeDeploymentCompleted = "deployment.completed"
	EventTypeDeploymentFailed    = "deployment.failed"
	EventTypeStageStarted        = "stage.started"
	EventTypeStageCompleted      = "stage.completed"
	EventTypeStageFailed         = "stage.failed"
	EventTypeStageRetried        = "stage.retried"
	EventTypeSettingReconciled   = "setting.reconciled"
	EventTypeRuleDeployed        = "rule.deployed"
	EventTypeRoleBound           = "role.bound"
	EventTypePolicyViolation     = "policy.violation"
	EventTypeError               = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishDeploymentStarted publishes a deployment started event.
func (ep *EventPublisher) PublishDeploymentStarted(deploymentID, scope string) error {
	return ep.Publish(Event{
		Type:         EventTypeDeploymentStarted,
		Source:       "pipeline",
		DeploymentID: deploymentID,
		Message:      fmt.Sprintf("Deployment %s started for scope %s", deploymentID, scope),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"scope": scope,
		},
	})
}

// PublishDeploymentCompleted publishes a deployment completed event.
func (ep *EventPublisher) PublishDeploymentCompleted(deploymentID, outcome string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:         EventTypeDeploymentCompleted,
		Source:       "pipeline",
		DeploymentID: deploymentID,
		Message:      fmt.Sprintf("Deployment %s completed with outcome: %s", deploymentID, outcome),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"outcome":  outcome,
			"duration": duration.Seconds(),
		},
	})
}

// PublishDeploymentFailed publishes a deployment failed event.
func (ep *EventPublisher) PublishDeploymentFailed(deploymentID, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeDeploymentFailed,
		Source:       "pipeline",
		DeploymentID: deploymentID,
		Message:      fmt.Sprintf("Deployment %s failed: %s", deploymentID, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStageStarted publishes a stage started event.
func (ep *EventPublisher) PublishStageStarted(deploymentID, stage string) error {
	return ep.Publish(Event{
		Type:         EventTypeStageStarted,
		Source:       "pipeline",
		DeploymentID: deploymentID,
		Stage:        stage,
		Message:      fmt.Sprintf("Stage %s started", stage),
		Level:        EventLevelInfo,
	})
}

// PublishStageCompleted publishes a stage completed event.
func (ep *EventPublisher) PublishStageCompleted(deploymentID, stage string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:         EventTypeStageCompleted,
		Source:       "pipeline",
		DeploymentID: deploymentID,
		Stage:        stage,
		Message:      fmt.Sprintf("Stage %s completed", stage),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishStageFailed publishes a stage failed event.
func (ep *EventPublisher) PublishStageFailed(deploymentID, stage, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeStageFailed,
		Source:       "pipeline",
		DeploymentID: deploymentID,
		Stage:        stage,
		Message:      fmt.Sprintf("Stage %s failed: %s", stage, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStageRetried publishes a stage retry event after a conflict.
func (ep *EventPublisher) PublishStageRetried(deploymentID, stage, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeStageRetried,
		Source:       "pipeline",
		DeploymentID: deploymentID,
		Stage:        stage,
		Message:      fmt.Sprintf("Stage %s retried after conflict: %s", stage, reason),
		Level:        EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishSettingReconciled publishes a setting reconcile outcome event.
func (ep *EventPublisher) PublishSettingReconciled(deploymentID, resource, status string) error {
	level := EventLevelInfo
	if status == "failed" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:         EventTypeSettingReconciled,
		Source:       "reconciler",
		DeploymentID: deploymentID,
		Resource:     resource,
		Message:      fmt.Sprintf("Setting %s reconciled with status: %s", resource, status),
		Level:        level,
		Data: map[string]interface{}{
			"status": status,
		},
	})
}

// PublishRuleDeployed publishes a rule deployment outcome event.
func (ep *EventPublisher) PublishRuleDeployed(deploymentID, ruleID, outcome string) error {
	level := EventLevelInfo
	if outcome == "error" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:         EventTypeRuleDeployed,
		Source:       "rule_deployer",
		DeploymentID: deploymentID,
		RuleID:       ruleID,
		Message:      fmt.Sprintf("Rule %s resolved with outcome: %s", ruleID, outcome),
		Level:        level,
		Data: map[string]interface{}{
			"outcome": outcome,
		},
	})
}

// PublishRoleBound publishes a role binding event.
func (ep *EventPublisher) PublishRoleBound(deploymentID, scope, principalID, roleID string) error {
	return ep.Publish(Event{
		Type:         EventTypeRoleBound,
		Source:       "role_binder",
		DeploymentID: deploymentID,
		Resource:     scope,
		Message:      fmt.Sprintf("Role %s bound to principal %s", roleID, principalID),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"principal_id":       principalID,
			"role_definition_id": roleID,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(deploymentID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypePolicyViolation,
		Source:       "policy_engine",
		DeploymentID: deploymentID,
		Message:      fmt.Sprintf("Policy violation: %s - %s", policyName, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Trigger flush by draining buffer
			// This is handled by the processEvents goroutine
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByDeploymentID creates a filter that only allows events for a specific deployment.
func FilterByDeploymentID(deploymentID string) EventFilter {
	return func(event Event) bool {
		return event.DeploymentID == deploymentID
	}
}

// FilterByStage creates a filter that only allows events for a specific stage.
func FilterByStage(stage string) EventFilter {
	return func(event Event) bool {
		return event.Stage == stage
	}
}
