package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

// Store defines the persistence layer for the orchestration engine. It is
// the orchestrator's Store contract plus lifecycle, registry management, and
// the queries used by the CLI and the timeout watcher.
type Store interface {
	orchestrator.Store

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Registry management
	UpsertServiceDefinition(ctx context.Context, def *orchestrator.ServiceDefinition) error

	// Queue management
	CreateMissionQueue(ctx context.Context, q *orchestrator.MissionQueue) error

	// Inspection
	ListWorkProcesses(ctx context.Context, limit, offset int) ([]*orchestrator.WorkProcess, error)

	// Watcher support: pending service requests whose result_timeout elapsed.
	ListTimedOutServiceRequests(ctx context.Context) ([]*orchestrator.ServiceRequest, error)

	// Notification outbox polled by the serve loop.
	AppendNotification(ctx context.Context, n orchestrator.Notification) error
	ListPendingNotifications(ctx context.Context, limit int) ([]orchestrator.Notification, error)
	MarkNotificationHandled(ctx context.Context, id string) error
}

// marshalPayload serializes a payload to its JSON column value. Nil payloads
// are stored as NULL.
func marshalPayload(p orchestrator.Payload) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// unmarshalPayload deserializes a JSON column value into a payload.
func unmarshalPayload(ns sql.NullString) (orchestrator.Payload, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var p orchestrator.Payload
	if err := json.Unmarshal([]byte(ns.String), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return p, nil
}

// marshalStringList serializes an id list to its JSON column value.
func marshalStringList(list []string) (sql.NullString, error) {
	if list == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal id list: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// unmarshalStringList deserializes a JSON column value into an id list.
func unmarshalStringList(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(ns.String), &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal id list: %w", err)
	}
	return list, nil
}

// statusPlaceholders renders the "?, ?, ?" fragment for a status IN clause.
func statusPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	s := "?"
	for i := 1; i < n; i++ {
		s += ", ?"
	}
	return s
}
