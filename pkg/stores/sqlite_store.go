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

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

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
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

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

// Close closes the database connection.
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

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Work process operations

const workProcessColumns = `id, work_process_type, status, agent_ids, agent_uuids,
	yard_id, yard_uid, mission_queue_id, run_order, on_assignment_failure,
	fallback_mission, data, created_at`

func (s *SQLiteStore) scanWorkProcess(row interface{ Scan(...interface{}) error }) (*orchestrator.WorkProcess, error) {
	wp := &orchestrator.WorkProcess{}
	var agentIDs, agentUUIDs, data sql.NullString
	err := row.Scan(
		&wp.ID,
		&wp.Type,
		&wp.Status,
		&agentIDs,
		&agentUUIDs,
		&wp.YardID,
		&wp.YardUID,
		&wp.MissionQueueID,
		&wp.RunOrder,
		&wp.OnAssignmentFailure,
		&wp.FallbackMission,
		&data,
		&wp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if wp.AgentIDs, err = unmarshalStringList(agentIDs); err != nil {
		return nil, err
	}
	if wp.AgentUUIDs, err = unmarshalStringList(agentUUIDs); err != nil {
		return nil, err
	}
	if wp.Data, err = unmarshalPayload(data); err != nil {
		return nil, err
	}
	return wp, nil
}

// CreateWorkProcess persists a new mission.
func (s *SQLiteStore) CreateWorkProcess(ctx context.Context, wp *orchestrator.WorkProcess) error {
	agentIDs, err := marshalStringList(wp.AgentIDs)
	if err != nil {
		return err
	}
	agentUUIDs, err := marshalStringList(wp.AgentUUIDs)
	if err != nil {
		return err
	}
	data, err := marshalPayload(wp.Data)
	if err != nil {
		return err
	}
	if wp.CreatedAt.IsZero() {
		wp.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO work_processes (` + workProcessColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		wp.ID,
		wp.Type,
		string(orchestrator.NormalizeMissionStatus(wp.Status)),
		agentIDs,
		agentUUIDs,
		wp.YardID,
		wp.YardUID,
		wp.MissionQueueID,
		wp.RunOrder,
		string(wp.OnAssignmentFailure),
		wp.FallbackMission,
		data,
		wp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create work process: %w", err)
	}
	return nil
}

// GetWorkProcess retrieves a mission by id.
func (s *SQLiteStore) GetWorkProcess(ctx context.Context, id string) (*orchestrator.WorkProcess, error) {
	query := `SELECT ` + workProcessColumns + ` FROM work_processes WHERE id = ?`
	wp, err := s.scanWorkProcess(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("work process not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work process: %w", err)
	}
	return wp, nil
}

// UpdateMissionStatus conditionally transitions a mission. It reports whether
// a row changed; zero rows is a concurrency no-op, not an error.
func (s *SQLiteStore) UpdateMissionStatus(ctx context.Context, id string, to orchestrator.MissionStatus, from ...orchestrator.MissionStatus) (bool, error) {
	args := []interface{}{string(orchestrator.NormalizeMissionStatus(to)), id}
	query := `UPDATE work_processes SET status = ? WHERE id = ?`
	if len(from) > 0 {
		query += ` AND status IN (` + statusPlaceholders(len(from)) + `)`
		for _, f := range from {
			args = append(args, string(orchestrator.NormalizeMissionStatus(f)))
		}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update mission status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// SetWorkProcessResolution persists the resolved yard and agent ids.
func (s *SQLiteStore) SetWorkProcessResolution(ctx context.Context, id, yardID string, agentIDs []string) error {
	list, err := marshalStringList(agentIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE work_processes SET yard_id = ?, agent_ids = ? WHERE id = ?`,
		yardID, list, id)
	if err != nil {
		return fmt.Errorf("failed to set work process resolution: %w", err)
	}
	return nil
}

// SetWorkProcessData replaces the mission data payload.
func (s *SQLiteStore) SetWorkProcessData(ctx context.Context, id string, data orchestrator.Payload) error {
	blob, err := marshalPayload(data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE work_processes SET data = ? WHERE id = ?`, blob, id)
	if err != nil {
		return fmt.Errorf("failed to set work process data: %w", err)
	}
	return nil
}

// ListWorkProcesses lists missions with pagination, newest first.
func (s *SQLiteStore) ListWorkProcesses(ctx context.Context, limit, offset int) ([]*orchestrator.WorkProcess, error) {
	query := `SELECT ` + workProcessColumns + ` FROM work_processes ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list work processes: %w", err)
	}
	defer rows.Close()

	var out []*orchestrator.WorkProcess
	for rows.Next() {
		wp, err := s.scanWorkProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work process: %w", err)
		}
		out = append(out, wp)
	}
	return out, rows.Err()
}

// Service request operations

const serviceRequestColumns = `id, request_uid, step, service_type, service_class,
	status, depend_on_requests, next_request_to_dispatch_uids,
	wait_dependencies_assignments, is_result_assignment, request, response,
	context, result_timeout_ns, work_process_id, dispatched_at, created_at`

func (s *SQLiteStore) scanServiceRequest(row interface{ Scan(...interface{}) error }) (*orchestrator.ServiceRequest, error) {
	req := &orchestrator.ServiceRequest{}
	var dependOn, next, request, response, reqContext sql.NullString
	var timeoutNS int64
	var dispatchedAt sql.NullTime
	err := row.Scan(
		&req.ID,
		&req.RequestUID,
		&req.Step,
		&req.ServiceType,
		&req.ServiceClass,
		&req.Status,
		&dependOn,
		&next,
		&req.WaitDependenciesAssignments,
		&req.IsResultAssignment,
		&request,
		&response,
		&reqContext,
		&timeoutNS,
		&req.WorkProcessID,
		&dispatchedAt,
		&req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if req.DependOnRequests, err = unmarshalStringList(dependOn); err != nil {
		return nil, err
	}
	if req.NextRequestsToDispatch, err = unmarshalStringList(next); err != nil {
		return nil, err
	}
	if req.Request, err = unmarshalPayload(request); err != nil {
		return nil, err
	}
	if req.Response, err = unmarshalPayload(response); err != nil {
		return nil, err
	}
	if req.Context, err = unmarshalPayload(reqContext); err != nil {
		return nil, err
	}
	req.ResultTimeout = time.Duration(timeoutNS)
	if dispatchedAt.Valid {
		t := dispatchedAt.Time
		req.DispatchedAt = &t
	}
	return req, nil
}

// CreateServiceRequests persists a built pipeline in one transaction so a
// failed build persists nothing.
func (s *SQLiteStore) CreateServiceRequests(ctx context.Context, requests []*orchestrator.ServiceRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO service_requests (` + serviceRequestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, req := range requests {
		dependOn, err := marshalStringList(req.DependOnRequests)
		if err != nil {
			return err
		}
		next, err := marshalStringList(req.NextRequestsToDispatch)
		if err != nil {
			return err
		}
		request, err := marshalPayload(req.Request)
		if err != nil {
			return err
		}
		response, err := marshalPayload(req.Response)
		if err != nil {
			return err
		}
		reqContext, err := marshalPayload(req.Context)
		if err != nil {
			return err
		}
		if req.CreatedAt.IsZero() {
			req.CreatedAt = time.Now()
		}

		var dispatchedAt sql.NullTime
		if req.DispatchedAt != nil {
			dispatchedAt = sql.NullTime{Time: *req.DispatchedAt, Valid: true}
		}

		if _, err := tx.ExecContext(ctx, query,
			req.ID,
			req.RequestUID,
			req.Step,
			req.ServiceType,
			string(req.ServiceClass),
			string(req.Status),
			dependOn,
			next,
			req.WaitDependenciesAssignments,
			req.IsResultAssignment,
			request,
			response,
			reqContext,
			int64(req.ResultTimeout),
			req.WorkProcessID,
			dispatchedAt,
			req.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to create service request %s: %w", req.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit service requests: %w", err)
	}
	return nil
}

// GetServiceRequest retrieves a service request by id.
func (s *SQLiteStore) GetServiceRequest(ctx context.Context, id string) (*orchestrator.ServiceRequest, error) {
	query := `SELECT ` + serviceRequestColumns + ` FROM service_requests WHERE id = ?`
	req, err := s.scanServiceRequest(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("service request not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service request: %w", err)
	}
	return req, nil
}

// GetServiceRequestByUID retrieves a service request by request_uid.
func (s *SQLiteStore) GetServiceRequestByUID(ctx context.Context, uid string) (*orchestrator.ServiceRequest, error) {
	query := `SELECT ` + serviceRequestColumns + ` FROM service_requests WHERE request_uid = ?`
	req, err := s.scanServiceRequest(s.db.QueryRowContext(ctx, query, uid))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("service request not found: %s", uid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service request: %w", err)
	}
	return req, nil
}

// ListServiceRequestsByWorkProcess lists all requests of a mission.
func (s *SQLiteStore) ListServiceRequestsByWorkProcess(ctx context.Context, workProcessID string) ([]*orchestrator.ServiceRequest, error) {
	query := `SELECT ` + serviceRequestColumns + ` FROM service_requests WHERE work_process_id = ? ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, workProcessID)
	if err != nil {
		return nil, fmt.Errorf("failed to list service requests: %w", err)
	}
	defer rows.Close()

	var out []*orchestrator.ServiceRequest
	for rows.Next() {
		req, err := s.scanServiceRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// UpdateServiceStatus conditionally transitions a service request. Entering
// dispatching_service records the dispatch time.
func (s *SQLiteStore) UpdateServiceStatus(ctx context.Context, id string, to orchestrator.ServiceStatus, from ...orchestrator.ServiceStatus) (bool, error) {
	query := `UPDATE service_requests SET status = ?`
	args := []interface{}{string(to)}
	if to == orchestrator.ServiceStatusDispatching {
		query += `, dispatched_at = ?`
		args = append(args, time.Now())
	}
	query += ` WHERE id = ?`
	args = append(args, id)
	if len(from) > 0 {
		query += ` AND status IN (` + statusPlaceholders(len(from)) + `)`
		for _, f := range from {
			args = append(args, string(f))
		}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update service request status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// SetServiceResponse persists the microservice response payload.
func (s *SQLiteStore) SetServiceResponse(ctx context.Context, id string, response orchestrator.Payload) error {
	blob, err := marshalPayload(response)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE service_requests SET response = ? WHERE id = ?`, blob, id)
	if err != nil {
		return fmt.Errorf("failed to set service response: %w", err)
	}
	return nil
}

// SetServiceDispatchPayload persists the rewritten request and context
// computed just before dispatch.
func (s *SQLiteStore) SetServiceDispatchPayload(ctx context.Context, id string, request, reqContext orchestrator.Payload) error {
	reqBlob, err := marshalPayload(request)
	if err != nil {
		return err
	}
	ctxBlob, err := marshalPayload(reqContext)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE service_requests SET request = ?, context = ? WHERE id = ?`,
		reqBlob, ctxBlob, id)
	if err != nil {
		return fmt.Errorf("failed to set service dispatch payload: %w", err)
	}
	return nil
}

// ListTimedOutServiceRequests lists pending requests whose result_timeout
// elapsed since dispatch.
func (s *SQLiteStore) ListTimedOutServiceRequests(ctx context.Context) ([]*orchestrator.ServiceRequest, error) {
	query := `SELECT ` + serviceRequestColumns + ` FROM service_requests
		WHERE status = ? AND result_timeout_ns > 0 AND dispatched_at IS NOT NULL`
	rows, err := s.db.QueryContext(ctx, query, string(orchestrator.ServiceStatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending service requests: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var out []*orchestrator.ServiceRequest
	for rows.Next() {
		req, err := s.scanServiceRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service request: %w", err)
		}
		if req.DispatchedAt != nil && now.Sub(*req.DispatchedAt) > req.ResultTimeout {
			out = append(out, req)
		}
	}
	return out, rows.Err()
}

// Assignment operations

const assignmentColumns = `id, status, depend_on_assignments, next_assignments,
	agent_id, work_process_id, service_request_id, on_assignment_failure,
	fallback_mission, data, result, context, fallback_dispatched, created_at`

func (s *SQLiteStore) scanAssignment(row interface{ Scan(...interface{}) error }) (*orchestrator.Assignment, error) {
	a := &orchestrator.Assignment{}
	var dependOn, next, data, result, aContext sql.NullString
	err := row.Scan(
		&a.ID,
		&a.Status,
		&dependOn,
		&next,
		&a.AgentID,
		&a.WorkProcessID,
		&a.ServiceRequestID,
		&a.OnAssignmentFailure,
		&a.FallbackMission,
		&data,
		&result,
		&aContext,
		&a.FallbackDispatched,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if a.DependOnAssignments, err = unmarshalStringList(dependOn); err != nil {
		return nil, err
	}
	if a.NextAssignments, err = unmarshalStringList(next); err != nil {
		return nil, err
	}
	if a.Data, err = unmarshalPayload(data); err != nil {
		return nil, err
	}
	if a.Result, err = unmarshalPayload(result); err != nil {
		return nil, err
	}
	if a.Context, err = unmarshalPayload(aContext); err != nil {
		return nil, err
	}
	return a, nil
}

// CreateAssignment persists a new assignment.
func (s *SQLiteStore) CreateAssignment(ctx context.Context, a *orchestrator.Assignment) error {
	dependOn, err := marshalStringList(a.DependOnAssignments)
	if err != nil {
		return err
	}
	next, err := marshalStringList(a.NextAssignments)
	if err != nil {
		return err
	}
	data, err := marshalPayload(a.Data)
	if err != nil {
		return err
	}
	result, err := marshalPayload(a.Result)
	if err != nil {
		return err
	}
	aContext, err := marshalPayload(a.Context)
	if err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO assignments (` + assignmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		a.ID,
		string(orchestrator.NormalizeAssignmentStatus(a.Status)),
		dependOn,
		next,
		a.AgentID,
		a.WorkProcessID,
		a.ServiceRequestID,
		string(a.OnAssignmentFailure),
		a.FallbackMission,
		data,
		result,
		aContext,
		a.FallbackDispatched,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// GetAssignment retrieves an assignment by id.
func (s *SQLiteStore) GetAssignment(ctx context.Context, id string) (*orchestrator.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = ?`
	a, err := s.scanAssignment(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("assignment not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// ListAssignmentsByWorkProcess lists all assignments of a mission.
func (s *SQLiteStore) ListAssignmentsByWorkProcess(ctx context.Context, workProcessID string) ([]*orchestrator.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE work_process_id = ? ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, workProcessID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*orchestrator.Assignment
	for rows.Next() {
		a, err := s.scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAssignmentsByServiceRequests lists assignments produced by the given
// service requests.
func (s *SQLiteStore) ListAssignmentsByServiceRequests(ctx context.Context, serviceRequestIDs []string) ([]*orchestrator.Assignment, error) {
	if len(serviceRequestIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + assignmentColumns + ` FROM assignments
		WHERE service_request_id IN (` + statusPlaceholders(len(serviceRequestIDs)) + `)
		ORDER BY created_at`
	args := make([]interface{}, len(serviceRequestIDs))
	for i, id := range serviceRequestIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*orchestrator.Assignment
	for rows.Next() {
		a, err := s.scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAssignmentStatus conditionally transitions an assignment.
func (s *SQLiteStore) UpdateAssignmentStatus(ctx context.Context, id string, to orchestrator.AssignmentStatus, from ...orchestrator.AssignmentStatus) (bool, error) {
	args := []interface{}{string(orchestrator.NormalizeAssignmentStatus(to)), id}
	query := `UPDATE assignments SET status = ? WHERE id = ?`
	if len(from) > 0 {
		query += ` AND status IN (` + statusPlaceholders(len(from)) + `)`
		for _, f := range from {
			args = append(args, string(orchestrator.NormalizeAssignmentStatus(f)))
		}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update assignment status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkFallbackDispatched flips the fallback flag on an assignment and
// reports whether this caller won the flip.
func (s *SQLiteStore) MarkFallbackDispatched(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE assignments SET fallback_dispatched = 1 WHERE id = ? AND fallback_dispatched = 0`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark fallback dispatched: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// Mission queue operations

// CreateMissionQueue persists a new mission queue.
func (s *SQLiteStore) CreateMissionQueue(ctx context.Context, q *orchestrator.MissionQueue) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mission_queues (id, name, status) VALUES (?, ?, ?)`,
		q.ID, q.Name, string(q.Status))
	if err != nil {
		return fmt.Errorf("failed to create mission queue: %w", err)
	}
	return nil
}

// GetMissionQueue retrieves a mission queue by id.
func (s *SQLiteStore) GetMissionQueue(ctx context.Context, id string) (*orchestrator.MissionQueue, error) {
	q := &orchestrator.MissionQueue{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, status FROM mission_queues WHERE id = ?`, id).
		Scan(&q.ID, &q.Name, &q.Status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("mission queue not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mission queue: %w", err)
	}
	return q, nil
}

// NextQueuedMission returns the draft mission with the lowest run_order in a
// queue, or nil when the queue is exhausted.
func (s *SQLiteStore) NextQueuedMission(ctx context.Context, queueID string) (*orchestrator.WorkProcess, error) {
	query := `SELECT ` + workProcessColumns + ` FROM work_processes
		WHERE mission_queue_id = ? AND status = ?
		ORDER BY run_order LIMIT 1`
	wp, err := s.scanWorkProcess(s.db.QueryRowContext(ctx, query, queueID,
		string(orchestrator.MissionStatusDraft)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next queued mission: %w", err)
	}
	return wp, nil
}

// UpdateQueueStatus conditionally transitions a mission queue.
func (s *SQLiteStore) UpdateQueueStatus(ctx context.Context, id string, to orchestrator.MissionQueueStatus, from ...orchestrator.MissionQueueStatus) (bool, error) {
	args := []interface{}{string(to), id}
	query := `UPDATE mission_queues SET status = ? WHERE id = ?`
	if len(from) > 0 {
		query += ` AND status IN (` + statusPlaceholders(len(from)) + `)`
		for _, f := range from {
			args = append(args, string(f))
		}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update queue status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// Microservice registry operations

// ListEnabledServices lists the enabled microservice registry.
func (s *SQLiteStore) ListEnabledServices(ctx context.Context) ([]*orchestrator.ServiceDefinition, error) {
	query := `SELECT service_type, service_url, class, is_dummy, enabled,
		result_timeout_ns, require_agents_data, require_map_data,
		require_mission_agents_data
		FROM services WHERE enabled = 1 ORDER BY service_type`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var out []*orchestrator.ServiceDefinition
	for rows.Next() {
		def := &orchestrator.ServiceDefinition{}
		var timeoutNS int64
		if err := rows.Scan(
			&def.ServiceType,
			&def.URL,
			&def.Class,
			&def.IsDummy,
			&def.Enabled,
			&timeoutNS,
			&def.RequireAgentsData,
			&def.RequireMapData,
			&def.RequireMissionAgentsData,
		); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		def.ResultTimeout = time.Duration(timeoutNS)
		out = append(out, def)
	}
	return out, rows.Err()
}

// UpsertServiceDefinition inserts or replaces a registry entry.
func (s *SQLiteStore) UpsertServiceDefinition(ctx context.Context, def *orchestrator.ServiceDefinition) error {
	query := `
		INSERT INTO services (service_type, service_url, class, is_dummy, enabled,
			result_timeout_ns, require_agents_data, require_map_data,
			require_mission_agents_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(service_type) DO UPDATE SET
			service_url = excluded.service_url,
			class = excluded.class,
			is_dummy = excluded.is_dummy,
			enabled = excluded.enabled,
			result_timeout_ns = excluded.result_timeout_ns,
			require_agents_data = excluded.require_agents_data,
			require_map_data = excluded.require_map_data,
			require_mission_agents_data = excluded.require_mission_agents_data
	`
	_, err := s.db.ExecContext(ctx, query,
		def.ServiceType,
		def.URL,
		string(def.Class),
		def.IsDummy,
		def.Enabled,
		int64(def.ResultTimeout),
		def.RequireAgentsData,
		def.RequireMapData,
		def.RequireMissionAgentsData,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert service definition: %w", err)
	}
	return nil
}
