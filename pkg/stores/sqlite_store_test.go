package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

// setupTestStore creates a migrated SQLite store backed by a temp file
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "fleetyard_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testWorkProcess(id string) *orchestrator.WorkProcess {
	return &orchestrator.WorkProcess{
		ID:       id,
		Type:     "transport_pallet",
		Status:   orchestrator.MissionStatusDispatched,
		AgentIDs: []string{"agent-1"},
		YardID:   "yard-1",
		Data:     orchestrator.Payload{"pallet": "P-100"},
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "fleetyard_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"mission_queues", "work_processes", "service_requests", "assignments", "services"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestWorkProcessCRUD tests mission persistence round-trips
func TestWorkProcessCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	wp := testWorkProcess("wp-1")
	wp.OnAssignmentFailure = orchestrator.FailureActionContinue
	wp.FallbackMission = "return_home"

	if err := store.CreateWorkProcess(ctx, wp); err != nil {
		t.Fatalf("failed to create work process: %v", err)
	}

	got, err := store.GetWorkProcess(ctx, "wp-1")
	if err != nil {
		t.Fatalf("failed to get work process: %v", err)
	}
	if got.Type != "transport_pallet" {
		t.Errorf("expected type transport_pallet, got %s", got.Type)
	}
	if got.Status != orchestrator.MissionStatusDispatched {
		t.Errorf("expected status dispatched, got %s", got.Status)
	}
	if len(got.AgentIDs) != 1 || got.AgentIDs[0] != "agent-1" {
		t.Errorf("unexpected agent ids: %v", got.AgentIDs)
	}
	if got.OnAssignmentFailure != orchestrator.FailureActionContinue {
		t.Errorf("unexpected failure policy: %s", got.OnAssignmentFailure)
	}
	if got.Data["pallet"] != "P-100" {
		t.Errorf("unexpected data: %v", got.Data)
	}

	if _, err := store.GetWorkProcess(ctx, "missing"); err == nil {
		t.Error("expected error for missing work process")
	}
}

// TestWorkProcessLegacyStatusNormalized verifies the legacy created alias is
// stored as dispatched
func TestWorkProcessLegacyStatusNormalized(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	wp := testWorkProcess("wp-legacy")
	wp.Status = orchestrator.MissionStatus("created")
	if err := store.CreateWorkProcess(ctx, wp); err != nil {
		t.Fatalf("failed to create work process: %v", err)
	}

	got, err := store.GetWorkProcess(ctx, "wp-legacy")
	if err != nil {
		t.Fatalf("failed to get work process: %v", err)
	}
	if got.Status != orchestrator.MissionStatusDispatched {
		t.Errorf("expected dispatched, got %s", got.Status)
	}
}

// TestUpdateMissionStatusCAS tests conditional mission transitions
func TestUpdateMissionStatusCAS(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateWorkProcess(ctx, testWorkProcess("wp-cas")); err != nil {
		t.Fatalf("failed to create work process: %v", err)
	}

	applied, err := store.UpdateMissionStatus(ctx, "wp-cas",
		orchestrator.MissionStatusPreparing, orchestrator.MissionStatusDispatched)
	if err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	if !applied {
		t.Fatal("expected transition dispatched -> preparing to apply")
	}

	// Same transition a second time must be a no-op, not an error
	applied, err = store.UpdateMissionStatus(ctx, "wp-cas",
		orchestrator.MissionStatusPreparing, orchestrator.MissionStatusDispatched)
	if err != nil {
		t.Fatalf("failed on duplicate update: %v", err)
	}
	if applied {
		t.Error("expected duplicate transition to be a no-op")
	}

	// Multiple from-states
	applied, err = store.UpdateMissionStatus(ctx, "wp-cas",
		orchestrator.MissionStatusCanceling,
		orchestrator.MissionStatusPreparing,
		orchestrator.MissionStatusCalculating,
		orchestrator.MissionStatusExecuting)
	if err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	if !applied {
		t.Error("expected transition to canceling to apply")
	}

	// Unconditional update
	applied, err = store.UpdateMissionStatus(ctx, "wp-cas", orchestrator.MissionStatusCanceled)
	if err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	if !applied {
		t.Error("expected unconditional transition to apply")
	}
}

// TestSetWorkProcessResolutionAndData tests the resolution and data setters
func TestSetWorkProcessResolutionAndData(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	wp := testWorkProcess("wp-res")
	wp.AgentIDs = nil
	wp.YardID = ""
	wp.YardUID = "YARD-EXT"
	if err := store.CreateWorkProcess(ctx, wp); err != nil {
		t.Fatalf("failed to create work process: %v", err)
	}

	if err := store.SetWorkProcessResolution(ctx, "wp-res", "yard-9", []string{"a-1", "a-2"}); err != nil {
		t.Fatalf("failed to set resolution: %v", err)
	}
	if err := store.SetWorkProcessData(ctx, "wp-res", orchestrator.Payload{"_settings": map[string]interface{}{"speed": "slow"}}); err != nil {
		t.Fatalf("failed to set data: %v", err)
	}

	got, err := store.GetWorkProcess(ctx, "wp-res")
	if err != nil {
		t.Fatalf("failed to get work process: %v", err)
	}
	if got.YardID != "yard-9" {
		t.Errorf("expected yard-9, got %s", got.YardID)
	}
	if len(got.AgentIDs) != 2 {
		t.Errorf("expected 2 agent ids, got %v", got.AgentIDs)
	}
	if _, ok := got.Data["_settings"]; !ok {
		t.Errorf("expected _settings in data, got %v", got.Data)
	}
}

// TestListWorkProcesses tests pagination
func TestListWorkProcesses(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		wp := testWorkProcess("wp-list-" + string(rune('a'+i)))
		wp.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.CreateWorkProcess(ctx, wp); err != nil {
			t.Fatalf("failed to create work process: %v", err)
		}
	}

	page, err := store.ListWorkProcesses(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list work processes: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 work processes, got %d", len(page))
	}
	// Newest first
	if page[0].ID != "wp-list-e" {
		t.Errorf("expected wp-list-e first, got %s", page[0].ID)
	}

	rest, err := store.ListWorkProcesses(ctx, 10, 2)
	if err != nil {
		t.Fatalf("failed to list work processes: %v", err)
	}
	if len(rest) != 3 {
		t.Errorf("expected 3 remaining work processes, got %d", len(rest))
	}
}

// TestServiceRequestCRUD tests service request persistence
func TestServiceRequestCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateWorkProcess(ctx, testWorkProcess("wp-sr")); err != nil {
		t.Fatalf("failed to create work process: %v", err)
	}

	requests := []*orchestrator.ServiceRequest{
		{
			ID:            "sr-1",
			RequestUID:    "uid-1",
			Step:          "plan",
			ServiceType:   "planner",
			ServiceClass:  orchestrator.ServiceClassAssignmentPlanner,
			Status:        orchestrator.ServiceStatusReadyForService,
			ResultTimeout: 30 * time.Second,
			WorkProcessID: "wp-sr",
			NextRequestsToDispatch: []string{"uid-2"},
		},
		{
			ID:               "sr-2",
			RequestUID:       "uid-2",
			Step:             "report",
			ServiceType:      "storage",
			Status:           orchestrator.ServiceStatusWaitDependencies,
			DependOnRequests: []string{"uid-1"},
			WorkProcessID:    "wp-sr",
		},
	}
	if err := store.CreateServiceRequests(ctx, requests); err != nil {
		t.Fatalf("failed to create service requests: %v", err)
	}

	got, err := store.GetServiceRequest(ctx, "sr-1")
	if err != nil {
		t.Fatalf("failed to get service request: %v", err)
	}
	if got.Step != "plan" || got.ServiceClass != orchestrator.ServiceClassAssignmentPlanner {
		t.Errorf("unexpected service request: %+v", got)
	}
	if got.ResultTimeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", got.ResultTimeout)
	}

	byUID, err := store.GetServiceRequestByUID(ctx, "uid-2")
	if err != nil {
		t.Fatalf("failed to get by uid: %v", err)
	}
	if byUID.ID != "sr-2" {
		t.Errorf("expected sr-2, got %s", byUID.ID)
	}
	if len(byUID.DependOnRequests) != 1 || byUID.DependOnRequests[0] != "uid-1" {
		t.Errorf("unexpected dependencies: %v", byUID.DependOnRequests)
	}

	list, err := store.ListServiceRequestsByWorkProcess(ctx, "wp-sr")
	if err != nil {
		t.Fatalf("failed to list service requests: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 service requests, got %d", len(list))
	}
}

// TestCreateServiceRequestsAtomic verifies a failing batch persists nothing
func TestCreateServiceRequestsAtomic(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateWorkProcess(ctx, testWorkProcess("wp-atomic")); err != nil {
		t.Fatalf("failed to create work process: %v", err)
	}

	requests := []*orchestrator.ServiceRequest{
		{ID: "sr-a", RequestUID: "uid-a", Step: "s1", ServiceType: "planner", Status: orchestrator.ServiceStatusReadyForService, WorkProcessID: "wp-atomic"},
		// Duplicate request_uid violates the unique constraint
		{ID: "sr-b", RequestUID: "uid-a", Step: "s2", ServiceType: "planner", Status: orchestrator.ServiceStatusReadyForService, WorkProcessID: "wp-atomic"},
	}
	if err := store.CreateServiceRequests(ctx, requests); err == nil {
		t.Fatal("expected unique constraint violation")
	}

	list, err := store.ListServiceRequestsByWorkProcess(ctx, "wp-atomic")
	if err != nil {
		t.Fatalf("failed to list service requests: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no persisted requests after rollback, got %d", len(list))
	}
}

// TestUpdateServiceStatusRecordsDispatch verifies dispatching sets the
// dispatch timestamp
func TestUpdateServiceStatusRecordsDispatch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateWorkProcess(ctx, testWorkProcess("wp-disp")); err != nil {
		t.Fatalf("failed to create work process: %v", err)
	}
	requests := []*orchestrator.ServiceRequest{
		{ID: "sr-d", RequestUID: "uid-d", Step: "s", ServiceType: "planner", Status: orchestrator.ServiceStatusReadyForService, WorkProcessID: "wp-disp"},
	}
	if err := store.CreateServiceRequests(ctx, requests); err != nil {
		t.Fatalf("failed to create service requests: %v", err)
	}

	applied, err := store.UpdateServiceStatus(ctx, "sr-d",
		orchestrator.ServiceStatusDispatching, orchestrator.ServiceStatusReadyForService)
	if err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	if !applied {
		t.Fatal("expected transition to dispatching to apply")
	}

	got, err := store.GetServiceRequest(ctx, "sr-d")
	if err != nil {
		t.Fatalf("failed to get service request: %v", err)
	}
	if got.DispatchedAt == nil {
		t.Error("expected dispatched_at to be set")
	}

	applied, err = store.UpdateServiceStatus(ctx, "sr-d",
		orchestrator.ServiceStatusDispatching, orchestrator.ServiceStatusReadyForService)
	if err != nil {
		t.Fatalf("failed on duplicate update: %v", err)
	}
	if applied {
		t.Error("expected duplicate transition to be a no-op")
	}
}

// TestServiceRequestPayloadSetters tests response and dispatch payload updates
func TestServiceRequestPayloadSetters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateWorkProcess(ctx, testWorkProcess("wp-pay")); err != nil {
		t.Fatalf("failed to create work process: %v", err)
	}
	requests := []*orchestrator.ServiceRequest{
		{ID: "sr-p", RequestUID: "uid-p", Step: "s", ServiceType: "planner", Status: orchestrator.ServiceStatusPending, WorkProcessID: "wp-pay"},
	}
	if err := store.CreateServiceRequests(ctx, requests); err != nil {
		t.Fatalf("failed to create service requests: %v", err)
	}

	if err := store.SetServiceDispatchPayload(ctx, "sr-p",
		orchestrator.Payload{"target": "dock-3"},
		orchestrator.Payload{"agents": []interface{}{"agent-1"}}); err != nil {
		t.Fatalf("failed to set dispatch payload: %v", err)
	}
	if err := store.SetServiceResponse(ctx, "sr-p", orchestrator.Payload{"status": "Ok"}); err != nil {
		t.Fatalf("failed to set response: %v", err)
	}

	got, err := store.GetServiceRequest(ctx, "sr-p")
	if err != nil {
		t.Fatalf("failed to get service request: %v", err)
	}
	if got.Request["target"] != "dock-3" {
		t.Errorf("unexpected request payload: %v", got.Request)
	}
	if got.Context == nil {
		t.Error("expected context payload")
	}
	if got.Response["status"] != "Ok" {
		t.Errorf("unexpected response payload: %v", got.Response)
	}
}

// TestListTimedOutServiceRequests tests the watcher query
func TestListTimedOutServiceRequests(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateWorkProcess(ctx, testWorkProcess("wp-to")); err != nil {
		t.Fatalf("failed to create work process: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	requests := []*orchestrator.ServiceRequest{
		// Expired: dispatched a minute ago with a 1s budget
		{ID: "sr-old", RequestUID: "uid-old", Step: "s", ServiceType: "planner",
			Status: orchestrator.ServiceStatusPending, ResultTimeout: time.Second,
			DispatchedAt: &past, WorkProcessID: "wp-to"},
		// Still within budget
		{ID: "sr-fresh", RequestUID: "uid-fresh", Step: "s", ServiceType: "planner",
			Status: orchestrator.ServiceStatusPending, ResultTimeout: time.Hour,
			DispatchedAt: &past, WorkProcessID: "wp-to"},
		// No timeout configured
		{ID: "sr-none", RequestUID: "uid-none", Step: "s", ServiceType: "planner",
			Status: orchestrator.ServiceStatusPending,
			DispatchedAt: &past, WorkProcessID: "wp-to"},
		// Not pending
		{ID: "sr-done", RequestUID: "uid-done", Step: "s", ServiceType: "planner",
			Status: orchestrator.ServiceStatusReady, ResultTimeout: time.Second,
			DispatchedAt: &past, WorkProcessID: "wp-to"},
	}
	if err := store.CreateServiceRequests(ctx, requests); err != nil {
		t.Fatalf("failed to create service requests: %v", err)
	}

	expired, err := store.ListTimedOutServiceRequests(ctx)
	if err != nil {
		t.Fatalf("failed to list timed out requests: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "sr-old" {
		t.Errorf("expected only sr-old, got %+v", expired)
	}
}

// TestAssignmentCRUD tests assignment persistence
func TestAssignmentCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateWorkProcess(ctx, testWorkProcess("wp-as")); err != nil {
		t.Fatalf("failed to create work process: %v", err)
	}
	requests := []*orchestrator.ServiceRequest{
		{ID: "sr-as", RequestUID: "uid-as", Step: "plan", ServiceType: "planner", Status: orchestrator.ServiceStatusReady, WorkProcessID: "wp-as"},
	}
	if err := store.CreateServiceRequests(ctx, requests); err != nil {
		t.Fatalf("failed to create service requests: %v", err)
	}

	a := &orchestrator.Assignment{
		ID:                  "as-1",
		Status:              orchestrator.AssignmentStatusToDispatch,
		AgentID:             "agent-1",
		WorkProcessID:       "wp-as",
		ServiceRequestID:    "sr-as",
		NextAssignments:     []string{"as-2"},
		OnAssignmentFailure: orchestrator.FailureActionRelease,
		FallbackMission:     "return_home",
		Data:                orchestrator.Payload{"move_to": "dock-3"},
	}
	if err := store.CreateAssignment(ctx, a); err != nil {
		t.Fatalf("failed to create assignment: %v", err)
	}
	b := &orchestrator.Assignment{
		ID:                  "as-2",
		Status:              orchestrator.AssignmentStatusWaitDependencies,
		AgentID:             "agent-1",
		WorkProcessID:       "wp-as",
		ServiceRequestID:    "sr-as",
		DependOnAssignments: []string{"as-1"},
	}
	if err := store.CreateAssignment(ctx, b); err != nil {
		t.Fatalf("failed to create assignment: %v", err)
	}

	got, err := store.GetAssignment(ctx, "as-1")
	if err != nil {
		t.Fatalf("failed to get assignment: %v", err)
	}
	if got.OnAssignmentFailure != orchestrator.FailureActionRelease {
		t.Errorf("unexpected failure policy: %s", got.OnAssignmentFailure)
	}
	if len(got.NextAssignments) != 1 || got.NextAssignments[0] != "as-2" {
		t.Errorf("unexpected next assignments: %v", got.NextAssignments)
	}

	byWP, err := store.ListAssignmentsByWorkProcess(ctx, "wp-as")
	if err != nil {
		t.Fatalf("failed to list by work process: %v", err)
	}
	if len(byWP) != 2 {
		t.Errorf("expected 2 assignments, got %d", len(byWP))
	}

	bySR, err := store.ListAssignmentsByServiceRequests(ctx, []string{"sr-as"})
	if err != nil {
		t.Fatalf("failed to list by service requests: %v", err)
	}
	if len(bySR) != 2 {
		t.Errorf("expected 2 assignments, got %d", len(bySR))
	}

	empty, err := store.ListAssignmentsByServiceRequests(ctx, nil)
	if err != nil {
		t.Fatalf("failed on empty id list: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no assignments for empty id list, got %d", len(empty))
	}
}

// TestUpdateAssignmentStatusCAS tests conditional assignment transitions
func TestUpdateAssignmentStatusCAS(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateWorkProcess(ctx, testWorkProcess("wp-acas")); err != nil {
		t.Fatalf("failed to create work process: %v", err)
	}
	a := &orchestrator.Assignment{
		ID: "as-cas", Status: orchestrator.AssignmentStatusToDispatch,
		AgentID: "agent-1", WorkProcessID: "wp-acas",
	}
	if err := store.CreateAssignment(ctx, a); err != nil {
		t.Fatalf("failed to create assignment: %v", err)
	}

	applied, err := store.UpdateAssignmentStatus(ctx, "as-cas",
		orchestrator.AssignmentStatusExecuting, orchestrator.AssignmentStatusToDispatch)
	if err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	if !applied {
		t.Fatal("expected transition to executing to apply")
	}

	applied, err = store.UpdateAssignmentStatus(ctx, "as-cas",
		orchestrator.AssignmentStatusExecuting, orchestrator.AssignmentStatusToDispatch)
	if err != nil {
		t.Fatalf("failed on duplicate update: %v", err)
	}
	if applied {
		t.Error("expected duplicate transition to be a no-op")
	}

	// Legacy cancelling alias is normalized on write
	applied, err = store.UpdateAssignmentStatus(ctx, "as-cas",
		orchestrator.AssignmentStatus("cancelling"), orchestrator.AssignmentStatusExecuting)
	if err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	if !applied {
		t.Fatal("expected transition to canceling to apply")
	}
	got, err := store.GetAssignment(ctx, "as-cas")
	if err != nil {
		t.Fatalf("failed to get assignment: %v", err)
	}
	if got.Status != orchestrator.AssignmentStatusCanceling {
		t.Errorf("expected canceling, got %s", got.Status)
	}
}

// TestMarkFallbackDispatched verifies at most one caller wins the flip
func TestMarkFallbackDispatched(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateWorkProcess(ctx, testWorkProcess("wp-fb")); err != nil {
		t.Fatalf("failed to create work process: %v", err)
	}
	a := &orchestrator.Assignment{
		ID: "as-fb", Status: orchestrator.AssignmentStatusFailed,
		AgentID: "agent-1", WorkProcessID: "wp-fb",
	}
	if err := store.CreateAssignment(ctx, a); err != nil {
		t.Fatalf("failed to create assignment: %v", err)
	}

	won, err := store.MarkFallbackDispatched(ctx, "as-fb")
	if err != nil {
		t.Fatalf("failed to mark fallback: %v", err)
	}
	if !won {
		t.Fatal("expected first caller to win the flip")
	}

	won, err = store.MarkFallbackDispatched(ctx, "as-fb")
	if err != nil {
		t.Fatalf("failed on second mark: %v", err)
	}
	if won {
		t.Error("expected second caller to lose the flip")
	}
}

// TestMissionQueues tests queue persistence and next-mission selection
func TestMissionQueues(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	q := &orchestrator.MissionQueue{ID: "q-1", Name: "morning shift", Status: orchestrator.QueueStatusRun}
	if err := store.CreateMissionQueue(ctx, q); err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	got, err := store.GetMissionQueue(ctx, "q-1")
	if err != nil {
		t.Fatalf("failed to get queue: %v", err)
	}
	if got.Status != orchestrator.QueueStatusRun {
		t.Errorf("expected run, got %s", got.Status)
	}

	// Queue: two drafts plus one already running mission
	for i, id := range []string{"wp-q1", "wp-q2", "wp-q3"} {
		wp := testWorkProcess(id)
		wp.MissionQueueID = "q-1"
		wp.RunOrder = i + 1
		wp.Status = orchestrator.MissionStatusDraft
		if err := store.CreateWorkProcess(ctx, wp); err != nil {
			t.Fatalf("failed to create work process: %v", err)
		}
	}
	if _, err := store.UpdateMissionStatus(ctx, "wp-q1", orchestrator.MissionStatusExecuting); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	next, err := store.NextQueuedMission(ctx, "q-1")
	if err != nil {
		t.Fatalf("failed to get next queued mission: %v", err)
	}
	if next == nil || next.ID != "wp-q2" {
		t.Fatalf("expected wp-q2, got %+v", next)
	}

	// Exhaust the queue
	for _, id := range []string{"wp-q2", "wp-q3"} {
		if _, err := store.UpdateMissionStatus(ctx, id, orchestrator.MissionStatusSucceeded); err != nil {
			t.Fatalf("failed to update status: %v", err)
		}
	}
	next, err = store.NextQueuedMission(ctx, "q-1")
	if err != nil {
		t.Fatalf("failed to get next queued mission: %v", err)
	}
	if next != nil {
		t.Errorf("expected exhausted queue, got %+v", next)
	}

	applied, err := store.UpdateQueueStatus(ctx, "q-1",
		orchestrator.QueueStatusStopped, orchestrator.QueueStatusRun)
	if err != nil {
		t.Fatalf("failed to update queue status: %v", err)
	}
	if !applied {
		t.Error("expected queue stop to apply")
	}
	applied, err = store.UpdateQueueStatus(ctx, "q-1",
		orchestrator.QueueStatusStopped, orchestrator.QueueStatusRun)
	if err != nil {
		t.Fatalf("failed on duplicate queue update: %v", err)
	}
	if applied {
		t.Error("expected duplicate queue stop to be a no-op")
	}
}

// TestServiceRegistry tests registry upsert and listing
func TestServiceRegistry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	planner := &orchestrator.ServiceDefinition{
		ServiceType:       "planner",
		URL:               "http://planner.local/plan",
		Class:             orchestrator.ServiceClassAssignmentPlanner,
		Enabled:           true,
		ResultTimeout:     time.Minute,
		RequireAgentsData: true,
	}
	if err := store.UpsertServiceDefinition(ctx, planner); err != nil {
		t.Fatalf("failed to upsert: %v", err)
	}
	disabled := &orchestrator.ServiceDefinition{
		ServiceType: "legacy", URL: "http://legacy.local", Enabled: false,
	}
	if err := store.UpsertServiceDefinition(ctx, disabled); err != nil {
		t.Fatalf("failed to upsert: %v", err)
	}

	services, err := store.ListEnabledServices(ctx)
	if err != nil {
		t.Fatalf("failed to list services: %v", err)
	}
	if len(services) != 1 || services[0].ServiceType != "planner" {
		t.Fatalf("expected only planner, got %+v", services)
	}
	if services[0].ResultTimeout != time.Minute {
		t.Errorf("expected 1m timeout, got %s", services[0].ResultTimeout)
	}

	// Upsert updates in place
	planner.URL = "http://planner.local/v2/plan"
	planner.IsDummy = true
	if err := store.UpsertServiceDefinition(ctx, planner); err != nil {
		t.Fatalf("failed to upsert: %v", err)
	}
	services, err = store.ListEnabledServices(ctx)
	if err != nil {
		t.Fatalf("failed to list services: %v", err)
	}
	if len(services) != 1 || services[0].URL != "http://planner.local/v2/plan" || !services[0].IsDummy {
		t.Fatalf("expected updated planner, got %+v", services)
	}
}
