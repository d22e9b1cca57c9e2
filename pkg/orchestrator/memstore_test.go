package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// memStore is an in-memory Store for engine tests. Conditional updates are
// serialized by a single mutex, matching the atomicity the SQL store provides.
type memStore struct {
	mu          sync.Mutex
	missions    map[string]*WorkProcess
	requests    map[string]*ServiceRequest
	assignments map[string]*Assignment
	queues      map[string]*MissionQueue
	services    []*ServiceDefinition
}

func newMemStore() *memStore {
	return &memStore{
		missions:    make(map[string]*WorkProcess),
		requests:    make(map[string]*ServiceRequest),
		assignments: make(map[string]*Assignment),
		queues:      make(map[string]*MissionQueue),
	}
}

func (m *memStore) GetWorkProcess(_ context.Context, id string) (*WorkProcess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wp, ok := m.missions[id]
	if !ok {
		return nil, fmt.Errorf("work process not found: %s", id)
	}
	cp := *wp
	return &cp, nil
}

func (m *memStore) CreateWorkProcess(_ context.Context, wp *WorkProcess) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.missions[wp.ID]; ok {
		return fmt.Errorf("duplicate work process: %s", wp.ID)
	}
	cp := *wp
	cp.Status = NormalizeMissionStatus(cp.Status)
	m.missions[wp.ID] = &cp
	return nil
}

func (m *memStore) UpdateMissionStatus(_ context.Context, id string, to MissionStatus, from ...MissionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wp, ok := m.missions[id]
	if !ok {
		return false, nil
	}
	if len(from) > 0 && !containsMission(from, wp.Status) {
		return false, nil
	}
	wp.Status = NormalizeMissionStatus(to)
	return true, nil
}

func (m *memStore) SetWorkProcessResolution(_ context.Context, id, yardID string, agentIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wp, ok := m.missions[id]
	if !ok {
		return fmt.Errorf("work process not found: %s", id)
	}
	wp.YardID = yardID
	wp.AgentIDs = agentIDs
	return nil
}

func (m *memStore) SetWorkProcessData(_ context.Context, id string, data Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wp, ok := m.missions[id]
	if !ok {
		return fmt.Errorf("work process not found: %s", id)
	}
	wp.Data = data
	return nil
}

func (m *memStore) CreateServiceRequests(_ context.Context, requests []*ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range requests {
		if _, ok := m.requests[req.ID]; ok {
			return fmt.Errorf("duplicate service request: %s", req.ID)
		}
	}
	for _, req := range requests {
		cp := *req
		m.requests[req.ID] = &cp
	}
	return nil
}

func (m *memStore) GetServiceRequest(_ context.Context, id string) (*ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("service request not found: %s", id)
	}
	cp := *req
	return &cp, nil
}

func (m *memStore) GetServiceRequestByUID(_ context.Context, uid string) (*ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.requests {
		if req.RequestUID == uid {
			cp := *req
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("service request not found: %s", uid)
}

func (m *memStore) ListServiceRequestsByWorkProcess(_ context.Context, workProcessID string) ([]*ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ServiceRequest
	for _, req := range m.requests {
		if req.WorkProcessID == workProcessID {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateServiceStatus(_ context.Context, id string, to ServiceStatus, from ...ServiceStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return false, nil
	}
	if len(from) > 0 && !containsService(from, req.Status) {
		return false, nil
	}
	req.Status = to
	if to == ServiceStatusDispatching {
		now := time.Now()
		req.DispatchedAt = &now
	}
	return true, nil
}

func (m *memStore) SetServiceResponse(_ context.Context, id string, response Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return fmt.Errorf("service request not found: %s", id)
	}
	req.Response = response
	return nil
}

func (m *memStore) SetServiceDispatchPayload(_ context.Context, id string, request, reqContext Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return fmt.Errorf("service request not found: %s", id)
	}
	req.Request = request
	req.Context = reqContext
	return nil
}

func (m *memStore) CreateAssignment(_ context.Context, a *Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[a.ID]; ok {
		return fmt.Errorf("duplicate assignment: %s", a.ID)
	}
	cp := *a
	cp.Status = NormalizeAssignmentStatus(cp.Status)
	m.assignments[a.ID] = &cp
	return nil
}

func (m *memStore) GetAssignment(_ context.Context, id string) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, fmt.Errorf("assignment not found: %s", id)
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListAssignmentsByWorkProcess(_ context.Context, workProcessID string) ([]*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Assignment
	for _, a := range m.assignments {
		if a.WorkProcessID == workProcessID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListAssignmentsByServiceRequests(_ context.Context, serviceRequestIDs []string) ([]*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(serviceRequestIDs))
	for _, id := range serviceRequestIDs {
		wanted[id] = true
	}
	var out []*Assignment
	for _, a := range m.assignments {
		if wanted[a.ServiceRequestID] {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateAssignmentStatus(_ context.Context, id string, to AssignmentStatus, from ...AssignmentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return false, nil
	}
	if len(from) > 0 && !containsAssignment(from, a.Status) {
		return false, nil
	}
	a.Status = NormalizeAssignmentStatus(to)
	return true, nil
}

func (m *memStore) MarkFallbackDispatched(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok || a.FallbackDispatched {
		return false, nil
	}
	a.FallbackDispatched = true
	return true, nil
}

func (m *memStore) GetMissionQueue(_ context.Context, id string) (*MissionQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[id]
	if !ok {
		return nil, fmt.Errorf("mission queue not found: %s", id)
	}
	cp := *q
	return &cp, nil
}

func (m *memStore) NextQueuedMission(_ context.Context, queueID string) (*WorkProcess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *WorkProcess
	for _, wp := range m.missions {
		if wp.MissionQueueID != queueID || wp.Status != MissionStatusDraft {
			continue
		}
		if next == nil || wp.RunOrder < next.RunOrder {
			next = wp
		}
	}
	if next == nil {
		return nil, nil
	}
	cp := *next
	return &cp, nil
}

func (m *memStore) UpdateQueueStatus(_ context.Context, id string, to MissionQueueStatus, from ...MissionQueueStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[id]
	if !ok {
		return false, nil
	}
	if len(from) > 0 {
		match := false
		for _, f := range from {
			if q.Status == f {
				match = true
				break
			}
		}
		if !match {
			return false, nil
		}
	}
	q.Status = to
	return true, nil
}

func (m *memStore) ListEnabledServices(_ context.Context) ([]*ServiceDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ServiceDefinition, 0, len(m.services))
	for _, def := range m.services {
		if def.Enabled {
			cp := *def
			out = append(out, &cp)
		}
	}
	return out, nil
}

func containsMission(list []MissionStatus, s MissionStatus) bool {
	s = NormalizeMissionStatus(s)
	for _, f := range list {
		if NormalizeMissionStatus(f) == s {
			return true
		}
	}
	return false
}

func containsService(list []ServiceStatus, s ServiceStatus) bool {
	for _, f := range list {
		if f == s {
			return true
		}
	}
	return false
}

func containsAssignment(list []AssignmentStatus, s AssignmentStatus) bool {
	s = NormalizeAssignmentStatus(s)
	for _, f := range list {
		if NormalizeAssignmentStatus(f) == s {
			return true
		}
	}
	return false
}

// fakeRecipes serves recipes from a map; a missing type is nil, nil.
type fakeRecipes struct {
	byType map[string]*Recipe
}

func (f *fakeRecipes) Get(_ context.Context, typeName string) (*Recipe, error) {
	return f.byType[typeName], nil
}

// fakeYards resolves from fixed maps and answers snapshots with a canned payload.
type fakeYards struct {
	yards    map[string]*Yard
	agents   map[string]*Agent
	snapshot Payload
}

func (f *fakeYards) ResolveYard(_ context.Context, uid string) (*Yard, error) {
	y, ok := f.yards[uid]
	if !ok {
		return nil, fmt.Errorf("yard not found: %s", uid)
	}
	return y, nil
}

func (f *fakeYards) ResolveAgents(_ context.Context, uuids []string) ([]*Agent, error) {
	out := make([]*Agent, 0, len(uuids))
	for _, uid := range uuids {
		a, ok := f.agents[uid]
		if !ok {
			return nil, fmt.Errorf("agent not found: %s", uid)
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeYards) Snapshot(_ context.Context, _ SnapshotQuery) (Payload, error) {
	if f.snapshot == nil {
		return Payload{}, nil
	}
	return f.snapshot, nil
}

// fakeGateway records deliveries and allows scripted send failures.
type fakeGateway struct {
	mu        sync.Mutex
	sent      []string
	canceled  []string
	released  []string
	failSends map[string]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failSends: make(map[string]error)}
}

func (g *fakeGateway) SendAssignment(_ context.Context, a *Assignment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failSends[a.ID]; ok {
		return err
	}
	g.sent = append(g.sent, a.ID)
	return nil
}

func (g *fakeGateway) CancelAssignment(_ context.Context, a *Assignment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, a.ID)
	return nil
}

func (g *fakeGateway) ReleaseFromWorkProcess(_ context.Context, agentID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = append(g.released, agentID)
	return nil
}

func (g *fakeGateway) sentIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

func (g *fakeGateway) canceledIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.canceled...)
}

func (g *fakeGateway) releasedAgents() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.released...)
}

// fakeDispatcher answers per service type; unscripted types echo the request
// back with a ready envelope.
type fakeDispatcher struct {
	mu       sync.Mutex
	handlers map[string]func(req *ServiceRequest) (*DispatchResult, error)
	calls    []string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{handlers: make(map[string]func(req *ServiceRequest) (*DispatchResult, error))}
}

func (d *fakeDispatcher) Dispatch(_ context.Context, def *ServiceDefinition, req *ServiceRequest) (*DispatchResult, error) {
	d.mu.Lock()
	d.calls = append(d.calls, def.ServiceType)
	handler := d.handlers[def.ServiceType]
	d.mu.Unlock()
	if handler != nil {
		return handler(req)
	}
	return &DispatchResult{Status: "ready", Response: req.Request}, nil
}

func (d *fakeDispatcher) callCount(serviceType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c == serviceType {
			n++
		}
	}
	return n
}

// testEnv bundles the engine and its fakes.
type testEnv struct {
	store      *memStore
	recipes    *fakeRecipes
	yards      *fakeYards
	gateway    *fakeGateway
	dispatcher *fakeDispatcher
	engine     *Engine
	router     *Router
}

func newTestEnv() *testEnv {
	store := newMemStore()
	recipes := &fakeRecipes{byType: make(map[string]*Recipe)}
	yards := &fakeYards{
		yards:  map[string]*Yard{"YARD-EXT": {ID: "yard-1", UID: "YARD-EXT"}},
		agents: map[string]*Agent{"AGENT-EXT": {ID: "agent-1", UUID: "AGENT-EXT", YardID: "yard-1"}},
	}
	gateway := newFakeGateway()
	dispatcher := newFakeDispatcher()
	engine := NewEngine(store, recipes, yards, gateway, dispatcher, zerolog.Nop(), Options{})
	return &testEnv{
		store:      store,
		recipes:    recipes,
		yards:      yards,
		gateway:    gateway,
		dispatcher: dispatcher,
		engine:     engine,
		router:     NewRouter(engine, zerolog.Nop(), nil),
	}
}

func (env *testEnv) addService(def *ServiceDefinition) {
	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	env.store.services = append(env.store.services, def)
}

func (env *testEnv) missionStatus(t testingT, id string) MissionStatus {
	wp, err := env.store.GetWorkProcess(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get work process: %v", err)
	}
	return wp.Status
}

func (env *testEnv) requestByStep(t testingT, workProcessID, step string) *ServiceRequest {
	requests, err := env.store.ListServiceRequestsByWorkProcess(context.Background(), workProcessID)
	if err != nil {
		t.Fatalf("failed to list service requests: %v", err)
	}
	for _, req := range requests {
		if req.Step == step {
			return req
		}
	}
	t.Fatalf("no service request for step %s", step)
	return nil
}

// testingT is the slice of testing.T the helpers need.
type testingT interface {
	Fatalf(format string, args ...interface{})
}
