package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

func testRequest() *orchestrator.ServiceRequest {
	return &orchestrator.ServiceRequest{
		ID:            "sr-1",
		RequestUID:    "uid-1",
		Step:          "plan",
		ServiceType:   "planner",
		WorkProcessID: "wp-1",
		Request:       orchestrator.Payload{"pallet": "P-7"},
		Context:       orchestrator.Payload{"orchestration": map[string]interface{}{}},
	}
}

func testDefinition(url string) *orchestrator.ServiceDefinition {
	return &orchestrator.ServiceDefinition{
		ServiceType:   "planner",
		URL:           url,
		Class:         orchestrator.ServiceClassAssignmentPlanner,
		Enabled:       true,
		ResultTimeout: 5 * time.Second,
	}
}

func TestDispatchDecodesEnvelope(t *testing.T) {
	var seen envelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "ready",
			"response": map[string]interface{}{"status": "complete", "results": []interface{}{}},
		})
	}))
	defer server.Close()

	d := NewHTTPDispatcher(zerolog.Nop(), Options{})
	result, err := d.Dispatch(context.Background(), testDefinition(server.URL), testRequest())
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if result.Status != "ready" {
		t.Errorf("expected status ready, got %s", result.Status)
	}
	if result.Response["status"] != "complete" {
		t.Errorf("unexpected response payload: %v", result.Response)
	}

	if seen.RequestUID != "uid-1" || seen.WorkProcessID != "wp-1" || seen.Step != "plan" {
		t.Errorf("unexpected wire envelope: %+v", seen)
	}
	if seen.Request["pallet"] != "P-7" {
		t.Errorf("request payload not carried: %v", seen.Request)
	}
}

func TestDispatchPendingEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "pending"})
	}))
	defer server.Close()

	d := NewHTTPDispatcher(zerolog.Nop(), Options{})
	result, err := d.Dispatch(context.Background(), testDefinition(server.URL), testRequest())
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if result.Status != "pending" {
		t.Errorf("expected status pending, got %s", result.Status)
	}
}

func TestDispatchNon2xxIsDispatchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "planner overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewHTTPDispatcher(zerolog.Nop(), Options{})
	_, err := d.Dispatch(context.Background(), testDefinition(server.URL), testRequest())
	if !orchestrator.IsDispatch(err) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
}

func TestDispatchUnreachableIsDispatchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	d := NewHTTPDispatcher(zerolog.Nop(), Options{})
	_, err := d.Dispatch(context.Background(), testDefinition(server.URL), testRequest())
	if !orchestrator.IsDispatch(err) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
}

func TestDispatchMalformedEnvelopeIsDispatchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	d := NewHTTPDispatcher(zerolog.Nop(), Options{})
	_, err := d.Dispatch(context.Background(), testDefinition(server.URL), testRequest())
	if !orchestrator.IsDispatch(err) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
}

func TestDispatchMissingURL(t *testing.T) {
	d := NewHTTPDispatcher(zerolog.Nop(), Options{})
	_, err := d.Dispatch(context.Background(), testDefinition(""), testRequest())
	if !orchestrator.IsDispatch(err) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
}

func TestDispatchRespectsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	def := testDefinition(server.URL)
	def.ResultTimeout = 50 * time.Millisecond

	d := NewHTTPDispatcher(zerolog.Nop(), Options{})
	start := time.Now()
	_, err := d.Dispatch(context.Background(), def, testRequest())
	if !orchestrator.IsDispatch(err) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout not applied, call took %v", elapsed)
	}
}

func TestLogGatewayAcceptsEverything(t *testing.T) {
	g := NewLogGateway(zerolog.Nop())
	ctx := context.Background()

	a := &orchestrator.Assignment{ID: "as-1", AgentID: "agent-1", WorkProcessID: "wp-1"}
	if err := g.SendAssignment(ctx, a); err != nil {
		t.Errorf("SendAssignment failed: %v", err)
	}
	if err := g.CancelAssignment(ctx, a); err != nil {
		t.Errorf("CancelAssignment failed: %v", err)
	}
	if err := g.ReleaseFromWorkProcess(ctx, "agent-1", "wp-1"); err != nil {
		t.Errorf("ReleaseFromWorkProcess failed: %v", err)
	}
}
