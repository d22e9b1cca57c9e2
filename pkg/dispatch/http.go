package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

// DefaultTimeout bounds a microservice call when the registry entry carries
// no result timeout.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response body is kept for the error.
const maxErrorBody = 4096

// envelope is the wire body POSTed to a microservice.
type envelope struct {
	RequestUID    string               `json:"request_uid"`
	WorkProcessID string               `json:"work_process_id"`
	Step          string               `json:"step"`
	ServiceType   string               `json:"service_type"`
	Request       orchestrator.Payload `json:"request,omitempty"`
	Context       orchestrator.Payload `json:"context,omitempty"`
}

// HTTPDispatcher implements orchestrator.ServiceDispatcher over HTTP. Each
// request is a JSON POST to the service's registered URL; the response is
// the standard result envelope. Unreachable services, non-2xx answers, and
// malformed envelopes are reported as dispatch errors, which the engine
// turns into a failed service request without failing the whole process
// outright.
type HTTPDispatcher struct {
	client         *http.Client
	defaultTimeout time.Duration
	logger         zerolog.Logger
}

// Options configures an HTTPDispatcher.
type Options struct {
	// Client is used for all requests. If nil, a client without its own
	// timeout is used; calls are bounded per request instead.
	Client *http.Client

	// DefaultTimeout bounds calls to services without a registry result
	// timeout. Zero uses DefaultTimeout.
	DefaultTimeout time.Duration
}

// NewHTTPDispatcher creates an HTTP dispatcher.
func NewHTTPDispatcher(logger zerolog.Logger, opts Options) *HTTPDispatcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	defaultTimeout := opts.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &HTTPDispatcher{
		client:         client,
		defaultTimeout: defaultTimeout,
		logger:         logger.With().Str("component", "http-dispatcher").Logger(),
	}
}

// Dispatch implements orchestrator.ServiceDispatcher.
func (d *HTTPDispatcher) Dispatch(
	ctx context.Context,
	def *orchestrator.ServiceDefinition,
	req *orchestrator.ServiceRequest,
) (*orchestrator.DispatchResult, error) {
	if def.URL == "" {
		return nil, orchestrator.NewDispatchError("service has no registered endpoint", nil).
			WithEntity(req.ID).
			WithDetail("service_type", def.ServiceType)
	}

	timeout := def.ResultTimeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(envelope{
		RequestUID:    req.RequestUID,
		WorkProcessID: req.WorkProcessID,
		Step:          req.Step,
		ServiceType:   req.ServiceType,
		Request:       req.Request,
		Context:       req.Context,
	})
	if err != nil {
		return nil, orchestrator.NewPermanentError("failed to encode service request", err).
			WithEntity(req.ID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, def.URL, bytes.NewReader(body))
	if err != nil {
		return nil, orchestrator.NewDispatchError("failed to build service call", err).
			WithEntity(req.ID)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, orchestrator.NewDispatchError("microservice unreachable", err).
			WithEntity(req.ID).
			WithDetail("service_type", def.ServiceType).
			WithDetail("url", def.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, orchestrator.NewDispatchError(
			fmt.Sprintf("microservice answered %d", resp.StatusCode), nil).
			WithEntity(req.ID).
			WithDetail("service_type", def.ServiceType).
			WithDetail("status_code", resp.StatusCode).
			WithDetail("body", string(snippet))
	}

	var result orchestrator.DispatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, orchestrator.NewDispatchError("malformed response envelope", err).
			WithEntity(req.ID).
			WithDetail("service_type", def.ServiceType)
	}

	d.logger.Debug().
		Str("request_uid", req.RequestUID).
		Str("service_type", req.ServiceType).
		Str("result_status", result.Status).
		Dur("took", time.Since(start)).
		Msg("Microservice call completed")

	return &result, nil
}
