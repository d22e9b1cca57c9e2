// Package watcher periodically sweeps pending service requests whose result
// timeout elapsed and applies the time-out transition. The mission-level
// consequence is handled by the notification router, so a sweep stays
// idempotent under concurrent orchestrators.
package watcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = 30 * time.Second

// Store is the slice of the persistence layer the watcher needs.
type Store interface {
	// ListTimedOutServiceRequests lists pending requests whose result
	// timeout elapsed since dispatch.
	ListTimedOutServiceRequests(ctx context.Context) ([]*orchestrator.ServiceRequest, error)

	// UpdateServiceStatus conditionally transitions a service request.
	UpdateServiceStatus(ctx context.Context, id string, to orchestrator.ServiceStatus, from ...orchestrator.ServiceStatus) (bool, error)
}

// Notifier receives the change notifications the watcher emits.
type Notifier interface {
	HandleNotification(ctx context.Context, n orchestrator.Notification)
}

// Watcher sweeps timed-out service requests on a fixed interval.
type Watcher struct {
	store    Store
	notifier Notifier
	interval time.Duration
	logger   zerolog.Logger
}

// Options configures a Watcher.
type Options struct {
	// Interval between sweeps; DefaultInterval when zero.
	Interval time.Duration
}

// New creates a watcher.
func New(store Store, notifier Notifier, logger zerolog.Logger, opts Options) *Watcher {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		store:    store,
		notifier: notifier,
		interval: interval,
		logger:   logger.With().Str("component", "timeout-watcher").Logger(),
	}
}

// Run sweeps until the context is canceled. A failing sweep is logged and
// retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", w.interval).Msg("Timeout watcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Timeout watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error().Err(err).Msg("Timeout sweep failed")
			}
		}
	}
}

// Sweep applies the time-out transition to every expired pending request and
// reports how many transitions this sweep won. Requests another writer
// already moved are skipped silently.
func (w *Watcher) Sweep(ctx context.Context) (int, error) {
	expired, err := w.store.ListTimedOutServiceRequests(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, req := range expired {
		won, err := w.store.UpdateServiceStatus(ctx, req.ID,
			orchestrator.ServiceStatusTimeout, orchestrator.ServiceStatusPending)
		if err != nil {
			w.logger.Error().Err(err).
				Str("service_request_id", req.ID).
				Msg("Failed to time out service request")
			continue
		}
		if !won {
			continue
		}
		applied++

		w.logger.Warn().
			Str("service_request_id", req.ID).
			Str("request_uid", req.RequestUID).
			Str("work_process_id", req.WorkProcessID).
			Str("service_type", req.ServiceType).
			Msg("Service request timed out")

		w.notify(ctx, req.ID)
	}

	if len(expired) > 0 {
		w.logger.Info().
			Int("expired", len(expired)).
			Int("applied", applied).
			Msg("Timeout sweep completed")
	}
	return applied, nil
}

// notify feeds the time-out back through the notification path so the
// mission consequence runs in the same handler as externally produced
// events.
func (w *Watcher) notify(ctx context.Context, requestID string) {
	payload, err := json.Marshal(orchestrator.UpdatedServiceRequest{
		ID:     requestID,
		Status: orchestrator.ServiceStatusTimeout,
	})
	if err != nil {
		w.logger.Error().Err(err).Str("service_request_id", requestID).
			Msg("Failed to encode time-out notification")
		return
	}
	w.notifier.HandleNotification(ctx, orchestrator.Notification{
		ID:      uuid.New().String(),
		Channel: orchestrator.ChannelServiceRequestUpdated,
		Payload: payload,
	})
}
