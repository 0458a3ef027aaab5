// Package gateway wraps the external calendar behind a retrying client.
// Reads degrade to an empty result when retries are exhausted; writes
// surface the failure to the caller.
package gateway

import (
	"context"
	"log"

	"github.com/erezf1/WhatsTasker-sub000/internal/domain"
)

// Calendar is the port to the external calendar system-of-record.
type Calendar interface {
	// Active reports whether the calendar can serve calls at all.
	Active() bool
	// ListEvents returns events in [start, end), both RFC 3339.
	ListEvents(ctx context.Context, start, end string) ([]domain.ExternalEvent, error)
	// CreateEvent creates an event and returns its external id.
	CreateEvent(ctx context.Context, ev domain.ExternalEvent) (string, error)
	// UpdateEvent patches non-empty fields of ev onto the stored event.
	UpdateEvent(ctx context.Context, id string, ev domain.ExternalEvent) error
	// DeleteEvent removes an event. Not-found is an error here; the
	// retrying wrapper translates it to success.
	DeleteEvent(ctx context.Context, id string) error
}

// Retrying applies a RetryPolicy around a Calendar. It implements Calendar
// itself so callers are unaware of the policy.
type Retrying struct {
	inner  Calendar
	policy RetryPolicy
	logger *log.Logger
}

// NewRetrying wraps inner with the given policy.
func NewRetrying(inner Calendar, policy RetryPolicy, logger *log.Logger) *Retrying {
	return &Retrying{inner: inner, policy: policy, logger: logger}
}

func (r *Retrying) Active() bool {
	return r.inner != nil && r.inner.Active()
}

// ListEvents retries transient failures. On exhaustion it logs the
// degradation and returns an empty slice so callers fall back to
// store-only data instead of failing the whole operation.
func (r *Retrying) ListEvents(ctx context.Context, start, end string) ([]domain.ExternalEvent, error) {
	if !r.Active() {
		return nil, nil
	}
	var events []domain.ExternalEvent
	err := r.policy.Do(ctx, func() error {
		var innerErr error
		events, innerErr = r.inner.ListEvents(ctx, start, end)
		return innerErr
	})
	if err != nil {
		r.logger.Printf("Gateway: list degraded to empty after retries: %v", err)
		return nil, nil
	}
	return events, nil
}

// CreateEvent retries transient failures and surfaces the final error.
// A timed-out create may have succeeded server-side; this wrapper does not
// de-duplicate that case.
func (r *Retrying) CreateEvent(ctx context.Context, ev domain.ExternalEvent) (string, error) {
	var id string
	err := r.policy.Do(ctx, func() error {
		var innerErr error
		id, innerErr = r.inner.CreateEvent(ctx, ev)
		return innerErr
	})
	return id, err
}

// UpdateEvent retries transient failures and surfaces the final error.
func (r *Retrying) UpdateEvent(ctx context.Context, id string, ev domain.ExternalEvent) error {
	return r.policy.Do(ctx, func() error {
		return r.inner.UpdateEvent(ctx, id, ev)
	})
}

// DeleteEvent retries transient failures. Not-found/gone means the desired
// end state is already achieved and reports success.
func (r *Retrying) DeleteEvent(ctx context.Context, id string) error {
	err := r.policy.Do(ctx, func() error {
		innerErr := r.inner.DeleteEvent(ctx, id)
		if IsNotFound(innerErr) {
			return nil
		}
		return innerErr
	})
	return err
}
