// Package ingest implements the event ingestion transaction: idempotency
// probe, durable persistence, broker publication, best-effort workflow
// dispatch, audit and the idempotency cache write, in that order.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arbiter-io/arbiter/pkg/audit"
	"github.com/arbiter-io/arbiter/pkg/broker"
	"github.com/arbiter-io/arbiter/pkg/domain"
	"github.com/arbiter-io/arbiter/pkg/eventstore"
	"github.com/arbiter-io/arbiter/pkg/kvstore"
	"github.com/arbiter-io/arbiter/pkg/resilience"
)

// IdempotencyTTL is how long a completed submission's response is replayed.
const IdempotencyTTL = 300 * time.Second

// WorkflowTrigger dispatches an ingested event into the decision pipeline.
// Dispatch is best-effort: the persisted event and the published message
// are the authoritative artifacts.
type WorkflowTrigger interface {
	Trigger(ctx context.Context, event *domain.Event) error
}

// Config wires an EventService. Events, KV and Publisher are required;
// Breaker, Trigger, Audit and Logger are optional.
type Config struct {
	Events    eventstore.Store
	KV        kvstore.Store
	Publisher broker.Publisher
	Breaker   *resilience.CircuitBreaker
	Trigger   WorkflowTrigger
	Audit     audit.Sink
	Logger    *slog.Logger
}

// EventService runs the ingestion transaction.
type EventService struct {
	events    eventstore.Store
	kv        kvstore.Store
	publisher broker.Publisher
	breaker   *resilience.CircuitBreaker
	trigger   WorkflowTrigger
	sink      audit.Sink
	logger    *slog.Logger
}

// NewEventService builds the service from cfg.
func NewEventService(cfg Config) *EventService {
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &EventService{
		events:    cfg.Events,
		kv:        cfg.KV,
		publisher: cfg.Publisher,
		breaker:   cfg.Breaker,
		trigger:   cfg.Trigger,
		sink:      cfg.Audit,
		logger:    cfg.Logger.With("component", "ingest"),
	}
}

// CreateRisk validates and ingests a risk event.
func (s *EventService) CreateRisk(ctx context.Context, req *domain.RiskEventCreateRequest, idempotencyKey, correlationID string) (*domain.Event, error) {
	if err := domain.ValidateRiskCreate(req); err != nil {
		return nil, err
	}
	event := domain.NewRiskEvent(uuid.New().String(), req.TenantID, req.RiskScore, req.Category, req.Metadata, req.Version)
	return s.create(ctx, event, idempotencyKey, correlationID)
}

// CreateCompliance validates and ingests a compliance event.
func (s *EventService) CreateCompliance(ctx context.Context, req *domain.ComplianceEventCreateRequest, idempotencyKey, correlationID string) (*domain.Event, error) {
	if err := domain.ValidateComplianceCreate(req); err != nil {
		return nil, err
	}
	event := domain.NewComplianceEvent(uuid.New().String(), req.TenantID, req.RegulationRef, req.ComplianceType, req.Metadata, req.Version)
	return s.create(ctx, event, idempotencyKey, correlationID)
}

// create runs the seven-step transaction. The idempotency cache is written
// only after persistence, publication and audit all succeeded, and a
// response is returned only once the cache write succeeded too: success
// implies the event is persisted, broadcast and replayable.
func (s *EventService) create(ctx context.Context, event *domain.Event, idempotencyKey, correlationID string) (*domain.Event, error) {
	cacheKey := kvstore.IdempotencyKey(event.TenantID, idempotencyKey)

	if cached, err := s.kv.Get(ctx, cacheKey); err == nil {
		var replay domain.Event
		if err := json.Unmarshal([]byte(cached), &replay); err == nil {
			s.logger.InfoContext(ctx, "idempotent replay",
				"tenant_id", event.TenantID, "idempotency_key", idempotencyKey)
			return &replay, nil
		}
		s.logger.WarnContext(ctx, "idempotency record undecodable, reprocessing", "key", cacheKey)
	} else if !errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("idempotency probe: %w", err)
	}

	event.Status = domain.StatusReceived
	event.CorrelationID = correlationID

	stored, err := s.events.Save(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("persist event: %w", err)
	}

	if err := s.publish(ctx, stored, idempotencyKey); err != nil {
		return nil, err
	}

	if s.trigger != nil {
		if err := s.trigger.Trigger(ctx, stored); err != nil {
			s.logger.ErrorContext(ctx, "workflow dispatch failed",
				"event_id", stored.EventID, "error", err)
			if auditErr := s.sink.Record(ctx, audit.NewRecord(
				"system", stored.TenantID, "workflow_dispatch_failed", resourceType(stored), stored.EventID,
				err.Error(), correlationID, nil,
			)); auditErr != nil {
				s.logger.ErrorContext(ctx, "audit of dispatch failure failed", "error", auditErr)
			}
		}
	}

	if err := s.sink.Record(ctx, audit.NewRecord(
		"system", stored.TenantID, "event_created", resourceType(stored), stored.EventID,
		"", correlationID,
		map[string]any{"status": string(stored.Status), "version": stored.Version},
	)); err != nil {
		return nil, fmt.Errorf("audit event creation: %w", err)
	}

	encoded, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	if err := s.kv.Set(ctx, cacheKey, string(encoded), IdempotencyTTL); err != nil {
		// The event is persisted and published; surfacing the failure makes
		// the client retry, which re-executes the transaction and caches.
		s.logger.ErrorContext(ctx, "idempotency cache write failed", "key", cacheKey, "error", err)
		return nil, fmt.Errorf("idempotency cache write: %w", err)
	}

	return stored, nil
}

// publish sends the created-event message, under the breaker when one is
// wired. Any failure aborts the transaction before the cache write.
func (s *EventService) publish(ctx context.Context, event *domain.Event, idempotencyKey string) error {
	msg := broker.Message{
		EventID:       event.EventID,
		TenantID:      event.TenantID,
		CorrelationID: event.CorrelationID,
		EventType:     string(event.Type),
		Status:        string(event.Status),
	}
	send := func(ctx context.Context) error {
		return s.publisher.Publish(ctx, event.RoutingKey(), msg, idempotencyKey)
	}
	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.EventID, err)
	}
	return nil
}

// Get returns the tenant's event from the durable store, or nil when it
// does not exist.
func (s *EventService) Get(ctx context.Context, tenantID, eventID string) (*domain.Event, error) {
	event, err := s.events.Get(ctx, tenantID, eventID)
	if errors.Is(err, eventstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	return event, nil
}

func resourceType(e *domain.Event) string {
	if e.Type == domain.EventTypeCompliance {
		return "compliance_event"
	}
	return "risk_event"
}
