// Package tracing provides OpenTelemetry integration for sable.
//
// This package enables distributed tracing for saga repository operations,
// including saga store round trips and per-identifier lock acquisitions.
//
// Basic usage with a saga store:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer()
//	store := tracing.NewSagaStoreMiddleware(memory.NewSagaStore(), tracer)
//	repo := sable.NewSagaRepository[OrderProcess]("OrderProcess", store)
//
// The tracing middleware captures:
//   - Store operation type and duration
//   - Saga type and identifier
//   - Success/failure status
//   - Error details when operations fail
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/go-sable"
	"github.com/AshkanYarmoradi/go-sable/adapters"
)

const (
	// TracerName is the name of the sable tracer.
	TracerName = "github.com/AshkanYarmoradi/go-sable"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "sable"
)

// Tracer wraps OpenTelemetry tracer for sable operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// =============================================================================
// Saga Store Middleware
// =============================================================================

// SagaStoreMiddleware wraps a SagaStore with tracing.
type SagaStoreMiddleware struct {
	store  adapters.SagaStore
	tracer *Tracer
}

var _ adapters.SagaStore = (*SagaStoreMiddleware)(nil)

// NewSagaStoreMiddleware wraps a store with tracing.
func NewSagaStoreMiddleware(store adapters.SagaStore, tracer *Tracer) *SagaStoreMiddleware {
	return &SagaStoreMiddleware{
		store:  store,
		tracer: tracer,
	}
}

// LoadSaga reads a saga entry with tracing.
func (m *SagaStoreMiddleware) LoadSaga(ctx context.Context, sagaType, sagaID string) (*adapters.SagaEntry, error) {
	ctx, span := m.tracer.StartSpan(ctx, "sagastore.load",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("sable.service", m.tracer.serviceName),
		attribute.String("sable.saga.type", sagaType),
		attribute.String("sable.saga.id", sagaID),
	)

	entry, err := m.store.LoadSaga(ctx, sagaType, sagaID)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("sable.associations.count", len(entry.AssociationValues)))
	}

	return entry, err
}

// InsertSaga writes a new saga entry with tracing.
func (m *SagaStoreMiddleware) InsertSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) error {
	ctx, span := m.tracer.StartSpan(ctx, "sagastore.insert",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("sable.service", m.tracer.serviceName),
		attribute.String("sable.saga.type", sagaType),
		attribute.String("sable.saga.id", sagaID),
		attribute.Int("sable.associations.count", len(associations)),
	)

	err := m.store.InsertSaga(ctx, sagaType, sagaID, root, trackingToken, associations)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// UpdateSaga replaces an existing saga entry with tracing.
func (m *SagaStoreMiddleware) UpdateSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) error {
	ctx, span := m.tracer.StartSpan(ctx, "sagastore.update",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("sable.service", m.tracer.serviceName),
		attribute.String("sable.saga.type", sagaType),
		attribute.String("sable.saga.id", sagaID),
		attribute.Int("sable.associations.count", len(associations)),
	)

	err := m.store.UpdateSaga(ctx, sagaType, sagaID, root, trackingToken, associations)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// DeleteSaga removes a saga entry with tracing.
func (m *SagaStoreMiddleware) DeleteSaga(ctx context.Context, sagaType, sagaID string, associations []adapters.AssociationRecord) error {
	ctx, span := m.tracer.StartSpan(ctx, "sagastore.delete",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("sable.service", m.tracer.serviceName),
		attribute.String("sable.saga.type", sagaType),
		attribute.String("sable.saga.id", sagaID),
		attribute.Int("sable.associations.count", len(associations)),
	)

	err := m.store.DeleteSaga(ctx, sagaType, sagaID, associations)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// FindSagas queries the association index with tracing.
func (m *SagaStoreMiddleware) FindSagas(ctx context.Context, sagaType string, association adapters.AssociationRecord) ([]string, error) {
	ctx, span := m.tracer.StartSpan(ctx, "sagastore.find",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("sable.service", m.tracer.serviceName),
		attribute.String("sable.saga.type", sagaType),
		attribute.String("sable.association.key", association.Key),
	)

	ids, err := m.store.FindSagas(ctx, sagaType, association)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("sable.sagas.found", len(ids)))
	}

	return ids, err
}

// Close closes the store.
func (m *SagaStoreMiddleware) Close() error {
	return m.store.Close()
}

// =============================================================================
// Lock Factory Middleware
// =============================================================================

// LockFactoryMiddleware wraps a LockFactory with tracing.
type LockFactoryMiddleware struct {
	factory sable.LockFactory
	tracer  *Tracer
}

var _ sable.LockFactory = (*LockFactoryMiddleware)(nil)

// NewLockFactoryMiddleware wraps a lock factory with tracing.
func NewLockFactoryMiddleware(factory sable.LockFactory, tracer *Tracer) *LockFactoryMiddleware {
	return &LockFactoryMiddleware{
		factory: factory,
		tracer:  tracer,
	}
}

// Obtain acquires a lock with tracing.
func (m *LockFactoryMiddleware) Obtain(ctx context.Context, identifier string) (sable.Lock, error) {
	ctx, span := m.tracer.StartSpan(ctx, "lock.obtain",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("sable.service", m.tracer.serviceName),
		attribute.String("sable.lock.identifier", identifier),
	)

	lock, err := m.factory.Obtain(ctx, identifier)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return lock, err
}

// =============================================================================
// Span Helpers
// =============================================================================

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
