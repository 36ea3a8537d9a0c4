// Package metrics provides Prometheus metrics integration for sable.
//
// This package enables observability for saga repository operations: store
// round trips, per-identifier lock acquisitions, and the number of
// cache-resident saga instances.
//
// Basic usage:
//
//	m := metrics.New()
//	prometheus.MustRegister(m.Collectors()...)
//
//	store := metrics.WrapSagaStore(memory.NewSagaStore(), m)
//	locks := metrics.WrapLockFactory(sable.NewPessimisticLockFactory(), m)
//
//	core := sable.NewSagaRepository[OrderProcess]("OrderProcess", store)
//	prometheus.MustRegister(m.ManagedSagasCollector("OrderProcess", core.ManagedCount))
//	repo := sable.NewLockingRepository(core, locks)
//
// The metrics collected include:
//   - Saga store operation counts and durations (load, insert, update,
//     delete, find)
//   - Lock acquisition counts, failures, and wait durations
//   - Cache-resident saga instances per saga type
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AshkanYarmoradi/go-sable"
	"github.com/AshkanYarmoradi/go-sable/adapters"
)

// Default metric labels.
const (
	LabelService   = "service"
	LabelSagaType  = "saga_type"
	LabelOperation = "operation"
	LabelStatus    = "status"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation values.
const (
	OperationLoad   = "load"
	OperationInsert = "insert"
	OperationUpdate = "update"
	OperationDelete = "delete"
	OperationFind   = "find"
)

// Metrics holds all Prometheus metrics for sable.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Saga store metrics
	storeOperationsTotal   *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec

	// Lock metrics
	lockAcquisitionsTotal *prometheus.CounterVec
	lockWaitDuration      *prometheus.HistogramVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithServiceName sets the service name label.
func WithServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "sable",
		subsystem:   "",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() {
	m.storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "sagastore_operations_total",
			Help:      "Total number of saga store operations.",
		},
		[]string{LabelService, LabelSagaType, LabelOperation, LabelStatus},
	)

	m.storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "sagastore_operation_duration_seconds",
			Help:      "Duration of saga store operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelSagaType, LabelOperation},
	)

	m.lockAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "lock_acquisitions_total",
			Help:      "Total number of per-identifier lock acquisitions.",
		},
		[]string{LabelService, LabelStatus},
	)

	m.lockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "lock_wait_duration_seconds",
			Help:      "Time spent waiting for per-identifier locks in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.storeOperationsTotal,
		m.storeOperationDuration,
		m.lockAcquisitionsTotal,
		m.lockWaitDuration,
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers all collectors with the default registry.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// ManagedSagasCollector returns a gauge tracking the number of cache-resident
// saga instances for one repository. Pass the repository's ManagedCount
// method as count.
func (m *Metrics) ManagedSagasCollector(sagaType string, count func() int) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "managed_sagas",
			Help:      "Number of cache-resident saga instances.",
			ConstLabels: prometheus.Labels{
				LabelService:  m.serviceName,
				LabelSagaType: sagaType,
			},
		},
		func() float64 { return float64(count()) },
	)
}

func (m *Metrics) observeStore(sagaType, operation string, start time.Time, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.storeOperationsTotal.WithLabelValues(m.serviceName, sagaType, operation, status).Inc()
	m.storeOperationDuration.WithLabelValues(m.serviceName, sagaType, operation).Observe(time.Since(start).Seconds())
}

// =============================================================================
// Saga store instrumentation
// =============================================================================

// WrapSagaStore wraps a SagaStore so that every operation is counted and
// timed.
func WrapSagaStore(store adapters.SagaStore, m *Metrics) adapters.SagaStore {
	return &instrumentedStore{next: store, metrics: m}
}

type instrumentedStore struct {
	next    adapters.SagaStore
	metrics *Metrics
}

var _ adapters.SagaStore = (*instrumentedStore)(nil)

func (s *instrumentedStore) LoadSaga(ctx context.Context, sagaType, sagaID string) (*adapters.SagaEntry, error) {
	start := time.Now()
	entry, err := s.next.LoadSaga(ctx, sagaType, sagaID)
	s.metrics.observeStore(sagaType, OperationLoad, start, err)
	return entry, err
}

func (s *instrumentedStore) InsertSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) error {
	start := time.Now()
	err := s.next.InsertSaga(ctx, sagaType, sagaID, root, trackingToken, associations)
	s.metrics.observeStore(sagaType, OperationInsert, start, err)
	return err
}

func (s *instrumentedStore) UpdateSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) error {
	start := time.Now()
	err := s.next.UpdateSaga(ctx, sagaType, sagaID, root, trackingToken, associations)
	s.metrics.observeStore(sagaType, OperationUpdate, start, err)
	return err
}

func (s *instrumentedStore) DeleteSaga(ctx context.Context, sagaType, sagaID string, associations []adapters.AssociationRecord) error {
	start := time.Now()
	err := s.next.DeleteSaga(ctx, sagaType, sagaID, associations)
	s.metrics.observeStore(sagaType, OperationDelete, start, err)
	return err
}

func (s *instrumentedStore) FindSagas(ctx context.Context, sagaType string, association adapters.AssociationRecord) ([]string, error) {
	start := time.Now()
	ids, err := s.next.FindSagas(ctx, sagaType, association)
	s.metrics.observeStore(sagaType, OperationFind, start, err)
	return ids, err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}

// =============================================================================
// Lock factory instrumentation
// =============================================================================

// WrapLockFactory wraps a LockFactory so that acquisitions are counted and
// wait times observed.
func WrapLockFactory(factory sable.LockFactory, m *Metrics) sable.LockFactory {
	return &instrumentedLockFactory{next: factory, metrics: m}
}

type instrumentedLockFactory struct {
	next    sable.LockFactory
	metrics *Metrics
}

var _ sable.LockFactory = (*instrumentedLockFactory)(nil)

func (f *instrumentedLockFactory) Obtain(ctx context.Context, identifier string) (sable.Lock, error) {
	start := time.Now()
	lock, err := f.next.Obtain(ctx, identifier)

	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	f.metrics.lockAcquisitionsTotal.WithLabelValues(f.metrics.serviceName, status).Inc()
	f.metrics.lockWaitDuration.WithLabelValues(f.metrics.serviceName).Observe(time.Since(start).Seconds())

	return lock, err
}
