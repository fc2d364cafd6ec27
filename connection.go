package docstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status is the last observed connection state.
type Status struct {
	Connected   bool      `json:"connected"`
	LastError   string    `json:"last_error,omitempty"`
	LastAttempt time.Time `json:"last_attempt"`
}

// ConnectionStatus is the report returned by Manager.Status.
type ConnectionStatus struct {
	Status
	Healthy  bool        `json:"healthy"`
	Database string      `json:"database"`
	Server   *ServerInfo `json:"server,omitempty"`
}

// Manager owns the database client and the handles derived from it.
//
// Lifecycle transitions (initialize, close, reconnect) are serialized, so a
// Manager can be shared by every model of a service.
type Manager struct {
	cfg     Config
	driver  Driver
	logger  Logger
	metrics Metrics
	breaker *CircuitBreaker

	mu       sync.RWMutex
	client   Client
	database Database

	statusMu sync.RWMutex
	status   Status
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDriver replaces the MongoDB driver, e.g. with NewMemoryDriver().
func WithDriver(d Driver) ManagerOption {
	return func(m *Manager) {
		m.driver = d
	}
}

// WithLogger sets the logger shared with models built on the Manager.
func WithLogger(l Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics sets the metrics collector shared with models built on the Manager.
func WithMetrics(mt Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithConnectBreaker guards connection attempts with cb.
func WithConnectBreaker(cb *CircuitBreaker) ManagerOption {
	return func(m *Manager) {
		m.breaker = cb
	}
}

// NewManager validates cfg and returns an unconnected Manager.
// The first use of GetClient, Database or Collection connects lazily.
func NewManager(cfg Config, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		driver:  NewMongoDriver(),
		logger:  &NoOpLogger{},
		metrics: &NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.breaker != nil {
		m.breaker.WithStateChangeCallback(func(from, to BreakerState) {
			m.logger.Warn("connection breaker state changed", "from", from, "to", to)
		})
	}
	return m, nil
}

// Config returns the configuration the Manager was built with.
func (m *Manager) Config() Config {
	return m.cfg
}

// Logger returns the Manager's logger.
func (m *Manager) Logger() Logger {
	return m.logger
}

// Metrics returns the Manager's metrics collector.
func (m *Manager) Metrics() Metrics {
	return m.metrics
}

// observability tolerates a nil Manager so Retry can run unmanaged.
func (m *Manager) observability() (Logger, Metrics) {
	if m == nil {
		return &NoOpLogger{}, &NoOpMetrics{}
	}
	return m.logger, m.metrics
}

// Initialize connects and pings the database. It returns false and records
// the failure in Status when either step fails. Calling it while connected
// is a no-op.
func (m *Manager) Initialize(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx) == nil
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.client != nil {
		if m.Connected() {
			return nil
		}
		// Stale handle from a failed ping; start over.
		m.closeLocked(ctx)
	}

	connect := func() error {
		dialCtx := ctx
		if m.cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
			defer cancel()
		}

		client, err := m.driver.Connect(dialCtx, m.cfg)
		if err != nil {
			return err
		}
		if err := client.Ping(dialCtx); err != nil {
			_ = client.Disconnect(ctx)
			return err
		}

		m.client = client
		m.database = client.Database(m.cfg.Database)
		return nil
	}

	var err error
	if m.breaker != nil {
		err = m.breaker.Execute(ctx, connect)
	} else {
		err = connect()
	}

	m.setStatus(err == nil, err)
	if err != nil {
		m.metrics.Increment(MetricConnectAttempts, "result", "error")
		m.logger.Error("failed to connect to database",
			"database", m.cfg.Database,
			"error", err)
		return err
	}

	m.metrics.Increment(MetricConnectAttempts, "result", "success")
	m.logger.Info("connected to database", "database", m.cfg.Database)
	return nil
}

// GetClient returns the client, connecting first if needed. A failed
// connection yields a retryable *DependencyError.
func (m *Manager) GetClient(ctx context.Context) (Client, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client != nil {
		return client, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		if err := m.connectLocked(ctx); err != nil {
			return nil, &DependencyError{Dependency: "mongodb", Retryable: true, Err: err}
		}
	}
	return m.client, nil
}

// Database returns the configured database handle, connecting first if needed.
func (m *Manager) Database(ctx context.Context) (Database, error) {
	if _, err := m.GetClient(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.database == nil {
		// Closed concurrently between GetClient and here.
		return nil, &DependencyError{Dependency: "mongodb", Retryable: true, Err: ErrNotConnected}
	}
	return m.database, nil
}

// Collection returns a handle to the named collection.
func (m *Manager) Collection(ctx context.Context, name string) (Collection, error) {
	db, err := m.Database(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

// Ping reports whether the database answers. It never connects.
func (m *Manager) Ping(ctx context.Context) bool {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client == nil {
		m.setStatus(false, ErrNotConnected)
		return false
	}

	pingCtx := ctx
	if m.cfg.ServerSelectionTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, m.cfg.ServerSelectionTimeout)
		defer cancel()
	}

	if err := client.Ping(pingCtx); err != nil {
		m.metrics.Increment(MetricPingFailures)
		m.logger.Warn("database ping failed", "error", err)
		m.setStatus(false, err)
		return false
	}

	m.setStatus(true, nil)
	return true
}

// Close disconnects and clears the handles. Closing a closed Manager returns
// true. A failed disconnect returns false but the handles are still dropped.
func (m *Manager) Close(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(ctx)
}

func (m *Manager) closeLocked(ctx context.Context) bool {
	client := m.client
	m.client = nil
	m.database = nil

	if client == nil {
		m.markDisconnected(nil)
		return true
	}

	err := client.Disconnect(ctx)
	m.markDisconnected(err)
	if err != nil {
		m.logger.Error("failed to close database connection", "error", err)
		return false
	}
	m.logger.Info("database connection closed")
	return true
}

// Reconnect closes and initializes as one step; no caller can observe the
// gap between the two.
func (m *Manager) Reconnect(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("reconnecting to database", "database", m.cfg.Database)
	m.closeLocked(ctx)
	return m.connectLocked(ctx) == nil
}

// Connected returns the last recorded connection state without probing.
func (m *Manager) Connected() bool {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.status.Connected
}

// Status returns the recorded state plus a live health check. The check and
// the server metadata lookup only run while the Manager believes it is
// connected.
func (m *Manager) Status(ctx context.Context) ConnectionStatus {
	report := ConnectionStatus{Database: m.cfg.Database}

	if m.Connected() {
		report.Healthy = m.Ping(ctx)
	}

	if report.Healthy {
		m.mu.RLock()
		client := m.client
		m.mu.RUnlock()
		if client != nil {
			info, err := client.ServerInfo(ctx)
			if err != nil {
				m.logger.Debug("server metadata unavailable", "error", err)
			} else {
				report.Server = info
			}
		}
	}

	m.statusMu.RLock()
	report.Status = m.status
	m.statusMu.RUnlock()
	return report
}

func (m *Manager) setStatus(connected bool, err error) {
	m.statusMu.Lock()
	m.status.Connected = connected
	m.status.LastAttempt = time.Now().UTC()
	if err != nil {
		m.status.LastError = err.Error()
	} else {
		m.status.LastError = ""
	}
	m.statusMu.Unlock()

	if connected {
		m.metrics.Gauge(MetricConnected, 1)
	} else {
		m.metrics.Gauge(MetricConnected, 0)
	}
}

// markDisconnected keeps LastAttempt and LastError from the last dial unless
// the disconnect itself failed.
func (m *Manager) markDisconnected(err error) {
	m.statusMu.Lock()
	m.status.Connected = false
	if err != nil && !errors.Is(err, context.Canceled) {
		m.status.LastError = err.Error()
	}
	m.statusMu.Unlock()

	m.metrics.Gauge(MetricConnected, 0)
}
