// Package health supervises the worker: it tracks the heartbeat,
// restarts a stalled worker, and exposes process metrics.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultCheckInterval is the time between heartbeat checks.
	DefaultCheckInterval = 10 * time.Second

	// DefaultHeartbeatTimeout is the stale-heartbeat threshold.
	DefaultHeartbeatTimeout = 30 * time.Second

	// DefaultMaxFailures is the consecutive restart-failure count that
	// raises a persistent alert.
	DefaultMaxFailures = 3

	// restartStopDelay separates stop from start during a restart.
	restartStopDelay = 2 * time.Second

	// restartSettleDelay gives the restarted worker time to heartbeat
	// before the re-check.
	restartSettleDelay = 5 * time.Second
)

// Target is the supervised worker surface.
type Target interface {
	IsRunning() bool
	LastHeartbeat() time.Time
	Start(ctx context.Context) error
	Stop()
	WatchedProjects() int
	PendingEvents() int
}

// Metrics is the monitor's status snapshot.
type Metrics struct {
	Healthy            bool          `json:"healthy"`
	Running            bool          `json:"running"`
	RestartCount       int           `json:"restart_count"`
	FailureCount       int           `json:"failure_count"`
	AlertRaised        bool          `json:"alert_raised"`
	CPUPercent         float64       `json:"cpu_percent"`
	MemoryMB           float64       `json:"memory_mb"`
	WatchedProjects    int           `json:"watched_projects"`
	PendingEvents      int           `json:"pending_events"`
	TimeSinceHeartbeat time.Duration `json:"time_since_heartbeat"`
}

// Config tunes a Monitor. Zero values use the defaults.
type Config struct {
	CheckInterval    time.Duration
	HeartbeatTimeout time.Duration
	MaxFailures      int
	Logger           *slog.Logger

	// OnAlert fires once when consecutive restart failures reach
	// MaxFailures. Nil means log-only.
	OnAlert func(failures int)
}

// Monitor watches one Target.
type Monitor struct {
	mu sync.Mutex

	target  Target
	cfg     Config
	logger  *slog.Logger
	onAlert func(failures int)

	restartCount int
	failureCount int
	alertRaised  bool

	cpu cpuSampler

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a monitor over the given target.
func New(target Target, cfg Config) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}

	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}

	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Monitor{
		target:  target,
		cfg:     cfg,
		logger:  logger,
		onAlert: cfg.OnAlert,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Run checks the target until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce performs one health check, restarting the target when the
// heartbeat is stale or the target is not running. Returns whether the
// target is healthy after the check.
func (m *Monitor) CheckOnce(ctx context.Context) bool {
	if m.isHealthy() {
		m.mu.Lock()
		m.failureCount = 0
		m.alertRaised = false
		m.mu.Unlock()

		return true
	}

	m.logger.WarnContext(ctx, "worker unhealthy, attempting restart",
		"running", m.target.IsRunning(),
		"time_since_heartbeat", m.now().Sub(m.target.LastHeartbeat()))

	recovered := m.restart(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.restartCount++

	if recovered {
		m.failureCount = 0
		m.alertRaised = false
		m.logger.InfoContext(ctx, "worker restarted", "restart_count", m.restartCount)

		return true
	}

	m.failureCount++
	m.logger.ErrorContext(ctx, "worker restart failed",
		"failure_count", m.failureCount, "max_failures", m.cfg.MaxFailures)

	if m.failureCount >= m.cfg.MaxFailures && !m.alertRaised {
		m.alertRaised = true
		m.logger.ErrorContext(ctx, "worker repeatedly failing to restart, alerting",
			"failure_count", m.failureCount)

		if m.onAlert != nil {
			m.onAlert(m.failureCount)
		}
	}

	return false
}

// Metrics returns the current status snapshot.
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	restarts := m.restartCount
	failures := m.failureCount
	alerted := m.alertRaised
	m.mu.Unlock()

	return Metrics{
		Healthy:            m.isHealthy(),
		Running:            m.target.IsRunning(),
		RestartCount:       restarts,
		FailureCount:       failures,
		AlertRaised:        alerted,
		CPUPercent:         m.cpu.Sample(m.now()),
		MemoryMB:           memoryMB(),
		WatchedProjects:    m.target.WatchedProjects(),
		PendingEvents:      m.target.PendingEvents(),
		TimeSinceHeartbeat: m.now().Sub(m.target.LastHeartbeat()),
	}
}

func (m *Monitor) isHealthy() bool {
	if !m.target.IsRunning() {
		return false
	}

	return m.now().Sub(m.target.LastHeartbeat()) <= m.cfg.HeartbeatTimeout
}

// restart stops the target, waits, starts it, waits again, and
// re-checks the heartbeat.
func (m *Monitor) restart(ctx context.Context) bool {
	m.target.Stop()

	err := m.sleep(ctx, restartStopDelay)
	if err != nil {
		return false
	}

	err = m.target.Start(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "restarting worker", "error", err)

		return false
	}

	err = m.sleep(ctx, restartSettleDelay)
	if err != nil {
		return false
	}

	return m.isHealthy()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
