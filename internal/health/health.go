package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/service"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check
type Check struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Report represents the overall health report
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]Check       `json:"checks"`
	Services  map[string]interface{} `json:"services,omitempty"`
	Events    map[string]int64       `json:"events,omitempty"`
}

// Checker is an interface for health checkers
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// StatusSource provides service lifecycle states
type StatusSource interface {
	GetAllStatuses() map[string]*service.ServiceStatus
}

// Manager manages health checks
type Manager struct {
	logger       *logger.Logger
	checkers     []Checker
	services     StatusSource
	startTime    time.Time
	checkTimeout time.Duration
	events       map[service.EventType]int64
	mu           sync.RWMutex
}

// NewManager creates a new health check manager. services may be nil.
func NewManager(log *logger.Logger, services StatusSource) *Manager {
	return &Manager{
		logger:       log.Named("health"),
		services:     services,
		startTime:    time.Now(),
		checkTimeout: 3 * time.Second,
		events:       make(map[service.EventType]int64),
	}
}

// WatchEvents counts events published on bus by type until ctx is done or
// the bus is closed. The counts are part of every report.
func (m *Manager) WatchEvents(ctx context.Context, bus *service.EventBus) {
	ch := bus.SubscribeAll()
	go func() {
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				m.mu.Lock()
				m.events[event.Type]++
				m.mu.Unlock()
				if event.Type == service.EventTypeLedgerFailure {
					m.logger.Warn("Ledger failure reported", "source", event.Source, "scan_id", event.Data["scan_id"])
				}
			case <-ctx.Done():
				bus.Unsubscribe("", ch)
				return
			}
		}
	}()
}

// RegisterChecker registers a health checker
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// RegisterRoutes mounts the health endpoints on r
func (m *Manager) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", m.handleHealth)
	r.GET("/health/live", m.handleLiveness)
	r.GET("/health/ready", m.handleReadiness)
}

// Check performs all health checks
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	events := make(map[string]int64, len(m.events))
	for t, n := range m.events {
		events[string(t)] = n
	}
	m.mu.RUnlock()

	checks := make(map[string]Check, len(checkers))
	overall := StatusHealthy

	for _, checker := range checkers {
		cctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
		check := checker.Check(cctx)
		cancel()
		checks[check.Name] = check

		if check.Status == StatusUnhealthy {
			overall = StatusUnhealthy
		} else if check.Status == StatusDegraded && overall == StatusHealthy {
			overall = StatusDegraded
		}
	}

	services := make(map[string]interface{})
	if m.services != nil {
		for name, st := range m.services.GetAllStatuses() {
			entry := map[string]interface{}{
				"status": st.GetStatus(),
				"uptime": st.Uptime().Round(time.Second).String(),
			}
			if err := st.GetError(); err != nil {
				entry["error"] = err.Error()
				if overall == StatusHealthy {
					overall = StatusDegraded
				}
			}
			services[name] = entry
		}
	}

	return Report{
		Status:    overall,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		Checks:    checks,
		Services:  services,
		Events:    events,
	}
}

func (m *Manager) handleHealth(c *gin.Context) {
	report := m.Check(c.Request.Context())

	// degraded still answers 200
	statusCode := http.StatusOK
	if report.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
		m.logger.Warn("Health check failed", "checks", len(report.Checks))
	}
	c.JSON(statusCode, report)
}

func (m *Manager) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
	})
}

func (m *Manager) handleReadiness(c *gin.Context) {
	report := m.Check(c.Request.Context())

	statusCode := http.StatusOK
	if report.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"status":    report.Status,
		"timestamp": report.Timestamp,
		"ready":     report.Status != StatusUnhealthy,
	})
}
