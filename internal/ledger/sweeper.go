package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/service"
)

// SweeperConfig contains configuration for the outbox sweeper
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Sweeper applies increments left pending by a crash between the history
// write and the increment. With an event bus attached it also sweeps as soon
// as a ledger failure is published.
type Sweeper struct {
	*service.ServiceBase
	ledger   *Ledger
	config   SweeperConfig
	running  bool
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	failures <-chan service.Event
}

// NewSweeper creates a new outbox sweeper
func NewSweeper(l *Ledger, cfg SweeperConfig, log *logger.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		ServiceBase: service.NewServiceBase("ledger-sweeper", log),
		ledger:      l,
		config:      cfg,
	}
}

// Start starts the sweep loop. The first sweep runs immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.GetStatus().SetStatus(service.StatusRunning)

	s.failures = nil
	if bus := s.GetEventBus(); bus != nil {
		s.failures = bus.Subscribe(service.EventTypeLedgerFailure)
	}

	go s.sweepLoop(loopCtx, s.failures)

	s.LogInfo("Ledger sweeper started", "interval", s.config.Interval, "batch_size", s.config.BatchSize)
	return nil
}

// Stop stops the sweep loop and waits for an in-flight sweep
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.running = false
	if bus := s.GetEventBus(); bus != nil && s.failures != nil {
		bus.Unsubscribe(service.EventTypeLedgerFailure, s.failures)
	}
	s.GetStatus().SetStatus(service.StatusStopped)

	s.LogInfo("Ledger sweeper stopped")
	return nil
}

func (s *Sweeper) sweepLoop(ctx context.Context, failures <-chan service.Event) {
	defer close(s.done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		case event, ok := <-failures:
			if !ok {
				// bus closed; keep the ticker
				failures = nil
				continue
			}
			s.LogDebug("Sweeping after ledger failure", "scan_id", event.Data["scan_id"])
			s.Sweep(ctx)
		}
	}
}

// Sweep drains one batch of pending increments
func (s *Sweeper) Sweep(ctx context.Context) int {
	drained, err := s.ledger.DrainPending(ctx, s.config.BatchSize)
	if err != nil {
		s.LogError("Failed to drain pending increments", err, "drained", drained)
		s.GetStatus().SetError(err)
	} else if s.GetStatus().GetStatus() == service.StatusError {
		s.GetStatus().SetStatus(service.StatusRunning)
	}
	if drained > 0 {
		s.LogInfo("Applied pending increments", "count", drained)
		s.PublishEvent(service.EventTypeOutboxDrained, map[string]interface{}{"count": drained})
	}
	return drained
}
