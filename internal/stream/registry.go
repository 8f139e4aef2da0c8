package stream

import (
	"sync"

	"github.com/connergroth/EcoVision/internal/logger"
)

// Registry tracks the live gates of every user so that a committed full
// detect can be reflected on that user's open streams
type Registry struct {
	mu        sync.RWMutex
	gates     map[string]map[*Gate]struct{}
	detector  Detector
	threshold float64
	logger    *logger.Logger
}

// NewRegistry creates a registry whose gates share one detector and threshold
func NewRegistry(det Detector, threshold float64, log *logger.Logger) *Registry {
	return &Registry{
		gates:     make(map[string]map[*Gate]struct{}),
		detector:  det,
		threshold: threshold,
		logger:    log,
	}
}

// Open creates and tracks a gate for a new connection
func (r *Registry) Open(userID string) *Gate {
	g := NewGate(userID, r.detector, r.threshold, r.logger)

	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.gates[userID]
	if !ok {
		set = make(map[*Gate]struct{})
		r.gates[userID] = set
	}
	set[g] = struct{}{}
	return g
}

// Close stops tracking a gate
func (r *Registry) Close(g *Gate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.gates[g.userID]
	delete(set, g)
	if len(set) == 0 {
		delete(r.gates, g.userID)
	}
}

// MarkPersisted moves every gate of the user to persisted and returns how
// many gates were touched
func (r *Registry) MarkPersisted(userID string) int {
	r.mu.RLock()
	gates := make([]*Gate, 0, len(r.gates[userID]))
	for g := range r.gates[userID] {
		gates = append(gates, g)
	}
	r.mu.RUnlock()

	for _, g := range gates {
		g.MarkPersisted()
	}
	return len(gates)
}

// Count returns the number of open gates
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.gates {
		n += len(set)
	}
	return n
}
