package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
	"github.com/connergroth/EcoVision/internal/vision"
)

// State is the lifecycle state of a stream gate
type State int

const (
	StateIdle State = iota
	StateSampling
	StateCommitReady
	StatePersisted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateCommitReady:
		return "commit_ready"
	case StatePersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// Detector classifies one frame
type Detector interface {
	Detect(ctx context.Context, image []byte, streaming bool) ([]models.Detection, error)
}

// Gate decides, frame by frame, whether a stream has produced a detection
// worth committing. It never records anything: committing is a separate
// full-detect call by the client. Frames are processed one at a time.
type Gate struct {
	mu        sync.Mutex
	userID    string
	detector  Detector
	threshold float64
	logger    *logger.Logger

	state   State
	pending *models.Detection
	frames  uint64
}

// NewGate creates a gate in the idle state
func NewGate(userID string, det Detector, threshold float64, log *logger.Logger) *Gate {
	return &Gate{
		userID:    userID,
		detector:  det,
		threshold: threshold,
		logger:    log.With("user_id", userID),
		state:     StateIdle,
	}
}

// UserID returns the user the gate belongs to
func (g *Gate) UserID() string {
	return g.userID
}

// Observe runs streaming detection on one frame. The client confidence hint
// is logged and otherwise ignored; the server threshold decides.
func (g *Gate) Observe(ctx context.Context, frame []byte, clientHint *float64) models.StreamResponse {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.frames++
	dets, err := g.detector.Detect(ctx, frame, true)
	if err != nil {
		g.logger.Warn("Stream frame failed", "frame", g.frames, "state", g.state.String(), "error", err)
		msg := "Detection failed"
		if errors.Is(err, vision.ErrDecode) {
			msg = "Image processing failed"
		}
		return models.StreamResponse{Status: models.StreamError, Message: msg}
	}

	best, ok := bestDetection(dets)
	if clientHint != nil {
		g.logger.Debug("Client confidence hint",
			"frame", g.frames,
			"client_confidence", *clientHint,
			"server_confidence", best.Confidence,
		)
	}

	if !ok || best.Confidence < g.threshold {
		g.state = StateSampling
		g.pending = nil
		return models.StreamResponse{Status: models.StreamProcessing}
	}

	g.state = StateCommitReady
	g.pending = &best
	g.logger.Debug("Stream detection ready", "frame", g.frames, "category", best.Category, "confidence", best.Confidence)
	return models.StreamResponse{Status: models.StreamDetection, Detection: &best}
}

// State returns the current state
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Pending returns the detection that made the gate commit-ready, if any
func (g *Gate) Pending() *models.Detection {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return nil
	}
	d := *g.pending
	return &d
}

// MarkPersisted records that a full detect for this user was committed
func (g *Gate) MarkPersisted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateIdle {
		return
	}
	g.state = StatePersisted
	g.pending = nil
}

// Reset returns the gate to idle
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateIdle
	g.pending = nil
}

// Frames returns how many frames the gate has observed
func (g *Gate) Frames() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frames
}

// bestDetection returns the highest confidence detection
func bestDetection(dets []models.Detection) (models.Detection, bool) {
	if len(dets) == 0 {
		return models.Detection{}, false
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best, true
}

// Evaluate applies the gate decision to a single frame without keeping
// state. It backs the REST continuous-detection endpoint.
func Evaluate(ctx context.Context, det Detector, frame []byte, threshold float64) models.StreamResponse {
	return NewGate("", det, threshold, logger.NewNopLogger()).Observe(ctx, frame, nil)
}
