package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/connergroth/EcoVision/internal/ledger"
	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
	"github.com/connergroth/EcoVision/internal/service"
	"github.com/connergroth/EcoVision/internal/stream"
	"github.com/connergroth/EcoVision/internal/vision"
)

const (
	msgLowConfidence = "No recyclable items detected with sufficient confidence"
	msgLedgerFailure = "Failed to record scan, please retry with the same scan_id"
)

// Config holds the detection policy. InfoBudget caps the time spent
// resolving recycling information; CommitReserve is kept back from the
// request deadline for the ledger write.
type Config struct {
	ConfidenceThreshold float64
	PointsPerRecyclable int
	InfoBudget          time.Duration
	CommitReserve       time.Duration
}

// InfoResolver resolves recycling guidance for a category
type InfoResolver interface {
	Resolve(ctx context.Context, category models.Category, confidence float64) *models.RecyclingInfo
}

// Recorder persists accepted detections
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) (*ledger.Result, error)
}

// DetectRequest is one full-detect call
type DetectRequest struct {
	UserID           string
	Username         string
	Image            []byte
	ClientConfidence *float64
	// ScanID makes retries idempotent; a new id is generated when empty
	ScanID   string
	ImageURL string
}

// Service runs the detection pipeline: detect, gate on confidence,
// resolve guidance, award points and record
type Service struct {
	*service.ServiceBase
	detector stream.Detector
	resolver InfoResolver
	recorder Recorder
	streams  *stream.Registry
	config   Config
}

// New creates the pipeline service
func New(det stream.Detector, resolver InfoResolver, rec Recorder, cfg Config, log *logger.Logger) *Service {
	if cfg.PointsPerRecyclable <= 0 {
		cfg.PointsPerRecyclable = 10
	}
	return &Service{
		ServiceBase: service.NewServiceBase("pipeline", log),
		detector:    det,
		resolver:    resolver,
		recorder:    rec,
		streams:     stream.NewRegistry(det, cfg.ConfidenceThreshold, log.Named("stream")),
		config:      cfg,
	}
}

// Detect runs the full path for one image. The response envelope always
// carries the outcome; there is no separate error return.
func (s *Service) Detect(ctx context.Context, req DetectRequest) models.DetectionResponse {
	start := time.Now()

	dets, err := s.detector.Detect(ctx, req.Image, false)
	if err != nil {
		return s.detectionFailed(req, err)
	}

	best, ok := topDetection(dets)
	if req.ClientConfidence != nil {
		s.LogInfo("Client provided confidence",
			"user_id", req.UserID,
			"client_confidence", *req.ClientConfidence,
			"server_confidence", best.Confidence,
		)
	}

	if !ok || best.Confidence < s.config.ConfidenceThreshold {
		s.PublishEvent(service.EventTypeDetectionRejected, map[string]interface{}{
			"user_id":    req.UserID,
			"confidence": best.Confidence,
		})
		return models.DetectionResponse{
			Success:      true,
			ErrorMessage: msgLowConfidence,
		}
	}

	resolveCtx, cancel := s.resolveContext(ctx)
	info := s.resolver.Resolve(resolveCtx, best.Category, best.Confidence)
	cancel()

	points := 0
	if info.Recyclable {
		points = s.config.PointsPerRecyclable
	}

	scanID := req.ScanID
	if scanID == "" {
		scanID = uuid.NewString()
	}

	result, err := s.recorder.Record(ctx, ledger.Entry{
		UserID:    req.UserID,
		Username:  req.Username,
		ScanID:    scanID,
		Timestamp: time.Now().UTC(),
		Detection: best,
		Info:      *info,
		Points:    points,
		ImageURL:  req.ImageURL,
	})
	if err != nil {
		return s.recordFailed(req, scanID, best, info, err)
	}

	if result.Applied {
		s.PublishEvent(service.EventTypeScanRecorded, map[string]interface{}{
			"user_id": req.UserID,
			"scan_id": scanID,
			"points":  points,
		})
	} else {
		s.PublishEvent(service.EventTypeScanDuplicate, map[string]interface{}{
			"user_id": req.UserID,
			"scan_id": scanID,
		})
	}

	touched := s.streams.MarkPersisted(req.UserID)
	s.PublishEvent(service.EventTypeDetectionCommitted, map[string]interface{}{
		"user_id":    req.UserID,
		"scan_id":    scanID,
		"category":   string(best.Category),
		"confidence": best.Confidence,
		"source":     string(info.Source),
	})

	s.LogInfo("Detection committed",
		"user_id", req.UserID,
		"scan_id", scanID,
		"category", best.Category,
		"confidence", best.Confidence,
		"points", points,
		"info_source", info.Source,
		"streams_marked", touched,
		"duration", time.Since(start),
	)

	return models.DetectionResponse{
		Success:       true,
		Detection:     &best,
		RecyclingInfo: info,
		PointsEarned:  &points,
		ScanID:        scanID,
		Duplicate:     !result.Applied,
	}
}

// resolveContext bounds information lookup by InfoBudget and by the request
// deadline less CommitReserve, whichever ends first. A resolver that runs out
// of time answers from the fallback, so the commit still has time to run.
func (s *Service) resolveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	budget := s.config.InfoBudget
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline) - s.config.CommitReserve
		if budget <= 0 || left < budget {
			budget = left
		}
	} else if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

func (s *Service) detectionFailed(req DetectRequest, err error) models.DetectionResponse {
	if errors.Is(err, vision.ErrDecode) {
		s.LogWarn("Image processing failed", "user_id", req.UserID, "error", err)
		return models.DetectionResponse{ErrorMessage: fmt.Sprintf("Image processing failed: %v", err)}
	}
	s.LogError("Detection failed", err, "user_id", req.UserID)
	return models.DetectionResponse{ErrorMessage: fmt.Sprintf("Detection failed: %v", err)}
}

func (s *Service) recordFailed(req DetectRequest, scanID string, det models.Detection, info *models.RecyclingInfo, err error) models.DetectionResponse {
	s.LogError("Failed to record scan", err, "user_id", req.UserID, "scan_id", scanID)
	s.PublishEvent(service.EventTypeLedgerFailure, map[string]interface{}{
		"user_id": req.UserID,
		"scan_id": scanID,
		"error":   err.Error(),
	})

	msg := msgLedgerFailure
	if !errors.Is(err, ledger.ErrLedgerWrite) {
		msg = fmt.Sprintf("Failed to record scan: %v", err)
	}
	return models.DetectionResponse{
		Detection:     &det,
		RecyclingInfo: info,
		ScanID:        scanID,
		ErrorMessage:  msg,
	}
}

// Continuous evaluates one frame with streaming semantics and no state
func (s *Service) Continuous(ctx context.Context, req DetectRequest) models.StreamResponse {
	if req.ClientConfidence != nil {
		s.LogDebug("Client provided confidence", "user_id", req.UserID, "client_confidence", *req.ClientConfidence)
	}
	return stream.Evaluate(ctx, s.detector, req.Image, s.config.ConfidenceThreshold)
}

// OpenStream creates a gate for a new streaming connection
func (s *Service) OpenStream(userID string) *stream.Gate {
	g := s.streams.Open(userID)
	s.PublishEvent(service.EventTypeStreamOpened, map[string]interface{}{"user_id": userID})
	return g
}

// CloseStream releases a gate
func (s *Service) CloseStream(g *stream.Gate) {
	s.streams.Close(g)
	s.PublishEvent(service.EventTypeStreamClosed, map[string]interface{}{
		"user_id": g.UserID(),
		"frames":  g.Frames(),
	})
}

// OpenStreams returns the number of live streaming connections
func (s *Service) OpenStreams() int {
	return s.streams.Count()
}

func topDetection(dets []models.Detection) (models.Detection, bool) {
	if len(dets) == 0 {
		return models.Detection{}, false
	}
	top := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > top.Confidence {
			top = d
		}
	}
	return top, true
}
