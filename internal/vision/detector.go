package vision

import (
	"context"
	"fmt"

	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
)

// DetectorConfig contains the model geometry and suppression settings
type DetectorConfig struct {
	InputSize       int
	StreamInputSize int
	Strides         []int
	Labels          models.Labels
	Suppress        SuppressOptions
}

type anchorGrid struct {
	anchors []Point
	strides []float64
}

// Detector runs preprocess, inference, decode and suppression for an image
type Detector struct {
	engine Engine
	cfg    DetectorConfig
	grids  map[int]anchorGrid
	logger *logger.Logger
}

// NewDetector creates a detector around an inference engine. Anchor grids
// for the full and streaming input sizes are computed once.
func NewDetector(engine Engine, cfg DetectorConfig, log *logger.Logger) *Detector {
	if cfg.InputSize == 0 {
		cfg.InputSize = 640
	}
	if cfg.StreamInputSize == 0 {
		cfg.StreamInputSize = 320
	}
	if len(cfg.Strides) == 0 {
		cfg.Strides = []int{8, 16, 32}
	}

	grids := make(map[int]anchorGrid, 2)
	for _, size := range []int{cfg.InputSize, cfg.StreamInputSize} {
		anchors, strides := MakeAnchors(size, cfg.Strides, 0.5)
		grids[size] = anchorGrid{anchors: anchors, strides: strides}
	}

	return &Detector{
		engine: engine,
		cfg:    cfg,
		grids:  grids,
		logger: log,
	}
}

// Detect classifies an image. Streaming mode uses the smaller input size.
// The returned detections are sorted by confidence, highest first, with
// boxes in original image pixels.
func (d *Detector) Detect(ctx context.Context, image []byte, streaming bool) ([]models.Detection, error) {
	size := d.cfg.InputSize
	if streaming {
		size = d.cfg.StreamInputSize
	}

	frame, err := Preprocess(image, size)
	if err != nil {
		return nil, err
	}

	raw, err := d.engine.Infer(ctx, frame.Tensor)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	grid := d.grids[size]
	cands, err := NewDecoder(grid.anchors, grid.strides).Decode(raw)
	if err != nil {
		return nil, err
	}

	preds := Suppress(cands, d.cfg.Suppress)

	sx := float64(frame.Width) / float64(size)
	sy := float64(frame.Height) / float64(size)
	detections := make([]models.Detection, 0, len(preds))
	for _, p := range preds {
		b := p.Box.Scale(sx, sy, float64(frame.Width), float64(frame.Height))
		detections = append(detections, models.Detection{
			Category:   d.cfg.Labels.At(p.Class),
			Confidence: p.Score,
			BoundingBox: &models.BoundingBox{
				XMin: b.X1,
				YMin: b.Y1,
				XMax: b.X2,
				YMax: b.Y2,
			},
		})
	}

	d.logger.Debug("Detection completed",
		"streaming", streaming,
		"candidates", len(cands),
		"detections", len(detections),
	)
	return detections, nil
}
