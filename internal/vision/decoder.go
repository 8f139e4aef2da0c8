package vision

import (
	"fmt"
	"math"
)

// DefaultRegMax is the number of distribution bins per box side
const DefaultRegMax = 16

// RawOutput is the head output of a distribution-focal detector for one
// image. Distances has shape [4*RegMax, NumAnchors] laid out side-major
// (left, top, right, bottom), then bin, then anchor. Logits has shape
// [NumClasses, NumAnchors].
type RawOutput struct {
	Distances  []float32
	Logits     []float32
	NumAnchors int
	NumClasses int
	RegMax     int
}

// Candidate is the decoded prediction of one anchor, before suppression
type Candidate struct {
	Index  int
	Box    Box
	Scores []float64
}

// Best returns the highest scoring class; ties go to the lower class index.
// Non-finite scores are ignored, and class is -1 when none remain.
func (c Candidate) Best() (class int, score float64) {
	class = -1
	for i, s := range c.Scores {
		if !isFinite(s) {
			continue
		}
		if class < 0 || s > score {
			class, score = i, s
		}
	}
	return class, score
}

// Decoder turns RawOutput into per-anchor candidates for a fixed anchor grid
type Decoder struct {
	anchors []Point
	strides []float64
	softmax bool
}

// DecoderOption configures a Decoder
type DecoderOption func(*Decoder)

// WithProbabilities treats distance bins as probabilities that already sum
// to one, skipping the softmax
func WithProbabilities() DecoderOption {
	return func(d *Decoder) { d.softmax = false }
}

// NewDecoder creates a decoder for the given anchors. anchors and strides
// are parallel slices, one entry per anchor.
func NewDecoder(anchors []Point, strides []float64, opts ...DecoderOption) *Decoder {
	d := &Decoder{anchors: anchors, strides: strides, softmax: true}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NumAnchors returns the number of anchors the decoder expects
func (d *Decoder) NumAnchors() int {
	return len(d.anchors)
}

// Decode produces one candidate per anchor, in anchor order. No thresholding
// is applied.
func (d *Decoder) Decode(out *RawOutput) ([]Candidate, error) {
	if out == nil {
		return nil, &DecodeError{Op: "decode", Reason: "no model output"}
	}
	if len(d.anchors) != len(d.strides) {
		return nil, shapeError("strides", len(d.anchors), len(d.strides))
	}
	a := out.NumAnchors
	if a != len(d.anchors) {
		return nil, shapeError("anchor grid", a, len(d.anchors))
	}
	regMax := out.RegMax
	if regMax == 0 {
		regMax = DefaultRegMax
	}
	if regMax < 1 {
		return nil, &DecodeError{Op: "decode", Reason: "reg_max must be positive"}
	}
	if len(out.Distances) != 4*regMax*a {
		return nil, shapeError("distances", 4*regMax*a, len(out.Distances))
	}
	if out.NumClasses < 1 {
		return nil, &DecodeError{Op: "decode", Reason: "no classes in model output"}
	}
	if len(out.Logits) != out.NumClasses*a {
		return nil, shapeError("logits", out.NumClasses*a, len(out.Logits))
	}
	if err := checkFinite("distances", out.Distances); err != nil {
		return nil, err
	}
	if err := checkFinite("logits", out.Logits); err != nil {
		return nil, err
	}

	bins := make([]float64, regMax)
	cands := make([]Candidate, a)
	for i := 0; i < a; i++ {
		var dist [4]float64
		for side := 0; side < 4; side++ {
			for bin := 0; bin < regMax; bin++ {
				bins[bin] = float64(out.Distances[(side*regMax+bin)*a+i])
			}
			dist[side] = d.expectation(bins)
		}

		xyxy := DistToBox(d.anchors[i], dist, false)
		stride := d.strides[i]

		scores := make([]float64, out.NumClasses)
		for c := range scores {
			scores[c] = sigmoid(float64(out.Logits[c*a+i]))
		}

		cands[i] = Candidate{
			Index: i,
			Box: Box{
				X1: xyxy[0] * stride,
				Y1: xyxy[1] * stride,
				X2: xyxy[2] * stride,
				Y2: xyxy[3] * stride,
			},
			Scores: scores,
		}
	}
	return cands, nil
}

// expectation returns sum(p_i * i) over the bins, applying softmax first
// unless the decoder was built WithProbabilities
func (d *Decoder) expectation(bins []float64) float64 {
	if !d.softmax {
		var e float64
		for i, p := range bins {
			e += p * float64(i)
		}
		return e
	}

	peak := bins[0]
	for _, v := range bins[1:] {
		if v > peak {
			peak = v
		}
	}
	var sum, weighted float64
	for i, v := range bins {
		p := math.Exp(v - peak)
		sum += p
		weighted += p * float64(i)
	}
	return weighted / sum
}

// DistToBox converts (left, top, right, bottom) distances around an anchor
// into corner form, or center+size form when xywh is set. Units are those of
// the anchor grid.
func DistToBox(anchor Point, dist [4]float64, xywh bool) [4]float64 {
	x1, y1 := anchor.X-dist[0], anchor.Y-dist[1]
	x2, y2 := anchor.X+dist[2], anchor.Y+dist[3]
	if xywh {
		return [4]float64{(x1 + x2) / 2, (y1 + y2) / 2, x2 - x1, y2 - y1}
	}
	return [4]float64{x1, y1, x2, y2}
}

// MakeAnchors builds the anchor grid for a square input: one anchor per
// cell of each stride's feature map, placed at the cell offset (0.5 for
// cell centers). Anchors are in grid units; strides scale them to pixels.
func MakeAnchors(inputSize int, strides []int, offset float64) ([]Point, []float64) {
	var total int
	for _, s := range strides {
		if s > 0 {
			n := inputSize / s
			total += n * n
		}
	}

	anchors := make([]Point, 0, total)
	anchorStrides := make([]float64, 0, total)
	for _, s := range strides {
		if s <= 0 {
			continue
		}
		n := inputSize / s
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				anchors = append(anchors, Point{X: float64(x) + offset, Y: float64(y) + offset})
				anchorStrides = append(anchorStrides, float64(s))
			}
		}
	}
	return anchors, anchorStrides
}

func checkFinite(what string, values []float32) error {
	for i, v := range values {
		if !isFinite(float64(v)) {
			return &DecodeError{
				Op:     "decode",
				Reason: fmt.Sprintf("%s element %d is not finite (%v)", what, i, v),
			}
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
