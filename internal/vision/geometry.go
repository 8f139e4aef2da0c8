package vision

import "math"

// Point is a location in model input space
type Point struct {
	X, Y float64
}

// Box is an axis-aligned box in corner form
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Width returns the box width, zero for degenerate boxes
func (b Box) Width() float64 {
	return math.Max(0, b.X2-b.X1)
}

// Height returns the box height, zero for degenerate boxes
func (b Box) Height() float64 {
	return math.Max(0, b.Y2-b.Y1)
}

// Area returns the box area
func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// XYWH returns the box in center+size form
func (b Box) XYWH() [4]float64 {
	return [4]float64{(b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2, b.X2 - b.X1, b.Y2 - b.Y1}
}

// IoU returns intersection over union with o. Two empty boxes have IoU 0.
func (b Box) IoU(o Box) float64 {
	ix := math.Max(0, math.Min(b.X2, o.X2)-math.Max(b.X1, o.X1))
	iy := math.Max(0, math.Min(b.Y2, o.Y2)-math.Max(b.Y1, o.Y1))
	inter := ix * iy
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func (b Box) finite() bool {
	return isFinite(b.X1) && isFinite(b.Y1) && isFinite(b.X2) && isFinite(b.Y2)
}

// Scale multiplies x coordinates by sx and y coordinates by sy, then clamps
// the result to [0,maxX]x[0,maxY]
func (b Box) Scale(sx, sy, maxX, maxY float64) Box {
	return Box{
		X1: clamp(b.X1*sx, 0, maxX),
		Y1: clamp(b.Y1*sy, 0, maxY),
		X2: clamp(b.X2*sx, 0, maxX),
		Y2: clamp(b.Y2*sy, 0, maxY),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
