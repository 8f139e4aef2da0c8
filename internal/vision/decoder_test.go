package vision

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRaw builds a RawOutput with uniform distance bins and strongly
// negative class logits
func newRaw(anchors, classes int) *RawOutput {
	raw := &RawOutput{
		Distances:  make([]float32, 4*DefaultRegMax*anchors),
		Logits:     make([]float32, classes*anchors),
		NumAnchors: anchors,
		NumClasses: classes,
		RegMax:     DefaultRegMax,
	}
	for i := range raw.Logits {
		raw.Logits[i] = -10
	}
	return raw
}

func setDist(raw *RawOutput, anchor, side, bin int, v float32) {
	raw.Distances[(side*raw.RegMax+bin)*raw.NumAnchors+anchor] = v
}

func setLogit(raw *RawOutput, class, anchor int, v float32) {
	raw.Logits[class*raw.NumAnchors+anchor] = v
}

// oneHotSides puts all probability mass of every side of an anchor on bin
func oneHotSides(raw *RawOutput, anchor, bin int, v float32) {
	for side := 0; side < 4; side++ {
		setDist(raw, anchor, side, bin, v)
	}
}

func TestDecode_OneHotBinFourStrideEight(t *testing.T) {
	raw := newRaw(1, 1)
	oneHotSides(raw, 0, 4, 1)

	dec := NewDecoder([]Point{{X: 10, Y: 10}}, []float64{8}, WithProbabilities())
	cands, err := dec.Decode(raw)
	require.NoError(t, err)
	require.Len(t, cands, 1)

	box := cands[0].Box
	assert.Equal(t, 64.0, box.Width())
	assert.Equal(t, 64.0, box.Height())
	assert.Equal(t, Box{X1: 48, Y1: 48, X2: 112, Y2: 112}, box)
}

func TestDecode_SoftmaxConcentratedBin(t *testing.T) {
	raw := newRaw(1, 2)
	oneHotSides(raw, 0, 4, 60)
	setLogit(raw, 1, 0, 0)

	cands, err := NewDecoder([]Point{{X: 10, Y: 10}}, []float64{8}).Decode(raw)
	require.NoError(t, err)

	assert.InDelta(t, 64.0, cands[0].Box.Width(), 1e-6)
	assert.InDelta(t, 64.0, cands[0].Box.Height(), 1e-6)

	class, score := cands[0].Best()
	assert.Equal(t, 1, class)
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestDecode_UniformBinsGiveMidpoint(t *testing.T) {
	raw := newRaw(1, 1)

	cands, err := NewDecoder([]Point{{X: 0.5, Y: 0.5}}, []float64{1}).Decode(raw)
	require.NoError(t, err)

	// expected value of a uniform distribution over 0..15 is 7.5
	assert.InDelta(t, -7.0, cands[0].Box.X1, 1e-9)
	assert.InDelta(t, 8.0, cands[0].Box.X2, 1e-9)
}

func TestDecode_AsymmetricSides(t *testing.T) {
	raw := newRaw(1, 1)
	setDist(raw, 0, 0, 1, 1) // left
	setDist(raw, 0, 1, 2, 1) // top
	setDist(raw, 0, 2, 3, 1) // right
	setDist(raw, 0, 3, 5, 1) // bottom

	cands, err := NewDecoder([]Point{{X: 4, Y: 4}}, []float64{2}, WithProbabilities()).Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, Box{X1: 6, Y1: 4, X2: 14, Y2: 18}, cands[0].Box)
}

func TestDecode_DenseAndOrdered(t *testing.T) {
	anchors, strides := MakeAnchors(32, []int{8, 16}, 0.5)
	raw := newRaw(len(anchors), 3)

	cands, err := NewDecoder(anchors, strides).Decode(raw)
	require.NoError(t, err)
	require.Len(t, cands, len(anchors))
	for i, c := range cands {
		assert.Equal(t, i, c.Index)
		assert.Len(t, c.Scores, 3)
	}
}

func TestDecode_ShapeMismatch(t *testing.T) {
	anchors := []Point{{X: 1, Y: 1}, {X: 2, Y: 2}}
	strides := []float64{8, 8}

	tests := []struct {
		name string
		raw  *RawOutput
	}{
		{"nil output", nil},
		{"anchor count", newRaw(3, 1)},
		{"distances length", func() *RawOutput {
			r := newRaw(2, 1)
			r.Distances = r.Distances[:10]
			return r
		}()},
		{"logits length", func() *RawOutput {
			r := newRaw(2, 2)
			r.Logits = r.Logits[:3]
			return r
		}()},
		{"no classes", func() *RawOutput {
			r := newRaw(2, 1)
			r.NumClasses = 0
			r.Logits = nil
			return r
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(anchors, strides).Decode(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode))

			var de *DecodeError
			assert.True(t, errors.As(err, &de))
		})
	}
}

func TestDecode_RejectsNonFiniteOutput(t *testing.T) {
	anchors := []Point{{X: 1, Y: 1}}
	strides := []float64{8}
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name string
		mod  func(r *RawOutput)
	}{
		{"nan logit", func(r *RawOutput) { setLogit(r, 0, 0, nan) }},
		{"inf logit", func(r *RawOutput) { setLogit(r, 1, 0, inf) }},
		{"nan distance", func(r *RawOutput) { setDist(r, 0, 2, 3, nan) }},
		{"inf distance", func(r *RawOutput) { setDist(r, 0, 0, 0, -inf) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := newRaw(1, 2)
			tt.mod(raw)

			cands, err := NewDecoder(anchors, strides).Decode(raw)
			require.Error(t, err)
			assert.Nil(t, cands)
			assert.ErrorIs(t, err, ErrDecode)
			assert.Contains(t, err.Error(), "not finite")
		})
	}
}

func TestCandidateBest_IgnoresNonFiniteScores(t *testing.T) {
	c := Candidate{Scores: []float64{math.NaN(), 0.4, math.Inf(1)}}
	class, score := c.Best()
	assert.Equal(t, 1, class)
	assert.Equal(t, 0.4, score)

	class, _ = Candidate{Scores: []float64{math.NaN()}}.Best()
	assert.Equal(t, -1, class)
}

func TestMakeAnchors(t *testing.T) {
	anchors, strides := MakeAnchors(640, []int{8, 16, 32}, 0.5)
	require.Len(t, anchors, 80*80+40*40+20*20)
	require.Len(t, strides, len(anchors))

	assert.Equal(t, Point{X: 0.5, Y: 0.5}, anchors[0])
	assert.Equal(t, 8.0, strides[0])
	assert.Equal(t, Point{X: 1.5, Y: 0.5}, anchors[1])
	assert.Equal(t, Point{X: 0.5, Y: 1.5}, anchors[80])
	assert.Equal(t, Point{X: 19.5, Y: 19.5}, anchors[len(anchors)-1])
	assert.Equal(t, 32.0, strides[len(strides)-1])
}

func TestDistToBox(t *testing.T) {
	anchor := Point{X: 5, Y: 5}
	dist := [4]float64{1, 2, 3, 4}

	assert.Equal(t, [4]float64{4, 3, 8, 9}, DistToBox(anchor, dist, false))
	assert.Equal(t, [4]float64{6, 6, 4, 6}, DistToBox(anchor, dist, true))
}

func TestCandidateBest_TieGoesToLowerClass(t *testing.T) {
	c := Candidate{Scores: []float64{0.3, 0.8, 0.8}}
	class, score := c.Best()
	assert.Equal(t, 1, class)
	assert.Equal(t, 0.8, score)

	class, _ = Candidate{}.Best()
	assert.Equal(t, -1, class)
}
