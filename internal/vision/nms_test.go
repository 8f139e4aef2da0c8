package vision

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(index int, box Box, scores ...float64) Candidate {
	return Candidate{Index: index, Box: box, Scores: scores}
}

func TestSuppress_DropsBelowThreshold(t *testing.T) {
	cands := []Candidate{
		cand(0, Box{0, 0, 10, 10}, 0.2),
		cand(1, Box{20, 20, 30, 30}, 0.9),
	}
	got := Suppress(cands, SuppressOptions{ConfThreshold: 0.25, IoUThreshold: 0.5})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Index)
}

func TestSuppress_DropsNonFinite(t *testing.T) {
	cands := []Candidate{
		cand(0, Box{0, 0, 10, 10}, math.NaN(), -5),
		cand(1, Box{0, 0, math.NaN(), 10}, 0.9),
		cand(2, Box{20, 20, 30, 30}, 0.6),
	}
	got := Suppress(cands, SuppressOptions{ConfThreshold: 0.25, IoUThreshold: 0.5})
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Index)
	assert.Equal(t, 0.6, got[0].Score)
}

func TestSuppress_OverlapSameClass(t *testing.T) {
	cands := []Candidate{
		cand(0, Box{0, 0, 10, 10}, 0.8),
		cand(1, Box{1, 1, 11, 11}, 0.9),
		cand(2, Box{50, 50, 60, 60}, 0.7),
	}
	got := Suppress(cands, SuppressOptions{IoUThreshold: 0.5})
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 2, got[1].Index)
}

func TestSuppress_PerClassVersusAgnostic(t *testing.T) {
	cands := []Candidate{
		cand(0, Box{0, 0, 10, 10}, 0.9, 0.1),
		cand(1, Box{1, 1, 11, 11}, 0.1, 0.8),
	}

	perClass := Suppress(cands, SuppressOptions{IoUThreshold: 0.5})
	assert.Len(t, perClass, 2)
	assert.Equal(t, 0, perClass[0].Class)
	assert.Equal(t, 1, perClass[1].Class)

	agnostic := Suppress(cands, SuppressOptions{IoUThreshold: 0.5, Agnostic: true})
	require.Len(t, agnostic, 1)
	assert.Equal(t, 0, agnostic[0].Index)
}

func TestSuppress_IoUEqualToThresholdIsKept(t *testing.T) {
	// IoU of these boxes is exactly 1/3
	cands := []Candidate{
		cand(0, Box{0, 0, 10, 10}, 0.9),
		cand(1, Box{5, 0, 15, 10}, 0.8),
	}
	got := Suppress(cands, SuppressOptions{IoUThreshold: cands[0].Box.IoU(cands[1].Box)})
	assert.Len(t, got, 2)
}

func TestSuppress_TiesOrderedByAnchorIndex(t *testing.T) {
	cands := []Candidate{
		cand(7, Box{0, 0, 1, 1}, 0.5),
		cand(3, Box{10, 10, 11, 11}, 0.5),
		cand(5, Box{20, 20, 21, 21}, 0.5),
	}
	got := Suppress(cands, SuppressOptions{IoUThreshold: 0.5})
	require.Len(t, got, 3)
	assert.Equal(t, []int{3, 5, 7}, []int{got[0].Index, got[1].Index, got[2].Index})
}

func TestSuppress_CapsAtMax(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 10; i++ {
		x := float64(i * 20)
		cands = append(cands, cand(i, Box{x, 0, x + 10, 10}, 0.5+float64(i)/100))
	}
	got := Suppress(cands, SuppressOptions{IoUThreshold: 0.5, MaxDetections: 3})
	require.Len(t, got, 3)
	assert.Equal(t, []int{9, 8, 7}, []int{got[0].Index, got[1].Index, got[2].Index})
}

func TestSuppress_EmptyInput(t *testing.T) {
	assert.Empty(t, Suppress(nil, SuppressOptions{IoUThreshold: 0.5}))
}

func TestSuppress_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		n := rng.Intn(200)
		cands := make([]Candidate, n)
		for i := range cands {
			x, y := rng.Float64()*100, rng.Float64()*100
			w, h := 5+rng.Float64()*30, 5+rng.Float64()*30
			cands[i] = cand(i, Box{x, y, x + w, y + h}, rng.Float64(), rng.Float64(), rng.Float64())
		}
		opts := SuppressOptions{
			ConfThreshold: 0.3,
			IoUThreshold:  0.2 + rng.Float64()*0.6,
			MaxDetections: 1 + rng.Intn(40),
			Agnostic:      round%2 == 0,
		}

		got := Suppress(cands, opts)
		require.LessOrEqual(t, len(got), opts.MaxDetections)

		for i := range got {
			require.GreaterOrEqual(t, got[i].Score, opts.ConfThreshold)
			if i > 0 {
				require.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
			}
			for j := i + 1; j < len(got); j++ {
				if !opts.Agnostic && got[i].Class != got[j].Class {
					continue
				}
				require.LessOrEqual(t, got[i].Box.IoU(got[j].Box), opts.IoUThreshold,
					"round %d kept overlapping boxes %d and %d", round, got[i].Index, got[j].Index)
			}
		}
	}
}

func TestBoxIoU(t *testing.T) {
	a := Box{0, 0, 10, 10}
	assert.Equal(t, 1.0, a.IoU(a))
	assert.Equal(t, 0.0, a.IoU(Box{20, 20, 30, 30}))
	assert.InDelta(t, 25.0/175.0, a.IoU(Box{5, 5, 15, 15}), 1e-12)
	assert.Equal(t, 0.0, Box{}.IoU(Box{}))
}
