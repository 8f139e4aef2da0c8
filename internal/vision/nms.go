package vision

import (
	"sort"
)

// SuppressOptions controls filtering and non-maximum suppression
type SuppressOptions struct {
	ConfThreshold float64
	IoUThreshold  float64
	MaxDetections int // <= 0 means unbounded
	Agnostic      bool
}

// Prediction is a candidate that survived suppression
type Prediction struct {
	Index int
	Box   Box
	Class int
	Score float64
}

// Suppress filters candidates by their best class score and applies greedy
// NMS. A candidate is kept only if its IoU with every already kept box of the
// same class (any class when Agnostic) does not exceed IoUThreshold. The
// result is sorted by score, highest first, and holds at most MaxDetections
// entries. Equal scores are ordered by anchor index. Candidates with a
// non-finite score or box are dropped.
func Suppress(cands []Candidate, opts SuppressOptions) []Prediction {
	preds := make([]Prediction, 0, len(cands))
	for _, c := range cands {
		class, score := c.Best()
		if class < 0 || score < opts.ConfThreshold || !c.Box.finite() {
			continue
		}
		preds = append(preds, Prediction{Index: c.Index, Box: c.Box, Class: class, Score: score})
	}

	sort.SliceStable(preds, func(i, j int) bool {
		if preds[i].Score != preds[j].Score {
			return preds[i].Score > preds[j].Score
		}
		return preds[i].Index < preds[j].Index
	})

	kept := make([]Prediction, 0, len(preds))
	for _, p := range preds {
		if opts.MaxDetections > 0 && len(kept) >= opts.MaxDetections {
			break
		}
		suppressed := false
		for _, k := range kept {
			if !opts.Agnostic && k.Class != p.Class {
				continue
			}
			if p.Box.IoU(k.Box) > opts.IoUThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, p)
		}
	}
	return kept
}
