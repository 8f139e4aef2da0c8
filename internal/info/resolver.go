package info

import (
	"context"
	"errors"

	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
)

var (
	// ErrRateLimited is returned when an upstream asks us to slow down
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrUpstreamUnavailable covers transport failures and bad responses
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Reason explains why a tier produced no information
type Reason int

const (
	ReasonOK Reason = iota
	ReasonSkipped
	ReasonUnavailable
	ReasonRateLimited
	ReasonInvalid
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonSkipped:
		return "skipped"
	case ReasonUnavailable:
		return "unavailable"
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Outcome is the result of asking one tier. Info is set only on success.
type Outcome struct {
	Info   *models.RecyclingInfo
	Reason Reason
	Err    error
}

// OK reports whether the tier answered
func (o Outcome) OK() bool {
	return o.Info != nil
}

// Tier is one source of recycling information
type Tier interface {
	Name() string
	Lookup(ctx context.Context, category models.Category, confidence float64) Outcome
}

// Resolver answers with the first tier that succeeds: cache, then each
// configured tier in order, then the static fallback. It always returns
// information.
type Resolver struct {
	cache  *Cache
	tiers  []Tier
	logger *logger.Logger
}

// NewResolver creates a resolver over the given tiers, tried in order
func NewResolver(cache *Cache, log *logger.Logger, tiers ...Tier) *Resolver {
	return &Resolver{cache: cache, tiers: tiers, logger: log}
}

// Resolve returns recycling information for a detection. A cancelled
// context skips the remaining remote tiers and answers from the fallback.
func (r *Resolver) Resolve(ctx context.Context, category models.Category, confidence float64) *models.RecyclingInfo {
	if info, ok := r.cache.Get(category, confidence); ok {
		r.logger.Debug("Recycling info cache hit", "category", category)
		return info
	}

	for _, tier := range r.tiers {
		if ctx.Err() != nil {
			break
		}
		out := tier.Lookup(ctx, category, confidence)
		if out.OK() {
			r.logger.Debug("Recycling info resolved", "tier", tier.Name(), "category", category)
			r.cache.Add(category, confidence, out.Info)
			return out.Info
		}
		if out.Reason != ReasonSkipped {
			r.logger.Warn("Recycling info tier failed",
				"tier", tier.Name(),
				"category", category,
				"reason", out.Reason.String(),
				"error", out.Err,
			)
		}
	}

	info := Fallback(category)
	r.cache.Add(category, confidence, info)
	return info
}
