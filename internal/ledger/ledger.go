package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
)

const (
	defaultHistoryWindow = 30 * 24 * time.Hour
	summaryWindow        = 365 * 24 * time.Hour
)

// Config holds retry and reader settings
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HistoryWindow  time.Duration
}

// Entry is a single accepted detection to be recorded
type Entry struct {
	UserID    string
	Username  string
	ScanID    string
	Timestamp time.Time
	Detection models.Detection
	Info      models.RecyclingInfo
	Points    int
	ImageURL  string
}

// Result is returned by Record. Applied is false when the scan id had
// already been recorded.
type Result struct {
	ScanID  string
	Applied bool
	Stats   *models.UserStats
}

// Ledger records scans and keeps user aggregates and the leaderboard in
// step with them
type Ledger struct {
	store  Store
	config Config
	logger *logger.Logger
	now    func() time.Time
}

// New creates a ledger over the given store
func New(store Store, cfg Config, log *logger.Logger) *Ledger {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Second
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	return &Ledger{
		store:  store,
		config: cfg,
		logger: log.Named("ledger"),
		now:    time.Now,
	}
}

func (l *Ledger) validate(e *Entry) error {
	if e.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidEntry)
	}
	if e.ScanID == "" {
		return fmt.Errorf("%w: scan id is required", ErrInvalidEntry)
	}
	if e.Points < 0 {
		return fmt.Errorf("%w: negative points %d", ErrInvalidEntry, e.Points)
	}
	if (e.Points > 0) != e.Info.Recyclable {
		return fmt.Errorf("%w: points %d do not match recyclable=%t", ErrInvalidEntry, e.Points, e.Info.Recyclable)
	}
	return nil
}

// DefaultUsername derives a display name for users without one. Stores use
// it for the first leaderboard row; an empty username later keeps the
// existing name.
func DefaultUsername(userID string) string {
	short := userID
	if len(short) > 5 {
		short = short[:5]
	}
	return "User " + short
}

func (l *Ledger) retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.config.InitialBackoff
	b.MaxInterval = l.config.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(l.config.MaxAttempts-1)), ctx)
}

// Record writes the scan and applies its points. Recording the same scan id
// twice leaves the aggregates unchanged. A LedgerError means the caller may
// replay the same entry.
func (l *Ledger) Record(ctx context.Context, e Entry) (*Result, error) {
	if err := l.validate(&e); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ledger record aborted: %w", err)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}

	rec := models.ScanRecord{
		ID:            e.ScanID,
		UserID:        e.UserID,
		Timestamp:     e.Timestamp.UTC(),
		ImageURL:      e.ImageURL,
		Detection:     e.Detection,
		RecyclingInfo: e.Info,
		PointsEarned:  e.Points,
	}

	var inserted bool
	err := backoff.RetryNotify(func() error {
		var err error
		inserted, err = l.store.InsertScan(ctx, rec, e.Username)
		return err
	}, l.retryPolicy(ctx), func(err error, wait time.Duration) {
		l.logger.Warn("Scan insert failed, retrying", "scan_id", e.ScanID, "error", err, "backoff", wait)
	})
	if err != nil {
		return nil, &LedgerError{ScanID: e.ScanID, Stage: "history", Err: err}
	}

	// The history row is committed; the increment must not be torn by a
	// caller that goes away now.
	applied, err := l.apply(context.WithoutCancel(ctx), e.ScanID)
	if err != nil {
		return nil, err
	}
	if !inserted {
		l.logger.Info("Duplicate scan ignored", "scan_id", e.ScanID, "user_id", e.UserID, "increment_replayed", applied)
	}

	result := &Result{ScanID: e.ScanID, Applied: inserted}
	if stats, err := l.store.UserStats(context.WithoutCancel(ctx), e.UserID); err == nil {
		result.Stats = stats
	} else {
		l.logger.Warn("Failed to read stats after record", "user_id", e.UserID, "error", err)
	}

	l.logger.Debug("Scan recorded", "scan_id", e.ScanID, "user_id", e.UserID, "points", e.Points, "inserted", inserted)
	return result, nil
}

func (l *Ledger) apply(ctx context.Context, scanID string) (bool, error) {
	var applied bool
	err := backoff.RetryNotify(func() error {
		var err error
		applied, err = l.store.ApplyIncrement(ctx, scanID)
		return err
	}, l.retryPolicy(ctx), func(err error, wait time.Duration) {
		l.logger.Warn("Increment failed, retrying", "scan_id", scanID, "error", err, "backoff", wait)
	})
	if err != nil {
		l.logger.Error("Increment failed after retries", "scan_id", scanID, "error", err)
		return false, &LedgerError{ScanID: scanID, Stage: "increment", Err: err}
	}
	return applied, nil
}

// DrainPending applies up to limit orphaned increments and reports how many
// were applied
func (l *Ledger) DrainPending(ctx context.Context, limit int) (int, error) {
	ids, err := l.store.PendingIncrements(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending increments: %w", err)
	}

	drained := 0
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		applied, err := l.apply(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if applied {
			drained++
		}
	}
	return drained, errors.Join(errs...)
}

// Stats returns the user's aggregate; users without scans get zero values
func (l *Ledger) Stats(ctx context.Context, userID string) (*models.UserStats, error) {
	stats, err := l.store.UserStats(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &models.UserStats{UserID: userID, CategoryCounts: map[models.Category]int{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user stats: %w", err)
	}
	return stats, nil
}

// Leaderboard returns a page of the global ranking
func (l *Ledger) Leaderboard(ctx context.Context, limit, offset int) (*models.Leaderboard, error) {
	var (
		entries []models.LeaderboardEntry
		total   int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = l.store.Leaderboard(gctx, limit, offset)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = l.store.CountUsers(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	return &models.Leaderboard{
		Entries:    entries,
		TotalUsers: total,
		UpdatedAt:  l.now().UTC(),
	}, nil
}

// UserRank returns the user's position. Users absent from the leaderboard
// are reported with Ranked=false.
func (l *Ledger) UserRank(ctx context.Context, userID string) (*models.UserRank, error) {
	total, err := l.store.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	entry, err := l.store.UserRank(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &models.UserRank{UserID: userID, Username: DefaultUsername(userID), TotalUsers: total}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user rank: %w", err)
	}

	return &models.UserRank{
		UserID:      entry.UserID,
		Username:    entry.Username,
		Rank:        entry.Rank,
		TotalPoints: entry.TotalPoints,
		TotalScans:  entry.TotalScans,
		TotalUsers:  total,
		Percentile:  percentile(entry.Rank, total),
		Ranked:      true,
	}, nil
}

func percentile(rank, total int) float64 {
	if total <= 0 || rank <= 0 {
		return 0
	}
	p := (1 - float64(rank)/float64(total)) * 100
	return math.Round(p*10) / 10
}

// History returns a page of the user's scans, newest first. A zero From
// defaults to the configured window before To.
func (l *Ledger) History(ctx context.Context, userID string, q HistoryQuery) (*models.ScanHistory, error) {
	if q.To.IsZero() {
		q.To = l.now()
	}
	if q.From.IsZero() {
		q.From = q.To.Add(-l.config.HistoryWindow)
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	scans, err := l.store.ScansForUser(ctx, userID, q)
	if err != nil {
		return nil, fmt.Errorf("failed to read scan history: %w", err)
	}
	stats, err := l.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}

	if scans == nil {
		scans = []models.ScanRecord{}
	}
	return &models.ScanHistory{
		UserID:      userID,
		TotalScans:  stats.TotalScans,
		TotalPoints: stats.TotalPoints,
		Scans:       scans,
	}, nil
}

// Scan returns a single recorded scan
func (l *Ledger) Scan(ctx context.Context, scanID string) (*models.ScanRecord, error) {
	rec, err := l.store.Scan(ctx, scanID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read scan: %w", err)
	}
	return rec, nil
}

// Summary aggregates the last year of scans by category and by month
func (l *Ledger) Summary(ctx context.Context, userID string) (*models.StatsSummary, error) {
	points, err := l.store.ScanPoints(ctx, userID, l.now().Add(-summaryWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to read scan summary: %w", err)
	}

	summary := &models.StatsSummary{
		UserID:         userID,
		CategoryCounts: make(map[models.Category]int),
		MonthlyPoints:  make(map[string]int),
	}
	for _, p := range points {
		summary.TotalScans++
		summary.TotalPoints += p.Points
		summary.CategoryCounts[p.Category]++
		summary.MonthlyPoints[p.Timestamp.UTC().Format("2006-01")] += p.Points
	}
	return summary, nil
}

// Ping checks the underlying store
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
