package ledger

import (
	"context"
	"time"

	"github.com/connergroth/EcoVision/internal/models"
)

// HistoryQuery selects a page of a user's scans within [From, To]
type HistoryQuery struct {
	Limit  int
	Offset int
	From   time.Time
	To     time.Time
}

// ScanPoint is the minimal projection of a scan used for summaries
type ScanPoint struct {
	Timestamp time.Time
	Category  models.Category
	Points    int
}

// Store persists the ledger. Implementations must make InsertScan and
// ApplyIncrement each a single transaction.
type Store interface {
	// InsertScan writes the user history row, the global scan row and a
	// pending increment in one transaction. If the scan id already exists
	// nothing is written and inserted is false. An empty username keeps
	// the current leaderboard name, or DefaultUsername for a new user.
	InsertScan(ctx context.Context, rec models.ScanRecord, username string) (inserted bool, err error)

	// ApplyIncrement applies the pending increment of a scan to the user
	// aggregate and the leaderboard, then deletes it, in one transaction.
	// With nothing pending it is a no-op returning false.
	ApplyIncrement(ctx context.Context, scanID string) (applied bool, err error)

	// PendingIncrements lists scan ids whose increment has not been applied,
	// oldest first
	PendingIncrements(ctx context.Context, limit int) ([]string, error)

	UserStats(ctx context.Context, userID string) (*models.UserStats, error)
	Leaderboard(ctx context.Context, limit, offset int) ([]models.LeaderboardEntry, error)
	CountUsers(ctx context.Context) (int, error)
	UserRank(ctx context.Context, userID string) (*models.LeaderboardEntry, error)
	ScansForUser(ctx context.Context, userID string, q HistoryQuery) ([]models.ScanRecord, error)
	Scan(ctx context.Context, scanID string) (*models.ScanRecord, error)
	ScanPoints(ctx context.Context, userID string, since time.Time) ([]ScanPoint, error)

	Ping(ctx context.Context) error
	Close() error
}
