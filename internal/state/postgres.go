package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connergroth/EcoVision/internal/ledger"
	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
)

// PostgresStore implements ledger.Store on Postgres. Row locks taken by
// the in-place UPDATEs keep concurrent increments exact.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
	now    func() time.Time
}

// NewPostgresStore connects to dsn and ensures the schema exists
func NewPostgresStore(ctx context.Context, dsn string, log *logger.Logger) (*PostgresStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: log, now: time.Now}
	if err := s.ensureSchema(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("Postgres ledger store connected")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := append(AllTables(),
		"CREATE INDEX IF NOT EXISTS idx_user_scans_timestamp ON user_scans(user_id, timestamp_ns)",
		"CREATE INDEX IF NOT EXISTS idx_pending_increments_created ON pending_increments(created_at_ns)",
		createLeaderboardIndex,
	)
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// InsertScan writes the scan, its history row and its outbox row
func (s *PostgresStore) InsertScan(ctx context.Context, rec models.ScanRecord, username string) (bool, error) {
	payload, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := toNanos(s.now())
	ts := toNanos(rec.Timestamp)

	tag, err := tx.Exec(ctx,
		`INSERT INTO scans (id, user_id, timestamp_ns, created_at_ns) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.UserID, ts, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO user_scans (user_id, scan_id, timestamp_ns, category, points_earned, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.UserID, rec.ID, ts, string(rec.Detection.Category), rec.PointsEarned, payload,
	); err != nil {
		return false, fmt.Errorf("failed to insert user scan: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO pending_increments (scan_id, user_id, username, points, category, timestamp_ns, created_at_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, username, rec.PointsEarned, string(rec.Detection.Category), ts, now,
	); err != nil {
		return false, fmt.Errorf("failed to insert pending increment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit scan: %w", err)
	}
	return true, nil
}

// ApplyIncrement moves one outbox row into the aggregates. The outbox row
// is deleted first with RETURNING so concurrent appliers of the same scan
// cannot both see it.
func (s *PostgresStore) ApplyIncrement(ctx context.Context, scanID string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var p pendingIncrement
	err = tx.QueryRow(ctx,
		`DELETE FROM pending_increments WHERE scan_id = $1
		RETURNING user_id, username, points, category, timestamp_ns`,
		scanID,
	).Scan(&p.UserID, &p.Username, &p.Points, &p.Category, &p.TimestampNs)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim pending increment: %w", err)
	}

	now := toNanos(s.now())

	if _, err := tx.Exec(ctx,
		`INSERT INTO user_stats (user_id, total_points, total_scans, last_scan_ns, updated_at_ns)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			total_points = user_stats.total_points + EXCLUDED.total_points,
			total_scans = user_stats.total_scans + 1,
			last_scan_ns = GREATEST(COALESCE(user_stats.last_scan_ns, 0), EXCLUDED.last_scan_ns),
			updated_at_ns = EXCLUDED.updated_at_ns`,
		p.UserID, p.Points, p.TimestampNs, now,
	); err != nil {
		return false, fmt.Errorf("failed to update user stats: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO user_category_counts (user_id, category, count) VALUES ($1, $2, 1)
		ON CONFLICT (user_id, category) DO UPDATE SET count = user_category_counts.count + 1`,
		p.UserID, p.Category,
	); err != nil {
		return false, fmt.Errorf("failed to update category count: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO leaderboard (user_id, username, total_points, total_scans, last_updated_ns)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			username = CASE WHEN $5 = '' THEN leaderboard.username ELSE EXCLUDED.username END,
			total_points = leaderboard.total_points + EXCLUDED.total_points,
			total_scans = leaderboard.total_scans + 1,
			last_updated_ns = EXCLUDED.last_updated_ns`,
		p.UserID, leaderboardName(p.UserID, p.Username), p.Points, now, p.Username,
	); err != nil {
		return false, fmt.Errorf("failed to update leaderboard: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit increment: %w", err)
	}
	return true, nil
}

// PendingIncrements lists outbox rows oldest first
func (s *PostgresStore) PendingIncrements(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT scan_id FROM pending_increments ORDER BY created_at_ns, scan_id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending increments: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending increments: %w", err)
	}
	return ids, nil
}

// UserStats returns the aggregate for a user
func (s *PostgresStore) UserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	stats := &models.UserStats{UserID: userID, CategoryCounts: make(map[models.Category]int)}

	var lastScan *int64
	err := s.pool.QueryRow(ctx,
		`SELECT total_points, total_scans, last_scan_ns FROM user_stats WHERE user_id = $1`, userID,
	).Scan(&stats.TotalPoints, &stats.TotalScans, &lastScan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user stats: %w", err)
	}
	if lastScan != nil {
		ts := fromNanos(*lastScan)
		stats.LastScanTimestamp = &ts
	}

	rows, err := s.pool.Query(ctx,
		`SELECT category, count FROM user_category_counts WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query category counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			category string
			count    int
		)
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		stats.CategoryCounts[models.Category(category)] = count
	}
	return stats, rows.Err()
}

// Leaderboard returns a page ordered by points, earliest achiever first on ties
func (s *PostgresStore) Leaderboard(ctx context.Context, limit, offset int) ([]models.LeaderboardEntry, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, username, total_points, total_scans, last_updated_ns FROM leaderboard
		ORDER BY total_points DESC, last_updated_ns ASC, user_id ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []models.LeaderboardEntry
	for rows.Next() {
		var (
			e       models.LeaderboardEntry
			updated int64
		)
		if err := rows.Scan(&e.UserID, &e.Username, &e.TotalPoints, &e.TotalScans, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		e.LastUpdated = fromNanos(updated)
		e.Rank = offset + len(entries) + 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountUsers returns the number of users on the leaderboard
func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leaderboard`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// UserRank returns the user's leaderboard row with its rank
func (s *PostgresStore) UserRank(ctx context.Context, userID string) (*models.LeaderboardEntry, error) {
	var (
		e       models.LeaderboardEntry
		updated int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, username, total_points, total_scans, last_updated_ns, pos FROM (
			SELECT user_id, username, total_points, total_scans, last_updated_ns,
				ROW_NUMBER() OVER (ORDER BY total_points DESC, last_updated_ns ASC, user_id ASC) AS pos
			FROM leaderboard
		) ranked WHERE user_id = $1`, userID,
	).Scan(&e.UserID, &e.Username, &e.TotalPoints, &e.TotalScans, &updated, &e.Rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user rank: %w", err)
	}
	e.LastUpdated = fromNanos(updated)
	return &e, nil
}

// ScansForUser returns a page of the user's scans, newest first
func (s *PostgresStore) ScansForUser(ctx context.Context, userID string, q ledger.HistoryQuery) ([]models.ScanRecord, error) {
	limit, offset := clampPage(q.Limit, q.Offset)
	from, to := rangeNanos(q)

	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM user_scans
		WHERE user_id = $1 AND timestamp_ns >= $2 AND timestamp_ns <= $3
		ORDER BY timestamp_ns DESC, scan_id ASC
		LIMIT $4 OFFSET $5`,
		userID, from, to, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query user scans: %w", err)
	}
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan user scans: %w", err)
	}

	scans := make([]models.ScanRecord, 0, len(payloads))
	for _, payload := range payloads {
		rec, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *rec)
	}
	return scans, nil
}

// Scan looks a scan up by id through the global index
func (s *PostgresStore) Scan(ctx context.Context, scanID string) (*models.ScanRecord, error) {
	var payload string
	err := s.pool.QueryRow(ctx,
		`SELECT us.payload FROM scans s
		JOIN user_scans us ON us.user_id = s.user_id AND us.scan_id = s.id
		WHERE s.id = $1`, scanID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scan: %w", err)
	}
	return decodeRecord(payload)
}

// ScanPoints returns the user's scans since the given time
func (s *PostgresStore) ScanPoints(ctx context.Context, userID string, since time.Time) ([]ledger.ScanPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT timestamp_ns, category, points_earned FROM user_scans
		WHERE user_id = $1 AND timestamp_ns >= $2`, userID, toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query scan points: %w", err)
	}
	defer rows.Close()

	var points []ledger.ScanPoint
	for rows.Next() {
		var (
			ts       int64
			category string
			p        ledger.ScanPoint
		)
		if err := rows.Scan(&ts, &category, &p.Points); err != nil {
			return nil, fmt.Errorf("failed to scan points row: %w", err)
		}
		p.Timestamp = fromNanos(ts)
		p.Category = models.Category(category)
		points = append(points, p)
	}
	return points, rows.Err()
}

// Ping checks the pool
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
