package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/connergroth/EcoVision/internal/ledger"
	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
)

// SQLiteStore implements ledger.Store on SQLite
type SQLiteStore struct {
	db     *Database
	logger *logger.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (and migrates) the database at dbPath
func NewSQLiteStore(ctx context.Context, dbPath string, log *logger.Logger) (*SQLiteStore, error) {
	db, err := NewDatabase(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	log.Info("SQLite ledger store opened", "path", dbPath)
	return &SQLiteStore{
		db:     db,
		logger: log,
		now:    time.Now,
	}, nil
}

// InsertScan writes the scan, its history row and its outbox row
func (s *SQLiteStore) InsertScan(ctx context.Context, rec models.ScanRecord, username string) (bool, error) {
	payload, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}

	tx, err := s.db.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := toNanos(s.now())
	ts := toNanos(rec.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO scans (id, user_id, timestamp_ns, created_at_ns) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.UserID, ts, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert scan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_scans (user_id, scan_id, timestamp_ns, category, points_earned, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.ID, ts, string(rec.Detection.Category), rec.PointsEarned, payload,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert user scan: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pending_increments (scan_id, user_id, username, points, category, timestamp_ns, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, username, rec.PointsEarned, string(rec.Detection.Category), ts, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert pending increment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit scan: %w", err)
	}
	return true, nil
}

// ApplyIncrement moves one outbox row into the aggregates
func (s *SQLiteStore) ApplyIncrement(ctx context.Context, scanID string) (bool, error) {
	tx, err := s.db.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var p pendingIncrement
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, username, points, category, timestamp_ns FROM pending_increments WHERE scan_id = ?`,
		scanID,
	).Scan(&p.UserID, &p.Username, &p.Points, &p.Category, &p.TimestampNs)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read pending increment: %w", err)
	}

	now := toNanos(s.now())

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_stats (user_id, total_points, total_scans, last_scan_ns, updated_at_ns)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_points = user_stats.total_points + excluded.total_points,
			total_scans = user_stats.total_scans + 1,
			last_scan_ns = MAX(COALESCE(user_stats.last_scan_ns, 0), excluded.last_scan_ns),
			updated_at_ns = excluded.updated_at_ns`,
		p.UserID, p.Points, p.TimestampNs, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update user stats: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_category_counts (user_id, category, count) VALUES (?, ?, 1)
		ON CONFLICT(user_id, category) DO UPDATE SET count = user_category_counts.count + 1`,
		p.UserID, p.Category,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update category count: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO leaderboard (user_id, username, total_points, total_scans, last_updated_ns)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = CASE WHEN ? = '' THEN leaderboard.username ELSE excluded.username END,
			total_points = leaderboard.total_points + excluded.total_points,
			total_scans = leaderboard.total_scans + 1,
			last_updated_ns = excluded.last_updated_ns`,
		p.UserID, leaderboardName(p.UserID, p.Username), p.Points, now, p.Username,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update leaderboard: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_increments WHERE scan_id = ?`, scanID); err != nil {
		return false, fmt.Errorf("failed to clear pending increment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit increment: %w", err)
	}
	return true, nil
}

// PendingIncrements lists outbox rows oldest first
func (s *SQLiteStore) PendingIncrements(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.GetDB().QueryContext(ctx,
		`SELECT scan_id FROM pending_increments ORDER BY created_at_ns, scan_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending increments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pending increment: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UserStats returns the aggregate for a user
func (s *SQLiteStore) UserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	stats := &models.UserStats{UserID: userID, CategoryCounts: make(map[models.Category]int)}

	var lastScan sql.NullInt64
	err := s.db.GetDB().QueryRowContext(ctx,
		`SELECT total_points, total_scans, last_scan_ns FROM user_stats WHERE user_id = ?`, userID,
	).Scan(&stats.TotalPoints, &stats.TotalScans, &lastScan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user stats: %w", err)
	}
	if lastScan.Valid {
		ts := fromNanos(lastScan.Int64)
		stats.LastScanTimestamp = &ts
	}

	rows, err := s.db.GetDB().QueryContext(ctx,
		`SELECT category, count FROM user_category_counts WHERE user_id = ?`, userID)
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
func (s *SQLiteStore) Leaderboard(ctx context.Context, limit, offset int) ([]models.LeaderboardEntry, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := s.db.GetDB().QueryContext(ctx,
		`SELECT user_id, username, total_points, total_scans, last_updated_ns FROM leaderboard
		ORDER BY total_points DESC, last_updated_ns ASC, user_id ASC
		LIMIT ? OFFSET ?`, limit, offset)
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
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM leaderboard`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// UserRank returns the user's leaderboard row with its rank
func (s *SQLiteStore) UserRank(ctx context.Context, userID string) (*models.LeaderboardEntry, error) {
	var (
		e       models.LeaderboardEntry
		updated int64
	)
	err := s.db.GetDB().QueryRowContext(ctx,
		`SELECT user_id, username, total_points, total_scans, last_updated_ns, pos FROM (
			SELECT user_id, username, total_points, total_scans, last_updated_ns,
				ROW_NUMBER() OVER (ORDER BY total_points DESC, last_updated_ns ASC, user_id ASC) AS pos
			FROM leaderboard
		) WHERE user_id = ?`, userID,
	).Scan(&e.UserID, &e.Username, &e.TotalPoints, &e.TotalScans, &updated, &e.Rank)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user rank: %w", err)
	}
	e.LastUpdated = fromNanos(updated)
	return &e, nil
}

// ScansForUser returns a page of the user's scans, newest first
func (s *SQLiteStore) ScansForUser(ctx context.Context, userID string, q ledger.HistoryQuery) ([]models.ScanRecord, error) {
	limit, offset := clampPage(q.Limit, q.Offset)
	from, to := rangeNanos(q)

	rows, err := s.db.GetDB().QueryContext(ctx,
		`SELECT payload FROM user_scans
		WHERE user_id = ? AND timestamp_ns >= ? AND timestamp_ns <= ?
		ORDER BY timestamp_ns DESC, scan_id ASC
		LIMIT ? OFFSET ?`,
		userID, from, to, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query user scans: %w", err)
	}
	defer rows.Close()

	var scans []models.ScanRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan user scan: %w", err)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *rec)
	}
	return scans, rows.Err()
}

// Scan looks a scan up by id through the global index
func (s *SQLiteStore) Scan(ctx context.Context, scanID string) (*models.ScanRecord, error) {
	var payload string
	err := s.db.GetDB().QueryRowContext(ctx,
		`SELECT us.payload FROM scans s
		JOIN user_scans us ON us.user_id = s.user_id AND us.scan_id = s.id
		WHERE s.id = ?`, scanID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scan: %w", err)
	}
	return decodeRecord(payload)
}

// ScanPoints returns the user's scans since the given time
func (s *SQLiteStore) ScanPoints(ctx context.Context, userID string, since time.Time) ([]ledger.ScanPoint, error) {
	rows, err := s.db.GetDB().QueryContext(ctx,
		`SELECT timestamp_ns, category, points_earned FROM user_scans
		WHERE user_id = ? AND timestamp_ns >= ?`, userID, toNanos(since))
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

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.GetDB().PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
