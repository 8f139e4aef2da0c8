package state

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/connergroth/EcoVision/internal/ledger"
	"github.com/connergroth/EcoVision/internal/models"
)

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func encodeRecord(rec models.ScanRecord) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal scan record: %w", err)
	}
	return string(data), nil
}

func decodeRecord(payload string) (*models.ScanRecord, error) {
	var rec models.ScanRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scan record: %w", err)
	}
	return &rec, nil
}

// leaderboardName is the username written with a new leaderboard row
func leaderboardName(userID, username string) string {
	if username == "" {
		return ledger.DefaultUsername(userID)
	}
	return username
}

// pendingIncrement is an outbox row
type pendingIncrement struct {
	UserID      string
	Username    string
	Points      int
	Category    string
	TimestampNs int64
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// rangeNanos converts a history window; zero bounds are open
func rangeNanos(q ledger.HistoryQuery) (int64, int64) {
	from, to := int64(0), int64(math.MaxInt64)
	if !q.From.IsZero() {
		from = toNanos(q.From)
	}
	if !q.To.IsZero() {
		to = toNanos(q.To)
	}
	return from, to
}
