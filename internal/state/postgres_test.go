package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/connergroth/EcoVision/internal/ledger"
	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
)

// Postgres tests run only against a disposable database named by
// ECOVISION_TEST_POSTGRES_DSN; every table is truncated first.
func setupPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("ECOVISION_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ECOVISION_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	_, err = store.pool.Exec(ctx,
		"TRUNCATE scans, user_scans, user_stats, user_category_counts, leaderboard, pending_increments")
	if err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
	return store
}

func TestPostgresStore_Outbox(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	rec := testRecord("user-1", "scan-1", models.CategoryPlastic, 10, time.Now())

	inserted, err := store.InsertScan(ctx, rec, "alice")
	if err != nil || !inserted {
		t.Fatalf("InsertScan: inserted=%v err=%v", inserted, err)
	}
	if inserted, _ := store.InsertScan(ctx, rec, "alice"); inserted {
		t.Error("Expected duplicate insert to be a no-op")
	}

	if applied, err := store.ApplyIncrement(ctx, "scan-1"); err != nil || !applied {
		t.Fatalf("ApplyIncrement: applied=%v err=%v", applied, err)
	}
	if applied, err := store.ApplyIncrement(ctx, "scan-1"); err != nil || applied {
		t.Fatalf("ApplyIncrement replay: applied=%v err=%v", applied, err)
	}

	stats, err := store.UserStats(ctx, "user-1")
	if err != nil {
		t.Fatalf("UserStats failed: %v", err)
	}
	if stats.TotalPoints != 10 || stats.TotalScans != 1 {
		t.Errorf("Expected 10 points over 1 scan, got %d over %d", stats.TotalPoints, stats.TotalScans)
	}

	got, err := store.Scan(ctx, "scan-1")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !got.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("Expected timestamp %v, got %v", rec.Timestamp, got.Timestamp)
	}
	if _, err := store.Scan(ctx, "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	entry, err := store.UserRank(ctx, "user-1")
	if err != nil {
		t.Fatalf("UserRank failed: %v", err)
	}
	if entry.Rank != 1 || entry.Username != "alice" {
		t.Errorf("Unexpected rank entry: %+v", entry)
	}
}

func TestPostgresStore_ConcurrentRecords(t *testing.T) {
	store := setupPostgresStore(t)
	l := ledger.New(store, ledger.Config{InitialBackoff: time.Millisecond}, logger.NewNopLogger())

	const users, perUser, points = 4, 25, 10

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for s := 0; s < perUser; s++ {
			wg.Add(1)
			go func(u, s int) {
				defer wg.Done()
				_, err := l.Record(context.Background(), ledger.Entry{
					UserID:    fmt.Sprintf("user-%d", u),
					ScanID:    fmt.Sprintf("scan-%d-%d", u, s),
					Detection: models.Detection{Category: models.CategoryGlass, Confidence: 0.9},
					Info:      models.RecyclingInfo{Category: models.CategoryGlass, Recyclable: true},
					Points:    points,
				})
				if err != nil {
					t.Errorf("Record failed: %v", err)
				}
			}(u, s)
		}
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		stats, err := l.Stats(context.Background(), fmt.Sprintf("user-%d", u))
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.TotalPoints != perUser*points {
			t.Errorf("User %d: expected %d points, got %d", u, perUser*points, stats.TotalPoints)
		}
	}
}
