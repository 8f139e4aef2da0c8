package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "db", "ecovision.db")

	store, err := NewSQLiteStore(context.Background(), dbPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func testRecord(userID, scanID string, c models.Category, points int, ts time.Time) models.ScanRecord {
	return models.ScanRecord{
		ID:        scanID,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Detection: models.Detection{
			Category:    c,
			Confidence:  0.91,
			BoundingBox: &models.BoundingBox{XMin: 1, YMin: 2, XMax: 30, YMax: 40},
		},
		RecyclingInfo: models.RecyclingInfo{
			Category:    c,
			Recyclable:  points > 0,
			Description: "test",
			Source:      models.SourceFallback,
		},
		PointsEarned: points,
	}
}
