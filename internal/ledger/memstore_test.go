package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/connergroth/EcoVision/internal/models"
)

var errInjected = errors.New("injected store failure")

type pending struct {
	userID   string
	username string
	points   int
	category models.Category
	ts       time.Time
}

// memStore is an in-memory Store with failure injection
type memStore struct {
	mu          sync.Mutex
	scans       map[string]models.ScanRecord
	outbox      map[string]pending
	outboxOrder []string
	stats       map[string]*models.UserStats
	names       map[string]string
	updated     map[string]time.Time

	insertFailures int
	applyFailures  int
	applyCalls     int
	insertCalls    int
}

func newMemStore() *memStore {
	return &memStore{
		scans:   make(map[string]models.ScanRecord),
		outbox:  make(map[string]pending),
		stats:   make(map[string]*models.UserStats),
		names:   make(map[string]string),
		updated: make(map[string]time.Time),
	}
}

func (m *memStore) InsertScan(ctx context.Context, rec models.ScanRecord, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.insertFailures > 0 {
		m.insertFailures--
		return false, errInjected
	}
	if _, ok := m.scans[rec.ID]; ok {
		return false, nil
	}
	m.scans[rec.ID] = rec
	m.outbox[rec.ID] = pending{userID: rec.UserID, username: username, points: rec.PointsEarned, category: rec.Detection.Category, ts: rec.Timestamp}
	m.outboxOrder = append(m.outboxOrder, rec.ID)
	return true, nil
}

func (m *memStore) ApplyIncrement(ctx context.Context, scanID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCalls++
	if m.applyFailures > 0 {
		m.applyFailures--
		return false, errInjected
	}
	p, ok := m.outbox[scanID]
	if !ok {
		return false, nil
	}
	s, ok := m.stats[p.userID]
	if !ok {
		s = &models.UserStats{UserID: p.userID, CategoryCounts: map[models.Category]int{}}
		m.stats[p.userID] = s
	}
	s.TotalPoints += p.points
	s.TotalScans++
	s.CategoryCounts[p.category]++
	if s.LastScanTimestamp == nil || p.ts.After(*s.LastScanTimestamp) {
		ts := p.ts
		s.LastScanTimestamp = &ts
	}
	if p.username != "" {
		m.names[p.userID] = p.username
	} else if _, ok := m.names[p.userID]; !ok {
		m.names[p.userID] = DefaultUsername(p.userID)
	}
	m.updated[p.userID] = p.ts
	delete(m.outbox, scanID)
	return true, nil
}

func (m *memStore) PendingIncrements(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, id := range m.outboxOrder {
		if _, ok := m.outbox[id]; ok {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (m *memStore) UserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.CategoryCounts = make(map[models.Category]int)
	for k, v := range s.CategoryCounts {
		cp.CategoryCounts[k] = v
	}
	return &cp, nil
}

func (m *memStore) ranked() []models.LeaderboardEntry {
	entries := make([]models.LeaderboardEntry, 0, len(m.stats))
	for id, s := range m.stats {
		entries = append(entries, models.LeaderboardEntry{
			UserID:      id,
			Username:    m.names[id],
			TotalPoints: s.TotalPoints,
			TotalScans:  s.TotalScans,
			LastUpdated: m.updated[id],
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalPoints != entries[j].TotalPoints {
			return entries[i].TotalPoints > entries[j].TotalPoints
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func (m *memStore) Leaderboard(ctx context.Context, limit, offset int) ([]models.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.ranked()
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *memStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stats), nil
}

func (m *memStore) UserRank(ctx context.Context, userID string) (*models.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.ranked() {
		if e.UserID == userID {
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) ScansForUser(ctx context.Context, userID string, q HistoryQuery) ([]models.ScanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScanRecord
	for _, s := range m.scans {
		if s.UserID == userID && !s.Timestamp.Before(q.From) && !s.Timestamp.After(q.To) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memStore) Scan(ctx context.Context, scanID string) (*models.ScanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[scanID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *memStore) ScanPoints(ctx context.Context, userID string, since time.Time) ([]ScanPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScanPoint
	for _, s := range m.scans {
		if s.UserID == userID && !s.Timestamp.Before(since) {
			out = append(out, ScanPoint{Timestamp: s.Timestamp, Category: s.Detection.Category, Points: s.PointsEarned})
		}
	}
	return out, nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

func (m *memStore) Close() error { return nil }
