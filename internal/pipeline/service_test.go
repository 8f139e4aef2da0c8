package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connergroth/EcoVision/internal/info"
	"github.com/connergroth/EcoVision/internal/ledger"
	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
	"github.com/connergroth/EcoVision/internal/service"
	"github.com/connergroth/EcoVision/internal/state"
	"github.com/connergroth/EcoVision/internal/stream"
	"github.com/connergroth/EcoVision/internal/vision"
)

type fakeDetector struct {
	mu        sync.Mutex
	dets      []models.Detection
	err       error
	streaming []bool
}

func (f *fakeDetector) Detect(ctx context.Context, image []byte, streaming bool) ([]models.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = append(f.streaming, streaming)
	return f.dets, f.err
}

type fakeResolver struct {
	recyclable bool
	calls      int
}

func (f *fakeResolver) Resolve(ctx context.Context, c models.Category, conf float64) *models.RecyclingInfo {
	f.calls++
	return &models.RecyclingInfo{Category: c, Recyclable: f.recyclable, Description: "desc", Source: models.SourceFallback}
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []ledger.Entry
	err     error
}

func (f *fakeRecorder) Record(ctx context.Context, e ledger.Entry) (*ledger.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.entries = append(f.entries, e)
	return &ledger.Result{ScanID: e.ScanID, Applied: true}, nil
}

func detections(confs ...float64) []models.Detection {
	out := make([]models.Detection, 0, len(confs))
	for i, c := range confs {
		out = append(out, models.Detection{Category: models.Categories[i%len(models.Categories)], Confidence: c})
	}
	return out
}

func newService(det *fakeDetector, res InfoResolver, rec Recorder) *Service {
	return New(det, res, rec, Config{ConfidenceThreshold: 0.7, PointsPerRecyclable: 10}, logger.NewNopLogger())
}

func TestDetect_LowConfidence(t *testing.T) {
	det := &fakeDetector{dets: detections(0.5, 0.69)}
	res := &fakeResolver{recyclable: true}
	rec := &fakeRecorder{}
	svc := newService(det, res, rec)

	hint := 0.95
	resp := svc.Detect(context.Background(), DetectRequest{UserID: "u1", Image: []byte("img"), ClientConfidence: &hint})

	assert.True(t, resp.Success)
	assert.Nil(t, resp.Detection)
	assert.Nil(t, resp.PointsEarned)
	assert.Equal(t, "No recyclable items detected with sufficient confidence", resp.ErrorMessage)
	assert.Equal(t, 0, res.calls)
	assert.Empty(t, rec.entries)
	assert.Equal(t, []bool{false}, det.streaming)
}

func TestDetect_NoDetections(t *testing.T) {
	svc := newService(&fakeDetector{}, &fakeResolver{}, &fakeRecorder{})
	resp := svc.Detect(context.Background(), DetectRequest{UserID: "u1"})
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Detection)
}

func TestDetect_CommitsRecyclable(t *testing.T) {
	det := &fakeDetector{dets: detections(0.4, 0.91)}
	rec := &fakeRecorder{}
	svc := newService(det, &fakeResolver{recyclable: true}, rec)

	gate := svc.OpenStream("u1")
	gate.Observe(context.Background(), []byte("frame"), nil)
	require.Equal(t, stream.StateCommitReady, gate.State())

	resp := svc.Detect(context.Background(), DetectRequest{UserID: "u1", Username: "Alice", Image: []byte("img")})

	require.True(t, resp.Success, resp.ErrorMessage)
	require.NotNil(t, resp.Detection)
	assert.Equal(t, models.CategoryPaper, resp.Detection.Category)
	assert.Equal(t, 0.91, resp.Detection.Confidence)
	require.NotNil(t, resp.PointsEarned)
	assert.Equal(t, 10, *resp.PointsEarned)
	assert.NotEmpty(t, resp.ScanID)
	assert.Empty(t, resp.ErrorMessage)

	assert.False(t, resp.Duplicate)

	require.Len(t, rec.entries, 1)
	entry := rec.entries[0]
	assert.Equal(t, resp.ScanID, entry.ScanID)
	assert.Equal(t, "Alice", entry.Username)
	assert.Equal(t, 10, entry.Points)
	assert.True(t, entry.Info.Recyclable)

	assert.Equal(t, stream.StatePersisted, gate.State())
	svc.CloseStream(gate)
	assert.Equal(t, 0, svc.OpenStreams())
}

func TestDetect_NonRecyclableRecordedWithoutPoints(t *testing.T) {
	rec := &fakeRecorder{}
	svc := newService(&fakeDetector{dets: detections(0.8)}, &fakeResolver{recyclable: false}, rec)

	resp := svc.Detect(context.Background(), DetectRequest{UserID: "u1", ScanID: "client-scan"})

	require.True(t, resp.Success)
	assert.Equal(t, 0, *resp.PointsEarned)
	assert.Equal(t, "client-scan", resp.ScanID)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, 0, rec.entries[0].Points)
}

func TestDetect_DecodeFailure(t *testing.T) {
	det := &fakeDetector{err: &vision.DecodeError{Op: "preprocess", Reason: "unsupported image format"}}
	rec := &fakeRecorder{}
	svc := newService(det, &fakeResolver{}, rec)

	resp := svc.Detect(context.Background(), DetectRequest{UserID: "u1", Image: []byte("junk")})

	assert.False(t, resp.Success)
	assert.Equal(t, "Image processing failed: preprocess: unsupported image format", resp.ErrorMessage)
	assert.Empty(t, rec.entries)
}

func TestDetect_EngineFailure(t *testing.T) {
	svc := newService(&fakeDetector{err: errors.New("inference failed: connection refused")}, &fakeResolver{}, &fakeRecorder{})

	resp := svc.Detect(context.Background(), DetectRequest{UserID: "u1"})

	assert.False(t, resp.Success)
	assert.Equal(t, "Detection failed: inference failed: connection refused", resp.ErrorMessage)
}

func TestDetect_LedgerFailureIsRetryable(t *testing.T) {
	rec := &fakeRecorder{err: &ledger.LedgerError{ScanID: "s1", Stage: "increment", Err: errors.New("disk full")}}
	det := &fakeDetector{dets: detections(0.9)}
	svc := newService(det, &fakeResolver{recyclable: true}, rec)

	gate := svc.OpenStream("u1")
	gate.Observe(context.Background(), []byte("frame"), nil)

	resp := svc.Detect(context.Background(), DetectRequest{UserID: "u1", ScanID: "s1"})

	assert.False(t, resp.Success)
	assert.Equal(t, "s1", resp.ScanID)
	assert.Contains(t, resp.ErrorMessage, "retry")
	assert.NotNil(t, resp.Detection)
	assert.Nil(t, resp.PointsEarned)
	// nothing was committed, so open streams keep their state
	assert.Equal(t, stream.StateCommitReady, gate.State())
}

func TestDetect_PublishesEvents(t *testing.T) {
	svc := newService(&fakeDetector{dets: detections(0.9)}, &fakeResolver{recyclable: true}, &fakeRecorder{})
	bus := service.NewEventBus(10)
	svc.SetEventBus(bus)
	events := bus.SubscribeAll()

	svc.Detect(context.Background(), DetectRequest{UserID: "u1"})

	var types []service.EventType
	for len(types) < 2 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for events, got %v", types)
		}
	}
	assert.Equal(t, []service.EventType{service.EventTypeScanRecorded, service.EventTypeDetectionCommitted}, types)
}

func TestContinuous(t *testing.T) {
	det := &fakeDetector{dets: []models.Detection{{Category: models.CategoryGlass, Confidence: 0.62}}}
	rec := &fakeRecorder{}
	svc := newService(det, &fakeResolver{}, rec)

	resp := svc.Continuous(context.Background(), DetectRequest{UserID: "u1"})
	assert.Equal(t, models.StreamProcessing, resp.Status)
	assert.Nil(t, resp.Detection)

	det.dets = []models.Detection{{Category: models.CategoryGlass, Confidence: 0.70}}
	resp = svc.Continuous(context.Background(), DetectRequest{UserID: "u1"})
	assert.Equal(t, models.StreamDetection, resp.Status)
	require.NotNil(t, resp.Detection)
	assert.Equal(t, models.CategoryGlass, resp.Detection.Category)

	assert.Empty(t, rec.entries)
	assert.Equal(t, []bool{true, true}, det.streaming)
}

func TestDetect_RetriedScanCountsOnce(t *testing.T) {
	ctx := context.Background()
	store, err := state.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "ledger.db"), logger.NewNopLogger())
	require.NoError(t, err)
	defer store.Close()

	l := ledger.New(store, ledger.Config{InitialBackoff: time.Millisecond}, logger.NewNopLogger())
	resolver := info.NewResolver(info.NewCache(16, time.Hour), logger.NewNopLogger())
	svc := newService(&fakeDetector{dets: detections(0.9)}, resolver, l)

	for i := 0; i < 3; i++ {
		resp := svc.Detect(ctx, DetectRequest{UserID: "u1", ScanID: "same-scan"})
		require.True(t, resp.Success, resp.ErrorMessage)
		assert.Equal(t, 10, *resp.PointsEarned)
		assert.Equal(t, i > 0, resp.Duplicate, "attempt %d", i)
	}

	stats, err := l.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalPoints)
	assert.Equal(t, 1, stats.TotalScans)
}

func TestDetect_HungGenerativeTierStillCommits(t *testing.T) {
	cases := map[string]struct {
		cfg     Config
		timeout time.Duration
	}{
		"info budget":    {cfg: Config{InfoBudget: 150 * time.Millisecond}, timeout: 2 * time.Second},
		"commit reserve": {cfg: Config{CommitReserve: 300 * time.Millisecond}, timeout: 500 * time.Millisecond},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			release := make(chan struct{})
			hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-release:
				case <-r.Context().Done():
				}
			}))
			defer hung.Close()
			defer close(release)

			ctx := context.Background()
			store, err := state.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "ledger.db"), logger.NewNopLogger())
			require.NoError(t, err)
			defer store.Close()

			gen := info.NewGenerative(info.GenerativeConfig{
				URL:            hung.URL,
				Provider:       "llama",
				Timeout:        tc.timeout,
				MinInterval:    time.Millisecond,
				MaxAttempts:    3,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     time.Millisecond,
			}, logger.NewNopLogger())
			resolver := info.NewResolver(info.NewCache(16, time.Hour), logger.NewNopLogger(), gen)
			l := ledger.New(store, ledger.Config{InitialBackoff: time.Millisecond}, logger.NewNopLogger())

			cfg := tc.cfg
			cfg.ConfidenceThreshold = 0.7
			svc := New(&fakeDetector{dets: []models.Detection{{Category: models.CategoryPlastic, Confidence: 0.9}}}, resolver, l, cfg, logger.NewNopLogger())

			reqCtx, cancel := context.WithTimeout(ctx, tc.timeout)
			defer cancel()
			resp := svc.Detect(reqCtx, DetectRequest{UserID: "u1"})

			require.True(t, resp.Success, resp.ErrorMessage)
			require.NotNil(t, resp.RecyclingInfo)
			assert.Equal(t, models.SourceFallback, resp.RecyclingInfo.Source)
			assert.Equal(t, 10, *resp.PointsEarned)

			stats, err := l.Stats(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 1, stats.TotalScans)
		})
	}
}
