package web

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/connergroth/EcoVision/internal/models"
)

func dialStream(t *testing.T, env *testEnv, userID string) (*websocket.Conn, context.Context) {
	t.Helper()
	ts := httptest.NewServer(env.h)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/detection/" + userID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func readStream(t *testing.T, ctx context.Context, conn *websocket.Conn) models.StreamResponse {
	t.Helper()
	var resp models.StreamResponse
	require.NoError(t, wsjson.Read(ctx, conn, &resp))
	return resp
}

func TestDetectionStream(t *testing.T) {
	env := setupTestServer(t)
	conn, ctx := dialStream(t, env, "alice")

	require.NoError(t, wsjson.Write(ctx, conn, gin.H{"token": "tok-alice"}))
	hello := readStream(t, ctx, conn)
	assert.Equal(t, models.StreamConnected, hello.Status)

	require.NoError(t, wsjson.Write(ctx, conn, gin.H{"image": b64("blurry"), "confidence": 0.8}))
	resp := readStream(t, ctx, conn)
	assert.Equal(t, models.StreamProcessing, resp.Status)
	assert.Nil(t, resp.Detection)

	require.NoError(t, wsjson.Write(ctx, conn, gin.H{"image": b64("bottle")}))
	resp = readStream(t, ctx, conn)
	assert.Equal(t, models.StreamDetection, resp.Status)
	require.NotNil(t, resp.Detection)
	assert.Equal(t, models.CategoryPlastic, resp.Detection.Category)
	assert.Equal(t, 0.92, resp.Detection.Confidence)

	require.NoError(t, wsjson.Write(ctx, conn, gin.H{"image": "%%%"}))
	resp = readStream(t, ctx, conn)
	assert.Equal(t, models.StreamError, resp.Status)
	assert.Contains(t, resp.Message, "invalid base64")

	// malformed frames do not end the session
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))
	resp = readStream(t, ctx, conn)
	assert.Equal(t, models.StreamError, resp.Status)

	require.NoError(t, wsjson.Write(ctx, conn, gin.H{"image": b64("junk")}))
	resp = readStream(t, ctx, conn)
	assert.Equal(t, models.StreamError, resp.Status)
	assert.Equal(t, "Image processing failed", resp.Message)

	// streaming never records
	stats, err := env.ledger.Stats(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalScans)
}

func TestDetectionStream_RejectsBadCredential(t *testing.T) {
	cases := map[string]struct {
		token string
		want  string
	}{
		"missing":  {token: "", want: "Authentication required"},
		"invalid":  {token: "forged", want: "Authentication failed"},
		"mismatch": {token: "tok-bob", want: "User ID mismatch"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			env := setupTestServer(t)
			conn, ctx := dialStream(t, env, "alice")

			require.NoError(t, wsjson.Write(ctx, conn, gin.H{"token": tc.token}))

			var msg map[string]string
			require.NoError(t, wsjson.Read(ctx, conn, &msg))
			assert.Equal(t, tc.want, msg["error"])

			_, _, err := conn.Read(ctx)
			assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
		})
	}
}

func TestDetectionStream_AdminMayObserve(t *testing.T) {
	env := setupTestServer(t)
	conn, ctx := dialStream(t, env, "alice")

	require.NoError(t, wsjson.Write(ctx, conn, gin.H{"token": "tok-admin"}))
	assert.Equal(t, models.StreamConnected, readStream(t, ctx, conn).Status)
}
