package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/connergroth/EcoVision/internal/auth"
	"github.com/connergroth/EcoVision/internal/models"
)

const (
	streamAuthTimeout  = 10 * time.Second
	streamWriteTimeout = 5 * time.Second
)

type streamHello struct {
	Token string `json:"token"`
}

type streamFrame struct {
	Image      string   `json:"image"`
	Confidence *float64 `json:"confidence"`
}

// handleDetectionStream serves the realtime detection websocket. The first
// message carries the credential; every later message is one frame. Frames
// are processed one at a time in arrival order.
func (s *Server) handleDetectionStream(c *gin.Context) {
	userID := c.Param("user_id")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.config.AllowedOrigins),
	})
	if err != nil {
		s.LogWarn("WebSocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	if s.config.MaxUploadBytes > 0 {
		// base64 inflates frames by a third
		conn.SetReadLimit(s.config.MaxUploadBytes * 4 / 3)
	}

	ctx := c.Request.Context()
	if !s.authenticateStream(ctx, conn, userID) {
		return
	}

	gate := s.detector.OpenStream(userID)
	defer s.detector.CloseStream(gate)

	s.LogInfo("WebSocket connection established", "user_id", userID)
	if err := s.writeStream(ctx, conn, models.StreamResponse{
		Status:  models.StreamConnected,
		Message: "WebSocket connection established",
	}); err != nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.logStreamEnd(userID, gate.Frames(), err)
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if err := s.writeStream(ctx, conn, models.StreamResponse{
				Status:  models.StreamError,
				Message: "Error processing frame: invalid JSON",
			}); err != nil {
				return
			}
			continue
		}

		image, err := decodeImage(frame.Image)
		if err != nil {
			if err := s.writeStream(ctx, conn, models.StreamResponse{
				Status:  models.StreamError,
				Message: "Error processing frame: " + err.Error(),
			}); err != nil {
				return
			}
			continue
		}

		if err := s.writeStream(ctx, conn, gate.Observe(ctx, image, frame.Confidence)); err != nil {
			return
		}
	}
}

// authenticateStream reads the credential message and verifies it against
// the path user. On failure it reports the reason and closes the socket.
func (s *Server) authenticateStream(ctx context.Context, conn *websocket.Conn, userID string) bool {
	reject := func(msg string) bool {
		wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
		defer cancel()
		_ = wsjson.Write(wctx, conn, gin.H{"error": msg})
		conn.Close(websocket.StatusPolicyViolation, msg)
		return false
	}

	if s.streamVerifier == nil {
		return reject("Authentication not configured")
	}

	actx, cancel := context.WithTimeout(ctx, streamAuthTimeout)
	defer cancel()

	var hello streamHello
	if err := wsjson.Read(actx, conn, &hello); err != nil {
		s.LogDebug("WebSocket authentication message not received", "user_id", userID, "error", err)
		return reject("Authentication required")
	}
	if hello.Token == "" {
		return reject("Authentication required")
	}

	id, err := s.streamVerifier.Verify(actx, hello.Token)
	if err != nil {
		s.LogWarn("WebSocket authentication failed", "user_id", userID, "error", err)
		return reject("Authentication failed")
	}
	if err := auth.Authorize(id, userID); err != nil {
		s.LogWarn("WebSocket user mismatch", "user_id", userID, "subject", id.UserID)
		return reject("User ID mismatch")
	}
	return true
}

func (s *Server) writeStream(ctx context.Context, conn *websocket.Conn, resp models.StreamResponse) error {
	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, resp)
}

func (s *Server) logStreamEnd(userID string, frames uint64, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.LogInfo("WebSocket connection closed", "user_id", userID, "frames", frames)
		return
	}
	if errors.Is(err, context.Canceled) {
		s.LogInfo("WebSocket connection closed by shutdown", "user_id", userID, "frames", frames)
		return
	}
	s.LogWarn("WebSocket connection lost", "user_id", userID, "frames", frames, "error", err)
}

// originPatterns converts allowed origins to the host patterns the
// websocket handshake matches against
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			patterns = append(patterns, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}
