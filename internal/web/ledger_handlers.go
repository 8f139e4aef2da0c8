package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/connergroth/EcoVision/internal/auth"
	"github.com/connergroth/EcoVision/internal/info"
	"github.com/connergroth/EcoVision/internal/ledger"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// handleLeaderboard returns a page of the global ranking
func (s *Server) handleLeaderboard(c *gin.Context) {
	limit, offset, ok := pageParams(c, defaultPageLimit)
	if !ok {
		return
	}

	board, err := s.ledger.Leaderboard(c.Request.Context(), limit, offset)
	if err != nil {
		s.LogError("Failed to read leaderboard", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read leaderboard"})
		return
	}
	c.JSON(http.StatusOK, board)
}

// handleUserRank returns one user's position. Any authenticated caller may
// look up a rank.
func (s *Server) handleUserRank(c *gin.Context) {
	rank, err := s.ledger.UserRank(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.LogError("Failed to read user rank", err, "user_id", c.Param("user_id"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read user rank"})
		return
	}
	c.JSON(http.StatusOK, rank)
}

// handleUserScans returns a page of the caller's scan history
func (s *Server) handleUserScans(c *gin.Context) {
	userID := c.Param("user_id")
	if !s.authorizeUser(c, userID) {
		return
	}

	limit, offset, ok := pageParams(c, 20)
	if !ok {
		return
	}
	q := ledger.HistoryQuery{Limit: limit, Offset: offset}

	var err error
	if q.From, err = parseTime(c.Query("start_date")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be RFC3339"})
		return
	}
	if q.To, err = parseTime(c.Query("end_date")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be RFC3339"})
		return
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date is after end_date"})
		return
	}

	history, err := s.ledger.History(c.Request.Context(), userID, q)
	if err != nil {
		s.LogError("Failed to read scan history", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read scan history"})
		return
	}
	c.JSON(http.StatusOK, history)
}

// handleGetScan returns one scan to its owner or an admin
func (s *Server) handleGetScan(c *gin.Context) {
	scanID := c.Param("scan_id")
	rec, err := s.ledger.Scan(c.Request.Context(), scanID)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
		return
	}
	if err != nil {
		s.LogError("Failed to read scan", err, "scan_id", scanID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read scan"})
		return
	}

	// other users' scans are reported as missing
	if err := auth.Authorize(identityFrom(c), rec.UserID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleStatsSummary returns the last year of activity by category and month
func (s *Server) handleStatsSummary(c *gin.Context) {
	userID := c.Param("user_id")
	if !s.authorizeUser(c, userID) {
		return
	}

	summary, err := s.ledger.Summary(c.Request.Context(), userID)
	if err != nil {
		s.LogError("Failed to read stats summary", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read stats summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleRecyclingTips returns general recycling tips
func (s *Server) handleRecyclingTips(c *gin.Context) {
	if s.tips == nil {
		c.JSON(http.StatusOK, info.FallbackTips())
		return
	}
	c.JSON(http.StatusOK, s.tips.Tips(c.Request.Context()))
}

// pageParams parses limit and offset. limit must be within 1..100.
func pageParams(c *gin.Context, defaultLimit int) (int, int, bool) {
	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxPageLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return 0, 0, false
		}
		limit = v
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return 0, 0, false
		}
		offset = v
	}
	return limit, offset, true
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
