package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/connergroth/EcoVision/internal/auth"
)

const identityKey = "identity"

// authMiddleware resolves the bearer credential. Missing or invalid
// credentials are rejected with 401 before any handler runs. lightweight
// routes use the stream verifier, which may answer from its cache.
func (s *Server) authMiddleware(lightweight bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		verifier := s.verifier
		if lightweight {
			verifier = s.streamVerifier
		}
		if verifier == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Authentication not configured"})
			return
		}

		token, err := auth.ExtractBearer(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		id, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			s.LogDebug("Authentication failed", "path", c.FullPath(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed"})
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

func identityFrom(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*auth.Identity)
	return id
}

// authorizeUser checks the caller may act for userID and writes the
// rejection when it may not
func (s *Server) authorizeUser(c *gin.Context, userID string) bool {
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return false
	}

	err := auth.Authorize(identityFrom(c), userID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, auth.ErrAuthMismatch):
		s.LogWarn("User ID does not match token", "user_id", userID, "path", c.FullPath())
		c.JSON(http.StatusForbidden, gin.H{"error": "User ID does not match token"})
	default:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed"})
	}
	return false
}

// displayName is the caller's name when acting for themselves
func displayName(c *gin.Context, userID string) string {
	id := identityFrom(c)
	if id == nil || id.UserID != userID {
		return ""
	}
	return id.Name
}
