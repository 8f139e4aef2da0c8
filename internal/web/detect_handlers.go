package web

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/connergroth/EcoVision/internal/models"
	"github.com/connergroth/EcoVision/internal/pipeline"
)

const multipartMemory = 8 << 20

// detectPayload is the JSON body of the base64 detection endpoints
type detectPayload struct {
	Image            string   `json:"image" binding:"required"`
	UserID           string   `json:"user_id" binding:"required"`
	ClientConfidence *float64 `json:"client_confidence"`
	ScanID           string   `json:"scan_id"`
}

func failure(msg string) models.DetectionResponse {
	return models.DetectionResponse{ErrorMessage: msg}
}

// handleDetect handles multipart image uploads
func (s *Server) handleDetect(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, failure("Image exceeds the upload limit"))
			return
		}
		c.JSON(http.StatusBadRequest, failure("Expected multipart form data"))
		return
	}

	userID := c.PostForm("user_id")
	if !s.authorizeUser(c, userID) {
		return
	}

	hint, err := parseConfidence(c.PostForm("client_confidence"))
	if err != nil {
		c.JSON(http.StatusBadRequest, failure(err.Error()))
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, failure("file is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusOK, failure(fmt.Sprintf("Image processing failed: %v", err)))
		return
	}
	defer f.Close()

	image, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusOK, failure(fmt.Sprintf("Image processing failed: %v", err)))
		return
	}

	resp := s.detector.Detect(c.Request.Context(), pipeline.DetectRequest{
		UserID:           userID,
		Username:         displayName(c, userID),
		Image:            image,
		ClientConfidence: hint,
		ScanID:           c.PostForm("scan_id"),
	})
	c.JSON(http.StatusOK, resp)
}

// handleDetectBase64 handles base64 encoded webcam snapshots
func (s *Server) handleDetectBase64(c *gin.Context) {
	req, image, ok := s.bindPayload(c)
	if !ok {
		return
	}

	resp := s.detector.Detect(c.Request.Context(), pipeline.DetectRequest{
		UserID:           req.UserID,
		Username:         displayName(c, req.UserID),
		Image:            image,
		ClientConfidence: req.ClientConfidence,
		ScanID:           req.ScanID,
	})
	c.JSON(http.StatusOK, resp)
}

// handleContinuousDetection evaluates a single streaming frame without
// recording anything
func (s *Server) handleContinuousDetection(c *gin.Context) {
	req, image, ok := s.bindPayload(c)
	if !ok {
		return
	}

	sr := s.detector.Continuous(c.Request.Context(), pipeline.DetectRequest{
		UserID:           req.UserID,
		Image:            image,
		ClientConfidence: req.ClientConfidence,
	})
	if sr.Status == models.StreamError {
		c.JSON(http.StatusOK, failure(sr.Message))
		return
	}
	c.JSON(http.StatusOK, models.DetectionResponse{Success: true, Detection: sr.Detection})
}

// bindPayload parses, authorizes and decodes a JSON detection request. It
// writes the response itself when it returns false.
func (s *Server) bindPayload(c *gin.Context) (*detectPayload, []byte, bool) {
	var req detectPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, failure("Image exceeds the upload limit"))
			return nil, nil, false
		}
		c.JSON(http.StatusBadRequest, failure(fmt.Sprintf("Invalid request: %v", err)))
		return nil, nil, false
	}

	if !s.authorizeUser(c, req.UserID) {
		return nil, nil, false
	}

	image, err := decodeImage(req.Image)
	if err != nil {
		c.JSON(http.StatusOK, failure(fmt.Sprintf("Image processing failed: %v", err)))
		return nil, nil, false
	}
	return &req, image, true
}

// decodeImage decodes standard base64, with or without a data URL prefix
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, errors.New("malformed data URL")
		}
		s = payload
	}
	image, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.New("invalid base64 image data")
	}
	if len(image) == 0 {
		return nil, errors.New("empty image")
	}
	return image, nil
}

func parseConfidence(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return nil, errors.New("client_confidence must be a number between 0 and 1")
	}
	return &v, nil
}
