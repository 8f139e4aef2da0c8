package models

import "time"

// BoundingBox is an axis-aligned box in original image pixel coordinates
type BoundingBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Detection is a single classified object
type Detection struct {
	Category    Category     `json:"category"`
	Confidence  float64      `json:"confidence"`
	BoundingBox *BoundingBox `json:"bounding_box,omitempty"`
}

// InfoSource records which tier produced a RecyclingInfo
type InfoSource string

const (
	SourceGenerated InfoSource = "generated"
	SourceExternal  InfoSource = "external"
	SourceFallback  InfoSource = "fallback"
)

// RecyclingInfo is disposal guidance for a category
type RecyclingInfo struct {
	Category             Category               `json:"category"`
	Recyclable           bool                   `json:"recyclable"`
	Description          string                 `json:"description"`
	DisposalInstructions string                 `json:"disposal_instructions"`
	EnvironmentalImpact  string                 `json:"environmental_impact"`
	AdditionalInfo       map[string]interface{} `json:"additional_info,omitempty"`
	Source               InfoSource             `json:"source"`
}

// ScanRecord is one recorded, point-earning detection event
type ScanRecord struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Timestamp     time.Time     `json:"timestamp"`
	ImageURL      string        `json:"image_url,omitempty"`
	Detection     Detection     `json:"detection"`
	RecyclingInfo RecyclingInfo `json:"recycling_info"`
	PointsEarned  int           `json:"points_earned"`
}

// UserStats is the per-user aggregate maintained by the ledger
type UserStats struct {
	UserID            string           `json:"user_id"`
	TotalPoints       int              `json:"total_points"`
	TotalScans        int              `json:"total_scans"`
	CategoryCounts    map[Category]int `json:"category_counts"`
	LastScanTimestamp *time.Time       `json:"last_scan_timestamp,omitempty"`
}

// LeaderboardEntry is one row of the global projection
type LeaderboardEntry struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	TotalPoints int       `json:"total_points"`
	TotalScans  int       `json:"total_scans"`
	Rank        int       `json:"rank"`
	LastUpdated time.Time `json:"last_updated"`
}

// Leaderboard is a page of the global projection
type Leaderboard struct {
	Entries    []LeaderboardEntry `json:"entries"`
	TotalUsers int                `json:"total_users"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// UserRank describes a user's position in the leaderboard. Ranked is false
// for users who have not recorded a scan yet.
type UserRank struct {
	UserID      string  `json:"user_id"`
	Username    string  `json:"username"`
	Rank        int     `json:"rank"`
	TotalPoints int     `json:"total_points"`
	TotalScans  int     `json:"total_scans"`
	TotalUsers  int     `json:"total_users"`
	Percentile  float64 `json:"percentile"`
	Ranked      bool    `json:"ranked"`
}

// ScanHistory is a page of a user's scans
type ScanHistory struct {
	UserID      string       `json:"user_id"`
	TotalScans  int          `json:"total_scans"`
	TotalPoints int          `json:"total_points"`
	Scans       []ScanRecord `json:"scans"`
}

// StatsSummary aggregates the last year of a user's activity
type StatsSummary struct {
	UserID         string           `json:"user_id"`
	TotalScans     int              `json:"total_scans"`
	TotalPoints    int              `json:"total_points"`
	CategoryCounts map[Category]int `json:"category_counts"`
	MonthlyPoints  map[string]int   `json:"monthly_points"`
}

// DetectionResponse is the envelope returned by the detection endpoints
type DetectionResponse struct {
	Success       bool           `json:"success"`
	Detection     *Detection     `json:"detection"`
	RecyclingInfo *RecyclingInfo `json:"recycling_info"`
	PointsEarned  *int           `json:"points_earned"`
	ScanID        string         `json:"scan_id,omitempty"`
	// Duplicate marks a replayed scan id. PointsEarned then repeats the
	// original award; nothing was added.
	Duplicate    bool   `json:"duplicate,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// StreamStatus is the status field of a StreamResponse
type StreamStatus string

const (
	StreamConnected  StreamStatus = "connected"
	StreamProcessing StreamStatus = "processing"
	StreamDetection  StreamStatus = "detection"
	StreamError      StreamStatus = "error"
)

// StreamResponse is sent for every processed streaming frame
type StreamResponse struct {
	Status    StreamStatus `json:"status"`
	Detection *Detection   `json:"detection"`
	Message   string       `json:"message,omitempty"`
}
