package models

import (
	"time"
)

type AttemptStatus string

const (
	AttemptPending  AttemptStatus = "pending"
	AttemptVerified AttemptStatus = "verified"
	AttemptFailed   AttemptStatus = "failed"
	AttemptRejected AttemptStatus = "rejected"
	AttemptFlagged  AttemptStatus = "flagged"
)

// IsTerminal reports whether no further automatic transition is allowed.
// Only an explicit admin review can move a flagged attempt afterwards.
func (s AttemptStatus) IsTerminal() bool {
	return s != AttemptPending
}

// ChallengeAttempt is one user's submission against one challenge.
// At most one attempt per (user, challenge); resubmission of a
// non-verified attempt is an explicit state reset, never a second row.
type ChallengeAttempt struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"not null;uniqueIndex:idx_attempt_user_challenge;index" json:"external_user_id"` // links to profile service
	ChallengeID    string `gorm:"not null;uniqueIndex:idx_attempt_user_challenge;index" json:"challenge_id"`

	Status AttemptStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`

	// Submitted data
	PhotoKey           string  `json:"photo_key"` // object-storage key
	PhotoURL           string  `gorm:"type:text" json:"photo_url"`
	SubmittedLatitude  float64 `json:"submitted_latitude"`
	SubmittedLongitude float64 `json:"submitted_longitude"`
	SubmissionNotes    string  `gorm:"type:text" json:"submission_notes"`

	// Verification outcome
	PhotoVerified     bool   `gorm:"default:false" json:"photo_verified"`
	LocationVerified  bool   `gorm:"default:false" json:"location_verified"`
	VerificationNotes string `gorm:"type:text" json:"verification_notes"`

	// Points and rewards
	PointsEarned int64 `gorm:"default:0" json:"points_earned"`
	BonusPoints  int64 `gorm:"default:0" json:"bonus_points"`

	// Re-entrant retry bookkeeping for the verification worker
	RetryCount int `gorm:"default:0" json:"retry_count"`

	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	Timestamps
}

func (a *ChallengeAttempt) IsVerified() bool {
	return a.Status == AttemptVerified
}

func (a *ChallengeAttempt) TotalPoints() int64 {
	return a.PointsEarned + a.BonusPoints
}

// DetectedElement is one coarse nature category found in a photo.
type DetectedElement struct {
	Element     string  `json:"element"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

// PhotoAnalysis: write-once satellite record of an attempt, kept as audit
// evidence for the status decision.
type PhotoAnalysis struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	AttemptID string `gorm:"uniqueIndex;not null" json:"attempt_id"`

	// EXIF
	HasEXIF        bool       `gorm:"default:false" json:"has_exif"`
	CapturedAt     *time.Time `json:"captured_at,omitempty"`
	PhotoLatitude  *float64   `json:"photo_latitude,omitempty"`
	PhotoLongitude *float64   `json:"photo_longitude,omitempty"`
	CameraInfo     map[string]string `gorm:"type:jsonb;serializer:json" json:"camera_info"`

	// Scores
	QualityScore      float64 `gorm:"default:0" json:"quality_score"`
	AuthenticityScore float64 `gorm:"default:0" json:"authenticity_score"`

	DetectedElements []DetectedElement `gorm:"type:jsonb;serializer:json" json:"detected_elements"`

	TimestampValid      bool   `gorm:"default:false" json:"timestamp_valid"`
	HasRequiredElements bool   `gorm:"default:false" json:"has_required_elements"`
	VerificationPassed  bool   `gorm:"default:false" json:"verification_passed"`
	AnalysisNotes       string `gorm:"type:text" json:"analysis_notes"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// LocationVerification: write-once satellite record of an attempt.
type LocationVerification struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	AttemptID string `gorm:"uniqueIndex;not null" json:"attempt_id"`

	IsValidCoordinate bool    `gorm:"default:true" json:"is_valid_coordinate"`
	DistanceToTarget  float64 `json:"distance_to_target"` // meters, nearest place match

	ClosestMatchName  string   `json:"closest_match_name"`
	MatchCategories   []string `gorm:"type:jsonb;serializer:json" json:"match_categories"`
	LocationTypeMatch bool     `gorm:"default:false" json:"location_type_match"`

	Confidence         float64 `gorm:"default:0" json:"confidence"`
	VerificationPassed bool    `gorm:"default:false" json:"verification_passed"`
	ErrorNote          string  `json:"error_note"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// FraudDetection: write-once satellite record of an attempt, plus the
// manual-review trail filled in by an administrator.
type FraudDetection struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	AttemptID string `gorm:"uniqueIndex;not null" json:"attempt_id"`

	RiskLevel   RiskLevel `gorm:"type:varchar(10);default:'low';index" json:"risk_level"`
	RiskScore   float64   `gorm:"default:0" json:"risk_score"`
	RiskFactors []string  `gorm:"type:jsonb;serializer:json" json:"risk_factors"`

	DuplicateImageDetected bool `gorm:"default:false" json:"duplicate_image_detected"`
	RapidSubmissions       bool `gorm:"default:false" json:"rapid_submissions"`
	SuspiciousLocation     bool `gorm:"default:false" json:"suspicious_location"`

	RequiresManualReview bool `gorm:"default:false;index" json:"requires_manual_review"`

	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes string     `gorm:"type:text" json:"review_notes,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
