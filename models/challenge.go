package models

import (
	"time"

	"gorm.io/gorm"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// LocationType categorizes the kind of place a challenge targets.
// Used for place-index category filtering and type matching.
type LocationType string

const (
	LocationPark          LocationType = "park"
	LocationForest        LocationType = "forest"
	LocationLake          LocationType = "lake"
	LocationMountain      LocationType = "mountain"
	LocationBeach         LocationType = "beach"
	LocationGarden        LocationType = "garden"
	LocationTrail         LocationType = "trail"
	LocationWildlifeArea  LocationType = "wildlife_area"
	LocationNatureReserve LocationType = "nature_reserve"
	LocationRiver         LocationType = "river"
	LocationWaterfall     LocationType = "waterfall"
	LocationDesert        LocationType = "desert"
)

// Challenge is an immutable catalog entry. Created by admin/seed tooling;
// the verification pipeline only ever reads it.
type Challenge struct {
	ID              string       `gorm:"primaryKey;type:uuid" json:"id"`
	Title           string       `gorm:"not null" json:"title"`
	Description     string       `gorm:"type:text" json:"description"`
	DifficultyLevel Difficulty   `gorm:"type:varchar(15);not null" json:"difficulty_level"`
	LocationType    LocationType `gorm:"type:varchar(20);not null" json:"location_type"`
	LocationName    string       `json:"location_name"`

	// Geographic target for location verification
	TargetLatitude     float64 `json:"target_latitude"`
	TargetLongitude    float64 `json:"target_longitude"`
	VerificationRadius int     `gorm:"default:500" json:"verification_radius"` // meters

	// Requirements
	RequiredElements    []string `gorm:"type:jsonb;serializer:json" json:"required_elements"`
	SpecialInstructions string   `gorm:"type:text" json:"special_instructions"`
	PointsReward        int64    `gorm:"not null" json:"points_reward"`

	IsActive bool `gorm:"default:true;index" json:"is_active"`

	Timestamps
}

// VerificationMetrics: aggregate counters per challenge, updated by the
// orchestrator after every terminal decision.
type VerificationMetrics struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	ChallengeID string `gorm:"uniqueIndex;not null" json:"challenge_id"`

	TotalAttempts           int64 `gorm:"default:0" json:"total_attempts"`
	SuccessfulVerifications int64 `gorm:"default:0" json:"successful_verifications"`
	FailedVerifications     int64 `gorm:"default:0" json:"failed_verifications"`
	FlaggedSubmissions      int64 `gorm:"default:0" json:"flagged_submissions"`

	// Failure breakdown by cause
	PhotoFailures    int64 `gorm:"default:0" json:"photo_failures"`
	LocationFailures int64 `gorm:"default:0" json:"location_failures"`

	// Rolling average over all terminal decisions, in seconds
	AverageVerificationTime float64 `gorm:"default:0" json:"average_verification_time"`

	Timestamps
}

// SuccessRate returns the verified share of all attempts as a percentage.
func (m *VerificationMetrics) SuccessRate() float64 {
	if m.TotalAttempts == 0 {
		return 0
	}
	return float64(m.SuccessfulVerifications) / float64(m.TotalAttempts) * 100
}
