// services/challenge_service.go
package services

import (
	"errors"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"nature-quest-system/models"
)

type ChallengeService struct {
	DB *gorm.DB
}

func NewChallengeService(db *gorm.DB) *ChallengeService {
	return &ChallengeService{DB: db}
}

// ChallengeFilter narrows catalog listings.
type ChallengeFilter struct {
	Difficulty   models.Difficulty
	LocationType models.LocationType
	ActiveOnly   bool
	Limit        int
	Offset       int
}

// ListChallenges returns catalog entries matching the filter, newest first.
func (s *ChallengeService) ListChallenges(f ChallengeFilter) ([]models.Challenge, int64, error) {
	q := s.DB.Model(&models.Challenge{})
	if f.Difficulty != "" {
		q = q.Where("difficulty_level = ?", f.Difficulty)
	}
	if f.LocationType != "" {
		q = q.Where("location_type = ?", f.LocationType)
	}
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}

	// Count and Find reuse the same condition set.
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	var challenges []models.Challenge
	err := q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&challenges).Error
	if err != nil {
		return nil, 0, err
	}
	return challenges, total, nil
}

// GetChallenge loads one catalog entry by ID.
func (s *ChallengeService) GetChallenge(id string) (*models.Challenge, error) {
	var c models.Challenge
	if err := s.DB.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	return &c, nil
}

// CreateChallenge inserts a new catalog entry (admin only).
func (s *ChallengeService) CreateChallenge(c *models.Challenge) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.VerificationRadius <= 0 {
		c.VerificationRadius = 500
	}
	return s.DB.Create(c).Error
}

// SetChallengeActive toggles a challenge's availability without deleting
// attempt history.
func (s *ChallengeService) SetChallengeActive(id string, active bool) error {
	res := s.DB.Model(&models.Challenge{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrChallengeNotFound
	}
	return nil
}

// ChallengeWithAttempt pairs a catalog entry with the requesting user's
// attempt on it, if any.
type ChallengeWithAttempt struct {
	Challenge models.Challenge         `json:"challenge"`
	Attempt   *models.ChallengeAttempt `json:"attempt,omitempty"`
}

// ListForUser returns active challenges annotated with the user's own
// attempt status, so the app can show completed/failed/available per card.
func (s *ChallengeService) ListForUser(userID string, f ChallengeFilter) ([]ChallengeWithAttempt, error) {
	f.ActiveOnly = true
	challenges, _, err := s.ListChallenges(f)
	if err != nil {
		return nil, err
	}

	var attempts []models.ChallengeAttempt
	if err := s.DB.Where("external_user_id = ?", userID).Find(&attempts).Error; err != nil {
		return nil, err
	}
	byChallenge := map[string]*models.ChallengeAttempt{}
	for i := range attempts {
		byChallenge[attempts[i].ChallengeID] = &attempts[i]
	}

	out := make([]ChallengeWithAttempt, 0, len(challenges))
	for _, c := range challenges {
		out = append(out, ChallengeWithAttempt{
			Challenge: c,
			Attempt:   byChallenge[c.ID],
		})
	}
	return out, nil
}

// DefaultChallenges seeds a starter catalog for fresh deployments.
var DefaultChallenges = []models.Challenge{
	{
		Title:              "Golden Gate Park Wander",
		Description:        "Visit Golden Gate Park and photograph its greenery.",
		DifficultyLevel:    models.DifficultyBeginner,
		LocationType:       models.LocationPark,
		LocationName:       "Golden Gate Park",
		TargetLatitude:     37.7694,
		TargetLongitude:    -122.4862,
		VerificationRadius: 800,
		RequiredElements:   []string{"vegetation"},
		PointsReward:       100,
		IsActive:           true,
	},
	{
		Title:              "Muir Woods Canopy",
		Description:        "Stand among the redwoods and capture the forest canopy.",
		DifficultyLevel:    models.DifficultyIntermediate,
		LocationType:       models.LocationForest,
		LocationName:       "Muir Woods National Monument",
		TargetLatitude:     37.8970,
		TargetLongitude:    -122.5811,
		VerificationRadius: 500,
		RequiredElements:   []string{"vegetation"},
		PointsReward:       250,
		IsActive:           true,
	},
	{
		Title:              "Lake Merced Shoreline",
		Description:        "Photograph the water from the Lake Merced shoreline trail.",
		DifficultyLevel:    models.DifficultyBeginner,
		LocationType:       models.LocationLake,
		LocationName:       "Lake Merced",
		TargetLatitude:     37.7281,
		TargetLongitude:    -122.4939,
		VerificationRadius: 600,
		RequiredElements:   []string{"water_or_sky"},
		PointsReward:       150,
		IsActive:           true,
	},
	{
		Title:              "Mount Tamalpais Summit",
		Description:        "Reach the east peak of Mount Tamalpais and photograph the view.",
		DifficultyLevel:    models.DifficultyAdvanced,
		LocationType:       models.LocationMountain,
		LocationName:       "Mount Tamalpais",
		TargetLatitude:     37.9235,
		TargetLongitude:    -122.5965,
		VerificationRadius: 400,
		RequiredElements:   []string{"earth_or_rocks", "water_or_sky"},
		PointsReward:       400,
		IsActive:           true,
	},
	{
		Title:              "Ocean Beach Sunset",
		Description:        "Capture the Pacific from the sand at Ocean Beach.",
		DifficultyLevel:    models.DifficultyBeginner,
		LocationType:       models.LocationBeach,
		LocationName:       "Ocean Beach",
		TargetLatitude:     37.7594,
		TargetLongitude:    -122.5107,
		VerificationRadius: 700,
		RequiredElements:   []string{"water_or_sky", "earth_or_rocks"},
		PointsReward:       150,
		IsActive:           true,
	},
}

// SeedChallenges inserts the starter catalog if the table is empty.
func (s *ChallengeService) SeedChallenges() error {
	var count int64
	if err := s.DB.Model(&models.Challenge{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, c := range DefaultChallenges {
		c.ID = uuid.NewString()
		if err := s.DB.Create(&c).Error; err != nil {
			return err
		}
	}
	log.Printf("🌱 [SEED] Inserted %d challenges", len(DefaultChallenges))
	return nil
}
