// services/progress_service.go
package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nature-quest-system/models"
)

var ErrUserNotFound = errors.New("user not found")

const (
	// Bonus points granted on top of the base reward.
	badgeBonusPoints     = 50
	levelBonusMultiplier = 100 // level_number x 100 on each level-up

	// Gates for the special Cat badge, on top of its points threshold.
	specialMinRegularBadges = 12
	specialMinLevel         = 10
	specialMinChallenges    = 20

	// Badge and level awards feed each other through bonus points, so the
	// sweep runs to a fixed point. The cap only guards against a
	// misconfigured catalog.
	maxRewardSweeps = 32
)

type ProgressService struct {
	DB *gorm.DB
}

func NewProgressService(db *gorm.DB) *ProgressService {
	return &ProgressService{DB: db}
}

// AwardResult summarizes one points credit and the achievements it
// cascaded into.
type AwardResult struct {
	NewTotal       int64    `json:"new_total"`
	BonusPoints    int64    `json:"bonus_points"`
	UnlockedBadges []string `json:"unlocked_badges"`
	NewLevel       *int     `json:"new_level,omitempty"`
}

// UpdateProgress awards points to a user in its own transaction. Callers
// already inside a transaction use ApplyProgress directly.
func (s *ProgressService) UpdateProgress(userID string, points int64, kind models.TransactionKind, description string, challengeID, quizID *string) (*AwardResult, error) {
	var award *AwardResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		award, err = s.ApplyProgress(tx, userID, points, kind, description, challengeID, quizID)
		return err
	})
	return award, err
}

// ApplyProgress credits points, records the ledger transaction, then sweeps
// badge and level awards to a fixed point: a badge bonus can push the user
// over a level threshold and a level bonus can unlock another badge, all
// within the same transaction.
func (s *ProgressService) ApplyProgress(tx *gorm.DB, userID string, points int64, kind models.TransactionKind, description string, challengeID, quizID *string) (*AwardResult, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}

	profile, err := s.lockProfile(tx, userID)
	if err != nil {
		return nil, err
	}

	profile.TotalPoints += points
	switch kind {
	case models.TxnChallengeCompletion:
		profile.ChallengesCompleted++
	case models.TxnQuizCompletion:
		profile.QuizzesCompleted++
	}

	if err := s.recordTransaction(tx, userID, points, kind, description, challengeID, quizID); err != nil {
		return nil, err
	}

	award := &AwardResult{}
	for sweep := 0; sweep < maxRewardSweeps; sweep++ {
		badgeBonus, err := s.awardEligibleBadges(tx, profile, award)
		if err != nil {
			return nil, err
		}
		levelBonus, err := s.advanceLevel(tx, profile, award)
		if err != nil {
			return nil, err
		}
		award.BonusPoints += badgeBonus + levelBonus
		if badgeBonus == 0 && levelBonus == 0 {
			break
		}
	}

	if err := tx.Save(profile).Error; err != nil {
		return nil, err
	}
	award.NewTotal = profile.TotalPoints
	return award, nil
}

// lockProfile loads or creates the profile row, taking a row lock on
// Postgres so concurrent awards serialize.
func (s *ProgressService) lockProfile(tx *gorm.DB, userID string) (*models.UserProfile, error) {
	q := tx.Where("external_user_id = ?", userID)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var profile models.UserProfile
	err := q.First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = models.UserProfile{
			ID:             uuid.NewString(),
			ExternalUserID: userID,
		}
		if err := tx.Create(&profile).Error; err != nil {
			return nil, err
		}
		return &profile, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *ProgressService) recordTransaction(tx *gorm.DB, userID string, points int64, kind models.TransactionKind, description string, challengeID, quizID *string) error {
	return tx.Create(&models.PointsTransaction{
		ID:             uuid.NewString(),
		ExternalUserID: userID,
		Kind:           kind,
		Points:         points,
		Description:    description,
		ChallengeID:    challengeID,
		QuizID:         quizID,
	}).Error
}

// awardEligibleBadges grants every badge the user now qualifies for, in
// ascending threshold order, crediting the bonus as it goes.
func (s *ProgressService) awardEligibleBadges(tx *gorm.DB, profile *models.UserProfile, award *AwardResult) (int64, error) {
	var badges []models.Badge
	if err := tx.Order("points_required ASC").Find(&badges).Error; err != nil {
		return 0, err
	}

	earned := map[string]bool{}
	var owned []models.UserBadge
	if err := tx.Where("external_user_id = ?", profile.ExternalUserID).Find(&owned).Error; err != nil {
		return 0, err
	}
	for _, ub := range owned {
		earned[ub.BadgeID] = true
	}
	regularCount := 0
	for _, ub := range owned {
		for _, b := range badges {
			if b.ID == ub.BadgeID && !b.IsSpecial {
				regularCount++
			}
		}
	}

	var bonus int64
	for _, badge := range badges {
		if earned[badge.ID] || profile.TotalPoints < badge.PointsRequired {
			continue
		}
		if badge.IsSpecial && !s.specialBadgeEligible(tx, profile, regularCount) {
			continue
		}

		if err := tx.Create(&models.UserBadge{
			ID:               uuid.NewString(),
			ExternalUserID:   profile.ExternalUserID,
			BadgeID:          badge.ID,
			PointsWhenEarned: profile.TotalPoints,
		}).Error; err != nil {
			return 0, err
		}
		if err := s.recordTransaction(tx, profile.ExternalUserID, badgeBonusPoints, models.TxnBadgeEarned,
			fmt.Sprintf("Earned badge: %s", badge.Name), nil, nil); err != nil {
			return 0, err
		}
		profile.TotalPoints += badgeBonusPoints
		bonus += badgeBonusPoints
		award.UnlockedBadges = append(award.UnlockedBadges, badge.Name)
		if !badge.IsSpecial {
			regularCount++
		}
		log.Printf("🏅 [PROGRESS] User %s earned badge %q at %d points", profile.ExternalUserID, badge.Name, profile.TotalPoints)
	}
	return bonus, nil
}

// specialBadgeEligible applies the extra gates on the special badge: all
// regular badges collected, a high enough level and enough completed
// challenges.
func (s *ProgressService) specialBadgeEligible(tx *gorm.DB, profile *models.UserProfile, regularBadges int) bool {
	if regularBadges < specialMinRegularBadges {
		return false
	}
	if profile.ChallengesCompleted < specialMinChallenges {
		return false
	}
	if profile.CurrentLevelID == nil {
		return false
	}
	var level models.Level
	if err := tx.Where("id = ?", *profile.CurrentLevelID).First(&level).Error; err != nil {
		return false
	}
	return level.LevelNumber >= specialMinLevel
}

// advanceLevel moves the profile to the highest level its points reach,
// crediting a bonus per level gained.
func (s *ProgressService) advanceLevel(tx *gorm.DB, profile *models.UserProfile, award *AwardResult) (int64, error) {
	currentNumber := 0
	if profile.CurrentLevelID != nil {
		var cur models.Level
		if err := tx.Where("id = ?", *profile.CurrentLevelID).First(&cur).Error; err == nil {
			currentNumber = cur.LevelNumber
		}
	}

	var reachable []models.Level
	err := tx.Where("points_required <= ? AND level_number > ?", profile.TotalPoints, currentNumber).
		Order("level_number ASC").
		Find(&reachable).Error
	if err != nil {
		return 0, err
	}

	var bonus int64
	for _, lvl := range reachable {
		levelBonus := int64(lvl.LevelNumber) * levelBonusMultiplier
		if err := s.recordTransaction(tx, profile.ExternalUserID, levelBonus, models.TxnLevelUp,
			fmt.Sprintf("Reached level %d: %s", lvl.LevelNumber, lvl.Name), nil, nil); err != nil {
			return 0, err
		}
		levelID := lvl.ID
		profile.CurrentLevelID = &levelID
		profile.TotalPoints += levelBonus
		now := time.Now()
		profile.LastLevelUpAt = &now
		bonus += levelBonus
		levelNumber := lvl.LevelNumber
		award.NewLevel = &levelNumber
		log.Printf("⬆️ [PROGRESS] User %s reached level %d (%s)", profile.ExternalUserID, lvl.LevelNumber, lvl.Name)
	}
	return bonus, nil
}

// UserStats is the progress summary returned to the app.
type UserStats struct {
	Profile       models.UserProfile `json:"profile"`
	CurrentLevel  *models.Level      `json:"current_level"`
	NextLevel     *models.Level      `json:"next_level"`
	PointsToNext  int64              `json:"points_to_next_level"`
	Badges        []models.UserBadge `json:"badges"`
	NextBadge     *models.Badge      `json:"next_badge"`
	PointsToBadge int64              `json:"points_to_next_badge"`
}

// GetUserStats returns the full progress picture for one user.
func (s *ProgressService) GetUserStats(userID string) (*UserStats, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}

	var profile models.UserProfile
	err := s.DB.Where("external_user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// A user who has never earned points still gets a zeroed summary.
		profile = models.UserProfile{ExternalUserID: userID}
	} else if err != nil {
		return nil, err
	}

	stats := &UserStats{Profile: profile}

	if profile.CurrentLevelID != nil {
		var cur models.Level
		if err := s.DB.Where("id = ?", *profile.CurrentLevelID).First(&cur).Error; err == nil {
			stats.CurrentLevel = &cur
		}
	}
	var next models.Level
	if err := s.DB.Where("points_required > ?", profile.TotalPoints).
		Order("points_required ASC").First(&next).Error; err == nil {
		stats.NextLevel = &next
		stats.PointsToNext = next.PointsRequired - profile.TotalPoints
	}

	if err := s.DB.Preload("Badge").
		Where("external_user_id = ?", userID).
		Order("earned_at ASC").
		Find(&stats.Badges).Error; err != nil {
		return nil, err
	}

	earned := map[string]bool{}
	for _, ub := range stats.Badges {
		earned[ub.BadgeID] = true
	}
	var badges []models.Badge
	if err := s.DB.Order("points_required ASC").Find(&badges).Error; err != nil {
		return nil, err
	}
	for i := range badges {
		if !earned[badges[i].ID] {
			stats.NextBadge = &badges[i]
			stats.PointsToBadge = badges[i].PointsRequired - profile.TotalPoints
			if stats.PointsToBadge < 0 {
				stats.PointsToBadge = 0
			}
			break
		}
	}

	return stats, nil
}

// LeaderboardEntry is one row of the points leaderboard.
type LeaderboardEntry struct {
	Rank                int    `json:"rank"`
	ExternalUserID      string `json:"external_user_id"`
	TotalPoints         int64  `json:"total_points"`
	ChallengesCompleted int64  `json:"challenges_completed"`
	LevelName           string `json:"level_name,omitempty"`
	LevelNumber         int    `json:"level_number,omitempty"`
}

// GetLeaderboard returns the top users by total points.
func (s *ProgressService) GetLeaderboard(limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var profiles []models.UserProfile
	err := s.DB.Preload("CurrentLevel").
		Order("total_points DESC").
		Limit(limit).
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(profiles))
	for i, p := range profiles {
		e := LeaderboardEntry{
			Rank:                i + 1,
			ExternalUserID:      p.ExternalUserID,
			TotalPoints:         p.TotalPoints,
			ChallengesCompleted: p.ChallengesCompleted,
		}
		if p.CurrentLevel != nil {
			e.LevelName = p.CurrentLevel.Name
			e.LevelNumber = p.CurrentLevel.LevelNumber
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ListTransactions returns a user's ledger history, newest first.
func (s *ProgressService) ListTransactions(userID string, limit int) ([]models.PointsTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var txns []models.PointsTransaction
	err := s.DB.Where("external_user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// SeedProgressionCatalog inserts the default levels and badges if the
// catalog tables are empty.
func (s *ProgressService) SeedProgressionCatalog() error {
	var levelCount int64
	if err := s.DB.Model(&models.Level{}).Count(&levelCount).Error; err != nil {
		return err
	}
	if levelCount == 0 {
		for _, lvl := range models.DefaultLevels {
			lvl.ID = uuid.NewString()
			if err := s.DB.Create(&lvl).Error; err != nil {
				return err
			}
		}
		log.Printf("🌱 [SEED] Inserted %d levels", len(models.DefaultLevels))
	}

	var badgeCount int64
	if err := s.DB.Model(&models.Badge{}).Count(&badgeCount).Error; err != nil {
		return err
	}
	if badgeCount == 0 {
		for _, b := range models.DefaultBadges {
			b.ID = uuid.NewString()
			if err := s.DB.Create(&b).Error; err != nil {
				return err
			}
		}
		log.Printf("🌱 [SEED] Inserted %d badges", len(models.DefaultBadges))
	}
	return nil
}
