package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"nature-quest-system/models"
)

func newProgressService(t *testing.T) (*ProgressService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	svc := NewProgressService(db)
	require.NoError(t, svc.SeedProgressionCatalog())
	return svc, db
}

// ledgerSum adds every transaction for the user; it must always equal the
// profile's denormalized total.
func ledgerSum(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var sum int64
	require.NoError(t, db.Model(&models.PointsTransaction{}).
		Where("external_user_id = ?", userID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&sum).Error)
	return sum
}

func TestUpdateProgressRequiresUser(t *testing.T) {
	svc, _ := newProgressService(t)

	_, err := svc.UpdateProgress("", 100, models.TxnChallengeCompletion, "test", nil, nil)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateProgressAwardsBadge(t *testing.T) {
	svc, db := newProgressService(t)

	// 300 points crosses the first badge threshold (250): +50 bonus.
	award, err := svc.UpdateProgress("user-a", 300, models.TxnChallengeCompletion, "Completed challenge", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(50), award.BonusPoints)
	assert.Equal(t, int64(350), award.NewTotal)
	assert.Equal(t, []string{"Curious Explorer"}, award.UnlockedBadges)
	assert.Nil(t, award.NewLevel)

	var profile models.UserProfile
	require.NoError(t, db.Where("external_user_id = ?", "user-a").First(&profile).Error)
	assert.Equal(t, int64(350), profile.TotalPoints)
	assert.Equal(t, int64(1), profile.ChallengesCompleted)
	assert.Nil(t, profile.CurrentLevelID)

	var badges []models.UserBadge
	require.NoError(t, db.Where("external_user_id = ?", "user-a").Find(&badges).Error)
	assert.Len(t, badges, 1)

	assert.Equal(t, profile.TotalPoints, ledgerSum(t, db, "user-a"))
}

func TestRewardSweepCascades(t *testing.T) {
	svc, db := newProgressService(t)

	// 450 base points: badge at 250 (+50) lifts the total to 500, which
	// unlocks level 1 (+100), which in turn crosses the 500-point badge
	// (+50). The sweep must chase all of it in one call.
	award, err := svc.UpdateProgress("user-a", 450, models.TxnChallengeCompletion, "Completed challenge", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(200), award.BonusPoints)
	assert.Equal(t, int64(650), award.NewTotal)
	assert.Equal(t, []string{"Curious Explorer", "Steady Wanderer"}, award.UnlockedBadges)
	require.NotNil(t, award.NewLevel)
	assert.Equal(t, 1, *award.NewLevel)

	var profile models.UserProfile
	require.NoError(t, db.Where("external_user_id = ?", "user-a").First(&profile).Error)
	assert.Equal(t, int64(650), profile.TotalPoints)
	require.NotNil(t, profile.CurrentLevelID)
	assert.NotNil(t, profile.LastLevelUpAt)

	var level models.Level
	require.NoError(t, db.Where("id = ?", *profile.CurrentLevelID).First(&level).Error)
	assert.Equal(t, 1, level.LevelNumber)

	var badgeCount int64
	db.Model(&models.UserBadge{}).Where("external_user_id = ?", "user-a").Count(&badgeCount)
	assert.Equal(t, int64(2), badgeCount)

	assert.Equal(t, profile.TotalPoints, ledgerSum(t, db, "user-a"))
}

func TestBadgesAwardedOnce(t *testing.T) {
	svc, db := newProgressService(t)

	_, err := svc.UpdateProgress("user-a", 300, models.TxnChallengeCompletion, "first", nil, nil)
	require.NoError(t, err)
	award, err := svc.UpdateProgress("user-a", 10, models.TxnChallengeCompletion, "second", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, award.BonusPoints)
	assert.Empty(t, award.UnlockedBadges)

	var badgeCount int64
	db.Model(&models.UserBadge{}).Where("external_user_id = ?", "user-a").Count(&badgeCount)
	assert.Equal(t, int64(1), badgeCount)
}

func TestSpecialBadgeGating(t *testing.T) {
	svc, db := newProgressService(t)

	// Enough points for everything, but only one completed challenge: the
	// special badge stays locked while all twelve regular ones land.
	_, err := svc.UpdateProgress("user-a", 25000, models.TxnChallengeCompletion, "marathon", nil, nil)
	require.NoError(t, err)

	var earned []models.UserBadge
	require.NoError(t, db.Preload("Badge").Where("external_user_id = ?", "user-a").Find(&earned).Error)
	assert.Len(t, earned, 12)
	for _, ub := range earned {
		assert.False(t, ub.Badge.IsSpecial)
	}

	// Once the challenge counter catches up, the next award unlocks it.
	require.NoError(t, db.Model(&models.UserProfile{}).
		Where("external_user_id = ?", "user-a").
		Update("challenges_completed", 20).Error)

	award, err := svc.UpdateProgress("user-a", 10, models.TxnChallengeCompletion, "one more", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(50), award.BonusPoints)
	assert.Equal(t, []string{"Nature's Mystery"}, award.UnlockedBadges)

	var special int64
	db.Model(&models.UserBadge{}).
		Joins("JOIN badges ON badges.id = user_badges.badge_id").
		Where("user_badges.external_user_id = ? AND badges.is_special = ?", "user-a", true).
		Count(&special)
	assert.Equal(t, int64(1), special)
}

func TestGetUserStats(t *testing.T) {
	svc, _ := newProgressService(t)

	_, err := svc.UpdateProgress("user-a", 300, models.TxnChallengeCompletion, "Completed challenge", nil, nil)
	require.NoError(t, err)

	stats, err := svc.GetUserStats("user-a")
	require.NoError(t, err)

	assert.Equal(t, int64(350), stats.Profile.TotalPoints)
	require.NotNil(t, stats.NextLevel)
	assert.Equal(t, 1, stats.NextLevel.LevelNumber)
	assert.Equal(t, int64(150), stats.PointsToNext)
	require.NotNil(t, stats.NextBadge)
	assert.Equal(t, "ox", stats.NextBadge.Animal)
	assert.Len(t, stats.Badges, 1)
}

func TestGetUserStatsUnknownUser(t *testing.T) {
	svc, _ := newProgressService(t)

	stats, err := svc.GetUserStats("nobody")
	require.NoError(t, err)
	assert.Zero(t, stats.Profile.TotalPoints)
	assert.Empty(t, stats.Badges)

	_, err = svc.GetUserStats("")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLeaderboardOrdering(t *testing.T) {
	svc, _ := newProgressService(t)

	_, err := svc.UpdateProgress("user-a", 100, models.TxnQuizCompletion, "quiz", nil, nil)
	require.NoError(t, err)
	_, err = svc.UpdateProgress("user-b", 400, models.TxnChallengeCompletion, "challenge", nil, nil)
	require.NoError(t, err)

	entries, err := svc.GetLeaderboard(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user-b", entries[0].ExternalUserID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "user-a", entries[1].ExternalUserID)
}

func TestQuizCompletionCounter(t *testing.T) {
	svc, db := newProgressService(t)

	quizID := "quiz-1"
	_, err := svc.UpdateProgress("user-a", 40, models.TxnQuizCompletion, "Completed quiz", nil, &quizID)
	require.NoError(t, err)

	var profile models.UserProfile
	require.NoError(t, db.Where("external_user_id = ?", "user-a").First(&profile).Error)
	assert.Equal(t, int64(1), profile.QuizzesCompleted)
	assert.Zero(t, profile.ChallengesCompleted)

	var txn models.PointsTransaction
	require.NoError(t, db.Where("external_user_id = ?", "user-a").First(&txn).Error)
	require.NotNil(t, txn.QuizID)
	assert.Equal(t, quizID, *txn.QuizID)
}
