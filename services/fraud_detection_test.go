package services

import (
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nature-quest-system/models"
)

func makeAttempt(userID string, lat, lon float64, createdAt time.Time) *models.ChallengeAttempt {
	return &models.ChallengeAttempt{
		ID:                 uuid.NewString(),
		ExternalUserID:     userID,
		ChallengeID:        uuid.NewString(),
		Status:             models.AttemptPending,
		SubmittedLatitude:  lat,
		SubmittedLongitude: lon,
		Timestamps:         models.Timestamps{CreatedAt: createdAt},
	}
}

func TestPerceptualHashStable(t *testing.T) {
	photo := checkerboardPNG(t, 64, 64, 8)

	h1, err := PerceptualHash(photo)
	require.NoError(t, err)
	h2, err := PerceptualHash(photo)
	require.NoError(t, err)

	assert.Len(t, h1, 64)
	assert.Equal(t, h1, h2)
	assert.InDelta(t, 1.0, HashSimilarity(h1, h2), 0.0001)
}

func TestHashSimilarityDisjointImages(t *testing.T) {
	a, err := PerceptualHash(checkerboardPNG(t, 64, 64, 8))
	require.NoError(t, err)
	b, err := PerceptualHash(solidPNG(t, 64, 64, color.RGBA{20, 200, 40, 255}))
	require.NoError(t, err)

	assert.Less(t, HashSimilarity(a, b), 0.9)
	assert.Zero(t, HashSimilarity(a, ""))
}

func TestDuplicateImageDetection(t *testing.T) {
	db := newTestDB(t)
	svc := NewFraudDetectionService(db, NewMemoryImageHashStore())
	photo := checkerboardPNG(t, 64, 64, 8)

	first := makeAttempt("user-a", 10, 10, time.Now())
	res, err := svc.AnalyzeSubmission(context.Background(), first, photo)
	require.NoError(t, err)
	assert.False(t, res.DuplicateImageDetected)
	assert.Equal(t, models.RiskLow, res.RiskLevel)

	// Same photo again, from a different user, is caught by the hash store.
	second := makeAttempt("user-b", 10, 10, time.Now())
	res, err = svc.AnalyzeSubmission(context.Background(), second, photo)
	require.NoError(t, err)
	assert.True(t, res.DuplicateImageDetected)
	assert.InDelta(t, 0.4, res.RiskScore, 0.001)
	assert.Equal(t, models.RiskMedium, res.RiskLevel)
	assert.False(t, res.RequiresManualReview)
}

func TestRapidSubmissionsRaiseRisk(t *testing.T) {
	db := newTestDB(t)
	svc := NewFraudDetectionService(db, NewMemoryImageHashStore())
	photo := checkerboardPNG(t, 64, 64, 8)

	// Six submissions in the last hour, all from nearly the same spot so
	// neither the same-coordinate nor the travel-speed check fires.
	for i := 0; i < 6; i++ {
		prior := makeAttempt("user-a", 10, 30+float64(i)*0.00001, time.Now().Add(-10*time.Minute))
		require.NoError(t, db.Create(prior).Error)
	}

	// First analysis stores the hash; the second sees both the duplicate
	// and the submission burst, crossing the manual-review bar.
	current := makeAttempt("user-a", 10, 30, time.Now())
	res, err := svc.AnalyzeSubmission(context.Background(), current, photo)
	require.NoError(t, err)
	assert.True(t, res.RapidSubmissions)

	again := makeAttempt("user-a", 10, 30.0001, time.Now())
	res, err = svc.AnalyzeSubmission(context.Background(), again, photo)
	require.NoError(t, err)
	assert.True(t, res.DuplicateImageDetected)
	assert.True(t, res.RapidSubmissions)
	assert.InDelta(t, 0.7, res.RiskScore, 0.001)
	assert.Equal(t, models.RiskHigh, res.RiskLevel)
	assert.True(t, res.RequiresManualReview)
}

func TestRapidSubmissionBoundary(t *testing.T) {
	db := newTestDB(t)
	svc := NewFraudDetectionService(db, NewMemoryImageHashStore())

	// Four priors in the trailing hour: this fifth submission is still fine.
	for i := 0; i < 4; i++ {
		prior := makeAttempt("user-a", 10, 30+float64(i+1)*0.00001, time.Now().Add(-10*time.Minute))
		require.NoError(t, db.Create(prior).Error)
	}
	fifth := makeAttempt("user-a", 10, 30, time.Now())
	res, err := svc.AnalyzeSubmission(context.Background(), fifth, solidPNG(t, 16, 16, color.RGBA{50, 60, 70, 255}))
	require.NoError(t, err)
	assert.False(t, res.RapidSubmissions)

	// One more prior makes the next submission the sixth within the hour,
	// which trips the check.
	require.NoError(t, db.Create(makeAttempt("user-a", 10, 30.00005, time.Now().Add(-5*time.Minute))).Error)
	sixth := makeAttempt("user-a", 10, 30.00006, time.Now())
	res, err = svc.AnalyzeSubmission(context.Background(), sixth, checkerboardPNG(t, 32, 32, 4))
	require.NoError(t, err)
	assert.True(t, res.RapidSubmissions)
}

func TestImpossibleTravelSpeed(t *testing.T) {
	db := newTestDB(t)
	svc := NewFraudDetectionService(db, NewMemoryImageHashStore())

	// Next submission lands ~111km away one minute after the previous one.
	prev := makeAttempt("user-a", 0, 0, time.Now().Add(-2*time.Hour))
	require.NoError(t, db.Create(prev).Error)

	current := makeAttempt("user-a", 1, 0, prev.CreatedAt.Add(time.Minute))
	res, err := svc.AnalyzeSubmission(context.Background(), current, solidPNG(t, 16, 16, color.RGBA{90, 90, 90, 255}))
	require.NoError(t, err)

	assert.True(t, res.SuspiciousLocation)
	assert.InDelta(t, 0.3, res.RiskScore, 0.001)
	assert.Equal(t, models.RiskMedium, res.RiskLevel)
}

func TestRepeatedCoordinatesAreSuspicious(t *testing.T) {
	db := newTestDB(t)
	svc := NewFraudDetectionService(db, NewMemoryImageHashStore())

	for i := 0; i < 4; i++ {
		prior := makeAttempt("user-a", 12.34, 56.78, time.Now().Add(-time.Duration(i+2)*time.Hour))
		require.NoError(t, db.Create(prior).Error)
	}

	current := makeAttempt("user-a", 12.34, 56.78, time.Now())
	res, err := svc.AnalyzeSubmission(context.Background(), current, solidPNG(t, 16, 16, color.RGBA{10, 120, 30, 255}))
	require.NoError(t, err)

	assert.True(t, res.SuspiciousLocation)
	assert.NotEmpty(t, res.RiskFactors)
}

func TestHashStorePrune(t *testing.T) {
	store := NewMemoryImageHashStore()
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "0000", time.Now().Add(-48*time.Hour)))
	require.NoError(t, store.Add(ctx, "1111", time.Now()))

	removed, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, found, err := store.FindSimilar(ctx, "1111", 0.9)
	require.NoError(t, err)
	assert.True(t, found)
}
