package services

import (
	"context"
	"errors"
	"image/color"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"nature-quest-system/models"
)

type stubPhotoAnalyzer struct{ res *PhotoAnalysisResult }

func (s *stubPhotoAnalyzer) Analyze(ctx context.Context, photo []byte, challenge *models.Challenge) (*PhotoAnalysisResult, error) {
	return s.res, nil
}

type stubLocationVerifier struct{ res *LocationVerificationResult }

func (s *stubLocationVerifier) Verify(ctx context.Context, lat, lon float64, challenge *models.Challenge) (*LocationVerificationResult, error) {
	return s.res, nil
}

type stubFraudAnalyzer struct{ res *FraudDetectionResult }

func (s *stubFraudAnalyzer) AnalyzeSubmission(ctx context.Context, attempt *models.ChallengeAttempt, photo []byte) (*FraudDetectionResult, error) {
	return s.res, nil
}

type memPhotoStore struct {
	files    map[string][]byte
	failSave bool
}

func (s *memPhotoStore) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.failSave {
		return "", errors.New("storage unavailable")
	}
	if s.files == nil {
		s.files = map[string][]byte{}
	}
	s.files[key] = data
	return "mem://" + key, nil
}

func (s *memPhotoStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, ok := s.files[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

type verificationHarness struct {
	db        *gorm.DB
	svc       *VerificationService
	photo     *stubPhotoAnalyzer
	location  *stubLocationVerifier
	fraud     *stubFraudAnalyzer
	store     *memPhotoStore
	challenge models.Challenge
}

func passingPhotoResult() *PhotoAnalysisResult {
	return &PhotoAnalysisResult{
		QualityScore:        0.8,
		AuthenticityScore:   1.0,
		TimestampValid:      true,
		HasRequiredElements: true,
		Passed:              true,
		CameraInfo:          map[string]string{},
	}
}

func passingLocationResult() *LocationVerificationResult {
	return &LocationVerificationResult{
		IsValidCoordinate: true,
		DistanceToTarget:  42,
		LocationTypeMatch: true,
		Confidence:        0.9,
		Passed:            true,
	}
}

func cleanFraudResult() *FraudDetectionResult {
	return &FraudDetectionResult{RiskLevel: models.RiskLow}
}

func newVerificationHarness(t *testing.T) *verificationHarness {
	t.Helper()

	db := newTestDB(t)
	progress := NewProgressService(db)
	require.NoError(t, progress.SeedProgressionCatalog())

	h := &verificationHarness{
		db:       db,
		photo:    &stubPhotoAnalyzer{res: passingPhotoResult()},
		location: &stubLocationVerifier{res: passingLocationResult()},
		fraud:    &stubFraudAnalyzer{res: cleanFraudResult()},
		store:    &memPhotoStore{},
		challenge: models.Challenge{
			ID:                 uuid.NewString(),
			Title:              "Lakeside Loop",
			DifficultyLevel:    models.DifficultyBeginner,
			LocationType:       models.LocationLake,
			TargetLatitude:     37.7,
			TargetLongitude:    -122.5,
			VerificationRadius: 500,
			PointsReward:       100,
			IsActive:           true,
		},
	}
	require.NoError(t, db.Create(&h.challenge).Error)
	h.svc = NewVerificationService(db, h.photo, h.location, h.fraud, h.store, progress)
	return h
}

func (h *verificationHarness) submit(t *testing.T, userID string) (*models.ChallengeAttempt, error) {
	t.Helper()
	return h.svc.SubmitAttempt(context.Background(), SubmitInput{
		UserID:      userID,
		ChallengeID: h.challenge.ID,
		Latitude:    37.7,
		Longitude:   -122.5,
		Photo:       solidPNG(t, 16, 16, color.RGBA{30, 140, 60, 255}),
		ContentType: "image/png",
	})
}

func TestSubmitAttemptVerified(t *testing.T) {
	h := newVerificationHarness(t)

	attempt, err := h.submit(t, "user-a")
	require.NoError(t, err)

	assert.Equal(t, models.AttemptVerified, attempt.Status)
	assert.True(t, attempt.PhotoVerified)
	assert.True(t, attempt.LocationVerified)
	assert.Equal(t, int64(100), attempt.PointsEarned)
	assert.NotNil(t, attempt.VerifiedAt)
	assert.NotEmpty(t, attempt.PhotoURL)

	// All three verification records are persisted.
	var photoCount, locCount, fraudCount int64
	h.db.Model(&models.PhotoAnalysis{}).Where("attempt_id = ?", attempt.ID).Count(&photoCount)
	h.db.Model(&models.LocationVerification{}).Where("attempt_id = ?", attempt.ID).Count(&locCount)
	h.db.Model(&models.FraudDetection{}).Where("attempt_id = ?", attempt.ID).Count(&fraudCount)
	assert.Equal(t, int64(1), photoCount)
	assert.Equal(t, int64(1), locCount)
	assert.Equal(t, int64(1), fraudCount)

	// Reward landed on the profile and in the ledger.
	var profile models.UserProfile
	require.NoError(t, h.db.Where("external_user_id = ?", "user-a").First(&profile).Error)
	assert.Equal(t, int64(100), profile.TotalPoints)
	assert.Equal(t, int64(1), profile.ChallengesCompleted)

	var txnCount int64
	h.db.Model(&models.PointsTransaction{}).Where("external_user_id = ?", "user-a").Count(&txnCount)
	assert.Equal(t, int64(1), txnCount)

	metrics, err := h.svc.GetChallengeMetrics(h.challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.TotalAttempts)
	assert.Equal(t, int64(1), metrics.SuccessfulVerifications)
	assert.InDelta(t, 100.0, metrics.SuccessRate(), 0.001)
}

func TestSubmitAttemptLocationFailure(t *testing.T) {
	h := newVerificationHarness(t)
	h.location.res = &LocationVerificationResult{
		IsValidCoordinate: true,
		DistanceToTarget:  1800,
		Confidence:        0.1,
		Passed:            false,
	}

	attempt, err := h.submit(t, "user-a")
	require.NoError(t, err)

	assert.Equal(t, models.AttemptFailed, attempt.Status)
	assert.True(t, attempt.PhotoVerified)
	assert.False(t, attempt.LocationVerified)
	assert.Zero(t, attempt.PointsEarned)
	assert.Contains(t, attempt.VerificationNotes, "1800m")

	// No reward on failure.
	var profileCount int64
	h.db.Model(&models.UserProfile{}).Where("external_user_id = ?", "user-a").Count(&profileCount)
	assert.Zero(t, profileCount)

	metrics, err := h.svc.GetChallengeMetrics(h.challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.FailedVerifications)
	assert.Equal(t, int64(1), metrics.LocationFailures)
	assert.Zero(t, metrics.PhotoFailures)
}

func TestSubmitAttemptFraudOverride(t *testing.T) {
	h := newVerificationHarness(t)
	h.fraud.res = &FraudDetectionResult{
		RiskLevel:            models.RiskHigh,
		RiskScore:            0.7,
		RiskFactors:          []string{"photo is near-identical to a recently submitted image"},
		RequiresManualReview: true,
	}

	attempt, err := h.submit(t, "user-a")
	require.NoError(t, err)

	// Photo and location both passed, but the fraud flag wins.
	assert.Equal(t, models.AttemptFlagged, attempt.Status)
	assert.Zero(t, attempt.PointsEarned)

	metrics, err := h.svc.GetChallengeMetrics(h.challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.FlaggedSubmissions)
}

func TestSubmitAttemptDuplicateRejected(t *testing.T) {
	h := newVerificationHarness(t)

	_, err := h.submit(t, "user-a")
	require.NoError(t, err)

	_, err = h.submit(t, "user-a")
	assert.ErrorIs(t, err, ErrDuplicateAttempt)

	var count int64
	h.db.Model(&models.ChallengeAttempt{}).Where("external_user_id = ?", "user-a").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestResubmissionResetsFailedAttempt(t *testing.T) {
	h := newVerificationHarness(t)

	h.location.res.Passed = false
	first, err := h.submit(t, "user-a")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptFailed, first.Status)

	h.location.res = passingLocationResult()
	second, err := h.submit(t, "user-a")
	require.NoError(t, err)

	// Same row, new outcome, satellites replaced rather than duplicated.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.AttemptVerified, second.Status)

	var photoCount int64
	h.db.Model(&models.PhotoAnalysis{}).Where("attempt_id = ?", first.ID).Count(&photoCount)
	assert.Equal(t, int64(1), photoCount)

	metrics, err := h.svc.GetChallengeMetrics(h.challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), metrics.TotalAttempts)
}

func TestSubmitAttemptValidation(t *testing.T) {
	h := newVerificationHarness(t)

	_, err := h.svc.SubmitAttempt(context.Background(), SubmitInput{
		UserID:      "user-a",
		ChallengeID: h.challenge.ID,
		Latitude:    95,
		Longitude:   0,
	})
	assert.ErrorIs(t, err, ErrInvalidCoordinate)

	_, err = h.svc.SubmitAttempt(context.Background(), SubmitInput{
		UserID:      "user-a",
		ChallengeID: uuid.NewString(),
		Latitude:    10,
		Longitude:   10,
	})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestSubmitAttemptStorageFailureKeepsPending(t *testing.T) {
	h := newVerificationHarness(t)
	h.store.failSave = true

	attempt, err := h.submit(t, "user-a")
	require.Error(t, err)
	require.NotNil(t, attempt)

	var stored models.ChallengeAttempt
	require.NoError(t, h.db.Where("id = ?", attempt.ID).First(&stored).Error)
	assert.Equal(t, models.AttemptPending, stored.Status)
}

func TestReviewFlaggedAttempt(t *testing.T) {
	h := newVerificationHarness(t)
	h.fraud.res = &FraudDetectionResult{
		RiskLevel:            models.RiskHigh,
		RiskScore:            0.7,
		RequiresManualReview: true,
	}

	flagged, err := h.submit(t, "user-a")
	require.NoError(t, err)
	require.Equal(t, models.AttemptFlagged, flagged.Status)

	reviewed, err := h.svc.ReviewAttempt(context.Background(), flagged.ID, "admin-1", true, "verified by hand")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptVerified, reviewed.Status)
	assert.Equal(t, int64(100), reviewed.PointsEarned)

	var fraud models.FraudDetection
	require.NoError(t, h.db.Where("attempt_id = ?", flagged.ID).First(&fraud).Error)
	assert.Equal(t, "admin-1", fraud.ReviewedBy)
	assert.NotNil(t, fraud.ReviewedAt)

	// A resolved attempt cannot be reviewed twice.
	_, err = h.svc.ReviewAttempt(context.Background(), flagged.ID, "admin-1", false, "")
	assert.ErrorIs(t, err, ErrAttemptFinal)
}

func TestReviewRejection(t *testing.T) {
	h := newVerificationHarness(t)
	h.fraud.res = &FraudDetectionResult{RiskScore: 0.9, RiskLevel: models.RiskCritical, RequiresManualReview: true}

	flagged, err := h.submit(t, "user-a")
	require.NoError(t, err)

	reviewed, err := h.svc.ReviewAttempt(context.Background(), flagged.ID, "admin-1", false, "stock photo")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptRejected, reviewed.Status)
	assert.Zero(t, reviewed.PointsEarned)

	var profileCount int64
	h.db.Model(&models.UserProfile{}).Where("external_user_id = ?", "user-a").Count(&profileCount)
	assert.Zero(t, profileCount)
}

func TestListFlaggedAttempts(t *testing.T) {
	h := newVerificationHarness(t)
	h.fraud.res = &FraudDetectionResult{RiskScore: 0.7, RiskLevel: models.RiskHigh, RequiresManualReview: true}

	_, err := h.submit(t, "user-a")
	require.NoError(t, err)

	queue, err := h.svc.ListFlaggedAttempts(10, "")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "user-a", queue[0].ExternalUserID)

	// Risk-level filter narrows the queue.
	queue, err = h.svc.ListFlaggedAttempts(10, models.RiskHigh)
	require.NoError(t, err)
	assert.Len(t, queue, 1)
	queue, err = h.svc.ListFlaggedAttempts(10, models.RiskCritical)
	require.NoError(t, err)
	assert.Empty(t, queue)
}
