package services

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nature-quest-system/models"
)

func TestAnalyzeUndecodableImage(t *testing.T) {
	svc := NewPhotoVerificationService()

	res, err := svc.Analyze(context.Background(), []byte("not an image"), &models.Challenge{})
	require.NoError(t, err)

	assert.False(t, res.Passed)
	assert.Zero(t, res.QualityScore)
	assert.False(t, res.HasEXIF)
	assert.NotEmpty(t, res.Notes)
}

func TestAnalyzeFlatImageFailsQuality(t *testing.T) {
	svc := NewPhotoVerificationService()
	photo := solidPNG(t, 64, 64, color.RGBA{128, 128, 128, 255})

	res, err := svc.Analyze(context.Background(), photo, &models.Challenge{})
	require.NoError(t, err)

	// No sharpness, no contrast, tiny resolution: quality cannot clear 0.6.
	assert.Less(t, res.QualityScore, PhotoQualityThreshold)
	assert.False(t, res.Passed)
}

func TestAnalyzeSharpImagePassesQuality(t *testing.T) {
	svc := NewPhotoVerificationService()
	photo := checkerboardPNG(t, 1920, 1080, 64)

	res, err := svc.Analyze(context.Background(), photo, &models.Challenge{})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.QualityScore, PhotoQualityThreshold)
	// Default scorer trusts decodable images.
	assert.InDelta(t, 1.0, res.AuthenticityScore, 0.001)
	// No EXIF in a synthetic PNG; absence is not a failure.
	assert.False(t, res.HasEXIF)
	assert.True(t, res.TimestampValid)
	assert.True(t, res.Passed)
}

func TestDetectElementsVegetation(t *testing.T) {
	green := solidPNG(t, 32, 32, color.RGBA{40, 180, 60, 255})
	svc := NewPhotoVerificationService()

	res, err := svc.Analyze(context.Background(), green, &models.Challenge{
		RequiredElements: []string{"vegetation"},
	})
	require.NoError(t, err)

	require.Len(t, res.DetectedElements, 1)
	assert.Equal(t, "vegetation", res.DetectedElements[0].Element)
	assert.InDelta(t, 1.0, res.DetectedElements[0].Confidence, 0.001)
	assert.True(t, res.HasRequiredElements)
}

func TestDetectElementsWaterAndEarth(t *testing.T) {
	svc := NewPhotoVerificationService()

	blue := solidPNG(t, 32, 32, color.RGBA{30, 80, 220, 255})
	res, err := svc.Analyze(context.Background(), blue, &models.Challenge{})
	require.NoError(t, err)
	require.Len(t, res.DetectedElements, 1)
	assert.Equal(t, "water_or_sky", res.DetectedElements[0].Element)

	brown := solidPNG(t, 32, 32, color.RGBA{150, 100, 40, 255})
	res, err = svc.Analyze(context.Background(), brown, &models.Challenge{})
	require.NoError(t, err)
	require.Len(t, res.DetectedElements, 1)
	assert.Equal(t, "earth_or_rocks", res.DetectedElements[0].Element)
}

func TestRequiredElementsFuzzyMatch(t *testing.T) {
	svc := NewPhotoVerificationService()
	blue := solidPNG(t, 32, 32, color.RGBA{30, 80, 220, 255})

	// "water" is a substring of the detected "water_or_sky".
	res, err := svc.Analyze(context.Background(), blue, &models.Challenge{
		RequiredElements: []string{"Water"},
	})
	require.NoError(t, err)
	assert.True(t, res.HasRequiredElements)

	// Nothing green in a blue frame.
	res, err = svc.Analyze(context.Background(), blue, &models.Challenge{
		RequiredElements: []string{"vegetation"},
	})
	require.NoError(t, err)
	assert.False(t, res.HasRequiredElements)
	assert.False(t, res.Passed)
}

func TestRequiredElementsVacuouslyTrue(t *testing.T) {
	svc := NewPhotoVerificationService()
	gray := solidPNG(t, 32, 32, color.RGBA{128, 128, 128, 255})

	res, err := svc.Analyze(context.Background(), gray, &models.Challenge{})
	require.NoError(t, err)
	assert.True(t, res.HasRequiredElements)
}

func TestAuthenticityScorerIsPluggable(t *testing.T) {
	svc := NewPhotoVerificationService()
	svc.Scorer = scorerFunc(func() (float64, error) { return 0.2, nil })

	photo := checkerboardPNG(t, 1920, 1080, 64)
	res, err := svc.Analyze(context.Background(), photo, &models.Challenge{})
	require.NoError(t, err)

	assert.InDelta(t, 0.2, res.AuthenticityScore, 0.001)
	assert.False(t, res.Passed)
}

type scorerFunc func() (float64, error)

func (f scorerFunc) Score(ctx context.Context, img image.Image, raw []byte) (float64, error) {
	return f()
}
