// services/fraud_detection.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/image/draw"
	"gorm.io/gorm"

	"nature-quest-system/models"
)

// Risk score contributions and thresholds. Scores are additive; the ladder
// below maps the total onto a risk level.
const (
	duplicateImageWeight     = 0.4
	rapidSubmissionWeight    = 0.3
	suspiciousLocationWeight = 0.3

	duplicateSimilarityThreshold = 0.9
	rapidSubmissionLimit         = 5  // per trailing hour
	sameCoordinateLimit          = 3  // prior attempts from the exact spot
	maxTravelSpeedKmh            = 100.0

	riskCritical = 0.8
	riskHigh     = 0.6
	riskMedium   = 0.3

	manualReviewThreshold = 0.6
)

// FraudDetectionResult is the in-memory outcome of the fraud checks for one
// submission. The orchestrator persists it as a models.FraudDetection row.
type FraudDetectionResult struct {
	RiskLevel              models.RiskLevel
	RiskScore              float64
	RiskFactors            []string
	DuplicateImageDetected bool
	RapidSubmissions       bool
	SuspiciousLocation     bool
	RequiresManualReview   bool
}

// ImageHashStore remembers perceptual hashes of recently submitted photos
// so resubmitted or lightly edited images can be caught across users.
type ImageHashStore interface {
	FindSimilar(ctx context.Context, hash string, threshold float64) (string, bool, error)
	Add(ctx context.Context, hash string, at time.Time) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type FraudDetectionService struct {
	DB     *gorm.DB
	Hashes ImageHashStore
}

func NewFraudDetectionService(db *gorm.DB, hashes ImageHashStore) *FraudDetectionService {
	return &FraudDetectionService{DB: db, Hashes: hashes}
}

// AnalyzeSubmission runs the duplicate-image, rapid-submission and
// suspicious-movement checks. Every check degrades permissively: an
// infrastructure failure is logged and skipped rather than raising the risk
// of a possibly honest submission.
func (s *FraudDetectionService) AnalyzeSubmission(ctx context.Context, attempt *models.ChallengeAttempt, photo []byte) (*FraudDetectionResult, error) {
	res := &FraudDetectionResult{RiskLevel: models.RiskLow}

	s.checkDuplicateImage(ctx, photo, res)
	s.checkRapidSubmissions(attempt, res)
	s.checkSuspiciousLocation(attempt, res)

	switch {
	case res.RiskScore >= riskCritical:
		res.RiskLevel = models.RiskCritical
	case res.RiskScore >= riskHigh:
		res.RiskLevel = models.RiskHigh
	case res.RiskScore >= riskMedium:
		res.RiskLevel = models.RiskMedium
	default:
		res.RiskLevel = models.RiskLow
	}
	res.RequiresManualReview = res.RiskScore >= manualReviewThreshold

	return res, nil
}

func (s *FraudDetectionService) checkDuplicateImage(ctx context.Context, photo []byte, res *FraudDetectionResult) {
	if s.Hashes == nil || len(photo) == 0 {
		return
	}
	hash, err := PerceptualHash(photo)
	if err != nil {
		log.Printf("⚠️ [FRAUD] Could not hash submission image: %v", err)
		return
	}

	_, dup, err := s.Hashes.FindSimilar(ctx, hash, duplicateSimilarityThreshold)
	if err != nil {
		log.Printf("⚠️ [FRAUD] Hash store lookup failed: %v", err)
	} else if dup {
		res.DuplicateImageDetected = true
		res.RiskScore += duplicateImageWeight
		res.RiskFactors = append(res.RiskFactors, "photo is near-identical to a recently submitted image")
	}

	if err := s.Hashes.Add(ctx, hash, time.Now()); err != nil {
		log.Printf("⚠️ [FRAUD] Failed to record image hash: %v", err)
	}
}

func (s *FraudDetectionService) checkRapidSubmissions(attempt *models.ChallengeAttempt, res *FraudDetectionResult) {
	var count int64
	err := s.DB.Model(&models.ChallengeAttempt{}).
		Where("external_user_id = ? AND id <> ? AND created_at > ?",
			attempt.ExternalUserID, attempt.ID, time.Now().Add(-time.Hour)).
		Count(&count).Error
	if err != nil {
		log.Printf("⚠️ [FRAUD] Rapid-submission count failed: %v", err)
		return
	}
	// The submission being analyzed counts toward the burst.
	count++
	if count > rapidSubmissionLimit {
		res.RapidSubmissions = true
		res.RiskScore += rapidSubmissionWeight
		res.RiskFactors = append(res.RiskFactors, fmt.Sprintf("%d submissions in the last hour", count))
	}
}

func (s *FraudDetectionService) checkSuspiciousLocation(attempt *models.ChallengeAttempt, res *FraudDetectionResult) {
	suspicious := false

	var sameSpot int64
	err := s.DB.Model(&models.ChallengeAttempt{}).
		Where("external_user_id = ? AND id <> ? AND submitted_latitude = ? AND submitted_longitude = ?",
			attempt.ExternalUserID, attempt.ID, attempt.SubmittedLatitude, attempt.SubmittedLongitude).
		Count(&sameSpot).Error
	if err != nil {
		log.Printf("⚠️ [FRAUD] Same-coordinate count failed: %v", err)
	} else if sameSpot > sameCoordinateLimit {
		suspicious = true
		res.RiskFactors = append(res.RiskFactors, fmt.Sprintf("%d prior submissions from the exact same coordinates", sameSpot))
	}

	// Implied travel speed against the user's immediately preceding
	// submission, wherever it was.
	var prev models.ChallengeAttempt
	err = s.DB.
		Where("external_user_id = ? AND id <> ?", attempt.ExternalUserID, attempt.ID).
		Order("created_at DESC").
		First(&prev).Error
	if err == nil {
		elapsed := attempt.CreatedAt.Sub(prev.CreatedAt).Hours()
		if elapsed > 0 {
			distKm := haversineMeters(prev.SubmittedLatitude, prev.SubmittedLongitude,
				attempt.SubmittedLatitude, attempt.SubmittedLongitude) / 1000.0
			speed := distKm / elapsed
			if speed > maxTravelSpeedKmh {
				suspicious = true
				res.RiskFactors = append(res.RiskFactors, fmt.Sprintf("implied travel speed %.0f km/h since previous submission", speed))
			}
		}
	} else if err != gorm.ErrRecordNotFound {
		log.Printf("⚠️ [FRAUD] Previous-submission lookup failed: %v", err)
	}

	if suspicious {
		res.SuspiciousLocation = true
		res.RiskScore += suspiciousLocationWeight
	}
}

// PerceptualHash computes an 8x8 mean-threshold hash of the image as a
// 64-character bitstring. Near-identical images produce hashes with a small
// Hamming distance even across recompression and mild edits.
func PerceptualHash(photo []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(photo))
	if err != nil {
		return "", err
	}

	small := image.NewRGBA(image.Rect(0, 0, 8, 8))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Over, nil)

	var lum [64]float64
	var sum float64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			r, g, b, _ := small.At(x, y).RGBA()
			l := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			lum[y*8+x] = l
			sum += l
		}
	}
	mean := sum / 64.0

	var sb strings.Builder
	sb.Grow(64)
	for _, l := range lum {
		if l >= mean {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String(), nil
}

// HashSimilarity returns the fraction of matching bits between two hashes.
func HashSimilarity(a, b string) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	same := 0
	for i := range a {
		if a[i] == b[i] {
			same++
		}
	}
	return float64(same) / float64(len(a))
}

const redisHashKey = "naturequest:phash:recent"

// RedisImageHashStore keeps recent hashes in a Redis sorted set scored by
// submission time, shared across all service instances.
type RedisImageHashStore struct {
	Client *redis.Client
}

func NewRedisImageHashStore(client *redis.Client) *RedisImageHashStore {
	return &RedisImageHashStore{Client: client}
}

func (s *RedisImageHashStore) FindSimilar(ctx context.Context, hash string, threshold float64) (string, bool, error) {
	members, err := s.Client.ZRange(ctx, redisHashKey, 0, -1).Result()
	if err != nil {
		return "", false, err
	}
	for _, m := range members {
		if HashSimilarity(hash, m) > threshold {
			return m, true, nil
		}
	}
	return "", false, nil
}

func (s *RedisImageHashStore) Add(ctx context.Context, hash string, at time.Time) error {
	return s.Client.ZAdd(ctx, redisHashKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: hash,
	}).Err()
}

func (s *RedisImageHashStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	return s.Client.ZRemRangeByScore(ctx, redisHashKey, "-inf", strconv.FormatInt(before.Unix(), 10)).Result()
}

// MemoryImageHashStore is a process-local store for development and tests.
type MemoryImageHashStore struct {
	mu     sync.Mutex
	hashes map[string]time.Time
}

func NewMemoryImageHashStore() *MemoryImageHashStore {
	return &MemoryImageHashStore{hashes: map[string]time.Time{}}
}

func (s *MemoryImageHashStore) FindSimilar(ctx context.Context, hash string, threshold float64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h := range s.hashes {
		if HashSimilarity(hash, h) > threshold {
			return h, true, nil
		}
	}
	return "", false, nil
}

func (s *MemoryImageHashStore) Add(ctx context.Context, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[hash] = at
	return nil
}

func (s *MemoryImageHashStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for h, at := range s.hashes {
		if at.Before(before) {
			delete(s.hashes, h)
			removed++
		}
	}
	return removed, nil
}
