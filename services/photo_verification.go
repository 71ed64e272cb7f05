// services/photo_verification.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"math"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"

	"nature-quest-system/models"
)

const (
	// Minimum scores a photo must reach before it counts toward a challenge.
	PhotoQualityThreshold      = 0.6
	PhotoAuthenticityThreshold = 0.7

	// EXIF timestamps older than this are treated as stale submissions.
	PhotoTimestampWindow = 24 * time.Hour

	// Analysis runs on a downscaled copy; scoring reads millions of pixels
	// otherwise and the worker re-runs this on every retry.
	maxAnalysisDim = 256
)

// PhotoAnalysisResult is the in-memory outcome of analyzing one submission
// photo. The orchestrator persists it as a models.PhotoAnalysis row.
type PhotoAnalysisResult struct {
	HasEXIF        bool
	CapturedAt     *time.Time
	PhotoLatitude  *float64
	PhotoLongitude *float64
	CameraInfo     map[string]string

	QualityScore      float64
	AuthenticityScore float64
	DetectedElements  []models.DetectedElement

	TimestampValid      bool
	HasRequiredElements bool
	Passed              bool
	Notes               []string
}

// AuthenticityScorer rates how likely a photo is a genuine, unmanipulated
// capture. The default scorer trusts every decodable image; a model-backed
// scorer can be swapped in without touching the pipeline.
type AuthenticityScorer interface {
	Score(ctx context.Context, img image.Image, raw []byte) (float64, error)
}

type trustingScorer struct{}

func (trustingScorer) Score(ctx context.Context, img image.Image, raw []byte) (float64, error) {
	return 1.0, nil
}

type PhotoVerificationService struct {
	Scorer AuthenticityScorer
}

func NewPhotoVerificationService() *PhotoVerificationService {
	return &PhotoVerificationService{Scorer: trustingScorer{}}
}

// Analyze runs the full photo pipeline: EXIF extraction, quality scoring,
// authenticity scoring and nature-element detection, then applies the
// challenge's requirements. Analysis failures never return an error; they
// produce a failing result so the attempt can be recorded and retried.
func (s *PhotoVerificationService) Analyze(ctx context.Context, photo []byte, challenge *models.Challenge) (*PhotoAnalysisResult, error) {
	res := &PhotoAnalysisResult{
		CameraInfo:     map[string]string{},
		TimestampValid: true,
	}

	img, _, err := image.Decode(bytes.NewReader(photo))
	if err != nil {
		log.Printf("⚠️ [PHOTO] Failed to decode submission image: %v", err)
		res.Notes = append(res.Notes, "image could not be decoded")
		return res, nil
	}

	s.extractEXIF(photo, res)

	origBounds := img.Bounds()
	small := downscale(img, maxAnalysisDim)
	stats := computePixelStats(small)

	res.QualityScore = qualityScore(stats, origBounds.Dx(), origBounds.Dy())
	if res.QualityScore < PhotoQualityThreshold {
		res.Notes = append(res.Notes, fmt.Sprintf("quality score %.2f below threshold", res.QualityScore))
	}

	res.AuthenticityScore, err = s.Scorer.Score(ctx, small, photo)
	if err != nil {
		log.Printf("⚠️ [PHOTO] Authenticity scorer failed: %v", err)
		res.AuthenticityScore = 0
		res.Notes = append(res.Notes, "authenticity check unavailable")
	} else if res.AuthenticityScore < PhotoAuthenticityThreshold {
		res.Notes = append(res.Notes, fmt.Sprintf("authenticity score %.2f below threshold", res.AuthenticityScore))
	}

	res.DetectedElements = detectElements(small)
	res.HasRequiredElements = matchRequiredElements(challenge.RequiredElements, res.DetectedElements, res)

	if res.CapturedAt != nil {
		age := time.Since(*res.CapturedAt)
		if age > PhotoTimestampWindow || age < -5*time.Minute {
			res.TimestampValid = false
			res.Notes = append(res.Notes, "photo timestamp outside the 24h submission window")
		}
	}

	res.Passed = res.QualityScore >= PhotoQualityThreshold &&
		res.AuthenticityScore >= PhotoAuthenticityThreshold &&
		res.TimestampValid &&
		res.HasRequiredElements

	return res, nil
}

func (s *PhotoVerificationService) extractEXIF(photo []byte, res *PhotoAnalysisResult) {
	x, err := exif.Decode(bytes.NewReader(photo))
	if err != nil {
		// Phones strip EXIF when sharing; absence alone is not suspicious.
		return
	}
	res.HasEXIF = true

	if t, err := x.DateTime(); err == nil {
		res.CapturedAt = &t
	}
	if lat, lon, err := x.LatLong(); err == nil {
		res.PhotoLatitude = &lat
		res.PhotoLongitude = &lon
	}
	if tag, err := x.Get(exif.Make); err == nil {
		if v, err := tag.StringVal(); err == nil {
			res.CameraInfo["make"] = strings.TrimSpace(v)
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if v, err := tag.StringVal(); err == nil {
			res.CameraInfo["model"] = strings.TrimSpace(v)
		}
	}
}

// pixelStats holds grayscale statistics gathered in a single pass.
type pixelStats struct {
	brightness float64 // mean luminance, 0..1
	contrast   float64 // luminance stddev, 0..255
	sharpness  float64 // variance of a 4-neighbour Laplacian
}

func computePixelStats(img image.Image) pixelStats {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return pixelStats{}
	}

	gray := make([]float64, w*h)
	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// ITU-R BT.601 luma on 8-bit scale
			l := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
			gray[y*w+x] = l
			sum += l
		}
	}
	mean := sum / float64(w*h)

	var varSum float64
	for _, l := range gray {
		d := l - mean
		varSum += d * d
	}
	contrast := math.Sqrt(varSum / float64(w*h))

	// Laplacian response variance as a sharpness proxy.
	var lapSum, lapSqSum float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := 4*gray[y*w+x] - gray[(y-1)*w+x] - gray[(y+1)*w+x] - gray[y*w+x-1] - gray[y*w+x+1]
			lapSum += lap
			lapSqSum += lap * lap
			n++
		}
	}
	var lapVar float64
	if n > 0 {
		lapMean := lapSum / float64(n)
		lapVar = lapSqSum/float64(n) - lapMean*lapMean
	}

	return pixelStats{
		brightness: mean / 255.0,
		contrast:   contrast,
		sharpness:  lapVar,
	}
}

// qualityScore blends sharpness, exposure, contrast and resolution into one
// 0..1 score. Weights favour sharpness since blur is the dominant failure
// mode in field submissions.
func qualityScore(st pixelStats, width, height int) float64 {
	sharpness := math.Min(st.sharpness/1000.0, 1.0)
	exposure := math.Min(st.brightness, 1.0-st.brightness)
	contrast := math.Min(st.contrast/255.0, 1.0)
	resolution := math.Min(float64(width*height)/(1920.0*1080.0), 1.0)

	return sharpness*0.4 + exposure*0.2 + contrast*0.2 + resolution*0.2
}

// elementBucket defines an HSV region whose pixel coverage suggests a
// natural element is present in the frame.
type elementBucket struct {
	name        string
	description string
	hueMin      float64 // degrees
	hueMax      float64
	satMin      float64
	valMin      float64
	valMax      float64
	minCoverage float64
	confScale   float64
}

var elementBuckets = []elementBucket{
	{
		name:        "vegetation",
		description: "green foliage such as trees, grass or shrubs",
		hueMin:      70, hueMax: 170,
		satMin: 0.157, valMin: 0.157, valMax: 1.0,
		minCoverage: 0.10, confScale: 2.0,
	},
	{
		name:        "water_or_sky",
		description: "open water or clear sky",
		hueMin:      200, hueMax: 260,
		satMin: 0.196, valMin: 0.196, valMax: 1.0,
		minCoverage: 0.15, confScale: 1.5,
	},
	{
		name:        "earth_or_rocks",
		description: "exposed soil, sand or rock faces",
		hueMin:      20, hueMax: 50,
		satMin: 0.118, valMin: 0.118, valMax: 0.784,
		minCoverage: 0.10, confScale: 2.0,
	},
}

func detectElements(img image.Image) []models.DetectedElement {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return nil
	}

	counts := make([]int, len(elementBuckets))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			hue, sat, val := rgbToHSV(float64(r>>8)/255.0, float64(g>>8)/255.0, float64(bl>>8)/255.0)
			for i, bk := range elementBuckets {
				if hue >= bk.hueMin && hue <= bk.hueMax &&
					sat >= bk.satMin && val >= bk.valMin && val <= bk.valMax {
					counts[i]++
				}
			}
		}
	}

	var out []models.DetectedElement
	for i, bk := range elementBuckets {
		coverage := float64(counts[i]) / float64(total)
		if coverage > bk.minCoverage {
			out = append(out, models.DetectedElement{
				Element:     bk.name,
				Confidence:  math.Min(coverage*bk.confScale, 1.0),
				Description: bk.description,
			})
		}
	}
	return out
}

// matchRequiredElements checks every required element against the detected
// ones with a fuzzy, case-insensitive substring match in either direction.
// A challenge with no required elements always matches.
func matchRequiredElements(required []string, detected []models.DetectedElement, res *PhotoAnalysisResult) bool {
	all := true
	for _, req := range required {
		reqLower := strings.ToLower(strings.TrimSpace(req))
		if reqLower == "" {
			continue
		}
		found := false
		for _, d := range detected {
			detLower := strings.ToLower(d.Element)
			if strings.Contains(detLower, reqLower) || strings.Contains(reqLower, detLower) {
				found = true
				break
			}
		}
		if !found {
			all = false
			res.Notes = append(res.Notes, fmt.Sprintf("required element %q not detected in photo", req))
		}
	}
	return all
}

func rgbToHSV(r, g, b float64) (h, s, v float64) {
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	v = max
	d := max - min
	if max > 0 {
		s = d / max
	}
	if d == 0 {
		return 0, s, v
	}
	switch max {
	case r:
		h = math.Mod((g-b)/d, 6)
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h, s, v
}

func downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
