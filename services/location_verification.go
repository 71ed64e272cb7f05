// services/location_verification.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"

	"nature-quest-system/models"
	"nature-quest-system/utils"
)

// LocationMinConfidence is the floor a submission inside the geofence gets
// before the type-match adjustment, and the bar it must clear after it.
const LocationMinConfidence = 0.6

const placeSearchLimit = 10

// Place is one nearby point of interest returned by the place index.
type Place struct {
	Name       string
	Latitude   float64
	Longitude  float64
	Categories []string
	DistanceM  float64
}

// PlaceClient looks up points of interest near a coordinate. The production
// implementation calls the Foursquare Places API; tests stub it.
type PlaceClient interface {
	SearchNearby(ctx context.Context, lat, lon, radiusM float64, categoryIDs string, limit int) ([]Place, error)
}

// LocationVerificationResult is the in-memory outcome of verifying one
// submission's coordinates against a challenge geofence.
type LocationVerificationResult struct {
	IsValidCoordinate bool
	DistanceToTarget  float64 // meters
	ClosestMatchName  string
	MatchCategories   []string
	LocationTypeMatch bool
	Confidence        float64
	Passed            bool
	ErrorNote         string
}

type LocationVerificationService struct {
	Places PlaceClient
}

func NewLocationVerificationService(places PlaceClient) *LocationVerificationService {
	return &LocationVerificationService{Places: places}
}

// Verify checks the submitted coordinates against the challenge target:
// geofence distance, place-index corroboration and a blended confidence
// score. Place-index failures fail closed: the result keeps the distance
// and confidence for the record, but never passes.
func (s *LocationVerificationService) Verify(ctx context.Context, lat, lon float64, challenge *models.Challenge) (*LocationVerificationResult, error) {
	res := &LocationVerificationResult{}

	if math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		res.ErrorNote = fmt.Sprintf("invalid coordinate (%.4f, %.4f)", lat, lon)
		return res, nil
	}
	res.IsValidCoordinate = true

	radius := float64(challenge.VerificationRadius)
	res.DistanceToTarget = haversineMeters(lat, lon, challenge.TargetLatitude, challenge.TargetLongitude)
	withinFence := res.DistanceToTarget <= radius

	conf := 1.0 - res.DistanceToTarget/radius
	if withinFence && conf < LocationMinConfidence {
		conf = LocationMinConfidence
	}
	if conf < 0 {
		conf = 0
	}

	typeMatch, lookupErr := s.corroborate(ctx, lat, lon, challenge, res)
	if lookupErr != nil {
		log.Printf("⚠️ [LOCATION] Place lookup failed near (%.4f, %.4f): %v", lat, lon, lookupErr)
		res.ErrorNote = "place index unavailable"
	}
	res.LocationTypeMatch = typeMatch

	if typeMatch {
		conf = math.Min(conf+0.2, 1.0)
	} else {
		conf *= 0.7
	}
	res.Confidence = conf
	res.Passed = lookupErr == nil && withinFence && conf >= LocationMinConfidence
	return res, nil
}

// corroborate asks the place index for nearby POIs matching the challenge's
// location type and records the closest hit.
func (s *LocationVerificationService) corroborate(ctx context.Context, lat, lon float64, challenge *models.Challenge, res *LocationVerificationResult) (bool, error) {
	if s.Places == nil {
		return false, nil
	}

	categoryID := foursquareCategories[challenge.LocationType]
	places, err := s.Places.SearchNearby(ctx, lat, lon, float64(challenge.VerificationRadius), categoryID, placeSearchLimit)
	if err != nil {
		return false, err
	}
	if len(places) == 0 {
		return false, nil
	}

	keywords := locationKeywords[challenge.LocationType]
	best := -1
	bestDist := math.MaxFloat64
	matched := false
	for i, p := range places {
		d := p.DistanceM
		if d == 0 {
			d = haversineMeters(lat, lon, p.Latitude, p.Longitude)
		}
		if d < bestDist {
			bestDist = d
			best = i
		}
		if placeMatchesType(p, keywords) {
			matched = true
		}
	}
	if best >= 0 {
		res.ClosestMatchName = places[best].Name
		res.MatchCategories = places[best].Categories
	}
	return matched, nil
}

func placeMatchesType(p Place, keywords []string) bool {
	name := strings.ToLower(p.Name)
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			return true
		}
		for _, cat := range p.Categories {
			if strings.Contains(strings.ToLower(cat), kw) {
				return true
			}
		}
	}
	return false
}

// foursquareCategories maps our challenge location types onto Foursquare
// category IDs used to narrow the nearby search.
var foursquareCategories = map[models.LocationType]string{
	models.LocationPark:          "16032",
	models.LocationForest:        "16019",
	models.LocationLake:          "16043",
	models.LocationMountain:      "16038",
	models.LocationBeach:         "16044",
	models.LocationGarden:        "16032",
	models.LocationTrail:         "16019",
	models.LocationWildlifeArea:  "16022",
	models.LocationNatureReserve: "16022",
	models.LocationRiver:         "16043",
	models.LocationWaterfall:     "16043",
	models.LocationDesert:        "16019",
}

// locationKeywords are the name/category substrings accepted as a type
// match for each location type.
var locationKeywords = map[models.LocationType][]string{
	models.LocationPark:          {"park", "green", "playground", "recreation"},
	models.LocationForest:        {"forest", "woods", "woodland", "wilderness", "nature", "grove"},
	models.LocationLake:          {"lake", "pond", "reservoir", "lagoon"},
	models.LocationMountain:      {"mountain", "peak", "summit", "hill", "ridge"},
	models.LocationBeach:         {"beach", "shore", "coast", "bay"},
	models.LocationGarden:        {"garden", "botanic", "arboretum"},
	models.LocationTrail:         {"trail", "path", "track", "hike"},
	models.LocationWildlifeArea:  {"wildlife", "sanctuary", "refuge", "habitat"},
	models.LocationNatureReserve: {"reserve", "preserve", "conservation", "nature"},
	models.LocationRiver:         {"river", "creek", "stream", "brook"},
	models.LocationWaterfall:     {"waterfall", "falls", "cascade"},
	models.LocationDesert:        {"desert", "dunes", "arid", "canyon"},
}

// haversineMeters returns the great-circle distance between two points.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusM = 6371000.0
	rad := math.Pi / 180.0
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// FoursquarePlaceClient calls the Foursquare Places API.
type FoursquarePlaceClient struct {
	APIKey  string
	BaseURL string
}

func NewFoursquarePlaceClient() *FoursquarePlaceClient {
	return &FoursquarePlaceClient{
		APIKey:  os.Getenv("FOURSQUARE_API_KEY"),
		BaseURL: "https://api.foursquare.com/v3",
	}
}

func (c *FoursquarePlaceClient) SearchNearby(ctx context.Context, lat, lon, radiusM float64, categoryIDs string, limit int) ([]Place, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("FOURSQUARE_API_KEY is not set")
	}

	q := url.Values{}
	q.Set("ll", fmt.Sprintf("%f,%f", lat, lon))
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("sort", "DISTANCE")
	if radiusM > 0 {
		q.Set("radius", fmt.Sprintf("%d", int(radiusM)))
	}
	if categoryIDs != "" {
		q.Set("categories", categoryIDs)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/places/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := utils.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("place search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("place search returned status %d", resp.StatusCode)
	}

	var body struct {
		Results []struct {
			Name     string `json:"name"`
			Distance int    `json:"distance"`
			Geocodes struct {
				Main struct {
					Latitude  float64 `json:"latitude"`
					Longitude float64 `json:"longitude"`
				} `json:"main"`
			} `json:"geocodes"`
			Categories []struct {
				Name string `json:"name"`
			} `json:"categories"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode place search response: %w", err)
	}

	places := make([]Place, 0, len(body.Results))
	for _, r := range body.Results {
		p := Place{
			Name:      r.Name,
			Latitude:  r.Geocodes.Main.Latitude,
			Longitude: r.Geocodes.Main.Longitude,
			DistanceM: float64(r.Distance),
		}
		for _, cat := range r.Categories {
			p.Categories = append(p.Categories, cat.Name)
		}
		places = append(places, p)
	}
	return places, nil
}
