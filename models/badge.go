package models

import (
	"time"
)

// Level: static catalog of the 12 gemstone levels, ordered by a
// monotonically increasing points threshold.
type Level struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	LevelNumber    int    `gorm:"uniqueIndex;not null" json:"level_number"`
	Name           string `gorm:"size:50;not null" json:"name"`
	PointsRequired int64  `gorm:"not null" json:"points_required"`
	Description    string `gorm:"type:text" json:"description"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// Badge: static catalog of the 13 animal badges (12 zodiac + the special
// Cat badge, gated behind extra eligibility conditions).
type Badge struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	Animal         string `gorm:"uniqueIndex;size:20;not null" json:"animal"`
	Name           string `gorm:"size:100;not null" json:"name"`
	Description    string `gorm:"type:text" json:"description"`
	PointsRequired int64  `gorm:"not null" json:"points_required"`
	IsSpecial      bool   `gorm:"default:false" json:"is_special"`
	IconURL        string `gorm:"type:text" json:"icon_url"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// UserBadge: awarded instance, append-only, unique per (user, badge).
type UserBadge struct {
	ID               string    `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID   string    `gorm:"not null;uniqueIndex:idx_user_badge" json:"external_user_id"`
	BadgeID          string    `gorm:"not null;uniqueIndex:idx_user_badge" json:"badge_id"`
	Badge            Badge     `gorm:"foreignKey:BadgeID" json:"badge"`
	PointsWhenEarned int64     `json:"points_when_earned"`
	EarnedAt         time.Time `json:"earned_at" gorm:"autoCreateTime"`
}

// DefaultLevels seeds the gemstone ladder.
var DefaultLevels = []Level{
	{LevelNumber: 1, Name: "Quartz", PointsRequired: 500, Description: "A common but beautiful crystal, the foundation of your journey"},
	{LevelNumber: 2, Name: "Amethyst", PointsRequired: 1200, Description: "Purple beauty that brings clarity and calm"},
	{LevelNumber: 3, Name: "Citrine", PointsRequired: 2000, Description: "Golden sunshine stone of abundance and joy"},
	{LevelNumber: 4, Name: "Turquoise", PointsRequired: 3000, Description: "Sacred blue stone of protection and wisdom"},
	{LevelNumber: 5, Name: "Garnet", PointsRequired: 4200, Description: "Deep red gem of passion and energy"},
	{LevelNumber: 6, Name: "Peridot", PointsRequired: 5600, Description: "Bright green olivine from the depths of the earth"},
	{LevelNumber: 7, Name: "Topaz", PointsRequired: 7200, Description: "Imperial golden crystal of strength and intellect"},
	{LevelNumber: 8, Name: "Sapphire", PointsRequired: 9000, Description: "Royal blue gem of nobility and divine favor"},
	{LevelNumber: 9, Name: "Ruby", PointsRequired: 11000, Description: "King of gems, crimson stone of love and courage"},
	{LevelNumber: 10, Name: "Emerald", PointsRequired: 13500, Description: "Verdant jewel of rebirth and eternal spring"},
	{LevelNumber: 11, Name: "Diamond", PointsRequired: 16500, Description: "Unbreakable brilliance and ultimate achievement"},
	{LevelNumber: 12, Name: "Tanzanite", PointsRequired: 20000, Description: "Rare violet-blue treasure found only in one place on Earth"},
}

// DefaultBadges seeds the animal badge catalog.
var DefaultBadges = []Badge{
	{Animal: "rat", Name: "Curious Explorer", Description: "Quick and resourceful, you find wonder in every corner", PointsRequired: 250},
	{Animal: "ox", Name: "Steady Wanderer", Description: "Patient and determined, you take nature at your own pace", PointsRequired: 500},
	{Animal: "tiger", Name: "Bold Adventurer", Description: "Fearless and strong, you tackle any outdoor challenge", PointsRequired: 750},
	{Animal: "rabbit", Name: "Gentle Naturalist", Description: "Soft and observant, you notice the subtle beauty around you", PointsRequired: 1000},
	{Animal: "dragon", Name: "Legendary Seeker", Description: "Powerful and wise, you inspire others on their nature journey", PointsRequired: 1250},
	{Animal: "snake", Name: "Mysterious Tracker", Description: "Intuitive and perceptive, you sense the hidden secrets of nature", PointsRequired: 1500},
	{Animal: "horse", Name: "Free Spirit", Description: "Independent and energetic, you gallop through wilderness with joy", PointsRequired: 1750},
	{Animal: "goat", Name: "Mountain Climber", Description: "Sure-footed and creative, you find beauty in the highest places", PointsRequired: 2000},
	{Animal: "monkey", Name: "Playful Discoverer", Description: "Clever and curious, you swing through adventures with enthusiasm", PointsRequired: 2250},
	{Animal: "rooster", Name: "Dawn Herald", Description: "Confident and observant, you rise early to greet nature's awakening", PointsRequired: 2500},
	{Animal: "dog", Name: "Loyal Companion", Description: "Faithful and honest, you share the joy of nature with friends", PointsRequired: 2750},
	{Animal: "pig", Name: "Earth Guardian", Description: "Generous and grounded, you understand the interconnection of all life", PointsRequired: 3000},
	{Animal: "cat", Name: "Nature's Mystery", Description: "The ultimate achievement: independent, graceful, and in perfect harmony with the wild", PointsRequired: 5000, IsSpecial: true},
}
