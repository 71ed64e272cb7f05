package models

import (
	"time"
)

// UserProfile is the per-user ledger head (denormalized for performance).
// TotalPoints must always equal the sum of the user's PointsTransactions.
type UserProfile struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // links to profile service

	TotalPoints    int64   `gorm:"default:0" json:"total_points"`
	CurrentLevelID *string `gorm:"type:uuid" json:"current_level_id,omitempty"`
	CurrentLevel   *Level  `gorm:"foreignKey:CurrentLevelID" json:"current_level,omitempty"`

	// Activity counters
	ChallengesCompleted int64 `gorm:"default:0" json:"challenges_completed"`
	QuizzesCompleted    int64 `gorm:"default:0" json:"quizzes_completed"`

	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`

	Timestamps
}

type TransactionKind string

const (
	TxnChallengeCompletion TransactionKind = "challenge_completion"
	TxnQuizCompletion      TransactionKind = "quiz_completion"
	TxnBadgeEarned         TransactionKind = "badge_earned"
	TxnLevelUp             TransactionKind = "level_up"
	TxnSpecialEvent        TransactionKind = "special_event"
)

// PointsTransaction is an append-only ledger entry. Never updated or
// deleted; the source of truth for UserProfile.TotalPoints.
type PointsTransaction struct {
	ID             string          `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string          `gorm:"index;not null" json:"external_user_id"`
	Kind           TransactionKind `gorm:"type:varchar(30);not null" json:"kind"`
	Points         int64           `json:"points"` // signed
	Description    string          `gorm:"size:200" json:"description"`

	ChallengeID *string `gorm:"type:uuid" json:"challenge_id,omitempty"`
	QuizID      *string `gorm:"type:uuid" json:"quiz_id,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}
