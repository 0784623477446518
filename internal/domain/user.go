// Package domain – User model.
//
// User holds the profile owner plus denormalized collection counters. The
// counters are only ever adjusted through the copy-on-write methods below
// (WithItemAdded, IncrementStreak, ResetStreak); arbitrary writes to stats
// columns are not part of the contract.
package domain

import (
	"time"
)

// UserStats carries denormalized, non-negative counters for a user's
// collection. Embedded into User so GORM maps it to flat columns.
type UserStats struct {
	TotalItems    int        `json:"total_items"    gorm:"not null;default:0"`
	BooksCount    int        `json:"books_count"    gorm:"not null;default:0"`
	PapersCount   int        `json:"papers_count"   gorm:"not null;default:0"`
	ArticlesCount int        `json:"articles_count" gorm:"not null;default:0"`
	StreakDays    int        `json:"streak_days"    gorm:"not null;default:0"`
	LastReadDate  *time.Time `json:"last_read_date,omitempty"`
}

// User represents the profile owner.
//
// Username uniqueness is enforced by the repository (unique index). Email,
// phone, and name are optional; verification and credential issuance belong
// to the external identity provider.
type User struct {
	ID                UserID            `json:"id"       gorm:"type:char(36);primaryKey"`
	Username          string            `json:"username" gorm:"type:varchar(39);not null;uniqueIndex:ux_users_username"`
	Email             string            `json:"email,omitempty" gorm:"type:varchar(255)"`
	Phone             string            `json:"phone,omitempty" gorm:"type:varchar(32)"`
	Name              string            `json:"name,omitempty"  gorm:"type:varchar(255)"`
	ProfileVisibility ProfileVisibility `json:"profile_visibility" gorm:"type:varchar(16);not null;default:'PUBLIC'"`
	IsVerified        bool              `json:"is_verified" gorm:"not null;default:false"`

	Stats UserStats `json:"stats" gorm:"embedded"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// NewUser validates username and visibility and returns a new User value.
func NewUser(username string, visibility ProfileVisibility, now time.Time) (*User, error) {
	if !ValidUsername(username) {
		return nil, NewValidationError("username", "must be 3-39 characters of letters, digits, '_' or '-'")
	}
	if visibility == "" {
		visibility = VisibilityPublic
	}
	if !visibility.Valid() {
		return nil, NewValidationError("profileVisibility", "unknown visibility")
	}
	now = now.UTC()
	return &User{
		ID:                NewUserID(),
		Username:          username,
		ProfileVisibility: visibility,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// WithItemAdded returns a copy of the user with TotalItems and the matching
// per-type counter incremented. The ingestion pipeline applies this inside
// the same transaction as the item insert.
func (u User) WithItemAdded(t ItemType, now time.Time) User {
	u.Stats.TotalItems++
	switch t {
	case TypeBook:
		u.Stats.BooksCount++
	case TypePaper:
		u.Stats.PapersCount++
	case TypeArticle:
		u.Stats.ArticlesCount++
	}
	u.UpdatedAt = now.UTC()
	return u
}

// IncrementStreak returns a copy with StreakDays+1 and LastReadDate set to
// today. Used by the nightly batch for users who read yesterday.
func (u User) IncrementStreak(today time.Time, now time.Time) User {
	u.Stats.StreakDays++
	t := today.UTC()
	u.Stats.LastReadDate = &t
	u.UpdatedAt = now.UTC()
	return u
}

// ResetStreak returns a copy with StreakDays zeroed. LastReadDate is
// preserved as a historical fact.
func (u User) ResetStreak(now time.Time) User {
	u.Stats.StreakDays = 0
	u.UpdatedAt = now.UTC()
	return u
}
