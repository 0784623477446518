// Package domain – Item model.
//
// Item represents one consumed work (book, paper, or article) owned by a
// single user. Instances are constructed exclusively through NewItem, which
// enforces all field invariants; callers never assemble an Item literal.
// "Mutations" return a fresh copy so a persisted Item value is never modified
// in place.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Field limits for Item. Title/author/notes lengths are rune counts.
const (
	MaxTitleLen  = 500
	MaxAuthorLen = 200
	MaxNotesLen  = 5000

	MinRating = 1
	MaxRating = 5
)

// Metadata is an open key-value bag attached to an item (tags, source hints,
// enrichment output). It serializes to a JSON column.
type Metadata map[string]any

// Value implements driver.Valuer for GORM persistence.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for GORM persistence.
func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("metadata: unsupported scan source")
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}

// Item represents one consumed work.
//
// Fields:
//   - ID: stable UUID primary key, assigned at creation, never reused.
//   - UserID: owner; immutable after creation, indexed for per-user queries.
//   - Type / Status: enums, see enums.go.
//   - Title: required, 1–500 runes.
//   - Author / URL / ISBN / DOI: optional, format-validated when present.
//   - Rating: optional, 1–5.
//   - PublishedYear / CoverImage: filled by metadata enrichment.
//   - ReadDate: when the user finished (or skimmed) the work.
//   - Metadata: open bag, e.g. {"tags": ["go", "databases"]}.
type Item struct {
	ID            ItemID     `json:"id"             gorm:"type:char(36);primaryKey"`
	UserID        UserID     `json:"user_id"        gorm:"type:varchar(64);not null;index:idx_user_items"`
	Type          ItemType   `json:"type"           gorm:"type:varchar(16);not null;check:type IN ('BOOK','PAPER','ARTICLE')"`
	Title         string     `json:"title"          gorm:"type:varchar(500);not null"`
	Author        string     `json:"author,omitempty" gorm:"type:varchar(200)"`
	URL           string     `json:"url,omitempty"  gorm:"type:varchar(2048)"`
	ISBN          string     `json:"isbn,omitempty" gorm:"type:varchar(17)"`
	DOI           string     `json:"doi,omitempty"  gorm:"type:varchar(255)"`
	Status        ItemStatus `json:"status"         gorm:"type:varchar(16);not null;default:'WANT_TO_READ'"`
	Rating        *int       `json:"rating,omitempty"`
	Notes         string     `json:"notes,omitempty" gorm:"type:text"`
	PublishedYear *int       `json:"published_year,omitempty"`
	CoverImage    string     `json:"cover_image,omitempty" gorm:"type:varchar(2048)"`
	ReadDate      *time.Time `json:"read_date,omitempty" gorm:"index"`
	IsPublic      bool       `json:"is_public"      gorm:"not null;default:false"`
	Metadata      Metadata   `json:"metadata,omitempty" gorm:"type:text"`
	AddedAt       time.Time  `json:"added_at"       gorm:"index"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Item.
func (Item) TableName() string { return "items" }

// NewItemInput carries caller-supplied fields for NewItem. Optional fields
// are the zero value when absent.
type NewItemInput struct {
	UserID   UserID
	Type     ItemType
	Title    string
	Author   string
	URL      string
	ISBN     string
	DOI      string
	Notes    string
	Metadata Metadata
}

// NewItem validates in and returns a fully-initialized Item with a fresh ID,
// default status, and UTC timestamps. It is the only constructor; the
// ingestion pipeline calls it before any persistence happens, so a
// ValidationError here implies no side effects occurred.
func NewItem(in NewItemInput, now time.Time) (*Item, error) {
	if in.UserID == "" {
		return nil, NewValidationError("userId", "must not be empty")
	}
	if !in.Type.Valid() {
		return nil, NewValidationError("type", fmt.Sprintf("unknown item type %q", string(in.Type)))
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, NewValidationError("title", "must not be empty")
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return nil, NewValidationError("title", fmt.Sprintf("must be at most %d characters", MaxTitleLen))
	}
	author := strings.TrimSpace(in.Author)
	if utf8.RuneCountInString(author) > MaxAuthorLen {
		return nil, NewValidationError("author", fmt.Sprintf("must be at most %d characters", MaxAuthorLen))
	}
	if utf8.RuneCountInString(in.Notes) > MaxNotesLen {
		return nil, NewValidationError("notes", fmt.Sprintf("must be at most %d characters", MaxNotesLen))
	}
	if in.URL != "" && !ValidURL(in.URL) {
		return nil, NewValidationError("url", "must be an absolute http(s) URL")
	}
	isbn := ""
	if in.ISBN != "" {
		if !ValidISBN(in.ISBN) {
			return nil, NewValidationError("isbn", "not a valid ISBN-10/ISBN-13")
		}
		isbn = NormalizeISBN(in.ISBN)
	}
	if in.DOI != "" && !ValidDOI(in.DOI) {
		return nil, NewValidationError("doi", "not a valid DOI")
	}

	now = now.UTC()
	return &Item{
		ID:        NewItemID(),
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     title,
		Author:    author,
		URL:       strings.TrimSpace(in.URL),
		ISBN:      isbn,
		DOI:       strings.TrimSpace(in.DOI),
		Status:    StatusWantToRead,
		Notes:     in.Notes,
		Metadata:  in.Metadata,
		AddedAt:   now,
		UpdatedAt: now,
	}, nil
}

// WithStatus returns a copy of the item with status set. When the new status
// is READ or SKIMMED and no read date is recorded yet, readDate is stamped.
func (i Item) WithStatus(s ItemStatus, now time.Time) (Item, error) {
	if !s.Valid() {
		return i, NewValidationError("status", fmt.Sprintf("unknown status %q", string(s)))
	}
	i.Status = s
	if (s == StatusRead || s == StatusSkimmed) && i.ReadDate == nil {
		t := now.UTC()
		i.ReadDate = &t
	}
	i.UpdatedAt = now.UTC()
	return i, nil
}

// WithRating returns a copy of the item with the rating set (1–5).
func (i Item) WithRating(rating int, now time.Time) (Item, error) {
	if rating < MinRating || rating > MaxRating {
		return i, NewValidationError("rating", fmt.Sprintf("must be between %d and %d", MinRating, MaxRating))
	}
	i.Rating = &rating
	i.UpdatedAt = now.UTC()
	return i, nil
}

// Tags extracts the "tags" entry from the metadata bag. Missing or malformed
// entries yield nil. Tags are compared case-insensitively by callers.
func (i Item) Tags() []string {
	if i.Metadata == nil {
		return nil
	}
	raw, ok := i.Metadata["tags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// HasTags reports whether the item carries every tag in want (AND semantics,
// case-insensitive). An empty want matches everything.
func (i Item) HasTags(want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := i.Tags()
	if len(have) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[strings.ToLower(t)] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[strings.ToLower(w)]; !ok {
			return false
		}
	}
	return true
}
