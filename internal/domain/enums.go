package domain

// ItemType classifies what kind of work an item records.
type ItemType string

const (
	TypeBook    ItemType = "BOOK"
	TypePaper   ItemType = "PAPER"
	TypeArticle ItemType = "ARTICLE"
)

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	switch t {
	case TypeBook, TypePaper, TypeArticle:
		return true
	}
	return false
}

// ItemStatus tracks reading progress for an item.
type ItemStatus string

const (
	StatusWantToRead ItemStatus = "WANT_TO_READ"
	StatusReading    ItemStatus = "READING"
	StatusRead       ItemStatus = "READ"
	StatusSkimmed    ItemStatus = "SKIMMED"
)

// Valid reports whether s is one of the known statuses.
func (s ItemStatus) Valid() bool {
	switch s {
	case StatusWantToRead, StatusReading, StatusRead, StatusSkimmed:
		return true
	}
	return false
}

// ProfileVisibility controls who can see a user's public profile page.
type ProfileVisibility string

const (
	VisibilityPublic   ProfileVisibility = "PUBLIC"
	VisibilityUnlisted ProfileVisibility = "UNLISTED"
	VisibilityPrivate  ProfileVisibility = "PRIVATE"
)

// Valid reports whether v is one of the known visibility levels.
func (v ProfileVisibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityUnlisted, VisibilityPrivate:
		return true
	}
	return false
}
