// Package domain defines the core entities of the reading-shelf application:
// items (books, papers, articles), the users that own them, and the typed
// errors shared across layers. These types are mapped with GORM and form the
// core data layer of the application.
package domain

import "github.com/google/uuid"

// ItemID identifies a single Item. It is a distinct type (not a bare string)
// so that item and user identifiers cannot be swapped at a call site without
// a compile error. The representation stays a string, so there is no runtime
// overhead and GORM maps it to a plain column.
type ItemID string

// UserID identifies a User. See ItemID for the rationale behind the newtype.
type UserID string

// NewItemID returns a fresh random item identifier (UUIDv4).
func NewItemID() ItemID { return ItemID(uuid.NewString()) }

// NewUserID returns a fresh random user identifier (UUIDv4).
func NewUserID() UserID { return UserID(uuid.NewString()) }

// String returns the raw identifier value.
func (id ItemID) String() string { return string(id) }

// String returns the raw identifier value.
func (id UserID) String() string { return string(id) }
