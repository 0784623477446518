// Package services contains the application layer: the ingestion pipeline
// for new items, the nightly streak batch, and metadata enrichment. Services
// own the persistence contract (Store) so repositories can be swapped; the
// production implementation is GORM over SQLite, tests use the in-memory one.
package services

import (
	"context"
	"time"

	"github.com/tbourn/go-shelf-backend/internal/domain"
	"github.com/tbourn/go-shelf-backend/internal/search"
)

// StreakUpdate reports one user's streak counter after a batch increment.
type StreakUpdate struct {
	UserID     domain.UserID
	StreakDays int
}

// Store is the persistence contract required by the services in this
// package. All methods honor ctx cancellation. Absent rows surface as
// *domain.NotFoundError, uniqueness violations as *domain.ConflictError.
type Store interface {
	// CreateItem inserts a new item row.
	CreateItem(ctx context.Context, item *domain.Item) error

	// GetItem fetches an item by ID, scoped to its owner.
	GetItem(ctx context.Context, userID domain.UserID, id domain.ItemID) (*domain.Item, error)

	// UpdateItem persists the full item row (copy-on-write values from the
	// domain mutators).
	UpdateItem(ctx context.Context, item *domain.Item) error

	// ListItems returns the user's items with the scalar predicates of f
	// applied, ordered by added_at descending.
	ListItems(ctx context.Context, userID domain.UserID, f search.Filter) ([]domain.Item, error)

	// CountItemsCreatedSince counts the user's items with added_at >= since.
	// Executed inside InTx it is the authoritative ingestion rate guard.
	CountItemsCreatedSince(ctx context.Context, userID domain.UserID, since time.Time) (int64, error)

	// CreateUser inserts a new user row.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser fetches a user by ID.
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)

	// GetUserByUsername fetches a user by exact username.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// SaveUser persists the full user row.
	SaveUser(ctx context.Context, user *domain.User) error

	// UserIDsWithReadBetween returns the distinct owners of items whose
	// read_date falls in [from, to). A non-empty scope restricts the answer
	// to those users; nil means all users.
	UserIDsWithReadBetween(ctx context.Context, from, to time.Time, scope []domain.UserID) ([]domain.UserID, error)

	// IncrementStreaks bumps the streak of every listed user whose
	// last_read_date predates today, stamps last_read_date = today, and
	// returns the new counters. Users already stamped today are skipped,
	// which makes the nightly batch idempotent.
	IncrementStreaks(ctx context.Context, userIDs []domain.UserID, today time.Time, now time.Time) ([]StreakUpdate, error)

	// ResetExpiredStreaks zeroes the streak of every user with a positive
	// streak whose last_read_date strictly predates readBefore, and reports
	// how many rows changed. The batch passes readBefore = today: users it
	// just incremented carry last_read_date = today and survive, while a
	// yesterday stamp only proves the previous run credited them, not that
	// they read again. A non-empty scope restricts the sweep to those users.
	ResetExpiredStreaks(ctx context.Context, readBefore time.Time, now time.Time, scope []domain.UserID) (int64, error)

	// GetIdempotency looks up a replay record by (userID, key); absent or
	// expired records surface as *domain.NotFoundError.
	GetIdempotency(ctx context.Context, userID domain.UserID, key string) (*domain.Idempotency, error)

	// PutIdempotency stores a replay record; a concurrent duplicate surfaces
	// as *domain.ConflictError.
	PutIdempotency(ctx context.Context, rec *domain.Idempotency) error

	// InTx runs fn against a transactional view of the store. fn returning an
	// error rolls everything back. Nested calls are not supported.
	InTx(ctx context.Context, fn func(tx Store) error) error
}
