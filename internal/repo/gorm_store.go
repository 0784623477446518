// Package repo – GORM implementation of the services.Store contract.
//
// Gorm is a thin mapper: query composition and error translation only, no
// business logic. The filter predicates arrive as a typed struct and are
// composed through the GORM query builder; handlers and services never pass
// SQL fragments down here.
//
// Error semantics:
//   - missing rows come back as *domain.NotFoundError
//   - unique violations come back as *domain.ConflictError
//   - everything else propagates as the raw driver error
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-shelf-backend/internal/domain"
	"github.com/tbourn/go-shelf-backend/internal/search"
	"github.com/tbourn/go-shelf-backend/internal/services"
)

// Gorm implements services.Store over a *gorm.DB handle.
type Gorm struct {
	db *gorm.DB
}

var _ services.Store = (*Gorm)(nil)

// NewGorm wraps db as a services.Store.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// isUniqueViolation detects UNIQUE constraint failures across the error
// shapes glebarez/sqlite produces (often plain text, not gorm.ErrDuplicatedKey).
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreateItem implements services.Store.
func (g *Gorm) CreateItem(ctx context.Context, item *domain.Item) error {
	if err := g.db.WithContext(ctx).Create(item).Error; err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{Resource: "item", Reason: "duplicate id"}
		}
		return err
	}
	return nil
}

// GetItem implements services.Store. Ownership is part of the lookup, so a
// foreign item is indistinguishable from a missing one.
func (g *Gorm) GetItem(ctx context.Context, userID domain.UserID, id domain.ItemID) (*domain.Item, error) {
	var item domain.Item
	err := g.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "item", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateItem implements services.Store.
func (g *Gorm) UpdateItem(ctx context.Context, item *domain.Item) error {
	return g.db.WithContext(ctx).Save(item).Error
}

// ListItems implements services.Store. Scalar predicates are pushed into
// SQL; tag filtering happens in the search engine because tags live inside
// the metadata JSON bag.
func (g *Gorm) ListItems(ctx context.Context, userID domain.UserID, f search.Filter) ([]domain.Item, error) {
	q := g.db.WithContext(ctx).
		Where("user_id = ?", userID)

	if f.Type != nil {
		q = q.Where("type = ?", *f.Type)
	}
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.MinRating != nil {
		q = q.Where("rating >= ?", *f.MinRating)
	}
	if f.PublishedYear != nil {
		q = q.Where("published_year = ?", *f.PublishedYear)
	}
	if f.HasNotes != nil {
		if *f.HasNotes {
			q = q.Where("notes <> ''")
		} else {
			q = q.Where("notes = ''")
		}
	}
	if f.ReadFrom != nil {
		q = q.Where("read_date >= ?", *f.ReadFrom)
	}
	if f.ReadTo != nil {
		q = q.Where("read_date <= ?", *f.ReadTo)
	}

	var out []domain.Item
	err := q.Order("added_at desc").Order("id asc").Find(&out).Error
	return out, err
}

// CountItemsCreatedSince implements services.Store.
func (g *Gorm) CountItemsCreatedSince(ctx context.Context, userID domain.UserID, since time.Time) (int64, error) {
	var n int64
	err := g.db.WithContext(ctx).
		Model(&domain.Item{}).
		Where("user_id = ? AND added_at >= ?", userID, since).
		Count(&n).Error
	return n, err
}

// CreateUser implements services.Store.
func (g *Gorm) CreateUser(ctx context.Context, user *domain.User) error {
	if err := g.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{Resource: "user", Reason: "username already taken"}
		}
		return err
	}
	return nil
}

// GetUser implements services.Store.
func (g *Gorm) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var user domain.User
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "user", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername implements services.Store.
func (g *Gorm) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := g.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "user", ID: username}
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveUser implements services.Store.
func (g *Gorm) SaveUser(ctx context.Context, user *domain.User) error {
	return g.db.WithContext(ctx).Save(user).Error
}

// UserIDsWithReadBetween implements services.Store.
func (g *Gorm) UserIDsWithReadBetween(ctx context.Context, from, to time.Time, scope []domain.UserID) ([]domain.UserID, error) {
	q := g.db.WithContext(ctx).
		Model(&domain.Item{}).
		Distinct("user_id").
		Where("read_date >= ? AND read_date < ?", from, to)
	if len(scope) > 0 {
		q = q.Where("user_id IN ?", scope)
	}
	var ids []domain.UserID
	err := q.Pluck("user_id", &ids).Error
	return ids, err
}

// IncrementStreaks implements services.Store. Two statements total: one
// select for the eligible users, one bulk update. Users already stamped with
// today's last_read_date are skipped, which keeps the batch re-runnable.
func (g *Gorm) IncrementStreaks(ctx context.Context, userIDs []domain.UserID, today time.Time, now time.Time) ([]services.StreakUpdate, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	var eligible []domain.User
	err := g.db.WithContext(ctx).
		Where("id IN ?", userIDs).
		Where("last_read_date IS NULL OR last_read_date < ?", today).
		Find(&eligible).Error
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	ids := make([]domain.UserID, len(eligible))
	updates := make([]services.StreakUpdate, len(eligible))
	for i, u := range eligible {
		ids[i] = u.ID
		updates[i] = services.StreakUpdate{UserID: u.ID, StreakDays: u.Stats.StreakDays + 1}
	}

	err = g.db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"streak_days":    gorm.Expr("streak_days + 1"),
			"last_read_date": today,
			"updated_at":     now,
		}).Error
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// ResetExpiredStreaks implements services.Store.
func (g *Gorm) ResetExpiredStreaks(ctx context.Context, readBefore time.Time, now time.Time, scope []domain.UserID) (int64, error) {
	q := g.db.WithContext(ctx).
		Model(&domain.User{}).
		Where("streak_days > 0").
		Where("last_read_date IS NULL OR last_read_date < ?", readBefore)
	if len(scope) > 0 {
		q = q.Where("id IN ?", scope)
	}
	res := q.Updates(map[string]any{
		"streak_days": 0,
		"updated_at":  now,
	})
	return res.RowsAffected, res.Error
}

// GetIdempotency implements services.Store. Expired records are reported as
// not found so callers never replay a stale response.
func (g *Gorm) GetIdempotency(ctx context.Context, userID domain.UserID, key string) (*domain.Idempotency, error) {
	var rec domain.Idempotency
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND key = ? AND expires_at > ?", userID, key, time.Now().UTC()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "idempotency", ID: key}
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutIdempotency implements services.Store.
func (g *Gorm) PutIdempotency(ctx context.Context, rec *domain.Idempotency) error {
	if err := g.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{Resource: "idempotency", Reason: "key already recorded"}
		}
		return err
	}
	return nil
}

// InTx implements services.Store. SQLite serializes writers, so the count
// guard inside the ingestion transaction observes every committed row.
func (g *Gorm) InTx(ctx context.Context, fn func(tx services.Store) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{db: tx})
	})
}
