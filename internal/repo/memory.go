// Package repo – in-memory implementation of the services.Store contract.
//
// Memory keeps everything in maps behind one mutex. It backs unit tests and
// local development without a database file, and its transactions are fully
// serialized: InTx holds the lock for the whole callback and rolls back by
// restoring a snapshot. That makes it a faithful stand-in for SQLite's
// single-writer semantics, which the ingestion rate guard relies on.
//
// Latency, when set, is slept once per public operation so tests can surface
// ordering bugs that only show up under slow storage.
package repo

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tbourn/go-shelf-backend/internal/domain"
	"github.com/tbourn/go-shelf-backend/internal/search"
	"github.com/tbourn/go-shelf-backend/internal/services"
)

// Memory implements services.Store with process-local maps.
type Memory struct {
	// Latency is an optional simulated delay applied before each operation.
	Latency time.Duration

	mu    sync.Mutex
	items map[domain.ItemID]domain.Item
	users map[domain.UserID]domain.User
	idem  map[string]domain.Idempotency
}

var _ services.Store = (*Memory)(nil)

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[domain.ItemID]domain.Item),
		users: make(map[domain.UserID]domain.User),
		idem:  make(map[string]domain.Idempotency),
	}
}

func (m *Memory) sleep(ctx context.Context) error {
	if m.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.Latency):
		return nil
	}
}

func idemKey(userID domain.UserID, key string) string {
	return string(userID) + "\x00" + key
}

// inScope reports whether id is covered by scope; an empty scope covers all.
func inScope(id domain.UserID, scope []domain.UserID) bool {
	if len(scope) == 0 {
		return true
	}
	for _, s := range scope {
		if s == id {
			return true
		}
	}
	return false
}

// CreateItem implements services.Store.
func (m *Memory) CreateItem(ctx context.Context, item *domain.Item) error {
	if err := m.sleep(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createItemLocked(item)
}

func (m *Memory) createItemLocked(item *domain.Item) error {
	if _, exists := m.items[item.ID]; exists {
		return &domain.ConflictError{Resource: "item", Reason: "duplicate id"}
	}
	m.items[item.ID] = *item
	return nil
}

// GetItem implements services.Store.
func (m *Memory) GetItem(ctx context.Context, userID domain.UserID, id domain.ItemID) (*domain.Item, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getItemLocked(userID, id)
}

func (m *Memory) getItemLocked(userID domain.UserID, id domain.ItemID) (*domain.Item, error) {
	item, ok := m.items[id]
	if !ok || item.UserID != userID {
		return nil, &domain.NotFoundError{Resource: "item", ID: string(id)}
	}
	out := item
	return &out, nil
}

// UpdateItem implements services.Store.
func (m *Memory) UpdateItem(ctx context.Context, item *domain.Item) error {
	if err := m.sleep(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = *item
	return nil
}

// ListItems implements services.Store.
func (m *Memory) ListItems(ctx context.Context, userID domain.UserID, f search.Filter) ([]domain.Item, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listItemsLocked(userID, f), nil
}

func (m *Memory) listItemsLocked(userID domain.UserID, f search.Filter) []domain.Item {
	out := make([]domain.Item, 0)
	for _, item := range m.items {
		if item.UserID != userID {
			continue
		}
		if !matchesFilter(item, f) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].AddedAt.Equal(out[b].AddedAt) {
			return out[a].AddedAt.After(out[b].AddedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// matchesFilter applies the scalar predicates; tags are handled by the
// search engine, mirroring the SQL implementation.
func matchesFilter(item domain.Item, f search.Filter) bool {
	if f.Type != nil && item.Type != *f.Type {
		return false
	}
	if f.Status != nil && item.Status != *f.Status {
		return false
	}
	if f.MinRating != nil && (item.Rating == nil || *item.Rating < *f.MinRating) {
		return false
	}
	if f.PublishedYear != nil && (item.PublishedYear == nil || *item.PublishedYear != *f.PublishedYear) {
		return false
	}
	if f.HasNotes != nil && (item.Notes != "") != *f.HasNotes {
		return false
	}
	if f.ReadFrom != nil && (item.ReadDate == nil || item.ReadDate.Before(*f.ReadFrom)) {
		return false
	}
	if f.ReadTo != nil && (item.ReadDate == nil || item.ReadDate.After(*f.ReadTo)) {
		return false
	}
	return true
}

// CountItemsCreatedSince implements services.Store.
func (m *Memory) CountItemsCreatedSince(ctx context.Context, userID domain.UserID, since time.Time) (int64, error) {
	if err := m.sleep(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countItemsCreatedSinceLocked(userID, since), nil
}

func (m *Memory) countItemsCreatedSinceLocked(userID domain.UserID, since time.Time) int64 {
	var n int64
	for _, item := range m.items {
		if item.UserID == userID && !item.AddedAt.Before(since) {
			n++
		}
	}
	return n
}

// CreateUser implements services.Store.
func (m *Memory) CreateUser(ctx context.Context, user *domain.User) error {
	if err := m.sleep(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return &domain.ConflictError{Resource: "user", Reason: "username already taken"}
		}
	}
	m.users[user.ID] = *user
	return nil
}

// GetUser implements services.Store.
func (m *Memory) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getUserLocked(id)
}

func (m *Memory) getUserLocked(id domain.UserID) (*domain.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "user", ID: string(id)}
	}
	out := user
	return &out, nil
}

// GetUserByUsername implements services.Store.
func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			out := u
			return &out, nil
		}
	}
	return nil, &domain.NotFoundError{Resource: "user", ID: username}
}

// SaveUser implements services.Store.
func (m *Memory) SaveUser(ctx context.Context, user *domain.User) error {
	if err := m.sleep(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = *user
	return nil
}

// UserIDsWithReadBetween implements services.Store.
func (m *Memory) UserIDsWithReadBetween(ctx context.Context, from, to time.Time, scope []domain.UserID) ([]domain.UserID, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[domain.UserID]struct{})
	for _, item := range m.items {
		if item.ReadDate == nil || !inScope(item.UserID, scope) {
			continue
		}
		rd := *item.ReadDate
		if rd.Before(from) || !rd.Before(to) {
			continue
		}
		seen[item.UserID] = struct{}{}
	}
	out := make([]domain.UserID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out, nil
}

// IncrementStreaks implements services.Store.
func (m *Memory) IncrementStreaks(ctx context.Context, userIDs []domain.UserID, today time.Time, now time.Time) ([]services.StreakUpdate, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var updates []services.StreakUpdate
	for _, id := range userIDs {
		user, ok := m.users[id]
		if !ok {
			continue
		}
		if user.Stats.LastReadDate != nil && !user.Stats.LastReadDate.Before(today) {
			continue // already processed today
		}
		user = user.IncrementStreak(today, now)
		m.users[id] = user
		updates = append(updates, services.StreakUpdate{UserID: id, StreakDays: user.Stats.StreakDays})
	}
	return updates, nil
}

// ResetExpiredStreaks implements services.Store.
func (m *Memory) ResetExpiredStreaks(ctx context.Context, readBefore time.Time, now time.Time, scope []domain.UserID) (int64, error) {
	if err := m.sleep(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, user := range m.users {
		if user.Stats.StreakDays == 0 || !inScope(id, scope) {
			continue
		}
		if user.Stats.LastReadDate != nil && !user.Stats.LastReadDate.Before(readBefore) {
			continue
		}
		m.users[id] = user.ResetStreak(now)
		n++
	}
	return n, nil
}

// GetIdempotency implements services.Store.
func (m *Memory) GetIdempotency(ctx context.Context, userID domain.UserID, key string) (*domain.Idempotency, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.idem[idemKey(userID, key)]
	if !ok || time.Now().UTC().After(rec.ExpiresAt) {
		return nil, &domain.NotFoundError{Resource: "idempotency", ID: key}
	}
	out := rec
	return &out, nil
}

// PutIdempotency implements services.Store.
func (m *Memory) PutIdempotency(ctx context.Context, rec *domain.Idempotency) error {
	if err := m.sleep(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := idemKey(rec.UserID, rec.Key)
	if _, exists := m.idem[k]; exists {
		return &domain.ConflictError{Resource: "idempotency", Reason: "key already recorded"}
	}
	m.idem[k] = *rec
	return nil
}

// InTx implements services.Store. The lock is held for the entire callback,
// so concurrent transactions serialize exactly like SQLite writers, and a
// failed callback restores the pre-transaction snapshot.
func (m *Memory) InTx(ctx context.Context, fn func(tx services.Store) error) error {
	if err := m.sleep(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make(map[domain.ItemID]domain.Item, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	users := make(map[domain.UserID]domain.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	idem := make(map[string]domain.Idempotency, len(m.idem))
	for k, v := range m.idem {
		idem[k] = v
	}

	if err := fn(&memTx{m: m}); err != nil {
		m.items, m.users, m.idem = items, users, idem
		return err
	}
	return nil
}

// memTx is the transactional view handed to InTx callbacks. The parent's
// lock is already held, so its methods touch the maps directly.
type memTx struct {
	m *Memory
}

var _ services.Store = (*memTx)(nil)

func (t *memTx) CreateItem(_ context.Context, item *domain.Item) error {
	return t.m.createItemLocked(item)
}

func (t *memTx) GetItem(_ context.Context, userID domain.UserID, id domain.ItemID) (*domain.Item, error) {
	return t.m.getItemLocked(userID, id)
}

func (t *memTx) UpdateItem(_ context.Context, item *domain.Item) error {
	t.m.items[item.ID] = *item
	return nil
}

func (t *memTx) ListItems(_ context.Context, userID domain.UserID, f search.Filter) ([]domain.Item, error) {
	return t.m.listItemsLocked(userID, f), nil
}

func (t *memTx) CountItemsCreatedSince(_ context.Context, userID domain.UserID, since time.Time) (int64, error) {
	return t.m.countItemsCreatedSinceLocked(userID, since), nil
}

func (t *memTx) CreateUser(_ context.Context, user *domain.User) error {
	t.m.users[user.ID] = *user
	return nil
}

func (t *memTx) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	return t.m.getUserLocked(id)
}

func (t *memTx) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	for _, u := range t.m.users {
		if u.Username == username {
			out := u
			return &out, nil
		}
	}
	return nil, &domain.NotFoundError{Resource: "user", ID: username}
}

func (t *memTx) SaveUser(_ context.Context, user *domain.User) error {
	t.m.users[user.ID] = *user
	return nil
}

func (t *memTx) UserIDsWithReadBetween(context.Context, time.Time, time.Time, []domain.UserID) ([]domain.UserID, error) {
	return nil, errors.New("not supported inside a transaction")
}

func (t *memTx) IncrementStreaks(context.Context, []domain.UserID, time.Time, time.Time) ([]services.StreakUpdate, error) {
	return nil, errors.New("not supported inside a transaction")
}

func (t *memTx) ResetExpiredStreaks(context.Context, time.Time, time.Time, []domain.UserID) (int64, error) {
	return 0, errors.New("not supported inside a transaction")
}

func (t *memTx) GetIdempotency(_ context.Context, userID domain.UserID, key string) (*domain.Idempotency, error) {
	rec, ok := t.m.idem[idemKey(userID, key)]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "idempotency", ID: key}
	}
	out := rec
	return &out, nil
}

func (t *memTx) PutIdempotency(_ context.Context, rec *domain.Idempotency) error {
	k := idemKey(rec.UserID, rec.Key)
	if _, exists := t.m.idem[k]; exists {
		return &domain.ConflictError{Resource: "idempotency", Reason: "key already recorded"}
	}
	t.m.idem[k] = *rec
	return nil
}

func (t *memTx) InTx(context.Context, func(tx services.Store) error) error {
	return errors.New("nested transactions not supported")
}
