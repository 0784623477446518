package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-shelf-backend/internal/domain"
	"github.com/tbourn/go-shelf-backend/internal/search"
	"github.com/tbourn/go-shelf-backend/internal/services"
)

func memSeedUser(t *testing.T, m *Memory, username string) *domain.User {
	t.Helper()
	u, err := domain.NewUser(username, domain.VisibilityPublic, storeNow)
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if err := m.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestMemory_ItemLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	u := memSeedUser(t, m, "alice")

	item, err := domain.NewItem(domain.NewItemInput{
		UserID: u.ID, Type: domain.TypeBook, Title: "Go in Action",
	}, storeNow)
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	if err := m.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	got, err := m.GetItem(ctx, u.ID, item.ID)
	if err != nil || got.Title != "Go in Action" {
		t.Fatalf("GetItem = %+v, %v", got, err)
	}

	var nf *domain.NotFoundError
	if _, err := m.GetItem(ctx, "stranger", item.ID); !errors.As(err, &nf) {
		t.Fatalf("foreign item visible: %v", err)
	}

	out, err := m.ListItems(ctx, u.ID, search.Filter{})
	if err != nil || len(out) != 1 {
		t.Fatalf("ListItems = %v, %v", out, err)
	}
}

func TestMemory_ListItems_OrderAndFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	u := memSeedUser(t, m, "alice")

	for i, title := range []string{"first", "second", "third"} {
		item, err := domain.NewItem(domain.NewItemInput{
			UserID: u.ID, Type: domain.TypeBook, Title: title,
		}, storeNow.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("NewItem: %v", err)
		}
		if err := m.CreateItem(ctx, item); err != nil {
			t.Fatalf("CreateItem: %v", err)
		}
	}

	out, err := m.ListItems(ctx, u.ID, search.Filter{})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(out) != 3 || out[0].Title != "third" || out[2].Title != "first" {
		t.Fatalf("order wrong: %+v", out)
	}

	status := domain.StatusRead
	filtered, err := m.ListItems(ctx, u.ID, search.Filter{Status: &status})
	if err != nil || len(filtered) != 0 {
		t.Fatalf("status filter: %v, %v", filtered, err)
	}
}

func TestMemory_InTx_RollsBackOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	u := memSeedUser(t, m, "alice")

	boom := errors.New("abort")
	err := m.InTx(ctx, func(tx services.Store) error {
		item, ierr := domain.NewItem(domain.NewItemInput{
			UserID: u.ID, Type: domain.TypeBook, Title: "Ghost",
		}, storeNow)
		if ierr != nil {
			return ierr
		}
		if cerr := tx.CreateItem(ctx, item); cerr != nil {
			return cerr
		}
		updated := u.WithItemAdded(domain.TypeBook, storeNow)
		if serr := tx.SaveUser(ctx, &updated); serr != nil {
			return serr
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v", err)
	}

	out, _ := m.ListItems(ctx, u.ID, search.Filter{})
	if len(out) != 0 {
		t.Fatalf("rolled-back item persisted: %+v", out)
	}
	got, _ := m.GetUser(ctx, u.ID)
	if got.Stats.TotalItems != 0 {
		t.Fatalf("rolled-back counter persisted: %d", got.Stats.TotalItems)
	}
}

func TestMemory_InTx_SerializesWriters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	u := memSeedUser(t, m, "alice")

	// 20 concurrent transactions each admit only while the count guard
	// holds; exactly max items may land.
	const max = 10
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.InTx(ctx, func(tx services.Store) error {
				n, err := tx.CountItemsCreatedSince(ctx, u.ID, storeNow.Add(-time.Minute))
				if err != nil {
					return err
				}
				if n >= max {
					return errors.New("over limit")
				}
				item, err := domain.NewItem(domain.NewItemInput{
					UserID: u.ID, Type: domain.TypeBook, Title: "Burst",
				}, storeNow)
				if err != nil {
					return err
				}
				return tx.CreateItem(ctx, item)
			})
		}()
	}
	wg.Wait()

	out, err := m.ListItems(ctx, u.ID, search.Filter{})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(out) != max {
		t.Fatalf("admitted %d items, want exactly %d", len(out), max)
	}
}

func TestMemory_StreakQueries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	today := storeNow.Truncate(24 * time.Hour)
	yesterday := today.AddDate(0, 0, -1)

	reader := memSeedUser(t, m, "reader")
	item, err := domain.NewItem(domain.NewItemInput{
		UserID: reader.ID, Type: domain.TypeBook, Title: "Read Yesterday",
	}, yesterday)
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	rd := yesterday.Add(10 * time.Hour)
	item.ReadDate = &rd
	if err := m.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	ids, err := m.UserIDsWithReadBetween(ctx, yesterday, today, nil)
	if err != nil || len(ids) != 1 || ids[0] != reader.ID {
		t.Fatalf("readers = %v, %v", ids, err)
	}

	scoped, err := m.UserIDsWithReadBetween(ctx, yesterday, today, []domain.UserID{"someone-else"})
	if err != nil || len(scoped) != 0 {
		t.Fatalf("scoped readers = %v, %v", scoped, err)
	}

	updates, err := m.IncrementStreaks(ctx, ids, today, storeNow)
	if err != nil || len(updates) != 1 || updates[0].StreakDays != 1 {
		t.Fatalf("updates = %+v, %v", updates, err)
	}

	// Idempotent: same day, no double increment.
	updates, err = m.IncrementStreaks(ctx, ids, today, storeNow)
	if err != nil || len(updates) != 0 {
		t.Fatalf("replay = %+v, %v", updates, err)
	}

	// The freshly stamped reader must survive the reset pass.
	if _, err := m.ResetExpiredStreaks(ctx, today, storeNow, nil); err != nil {
		t.Fatalf("ResetExpiredStreaks: %v", err)
	}
	got, _ := m.GetUser(ctx, reader.ID)
	if got.Stats.StreakDays != 1 {
		t.Fatalf("streak = %d, want 1", got.Stats.StreakDays)
	}
}

func TestMemory_IdempotencyExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := &domain.Idempotency{
		ID: "r1", UserID: "u1", Key: "k", ItemID: "i1",
		Status: 201, ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	if err := m.PutIdempotency(ctx, rec); err != nil {
		t.Fatalf("PutIdempotency: %v", err)
	}
	var nf *domain.NotFoundError
	if _, err := m.GetIdempotency(ctx, "u1", "k"); !errors.As(err, &nf) {
		t.Fatalf("expired record served: %v", err)
	}
}
