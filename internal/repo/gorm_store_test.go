package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-shelf-backend/internal/domain"
	"github.com/tbourn/go-shelf-backend/internal/search"
	"github.com/tbourn/go-shelf-backend/internal/services"
)

var storeNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newStoreDB(t *testing.T) *Gorm {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("store_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return NewGorm(db)
}

func seedUser(t *testing.T, g *Gorm, username string) *domain.User {
	t.Helper()
	u, err := domain.NewUser(username, domain.VisibilityPublic, storeNow)
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if err := g.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func seedItem(t *testing.T, g *Gorm, userID domain.UserID, title string, addedAt time.Time) *domain.Item {
	t.Helper()
	item, err := domain.NewItem(domain.NewItemInput{
		UserID: userID,
		Type:   domain.TypeBook,
		Title:  title,
	}, addedAt)
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	if err := g.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	return item
}

func TestGorm_GetItem_ScopedToOwner(t *testing.T) {
	g := newStoreDB(t)
	ctx := context.Background()
	u := seedUser(t, g, "alice")
	item := seedItem(t, g, u.ID, "The Go Programming Language", storeNow)

	got, err := g.GetItem(ctx, u.ID, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Title != item.Title {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	// Another user must not be able to see it.
	_, err = g.GetItem(ctx, "someone-else", item.ID)
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for foreign item, got %v", err)
	}
}

func TestGorm_ListItems_AppliesScalarFilters(t *testing.T) {
	g := newStoreDB(t)
	ctx := context.Background()
	u := seedUser(t, g, "alice")

	book := seedItem(t, g, u.ID, "Designing Data-Intensive Applications", storeNow.Add(-time.Hour))
	rated, err := book.WithRating(5, storeNow)
	if err != nil {
		t.Fatalf("WithRating: %v", err)
	}
	if err := g.UpdateItem(ctx, &rated); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	paper, err := domain.NewItem(domain.NewItemInput{
		UserID: u.ID, Type: domain.TypePaper, Title: "Dynamo", Notes: "re-read",
	}, storeNow)
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	if err := g.CreateItem(ctx, paper); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	typ := domain.TypePaper
	out, err := g.ListItems(ctx, u.ID, search.Filter{Type: &typ})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(out) != 1 || out[0].ID != paper.ID {
		t.Fatalf("type filter: %+v", out)
	}

	minRating := 4
	out, err = g.ListItems(ctx, u.ID, search.Filter{MinRating: &minRating})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(out) != 1 || out[0].ID != book.ID {
		t.Fatalf("rating filter: %+v", out)
	}

	hasNotes := true
	out, err = g.ListItems(ctx, u.ID, search.Filter{HasNotes: &hasNotes})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(out) != 1 || out[0].ID != paper.ID {
		t.Fatalf("notes filter: %+v", out)
	}

	// No filter: newest first.
	out, err = g.ListItems(ctx, u.ID, search.Filter{})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(out) != 2 || out[0].ID != paper.ID {
		t.Fatalf("default order: %+v", out)
	}
}

func TestGorm_CountItemsCreatedSince(t *testing.T) {
	g := newStoreDB(t)
	ctx := context.Background()
	u := seedUser(t, g, "alice")

	seedItem(t, g, u.ID, "Old", storeNow.Add(-2*time.Minute))
	seedItem(t, g, u.ID, "Recent A", storeNow.Add(-30*time.Second))
	seedItem(t, g, u.ID, "Recent B", storeNow.Add(-10*time.Second))

	n, err := g.CountItemsCreatedSince(ctx, u.ID, storeNow.Add(-time.Minute))
	if err != nil {
		t.Fatalf("CountItemsCreatedSince: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestGorm_CreateUser_DuplicateUsername(t *testing.T) {
	g := newStoreDB(t)
	seedUser(t, g, "alice")

	dup, err := domain.NewUser("alice", domain.VisibilityPublic, storeNow)
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	err = g.CreateUser(context.Background(), dup)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestGorm_InTx_RollsBackOnError(t *testing.T) {
	g := newStoreDB(t)
	ctx := context.Background()
	u := seedUser(t, g, "alice")

	boom := errors.New("abort")
	err := g.InTx(ctx, func(tx services.Store) error {
		item, ierr := domain.NewItem(domain.NewItemInput{
			UserID: u.ID, Type: domain.TypeBook, Title: "Ghost",
		}, storeNow)
		if ierr != nil {
			return ierr
		}
		if cerr := tx.CreateItem(ctx, item); cerr != nil {
			return cerr
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v", err)
	}

	out, err := g.ListItems(ctx, u.ID, search.Filter{})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("rolled-back item persisted: %+v", out)
	}
}

func TestGorm_StreakQueries(t *testing.T) {
	g := newStoreDB(t)
	ctx := context.Background()

	today := storeNow.Truncate(24 * time.Hour)
	yesterday := today.AddDate(0, 0, -1)

	reader := seedUser(t, g, "reader")
	idle, err := domain.NewUser("idle", domain.VisibilityPublic, storeNow)
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	idle.Stats.StreakDays = 4
	old := yesterday.AddDate(0, 0, -3)
	idle.Stats.LastReadDate = &old
	if err := g.CreateUser(ctx, idle); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	item := seedItem(t, g, reader.ID, "Read Yesterday", yesterday)
	rd := yesterday.Add(10 * time.Hour)
	item.ReadDate = &rd
	if err := g.UpdateItem(ctx, item); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	ids, err := g.UserIDsWithReadBetween(ctx, yesterday, today, nil)
	if err != nil {
		t.Fatalf("UserIDsWithReadBetween: %v", err)
	}
	if len(ids) != 1 || ids[0] != reader.ID {
		t.Fatalf("readers = %v", ids)
	}

	// Scoping to a non-reader must exclude the reader.
	scoped, err := g.UserIDsWithReadBetween(ctx, yesterday, today, []domain.UserID{idle.ID})
	if err != nil {
		t.Fatalf("scoped UserIDsWithReadBetween: %v", err)
	}
	if len(scoped) != 0 {
		t.Fatalf("scoped readers = %v", scoped)
	}

	updates, err := g.IncrementStreaks(ctx, ids, today, storeNow)
	if err != nil {
		t.Fatalf("IncrementStreaks: %v", err)
	}
	if len(updates) != 1 || updates[0].StreakDays != 1 {
		t.Fatalf("updates = %+v", updates)
	}

	// Re-running with the same inputs must be a no-op.
	updates, err = g.IncrementStreaks(ctx, ids, today, storeNow)
	if err != nil {
		t.Fatalf("IncrementStreaks replay: %v", err)
	}
	if len(updates) != 0 {
		t.Fatalf("replay double-incremented: %+v", updates)
	}

	// A reset scoped to the freshly stamped reader touches nobody.
	reset, err := g.ResetExpiredStreaks(ctx, today, storeNow, []domain.UserID{reader.ID})
	if err != nil {
		t.Fatalf("scoped ResetExpiredStreaks: %v", err)
	}
	if reset != 0 {
		t.Fatalf("scoped reset = %d, want 0", reset)
	}

	reset, err = g.ResetExpiredStreaks(ctx, today, storeNow, nil)
	if err != nil {
		t.Fatalf("ResetExpiredStreaks: %v", err)
	}
	if reset != 1 {
		t.Fatalf("reset = %d, want 1", reset)
	}

	gotIdle, err := g.GetUser(ctx, idle.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if gotIdle.Stats.StreakDays != 0 {
		t.Fatalf("idle streak not reset: %d", gotIdle.Stats.StreakDays)
	}
	if gotIdle.Stats.LastReadDate == nil {
		t.Fatalf("reset erased last_read_date")
	}

	gotReader, err := g.GetUser(ctx, reader.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if gotReader.Stats.StreakDays != 1 {
		t.Fatalf("reader streak clobbered by reset: %d", gotReader.Stats.StreakDays)
	}
}

func TestGorm_Idempotency(t *testing.T) {
	g := newStoreDB(t)
	ctx := context.Background()
	u := seedUser(t, g, "alice")
	item := seedItem(t, g, u.ID, "Once", storeNow)

	rec := &domain.Idempotency{
		ID:        "rec-1",
		UserID:    u.ID,
		Key:       "client-key",
		ItemID:    item.ID,
		Status:    201,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := g.PutIdempotency(ctx, rec); err != nil {
		t.Fatalf("PutIdempotency: %v", err)
	}

	got, err := g.GetIdempotency(ctx, u.ID, "client-key")
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	if got.ItemID != item.ID {
		t.Fatalf("replay target = %q", got.ItemID)
	}

	dup := &domain.Idempotency{
		ID: "rec-2", UserID: u.ID, Key: "client-key", ItemID: item.ID,
		Status: 201, ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	var conflict *domain.ConflictError
	if err := g.PutIdempotency(ctx, dup); !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}

	expired := &domain.Idempotency{
		ID: "rec-3", UserID: u.ID, Key: "stale-key", ItemID: item.ID,
		Status: 201, ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := g.PutIdempotency(ctx, expired); err != nil {
		t.Fatalf("PutIdempotency: %v", err)
	}
	var nf *domain.NotFoundError
	if _, err := g.GetIdempotency(ctx, u.ID, "stale-key"); !errors.As(err, &nf) {
		t.Fatalf("expired record served: %v", err)
	}
}
