package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-edge-state/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:flushrepo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestCreateAndListFlushRecords_OrderedByFlushTime(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of order; listing must sort by FlushedAt.
	for i, at := range []time.Time{t0.Add(2 * time.Minute), t0, t0.Add(time.Minute)} {
		rec := &domain.FlushRecord{
			ID:            uuid.NewString(),
			InteractionID: "abc",
			FlushedAt:     at,
			Summary:       fmt.Sprintf("s%d", i),
			Events:        []string{"e"},
		}
		if err := CreateFlushRecord(ctx, db, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	other := &domain.FlushRecord{ID: uuid.NewString(), InteractionID: "xyz", FlushedAt: t0, Summary: "x", Events: []string{"e"}}
	if err := CreateFlushRecord(ctx, db, other); err != nil {
		t.Fatalf("create other: %v", err)
	}

	got, err := ListFlushRecords(ctx, db, "abc")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d; want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].FlushedAt.Before(got[i-1].FlushedAt) {
			t.Fatalf("records not ordered: %v then %v", got[i-1].FlushedAt, got[i].FlushedAt)
		}
	}
}

func TestCreateFlushRecord_Duplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rec := &domain.FlushRecord{ID: "same", InteractionID: "abc", FlushedAt: time.Now().UTC(), Summary: "s", Events: []string{"e"}}
	if err := CreateFlushRecord(ctx, db, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := *rec
	if err := CreateFlushRecord(ctx, db, &dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
}

func TestGetFlushRecord_NotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := GetFlushRecord(context.Background(), db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestFlushRecordsPage_CountAndWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := &domain.FlushRecord{
			ID:            fmt.Sprintf("r%d", i),
			InteractionID: "abc",
			FlushedAt:     t0.Add(time.Duration(i) * time.Minute),
			Summary:       "s",
			Events:        []string{"e"},
		}
		if err := CreateFlushRecord(ctx, db, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	total, err := CountFlushRecords(ctx, db, "abc")
	if err != nil || total != 5 {
		t.Fatalf("count = %d err=%v", total, err)
	}
	if n, _ := CountFlushRecords(ctx, db, "none"); n != 0 {
		t.Fatalf("count(none) = %d", n)
	}

	page, err := ListFlushRecordsPage(ctx, db, "abc", 2, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 2 || page[0].ID != "r2" || page[1].ID != "r3" {
		t.Fatalf("page = %+v", page)
	}
	last, _ := ListFlushRecordsPage(ctx, db, "abc", 4, 2)
	if len(last) != 1 || last[0].ID != "r4" {
		t.Fatalf("last page = %+v", last)
	}
}
