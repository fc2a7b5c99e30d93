package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"gorm.io/gorm"

	"github.com/tbourn/go-edge-state/internal/domain"
	"github.com/tbourn/go-edge-state/internal/repo"
)

type failSink struct{ err error }

func (f failSink) Append(context.Context, *domain.FlushRecord) error { return f.err }

type countSink struct{ n int }

func (c *countSink) Append(context.Context, *domain.FlushRecord) error {
	c.n++
	return nil
}

func TestMulti_JoinsErrorsAndKeepsGoing(t *testing.T) {
	e1, e2 := errors.New("one"), errors.New("two")
	tail := &countSink{}
	m := Multi{failSink{e1}, failSink{e2}, tail}

	err := m.Append(context.Background(), rec("abc", time.Now(), "s"))
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("err = %v, want both", err)
	}
	if tail.n != 1 {
		t.Fatalf("later sink not called")
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := (Multi{}).Append(context.Background(), rec("abc", time.Now(), "s")); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestRecordsAndMarkdownTogether(t *testing.T) {
	db := newDB(t)
	fs := afero.NewMemMapFs()
	m := Multi{Records{DB: db}, &Markdown{FS: fs, Dir: "out"}}
	ctx := context.Background()

	r := rec("abc", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), "s", "click", "scroll")
	r.ID = uuid.NewString()
	if err := m.Append(ctx, r); err != nil {
		t.Fatalf("append: %v", err)
	}

	rows, err := repo.ListFlushRecords(ctx, db, "abc")
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows=%v err=%v", rows, err)
	}
	if rows[0].EventCount() != 2 || rows[0].Events[1] != "scroll" {
		t.Fatalf("events = %v", rows[0].Events)
	}
	if ok, _ := afero.Exists(fs, "out/abc.md"); !ok {
		t.Fatalf("markdown file missing")
	}

	// Same record again: the DB rejects the duplicate, markdown still appends.
	if err := m.Append(ctx, r); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("duplicate err = %v", err)
	}
}
