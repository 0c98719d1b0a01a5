package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/bizmap/internal/core/model"
)

type fakeRemover struct {
	mu      sync.Mutex
	deleted []int
	err     error
}

func (f *fakeRemover) Delete(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.err
}

type recordingNotifier struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingNotifier) add(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *recordingNotifier) Created(context.Context, model.MapEntry)      { r.add("created") }
func (r *recordingNotifier) TitleUpdated(context.Context, model.MapEntry) { r.add("title_updated") }
func (r *recordingNotifier) Deleted(context.Context, model.MapEntry)      { r.add("deleted") }

func newCatalog(t *testing.T, opts Options) (*Catalog, string) {
	t.Helper()
	dir := t.TempDir()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(dir, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, dir
}

func entry(title string) model.MapEntry {
	return model.MapEntry{
		Title:         title,
		City:          "Seattle",
		State:         "WA",
		BusinessTypes: []string{"CoffeeAndTea"},
		Location:      model.LatLng{Lat: 47.6, Lng: -122.3},
		Bounds:        model.Bounds{South: 47.5, West: -122.4, North: 47.7, East: -122.2},
	}
}

func mustInsert(t *testing.T, c *Catalog, title string) model.MapEntry {
	t.Helper()
	e, err := c.Insert(context.Background(), entry(title), nil)
	if err != nil {
		t.Fatalf("Insert %q: %v", title, err)
	}
	return e
}

func TestList_MissingFileIsEmpty(t *testing.T) {
	c, _ := newCatalog(t, Options{})
	got, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", got)
	}
}

func TestList_CorruptFileIsUnavailable(t *testing.T) {
	c, dir := newCatalog(t, Options{})
	if err := os.WriteFile(filepath.Join(dir, IndexFile), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := c.List(context.Background()); !errors.Is(err, model.ErrCatalogUnavailable) {
		t.Fatalf("err=%v want ErrCatalogUnavailable", err)
	}
	if _, err := c.Insert(context.Background(), entry("x"), nil); !errors.Is(err, model.ErrCatalogUnavailable) {
		t.Fatalf("insert err=%v want ErrCatalogUnavailable", err)
	}
}

func TestInsert_AssignsMaxPlusOne(t *testing.T) {
	c, _ := newCatalog(t, Options{})
	ctx := context.Background()

	if e := mustInsert(t, c, "first"); e.ID != 0 {
		t.Fatalf("first id=%d want 0", e.ID)
	}
	mustInsert(t, c, "second")
	mustInsert(t, c, "third")
	if err := c.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if e := mustInsert(t, c, "fourth"); e.ID != 3 {
		t.Fatalf("id=%d want 3", e.ID)
	}
	if err := c.Delete(ctx, 3); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// the highest id is free again, so it is reused
	if e := mustInsert(t, c, "fifth"); e.ID != 3 {
		t.Fatalf("id=%d want 3", e.ID)
	}
}

func TestInsert_SetsTimestampsAndIgnoresCallerID(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c, _ := newCatalog(t, Options{Now: func() time.Time { return now }})

	in := entry("t")
	in.ID = 42
	e, err := c.Insert(context.Background(), in, nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if e.ID != 0 {
		t.Fatalf("id=%d want 0", e.ID)
	}
	if !e.CreatedAt.Equal(now) || !e.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps %v/%v want %v", e.CreatedAt, e.UpdatedAt, now)
	}
}

func TestInsert_CommitFailureLeavesNoEntry(t *testing.T) {
	c, _ := newCatalog(t, Options{})
	ctx := context.Background()
	boom := errors.New("rename failed")

	seen := -1
	_, err := c.Insert(ctx, entry("x"), func(_ context.Context, id int) error {
		seen = id
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
	if seen != 0 {
		t.Fatalf("commit saw id %d want 0", seen)
	}
	got, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("catalog must stay empty, got %+v", got)
	}
}

func TestInsert_ConcurrentIDsAreUnique(t *testing.T) {
	c, _ := newCatalog(t, Options{})
	const n = 16

	var wg sync.WaitGroup
	ids := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := c.Insert(context.Background(), entry("c"), nil)
			ids[i], errs[i] = e.ID, err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	sort.Ints(ids)
	for i, id := range ids {
		if id != i {
			t.Fatalf("ids=%v want 0..%d", ids, n-1)
		}
	}
	got, _ := c.List(context.Background())
	if len(got) != n {
		t.Fatalf("len=%d want %d", len(got), n)
	}
}

func TestUpdateTitle_OnlyTouchesTitle(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c, _ := newCatalog(t, Options{Now: func() time.Time { return clock }})
	ctx := context.Background()

	before := mustInsert(t, c, "old")
	clock = clock.Add(time.Hour)

	after, err := c.UpdateTitle(ctx, before.ID, "  new  ")
	if err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}
	if after.Title != "new" {
		t.Fatalf("title=%q want new", after.Title)
	}
	if !after.UpdatedAt.Equal(clock) || !after.CreatedAt.Equal(before.CreatedAt) {
		t.Fatalf("timestamps created=%v updated=%v", after.CreatedAt, after.UpdatedAt)
	}
	if after.City != before.City || after.Bounds != before.Bounds || after.Location != before.Location {
		t.Fatalf("non-title fields changed: %+v", after)
	}

	stored, err := c.Get(ctx, before.ID)
	if err != nil || stored.Title != "new" {
		t.Fatalf("Get: %+v err=%v", stored, err)
	}
}

func TestUpdateTitle_Errors(t *testing.T) {
	c, _ := newCatalog(t, Options{})
	ctx := context.Background()
	mustInsert(t, c, "a")

	if _, err := c.UpdateTitle(ctx, 0, "   "); !errors.Is(err, model.ErrInvalidRequest) {
		t.Fatalf("blank title err=%v", err)
	}
	if _, err := c.UpdateTitle(ctx, 9, "x"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing id err=%v", err)
	}
}

func TestDelete_PreservesOrderAndRemovesDataset(t *testing.T) {
	rm := &fakeRemover{}
	c, _ := newCatalog(t, Options{Datasets: rm})
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c", "d"} {
		mustInsert(t, c, title)
	}
	if err := c.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, _ := c.List(ctx)
	var titles []string
	for _, e := range got {
		titles = append(titles, e.Title)
	}
	if len(titles) != 3 || titles[0] != "a" || titles[1] != "c" || titles[2] != "d" {
		t.Fatalf("titles=%v want [a c d]", titles)
	}
	if len(rm.deleted) != 1 || rm.deleted[0] != 1 {
		t.Fatalf("dataset removals=%v want [1]", rm.deleted)
	}
}

func TestDelete_MissingIsNotFound(t *testing.T) {
	rm := &fakeRemover{}
	c, _ := newCatalog(t, Options{Datasets: rm})
	ctx := context.Background()

	if err := c.Delete(ctx, 0); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
	if _, err := os.Stat(c.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("empty catalog must not be written on a failed delete, stat err=%v", err)
	}

	mustInsert(t, c, "a")
	mustInsert(t, c, "b")
	before, err := os.ReadFile(c.Path())
	if err != nil {
		t.Fatalf("read catalog: %v", err)
	}
	info, err := os.Stat(c.Path())
	if err != nil {
		t.Fatalf("stat catalog: %v", err)
	}

	if err := c.Delete(ctx, 7); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
	after, err := os.ReadFile(c.Path())
	if err != nil {
		t.Fatalf("read catalog: %v", err)
	}
	if string(after) != string(before) {
		t.Fatalf("catalog rewritten:\nbefore %s\nafter  %s", before, after)
	}
	if info2, err := os.Stat(c.Path()); err != nil || !info2.ModTime().Equal(info.ModTime()) {
		t.Fatalf("catalog file touched by a failed delete (err=%v)", err)
	}
	got, err := c.List(ctx)
	if err != nil || len(got) != 2 {
		t.Fatalf("List=%v err=%v, want both entries", got, err)
	}
	if len(rm.deleted) != 0 {
		t.Fatalf("no dataset removal expected, got %v", rm.deleted)
	}
}

func TestDelete_CleanupFailureIsNotSurfaced(t *testing.T) {
	rm := &fakeRemover{err: errors.New("permission denied")}
	c, _ := newCatalog(t, Options{Datasets: rm})
	ctx := context.Background()
	mustInsert(t, c, "a")

	if err := c.Delete(ctx, 0); err != nil {
		t.Fatalf("Delete must succeed despite cleanup failure: %v", err)
	}
	if _, err := c.Get(ctx, 0); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("entry should be gone, err=%v", err)
	}
}

func TestNotifier_SeesCommittedMutations(t *testing.T) {
	n := &recordingNotifier{}
	c, _ := newCatalog(t, Options{Notifier: n})
	ctx := context.Background()

	e := mustInsert(t, c, "a")
	if _, err := c.UpdateTitle(ctx, e.ID, "b"); err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}
	if err := c.Delete(ctx, e.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, _ = c.Insert(ctx, entry("x"), func(context.Context, int) error { return errors.New("no") })

	want := []string{"created", "title_updated", "deleted"}
	if len(n.ops) != len(want) {
		t.Fatalf("ops=%v want %v", n.ops, want)
	}
	for i := range want {
		if n.ops[i] != want[i] {
			t.Fatalf("ops=%v want %v", n.ops, want)
		}
	}
}

func TestCatalogFile_IsPrettyJSONArray(t *testing.T) {
	c, _ := newCatalog(t, Options{})
	mustInsert(t, c, "a")

	b, err := os.ReadFile(c.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(b) == 0 || b[0] != '[' {
		t.Fatalf("catalog file must be a JSON array, got %q", b)
	}
}
