package datasetcache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/bizmap/internal/cache/keys"
	"github.com/mohammed-shakir/bizmap/internal/cache/redisstore"
	"github.com/mohammed-shakir/bizmap/internal/core/model"
	"github.com/mohammed-shakir/bizmap/internal/datastore"
)

func newMini(t *testing.T) (*redisstore.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, mr.Addr(), redisstore.Options{})
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	return cli, mr
}

func newStore(t *testing.T, opts Options) *Store {
	t.Helper()
	fs, err := datastore.New(t.TempDir())
	if err != nil {
		t.Fatalf("datastore.New: %v", err)
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(fs, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

var recs = []model.MapRecord{
	{Name: "A", Coordinates: model.LatLng{Lat: 47.6, Lng: -122.3}, Type: "Pizza"},
}

func TestReadThrough_FillsBothTiers(t *testing.T) {
	cli, mr := newMini(t)
	s := newStore(t, Options{LRUSize: 8, Remote: cli, TTL: 2 * time.Minute})
	ctx := context.Background()

	if err := s.Write(ctx, 1, recs); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(ctx, 1)
	if err != nil || len(got) != 1 || got[0].Name != "A" {
		t.Fatalf("Read: %+v err=%v", got, err)
	}

	k := keys.Dataset("", 1)
	if !mr.Exists(k) {
		t.Fatalf("redis tier not filled for %s", k)
	}
	if ttl := mr.TTL(k); ttl <= 0 || ttl > 2*time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	// served from the LRU even when the file disappears behind the cache's back
	if err := os.Remove(s.Path(1)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.ReadRaw(ctx, 1); err != nil {
		t.Fatalf("expected LRU hit, got %v", err)
	}
}

func TestRemoteHit_WithoutFile(t *testing.T) {
	cli, mr := newMini(t)
	s := newStore(t, Options{LRUSize: 8, Remote: cli})

	if err := mr.Set(keys.Dataset("", 7), `[{"n":"Remote","a":"","p":"","w":"","c":[1,2],"t":"Parks"}]`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := s.Read(context.Background(), 7)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Remote" {
		t.Fatalf("unexpected records: %+v", got)
	}
}

func TestDeleteAndPromote_Invalidate(t *testing.T) {
	cli, mr := newMini(t)
	s := newStore(t, Options{LRUSize: 8, Remote: cli})
	ctx := context.Background()

	if err := s.Write(ctx, 2, recs); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := s.Read(ctx, 2); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := s.Delete(ctx, 2); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mr.Exists(keys.Dataset("", 2)) {
		t.Fatalf("redis entry must be dropped on delete")
	}
	if _, err := s.Read(ctx, 2); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// id reuse: a new dataset promoted under the same id must be visible
	slot, err := s.Stage(ctx, []model.MapRecord{{Name: "New", Type: "Parks"}})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := s.Promote(ctx, slot, 2); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	got, err := s.Read(ctx, 2)
	if err != nil || got[0].Name != "New" {
		t.Fatalf("expected promoted dataset, got %+v err=%v", got, err)
	}
}

func TestRemoteDown_FallsBackToFiles(t *testing.T) {
	cli, mr := newMini(t)
	s := newStore(t, Options{LRUSize: 0, Remote: cli, OpTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	if err := s.Store.Write(ctx, 3, recs); err != nil {
		t.Fatalf("Write: %v", err)
	}
	mr.Close()

	got, err := s.Read(ctx, 3)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected file fallback, got %+v err=%v", got, err)
	}
	if err := s.Delete(ctx, 3); err != nil {
		t.Fatalf("Delete must ignore remote failures: %v", err)
	}
}

func TestStaleFillIsDropped(t *testing.T) {
	s := newStore(t, Options{LRUSize: 8})
	ctx := context.Background()

	gen := s.generation(4)
	s.Invalidate(ctx, 4)
	s.fill(ctx, 4, gen, []byte(`[]`), false)

	if _, ok := s.local.Get(4); ok {
		t.Fatalf("fill with an outdated generation must not populate the LRU")
	}
}

// racingRemote runs beforeSet once, just ahead of the first Set.
type racingRemote struct {
	Remote
	beforeSet func()
}

func (r *racingRemote) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if f := r.beforeSet; f != nil {
		r.beforeSet = nil
		f()
	}
	return r.Remote.Set(ctx, key, val, ttl)
}

func TestStaleFillIsDropped_RemoteTier(t *testing.T) {
	cli, mr := newMini(t)
	remote := &racingRemote{Remote: cli}
	s := newStore(t, Options{LRUSize: 8, Remote: remote})
	ctx := context.Background()

	old := []model.MapRecord{{Name: "OLD", Coordinates: model.LatLng{Lat: 1, Lng: 2}, Type: "Parks"}}
	fresh := []model.MapRecord{{Name: "NEW", Coordinates: model.LatLng{Lat: 1, Lng: 2}, Type: "Parks"}}
	if err := s.Store.Write(ctx, 5, old); err != nil {
		t.Fatalf("seed: %v", err)
	}
	remote.beforeSet = func() {
		if err := s.Write(ctx, 5, fresh); err != nil {
			t.Errorf("rewrite: %v", err)
		}
	}

	if _, err := s.Read(ctx, 5); err != nil {
		t.Fatalf("first Read: %v", err)
	}
	if mr.Exists(keys.Dataset("", 5)) {
		t.Fatalf("stale body left in redis after a racing rewrite")
	}
	for i := range 2 {
		got, err := s.Read(ctx, 5)
		if err != nil {
			t.Fatalf("Read #%d: %v", i, err)
		}
		if len(got) != 1 || got[0].Name != "NEW" {
			t.Fatalf("Read #%d = %+v, want the rewritten dataset", i, got)
		}
	}
}
