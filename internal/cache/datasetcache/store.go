// Package datasetcache puts an in-process LRU and an optional Redis tier in
// front of the dataset file store.
package datasetcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/bizmap/internal/cache/keys"
	"github.com/mohammed-shakir/bizmap/internal/core/model"
	"github.com/mohammed-shakir/bizmap/internal/core/observability"
	"github.com/mohammed-shakir/bizmap/internal/datastore"
)

// Remote is the shared tier; *redisstore.Client satisfies it.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type Options struct {
	LRUSize   int
	Remote    Remote
	TTL       time.Duration
	OpTimeout time.Duration
	Namespace string
	Logger    *slog.Logger
}

// Store embeds the file store, so staging and listing pass straight through.
// Byte slices returned by ReadRaw are shared with the cache and must not be
// modified.
type Store struct {
	*datastore.Store

	local     *lru.Cache[int, []byte]
	remote    Remote
	ttl       time.Duration
	opTimeout time.Duration
	ns        string
	log       *slog.Logger

	// bumped on every invalidation so a slow reader cannot refill a stale body
	genMu sync.Mutex
	gen   map[int]uint64
}

func New(inner *datastore.Store, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	s := &Store{
		Store:     inner,
		remote:    opts.Remote,
		ttl:       opts.TTL,
		opTimeout: opts.OpTimeout,
		ns:        opts.Namespace,
		log:       opts.Logger,
		gen:       map[int]uint64{},
	}
	if opts.LRUSize > 0 {
		c, err := lru.New[int, []byte](opts.LRUSize)
		if err != nil {
			return nil, fmt.Errorf("datasetcache: lru: %w", err)
		}
		s.local = c
	}
	return s, nil
}

// returns context with timeout if set
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) generation(id int) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gen[id]
}

func (s *Store) fill(ctx context.Context, id int, gen uint64, body []byte, toRemote bool) {
	s.genMu.Lock()
	if s.gen[id] != gen {
		s.genMu.Unlock()
		return
	}
	if s.local != nil {
		s.local.Add(id, body)
	}
	s.genMu.Unlock()

	if !toRemote || s.remote == nil {
		return
	}
	key := keys.Dataset(s.ns, id)
	rctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.remote.Set(rctx, key, body, s.ttl); err != nil {
		s.log.WarnContext(ctx, "dataset cache fill failed", "map_id", id, "err", err)
		return
	}
	// an invalidation that raced the Set may have deleted the key before the
	// stale body landed; any later one deletes after it
	if s.generation(id) != gen {
		if err := s.remote.Del(rctx, key); err != nil {
			s.log.WarnContext(ctx, "dataset cache stale fill not removed", "map_id", id, "err", err)
		}
	}
}

func (s *Store) ReadRaw(ctx context.Context, id int) ([]byte, error) {
	if s.local != nil {
		if b, ok := s.local.Get(id); ok {
			observability.IncDatasetCacheHit("lru")
			return b, nil
		}
		observability.IncDatasetCacheMiss("lru")
	}

	gen := s.generation(id)

	if s.remote != nil {
		rctx, cancel := s.withTimeout(ctx)
		b, ok, err := s.remote.Get(rctx, keys.Dataset(s.ns, id))
		cancel()
		switch {
		case err != nil:
			s.log.WarnContext(ctx, "dataset cache read failed; using file store", "map_id", id, "err", err)
		case ok:
			observability.IncDatasetCacheHit("redis")
			s.fill(ctx, id, gen, b, false)
			return b, nil
		default:
			observability.IncDatasetCacheMiss("redis")
		}
	}

	b, err := s.Store.ReadRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, id, gen, b, true)
	return b, nil
}

func (s *Store) Read(ctx context.Context, id int) ([]model.MapRecord, error) {
	b, err := s.ReadRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	recs, err := datastore.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("dataset %d: %w", id, err)
	}
	return recs, nil
}

func (s *Store) Write(ctx context.Context, id int, recs []model.MapRecord) error {
	err := s.Store.Write(ctx, id, recs)
	s.Invalidate(ctx, id)
	return err
}

func (s *Store) Promote(ctx context.Context, slot datastore.Slot, id int) error {
	err := s.Store.Promote(ctx, slot, id)
	s.Invalidate(ctx, id)
	return err
}

func (s *Store) Delete(ctx context.Context, id int) error {
	err := s.Store.Delete(ctx, id)
	s.Invalidate(ctx, id)
	return err
}

// Invalidate drops id from both tiers. Remote failures are logged only; the
// remote entry then expires with its TTL.
func (s *Store) Invalidate(ctx context.Context, id int) {
	s.genMu.Lock()
	s.gen[id]++
	if s.local != nil {
		s.local.Remove(id)
	}
	s.genMu.Unlock()

	if s.remote == nil {
		return
	}
	rctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.remote.Del(rctx, keys.Dataset(s.ns, id)); err != nil {
		s.log.WarnContext(ctx, "dataset cache invalidation failed", "map_id", id, "err", err)
	}
}
