// Package catalog owns the ordered index of generated maps.
//
// The index lives in a single JSON file. Every mutation reads the whole file,
// changes it in memory and atomically replaces it while holding the catalog
// mutex, so concurrent mutations never interleave and readers never observe
// a partially written file.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/bizmap/internal/core/model"
	"github.com/mohammed-shakir/bizmap/internal/core/observability"
	"github.com/mohammed-shakir/bizmap/internal/fsutil"
)

const IndexFile = "map_index.json"

// DatasetRemover deletes the dataset of a removed entry.
type DatasetRemover interface {
	Delete(ctx context.Context, id int) error
}

// Notifier is told about committed mutations.
type Notifier interface {
	Created(ctx context.Context, e model.MapEntry)
	TitleUpdated(ctx context.Context, e model.MapEntry)
	Deleted(ctx context.Context, e model.MapEntry)
}

// CommitFunc runs inside the mutation lock after an id is assigned and before
// the catalog is persisted. Returning an error aborts the insert.
type CommitFunc func(ctx context.Context, id int) error

type Options struct {
	Logger   *slog.Logger
	Datasets DatasetRemover
	Notifier Notifier
	Now      func() time.Time
}

type Catalog struct {
	path     string
	log      *slog.Logger
	datasets DatasetRemover
	notify   Notifier
	now      func() time.Time

	mu sync.Mutex
}

func New(dir string, opts Options) (*Catalog, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("catalog: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("catalog: create %s: %w", dir, err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	return &Catalog{
		path:     filepath.Join(dir, IndexFile),
		log:      opts.Logger,
		datasets: opts.Datasets,
		notify:   opts.Notifier,
		now:      opts.Now,
	}, nil
}

func (c *Catalog) Path() string { return c.path }

func (c *Catalog) load() ([]model.MapEntry, error) {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.MapEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w: %w", model.ErrCatalogUnavailable, err)
	}
	var entries []model.MapEntry
	if len(strings.TrimSpace(string(b))) > 0 {
		if err := json.Unmarshal(b, &entries); err != nil {
			return nil, fmt.Errorf("decode catalog: %w: %w", model.ErrCatalogUnavailable, err)
		}
	}
	if entries == nil {
		entries = []model.MapEntry{}
	}
	return entries, nil
}

func (c *Catalog) store(entries []model.MapEntry) error {
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w: %w", model.ErrCatalogUnavailable, err)
	}
	if err := fsutil.WriteFileAtomic(c.path, b, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w: %w", model.ErrCatalogUnavailable, err)
	}
	observability.SetCatalogEntries(len(entries))
	return nil
}

func indexOf(entries []model.MapEntry, id int) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}

func nextID(entries []model.MapEntry) int {
	next := 0
	for _, e := range entries {
		if e.ID >= next {
			next = e.ID + 1
		}
	}
	return next
}

// List returns every entry in insertion order.
func (c *Catalog) List(ctx context.Context) ([]model.MapEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := c.load()
	observability.ObserveCatalogOp("list", err)
	return entries, err
}

func (c *Catalog) Get(ctx context.Context, id int) (model.MapEntry, error) {
	if err := ctx.Err(); err != nil {
		return model.MapEntry{}, err
	}
	entries, err := c.load()
	if err != nil {
		observability.ObserveCatalogOp("get", err)
		return model.MapEntry{}, err
	}
	i := indexOf(entries, id)
	if i < 0 {
		return model.MapEntry{}, fmt.Errorf("map %d: %w", id, model.ErrNotFound)
	}
	observability.ObserveCatalogOp("get", nil)
	return entries[i], nil
}

// Insert assigns the next id (max existing id + 1, or 0), runs commit and
// appends e. The ID field of e is ignored.
func (c *Catalog) Insert(ctx context.Context, e model.MapEntry, commit CommitFunc) (model.MapEntry, error) {
	if err := ctx.Err(); err != nil {
		return model.MapEntry{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load()
	if err != nil {
		observability.ObserveCatalogOp("insert", err)
		return model.MapEntry{}, err
	}

	e.ID = nextID(entries)
	now := c.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	if e.BusinessTypes == nil {
		e.BusinessTypes = []string{}
	}

	if commit != nil {
		if err := commit(ctx, e.ID); err != nil {
			observability.ObserveCatalogOp("insert", err)
			return model.MapEntry{}, fmt.Errorf("commit map %d: %w", e.ID, err)
		}
	}

	if err := c.store(append(entries, e)); err != nil {
		observability.ObserveCatalogOp("insert", err)
		return model.MapEntry{}, err
	}
	observability.ObserveCatalogOp("insert", nil)

	c.log.InfoContext(ctx, "catalog entry created", "map_id", e.ID, "title", e.Title)
	c.notify.Created(ctx, e)
	return e, nil
}

func (c *Catalog) UpdateTitle(ctx context.Context, id int, title string) (model.MapEntry, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.MapEntry{}, fmt.Errorf("new title is required: %w", model.ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return model.MapEntry{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load()
	if err != nil {
		observability.ObserveCatalogOp("update_title", err)
		return model.MapEntry{}, err
	}
	i := indexOf(entries, id)
	if i < 0 {
		return model.MapEntry{}, fmt.Errorf("map %d: %w", id, model.ErrNotFound)
	}

	entries[i].Title = title
	entries[i].UpdatedAt = c.now().UTC()
	if err := c.store(entries); err != nil {
		observability.ObserveCatalogOp("update_title", err)
		return model.MapEntry{}, err
	}
	observability.ObserveCatalogOp("update_title", nil)

	c.notify.TitleUpdated(ctx, entries[i])
	return entries[i], nil
}

// Delete removes the entry and then its dataset. A dataset that cannot be
// removed is logged and left behind as an orphan.
func (c *Catalog) Delete(ctx context.Context, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load()
	if err != nil {
		observability.ObserveCatalogOp("delete", err)
		return err
	}
	i := indexOf(entries, id)
	if i < 0 {
		return fmt.Errorf("map %d: %w", id, model.ErrNotFound)
	}
	removed := entries[i]

	rest := make([]model.MapEntry, 0, len(entries)-1)
	rest = append(rest, entries[:i]...)
	rest = append(rest, entries[i+1:]...)
	if err := c.store(rest); err != nil {
		observability.ObserveCatalogOp("delete", err)
		return err
	}
	observability.ObserveCatalogOp("delete", nil)

	if c.datasets != nil {
		// the catalog change is already committed; a cancelled request must
		// not skip cleanup
		if err := c.datasets.Delete(context.WithoutCancel(ctx), id); err != nil {
			observability.IncOrphanCleanupFailure()
			c.log.WarnContext(ctx, "orphan cleanup failed", "map_id", id, "err", err)
		}
	}

	c.log.InfoContext(ctx, "catalog entry deleted", "map_id", id)
	c.notify.Deleted(ctx, removed)
	return nil
}

// IDs returns the ids currently in the catalog.
func (c *Catalog) IDs(ctx context.Context) ([]int, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}

type nopNotifier struct{}

func (nopNotifier) Created(context.Context, model.MapEntry)      {}
func (nopNotifier) TitleUpdated(context.Context, model.MapEntry) {}
func (nopNotifier) Deleted(context.Context, model.MapEntry)      {}
