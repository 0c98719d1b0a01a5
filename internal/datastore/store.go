// Package datastore keeps one dataset file per map id.
package datastore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/bizmap/internal/core/model"
	"github.com/mohammed-shakir/bizmap/internal/fsutil"
)

const (
	stagingDir = ".staging"
	fileExt    = ".json"
	filePerm   = 0o644
)

// Slot is a dataset written before its map id is known.
type Slot struct {
	path string
}

func (s Slot) Path() string { return s.path }

type Store struct {
	dir     string
	staging string
	now     func() time.Time
}

func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("datastore: dir is required")
	}
	staging := filepath.Join(dir, stagingDir)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("datastore: create %s: %w", staging, err)
	}
	return &Store{dir: dir, staging: staging, now: time.Now}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Path(id int) string {
	return filepath.Join(s.dir, strconv.Itoa(id)+fileExt)
}

func encode(recs []model.MapRecord) ([]byte, error) {
	if recs == nil {
		recs = []model.MapRecord{}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	return b, nil
}

// Decode parses a dataset file body.
func Decode(b []byte) ([]model.MapRecord, error) {
	var recs []model.MapRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	if recs == nil {
		recs = []model.MapRecord{}
	}
	return recs, nil
}

// Write creates or overwrites the dataset for id.
func (s *Store) Write(ctx context.Context, id int, recs []model.MapRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encode(recs)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.Path(id), b, filePerm); err != nil {
		return fmt.Errorf("write dataset %d: %w", id, err)
	}
	return nil
}

// ReadRaw returns the stored bytes for id.
func (s *Store) ReadRaw(ctx context.Context, id int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("dataset %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset %d: %w", id, err)
	}
	return b, nil
}

func (s *Store) Read(ctx context.Context, id int) ([]model.MapRecord, error) {
	b, err := s.ReadRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	recs, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("dataset %d: %w", id, err)
	}
	return recs, nil
}

// Delete removes the dataset for id. A missing file is not an error.
func (s *Store) Delete(_ context.Context, id int) error {
	err := os.Remove(s.Path(id))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("delete dataset %d: %w", id, err)
}

// Stage writes recs into a fresh slot.
func (s *Store) Stage(ctx context.Context, recs []model.MapRecord) (Slot, error) {
	if err := ctx.Err(); err != nil {
		return Slot{}, err
	}
	b, err := encode(recs)
	if err != nil {
		return Slot{}, err
	}
	var rnd [8]byte
	_, _ = rand.Read(rnd[:])
	p := filepath.Join(s.staging, hex.EncodeToString(rnd[:])+fileExt)
	if err := fsutil.WriteFileAtomic(p, b, filePerm); err != nil {
		return Slot{}, fmt.Errorf("stage dataset: %w", err)
	}
	return Slot{path: p}, nil
}

// Promote moves a staged dataset to its final id.
func (s *Store) Promote(_ context.Context, slot Slot, id int) error {
	if slot.path == "" {
		return errors.New("promote: empty slot")
	}
	if err := os.Rename(slot.path, s.Path(id)); err != nil {
		return fmt.Errorf("promote dataset %d: %w", id, err)
	}
	return nil
}

// Discard removes a staged dataset that will never be promoted.
func (s *Store) Discard(slot Slot) error {
	if slot.path == "" {
		return nil
	}
	err := os.Remove(slot.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("discard slot: %w", err)
}

// SweepStaging removes slots older than maxAge and returns how many went.
func (s *Store) SweepStaging(maxAge time.Duration) (int, error) {
	ents, err := os.ReadDir(s.staging)
	if err != nil {
		return 0, fmt.Errorf("sweep staging: %w", err)
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.staging, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// IDs lists the ids that have a dataset file, ascending.
func (s *Store) IDs() ([]int, error) {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	var ids []int
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(name, fileExt))
		if err != nil || id < 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// Orphans returns dataset ids that are not in known.
func (s *Store) Orphans(known []int) ([]int, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}
	set := make(map[int]struct{}, len(known))
	for _, id := range known {
		set[id] = struct{}{}
	}
	var out []int
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}
