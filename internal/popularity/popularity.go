// Package popularity keeps an exponentially decayed view score per map.
package popularity

import (
	"encoding/binary"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/bizmap/internal/core/observability"
)

const numShards = 64

type Tracker struct {
	halfLife time.Duration
	now      func() time.Time

	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[int]*counter
}

type counter struct {
	score float64
	last  time.Time
}

// Ranked is a map id with its score at the time of the call.
type Ranked struct {
	ID    int
	Score float64
}

func New(halfLife time.Duration) *Tracker {
	if halfLife <= 0 {
		halfLife = time.Hour
	}
	t := &Tracker{halfLife: halfLife, now: time.Now}
	for i := range t.shards {
		t.shards[i].m = make(map[int]*counter)
	}
	return t
}

// View records one read of map id.
func (t *Tracker) View(id int) {
	s := t.pick(id)
	n := t.now()

	s.mu.Lock()
	c := s.m[id]
	if c == nil {
		s.m[id] = &counter{score: 1, last: n}
		s.mu.Unlock()
		observability.SetPopularityTracked(t.Size())
		return
	}
	c.score = decay(c.score, n.Sub(c.last).Seconds(), t.halfLife.Seconds()) + 1
	c.last = n
	s.mu.Unlock()
}

func (t *Tracker) Score(id int) float64 {
	s := t.pick(id)
	s.mu.RLock()
	c := s.m[id]
	if c == nil {
		s.mu.RUnlock()
		return 0
	}
	score, last := c.score, c.last
	s.mu.RUnlock()
	return decay(score, t.now().Sub(last).Seconds(), t.halfLife.Seconds())
}

// Reset forgets the given ids.
func (t *Tracker) Reset(ids ...int) {
	for _, id := range ids {
		s := t.pick(id)
		s.mu.Lock()
		delete(s.m, id)
		s.mu.Unlock()
	}
	observability.SetPopularityTracked(t.Size())
}

// Top returns up to n ids ordered by decayed score, highest first. Ties are
// broken by id. n <= 0 returns every tracked id.
func (t *Tracker) Top(n int) []Ranked {
	now := t.now()
	hl := t.halfLife.Seconds()
	var out []Ranked
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		for id, c := range s.m {
			out = append(out, Ranked{ID: id, Score: decay(c.score, now.Sub(c.last).Seconds(), hl)})
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.RLock()
		total += len(t.shards[i].m)
		t.shards[i].mu.RUnlock()
	}
	return total
}

func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	// e^(-λt)
	return score * math.Exp(-math.Ln2/halfLife*dt)
}

func (t *Tracker) pick(id int) *shard {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return &t.shards[xxhash.Sum64(b[:])&(numShards-1)]
}
