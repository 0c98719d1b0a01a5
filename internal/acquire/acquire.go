package acquire

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/bizmap/internal/core/biztypes"
	"github.com/mohammed-shakir/bizmap/internal/core/model"
)

type geocoder interface {
	Geocode(ctx context.Context, city, state string) (model.LatLng, model.Bounds, error)
}

type searcher interface {
	Search(ctx context.Context, typ string, cell model.Bounds) ([]model.MapRecord, error)
}

type Options struct {
	GridLat     int
	GridLon     int
	Concurrency int
	Logger      *slog.Logger
}

// Collector runs one acquisition: geocode, split into a grid, then search every
// (type, cell) pair.
type Collector struct {
	geo    geocoder
	search searcher
	opts   Options
	log    *slog.Logger
}

func NewCollector(g geocoder, s searcher, opts Options) *Collector {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Collector{geo: g, search: s, opts: opts, log: opts.Logger}
}

// Acquire fails as a whole if any search fails. Records are deduplicated by
// address, first seen wins.
func (c *Collector) Acquire(ctx context.Context, req model.AcquireRequest) (model.Acquisition, error) {
	loc, bounds, err := c.geo.Geocode(ctx, req.City, req.State)
	if err != nil {
		return model.Acquisition{}, fmt.Errorf("geocode: %w", err)
	}

	types, err := biztypes.Normalize(req.BusinessTypes)
	if err != nil {
		return model.Acquisition{}, err
	}
	if len(types) == 0 {
		types = biztypes.TopLevel()
	}
	cells := Grid(bounds, c.opts.GridLat, c.opts.GridLon)
	c.log.Info("searching", "city", req.City, "state", req.State, "types", len(types), "cells", len(cells))

	results := make([][]model.MapRecord, len(types)*len(cells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, typ := range types {
		for j, cell := range cells {
			slot := i*len(cells) + j
			g.Go(func() error {
				recs, err := c.search.Search(gctx, typ, cell)
				if err != nil {
					return err
				}
				results[slot] = recs
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return model.Acquisition{}, err
	}

	out := dedupe(results)
	c.log.Info("search done", "records", len(out))
	return model.Acquisition{Location: loc, Bounds: bounds, Records: out}, nil
}

func dedupe(groups [][]model.MapRecord) []model.MapRecord {
	seen := make(map[string]struct{})
	out := make([]model.MapRecord, 0)
	for _, g := range groups {
		for _, r := range g {
			if r.Address != "" {
				if _, ok := seen[r.Address]; ok {
					continue
				}
				seen[r.Address] = struct{}{}
			}
			out = append(out, r)
		}
	}
	return out
}
