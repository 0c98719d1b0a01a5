package h3mapper

import (
	"errors"
	"fmt"
	"math"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/bizmap/internal/core/model"
)

// MaxCoverageCells caps CellsForBounds so a coarse city box at a fine
// resolution cannot allocate millions of cells.
const MaxCoverageCells = 200_000

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func (m *Mapper) CellForPoint(p model.LatLng, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	if !p.Valid() {
		return "", fmt.Errorf("point %v out of range", p)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lng}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// CellsForBounds returns the sorted, de-duplicated cells whose centres fall
// inside b.
func (m *Mapper) CellsForBounds(b model.Bounds, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.North == b.South || b.East == b.West {
		return nil, errors.New("bounds have no area")
	}
	if est := estimateCells(b, res); est > MaxCoverageCells {
		return nil, fmt.Errorf("bounds cover about %.0f cells at resolution %d (limit %d)", est, res, MaxCoverageCells)
	}
	outer := h3.GeoLoop{
		{Lat: b.South, Lng: b.West},
		{Lat: b.South, Lng: b.East},
		{Lat: b.North, Lng: b.East},
		{Lat: b.North, Lng: b.West},
	}
	// v4 returns ([]h3.Cell, error)
	indexes, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	if len(indexes) > MaxCoverageCells {
		return nil, fmt.Errorf("bounds cover %d cells at resolution %d (limit %d)", len(indexes), res, MaxCoverageCells)
	}

	out := make([]string, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// average hexagon area at resolution 0; each finer resolution is 1/7 of it
const res0AreaKm2 = 4357449.416078383

func estimateCells(b model.Bounds, res int) float64 {
	const kmPerDeg = 111.32
	midLat := (b.North + b.South) / 2 * math.Pi / 180
	area := (b.North - b.South) * kmPerDeg * (b.East - b.West) * kmPerDeg * math.Cos(midLat)
	return area / (res0AreaKm2 / math.Pow(7, float64(res)))
}
