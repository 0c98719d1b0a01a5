// Package aggregate summarises map datasets: counts per business type,
// counts per H3 cell, and a GeoJSON rendering of the records.
package aggregate

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mohammed-shakir/bizmap/internal/core/model"
	"github.com/mohammed-shakir/bizmap/internal/mapper"
)

const UnknownType = "Unknown"

type TypeCount struct {
	Type  string  `json:"type"`
	Count int     `json:"count"`
	Ratio float64 `json:"ratio"`
}

type CellCount struct {
	Cell  string `json:"cell"`
	Count int    `json:"count"`
}

type Summary struct {
	MapID      int         `json:"mapId"`
	Title      string      `json:"title"`
	Records    int         `json:"records"`
	Types      []TypeCount `json:"types"`
	Resolution int         `json:"resolution"`
	Cells      []CellCount `json:"cells"`
	// Coverage is the number of cells inside the map bounds; zero when the
	// bounds are too large to enumerate at this resolution.
	Coverage int `json:"coverage"`
}

// TypeRatios counts records per type, most common first, ties by name.
func TypeRatios(recs []model.MapRecord) []TypeCount {
	counts := map[string]int{}
	for _, r := range recs {
		t := r.Type
		if t == "" {
			t = UnknownType
		}
		counts[t]++
	}
	out := make([]TypeCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, TypeCount{Type: t, Count: n, Ratio: float64(n) / float64(len(recs))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Cells counts records per H3 cell at res, densest first, ties by cell.
func Cells(recs []model.MapRecord, res int, m mapper.Interface) ([]CellCount, error) {
	counts := map[string]int{}
	for i, r := range recs {
		c, err := m.CellForPoint(r.Coordinates, res)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		counts[c]++
	}
	out := make([]CellCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CellCount{Cell: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Cell < out[j].Cell
	})
	return out, nil
}

func Summarize(e model.MapEntry, recs []model.MapRecord, res int, m mapper.Interface) (Summary, error) {
	cells, err := Cells(recs, res, m)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		MapID:      e.ID,
		Title:      e.Title,
		Records:    len(recs),
		Types:      TypeRatios(recs),
		Resolution: res,
		Cells:      cells,
	}
	if cov, err := m.CellsForBounds(e.Bounds, res); err == nil {
		s.Coverage = len(cov)
	}
	return s, nil
}

type geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

type properties struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Website string `json:"website"`
	Type    string `json:"type"`
}

type feature struct {
	Type       string     `json:"type"`
	Geometry   geometry   `json:"geometry"`
	Properties properties `json:"properties"`
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

// FeatureCollection renders recs as GeoJSON points in [lng, lat] order.
func FeatureCollection(recs []model.MapRecord) ([]byte, error) {
	fc := featureCollection{Type: "FeatureCollection", Features: make([]feature, 0, len(recs))}
	for _, r := range recs {
		fc.Features = append(fc.Features, feature{
			Type:     "Feature",
			Geometry: geometry{Type: "Point", Coordinates: [2]float64{r.Coordinates.Lng, r.Coordinates.Lat}},
			Properties: properties{
				Name:    r.Name,
				Address: r.Address,
				Phone:   r.Phone,
				Website: r.Website,
				Type:    r.Type,
			},
		})
	}
	b, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encode feature collection: %w", err)
	}
	return b, nil
}
