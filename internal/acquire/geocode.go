// Package acquire geocodes a city and collects the businesses inside it.
package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mohammed-shakir/bizmap/internal/core/model"
)

type place struct {
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	BoundingBox []string `json:"boundingbox"`
}

// Geocoder resolves a city with a Nominatim-compatible search endpoint.
type Geocoder struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

func NewGeocoder(client *http.Client, endpoint, userAgent string) *Geocoder {
	return &Geocoder{client: client, endpoint: endpoint, userAgent: userAgent}
}

// Geocode returns the centre and bounding box of the first match.
func (g *Geocoder) Geocode(ctx context.Context, city, state string) (model.LatLng, model.Bounds, error) {
	u, err := url.Parse(g.endpoint)
	if err != nil {
		return model.LatLng{}, model.Bounds{}, fmt.Errorf("parse nominatim url: %w", err)
	}
	q := u.Query()
	q.Set("format", "json")
	q.Set("city", city)
	q.Set("state", state)
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.LatLng{}, model.Bounds{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return model.LatLng{}, model.Bounds{}, fmt.Errorf("nominatim request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return model.LatLng{}, model.Bounds{}, fmt.Errorf("nominatim status %d: %s", resp.StatusCode, string(b))
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return model.LatLng{}, model.Bounds{}, fmt.Errorf("decode nominatim response: %w", err)
	}
	if len(places) == 0 {
		return model.LatLng{}, model.Bounds{}, fmt.Errorf("no match for %s, %s", city, state)
	}
	return parsePlace(places[0])
}

// parsePlace reorders Nominatim's [south, north, west, east] box.
func parsePlace(p place) (model.LatLng, model.Bounds, error) {
	if len(p.BoundingBox) != 4 {
		return model.LatLng{}, model.Bounds{}, errors.New("nominatim boundingbox must have 4 values")
	}
	var v [4]float64
	for i, s := range p.BoundingBox {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.LatLng{}, model.Bounds{}, fmt.Errorf("boundingbox[%d]: %w", i, err)
		}
		v[i] = f
	}
	b := model.Bounds{South: v[0], North: v[1], West: v[2], East: v[3]}
	if err := b.Validate(); err != nil {
		return model.LatLng{}, model.Bounds{}, fmt.Errorf("boundingbox: %w", err)
	}

	lat, errLat := strconv.ParseFloat(p.Lat, 64)
	lng, errLng := strconv.ParseFloat(p.Lon, 64)
	loc := model.LatLng{Lat: lat, Lng: lng}
	if errLat != nil || errLng != nil || !loc.Valid() {
		loc = model.LatLng{Lat: (b.South + b.North) / 2, Lng: (b.West + b.East) / 2}
	}
	return loc, b, nil
}
