package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mohammed-shakir/bizmap/internal/core/model"
)

type searchResponse struct {
	ResourceSets []struct {
		Resources []struct {
			Name  string `json:"name"`
			Point struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"point"`
			Address struct {
				FormattedAddress string `json:"formattedAddress"`
			} `json:"Address"`
			PhoneNumber string `json:"PhoneNumber"`
			Website     string `json:"Website"`
			EntityType  string `json:"entityType"`
		} `json:"resources"`
	} `json:"resourceSets"`
}

// LocalSearch queries a Bing-style local search endpoint for one business
// type inside one grid cell.
type LocalSearch struct {
	client     *http.Client
	endpoint   string
	key        string
	maxResults int
}

func NewLocalSearch(client *http.Client, endpoint, key string, maxResults int) *LocalSearch {
	if maxResults <= 0 {
		maxResults = 25
	}
	return &LocalSearch{client: client, endpoint: endpoint, key: key, maxResults: maxResults}
}

func (s *LocalSearch) Search(ctx context.Context, typ string, cell model.Bounds) ([]model.MapRecord, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse local search url: %w", err)
	}
	q := u.Query()
	q.Set("key", s.key)
	q.Set("type", typ)
	q.Set("maxResults", strconv.Itoa(s.maxResults))
	q.Set("userMapView", fmt.Sprintf("%g,%g,%g,%g", cell.South, cell.West, cell.North, cell.East))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local search %s: %w", typ, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("local search %s: status %d: %s", typ, resp.StatusCode, string(b))
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode local search %s: %w", typ, err)
	}
	if len(body.ResourceSets) == 0 {
		return nil, nil
	}

	var out []model.MapRecord
	for _, r := range body.ResourceSets[0].Resources {
		if len(r.Point.Coordinates) != 2 {
			continue
		}
		c := model.LatLng{Lat: r.Point.Coordinates[0], Lng: r.Point.Coordinates[1]}
		if !c.Valid() {
			continue
		}
		t := r.EntityType
		if t == "" {
			t = typ
		}
		out = append(out, model.MapRecord{
			Name:        r.Name,
			Address:     r.Address.FormattedAddress,
			Phone:       r.PhoneNumber,
			Website:     r.Website,
			Coordinates: c,
			Type:        t,
		})
	}
	return out, nil
}
