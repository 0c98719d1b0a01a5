package acquire

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mohammed-shakir/bizmap/internal/core/model"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestGeocode_ReordersBoundingBox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("city") != "Seattle" || q.Get("state") != "WA" || q.Get("format") != "json" {
			t.Errorf("query=%v", q)
		}
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("User-Agent=%q", r.Header.Get("User-Agent"))
		}
		_, _ = io.WriteString(w, `[{"lat":"47.6","lon":"-122.3","boundingbox":["47.4","47.8","-122.5","-122.2"]}]`)
	}))
	defer srv.Close()

	loc, b, err := NewGeocoder(srv.Client(), srv.URL, "test-agent").Geocode(context.Background(), "Seattle", "WA")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if loc != (model.LatLng{Lat: 47.6, Lng: -122.3}) {
		t.Fatalf("loc=%+v", loc)
	}
	want := model.Bounds{South: 47.4, West: -122.5, North: 47.8, East: -122.2}
	if b != want {
		t.Fatalf("bounds=%+v want %+v", b, want)
	}
}

func TestGeocode_Failures(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"no match":  {200, `[]`},
		"bad box":   {200, `[{"lat":"1","lon":"1","boundingbox":["a","b","c","d"]}]`},
		"short box": {200, `[{"lat":"1","lon":"1","boundingbox":["1","2"]}]`},
		"status":    {503, `down`},
		"garbage":   {200, `{`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()
			if _, _, err := NewGeocoder(srv.Client(), srv.URL, "").Geocode(context.Background(), "X", "Y"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParsePlace_FallsBackToBoxCentre(t *testing.T) {
	loc, _, err := parsePlace(place{Lat: "", Lon: "x", BoundingBox: []string{"0", "2", "10", "20"}})
	if err != nil {
		t.Fatalf("parsePlace: %v", err)
	}
	if loc != (model.LatLng{Lat: 1, Lng: 15}) {
		t.Fatalf("loc=%+v", loc)
	}
}

func TestGrid_CoversBoundsWithoutOverflow(t *testing.T) {
	b := model.Bounds{South: 0, West: 0, North: 1, East: 3}
	cells := Grid(b, 2, 3)
	if len(cells) != 6 {
		t.Fatalf("len=%d", len(cells))
	}
	if cells[0] != (model.Bounds{South: 0, West: 0, North: 0.5, East: 1}) {
		t.Fatalf("first=%+v", cells[0])
	}
	last := cells[5]
	if last.North != 1 || last.East != 3 {
		t.Fatalf("last=%+v", last)
	}
	if got := Grid(b, 0, 0); len(got) != 1 || got[0] != b {
		t.Fatalf("degenerate grid=%+v", got)
	}
}

const searchBody = `{"resourceSets":[{"resources":[
 {"name":"Cafe A","point":{"coordinates":[47.61,-122.33]},"Address":{"formattedAddress":"1 Pike St"},"PhoneNumber":"555","Website":"http://a","entityType":"CoffeeAndTea"},
 {"name":"No Point","point":{"coordinates":[]},"Address":{"formattedAddress":"2 Pike St"}},
 {"name":"Cafe B","point":{"coordinates":[47.62,-122.34]},"Address":{"formattedAddress":"3 Pike St"}}
]}]}`

func TestLocalSearch_ParsesResources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "k" || q.Get("type") != "CoffeeAndTea" || q.Get("maxResults") != "25" {
			t.Errorf("query=%v", q)
		}
		if q.Get("userMapView") != "47,-123,48,-122" {
			t.Errorf("userMapView=%q", q.Get("userMapView"))
		}
		_, _ = io.WriteString(w, searchBody)
	}))
	defer srv.Close()

	s := NewLocalSearch(srv.Client(), srv.URL, "k", 0)
	recs, err := s.Search(context.Background(), "CoffeeAndTea", model.Bounds{South: 47, West: -123, North: 48, East: -122})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("recs=%+v", recs)
	}
	if recs[0].Name != "Cafe A" || recs[0].Phone != "555" || recs[0].Type != "CoffeeAndTea" {
		t.Fatalf("first=%+v", recs[0])
	}
	if recs[1].Type != "CoffeeAndTea" {
		t.Fatalf("missing entityType should default to the searched type, got %q", recs[1].Type)
	}
}

type fakeGeo struct {
	err error
}

func (f fakeGeo) Geocode(context.Context, string, string) (model.LatLng, model.Bounds, error) {
	return model.LatLng{Lat: 1, Lng: 1}, model.Bounds{South: 0, West: 0, North: 2, East: 2}, f.err
}

type fakeSearch struct {
	mu       sync.Mutex
	calls    map[string]int
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     string
}

func (f *fakeSearch) Search(_ context.Context, typ string, cell model.Bounds) ([]model.MapRecord, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls[typ]++
	f.mu.Unlock()
	if typ == f.fail {
		return nil, fmt.Errorf("search %s failed", typ)
	}
	// Every cell returns the same shared address plus one unique one.
	return []model.MapRecord{
		{Name: "shared", Address: "same"},
		{Name: typ, Address: fmt.Sprintf("%s-%g-%g", typ, cell.South, cell.West)},
	}, nil
}

func TestCollector_SearchesEveryTypeAndCellAndDedupes(t *testing.T) {
	fs := &fakeSearch{calls: map[string]int{}}
	c := NewCollector(fakeGeo{}, fs, Options{GridLat: 2, GridLon: 2, Concurrency: 2, Logger: quietLogger()})

	acq, err := c.Acquire(context.Background(), model.AcquireRequest{City: "A", State: "B", BusinessTypes: []string{"pizza", "Hospitals"}})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if fs.calls["Pizza"] != 4 || fs.calls["Hospitals"] != 4 {
		t.Fatalf("calls=%v", fs.calls)
	}
	if p := fs.peak.Load(); p > 2 {
		t.Fatalf("peak concurrency=%d want <=2", p)
	}
	// 1 shared + 2 types * 4 cells unique.
	if len(acq.Records) != 9 {
		t.Fatalf("records=%d", len(acq.Records))
	}
	if acq.Records[0].Name != "shared" {
		t.Fatalf("first=%+v", acq.Records[0])
	}
}

func TestCollector_EmptyTypesSearchesTopLevel(t *testing.T) {
	fs := &fakeSearch{calls: map[string]int{}}
	c := NewCollector(fakeGeo{}, fs, Options{Concurrency: 4, Logger: quietLogger()})
	if _, err := c.Acquire(context.Background(), model.AcquireRequest{City: "A", State: "B"}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	for _, typ := range []string{"EatDrink", "Shop", "Parking"} {
		if fs.calls[typ] != 1 {
			t.Fatalf("calls=%v", fs.calls)
		}
	}
}

func TestCollector_Failures(t *testing.T) {
	fs := &fakeSearch{calls: map[string]int{}, fail: "Pizza"}
	c := NewCollector(fakeGeo{}, fs, Options{Logger: quietLogger()})
	if _, err := c.Acquire(context.Background(), model.AcquireRequest{BusinessTypes: []string{"Pizza"}}); err == nil {
		t.Fatal("expected search failure")
	}

	c = NewCollector(fakeGeo{err: fmt.Errorf("boom")}, fs, Options{Logger: quietLogger()})
	if _, err := c.Acquire(context.Background(), model.AcquireRequest{}); err == nil || !strings.Contains(err.Error(), "geocode") {
		t.Fatalf("err=%v", err)
	}

	c = NewCollector(fakeGeo{}, fs, Options{Logger: quietLogger()})
	if _, err := c.Acquire(context.Background(), model.AcquireRequest{BusinessTypes: []string{"NotAType"}}); err == nil {
		t.Fatal("expected unknown type error")
	}
}
