// Package api exposes the map catalog over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/bizmap/internal/aggregate"
	"github.com/mohammed-shakir/bizmap/internal/cache/keys"
	"github.com/mohammed-shakir/bizmap/internal/core/biztypes"
	"github.com/mohammed-shakir/bizmap/internal/core/model"
	"github.com/mohammed-shakir/bizmap/internal/datastore"
	mylog "github.com/mohammed-shakir/bizmap/internal/logger"
	"github.com/mohammed-shakir/bizmap/internal/mapper"
	"github.com/mohammed-shakir/bizmap/internal/popularity"
)

const maxBodyBytes = 1 << 20

// statusClientClosed is recorded when the caller disconnects before a response.
const statusClientClosed = 499

type Catalog interface {
	List(ctx context.Context) ([]model.MapEntry, error)
	Get(ctx context.Context, id int) (model.MapEntry, error)
	UpdateTitle(ctx context.Context, id int, title string) (model.MapEntry, error)
	Delete(ctx context.Context, id int) error
}

type Creator interface {
	Create(ctx context.Context, req model.CreateRequest) (model.MapEntry, error)
}

// Datasets returns the stored dataset bytes for a map id.
type Datasets interface {
	ReadRaw(ctx context.Context, id int) ([]byte, error)
}

// Views records dataset reads; *popularity.Tracker satisfies it.
type Views interface {
	View(id int)
	Reset(ids ...int)
	Top(n int) []popularity.Ranked
}

type Options struct {
	Logger     *slog.Logger
	Mapper     mapper.Interface
	DefaultRes int
	Views      Views
}

type Handler struct {
	catalog  Catalog
	creator  Creator
	datasets Datasets
	mapper   mapper.Interface
	res      int
	views    Views
	log      *slog.Logger
}

func New(c Catalog, cr Creator, d Datasets, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Views == nil {
		opts.Views = popularity.New(0)
	}
	return &Handler{
		catalog:  c,
		creator:  cr,
		datasets: d,
		mapper:   opts.Mapper,
		res:      opts.DefaultRes,
		views:    opts.Views,
		log:      opts.Logger,
	}
}

// Routes mounts the catalog endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/maps", h.listMaps)
	r.Post("/maps", h.createMap)
	r.Get("/maps/popular", h.popularMaps)
	r.Get("/maps/{id}", h.getDataset)
	r.Put("/maps/{id}", h.updateTitle)
	r.Delete("/maps/{id}", h.deleteMap)
	r.Get("/maps/{id}/entry", h.getEntry)
	r.Get("/maps/{id}/summary", h.getSummary)
	r.Get("/types", h.listTypes)
	r.Get("/types/{token}", h.resolveType)
}

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	ID      *int   `json:"id,omitempty"`
	Message string `json:"message"`
}

// StatusFor maps the error taxonomy to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		h.log.DebugContext(r.Context(), "client went away", "path", r.URL.Path, "err", err)
		w.WriteHeader(statusClientClosed)
		return
	}
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		msg = "internal server error"
	} else {
		h.log.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func parseID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("map id %q must be a non-negative integer: %w", raw, model.ErrInvalidRequest)
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %v: %w", err, model.ErrInvalidRequest)
	}
	return nil
}

// typeList accepts either a JSON array of strings or one comma-separated
// string.
type typeList []string

func (t *typeList) UnmarshalJSON(b []byte) error {
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*t = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("businessTypes must be an array of strings or a comma-separated string")
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*t = out
	return nil
}

type createBody struct {
	City          string   `json:"city"`
	State         string   `json:"state"`
	Title         string   `json:"title"`
	BusinessTypes typeList `json:"businessTypes"`
}

type updateBody struct {
	NewTitle string `json:"newTitle"`
}

func (h *Handler) listMaps(w http.ResponseWriter, r *http.Request) {
	entries, err := h.catalog.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) createMap(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearDeadlines(w, r)
	entry, err := h.creator.Create(r.Context(), model.CreateRequest{
		City:          body.City,
		State:         body.State,
		Title:         body.Title,
		BusinessTypes: body.BusinessTypes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/maps/"+strconv.Itoa(entry.ID))
	writeJSON(w, http.StatusCreated, messageBody{ID: &entry.ID, Message: "Map generated successfully"})
}

// clearDeadlines lifts the server's read and write deadlines for a create,
// which may queue for an acquisition slot and commits even after they pass.
func (h *Handler) clearDeadlines(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.DebugContext(r.Context(), "clear read deadline", "err", err)
	}
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.DebugContext(r.Context(), "clear write deadline", "err", err)
	}
}

func (h *Handler) updateTitle(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body updateBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.catalog.UpdateTitle(mylog.WithMapID(r.Context(), id), id, body.NewTitle); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Map updated successfully"})
}

func (h *Handler) deleteMap(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.catalog.Delete(mylog.WithMapID(r.Context(), id), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.views.Reset(id)
	writeJSON(w, http.StatusOK, messageBody{Message: "Map deleted successfully"})
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	e, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// loadDataset resolves the catalog entry first so a dataset without an entry
// is never served.
func (h *Handler) loadDataset(r *http.Request) (model.MapEntry, []byte, error) {
	id, err := parseID(r)
	if err != nil {
		return model.MapEntry{}, nil, err
	}
	ctx := mylog.WithMapID(r.Context(), id)
	e, err := h.catalog.Get(ctx, id)
	if err != nil {
		return model.MapEntry{}, nil, err
	}
	b, err := h.datasets.ReadRaw(ctx, id)
	if err != nil {
		return model.MapEntry{}, nil, err
	}
	h.views.View(id)
	return e, b, nil
}

func (h *Handler) getDataset(w http.ResponseWriter, r *http.Request) {
	_, raw, err := h.loadDataset(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	switch format {
	case "", "json":
	case "geojson":
		recs, err := datastore.Decode(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		raw, err = aggregate.FeatureCollection(recs)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	default:
		h.writeError(w, r, fmt.Errorf("unsupported format %q: %w", format, model.ErrInvalidRequest))
		return
	}

	etag := keys.ETag(raw)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if format == "geojson" {
		w.Header().Set("Content-Type", "application/geo+json")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	res := h.res
	if v := strings.TrimSpace(r.URL.Query().Get("res")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 15 {
			h.writeError(w, r, fmt.Errorf("res must be an integer in [0,15]: %w", model.ErrInvalidRequest))
			return
		}
		res = n
	}
	if h.mapper == nil {
		h.writeError(w, r, errors.New("summaries are not configured"))
		return
	}

	e, raw, err := h.loadDataset(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	recs, err := datastore.Decode(raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := aggregate.Summarize(e, recs, res, h.mapper)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type popularEntry struct {
	model.MapEntry
	Score float64 `json:"score"`
}

// popularMaps lists catalog entries by decayed view score. Ids that left the
// catalog are skipped.
func (h *Handler) popularMaps(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			h.writeError(w, r, fmt.Errorf("limit must be an integer in [1,100]: %w", model.ErrInvalidRequest))
			return
		}
		limit = n
	}
	entries, err := h.catalog.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	byID := make(map[int]model.MapEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	out := make([]popularEntry, 0, limit)
	for _, rk := range h.views.Top(0) {
		e, ok := byID[rk.ID]
		if !ok {
			continue
		}
		out = append(out, popularEntry{MapEntry: e, Score: rk.Score})
		if len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, biztypes.Categories())
}

type resolvedType struct {
	Input     string `json:"input"`
	TitleCase string `json:"titleCase"`
	Canonical string `json:"canonical,omitempty"`
	Valid     bool   `json:"valid"`
}

// resolveType reports how a free-text token would be accepted by create.
func (h *Handler) resolveType(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	out := resolvedType{Input: tok, TitleCase: biztypes.TitleCase(tok)}
	out.Canonical, out.Valid = biztypes.Canonical(tok)
	writeJSON(w, http.StatusOK, out)
}
