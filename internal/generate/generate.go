// Package generate runs the create-map flow: validate the request, acquire
// the dataset, stage it and commit a catalog entry for it.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mohammed-shakir/bizmap/internal/catalog"
	"github.com/mohammed-shakir/bizmap/internal/core/biztypes"
	"github.com/mohammed-shakir/bizmap/internal/core/model"
	"github.com/mohammed-shakir/bizmap/internal/core/observability"
	"github.com/mohammed-shakir/bizmap/internal/datastore"
	"github.com/mohammed-shakir/bizmap/internal/logger"
)

// Acquirer produces the dataset for a request. Implementations return an
// error wrapping model.ErrGenerationFailed when acquisition does not succeed.
type Acquirer interface {
	Acquire(ctx context.Context, req model.AcquireRequest) (model.Acquisition, error)
}

type AcquirerFunc func(ctx context.Context, req model.AcquireRequest) (model.Acquisition, error)

func (f AcquirerFunc) Acquire(ctx context.Context, req model.AcquireRequest) (model.Acquisition, error) {
	return f(ctx, req)
}

type Catalog interface {
	Insert(ctx context.Context, e model.MapEntry, commit catalog.CommitFunc) (model.MapEntry, error)
}

type Datasets interface {
	Stage(ctx context.Context, recs []model.MapRecord) (datastore.Slot, error)
	Promote(ctx context.Context, slot datastore.Slot, id int) error
	Discard(slot datastore.Slot) error
}

type Options struct {
	Logger *slog.Logger
	// Timeout bounds one acquisition. Zero means no limit.
	Timeout time.Duration
	// MaxConcurrent bounds simultaneous acquisitions; values below 1 mean 1.
	MaxConcurrent int
}

type Pipeline struct {
	catalog  Catalog
	datasets Datasets
	acquirer Acquirer
	log      *slog.Logger
	timeout  time.Duration
	sem      *semaphore.Weighted
}

func New(c Catalog, d Datasets, a Acquirer, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Pipeline{
		catalog:  c,
		datasets: d,
		acquirer: a,
		log:      opts.Logger,
		timeout:  opts.Timeout,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
}

// Validate trims the request and canonicalises its business types.
func Validate(req model.CreateRequest) (model.CreateRequest, error) {
	out := model.CreateRequest{
		City:  strings.TrimSpace(req.City),
		State: strings.TrimSpace(req.State),
		Title: strings.TrimSpace(req.Title),
	}
	var missing []string
	if out.City == "" {
		missing = append(missing, "city")
	}
	if out.State == "" {
		missing = append(missing, "state")
	}
	if out.Title == "" {
		missing = append(missing, "title")
	}
	if len(missing) > 0 {
		return model.CreateRequest{}, fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), model.ErrInvalidRequest)
	}

	types, err := biztypes.Normalize(req.BusinessTypes)
	if err != nil {
		return model.CreateRequest{}, fmt.Errorf("%v: %w", err, model.ErrInvalidRequest)
	}
	out.BusinessTypes = types
	return out, nil
}

// checkAcquisition rejects payloads that cannot be rendered.
func checkAcquisition(a model.Acquisition) error {
	if !a.Location.Valid() {
		return fmt.Errorf("location %v out of range", a.Location)
	}
	if err := a.Bounds.Validate(); err != nil {
		return fmt.Errorf("bounds: %w", err)
	}
	for i, r := range a.Records {
		if !r.Coordinates.Valid() {
			return fmt.Errorf("record %d: coordinates %v out of range", i, r.Coordinates)
		}
	}
	return nil
}

func (p *Pipeline) acquire(ctx context.Context, req model.AcquireRequest) (model.Acquisition, error) {
	// a client that goes away must not abort an acquisition halfway
	actx := context.WithoutCancel(ctx)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	a, err := p.acquirer.Acquire(actx, req)
	if err == nil {
		err = checkAcquisition(a)
		if err != nil {
			err = fmt.Errorf("invalid acquisition payload: %v: %w", err, model.ErrGenerationFailed)
		}
	}
	secs := time.Since(start).Seconds()

	switch {
	case err == nil:
		observability.ObserveAcquisition("ok", secs)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded):
		observability.ObserveAcquisition("timeout", secs)
	default:
		observability.ObserveAcquisition("error", secs)
	}
	if err != nil && !errors.Is(err, model.ErrGenerationFailed) {
		err = fmt.Errorf("acquire: %v: %w", err, model.ErrGenerationFailed)
	}
	return a, err
}

// Create runs the whole flow and returns the committed entry. On any failure
// the catalog is unchanged and no dataset is left under a map id.
func (p *Pipeline) Create(ctx context.Context, req model.CreateRequest) (model.MapEntry, error) {
	req, err := Validate(req)
	if err != nil {
		return model.MapEntry{}, err
	}
	ctx = logger.WithComponent(ctx, "generate")

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return model.MapEntry{}, fmt.Errorf("waiting for acquisition slot: %w", err)
	}
	acq, err := p.acquire(ctx, model.AcquireRequest{
		City:          req.City,
		State:         req.State,
		Title:         req.Title,
		BusinessTypes: req.BusinessTypes,
	})
	p.sem.Release(1)
	if err != nil {
		p.log.WarnContext(ctx, "acquisition failed", "city", req.City, "state", req.State, "err", err)
		return model.MapEntry{}, err
	}

	// the remaining steps run to completion even if the client disconnects
	ctx = context.WithoutCancel(ctx)

	slot, err := p.datasets.Stage(ctx, acq.Records)
	if err != nil {
		return model.MapEntry{}, fmt.Errorf("stage dataset: %w", err)
	}

	entry := model.MapEntry{
		Title:         req.Title,
		City:          req.City,
		State:         req.State,
		BusinessTypes: req.BusinessTypes,
		Location:      acq.Location,
		Bounds:        acq.Bounds,
	}
	committed, err := p.catalog.Insert(ctx, entry, func(ctx context.Context, id int) error {
		return p.datasets.Promote(ctx, slot, id)
	})
	if err != nil {
		if derr := p.datasets.Discard(slot); derr != nil {
			p.log.WarnContext(ctx, "discard staged dataset failed", "slot", slot.Path(), "err", derr)
		}
		return model.MapEntry{}, err
	}

	p.log.InfoContext(logger.WithMapID(ctx, committed.ID), "map generated",
		"title", committed.Title,
		"records", len(acq.Records))
	return committed, nil
}
