// Package process runs the acquisition program as a child process.
//
// The request goes to the child's stdin as four lines: city, state, title and
// the comma-joined business types. The child prints one JSON payload on
// stdout and exits 0 on success. Anything it writes to stderr is logged.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/bizmap/internal/core/model"
)

const (
	defaultMaxOutput = 64 << 20
	waitDelay        = 5 * time.Second
)

type Options struct {
	Args   []string
	Env    []string
	Dir    string
	Logger *slog.Logger
	// MaxOutput caps the stdout payload size in bytes.
	MaxOutput int
}

type Acquirer struct {
	command   string
	args      []string
	env       []string
	dir       string
	log       *slog.Logger
	maxOutput int
}

func New(command string, opts Options) (*Acquirer, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("process: command is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = defaultMaxOutput
	}
	return &Acquirer{
		command:   command,
		args:      opts.Args,
		env:       opts.Env,
		dir:       opts.Dir,
		log:       opts.Logger,
		maxOutput: opts.MaxOutput,
	}, nil
}

// Input renders the stdin lines for req.
func Input(req model.AcquireRequest) string {
	clean := func(s string) string {
		return strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(s))
	}
	types := make([]string, 0, len(req.BusinessTypes))
	for _, t := range req.BusinessTypes {
		types = append(types, clean(t))
	}
	return strings.Join([]string{
		clean(req.City),
		clean(req.State),
		clean(req.Title),
		strings.Join(types, ","),
	}, "\n") + "\n"
}

type payload struct {
	Location *model.LatLng     `json:"location"`
	Bounds   *model.Bounds     `json:"bounds"`
	Records  []model.MapRecord `json:"records"`
}

// Decode parses the stdout payload of the acquisition program.
func Decode(b []byte) (model.Acquisition, error) {
	var p payload
	if err := json.Unmarshal(bytes.TrimSpace(b), &p); err != nil {
		return model.Acquisition{}, fmt.Errorf("decode payload: %w", err)
	}
	if p.Location == nil {
		return model.Acquisition{}, errors.New("payload has no location")
	}
	if p.Bounds == nil {
		return model.Acquisition{}, errors.New("payload has no bounds")
	}
	if p.Records == nil {
		p.Records = []model.MapRecord{}
	}
	return model.Acquisition{Location: *p.Location, Bounds: *p.Bounds, Records: p.Records}, nil
}

func (a *Acquirer) Acquire(ctx context.Context, req model.AcquireRequest) (model.Acquisition, error) {
	cmd := exec.CommandContext(ctx, a.command, a.args...)
	cmd.Stdin = strings.NewReader(Input(req))
	cmd.Env = a.env
	cmd.Dir = a.dir
	cmd.WaitDelay = waitDelay

	stdout := &limitedBuffer{max: a.maxOutput}
	stderr := &lineLogger{ctx: ctx, log: a.log.With("component", "acquire", "city", req.City)}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	stderr.flush()

	if ctx.Err() != nil {
		return model.Acquisition{}, fmt.Errorf("acquisition stopped after %s: %w: %w",
			time.Since(start).Round(time.Millisecond), ctx.Err(), model.ErrGenerationFailed)
	}
	if err != nil {
		msg := err.Error()
		if last := stderr.last(); last != "" {
			msg += ": " + last
		}
		return model.Acquisition{}, fmt.Errorf("acquisition process: %s: %w", msg, model.ErrGenerationFailed)
	}
	if stdout.overflow {
		return model.Acquisition{}, fmt.Errorf("acquisition output exceeds %d bytes: %w", a.maxOutput, model.ErrGenerationFailed)
	}

	acq, err := Decode(stdout.Bytes())
	if err != nil {
		return model.Acquisition{}, fmt.Errorf("acquisition output: %v: %w", err, model.ErrGenerationFailed)
	}
	a.log.DebugContext(ctx, "acquisition finished",
		"records", len(acq.Records),
		"duration", time.Since(start).String())
	return acq, nil
}

type limitedBuffer struct {
	bytes.Buffer
	max      int
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.overflow {
		return len(p), nil
	}
	if b.Len()+len(p) > b.max {
		b.overflow = true
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

// lineLogger logs each stderr line of the child at warn level.
type lineLogger struct {
	ctx context.Context
	log *slog.Logger

	mu       sync.Mutex
	pending  []byte
	lastLine string
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, p...)
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			break
		}
		l.emit(string(l.pending[:i]))
		l.pending = l.pending[i+1:]
	}
	return len(p), nil
}

func (l *lineLogger) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	l.lastLine = line
	l.log.WarnContext(l.ctx, "acquisition stderr", "line", line)
}

func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) > 0 {
		l.emit(string(l.pending))
		l.pending = nil
	}
}

func (l *lineLogger) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLine
}
