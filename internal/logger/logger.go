// Package logger builds the zerolog logger used by every binary and carries
// request-scoped fields through context.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int
	Service   string
	Component string
}

type ctxKey string

const (
	ctxReqIDKey  ctxKey = "request_id"
	ctxComponent ctxKey = "component"
	ctxMapID     ctxKey = "map_id"
)

func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return context.WithValue(ctx, ctxReqIDKey, reqID)
}

func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxComponent, component)
}

func WithMapID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, ctxMapID, id)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxReqIDKey).(string); ok {
		return s
	}
	return ""
}

func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

var globalsOnce sync.Once

func setGlobals() {
	globalsOnce.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		zerolog.TimestampFieldName = "timestamp"
		zerolog.LevelFieldName = "level"
		zerolog.MessageFieldName = "msg"
	})
}

// sampler keeps one event in n; n <= 0 disables sampling.
func sampler(n int) zerolog.Sampler {
	if n <= 0 {
		return nil
	}
	return &zerolog.BasicSampler{N: uint32(min(int64(n), math.MaxUint32))}
}

// Build returns a zerolog logger writing JSON lines to out, or a console
// rendering when cfg.Console is set. A nil out means stdout.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	setGlobals()
	if out == nil {
		out = os.Stdout
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).Level(ParseLevel(cfg.Level))
	if s := sampler(cfg.SampleN); s != nil {
		zl = zl.Sample(s)
	}

	fields := zl.With().Timestamp()
	for k, v := range map[string]string{"service": cfg.Service, "component": cfg.Component} {
		if v != "" {
			fields = fields.Str(k, v)
		}
	}
	return fields.Logger()
}

// New builds the zerolog logger and returns it behind the slog API.
func New(cfg Config, out io.Writer) *slog.Logger {
	zl := Build(cfg, out)
	return NewSlog(&zl)
}

// FromContext returns a child of parent carrying the request-scoped fields
// stored in ctx.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	var base zerolog.Logger
	if parent == nil {
		base = zerolog.New(io.Discard)
	} else {
		base = *parent
	}
	w := base.With()
	if s, ok := ctx.Value(ctxReqIDKey).(string); ok && s != "" {
		w = w.Str("request_id", s)
	}
	if s, ok := ctx.Value(ctxComponent).(string); ok && s != "" {
		w = w.Str("component", s)
	}
	if id, ok := ctx.Value(ctxMapID).(int); ok {
		w = w.Int("map_id", id)
	}
	l := w.Logger()
	return &l
}
