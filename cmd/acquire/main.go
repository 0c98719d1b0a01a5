// Command bizmap-acquire is the reference acquisition process. It reads city,
// state, title and comma-separated business types on stdin, one per line, and
// prints the acquisition payload as JSON on stdout. Diagnostics go to stderr.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/bizmap/internal/acquire"
	"github.com/mohammed-shakir/bizmap/internal/core/config"
	"github.com/mohammed-shakir/bizmap/internal/core/httpclient"
	"github.com/mohammed-shakir/bizmap/internal/core/model"
	"github.com/mohammed-shakir/bizmap/internal/logger"
)

func main() {
	os.Exit(run(os.Stdin, os.Stdout, os.Stderr))
}

func readRequest(r io.Reader) (model.AcquireRequest, error) {
	sc := bufio.NewScanner(r)
	lines := make([]string, 0, 4)
	for len(lines) < 4 && sc.Scan() {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return model.AcquireRequest{}, err
	}
	if len(lines) < 2 || lines[0] == "" || lines[1] == "" {
		return model.AcquireRequest{}, fmt.Errorf("expected city and state on the first two lines")
	}
	for len(lines) < 4 {
		lines = append(lines, "")
	}
	return model.AcquireRequest{
		City:          lines[0],
		State:         lines[1],
		Title:         lines[2],
		BusinessTypes: config.SplitCSV(lines[3]),
	}, nil
}

func run(stdin io.Reader, stdout, stderr io.Writer) int {
	_ = godotenv.Load()
	cfg := config.ProcessFromEnv()

	log := logger.New(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Service:   "bizmap",
		Component: "acquire",
	}, stderr)

	req, err := readRequest(stdin)
	if err != nil {
		log.Error("bad input", "err", err)
		return 1
	}
	if cfg.LocalSearchKey == "" {
		log.Error("LOCALSEARCH_KEY is not set")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := httpclient.NewOutbound(cfg.RequestTimeout)
	c := acquire.NewCollector(
		acquire.NewGeocoder(client, cfg.NominatimURL, cfg.UserAgent),
		acquire.NewLocalSearch(client, cfg.LocalSearchURL, cfg.LocalSearchKey, cfg.MaxResults),
		acquire.Options{GridLat: cfg.GridLat, GridLon: cfg.GridLon, Concurrency: cfg.Concurrency, Logger: log},
	)

	acq, err := c.Acquire(ctx, req)
	if err != nil {
		log.Error("acquisition failed", "err", err)
		return 1
	}
	if err := json.NewEncoder(stdout).Encode(acq); err != nil {
		log.Error("write payload", "err", err)
		return 1
	}
	return 0
}
