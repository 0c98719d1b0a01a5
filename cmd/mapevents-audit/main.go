// Command mapevents-audit appends map lifecycle events from Kafka to a
// JSON-lines audit log.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/bizmap/internal/core/config"
	"github.com/mohammed-shakir/bizmap/internal/logger"
	"github.com/mohammed-shakir/bizmap/internal/mapevents"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	out := flag.String("out", "", "audit log path")
	flag.Parse()

	cfg := config.FromEnv()
	if *out != "" {
		cfg.Events.AuditLog = strings.TrimSpace(*out)
	}

	log := logger.New(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Service:   "bizmap",
		Component: "mapevents-audit",
	}, os.Stdout)

	audit, err := mapevents.OpenAuditLog(cfg.Events.AuditLog)
	if err != nil {
		log.Error("audit log unavailable", "path", cfg.Events.AuditLog, "err", err)
		return 1
	}
	defer func() { _ = audit.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := mapevents.NewConsumer(mapevents.ConsumerConfig{
		Brokers:             cfg.Events.Brokers,
		Topic:               cfg.Events.Topic,
		GroupID:             cfg.Events.GroupID,
		InitialOffsetOldest: true,
	}, audit.Append, log)

	if err := c.Start(ctx); err != nil {
		log.Error("consumer exited with error", "err", err)
		return 1
	}
	return 0
}
