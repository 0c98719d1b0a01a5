// Command smoke checks that the services a bizmap deployment depends on are
// reachable: redis, the map server, kafka and the h3 library.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/bizmap/internal/cache/redisstore"
	"github.com/mohammed-shakir/bizmap/internal/core/config"
	"github.com/mohammed-shakir/bizmap/internal/core/httpclient"
	"github.com/mohammed-shakir/bizmap/internal/core/model"
	"github.com/mohammed-shakir/bizmap/internal/mapevents"
	h3mapper "github.com/mohammed-shakir/bizmap/internal/mapper/h3"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func checkRedis(ctx context.Context, addr string) error {
	c, err := redisstore.New(ctx, addr, redisstore.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.Set(ctx, "bizmap:smoke", []byte("ok"), 30*time.Second); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	v, ok, err := c.Get(ctx, "bizmap:smoke")
	if err != nil || !ok || string(v) != "ok" {
		return fmt.Errorf("redis get: ok=%v val=%q err=%v", ok, v, err)
	}
	return c.Del(ctx, "bizmap:smoke")
}

func checkServer(ctx context.Context, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/readyz", nil)
	if err != nil {
		return err
	}
	resp, err := httpclient.NewOutbound(10 * time.Second).Do(req)
	if err != nil {
		return fmt.Errorf("readyz: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("readyz status %d: %s", resp.StatusCode, b)
	}
	fmt.Println("readyz:", strings.TrimSpace(string(b)))
	return nil
}

// checkKafka produces one event to topic and reads it back from partition 0.
func checkKafka(brokers []string, topic string) error {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V2_5_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	ev := mapevents.Event{Version: 1, Op: mapevents.OpCreated, MapID: 0, Title: "smoke", TS: time.Now().UTC()}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	part, off, err := prod.SendMessage(&sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(b)})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	consumer, err := sarama.NewConsumer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("consumer create: %w", err)
	}
	defer func() { _ = consumer.Close() }()
	pc, err := consumer.ConsumePartition(topic, part, off)
	if err != nil {
		return fmt.Errorf("consume partition: %w", err)
	}
	defer func() { _ = pc.Close() }()

	select {
	case m := <-pc.Messages():
		var got mapevents.Event
		if err := json.Unmarshal(m.Value, &got); err != nil {
			return fmt.Errorf("decode echoed event: %w", err)
		}
		return got.Validate()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("no message consumed from %s", topic)
	}
}

func checkH3() error {
	m := h3mapper.New()
	cell, err := m.CellForPoint(model.LatLng{Lat: 47.6062, Lng: -122.3321}, 8)
	if err != nil {
		return err
	}
	cells, err := m.CellsForBounds(model.Bounds{South: 47.60, West: -122.34, North: 47.61, East: -122.33}, 8)
	if err != nil {
		return err
	}
	fmt.Printf("h3 cell %s, %d cells in sample box\n", cell, len(cells))
	return nil
}

func main() {
	_ = godotenv.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	checks := []struct {
		name string
		fn   func() error
	}{
		{"redis", func() error { return checkRedis(ctx, getenv("REDIS_ADDR", "localhost:6379")) }},
		{"mapserver", func() error { return checkServer(ctx, getenv("MAPSERVER_URL", "http://localhost:8800")) }},
		{"kafka", func() error {
			return checkKafka(config.SplitCSV(getenv("KAFKA_BROKERS", "localhost:9092")), getenv("SMOKE_TOPIC", "map-events-smoke"))
		}},
		{"h3", checkH3},
	}

	failed := 0
	for _, c := range checks {
		if err := c.fn(); err != nil {
			fmt.Printf("%-9s FAIL %v\n", c.name, err)
			failed++
			continue
		}
		fmt.Printf("%-9s ok\n", c.name)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
