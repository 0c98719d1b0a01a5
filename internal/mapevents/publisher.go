package mapevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/bizmap/internal/core/model"
	"github.com/mohammed-shakir/bizmap/internal/core/observability"
)

type Options struct {
	Topic     string
	QueueSize int
	Logger    *slog.Logger
	Now       func() time.Time
}

// Publisher queues events and hands them to a sarama AsyncProducer from a
// single goroutine. Publishing never blocks; a full queue drops the event.
type Publisher struct {
	topic string
	log   *slog.Logger
	now   func() time.Time

	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	errDone chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewPublisher(brokers []string, opts Options) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("mapevents: create async producer: %w", err)
	}
	return NewWithProducer(prod, opts), nil
}

// NewWithProducer wraps an existing producer; the publisher owns it from now on.
func NewWithProducer(prod sarama.AsyncProducer, opts Options) *Publisher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Topic == "" {
		opts.Topic = "map-events"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := &Publisher{
		topic:   opts.Topic,
		log:     opts.Logger,
		now:     opts.Now,
		events:  make(chan Event, opts.QueueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Error("mapevents: marshal", "err", err)
				observability.IncMapEvent(ev.Op, "failed")
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(strconv.Itoa(ev.MapID)),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("mapevents: producer error", "err", err)
				observability.IncMapEvent("", "failed")
			}
		}
	}()

	return p
}

func (p *Publisher) Publish(ev Event) {
	if err := ev.Validate(); err != nil {
		p.log.Warn("mapevents: invalid event", "op", ev.Op, "map_id", ev.MapID, "err", err)
		observability.IncMapEvent(ev.Op, "failed")
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
		observability.IncMapEvent(ev.Op, "queued")
	default:
		observability.IncMapEvent(ev.Op, "dropped")
	}
}

func (p *Publisher) event(op string, e model.MapEntry) Event {
	return Event{
		Version: 1,
		Op:      op,
		MapID:   e.ID,
		Title:   e.Title,
		City:    e.City,
		State:   e.State,
		TS:      p.now().UTC(),
	}
}

func (p *Publisher) Created(_ context.Context, e model.MapEntry) {
	p.Publish(p.event(OpCreated, e))
}

func (p *Publisher) TitleUpdated(_ context.Context, e model.MapEntry) {
	p.Publish(p.event(OpTitleUpdated, e))
}

func (p *Publisher) Deleted(_ context.Context, e model.MapEntry) {
	p.Publish(p.event(OpDeleted, e))
}

// Close drains queued events into the producer and closes it.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()

		<-p.stopped
		if cerr := p.prod.Close(); cerr != nil {
			err = fmt.Errorf("mapevents: close producer: %w", cerr)
		}
		<-p.errDone
	})
	return err
}
