// Package kafkaproducer announces local reloads on the reload topic so other
// replicas pick them up.
package kafkaproducer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/flowmap/internal/core/observability"
	"github.com/mohammed-shakir/flowmap/internal/invalidation"
)

type Config struct {
	Brokers []string
	Topic   string
	// Instance is written as the event source; consumers of the same
	// instance skip their own events.
	Instance  string
	QueueSize int
}

type Publisher struct {
	topic    string
	instance string
	logger   *slog.Logger
	now      func() time.Time

	events  chan invalidation.Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
}

func New(cfg Config, logger *slog.Logger) (*Publisher, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_5_0_0
	sc.Producer.Return.Errors = true
	sc.Producer.Return.Successes = false
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	prod, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafkaproducer: create async producer: %w", err)
	}
	return newPublisher(cfg, prod, logger), nil
}

func newPublisher(cfg Config, prod sarama.AsyncProducer, logger *slog.Logger) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:    cfg.Topic,
		instance: cfg.Instance,
		logger:   logger,
		now:      time.Now,
		events:   make(chan invalidation.Event, cfg.QueueSize),
		prod:     prod,
		stopped:  make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				obs.IncReloadPublished(ev.Op, "error")
				p.logger.Error("reload event marshal failed", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Dataset),
				Value: sarama.ByteEncoder(b),
			}
			obs.IncReloadPublished(ev.Op, "sent")
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				obs.IncReloadPublished("unknown", "error")
				p.logger.Warn("reload event producer error", "err", err)
			}
		}
	}()

	return p
}

// AnnounceReload queues a reload event for dataset. It never blocks; the
// event is dropped when the queue is full.
func (p *Publisher) AnnounceReload(dataset string) {
	p.publish(invalidation.Event{
		Version: 1,
		Op:      invalidation.OpReload,
		Dataset: dataset,
		TS:      p.now().UTC(),
		Source:  p.instance,
	})
}

func (p *Publisher) publish(ev invalidation.Event) {
	select {
	case p.events <- ev:
	default:
		obs.IncReloadPublished(ev.Op, "dropped")
		p.logger.Warn("reload event queue full, dropping", "op", ev.Op, "dataset", ev.Dataset)
	}
}

// Close flushes queued events and closes the producer.
func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("kafkaproducer: close producer: %w", err)
	}
	return nil
}
