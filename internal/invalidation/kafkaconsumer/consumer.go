// Package kafkaconsumer applies reload events from a Kafka topic to the
// running dashboard.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	obs "github.com/mohammed-shakir/flowmap/internal/core/observability"
	"github.com/mohammed-shakir/flowmap/internal/dataset"
	"github.com/mohammed-shakir/flowmap/internal/invalidation"
	mylog "github.com/mohammed-shakir/flowmap/internal/logger"
)

// Target is what events act on; dashboard.Service implements it.
type Target interface {
	Reload(ctx context.Context) (*dataset.Dataset, error)
	Purge(ctx context.Context) error
}

type Consumer struct {
	cfg     Config
	logger  *slog.Logger
	target  Target
	dataset string
	ver     *revisionDedupe
	zlog    *zerolog.Logger

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
}

// New builds a consumer applying events addressed to datasetName. It logs
// through a child of parent, so the process level, format and sampling
// apply; a nil parent discards output.
func New(cfg Config, parent *zerolog.Logger, target Target, datasetName string) *Consumer {
	base := zerolog.Nop()
	if parent != nil {
		base = *parent
	}
	zl := base.With().Str("subsystem", "kafka_consumer").Logger()
	return &Consumer{
		cfg:     cfg,
		logger:  mylog.NewSlog(&zl),
		target:  target,
		dataset: datasetName,
		ver:     newRevisionDedupe(cfg.DedupeSize),
		zlog:    &zl,
		assign:  map[int32]struct{}{},
	}
}

// Start consumes reload events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.target == nil {
		return errors.New("kafkaconsumer: missing reload target")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	go func() {
		for err := range group.Errors() {
			c.logger.Error("kafka group error", "err", err)
		}
	}()

	handler := &groupHandler{setup: c.onAssign, cleanup: c.onRevoke, process: c.ProcessOne}

	c.logger.Info("kafka reload consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			c.logger.Error("consumer error", "err", err)
			c.zlog.Error().Err(err).
				Strs("brokers", c.cfg.Brokers).
				Str("topic", c.cfg.Topic).
				Msg("kafka consumer error")
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("kafka reload consumer shutting down")
			return nil
		}
	}
}

func (c *Consumer) onAssign(sess sarama.ConsumerGroupSession) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()
	c.assign = map[int32]struct{}{}
	for _, parts := range sess.Claims() {
		for _, p := range parts {
			c.assign[p] = struct{}{}
		}
	}
	c.assigned.Store(true)
}

func (c *Consumer) onRevoke(sarama.ConsumerGroupSession) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()
	c.assigned.Store(false)
	c.assign = map[int32]struct{}{}
}

// Readiness reports whether the consumer holds a partition assignment.
func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	for p := range c.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// ProcessOne applies a single message. Malformed events, events for another
// dataset and events this instance published are skipped; a failed reload or purge returns an error so
// the message is not marked.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	defer func() { obs.ObserveUpstreamLatency("kafka_reload", time.Since(start).Seconds()) }()

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncReloadEvent("unknown", "invalid")
		c.logError(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncReloadEvent(opLabel(ev.Op), "invalid")
		c.logError(ctx, msg, "validate", err)
		return nil
	}
	if !ev.Matches(c.dataset) {
		obs.IncReloadEvent(ev.Op, "skip_dataset")
		return nil
	}
	if c.cfg.Instance != "" && ev.Source == c.cfg.Instance {
		obs.IncReloadEvent(ev.Op, "skip_self")
		return nil
	}
	ctx = mylog.WithDataset(ctx, ev.Dataset)
	key := strings.ToLower(c.dataset)
	if c.ver.stale(key, ev.Revision) {
		obs.IncReloadEvent(ev.Op, "skip_revision")
		c.logger.Debug("stale reload event skipped", "op", ev.Op, "revision", ev.Revision)
		return nil
	}

	if err := c.apply(ctx, ev); err != nil {
		obs.IncReloadEvent(ev.Op, "error")
		c.logError(ctx, msg, ev.Op, err)
		return fmt.Errorf("%s: %w", ev.Op, err)
	}
	c.ver.applied(key, ev.Revision)
	obs.IncReloadEvent(ev.Op, "ok")

	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "reload").
		Str("op", ev.Op).
		Uint64("revision", ev.Revision).
		Dur("took", time.Since(start)).
		Msg("reload event applied")
	return nil
}

func (c *Consumer) apply(ctx context.Context, ev invalidation.Event) error {
	switch ev.Op {
	case invalidation.OpReload:
		_, err := c.target.Reload(ctx)
		return err
	case invalidation.OpPurge:
		return c.target.Purge(ctx)
	default:
		return fmt.Errorf("unsupported op %q", ev.Op)
	}
}

func (c *Consumer) logError(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	mylog.FromContext(ctx, c.zlog).Error().
		Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("kafka error")
}

func opLabel(op string) string {
	switch op {
	case invalidation.OpReload, invalidation.OpPurge:
		return op
	}
	return "unknown"
}
