package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/shapetiles/internal/core/observability"
	mylog "github.com/mohammed-shakir/shapetiles/internal/logger"
)

// Evictor drops the open handle for an archive so the next read sees the
// republished file.
type Evictor interface {
	Evict(stem string)
}

type SubscriberConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Subscriber consumes archive.published events written by other shapetiles
// processes and evicts the matching archive locally.
type Subscriber struct {
	cfg     SubscriberConfig
	evictor Evictor
	logger  *slog.Logger
}

func NewSubscriber(cfg SubscriberConfig, evictor Evictor, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Subscriber{cfg: cfg, evictor: evictor, logger: logger}
}

// Run consumes until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.evictor == nil {
		return errors.New("events: subscriber has no evictor")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "shapetiles"
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(s.cfg.Brokers, s.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "events")
	handler := &groupHandler{process: s.ProcessOne}
	s.logger.InfoContext(ctx, "event subscriber starting",
		"brokers", s.cfg.Brokers, "topic", s.cfg.Topic, "group", s.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{s.cfg.Topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			s.logger.ErrorContext(ctx, "consume", "topic", s.cfg.Topic, "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
		if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "event subscriber shutting down")
			return nil
		}
	}
}

// ProcessOne handles one message. Undecodable or foreign messages are
// skipped so they cannot stall the partition.
func (s *Subscriber) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev ArchivePublished
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncEventsConsumed("decode_error")
		s.logger.WarnContext(ctx, "skip undecodable event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if ev.Type != TypeArchivePublished || ev.Stem == "" {
		observability.IncEventsConsumed("ignored")
		return nil
	}
	s.evictor.Evict(ev.Stem)
	observability.IncEventsConsumed("evicted")
	s.logger.DebugContext(mylog.WithArchive(ctx, ev.Stem), "archive evicted by event",
		"offset", msg.Offset)
	return nil
}

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

type groupHandler struct {
	process messageProcessor
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks each offset only after the message was processed.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
