// Package events publishes archive lifecycle events to Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/shapetiles/internal/core/observability"
)

const TypeArchivePublished = "archive.published"

type ArchivePublished struct {
	Type    string    `json:"type"`
	Stem    string    `json:"stem"`
	Archive string    `json:"archive"`
	MinZoom int       `json:"min_zoom"`
	MaxZoom int       `json:"max_zoom"`
	TS      time.Time `json:"ts"`
}

type Publisher interface {
	Publish(ev ArchivePublished)
	Close() error
}

// Noop is used when events are disabled.
type Noop struct{}

func (Noop) Publish(ArchivePublished) {}
func (Noop) Close() error             { return nil }

type Kafka struct {
	topic   string
	events  chan ArchivePublished
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	stopped chan struct{}
	errDone chan struct{}
}

func NewKafka(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "shapetiles"
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newKafka(prod, topic, queueSize, logger), nil
}

func newKafka(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Kafka {
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Kafka{
		topic:   topic,
		events:  make(chan ArchivePublished, queueSize),
		prod:    prod,
		logger:  logger,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("events: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Stem),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("events: producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish never blocks; the event is dropped when the queue is full.
func (p *Kafka) Publish(ev ArchivePublished) {
	if ev.Type == "" {
		ev.Type = TypeArchivePublished
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case p.events <- ev:
	default:
		observability.IncEventsDropped()
		p.logger.Warn("events: queue full, dropped", "stem", ev.Stem)
	}
}

func (p *Kafka) Close() error {
	close(p.events)
	<-p.stopped

	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
