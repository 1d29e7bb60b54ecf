package events

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestKafka_PublishesJSON(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, nil)
	mp.ExpectInputWithCheckerFunctionAndSucceed(func(b []byte) error {
		var ev ArchivePublished
		if err := json.Unmarshal(b, &ev); err != nil {
			return err
		}
		if ev.Type != TypeArchivePublished || ev.Stem != "roads" || ev.MaxZoom != 14 {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		if ev.TS.IsZero() {
			return fmt.Errorf("timestamp not set")
		}
		return nil
	})

	p := newKafka(mp, "archive-published", 4, nil)
	p.Publish(ArchivePublished{Stem: "roads", Archive: "/ws/mbtiles/roads.mbtiles", MinZoom: 1, MaxZoom: 14})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// blockingProducer never drains Input, so the publish queue fills up.
type blockingProducer struct {
	sarama.AsyncProducer
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func (b *blockingProducer) Input() chan<- *sarama.ProducerMessage { return b.input }
func (b *blockingProducer) Errors() <-chan *sarama.ProducerError  { return b.errors }

func TestKafka_PublishDoesNotBlockWhenFull(t *testing.T) {
	bp := &blockingProducer{
		input:  make(chan *sarama.ProducerMessage),
		errors: make(chan *sarama.ProducerError),
	}
	p := newKafka(bp, "t", 1, nil)

	done := make(chan struct{})
	go func() {
		for range 50 {
			p.Publish(ArchivePublished{Stem: "s", TS: time.Unix(0, 0)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a full queue")
	}
	// unblock the forwarder and let its goroutines exit
	go func() {
		for range bp.input {
		}
	}()
	close(p.events)
	<-p.stopped
	close(bp.input)
	close(bp.errors)
	<-p.errDone
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	p.Publish(ArchivePublished{Stem: "x"})
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}
