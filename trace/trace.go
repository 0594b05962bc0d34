// Package trace implements the message-delivery tracer and run-time
// stats distribution bus referenced by spec.md §6's
// message_delivery_tracer and stats_controller knobs. Events are fanned
// out over an in-process github.com/ThreeDotsLabs/watermill pub/sub
// pair (gochannel), the same publisher/subscriber shape the teacher's
// internal/adapter/pubsub package uses for its AMQP-backed event bus —
// substituted here for watermill's in-process gochannel implementation,
// since shipping trace data across a process boundary is explicitly
// out of scope (SPEC_FULL.md DOMAIN STACK).
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/message"
)

// Topic is the single watermill topic every trace Event is published
// to; subscribers filter by Event.Kind themselves, the way the
// teacher's own single-exchange AMQP wiring routes everything through
// one topic and lets consumers discriminate on message content.
const Topic = "actorkit.trace"

// Kind names what a trace Event reports.
type Kind int

const (
	// KindDelivery reports one message delivered through a mbox this
	// environment owns (spec.md §6 message_delivery_tracer).
	KindDelivery Kind = iota
	// KindStatsSnapshot reports a periodic stats_controller snapshot.
	KindStatsSnapshot
)

// Event is the payload carried on Topic. MsgType is carried as its
// stable String() name rather than message.Type itself: Type's fields
// are unexported reflect.Type/name data with no JSON encoding of their
// own, and a name is all a remote dashboard can use anyway.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	MboxID    id.Mbox   `json:"mbox_id,omitempty"`
	MsgType   string    `json:"msg_type,omitempty"`
}

// Bus is the in-process publisher/subscriber pair every Sink fans its
// events through, and that trace/inspect (or any other observer) reads
// from.
type Bus struct {
	logger *slog.Logger
	pubsub *gochannel.GoChannel
}

// NewBus returns a ready Bus. A nil logger defaults to slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		pubsub: gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logger)),
	}
}

// Publish marshals ev and sends it on Topic.
func (b *Bus) Publish(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("trace: marshal event: %w", err)
	}
	msg := wmmessage.NewMessage(uuid.NewString(), payload)
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("trace: publish event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of decoded Events, closed when ctx is
// cancelled or the Bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	raw, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("trace: subscribe: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range raw {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Error("trace: failed to decode event", "err", err)
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the underlying pub/sub down, closing every subscriber
// channel returned by Subscribe.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Sink adapts a Bus into the env.Tracer shape (spec.md §6
// message_delivery_tracer): env only depends on the duck-typed
// OnDeliver(id.Mbox, message.Type) method, never on this package, to
// avoid an env<->trace import cycle.
type Sink struct {
	bus    *Bus
	logger *slog.Logger
}

// NewSink returns a Sink publishing delivery events onto bus.
func NewSink(bus *Bus, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{bus: bus, logger: logger}
}

// OnDeliver publishes a KindDelivery event for one mbox delivery.
func (s *Sink) OnDeliver(mboxID id.Mbox, msgType message.Type) {
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      KindDelivery,
		Timestamp: time.Now(),
		MboxID:    mboxID,
		MsgType:   msgType.String(),
	}
	if err := s.bus.Publish(ev); err != nil {
		s.logger.Error("trace: failed to publish delivery event", "err", err)
	}
}

// PublishStatsSnapshot publishes a KindStatsSnapshot event carrying no
// payload beyond its timestamp; the stats package attaches the actual
// snapshot by publishing its own message.Instance on the stats
// distribution mbox (spec.md §6 "attach listeners via the stats
// distribution mbox") — this event is only a heartbeat signal that a
// snapshot was taken, for dashboards that want to correlate the two
// streams.
func (s *Sink) PublishStatsSnapshot() {
	ev := Event{ID: uuid.NewString(), Kind: KindStatsSnapshot, Timestamp: time.Now()}
	if err := s.bus.Publish(ev); err != nil {
		s.logger.Error("trace: failed to publish stats snapshot event", "err", err)
	}
}
