package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/afrintel/lms-realtime/internal/events"
)

// Broadcaster is the gateway surface the consumer fans events out through.
type Broadcaster interface {
	BroadcastToRoom(room string, message []byte)
	BroadcastToAll(message []byte)
}

// Consumer bridges the event stream to one instance's WebSocket connections.
// Every coordinator instance runs its own consumer so each delivers every
// broadcast to the sockets it owns; that is what makes running more than one
// instance behind a load balancer safe.
type Consumer struct {
	broadcaster Broadcaster
	nc          interface{ Close() }
	consumer    jetstream.Consumer
	config      Config
	name        string
}

// NewConsumer connects to NATS and creates a per-instance consumer on the
// event stream. The consumer is cleaned up by the server after it goes idle.
func NewConsumer(broadcaster Broadcaster, cfg Config) (*Consumer, error) {
	nc, js, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	name := "coordinator-" + uuid.New().String()[:8]

	stream, err := js.Stream(context.Background(), cfg.StreamName)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(context.Background(), jetstream.ConsumerConfig{
		Name:              name,
		Description:       "challenge gateway WebSocket fan-out",
		FilterSubject:     fmt.Sprintf("%s.>", cfg.SubjectPrefix),
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           30 * time.Second,
		MaxAckPending:     1000,
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	log.Info().
		Str("consumer", name).
		Str("stream", cfg.StreamName).
		Msg("created JetStream consumer")

	return &Consumer{
		broadcaster: broadcaster,
		nc:          nc,
		consumer:    consumer,
		config:      cfg,
		name:        name,
	}, nil
}

// Start consumes events until the context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", c.name).
		Str("stream", c.config.StreamName).
		Msg("starting event consumer")

	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		if err := c.processMessage(msg); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process event")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error().Err(nakErr).Msg("failed to NAK message")
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	log.Info().Str("consumer", c.name).Msg("event consumer shutting down")
	return nil
}

// processMessage turns a bus envelope into a client message and routes it to
// the envelope's room, or to every connection when the room is empty.
func (c *Consumer) processMessage(msg jetstream.Msg) error {
	var env events.Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}

	channel := env.Channel()
	if channel == "" {
		log.Warn().Str("event_type", string(env.Type)).Msg("unknown event type - ignoring")
		return nil
	}

	message, err := json.Marshal(events.ServerMessage{Event: channel, Data: env.Data})
	if err != nil {
		return fmt.Errorf("marshal client message: %w", err)
	}

	if env.Room == "" {
		c.broadcaster.BroadcastToAll(message)
	} else {
		c.broadcaster.BroadcastToRoom(env.Room, message)
	}

	log.Debug().
		Str("event_id", env.ID).
		Str("event_type", string(env.Type)).
		Str("room", env.Room).
		Msg("event fanned out")
	return nil
}

// Close drains the NATS connection.
func (c *Consumer) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
