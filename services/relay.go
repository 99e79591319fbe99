package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// BoardEventsChannel returns the Pub/Sub channel shared by every server of a
// deployment. Pattern: crm:{namespace}:board_events
func BoardEventsChannel(namespace string) string {
	return fmt.Sprintf("crm:%s:board_events", namespace)
}

// relayEnvelope wraps one push message on its way between servers.
type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Board   string          `json:"board"`
	Payload json.RawMessage `json:"payload"`
}

// Relay fans board events out to the other server instances over Redis
// Pub/Sub so clients connected to different servers see each other.
// Delivery is at-most-once.
type Relay struct {
	rdb     *redis.Client
	channel string
	origin  string
}

// NewRelay creates a relay on the given Redis connection options.
func NewRelay(redisOpts *redis.Options, namespace string) (*Relay, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Relay{
		rdb:     redis.NewClient(redisOpts),
		channel: BoardEventsChannel(namespace),
		origin:  uuid.NewString(),
	}, nil
}

// Origin identifies this server in relayed envelopes.
func (r *Relay) Origin() string {
	return r.origin
}

// Ping verifies Redis connectivity.
func (r *Relay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *Relay) Close() error {
	return r.rdb.Close()
}

// Publish sends payload, a marshalled push message for board, to the other servers.
func (r *Relay) Publish(ctx context.Context, board string, payload []byte) error {
	data, err := json.Marshal(relayEnvelope{Origin: r.origin, Board: board, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal relay envelope: %w", err)
	}

	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish board event: %w", err)
	}
	return nil
}

// Run delivers messages published by other servers until ctx is done. The
// subscription is confirmed before Run starts listening, so ready is closed
// once messages published afterwards will be seen.
func (r *Relay) Run(ctx context.Context, deliver func(board string, payload []byte), ready chan<- struct{}) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Msg("dropping malformed relay envelope")
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			deliver(env.Board, env.Payload)
		}
	}
}
