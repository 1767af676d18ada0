package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Deliverer hands an envelope to locally connected clients
type Deliverer interface {
	Deliver(ctx context.Context, env *Envelope) error
	Evict(ctx context.Context, userID int64, room string) error
}

type evictPayload struct {
	UserID int64 `json:"user_id"`
}

// RedisRelay publishes pushes on a Redis channel and delivers everything
// received on that channel to the local hub, so a push reaches clients on
// every instance.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   Deliverer
	log     logrus.FieldLogger
}

func NewRedisRelay(client *redis.Client, channel string, local Deliverer, log logrus.FieldLogger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, local: local, log: log}
}

// NewRedisClient connects to addr and verifies the connection
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (r *RedisRelay) PushToUser(ctx context.Context, userID int64, event string, payload interface{}) error {
	return r.PushToRoom(ctx, UserRoom(userID), event, payload)
}

func (r *RedisRelay) PushToRoom(ctx context.Context, room, event string, payload interface{}) error {
	env, err := NewEnvelope(room, event, payload)
	if err != nil {
		return err
	}
	return r.publish(ctx, env)
}

// Evict asks every instance to unsubscribe the user's clients from room
func (r *RedisRelay) Evict(ctx context.Context, userID int64, room string) error {
	env, err := NewEnvelope(room, eventEvict, evictPayload{UserID: userID})
	if err != nil {
		return err
	}
	return r.publish(ctx, env)
}

func (r *RedisRelay) publish(ctx context.Context, env *Envelope) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.channel, err)
	}
	return nil
}

// Run relays channel messages to the local hub until ctx is cancelled
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.WithError(err).Warn("dropping malformed relay message")
				continue
			}
			if env.Event == eventEvict {
				var p evictPayload
				if err := json.Unmarshal(env.Data, &p); err != nil {
					r.log.WithError(err).Warn("dropping malformed eviction")
					continue
				}
				if err := r.local.Evict(ctx, p.UserID, env.Room); err != nil {
					r.log.WithError(err).WithField("room", env.Room).Warn("failed to apply relayed eviction")
				}
				continue
			}
			if err := r.local.Deliver(ctx, &env); err != nil {
				r.log.WithError(err).WithField("room", env.Room).Warn("failed to deliver relayed push")
			}
		}
	}
}
