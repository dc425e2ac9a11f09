package hub

import (
	"chatrelay-backend/internal/models"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisRoomPrefix = "room:"

// RedisPubSub fans events out through redis so every process delivers them
// to its own members of the room.
type RedisPubSub struct {
	client *redis.Client
	local  *LocalPubSub
	sugar  *zap.SugaredLogger
}

func NewRedisPubSub(client *redis.Client, local *LocalPubSub, sugar *zap.SugaredLogger) *RedisPubSub {
	return &RedisPubSub{client: client, local: local, sugar: sugar}
}

func redisChannel(room models.RoomID) string {
	return redisRoomPrefix + room.String()
}

func roomFromRedisChannel(channel string) (models.RoomID, error) {
	key, found := strings.CutPrefix(channel, redisRoomPrefix)
	if !found {
		return models.RoomID{}, fmt.Errorf("redis channel [%s] isn't a room", channel)
	}
	return models.ParseRoomID(key)
}

func (ps *RedisPubSub) Publish(ctx context.Context, event models.Event) error {
	frame, err := event.Frame()
	if err != nil {
		return err
	}

	b64 := base64.StdEncoding.EncodeToString(frame)
	return ps.client.Publish(ctx, redisChannel(event.Room), b64).Err()
}

// Run receives every room's events until ctx is done. Redis delivers the
// messages of one subscription in publish order.
func (ps *RedisPubSub) Run(ctx context.Context) error {
	pubsub := ps.client.PSubscribe(ctx, redisRoomPrefix+"*")
	defer pubsub.Close()

	// wait for the subscription to be confirmed before reporting readiness
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ps.sugar.Info("Subscribed to redis room channels")

	msgCh := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgCh:
			if !ok {
				return nil
			}
			ps.handle(msg.Channel, msg.Payload)
		}
	}
}

func (ps *RedisPubSub) handle(channel string, payload string) {
	room, err := roomFromRedisChannel(channel)
	if err != nil {
		ps.sugar.Warn(err)
		return
	}

	frame, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		ps.sugar.Errorf("Couldn't decode frame from redis channel [%s]: %v", channel, err)
		return
	}

	ps.local.Deliver(room, frame)
}
