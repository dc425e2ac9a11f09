package hub

import (
	"chatrelay-backend/internal/models"
	"context"

	"go.uber.org/zap"
)

// LocalPubSub delivers events straight to the connections of this process.
// It is the publisher when running self-contained and the delivery end of
// the redis and nats publishers.
type LocalPubSub struct {
	rooms *Rooms
	sugar *zap.SugaredLogger
}

func NewLocalPubSub(rooms *Rooms, sugar *zap.SugaredLogger) *LocalPubSub {
	return &LocalPubSub{rooms: rooms, sugar: sugar}
}

func (ps *LocalPubSub) Publish(_ context.Context, event models.Event) error {
	frame, err := event.Frame()
	if err != nil {
		return err
	}

	ps.Deliver(event.Room, frame)
	return nil
}

// Deliver hands the encoded frame to every current member of the room and
// returns how many accepted it.
func (ps *LocalPubSub) Deliver(room models.RoomID, frame []byte) int {
	members := ps.rooms.MembersOf(room)

	delivered := 0
	for _, conn := range members {
		if conn.Enqueue(frame) {
			delivered++
		} else {
			ps.sugar.Warnf("Dropped frame for connection [%s] in room [%s]", conn.ID, room)
		}
	}

	ps.sugar.Debugf("Sent frame to %d of %d connections in room [%s]", delivered, len(members), room)
	return delivered
}
