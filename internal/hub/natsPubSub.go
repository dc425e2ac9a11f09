package hub

import (
	"chatrelay-backend/internal/models"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const natsSubjectPrefix = "chat.room."

// NatsPubSub is the nats alternative to RedisPubSub.
type NatsPubSub struct {
	nc    *nats.Conn
	local *LocalPubSub
	sugar *zap.SugaredLogger
}

func NewNatsPubSub(nc *nats.Conn, local *LocalPubSub, sugar *zap.SugaredLogger) *NatsPubSub {
	return &NatsPubSub{nc: nc, local: local, sugar: sugar}
}

// natsSubject maps channel:5 to chat.room.channel.5
func natsSubject(room models.RoomID) string {
	return fmt.Sprintf("%s%s.%d", natsSubjectPrefix, room.Kind, room.ID)
}

func roomFromNatsSubject(subject string) (models.RoomID, error) {
	rest, found := strings.CutPrefix(subject, natsSubjectPrefix)
	if !found {
		return models.RoomID{}, fmt.Errorf("nats subject [%s] isn't a room", subject)
	}

	kind, rawID, found := strings.Cut(rest, ".")
	if !found {
		return models.RoomID{}, fmt.Errorf("nats subject [%s] has no room ID", subject)
	}

	if _, err := strconv.ParseInt(rawID, 10, 64); err != nil {
		return models.RoomID{}, fmt.Errorf("nats subject [%s] has an invalid room ID", subject)
	}
	return models.ParseRoomID(kind + ":" + rawID)
}

func (ps *NatsPubSub) Publish(_ context.Context, event models.Event) error {
	frame, err := event.Frame()
	if err != nil {
		return err
	}
	return ps.nc.Publish(natsSubject(event.Room), frame)
}

// Run delivers room events until ctx is done. A nats subscription calls
// its handler from one goroutine, so publish order is kept.
func (ps *NatsPubSub) Run(ctx context.Context) error {
	sub, err := ps.nc.Subscribe(natsSubjectPrefix+">", func(msg *nats.Msg) {
		room, err := roomFromNatsSubject(msg.Subject)
		if err != nil {
			ps.sugar.Warn(err)
			return
		}
		ps.local.Deliver(room, msg.Data)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	ps.sugar.Info("Subscribed to nats room subjects")

	<-ctx.Done()
	return nil
}
