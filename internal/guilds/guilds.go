package guilds

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/hub"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/validator"
	"context"
	"time"

	"go.uber.org/zap"
)

type Store interface {
	CreateServer(ctx context.Context, server models.Server, since int64) error
	ServerByID(ctx context.Context, serverID int64) (models.Server, error)
	AddServerMember(ctx context.Context, serverID int64, userID int64, since int64) (bool, error)
	RemoveServerMember(ctx context.Context, serverID int64, userID int64) (bool, error)
	CreateChannel(ctx context.Context, channel models.Channel) error
	CreateDirectChannel(ctx context.Context, channel models.Channel, recipients []int64) error
	DeleteChannel(ctx context.Context, channelID int64) error
	ChannelByID(ctx context.Context, channelID int64) (models.Channel, error)
	ChannelsOfServer(ctx context.Context, serverID int64) ([]int64, error)
	UserByID(ctx context.Context, userID int64) (models.User, error)
}

type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

type Connections interface {
	ConnectionsForUser(userID int64) []*hub.Connection
}

type Rooms interface {
	JoinTrusted(conn *hub.Connection, room models.RoomID) bool
	LeaveUser(userID int64, rooms ...models.RoomID) int
	Clear(room models.RoomID) int
}

type IDGenerator interface {
	Generate() (int64, error)
}

// Service changes servers, channels and memberships, then tells the
// affected rooms and updates live subscriptions to match.
type Service struct {
	store       Store
	publisher   Publisher
	connections Connections
	rooms       Rooms
	ids         IDGenerator
	sugar       *zap.SugaredLogger
	now         func() time.Time
}

func New(store Store, publisher Publisher, connections Connections, rooms Rooms, ids IDGenerator, sugar *zap.SugaredLogger) *Service {
	return &Service{
		store:       store,
		publisher:   publisher,
		connections: connections,
		rooms:       rooms,
		ids:         ids,
		sugar:       sugar,
		now:         time.Now,
	}
}

type ServerRequest struct {
	Name string `json:"name" validate:"required,min=1,max=64"`
}

type ChannelRequest struct {
	Name string `json:"name" validate:"required,min=1,max=32"`
}

func (s *Service) publish(ctx context.Context, kind models.EventKind, room models.RoomID, payload any) {
	if err := s.publisher.Publish(ctx, models.Event{Kind: kind, Room: room, Payload: payload}); err != nil {
		s.sugar.Errorf("Couldn't publish %s to room [%s]: %v", kind, room, err)
	}
}

// subscribe puts every live connection of the user into the room.
func (s *Service) subscribe(userID int64, room models.RoomID) {
	for _, conn := range s.connections.ConnectionsForUser(userID) {
		s.rooms.JoinTrusted(conn, room)
	}
}

func (s *Service) requireOwner(ctx context.Context, userID int64, serverID int64) (models.Server, error) {
	server, err := s.store.ServerByID(ctx, serverID)
	if err != nil {
		return models.Server{}, err
	}
	if server.OwnerID != userID {
		return models.Server{}, errs.Wrap(errs.ErrForbidden, "only the owner can manage server [%d]", serverID)
	}
	return server, nil
}

func (s *Service) CreateServer(ctx context.Context, ownerID int64, request ServerRequest) (models.Server, error) {
	if err := validator.Struct(request); err != nil {
		return models.Server{}, err
	}

	serverID, err := s.ids.Generate()
	if err != nil {
		return models.Server{}, err
	}

	server := models.Server{ID: serverID, OwnerID: ownerID, Name: request.Name}
	if err := s.store.CreateServer(ctx, server, s.now().UnixMilli()); err != nil {
		return models.Server{}, err
	}

	s.subscribe(ownerID, models.ServerRoom(serverID))
	s.sugar.Debugf("User ID [%d] created server ID [%d]", ownerID, serverID)

	return server, nil
}

func (s *Service) CreateChannel(ctx context.Context, actorID int64, serverID int64, request ChannelRequest) (models.Channel, error) {
	if err := validator.Struct(request); err != nil {
		return models.Channel{}, err
	}
	if _, err := s.requireOwner(ctx, actorID, serverID); err != nil {
		return models.Channel{}, err
	}

	channelID, err := s.ids.Generate()
	if err != nil {
		return models.Channel{}, err
	}

	channel := models.Channel{ID: channelID, ServerID: serverID, Name: request.Name}
	if err := s.store.CreateChannel(ctx, channel); err != nil {
		return models.Channel{}, err
	}

	s.publish(ctx, models.EventChannelCreate, models.ServerRoom(serverID), channel)
	return channel, nil
}

// DeleteChannel removes a server channel with its messages. Direct channels
// can't be deleted.
func (s *Service) DeleteChannel(ctx context.Context, actorID int64, channelID int64) error {
	channel, err := s.store.ChannelByID(ctx, channelID)
	if err != nil {
		return err
	}
	if channel.IsDirect() {
		return errs.Wrap(errs.ErrForbidden, "direct channel [%d] can't be deleted", channelID)
	}
	if _, err := s.requireOwner(ctx, actorID, channel.ServerID); err != nil {
		return err
	}

	if err := s.store.DeleteChannel(ctx, channelID); err != nil {
		return err
	}

	s.publish(ctx, models.EventChannelDelete, models.ServerRoom(channel.ServerID), models.ChannelDeletePayload{ServerID: channel.ServerID, ChannelID: channelID})
	s.rooms.Clear(models.ChannelRoom(channelID))

	return nil
}

// JoinServer is a no-op for existing members.
func (s *Service) JoinServer(ctx context.Context, userID int64, serverID int64) error {
	if _, err := s.store.ServerByID(ctx, serverID); err != nil {
		return err
	}

	added, err := s.store.AddServerMember(ctx, serverID, userID, s.now().UnixMilli())
	if err != nil {
		return err
	}
	if !added {
		return nil
	}

	room := models.ServerRoom(serverID)
	s.subscribe(userID, room)
	s.publish(ctx, models.EventServerMemberJoin, room, models.MemberPayload{ServerID: serverID, UserID: userID})

	return nil
}

// LeaveServer drops the user's live subscriptions to the server and its
// channels after telling the server. The owner can't leave.
func (s *Service) LeaveServer(ctx context.Context, userID int64, serverID int64) error {
	server, err := s.store.ServerByID(ctx, serverID)
	if err != nil {
		return err
	}
	if server.OwnerID == userID {
		return errs.Wrap(errs.ErrConflict, "owner can't leave server [%d]", serverID)
	}

	removed, err := s.store.RemoveServerMember(ctx, serverID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	channels, err := s.store.ChannelsOfServer(ctx, serverID)
	if err != nil {
		return err
	}

	room := models.ServerRoom(serverID)
	s.publish(ctx, models.EventServerMemberLeave, room, models.MemberPayload{ServerID: serverID, UserID: userID})

	rooms := []models.RoomID{room}
	for _, channelID := range channels {
		rooms = append(rooms, models.ChannelRoom(channelID))
	}
	s.rooms.LeaveUser(userID, rooms...)

	return nil
}

// CreateDirectChannel opens a channel only the two users can see.
func (s *Service) CreateDirectChannel(ctx context.Context, userID int64, recipientID int64) (models.Channel, error) {
	if userID == recipientID {
		return models.Channel{}, errs.Wrap(errs.ErrInvalid, "can't message yourself")
	}

	recipient, err := s.store.UserByID(ctx, recipientID)
	if err != nil {
		return models.Channel{}, err
	}

	channelID, err := s.ids.Generate()
	if err != nil {
		return models.Channel{}, err
	}

	channel := models.Channel{ID: channelID, Name: recipient.UserName}
	if err := s.store.CreateDirectChannel(ctx, channel, []int64{userID, recipientID}); err != nil {
		return models.Channel{}, err
	}

	room := models.ChannelRoom(channelID)
	s.subscribe(userID, room)
	s.subscribe(recipientID, room)
	s.publish(ctx, models.EventChannelCreate, room, channel)

	return channel, nil
}
