package models

import (
	"fmt"
	"strconv"
	"strings"
)

type RoomKind uint8

const (
	RoomChannel RoomKind = iota + 1
	RoomServer
)

func (k RoomKind) String() string {
	switch k {
	case RoomChannel:
		return "channel"
	case RoomServer:
		return "server"
	default:
		return "unknown"
	}
}

// RoomID is the fan-out unit. The zero value is not a valid room.
type RoomID struct {
	Kind RoomKind
	ID   int64
}

func ChannelRoom(channelID int64) RoomID {
	return RoomID{Kind: RoomChannel, ID: channelID}
}

func ServerRoom(serverID int64) RoomID {
	return RoomID{Kind: RoomServer, ID: serverID}
}

func (r RoomID) Valid() bool {
	return (r.Kind == RoomChannel || r.Kind == RoomServer) && r.ID > 0
}

func (r RoomID) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

func ParseRoomID(s string) (RoomID, error) {
	kind, rawID, found := strings.Cut(s, ":")
	if !found {
		return RoomID{}, fmt.Errorf("room ID %q has no kind prefix", s)
	}

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return RoomID{}, fmt.Errorf("room ID %q has an invalid numeric part", s)
	}

	switch kind {
	case "channel":
		return ChannelRoom(id), nil
	case "server":
		return ServerRoom(id), nil
	default:
		return RoomID{}, fmt.Errorf("room ID %q has unknown kind %q", s, kind)
	}
}

func (r RoomID) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("can't marshal invalid room ID")
	}
	return []byte(r.String()), nil
}

func (r *RoomID) UnmarshalText(text []byte) error {
	parsed, err := ParseRoomID(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
