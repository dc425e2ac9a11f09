package models_test

import (
	"encoding/json"
	"testing"

	"chatrelay-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFrame(t *testing.T) {
	ev := models.Event{
		Kind: models.EventReactionAdd,
		Room: models.ChannelRoom(1),
		Payload: models.ReactionPayload{
			ChannelID: 1,
			MessageID: 2,
			Emoji:     "👍",
			UserID:    3,
			Seq:       4,
			Version:   5,
		},
	}

	frame, err := ev.Frame()
	require.NoError(t, err)
	assert.Equal(t,
		"reactionAdd\n"+`{"channelID":"1","messageID":"2","emoji":"👍","userID":"3","seq":4,"version":5}`,
		string(frame))
}

func TestEncodeFrameRejectsInboundOnlyKinds(t *testing.T) {
	_, err := models.EncodeFrame(models.EventJoinChannel, models.ChannelRequest{ChannelID: 1})
	assert.Error(t, err)
}

func TestParseFrame(t *testing.T) {
	kind, body, err := models.ParseFrame([]byte("joinChannel\n{\"channelID\":\"12\"}"))
	require.NoError(t, err)
	assert.Equal(t, models.EventJoinChannel, kind)

	var req models.ChannelRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, int64(12), req.ChannelID)
}

func TestParseFrameEmptyBody(t *testing.T) {
	kind, body, err := models.ParseFrame([]byte("ping\n"))
	require.NoError(t, err)
	assert.Equal(t, models.EventPing, kind)
	assert.JSONEq(t, "{}", string(body))
}

func TestParseFrameRejectsUnknownKinds(t *testing.T) {
	for _, frame := range []string{
		"messageCreate\n{}",
		"nonsense\n{}",
		"no separator",
	} {
		_, _, err := models.ParseFrame([]byte(frame))
		assert.Error(t, err, frame)
	}
}
