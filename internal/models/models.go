package models

type User struct {
	ID          int64  `json:"id,string"`
	UserName    string `json:"userName,omitempty"`
	DisplayName string `json:"displayName"`
}

type Server struct {
	ID      int64  `json:"id,string"`
	OwnerID int64  `json:"ownerID,string"`
	Name    string `json:"name"`
}

// Channel with ServerID 0 is a direct message channel, its members are
// listed in channel_recipients.
type Channel struct {
	ID       int64  `json:"id,string"`
	ServerID int64  `json:"serverID,string,omitempty"`
	Name     string `json:"name"`
}

func (c Channel) IsDirect() bool {
	return c.ServerID == 0
}

type Attachment struct {
	URL         string `json:"url" validate:"required,url,max=512"`
	FileName    string `json:"fileName" validate:"max=255"`
	ContentType string `json:"contentType,omitempty" validate:"max=128"`
	Size        int64  `json:"size" validate:"gte=0"`
}

type ReactionAggregate struct {
	Emoji string  `json:"emoji"`
	Count int     `json:"count"`
	Users []int64 `json:"users"`
}

// Message timestamps are unix milliseconds. EditedAt is zero unless the
// content was changed after creation.
type Message struct {
	ID          int64                        `json:"id,string"`
	ChannelID   int64                        `json:"channelID,string"`
	AuthorID    int64                        `json:"authorID,string"`
	Content     string                       `json:"content"`
	CreatedAt   int64                        `json:"createdAt"`
	EditedAt    int64                        `json:"editedAt,omitempty"`
	Attachments []Attachment                 `json:"attachments"`
	Reactions   map[string]ReactionAggregate `json:"reactions"`
	Deleted     bool                         `json:"-"`
	Version     int64                        `json:"version"`
	Seq         int64                        `json:"seq"`
}

// AddReactionUser keeps Count equal to the size of the user set.
func (m *Message) AddReactionUser(emoji string, userID int64) bool {
	if m.Reactions == nil {
		m.Reactions = make(map[string]ReactionAggregate)
	}

	agg := m.Reactions[emoji]
	for _, id := range agg.Users {
		if id == userID {
			return false
		}
	}

	agg.Emoji = emoji
	agg.Users = append(agg.Users, userID)
	agg.Count = len(agg.Users)
	m.Reactions[emoji] = agg
	return true
}

func (m *Message) RemoveReactionUser(emoji string, userID int64) bool {
	agg, exists := m.Reactions[emoji]
	if !exists {
		return false
	}

	for i, id := range agg.Users {
		if id == userID {
			agg.Users = append(agg.Users[:i], agg.Users[i+1:]...)
			agg.Count = len(agg.Users)
			if agg.Count == 0 {
				delete(m.Reactions, emoji)
			} else {
				m.Reactions[emoji] = agg
			}
			return true
		}
	}
	return false
}

type Status string

const (
	StatusOnline    Status = "online"
	StatusIdle      Status = "idle"
	StatusDND       Status = "dnd"
	StatusInvisible Status = "invisible"
	StatusOffline   Status = "offline"
)

// ExplicitStatuses are the values a user may choose for themselves.
var ExplicitStatuses = []Status{StatusOnline, StatusIdle, StatusDND, StatusInvisible}

type ConfigFile struct {
	Address           string
	Port              string
	BehindNginx       bool
	TlsCert           string
	TlsKey            string
	Cors              bool
	PrintHttpRequests bool
	LogToFile         bool
	LogLevel          string
	JwtSecret         string
	SnowflakeWorkerID int64
	SelfContained     bool
	SqlitePath        string
	DbUser            string
	DbPassword        string
	DbAddress         string
	DbPort            string
	DbDatabase        string

	Broker        string
	RedisAddress  string
	RedisPassword string
	NatsURL       string

	TypingTTLSeconds     int
	TypingSweepMillis    int
	PresenceGraceSeconds int
	MessageRateLimit     float64
	MessageBurst         int
	TypingRateLimit      float64
	TypingBurst          int
	SendBufferSize       int
}
