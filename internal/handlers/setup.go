package handlers

import (
	"chatrelay-backend/internal/database"
	"chatrelay-backend/internal/guilds"
	"chatrelay-backend/internal/hub"
	"chatrelay-backend/internal/jwt"
	"chatrelay-backend/internal/keyValue"
	"chatrelay-backend/internal/messaging"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/presence"
	"chatrelay-backend/internal/typing"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Deps struct {
	Sugar    *zap.SugaredLogger
	Store    *database.Store
	Keeper   *jwt.Keeper
	KeyValue keyValue.Store
	Registry *hub.Registry
	Rooms    *hub.Rooms
	Messages *messaging.Service
	Typing   *typing.Aggregator
	Presence *presence.Coordinator
	Guilds   *guilds.Service
}

type Handlers struct {
	sugar    *zap.SugaredLogger
	store    *database.Store
	keeper   *jwt.Keeper
	kv       keyValue.Store
	registry *hub.Registry
	rooms    *hub.Rooms
	messages *messaging.Service
	typing   *typing.Aggregator
	presence *presence.Coordinator
	guilds   *guilds.Service
	upgrader websocket.Upgrader
}

func New(deps Deps) *Handlers {
	return &Handlers{
		sugar:    deps.Sugar,
		store:    deps.Store,
		keeper:   deps.Keeper,
		kv:       deps.KeyValue,
		registry: deps.Registry,
		rooms:    deps.Rooms,
		messages: deps.Messages,
		typing:   deps.Typing,
		presence: deps.Presence,
		guilds:   deps.Guilds,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (h *Handlers) Router(cfg *models.ConfigFile) http.Handler {
	r := chi.NewRouter()

	if cfg.Cors {
		r.Use(AllowCors)
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	if cfg.PrintHttpRequests {
		r.Use(middleware.Logger)
	}

	r.Use(middleware.Recoverer)

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(60 * time.Second))

		api.Get("/test", h.Test)

		api.Group(func(r chi.Router) {
			r.Use(h.UserVerifier)

			r.Patch("/auth/status", h.SetStatus)

			r.Route("/users", func(r chi.Router) {
				r.Get("/status", h.GetStatuses)
				r.Get("/{userID}/status", h.GetStatus)
				r.Post("/{userID}/channels", h.CreateDirectChannel)
			})

			r.Route("/servers", func(r chi.Router) {
				r.Post("/", h.CreateServer)
				r.Post("/{serverID}/channels", h.CreateChannel)
				r.Put("/{serverID}/members/@me", h.JoinServer)
				r.Delete("/{serverID}/members/@me", h.LeaveServer)
			})

			r.Route("/channels/{channelID}", func(r chi.Router) {
				r.Delete("/", h.DeleteChannel)

				r.Post("/typing", h.StartTyping)
				r.Get("/typing", h.GetTypers)

				r.Post("/messages", h.CreateMessage)
				r.Get("/messages", h.GetMessageList)

				r.Route("/messages/{messageID}", func(r chi.Router) {
					r.Get("/", h.GetMessage)
					r.Patch("/", h.EditMessage)
					r.Delete("/", h.DeleteMessage)

					r.Put("/reactions/{emoji}/@me", h.AddReaction)
					r.Delete("/reactions/{emoji}/{userID}", h.RemoveReaction)
				})
			})
		})
	})

	var websocketPath string
	if cfg.BehindNginx {
		websocketPath = "/ws/"
	} else {
		websocketPath = "/ws"
	}

	// no timeout, the socket lives as long as the client stays
	r.Get(websocketPath, h.HandleWebSocket)

	return r
}
