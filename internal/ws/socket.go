// Package ws lets remote clients take part in the chat hub over Socket.IO.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/kiliankoe/quipdash/internal/chat"
	"github.com/kiliankoe/quipdash/internal/chat/memory"
	"github.com/rs/zerolog/log"
)

const eventName = "chat:event"

var ErrNotIdentified = errors.New("identify first")

type ConnCtx struct {
	User chat.User
}

type Server struct {
	hub *memory.Hub
}

func New(hub *memory.Hub) *Server {
	return &Server{hub: hub}
}

type identifyPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

type postPayload struct {
	ChannelID   chat.ChannelID    `json:"channelId"`
	Content     string            `json:"content"`
	Attachments []chat.Attachment `json:"attachments"`
}

type reactPayload struct {
	ChannelID chat.ChannelID `json:"channelId"`
	MessageID chat.MessageID `json:"messageId"`
	Glyph     string         `json:"glyph"`
}

// Mount attaches the Socket.IO server to the given Gin engine and starts
// forwarding hub events to the clients allowed to see them.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	// chat:identify
	io.OnEvent("/", "chat:identify", func(s socketio.Conn, payload identifyPayload) map[string]any {
		user, err := srv.identify(payload)
		if err != nil {
			return srv.err(s, "bad_request", err.Error())
		}
		s.SetContext(&ConnCtx{User: user})
		s.Join(userRoom(user.ID))
		log.Info().Str("sid", s.ID()).Str("user", string(user.ID)).Msg("chat:identify")
		return map[string]any{"user": user, "channels": srv.channels(user.ID)}
	})

	// chat:channels
	io.OnEvent("/", "chat:channels", func(s socketio.Conn) map[string]any {
		user, ok := connUser(s)
		if !ok {
			return srv.err(s, "unauthorized", ErrNotIdentified.Error())
		}
		return map[string]any{"channels": srv.channels(user.ID)}
	})

	// chat:history
	io.OnEvent("/", "chat:history", func(s socketio.Conn, payload struct {
		ChannelID chat.ChannelID `json:"channelId"`
	}) map[string]any {
		user, ok := connUser(s)
		if !ok {
			return srv.err(s, "unauthorized", ErrNotIdentified.Error())
		}
		msgs, err := srv.history(user.ID, payload.ChannelID)
		if err != nil {
			return srv.err(s, "not_found", err.Error())
		}
		return map[string]any{"messages": msgs}
	})

	// chat:post
	io.OnEvent("/", "chat:post", func(s socketio.Conn, payload postPayload) map[string]any {
		user, ok := connUser(s)
		if !ok {
			return srv.err(s, "unauthorized", ErrNotIdentified.Error())
		}
		msg, err := srv.post(context.Background(), user, payload)
		if err != nil {
			return srv.err(s, "bad_request", err.Error())
		}
		return map[string]any{"messageId": msg.ID}
	})

	// chat:react
	io.OnEvent("/", "chat:react", func(s socketio.Conn, payload reactPayload) map[string]any {
		user, ok := connUser(s)
		if !ok {
			return srv.err(s, "unauthorized", ErrNotIdentified.Error())
		}
		if err := srv.react(context.Background(), user, payload); err != nil {
			return srv.err(s, "bad_request", err.Error())
		}
		return map[string]any{"ok": true}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	srv.hub.Watch(func(ev memory.Event) {
		rooms := eventRooms(ev)
		if rooms == nil {
			io.BroadcastToNamespace("/", eventName, ev)
			return
		}
		for _, room := range rooms {
			io.BroadcastToRoom("/", room, eventName, ev)
		}
	})

	go func() {
		if err := io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket.io server stopped")
		}
	}()

	// Mount to router
	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// Basic CORS preflight for Socket.IO POST
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

func (srv *Server) identify(p identifyPayload) (chat.User, error) {
	id := strings.TrimSpace(p.ID)
	name := strings.TrimSpace(p.Name)
	if id == "" || name == "" {
		return chat.User{}, errors.New("id and name are required")
	}
	if id == string(srv.hub.Self().ID) {
		return chat.User{}, errors.New("that id is reserved")
	}
	user := chat.User{ID: chat.UserID(id), Name: name}
	srv.hub.Register(chat.Member{User: user, DisplayName: name, AvatarURL: p.AvatarURL})
	return user, nil
}

// channels lists the text channels user can see.
func (srv *Server) channels(user chat.UserID) []chat.Channel {
	all, err := srv.hub.Channels(context.Background())
	if err != nil {
		return nil
	}
	out := make([]chat.Channel, 0, len(all))
	for _, c := range all {
		if c.Kind == chat.KindText && srv.hub.CanView(c.ID, user) {
			out = append(out, c)
		}
	}
	return out
}

func (srv *Server) history(user chat.UserID, channel chat.ChannelID) ([]chat.Message, error) {
	if !srv.hub.CanView(channel, user) {
		return nil, chat.ErrChannelNotFound
	}
	return srv.hub.History(channel), nil
}

func (srv *Server) post(ctx context.Context, user chat.User, p postPayload) (chat.Message, error) {
	if strings.TrimSpace(p.Content) == "" && len(p.Attachments) == 0 {
		return chat.Message{}, errors.New("message is empty")
	}
	msg, err := srv.hub.Post(ctx, p.ChannelID, user, p.Content, p.Attachments...)
	if err != nil {
		return chat.Message{}, err
	}
	log.Debug().Str("user", string(user.ID)).Str("channel", string(p.ChannelID)).Msg("chat:post")
	return msg, nil
}

func (srv *Server) react(ctx context.Context, user chat.User, p reactPayload) error {
	if p.Glyph == "" {
		return errors.New("glyph is required")
	}
	return srv.hub.AddReaction(ctx, p.ChannelID, p.MessageID, p.Glyph, user)
}

func (srv *Server) err(s socketio.Conn, code, message string) map[string]any {
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": message}
}

func connUser(s socketio.Conn) (chat.User, bool) {
	ctx, ok := s.Context().(*ConnCtx)
	if !ok || ctx.User.ID == "" {
		return chat.User{}, false
	}
	return ctx.User, true
}

func userRoom(id chat.UserID) string { return "user:" + string(id) }

// eventRooms returns the rooms an event goes to, or nil when everyone may
// see it.
func eventRooms(ev memory.Event) []string {
	if ev.Audience == nil {
		return nil
	}
	rooms := make([]string, len(ev.Audience))
	for i, u := range ev.Audience {
		rooms[i] = userRoom(u)
	}
	return rooms
}
