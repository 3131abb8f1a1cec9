// Package chat describes the messaging surface games are played on: channels,
// rich messages, reactions and the event streams a game listens to.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrMemberNotFound  = errors.New("member not found")
	ErrForbidden       = errors.New("missing permissions")
)

type (
	UserID    string
	ChannelID string
	MessageID string
)

type User struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
	Bot  bool   `json:"bot"`
}

// Mention renders the platform mention syntax for a user.
func (u User) Mention() string { return "<@" + string(u.ID) + ">" }

// Member is a user as seen from the server the game runs on.
type Member struct {
	User        User   `json:"user"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

type ChannelKind string

const (
	KindText     ChannelKind = "text"
	KindCategory ChannelKind = "category"
)

type Channel struct {
	ID     ChannelID   `json:"id"`
	Name   string      `json:"name"`
	Kind   ChannelKind `json:"kind"`
	Parent ChannelID   `json:"parent,omitempty"`
	// Private channels are visible only to users explicitly allowed in.
	Private  bool `json:"private"`
	ReadOnly bool `json:"readOnly"`
}

// Link renders a clickable channel reference.
func (c ChannelID) Link() string { return "<#" + string(c) + ">" }

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type Author struct {
	Name    string `json:"name"`
	IconURL string `json:"iconUrl"`
}

type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Fields      []Field `json:"fields,omitempty"`
	Color       int     `json:"color"`
	Author      *Author `json:"author,omitempty"`
	Footer      string  `json:"footer,omitempty"`
}

// Outgoing is a rendered message ready to be sent or used to replace an
// existing message.
type Outgoing struct {
	Content string `json:"content,omitempty"`
	Embed   *Embed `json:"embed,omitempty"`
}

type Attachment struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type Message struct {
	ID          MessageID           `json:"id"`
	ChannelID   ChannelID           `json:"channelId"`
	Author      User                `json:"author"`
	Content     string              `json:"content"`
	Embed       *Embed              `json:"embed,omitempty"`
	Attachments []Attachment        `json:"attachments,omitempty"`
	Reactions   map[string][]UserID `json:"reactions,omitempty"`
	SentAt      time.Time           `json:"sentAt"`
}

type ReactionEvent struct {
	ChannelID ChannelID `json:"channelId"`
	MessageID MessageID `json:"messageId"`
	Glyph     string    `json:"glyph"`
	User      User      `json:"user"`
}

type MessageEvent struct {
	Message Message `json:"message"`
}

// Platform is the capability set a game needs from the messaging surface.
type Platform interface {
	// Self is the bot account the platform acts as.
	Self() User
	Member(ctx context.Context, user UserID) (Member, error)

	CreateCategory(ctx context.Context, name string) (ChannelID, error)
	// CreateChannel creates a text channel under parent. A non-empty visible
	// list makes the channel private to those users and the bot.
	CreateChannel(ctx context.Context, parent ChannelID, name string, visible ...UserID) (ChannelID, error)
	DeleteChannel(ctx context.Context, channel ChannelID) error
	Channels(ctx context.Context) ([]Channel, error)
	Allow(ctx context.Context, channel ChannelID, user UserID) error
	Revoke(ctx context.Context, channel ChannelID, user UserID) error
	SetReadOnly(ctx context.Context, channel ChannelID) error

	Send(ctx context.Context, channel ChannelID, msg Outgoing) (MessageID, error)
	Edit(ctx context.Context, channel ChannelID, id MessageID, msg Outgoing) error
	Delete(ctx context.Context, channel ChannelID, id MessageID) error
	React(ctx context.Context, channel ChannelID, id MessageID, glyph string) error
	Unreact(ctx context.Context, channel ChannelID, id MessageID, glyph string, user UserID) error

	Reactions(channel ChannelID, id MessageID, filter func(ReactionEvent) bool) *Subscription[ReactionEvent]
	// Messages streams messages posted in channel, or in every channel when
	// channel is empty.
	Messages(channel ChannelID, filter func(MessageEvent) bool) *Subscription[MessageEvent]
}

// DeleteAfter removes a message once d has elapsed. Failures are only logged.
func DeleteAfter(p Platform, channel ChannelID, id MessageID, d time.Duration) {
	time.AfterFunc(d, func() {
		if err := p.Delete(context.Background(), channel, id); err != nil && !errors.Is(err, ErrChannelNotFound) {
			log.Debug().Err(err).Str("channel", string(channel)).Str("message", string(id)).Msg("delayed delete failed")
		}
	})
}

// SendTemporary posts msg and schedules its removal.
func SendTemporary(ctx context.Context, p Platform, channel ChannelID, msg Outgoing, d time.Duration) {
	id, err := p.Send(ctx, channel, msg)
	if err != nil {
		log.Warn().Err(err).Str("channel", string(channel)).Msg("send notice")
		return
	}
	DeleteAfter(p, channel, id, d)
}

// Text is shorthand for a plain content message.
func Text(content string) Outgoing { return Outgoing{Content: content} }

// Glyphs is a filter helper matching reactions with one of the given glyphs
// from non-bot users.
func Glyphs(glyphs ...string) func(ReactionEvent) bool {
	set := make(map[string]struct{}, len(glyphs))
	for _, g := range glyphs {
		set[g] = struct{}{}
	}
	return func(ev ReactionEvent) bool {
		if ev.User.Bot {
			return false
		}
		_, ok := set[ev.Glyph]
		return ok
	}
}
