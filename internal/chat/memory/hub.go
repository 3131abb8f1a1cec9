// Package memory is an in-process chat platform. Channels, messages and
// reactions live in memory; remote clients reach it through the socket
// transport and tests drive it directly.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiliankoe/quipdash/internal/chat"
	"github.com/rs/zerolog/log"
)

const deliverTimeout = 2 * time.Second

type EventType string

const (
	EventChannelCreated EventType = "channel:created"
	EventChannelDeleted EventType = "channel:deleted"
	EventChannelUpdated EventType = "channel:updated"
	EventMessageCreated EventType = "message:created"
	EventMessageUpdated EventType = "message:updated"
	EventMessageDeleted EventType = "message:deleted"
	EventReaction       EventType = "reaction"
)

// Event describes a change in the hub for observers such as transports.
type Event struct {
	Type     EventType           `json:"type"`
	Channel  chat.Channel        `json:"channel"`
	Message  *chat.Message       `json:"message,omitempty"`
	Reaction *chat.ReactionEvent `json:"reaction,omitempty"`
	// Audience lists who may see the event; nil means everyone.
	Audience []chat.UserID `json:"-"`
}

type channel struct {
	info     chat.Channel
	owners   map[chat.UserID]bool // view + send, even when read-only
	viewers  map[chat.UserID]bool
	messages map[chat.MessageID]*chat.Message
	seq      map[chat.MessageID]uint64
}

type reactionSub struct {
	channel chat.ChannelID
	message chat.MessageID
	filter  func(chat.ReactionEvent) bool
	sub     *chat.Subscription[chat.ReactionEvent]
}

type messageSub struct {
	channel chat.ChannelID
	filter  func(chat.MessageEvent) bool
	sub     *chat.Subscription[chat.MessageEvent]
}

type Hub struct {
	self chat.User

	mu       sync.RWMutex
	members  map[chat.UserID]chat.Member
	channels map[chat.ChannelID]*channel
	rsubs    map[*reactionSub]struct{}
	msubs    map[*messageSub]struct{}
	watchers []func(Event)
	failures map[string]error
	deletes  map[chat.ChannelID]int
	next     uint64
}

var _ chat.Platform = (*Hub)(nil)

func NewHub(self chat.User) *Hub {
	self.Bot = true
	return &Hub{
		self:     self,
		members:  make(map[chat.UserID]chat.Member),
		channels: make(map[chat.ChannelID]*channel),
		rsubs:    make(map[*reactionSub]struct{}),
		msubs:    make(map[*messageSub]struct{}),
		failures: make(map[string]error),
		deletes:  make(map[chat.ChannelID]int),
	}
}

func (h *Hub) Self() chat.User { return h.self }

// Register adds or refreshes a member. Unknown users cannot be resolved.
func (h *Hub) Register(m chat.Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m.DisplayName == "" {
		m.DisplayName = m.User.Name
	}
	h.members[m.User.ID] = m
}

// Watch registers an observer called for every hub change.
func (h *Hub) Watch(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchers = append(h.watchers, fn)
}

// FailNext makes every subsequent call of op return err until cleared with a
// nil error. Op names match the Platform method names.
func (h *Hub) FailNext(op string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.failures, op)
		return
	}
	h.failures[op] = err
}

// DeleteCalls reports how many times DeleteChannel was called for id.
func (h *Hub) DeleteCalls(id chat.ChannelID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.deletes[id]
}

func (h *Hub) fail(op string) error {
	if err := h.failures[op]; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (h *Hub) Member(ctx context.Context, user chat.UserID) (chat.Member, error) {
	if err := ctx.Err(); err != nil {
		return chat.Member{}, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if err := h.fail("Member"); err != nil {
		return chat.Member{}, err
	}
	m, ok := h.members[user]
	if !ok {
		return chat.Member{}, chat.ErrMemberNotFound
	}
	return m, nil
}

func (h *Hub) CreateCategory(ctx context.Context, name string) (chat.ChannelID, error) {
	return h.create(ctx, "CreateCategory", chat.Channel{Name: name, Kind: chat.KindCategory, Private: true}, nil)
}

func (h *Hub) CreateChannel(ctx context.Context, parent chat.ChannelID, name string, visible ...chat.UserID) (chat.ChannelID, error) {
	return h.create(ctx, "CreateChannel", chat.Channel{Name: name, Kind: chat.KindText, Parent: parent, Private: len(visible) > 0}, visible)
}

func (h *Hub) create(ctx context.Context, op string, info chat.Channel, visible []chat.UserID) (chat.ChannelID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h.mu.Lock()
	if err := h.fail(op); err != nil {
		h.mu.Unlock()
		return "", err
	}
	if info.Parent != "" {
		if _, ok := h.channels[info.Parent]; !ok {
			h.mu.Unlock()
			return "", chat.ErrChannelNotFound
		}
	}
	info.ID = chat.ChannelID(uuid.NewString())
	c := &channel{
		info:     info,
		owners:   make(map[chat.UserID]bool),
		viewers:  make(map[chat.UserID]bool),
		messages: make(map[chat.MessageID]*chat.Message),
		seq:      make(map[chat.MessageID]uint64),
	}
	for _, u := range visible {
		c.owners[u] = true
	}
	h.channels[info.ID] = c
	ev := Event{Type: EventChannelCreated, Channel: info, Audience: c.audience()}
	h.mu.Unlock()

	h.notify(ev)
	return info.ID, nil
}

func (h *Hub) DeleteChannel(ctx context.Context, id chat.ChannelID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	h.deletes[id]++
	if err := h.fail("DeleteChannel"); err != nil {
		h.mu.Unlock()
		return err
	}
	c, ok := h.channels[id]
	if !ok {
		h.mu.Unlock()
		return chat.ErrChannelNotFound
	}
	delete(h.channels, id)
	ev := Event{Type: EventChannelDeleted, Channel: c.info, Audience: c.audience()}
	h.mu.Unlock()

	h.notify(ev)
	return nil
}

func (h *Hub) Channels(ctx context.Context) ([]chat.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]chat.Channel, 0, len(h.channels))
	for _, c := range h.channels {
		out = append(out, c.info)
	}
	slices.SortFunc(out, func(a, b chat.Channel) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out, nil
}

// Channel returns a snapshot of one channel.
func (h *Hub) Channel(id chat.ChannelID) (chat.Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.channels[id]
	if !ok {
		return chat.Channel{}, false
	}
	return c.info, true
}

func (h *Hub) Allow(ctx context.Context, id chat.ChannelID, user chat.UserID) error {
	return h.updateChannel(ctx, "Allow", id, func(c *channel) { c.viewers[user] = true })
}

func (h *Hub) Revoke(ctx context.Context, id chat.ChannelID, user chat.UserID) error {
	return h.updateChannel(ctx, "Revoke", id, func(c *channel) {
		delete(c.viewers, user)
		delete(c.owners, user)
	})
}

func (h *Hub) SetReadOnly(ctx context.Context, id chat.ChannelID) error {
	return h.updateChannel(ctx, "SetReadOnly", id, func(c *channel) { c.info.ReadOnly = true })
}

func (h *Hub) updateChannel(ctx context.Context, op string, id chat.ChannelID, fn func(*channel)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	if err := h.fail(op); err != nil {
		h.mu.Unlock()
		return err
	}
	c, ok := h.channels[id]
	if !ok {
		h.mu.Unlock()
		return chat.ErrChannelNotFound
	}
	fn(c)
	ev := Event{Type: EventChannelUpdated, Channel: c.info, Audience: c.audience()}
	h.mu.Unlock()

	h.notify(ev)
	return nil
}

// CanView reports whether user may see channel id.
func (h *Hub) CanView(id chat.ChannelID, user chat.UserID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.channels[id]
	return ok && c.visibleTo(user)
}

func (h *Hub) Send(ctx context.Context, id chat.ChannelID, out chat.Outgoing) (chat.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg, err := h.post(id, h.self, out.Content, out.Embed, nil, true)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Post publishes a message written by a user, as a client would.
func (h *Hub) Post(ctx context.Context, id chat.ChannelID, author chat.User, content string, attachments ...chat.Attachment) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	return h.post(id, author, content, nil, attachments, false)
}

func (h *Hub) post(id chat.ChannelID, author chat.User, content string, embed *chat.Embed, attachments []chat.Attachment, bot bool) (chat.Message, error) {
	h.mu.Lock()
	op := "Post"
	if bot {
		op = "Send"
	}
	if err := h.fail(op); err != nil {
		h.mu.Unlock()
		return chat.Message{}, err
	}
	c, ok := h.channels[id]
	if !ok || c.info.Kind != chat.KindText {
		h.mu.Unlock()
		return chat.Message{}, chat.ErrChannelNotFound
	}
	if !bot && !c.writableBy(author.ID) {
		h.mu.Unlock()
		return chat.Message{}, chat.ErrForbidden
	}
	msg := &chat.Message{
		ID:          chat.MessageID(uuid.NewString()),
		ChannelID:   id,
		Author:      author,
		Content:     content,
		Embed:       cloneEmbed(embed),
		Attachments: attachments,
		Reactions:   make(map[string][]chat.UserID),
		SentAt:      time.Now().UTC(),
	}
	c.messages[msg.ID] = msg
	h.next++
	c.seq[msg.ID] = h.next
	snapshot := cloneMessage(msg)
	ev := Event{Type: EventMessageCreated, Channel: c.info, Message: &snapshot, Audience: c.audience()}
	subs := h.matchMessages(id, chat.MessageEvent{Message: snapshot})
	h.mu.Unlock()

	h.notify(ev)
	for _, s := range subs {
		if !s.Deliver(chat.MessageEvent{Message: snapshot}, deliverTimeout) && !s.Stopped() {
			log.Warn().Str("channel", string(id)).Msg("message event dropped")
		}
	}
	return snapshot, nil
}

func (h *Hub) Edit(ctx context.Context, id chat.ChannelID, mid chat.MessageID, out chat.Outgoing) error {
	return h.updateMessage(ctx, "Edit", id, mid, func(m *chat.Message) {
		m.Content = out.Content
		m.Embed = cloneEmbed(out.Embed)
	})
}

func (h *Hub) Delete(ctx context.Context, id chat.ChannelID, mid chat.MessageID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	if err := h.fail("Delete"); err != nil {
		h.mu.Unlock()
		return err
	}
	c, ok := h.channels[id]
	if !ok {
		h.mu.Unlock()
		return chat.ErrChannelNotFound
	}
	m, ok := c.messages[mid]
	if !ok {
		h.mu.Unlock()
		return chat.ErrMessageNotFound
	}
	delete(c.messages, mid)
	delete(c.seq, mid)
	snapshot := cloneMessage(m)
	ev := Event{Type: EventMessageDeleted, Channel: c.info, Message: &snapshot, Audience: c.audience()}
	h.mu.Unlock()

	h.notify(ev)
	return nil
}

// Message returns a snapshot of a stored message.
func (h *Hub) Message(id chat.ChannelID, mid chat.MessageID) (chat.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.channels[id]
	if !ok {
		return chat.Message{}, false
	}
	m, ok := c.messages[mid]
	if !ok {
		return chat.Message{}, false
	}
	return cloneMessage(m), true
}

// History returns the channel's messages in the order they were sent.
func (h *Hub) History(id chat.ChannelID) []chat.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.channels[id]
	if !ok {
		return nil
	}
	out := make([]chat.Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, cloneMessage(m))
	}
	slices.SortFunc(out, func(a, b chat.Message) int { return cmp.Compare(c.seq[a.ID], c.seq[b.ID]) })
	return out
}

func (h *Hub) React(ctx context.Context, id chat.ChannelID, mid chat.MessageID, glyph string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.addReaction(id, mid, glyph, h.self, "React")
}

// AddReaction records a user's reaction, as a client would.
func (h *Hub) AddReaction(ctx context.Context, id chat.ChannelID, mid chat.MessageID, glyph string, user chat.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.addReaction(id, mid, glyph, user, "AddReaction")
}

func (h *Hub) addReaction(id chat.ChannelID, mid chat.MessageID, glyph string, user chat.User, op string) error {
	h.mu.Lock()
	if err := h.fail(op); err != nil {
		h.mu.Unlock()
		return err
	}
	c, ok := h.channels[id]
	if !ok {
		h.mu.Unlock()
		return chat.ErrChannelNotFound
	}
	if !user.Bot && !c.visibleTo(user.ID) {
		h.mu.Unlock()
		return chat.ErrForbidden
	}
	m, ok := c.messages[mid]
	if !ok {
		h.mu.Unlock()
		return chat.ErrMessageNotFound
	}
	if !slices.Contains(m.Reactions[glyph], user.ID) {
		m.Reactions[glyph] = append(m.Reactions[glyph], user.ID)
	}
	rev := chat.ReactionEvent{ChannelID: id, MessageID: mid, Glyph: glyph, User: user}
	snapshot := cloneMessage(m)
	ev := Event{Type: EventReaction, Channel: c.info, Message: &snapshot, Reaction: &rev, Audience: c.audience()}
	var subs []*chat.Subscription[chat.ReactionEvent]
	for rs := range h.rsubs {
		if rs.channel == id && rs.message == mid && (rs.filter == nil || rs.filter(rev)) {
			subs = append(subs, rs.sub)
		}
	}
	h.mu.Unlock()

	h.notify(ev)
	for _, s := range subs {
		if !s.Deliver(rev, deliverTimeout) && !s.Stopped() {
			log.Warn().Str("channel", string(id)).Str("glyph", glyph).Msg("reaction event dropped")
		}
	}
	return nil
}

func (h *Hub) Unreact(ctx context.Context, id chat.ChannelID, mid chat.MessageID, glyph string, user chat.UserID) error {
	return h.updateMessage(ctx, "Unreact", id, mid, func(m *chat.Message) {
		users := slices.DeleteFunc(m.Reactions[glyph], func(u chat.UserID) bool { return u == user })
		if len(users) == 0 {
			delete(m.Reactions, glyph)
			return
		}
		m.Reactions[glyph] = users
	})
}

func (h *Hub) updateMessage(ctx context.Context, op string, id chat.ChannelID, mid chat.MessageID, fn func(*chat.Message)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	if err := h.fail(op); err != nil {
		h.mu.Unlock()
		return err
	}
	c, ok := h.channels[id]
	if !ok {
		h.mu.Unlock()
		return chat.ErrChannelNotFound
	}
	m, ok := c.messages[mid]
	if !ok {
		h.mu.Unlock()
		return chat.ErrMessageNotFound
	}
	fn(m)
	snapshot := cloneMessage(m)
	ev := Event{Type: EventMessageUpdated, Channel: c.info, Message: &snapshot, Audience: c.audience()}
	h.mu.Unlock()

	h.notify(ev)
	return nil
}

func (h *Hub) Reactions(id chat.ChannelID, mid chat.MessageID, filter func(chat.ReactionEvent) bool) *chat.Subscription[chat.ReactionEvent] {
	rs := &reactionSub{channel: id, message: mid, filter: filter}
	rs.sub = chat.NewSubscription[chat.ReactionEvent](64, func() {
		h.mu.Lock()
		delete(h.rsubs, rs)
		h.mu.Unlock()
	})
	h.mu.Lock()
	h.rsubs[rs] = struct{}{}
	h.mu.Unlock()
	return rs.sub
}

func (h *Hub) Messages(id chat.ChannelID, filter func(chat.MessageEvent) bool) *chat.Subscription[chat.MessageEvent] {
	ms := &messageSub{channel: id, filter: filter}
	ms.sub = chat.NewSubscription[chat.MessageEvent](64, func() {
		h.mu.Lock()
		delete(h.msubs, ms)
		h.mu.Unlock()
	})
	h.mu.Lock()
	h.msubs[ms] = struct{}{}
	h.mu.Unlock()
	return ms.sub
}

// Subscribers reports the number of live subscriptions, for leak checks.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rsubs) + len(h.msubs)
}

func (h *Hub) matchMessages(id chat.ChannelID, ev chat.MessageEvent) []*chat.Subscription[chat.MessageEvent] {
	var subs []*chat.Subscription[chat.MessageEvent]
	for ms := range h.msubs {
		if (ms.channel == "" || ms.channel == id) && (ms.filter == nil || ms.filter(ev)) {
			subs = append(subs, ms.sub)
		}
	}
	return subs
}

func (h *Hub) notify(ev Event) {
	h.mu.RLock()
	watchers := slices.Clone(h.watchers)
	h.mu.RUnlock()
	for _, fn := range watchers {
		fn(ev)
	}
}

func (c *channel) visibleTo(user chat.UserID) bool {
	if !c.info.Private {
		return true
	}
	return c.owners[user] || c.viewers[user]
}

func (c *channel) writableBy(user chat.UserID) bool {
	if c.owners[user] {
		return true
	}
	return c.visibleTo(user) && !c.info.ReadOnly
}

func (c *channel) audience() []chat.UserID {
	if !c.info.Private {
		return nil
	}
	out := make([]chat.UserID, 0, len(c.owners)+len(c.viewers))
	for u := range c.owners {
		out = append(out, u)
	}
	for u := range c.viewers {
		if !c.owners[u] {
			out = append(out, u)
		}
	}
	return out
}

func cloneEmbed(e *chat.Embed) *chat.Embed {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Fields = slices.Clone(e.Fields)
	if e.Author != nil {
		a := *e.Author
		cp.Author = &a
	}
	return &cp
}

func cloneMessage(m *chat.Message) chat.Message {
	cp := *m
	cp.Embed = cloneEmbed(m.Embed)
	cp.Attachments = slices.Clone(m.Attachments)
	cp.Reactions = make(map[string][]chat.UserID, len(m.Reactions))
	for g, users := range m.Reactions {
		cp.Reactions[g] = slices.Clone(users)
	}
	return cp
}
