// Package hub is the orchestration core: it owns session and message
// lifecycles and fans every state change out to widget connections and
// notification bridges.
package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pocketping/hub/pkg/bridge"
	"github.com/pocketping/hub/pkg/broadcast"
	"github.com/pocketping/hub/pkg/chat"
	"github.com/pocketping/hub/pkg/store"
)

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Widget event types pushed through the broadcaster.
const (
	EventMessage        = "message"
	EventMessageEdit    = "message_edited"
	EventMessageDelete  = "message_deleted"
	EventReadReceipt    = "read_receipt"
	EventTyping         = "typing"
	EventOperatorStatus = "operator_status"
	EventIdentity       = "identity_updated"
	EventCustom         = "custom_event"
	EventVersionWarning = "version_warning"
)

// EventHandler receives custom widget events. Handlers registered under
// "*" receive every event.
type EventHandler func(ctx context.Context, event chat.CustomEvent)

// EventSink receives a copy of every hub event for external forwarding.
// The session snapshot travels with the event so receivers can resolve
// who it concerns.
type EventSink interface {
	Forward(ctx context.Context, event string, session *chat.Session, payload interface{})
}

// ---------------------------------------------------------------------------
// Hub
// ---------------------------------------------------------------------------

// Hub coordinates the store, the widget broadcaster and the bridge
// registry. Store mutations for one session are serialized under a
// per-session lock; bridge fan-out happens outside any lock.
type Hub struct {
	store       store.Store
	bridges     *bridge.Registry
	broadcaster *broadcast.Broadcaster
	logger      *zap.Logger
	sink        EventSink
	constraints VersionConstraints
	welcome     string

	locks          sync.Map // sessionID -> *sync.Mutex
	operatorOnline atomic.Bool

	handlersMu sync.RWMutex
	handlers   map[string][]EventHandler
}

// Option configures a Hub.
type Option func(*Hub)

// WithEventSink attaches an external event forwarder.
func WithEventSink(sink EventSink) Option {
	return func(h *Hub) { h.sink = sink }
}

// WithVersionConstraints sets the widget version policy.
func WithVersionConstraints(c VersionConstraints) Option {
	return func(h *Hub) { h.constraints = c }
}

// WithWelcomeMessage sets the greeting returned to connecting widgets.
func WithWelcomeMessage(msg string) Option {
	return func(h *Hub) { h.welcome = msg }
}

func New(st store.Store, bridges *bridge.Registry, broadcaster *broadcast.Broadcaster, logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		store:       st,
		bridges:     bridges,
		broadcaster: broadcaster,
		logger:      logger,
		handlers:    make(map[string][]EventHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) sessionLock(sessionID string) *sync.Mutex {
	mu, _ := h.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (h *Hub) forward(ctx context.Context, event string, session *chat.Session, payload interface{}) {
	if h.sink != nil {
		h.sink.Forward(ctx, event, session, payload)
	}
}

// Broadcaster exposes the widget broadcaster for transport wiring.
func (h *Hub) Broadcaster() *broadcast.Broadcaster { return h.broadcaster }

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

// ConnectParams identifies the connecting widget. SessionID and VisitorID
// come from widget-side storage and may both be stale.
type ConnectParams struct {
	SessionID     string
	VisitorID     string
	Metadata      *chat.SessionMetadata
	Identity      *chat.UserIdentity
	WidgetVersion string
}

// ConnectResult is what a widget needs to render itself after connecting.
type ConnectResult struct {
	Session        *chat.Session   `json:"session"`
	Created        bool            `json:"created"`
	Messages       []*chat.Message `json:"messages"`
	OperatorOnline bool            `json:"operatorOnline"`
	WelcomeMessage string          `json:"welcomeMessage,omitempty"`
	Version        VersionCheck    `json:"version"`
}

// Connect resolves the widget to a session: resume by session ID first,
// then by visitor ID, otherwise create a fresh session. Bridges learn
// about a session exactly once, at creation.
func (h *Hub) Connect(ctx context.Context, params ConnectParams) (*ConnectResult, error) {
	check := CheckWidgetVersion(params.WidgetVersion, h.constraints)
	if !check.CanContinue {
		return &ConnectResult{Version: check, OperatorOnline: h.operatorOnline.Load()}, nil
	}

	now := time.Now().UTC()
	session, created, err := h.resolveSession(ctx, params, now)
	if err != nil {
		return nil, err
	}

	messages, err := h.store.GetMessages(ctx, session.ID, "", 0)
	if err != nil {
		return nil, err
	}

	if created {
		h.bridges.NotifyNewSession(ctx, session)
		h.forward(ctx, "session_created", session, nil)
	}
	if check.Status != VersionOK {
		h.broadcaster.ToSession(session.ID, broadcast.Event{Type: EventVersionWarning, Data: check})
	}

	return &ConnectResult{
		Session:        session,
		Created:        created,
		Messages:       messages,
		OperatorOnline: h.operatorOnline.Load(),
		WelcomeMessage: h.welcome,
		Version:        check,
	}, nil
}

func (h *Hub) resolveSession(ctx context.Context, params ConnectParams, now time.Time) (*chat.Session, bool, error) {
	if params.Metadata != nil {
		chat.ParseUserAgent(params.Metadata)
	}

	if params.SessionID != "" {
		session, err := h.store.GetSession(ctx, params.SessionID)
		if err == nil {
			return h.resumeSession(ctx, session, params, now)
		}
		if err != chat.ErrSessionNotFound {
			return nil, false, err
		}
	}
	if params.VisitorID != "" {
		session, err := h.store.GetSessionByVisitorID(ctx, params.VisitorID)
		if err == nil {
			return h.resumeSession(ctx, session, params, now)
		}
		if err != chat.ErrSessionNotFound {
			return nil, false, err
		}
	}

	visitorID := params.VisitorID
	if visitorID == "" {
		visitorID = uuid.NewString()
	}
	session := &chat.Session{
		ID:           uuid.NewString(),
		VisitorID:    visitorID,
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     params.Metadata,
		Identity:     params.Identity,
	}
	if err := h.store.CreateSession(ctx, session); err != nil {
		return nil, false, err
	}
	h.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("visitor_id", session.VisitorID))
	return session, true, nil
}

func (h *Hub) resumeSession(ctx context.Context, session *chat.Session, params ConnectParams, now time.Time) (*chat.Session, bool, error) {
	lock := h.sessionLock(session.ID)
	lock.Lock()
	defer lock.Unlock()

	session.Touch(now)
	if params.Metadata != nil {
		params.Metadata.MergeServerFields(session.Metadata)
		session.Metadata = params.Metadata
	}
	if params.Identity != nil {
		session.MergeIdentity(params.Identity)
	}
	if err := h.store.UpdateSession(ctx, session); err != nil {
		return nil, false, err
	}
	return session, false, nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// SendMessageParams carries one outgoing message. SourceBridge names the
// bridge an operator message came in from, so fan-out skips it.
type SendMessageParams struct {
	SessionID    string
	Content      string
	Sender       chat.Sender
	SenderName   string
	ReplyTo      string
	Attachments  []chat.Attachment
	SourceBridge string
}

// SendMessage validates, persists and fans out a message. An operator
// message clears the session's AI-active flag: a human has taken over.
func (h *Hub) SendMessage(ctx context.Context, params SendMessageParams) (*chat.Message, error) {
	if !params.Sender.Valid() {
		return nil, chat.ErrInvalidSender
	}
	if err := chat.ValidateContent(params.Content, len(params.Attachments) > 0); err != nil {
		return nil, err
	}

	lock := h.sessionLock(params.SessionID)
	lock.Lock()
	session, err := h.store.GetSession(ctx, params.SessionID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	now := time.Now().UTC()
	msg := &chat.Message{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Content:     params.Content,
		Sender:      params.Sender,
		SenderName:  params.SenderName,
		Status:      chat.StatusSent,
		Timestamp:   now,
		ReplyTo:     params.ReplyTo,
		Attachments: params.Attachments,
	}
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		lock.Unlock()
		return nil, err
	}

	session.Touch(now)
	if params.Sender == chat.SenderOperator && session.AIActive {
		session.AIActive = false
	}
	if err := h.store.UpdateSession(ctx, session); err != nil {
		lock.Unlock()
		return nil, err
	}
	lock.Unlock()

	h.broadcaster.ToSession(session.ID, broadcast.Event{Type: EventMessage, Data: msg})
	switch params.Sender {
	case chat.SenderVisitor:
		h.bridges.NotifyVisitorMessage(ctx, session, msg, params.SourceBridge)
	default:
		h.bridges.NotifyOperatorMessage(ctx, session, msg, params.SourceBridge)
	}
	h.forward(ctx, "message", session, msg)
	return msg, nil
}

// EditMessage rewrites a message's content. Only the original sender may
// edit, and tombstoned messages are immutable.
func (h *Hub) EditMessage(ctx context.Context, sessionID, messageID, content string, sender chat.Sender, sourceBridge string) (*chat.Message, error) {
	if err := chat.ValidateContent(content, false); err != nil {
		return nil, err
	}

	lock := h.sessionLock(sessionID)
	lock.Lock()
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if msg.SessionID != sessionID {
		lock.Unlock()
		return nil, chat.ErrMessageNotFound
	}
	if msg.Sender != sender {
		lock.Unlock()
		return nil, chat.ErrNotMessageSender
	}
	if msg.Deleted() {
		lock.Unlock()
		return nil, chat.ErrMessageDeleted
	}

	now := time.Now().UTC()
	msg.Content = content
	msg.EditedAt = &now
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		lock.Unlock()
		return nil, err
	}
	lock.Unlock()

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ids, err := h.store.GetBridgeMessageIDs(ctx, messageID)
	if err != nil {
		h.logger.Warn("bridge id lookup failed", zap.String("message_id", messageID), zap.Error(err))
		ids = nil
	}

	h.broadcaster.ToSession(sessionID, broadcast.Event{Type: EventMessageEdit, Data: msg})
	h.bridges.NotifyMessageEdit(ctx, session, msg, ids, sourceBridge)
	h.forward(ctx, "message_edited", session, msg)
	return msg, nil
}

// DeleteMessage tombstones a message. Deleting an already-deleted message
// is a no-op.
func (h *Hub) DeleteMessage(ctx context.Context, sessionID, messageID string, sender chat.Sender, sourceBridge string) error {
	lock := h.sessionLock(sessionID)
	lock.Lock()
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		lock.Unlock()
		return err
	}
	if msg.SessionID != sessionID {
		lock.Unlock()
		return chat.ErrMessageNotFound
	}
	if msg.Sender != sender {
		lock.Unlock()
		return chat.ErrNotMessageSender
	}
	if msg.Deleted() {
		lock.Unlock()
		return nil
	}

	now := time.Now().UTC()
	msg.DeletedAt = &now
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		lock.Unlock()
		return err
	}
	lock.Unlock()

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	ids, err := h.store.GetBridgeMessageIDs(ctx, messageID)
	if err != nil {
		ids = nil
	}

	h.broadcaster.ToSession(sessionID, broadcast.Event{Type: EventMessageDelete, Data: map[string]string{
		"sessionId": sessionID,
		"messageId": messageID,
	}})
	h.bridges.NotifyMessageDelete(ctx, session, msg, ids, sourceBridge)
	h.forward(ctx, "message_deleted", session, msg)
	return nil
}

// Messages returns a session's history in order, for pagination.
func (h *Hub) Messages(ctx context.Context, sessionID, after string, limit int) ([]*chat.Message, error) {
	if _, err := h.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return h.store.GetMessages(ctx, sessionID, after, limit)
}

// ---------------------------------------------------------------------------
// Read receipts
// ---------------------------------------------------------------------------

// UpdateReadStatus upgrades delivery status for a batch of messages and
// returns how many were actually upgraded. Downgrades are ignored; read
// implies delivered; the first timestamp for each state sticks.
func (h *Hub) UpdateReadStatus(ctx context.Context, sessionID string, messageIDs []string, status chat.ReadStatus) (int, error) {
	if !status.Valid() {
		return 0, chat.ErrInvalidReadStatus
	}

	lock := h.sessionLock(sessionID)
	lock.Lock()

	now := time.Now().UTC()
	var changed []*chat.Message
	for _, id := range messageIDs {
		msg, err := h.store.GetMessage(ctx, id)
		if err != nil || msg.SessionID != sessionID {
			continue
		}
		var upgraded bool
		switch status {
		case chat.ReadStatusDelivered:
			upgraded = msg.MarkDelivered(now)
		case chat.ReadStatusRead:
			upgraded = msg.MarkRead(now)
		}
		if !upgraded {
			continue
		}
		if err := h.store.SaveMessage(ctx, msg); err != nil {
			lock.Unlock()
			return len(changed), err
		}
		changed = append(changed, msg)
	}
	lock.Unlock()

	if len(changed) == 0 {
		return 0, nil
	}

	h.broadcaster.ToSession(sessionID, broadcast.Event{Type: EventReadReceipt, Data: changed})
	if status == chat.ReadStatusRead {
		if session, err := h.store.GetSession(ctx, sessionID); err == nil {
			for _, msg := range changed {
				h.bridges.NotifyMessageRead(ctx, session, msg)
			}
		}
	}
	return len(changed), nil
}

// ---------------------------------------------------------------------------
// Identity, typing, presence
// ---------------------------------------------------------------------------

// Identify attaches or updates the visitor's claimed identity.
func (h *Hub) Identify(ctx context.Context, sessionID string, identity *chat.UserIdentity) (*chat.Session, error) {
	if identity == nil || identity.ID == "" {
		return nil, chat.ErrIdentityIDRequired
	}

	lock := h.sessionLock(sessionID)
	lock.Lock()
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	session.MergeIdentity(identity)
	session.Touch(time.Now().UTC())
	if err := h.store.UpdateSession(ctx, session); err != nil {
		lock.Unlock()
		return nil, err
	}
	lock.Unlock()

	h.broadcaster.ToSession(sessionID, broadcast.Event{Type: EventIdentity, Data: session.Identity})
	h.bridges.NotifyIdentityUpdate(ctx, session)
	h.forward(ctx, "identity_updated", session, session.Identity)
	return session, nil
}

// TypingParams describes a typing state change.
type TypingParams struct {
	SessionID string      `json:"sessionId"`
	Sender    chat.Sender `json:"sender"`
	IsTyping  bool        `json:"isTyping"`
}

// SetTyping broadcasts a typing indicator. Visitor typing additionally
// pings the bridges so operators see it in their channel.
func (h *Hub) SetTyping(ctx context.Context, params TypingParams) error {
	session, err := h.store.GetSession(ctx, params.SessionID)
	if err != nil {
		return err
	}

	h.broadcaster.ToSession(session.ID, broadcast.Event{Type: EventTyping, Data: params})
	if params.Sender == chat.SenderVisitor && params.IsTyping {
		h.bridges.NotifyTyping(ctx, session)
	}
	return nil
}

// SetOperatorOnline flips global operator presence and tells every live
// widget.
func (h *Hub) SetOperatorOnline(online bool) {
	if h.operatorOnline.Swap(online) == online {
		return
	}
	h.logger.Info("operator presence changed", zap.Bool("online", online))
	h.broadcaster.ToAll(broadcast.Event{Type: EventOperatorStatus, Data: map[string]bool{"online": online}})
}

// OperatorOnline reports current operator presence.
func (h *Hub) OperatorOnline() bool {
	return h.operatorOnline.Load()
}

// SetAIActive marks whether an AI agent currently handles the session.
// Turning it on announces the takeover to the bridges.
func (h *Hub) SetAIActive(ctx context.Context, sessionID string, active bool, reason string) error {
	lock := h.sessionLock(sessionID)
	lock.Lock()
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		lock.Unlock()
		return err
	}
	wasActive := session.AIActive
	session.AIActive = active
	if err := h.store.UpdateSession(ctx, session); err != nil {
		lock.Unlock()
		return err
	}
	lock.Unlock()

	if active && !wasActive {
		h.bridges.NotifyAITakeover(ctx, session, reason)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Custom events
// ---------------------------------------------------------------------------

// OnEvent registers a handler for a named custom event. Use "*" to
// receive all events.
func (h *Hub) OnEvent(name string, handler EventHandler) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[name] = append(h.handlers[name], handler)
}

// DispatchCustomEvent routes a widget-sent event to registered handlers,
// the session's live connections, the bridges and the external sink. The
// session must exist.
func (h *Hub) DispatchCustomEvent(ctx context.Context, event chat.CustomEvent) error {
	session, err := h.store.GetSession(ctx, event.SessionID)
	if err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.runEventHandlers(ctx, event)
	h.broadcaster.ToSession(event.SessionID, broadcast.Event{Type: EventCustom, Data: event})
	h.bridges.NotifyCustomEvent(ctx, session, event)
	h.forward(ctx, event.Name, session, event.Data)
	return nil
}

// BroadcastCustomEvent pushes a server-originated event to every live
// session. No session lock is held; the connection set is a snapshot.
func (h *Hub) BroadcastCustomEvent(ctx context.Context, name string, data map[string]interface{}) {
	event := chat.CustomEvent{Name: name, Data: data, Timestamp: time.Now().UTC()}
	h.runEventHandlers(ctx, event)
	h.broadcaster.ToAll(broadcast.Event{Type: EventCustom, Data: event})
	h.forward(ctx, event.Name, nil, event.Data)
}

func (h *Hub) runEventHandlers(ctx context.Context, event chat.CustomEvent) {
	h.handlersMu.RLock()
	handlers := append(append([]EventHandler(nil), h.handlers[event.Name]...), h.handlers["*"]...)
	h.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, event)
	}
}

// ---------------------------------------------------------------------------
// Inbound correlation
// ---------------------------------------------------------------------------

// ResolveBridgeMessage finds the hub message a bridge mirrored under
// nativeID. Webhook handlers use it to map replies back to sessions.
func (h *Hub) ResolveBridgeMessage(ctx context.Context, bridgeName, nativeID string) (*chat.Message, error) {
	return h.store.MessageByBridgeID(ctx, bridgeName, nativeID)
}

// RecordBridgeMessageID stores a native ID for a message, for inbound
// operator messages whose own native ID must resolve later edits.
func (h *Hub) RecordBridgeMessageID(ctx context.Context, messageID, bridgeName, nativeID string) error {
	return h.store.SaveBridgeMessageIDs(ctx, messageID, chat.BridgeMessageIDs{bridgeName: nativeID})
}

// Session returns one session by ID.
func (h *Hub) Session(ctx context.Context, sessionID string) (*chat.Session, error) {
	return h.store.GetSession(ctx, sessionID)
}

// Sessions lists all sessions, most recently active first.
func (h *Hub) Sessions(ctx context.Context) ([]*chat.Session, error) {
	return h.store.ListSessions(ctx)
}

// CleanupOlderThan removes sessions idle since before the cutoff and
// releases their per-session locks.
func (h *Hub) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	removed, err := h.store.CleanupOlderThan(ctx, cutoff)
	for _, id := range removed {
		h.locks.Delete(id)
	}
	return len(removed), err
}
