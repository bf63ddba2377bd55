package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pocketping/hub/pkg/chat"
)

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// IDSaver persists the native IDs a bridge returns after mirroring a
// message. The store satisfies it.
type IDSaver interface {
	SaveBridgeMessageIDs(ctx context.Context, messageID string, ids chat.BridgeMessageIDs) error
}

// dispatchTimeout bounds one bridge's handling of one event.
const dispatchTimeout = 5 * time.Second

// Registry owns the set of configured bridges and dispatches hub events to
// them. Dispatch is concurrent (one goroutine per bridge), echo-suppressed
// (the bridge an event originated from is skipped), and isolated: a slow,
// failing or panicking bridge never affects the others or the caller.
type Registry struct {
	mu                 sync.RWMutex
	bridges            []Bridge
	saver              IDSaver
	logger             *zap.Logger
	mirrorReadReceipts bool
	wg                 sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithReadReceipts makes the registry forward read receipts to bridges
// that implement ReadNotifier.
func WithReadReceipts() Option {
	return func(r *Registry) { r.mirrorReadReceipts = true }
}

func NewRegistry(saver IDSaver, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{saver: saver, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a bridge. Names must be unique.
func (r *Registry) Register(b Bridge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.bridges {
		if existing.Name() == b.Name() {
			return fmt.Errorf("bridge %q already registered", b.Name())
		}
	}
	r.bridges = append(r.bridges, b)
	return nil
}

// Unregister removes a bridge by name. Returns false when no bridge with
// that name is registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.bridges {
		if b.Name() == name {
			r.bridges = append(r.bridges[:i], r.bridges[i+1:]...)
			return true
		}
	}
	return false
}

// Names lists the registered bridge names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.bridges))
	for i, b := range r.bridges {
		out[i] = b.Name()
	}
	return out
}

func (r *Registry) snapshot() []Bridge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Bridge(nil), r.bridges...)
}

// NotifyNewSession announces a session to every bridge, exactly once each.
func (r *Registry) NotifyNewSession(ctx context.Context, session *chat.Session) {
	for _, b := range r.snapshot() {
		r.dispatch(ctx, b, "new_session", func(ctx context.Context, b Bridge) error {
			return b.OnNewSession(ctx, session)
		})
	}
}

// NotifyVisitorMessage mirrors a visitor message to every bridge except
// the one named by sourceBridge.
func (r *Registry) NotifyVisitorMessage(ctx context.Context, session *chat.Session, msg *chat.Message, sourceBridge string) {
	r.notifyMessage(ctx, session, msg, sourceBridge, "visitor_message", Bridge.OnVisitorMessage)
}

// NotifyOperatorMessage mirrors an operator or AI message to every bridge
// except the one it came in from.
func (r *Registry) NotifyOperatorMessage(ctx context.Context, session *chat.Session, msg *chat.Message, sourceBridge string) {
	r.notifyMessage(ctx, session, msg, sourceBridge, "operator_message", Bridge.OnOperatorMessage)
}

func (r *Registry) notifyMessage(
	ctx context.Context,
	session *chat.Session,
	msg *chat.Message,
	sourceBridge string,
	event string,
	call func(Bridge, context.Context, *chat.Session, *chat.Message) Result,
) {
	for _, b := range r.snapshot() {
		if b.Name() == sourceBridge {
			continue
		}
		r.dispatch(ctx, b, event, func(ctx context.Context, b Bridge) error {
			res := call(b, ctx, session, msg)
			r.recordResult(ctx, msg.ID, res)
			return res.Err
		})
	}
}

// NotifyMessageEdit propagates an edit to bridges that support it. Skipped
// bridges are logged.
func (r *Registry) NotifyMessageEdit(ctx context.Context, session *chat.Session, msg *chat.Message, ids chat.BridgeMessageIDs, sourceBridge string) {
	for _, b := range r.snapshot() {
		ed, ok := r.editTarget(b, msg.ID, ids, sourceBridge, "message_edit")
		if !ok {
			continue
		}
		r.dispatch(ctx, b, "message_edit", func(ctx context.Context, b Bridge) error {
			res := ed.OnMessageEdit(ctx, session, msg, ids)
			return res.Err
		})
	}
}

// NotifyMessageDelete propagates a delete to bridges that support it.
func (r *Registry) NotifyMessageDelete(ctx context.Context, session *chat.Session, msg *chat.Message, ids chat.BridgeMessageIDs, sourceBridge string) {
	for _, b := range r.snapshot() {
		ed, ok := r.editTarget(b, msg.ID, ids, sourceBridge, "message_delete")
		if !ok {
			continue
		}
		r.dispatch(ctx, b, "message_delete", func(ctx context.Context, b Bridge) error {
			res := ed.OnMessageDelete(ctx, session, msg, ids)
			return res.Err
		})
	}
}

// editTarget decides whether b takes part in an edit or delete fan-out,
// logging the reason when it does not.
func (r *Registry) editTarget(b Bridge, messageID string, ids chat.BridgeMessageIDs, sourceBridge, event string) (EditDeleter, bool) {
	if b.Name() == sourceBridge {
		return nil, false
	}
	ed, ok := b.(EditDeleter)
	if !ok {
		r.logger.Debug("bridge skipped: edits not supported",
			zap.String("bridge", b.Name()),
			zap.String("event", event),
			zap.String("message_id", messageID))
		return nil, false
	}
	if _, has := ids[b.Name()]; !has {
		r.logger.Debug("bridge skipped: no mirrored copy of message",
			zap.String("bridge", b.Name()),
			zap.String("event", event),
			zap.String("message_id", messageID))
		return nil, false
	}
	return ed, true
}

// NotifyTyping signals visitor typing to every bridge.
func (r *Registry) NotifyTyping(ctx context.Context, session *chat.Session) {
	for _, b := range r.snapshot() {
		r.dispatch(ctx, b, "typing", func(ctx context.Context, b Bridge) error {
			return b.OnTyping(ctx, session)
		})
	}
}

// NotifyIdentityUpdate tells bridges who the visitor turned out to be.
func (r *Registry) NotifyIdentityUpdate(ctx context.Context, session *chat.Session) {
	for _, b := range r.snapshot() {
		in, ok := b.(IdentityNotifier)
		if !ok {
			continue
		}
		r.dispatch(ctx, b, "identity_update", func(ctx context.Context, b Bridge) error {
			return in.OnIdentityUpdate(ctx, session)
		})
	}
}

// NotifyCustomEvent relays a widget custom event.
func (r *Registry) NotifyCustomEvent(ctx context.Context, session *chat.Session, event chat.CustomEvent) {
	for _, b := range r.snapshot() {
		cn, ok := b.(CustomEventNotifier)
		if !ok {
			continue
		}
		r.dispatch(ctx, b, "custom_event", func(ctx context.Context, b Bridge) error {
			return cn.OnCustomEvent(ctx, session, event)
		})
	}
}

// NotifyAITakeover announces that an AI agent took over a session.
func (r *Registry) NotifyAITakeover(ctx context.Context, session *chat.Session, reason string) {
	for _, b := range r.snapshot() {
		an, ok := b.(AINotifier)
		if !ok {
			continue
		}
		r.dispatch(ctx, b, "ai_takeover", func(ctx context.Context, b Bridge) error {
			return an.OnAITakeover(ctx, session, reason)
		})
	}
}

// NotifyMessageRead forwards a read receipt when receipt mirroring is on.
func (r *Registry) NotifyMessageRead(ctx context.Context, session *chat.Session, msg *chat.Message) {
	if !r.mirrorReadReceipts {
		return
	}
	for _, b := range r.snapshot() {
		rn, ok := b.(ReadNotifier)
		if !ok {
			continue
		}
		r.dispatch(ctx, b, "message_read", func(ctx context.Context, b Bridge) error {
			return rn.OnMessageRead(ctx, session, msg)
		})
	}
}

// dispatch runs one bridge call on its own goroutine with a bounded
// lifetime. The timeout context is detached from the caller's cancellation
// so a widget disconnect does not abort an in-flight delivery.
func (r *Registry) dispatch(ctx context.Context, b Bridge, event string, fn func(context.Context, Bridge) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("bridge panicked",
					zap.String("bridge", b.Name()),
					zap.String("event", event),
					zap.Any("panic", rec))
			}
		}()

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		defer cancel()

		if err := fn(callCtx, b); err != nil {
			r.logger.Warn("bridge delivery failed",
				zap.String("bridge", b.Name()),
				zap.String("event", event),
				zap.Error(err))
		}
	}()
}

func (r *Registry) recordResult(ctx context.Context, messageID string, res Result) {
	if !res.OK || len(res.IDs) == 0 {
		return
	}
	if err := r.saver.SaveBridgeMessageIDs(ctx, messageID, res.IDs); err != nil {
		r.logger.Warn("saving bridge message ids failed",
			zap.String("message_id", messageID),
			zap.Error(err))
	}
}

// Wait blocks until all in-flight deliveries finish. Tests and shutdown
// use it.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Shutdown waits for in-flight deliveries, then shuts every bridge down.
func (r *Registry) Shutdown(ctx context.Context) {
	r.Wait()
	for _, b := range r.snapshot() {
		if err := b.Shutdown(ctx); err != nil {
			r.logger.Warn("bridge shutdown failed",
				zap.String("bridge", b.Name()),
				zap.Error(err))
		}
	}
}
