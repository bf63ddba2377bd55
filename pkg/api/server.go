// Package api exposes the widget-facing HTTP surface: REST endpoints,
// the realtime websocket, and inbound webhooks for the bridge channels.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/pocketping/hub/pkg/chat"
	"github.com/pocketping/hub/pkg/hub"
	"github.com/pocketping/hub/pkg/ipfilter"
)

// Server wires the hub into HTTP.
type Server struct {
	hub      *hub.Hub
	logger   *zap.Logger
	filter   *ipfilter.Filter
	webhooks *WebhookHandlers
	origins  []string
	http     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithIPFilter installs a client IP filter on all widget routes.
func WithIPFilter(f *ipfilter.Filter) Option {
	return func(s *Server) { s.filter = f }
}

// WithWebhooks mounts the inbound bridge webhook routes.
func WithWebhooks(w *WebhookHandlers) Option {
	return func(s *Server) { s.webhooks = w }
}

// WithAllowedOrigins restricts CORS and websocket origins.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

func NewServer(h *hub.Hub, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		hub:     h,
		logger:  logger,
		origins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Widget-Version"},
		ExposedHeaders:   []string{"X-PocketPing-Version-Status", "X-PocketPing-Latest-Version", "X-PocketPing-Version-Message"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.filter != nil {
			r.Use(s.ipFilterMiddleware)
		}
		r.Post("/api/connect", s.handleConnect)
		r.Get("/api/ws", s.handleWebSocket)
		r.Get("/api/presence", s.handlePresence)
		r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/messages", s.handleGetMessages)
			r.Post("/messages", s.handleSendMessage)
			r.Patch("/messages/{messageID}", s.handleEditMessage)
			r.Delete("/messages/{messageID}", s.handleDeleteMessage)
			r.Post("/read", s.handleReadStatus)
			r.Post("/typing", s.handleTyping)
			r.Post("/identify", s.handleIdentify)
			r.Post("/events", s.handleCustomEvent)
		})
	})

	if s.webhooks != nil {
		s.webhooks.Mount(r)
	}
	return r
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) ipFilterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ipfilter.ClientIP(r)
		decision := s.filter.Check(ip)
		if !decision.Allowed {
			s.logger.Info("request blocked",
				zap.String("ip", ip),
				zap.String("path", r.URL.Path),
				zap.String("reason", string(decision.Reason)))
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type connectRequest struct {
	SessionID string                `json:"sessionId,omitempty"`
	VisitorID string                `json:"visitorId,omitempty"`
	Metadata  *chat.SessionMetadata `json:"metadata,omitempty"`
	Identity  *chat.UserIdentity    `json:"identity,omitempty"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Metadata == nil {
		req.Metadata = &chat.SessionMetadata{}
	}
	if req.Metadata.UserAgent == "" {
		req.Metadata.UserAgent = r.UserAgent()
	}
	req.Metadata.IP = ipfilter.ClientIP(r)

	res, err := s.hub.Connect(r.Context(), hub.ConnectParams{
		SessionID:     req.SessionID,
		VisitorID:     req.VisitorID,
		Metadata:      req.Metadata,
		Identity:      req.Identity,
		WidgetVersion: r.Header.Get("X-Widget-Version"),
	})
	if err != nil {
		s.writeHubError(w, err)
		return
	}
	setVersionHeaders(w, res.Version)
	if !res.Version.CanContinue {
		writeJSON(w, http.StatusUpgradeRequired, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// setVersionHeaders exposes the version verdict to widgets that cannot
// read the response body (failed CORS preflights, old clients).
func setVersionHeaders(w http.ResponseWriter, check hub.VersionCheck) {
	w.Header().Set("X-PocketPing-Version-Status", string(check.Status))
	if check.Latest != "" {
		w.Header().Set("X-PocketPing-Latest-Version", check.Latest)
	}
	if check.Message != "" {
		w.Header().Set("X-PocketPing-Version-Message", check.Message)
	}
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	msgs, err := s.hub.Messages(r.Context(), sessionID, r.URL.Query().Get("after"), limit)
	if err != nil {
		s.writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

type sendMessageRequest struct {
	Content     string            `json:"content"`
	Sender      chat.Sender       `json:"sender,omitempty"`
	SenderName  string            `json:"senderName,omitempty"`
	ReplyTo     string            `json:"replyTo,omitempty"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Sender == "" {
		req.Sender = chat.SenderVisitor
	}

	msg, err := s.hub.SendMessage(r.Context(), hub.SendMessageParams{
		SessionID:   chi.URLParam(r, "sessionID"),
		Content:     req.Content,
		Sender:      req.Sender,
		SenderName:  req.SenderName,
		ReplyTo:     req.ReplyTo,
		Attachments: req.Attachments,
	})
	if err != nil {
		s.writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type editMessageRequest struct {
	Content string      `json:"content"`
	Sender  chat.Sender `json:"sender,omitempty"`
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Sender == "" {
		req.Sender = chat.SenderVisitor
	}

	msg, err := s.hub.EditMessage(r.Context(),
		chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID"),
		req.Content, req.Sender, "")
	if err != nil {
		s.writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	sender := chat.Sender(r.URL.Query().Get("sender"))
	if sender == "" {
		sender = chat.SenderVisitor
	}
	err := s.hub.DeleteMessage(r.Context(),
		chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID"), sender, "")
	if err != nil {
		s.writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type readStatusRequest struct {
	MessageIDs []string        `json:"messageIds"`
	Status     chat.ReadStatus `json:"status"`
}

func (s *Server) handleReadStatus(w http.ResponseWriter, r *http.Request) {
	var req readStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	updated, err := s.hub.UpdateReadStatus(r.Context(), chi.URLParam(r, "sessionID"), req.MessageIDs, req.Status)
	if err != nil {
		s.writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

type typingRequest struct {
	Sender   chat.Sender `json:"sender,omitempty"`
	IsTyping bool        `json:"isTyping"`
}

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	var req typingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Sender == "" {
		req.Sender = chat.SenderVisitor
	}
	err := s.hub.SetTyping(r.Context(), hub.TypingParams{
		SessionID: chi.URLParam(r, "sessionID"),
		Sender:    req.Sender,
		IsTyping:  req.IsTyping,
	})
	if err != nil {
		s.writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	var identity chat.UserIdentity
	if err := json.NewDecoder(r.Body).Decode(&identity); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	session, err := s.hub.Identify(r.Context(), chi.URLParam(r, "sessionID"), &identity)
	if err != nil {
		s.writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type customEventRequest struct {
	Name string                 `json:"name"`
	Data map[string]interface{} `json:"data,omitempty"`
}

func (s *Server) handleCustomEvent(w http.ResponseWriter, r *http.Request) {
	var req customEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "event name is required")
		return
	}
	err := s.hub.DispatchCustomEvent(r.Context(), chat.CustomEvent{
		Name:      req.Name,
		SessionID: chi.URLParam(r, "sessionID"),
		Data:      req.Data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePresence(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"operatorOnline": s.hub.OperatorOnline()})
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func (s *Server) writeHubError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, chat.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrNotMessageSender):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrMessageDeleted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrNoContent),
		errors.Is(err, chat.ErrContentTooLong),
		errors.Is(err, chat.ErrInvalidSender),
		errors.Is(err, chat.ErrInvalidReadStatus),
		errors.Is(err, chat.ErrIdentityIDRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
