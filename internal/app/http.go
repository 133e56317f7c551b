// Package app exposes the chat system over HTTP: the customer widget's chat
// endpoints, the admin roster and search, order lookup, refund submission and
// admin auth. Live views (chat messages, roster) stream as server-sent
// events carrying the full ordered snapshot on every change.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rnbprasad1/ChatSupport/internal/auth"
	"github.com/Rnbprasad1/ChatSupport/internal/chat"
	"github.com/Rnbprasad1/ChatSupport/internal/search"
)

type HTTPServer struct {
	chats      *chat.Service
	auth       *auth.Provider // nil disables admin routes
	search     *search.Service
	ready      func(context.Context) error // nil skips the backend check
	corsOrigin string
}

func NewHTTPServer(chats *chat.Service, authProvider *auth.Provider, searchService *search.Service, ready func(context.Context) error, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		chats:      chats,
		auth:       authProvider,
		search:     searchService,
		ready:      ready,
		corsOrigin: corsOrigin,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signout" {
		s.handleSignOut(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		s.handleSession(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/orders/{id}
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "orders" && r.Method == http.MethodGet {
		if _, ok := s.requireAdmin(w, r); !ok {
			return
		}
		s.handleOrderLookup(w, r, parts[2])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "chats" {
		s.handleChats(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

func (s *HTTPServer) handleChats(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		s.handleStartChat(w, r)
	case len(rest) == 0 && r.Method == http.MethodGet:
		if _, ok := s.requireAdmin(w, r); !ok {
			return
		}
		s.handleRoster(w, r)
	case len(rest) == 1 && rest[0] == "search" && r.Method == http.MethodGet:
		if _, ok := s.requireAdmin(w, r); !ok {
			return
		}
		s.handleSearch(w, r)
	case len(rest) == 1 && r.Method == http.MethodGet:
		s.handleGetChat(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "messages" && r.Method == http.MethodGet:
		s.handleMessages(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "messages" && r.Method == http.MethodPost:
		s.handleSend(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "close" && r.Method == http.MethodPost:
		s.handleClose(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "refund" && r.Method == http.MethodPost:
		s.handleRefund(w, r, rest[0])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.ready != nil {
		if err := s.ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":     false,
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
}

// --- auth ---

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication not configured")
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	token, user, err := s.auth.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  user,
	})
}

func (s *HTTPServer) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication not configured")
		return
	}
	if err := s.auth.SignOut(r.Context(), bearerToken(r)); err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if s.auth == nil || token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	user, err := s.auth.CurrentUser(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": user})
}

// requireAdmin resolves the bearer token to a signed-in admin or writes the
// error response itself.
func (s *HTTPServer) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.User, bool) {
	if s.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication not configured")
		return auth.User{}, false
	}
	user, err := s.auth.CurrentUser(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return auth.User{}, false
	}
	return user, true
}

// --- chats ---

func (s *HTTPServer) handleStartChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserName     string        `json:"userName"`
		Reference    string        `json:"reference"`
		Mobile       string        `json:"mobile"`
		SupportType  string        `json:"supportType"`
		OrderDetails *chat.Payment `json:"orderDetails"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	chatID, err := s.chats.StartChat(r.Context(), chat.StartChatInput{
		UserName:     body.UserName,
		Reference:    body.Reference,
		Mobile:       body.Mobile,
		SupportType:  body.SupportType,
		OrderDetails: body.OrderDetails,
	})
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"chatId": chatID})
}

func (s *HTTPServer) handleGetChat(w http.ResponseWriter, r *http.Request, chatID string) {
	record, err := s.chats.GetChat(r.Context(), chatID)
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) handleMessages(w http.ResponseWriter, r *http.Request, chatID string) {
	if !wantsEventStream(r) {
		messages, err := s.chats.Messages(r.Context(), chatID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
		return
	}

	sub, err := s.chats.Subscribe(r.Context(), chatID)
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	defer sub.Cancel()
	streamEvents(w, r, func(yield func(event string, payload any) bool) {
		for {
			select {
			case snap, ok := <-sub.Snapshots:
				if !ok {
					return
				}
				if !yield("snapshot", map[string]any{"messages": snap}) {
					return
				}
			case err := <-sub.Errors:
				if !yield("error", map[string]any{"error": err.Error()}) {
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	})
}

func (s *HTTPServer) handleSend(w http.ResponseWriter, r *http.Request, chatID string) {
	var body struct {
		Sender        string             `json:"sender"`
		IsAdmin       bool               `json:"isAdmin"`
		Text          string             `json:"text"`
		OrderID       string             `json:"orderId"`
		Items         []chat.ProductItem `json:"items"`
		SelectedItems []chat.ProductItem `json:"selectedItems"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	// An order id instead of a message is the admin order sub-flow: the
	// server looks the order up and appends the offer message itself.
	if body.OrderID != "" {
		if _, ok := s.requireAdmin(w, r); !ok {
			return
		}
		payment, err := s.chats.AttachOrder(r.Context(), chatID, body.Sender, body.OrderID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "order": payment})
		return
	}

	err := s.chats.Send(r.Context(), chatID, chat.SendInput{
		Sender:        body.Sender,
		IsAdmin:       body.IsAdmin,
		Text:          body.Text,
		Items:         body.Items,
		SelectedItems: body.SelectedItems,
	})
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (s *HTTPServer) handleClose(w http.ResponseWriter, r *http.Request, chatID string) {
	if err := s.chats.CloseChat(r.Context(), chatID); err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRefund(w http.ResponseWriter, r *http.Request, chatID string) {
	var body struct {
		OrderID           string            `json:"orderId"`
		CustomerName      string            `json:"customerName"`
		Items             []chat.RefundItem `json:"items"`
		TotalRefundAmount float64           `json:"totalRefundAmount"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	refundID, err := s.chats.SubmitRefund(r.Context(), chat.RefundInput{
		ChatID:            chatID,
		OrderID:           body.OrderID,
		CustomerName:      body.CustomerName,
		Items:             body.Items,
		TotalRefundAmount: body.TotalRefundAmount,
	})
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"refundRequestId": refundID})
}

// --- admin roster, search, orders ---

func (s *HTTPServer) handleRoster(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	sub, err := s.chats.SubscribeRoster(r.Context())
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	defer sub.Cancel()

	if !wantsEventStream(r) {
		select {
		case roster := <-sub.Snapshots:
			writeJSON(w, http.StatusOK, map[string]any{"chats": chat.FilterByStatus(roster, status)})
		case err := <-sub.Errors:
			s.writeMapped(w, err)
		case <-r.Context().Done():
		}
		return
	}

	streamEvents(w, r, func(yield func(event string, payload any) bool) {
		for {
			select {
			case snap, ok := <-sub.Snapshots:
				if !ok {
					return
				}
				if !yield("snapshot", map[string]any{"chats": chat.FilterByStatus(snap, status)}) {
					return
				}
			case err := <-sub.Errors:
				if !yield("error", map[string]any{"error": err.Error()}) {
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search not configured")
		return
	}
	q := search.Query{
		Text:   r.URL.Query().Get("q"),
		Status: r.URL.Query().Get("status"),
	}
	writeJSON(w, http.StatusOK, s.search.Search(q))
}

func (s *HTTPServer) handleOrderLookup(w http.ResponseWriter, r *http.Request, orderID string) {
	payment, err := s.chats.LookupOrder(r.Context(), orderID)
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// --- plumbing ---

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream") ||
		r.URL.Query().Get("stream") == "sse"
}

// streamEvents switches the response to server-sent events and runs source,
// which calls yield once per event until the stream ends.
func streamEvents(w http.ResponseWriter, r *http.Request, source func(yield func(event string, payload any) bool)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAM_UNSUPPORTED", "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	source(func(event string, payload any) bool {
		data, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

func (s *HTTPServer) writeMapped(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	writeError(w, status, code, message)
}

func mapError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_FAILED", err.Error()
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, chat.ErrLookupFailed):
		return http.StatusBadGateway, "LOOKUP_FAILED", "Lookup failed"
	case errors.Is(err, chat.ErrWriteFailed):
		return http.StatusBadGateway, "WRITE_FAILED", "Write rejected"
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
