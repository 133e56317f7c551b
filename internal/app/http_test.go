package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/Rnbprasad1/ChatSupport/internal/auth"
	"github.com/Rnbprasad1/ChatSupport/internal/chat"
	"github.com/Rnbprasad1/ChatSupport/internal/docstore"
	"github.com/Rnbprasad1/ChatSupport/internal/search"
	"github.com/Rnbprasad1/ChatSupport/internal/session"
)

type testEnv struct {
	store  *docstore.MemoryStore
	chats  *chat.Service
	server *HTTPServer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := docstore.NewMemoryStore()
	chats := chat.NewService(store, nil)

	redis := miniredis.RunT(t)
	sessions, err := session.NewRedisStore("redis://" + redis.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	hash, err := auth.HashPassword("s3cret-pass")
	require.NoError(t, err)
	provider := auth.NewProvider([]auth.Credential{
		{Email: "admin@example.com", Name: "Admin", PasswordHash: hash},
	}, sessions, time.Hour)

	searchService := search.NewService(nil)

	return &testEnv{
		store:  store,
		chats:  chats,
		server: NewHTTPServer(chats, provider, searchService, nil, "*"),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(payload)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), "body=%s", rr.Body.String())
	return payload
}

func (e *testEnv) signIn(t *testing.T) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/auth/signin", map[string]string{
		"email":    "admin@example.com",
		"password": "s3cret-pass",
	}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	token, _ := decode(t, rr)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (e *testEnv) startChat(t *testing.T) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/chats", map[string]string{
		"userName":  "Priya",
		"reference": "REF-1001",
		"mobile":    "9876543210",
	}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	chatID, _ := decode(t, rr)["chatId"].(string)
	require.NotEmpty(t, chatID)
	return chatID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestStartChatContract(t *testing.T) {
	env := newTestEnv(t)
	chatID := env.startChat(t)

	rr := env.do(t, http.MethodGet, "/api/chats/"+chatID, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	payload := decode(t, rr)
	require.Equal(t, "Priya", payload["userName"])
	require.Equal(t, "open", payload["status"])
}

func TestStartChatValidationError(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/chats", map[string]string{"userName": ""}, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "VALIDATION_FAILED", decode(t, rr)["code"])
}

func TestSendAndReadMessages(t *testing.T) {
	env := newTestEnv(t)
	chatID := env.startChat(t)

	rr := env.do(t, http.MethodPost, "/api/chats/"+chatID+"/messages", map[string]any{
		"sender": "Priya",
		"text":   "hello",
	}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/chats/"+chatID+"/messages", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	messages, _ := decode(t, rr)["messages"].([]any)
	require.Len(t, messages, 1)
	first, _ := messages[0].(map[string]any)
	require.Equal(t, "hello", first["text"])
}

func TestSendEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)
	chatID := env.startChat(t)

	rr := env.do(t, http.MethodPost, "/api/chats/"+chatID+"/messages", map[string]any{
		"sender": "Priya",
		"text":   "   ",
	}, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "VALIDATION_FAILED", decode(t, rr)["code"])
}

func TestCloseIsIdempotentOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	chatID := env.startChat(t)

	rr := env.do(t, http.MethodPost, "/api/chats/"+chatID+"/close", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)

	first, err := env.chats.GetChat(context.Background(), chatID)
	require.NoError(t, err)
	require.Equal(t, "closed", first.Status)

	rr = env.do(t, http.MethodPost, "/api/chats/"+chatID+"/close", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)

	second, err := env.chats.GetChat(context.Background(), chatID)
	require.NoError(t, err)
	require.Equal(t, first.ClosedAt, second.ClosedAt, "no second closedAt stamp")
}

func TestRefundEndpoint(t *testing.T) {
	env := newTestEnv(t)
	chatID := env.startChat(t)

	rr := env.do(t, http.MethodPost, "/api/chats/"+chatID+"/refund", map[string]any{
		"orderId":           "O1",
		"customerName":      "Priya",
		"totalRefundAmount": 200,
		"items": []map[string]any{
			{"productId": "p1", "productName": "Mug", "quantity": 2, "price": 100, "selected": true, "refundAmount": 200},
		},
	}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	refundID, _ := decode(t, rr)["refundRequestId"].(string)
	require.NotEmpty(t, refundID)

	record, err := env.chats.GetChat(context.Background(), chatID)
	require.NoError(t, err)
	require.Equal(t, refundID, record.RefundRequestID)
	require.Equal(t, "pending", record.RefundStatus)
}

func TestOrderLookupRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/orders/O1", nil, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/orders/O1", nil, "bogus-token")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestOrderLookupFoundAndMissing(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t)

	env.store.Seed(docstore.Payments, "O1", map[string]any{
		"orderId":       "O1",
		"customerName":  "Priya",
		"totalAmount":   650.0,
		"paymentStatus": "paid",
	})

	rr := env.do(t, http.MethodGet, "/api/orders/O1", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "Priya", decode(t, rr)["customerName"])

	rr = env.do(t, http.MethodGet, "/api/orders/nonexistent-id", nil, token)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "NOT_FOUND", decode(t, rr)["code"])
}

func TestRosterFilterOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t)

	first := env.startChat(t)
	second := env.startChat(t)
	_ = env.startChat(t)
	rr := env.do(t, http.MethodPost, "/api/chats/"+second+"/close", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	_ = first

	rr = env.do(t, http.MethodGet, "/api/chats?status=closed", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	chats, _ := decode(t, rr)["chats"].([]any)
	require.Len(t, chats, 1)
	only, _ := chats[0].(map[string]any)
	require.Equal(t, second, only["id"])
}

func TestRosterRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/chats", nil, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t)
	chatID := env.startChat(t)

	// The roster watcher normally feeds search; push one sync by hand.
	env.server.search.Sync([]search.ChatRecord{
		{ID: chatID, UserName: "Priya", Reference: "REF-1001", Status: "open"},
	})

	rr := env.do(t, http.MethodGet, "/api/chats/search?q=priya", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	results, _ := decode(t, rr)["results"].([]any)
	require.Len(t, results, 1)
}

// readEvent consumes one server-sent event (event + data lines up to the
// blank separator).
func readEvent(t *testing.T, reader *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if event != "" || data != "" {
				return event, data
			}
		}
	}
}

func TestMessagesEventStream(t *testing.T) {
	env := newTestEnv(t)
	chatID := env.startChat(t)

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/chats/"+chatID+"/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	event, data := readEvent(t, reader)
	require.Equal(t, "snapshot", event)
	require.Contains(t, data, `"messages"`)

	require.NoError(t, env.chats.Send(context.Background(), chatID, chat.SendInput{
		Sender: "Priya",
		Text:   "hello",
	}))

	event, data = readEvent(t, reader)
	require.Equal(t, "snapshot", event)
	require.Contains(t, data, "hello")

	// Dropping the client ends the stream instead of leaving it running.
	cancel()
	_, err = reader.ReadString('\n')
	require.Error(t, err)
}

func TestRosterEventStream(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t)
	chatID := env.startChat(t)

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/chats?stream=sse", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	event, data := readEvent(t, reader)
	require.Equal(t, "snapshot", event)
	require.Contains(t, data, chatID)
}

func TestSessionEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/session", nil, "")
	require.Equal(t, false, decode(t, rr)["authenticated"])

	token := env.signIn(t)
	rr = env.do(t, http.MethodGet, "/api/session", nil, token)
	payload := decode(t, rr)
	require.Equal(t, true, payload["authenticated"])

	rr = env.do(t, http.MethodPost, "/api/auth/signout", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/session", nil, token)
	require.Equal(t, false, decode(t, rr)["authenticated"])
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/auth/signin", map[string]string{
		"email":    "admin@example.com",
		"password": "wrong",
	}, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/bogus", nil, "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}
