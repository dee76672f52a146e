package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/pingline/pingline-server/internal/auth"
	"github.com/pingline/pingline-server/internal/config"
	"github.com/pingline/pingline-server/internal/core"
	"github.com/pingline/pingline-server/internal/proto"
	"github.com/pingline/pingline-server/internal/store/sqlite"
)

// outbound mirrors proto.Outbound on the receiving side, with the data
// payload kept raw so each test decodes only what it asserts on.
type outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *proto.Error    `json:"error,omitempty"`
}

func testLogger() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}

type testEnv struct {
	ts   *httptest.Server
	auth *auth.Service
}

func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.UploadDir = t.TempDir()
	cfg.SessionBuffer = 32

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	})

	hub := core.NewHub(st, cfg.TypingTTL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server, err := NewServer(hub, authService, st, cfg, testLogger())
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, auth: authService}
}

// registerUser creates a user through the auth service and returns a
// token usable for both REST and WebSocket access.
func (env *testEnv) registerUser(t *testing.T, username string) string {
	t.Helper()

	token, err := env.auth.Register(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return token
}

func (env *testEnv) wsURL(token string) string {
	url := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	return url
}

// dial opens a WebSocket connection authenticated via the query token.
func (env *testEnv) dial(ctx context.Context, t *testing.T, token string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, env.wsURL(token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()

	var payload json.RawMessage
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s payload: %v", msgType, err)
		}
		payload = raw
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: msgType, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) outbound {
	t.Helper()

	var frame outbound
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// waitForEvent reads frames until one matches the wanted event name.
// Presence churn from other connecting clients is expected noise in
// multi-client tests, so unrelated presence frames are skipped.
func waitForEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, event string) outbound {
	t.Helper()

	for {
		frame := readFrame(ctx, t, conn)
		if frame.Type == proto.OutboundTypeEvent && frame.Event == event {
			return frame
		}
		switch frame.Event {
		case proto.EventPresenceChanged, proto.EventPresenceSnapshot:
			continue
		default:
			t.Fatalf("waiting for %s, got type=%s event=%s error=%+v", event, frame.Type, frame.Event, frame.Error)
		}
	}
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *stdhttp.Response {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := ts.Client().Post(ts.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *stdhttp.Response, v any) {
	t.Helper()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}
