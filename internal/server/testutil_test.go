package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"nhooyr.io/websocket"

	"tetrecs/internal/lobby"
	"tetrecs/internal/protocol"
	"tetrecs/internal/storage"
)

// --- Test environment ---

type testEnv struct {
	ts    *httptest.Server
	srv   *Server
	mgr   *lobby.Manager
	store *storage.Store
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := zaptest.NewLogger(t).Sugar()
	mgr := lobby.NewManager(store, log)
	srv := New(mgr, store, log)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, srv: srv, mgr: mgr, store: store}
}

// --- Context helpers ---

func timeoutCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// --- REST API helpers ---

func getJSON(t *testing.T, url string, want int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("GET %s: expected %d, got %d", url, want, resp.StatusCode)
	}
	if v == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// --- WebSocket helpers ---

func wsURL(ts *httptest.Server) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
}

// wsConnect dials the relay. The connection is closed when the test ends.
func wsConnect(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(timeoutCtx(t), wsURL(ts), nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// wsSend writes one protocol line, calling t.Fatal on error.
func wsSend(ctx context.Context, t *testing.T, conn *websocket.Conn, line string) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
		t.Fatalf("ws write: %v", err)
	}
}

// wsRead reads one protocol line, calling t.Fatal on error.
func wsRead(ctx context.Context, t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	msg, err := protocol.Parse(string(data))
	if err != nil {
		t.Fatalf("parse %q: %v", data, err)
	}
	return msg
}

// expect reads until a message with the given tag arrives, skipping others.
func expect(ctx context.Context, t *testing.T, conn *websocket.Conn, tag string) protocol.Message {
	t.Helper()
	for {
		msg := wsRead(ctx, t, conn)
		if msg.Tag == tag {
			return msg
		}
	}
}

// player connects, picks a nickname and waits for the confirmation.
func player(ctx context.Context, t *testing.T, env *testEnv, nick string) *websocket.Conn {
	t.Helper()
	conn := wsConnect(t, env.ts)
	wsSend(ctx, t, conn, "NICK "+nick)
	if msg := expect(ctx, t, conn, protocol.Nick); msg.Body != nick {
		t.Fatalf("expected NICK %s, got %q", nick, msg)
	}
	return conn
}

// setupChannel has alice create room and bob join it. Both connections
// have consumed every message up to bob's arrival.
func setupChannel(ctx context.Context, t *testing.T, env *testEnv) (alice, bob *websocket.Conn) {
	t.Helper()
	alice = player(ctx, t, env, "alice")
	wsSend(ctx, t, alice, "CREATE room")
	if msg := expect(ctx, t, alice, protocol.Join); msg.Body != "room" {
		t.Fatalf("expected JOIN room, got %q", msg)
	}
	expect(ctx, t, alice, protocol.Host)
	expect(ctx, t, alice, protocol.Users)

	bob = player(ctx, t, env, "bob")
	wsSend(ctx, t, bob, "JOIN room")
	expect(ctx, t, bob, protocol.Join)
	if msg := expect(ctx, t, bob, protocol.Users); msg.Body != "alice\nbob" {
		t.Fatalf("expected USERS alice,bob, got %q", msg.Body)
	}
	expect(ctx, t, alice, protocol.Users)
	return alice, bob
}
