package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paulpham157/ii-agent/internal/bus"
	"github.com/paulpham157/ii-agent/internal/config"
	"github.com/paulpham157/ii-agent/internal/sandbox"
	"github.com/paulpham157/ii-agent/internal/store"
	"github.com/paulpham157/ii-agent/internal/store/filestore"
	"github.com/paulpham157/ii-agent/pkg/protocol"
)

// stubLLM serves an OpenAI-compatible chat completions endpoint replying
// with scripted messages, one per call.
type stubLLM struct {
	mu      sync.Mutex
	replies []map[string]any
	calls   int
}

func (s *stubLLM) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var msg map[string]any
		if s.calls < len(s.replies) {
			msg = s.replies[s.calls]
		} else {
			msg = map[string]any{"role": "assistant", "content": "out of script"}
		}
		s.calls++
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": msg, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5},
		})
	})
	return mux
}

func newTestServer(t *testing.T, llmURL string) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace.HostRoot = t.TempDir()
	cfg.Sandbox.Mode = "local"
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "events.db")}
	cfg.Models = config.ModelsConfig{
		Default: "test-model",
		List: map[string]config.ModelConfig{
			"test-model": {APIType: "openai", APIKey: "test-key", BaseURL: llmURL},
		},
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	server := NewServer(cfg, db, filestore.NewMemory(), sandbox.NewRegistry())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?device_id=test-device"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) bus.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ev bus.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, content any) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"type": msgType, "content": content})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatal(err)
	}
}

// collectUntil reads events until one of the given kind arrives,
// returning everything read.
func collectUntil(t *testing.T, conn *websocket.Conn, kind string) []bus.Event {
	t.Helper()
	var events []bus.Event
	for i := 0; i < 50; i++ {
		ev := readEvent(t, conn)
		events = append(events, ev)
		if ev.Type == kind {
			return events
		}
	}
	t.Fatalf("never saw %s; got %v", kind, eventTypes(events))
	return nil
}

func eventTypes(events []bus.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func initAgent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendMessage(t, conn, protocol.MsgInitAgent, map[string]any{"model_name": "test-model"})
	ev := readEvent(t, conn)
	if ev.Type != protocol.EventAgentInitialized {
		t.Fatalf("init response = %s (%v)", ev.Type, ev.Content)
	}
}

func TestHandshakeAndPing(t *testing.T) {
	llm := &stubLLM{}
	llmSrv := httptest.NewServer(llm.handler())
	defer llmSrv.Close()

	ts := newTestServer(t, llmSrv.URL)
	conn := dialWS(t, ts)

	hello := readEvent(t, conn)
	if hello.Type != protocol.EventConnectionEstablished {
		t.Fatalf("first event = %s, want connection_established", hello.Type)
	}
	if hello.Content["workspace_path"] == "" {
		t.Error("handshake missing workspace_path")
	}

	sendMessage(t, conn, protocol.MsgPing, map[string]any{})
	if ev := readEvent(t, conn); ev.Type != protocol.EventPong {
		t.Errorf("ping response = %s", ev.Type)
	}

	sendMessage(t, conn, protocol.MsgWorkspaceInfo, map[string]any{})
	ev := readEvent(t, conn)
	if ev.Type != protocol.EventWorkspaceInfo || ev.Content["path"] == "" {
		t.Errorf("workspace_info = %s %v", ev.Type, ev.Content)
	}
}

func TestQueryStreamsEventsInOrder(t *testing.T) {
	llm := &stubLLM{replies: []map[string]any{
		{"role": "assistant", "content": "done"},
	}}
	llmSrv := httptest.NewServer(llm.handler())
	defer llmSrv.Close()

	ts := newTestServer(t, llmSrv.URL)
	conn := dialWS(t, ts)
	readEvent(t, conn) // handshake

	initAgent(t, conn)

	sendMessage(t, conn, protocol.MsgQuery, map[string]any{"text": "say done", "resume": false, "files": []string{}})
	events := collectUntil(t, conn, protocol.EventStreamComplete)
	types := eventTypes(events)

	wantOrder := []string{
		protocol.EventProcessing,
		protocol.EventUserMessage,
		protocol.EventAssistantText,
		protocol.EventAgentResponse,
		protocol.EventStreamComplete,
	}
	idx := 0
	for _, typ := range types {
		if idx < len(wantOrder) && typ == wantOrder[idx] {
			idx++
		}
	}
	if idx != len(wantOrder) {
		t.Errorf("event stream %v does not contain %v in order", types, wantOrder)
	}

	for _, ev := range events {
		if ev.Type == protocol.EventAssistantText && ev.Content["text"] != "done" {
			t.Errorf("assistant_text = %v", ev.Content)
		}
	}
}

func TestQueryBeforeInitFails(t *testing.T) {
	llm := &stubLLM{}
	llmSrv := httptest.NewServer(llm.handler())
	defer llmSrv.Close()

	ts := newTestServer(t, llmSrv.URL)
	conn := dialWS(t, ts)
	readEvent(t, conn)

	sendMessage(t, conn, protocol.MsgQuery, map[string]any{"text": "hello"})
	ev := readEvent(t, conn)
	if ev.Type != protocol.EventError {
		t.Fatalf("event = %s, want error", ev.Type)
	}
	if msg, _ := ev.Content["message"].(string); !strings.Contains(msg, "not initialized") {
		t.Errorf("message = %q", msg)
	}
}

func TestCancelWithoutAgentFails(t *testing.T) {
	llm := &stubLLM{}
	llmSrv := httptest.NewServer(llm.handler())
	defer llmSrv.Close()

	ts := newTestServer(t, llmSrv.URL)
	conn := dialWS(t, ts)
	readEvent(t, conn)

	sendMessage(t, conn, protocol.MsgCancel, map[string]any{})
	if ev := readEvent(t, conn); ev.Type != protocol.EventError {
		t.Errorf("event = %s, want error", ev.Type)
	}
}

func TestCancelAcknowledged(t *testing.T) {
	llm := &stubLLM{replies: []map[string]any{{"role": "assistant", "content": "x"}}}
	llmSrv := httptest.NewServer(llm.handler())
	defer llmSrv.Close()

	ts := newTestServer(t, llmSrv.URL)
	conn := dialWS(t, ts)
	readEvent(t, conn)
	initAgent(t, conn)

	sendMessage(t, conn, protocol.MsgCancel, map[string]any{})
	ev := readEvent(t, conn)
	if ev.Type != protocol.EventSystem || ev.Content["message"] != "Query cancelled" {
		t.Errorf("cancel ack = %s %v", ev.Type, ev.Content)
	}
}

func TestMalformedJSONElicitsError(t *testing.T) {
	llm := &stubLLM{}
	llmSrv := httptest.NewServer(llm.handler())
	defer llmSrv.Close()

	ts := newTestServer(t, llmSrv.URL)
	conn := dialWS(t, ts)
	readEvent(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	ev := readEvent(t, conn)
	if ev.Type != protocol.EventError {
		t.Fatalf("event = %s, want error", ev.Type)
	}

	// The session is unaffected: ping still answers.
	sendMessage(t, conn, protocol.MsgPing, map[string]any{})
	if ev := readEvent(t, conn); ev.Type != protocol.EventPong {
		t.Errorf("ping after malformed message = %s", ev.Type)
	}
}

func TestUnknownMessageType(t *testing.T) {
	llm := &stubLLM{}
	llmSrv := httptest.NewServer(llm.handler())
	defer llmSrv.Close()

	ts := newTestServer(t, llmSrv.URL)
	conn := dialWS(t, ts)
	readEvent(t, conn)

	sendMessage(t, conn, "frobnicate", map[string]any{})
	ev := readEvent(t, conn)
	if msg, _ := ev.Content["message"].(string); ev.Type != protocol.EventError || !strings.Contains(msg, "Unknown message type") {
		t.Errorf("event = %s %v", ev.Type, ev.Content)
	}
}

func TestHelpCommand(t *testing.T) {
	llm := &stubLLM{}
	llmSrv := httptest.NewServer(llm.handler())
	defer llmSrv.Close()

	ts := newTestServer(t, llmSrv.URL)
	conn := dialWS(t, ts)
	readEvent(t, conn)

	sendMessage(t, conn, protocol.MsgQuery, map[string]any{"text": "/help"})
	ev := readEvent(t, conn)
	if msg, _ := ev.Content["message"].(string); ev.Type != protocol.EventSystem || !strings.Contains(msg, "/compact") {
		t.Errorf("help = %s %v", ev.Type, ev.Content)
	}
}

func TestCompactOnEmptyHistoryFailsCleanly(t *testing.T) {
	llm := &stubLLM{}
	llmSrv := httptest.NewServer(llm.handler())
	defer llmSrv.Close()

	ts := newTestServer(t, llmSrv.URL)
	conn := dialWS(t, ts)
	readEvent(t, conn)
	initAgent(t, conn)

	sendMessage(t, conn, protocol.MsgQuery, map[string]any{"text": "/compact"})
	events := collectUntil(t, conn, protocol.EventStreamComplete)

	sawError := false
	for _, ev := range events {
		if ev.Type == protocol.EventError {
			sawError = true
			if msg, _ := ev.Content["message"].(string); !strings.Contains(msg, "nothing to compact") {
				t.Errorf("error message = %q", msg)
			}
		}
	}
	if !sawError {
		t.Errorf("no error event for empty compaction: %v", eventTypes(events))
	}
}

func TestSessionNamedFromFirstQuery(t *testing.T) {
	llm := &stubLLM{replies: []map[string]any{
		{"role": "assistant", "content": "ok"},
		{"role": "assistant", "content": "ok again"},
	}}
	llmSrv := httptest.NewServer(llm.handler())
	defer llmSrv.Close()

	cfg := config.Default()
	cfg.Workspace.HostRoot = t.TempDir()
	cfg.Sandbox.Mode = "local"
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "events.db")}
	cfg.Models = config.ModelsConfig{
		Default: "test-model",
		List:    map[string]config.ModelConfig{"test-model": {APIType: "openai", APIKey: "k", BaseURL: llmSrv.URL}},
	}
	db, err := store.Open(cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	server := NewServer(cfg, db, filestore.NewMemory(), sandbox.NewRegistry())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts)
	readEvent(t, conn)
	initAgent(t, conn)

	first := "investigate the flaky websocket reconnect logic " + strings.Repeat("x", 100)
	sendMessage(t, conn, protocol.MsgQuery, map[string]any{"text": first})
	collectUntil(t, conn, protocol.EventStreamComplete)

	sendMessage(t, conn, protocol.MsgQuery, map[string]any{"text": "a different second message"})
	collectUntil(t, conn, protocol.EventStreamComplete)

	sessions, err := db.SessionsByDeviceID("test-device")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d", len(sessions))
	}
	if len(sessions[0].Name) != 100 {
		t.Errorf("name length = %d, want truncated to 100", len(sessions[0].Name))
	}
	if !strings.HasPrefix(sessions[0].Name, "investigate the flaky") {
		t.Errorf("name = %q, the first message must win", sessions[0].Name)
	}
}
