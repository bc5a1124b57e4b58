package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/paulpham157/ii-agent/internal/bus"
	"github.com/paulpham157/ii-agent/internal/config"
	"github.com/paulpham157/ii-agent/pkg/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "events.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	id := uuid.New()

	if sess, err := s.GetSession(id); err != nil || sess != nil {
		t.Fatalf("missing session: sess=%v err=%v, want nil,nil", sess, err)
	}

	if err := s.CreateSession(id, "/ws/"+id.String(), "device-1"); err != nil {
		t.Fatal(err)
	}
	sess, err := s.GetSession(id)
	if err != nil {
		t.Fatal(err)
	}
	if sess == nil || sess.ID != id || sess.DeviceID != "device-1" {
		t.Fatalf("session = %+v", sess)
	}
	if sess.Name != "" || sess.SandboxID != "" {
		t.Errorf("new session should have empty name and sandbox id: %+v", sess)
	}

	if err := s.UpdateSessionName(id, "fix the parser"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSessionSandboxID(id, "sbx_42"); err != nil {
		t.Fatal(err)
	}
	sess, _ = s.GetSession(id)
	if sess.Name != "fix the parser" || sess.SandboxID != "sbx_42" {
		t.Errorf("after updates: %+v", sess)
	}
}

func TestSessionsByDeviceIDNewestFirst(t *testing.T) {
	s := newTestStore(t)
	first, second := uuid.New(), uuid.New()
	if err := s.CreateSession(first, "/ws/a", "dev"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := s.CreateSession(second, "/ws/b", "dev"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSession(uuid.New(), "/ws/c", "other"); err != nil {
		t.Fatal(err)
	}

	sessions, err := s.SessionsByDeviceID("dev")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	if sessions[0].ID != second || sessions[1].ID != first {
		t.Errorf("ordering = [%s, %s], want newest first", sessions[0].ID, sessions[1].ID)
	}
}

func saveEvent(t *testing.T, s *Store, sessionID uuid.UUID, kind string, content map[string]any) bus.Event {
	t.Helper()
	ev := bus.New(sessionID, kind, content)
	if err := s.SaveEvent(ev); err != nil {
		t.Fatal(err)
	}
	// Millisecond spacing keeps timestamps strictly monotonic.
	time.Sleep(2 * time.Millisecond)
	return ev
}

func TestEventsOrderedByTimestamp(t *testing.T) {
	s := newTestStore(t)
	id := uuid.New()
	if err := s.CreateSession(id, "/ws", ""); err != nil {
		t.Fatal(err)
	}

	kinds := []string{protocol.EventUserMessage, protocol.EventToolCall, protocol.EventToolResult, protocol.EventAgentResponse}
	for _, k := range kinds {
		saveEvent(t, s, id, k, map[string]any{"k": k})
	}

	events, err := s.SessionEvents(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != len(kinds) {
		t.Fatalf("events = %d, want %d", len(events), len(kinds))
	}
	for i, k := range kinds {
		if events[i].Type != k {
			t.Errorf("events[%d].Type = %s, want %s", i, events[i].Type, k)
		}
	}
	if events[0].Content["k"] != protocol.EventUserMessage {
		t.Errorf("payload round trip failed: %v", events[0].Content)
	}
}

func TestDeleteEventsFromLastToUserMessage(t *testing.T) {
	s := newTestStore(t)
	id := uuid.New()
	if err := s.CreateSession(id, "/ws", ""); err != nil {
		t.Fatal(err)
	}

	saveEvent(t, s, id, protocol.EventUserMessage, map[string]any{"text": "first"})
	saveEvent(t, s, id, protocol.EventAgentResponse, map[string]any{"text": "answer one"})
	saveEvent(t, s, id, protocol.EventUserMessage, map[string]any{"text": "second"})
	saveEvent(t, s, id, protocol.EventToolCall, map[string]any{"tool_name": "shell_exec"})
	saveEvent(t, s, id, protocol.EventToolResult, map[string]any{"result": "ok"})

	if err := s.DeleteEventsFromLastToUserMessage(id); err != nil {
		t.Fatal(err)
	}

	events, err := s.SessionEvents(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events after delete = %d, want 2", len(events))
	}
	if events[0].Type != protocol.EventUserMessage || events[0].Content["text"] != "first" {
		t.Errorf("first kept event = %+v", events[0])
	}
	if events[1].Type != protocol.EventAgentResponse {
		t.Errorf("second kept event = %+v", events[1])
	}
}

func TestDeleteEventsNoUserMessageDeletesAll(t *testing.T) {
	s := newTestStore(t)
	id := uuid.New()
	if err := s.CreateSession(id, "/ws", ""); err != nil {
		t.Fatal(err)
	}
	saveEvent(t, s, id, protocol.EventSystem, map[string]any{"message": "hello"})

	if err := s.DeleteEventsFromLastToUserMessage(id); err != nil {
		t.Fatal(err)
	}
	events, _ := s.SessionEvents(id)
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}
