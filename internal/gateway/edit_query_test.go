package gateway

import (
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/paulpham157/ii-agent/internal/config"
	"github.com/paulpham157/ii-agent/internal/sandbox"
	"github.com/paulpham157/ii-agent/internal/store"
	"github.com/paulpham157/ii-agent/internal/store/filestore"
	"github.com/paulpham157/ii-agent/pkg/protocol"
)

func TestEditQueryRewindsHistoryAndStorage(t *testing.T) {
	llm := &stubLLM{replies: []map[string]any{
		{"role": "assistant", "content": "answer to A"},
		{"role": "assistant", "content": "answer to B"},
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

	// First query completes normally.
	sendMessage(t, conn, protocol.MsgQuery, map[string]any{"text": "query A"})
	collectUntil(t, conn, protocol.EventStreamComplete)

	sessions, err := db.SessionsByDeviceID("test-device")
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions = %v, %v", sessions, err)
	}
	sessionID := sessions[0].ID

	waitForEvents := func(want func([]store.Session, []eventRow) bool) []eventRow {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			rows := loadEvents(t, db, sessionID)
			if want(sessions, rows) {
				return rows
			}
			time.Sleep(50 * time.Millisecond)
		}
		return loadEvents(t, db, sessionID)
	}

	// The first turn's events are persisted.
	rows := waitForEvents(func(_ []store.Session, rows []eventRow) bool {
		return countType(rows, protocol.EventUserMessage) == 1 && countType(rows, protocol.EventAgentResponse) == 1
	})
	if countType(rows, protocol.EventUserMessage) != 1 {
		t.Fatalf("events before edit: %v", rows)
	}

	// Edit: the first turn is deleted from storage and a fresh run with
	// the new text begins.
	sendMessage(t, conn, protocol.MsgEditQuery, map[string]any{"text": "query B"})
	events := collectUntil(t, conn, protocol.EventStreamComplete)

	sawClear := false
	sawAnswerB := false
	for _, ev := range events {
		if ev.Type == protocol.EventSystem {
			if msg, _ := ev.Content["message"].(string); msg == "Session history cleared from last event to last user message" {
				sawClear = true
			}
		}
		if ev.Type == protocol.EventAssistantText && ev.Content["text"] == "answer to B" {
			sawAnswerB = true
		}
	}
	if !sawClear {
		t.Errorf("no history-cleared system event in %v", eventTypes(events))
	}
	if !sawAnswerB {
		t.Errorf("second run's answer missing from %v", eventTypes(events))
	}

	rows = waitForEvents(func(_ []store.Session, rows []eventRow) bool {
		return countType(rows, protocol.EventUserMessage) == 1 && hasUserText(rows, "query B")
	})
	if !hasUserText(rows, "query B") || hasUserText(rows, "query A") {
		t.Errorf("stored events after edit = %v, want only query B's turn", rows)
	}
}

type eventRow struct {
	Type string
	Text string
}

func loadEvents(t *testing.T, db *store.Store, sessionID uuid.UUID) []eventRow {
	t.Helper()
	events, err := db.SessionEvents(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	rows := make([]eventRow, 0, len(events))
	for _, ev := range events {
		text, _ := ev.Content["text"].(string)
		rows = append(rows, eventRow{Type: ev.Type, Text: text})
	}
	return rows
}

func countType(rows []eventRow, kind string) int {
	n := 0
	for _, r := range rows {
		if r.Type == kind {
			n++
		}
	}
	return n
}

func hasUserText(rows []eventRow, text string) bool {
	for _, r := range rows {
		if r.Type == protocol.EventUserMessage && r.Text == text {
			return true
		}
	}
	return false
}
