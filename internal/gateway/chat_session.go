package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/paulpham157/ii-agent/internal/agent"
	"github.com/paulpham157/ii-agent/internal/bus"
	"github.com/paulpham157/ii-agent/internal/config"
	"github.com/paulpham157/ii-agent/internal/llm"
	"github.com/paulpham157/ii-agent/internal/sandbox"
	"github.com/paulpham157/ii-agent/internal/store"
	"github.com/paulpham157/ii-agent/internal/store/filestore"
	"github.com/paulpham157/ii-agent/internal/tools"
	"github.com/paulpham157/ii-agent/internal/workspace"
	"github.com/paulpham157/ii-agent/pkg/protocol"
)

// sessionNameLimit caps the session name derived from the first query.
const sessionNameLimit = 100

// SessionDeps are the collaborators a chat session needs.
type SessionDeps struct {
	Conn       *websocket.Conn
	SessionID  uuid.UUID
	DeviceID   string
	Config     *config.Config
	DB         *store.Store
	Files      filestore.FileStore
	SandboxReg *sandbox.Registry
}

// ChatSession owns one WebSocket connection: a state machine from
// handshake through queries to disconnect. Events flow through the
// per-session queue and a single writer goroutine, so delivery order
// matches production order.
type ChatSession struct {
	conn       *websocket.Conn
	sessionID  uuid.UUID
	deviceID   string
	cfg        *config.Config
	db         *store.Store
	files      filestore.FileStore
	sandboxReg *sandbox.Registry

	queue   *bus.Queue
	out     chan bus.Event
	limiter *rate.Limiter

	ws         *workspace.Manager
	agent      *agent.Agent
	reviewer   *agent.Reviewer
	contextMgr *llm.ContextManager
	sb         sandbox.Sandbox

	firstMessage bool

	activeMu   sync.Mutex
	activeDone chan struct{} // non-nil while a query is running
}

// NewChatSession builds the session for one connection.
func NewChatSession(deps SessionDeps) *ChatSession {
	var limiter *rate.Limiter
	if rpm := deps.Config.Server.RateLimitRPM; rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 5)
	}
	return &ChatSession{
		conn:         deps.Conn,
		sessionID:    deps.SessionID,
		deviceID:     deps.DeviceID,
		cfg:          deps.Config,
		db:           deps.DB,
		files:        deps.Files,
		sandboxReg:   deps.SandboxReg,
		queue:        bus.NewQueue(0),
		out:          make(chan bus.Event, 256),
		limiter:      limiter,
		firstMessage: true,
	}
}

// Run drives the session until the client disconnects.
func (s *ChatSession) Run(ctx context.Context) {
	defer s.conn.Close()

	local := s.cfg.Sandbox.Mode == "local"
	ws, err := workspace.NewManager(s.cfg.Workspace.HostRoot, s.sessionID.String(), local)
	if err != nil {
		slog.Error("workspace setup failed", "session", s.sessionID, "error", err)
		return
	}
	s.ws = ws

	if err := s.ensureSessionRow(); err != nil {
		slog.Error("session row setup failed", "session", s.sessionID, "error", err)
		return
	}

	writerDone := make(chan struct{})
	go s.writer(writerDone)
	drainDone := make(chan struct{})
	go s.drainQueue(drainDone)

	// Handshake before accepting any message.
	s.sendDirect(protocol.EventConnectionEstablished, map[string]any{
		"message":        "Connected to Agent WebSocket Server",
		"workspace_path": s.ws.RootPath(),
	})

	s.readLoop(ctx)

	// Draining: cancel the agent, wait for the in-flight query, then
	// detach. The sandbox stays alive for a later resume.
	if s.agent != nil {
		s.agent.Cancel()
	}
	s.waitActive(60 * time.Second)
	s.snapshotHistory()

	s.queue.Close()
	close(drainDone)
	close(s.out)
	<-writerDone
	slog.Info("session detached", "session", s.sessionID)
}

func (s *ChatSession) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			slog.Info("client disconnected", "session", s.sessionID)
			return
		}
		if s.limiter != nil && !s.limiter.Allow() {
			s.sendError("Rate limit exceeded, slow down")
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("Invalid JSON format")
			continue
		}
		s.handleMessage(ctx, msg)
	}
}

// writer is the single goroutine writing frames to the socket.
func (s *ChatSession) writer(done chan<- struct{}) {
	defer close(done)
	for ev := range s.out {
		if err := s.conn.WriteJSON(ev); err != nil {
			slog.Debug("websocket write failed", "session", s.sessionID, "error", err)
		}
	}
}

// drainQueue persists queued events and forwards them to the writer.
// Every event takes this single path, so delivery order matches
// production order.
func (s *ChatSession) drainQueue(done <-chan struct{}) {
	persist := func(ev bus.Event) {
		if ev.Ephemeral {
			return
		}
		if err := s.db.SaveEvent(ev); err != nil {
			slog.Warn("event persist failed", "session", s.sessionID, "type", ev.Type, "error", err)
		}
	}
	for {
		select {
		case ev := <-s.queue.Events():
			persist(ev)
			s.push(ev)
		case <-done:
			// Flush whatever is still queued.
			for {
				select {
				case ev := <-s.queue.Events():
					persist(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *ChatSession) push(ev bus.Event) {
	defer func() {
		// The out channel closes during drain; late events are dropped.
		_ = recover()
	}()
	s.out <- ev
}

// sendDirect emits an event to the client without persisting it. It
// still flows through the queue so ordering holds.
func (s *ChatSession) sendDirect(kind string, content map[string]any) {
	ev := bus.New(s.sessionID, kind, content)
	ev.Ephemeral = true
	s.queue.Push(ev)
}

func (s *ChatSession) sendError(message string) {
	s.sendDirect(protocol.EventError, map[string]any{"message": message})
}

func (s *ChatSession) handleMessage(ctx context.Context, msg protocol.Message) {
	if len(msg.Content) == 0 {
		msg.Content = []byte("{}")
	}
	switch msg.Type {
	case protocol.MsgInitAgent:
		s.handleInitAgent(ctx, msg.Content)
	case protocol.MsgQuery:
		s.handleQuery(ctx, msg.Content)
	case protocol.MsgEditQuery:
		s.handleEditQuery(ctx, msg.Content)
	case protocol.MsgCancel:
		s.handleCancel()
	case protocol.MsgEnhancePrompt:
		s.handleEnhancePrompt(ctx, msg.Content)
	case protocol.MsgWorkspaceInfo:
		s.sendDirect(protocol.EventWorkspaceInfo, map[string]any{"path": s.ws.RootPath()})
	case protocol.MsgPing:
		s.sendDirect(protocol.EventPong, map[string]any{})
	case protocol.MsgReviewResult:
		s.handleReviewResult(ctx, msg.Content)
	default:
		s.sendError(fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

func (s *ChatSession) ensureSessionRow() error {
	existing, err := s.db.GetSession(s.sessionID)
	if err != nil {
		return err
	}
	if existing != nil {
		slog.Info("resuming existing session", "session", s.sessionID, "workspace", existing.WorkspaceDir)
		s.firstMessage = existing.Name == ""
		return nil
	}
	if err := s.db.CreateSession(s.sessionID, s.ws.Root(), s.deviceID); err != nil {
		return err
	}
	slog.Info("created new session", "session", s.sessionID, "workspace", s.ws.Root())
	return nil
}

// --- init_agent ---

func (s *ChatSession) handleInitAgent(ctx context.Context, raw json.RawMessage) {
	var content protocol.InitAgentContent
	if err := json.Unmarshal(raw, &content); err != nil {
		s.sendError(fmt.Sprintf("Invalid init_agent content: %s", err))
		return
	}

	mc, err := s.cfg.Model(content.ModelName)
	if err != nil {
		s.sendError(fmt.Sprintf("Error initializing agent: %s", err))
		return
	}
	if content.ThinkingTokens > 0 {
		mc.ThinkingTokens = content.ThinkingTokens
	}
	client, err := llm.NewClient(mc)
	if err != nil {
		s.sendError(fmt.Sprintf("Error initializing agent: %s", err))
		return
	}

	sandboxURL, err := s.ensureSandbox(ctx)
	if err != nil {
		s.sendError(fmt.Sprintf("Error initializing agent: %s", err))
		return
	}

	catalog, err := tools.BuildCatalog(s.cfg, s.ws, sandboxURL, content.ToolArgs)
	if err != nil {
		s.sendError(fmt.Sprintf("Error initializing agent: %s", err))
		return
	}

	counter := llm.NewTokenCounter()
	s.contextMgr = llm.NewContextManager(client, counter, s.cfg.Agent.TokenBudget)

	history := llm.NewMessageHistory()
	if data, err := s.files.Read(filestore.HistoryKey(s.sessionID.String())); err == nil {
		if err := history.RestoreSnapshot(data); err != nil {
			slog.Warn("history restore failed, starting fresh", "session", s.sessionID, "error", err)
			history = llm.NewMessageHistory()
		} else {
			slog.Info("restored history from snapshot", "session", s.sessionID, "turns", history.Len())
		}
	}

	systemPrompt := agent.SystemPrompt(s.ws.RootPath())
	if content.ToolArgs.SequentialThinking {
		systemPrompt = agent.SystemPromptWithSeqThinking(s.ws.RootPath())
	}

	s.agent = agent.New(agent.Config{
		SystemPrompt:    systemPrompt,
		Client:          client,
		Tools:           catalog,
		ContextManager:  s.contextMgr,
		History:         history,
		Queue:           s.queue,
		SessionID:       s.sessionID,
		MaxTurns:        s.cfg.Agent.MaxTurns,
		MaxOutputTokens: s.cfg.Agent.MaxOutputTokens,
	})

	message := "Agent initialized"
	if content.ToolArgs.EnableReviewer {
		reviewerCatalog, err := tools.BuildReviewerCatalog(s.cfg, s.ws, sandboxURL, content.ToolArgs)
		if err != nil {
			s.sendError(fmt.Sprintf("Error initializing agent: %s", err))
			return
		}
		s.reviewer = agent.NewReviewer(agent.ReviewerConfig{
			Client:          client,
			Tools:           reviewerCatalog,
			ContextManager:  llm.NewContextManager(client, counter, s.cfg.Agent.TokenBudget),
			Queue:           s.queue,
			SessionID:       s.sessionID,
			MaxTurns:        s.cfg.Agent.MaxTurns,
			MaxOutputTokens: s.cfg.Agent.MaxOutputTokens,
		})
		message += " with reviewer"
	}

	s.sendDirect(protocol.EventAgentInitialized, map[string]any{"message": message})
}

// ensureSandbox connects to the session's persisted sandbox when one
// exists, otherwise creates a fresh one. Returns the tool server URL.
func (s *ChatSession) ensureSandbox(ctx context.Context) (string, error) {
	if s.sb != nil {
		return s.sandboxURL()
	}
	sb, err := s.sandboxReg.Create(s.sessionID.String(), s.cfg.Sandbox, s.binder())
	if err != nil {
		return "", err
	}
	if c, ok := sb.(*sandbox.Container); ok {
		c.SetHostWorkspaceRoot(s.cfg.Workspace.HostRoot)
	}

	row, err := s.db.GetSession(s.sessionID)
	if err != nil {
		return "", err
	}
	if row != nil && row.SandboxID != "" {
		if err := sb.Connect(ctx); err != nil {
			slog.Warn("sandbox reconnect failed, creating a new one", "session", s.sessionID, "error", err)
			if err := sb.Create(ctx); err != nil {
				return "", err
			}
		}
	} else if err := sb.Create(ctx); err != nil {
		return "", err
	}

	if id, err := sb.SandboxID(); err == nil {
		if err := s.db.UpdateSessionSandboxID(s.sessionID, id); err != nil {
			slog.Warn("failed to persist sandbox id", "session", s.sessionID, "error", err)
		}
	}
	s.sb = sb
	return s.sandboxURL()
}

func (s *ChatSession) sandboxURL() (string, error) {
	url, err := s.sb.HostURL()
	if err != nil {
		return "", err
	}
	return url, nil
}

// binder persists sandbox ids on the session row for the remote-vm
// backend.
func (s *ChatSession) binder() sandbox.SessionBinder {
	return &storeBinder{db: s.db}
}

type storeBinder struct {
	db *store.Store
}

func (b *storeBinder) PersistSandboxID(sessionID, sandboxID string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return err
	}
	return b.db.UpdateSessionSandboxID(id, sandboxID)
}

func (b *storeBinder) LookupSandboxID(sessionID string) (string, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return "", err
	}
	row, err := b.db.GetSession(id)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", nil
	}
	return row.SandboxID, nil
}

// --- query / edit_query ---

func (s *ChatSession) handleQuery(ctx context.Context, raw json.RawMessage) {
	var content protocol.QueryContent
	if err := json.Unmarshal(raw, &content); err != nil {
		s.sendError(fmt.Sprintf("Invalid query content: %s", err))
		return
	}

	if cmd := strings.TrimSpace(content.Text); strings.HasPrefix(cmd, "/") {
		s.handleSlashCommand(ctx, cmd)
		return
	}

	if s.agent == nil {
		s.sendError("Agent not initialized for this session")
		return
	}

	s.maybeNameSession(content.Text)

	if !s.tryStartRun() {
		s.sendError("A query is already being processed")
		return
	}
	s.sendDirect(protocol.EventProcessing, map[string]any{"message": "Processing your request..."})
	go s.runAgent(ctx, content.Text, content.Files, content.Resume)
}

func (s *ChatSession) handleEditQuery(ctx context.Context, raw json.RawMessage) {
	var content protocol.QueryContent
	if err := json.Unmarshal(raw, &content); err != nil {
		s.sendError(fmt.Sprintf("Invalid edit_query content: %s", err))
		return
	}
	if s.agent == nil {
		s.sendError("No active agent for this session")
		return
	}

	// Atomically: cancel, wait out the in-flight query, rewind history,
	// delete the matching event tail, then start the new query.
	s.agent.Cancel()
	s.waitActive(30 * time.Second)

	s.agent.History().ClearFromLastToUserMessage()
	if err := s.db.DeleteEventsFromLastToUserMessage(s.sessionID); err != nil {
		s.sendError(fmt.Sprintf("Error clearing history: %s", err))
		return
	}
	s.sendDirect(protocol.EventSystem, map[string]any{
		"message": "Session history cleared from last event to last user message",
	})

	if !s.tryStartRun() {
		s.sendError("A query is already being processed")
		return
	}
	s.sendDirect(protocol.EventProcessing, map[string]any{"message": "Processing your request..."})
	go s.runAgent(ctx, content.Text, content.Files, false)
}

// runAgent executes one query on a worker goroutine so cancel, ping and
// workspace_info stay responsive mid-turn.
func (s *ChatSession) runAgent(ctx context.Context, text string, files []string, resume bool) {
	defer s.finishRun()

	s.queue.Push(bus.New(s.sessionID, protocol.EventUserMessage, map[string]any{"text": text}))
	s.agent.ResetCancel()

	_, err := s.agent.Run(ctx, text, files, resume)
	switch {
	case err == nil:
	case errors.Is(err, agent.ErrCancelled):
		slog.Info("query cancelled", "session", s.sessionID)
	case errors.Is(err, agent.ErrMaxTurns):
		s.sendError("Agent reached maximum number of turns without terminating")
	default:
		slog.Error("agent run failed", "session", s.sessionID, "error", err)
		s.sendError(fmt.Sprintf("Error running agent: %s", err))
	}

	s.sendDirect(protocol.EventStreamComplete, map[string]any{})
	s.snapshotHistory()
}

func (s *ChatSession) maybeNameSession(text string) {
	trimmed := strings.TrimSpace(text)
	if !s.firstMessage || trimmed == "" {
		return
	}
	name := trimmed
	if len(name) > sessionNameLimit {
		name = name[:sessionNameLimit]
	}
	if err := s.db.UpdateSessionName(s.sessionID, name); err != nil {
		slog.Warn("failed to set session name", "session", s.sessionID, "error", err)
		return
	}
	s.firstMessage = false
}

func (s *ChatSession) tryStartRun() bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if s.activeDone != nil {
		select {
		case <-s.activeDone:
			// Previous run finished; slot is free.
		default:
			return false
		}
	}
	s.activeDone = make(chan struct{})
	return true
}

func (s *ChatSession) finishRun() {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if s.activeDone != nil {
		close(s.activeDone)
		s.activeDone = nil
	}
}

func (s *ChatSession) waitActive(timeout time.Duration) {
	s.activeMu.Lock()
	done := s.activeDone
	s.activeMu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("timed out waiting for active query", "session", s.sessionID)
	}
}

// --- cancel ---

func (s *ChatSession) handleCancel() {
	if s.agent == nil {
		s.sendError("No active agent for this session")
		return
	}
	s.agent.Cancel()
	// The actual stop is cooperative; the acknowledgement is immediate.
	s.sendDirect(protocol.EventSystem, map[string]any{"message": "Query cancelled"})
}

// --- slash commands ---

func (s *ChatSession) handleSlashCommand(ctx context.Context, cmd string) {
	switch {
	case strings.HasPrefix(cmd, protocol.CmdCompact):
		s.handleCompact(ctx)
	case strings.HasPrefix(cmd, protocol.CmdHelp):
		s.sendDirect(protocol.EventSystem, map[string]any{
			"message": "Available commands:\n/compact — summarize the conversation so far and continue from the summary\n/help — show this help",
		})
	default:
		s.sendError(fmt.Sprintf("Unknown command: %s", cmd))
	}
}

// handleCompact summarizes the entire history into a single synthetic
// user turn and replaces the history with it.
func (s *ChatSession) handleCompact(ctx context.Context) {
	if s.agent == nil || s.contextMgr == nil {
		s.sendError("Agent not initialized for this session")
		return
	}
	if !s.tryStartRun() {
		s.sendError("A query is already being processed")
		return
	}
	s.sendDirect(protocol.EventProcessing, map[string]any{"message": "Compacting conversation..."})

	go func() {
		defer s.finishRun()
		history := s.agent.History()
		seed, err := s.contextMgr.Compact(ctx, history.Turns())
		if err != nil {
			s.sendError(fmt.Sprintf("Compaction failed: %s", err))
			s.sendDirect(protocol.EventStreamComplete, map[string]any{})
			return
		}
		history.Clear()
		history.AddUserPrompt(seed)
		s.snapshotHistory()
		s.sendDirect(protocol.EventSystem, map[string]any{"message": "Conversation compacted"})
		s.sendDirect(protocol.EventStreamComplete, map[string]any{})
	}()
}

// --- enhance_prompt ---

func (s *ChatSession) handleEnhancePrompt(ctx context.Context, raw json.RawMessage) {
	var content protocol.EnhancePromptContent
	if err := json.Unmarshal(raw, &content); err != nil {
		s.sendError(fmt.Sprintf("Invalid enhance_prompt content: %s", err))
		return
	}
	mc, err := s.cfg.Model(content.ModelName)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	client, err := llm.NewClient(mc)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	go func() {
		genCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		resp, err := client.Generate(genCtx, llm.GenerateRequest{
			Messages:  []llm.Turn{{llm.TextPrompt{Text: agent.EnhancePrompt(content.Text, content.Files)}}},
			MaxTokens: 2048,
		})
		if err != nil {
			s.sendError(fmt.Sprintf("Failed to enhance prompt: %s", err))
			return
		}
		enhanced := ""
		for _, b := range resp.Content {
			if tr, ok := b.(llm.TextResult); ok {
				enhanced += tr.Text
			}
		}
		if strings.TrimSpace(enhanced) == "" {
			s.sendError("Failed to enhance prompt: empty response from model")
			return
		}
		s.sendDirect(protocol.EventPromptGenerated, map[string]any{
			"result":           enhanced,
			"original_request": content.Text,
		})
	}()
}

// --- review_result ---

func (s *ChatSession) handleReviewResult(ctx context.Context, raw json.RawMessage) {
	var content protocol.ReviewResultContent
	if err := json.Unmarshal(raw, &content); err != nil {
		s.sendError(fmt.Sprintf("Invalid review_result content: %s", err))
		return
	}
	if s.agent == nil {
		s.sendError("No active agent for this session")
		return
	}
	if s.reviewer == nil {
		s.sendError("Reviewer is not enabled for this session")
		return
	}
	if content.UserInput == "" {
		s.sendError("No user query found to review")
		return
	}

	input, found := s.agent.History().FindLastToolCallInput(tools.MessageUserName)
	if !found {
		slog.Warn("no final result found from agent to review", "session", s.sessionID)
		s.sendError("No final result found from agent to review")
		return
	}
	finalResult, _ := input["text"].(string)

	if !s.tryStartRun() {
		s.sendError("A query is already being processed")
		return
	}
	s.sendDirect(protocol.EventSystem, map[string]any{
		"type":    "reviewer_agent",
		"message": "Reviewer agent is analyzing the output...",
	})

	go func() {
		feedback, err := s.reviewer.Review(ctx, content.UserInput, finalResult, s.ws.RootPath())
		if err != nil {
			s.finishRun()
			s.sendError(fmt.Sprintf("Error running reviewer: %s", err))
			s.sendDirect(protocol.EventStreamComplete, map[string]any{})
			return
		}
		if strings.TrimSpace(feedback) == "" {
			s.finishRun()
			s.sendDirect(protocol.EventStreamComplete, map[string]any{})
			return
		}
		s.sendDirect(protocol.EventSystem, map[string]any{
			"type":    "reviewer_agent",
			"message": "Applying reviewer feedback...",
		})
		// The run slot is already held; feed the feedback straight back
		// into the main agent as a new user turn.
		s.runAgent(ctx, agent.BuildFeedbackPrompt(feedback, content.UserInput), nil, false)
	}()
}

// snapshotHistory serializes the message history to the session blob
// store, on disconnect and after each completed turn.
func (s *ChatSession) snapshotHistory() {
	if s.agent == nil {
		return
	}
	data, err := s.agent.History().Snapshot()
	if err != nil {
		slog.Warn("history snapshot failed", "session", s.sessionID, "error", err)
		return
	}
	if err := s.files.Write(filestore.HistoryKey(s.sessionID.String()), data); err != nil {
		slog.Warn("history snapshot write failed", "session", s.sessionID, "error", err)
	}
}
