package tools

import (
	"log/slog"
	"time"

	"github.com/paulpham157/ii-agent/internal/config"
	"github.com/paulpham157/ii-agent/internal/fileedit"
	"github.com/paulpham157/ii-agent/internal/terminal"
	"github.com/paulpham157/ii-agent/internal/toolclient"
	"github.com/paulpham157/ii-agent/internal/workspace"
	"github.com/paulpham157/ii-agent/pkg/protocol"
)

// BuildCatalog assembles the system tool registry for one session. The
// Local/Remote client split is decided once here, from the sandbox mode.
// Optional tool groups are added only when their toggle is set; groups
// this build does not carry (browser, media, audio, pdf, deep research)
// log a warning and are skipped.
func BuildCatalog(cfg *config.Config, ws *workspace.Manager, sandboxURL string, args protocol.ToolArgs) (*Registry, error) {
	var termClient toolclient.TerminalClient
	var fileClient toolclient.FileEditClient

	if ws.IsLocal() {
		termMgr, err := terminal.New(cfg.Agent.TerminalBackend, terminal.Options{
			Shell:           cfg.Agent.DefaultShell,
			Cwd:             ws.Root(),
			UseRelativePath: cfg.Agent.UseRelativePaths,
		})
		if err != nil {
			return nil, err
		}
		termClient = toolclient.NewLocalTerminalClient(termMgr)
		fileClient = toolclient.NewLocalFileEditClient(fileedit.NewManager(fileedit.Options{
			Root:              ws.Root(),
			IgnoreIndentation: cfg.Agent.IgnoreIndentation,
			ExpandTabs:        cfg.Agent.ExpandTabs,
			UseRelativePath:   cfg.Agent.UseRelativePaths,
		}))
	} else {
		timeout := 120 * time.Second
		termClient = toolclient.NewRemoteTerminalClient(sandboxURL, timeout)
		fileClient = toolclient.NewRemoteFileEditClient(sandboxURL, timeout)
	}

	catalog := []Tool{
		NewShellViewTool(termClient),
		NewShellWaitTool(termClient),
		NewShellWriteToProcessTool(termClient),
		NewShellKillProcessTool(termClient),
		NewShellExecTool(termClient, ws),
		NewStrReplaceEditorTool(fileClient, ws),
		MessageUserTool{},
		ReturnControlToUserTool{},
	}

	if args.SequentialThinking {
		catalog = append(catalog, SequentialThinkingTool{})
	}
	switch args.MemoryTool {
	case "simple":
		catalog = append(catalog, NewSimpleMemoryTool())
	case "", "none", "compactify-memory":
		// compactify-memory is handled by the context manager itself.
	default:
		slog.Warn("unknown memory tool requested", "memory_tool", args.MemoryTool)
	}
	for name, enabled := range map[string]bool{
		"browser":          args.Browser,
		"media_generation": args.MediaGeneration,
		"audio_generation": args.AudioGeneration,
		"pdf":              args.PDF,
		"deep_research":    args.DeepResearch,
	} {
		if enabled {
			slog.Warn("tool group not available in this build", "group", name)
		}
	}

	return NewRegistry(catalog...)
}

// BuildReviewerCatalog assembles the reviewer's registry: same tools,
// but the termination tool hands control back to the general agent.
func BuildReviewerCatalog(cfg *config.Config, ws *workspace.Manager, sandboxURL string, args protocol.ToolArgs) (*Registry, error) {
	base, err := BuildCatalog(cfg, ws, sandboxURL, args)
	if err != nil {
		return nil, err
	}
	replaced := make([]Tool, 0, len(base.order))
	for _, name := range base.order {
		if name == ReturnControlToUserName {
			replaced = append(replaced, ReturnControlToGeneralAgentTool{})
			continue
		}
		replaced = append(replaced, base.byName[name])
	}
	return NewRegistry(replaced...)
}
