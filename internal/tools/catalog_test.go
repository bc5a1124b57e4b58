package tools

import (
	"slices"
	"testing"

	"github.com/paulpham157/ii-agent/internal/config"
	"github.com/paulpham157/ii-agent/internal/workspace"
	"github.com/paulpham157/ii-agent/pkg/protocol"
)

func testWorkspace(t *testing.T) *workspace.Manager {
	t.Helper()
	ws, err := workspace.NewManager(t.TempDir(), "sess", true)
	if err != nil {
		t.Fatal(err)
	}
	return ws
}

func TestBuildCatalogCoreTools(t *testing.T) {
	cfg := config.Default()
	reg, err := BuildCatalog(cfg, testWorkspace(t), "", protocol.ToolArgs{})
	if err != nil {
		t.Fatal(err)
	}

	names := reg.Names()
	for _, want := range []string{
		"shell_exec", "shell_view", "shell_wait", "shell_write_to_process", "shell_kill_process",
		"str_replace_editor", MessageUserName, ReturnControlToUserName,
	} {
		if !slices.Contains(names, want) {
			t.Errorf("catalog missing %s: %v", want, names)
		}
	}
	if slices.Contains(names, "sequential_thinking") {
		t.Error("sequential_thinking should be off by default")
	}

	params := reg.Params()
	if len(params) != len(names) {
		t.Errorf("params = %d, names = %d", len(params), len(names))
	}
	for _, p := range params {
		if p.Description == "" || p.InputSchema == nil {
			t.Errorf("tool %s has incomplete schema", p.Name)
		}
	}
}

func TestBuildCatalogOptionalToggles(t *testing.T) {
	cfg := config.Default()
	reg, err := BuildCatalog(cfg, testWorkspace(t), "", protocol.ToolArgs{
		SequentialThinking: true,
		MemoryTool:         "simple",
	})
	if err != nil {
		t.Fatal(err)
	}
	names := reg.Names()
	if !slices.Contains(names, "sequential_thinking") {
		t.Error("sequential_thinking not added")
	}
	if !slices.Contains(names, "simple_memory") {
		t.Error("simple_memory not added")
	}
}

func TestReviewerCatalogSwapsTerminationTool(t *testing.T) {
	cfg := config.Default()
	reg, err := BuildReviewerCatalog(cfg, testWorkspace(t), "", protocol.ToolArgs{})
	if err != nil {
		t.Fatal(err)
	}
	names := reg.Names()
	if slices.Contains(names, ReturnControlToUserName) {
		t.Error("reviewer catalog still carries the user termination tool")
	}
	if !slices.Contains(names, ReturnControlToGeneralAgentName) {
		t.Error("reviewer termination tool missing")
	}
}
