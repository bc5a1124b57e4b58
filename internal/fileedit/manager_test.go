package fileedit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	return NewManager(Options{Root: root}), root
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	m, root := newTestManager(t)
	path := filepath.Join(root, "a.txt")

	if resp := m.WriteFile(path, "hello\nworld"); !resp.Success {
		t.Fatalf("write failed: %s", resp.FileContent)
	}
	resp := m.ReadFile(path)
	if !resp.Success || resp.FileContent != "hello\nworld" {
		t.Errorf("read = %q, want the written content", resp.FileContent)
	}
}

func TestWriteWriteUndoRestoresFirstContent(t *testing.T) {
	m, root := newTestManager(t)
	path := filepath.Join(root, "a.txt")

	m.WriteFile(path, "first")
	m.WriteFile(path, "second")
	if resp := m.UndoEdit(path); !resp.Success {
		t.Fatalf("undo failed: %s", resp.FileContent)
	}
	if resp := m.ReadFile(path); resp.FileContent != "first" {
		t.Errorf("after undo = %q, want %q", resp.FileContent, "first")
	}
}

func TestUndoEmptyStackFails(t *testing.T) {
	m, root := newTestManager(t)
	path := filepath.Join(root, "a.txt")
	writeTestFile(t, path, "content")

	resp := m.UndoEdit(path)
	if resp.Success {
		t.Fatal("undo with empty history should fail")
	}
	if !strings.Contains(resp.FileContent, "No edit history") {
		t.Errorf("message = %q", resp.FileContent)
	}
}

func TestStrReplaceInverseIsByteIdentical(t *testing.T) {
	m, root := newTestManager(t)
	path := filepath.Join(root, "a.txt")
	original := "alpha\nbeta\ngamma\n"
	writeTestFile(t, path, original)

	if resp := m.StrReplace(path, "beta", "delta"); !resp.Success {
		t.Fatalf("first replace failed: %s", resp.FileContent)
	}
	if resp := m.StrReplace(path, "delta", "beta"); !resp.Success {
		t.Fatalf("inverse replace failed: %s", resp.FileContent)
	}
	data, _ := os.ReadFile(path)
	if string(data) != original {
		t.Errorf("file = %q, want byte-identical original", data)
	}
}

func TestStrReplaceErrors(t *testing.T) {
	m, root := newTestManager(t)
	path := filepath.Join(root, "a.txt")
	writeTestFile(t, path, "x\ny\nx\n")

	tests := []struct {
		name    string
		old     string
		wantMsg string
	}{
		{"zero occurrences", "missing", "did not appear"},
		{"multiple occurrences", "x", "Multiple occurrences"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := m.StrReplace(path, tt.old, "z")
			if resp.Success {
				t.Fatal("expected failure")
			}
			if !strings.Contains(resp.FileContent, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", resp.FileContent, tt.wantMsg)
			}
		})
	}
}

func TestStrReplaceEmptyOldOnlyOnEmptyFile(t *testing.T) {
	m, root := newTestManager(t)

	empty := filepath.Join(root, "empty.txt")
	writeTestFile(t, empty, "")
	if resp := m.StrReplace(empty, "", "seeded"); !resp.Success {
		t.Fatalf("empty old_str on empty file should succeed: %s", resp.FileContent)
	}
	data, _ := os.ReadFile(empty)
	if string(data) != "seeded" {
		t.Errorf("file = %q, want %q", data, "seeded")
	}

	full := filepath.Join(root, "full.txt")
	writeTestFile(t, full, "content")
	if resp := m.StrReplace(full, "", "new"); resp.Success {
		t.Error("empty old_str on non-empty file should fail")
	}
}

func TestStrReplaceIgnoreIndentation(t *testing.T) {
	root := t.TempDir()
	m := NewManager(Options{Root: root, IgnoreIndentation: true})
	path := filepath.Join(root, "code.py")
	writeTestFile(t, path, "def f():\n    if x:\n        return 1\n    return 0\n")

	resp := m.StrReplace(path, "if x:\nreturn 1", "if y:\n    return 2")
	if !resp.Success {
		t.Fatalf("indent-tolerant replace failed: %s", resp.FileContent)
	}
	data, _ := os.ReadFile(path)
	want := "def f():\n    if y:\n        return 2\n    return 0\n"
	if string(data) != want {
		t.Errorf("file =\n%q\nwant\n%q", data, want)
	}
}

func TestViewBoundaries(t *testing.T) {
	m, root := newTestManager(t)
	path := filepath.Join(root, "lines.txt")
	writeTestFile(t, path, "one\ntwo\nthree")

	full := m.View(path, nil)
	ranged := m.View(path, []int{1, 3})
	if !full.Success || !ranged.Success {
		t.Fatalf("view failed: %s / %s", full.FileContent, ranged.FileContent)
	}
	if full.FileContent != ranged.FileContent {
		t.Errorf("view[1,n] should equal full view:\n%q\n%q", ranged.FileContent, full.FileContent)
	}

	last := m.View(path, []int{3, -1})
	if !last.Success {
		t.Fatalf("view[k,-1] failed: %s", last.FileContent)
	}
	if !strings.Contains(last.FileContent, "3\tthree") {
		t.Errorf("view[n,-1] = %q, want exactly line 3", last.FileContent)
	}
	if strings.Contains(last.FileContent, "two") {
		t.Error("view[n,-1] leaked earlier lines")
	}

	if resp := m.View(path, []int{0, 2}); resp.Success {
		t.Error("start line 0 should be rejected")
	}
	if resp := m.View(path, []int{1, 9}); resp.Success {
		t.Error("end past EOF should be rejected")
	}
}

func TestViewDirectoryListing(t *testing.T) {
	m, root := newTestManager(t)
	writeTestFile(t, filepath.Join(root, "visible.txt"), "x")
	writeTestFile(t, filepath.Join(root, ".hidden"), "x")
	if err := os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "src", "deep", "deeper"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(root, "src", "main.go"), "x")

	resp := m.View(root, nil)
	if !resp.Success {
		t.Fatalf("dir view failed: %s", resp.FileContent)
	}
	for _, want := range []string{"visible.txt", "src"} {
		if !strings.Contains(resp.FileContent, want) {
			t.Errorf("listing missing %q", want)
		}
	}
	for _, reject := range []string{".hidden", "node_modules", "deeper"} {
		if strings.Contains(resp.FileContent, reject) {
			t.Errorf("listing should not contain %q", reject)
		}
	}
}

func TestInsertBoundaries(t *testing.T) {
	m, root := newTestManager(t)
	path := filepath.Join(root, "a.txt")

	writeTestFile(t, path, "b\nc")
	if resp := m.Insert(path, 0, "a"); !resp.Success {
		t.Fatalf("insert at 0 failed: %s", resp.FileContent)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "a\nb\nc" {
		t.Errorf("after prepend = %q", data)
	}

	if resp := m.Insert(path, 3, "d"); !resp.Success {
		t.Fatalf("append failed: %s", resp.FileContent)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "a\nb\nc\nd" {
		t.Errorf("after append = %q", data)
	}

	if resp := m.Insert(path, 99, "x"); resp.Success {
		t.Error("insert past EOF should fail")
	}
}

func TestCreateRejectsNonEmptyExisting(t *testing.T) {
	m, root := newTestManager(t)
	path := filepath.Join(root, "a.txt")
	writeTestFile(t, path, "existing content")

	resp := m.Create(path, "new")
	if resp.Success {
		t.Fatal("create over non-empty file should fail")
	}
	if !strings.Contains(resp.FileContent, "Cannot overwrite non empty files") {
		t.Errorf("message = %q", resp.FileContent)
	}
}

func TestPathsOutsideRootRejected(t *testing.T) {
	m, _ := newTestManager(t)
	outside := filepath.Join(t.TempDir(), "outside.txt")
	writeTestFile(t, outside, "secret")

	for name, resp := range map[string]Response{
		"read":    m.ReadFile(outside),
		"write":   m.WriteFile(outside, "x"),
		"view":    m.View(outside, nil),
		"replace": m.StrReplace(outside, "secret", "x"),
	} {
		if resp.Success {
			t.Errorf("%s outside workspace root should fail", name)
		}
		if !strings.Contains(resp.FileContent, "outside the workspace") {
			t.Errorf("%s message = %q", name, resp.FileContent)
		}
	}
}

func TestValidatePath(t *testing.T) {
	m, root := newTestManager(t)
	existing := filepath.Join(root, "a.txt")
	writeTestFile(t, existing, "x")
	dir := filepath.Join(root, "sub")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		command string
		path    string
		wantOK  bool
	}{
		{"view existing", "view", existing, true},
		{"view directory", "view", dir, true},
		{"str_replace on directory", "str_replace", dir, false},
		{"str_replace missing path", "str_replace", filepath.Join(root, "nope.txt"), false},
		{"create new path", "create", filepath.Join(root, "new.txt"), true},
		{"create over non-empty", "create", existing, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := m.ValidatePath(tt.command, tt.path)
			if resp.Success != tt.wantOK {
				t.Errorf("success = %v, want %v (%s)", resp.Success, tt.wantOK, resp.FileContent)
			}
		})
	}
}

func TestEditRecordEmitted(t *testing.T) {
	m, root := newTestManager(t)
	var records []EditRecord
	m.OnEdit(func(r EditRecord) { records = append(records, r) })

	path := filepath.Join(root, "a.txt")
	m.WriteFile(path, "one\ntwo")
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].TotalLines != 2 {
		t.Errorf("total lines = %d, want 2", records[0].TotalLines)
	}
	if records[0].Content != "one\ntwo" {
		t.Errorf("content = %q", records[0].Content)
	}
}

func TestResponseClipping(t *testing.T) {
	long := strings.Repeat("a", maxResponseLen+100)
	got := maybeTruncate(long)
	if !strings.Contains(got, "<response clipped>") {
		t.Error("oversized response not clipped")
	}
	if len(got) >= len(long)+len(truncatedNotice) {
		t.Error("clipped response did not shrink")
	}
}
