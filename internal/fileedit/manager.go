package fileedit

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	// snippetLines is the context radius shown around an edit.
	snippetLines = 4

	// maxResponseLen clips tool responses so a huge file cannot blow the
	// model context.
	maxResponseLen = 200_000

	truncatedNotice = "<response clipped><NOTE>To save on context only part of this file has been shown to you. You should retry this tool after you have searched inside the file with `grep -n` in order to find the line numbers of what you are looking for.</NOTE>"

	workdirPlaceholder = ".WORKING_DIR"
)

// excludedDirs are omitted from directory listings.
var excludedDirs = map[string]bool{
	"node_modules": true,
	"dist":         true,
	"build":        true,
}

// Response is the uniform result of every file-edit operation.
type Response struct {
	Success     bool   `json:"success"`
	FileContent string `json:"file_content"`
}

// EditRecord describes a successful mutation, for file_edit events.
type EditRecord struct {
	Path       string
	Content    string
	TotalLines int
}

// opError is an expected operational failure, reported in the response
// body rather than as a Go error.
type opError struct{ msg string }

func (e *opError) Error() string { return e.msg }

func opErrorf(format string, args ...any) *opError {
	return &opError{msg: fmt.Sprintf(format, args...)}
}

// Manager implements the view/create/str_replace/insert/undo file
// operations with per-file undo stacks. All paths are confined to root.
type Manager struct {
	root              string
	ignoreIndentation bool
	expandTabs        bool
	useRelativePath   bool

	mu      sync.Mutex
	history map[string][]string // path → undo stack of prior contents

	// onEdit, when set, observes every successful mutation.
	onEdit func(EditRecord)
}

// Options configure a file-edit manager.
type Options struct {
	Root              string // workspace root; ops outside it are rejected
	IgnoreIndentation bool
	ExpandTabs        bool
	UseRelativePath   bool
}

// NewManager builds a file-edit manager.
func NewManager(opts Options) *Manager {
	return &Manager{
		root:              opts.Root,
		ignoreIndentation: opts.IgnoreIndentation,
		expandTabs:        opts.ExpandTabs,
		useRelativePath:   opts.UseRelativePath,
		history:           make(map[string][]string),
	}
}

// OnEdit registers the mutation observer.
func (m *Manager) OnEdit(fn func(EditRecord)) { m.onEdit = fn }

func respond(err error) Response {
	return Response{Success: false, FileContent: err.Error()}
}

// checkRoot rejects paths that resolve outside the workspace root.
func (m *Manager) checkRoot(path string) error {
	if m.root == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return opErrorf("Invalid path %s: %s", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path may not exist yet (create); resolve the parent instead.
		parent, perr := filepath.EvalSymlinks(filepath.Dir(abs))
		if perr != nil {
			parent = filepath.Dir(abs)
		}
		resolved = filepath.Join(parent, filepath.Base(abs))
	}
	rootAbs, err := filepath.Abs(m.root)
	if err != nil {
		return opErrorf("Invalid workspace root: %s", err)
	}
	if r, rerr := filepath.EvalSymlinks(rootAbs); rerr == nil {
		rootAbs = r
	}
	rel, err := filepath.Rel(rootAbs, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return opErrorf("The path %s is outside the workspace directory %s.", m.display(path), m.display(rootAbs))
	}
	return nil
}

func (m *Manager) display(path string) string {
	if m.useRelativePath && m.root != "" {
		return strings.ReplaceAll(path, m.root, workdirPlaceholder)
	}
	return path
}

// ValidatePath checks a command/path combination without mutating.
func (m *Manager) ValidatePath(command, path string) Response {
	if err := m.validatePath(command, path); err != nil {
		return respond(err)
	}
	return Response{Success: true}
}

func (m *Manager) validatePath(command, path string) error {
	if err := m.checkRoot(path); err != nil {
		return err
	}
	info, statErr := os.Stat(path)
	exists := statErr == nil
	if !exists && command != "create" {
		return opErrorf("The path %s does not exist. Please provide a valid path.", m.display(path))
	}
	if exists && command == "create" {
		content, err := m.readFileRaw(path)
		if err != nil {
			return err
		}
		if strings.TrimSpace(content) != "" {
			return opErrorf("File already exists and is not empty at: %s. Cannot overwrite non empty files using command `create`.", m.display(path))
		}
	}
	if exists && info.IsDir() && command != "view" {
		return opErrorf("The path %s is a directory and only the `view` command can be used on directories", m.display(path))
	}
	return nil
}

// View returns a cat -n rendering of a file, optionally restricted to a
// 1-indexed [start, end] range (end = -1 means EOF), or a depth-2
// directory listing.
func (m *Manager) View(path string, viewRange []int) Response {
	if err := m.checkRoot(path); err != nil {
		return respond(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return respond(opErrorf("The path %s does not exist. Please provide a valid path.", m.display(path)))
	}

	if info.IsDir() {
		if len(viewRange) > 0 {
			return respond(opErrorf("The `view_range` parameter is not allowed when `path` points to a directory."))
		}
		listing, err := m.listDirectory(path)
		if err != nil {
			return respond(err)
		}
		out := fmt.Sprintf("Here's the files and directories up to 2 levels deep in %s, excluding hidden items:\n%s\n", m.display(path), listing)
		return Response{Success: true, FileContent: out}
	}

	content, err := m.readFileRaw(path)
	if err != nil {
		return respond(err)
	}
	lines := strings.Split(content, "\n")
	initLine := 1
	if len(viewRange) > 0 {
		if len(viewRange) != 2 {
			return respond(opErrorf("Invalid `view_range`. It should be a list of two integers."))
		}
		n := len(lines)
		start, end := viewRange[0], viewRange[1]
		if start < 1 || start > n {
			return respond(opErrorf("Invalid `view_range`: %v. Its first element `%d` should be within the range of lines of the file: %v", viewRange, start, []int{1, n}))
		}
		if end > n {
			return respond(opErrorf("Invalid `view_range`: %v. Its second element `%d` should be smaller than the number of lines in the file: `%d`", viewRange, end, n))
		}
		if end != -1 && end < start {
			return respond(opErrorf("Invalid `view_range`: %v. Its second element `%d` should be larger or equal than its first `%d`", viewRange, end, start))
		}
		initLine = start
		if end == -1 {
			content = strings.Join(lines[start-1:], "\n")
		} else {
			content = strings.Join(lines[start-1:end], "\n")
		}
	}

	return Response{Success: true, FileContent: m.makeOutput(content, m.display(path), len(lines), initLine)}
}

// listDirectory renders entries up to 2 levels deep, skipping hidden
// directories and the usual build artifacts.
func (m *Manager) listDirectory(root string) (string, error) {
	var entries []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil || rel == "." {
			return nil
		}
		name := d.Name()
		if d.IsDir() && (strings.HasPrefix(name, ".") || excludedDirs[name]) {
			return fs.SkipDir
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if strings.Count(rel, string(filepath.Separator)) >= 2 {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		entries = append(entries, filepath.Join(root, rel))
		return nil
	})
	if err != nil {
		return "", opErrorf("Ran into %s while trying to list %s", err, m.display(root))
	}
	sort.Strings(entries)
	for i, e := range entries {
		entries[i] = m.display(e)
	}
	return strings.Join(entries, "\n"), nil
}

// Create writes a new file, saving any previous content for undo.
func (m *Manager) Create(path, text string) Response {
	if err := m.validatePath("create", path); err != nil {
		return respond(err)
	}
	if prev, err := m.readFileRaw(path); err == nil {
		m.pushHistory(path, prev)
	}
	if err := m.writeFileRaw(path, text); err != nil {
		return respond(err)
	}
	m.notifyEdit(path, text)
	return Response{Success: true, FileContent: fmt.Sprintf("File created successfully at: %s", m.display(path))}
}

// StrReplace replaces a unique occurrence of oldStr with newStr.
func (m *Manager) StrReplace(path, oldStr, newStr string) Response {
	if err := m.checkRoot(path); err != nil {
		return respond(err)
	}
	if m.ignoreIndentation {
		return m.strReplaceIgnoreIndent(path, oldStr, newStr)
	}
	return m.strReplaceExact(path, oldStr, newStr)
}

func (m *Manager) strReplaceExact(path, oldStr, newStr string) Response {
	content, err := m.readFileRaw(path)
	if err != nil {
		return respond(err)
	}
	if m.expandTabs {
		content = expandTabs(content)
		oldStr = expandTabs(oldStr)
		newStr = expandTabs(newStr)
	}

	if strings.TrimSpace(oldStr) == "" {
		if strings.TrimSpace(content) != "" {
			return respond(opErrorf("No replacement was performed, old_str is empty which is only allowed when the file is empty. The file %s is not empty.", m.display(path)))
		}
		m.pushHistory(path, content)
		if err := m.writeFileRaw(path, newStr); err != nil {
			return respond(err)
		}
		m.notifyEdit(path, newStr)
		msg := fmt.Sprintf("The file %s has been edited. Here's the new content:\n%s", m.display(path), newStr)
		msg += m.makeOutput(newStr, m.display(path), len(strings.Split(newStr, "\n")), 1)
		msg += "Review the changes and make sure they are as expected. Edit the file again if necessary."
		return Response{Success: true, FileContent: msg}
	}

	switch occurrences := strings.Count(content, oldStr); {
	case occurrences == 0:
		return respond(opErrorf("No replacement was performed, old_str \n ```\n%s\n```\n did not appear verbatim in %s.", oldStr, m.display(path)))
	case occurrences > 1:
		var lineNums []int
		for i, line := range strings.Split(content, "\n") {
			if strings.Contains(line, oldStr) {
				lineNums = append(lineNums, i+1)
			}
		}
		return respond(opErrorf("No replacement was performed. Multiple occurrences of old_str \n ```\n%s\n```\n in lines %v. Please ensure it is unique", oldStr, lineNums))
	}

	newContent := strings.Replace(content, oldStr, newStr, 1)
	m.pushHistory(path, content)
	if err := m.writeFileRaw(path, newContent); err != nil {
		return respond(err)
	}
	m.notifyEdit(path, newContent)

	replacementLine := strings.Count(strings.SplitN(content, oldStr, 2)[0], "\n")
	startLine := max(0, replacementLine-snippetLines)
	endLine := replacementLine + snippetLines + strings.Count(newStr, "\n")
	newLines := strings.Split(newContent, "\n")
	snippet := strings.Join(newLines[startLine:min(endLine+1, len(newLines))], "\n")

	msg := fmt.Sprintf("The file %s has been edited. ", m.display(path))
	msg += m.makeOutput(snippet, fmt.Sprintf("a snippet of %s", m.display(path)), len(newLines), startLine+1)
	msg += "Review the changes and make sure they are as expected. Edit the file again if necessary."
	return Response{Success: true, FileContent: msg}
}

// strReplaceIgnoreIndent matches line-wise on stripped content and
// re-indents the replacement to the first matched line.
func (m *Manager) strReplaceIgnoreIndent(path, oldStr, newStr string) Response {
	content, err := m.readFileRaw(path)
	if err != nil {
		return respond(err)
	}
	if m.expandTabs {
		content = expandTabs(content)
		oldStr = expandTabs(oldStr)
		newStr = expandTabs(newStr)
	}
	newStr = normalizeIndent(newStr)

	contentLines := strings.Split(content, "\n")
	strippedContent := make([]string, len(contentLines))
	for i, l := range contentLines {
		strippedContent[i] = strings.TrimSpace(l)
	}
	oldLines := strings.Split(oldStr, "\n")
	strippedOld := make([]string, len(oldLines))
	for i, l := range oldLines {
		strippedOld[i] = strings.TrimSpace(l)
	}

	var matches []int
	for i := 0; i+len(strippedOld) <= len(strippedContent); i++ {
		isMatch := true
		for j, pattern := range strippedOld {
			if j == len(strippedOld)-1 {
				if !strings.HasPrefix(strippedContent[i+j], pattern) {
					isMatch = false
				}
			} else if strippedContent[i+j] != pattern {
				isMatch = false
			}
			if !isMatch {
				break
			}
		}
		if isMatch {
			matches = append(matches, i)
		}
	}

	if len(matches) == 0 {
		return respond(opErrorf("No replacement was performed, old_str \n ```\n%s\n```\n did not appear in %s.", oldStr, m.display(path)))
	}
	if len(matches) > 1 {
		lineNums := make([]int, len(matches))
		for i, idx := range matches {
			lineNums[i] = idx + 1
		}
		return respond(opErrorf("No replacement was performed. Multiple occurrences of old_str \n ```\n%s\n```\n starting at lines %v. Please ensure it is unique", oldStr, lineNums))
	}

	matchStart := matches[0]
	matchEnd := matchStart + len(strippedOld)

	// The last pattern line may match only a prefix; carry the remainder
	// of the original line into the replacement.
	lastStripped := strippedOld[len(strippedOld)-1]
	remainder := strings.TrimPrefix(strippedContent[matchEnd-1], lastStripped)
	replacement := matchIndentByFirstLine(newStr+remainder, contentLines[matchStart])

	newLines := make([]string, 0, len(contentLines))
	newLines = append(newLines, contentLines[:matchStart]...)
	newLines = append(newLines, strings.Split(replacement, "\n")...)
	newLines = append(newLines, contentLines[matchEnd:]...)
	newContent := strings.Join(newLines, "\n")

	m.pushHistory(path, content)
	if err := m.writeFileRaw(path, newContent); err != nil {
		return respond(err)
	}
	m.notifyEdit(path, newContent)

	startLine := max(0, matchStart-snippetLines)
	endLine := matchStart + snippetLines + strings.Count(newStr, "\n")
	snippet := strings.Join(newLines[startLine:min(endLine+1, len(newLines))], "\n")

	msg := fmt.Sprintf("The file %s has been edited. ", m.display(path))
	msg += m.makeOutput(snippet, fmt.Sprintf("a snippet of %s", m.display(path)), len(newLines), startLine+1)
	msg += "Review the changes and make sure they are as expected. Edit the file again if necessary."
	return Response{Success: true, FileContent: msg}
}

// Insert adds newStr after the 1-indexed line; 0 prepends.
func (m *Manager) Insert(path string, insertLine int, newStr string) Response {
	if err := m.checkRoot(path); err != nil {
		return respond(err)
	}
	content, err := m.readFileRaw(path)
	if err != nil {
		return respond(err)
	}
	if m.expandTabs {
		content = expandTabs(content)
		newStr = expandTabs(newStr)
	}
	lines := strings.Split(content, "\n")
	n := len(lines)
	if insertLine < 0 || insertLine > n {
		return respond(opErrorf("Invalid `insert_line` parameter: %d. It should be within the range of lines of the file: %v", insertLine, []int{0, n}))
	}

	newLines := strings.Split(newStr, "\n")
	result := make([]string, 0, n+len(newLines))
	result = append(result, lines[:insertLine]...)
	result = append(result, newLines...)
	result = append(result, lines[insertLine:]...)

	snippetStart := max(0, insertLine-snippetLines)
	snippetParts := make([]string, 0, 2*snippetLines+len(newLines))
	snippetParts = append(snippetParts, lines[snippetStart:insertLine]...)
	snippetParts = append(snippetParts, newLines...)
	snippetParts = append(snippetParts, lines[insertLine:min(insertLine+snippetLines, n)]...)

	newContent := strings.Join(result, "\n")
	m.pushHistory(path, content)
	if err := m.writeFileRaw(path, newContent); err != nil {
		return respond(err)
	}
	m.notifyEdit(path, newContent)

	msg := fmt.Sprintf("The file %s has been edited. ", m.display(path))
	msg += m.makeOutput(strings.Join(snippetParts, "\n"), "a snippet of the edited file", len(result), max(1, insertLine-snippetLines+1))
	msg += "Review the changes and make sure they are as expected (correct indentation, no duplicate lines, etc). Edit the file again if necessary."
	return Response{Success: true, FileContent: msg}
}

// UndoEdit pops the per-file undo stack.
func (m *Manager) UndoEdit(path string) Response {
	if err := m.checkRoot(path); err != nil {
		return respond(err)
	}
	m.mu.Lock()
	stack := m.history[path]
	if len(stack) == 0 {
		m.mu.Unlock()
		return respond(opErrorf("No edit history found for %s.", m.display(path)))
	}
	prev := stack[len(stack)-1]
	m.history[path] = stack[:len(stack)-1]
	m.mu.Unlock()

	if err := m.writeFileRaw(path, prev); err != nil {
		return respond(err)
	}
	m.notifyEdit(path, prev)
	msg := fmt.Sprintf("Last edit to %s undone successfully.\n", m.display(path))
	msg += m.makeOutput(prev, m.display(path), len(strings.Split(prev, "\n")), 1)
	return Response{Success: true, FileContent: msg}
}

// ReadFile returns the raw file content.
func (m *Manager) ReadFile(path string) Response {
	if err := m.checkRoot(path); err != nil {
		return respond(err)
	}
	content, err := m.readFileRaw(path)
	if err != nil {
		return respond(err)
	}
	return Response{Success: true, FileContent: content}
}

// WriteFile writes content, pushing the prior content onto the undo
// stack.
func (m *Manager) WriteFile(path, content string) Response {
	if err := m.checkRoot(path); err != nil {
		return respond(err)
	}
	if prev, err := m.readFileRaw(path); err == nil {
		m.pushHistory(path, prev)
	}
	if err := m.writeFileRaw(path, content); err != nil {
		return respond(err)
	}
	m.notifyEdit(path, content)
	return Response{Success: true, FileContent: content}
}

// IsPathInDirectory reports whether path resolves under directory.
func (m *Manager) IsPathInDirectory(directory, path string) bool {
	dirAbs, err := filepath.Abs(directory)
	if err != nil {
		return false
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dirAbs, pathAbs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (m *Manager) readFileRaw(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", opErrorf("Ran into %s while trying to read %s", err, m.display(path))
	}
	return string(data), nil
}

func (m *Manager) writeFileRaw(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return opErrorf("Ran into %s while trying to write to %s", err, m.display(path))
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return opErrorf("Ran into %s while trying to write to %s", err, m.display(path))
	}
	return nil
}

func (m *Manager) pushHistory(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[path] = append(m.history[path], content)
}

func (m *Manager) notifyEdit(path, content string) {
	if m.onEdit == nil {
		return
	}
	m.onEdit(EditRecord{
		Path:       m.display(path),
		Content:    content,
		TotalLines: len(strings.Split(content, "\n")),
	})
}

// makeOutput renders content cat -n style with a total line count.
func (m *Manager) makeOutput(content, descriptor string, totalLines, initLine int) string {
	content = maybeTruncate(content)
	if m.expandTabs {
		content = expandTabs(content)
	}
	var b strings.Builder
	for i, line := range strings.Split(content, "\n") {
		fmt.Fprintf(&b, "%6d\t%s\n", i+initLine, line)
	}
	return fmt.Sprintf("Here's the result of running `cat -n` on %s:\n%s\nTotal lines in file: %d\n",
		descriptor, strings.TrimSuffix(b.String(), "\n"), totalLines)
}

func maybeTruncate(content string) string {
	if len(content) <= maxResponseLen {
		return content
	}
	return content[:maxResponseLen] + truncatedNotice
}

func expandTabs(s string) string {
	return strings.ReplaceAll(s, "\t", strings.Repeat(" ", 8))
}
