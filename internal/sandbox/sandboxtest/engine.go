// Package sandboxtest provides an in-memory container engine for tests.
package sandboxtest

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/opensandbox/devbox/internal/docker"
)

// Engine is an in-memory container engine. All containers share one small
// filesystem rooted at "/" with "/workspace" present, understood by the
// commands the sandbox layer issues: mkdir -p, cat, ls -la, rm -rf, the
// positional-parameter write scripts, and sh -c scripts made of cd, pwd,
// ls, echo and exit steps joined by &&.
type Engine struct {
	mu sync.Mutex

	Dirs  map[string]bool
	Files map[string]string

	Created []docker.ContainerConfig
	Removed []string
	Execs   [][]string
	Chunk   int // when > 0, output is streamed in pieces of this size
	// PreviewPorts is reported by InspectContainer as the published ports.
	PreviewPorts map[string]int
	Listed       []docker.PSEntry

	CreateErr  error
	StartErr   error
	ExecErr    error
	InspectErr error
	FailWrites bool // every file write fails with permission denied
	// ExitUnknown streams output as usual, then fails the exit status lookup.
	ExitUnknown bool

	running map[string]bool
	nextID  int
}

// NewEngine returns an engine whose app port 3000 is published on 49153.
func NewEngine() *Engine {
	return &Engine{
		Dirs:         map[string]bool{"/": true, "/workspace": true},
		Files:        map[string]string{},
		PreviewPorts: map[string]int{"3000/tcp": 49153},
		running:      map[string]bool{},
	}
}

func (f *Engine) CreateContainer(_ context.Context, cfg docker.ContainerConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextID++
	f.Created = append(f.Created, cfg)
	return fmt.Sprintf("c%04d", f.nextID), nil
}

func (f *Engine) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	f.running[id] = true
	return nil
}

func (f *Engine) StopContainer(_ context.Context, id string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = false
	return nil
}

func (f *Engine) RemoveContainer(_ context.Context, id string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
	f.Removed = append(f.Removed, id)
	return nil
}

func (f *Engine) InspectContainer(_ context.Context, id string) (*docker.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InspectErr != nil {
		return nil, f.InspectErr
	}
	ports := map[string]int{}
	for k, v := range f.PreviewPorts {
		ports[k] = v
	}
	return &docker.ContainerInfo{ID: id, Running: f.running[id], Ports: ports}, nil
}

func (f *Engine) ListContainers(_ context.Context, _ map[string]string) ([]docker.PSEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Listed, nil
}

func (f *Engine) ExecInContainer(_ context.Context, _ string, cmd []string, out io.Writer) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Execs = append(f.Execs, append([]string(nil), cmd...))
	if f.ExecErr != nil {
		return -1, f.ExecErr
	}

	var w io.Writer = out
	if f.Chunk > 0 {
		w = &chunkWriter{w: out, n: f.Chunk}
	}
	stdout := stdcopy.NewStdWriter(w, stdcopy.Stdout)
	stderr := stdcopy.NewStdWriter(w, stdcopy.Stderr)

	o, e, code := f.run(cmd)
	if o != "" {
		stdout.Write([]byte(o))
	}
	if e != "" {
		stderr.Write([]byte(e))
	}
	if f.ExitUnknown {
		return -1, fmt.Errorf("%w: connection reset", docker.ErrExitCodeUnknown)
	}
	return code, nil
}

// ExecCount returns the number of exec calls so far.
func (f *Engine) ExecCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Execs)
}

// Scripts the engine recognizes as file writes; they take the contents as $1
// and the path as $2.
const (
	WriteScript       = `printf '%s\n' "$1" > "$2"`
	WriteBase64Script = `printf '%s' "$1" | base64 -d > "$2"`
)

// chunkWriter splits every write into pieces of at most n bytes.
type chunkWriter struct {
	w io.Writer
	n int
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	for i := 0; i < len(p); i += c.n {
		end := min(i+c.n, len(p))
		if _, err := c.w.Write(p[i:end]); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

func (f *Engine) run(argv []string) (stdout, stderr string, code int) {
	switch {
	case len(argv) == 3 && argv[0] == "mkdir" && argv[1] == "-p":
		f.MkdirAll(f.abs("/workspace", argv[2]))
		return "", "", 0
	case len(argv) == 2 && argv[0] == "cat":
		p := f.abs("/workspace", argv[1])
		c, ok := f.Files[p]
		if !ok {
			return "", fmt.Sprintf("cat: can't open '%s': No such file or directory\n", argv[1]), 1
		}
		return c, "", 0
	case len(argv) == 3 && argv[0] == "ls" && argv[1] == "-la":
		return f.ls(f.abs("/workspace", argv[2]))
	case len(argv) == 3 && argv[0] == "rm" && argv[1] == "-rf":
		f.removeAll(f.abs("/workspace", argv[2]))
		return "", "", 0
	case len(argv) == 6 && argv[0] == "sh" && argv[2] == WriteScript:
		return f.write(argv[5], argv[4]+"\n")
	case len(argv) == 6 && argv[0] == "sh" && argv[2] == WriteBase64Script:
		data, err := base64.StdEncoding.DecodeString(argv[4])
		if err != nil {
			return "", "base64: invalid input\n", 1
		}
		return f.write(argv[5], string(data))
	case len(argv) == 3 && argv[0] == "sh" && argv[1] == "-c":
		return f.script(argv[2])
	}
	return "", fmt.Sprintf("%s: not found\n", argv[0]), 127
}

func (f *Engine) write(p, contents string) (string, string, int) {
	p = f.abs("/workspace", p)
	if f.FailWrites {
		return "", fmt.Sprintf("sh: can't create %s: Permission denied\n", p), 1
	}
	if !f.Dirs[path.Dir(p)] {
		return "", fmt.Sprintf("sh: can't create %s: nonexistent directory\n", p), 1
	}
	f.Files[p] = contents
	return "", "", 0
}

// script interprets "a && b && c" where each step is cd, pwd, ls, echo or exit.
func (f *Engine) script(s string) (string, string, int) {
	cwd := "/workspace"
	var out strings.Builder
	for _, step := range splitAnd(shellWords(s)) {
		if len(step) == 0 {
			continue
		}
		switch step[0] {
		case "cd":
			target := "/workspace"
			if len(step) > 1 {
				target = step[1]
			}
			p := f.abs(cwd, target)
			if !f.Dirs[p] {
				if _, isFile := f.Files[p]; isFile {
					return out.String(), fmt.Sprintf("sh: cd: line 1: can't cd to %s: Not a directory\n", target), 2
				}
				return out.String(), fmt.Sprintf("sh: cd: line 1: can't cd to %s: No such file or directory\n", target), 2
			}
			cwd = p
		case "pwd":
			out.WriteString(cwd + "\n")
		case "ls":
			for _, name := range f.children(cwd) {
				out.WriteString(name + "\n")
			}
		case "echo":
			out.WriteString(strings.Join(step[1:], " ") + "\n")
		case "exit":
			var code int
			fmt.Sscanf(step[1], "%d", &code)
			return out.String(), "", code
		default:
			return out.String(), fmt.Sprintf("sh: %s: not found\n", step[0]), 127
		}
	}
	return out.String(), "", 0
}

func (f *Engine) abs(cwd, p string) string {
	if !strings.HasPrefix(p, "/") {
		p = cwd + "/" + p
	}
	return path.Clean(p)
}

// MkdirAll creates p and its parents.
func (f *Engine) MkdirAll(p string) {
	for p != "/" {
		f.Dirs[p] = true
		p = path.Dir(p)
	}
}

func (f *Engine) removeAll(p string) {
	for d := range f.Dirs {
		if d == p || strings.HasPrefix(d, p+"/") {
			delete(f.Dirs, d)
		}
	}
	for fp := range f.Files {
		if fp == p || strings.HasPrefix(fp, p+"/") {
			delete(f.Files, fp)
		}
	}
}

func (f *Engine) children(dir string) []string {
	var names []string
	for d := range f.Dirs {
		if d != dir && path.Dir(d) == dir {
			names = append(names, path.Base(d))
		}
	}
	for fp := range f.Files {
		if path.Dir(fp) == dir {
			names = append(names, path.Base(fp))
		}
	}
	sort.Strings(names)
	return names
}

func (f *Engine) ls(dir string) (string, string, int) {
	if !f.Dirs[dir] {
		return "", fmt.Sprintf("ls: %s: No such file or directory\n", dir), 1
	}
	var b strings.Builder
	b.WriteString("total 8\n")
	b.WriteString("drwxr-xr-x    2 root     root          4096 Jan  1 00:00 .\n")
	b.WriteString("drwxr-xr-x    1 root     root          4096 Jan  1 00:00 ..\n")
	for _, name := range f.children(dir) {
		perms := "-rw-r--r--"
		if f.Dirs[path.Join(dir, name)] {
			perms = "drwxr-xr-x"
		}
		fmt.Fprintf(&b, "%s    1 root     root            12 Jan  1 00:00 %s\n", perms, name)
	}
	return b.String(), "", 0
}

// shellWords splits s into words honoring single quotes and backslashes. An
// unquoted "&&" is returned as the separator token "\x00&&".
func shellWords(s string) []string {
	var words []string
	var cur strings.Builder
	inWord, quoted := false, false
	flush := func() {
		if !inWord {
			return
		}
		w := cur.String()
		if w == "&&" && !quoted {
			w = "\x00&&"
		}
		words = append(words, w)
		cur.Reset()
		inWord, quoted = false, false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			inWord, quoted = true, true
			j := strings.IndexByte(s[i+1:], '\'')
			if j < 0 {
				cur.WriteString(s[i+1:])
				i = len(s)
				break
			}
			cur.WriteString(s[i+1 : i+1+j])
			i += j + 1
		case c == '\\' && i+1 < len(s):
			inWord, quoted = true, true
			cur.WriteByte(s[i+1])
			i++
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		default:
			inWord = true
			cur.WriteByte(c)
		}
	}
	flush()
	return words
}

func splitAnd(words []string) [][]string {
	steps := [][]string{nil}
	for _, w := range words {
		if w == "\x00&&" {
			steps = append(steps, nil)
			continue
		}
		steps[len(steps)-1] = append(steps[len(steps)-1], w)
	}
	return steps
}
