package node

import (
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/kubengine/kubengine/pkg/types"
)

// Mock returns a mock node rooting all files from a temp directory.
// Commands succeed unless a failure pattern was registered.
func Mock(address string) *MockNode {
	tmpDir, err := os.MkdirTemp("", "")
	if err != nil {
		panic(err) // Mock would not be used in normal execution so this is fine
	}
	return &MockNode{addr: address, root: tmpDir, responses: make(map[string]string)}
}

// MockNode is an in-memory node for tests. It records every executed
// command and can be scripted to fail or answer specific commands.
type MockNode struct {
	addr, root string

	mu          sync.Mutex
	executed    []string
	failPattern string
	responses   map[string]string
	closed      bool
}

// FailCommandsContaining makes any command containing the given substring
// exit non-zero.
func (m *MockNode) FailCommandsContaining(pattern string) *MockNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPattern = pattern
	return m
}

// RespondTo registers canned stdout for commands containing the given
// substring.
func (m *MockNode) RespondTo(pattern, stdout string) *MockNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[pattern] = stdout
	return m
}

// ExecutedCommands returns a copy of every command run so far.
func (m *MockNode) ExecutedCommands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.executed))
	copy(out, m.executed)
	return out
}

// Closed reports whether Close was called.
func (m *MockNode) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockNode) GetType() types.NodeType { return types.NodeMock }

func (m *MockNode) Address() string { return m.addr }

func (m *MockNode) rootedDir(f string) string {
	return path.Join(m.root, strings.TrimPrefix(f, "/"))
}

func (m *MockNode) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return os.RemoveAll(m.root)
}

func (m *MockNode) Execute(opts *types.ExecuteOptions) (*types.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed = append(m.executed, opts.Command)
	result := &types.CommandResult{Host: m.addr, Command: opts.Command}
	for pattern, stdout := range m.responses {
		if strings.Contains(opts.Command, pattern) {
			result.Stdout = strings.Split(strings.TrimSpace(stdout), "\n")
		}
	}
	if m.failPattern != "" && strings.Contains(opts.Command, m.failPattern) {
		result.ExitStatus = 1
		result.Err = fmt.Errorf("command %q exited 1", opts.Command)
	}
	return result, nil
}

func (m *MockNode) GetFile(f string) (io.ReadCloser, error) {
	return os.Open(m.rootedDir(f))
}

func (m *MockNode) WriteFile(rdr io.ReadCloser, dest, mode string, size int64) error {
	defer rdr.Close()
	if err := m.MkdirAll(path.Dir(dest)); err != nil {
		return err
	}
	u, err := strconv.ParseUint(mode, 0, 16)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(m.rootedDir(dest), os.O_RDWR|os.O_CREATE, os.FileMode(u))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, rdr)
	return err
}

func (m *MockNode) MkdirAll(path string) error { return os.MkdirAll(m.rootedDir(path), 0755) }
