// Package terminal manages PTY-backed shell sessions for the HTTP terminal
// surface. Unlike a streaming transport, each session buffers output between
// reads: GET /terminal/sessions/{id}/output drains whatever has accumulated
// since the previous call.
package terminal

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/zlhalen/Nexar/internal/workspace"
)

// ErrNotFound is returned by Manager operations addressing an unknown session id.
var ErrNotFound = errors.New("terminal session not found")

// outputBufferCap bounds how much unread output a session accumulates before
// old bytes are dropped, mirroring CommandOutputCap's rationale for tools.
const outputBufferCap = 256 * 1024

// Info is the caller-facing snapshot of a session, matching the
// TerminalSessionInfo shape of the HTTP surface.
type Info struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
	Shell     string `json:"shell"`
	Alive     bool   `json:"alive"`
	Output    string `json:"output,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
}

// Session is one running shell attached to a PTY.
type Session struct {
	id    string
	cwd   string
	shell string

	cmd *exec.Cmd
	pty *os.File

	mu       sync.Mutex
	buf      []byte
	alive    bool
	exitCode *int
}

// Manager owns the set of live sessions, keyed by id.
type Manager struct {
	workspace *workspace.Service

	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds a Manager that resolves session working directories against ws.
func New(ws *workspace.Service) *Manager {
	return &Manager{workspace: ws, sessions: make(map[string]*Session)}
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Create starts a new PTY session rooted at cwd (workspace-relative, or the
// workspace root when empty) running shell (or the default shell).
func (m *Manager) Create(cwd, shell string) (*Info, error) {
	dir := m.workspace.Root()
	if cwd != "" {
		abs, err := m.workspace.Resolve(cwd)
		if err != nil {
			return nil, fmt.Errorf("resolve terminal cwd: %w", err)
		}
		dir = abs
	}
	if shell == "" {
		shell = defaultShell()
	}

	cmd := exec.Command(shell)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start terminal session: %w", err)
	}

	sess := &Session{
		id:    uuid.NewString(),
		cwd:   m.workspace.VirtualPath(dir),
		shell: shell,
		cmd:   cmd,
		pty:   f,
		alive: true,
	}

	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	go sess.readLoop()
	go sess.waitLoop()

	return &Info{SessionID: sess.id, Cwd: sess.cwd, Shell: sess.shell, Alive: true}, nil
}

func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.buf = append(s.buf, buf[:n]...)
			if len(s.buf) > outputBufferCap {
				s.buf = s.buf[len(s.buf)-outputBufferCap:]
			}
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) waitLoop() {
	err := s.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	s.mu.Lock()
	s.alive = false
	s.exitCode = &code
	s.mu.Unlock()
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Write sends data to the session's stdin.
func (m *Manager) Write(id, data string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	alive := s.alive
	s.mu.Unlock()
	if !alive {
		return fmt.Errorf("terminal session %s is not alive", id)
	}
	_, err = s.pty.Write([]byte(data))
	return err
}

// Output drains bytes accumulated since the previous call.
func (m *Manager) Output(id string) (*Info, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := string(s.buf)
	s.buf = nil
	alive := s.alive
	exitCode := s.exitCode
	s.mu.Unlock()

	return &Info{SessionID: s.id, Cwd: s.cwd, Shell: s.shell, Alive: alive, Output: out, ExitCode: exitCode}, nil
}

// Resize changes the PTY's terminal size.
func (m *Manager) Resize(id string, cols, rows int) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	return pty.Setsize(s.pty, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Close kills the session's process (if still alive) and releases its PTY.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	alive := s.alive
	s.mu.Unlock()
	if alive && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.pty.Close()
}

// CloseAll terminates every live session; used on process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Close(id)
	}
}
