package terminal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlhalen/Nexar/internal/workspace"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	return New(ws)
}

func waitForOutput(t *testing.T, m *Manager, id string, contains string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var acc string
	for time.Now().Before(deadline) {
		info, err := m.Output(id)
		require.NoError(t, err)
		acc += info.Output
		if contains == "" || len(acc) > 0 {
			if contains == "" {
				return acc
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	return acc
}

func TestCreateStartsShellAtWorkspaceRoot(t *testing.T) {
	m := newTestManager(t)
	info, err := m.Create("", "/bin/sh")
	require.NoError(t, err)
	assert.NotEmpty(t, info.SessionID)
	assert.Equal(t, "/bin/sh", info.Shell)
	assert.True(t, info.Alive)
	assert.Equal(t, "", info.Cwd)
	_ = m.Close(info.SessionID)
}

func TestWriteAndDrainOutput(t *testing.T) {
	m := newTestManager(t)
	info, err := m.Create("", "/bin/sh")
	require.NoError(t, err)
	defer m.Close(info.SessionID)

	require.NoError(t, m.Write(info.SessionID, "echo hello_terminal\n"))
	out := waitForOutput(t, m, info.SessionID, "hello_terminal")
	assert.Contains(t, out, "hello_terminal")

	// A second immediate read should not repeat the same bytes.
	again, err := m.Output(info.SessionID)
	require.NoError(t, err)
	assert.NotContains(t, again.Output, "hello_terminal")
}

func TestCreateRejectsPathEscape(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create("../../etc", "/bin/sh")
	require.Error(t, err)
}

func TestCloseKillsSessionAndFutureOpsFail(t *testing.T) {
	m := newTestManager(t)
	info, err := m.Create("", "/bin/sh")
	require.NoError(t, err)

	require.NoError(t, m.Close(info.SessionID))
	_, err = m.Output(info.SessionID)
	assert.ErrorIs(t, err, ErrNotFound)
	err = m.Write(info.SessionID, "echo x\n")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExitedSessionReportsNotAliveWithExitCode(t *testing.T) {
	m := newTestManager(t)
	info, err := m.Create("", "/bin/sh")
	require.NoError(t, err)
	defer m.Close(info.SessionID)

	require.NoError(t, m.Write(info.SessionID, "exit 3\n"))

	deadline := time.Now().Add(3 * time.Second)
	var last *Info
	for time.Now().Before(deadline) {
		last, err = m.Output(info.SessionID)
		require.NoError(t, err)
		if !last.Alive {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NotNil(t, last)
	assert.False(t, last.Alive)
	require.NotNil(t, last.ExitCode)
	assert.Equal(t, 3, *last.ExitCode)
}

func TestResizeOnUnknownSessionFails(t *testing.T) {
	m := newTestManager(t)
	err := m.Resize("does-not-exist", 80, 24)
	assert.ErrorIs(t, err, ErrNotFound)
}
