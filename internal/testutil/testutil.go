// Package testutil holds the fakes and frame decoders shared by the
// dispatch, router and notify test suites.
package testutil

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/CarlosdRojasC/envigo-realtime/pkg/state"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// NewTestLogger discards log output during tests by setting a high level.
func NewTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// MockTransport is an in-memory state.Transport that records accepted frames.
type MockTransport struct {
	id     uuid.UUID
	mu     sync.Mutex
	closed bool
	frames [][]byte
}

var _ state.Transport = (*MockTransport)(nil)

func NewMockTransport() *MockTransport { return &MockTransport{id: uuid.New()} }

func (m *MockTransport) ID() uuid.UUID { return m.id }

func (m *MockTransport) Send(message []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.frames = append(m.frames, message)
	return true
}

func (m *MockTransport) Close(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *MockTransport) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// Received returns every frame the transport accepted so far.
func (m *MockTransport) Received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Frame mirrors the outbound envelope for assertions.
type Frame struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

func DecodeFrame(t *testing.T, raw []byte) Frame {
	t.Helper()
	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func DecodeFrames(t *testing.T, raw [][]byte) []Frame {
	t.Helper()
	frames := make([]Frame, 0, len(raw))
	for _, b := range raw {
		frames = append(frames, DecodeFrame(t, b))
	}
	return frames
}
