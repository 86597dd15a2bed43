package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests. Replies are returned in
// order; when the script runs out, the last reply repeats. Errors can be
// injected per call index.
type MockChatModel struct {
	mu      sync.Mutex
	replies []ChatOut
	errs    map[int]error
	calls   [][]Message
}

// NewMockChatModel scripts the given replies.
func NewMockChatModel(replies ...ChatOut) *MockChatModel {
	return &MockChatModel{replies: replies, errs: make(map[int]error)}
}

// FailCall makes call number n (0-indexed) return err instead of a reply.
func (m *MockChatModel) FailCall(n int, err error) *MockChatModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[n] = err
	return m
}

func (m *MockChatModel) Chat(ctx context.Context, messages []Message, _ Options) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.calls)
	copied := make([]Message, len(messages))
	copy(copied, messages)
	m.calls = append(m.calls, copied)

	if err, ok := m.errs[n]; ok {
		return ChatOut{}, err
	}
	if len(m.replies) == 0 {
		return ChatOut{Text: "{}"}, nil
	}
	if n >= len(m.replies) {
		return m.replies[len(m.replies)-1], nil
	}
	return m.replies[n], nil
}

func (m *MockChatModel) Name() string { return "mock" }

// Calls returns the conversations received so far.
func (m *MockChatModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many Chat calls have been made.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
