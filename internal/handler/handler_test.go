package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/hitoshi/meetpair/internal/command"
	"github.com/hitoshi/meetpair/internal/model"
)

// --- モック定義 ---

// mockCommandService はCommandServiceInterfaceのモック実装。
type mockCommandService struct {
	handleFn      func(ctx context.Context, cmd command.Command) (command.Reply, error)
	leaderboardFn func(ctx context.Context) ([]command.LeaderboardEntry, error)
	topicsFn      func(ctx context.Context) ([]model.Topic, error)
}

func (m *mockCommandService) Handle(ctx context.Context, cmd command.Command) (command.Reply, error) {
	if m.handleFn != nil {
		return m.handleFn(ctx, cmd)
	}
	return command.Reply{}, nil
}

func (m *mockCommandService) Leaderboard(ctx context.Context) ([]command.LeaderboardEntry, error) {
	if m.leaderboardFn != nil {
		return m.leaderboardFn(ctx)
	}
	return nil, nil
}

func (m *mockCommandService) Topics(ctx context.Context) ([]model.Topic, error) {
	if m.topicsFn != nil {
		return m.topicsFn(ctx)
	}
	return nil, nil
}

type sentMessage struct {
	recipientID int64
	text        string
}

// mockSender はmessaging.Senderのモック実装。送信内容を記録する。
type mockSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockSender) Send(ctx context.Context, recipientID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{recipientID: recipientID, text: text})
	return m.err
}

func (m *mockSender) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

// --- テストヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
