// Package messaging は参加者への通知送信（メッセージングトランスポート）を提供する。
// Telegram Bot APIクライアントと、送信内容をログに出すだけのドライラン実装を含む。
package messaging

import (
	"context"
	"log/slog"
)

// Sender は参加者IDを宛先としてテキスト通知を送る。
// 1回の呼び出しは1回の送信試行であり、再試行は行わない。
type Sender interface {
	Send(ctx context.Context, recipientID int64, text string) error
}

// LogSender は通知を送信せずログに出力するSender。
// TRANSPORT=log の場合やローカル開発で使う。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderの新しいインスタンスを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send は通知内容をInfoレベルで記録する。
func (s *LogSender) Send(ctx context.Context, recipientID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("通知を送信しました（ドライラン）",
		slog.Int64("recipient_id", recipientID),
		slog.String("text", text),
	)
	return nil
}
