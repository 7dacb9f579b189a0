// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// participantSlotKey はリクエストコンテキストに参加者IDの格納先を置くためのキー。
var participantSlotKey = contextKey("participant_id")

// participantSlot はハンドラーがリクエストボディから特定した参加者IDを保持する。
// 参加者IDはボディを読むまで分からないため、外側のミドルウェアが枠だけ先に用意する。
type participantSlot struct {
	id int64
}

// WithParticipantSlot は参加者IDの格納先をコンテキストに追加する。
// すでに格納先がある場合はそのまま返す。
func WithParticipantSlot(ctx context.Context) context.Context {
	if _, ok := ctx.Value(participantSlotKey).(*participantSlot); ok {
		return ctx
	}
	return context.WithValue(ctx, participantSlotKey, &participantSlot{})
}

// SetParticipantID はリクエストの参加者IDを記録する。
// 格納先がないコンテキストでは何もしない。
func SetParticipantID(ctx context.Context, id int64) {
	if slot, ok := ctx.Value(participantSlotKey).(*participantSlot); ok {
		slot.id = id
	}
}

// ParticipantIDFromContext はリクエストコンテキストから参加者IDを取得する。
func ParticipantIDFromContext(ctx context.Context) (int64, error) {
	slot, ok := ctx.Value(participantSlotKey).(*participantSlot)
	if !ok || slot.id == 0 {
		return 0, fmt.Errorf("participant ID not found in context")
	}
	return slot.id, nil
}

// ContextWithParticipantID は参加者IDを設定済みのコンテキストを返す。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithParticipantID(ctx context.Context, id int64) context.Context {
	ctx = WithParticipantSlot(ctx)
	SetParticipantID(ctx, id)
	return ctx
}
