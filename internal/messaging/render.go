package messaging

import (
	"strings"

	"github.com/hitoshi/meetpair/internal/model"
)

// UnpairedMessage はペアが組めなかった参加者への固定メッセージ。
const UnpairedMessage = "今週は参加者が奇数のため、ペアを組むことができませんでした。来週の組み合わせをお楽しみに！"

// RenderIntent は通知インテントを送信用テキストに変換する。
func RenderIntent(intent model.NotificationIntent) string {
	if intent.Kind == model.IntentUnpaired {
		return RenderUnpaired()
	}
	return RenderPaired(intent)
}

// RenderPaired はペア成立の通知文を組み立てる。
// 相手のプロフィールが空の場合はプロフィール欄を省略する。
func RenderPaired(intent model.NotificationIntent) string {
	var b strings.Builder
	b.WriteString("今週のペアが決まりました！\n\n")
	b.WriteString("お相手: ")
	b.WriteString(intent.PeerName)
	b.WriteString("\n")
	if profile := strings.TrimSpace(intent.PeerProfile); profile != "" {
		b.WriteString("プロフィール:\n")
		b.WriteString(profile)
		b.WriteString("\n")
	}
	b.WriteString("\n話題: ")
	b.WriteString(intent.Topic)
	b.WriteString("\nミーティングリンク: ")
	b.WriteString(intent.MeetingLink)
	b.WriteString("\n\n都合のよい時間を相談して、気軽に話してみてください。")
	return b.String()
}

// RenderUnpaired はペア不成立の通知文を返す。
func RenderUnpaired() string {
	return UnpairedMessage
}
