// Package model はドメインモデルを定義する。
package model

import "time"

// Participant はランダムミーティングに登録している参加者を表す。
// IDはメッセージング基盤上の外部ID（TelegramのユーザーIDなど）をそのまま使う。
type Participant struct {
	ID            int64
	DisplayName   string
	LastActiveAt  time.Time
	ProfileText   string
	SkipNextCycle bool
}

// Label は通知文面に使う表示名を返す。表示名が空の場合は "anonymous" を返す。
func (p *Participant) Label() string {
	if p.DisplayName == "" {
		return "anonymous"
	}
	return p.DisplayName
}

// StatisticsRecord は参加者ごとの統計情報を表す。
// 参加者が削除されても統計は残る（ランキングは孤立した統計を許容する）。
type StatisticsRecord struct {
	ParticipantID   int64
	CyclesMatched   int
	TopicsSuggested int
	LastMatchedAt   *time.Time
}

// RankedEntry はランキング表示用の1行を表す。
type RankedEntry struct {
	ParticipantID   int64
	CyclesMatched   int
	TopicsSuggested int
}

// SuggestionCooldown は参加者ごとの最終トピック提案日時を表す。
type SuggestionCooldown struct {
	ParticipantID   int64
	LastSuggestedAt time.Time
}
