// Package model はドメインモデルを定義する。
package model

import "time"

// IntentKind は通知インテントの種類を表す。
type IntentKind string

const (
	// IntentPaired はペアが成立したことを知らせる通知。
	IntentPaired IntentKind = "paired"
	// IntentUnpaired は今回ペアが見つからなかったことを知らせる通知。
	IntentUnpaired IntentKind = "unpaired"
)

// Pair はマッチングで成立した2人組を表す。
type Pair struct {
	A Participant
	B Participant
}

// NotificationIntent は1人の参加者に送る通知内容を表す。
// 実際の送信はスケジューラ側のディスパッチャが行う。
type NotificationIntent struct {
	Kind        IntentKind
	RecipientID int64
	PeerID      int64
	PeerName    string
	PeerProfile string
	Topic       string
	MeetingLink string
}

// PairFailure は統計の記録に失敗したペアを表す。
type PairFailure struct {
	Pair Pair
	Err  error
}

// MatchingRun は1回のマッチング実行結果を表す。永続化されない。
type MatchingRun struct {
	StartedAt     time.Time
	EligibleIDs   []int64
	Pairs         []Pair
	Unpaired      *Participant
	Topic         string
	Intents       []NotificationIntent
	StatsFailures []PairFailure
}
