// Package model はドメインモデルを定義する。
package model

import "time"

// Topic は会話のお題を表す。一度追加されたら変更されない。
// SuggestedByは提案者の参加者ID（デフォルトトピックやインポート時は0）。
type Topic struct {
	ID          int64
	Text        string
	SuggestedBy int64
	CreatedAt   time.Time
}
