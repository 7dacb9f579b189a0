// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable は永続化層がトランザクションを完了できなかったことを表す。
// リポジトリ層のエラーはすべてこのエラーをラップして返す。
var ErrStoreUnavailable = errors.New("store unavailable")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code       string        // エラーコード
	Message    string        // エラーメッセージ
	Category   string        // カテゴリ: participant, topic, auth, validation, system
	Action     string        // ユーザー向け対処方法
	RetryAfter time.Duration // 再試行可能になるまでの残り時間（THROTTLE_ACTIVEのみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotRegistered  = "NOT_REGISTERED"
	ErrCodeEmptyTopic     = "EMPTY_TOPIC"
	ErrCodeEmptyCorpus    = "EMPTY_CORPUS"
	ErrCodeThrottleActive = "THROTTLE_ACTIVE"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeProfileTooLong = "PROFILE_TOO_LONG"
	ErrCodeTopicTooLong   = "TOPIC_TOO_LONG"
	ErrCodeInvalidURL     = "INVALID_URL"
	ErrCodeImportFailed   = "IMPORT_FAILED"
)

// HasCode はerrがAPIErrorであり、指定コードを持つかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewNotRegisteredError は未登録参加者への操作エラーを生成する。
func NewNotRegisteredError(participantID int64) *APIError {
	return &APIError{
		Code:     ErrCodeNotRegistered,
		Message:  fmt.Sprintf("参加者が登録されていません: %d", participantID),
		Category: "participant",
		Action:   "/start で参加登録してください。",
	}
}

// NewEmptyTopicError は空のトピック提案エラーを生成する。
func NewEmptyTopicError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyTopic,
		Message:  "トピックが空です。",
		Category: "validation",
		Action:   "/suggest の後に話したいトピックを書いてください。",
	}
}

// NewEmptyCorpusError はトピックが1件も登録されていない場合のエラーを生成する。
func NewEmptyCorpusError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyCorpus,
		Message:  "トピックがまだ登録されていません。",
		Category: "topic",
		Action:   "/suggest でトピックを提案してください。",
	}
}

// NewThrottleActiveError はトピック提案のクールダウン中エラーを生成する。
// remainingには次に提案できるまでの残り時間を渡す。
func NewThrottleActiveError(remaining time.Duration) *APIError {
	return &APIError{
		Code:       ErrCodeThrottleActive,
		Message:    fmt.Sprintf("トピックの提案はしばらくできません（残り %s）。", formatRemaining(remaining)),
		Category:   "topic",
		Action:     "クールダウン期間が過ぎてから再度提案してください。",
		RetryAfter: remaining,
	}
}

// NewForbiddenError は運営者専用コマンドの権限エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "このコマンドを実行する権限がありません。",
		Category: "auth",
		Action:   "運営者にお問い合わせください。",
	}
}

// NewInvalidCommandError は不明なコマンドや不正な引数のエラーを生成する。
func NewInvalidCommandError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCommand,
		Message:  fmt.Sprintf("コマンドを処理できません: %s", reason),
		Category: "validation",
		Action:   "/help で使えるコマンドを確認してください。",
	}
}

// NewProfileTooLongError はプロフィール文字数超過エラーを生成する。
func NewProfileTooLongError(max int) *APIError {
	return &APIError{
		Code:     ErrCodeProfileTooLong,
		Message:  fmt.Sprintf("プロフィールは%d文字以内にしてください。", max),
		Category: "validation",
		Action:   "内容を短くしてから再度設定してください。",
	}
}

// NewTopicTooLongError はトピック文字数超過エラーを生成する。
func NewTopicTooLongError(max int) *APIError {
	return &APIError{
		Code:     ErrCodeTopicTooLong,
		Message:  fmt.Sprintf("トピックは%d文字以内にしてください。", max),
		Category: "validation",
		Action:   "内容を短くしてから再度提案してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewImportFailedError はフィードからのトピック取り込み失敗エラーを生成する。
func NewImportFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeImportFailed,
		Message:  fmt.Sprintf("トピックの取り込みに失敗しました: %s", reason),
		Category: "topic",
		Action:   "フィードURLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// DeliveryError は1件の通知送信失敗を表す。
// 送信失敗はマッチング実行全体を中断させない。
type DeliveryError struct {
	RecipientID int64
	Err         error
}

// Error はerrorインターフェースを実装する。
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %d failed: %v", e.RecipientID, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// formatRemaining は残り時間を「X日Y時間」形式に整形する。
func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0分"
	}
	days := int(d / (24 * time.Hour))
	hours := int((d % (24 * time.Hour)) / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("%d日%d時間", days, hours)
	case hours > 0:
		return fmt.Sprintf("%d時間%d分", hours, minutes)
	default:
		if minutes == 0 {
			minutes = 1
		}
		return fmt.Sprintf("%d分", minutes)
	}
}
