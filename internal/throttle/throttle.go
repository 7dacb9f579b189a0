// Package throttle はトピック提案のクールダウンを管理する。
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/meetpair/internal/model"
	"github.com/hitoshi/meetpair/internal/repository"
)

// DefaultCooldown は同一参加者からの提案間隔の既定値。
const DefaultCooldown = 7 * 24 * time.Hour

// Throttle は参加者ごとの最終提案日時をもとに提案可否を判定する。
type Throttle struct {
	store    repository.Store
	cooldown time.Duration
}

// NewThrottle はThrottleの新しいインスタンスを生成する。
// cooldownが0以下の場合はDefaultCooldownを使用する。
func NewThrottle(store repository.Store, cooldown time.Duration) *Throttle {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Throttle{store: store, cooldown: cooldown}
}

// Cooldown は設定されているクールダウン期間を返す。
func (t *Throttle) Cooldown() time.Duration {
	return t.cooldown
}

// CanSuggest は提案履歴がない、または最終提案からcooldown以上経過していればtrueを返す。
func (t *Throttle) CanSuggest(ctx context.Context, id int64, now time.Time) (bool, error) {
	remaining, err := t.Remaining(ctx, id, now)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// Remaining は次に提案できるまでの残り時間を返す。提案可能な場合は0。
func (t *Throttle) Remaining(ctx context.Context, id int64, now time.Time) (time.Duration, error) {
	var remaining time.Duration
	err := t.store.View(ctx, func(tx repository.Tx) error {
		var err error
		remaining, err = t.remainingTx(ctx, tx, id, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("提案履歴の取得に失敗しました: %w", err)
	}
	return remaining, nil
}

// RecordSuggestion は最終提案日時をnowに更新する。
// トピックの追加に成功した後にのみ呼び出すこと。
func (t *Throttle) RecordSuggestion(ctx context.Context, id int64, now time.Time) error {
	err := t.store.Update(ctx, func(tx repository.Tx) error {
		return t.RecordTx(ctx, tx, id, now)
	})
	if err != nil {
		return fmt.Errorf("提案履歴の記録に失敗しました: %w", err)
	}
	return nil
}

// CheckTx は呼び出し元のトランザクション内で提案可否を判定し、
// クールダウン中であればThrottleActiveエラーを返す。
func (t *Throttle) CheckTx(ctx context.Context, tx repository.Tx, id int64, now time.Time) error {
	remaining, err := t.remainingTx(ctx, tx, id, now)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return model.NewThrottleActiveError(remaining)
	}
	return nil
}

// RecordTx は呼び出し元のトランザクション内で最終提案日時を更新する。
func (t *Throttle) RecordTx(ctx context.Context, tx repository.Tx, id int64, now time.Time) error {
	return tx.PutLastSuggestion(ctx, id, now)
}

func (t *Throttle) remainingTx(ctx context.Context, tx repository.Tx, id int64, now time.Time) (time.Duration, error) {
	last, err := tx.GetLastSuggestion(ctx, id)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}
	elapsed := now.Sub(*last)
	if elapsed >= t.cooldown {
		return 0, nil
	}
	return t.cooldown - elapsed, nil
}
