// Package reaper は非アクティブな参加者の自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超えて操作のない参加者を日次バッチで削除する。
// 統計レコードは削除しない。
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetention は参加者の保持期間の既定値。
const DefaultRetention = 30 * 24 * time.Hour

// Registry は削除対象の列挙と削除を行う参加者レジストリ。
// 削除は必ずRemoveを経由する。
type Registry interface {
	ListInactive(ctx context.Context, cutoff time.Time) ([]int64, error)
	Remove(ctx context.Context, id int64) (bool, error)
}

// Recorder は削除件数を記録するメトリクス。
type Recorder interface {
	AddReaped(n int)
}

// Reaper は保持期間を超過した参加者の削除ジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type Reaper struct {
	registry  Registry
	recorder  Recorder
	logger    *slog.Logger
	Retention time.Duration
}

// NewReaper は新しいReaperを生成する。retentionが0以下の場合はDefaultRetentionを使用する。
// recorderはnilでもよい。
func NewReaper(registry Registry, recorder Recorder, logger *slog.Logger, retention time.Duration) *Reaper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Reaper{
		registry:  registry,
		recorder:  recorder,
		logger:    logger,
		Retention: retention,
	}
}

// Run はnowを基準にRetentionを適用してSweepを実行する。スケジューラから呼ばれる。
func (r *Reaper) Run(ctx context.Context, now time.Time) error {
	_, err := r.Sweep(ctx, now, r.Retention)
	return err
}

// Sweep はlast_active_atがnow - retentionより前の参加者を削除し、削除件数を返す。
// 1人の削除失敗は他の参加者の削除を妨げない。失敗はまとめて返す。
func (r *Reaper) Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	start := time.Now()
	cutoff := now.Add(-retention)

	ids, err := r.registry.ListInactive(ctx, cutoff)
	if err != nil {
		r.logger.Error("非アクティブ参加者の取得に失敗しました",
			slog.String("error", err.Error()),
			slog.String("retention", retention.String()),
		)
		return 0, fmt.Errorf("非アクティブ参加者の取得に失敗: %w", err)
	}

	var (
		deleted int
		errs    []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		existed, err := r.registry.Remove(ctx, id)
		if err != nil {
			r.logger.Error("非アクティブ参加者の削除に失敗しました",
				slog.Int64("participant_id", id),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("participant %d: %w", id, err))
			continue
		}
		if existed {
			deleted++
		}
	}

	if r.recorder != nil && deleted > 0 {
		r.recorder.AddReaped(deleted)
	}

	r.logger.Info("非アクティブ参加者の削除ジョブが完了しました",
		slog.Int("deleted_count", deleted),
		slog.Int("failed_count", len(errs)),
		slog.String("retention", retention.String()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deleted, errors.Join(errs...)
}
