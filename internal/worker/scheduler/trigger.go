package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Job はトリガーから起動される処理。nowは起動予定時刻（論理時刻）。
type Job func(ctx context.Context, now time.Time) error

type retryKey struct{}

// withRetry は失敗した実行の再試行であることをctxに記録する。
func withRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryKey{}, true)
}

// IsRetry はジョブが失敗した実行の再試行として起動されたかを返す。
func IsRetry(ctx context.Context) bool {
	v, _ := ctx.Value(retryKey{}).(bool)
	return v
}

// Trigger は1つのジョブをスケジュールに従って起動する。
// 同じトリガーの実行は同時に1つまでで、重なった起動はスキップする。
// 失敗した実行は完了扱いにせず、retryDelay後（次の定期起動より前の場合のみ）に再試行する。
type Trigger struct {
	name       string
	schedule   Schedule
	job        Job
	retryDelay time.Duration
	logger     *slog.Logger
	now        func() time.Time

	running atomic.Bool
}

// NewTrigger はTriggerの新しいインスタンスを生成する。
// retryDelayが0以下の場合、失敗時の再試行は行わない。
func NewTrigger(name string, schedule Schedule, job Job, retryDelay time.Duration, logger *slog.Logger) *Trigger {
	return &Trigger{
		name:       name,
		schedule:   schedule,
		job:        job,
		retryDelay: retryDelay,
		logger:     logger,
		now:        time.Now,
	}
}

// Fire はジョブを1回実行する。別の実行が進行中の場合は実行せずfalseを返す。
func (t *Trigger) Fire(ctx context.Context, at time.Time) (bool, error) {
	if !t.running.CompareAndSwap(false, true) {
		t.logger.Warn("前回の実行が完了していないため起動をスキップしました",
			slog.String("trigger", t.name),
			slog.Time("scheduled_at", at),
		)
		return false, nil
	}
	defer t.running.Store(false)

	start := time.Now()
	err := t.job(ctx, at)
	if err != nil {
		t.logger.Error("ジョブの実行に失敗しました",
			slog.String("trigger", t.name),
			slog.Time("scheduled_at", at),
			slog.String("error", err.Error()),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
		return true, err
	}
	return true, nil
}

// Start はコンテキストがキャンセルされるまでスケジュールに従ってジョブを起動する。
func (t *Trigger) Start(ctx context.Context) {
	next := t.schedule.Next(t.now())
	var retryAt time.Time

	t.logger.Info("スケジューラを開始しました",
		slog.String("trigger", t.name),
		slog.Time("next_run_at", next),
	)

	for {
		fireAt, isRetry := next, false
		if !retryAt.IsZero() && retryAt.Before(next) {
			fireAt, isRetry = retryAt, true
		}

		timer := time.NewTimer(time.Until(fireAt))
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("スケジューラを停止しました", slog.String("trigger", t.name))
			return
		case <-timer.C:
		}

		fireCtx := ctx
		if isRetry {
			t.logger.Info("失敗したジョブを再試行します", slog.String("trigger", t.name))
			fireCtx = withRetry(ctx)
		}
		// 再試行でも論理時刻は実際の起動時刻を使う
		ran, err := t.Fire(fireCtx, fireAt)
		if ran && err != nil && t.retryDelay > 0 {
			retryAt = t.now().Add(t.retryDelay)
		} else {
			retryAt = time.Time{}
		}

		if !isRetry {
			next = t.schedule.Next(fireAt)
		}
		// 実行中に到来した定期起動は取りこぼしとして記録し、次の起動に進める
		for now := t.now(); !next.After(now); next = t.schedule.Next(next) {
			t.logger.Warn("実行中に到来した定期起動をスキップしました",
				slog.String("trigger", t.name),
				slog.Time("scheduled_at", next),
			)
			retryAt = time.Time{}
		}
		if !retryAt.IsZero() && !retryAt.Before(next) {
			retryAt = time.Time{}
		}
	}
}
