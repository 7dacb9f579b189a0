package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hitoshi/meetpair/internal/matching"
	"github.com/hitoshi/meetpair/internal/metrics"
	"github.com/hitoshi/meetpair/internal/model"
)

// Matcher はマッチング1回分を実行する。
// Runがmatching.ErrSkipFlagsNotClearedを返した場合、結果はコミット済みで
// ClearSkipFlagsだけをやり直せばよい。
type Matcher interface {
	Run(ctx context.Context, now time.Time) (*model.MatchingRun, error)
	ClearSkipFlags(ctx context.Context) error
}

// RunRecorder はマッチング実行結果を記録するメトリクス。
type RunRecorder interface {
	RecordRun(outcome string, pairs, unpaired int, duration time.Duration)
}

// MatchJob はマッチングの実行と、その結果の通知配信をつなぐ週次ジョブ。
// 統計はマッチング内でコミット済みのため、配信の失敗で巻き戻すことはない。
type MatchJob struct {
	matcher    Matcher
	dispatcher *Dispatcher
	recorder   RunRecorder
	logger     *slog.Logger

	// 直前の実行でスキップフラグの解除だけが残っている
	pendingClear atomic.Bool
}

// NewMatchJob はMatchJobの新しいインスタンスを生成する。recorderはnilでもよい。
func NewMatchJob(matcher Matcher, dispatcher *Dispatcher, recorder RunRecorder, logger *slog.Logger) *MatchJob {
	return &MatchJob{
		matcher:    matcher,
		dispatcher: dispatcher,
		recorder:   recorder,
		logger:     logger,
	}
}

// Run はマッチングを実行して通知を配信する。
// マッチングが何もコミットできなかった場合はエラーを返し、配信は行わない。
// スキップフラグの解除だけが失敗した場合は配信したうえでエラーを返し、
// 再試行（IsRetry）ではマッチングをやり直さずフラグの解除だけを行う。
func (j *MatchJob) Run(ctx context.Context, now time.Time) error {
	if j.pendingClear.Load() {
		if IsRetry(ctx) {
			return j.retryClear(ctx)
		}
		// 次の定期起動まで持ち越した場合、通常の実行の最後でフラグを解除する
		j.pendingClear.Store(false)
		j.logger.Warn("前回のスキップフラグ解除が完了しないまま次のマッチングを実行します")
	}

	start := time.Now()

	run, err := j.matcher.Run(ctx, now)
	var clearErr error
	if err != nil {
		if run == nil || !errors.Is(err, matching.ErrSkipFlagsNotCleared) {
			j.record(metrics.RunOutcomeFailed, 0, 0, time.Since(start))
			return err
		}
		clearErr = err
	}

	report := j.dispatcher.Dispatch(ctx, run.Intents)

	unpaired := 0
	if run.Unpaired != nil {
		unpaired = 1
	}
	duration := time.Since(start)
	j.record(metrics.RunOutcomeCompleted, len(run.Pairs), unpaired, duration)

	j.logger.Info("週次マッチングジョブが完了しました",
		slog.Int("pair_count", len(run.Pairs)),
		slog.Int("unpaired_count", unpaired),
		slog.Int("intent_count", len(run.Intents)),
		slog.Int("sent_count", report.Sent),
		slog.Int("delivery_failed_count", len(report.Failed)),
		slog.Int("stats_failure_count", len(run.StatsFailures)),
		slog.Bool("skip_flags_cleared", clearErr == nil),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	if clearErr != nil {
		j.pendingClear.Store(true)
		return clearErr
	}
	return nil
}

// retryClear は前回の実行で残ったスキップフラグの解除だけをやり直す。
func (j *MatchJob) retryClear(ctx context.Context) error {
	if err := j.matcher.ClearSkipFlags(ctx); err != nil {
		return err
	}
	j.pendingClear.Store(false)
	j.logger.Info("前回の実行で残ったスキップフラグを解除しました")
	return nil
}

func (j *MatchJob) record(outcome string, pairs, unpaired int, duration time.Duration) {
	if j.recorder != nil {
		j.recorder.RecordRun(outcome, pairs, unpaired, duration)
	}
}
