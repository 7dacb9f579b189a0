package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/meetpair/internal/messaging"
	"github.com/hitoshi/meetpair/internal/metrics"
	"github.com/hitoshi/meetpair/internal/model"
)

// DeliveryRecorder は配信結果を記録するメトリクス。
type DeliveryRecorder interface {
	RecordDelivery(result string)
}

// DeliveryReport は1回の配信処理の結果。
type DeliveryReport struct {
	Sent   int
	Failed []*model.DeliveryError
}

// Dispatcher は通知インテントをメッセージングトランスポートへ配信する。
// semaphoreパターンで並列数を制御し、1件ごとにタイムアウトを設ける。
// 失敗した通知は同じ実行内では再送しない。
type Dispatcher struct {
	sender        messaging.Sender
	recorder      DeliveryRecorder
	logger        *slog.Logger
	timeout       time.Duration
	maxConcurrent int
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// maxConcurrentが0以下の場合はデフォルト値10、timeoutが0以下の場合は10秒を使用する。
func NewDispatcher(
	sender messaging.Sender,
	recorder DeliveryRecorder,
	logger *slog.Logger,
	timeout time.Duration,
	maxConcurrent int,
) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		sender:        sender,
		recorder:      recorder,
		logger:        logger,
		timeout:       timeout,
		maxConcurrent: maxConcurrent,
	}
}

// Dispatch はすべてのインテントを配信する。1件の失敗は他の配信に影響しない。
func (d *Dispatcher) Dispatch(ctx context.Context, intents []model.NotificationIntent) DeliveryReport {
	var (
		mu     sync.Mutex
		report DeliveryReport
		wg     sync.WaitGroup
	)
	sem := make(chan struct{}, d.maxConcurrent)

	for _, intent := range intents {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(in model.NotificationIntent) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			err := d.deliver(ctx, in)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, &model.DeliveryError{RecipientID: in.RecipientID, Err: err})
				d.record(metrics.DeliveryResultFailed)
				d.logger.Warn("通知の配信に失敗しました",
					slog.Int64("recipient_id", in.RecipientID),
					slog.String("kind", string(in.Kind)),
					slog.String("error", err.Error()),
				)
				return
			}
			report.Sent++
			d.record(metrics.DeliveryResultSent)
		}(intent)
	}

	wg.Wait()
	return report
}

func (d *Dispatcher) deliver(ctx context.Context, intent model.NotificationIntent) error {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.sender.Send(callCtx, intent.RecipientID, messaging.RenderIntent(intent))
}

func (d *Dispatcher) record(result string) {
	if d.recorder != nil {
		d.recorder.RecordDelivery(result)
	}
}
