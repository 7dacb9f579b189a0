package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// safeBuffer は複数ゴルーチンから書き込まれるログ用のバッファ。
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w interface{ Write([]byte) (int, error) }) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// every は一定間隔で起動するテスト用スケジュール。
type every struct{ interval time.Duration }

func (e every) Next(after time.Time) time.Time { return after.Add(e.interval) }

// firstSoon は最初の1回だけすぐに起動し、以降はintervalごとに起動するスケジュール。
type firstSoon struct {
	used     atomic.Bool
	interval time.Duration
}

func (f *firstSoon) Next(after time.Time) time.Time {
	if f.used.CompareAndSwap(false, true) {
		return after.Add(10 * time.Millisecond)
	}
	return after.Add(f.interval)
}

// waitFor はcondが真になるまで待つ。期限内に満たされなければテストを失敗させる。
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestTrigger_Fire_PreventsOverlap(t *testing.T) {
	var buf safeBuffer
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	var once sync.Once

	job := func(ctx context.Context, now time.Time) error {
		calls.Add(1)
		once.Do(func() { close(started) })
		<-release
		return nil
	}
	trig := NewTrigger("matching", every{time.Hour}, job, 0, newTestLogger(&buf))

	done := make(chan struct{})
	go func() {
		defer close(done)
		if ran, err := trig.Fire(context.Background(), time.Now()); !ran || err != nil {
			t.Errorf("first Fire = (%v, %v), want (true, nil)", ran, err)
		}
	}()
	<-started

	ran, err := trig.Fire(context.Background(), time.Now())
	if ran || err != nil {
		t.Errorf("overlapping Fire = (%v, %v), want (false, nil)", ran, err)
	}
	close(release)
	<-done

	if calls.Load() != 1 {
		t.Errorf("job calls = %d, want 1", calls.Load())
	}
	if !strings.Contains(buf.String(), "前回の実行が完了していないため起動をスキップしました") {
		t.Errorf("skip should be logged: %s", buf.String())
	}

	// 実行完了後は再び起動できる
	if ran, _ := trig.Fire(context.Background(), time.Now()); !ran {
		t.Error("Fire after completion should run")
	}
}

func TestTrigger_Fire_ReturnsJobError(t *testing.T) {
	var buf safeBuffer
	jobErr := errors.New("store unavailable")
	trig := NewTrigger("matching", every{time.Hour}, func(ctx context.Context, now time.Time) error {
		return jobErr
	}, 0, newTestLogger(&buf))

	ran, err := trig.Fire(context.Background(), time.Now())
	if !ran || !errors.Is(err, jobErr) {
		t.Errorf("Fire = (%v, %v), want (true, %v)", ran, err, jobErr)
	}
	if !strings.Contains(buf.String(), "ジョブの実行に失敗しました") {
		t.Errorf("failure should be logged: %s", buf.String())
	}
}

func TestTrigger_Start_FiresOnSchedule(t *testing.T) {
	var buf safeBuffer
	var calls atomic.Int32
	trig := NewTrigger("reaper", every{20 * time.Millisecond}, func(ctx context.Context, now time.Time) error {
		calls.Add(1)
		return nil
	}, 0, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		trig.Start(ctx)
		close(stopped)
	}()

	waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 3 })
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if !strings.Contains(buf.String(), "スケジューラを停止しました") {
		t.Errorf("stop should be logged: %s", buf.String())
	}
}

// 失敗した実行は完了扱いにせず、次の定期起動より前に再試行する
func TestTrigger_Start_RetriesFailedRun(t *testing.T) {
	var buf safeBuffer
	var calls atomic.Int32
	job := func(ctx context.Context, now time.Time) error {
		if calls.Add(1) == 1 {
			return errors.New("store unavailable")
		}
		return nil
	}
	trig := NewTrigger("matching", &firstSoon{interval: time.Hour}, job, 20*time.Millisecond, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trig.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 2 })

	// 成功後は次の定期起動（1時間後）まで実行されない
	time.Sleep(60 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Errorf("job calls = %d, want 2", got)
	}
	if !strings.Contains(buf.String(), "失敗したジョブを再試行します") {
		t.Errorf("retry should be logged: %s", buf.String())
	}
}

func TestTrigger_Start_MarksRetryInContext(t *testing.T) {
	var mu sync.Mutex
	var retries []bool
	job := func(ctx context.Context, now time.Time) error {
		mu.Lock()
		retries = append(retries, IsRetry(ctx))
		n := len(retries)
		mu.Unlock()
		if n == 1 {
			return errors.New("skip flags were not cleared")
		}
		return nil
	}
	trig := NewTrigger("matching", &firstSoon{interval: time.Hour}, job, 20*time.Millisecond, newTestLogger(&safeBuffer{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trig.Start(ctx)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(retries) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	if retries[0] {
		t.Error("scheduled fire should not be marked as retry")
	}
	if !retries[1] {
		t.Error("retry fire should be marked as retry")
	}
}

func TestTrigger_Start_SkipsFiresMissedDuringRun(t *testing.T) {
	var buf safeBuffer
	var calls atomic.Int32
	job := func(ctx context.Context, now time.Time) error {
		if calls.Add(1) == 1 {
			time.Sleep(50 * time.Millisecond)
		}
		return nil
	}
	trig := NewTrigger("matching", every{10 * time.Millisecond}, job, 0, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trig.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 2 })
	if !strings.Contains(buf.String(), "実行中に到来した定期起動をスキップしました") {
		t.Errorf("missed fire should be logged: %s", buf.String())
	}
}
