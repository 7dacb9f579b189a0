// Package matching は週次マッチング（ランダムな1対1ペアリング）のロジックを提供する。
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/meetpair/internal/model"
	"github.com/hitoshi/meetpair/internal/topic"
)

// FallbackTopic はトピックを選べなかった場合に使う話題。
const FallbackTopic = "最近あった良いこと"

// スキップフラグ解除の既定の試行回数と間隔
const (
	defaultClearAttempts   = 3
	defaultClearRetryDelay = 2 * time.Second
)

// ErrSkipFlagsNotCleared はペアと統計はコミット済みで、スキップフラグの解除だけが
// 失敗したことを示す。このエラーとともに返るMatchingRunは配信してよい。
// 呼び出し元はマッチングをやり直さず、ClearSkipFlagsだけを再試行する。
var ErrSkipFlagsNotCleared = errors.New("skip flags were not cleared")

// Registry はマッチングが参照する参加者レジストリの操作。
type Registry interface {
	ListEligible(ctx context.Context, excludeSkipped bool) ([]model.Participant, error)
	ClearAllSkipFlags(ctx context.Context) error
}

// Ledger はペア成立時の統計記録。
type Ledger interface {
	RecordMatch(ctx context.Context, idA, idB int64, at time.Time) error
}

// TopicSource は実行ごとに共有する話題の供給元。
type TopicSource interface {
	PickRandom(ctx context.Context) (string, error)
	EnsureSeeded(ctx context.Context, defaults []string) (int, error)
}

// Shuffler は並べ替えに使う乱数源。math/rand/v2の*rand.Randが満たす。
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Engine はマッチング1回分の処理を行う。
type Engine struct {
	registry Registry
	ledger   Ledger
	topics   TopicSource
	newLink  func() string
	logger   *slog.Logger

	clearAttempts   int
	clearRetryDelay time.Duration

	randMu sync.Mutex
	rand   Shuffler
}

// NewEngine はEngineの新しいインスタンスを生成する。
func NewEngine(
	registry Registry,
	ledger Ledger,
	topics TopicSource,
	rnd Shuffler,
	newLink func() string,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		registry: registry,
		ledger:   ledger,
		topics:   topics,
		rand:     rnd,
		newLink:  newLink,
		logger:   logger,

		clearAttempts:   defaultClearAttempts,
		clearRetryDelay: defaultClearRetryDelay,
	}
}

// WithClearRetry はスキップフラグ解除の試行回数と間隔を差し替える。
func (e *Engine) WithClearRetry(attempts int, delay time.Duration) *Engine {
	if attempts < 1 {
		attempts = 1
	}
	e.clearAttempts = attempts
	e.clearRetryDelay = delay
	return e
}

// ClearSkipFlags は全参加者のスキップフラグを解除する。
// 失敗した場合は設定された回数まで間隔を空けて再試行する。
func (e *Engine) ClearSkipFlags(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= e.clearAttempts; attempt++ {
		if err = e.registry.ClearAllSkipFlags(ctx); err == nil {
			return nil
		}
		e.logger.Warn("スキップフラグの解除に失敗しました",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == e.clearAttempts {
			break
		}
		timer := time.NewTimer(e.clearRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

// Run はnowを論理時刻としてマッチングを1回実行し、配信すべき通知インテントを返す。
//
// 対象者のスナップショットを取得できなかった場合など、何もコミットされていない場合は
// nilとエラーを返す。ペア単位の統計記録失敗はMatchingRun.StatsFailuresに記録し、
// 他のペアの処理は継続する。スキップフラグの解除は結果にかかわらず必ず試み、
// 再試行しても解除できなかった場合はMatchingRunとErrSkipFlagsNotClearedを返す。
func (e *Engine) Run(ctx context.Context, now time.Time) (*model.MatchingRun, error) {
	start := time.Now()

	eligible, err := e.registry.ListEligible(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("マッチング対象者の取得に失敗しました: %w", err)
	}

	run := &model.MatchingRun{
		StartedAt:   now,
		EligibleIDs: make([]int64, len(eligible)),
	}
	for i, p := range eligible {
		run.EligibleIDs[i] = p.ID
	}

	if len(eligible) < 2 {
		if len(eligible) == 1 {
			p := eligible[0]
			run.Unpaired = &p
			run.Intents = append(run.Intents, unpairedIntent(p))
		}
		if err := e.ClearSkipFlags(ctx); err != nil {
			e.logger.Error("スキップフラグを解除できませんでした",
				slog.String("error", err.Error()),
			)
			return run, fmt.Errorf("%w: %w", ErrSkipFlagsNotCleared, err)
		}
		e.logger.Info("マッチング対象者が2人未満のためペアを作成しませんでした",
			slog.Int("eligible_count", len(eligible)),
		)
		return run, nil
	}

	shuffled := make([]model.Participant, len(eligible))
	copy(shuffled, eligible)
	e.shuffle(shuffled)
	run.Pairs, run.Unpaired = Partition(shuffled)

	run.Topic = e.pickTopic(ctx)

	for _, pair := range run.Pairs {
		link := e.newLink()
		run.Intents = append(run.Intents,
			pairedIntent(pair.A, pair.B, run.Topic, link),
			pairedIntent(pair.B, pair.A, run.Topic, link),
		)
	}
	if run.Unpaired != nil {
		run.Intents = append(run.Intents, unpairedIntent(*run.Unpaired))
	}

	// 統計は配信前にコミットする
	for _, pair := range run.Pairs {
		if err := e.ledger.RecordMatch(ctx, pair.A.ID, pair.B.ID, now); err != nil {
			e.logger.Error("ペアの統計記録に失敗しました",
				slog.Int64("participant_a", pair.A.ID),
				slog.Int64("participant_b", pair.B.ID),
				slog.String("error", err.Error()),
			)
			run.StatsFailures = append(run.StatsFailures, model.PairFailure{Pair: pair, Err: err})
		}
	}

	clearErr := e.ClearSkipFlags(ctx)
	if clearErr != nil {
		if len(run.StatsFailures) == len(run.Pairs) {
			// 何もコミットされていないので、実行自体を失敗として扱う
			failures := make([]error, 0, len(run.StatsFailures)+1)
			for _, f := range run.StatsFailures {
				failures = append(failures, f.Err)
			}
			failures = append(failures, clearErr)
			return nil, fmt.Errorf("マッチング結果を保存できませんでした: %w", errors.Join(failures...))
		}
		e.logger.Error("スキップフラグを解除できませんでした",
			slog.String("error", clearErr.Error()),
		)
	}

	unpairedID := int64(0)
	if run.Unpaired != nil {
		unpairedID = run.Unpaired.ID
	}
	e.logger.Info("マッチングが完了しました",
		slog.Int("eligible_count", len(eligible)),
		slog.Int("pair_count", len(run.Pairs)),
		slog.Int64("unpaired_id", unpairedID),
		slog.Int("stats_failure_count", len(run.StatsFailures)),
		slog.String("topic", run.Topic),
		slog.Bool("skip_flags_cleared", clearErr == nil),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	if clearErr != nil {
		return run, fmt.Errorf("%w: %w", ErrSkipFlagsNotCleared, clearErr)
	}
	return run, nil
}

// Partition は並べ替え済みの列を先頭から2人ずつのペアに分ける。
// 人数が奇数の場合、末尾の1人を返す。
func Partition(participants []model.Participant) ([]model.Pair, *model.Participant) {
	pairs := make([]model.Pair, 0, len(participants)/2)
	for i := 0; i+1 < len(participants); i += 2 {
		pairs = append(pairs, model.Pair{A: participants[i], B: participants[i+1]})
	}
	if len(participants)%2 == 1 {
		last := participants[len(participants)-1]
		return pairs, &last
	}
	return pairs, nil
}

// shuffle はFisher-Yatesで一様ランダムな順列に並べ替える。
func (e *Engine) shuffle(ps []model.Participant) {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	e.rand.Shuffle(len(ps), func(i, j int) {
		ps[i], ps[j] = ps[j], ps[i]
	})
}

// pickTopic は実行全体で共有する話題を1つ選ぶ。
// コーパスが空なら初期トピックを投入して1度だけ再試行する。
func (e *Engine) pickTopic(ctx context.Context) string {
	text, err := e.topics.PickRandom(ctx)
	if err == nil {
		return text
	}

	if model.HasCode(err, model.ErrCodeEmptyCorpus) {
		if _, seedErr := e.topics.EnsureSeeded(ctx, topic.DefaultTopics); seedErr == nil {
			if text, err = e.topics.PickRandom(ctx); err == nil {
				return text
			}
		} else {
			err = seedErr
		}
	}

	e.logger.Warn("トピックを選択できなかったため既定の話題を使用します",
		slog.String("fallback_topic", FallbackTopic),
		slog.String("error", err.Error()),
	)
	return FallbackTopic
}

func pairedIntent(recipient, peer model.Participant, topicText, link string) model.NotificationIntent {
	return model.NotificationIntent{
		Kind:        model.IntentPaired,
		RecipientID: recipient.ID,
		PeerID:      peer.ID,
		PeerName:    peer.Label(),
		PeerProfile: peer.ProfileText,
		Topic:       topicText,
		MeetingLink: link,
	}
}

func unpairedIntent(p model.Participant) model.NotificationIntent {
	return model.NotificationIntent{
		Kind:        model.IntentUnpaired,
		RecipientID: p.ID,
	}
}
