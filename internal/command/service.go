package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/meetpair/internal/model"
	"github.com/hitoshi/meetpair/internal/participant"
	"github.com/hitoshi/meetpair/internal/repository"
	"github.com/hitoshi/meetpair/internal/stats"
	"github.com/hitoshi/meetpair/internal/throttle"
	"github.com/hitoshi/meetpair/internal/topic"
)

// FeedImporter はフィードからのトピック取り込み。
type FeedImporter interface {
	ImportFeed(ctx context.Context, feedURL string, importedBy int64) (int, error)
}

// SuggestionRecorder はトピック提案の受理・却下を記録するメトリクス。
type SuggestionRecorder interface {
	RecordSuggestion(accepted bool)
}

// Config はコマンド処理の設定値。
type Config struct {
	OperatorID      int64 // 運営者の参加者ID（0は運営者なし）
	LeaderboardSize int
}

// Service はコマンドを各ドメインサービスに振り分ける。
type Service struct {
	store    repository.Store
	registry *participant.Registry
	ledger   *stats.Ledger
	throttle *throttle.Throttle
	corpus   *topic.Corpus
	importer FeedImporter
	recorder SuggestionRecorder
	cfg      Config
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。importerとrecorderはnilでもよい。
func NewService(
	store repository.Store,
	registry *participant.Registry,
	ledger *stats.Ledger,
	th *throttle.Throttle,
	corpus *topic.Corpus,
	importer FeedImporter,
	recorder SuggestionRecorder,
	cfg Config,
) *Service {
	if cfg.LeaderboardSize <= 0 {
		cfg.LeaderboardSize = 10
	}
	return &Service{
		store:    store,
		registry: registry,
		ledger:   ledger,
		throttle: th,
		corpus:   corpus,
		importer: importer,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock はテスト用に時刻取得関数を差し替える。
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Handle はコマンドを1件処理する。unregister以外のコマンドは最終操作日時を更新する。
func (s *Service) Handle(ctx context.Context, cmd Command) (Reply, error) {
	if cmd.Verb != VerbUnregister && cmd.Verb != VerbRegister {
		if err := s.registry.Touch(ctx, cmd.ParticipantID); err != nil {
			return Reply{}, err
		}
	}

	switch cmd.Verb {
	case VerbRegister:
		return s.register(ctx, cmd)
	case VerbUnregister:
		return s.unregister(ctx, cmd)
	case VerbSetProfile:
		return s.setProfile(ctx, cmd)
	case VerbSuggestTopic:
		return s.suggestTopic(ctx, cmd)
	case VerbRequestSkipNext:
		return s.requestSkipNext(ctx, cmd)
	case VerbViewStats:
		return s.viewStats(ctx, cmd)
	case VerbViewTopics:
		return s.viewTopics(ctx)
	case VerbViewLeaderboard:
		return s.viewLeaderboard(ctx)
	case VerbOperatorViewCount:
		return s.operatorViewCount(ctx, cmd)
	case VerbOperatorList:
		return s.operatorList(ctx, cmd)
	case VerbOperatorImport:
		return s.operatorImport(ctx, cmd)
	case VerbHelp:
		return Reply{Text: HelpText}, nil
	default:
		return Reply{}, model.NewInvalidCommandError(fmt.Sprintf("不明なコマンドです: %s", cmd.Verb))
	}
}

func (s *Service) register(ctx context.Context, cmd Command) (Reply, error) {
	if _, err := s.registry.Upsert(ctx, cmd.ParticipantID, cmd.DisplayName); err != nil {
		return Reply{}, err
	}
	if err := s.ledger.Ensure(ctx, cmd.ParticipantID); err != nil {
		return Reply{}, err
	}
	return Reply{Text: "参加登録が完了しました。毎週ランダムに選ばれた相手とのペアをお知らせします。\n/help でコマンド一覧を確認できます。"}, nil
}

func (s *Service) unregister(ctx context.Context, cmd Command) (Reply, error) {
	existed, err := s.registry.Remove(ctx, cmd.ParticipantID)
	if err != nil {
		return Reply{}, err
	}
	if !existed {
		return Reply{Text: "登録されていません。"}, nil
	}
	return Reply{Text: "参加を取り消しました。また参加したくなったら /start を送ってください。"}, nil
}

func (s *Service) setProfile(ctx context.Context, cmd Command) (Reply, error) {
	if err := s.registry.SetProfile(ctx, cmd.ParticipantID, cmd.Argument); err != nil {
		return Reply{}, err
	}
	if strings.TrimSpace(cmd.Argument) == "" {
		return Reply{Text: "プロフィールを削除しました。"}, nil
	}
	return Reply{Text: "プロフィールを更新しました。ペアのお相手に表示されます。"}, nil
}

// suggestTopic はクールダウン判定、トピック追加、提案日時と統計の記録を1トランザクションで行う。
func (s *Service) suggestTopic(ctx context.Context, cmd Command) (Reply, error) {
	if _, err := s.registry.Get(ctx, cmd.ParticipantID); err != nil {
		return Reply{}, err
	}

	now := s.now()
	var added *model.Topic
	err := s.store.Update(ctx, func(tx repository.Tx) error {
		// 提案履歴がまだない参加者でも同時の提案を直列化する
		if err := tx.LockParticipant(ctx, cmd.ParticipantID); err != nil {
			return err
		}
		if err := s.throttle.CheckTx(ctx, tx, cmd.ParticipantID, now); err != nil {
			return err
		}
		var err error
		added, err = s.corpus.AppendTx(ctx, tx, cmd.Argument, cmd.ParticipantID)
		if err != nil {
			return err
		}
		if err := s.throttle.RecordTx(ctx, tx, cmd.ParticipantID, now); err != nil {
			return err
		}
		return stats.RecordSuggestionTx(ctx, tx, cmd.ParticipantID)
	})
	if err != nil {
		if model.HasCode(err, model.ErrCodeThrottleActive) {
			s.recordSuggestion(false)
		}
		return Reply{}, err
	}

	s.recordSuggestion(true)
	return Reply{Text: fmt.Sprintf("トピックを追加しました: %s", added.Text)}, nil
}

func (s *Service) requestSkipNext(ctx context.Context, cmd Command) (Reply, error) {
	if err := s.registry.MarkSkipNext(ctx, cmd.ParticipantID); err != nil {
		return Reply{}, err
	}
	return Reply{Text: "次回のマッチングをお休みします。その次の回からは自動的に対象に戻ります。"}, nil
}

func (s *Service) viewStats(ctx context.Context, cmd Command) (Reply, error) {
	if _, err := s.registry.Get(ctx, cmd.ParticipantID); err != nil {
		return Reply{}, err
	}
	rec, err := s.ledger.Get(ctx, cmd.ParticipantID)
	if err != nil {
		return Reply{}, err
	}

	lastMatched := "まだありません"
	if rec.LastMatchedAt != nil {
		lastMatched = rec.LastMatchedAt.Format("2006-01-02")
	}
	text := fmt.Sprintf("マッチ回数: %d回\n提案したトピック: %d件\n最後のマッチ: %s",
		rec.CyclesMatched, rec.TopicsSuggested, lastMatched)
	return Reply{Text: text}, nil
}

func (s *Service) viewTopics(ctx context.Context) (Reply, error) {
	topics, err := s.corpus.ListAll(ctx)
	if err != nil {
		return Reply{}, err
	}
	if len(topics) == 0 {
		return Reply{Text: "まだトピックがありません。/suggest で提案してください。"}, nil
	}

	var b strings.Builder
	b.WriteString("トピックの一覧:")
	for i, t := range topics {
		fmt.Fprintf(&b, "\n%d. %s", i+1, t.Text)
	}
	return Reply{Text: b.String()}, nil
}

func (s *Service) viewLeaderboard(ctx context.Context) (Reply, error) {
	entries, err := s.Leaderboard(ctx)
	if err != nil {
		return Reply{}, err
	}
	if len(entries) == 0 {
		return Reply{Text: "まだランキングはありません。"}, nil
	}

	var b strings.Builder
	b.WriteString("ランキング:")
	for i, e := range entries {
		fmt.Fprintf(&b, "\n%d. %s - %d回 (トピック %d件)", i+1, e.DisplayName, e.CyclesMatched, e.TopicsSuggested)
	}
	return Reply{Text: b.String()}, nil
}

// LeaderboardEntry は表示名付きのランキング行。
type LeaderboardEntry struct {
	model.RankedEntry
	DisplayName string
}

// Leaderboard は上位LeaderboardSize件のランキングを表示名付きで返す。
// 削除済み参加者の統計も含み、表示名は「退会済み」とする。
func (s *Service) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	ranked, err := s.ledger.TopRanked(ctx, s.cfg.LeaderboardSize)
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, len(ranked))
	for i, r := range ranked {
		entries[i] = LeaderboardEntry{RankedEntry: r, DisplayName: "退会済み"}
		p, err := s.registry.Get(ctx, r.ParticipantID)
		if err != nil {
			if model.HasCode(err, model.ErrCodeNotRegistered) {
				continue
			}
			return nil, err
		}
		entries[i].DisplayName = p.Label()
	}
	return entries, nil
}

// Topics は表示上限までのトピック一覧を返す。
func (s *Service) Topics(ctx context.Context) ([]model.Topic, error) {
	return s.corpus.ListAll(ctx)
}

func (s *Service) operatorViewCount(ctx context.Context, cmd Command) (Reply, error) {
	if err := s.requireOperator(cmd); err != nil {
		return Reply{}, err
	}
	n, err := s.registry.Count(ctx)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("登録者数: %d人", n)}, nil
}

func (s *Service) operatorList(ctx context.Context, cmd Command) (Reply, error) {
	if err := s.requireOperator(cmd); err != nil {
		return Reply{}, err
	}
	all, err := s.registry.ListEligible(ctx, false)
	if err != nil {
		return Reply{}, err
	}
	if len(all) == 0 {
		return Reply{Text: "登録者はいません。"}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "登録者一覧 (%d人):", len(all))
	for _, p := range all {
		skip := ""
		if p.SkipNextCycle {
			skip = " [次回休み]"
		}
		fmt.Fprintf(&b, "\n%d %s (最終操作: %s)%s", p.ID, p.Label(), p.LastActiveAt.Format("2006-01-02"), skip)
	}
	return Reply{Text: b.String()}, nil
}

func (s *Service) operatorImport(ctx context.Context, cmd Command) (Reply, error) {
	if err := s.requireOperator(cmd); err != nil {
		return Reply{}, err
	}
	if s.importer == nil {
		return Reply{}, model.NewInvalidCommandError("トピック取り込みは無効です")
	}
	if strings.TrimSpace(cmd.Argument) == "" {
		return Reply{}, model.NewInvalidURLError("URLを指定してください")
	}
	added, err := s.importer.ImportFeed(ctx, strings.TrimSpace(cmd.Argument), cmd.ParticipantID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("%d件のトピックを取り込みました。", added)}, nil
}

func (s *Service) requireOperator(cmd Command) error {
	if s.cfg.OperatorID == 0 || cmd.ParticipantID != s.cfg.OperatorID {
		return model.NewForbiddenError()
	}
	return nil
}

func (s *Service) recordSuggestion(accepted bool) {
	if s.recorder != nil {
		s.recorder.RecordSuggestion(accepted)
	}
}

// ErrorText はエラーを参加者向けの応答文に変換する。
// APIError以外のエラーは詳細を伏せた定型文にする。
func ErrorText(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Action != "" {
			return apiErr.Message + "\n" + apiErr.Action
		}
		return apiErr.Message
	}
	return "内部エラーが発生しました。しばらく待ってから再度お試しください。"
}
