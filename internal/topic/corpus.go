// Package topic は話題（トピック）コーパスの管理を提供する。
// コーパスは追記のみで、重複も許容する。
package topic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/hitoshi/meetpair/internal/model"
	"github.com/hitoshi/meetpair/internal/repository"
)

// MaxTopicLength はトピック本文の最大文字数（rune数）。
const MaxTopicLength = 300

// DefaultDisplayCap は一覧表示で返す件数の既定値。
const DefaultDisplayCap = 20

// DefaultTopics はコーパスが空のときに投入する初期トピック。
var DefaultTopics = []string{
	"最近読んだ本や記事で印象に残ったものは？",
	"今取り組んでいる仕事やプロジェクトについて",
	"休日の過ごし方",
	"最近ハマっていること",
	"行ってみたい場所",
}

// Sanitizer は自由記述テキストの正規化インターフェース。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Rand はランダム選択に使う乱数源。math/rand/v2の*rand.Randが満たす。
type Rand interface {
	IntN(n int) int
}

// Corpus はトピックの追加と一様ランダムな選択を行うサービス。
type Corpus struct {
	store      repository.Store
	sanitizer  Sanitizer
	displayCap int

	randMu sync.Mutex
	rand   Rand
}

// NewCorpus はCorpusの新しいインスタンスを生成する。
// displayCapが0以下の場合はDefaultDisplayCapを使用する。
func NewCorpus(store repository.Store, sanitizer Sanitizer, rnd Rand, displayCap int) *Corpus {
	if displayCap <= 0 {
		displayCap = DefaultDisplayCap
	}
	return &Corpus{
		store:      store,
		sanitizer:  sanitizer,
		displayCap: displayCap,
		rand:       rnd,
	}
}

// Append はトピックを追加する。空白のみの場合はEmptyTopicエラーを返す。
func (c *Corpus) Append(ctx context.Context, text string, suggestedBy int64) (*model.Topic, error) {
	var topic *model.Topic
	err := c.store.Update(ctx, func(tx repository.Tx) error {
		var err error
		topic, err = c.AppendTx(ctx, tx, text, suggestedBy)
		return err
	})
	if err != nil {
		return nil, wrap("トピックの追加に失敗しました", err)
	}
	return topic, nil
}

// AppendTx は呼び出し元のトランザクション内でトピックを追加する。
func (c *Corpus) AppendTx(ctx context.Context, tx repository.Tx, text string, suggestedBy int64) (*model.Topic, error) {
	normalized, err := c.normalize(text)
	if err != nil {
		return nil, err
	}
	topic := &model.Topic{Text: normalized, SuggestedBy: suggestedBy}
	if err := tx.AppendTopic(ctx, topic); err != nil {
		return nil, err
	}
	return topic, nil
}

// ListAll は追加順のトピックを表示上限まで返す。
func (c *Corpus) ListAll(ctx context.Context) ([]model.Topic, error) {
	var topics []model.Topic
	err := c.store.View(ctx, func(tx repository.Tx) error {
		var err error
		topics, err = tx.ListTopics(ctx, c.displayCap)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("トピック一覧の取得に失敗しました: %w", err)
	}
	return topics, nil
}

// Count はコーパス全体のトピック数を返す。
func (c *Corpus) Count(ctx context.Context) (int, error) {
	var n int
	err := c.store.View(ctx, func(tx repository.Tx) error {
		var err error
		n, err = tx.CountTopics(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("トピック数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// PickRandom はコーパス全体から一様ランダムに1件選んで本文を返す。
// 表示上限は適用しない。空の場合はEmptyCorpusエラーを返す。
func (c *Corpus) PickRandom(ctx context.Context) (string, error) {
	var text string
	err := c.store.View(ctx, func(tx repository.Tx) error {
		n, err := tx.CountTopics(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return model.NewEmptyCorpusError()
		}
		t, err := tx.TopicAt(ctx, c.intN(n))
		if err != nil {
			return err
		}
		if t == nil {
			return model.NewEmptyCorpusError()
		}
		text = t.Text
		return nil
	})
	if err != nil {
		return "", wrap("トピックの選択に失敗しました", err)
	}
	return text, nil
}

// EnsureSeeded はコーパスが空の場合にdefaultsを投入し、投入件数を返す。
func (c *Corpus) EnsureSeeded(ctx context.Context, defaults []string) (int, error) {
	var seeded int
	err := c.store.Update(ctx, func(tx repository.Tx) error {
		n, err := tx.CountTopics(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		for _, text := range defaults {
			if _, err := c.AppendTx(ctx, tx, text, 0); err != nil {
				if model.HasCode(err, model.ErrCodeEmptyTopic) {
					continue
				}
				return err
			}
			seeded++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("初期トピックの投入に失敗しました: %w", err)
	}
	return seeded, nil
}

func (c *Corpus) normalize(text string) (string, error) {
	normalized := strings.TrimSpace(text)
	if c.sanitizer != nil {
		normalized = c.sanitizer.Sanitize(normalized)
	}
	if normalized == "" {
		return "", model.NewEmptyTopicError()
	}
	if utf8.RuneCountInString(normalized) > MaxTopicLength {
		return "", model.NewTopicTooLongError(MaxTopicLength)
	}
	return normalized, nil
}

func (c *Corpus) intN(n int) int {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return c.rand.IntN(n)
}

// wrap はAPIErrorをそのまま返し、それ以外のエラーにはメッセージを付与する。
func wrap(msg string, err error) error {
	if _, ok := err.(*model.APIError); ok {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}
