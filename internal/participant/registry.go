// Package participant は参加者レジストリのドメインロジックを提供する。
// 参加者レコードの作成・更新・削除はすべてこのパッケージを経由する。
package participant

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/meetpair/internal/model"
	"github.com/hitoshi/meetpair/internal/repository"
)

// MaxProfileLength はプロフィール文の最大文字数（rune数）。
const MaxProfileLength = 500

// Sanitizer は自由記述テキストの正規化インターフェース。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Registry は参加者レコードを管理するサービス。
// 並行するコマンド処理とバックグラウンドジョブから同時に呼ばれるため、
// すべての操作はStoreのトランザクション内で完結させる。
type Registry struct {
	store     repository.Store
	sanitizer Sanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistry はRegistryの新しいインスタンスを生成する。
func NewRegistry(store repository.Store, sanitizer Sanitizer, logger *slog.Logger) *Registry {
	return &Registry{
		store:     store,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock はテスト用に時刻取得関数を差し替える。
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Upsert は参加者を登録または更新し、last_active_atを現在時刻にする。
// 既存レコードのプロフィールとスキップフラグは維持する。同じIDで何度呼んでも安全。
func (r *Registry) Upsert(ctx context.Context, id int64, displayName string) (*model.Participant, error) {
	var result *model.Participant
	err := r.store.Update(ctx, func(tx repository.Tx) error {
		p, err := tx.GetParticipant(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			p = &model.Participant{ID: id}
		}
		p.DisplayName = displayName
		p.LastActiveAt = r.now()

		if err := tx.PutParticipant(ctx, p); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("参加者の登録に失敗しました: %w", err)
	}
	return result, nil
}

// Remove は参加者を削除し、レコードが存在したかどうかを返す。
// 存在しない場合もエラーにはしない。統計レコードは削除しない。
func (r *Registry) Remove(ctx context.Context, id int64) (bool, error) {
	var existed bool
	err := r.store.Update(ctx, func(tx repository.Tx) error {
		var err error
		existed, err = tx.DeleteParticipant(ctx, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("参加者の削除に失敗しました: %w", err)
	}
	if existed {
		r.logger.Info("参加者を削除しました", slog.Int64("participant_id", id))
	}
	return existed, nil
}

// SetProfile はプロフィール文を設定する。空文字を渡すとプロフィールを消去する。
// 未登録の場合はNOT_REGISTEREDエラーを返す。
func (r *Registry) SetProfile(ctx context.Context, id int64, text string) error {
	clean := r.sanitizer.Sanitize(text)
	if utf8.RuneCountInString(clean) > MaxProfileLength {
		return model.NewProfileTooLongError(MaxProfileLength)
	}

	return r.modify(ctx, id, func(p *model.Participant) {
		p.ProfileText = clean
		p.LastActiveAt = r.now()
	})
}

// MarkSkipNext は次回のマッチングを休むフラグを立てる。
// 未登録の場合はNOT_REGISTEREDエラーを返す。
func (r *Registry) MarkSkipNext(ctx context.Context, id int64) error {
	return r.modify(ctx, id, func(p *model.Participant) {
		p.SkipNextCycle = true
		p.LastActiveAt = r.now()
	})
}

// Touch は参加者起点の操作があったことを記録する。未登録の場合は何もしない。
func (r *Registry) Touch(ctx context.Context, id int64) error {
	err := r.modify(ctx, id, func(p *model.Participant) {
		p.LastActiveAt = r.now()
	})
	if model.HasCode(err, model.ErrCodeNotRegistered) {
		return nil
	}
	return err
}

// modify は既存の参加者を読み出してfnで変更し、同じトランザクションで保存する。
func (r *Registry) modify(ctx context.Context, id int64, fn func(p *model.Participant)) error {
	return r.store.Update(ctx, func(tx repository.Tx) error {
		p, err := tx.GetParticipant(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return model.NewNotRegisteredError(id)
		}
		fn(p)
		return tx.PutParticipant(ctx, p)
	})
}

// Get は参加者を取得する。未登録の場合はNOT_REGISTEREDエラーを返す。
func (r *Registry) Get(ctx context.Context, id int64) (*model.Participant, error) {
	var p *model.Participant
	err := r.store.View(ctx, func(tx repository.Tx) error {
		var err error
		p, err = tx.GetParticipant(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("参加者の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewNotRegisteredError(id)
	}
	return p, nil
}

// ListEligible は参加者一覧を返す。excludeSkippedがtrueの場合は
// 今回のサイクルを休む参加者を除外する。順序は保証しない。
func (r *Registry) ListEligible(ctx context.Context, excludeSkipped bool) ([]model.Participant, error) {
	var all []model.Participant
	err := r.store.View(ctx, func(tx repository.Tx) error {
		var err error
		all, err = tx.ListParticipants(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("参加者一覧の取得に失敗しました: %w", err)
	}

	if !excludeSkipped {
		return all, nil
	}
	eligible := make([]model.Participant, 0, len(all))
	for _, p := range all {
		if !p.SkipNextCycle {
			eligible = append(eligible, p)
		}
	}
	return eligible, nil
}

// ListInactive はlast_active_atがcutoffより前の参加者IDを返す。
func (r *Registry) ListInactive(ctx context.Context, cutoff time.Time) ([]int64, error) {
	all, err := r.ListEligible(ctx, false)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, p := range all {
		if p.LastActiveAt.Before(cutoff) {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

// Count は登録済み参加者数を返す。
func (r *Registry) Count(ctx context.Context) (int, error) {
	all, err := r.ListEligible(ctx, false)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// ClearAllSkipFlags は全参加者のスキップフラグを1トランザクションで解除する。
// マッチング実行ごとに、結果に関わらず1回呼ばれる。
func (r *Registry) ClearAllSkipFlags(ctx context.Context) error {
	err := r.store.Update(ctx, func(tx repository.Tx) error {
		return tx.ClearSkipFlags(ctx)
	})
	if err != nil {
		return fmt.Errorf("スキップフラグの解除に失敗しました: %w", err)
	}
	return nil
}
