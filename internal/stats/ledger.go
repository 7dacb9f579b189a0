// Package stats は参加者ごとの統計（マッチ回数、トピック提案数）を管理する。
package stats

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/hitoshi/meetpair/internal/model"
	"github.com/hitoshi/meetpair/internal/repository"
)

// Ledger は統計レコードの更新と集計を行うサービス。
// 統計は参加者の削除後も保持し、ランキングは孤立した統計も対象にする。
type Ledger struct {
	store repository.Store
}

// NewLedger はLedgerの新しいインスタンスを生成する。
func NewLedger(store repository.Store) *Ledger {
	return &Ledger{store: store}
}

// Ensure は統計レコードが存在しなければゼロ値で作成する。
func (l *Ledger) Ensure(ctx context.Context, id int64) error {
	err := l.store.Update(ctx, func(tx repository.Tx) error {
		_, err := loadOrNew(ctx, tx, id, true)
		return err
	})
	if err != nil {
		return fmt.Errorf("統計レコードの作成に失敗しました: %w", err)
	}
	return nil
}

// RecordMatch はペアの両者のcycles_matchedを1増やし、last_matched_atをatにする。
// 両者の更新は1トランザクションで行い、片方だけが反映されることはない。
func (l *Ledger) RecordMatch(ctx context.Context, idA, idB int64, at time.Time) error {
	// ロックは常にID昇順で取得する
	ids := []int64{idA, idB}
	slices.Sort(ids)
	err := l.store.Update(ctx, func(tx repository.Tx) error {
		for _, id := range ids {
			rec, err := loadOrNew(ctx, tx, id, false)
			if err != nil {
				return err
			}
			rec.CyclesMatched++
			matchedAt := at
			rec.LastMatchedAt = &matchedAt
			if err := tx.PutStats(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("マッチ統計の記録に失敗しました (%d, %d): %w", idA, idB, err)
	}
	return nil
}

// RecordSuggestion はtopics_suggestedを1増やす。
func (l *Ledger) RecordSuggestion(ctx context.Context, id int64) error {
	err := l.store.Update(ctx, func(tx repository.Tx) error {
		return RecordSuggestionTx(ctx, tx, id)
	})
	if err != nil {
		return fmt.Errorf("提案統計の記録に失敗しました: %w", err)
	}
	return nil
}

// RecordSuggestionTx は呼び出し元のトランザクション内でtopics_suggestedを1増やす。
// トピック追加とクールダウン記録を同じトランザクションで行うために使う。
func RecordSuggestionTx(ctx context.Context, tx repository.Tx, id int64) error {
	rec, err := loadOrNew(ctx, tx, id, false)
	if err != nil {
		return err
	}
	rec.TopicsSuggested++
	return tx.PutStats(ctx, rec)
}

// Get は統計レコードを返す。存在しない場合はゼロ値のレコードを返す。
func (l *Ledger) Get(ctx context.Context, id int64) (*model.StatisticsRecord, error) {
	var rec *model.StatisticsRecord
	err := l.store.View(ctx, func(tx repository.Tx) error {
		var err error
		rec, err = tx.GetStats(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("統計の取得に失敗しました: %w", err)
	}
	if rec == nil {
		rec = &model.StatisticsRecord{ParticipantID: id}
	}
	return rec, nil
}

// TopRanked はcycles_matched降順、topics_suggested降順、参加者ID昇順で
// 上位limit件を返す。limitが0以下の場合は全件を返す。
func (l *Ledger) TopRanked(ctx context.Context, limit int) ([]model.RankedEntry, error) {
	var all []model.StatisticsRecord
	err := l.store.View(ctx, func(tx repository.Tx) error {
		var err error
		all, err = tx.ListStats(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ランキングの取得に失敗しました: %w", err)
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.CyclesMatched != b.CyclesMatched {
			return a.CyclesMatched > b.CyclesMatched
		}
		if a.TopicsSuggested != b.TopicsSuggested {
			return a.TopicsSuggested > b.TopicsSuggested
		}
		return a.ParticipantID < b.ParticipantID
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	ranked := make([]model.RankedEntry, len(all))
	for i, rec := range all {
		ranked[i] = model.RankedEntry{
			ParticipantID:   rec.ParticipantID,
			CyclesMatched:   rec.CyclesMatched,
			TopicsSuggested: rec.TopicsSuggested,
		}
	}
	return ranked, nil
}

// loadOrNew は参加者をロックしたうえで統計レコードを読み出し、存在しなければゼロ値を返す。
// persistがtrueの場合、新規レコードをその場で保存する。
func loadOrNew(ctx context.Context, tx repository.Tx, id int64, persist bool) (*model.StatisticsRecord, error) {
	if err := tx.LockParticipant(ctx, id); err != nil {
		return nil, err
	}
	rec, err := tx.GetStats(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}
	rec = &model.StatisticsRecord{ParticipantID: id}
	if persist {
		if err := tx.PutStats(ctx, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
