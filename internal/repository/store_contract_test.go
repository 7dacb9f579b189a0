package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/meetpair/internal/model"
)

// testStoreContract はStore実装が満たすべき振る舞いを検証する。
// MemoryStoreとPostgresStoreの両方で同じテストを実行する。
func testStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("参加者のUpsertと取得", func(t *testing.T) {
		err := store.Update(ctx, func(tx Tx) error {
			return tx.PutParticipant(ctx, &model.Participant{ID: 1, DisplayName: "alice", LastActiveAt: now})
		})
		if err != nil {
			t.Fatalf("Update returned error: %v", err)
		}

		var got *model.Participant
		err = store.View(ctx, func(tx Tx) error {
			var err error
			got, err = tx.GetParticipant(ctx, 1)
			return err
		})
		if err != nil {
			t.Fatalf("View returned error: %v", err)
		}
		if got == nil || got.DisplayName != "alice" {
			t.Fatalf("participant = %+v, want alice", got)
		}
		if !got.LastActiveAt.Equal(now) {
			t.Errorf("LastActiveAt = %v, want %v", got.LastActiveAt, now)
		}
	})

	t.Run("存在しない参加者はnil", func(t *testing.T) {
		err := store.View(ctx, func(tx Tx) error {
			p, err := tx.GetParticipant(ctx, 999)
			if err != nil {
				return err
			}
			if p != nil {
				t.Errorf("expected nil, got %+v", p)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("View returned error: %v", err)
		}
	})

	t.Run("エラー時はロールバックされる", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.Update(ctx, func(tx Tx) error {
			if err := tx.PutStats(ctx, &model.StatisticsRecord{ParticipantID: 1, CyclesMatched: 5}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}

		err = store.View(ctx, func(tx Tx) error {
			rec, err := tx.GetStats(ctx, 1)
			if err != nil {
				return err
			}
			if rec != nil {
				t.Errorf("stats should not persist after rollback: %+v", rec)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("View returned error: %v", err)
		}
	})

	t.Run("スキップフラグの一括解除", func(t *testing.T) {
		err := store.Update(ctx, func(tx Tx) error {
			for _, id := range []int64{10, 11} {
				if err := tx.PutParticipant(ctx, &model.Participant{ID: id, LastActiveAt: now, SkipNextCycle: true}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Update returned error: %v", err)
		}

		if err := store.Update(ctx, func(tx Tx) error { return tx.ClearSkipFlags(ctx) }); err != nil {
			t.Fatalf("ClearSkipFlags returned error: %v", err)
		}

		err = store.View(ctx, func(tx Tx) error {
			list, err := tx.ListParticipants(ctx)
			if err != nil {
				return err
			}
			for _, p := range list {
				if p.SkipNextCycle {
					t.Errorf("participant %d still has skip flag", p.ID)
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("View returned error: %v", err)
		}
	})

	t.Run("参加者の削除", func(t *testing.T) {
		var existed, again bool
		err := store.Update(ctx, func(tx Tx) error {
			var err error
			existed, err = tx.DeleteParticipant(ctx, 10)
			if err != nil {
				return err
			}
			again, err = tx.DeleteParticipant(ctx, 10)
			return err
		})
		if err != nil {
			t.Fatalf("Update returned error: %v", err)
		}
		if !existed {
			t.Error("first delete should report existing record")
		}
		if again {
			t.Error("second delete should report no record")
		}
	})

	t.Run("トピックの追記と参照", func(t *testing.T) {
		err := store.Update(ctx, func(tx Tx) error {
			for _, text := range []string{"first", "second", "second"} {
				if err := tx.AppendTopic(ctx, &model.Topic{Text: text}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Update returned error: %v", err)
		}

		err = store.View(ctx, func(tx Tx) error {
			count, err := tx.CountTopics(ctx)
			if err != nil {
				return err
			}
			if count != 3 {
				t.Errorf("count = %d, want 3", count)
			}

			limited, err := tx.ListTopics(ctx, 2)
			if err != nil {
				return err
			}
			if len(limited) != 2 || limited[0].Text != "first" {
				t.Errorf("limited = %+v", limited)
			}

			third, err := tx.TopicAt(ctx, 2)
			if err != nil {
				return err
			}
			if third == nil || third.Text != "second" {
				t.Errorf("TopicAt(2) = %+v", third)
			}

			outOfRange, err := tx.TopicAt(ctx, 3)
			if err != nil {
				return err
			}
			if outOfRange != nil {
				t.Errorf("TopicAt(3) = %+v, want nil", outOfRange)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("View returned error: %v", err)
		}
	})

	t.Run("提案クールダウンの記録", func(t *testing.T) {
		err := store.Update(ctx, func(tx Tx) error {
			return tx.PutLastSuggestion(ctx, 1, now)
		})
		if err != nil {
			t.Fatalf("Update returned error: %v", err)
		}

		err = store.View(ctx, func(tx Tx) error {
			at, err := tx.GetLastSuggestion(ctx, 1)
			if err != nil {
				return err
			}
			if at == nil || !at.Equal(now) {
				t.Errorf("last suggestion = %v, want %v", at, now)
			}
			none, err := tx.GetLastSuggestion(ctx, 2)
			if err != nil {
				return err
			}
			if none != nil {
				t.Errorf("expected nil for unknown participant, got %v", none)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("View returned error: %v", err)
		}
	})

	t.Run("履歴のない参加者の同時提案は1件だけ通る", func(t *testing.T) {
		const id, workers = 50, 8
		var accepted atomic.Int32
		var wg sync.WaitGroup
		errs := make(chan error, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- store.Update(ctx, func(tx Tx) error {
					if err := tx.LockParticipant(ctx, id); err != nil {
						return err
					}
					last, err := tx.GetLastSuggestion(ctx, id)
					if err != nil || last != nil {
						return err
					}
					// 読み取りと書き込みの間に他のトランザクションが割り込める時間を作る
					time.Sleep(20 * time.Millisecond)
					if err := tx.PutLastSuggestion(ctx, id, now); err != nil {
						return err
					}
					accepted.Add(1)
					return nil
				})
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil {
				t.Fatalf("Update returned error: %v", err)
			}
		}
		if got := accepted.Load(); got != 1 {
			t.Errorf("accepted first suggestions = %d, want 1", got)
		}
	})

	t.Run("統計の初回作成が同時でも加算が失われない", func(t *testing.T) {
		const id, workers = 60, 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- store.Update(ctx, func(tx Tx) error {
					if err := tx.LockParticipant(ctx, id); err != nil {
						return err
					}
					rec, err := tx.GetStats(ctx, id)
					if err != nil {
						return err
					}
					if rec == nil {
						rec = &model.StatisticsRecord{ParticipantID: id}
					}
					time.Sleep(5 * time.Millisecond)
					rec.CyclesMatched++
					return tx.PutStats(ctx, rec)
				})
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil {
				t.Fatalf("Update returned error: %v", err)
			}
		}

		err := store.View(ctx, func(tx Tx) error {
			rec, err := tx.GetStats(ctx, id)
			if err != nil {
				return err
			}
			if rec == nil || rec.CyclesMatched != workers {
				t.Errorf("stats = %+v, want cycles_matched %d", rec, workers)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("View returned error: %v", err)
		}
	})

	t.Run("読み取り専用トランザクションのロックは何もしない", func(t *testing.T) {
		err := store.View(ctx, func(tx Tx) error {
			return tx.LockParticipant(ctx, 1)
		})
		if err != nil {
			t.Fatalf("View returned error: %v", err)
		}
	})
}
