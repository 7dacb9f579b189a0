package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/meetpair/internal/model"
	"github.com/hitoshi/meetpair/internal/repository"
)

// faultyStore はMemoryStoreをラップし、指定回数目のPutStatsで失敗させる。
// ペア単位の原子性をフォールトインジェクションで検証するために使う。
type faultyStore struct {
	*repository.MemoryStore
	failOnPut int
}

func (s *faultyStore) Update(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.MemoryStore.Update(ctx, func(tx repository.Tx) error {
		return fn(&faultyTx{Tx: tx, failOnPut: s.failOnPut})
	})
}

type faultyTx struct {
	repository.Tx
	failOnPut int
	puts      int
}

var errInjected = errors.New("injected failure")

func (t *faultyTx) PutStats(ctx context.Context, rec *model.StatisticsRecord) error {
	t.puts++
	if t.puts == t.failOnPut {
		return errInjected
	}
	return t.Tx.PutStats(ctx, rec)
}

var matchTime = time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

func TestLedger_Ensure_CreatesZeroRecord(t *testing.T) {
	ledger := NewLedger(repository.NewMemoryStore())
	ctx := context.Background()

	if err := ledger.Ensure(ctx, 1); err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	ranked, _ := ledger.TopRanked(ctx, 0)
	if len(ranked) != 1 || ranked[0].ParticipantID != 1 || ranked[0].CyclesMatched != 0 {
		t.Errorf("ranked = %+v", ranked)
	}
}

func TestLedger_Ensure_DoesNotResetExisting(t *testing.T) {
	ledger := NewLedger(repository.NewMemoryStore())
	ctx := context.Background()

	_ = ledger.RecordMatch(ctx, 1, 2, matchTime)
	if err := ledger.Ensure(ctx, 1); err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	rec, _ := ledger.Get(ctx, 1)
	if rec.CyclesMatched != 1 {
		t.Errorf("CyclesMatched = %d, want 1", rec.CyclesMatched)
	}
}

func TestLedger_RecordMatch_UpdatesBoth(t *testing.T) {
	ledger := NewLedger(repository.NewMemoryStore())
	ctx := context.Background()

	if err := ledger.RecordMatch(ctx, 1, 2, matchTime); err != nil {
		t.Fatalf("RecordMatch returned error: %v", err)
	}

	for _, id := range []int64{1, 2} {
		rec, err := ledger.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		if rec.CyclesMatched != 1 {
			t.Errorf("participant %d CyclesMatched = %d, want 1", id, rec.CyclesMatched)
		}
		if rec.LastMatchedAt == nil || !rec.LastMatchedAt.Equal(matchTime) {
			t.Errorf("participant %d LastMatchedAt = %v, want %v", id, rec.LastMatchedAt, matchTime)
		}
	}
}

// 1人目の更新後・2人目の更新前に失敗した場合、どちらの統計も更新されないこと
func TestLedger_RecordMatch_PairAtomicity(t *testing.T) {
	store := &faultyStore{MemoryStore: repository.NewMemoryStore(), failOnPut: 2}
	ledger := NewLedger(store)
	ctx := context.Background()

	err := ledger.RecordMatch(ctx, 1, 2, matchTime)
	if !errors.Is(err, errInjected) {
		t.Fatalf("err = %v, want injected failure", err)
	}

	for _, id := range []int64{1, 2} {
		rec, _ := ledger.Get(ctx, id)
		if rec.CyclesMatched != 0 {
			t.Errorf("participant %d CyclesMatched = %d, want 0 (no partial update)", id, rec.CyclesMatched)
		}
		if rec.LastMatchedAt != nil {
			t.Errorf("participant %d LastMatchedAt = %v, want nil", id, rec.LastMatchedAt)
		}
	}
}

func TestLedger_RecordSuggestion(t *testing.T) {
	ledger := NewLedger(repository.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := ledger.RecordSuggestion(ctx, 7); err != nil {
			t.Fatalf("RecordSuggestion returned error: %v", err)
		}
	}
	rec, _ := ledger.Get(ctx, 7)
	if rec.TopicsSuggested != 3 {
		t.Errorf("TopicsSuggested = %d, want 3", rec.TopicsSuggested)
	}
}

func TestLedger_Get_Unknown_ReturnsZero(t *testing.T) {
	ledger := NewLedger(repository.NewMemoryStore())

	rec, err := ledger.Get(context.Background(), 404)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if rec.ParticipantID != 404 || rec.CyclesMatched != 0 || rec.TopicsSuggested != 0 {
		t.Errorf("rec = %+v, want zero record", rec)
	}
}

func TestLedger_TopRanked_Ordering(t *testing.T) {
	ledger := NewLedger(repository.NewMemoryStore())
	ctx := context.Background()

	// 2と4は同点（2回マッチ・1提案）なのでID昇順、3と6も同点
	_ = ledger.RecordMatch(ctx, 1, 2, matchTime)
	_ = ledger.RecordMatch(ctx, 1, 4, matchTime)
	_ = ledger.RecordMatch(ctx, 2, 4, matchTime)
	_ = ledger.RecordMatch(ctx, 3, 6, matchTime)
	_ = ledger.Ensure(ctx, 5)
	_ = ledger.RecordSuggestion(ctx, 2)
	_ = ledger.RecordSuggestion(ctx, 4)

	ranked, err := ledger.TopRanked(ctx, 0)
	if err != nil {
		t.Fatalf("TopRanked returned error: %v", err)
	}

	wantOrder := []int64{2, 4, 1, 3, 6, 5}
	if len(ranked) != len(wantOrder) {
		t.Fatalf("len(ranked) = %d, want %d", len(ranked), len(wantOrder))
	}
	for i, id := range wantOrder {
		if ranked[i].ParticipantID != id {
			t.Errorf("ranked[%d] = %d, want %d (ranked=%+v)", i, ranked[i].ParticipantID, id, ranked)
		}
	}

	top2, _ := ledger.TopRanked(ctx, 2)
	if len(top2) != 2 || top2[0].ParticipantID != 2 || top2[1].ParticipantID != 4 {
		t.Errorf("top2 = %+v", top2)
	}
}

// 同じ参加者を含むペアの統計更新が並行しても回数が失われないこと
func TestLedger_RecordMatch_Concurrent(t *testing.T) {
	ledger := NewLedger(repository.NewMemoryStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := int64(2); i < 32; i++ {
		wg.Add(1)
		go func(peer int64) {
			defer wg.Done()
			_ = ledger.RecordMatch(ctx, 1, peer, matchTime)
		}(i)
	}
	wg.Wait()

	rec, _ := ledger.Get(ctx, 1)
	if rec.CyclesMatched != 30 {
		t.Errorf("CyclesMatched = %d, want 30", rec.CyclesMatched)
	}
}

// lockRecordingStore はLockParticipantの呼び出し順を記録する。
type lockRecordingStore struct {
	*repository.MemoryStore
	locks []int64
}

func (s *lockRecordingStore) Update(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.MemoryStore.Update(ctx, func(tx repository.Tx) error {
		return fn(&lockRecordingTx{Tx: tx, store: s})
	})
}

type lockRecordingTx struct {
	repository.Tx
	store *lockRecordingStore
}

func (t *lockRecordingTx) LockParticipant(ctx context.Context, id int64) error {
	t.store.locks = append(t.store.locks, id)
	return t.Tx.LockParticipant(ctx, id)
}

// 統計を読む前に参加者をロックし、ペアのロックはID昇順で取る
func TestLedger_LocksParticipantsBeforeReading(t *testing.T) {
	store := &lockRecordingStore{MemoryStore: repository.NewMemoryStore()}
	ledger := NewLedger(store)
	ctx := context.Background()

	if err := ledger.RecordMatch(ctx, 9, 3, matchTime); err != nil {
		t.Fatalf("RecordMatch returned error: %v", err)
	}
	if len(store.locks) != 2 || store.locks[0] != 3 || store.locks[1] != 9 {
		t.Errorf("locks = %v, want [3 9]", store.locks)
	}

	store.locks = nil
	if err := ledger.RecordSuggestion(ctx, 5); err != nil {
		t.Fatalf("RecordSuggestion returned error: %v", err)
	}
	if len(store.locks) != 1 || store.locks[0] != 5 {
		t.Errorf("locks = %v, want [5]", store.locks)
	}
}
