package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hitoshi/meetpair/internal/model"
)

// errReadOnly はView内で書き込み操作が呼ばれた場合のエラー。
var errReadOnly = errors.New("write operation in read-only transaction")

// memoryState はMemoryStoreが保持するデータのスナップショット。
type memoryState struct {
	participants map[int64]model.Participant
	stats        map[int64]model.StatisticsRecord
	cooldowns    map[int64]time.Time
	topics       []model.Topic
	nextTopicID  int64
}

// clone は書き込みトランザクション用に状態を複製する。
// topicsは追記のみのため、容量を切り詰めたスライスを共有しても元の状態は変化しない。
func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		participants: make(map[int64]model.Participant, len(s.participants)),
		stats:        make(map[int64]model.StatisticsRecord, len(s.stats)),
		cooldowns:    make(map[int64]time.Time, len(s.cooldowns)),
		topics:       s.topics[:len(s.topics):len(s.topics)],
		nextTopicID:  s.nextTopicID,
	}
	for k, v := range s.participants {
		c.participants[k] = v
	}
	for k, v := range s.stats {
		c.stats[k] = v
	}
	for k, v := range s.cooldowns {
		c.cooldowns[k] = v
	}
	return c
}

// MemoryStore はプロセス内メモリで動作するStore実装。
// 書き込みトランザクションは状態の複製に対して実行し、成功時のみ差し替える。
// テストおよびTRANSPORT=logでの動作確認に使用する。
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
	now   func() time.Time
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memoryState{
			participants: make(map[int64]model.Participant),
			stats:        make(map[int64]model.StatisticsRecord),
			cooldowns:    make(map[int64]time.Time),
			nextTopicID:  1,
		},
		now: time.Now,
	}
}

// Update はfnを書き込みトランザクションとして実行する。
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&memoryTx{state: working, now: s.now}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// View はfnを読み取り専用トランザクションとして実行する。
func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&memoryTx{state: s.state, readOnly: true, now: s.now})
}

// memoryTx はMemoryStoreのトランザクション。
type memoryTx struct {
	state    *memoryState
	readOnly bool
	now      func() time.Time
}

// LockParticipant は何もしない。Updateはストア全体のロックを保持したまま実行される。
func (t *memoryTx) LockParticipant(ctx context.Context, id int64) error {
	return nil
}

func (t *memoryTx) GetParticipant(ctx context.Context, id int64) (*model.Participant, error) {
	p, ok := t.state.participants[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *memoryTx) ListParticipants(ctx context.Context) ([]model.Participant, error) {
	list := make([]model.Participant, 0, len(t.state.participants))
	for _, p := range t.state.participants {
		list = append(list, p)
	}
	return list, nil
}

func (t *memoryTx) PutParticipant(ctx context.Context, p *model.Participant) error {
	if t.readOnly {
		return errReadOnly
	}
	t.state.participants[p.ID] = *p
	return nil
}

func (t *memoryTx) DeleteParticipant(ctx context.Context, id int64) (bool, error) {
	if t.readOnly {
		return false, errReadOnly
	}
	if _, ok := t.state.participants[id]; !ok {
		return false, nil
	}
	delete(t.state.participants, id)
	return true, nil
}

func (t *memoryTx) ClearSkipFlags(ctx context.Context) error {
	if t.readOnly {
		return errReadOnly
	}
	for id, p := range t.state.participants {
		if p.SkipNextCycle {
			p.SkipNextCycle = false
			t.state.participants[id] = p
		}
	}
	return nil
}

func (t *memoryTx) GetStats(ctx context.Context, participantID int64) (*model.StatisticsRecord, error) {
	rec, ok := t.state.stats[participantID]
	if !ok {
		return nil, nil
	}
	if rec.LastMatchedAt != nil {
		at := *rec.LastMatchedAt
		rec.LastMatchedAt = &at
	}
	return &rec, nil
}

func (t *memoryTx) PutStats(ctx context.Context, rec *model.StatisticsRecord) error {
	if t.readOnly {
		return errReadOnly
	}
	stored := *rec
	if rec.LastMatchedAt != nil {
		at := *rec.LastMatchedAt
		stored.LastMatchedAt = &at
	}
	t.state.stats[rec.ParticipantID] = stored
	return nil
}

func (t *memoryTx) ListStats(ctx context.Context) ([]model.StatisticsRecord, error) {
	list := make([]model.StatisticsRecord, 0, len(t.state.stats))
	for _, rec := range t.state.stats {
		list = append(list, rec)
	}
	return list, nil
}

func (t *memoryTx) GetLastSuggestion(ctx context.Context, participantID int64) (*time.Time, error) {
	at, ok := t.state.cooldowns[participantID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func (t *memoryTx) PutLastSuggestion(ctx context.Context, participantID int64, at time.Time) error {
	if t.readOnly {
		return errReadOnly
	}
	t.state.cooldowns[participantID] = at
	return nil
}

func (t *memoryTx) AppendTopic(ctx context.Context, topic *model.Topic) error {
	if t.readOnly {
		return errReadOnly
	}
	topic.ID = t.state.nextTopicID
	topic.CreatedAt = t.now()
	t.state.nextTopicID++
	t.state.topics = append(t.state.topics, *topic)
	return nil
}

func (t *memoryTx) CountTopics(ctx context.Context) (int, error) {
	return len(t.state.topics), nil
}

func (t *memoryTx) ListTopics(ctx context.Context, limit int) ([]model.Topic, error) {
	n := len(t.state.topics)
	if limit > 0 && limit < n {
		n = limit
	}
	list := make([]model.Topic, n)
	copy(list, t.state.topics[:n])
	return list, nil
}

func (t *memoryTx) TopicAt(ctx context.Context, index int) (*model.Topic, error) {
	if index < 0 || index >= len(t.state.topics) {
		return nil, nil
	}
	topic := t.state.topics[index]
	return &topic, nil
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
