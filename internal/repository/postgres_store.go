package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/meetpair/internal/model"
)

// PostgresStore はPostgreSQLを使用したStore実装。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// storeError はSQLエラーをErrStoreUnavailableでラップする。
func storeError(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, model.ErrStoreUnavailable, err)
}

// Update はfnを1つのトランザクション内で実行する。
// 書き込みトランザクションでは読み取った行をFOR UPDATEでロックし、
// 並行するマッチング実行やコマンド処理との更新競合を防ぐ。
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx, forUpdate: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit transaction", err)
	}
	return nil
}

// View はfnを読み取り専用トランザクション内で実行する。
func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return storeError("begin read-only transaction", err)
	}
	defer tx.Rollback()

	return fn(&pgTx{tx: tx})
}

// pgTx はPostgresStoreのトランザクション。
type pgTx struct {
	tx        *sql.Tx
	forUpdate bool
}

func (t *pgTx) lockClause() string {
	if t.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

// LockParticipant はトランザクション単位のアドバイザリーロックを取得する。
// FOR UPDATEは存在しない行をロックできないため、初回の提案や統計作成の競合はこちらで防ぐ。
func (t *pgTx) LockParticipant(ctx context.Context, id int64) error {
	if !t.forUpdate {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, id); err != nil {
		return storeError("lock participant", err)
	}
	return nil
}

func (t *pgTx) GetParticipant(ctx context.Context, id int64) (*model.Participant, error) {
	p := &model.Participant{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, display_name, last_active_at, profile_text, skip_next_cycle
		 FROM participants WHERE id = $1`+t.lockClause(),
		id,
	).Scan(&p.ID, &p.DisplayName, &p.LastActiveAt, &p.ProfileText, &p.SkipNextCycle)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("find participant by ID", err)
	}
	return p, nil
}

func (t *pgTx) ListParticipants(ctx context.Context) ([]model.Participant, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, display_name, last_active_at, profile_text, skip_next_cycle
		 FROM participants`,
	)
	if err != nil {
		return nil, storeError("list participants", err)
	}
	defer rows.Close()

	var list []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.LastActiveAt, &p.ProfileText, &p.SkipNextCycle); err != nil {
			return nil, storeError("scan participant", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate participants", err)
	}
	return list, nil
}

func (t *pgTx) PutParticipant(ctx context.Context, p *model.Participant) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO participants (id, display_name, last_active_at, profile_text, skip_next_cycle, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   last_active_at = EXCLUDED.last_active_at,
		   profile_text = EXCLUDED.profile_text,
		   skip_next_cycle = EXCLUDED.skip_next_cycle,
		   updated_at = now()`,
		p.ID, p.DisplayName, p.LastActiveAt, p.ProfileText, p.SkipNextCycle,
	)
	if err != nil {
		return storeError("upsert participant", err)
	}
	return nil
}

func (t *pgTx) DeleteParticipant(ctx context.Context, id int64) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`DELETE FROM participants WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, storeError("delete participant", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, storeError("get rows affected", err)
	}
	return rowsAffected > 0, nil
}

func (t *pgTx) ClearSkipFlags(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE participants SET skip_next_cycle = FALSE, updated_at = now()
		 WHERE skip_next_cycle`,
	)
	if err != nil {
		return storeError("clear skip flags", err)
	}
	return nil
}

func (t *pgTx) GetStats(ctx context.Context, participantID int64) (*model.StatisticsRecord, error) {
	rec := &model.StatisticsRecord{}
	var lastMatchedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx,
		`SELECT participant_id, cycles_matched, topics_suggested, last_matched_at
		 FROM participant_stats WHERE participant_id = $1`+t.lockClause(),
		participantID,
	).Scan(&rec.ParticipantID, &rec.CyclesMatched, &rec.TopicsSuggested, &lastMatchedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("find participant stats", err)
	}
	if lastMatchedAt.Valid {
		at := lastMatchedAt.Time
		rec.LastMatchedAt = &at
	}
	return rec, nil
}

func (t *pgTx) PutStats(ctx context.Context, rec *model.StatisticsRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO participant_stats (participant_id, cycles_matched, topics_suggested, last_matched_at, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (participant_id) DO UPDATE SET
		   cycles_matched = EXCLUDED.cycles_matched,
		   topics_suggested = EXCLUDED.topics_suggested,
		   last_matched_at = EXCLUDED.last_matched_at,
		   updated_at = now()`,
		rec.ParticipantID, rec.CyclesMatched, rec.TopicsSuggested, rec.LastMatchedAt,
	)
	if err != nil {
		return storeError("upsert participant stats", err)
	}
	return nil
}

func (t *pgTx) ListStats(ctx context.Context) ([]model.StatisticsRecord, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT participant_id, cycles_matched, topics_suggested, last_matched_at
		 FROM participant_stats`,
	)
	if err != nil {
		return nil, storeError("list participant stats", err)
	}
	defer rows.Close()

	var list []model.StatisticsRecord
	for rows.Next() {
		var rec model.StatisticsRecord
		var lastMatchedAt sql.NullTime
		if err := rows.Scan(&rec.ParticipantID, &rec.CyclesMatched, &rec.TopicsSuggested, &lastMatchedAt); err != nil {
			return nil, storeError("scan participant stats", err)
		}
		if lastMatchedAt.Valid {
			at := lastMatchedAt.Time
			rec.LastMatchedAt = &at
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate participant stats", err)
	}
	return list, nil
}

func (t *pgTx) GetLastSuggestion(ctx context.Context, participantID int64) (*time.Time, error) {
	var at time.Time
	err := t.tx.QueryRowContext(ctx,
		`SELECT last_suggested_at FROM suggestion_cooldowns WHERE participant_id = $1`+t.lockClause(),
		participantID,
	).Scan(&at)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("find suggestion cooldown", err)
	}
	return &at, nil
}

func (t *pgTx) PutLastSuggestion(ctx context.Context, participantID int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO suggestion_cooldowns (participant_id, last_suggested_at)
		 VALUES ($1, $2)
		 ON CONFLICT (participant_id) DO UPDATE SET last_suggested_at = EXCLUDED.last_suggested_at`,
		participantID, at,
	)
	if err != nil {
		return storeError("upsert suggestion cooldown", err)
	}
	return nil
}

func (t *pgTx) AppendTopic(ctx context.Context, topic *model.Topic) error {
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO topics (text, suggested_by, created_at)
		 VALUES ($1, $2, now())
		 RETURNING id, created_at`,
		topic.Text, topic.SuggestedBy,
	).Scan(&topic.ID, &topic.CreatedAt)
	if err != nil {
		return storeError("insert topic", err)
	}
	return nil
}

func (t *pgTx) CountTopics(ctx context.Context) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM topics`).Scan(&count)
	if err != nil {
		return 0, storeError("count topics", err)
	}
	return count, nil
}

func (t *pgTx) ListTopics(ctx context.Context, limit int) ([]model.Topic, error) {
	query := `SELECT id, text, suggested_by, created_at FROM topics ORDER BY id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list topics", err)
	}
	defer rows.Close()

	var list []model.Topic
	for rows.Next() {
		var topic model.Topic
		if err := rows.Scan(&topic.ID, &topic.Text, &topic.SuggestedBy, &topic.CreatedAt); err != nil {
			return nil, storeError("scan topic", err)
		}
		list = append(list, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate topics", err)
	}
	return list, nil
}

func (t *pgTx) TopicAt(ctx context.Context, index int) (*model.Topic, error) {
	if index < 0 {
		return nil, nil
	}
	topic := &model.Topic{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, text, suggested_by, created_at FROM topics ORDER BY id OFFSET $1 LIMIT 1`,
		index,
	).Scan(&topic.ID, &topic.Text, &topic.SuggestedBy, &topic.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("find topic by offset", err)
	}
	return topic, nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
