// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/meetpair/internal/model"
)

// Store はトランザクション境界を提供する永続化インターフェース。
// 参加者、統計、提案クールダウン、トピックをひとつのストアで管理する。
// 複数レコードにまたがる更新（ペアの統計更新やスキップフラグの一括解除）は
// 必ず1回のUpdate内で行い、途中状態が他の読み取りから見えないようにする。
type Store interface {
	// Update はfnを1つの書き込みトランザクション内で実行する。
	// fnがnilを返した場合のみコミットし、エラーの場合はすべての変更を破棄する。
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View はfnを読み取り専用トランザクション内で実行する。
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx はトランザクション内で利用できる操作の集合。
// 見つからない場合はエラーではなくnil（またはfalse）を返す。
type Tx interface {
	ParticipantTx
	StatsTx
	CooldownTx
	TopicTx
}

// ParticipantTx は参加者レコードの操作。
type ParticipantTx interface {
	// LockParticipant は同じ参加者IDに対する書き込みトランザクションを直列化する。
	// 行の有無に関係なくトランザクション終了までロックを保持する。
	// 読み取り専用トランザクションでは何もしない。
	LockParticipant(ctx context.Context, id int64) error

	// GetParticipant は指定IDの参加者を取得する。見つからない場合はnilを返す。
	GetParticipant(ctx context.Context, id int64) (*model.Participant, error)

	// ListParticipants は全参加者を返す。順序は保証しない。
	ListParticipants(ctx context.Context) ([]model.Participant, error)

	// PutParticipant は参加者を挿入または上書きする。
	PutParticipant(ctx context.Context, p *model.Participant) error

	// DeleteParticipant は参加者を削除し、削除したかどうかを返す。
	DeleteParticipant(ctx context.Context, id int64) (bool, error)

	// ClearSkipFlags は全参加者のskip_next_cycleをfalseに戻す。
	ClearSkipFlags(ctx context.Context) error
}

// StatsTx は参加者統計の操作。
type StatsTx interface {
	// GetStats は指定参加者の統計を取得する。見つからない場合はnilを返す。
	GetStats(ctx context.Context, participantID int64) (*model.StatisticsRecord, error)

	// PutStats は統計を挿入または上書きする。
	PutStats(ctx context.Context, rec *model.StatisticsRecord) error

	// ListStats は全統計を返す。削除済み参加者の統計も含む。
	ListStats(ctx context.Context) ([]model.StatisticsRecord, error)
}

// CooldownTx はトピック提案クールダウンの操作。
type CooldownTx interface {
	// GetLastSuggestion は最終提案日時を返す。提案履歴がない場合はnilを返す。
	GetLastSuggestion(ctx context.Context, participantID int64) (*time.Time, error)

	// PutLastSuggestion は最終提案日時を記録する。
	PutLastSuggestion(ctx context.Context, participantID int64, at time.Time) error
}

// TopicTx はトピックコーパスの操作。トピックは追記のみ。
type TopicTx interface {
	// AppendTopic はトピックを末尾に追加する。IDとCreatedAtはストアが設定する。
	AppendTopic(ctx context.Context, topic *model.Topic) error

	// CountTopics はトピックの総数を返す。
	CountTopics(ctx context.Context) (int, error)

	// ListTopics は追加順にトピックを返す。limitが0以下の場合は全件を返す。
	ListTopics(ctx context.Context, limit int) ([]model.Topic, error)

	// TopicAt は追加順で0始まりindex番目のトピックを返す。範囲外の場合はnilを返す。
	TopicAt(ctx context.Context, index int) (*model.Topic, error)
}
