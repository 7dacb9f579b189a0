package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxPeekBodySize はレート制限のためにリクエストボディを先読みする上限。
const maxPeekBodySize = 1 << 20

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	CommandRate     rate.Limit    // 参加者ごとのコマンドレート（req/sec）
	CommandBurst    int           // 参加者ごとのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 参加者ごとに 30 コマンド/分。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfigPerMinute(30)
}

// RateLimiterConfigPerMinute は1分あたりのコマンド数からレート制限設定を生成する。
// perMinuteが0以下の場合はデフォルト値を使用する。
func RateLimiterConfigPerMinute(perMinute int) RateLimiterConfig {
	if perMinute <= 0 {
		perMinute = 30
	}
	return RateLimiterConfig{
		CommandRate:     rate.Limit(float64(perMinute) / 60.0),
		CommandBurst:    perMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// ParticipantExtractor はリクエストから参加者IDを読み取る。
// 参加者を特定できない場合はfalseを返す。
type ParticipantExtractor func(r *http.Request) (int64, bool)

// participantLimiter は参加者ごとのレートリミッターとアクセス時刻を保持する。
type participantLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter は参加者ごとのコマンドレート制限を管理する。
type RateLimiter struct {
	config RateLimiterConfig
	logger *slog.Logger

	mu       sync.RWMutex
	limiters map[int64]*participantLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		logger:   logger,
		limiters: make(map[int64]*participantLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Allow は参加者のコマンドを1件受け付けてよいかを返す。
func (rl *RateLimiter) Allow(participantID int64) bool {
	return rl.getOrCreateLimiter(participantID).Allow()
}

// Middleware は参加者ごとのレート制限ミドルウェアを返す。
// 制限超過時は429を返す。参加者を特定できないリクエストはそのまま通し、検証はハンドラーに任せる。
func (rl *RateLimiter) Middleware(extract ParticipantExtractor) func(next http.Handler) http.Handler {
	return rl.middleware(extract, "api", func(w http.ResponseWriter) {
		writeRateLimitResponse(w, rl.config.CommandRate)
	})
}

// SilentMiddleware は制限超過時に200を返して処理を打ち切るミドルウェアを返す。
// 非2xxで再送してくるWebhook送信元向け。
func (rl *RateLimiter) SilentMiddleware(extract ParticipantExtractor) func(next http.Handler) http.Handler {
	return rl.middleware(extract, "webhook", func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusOK)
	})
}

func (rl *RateLimiter) middleware(extract ParticipantExtractor, limitType string, reject func(w http.ResponseWriter)) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := extract(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			SetParticipantID(r.Context(), id)

			if !rl.Allow(id) {
				reject(w)
				rl.logger.Warn("rate limit exceeded",
					slog.Int64("participant_id", id),
					slog.String("limit_type", limitType),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// getOrCreateLimiter は参加者のリミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateLimiter(participantID int64) *rate.Limiter {
	rl.mu.RLock()
	pl, exists := rl.limiters[participantID]
	rl.mu.RUnlock()

	if exists {
		rl.mu.Lock()
		pl.lastAccess = time.Now()
		rl.mu.Unlock()
		return pl.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// ダブルチェック
	if pl, exists := rl.limiters[participantID]; exists {
		pl.lastAccess = time.Now()
		return pl.limiter
	}

	limiter := rate.NewLimiter(rl.config.CommandRate, rl.config.CommandBurst)
	rl.limiters[participantID] = &participantLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()

	rl.mu.Lock()
	for id, pl := range rl.limiters {
		if now.Sub(pl.lastAccess) > ttl {
			delete(rl.limiters, id)
		}
	}
	rl.mu.Unlock()
}

// PeekJSONBody はリクエストボディをvにデコードし、後続のハンドラーが再度読めるようにボディを戻す。
func PeekJSONBody(r *http.Request, v any) error {
	if r.Body == nil {
		return io.EOF
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBodySize))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "コマンドの送信が多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
