package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/meetpair/internal/messaging"
	"github.com/hitoshi/meetpair/internal/middleware"
)

// HealthChecker はヘルスチェックで永続化層の疎通を確認するインターフェース。
// *sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	RateLimiter    *middleware.RateLimiter
	HealthChecker  HealthChecker // nilの場合は常に正常
	MetricsHandler http.Handler  // nilの場合は/metricsを公開しない

	CommandService CommandServiceInterface
	APIToken       string // /api配下のBearerトークン。空の場合/apiはすべて401

	// Telegram Webhook
	Sender        messaging.Sender
	WebhookSecret string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → APIToken（/apiのみ） → RateLimit（コマンド受付ルートのみ）
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	commandHandler := NewCommandHandler(deps.CommandService, deps.Logger)
	webhookHandler := NewWebhookHandler(deps.CommandService, deps.Sender, deps.WebhookSecret, deps.Logger)

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- コマンド受付（参加者ごとのレート制限を適用） ---
	r.With(deps.RateLimiter.SilentMiddleware(participantFromTelegramUpdate)).
		Post("/webhook/telegram", webhookHandler.HandleTelegram)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAPITokenMiddleware(deps.APIToken))

		r.With(deps.RateLimiter.Middleware(participantFromCommandBody)).
			Post("/commands", commandHandler.PostCommand)

		// 参照系
		r.Get("/leaderboard", commandHandler.GetLeaderboard)
		r.Get("/topics", commandHandler.GetTopics)
	})

	return r
}

// healthHandler は永続化層への疎通を確認するハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
