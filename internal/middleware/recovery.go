package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
)

// webhookPathPrefix 配下のpanicは200で応答する。
// Telegramは2xx以外の応答を再送するため、同じ更新で何度もpanicさせない。
const webhookPathPrefix = "/webhook/"

// NewRecoveryMiddleware はハンドラー内のpanicを回収してログに残すミドルウェアを返す。
// コマンドAPIにはINTERNAL_ERRORを返し、Webhookには空の200を返す。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 内側のハンドラーが記録した参加者IDをここからも参照できるようにする
			r = r.WithContext(WithParticipantSlot(r.Context()))
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				attrs := []any{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				}
				if id, err := ParticipantIDFromContext(r.Context()); err == nil {
					attrs = append(attrs, slog.Int64("participant_id", id))
				}
				logger.Error("panic recovered", attrs...)

				if strings.HasPrefix(r.URL.Path, webhookPathPrefix) {
					w.WriteHeader(http.StatusOK)
					return
				}
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
