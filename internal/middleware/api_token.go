package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/hitoshi/meetpair/internal/model"
)

// NewAPITokenMiddleware は Authorization: Bearer <token> を検証するミドルウェアを返す。
// participant_idを信頼してよいのはこのトークンを持つ呼び出し元だけとする。
// tokenが空の場合はすべてのリクエストを拒否する。
func NewAPITokenMiddleware(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     "UNAUTHORIZED",
					Message:  "コマンドAPIは無効です。",
					Category: "auth",
					Action:   "API_TOKENを設定してください。",
				})
				return
			}

			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="meetpair"`)
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     "UNAUTHORIZED",
					Message:  "APIトークンが正しくありません。",
					Category: "auth",
					Action:   "Authorizationヘッダーに正しいトークンを指定してください。",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
