package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/meetpair/internal/model"
)

// ErrorResponseBody はコマンドAPIが返すエラーのJSON本体。
// Webhook経由の利用者には本体ではなくTelegramの返信文で同じ内容を伝える。
type ErrorResponseBody struct {
	Code     string `json:"code"`     // 例: THROTTLE_ACTIVE, NOT_REGISTERED
	Message  string `json:"message"`  // 参加者向けの説明
	Category string `json:"category"` // participant, topic, auth, validation, system
	Action   string `json:"action"`   // 参加者が次に取れる操作
}

// WriteErrorResponse はAPIErrorをstatusCodeとともにJSONで書き込む。
// 提案クールダウンやレート制限のようにRetryAfterを持つエラーでは、
// 残り時間をRetry-Afterヘッダーにも載せる。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if secs := retryAfterSeconds(apiErr.RetryAfter); secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// retryAfterSeconds は待ち時間を秒に切り上げる。1秒未満の残りも1秒として扱う。
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// WriteInternalServerError はストア障害やpanicなど参加者に原因のない失敗を500で返す。
// 原因はログにだけ残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
