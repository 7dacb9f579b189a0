package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/meetpair/internal/middleware"
	"github.com/hitoshi/meetpair/internal/model"
)

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	if errors.Is(err, model.ErrStoreUnavailable) {
		logger.Error("store unavailable", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Code:     "STORE_UNAVAILABLE",
			Message:  "データの保存先に接続できません。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		})
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNotRegistered:
		return http.StatusNotFound
	case model.ErrCodeEmptyTopic, model.ErrCodeTopicTooLong, model.ErrCodeProfileTooLong,
		model.ErrCodeInvalidCommand, model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeThrottleActive:
		return http.StatusTooManyRequests
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeEmptyCorpus:
		return http.StatusConflict
	case model.ErrCodeImportFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
