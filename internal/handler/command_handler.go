package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/meetpair/internal/command"
	"github.com/hitoshi/meetpair/internal/middleware"
	"github.com/hitoshi/meetpair/internal/model"
)

// CommandServiceInterface はハンドラーが必要とするコマンド処理サービスのインターフェース。
type CommandServiceInterface interface {
	// Handle はコマンドを1件処理し、参加者への応答を返す。
	Handle(ctx context.Context, cmd command.Command) (command.Reply, error)
	// Leaderboard は表示名付きのランキングを返す。
	Leaderboard(ctx context.Context) ([]command.LeaderboardEntry, error)
	// Topics は表示上限までのトピック一覧を返す。
	Topics(ctx context.Context) ([]model.Topic, error)
}

// CommandHandler はJSONコマンドAPIと参照系APIのHTTPハンドラー。
type CommandHandler struct {
	service CommandServiceInterface
	logger  *slog.Logger
}

// NewCommandHandler はCommandHandlerを生成する。
func NewCommandHandler(service CommandServiceInterface, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{
		service: service,
		logger:  logger,
	}
}

// commandRequest はコマンドAPIのリクエストボディ。
type commandRequest struct {
	Verb          string `json:"verb"`
	ParticipantID int64  `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Argument      string `json:"argument"`
}

// commandResponse はコマンドAPIのレスポンス。
type commandResponse struct {
	Text string `json:"text"`
}

// leaderboardEntryResponse はランキング1行のAPIレスポンス。
type leaderboardEntryResponse struct {
	Rank            int    `json:"rank"`
	ParticipantID   int64  `json:"participant_id"`
	DisplayName     string `json:"display_name"`
	CyclesMatched   int    `json:"cycles_matched"`
	TopicsSuggested int    `json:"topics_suggested"`
}

// topicResponse はトピックのAPIレスポンス。
type topicResponse struct {
	ID          int64     `json:"id"`
	Text        string    `json:"text"`
	SuggestedBy int64     `json:"suggested_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PostCommand はJSON形式のコマンドを処理する。
// POST /api/commands
func (h *CommandHandler) PostCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}
	if req.ParticipantID == 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "participant_idが指定されていません。",
			Category: "validation",
			Action:   "参加者IDを指定してください。",
		})
		return
	}
	middleware.SetParticipantID(r.Context(), req.ParticipantID)

	verb, err := command.ParseVerb(req.Verb)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	reply, err := h.service.Handle(r.Context(), command.Command{
		Verb:          verb,
		ParticipantID: req.ParticipantID,
		DisplayName:   req.DisplayName,
		Argument:      req.Argument,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, commandResponse{Text: reply.Text})
}

// GetLeaderboard はランキングを返す。
// GET /api/leaderboard
func (h *CommandHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Leaderboard(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := make([]leaderboardEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = leaderboardEntryResponse{
			Rank:            i + 1,
			ParticipantID:   e.ParticipantID,
			DisplayName:     e.DisplayName,
			CyclesMatched:   e.CyclesMatched,
			TopicsSuggested: e.TopicsSuggested,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": resp})
}

// GetTopics はトピック一覧を返す。
// GET /api/topics
func (h *CommandHandler) GetTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.service.Topics(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := make([]topicResponse, len(topics))
	for i, t := range topics {
		resp[i] = topicResponse{
			ID:          t.ID,
			Text:        t.Text,
			SuggestedBy: t.SuggestedBy,
			CreatedAt:   t.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": resp})
}

// participantFromCommandBody はレート制限用にコマンドAPIのボディから参加者IDを読み取る。
func participantFromCommandBody(r *http.Request) (int64, bool) {
	var req commandRequest
	if err := middleware.PeekJSONBody(r, &req); err != nil || req.ParticipantID == 0 {
		return 0, false
	}
	return req.ParticipantID, true
}

// --- ヘルパー関数 ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func invalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}
