package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/meetpair/internal/command"
	"github.com/hitoshi/meetpair/internal/messaging"
	"github.com/hitoshi/meetpair/internal/middleware"
	"github.com/hitoshi/meetpair/internal/model"
)

// telegramSecretHeader はsetWebhookで登録したシークレットが送られてくるヘッダー。
const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// telegramUpdate はTelegram Bot APIのUpdateのうち、コマンド処理に必要な部分。
type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int64         `json:"message_id"`
	From      *telegramUser `json:"from"`
	Chat      telegramChat  `json:"chat"`
	Text      string        `json:"text"`
}

type telegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type telegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// displayName はusernameを優先し、なければfirst_nameを返す。
func (u *telegramUser) displayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

// WebhookHandler はTelegramのWebhookを受け取り、スラッシュコマンドを処理して応答を送信する。
type WebhookHandler struct {
	service CommandServiceInterface
	sender  messaging.Sender
	secret  string
	logger  *slog.Logger
}

// NewWebhookHandler はWebhookHandlerを生成する。secretが空の場合はヘッダー検証を行わない。
func NewWebhookHandler(service CommandServiceInterface, sender messaging.Sender, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		sender:  sender,
		secret:  secret,
		logger:  logger,
	}
}

// HandleTelegram はTelegramからのUpdateを処理する。
// 処理結果に関わらず200を返し、Telegram側の再送を防ぐ。
// POST /webhook/telegram
func (h *WebhookHandler) HandleTelegram(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
				Code:     "UNAUTHORIZED",
				Message:  "Webhookのシークレットが一致しません。",
				Category: "auth",
				Action:   "setWebhookのsecret_tokenを確認してください。",
			})
			return
		}
	}

	var update telegramUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot || msg.Text == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	middleware.SetParticipantID(r.Context(), msg.From.ID)

	text := h.process(r, msg)

	chatID := msg.Chat.ID
	if chatID == 0 {
		chatID = msg.From.ID
	}
	if err := h.sender.Send(r.Context(), chatID, text); err != nil {
		h.logger.Error("コマンド応答の送信に失敗しました",
			slog.Int64("participant_id", msg.From.ID),
			slog.String("error", err.Error()),
		)
	}

	w.WriteHeader(http.StatusOK)
}

// process はメッセージをコマンドとして解釈して実行し、応答文を返す。
func (h *WebhookHandler) process(r *http.Request, msg *telegramMessage) string {
	verb, arg, err := command.ParseText(msg.Text)
	if err != nil {
		return command.ErrorText(err)
	}

	reply, err := h.service.Handle(r.Context(), command.Command{
		Verb:          verb,
		ParticipantID: msg.From.ID,
		DisplayName:   msg.From.displayName(),
		Argument:      arg,
	})
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			h.logger.Error("コマンドの処理に失敗しました",
				slog.String("verb", string(verb)),
				slog.Int64("participant_id", msg.From.ID),
				slog.String("error", err.Error()),
			)
		}
		return command.ErrorText(err)
	}
	return reply.Text
}

// participantFromTelegramUpdate はレート制限用にUpdateの送信者IDを読み取る。
func participantFromTelegramUpdate(r *http.Request) (int64, bool) {
	var update telegramUpdate
	if err := middleware.PeekJSONBody(r, &update); err != nil {
		return 0, false
	}
	if update.Message == nil || update.Message.From == nil || update.Message.From.ID == 0 {
		return 0, false
	}
	return update.Message.From.ID, true
}
