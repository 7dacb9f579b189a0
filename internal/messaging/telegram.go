package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultTelegramAPIURL はTelegram Bot APIのベースURL。
const DefaultTelegramAPIURL = "https://api.telegram.org"

// maxResponseSize はAPIレスポンスの読み取り上限。
const maxResponseSize = 1 << 20

// TelegramClient はTelegram Bot APIのsendMessageで通知を送るクライアント。
type TelegramClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	token      string
}

// NewTelegramClient はTelegramClientの新しいインスタンスを生成する。
// baseURLが空の場合はDefaultTelegramAPIURLを使用する。
func NewTelegramClient(httpClient *http.Client, logger *slog.Logger, baseURL, token string) *TelegramClient {
	if baseURL == "" {
		baseURL = DefaultTelegramAPIURL
	}
	return &TelegramClient{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Send はsendMessageを1回呼び出す。HTTPエラーまたはok=falseの場合はエラーを返す。
// トークンを含むURLはログやエラーに出さない。
func (c *TelegramClient) Send(ctx context.Context, recipientID int64, text string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                recipientID,
		Text:                  text,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	endpoint := c.baseURL + "/bot" + c.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.New("HTTPリクエストの作成に失敗しました")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "meetpair/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("sendMessageがタイムアウトしました: %w", ctxErr)
		}
		// *url.Errorはトークンを含むURLを持つため元のエラーは包まない
		return errors.New("sendMessageの呼び出しに失敗しました")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result apiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Error("Telegram APIのレスポンスのパースに失敗しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("Telegram APIがステータス %d を返しました", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK || !result.OK {
		return fmt.Errorf("Telegram APIがエラーを返しました: status=%d code=%d %s",
			resp.StatusCode, result.ErrorCode, result.Description)
	}
	return nil
}
