package topic

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/meetpair/internal/model"
	"github.com/hitoshi/meetpair/internal/repository"
)

// maxImportItems は1回の取り込みで追加する最大件数。
const maxImportItems = 100

// URLGuard はSSRF検証のインターフェース。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// Importer はRSS/Atomフィードの記事タイトルをトピックとして取り込む。
// 運営者のみが実行する。
type Importer struct {
	corpus      *Corpus
	store       repository.Store
	guard       URLGuard
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewImporter はImporterの新しいインスタンスを生成する。
func NewImporter(
	corpus *Corpus,
	store repository.Store,
	guard URLGuard,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
) *Importer {
	return &Importer{
		corpus:      corpus,
		store:       store,
		guard:       guard,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// ImportFeed はフィードURLを取得してパースし、空でない記事タイトルを
// 1トランザクションで追加する。追加した件数を返す。
// HTMLページのURLが渡された場合はhead内のフィードリンクを1回だけ辿る。
func (im *Importer) ImportFeed(ctx context.Context, feedURL string, importedBy int64) (int, error) {
	start := time.Now()

	client := im.guard.NewSafeClient(im.timeout)
	body, contentType, err := im.fetch(ctx, client, feedURL)
	if err != nil {
		return 0, err
	}

	if isHTML(contentType) {
		discovered, ok := discoverFeedLink(body, feedURL)
		if !ok {
			return 0, model.NewImportFailedError("ページ内にフィードが見つかりませんでした")
		}
		im.logger.Info("HTMLページからフィードを検出しました",
			slog.String("page_url", feedURL),
			slog.String("feed_url", discovered),
		)
		feedURL = discovered
		if body, _, err = im.fetch(ctx, client, feedURL); err != nil {
			return 0, err
		}
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		im.logger.Warn("フィードのパースに失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return 0, model.NewImportFailedError("RSS/Atomとして解釈できませんでした")
	}

	var added int
	err = im.store.Update(ctx, func(tx repository.Tx) error {
		added = 0
		for _, item := range parsed.Items {
			if added >= maxImportItems {
				break
			}
			if item == nil {
				continue
			}
			if _, err := im.corpus.AppendTx(ctx, tx, item.Title, importedBy); err != nil {
				// 空・長すぎるタイトルは読み飛ばす
				if _, ok := err.(*model.APIError); ok {
					continue
				}
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("取り込んだトピックの保存に失敗しました: %w", err)
	}

	im.logger.Info("フィードからトピックを取り込みました",
		slog.String("feed_url", feedURL),
		slog.Int("added_count", added),
		slog.Int("item_count", len(parsed.Items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return added, nil
}

// fetch はSSRF検証済みのURLを取得し、サイズ上限までのボディとContent-Typeを返す。
func (im *Importer) fetch(ctx context.Context, client *http.Client, rawURL string) ([]byte, string, error) {
	if err := im.guard.ValidateURL(rawURL); err != nil {
		return nil, "", model.NewInvalidURLError(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", "meetpair/1.0 topic importer")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html, */*")

	resp, err := client.Do(req)
	if err != nil {
		im.logger.Warn("トピック取り込みのHTTPリクエストに失敗しました",
			slog.String("feed_url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, "", model.NewImportFailedError("フィードを取得できませんでした")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", model.NewImportFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, im.maxBodySize))
	if err != nil {
		return nil, "", model.NewImportFailedError("レスポンスを読み取れませんでした")
	}
	return body, resp.Header.Get("Content-Type"), nil
}
