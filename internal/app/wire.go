package app

import (
	"log/slog"
	"math/rand/v2"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/meetpair/internal/command"
	"github.com/hitoshi/meetpair/internal/config"
	"github.com/hitoshi/meetpair/internal/matching"
	"github.com/hitoshi/meetpair/internal/messaging"
	"github.com/hitoshi/meetpair/internal/metrics"
	"github.com/hitoshi/meetpair/internal/participant"
	"github.com/hitoshi/meetpair/internal/repository"
	"github.com/hitoshi/meetpair/internal/security"
	"github.com/hitoshi/meetpair/internal/stats"
	"github.com/hitoshi/meetpair/internal/throttle"
	"github.com/hitoshi/meetpair/internal/topic"
	"github.com/hitoshi/meetpair/internal/worker/reaper"
	"github.com/hitoshi/meetpair/internal/worker/scheduler"
)

// components は永続化層の上に組み立てたアプリケーションの部品一式。
type components struct {
	Metrics  *metrics.Collector
	Registry *participant.Registry
	Ledger   *stats.Ledger
	Corpus   *topic.Corpus
	Service  *command.Service
	Engine   *matching.Engine
	Sender   messaging.Sender
	MatchJob *scheduler.MatchJob
	Reaper   *reaper.Reaper
}

// wire は設定とストアから全ドメインサービスを組み立てる。
// storeにはPostgresStoreを渡すが、テストではMemoryStoreでもよい。
func wire(cfg *config.Config, store repository.Store, logger *slog.Logger, reg prometheus.Registerer) *components {
	collector := metrics.NewCollector(reg)

	// 1. セキュリティ
	sanitizer := security.NewTextSanitizer()
	urlGuard := security.NewURLGuard()

	// 2. ドメインサービス
	registry := participant.NewRegistry(store, sanitizer, logger)
	ledger := stats.NewLedger(store)
	th := throttle.NewThrottle(store, cfg.SuggestionCooldown)
	corpus := topic.NewCorpus(store, sanitizer, newRand(), cfg.TopicDisplayCap)
	importer := topic.NewImporter(corpus, store, urlGuard, logger, cfg.TopicImportTimeout, cfg.TopicImportMaxSize)

	service := command.NewService(store, registry, ledger, th, corpus, importer, collector, command.Config{
		OperatorID:      cfg.OperatorID,
		LeaderboardSize: cfg.LeaderboardSize,
	})

	// 3. マッチングと通知配信
	engine := matching.NewEngine(registry, ledger, corpus, newRand(), matching.NewLinkGenerator(cfg.MeetBaseURL), logger)
	sender := newSender(cfg, logger)
	dispatcher := scheduler.NewDispatcher(sender, collector, logger, cfg.DeliveryTimeout, cfg.DeliveryMaxConcurrent)
	matchJob := scheduler.NewMatchJob(engine, dispatcher, collector, logger)

	// 4. 非アクティブ参加者の削除
	rp := reaper.NewReaper(registry, collector, logger, cfg.RetentionWindow)

	return &components{
		Metrics:  collector,
		Registry: registry,
		Ledger:   ledger,
		Corpus:   corpus,
		Service:  service,
		Engine:   engine,
		Sender:   sender,
		MatchJob: matchJob,
		Reaper:   rp,
	}
}

// newSender はTRANSPORTに応じた通知送信クライアントを返す。
func newSender(cfg *config.Config, logger *slog.Logger) messaging.Sender {
	if cfg.Transport == config.TransportLog {
		return messaging.NewLogSender(logger)
	}
	httpClient := &http.Client{Timeout: cfg.DeliveryTimeout}
	return messaging.NewTelegramClient(httpClient, logger, cfg.TelegramAPIURL, cfg.BotToken)
}

// newRand はプロセスごとに異なるシードのPCG乱数源を返す。
func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// triggers は週次マッチングと日次削除のトリガーを返す。
func (c *components) triggers(cfg *config.Config, logger *slog.Logger) []*scheduler.Trigger {
	return []*scheduler.Trigger{
		scheduler.NewTrigger("weekly-matching",
			scheduler.Weekly{Weekday: cfg.MatchWeekday, Hour: cfg.MatchHour, Location: cfg.Location},
			c.MatchJob.Run, cfg.MatchRetryDelay, logger),
		scheduler.NewTrigger("daily-reaping",
			scheduler.Daily{Hour: cfg.ReapHour, Location: cfg.Location},
			c.Reaper.Run, cfg.MatchRetryDelay, logger),
	}
}
