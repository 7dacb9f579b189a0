package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/meetpair/internal/config"
	"github.com/hitoshi/meetpair/internal/database"
	"github.com/hitoshi/meetpair/internal/handler"
	"github.com/hitoshi/meetpair/internal/logger"
	"github.com/hitoshi/meetpair/internal/metrics"
	"github.com/hitoshi/meetpair/internal/middleware"
	"github.com/hitoshi/meetpair/internal/repository"
	"github.com/hitoshi/meetpair/internal/topic"
)

// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, log, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映してロガーを作り直す
	log = logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("transport", cfg.Transport),
		slog.String("timezone", cfg.Location.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, log)
	case CommandMatch:
		return runMatch(ctx, cfg, log)
	case CommandReap:
		return runReap(ctx, cfg, log)
	default:
		return runServe(ctx, cfg, log)
	}
}

// openDB はDB接続を開いて疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// runServe はコマンド受付サーバーと定期ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("invalid serve config: %w", err)
	}
	if cfg.APIToken == "" {
		log.Warn("API_TOKEN is not set; /api endpoints will reject all requests")
	}

	db, err := openDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()
	store := repository.NewPostgresStore(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := wire(cfg, store, log, reg)

	seeded, err := c.Corpus.EnsureSeeded(ctx, topic.DefaultTopics)
	if err != nil {
		return fmt.Errorf("failed to seed topics: %w", err)
	}
	if seeded > 0 {
		log.Info("initial topics seeded", slog.Int("count", seeded))
	}

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitCommands), log)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         log,
		RateLimiter:    rateLimiter,
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),
		CommandService: c.Service,
		Sender:         c.Sender,
		WebhookSecret:  cfg.WebhookSecret,
		APIToken:       cfg.APIToken,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 定期ジョブはサーバーと同じコンテキストで停止する
	jobCtx, cancelJobs := context.WithCancel(ctx)
	defer cancelJobs()

	var wg sync.WaitGroup
	for _, tr := range c.triggers(cfg, log) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Start(jobCtx)
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("server listen error: %w", err)
		}
	}

	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("server shutdown failed: %w", err)
	}

	cancelJobs()
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	log.Info("API server stopped gracefully")
	return nil
}

// runMatch はマッチングを1回だけ実行し、通知を配信する。
// 外部スケジューラ（cronなど）から起動する場合に使う。
func runMatch(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := openDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()
	store := repository.NewPostgresStore(db)

	c := wire(cfg, store, log, prometheus.NewRegistry())
	if err := c.MatchJob.Run(ctx, time.Now()); err != nil {
		return fmt.Errorf("matching run failed: %w", err)
	}
	return nil
}

// runReap は非アクティブ参加者の削除を1回だけ実行する。
func runReap(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := openDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()
	store := repository.NewPostgresStore(db)

	c := wire(cfg, store, log, prometheus.NewRegistry())
	if err := c.Reaper.Run(ctx, time.Now()); err != nil {
		return fmt.Errorf("reap failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
