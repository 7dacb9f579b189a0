package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/meetpair/internal/worker/scheduler"
)

// 通知の送信方式
const (
	TransportTelegram = "telegram"
	TransportLog      = "log"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Transport
	Transport      string
	BotToken       string
	TelegramAPIURL string
	WebhookSecret  string

	// Command API
	APIToken string

	// Operator
	OperatorID int64

	// Server
	ServerPort string

	// Schedule
	Location        *time.Location
	MatchWeekday    time.Weekday
	MatchHour       int
	ReapHour        int
	MatchRetryDelay time.Duration

	// Domain
	RetentionWindow    time.Duration
	SuggestionCooldown time.Duration
	TopicDisplayCap    int
	LeaderboardSize    int
	MeetBaseURL        string

	// Delivery
	DeliveryTimeout       time.Duration
	DeliveryMaxConcurrent int

	// Rate Limit
	RateLimitCommands int

	// Topic import
	TopicImportTimeout time.Duration
	TopicImportMaxSize int64

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// ENV_FILE（デフォルト .env）が存在する場合は先に読み込む。既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合、またはTIMEZONE・MATCH_WEEKDAYが不正な場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadEnvFile(getEnvString("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.Transport = strings.ToLower(getEnvString("TRANSPORT", TransportTelegram))
	if cfg.Transport != TransportTelegram && cfg.Transport != TransportLog {
		cfg.Transport = TransportTelegram
	}

	cfg.BotToken = os.Getenv("BOT_TOKEN")
	if cfg.Transport == TransportTelegram && cfg.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Schedule
	loc, err := time.LoadLocation(getEnvString("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	weekday, err := scheduler.ParseWeekday(getEnvString("MATCH_WEEKDAY", "thursday"))
	if err != nil {
		return nil, fmt.Errorf("invalid MATCH_WEEKDAY: %w", err)
	}
	cfg.MatchWeekday = weekday

	// Optional fields with defaults
	cfg.TelegramAPIURL = getEnvString("TELEGRAM_API_URL", "https://api.telegram.org")
	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	cfg.APIToken = os.Getenv("API_TOKEN")
	cfg.OperatorID = getEnvInt64("OPERATOR_ID", 0)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MatchHour = getEnvHour("MATCH_HOUR", 12)
	cfg.ReapHour = getEnvHour("REAP_HOUR", 3)
	cfg.MatchRetryDelay = getEnvDuration("MATCH_RETRY_DELAY", 15*time.Minute)
	cfg.RetentionWindow = getEnvDuration("RETENTION_WINDOW", 720*time.Hour)
	cfg.SuggestionCooldown = getEnvDuration("SUGGESTION_COOLDOWN", 168*time.Hour)
	cfg.TopicDisplayCap = getEnvInt("TOPIC_DISPLAY_CAP", 20)
	cfg.LeaderboardSize = getEnvInt("LEADERBOARD_SIZE", 10)
	cfg.MeetBaseURL = getEnvString("MEET_BASE_URL", "https://meet.google.com/lookup/")
	cfg.DeliveryTimeout = getEnvDuration("DELIVERY_TIMEOUT", 10*time.Second)
	cfg.DeliveryMaxConcurrent = getEnvInt("DELIVERY_MAX_CONCURRENT", 10)
	cfg.RateLimitCommands = getEnvInt("RATE_LIMIT_COMMANDS", 30)
	cfg.TopicImportTimeout = getEnvDuration("TOPIC_IMPORT_TIMEOUT", 10*time.Second)
	cfg.TopicImportMaxSize = getEnvInt64("TOPIC_IMPORT_MAX_SIZE", 5242880)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// ValidateServe はserveモードで起動してよい設定かを検証する。
// Telegram経由で受け付ける場合、WEBHOOK_SECRETが空だと誰でも任意の参加者として
// コマンドを送れるため起動を拒否する。
func (c *Config) ValidateServe() error {
	if c.Transport == TransportTelegram && c.WebhookSecret == "" {
		return errors.New("WEBHOOK_SECRET is required when TRANSPORT=telegram")
	}
	return nil
}

// loadEnvFile は.envファイルを読み込む。ファイルが存在しない場合は何もしない。
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}

// getEnvHour は0〜23の時刻を読み込む。範囲外はデフォルト値にする。
func getEnvHour(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	h, err := strconv.Atoi(v)
	if err != nil || h < 0 || h > 23 {
		return defaultVal
	}
	return h
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
