package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Cache
	CacheTTL time.Duration // シャード・組み立て済みXML・メタデータに一律で適用するTTL

	// Generation
	GenerateBatchSize int // フル生成のスキャンバッチサイズ

	// Worker
	WorkerConcurrency int           // タスク実行の最大並列数
	QueuePollInterval time.Duration // タスクキューのポーリング間隔
	TaskMaxAttempts   int           // タスクの最大試行回数

	// Watchdog
	GeneratingTimeout time.Duration // generating状態をerrorに降格するまでの経過時間
	WatchdogInterval  time.Duration // 監視ジョブの実行間隔

	// Rate Limit
	RateLimitAdmin int // 管理APIのレート制限（req/min/クライアントIP）

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", time.Hour)
	cfg.GenerateBatchSize = getEnvInt("GENERATE_BATCH_SIZE", 100)
	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 4)
	cfg.QueuePollInterval = getEnvDuration("QUEUE_POLL_INTERVAL", 5*time.Second)
	cfg.TaskMaxAttempts = getEnvInt("TASK_MAX_ATTEMPTS", 3)
	cfg.GeneratingTimeout = getEnvDuration("GENERATING_TIMEOUT", 30*time.Minute)
	cfg.WatchdogInterval = getEnvDuration("WATCHDOG_INTERVAL", 5*time.Minute)
	cfg.RateLimitAdmin = getEnvInt("RATE_LIMIT_ADMIN", 60)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
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
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
