// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/shopfeed/internal/cache"
	"github.com/hitoshi/shopfeed/internal/config"
	"github.com/hitoshi/shopfeed/internal/database"
	"github.com/hitoshi/shopfeed/internal/feed"
	"github.com/hitoshi/shopfeed/internal/handler"
	"github.com/hitoshi/shopfeed/internal/logger"
	"github.com/hitoshi/shopfeed/internal/metrics"
	"github.com/hitoshi/shopfeed/internal/middleware"
	"github.com/hitoshi/shopfeed/internal/normalize"
	"github.com/hitoshi/shopfeed/internal/repository"
	"github.com/hitoshi/shopfeed/internal/shard"
	"github.com/hitoshi/shopfeed/internal/worker/queue"
	"github.com/hitoshi/shopfeed/internal/worker/watchdog"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
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

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	kvStore := repository.NewPostgresKVStore(db)
	siteRepo := repository.NewPostgresSiteRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. キャッシュとフィードサービスの初期化
	feedCache := cache.New(kvStore, cfg.CacheTTL, shard.Count)
	assembler := feed.NewAssembler(feedCache, slog.Default())
	feedService := feed.NewService(feedCache, siteRepo, taskRepo, assembler, collector, slog.Default())

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitAdmin))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		FeedService:  feedService,
		AdminService: feedService,
		RateLimiter:  rateLimiter,
		Metrics:      collector,
		MetricsHTTP:  metrics.Handler(registry),
		DB:           db,
		Logger:       slog.Default(),
		CacheTTL:     cfg.CacheTTL,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、タスクワーカーと生成状態の監視ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	kvStore := repository.NewPostgresKVStore(db)
	siteRepo := repository.NewPostgresSiteRepo(db)
	catalogRepo := repository.NewPostgresCatalogRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 生成パイプラインの初期化
	feedCache := cache.New(kvStore, cfg.CacheTTL, shard.Count)
	normalizer := normalize.New(normalize.FieldMappings{}, slog.Default())
	assembler := feed.NewAssembler(feedCache, slog.Default())
	generateJob := feed.NewGenerateJob(
		feedCache, siteRepo, catalogRepo, normalizer, assembler,
		collector, slog.Default(), cfg.GenerateBatchSize,
	)
	regenerateJob := feed.NewRegenerateJob(
		feedCache, siteRepo, catalogRepo, normalizer,
		collector, slog.Default(),
	)

	// 5. タスクワーカーの初期化
	runner := queue.NewRunner(
		taskRepo, generateJob, regenerateJob,
		collector, slog.Default(), cfg.WorkerConcurrency, cfg.TaskMaxAttempts,
	)

	// 6. 監視ジョブの初期化
	dog := watchdog.New(feedCache, siteRepo, kvStore, slog.Default(), cfg.GeneratingTimeout)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("poll_interval", cfg.QueuePollInterval),
		slog.Int("max_concurrency", cfg.WorkerConcurrency),
	)

	// 監視ジョブをバックグラウンドで起動
	go dog.Start(ctx, cfg.WatchdogInterval)

	// タスクワーカーをメインgoroutineで実行（ブロッキング）
	runner.Start(ctx, cfg.QueuePollInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
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
