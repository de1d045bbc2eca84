package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/cheshire"
	"github.com/Skufu/GeneLens/internal/dataset"
	"github.com/Skufu/GeneLens/internal/features"
	"github.com/Skufu/GeneLens/internal/genenames"
	"github.com/Skufu/GeneLens/internal/history"
	"github.com/Skufu/GeneLens/internal/model"
	_ "github.com/Skufu/GeneLens/internal/model/cbm"
	_ "github.com/Skufu/GeneLens/internal/model/onnx"
	"github.com/Skufu/GeneLens/internal/predict"
	"github.com/Skufu/GeneLens/internal/pubmed"
	"github.com/Skufu/GeneLens/internal/ratelimit"
)

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Port             string
	DatabaseURL      string
	EnableDB         bool
	ModelPath        string
	ModelMetaPath    string
	OnnxRuntimeLib   string
	BaseDir          string
	PlaceholderDir   string
	UploadDir        string
	MaxContentLength int64
	TopFeatures      int
	AlignStrict      bool
	RateLimitBackend string
	CheshireURL      string
	PubMedCacheDir   string
	PubMedUserAgent  string
}

func main() {
	gin.SetMode(getEnv("GIN_MODE", "release"))

	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	ctx := context.Background()
	var (
		db   HealthChecker
		pool *pgxpool.Pool
	)
	var store ratelimit.Store = ratelimit.NewMemoryStore()
	var rec history.Recorder = history.Nop{}
	if cfg.EnableDB {
		pool, err = connectDB(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()
		db = pool

		hs := history.NewPostgresStore(pool)
		if err := hs.Migrate(ctx); err != nil {
			logger.Fatal("history migration failed", zap.Error(err))
		}
		rec = hs
	}
	if cfg.RateLimitBackend == "postgres" {
		if pool == nil {
			logger.Fatal("RATE_LIMIT_BACKEND=postgres requires ENABLE_DB=true")
		}
		ps := ratelimit.NewPostgresStore(pool)
		if err := ps.Migrate(ctx); err != nil {
			logger.Fatal("rate limit migration failed", zap.Error(err))
		}
		store = ps
	}

	clf, err := model.Load(cfg.ModelPath, model.Options{
		MetaPath:   cfg.ModelMetaPath,
		RuntimeLib: cfg.OnnxRuntimeLib,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("model load failed", zap.String("path", cfg.ModelPath), zap.Error(err))
	}
	defer model.Close(clf)
	logger.Info("model loaded", zap.String("path", cfg.ModelPath), zap.Int("features", clf.FeatureCount()))

	pubmedOpts := []pubmed.Option{pubmed.WithUserAgent(cfg.PubMedUserAgent), pubmed.WithLogger(logger)}
	if cfg.PubMedCacheDir != "" {
		cache, err := pubmed.OpenCache(cfg.PubMedCacheDir)
		if err != nil {
			logger.Fatal("pubmed cache", zap.Error(err))
		}
		defer cache.Close()
		pubmedOpts = append(pubmedOpts, pubmed.WithCache(cache))
	}

	cat := cheshire.NewClient(cfg.CheshireURL, cheshire.WithUserAgent(cfg.PubMedUserAgent), cheshire.WithLogger(logger))
	if !cat.Ping(ctx) {
		logger.Warn("cheshire cat not reachable at startup", zap.String("url", cat.URL()))
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		logger.Fatal("upload folder", zap.Error(err))
	}

	predictor := predict.New(clf,
		predict.WithLogger(logger),
		predict.WithAligner(features.NewAligner(features.Strict(cfg.AlignStrict), features.WithLogger(logger))),
		predict.WithMapper(genenames.NewMapper(logger)),
	)
	srv := &server{
		cfg:       cfg,
		db:        db,
		logger:    logger,
		assembler: dataset.NewAssembler(cfg.PlaceholderDir, dataset.WithLogger(logger)),
		predictor: predictor,
		history:   rec,
		limits:    store,
		pubmed:    pubmed.NewClient(pubmedOpts...),
		cheshire:  cat,
	}

	router := setupRouter(srv, detectStaticRoot())
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("server listening", zap.String("port", cfg.Port))
	waitForShutdown(httpServer, logger)
}

func newLogger() (*zap.Logger, error) {
	if gin.Mode() == gin.ReleaseMode {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func loadConfig() (*Config, error) {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		EnableDB:         strings.EqualFold(getEnv("ENABLE_DB", "false"), "true"),
		ModelPath:        getEnv("MODEL_PATH", filepath.Join("assets", "catboost.json")),
		ModelMetaPath:    os.Getenv("MODEL_META_PATH"),
		OnnxRuntimeLib:   os.Getenv("ONNXRUNTIME_LIB"),
		BaseDir:          getEnv("BASE_DIR", wd),
		PlaceholderDir:   getEnv("PLACEHOLDER_DIR", filepath.Join("assets", "data")),
		UploadDir:        getEnv("UPLOAD_FOLDER", "uploads"),
		AlignStrict:      strings.EqualFold(getEnv("ALIGN_STRICT", "false"), "true"),
		RateLimitBackend: strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "memory")),
		CheshireURL:      getEnv("CHESHIRE_CAT_URL", cheshire.DefaultURL),
		PubMedCacheDir:   os.Getenv("PUBMED_CACHE_DIR"),
		PubMedUserAgent:  getEnv("PUBMED_USER_AGENT", pubmed.DefaultUserAgent),
	}

	if cfg.EnableDB && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when ENABLE_DB=true")
	}

	cfg.MaxContentLength, err = strconv.ParseInt(getEnv("MAX_CONTENT_LENGTH", strconv.Itoa(500<<20)), 10, 64)
	if err != nil || cfg.MaxContentLength <= 0 {
		return nil, fmt.Errorf("MAX_CONTENT_LENGTH must be a positive byte count")
	}
	cfg.TopFeatures, err = strconv.Atoi(getEnv("TOP_FEATURES", strconv.Itoa(predict.DefaultTopK)))
	if err != nil || cfg.TopFeatures <= 0 {
		return nil, fmt.Errorf("TOP_FEATURES must be a positive integer")
	}
	switch cfg.RateLimitBackend {
	case "memory", "postgres":
	default:
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND must be memory or postgres, got %q", cfg.RateLimitBackend)
	}

	return cfg, nil
}

func connectDB(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

func waitForShutdown(server *http.Server, logger *zap.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func detectStaticRoot() string {
	startDir, err := os.Getwd()
	if err != nil {
		return "."
	}

	candidates := []string{
		startDir,
		filepath.Join(startDir, "web"),
		filepath.Dir(startDir),
		filepath.Dir(filepath.Dir(startDir)),
	}

	for _, dir := range candidates {
		if fileExists(filepath.Join(dir, "index.html")) {
			return dir
		}
	}

	return startDir
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
