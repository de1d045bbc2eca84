package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/cheshire"
	"github.com/Skufu/GeneLens/internal/dataset"
	"github.com/Skufu/GeneLens/internal/history"
	"github.com/Skufu/GeneLens/internal/predict"
	"github.com/Skufu/GeneLens/internal/pubmed"
	"github.com/Skufu/GeneLens/internal/ratelimit"
)

// Literature is the PubMed surface the handlers use.
type Literature interface {
	Search(ctx context.Context, gene string, maxResults int) ([]string, error)
	Fetch(ctx context.Context, pmids []string) ([]pubmed.Article, error)
}

// Assistant is the Cheshire Cat surface the handlers use.
type Assistant interface {
	URL() string
	Ping(ctx context.Context) bool
	Upload(ctx context.Context, articles []pubmed.Article) (cheshire.UploadResult, error)
	Ask(ctx context.Context, question string) (string, error)
}

type server struct {
	cfg       *Config
	db        HealthChecker
	logger    *zap.Logger
	assembler *dataset.Assembler
	predictor *predict.Predictor
	history   history.Recorder
	limits    ratelimit.Store
	pubmed    Literature
	cheshire  Assistant
}

func setupRouter(s *server, staticRoot string) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Logger(),
		gin.Recovery(),
		limitBodySize(s.cfg.MaxContentLength),
		cors.New(cors.Config{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}),
	)

	// Optional frontend.
	router.Static("/static", staticRoot)
	router.StaticFile("/", filepath.Join(staticRoot, "index.html"))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", s.readyz)
	router.GET("/health", s.health)

	limit := func(rule ratelimit.Rule) gin.HandlerFunc {
		return ratelimit.Middleware(s.limits, rule, s.logger)
	}

	router.POST("/api/predict", limit(ratelimit.Predict), s.predict)
	router.POST("/predict", limit(ratelimit.Predict), s.predict)
	router.GET("/api/predictions", s.predictions)

	router.POST("/search_gene", limit(ratelimit.SearchGene), s.searchGene)
	router.POST("/ask_question", limit(ratelimit.AskQuestion), s.askQuestion)
	router.POST("/download_abstracts", limit(ratelimit.Download), s.downloadAbstracts)
	router.POST("/api/gene_analysis", limit(ratelimit.GeneAnalysis), s.geneAnalysis)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
	})

	return router
}

func (s *server) readyz(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"db":     fmt.Sprintf("unhealthy: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "ok"})
}

// health reports Cheshire Cat connectivity.
func (s *server) health(c *gin.Context) {
	status, cat := "healthy", "connected"
	if !s.cheshire.Ping(c.Request.Context()) {
		status, cat = "degraded", "disconnected"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"cheshire_cat": cat,
		"timestamp":    time.Now().Format(time.RFC3339),
	})
}

func limitBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
