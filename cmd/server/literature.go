package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/cheshire"
	"github.com/Skufu/GeneLens/internal/pubmed"
	"github.com/Skufu/GeneLens/internal/report"
)

const (
	defaultSearchResults = 50
	downloadResults      = 100
	analysisResults      = 5
	maxQuestionLength    = 1000
)

type geneRequest struct {
	GeneName   string `json:"gene_name"`
	MaxResults int    `json:"max_results"`
}

type questionRequest struct {
	Question string `json:"question"`
}

func bindGene(c *gin.Context) (geneRequest, bool) {
	var req geneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON data"})
		return req, false
	}
	req.GeneName = strings.TrimSpace(req.GeneName)
	if req.GeneName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Gene name is required"})
		return req, false
	}
	if err := pubmed.ValidateGeneName(req.GeneName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	return req, true
}

// articlesFor searches and fetches; it writes the error response itself and
// reports whether the caller should continue.
func (s *server) articlesFor(c *gin.Context, gene string, maxResults int) ([]pubmed.Article, bool) {
	ctx := c.Request.Context()
	pmids, err := s.pubmed.Search(ctx, gene, maxResults)
	if err != nil {
		if errors.Is(err, pubmed.ErrInvalidGeneName) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return nil, false
		}
		s.logger.Error("pubmed search failed", zap.String("gene", gene), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "PubMed search failed", "gene_analyzed": gene})
		return nil, false
	}
	if len(pmids) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No articles found for gene: " + gene, "gene_analyzed": gene})
		return nil, false
	}
	articles, err := s.pubmed.Fetch(ctx, pmids)
	if err != nil || len(articles) == 0 {
		s.logger.Error("pubmed fetch failed", zap.String("gene", gene), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch abstracts from PubMed", "gene_analyzed": gene})
		return nil, false
	}
	return articles, true
}

func (s *server) searchGene(c *gin.Context) {
	req, ok := bindGene(c)
	if !ok {
		return
	}
	if req.MaxResults <= 0 {
		req.MaxResults = defaultSearchResults
	}
	req.MaxResults = min(req.MaxResults, pubmed.MaxResults)

	articles, ok := s.articlesFor(c, req.GeneName, req.MaxResults)
	if !ok {
		return
	}

	up, err := s.cheshire.Upload(c.Request.Context(), articles)
	if err != nil {
		s.logger.Warn("upload to cheshire cat failed", zap.String("gene", req.GeneName), zap.Error(err))
		up.Failed = make([]string, len(articles))
		for i, a := range articles {
			up.Failed[i] = a.PMID
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"gene_name":      req.GeneName,
		"total_articles": len(articles),
		"uploaded_count": up.Uploaded,
		"failed_count":   len(up.Failed),
		"articles":       articles,
	})
}

func (s *server) askQuestion(c *gin.Context) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON data"})
		return
	}
	q := strings.TrimSpace(req.Question)
	switch {
	case q == "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "Question is required"})
		return
	case len([]rune(q)) > maxQuestionLength:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Question too long (max %d characters)", maxQuestionLength)})
		return
	}

	answer, err := s.cheshire.Ask(c.Request.Context(), q)
	if err != nil {
		s.logger.Error("ask failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, cheshire.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "Failed to get response from Cheshire Cat"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"question":  q,
		"answer":    answer,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *server) downloadAbstracts(c *gin.Context) {
	req, ok := bindGene(c)
	if !ok {
		return
	}
	articles, ok := s.articlesFor(c, req.GeneName, downloadResults)
	if !ok {
		return
	}

	now := time.Now()
	var buf bytes.Buffer
	if err := report.WriteAbstracts(&buf, req.GeneName, articles, now); err != nil {
		s.logger.Error("building abstracts archive failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create download file"})
		return
	}
	name := fmt.Sprintf("%s_abstracts_%s.zip", req.GeneName, now.Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

func analysisQuestion(gene string) string {
	return fmt.Sprintf("Based on the uploaded documents, what is the role and function of the %s gene in cancer and disease? "+
		"Please provide a detailed analysis including its biological pathways, clinical significance, and potential therapeutic implications.", gene)
}

// geneAnalysis loads the top articles for a gene into Cheshire Cat and asks
// for a summary of its role.
func (s *server) geneAnalysis(c *gin.Context) {
	req, ok := bindGene(c)
	if !ok {
		return
	}
	gene := req.GeneName
	articles, ok := s.articlesFor(c, gene, analysisResults)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	up, err := s.cheshire.Upload(ctx, articles)
	if err != nil || up.Uploaded == 0 {
		s.logger.Error("gene analysis upload failed", zap.String("gene", gene), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":         "Failed to upload any articles to Cheshire Cat for gene: " + gene,
			"gene_analyzed": gene,
		})
		return
	}

	question := analysisQuestion(gene)
	answer, err := s.cheshire.Ask(ctx, question)
	if err != nil {
		s.logger.Error("gene analysis question failed", zap.String("gene", gene), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Cheshire Cat did not answer", "gene_analyzed": gene})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result": gin.H{
			"analysis_id":       fmt.Sprintf("analysis_%s_%d", gene, time.Now().Unix()),
			"status":            "COMPLETED",
			"gene_analyzed":     gene,
			"articles_found":    len(articles),
			"articles_uploaded": up.Uploaded,
			"failed_uploads":    len(up.Failed),
			"question_asked":    question,
			"ai_analysis":       answer,
			"articles_preview":  articles[:min(3, len(articles))],
		},
	})
}
