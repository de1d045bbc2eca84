package main

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/dataset"
	"github.com/Skufu/GeneLens/internal/features"
	"github.com/Skufu/GeneLens/internal/history"
	"github.com/Skufu/GeneLens/internal/predict"
	"github.com/Skufu/GeneLens/internal/report"
)

const maxUploadFiles = 3

var (
	allowedExtensions = []string{".tsv", ".txt", ".tsv.gz", ".txt.gz"}
	unsafeFileChars   = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

type predictResponse struct {
	Success       bool            `json:"success"`
	PatientID     string          `json:"patient_id"`
	SampleType    string          `json:"sample_type"`
	UploadedFiles []string        `json:"uploaded_files"`
	Result        predictResult   `json:"result"`
	Assembly      *dataset.Report `json:"assembly"`
}

type predictResult struct {
	*predict.Result
	Interpretation string `json:"interpretation"`
}

func allowedFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range allowedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// sanitizeFilename keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with an underscore.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeFileChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}

func newPatientID() string {
	return "TCGA-" + strings.ToUpper(uuid.NewString()[:8])
}

// uploadedFiles collects "files" entries, or file1..file3 when the form
// uses the single-file field names.
func uploadedFiles(form *multipart.Form) []*multipart.FileHeader {
	if files := form.File["files"]; len(files) > 0 {
		return files
	}
	var out []*multipart.FileHeader
	for i := 1; i <= maxUploadFiles; i++ {
		out = append(out, form.File["file"+strconv.Itoa(i)]...)
	}
	return out
}

func (s *server) predict(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "multipart form with files is required"})
		return
	}

	files := uploadedFiles(form)
	switch {
	case len(files) == 0:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "no files provided"})
		return
	case len(files) > maxUploadFiles:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": fmt.Sprintf("at most %d files are allowed", maxUploadFiles)})
		return
	}
	for _, fh := range files {
		if fh.Filename == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "empty file name"})
			return
		}
		if !allowedFile(fh.Filename) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "file type not allowed: " + fh.Filename})
			return
		}
	}

	sampleType := strings.TrimSpace(c.DefaultPostForm("sample_type", "tumor"))
	if sampleType == "" {
		sampleType = "tumor"
	}
	patientID := newPatientID()
	log := s.logger.With(zap.String("patient_id", patientID), zap.String("sample_type", sampleType))

	var paths, names []string
	defer func() {
		for _, p := range paths {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn("could not remove upload", zap.String("path", p), zap.Error(err))
			}
		}
	}()
	for _, fh := range files {
		name := uuid.NewString()[:8] + "_" + sanitizeFilename(fh.Filename)
		dst := filepath.Join(s.cfg.UploadDir, name)
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			log.Error("saving upload failed", zap.String("file", fh.Filename), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not store upload"})
			return
		}
		paths = append(paths, dst)
		names = append(names, name)
	}

	batch := dataset.Batch{sampleType: {patientID: paths}}
	ds, assembly := s.assembler.Assemble(batch, "")
	if ds.Len() == 0 {
		reason := "no usable gene expression data"
		if len(assembly.Outcomes) > 0 && assembly.Outcomes[0].Reason != "" {
			reason = assembly.Outcomes[0].Reason
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": reason, "assembly": assembly})
		return
	}

	res, err := s.predictor.Predict(ds, predict.Options{TopK: s.cfg.TopFeatures, BaseDir: s.cfg.BaseDir})
	if err != nil {
		var shapeErr *predict.InputShapeError
		if errors.As(err, &shapeErr) || errors.Is(err, features.ErrAlignment) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": err.Error()})
			return
		}
		log.Error("prediction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "prediction failed"})
		return
	}

	now := time.Now().UTC()
	entry := history.Entry{
		PatientID:      patientID,
		SampleType:     sampleType,
		PredictedClass: res.PredictedClass,
		Confidence:     res.Confidence,
		Degraded:       res.SampleInfo.Degraded,
		Files:          names,
		CreatedAt:      now,
	}
	if err := s.history.Record(c.Request.Context(), entry); err != nil {
		log.Warn("recording prediction history failed", zap.Error(err))
	}

	if c.Query("format") == "xlsx" {
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_prediction.xlsx"`, patientID))
		p := report.Patient{ID: patientID, SampleType: sampleType, Files: names, CreatedAt: now}
		if err := report.WritePrediction(c.Writer, p, res); err != nil {
			log.Error("writing xlsx report failed", zap.Error(err))
		}
		return
	}

	c.JSON(http.StatusOK, predictResponse{
		Success:       true,
		PatientID:     patientID,
		SampleType:    sampleType,
		UploadedFiles: names,
		Result:        predictResult{Result: res, Interpretation: predict.Interpretation(res.PredictedClass)},
		Assembly:      assembly,
	})
}

func (s *server) predictions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := s.history.Recent(c.Request.Context(), limit)
	if errors.Is(err, history.ErrDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("listing predictions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list predictions"})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"predictions": entries})
}
