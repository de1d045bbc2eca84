package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Skufu/GeneLens/internal/quant"
)

// Metadata is the sidecar written next to an artifact at export time. Any
// field left empty falls through to the wrapped classifier.
type Metadata struct {
	FeatureNames      []string  `json:"feature_names,omitempty"`
	CatFeatureIndices []int     `json:"cat_feature_indices"`
	Classes           []int     `json:"classes,omitempty"`
	FeatureImportance []float64 `json:"feature_importance,omitempty"`
}

// SidecarPath returns <dir>/<name>.meta.json for <dir>/<name>.<ext>.
func SidecarPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".meta.json"
}

func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &m, nil
}

type withMeta struct {
	Classifier
	meta *Metadata
}

// WithMetadata overlays m on c. The sidecar must agree with the artifact's
// width.
func WithMetadata(c Classifier, m *Metadata) (Classifier, error) {
	n := c.FeatureCount()
	if len(m.FeatureNames) > 0 {
		if n > 0 && len(m.FeatureNames) != n {
			return nil, fmt.Errorf("sidecar lists %d feature names, model expects %d", len(m.FeatureNames), n)
		}
		n = len(m.FeatureNames)
	}
	for _, i := range m.CatFeatureIndices {
		if i < 0 || (n > 0 && i >= n) {
			return nil, fmt.Errorf("sidecar categorical index %d out of range [0,%d)", i, n)
		}
	}
	if len(m.FeatureImportance) > 0 && n > 0 && len(m.FeatureImportance) != n {
		return nil, fmt.Errorf("sidecar lists %d importances, model expects %d", len(m.FeatureImportance), n)
	}
	return &withMeta{Classifier: c, meta: m}, nil
}

func (w *withMeta) FeatureNames() ([]string, error) {
	if len(w.meta.FeatureNames) > 0 {
		return w.meta.FeatureNames, nil
	}
	return w.Classifier.FeatureNames()
}

func (w *withMeta) FeatureCount() int {
	if n := w.Classifier.FeatureCount(); n > 0 {
		return n
	}
	return len(w.meta.FeatureNames)
}

func (w *withMeta) CatFeatureIndices() ([]int, error) {
	if w.meta.CatFeatureIndices != nil {
		return w.meta.CatFeatureIndices, nil
	}
	return w.Classifier.CatFeatureIndices()
}

func (w *withMeta) Classes() []int {
	if len(w.meta.Classes) > 0 {
		return w.meta.Classes
	}
	return w.Classifier.Classes()
}

func (w *withMeta) FeatureImportance() ([]float64, error) {
	if len(w.meta.FeatureImportance) > 0 {
		return w.meta.FeatureImportance, nil
	}
	return w.Classifier.FeatureImportance()
}

func (w *withMeta) PredictProba(row []quant.Value) ([]float64, error) {
	return w.Classifier.PredictProba(row)
}

func (w *withMeta) Close() error { return Close(w.Classifier) }
