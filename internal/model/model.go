// Package model loads trained classifiers and exposes the surface the
// prediction pipeline needs: the ordered feature schema, class labels,
// probabilities and global feature importance.
package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/quant"
)

var (
	// ErrNoFeatureNames means the artifact does not carry feature names.
	ErrNoFeatureNames = errors.New("model does not expose feature names")
	// ErrNoCategorical means categorical indices cannot be determined.
	ErrNoCategorical = errors.New("model does not expose categorical feature indices")
	// ErrNoImportance means the artifact carries no importance information.
	ErrNoImportance = errors.New("model does not expose feature importance")
	// ErrUnsupported is returned by Load for unknown artifact formats.
	ErrUnsupported = errors.New("unsupported model format")
)

// Classifier is a loaded, read-only model. Implementations must be safe for
// concurrent use.
type Classifier interface {
	FeatureNames() ([]string, error)
	FeatureCount() int
	CatFeatureIndices() ([]int, error)
	// Classes returns the label of each probability position.
	Classes() []int
	// PredictProba scores one aligned row.
	PredictProba(row []quant.Value) ([]float64, error)
	// FeatureImportance is aligned to FeatureNames (or to FeatureCount
	// positions when names are unavailable).
	FeatureImportance() ([]float64, error)
}

// Closer is implemented by classifiers holding native resources.
type Closer interface {
	Close() error
}

// Options configures Load.
type Options struct {
	// MetaPath overrides the sidecar location (default <name>.meta.json).
	MetaPath   string
	// RuntimeLib is the onnxruntime shared library, used by the ONNX backend.
	RuntimeLib string
	Logger     *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Loader opens an artifact of one format.
type Loader func(path string, opts Options) (Classifier, error)

var (
	loadersMu sync.RWMutex
	loaders   = map[string]Loader{}
)

// Register makes a loader available for a file extension such as ".onnx".
// It panics if the extension is registered twice.
func Register(ext string, l Loader) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	ext = strings.ToLower(ext)
	if _, dup := loaders[ext]; dup {
		panic("model: Register called twice for " + ext)
	}
	loaders[ext] = l
}

// Formats lists the registered extensions.
func Formats() []string {
	loadersMu.RLock()
	defer loadersMu.RUnlock()
	out := make([]string, 0, len(loaders))
	for ext := range loaders {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(".json", LoadCatBoostJSON)
}

// Load opens the artifact at path with the loader registered for its
// extension, then applies the sidecar metadata when one exists.
func Load(path string, opts Options) (Classifier, error) {
	ext := strings.ToLower(filepath.Ext(path))
	loadersMu.RLock()
	l, ok := loaders[ext]
	loadersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnsupported, ext, strings.Join(Formats(), ", "))
	}

	c, err := l(path, opts)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}

	metaPath := opts.MetaPath
	explicit := metaPath != ""
	if !explicit {
		metaPath = SidecarPath(path)
	}
	meta, err := LoadMetadata(metaPath)
	switch {
	case err == nil:
		opts.logger().Info("model metadata applied", zap.String("path", metaPath))
		return WithMetadata(c, meta)
	case explicit:
		return nil, fmt.Errorf("load model metadata: %w", err)
	default:
		opts.logger().Debug("no model sidecar", zap.String("path", metaPath))
		return c, nil
	}
}

// Close releases native resources when the classifier holds any.
func Close(c Classifier) error {
	if cl, ok := c.(Closer); ok {
		return cl.Close()
	}
	return nil
}
