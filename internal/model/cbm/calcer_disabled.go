//go:build !(catboost && cgo)

package cbm

import "github.com/Skufu/GeneLens/internal/model"

// Load reports ErrNotBuilt; see the package documentation.
func Load(path string, _ model.Options) (model.Classifier, error) {
	return nil, ErrNotBuilt
}
