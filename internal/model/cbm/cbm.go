// Package cbm registers a backend for native CatBoost ".cbm" models, which
// is the only format that keeps categorical features (CTR tables) intact.
// Import it for side effects:
//
//	import _ "github.com/Skufu/GeneLens/internal/model/cbm"
//
// Evaluation goes through CatBoost's C API in libcatboostmodel and is only
// compiled with the catboost build tag and cgo:
//
//	CGO_LDFLAGS=-L/opt/catboost go build -tags catboost ./...
//
// Without the tag ".cbm" is still registered but Load returns ErrNotBuilt.
// Class labels and importances are not exposed by the C API; they come from
// the <name>.meta.json sidecar.
package cbm

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/Skufu/GeneLens/internal/model"
	"github.com/Skufu/GeneLens/internal/quant"
)

// ErrNotBuilt is returned by Load in binaries built without the catboost tag.
var ErrNotBuilt = errors.New("catboost .cbm support not compiled in (build with -tags catboost and cgo)")

func init() {
	model.Register(".cbm", Load)
}

// layout maps the model's float and categorical inputs to flat row positions.
type layout struct {
	floats []int
	cats   []int
}

// newLayout checks that floats and cats together cover every flat position
// exactly once.
func newLayout(floats, cats []int) (layout, error) {
	width := len(floats) + len(cats)
	seen := make([]bool, width)
	for _, group := range [][]int{floats, cats} {
		for _, i := range group {
			if i < 0 || i >= width {
				return layout{}, fmt.Errorf("feature index %d outside [0,%d)", i, width)
			}
			if seen[i] {
				return layout{}, fmt.Errorf("feature index %d listed twice", i)
			}
			seen[i] = true
		}
	}
	return layout{floats: floats, cats: cats}, nil
}

func (l layout) width() int { return len(l.floats) + len(l.cats) }

// split separates an aligned row into the float and categorical vectors the
// C API takes, each in model order.
func (l layout) split(row []quant.Value) ([]float32, []string, error) {
	if len(row) != l.width() {
		return nil, nil, fmt.Errorf("row has %d features, model expects %d", len(row), l.width())
	}
	floats := make([]float32, len(l.floats))
	for i, pos := range l.floats {
		floats[i] = float32(toFloat(row[pos]))
	}
	cats := make([]string, len(l.cats))
	for i, pos := range l.cats {
		cats[i] = catString(row[pos])
	}
	return floats, cats, nil
}

// catString passes imputed text through unchanged. Cells that reach the
// model without imputation get the same treatment Impute would give them.
func catString(v quant.Value) string {
	switch {
	case v.IsText:
		return v.Str
	case v.IsMissing():
		return quant.MissingToken
	default:
		return v.String()
	}
}

func toFloat(v quant.Value) float64 {
	if !v.IsText {
		return v.Num
	}
	f, err := strconv.ParseFloat(v.Str, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
