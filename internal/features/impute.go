package features

import (
	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/quant"
)

// Categorical reports which aligned positions the model treats as categorical.
type Categorical interface {
	CatFeatureIndices() ([]int, error)
}

// ImputeReport counts the replacements made by Impute.
type ImputeReport struct {
	TextFilled        int  `json:"text_filled"`
	CategoricalCasted int  `json:"categorical_casted"`
	ZeroFilled        int  `json:"zero_filled"`
	CategoricalLookup bool `json:"categorical_lookup"`
}

// Impute applies the missing-value policy in place:
//  1. text columns: missing becomes "missing";
//  2. model categorical columns: missing becomes "missing", numbers become text;
//  3. only if the categorical lookup fails, remaining numeric NaN become 0.
//
// Numeric NaN elsewhere is left for the model, which handles it natively.
func Impute(a *Aligned, textColumns map[string]bool, cats Categorical, logger *zap.Logger) ImputeReport {
	if logger == nil {
		logger = zap.NewNop()
	}
	var rep ImputeReport

	for i, c := range a.Columns {
		if textColumns[c] && a.Values[i].IsMissing() {
			a.Values[i] = quant.Text(quant.MissingToken)
			rep.TextFilled++
		}
	}

	idx, err := cats.CatFeatureIndices()
	if err != nil {
		logger.Warn("categorical feature lookup failed; zero-filling remaining NaN", zap.Error(err))
		for i, v := range a.Values {
			if v.IsMissing() {
				a.Values[i] = quant.Number(0)
				rep.ZeroFilled++
			}
		}
		return rep
	}

	rep.CategoricalLookup = true
	for _, i := range idx {
		if i < 0 || i >= len(a.Values) {
			continue
		}
		v := a.Values[i]
		switch {
		case v.IsText:
			continue
		case v.IsMissing():
			a.Values[i] = quant.Text(quant.MissingToken)
		default:
			a.Values[i] = quant.Text(v.String())
		}
		rep.CategoricalCasted++
	}
	return rep
}
