// Package features reconciles assembled patient rows with the ordered
// feature list a trained classifier expects.
package features

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/quant"
)

// ErrAlignment is returned in strict mode when the model's feature names
// are unavailable and only the truncate/pad fallback could proceed.
var ErrAlignment = errors.New("feature alignment failed")

// PadPrefix names the zero columns added by the fallback.
const PadPrefix = "missing_feature_"

// Schema is the part of a classifier that alignment needs.
type Schema interface {
	FeatureNames() ([]string, error)
	FeatureCount() int
}

// Aligned is a sample reindexed to the model's feature order.
type Aligned struct {
	Columns []string
	Values  []quant.Value

	// Degraded is set when the truncate/pad fallback produced the columns.
	// Predictions from a degraded row have unknown accuracy.
	Degraded bool
	Reason   string
}

func (a *Aligned) Len() int { return len(a.Columns) }

// Record returns the aligned row as an ordered record.
func (a *Aligned) Record() quant.Record {
	rec := quant.NewRecord(len(a.Columns))
	for i, c := range a.Columns {
		rec.Set(c, a.Values[i])
	}
	return rec
}

type Aligner struct {
	strict bool
	logger *zap.Logger
}

type Option func(*Aligner)

// Strict makes alignment fail instead of falling back to truncate/pad.
func Strict(on bool) Option {
	return func(a *Aligner) { a.strict = on }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Aligner) { a.logger = l }
}

func NewAligner(opts ...Option) *Aligner {
	a := &Aligner{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Align takes, for each model feature in order, the sample's value or 0
// when the sample lacks it. Sample columns unknown to the model are dropped.
func (a *Aligner) Align(sample quant.Record, schema Schema) (*Aligned, error) {
	names, err := schema.FeatureNames()
	if err != nil {
		return a.fallback(sample, schema.FeatureCount(), err)
	}

	out := &Aligned{
		Columns: make([]string, len(names)),
		Values:  make([]quant.Value, len(names)),
	}
	matched := 0
	for i, name := range names {
		out.Columns[i] = name
		if v, ok := sample.Get(name); ok {
			out.Values[i] = v
			matched++
			continue
		}
		out.Values[i] = quant.Number(0)
	}
	a.logger.Debug("features aligned",
		zap.Int("sample_features", sample.Len()),
		zap.Int("model_features", len(names)),
		zap.Int("matched", matched),
	)
	return out, nil
}

func (a *Aligner) fallback(sample quant.Record, expected int, cause error) (*Aligned, error) {
	if a.strict {
		return nil, fmt.Errorf("%w: %v", ErrAlignment, cause)
	}
	if expected <= 0 {
		return nil, fmt.Errorf("%w: model declares no feature count: %v", ErrAlignment, cause)
	}

	keys := sample.Keys()
	out := &Aligned{Degraded: true}
	switch {
	case len(keys) > expected:
		out.Reason = fmt.Sprintf("truncated %d sample features to %d", len(keys), expected)
		keys = keys[:expected]
	case len(keys) < expected:
		out.Reason = fmt.Sprintf("padded %d sample features to %d", len(keys), expected)
	default:
		out.Reason = "feature names unavailable; used sample order"
	}
	for _, k := range keys {
		v, _ := sample.Get(k)
		out.Columns = append(out.Columns, k)
		out.Values = append(out.Values, v)
	}
	for i := 0; len(out.Columns) < expected; i++ {
		out.Columns = append(out.Columns, fmt.Sprintf("%s%d", PadPrefix, i))
		out.Values = append(out.Values, quant.Number(0))
	}

	a.logger.Warn("feature alignment degraded; prediction accuracy is not guaranteed",
		zap.String("reason", out.Reason),
		zap.Error(cause),
	)
	return out, nil
}
