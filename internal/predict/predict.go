// Package predict runs one assembled patient row through a classifier and
// explains the result with the model's global feature importance.
package predict

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/dataset"
	"github.com/Skufu/GeneLens/internal/features"
	"github.com/Skufu/GeneLens/internal/genenames"
	"github.com/Skufu/GeneLens/internal/model"
	"github.com/Skufu/GeneLens/internal/quant"
)

// DefaultTopK is the number of ranked features returned when none is given.
const DefaultTopK = 10

// InputShapeError means the dataset does not hold exactly one patient row.
type InputShapeError struct {
	Rows int
}

func (e *InputShapeError) Error() string {
	return fmt.Sprintf("prediction needs exactly one sample row, got %d", e.Rows)
}

// FeatureImportance is one ranked feature with the sample's aligned value.
type FeatureImportance struct {
	Feature     string      `json:"feature"`
	Importance  float64     `json:"importance"`
	SampleValue quant.Value `json:"sample_value"`
}

// NamedFeature is a FeatureImportance annotated with a gene symbol.
type NamedFeature struct {
	FeatureImportance
	GeneName string `json:"gene_name"`
}

type SampleInfo struct {
	TotalFeatures   int    `json:"total_features"`
	SampleShape     [2]int `json:"sample_shape"`
	FeaturesAligned bool   `json:"features_aligned"`
	Degraded        bool   `json:"degraded"`
	DegradedReason  string `json:"degraded_reason,omitempty"`
}

type Result struct {
	PredictedClass           int                   `json:"predicted_class"`
	Confidence               float64               `json:"confidence"`
	Probabilities            []float64             `json:"prediction_probability"`
	Classes                  []int                 `json:"classes"`
	TopFeatures              []FeatureImportance   `json:"top_features"`
	AllFeatureImportance     []FeatureImportance   `json:"all_feature_importance,omitempty"`
	TopFeaturesWithGeneNames []NamedFeature        `json:"top_features_with_gene_names,omitempty"`
	SampleInfo               SampleInfo            `json:"sample_info"`
	Imputation               features.ImputeReport `json:"imputation"`
}

// Interpretation names a class label: 0 is normal tissue, anything else tumor.
func Interpretation(class int) string {
	if class == 0 {
		return "Normal"
	}
	return "Tumor"
}

// Options tune a single Predict call.
type Options struct {
	TopK    int
	// BaseDir enables gene-name annotation from <BaseDir>/assets/data.
	BaseDir string
}

type Predictor struct {
	clf     model.Classifier
	aligner *features.Aligner
	mapper  *genenames.Mapper
	logger  *zap.Logger
}

type Option func(*Predictor)

func WithLogger(l *zap.Logger) Option {
	return func(p *Predictor) { p.logger = l }
}

func WithAligner(a *features.Aligner) Option {
	return func(p *Predictor) { p.aligner = a }
}

func WithMapper(m *genenames.Mapper) Option {
	return func(p *Predictor) { p.mapper = m }
}

func New(clf model.Classifier, opts ...Option) *Predictor {
	p := &Predictor{clf: clf, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.aligner == nil {
		p.aligner = features.NewAligner(features.WithLogger(p.logger))
	}
	if p.mapper == nil {
		p.mapper = genenames.NewMapper(p.logger)
	}
	return p
}

// Predict aligns, imputes and scores the single row of ds.
func (p *Predictor) Predict(ds *dataset.Dataset, opts Options) (*Result, error) {
	if n := ds.Len(); n != 1 {
		return nil, &InputShapeError{Rows: n}
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}

	aligned, err := p.aligner.Align(ds.Record(0), p.clf)
	if err != nil {
		return nil, err
	}
	imputed := features.Impute(aligned, ds.TextColumns(), p.clf, p.logger)

	probs, err := p.clf.PredictProba(aligned.Values)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if len(probs) == 0 {
		return nil, errors.New("predict: classifier returned no probabilities")
	}
	best := 0
	for i, v := range probs {
		if v > probs[best] {
			best = i
		}
	}
	classes := p.clf.Classes()
	if len(classes) != len(probs) {
		return nil, fmt.Errorf("predict: %d class labels for %d probabilities", len(classes), len(probs))
	}

	ranked, err := p.rank(aligned)
	if err != nil {
		return nil, err
	}
	top := ranked[:min(opts.TopK, len(ranked))]

	res := &Result{
		PredictedClass:       classes[best],
		Confidence:           probs[best],
		Probabilities:        probs,
		Classes:              classes,
		TopFeatures:          top,
		AllFeatureImportance: ranked,
		Imputation:           imputed,
		SampleInfo: SampleInfo{
			TotalFeatures:   aligned.Len(),
			SampleShape:     [2]int{1, aligned.Len()},
			FeaturesAligned: true,
			Degraded:        aligned.Degraded,
			DegradedReason:  aligned.Reason,
		},
	}

	if opts.BaseDir != "" {
		keys := make([]string, len(top))
		for i, f := range top {
			keys[i] = f.Feature
		}
		names := p.mapper.MapFeatures(keys, opts.BaseDir)
		res.TopFeaturesWithGeneNames = make([]NamedFeature, len(top))
		for i, f := range top {
			res.TopFeaturesWithGeneNames[i] = NamedFeature{FeatureImportance: f, GeneName: names[i]}
		}
	}

	p.logger.Info("prediction complete",
		zap.Int("predicted_class", res.PredictedClass),
		zap.Float64("confidence", res.Confidence),
		zap.Int("features", aligned.Len()),
		zap.Bool("degraded", aligned.Degraded),
	)
	return res, nil
}

// rank pairs each aligned column with its importance, highest first. Ties
// keep model order.
func (p *Predictor) rank(a *features.Aligned) ([]FeatureImportance, error) {
	imp, err := p.clf.FeatureImportance()
	if err != nil {
		p.logger.Warn("feature importance unavailable; ranking in model order", zap.Error(err))
		imp = make([]float64, a.Len())
	}
	if len(imp) != a.Len() {
		return nil, fmt.Errorf("predict: %d importances for %d aligned features", len(imp), a.Len())
	}

	out := make([]FeatureImportance, a.Len())
	for i, c := range a.Columns {
		out[i] = FeatureImportance{Feature: c, Importance: imp[i], SampleValue: a.Values[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out, nil
}
