package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/Skufu/GeneLens/internal/quant"
)

// CatBoost JSON export, as written by model.save_model(path, format="json").
type cbModel struct {
	FeaturesInfo struct {
		FloatFeatures []cbFloatFeature `json:"float_features"`
		CatFeatures   []cbCatFeature   `json:"categorical_features"`
	} `json:"features_info"`
	ObliviousTrees []cbTree          `json:"oblivious_trees"`
	ScaleAndBias   []json.RawMessage `json:"scale_and_bias"`
	ModelInfo      struct {
		ClassParams struct {
			ClassNames []json.RawMessage `json:"class_names"`
		} `json:"class_params"`
	} `json:"model_info"`
}

type cbFloatFeature struct {
	FeatureIndex      int    `json:"feature_index"`
	FlatFeatureIndex  int    `json:"flat_feature_index"`
	FeatureID         string `json:"feature_id"`
	NanValueTreatment string `json:"nan_value_treatment"`
}

type cbCatFeature struct {
	FeatureIndex     int    `json:"feature_index"`
	FlatFeatureIndex int    `json:"flat_feature_index"`
	FeatureID        string `json:"feature_id"`
}

type cbSplit struct {
	SplitType         string  `json:"split_type"`
	FloatFeatureIndex int     `json:"float_feature_index"`
	Border            float64 `json:"border"`
}

type cbTree struct {
	Splits      []cbSplit `json:"splits"`
	LeafValues  []float64 `json:"leaf_values"`
	LeafWeights []float64 `json:"leaf_weights"`
}

type split struct {
	flat    int // flat feature position in the input row
	border  float64
	nanTrue bool
}

type tree struct {
	splits  []split
	values  []float64 // leaf-major: values[leaf*dim+k]
	weights []float64
}

// CatBoost evaluates an exported CatBoost oblivious-tree ensemble. Only
// numeric (float) splits are supported; models that split on categorical
// features are served from their .cbm binary (package cbm).
type CatBoost struct {
	names   []string
	cats    []int
	classes []int
	dim     int
	trees   []tree
	scale   float64
	bias    []float64
	width   int

	importance []float64
}

var errCategoricalSplit = errors.New("categorical splits are not supported by the JSON evaluator; load the .cbm model instead")

// LoadCatBoostJSON reads a CatBoost JSON export.
func LoadCatBoostJSON(path string, _ Options) (Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatBoostJSON(data)
}

func ParseCatBoostJSON(data []byte) (*CatBoost, error) {
	var raw cbModel
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode catboost json: %w", err)
	}
	if len(raw.ObliviousTrees) == 0 {
		return nil, errors.New("catboost json has no oblivious_trees")
	}

	m := &CatBoost{scale: 1}
	floats := raw.FeaturesInfo.FloatFeatures
	m.width = len(floats) + len(raw.FeaturesInfo.CatFeatures)
	m.names = make([]string, m.width)
	floatFlat := make(map[int]cbFloatFeature, len(floats))
	for _, f := range floats {
		if f.FlatFeatureIndex < 0 || f.FlatFeatureIndex >= m.width {
			return nil, fmt.Errorf("float feature %d has flat index %d outside [0,%d)", f.FeatureIndex, f.FlatFeatureIndex, m.width)
		}
		m.names[f.FlatFeatureIndex] = f.FeatureID
		floatFlat[f.FeatureIndex] = f
	}
	for _, c := range raw.FeaturesInfo.CatFeatures {
		if c.FlatFeatureIndex < 0 || c.FlatFeatureIndex >= m.width {
			return nil, fmt.Errorf("categorical feature %d has flat index %d outside [0,%d)", c.FeatureIndex, c.FlatFeatureIndex, m.width)
		}
		m.names[c.FlatFeatureIndex] = c.FeatureID
		m.cats = append(m.cats, c.FlatFeatureIndex)
	}
	sort.Ints(m.cats)

	leaves0 := raw.ObliviousTrees[0]
	if n := 1 << len(leaves0.Splits); n > 0 && len(leaves0.LeafValues)%n == 0 {
		m.dim = len(leaves0.LeafValues) / n
	}
	if m.dim == 0 {
		return nil, errors.New("catboost json: cannot infer approx dimension")
	}

	for ti, t := range raw.ObliviousTrees {
		leaves := 1 << len(t.Splits)
		if len(t.LeafValues) != leaves*m.dim {
			return nil, fmt.Errorf("tree %d: %d leaf values, want %d", ti, len(t.LeafValues), leaves*m.dim)
		}
		tr := tree{values: t.LeafValues, weights: t.LeafWeights}
		for _, s := range t.Splits {
			if s.SplitType != "" && s.SplitType != "FloatFeature" {
				return nil, fmt.Errorf("tree %d: %w (%s)", ti, errCategoricalSplit, s.SplitType)
			}
			f, ok := floatFlat[s.FloatFeatureIndex]
			if !ok {
				return nil, fmt.Errorf("tree %d: unknown float feature %d", ti, s.FloatFeatureIndex)
			}
			tr.splits = append(tr.splits, split{
				flat:    f.FlatFeatureIndex,
				border:  s.Border,
				nanTrue: f.NanValueTreatment == "AsTrue",
			})
		}
		m.trees = append(m.trees, tr)
	}

	if err := m.parseScaleAndBias(raw.ScaleAndBias); err != nil {
		return nil, err
	}
	m.classes = parseClasses(raw.ModelInfo.ClassParams.ClassNames, m.outputs())
	m.importance = m.computeImportance()
	return m, nil
}

// scale_and_bias is [scale, [bias...]]; older exports use a scalar bias.
func (m *CatBoost) parseScaleAndBias(sb []json.RawMessage) error {
	m.bias = make([]float64, m.dim)
	if len(sb) == 0 {
		return nil
	}
	if err := json.Unmarshal(sb[0], &m.scale); err != nil {
		return fmt.Errorf("catboost json: scale: %w", err)
	}
	if len(sb) < 2 {
		return nil
	}
	var vec []float64
	if err := json.Unmarshal(sb[1], &vec); err == nil {
		copy(m.bias, vec)
		return nil
	}
	var scalar float64
	if err := json.Unmarshal(sb[1], &scalar); err != nil {
		return fmt.Errorf("catboost json: bias: %w", err)
	}
	for i := range m.bias {
		m.bias[i] = scalar
	}
	return nil
}

func (m *CatBoost) outputs() int {
	if m.dim == 1 {
		return 2
	}
	return m.dim
}

// Class names may be numbers or numeric strings; anything else falls back
// to positional labels.
func parseClasses(raw []json.RawMessage, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	if len(raw) != n {
		return out
	}
	parsed := make([]int, n)
	for i, r := range raw {
		var num float64
		if err := json.Unmarshal(r, &num); err == nil && num == math.Trunc(num) {
			parsed[i] = int(num)
			continue
		}
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			return out
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return out
		}
		parsed[i] = v
	}
	return parsed
}

func (m *CatBoost) FeatureNames() ([]string, error) {
	for _, n := range m.names {
		if n == "" {
			return nil, ErrNoFeatureNames
		}
	}
	return m.names, nil
}

func (m *CatBoost) FeatureCount() int { return m.width }

func (m *CatBoost) CatFeatureIndices() ([]int, error) {
	if m.cats == nil {
		return []int{}, nil
	}
	return m.cats, nil
}

func (m *CatBoost) Classes() []int { return m.classes }

// Raw returns the ensemble's raw scores (scale*sum + bias).
func (m *CatBoost) Raw(row []quant.Value) ([]float64, error) {
	if len(row) != m.width {
		return nil, fmt.Errorf("row has %d features, model expects %d", len(row), m.width)
	}
	x := make([]float64, len(row))
	for i, v := range row {
		x[i] = numeric(v)
	}

	sum := make([]float64, m.dim)
	for _, t := range m.trees {
		leaf := 0
		for d, s := range t.splits {
			v := x[s.flat]
			var bit bool
			if math.IsNaN(v) {
				bit = s.nanTrue
			} else {
				bit = v > s.border
			}
			if bit {
				leaf |= 1 << d
			}
		}
		for k := 0; k < m.dim; k++ {
			sum[k] += t.values[leaf*m.dim+k]
		}
	}
	for k := range sum {
		sum[k] = m.scale*sum[k] + m.bias[k]
	}
	return sum, nil
}

// PredictProba applies a sigmoid for binary models and softmax otherwise.
func (m *CatBoost) PredictProba(row []quant.Value) ([]float64, error) {
	raw, err := m.Raw(row)
	if err != nil {
		return nil, err
	}
	return Probabilities(raw), nil
}

// Probabilities turns CatBoost raw scores into class probabilities: a
// sigmoid over a single logit gives [1-p, p], wider outputs use softmax.
func Probabilities(raw []float64) []float64 {
	if len(raw) == 1 {
		p := 1 / (1 + math.Exp(-raw[0]))
		return []float64{1 - p, p}
	}
	return softmax(raw)
}

func (m *CatBoost) FeatureImportance() ([]float64, error) {
	out := make([]float64, len(m.importance))
	copy(out, m.importance)
	return out, nil
}

// computeImportance is CatBoost's PredictionValuesChange: for every pair of
// leaves that differ only in split d, the weighted squared deviation of both
// leaves from their pair average is credited to the feature of split d.
// Totals are scaled to 100.
func (m *CatBoost) computeImportance() []float64 {
	imp := make([]float64, m.width)
	for _, t := range m.trees {
		leaves := 1 << len(t.splits)
		w := func(leaf int) float64 {
			if len(t.weights) == leaves {
				return t.weights[leaf]
			}
			return 1
		}
		for d, s := range t.splits {
			bit := 1 << d
			for leaf := 0; leaf < leaves; leaf++ {
				if leaf&bit != 0 {
					continue
				}
				other := leaf | bit
				w1, w2 := w(leaf), w(other)
				if w1+w2 == 0 {
					continue
				}
				for k := 0; k < m.dim; k++ {
					v1, v2 := t.values[leaf*m.dim+k], t.values[other*m.dim+k]
					avg := (w1*v1 + w2*v2) / (w1 + w2)
					imp[s.flat] += w1*sq(v1-avg) + w2*sq(v2-avg)
				}
			}
		}
	}

	var sum float64
	for _, v := range imp {
		sum += v
	}
	if sum > 0 {
		for i := range imp {
			imp[i] = imp[i] / sum * 100
		}
	}
	return imp
}

func numeric(v quant.Value) float64 {
	if !v.IsText {
		return v.Num
	}
	f, err := strconv.ParseFloat(v.Str, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func softmax(x []float64) []float64 {
	maxv := math.Inf(-1)
	for _, v := range x {
		maxv = math.Max(maxv, v)
	}
	out := make([]float64, len(x))
	var sum float64
	for i, v := range x {
		out[i] = math.Exp(v - maxv)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func sq(x float64) float64 { return x * x }
