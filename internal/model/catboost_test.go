package model

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Skufu/GeneLens/internal/quant"
)

const binaryModel = `{
  "features_info": {
    "float_features": [
      {"feature_index": 0, "flat_feature_index": 0, "feature_id": "gene_A|tpm", "nan_value_treatment": "AsIs"},
      {"feature_index": 1, "flat_feature_index": 1, "feature_id": "gene_B|tpm", "nan_value_treatment": "AsIs"}
    ],
    "categorical_features": [
      {"feature_index": 0, "flat_feature_index": 2, "feature_id": "mirna_iso_x_a|miRNA_region"}
    ]
  },
  "oblivious_trees": [
    {"leaf_values": [-1, 1], "leaf_weights": [10, 10],
     "splits": [{"border": 1.0, "float_feature_index": 0, "split_index": 0, "split_type": "FloatFeature"}]},
    {"leaf_values": [0.5, -0.5], "leaf_weights": [5, 5],
     "splits": [{"border": 0.5, "float_feature_index": 1, "split_index": 1, "split_type": "FloatFeature"}]}
  ],
  "scale_and_bias": [1, [0]],
  "model_info": {"class_params": {"class_names": [0, 1]}}
}`

const multiclassModel = `{
  "features_info": {
    "float_features": [
      {"feature_index": 0, "flat_feature_index": 0, "feature_id": "f0", "nan_value_treatment": "AsTrue"}
    ]
  },
  "oblivious_trees": [
    {"leaf_values": [1, 0, 0, 0, 0, 2],
     "splits": [{"border": 0, "float_feature_index": 0, "split_type": "FloatFeature"}]}
  ],
  "scale_and_bias": [1, [0, 0, 0]],
  "model_info": {"class_params": {"class_names": ["3", "5", "7"]}}
}`

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCatBoostBinary(t *testing.T) {
	m, err := ParseCatBoostJSON([]byte(binaryModel))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	names, err := m.FeatureNames()
	if err != nil || len(names) != 3 || names[2] != "mirna_iso_x_a|miRNA_region" {
		t.Fatalf("unexpected names %v (%v)", names, err)
	}
	cats, _ := m.CatFeatureIndices()
	if len(cats) != 1 || cats[0] != 2 {
		t.Fatalf("unexpected categorical indices %v", cats)
	}

	row := []quant.Value{quant.Number(2), quant.Missing(), quant.Text("missing")}
	probs, err := m.PredictProba(row)
	if err != nil {
		t.Fatal(err)
	}
	p := 1 / (1 + math.Exp(-1.5))
	if !approx(probs[1], p) || !approx(probs[0]+probs[1], 1) {
		t.Fatalf("unexpected probabilities %v", probs)
	}
	if c := m.Classes(); len(c) != 2 || c[1] != 1 {
		t.Fatalf("unexpected classes %v", c)
	}
}

func TestCatBoostRowWidth(t *testing.T) {
	m, _ := ParseCatBoostJSON([]byte(binaryModel))
	if _, err := m.PredictProba([]quant.Value{quant.Number(1)}); err == nil {
		t.Fatal("expected width error")
	}
}

func TestCatBoostImportance(t *testing.T) {
	m, _ := ParseCatBoostJSON([]byte(binaryModel))
	imp, err := m.FeatureImportance()
	if err != nil {
		t.Fatal(err)
	}
	if !approx(imp[0], 20/22.5*100) || !approx(imp[1], 2.5/22.5*100) || imp[2] != 0 {
		t.Fatalf("unexpected importance %v", imp)
	}
}

const depthTwoModel = `{
  "features_info": {
    "float_features": [
      {"feature_index": 0, "flat_feature_index": 0, "feature_id": "a"},
      {"feature_index": 1, "flat_feature_index": 1, "feature_id": "b"}
    ]
  },
  "oblivious_trees": [
    {"leaf_values": [0, 1, 2, 10],
     "splits": [
       {"border": 0, "float_feature_index": 0, "split_type": "FloatFeature"},
       {"border": 0, "float_feature_index": 1, "split_type": "FloatFeature"}
     ]}
  ],
  "scale_and_bias": [1, [0]]
}`

// Leaf pairs (0,1),(2,3) differ in split 0 and contribute 0.5+32; pairs
// (0,2),(1,3) differ in split 1 and contribute 2+40.5.
func TestCatBoostImportanceDepthTwo(t *testing.T) {
	m, err := ParseCatBoostJSON([]byte(depthTwoModel))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	imp, _ := m.FeatureImportance()
	if !approx(imp[0], 32.5/75*100) || !approx(imp[1], 42.5/75*100) {
		t.Fatalf("unexpected importance %v", imp)
	}
	if math.Abs(imp[0]-43.3333) > 1e-3 || math.Abs(imp[1]-56.6667) > 1e-3 {
		t.Fatalf("importance drifted from CatBoost's values: %v", imp)
	}
}

func TestCatBoostMulticlass(t *testing.T) {
	m, err := ParseCatBoostJSON([]byte(multiclassModel))
	if err != nil {
		t.Fatal(err)
	}
	// NaN goes right under AsTrue.
	probs, err := m.PredictProba([]quant.Value{quant.Missing()})
	if err != nil {
		t.Fatal(err)
	}
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if !approx(sum, 1) || probs[2] <= probs[0] {
		t.Fatalf("unexpected probabilities %v", probs)
	}
	if c := m.Classes(); c[0] != 3 || c[2] != 7 {
		t.Fatalf("string class names should parse, got %v", c)
	}
}

func TestCatBoostRejectsCategoricalSplits(t *testing.T) {
	bad := strings.Replace(binaryModel, `"split_index": 0, "split_type": "FloatFeature"`, `"split_type": "OneHotFeature"`, 1)
	if _, err := ParseCatBoostJSON([]byte(bad)); !errors.Is(err, errCategoricalSplit) {
		t.Fatalf("expected categorical split error, got %v", err)
	}
}

func TestCatBoostMissingNames(t *testing.T) {
	anon := strings.Replace(binaryModel, `"feature_id": "gene_B|tpm", `, "", 1)
	m, err := ParseCatBoostJSON([]byte(anon))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.FeatureNames(); !errors.Is(err, ErrNoFeatureNames) {
		t.Fatalf("expected ErrNoFeatureNames, got %v", err)
	}
	if m.FeatureCount() != 3 {
		t.Fatalf("count should survive missing names, got %d", m.FeatureCount())
	}
}

func writeModel(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesSidecar(t *testing.T) {
	dir := t.TempDir()
	path := writeModel(t, dir, "catboost.json", binaryModel)
	writeModel(t, dir, "catboost.meta.json", `{"classes": [10, 20], "feature_importance": [1, 2, 3]}`)

	c, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.Classes(); got[0] != 10 || got[1] != 20 {
		t.Fatalf("sidecar classes not applied: %v", got)
	}
	if imp, _ := c.FeatureImportance(); imp[2] != 3 {
		t.Fatalf("sidecar importance not applied: %v", imp)
	}
	if cats, _ := c.CatFeatureIndices(); len(cats) != 1 {
		t.Fatalf("model categorical indices should fall through, got %v", cats)
	}
}

func TestLoadRejectsMismatchedSidecar(t *testing.T) {
	dir := t.TempDir()
	path := writeModel(t, dir, "catboost.json", binaryModel)
	meta := writeModel(t, dir, "other.json", `{"feature_names": ["only_one"]}`)

	if _, err := Load(path, Options{MetaPath: meta}); err == nil {
		t.Fatal("expected width mismatch error")
	}
	if _, err := Load(path, Options{MetaPath: filepath.Join(dir, "absent.json")}); err == nil {
		t.Fatal("explicit sidecar must exist")
	}
}

func TestLoadUnknownFormat(t *testing.T) {
	if _, err := Load("model.pkl", Options{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
