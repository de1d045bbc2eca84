//go:build catboost && cgo

package cbm

import (
	"math"
	"os"
	"testing"

	"github.com/Skufu/GeneLens/internal/model"
	"github.com/Skufu/GeneLens/internal/quant"
)

// Needs libcatboostmodel on the linker path and a model in TEST_CBM_MODEL.
func TestLoadAndPredict(t *testing.T) {
	path := os.Getenv("TEST_CBM_MODEL")
	if path == "" {
		t.Skip("TEST_CBM_MODEL not set")
	}
	c, err := model.Load(path, model.Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer model.Close(c)

	cats, err := c.CatFeatureIndices()
	if err != nil {
		t.Fatalf("CatFeatureIndices: %v", err)
	}
	row := make([]quant.Value, c.FeatureCount())
	for i := range row {
		row[i] = quant.Number(0)
	}
	for _, i := range cats {
		row[i] = quant.Text(quant.MissingToken)
	}

	probs, err := c.PredictProba(row)
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	if len(probs) != len(c.Classes()) {
		t.Fatalf("%d probabilities for %d classes", len(probs), len(c.Classes()))
	}
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("probabilities should sum to 1, got %v", probs)
	}

	if err := model.Close(c); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.PredictProba(row); err == nil {
		t.Fatal("closed classifier should refuse to predict")
	}
}
