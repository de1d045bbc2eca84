package onnx

import (
	"math"
	"os"
	"testing"

	"github.com/Skufu/GeneLens/internal/model"
	"github.com/Skufu/GeneLens/internal/quant"
)

func TestRegistered(t *testing.T) {
	for _, ext := range model.Formats() {
		if ext == ".onnx" {
			return
		}
	}
	t.Fatalf(".onnx not registered: %v", model.Formats())
}

func TestToFloat(t *testing.T) {
	if toFloat(quant.Text("2.5")) != 2.5 {
		t.Fatal("numeric text should parse")
	}
	if !math.IsNaN(toFloat(quant.Text("missing"))) {
		t.Fatal("categorical text should become NaN")
	}
	if toFloat(quant.Number(3)) != 3 {
		t.Fatal("number should pass through")
	}
}

// Needs a real runtime and model: ONNXRUNTIME_LIB and TEST_ONNX_MODEL.
func TestLoadAndPredict(t *testing.T) {
	lib, path := os.Getenv("ONNXRUNTIME_LIB"), os.Getenv("TEST_ONNX_MODEL")
	if lib == "" || path == "" {
		t.Skip("ONNXRUNTIME_LIB and TEST_ONNX_MODEL not set")
	}
	c, err := model.Load(path, model.Options{RuntimeLib: lib})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer model.Close(c)

	row := make([]quant.Value, c.FeatureCount())
	for i := range row {
		row[i] = quant.Number(0)
	}
	probs, err := c.PredictProba(row)
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-4 {
		t.Fatalf("probabilities should sum to 1, got %v", probs)
	}
}
