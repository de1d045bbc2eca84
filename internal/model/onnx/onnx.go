// Package onnx registers an ONNX Runtime backend for ".onnx" classifiers.
// Import it for side effects:
//
//	import _ "github.com/Skufu/GeneLens/internal/model/onnx"
//
// The graph must take one float32 input of shape [N, F] and produce "label"
// (int64) and "probabilities" (float32 [N, C]) outputs, which is what the
// CatBoost and skl2onnx exporters emit with zipmap disabled. Feature names
// and categorical indices are not part of the graph; they come from the
// <name>.meta.json sidecar.
package onnx

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/model"
	"github.com/Skufu/GeneLens/internal/quant"
)

const (
	labelOutput = "label"
	probsOutput = "probabilities"
)

var (
	envOnce sync.Once
	envErr  error
)

func init() {
	model.Register(".onnx", Load)
}

func initEnvironment(lib string) error {
	envOnce.Do(func() {
		if lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Classifier runs an ONNX graph. Run calls are serialised.
type Classifier struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	input   string
	width   int
	classes int
	logger  *zap.Logger
}

// Load opens path with the onnxruntime library named in opts.RuntimeLib.
func Load(path string, opts model.Options) (model.Classifier, error) {
	if err := initEnvironment(opts.RuntimeLib); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected one input, graph has %d", len(inputs))
	}
	in := inputs[0]
	if len(in.Dimensions) != 2 || in.Dimensions[1] <= 0 {
		return nil, fmt.Errorf("input %q has shape %v, want [N, F]", in.Name, in.Dimensions)
	}

	c := &Classifier{input: in.Name, width: int(in.Dimensions[1]), logger: zap.NewNop()}
	if opts.Logger != nil {
		c.logger = opts.Logger
	}
	var haveLabel bool
	for _, o := range outputs {
		switch o.Name {
		case labelOutput:
			haveLabel = true
		case probsOutput:
			if len(o.Dimensions) == 2 && o.Dimensions[1] > 0 {
				c.classes = int(o.Dimensions[1])
			}
		}
	}
	if !haveLabel || c.classes == 0 {
		return nil, fmt.Errorf("graph must expose %q and a fixed-width %q output", labelOutput, probsOutput)
	}

	c.session, err = ort.NewDynamicAdvancedSession(path, []string{c.input}, []string{labelOutput, probsOutput}, nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	c.logger.Info("onnx model loaded",
		zap.String("path", path),
		zap.Int("features", c.width),
		zap.Int("classes", c.classes),
	)
	return c, nil
}

func (c *Classifier) FeatureNames() ([]string, error) { return nil, model.ErrNoFeatureNames }

func (c *Classifier) FeatureCount() int { return c.width }

func (c *Classifier) CatFeatureIndices() ([]int, error) { return nil, model.ErrNoCategorical }

func (c *Classifier) FeatureImportance() ([]float64, error) { return nil, model.ErrNoImportance }

func (c *Classifier) Classes() []int {
	out := make([]int, c.classes)
	for i := range out {
		out[i] = i
	}
	return out
}

// PredictProba converts the row to float32. Text cells that do not parse as
// numbers are passed as NaN.
func (c *Classifier) PredictProba(row []quant.Value) ([]float64, error) {
	if len(row) != c.width {
		return nil, fmt.Errorf("row has %d features, model expects %d", len(row), c.width)
	}
	data := make([]float32, len(row))
	for i, v := range row {
		data[i] = float32(toFloat(v))
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(c.width)), data)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer input.Destroy()
	label, err := ort.NewEmptyTensor[int64](ort.NewShape(1))
	if err != nil {
		return nil, fmt.Errorf("label tensor: %w", err)
	}
	defer label.Destroy()
	probs, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(c.classes)))
	if err != nil {
		return nil, fmt.Errorf("probabilities tensor: %w", err)
	}
	defer probs.Destroy()

	c.mu.Lock()
	err = c.session.Run([]ort.Value{input}, []ort.Value{label, probs})
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	out := make([]float64, c.classes)
	for i, p := range probs.GetData() {
		out[i] = float64(p)
	}
	return out, nil
}

func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return errors.New("onnx classifier already closed")
	}
	err := c.session.Destroy()
	c.session = nil
	return err
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
