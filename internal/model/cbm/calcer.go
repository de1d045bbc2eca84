//go:build catboost && cgo

package cbm

/*
#cgo LDFLAGS: -lcatboostmodel
#include <stdbool.h>
#include <stdlib.h>

// Declarations from catboost/libs/model_interface/c_api.h.
typedef void ModelCalcerHandle;

ModelCalcerHandle* ModelCalcerCreate();
void ModelCalcerDelete(ModelCalcerHandle* modelHandle);
const char* GetErrorString();
bool LoadFullModelFromFile(ModelCalcerHandle* modelHandle, const char* filename);
bool CalcModelPredictionSingle(ModelCalcerHandle* modelHandle,
	const float* floatFeatures, size_t floatFeaturesSize,
	const char** catFeatures, size_t catFeaturesSize,
	double* result, size_t resultSize);
size_t GetFloatFeaturesCount(ModelCalcerHandle* modelHandle);
size_t GetCatFeaturesCount(ModelCalcerHandle* modelHandle);
size_t GetDimensionsCount(ModelCalcerHandle* modelHandle);
bool GetFloatFeatureIndices(ModelCalcerHandle* modelHandle, size_t** indices, size_t* count);
bool GetCatFeatureIndices(ModelCalcerHandle* modelHandle, size_t** indices, size_t* count);
bool GetModelUsedFeaturesNames(ModelCalcerHandle* modelHandle, char*** featureNames, size_t* featureCount);
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/model"
	"github.com/Skufu/GeneLens/internal/quant"
)

// Classifier evaluates a .cbm model through libcatboostmodel. Calls are
// serialised.
type Classifier struct {
	mu     sync.Mutex
	handle unsafe.Pointer
	layout layout
	dim    int
	names  []string
}

func lastError() error {
	return errors.New(C.GoString(C.GetErrorString()))
}

// Load reads a full CatBoost model from path.
func Load(path string, opts model.Options) (model.Classifier, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h := unsafe.Pointer(C.ModelCalcerCreate())
	if h == nil {
		return nil, errors.New("catboost: could not create model calcer")
	}
	c := &Classifier{handle: h}

	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	if !C.LoadFullModelFromFile(h, cpath) {
		err := lastError()
		C.ModelCalcerDelete(h)
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	floats, err := featureIndices(h, true)
	if err == nil {
		var cats []int
		cats, err = featureIndices(h, false)
		if err == nil {
			c.layout, err = newLayout(floats, cats)
		}
	}
	if err != nil {
		C.ModelCalcerDelete(h)
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	if nf, nc := int(C.GetFloatFeaturesCount(h)), int(C.GetCatFeaturesCount(h)); nf != len(c.layout.floats) || nc != len(c.layout.cats) {
		C.ModelCalcerDelete(h)
		return nil, fmt.Errorf("inspect %s: %d float and %d categorical features, indices list %d and %d",
			path, nf, nc, len(c.layout.floats), len(c.layout.cats))
	}
	if c.dim = int(C.GetDimensionsCount(h)); c.dim < 1 {
		C.ModelCalcerDelete(h)
		return nil, fmt.Errorf("inspect %s: model has no output dimensions", path)
	}
	c.names = featureNames(h, c.layout.width())

	logger.Info("catboost model loaded",
		zap.String("path", path),
		zap.Int("float_features", len(c.layout.floats)),
		zap.Int("cat_features", len(c.layout.cats)),
		zap.Int("dimensions", c.dim),
	)
	return c, nil
}

func featureIndices(h unsafe.Pointer, float bool) ([]int, error) {
	var (
		ptr *C.size_t
		n   C.size_t
		ok  C.bool
	)
	if float {
		ok = C.GetFloatFeatureIndices(h, &ptr, &n)
	} else {
		ok = C.GetCatFeatureIndices(h, &ptr, &n)
	}
	if !ok {
		return nil, lastError()
	}
	defer C.free(unsafe.Pointer(ptr))
	out := make([]int, int(n))
	for i, v := range unsafe.Slice(ptr, int(n)) {
		out[i] = int(v)
	}
	return out, nil
}

// featureNames returns nil unless the model names every flat position.
func featureNames(h unsafe.Pointer, width int) []string {
	var (
		ptr **C.char
		n   C.size_t
	)
	if !C.GetModelUsedFeaturesNames(h, &ptr, &n) {
		return nil
	}
	defer C.free(unsafe.Pointer(ptr))
	raw := unsafe.Slice(ptr, int(n))
	names := make([]string, len(raw))
	for i, s := range raw {
		names[i] = C.GoString(s)
		C.free(unsafe.Pointer(s))
	}
	if len(names) != width {
		return nil
	}
	for _, name := range names {
		if name == "" {
			return nil
		}
	}
	return names
}

func (c *Classifier) FeatureNames() ([]string, error) {
	if c.names == nil {
		return nil, model.ErrNoFeatureNames
	}
	return c.names, nil
}

func (c *Classifier) FeatureCount() int { return c.layout.width() }

func (c *Classifier) CatFeatureIndices() ([]int, error) {
	if c.layout.cats == nil {
		return []int{}, nil
	}
	return c.layout.cats, nil
}

func (c *Classifier) FeatureImportance() ([]float64, error) { return nil, model.ErrNoImportance }

func (c *Classifier) Classes() []int {
	n := c.dim
	if n == 1 {
		n = 2
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// PredictProba evaluates raw scores and converts them with
// model.Probabilities. Categorical cells are passed as strings.
func (c *Classifier) PredictProba(row []quant.Value) ([]float64, error) {
	floats, cats, err := c.layout.split(row)
	if err != nil {
		return nil, err
	}

	var fptr *C.float
	if len(floats) > 0 {
		fptr = (*C.float)(unsafe.Pointer(&floats[0]))
	}
	var cptr **C.char
	if len(cats) > 0 {
		cstrs := unsafe.Slice((**C.char)(C.malloc(C.size_t(len(cats))*C.size_t(unsafe.Sizeof(uintptr(0))))), len(cats))
		defer C.free(unsafe.Pointer(&cstrs[0]))
		for i, s := range cats {
			cstrs[i] = C.CString(s)
			defer C.free(unsafe.Pointer(cstrs[i]))
		}
		cptr = &cstrs[0]
	}

	raw := make([]float64, c.dim)
	c.mu.Lock()
	if c.handle == nil {
		c.mu.Unlock()
		return nil, errors.New("catboost classifier is closed")
	}
	ok := C.CalcModelPredictionSingle(c.handle,
		fptr, C.size_t(len(floats)),
		cptr, C.size_t(len(cats)),
		(*C.double)(unsafe.Pointer(&raw[0])), C.size_t(len(raw)))
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("catboost predict: %w", lastError())
	}
	return model.Probabilities(raw), nil
}

func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return errors.New("catboost classifier already closed")
	}
	C.ModelCalcerDelete(c.handle)
	c.handle = nil
	return nil
}
