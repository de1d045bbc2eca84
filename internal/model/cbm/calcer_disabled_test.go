//go:build !(catboost && cgo)

package cbm

import (
	"errors"
	"testing"

	"github.com/Skufu/GeneLens/internal/model"
)

func TestLoadWithoutCatBoost(t *testing.T) {
	if _, err := model.Load("assets/catboost.cbm", model.Options{}); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("expected ErrNotBuilt, got %v", err)
	}
}
