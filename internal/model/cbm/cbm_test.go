package cbm

import (
	"math"
	"testing"

	"github.com/Skufu/GeneLens/internal/model"
	"github.com/Skufu/GeneLens/internal/quant"
)

func TestRegistered(t *testing.T) {
	for _, ext := range model.Formats() {
		if ext == ".cbm" {
			return
		}
	}
	t.Fatalf(".cbm not registered: %v", model.Formats())
}

func TestNewLayout(t *testing.T) {
	if _, err := newLayout([]int{0, 2}, []int{1}); err != nil {
		t.Fatalf("valid layout rejected: %v", err)
	}
	if _, err := newLayout([]int{0, 1}, []int{1}); err == nil {
		t.Fatal("duplicate position should be rejected")
	}
	if _, err := newLayout([]int{0, 3}, []int{1}); err == nil {
		t.Fatal("out of range position should be rejected")
	}
}

func TestSplitRow(t *testing.T) {
	l, err := newLayout([]int{0, 2, 4}, []int{1, 3})
	if err != nil {
		t.Fatal(err)
	}
	row := []quant.Value{
		quant.Number(29.8),
		quant.Text(quant.MissingToken),
		quant.Missing(),
		quant.Text("mature,MIMAT0000076"),
		quant.Text("1.5"),
	}
	floats, cats, err := l.split(row)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(floats) != 3 || floats[0] != float32(29.8) || !math.IsNaN(float64(floats[1])) || floats[2] != 1.5 {
		t.Fatalf("unexpected floats %v", floats)
	}
	if len(cats) != 2 || cats[0] != quant.MissingToken || cats[1] != "mature,MIMAT0000076" {
		t.Fatalf("categorical text should pass through, got %q", cats)
	}

	if _, _, err := l.split(row[:4]); err == nil {
		t.Fatal("expected width error")
	}
}

func TestCatString(t *testing.T) {
	cases := []struct {
		v    quant.Value
		want string
	}{
		{quant.Text("missing"), "missing"},
		{quant.Missing(), quant.MissingToken},
		{quant.Number(0), "0.0"},
		{quant.Number(1.5), "1.5"},
	}
	for _, tc := range cases {
		if got := catString(tc.v); got != tc.want {
			t.Fatalf("catString(%+v) = %q, want %q", tc.v, got, tc.want)
		}
	}
}
