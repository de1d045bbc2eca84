package report

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Skufu/GeneLens/internal/predict"
	"github.com/Skufu/GeneLens/internal/pubmed"
	"github.com/Skufu/GeneLens/internal/quant"
)

func sampleResult() *predict.Result {
	top := []predict.FeatureImportance{
		{Feature: "gene_ENSG00000000003.15|tpm_unstranded", Importance: 60, SampleValue: quant.Number(12.5)},
		{Feature: "mirna_iso_hsa-mir-21_a|miRNA_region", Importance: 40, SampleValue: quant.Text("missing")},
	}
	all := append(append([]predict.FeatureImportance{}, top...),
		predict.FeatureImportance{Feature: "mirna_agg_hsa-mir-1|read_count", SampleValue: quant.Missing()})
	return &predict.Result{
		PredictedClass:       1,
		Confidence:           0.8,
		Probabilities:        []float64{0.2, 0.8},
		Classes:              []int{0, 1},
		TopFeatures:          top,
		AllFeatureImportance: all,
		TopFeaturesWithGeneNames: []predict.NamedFeature{
			{FeatureImportance: top[0], GeneName: "TSPAN6"},
			{FeatureImportance: top[1], GeneName: "hsa-mir-21"},
		},
		SampleInfo: predict.SampleInfo{TotalFeatures: 3, SampleShape: [2]int{1, 3}, FeaturesAligned: true},
	}
}

func TestWritePrediction(t *testing.T) {
	var buf bytes.Buffer
	p := Patient{ID: "TCGA-ABCDEF12", SampleType: "tumor", Files: []string{"a.tsv"}, CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	if err := WritePrediction(&buf, p, sampleResult()); err != nil {
		t.Fatalf("WritePrediction: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 3 || sheets[0] != "Summary" {
		t.Fatalf("unexpected sheets %v", sheets)
	}
	if v, _ := f.GetCellValue("Summary", "B1"); v != "TCGA-ABCDEF12" {
		t.Fatalf("patient id cell = %q", v)
	}
	if v, _ := f.GetCellValue("Summary", "B5"); v != "Tumor" {
		t.Fatalf("interpretation cell = %q", v)
	}
	if v, _ := f.GetCellValue("Top Features", "C2"); v != "TSPAN6" {
		t.Fatalf("gene name cell = %q", v)
	}
	if v, _ := f.GetCellValue("Top Features", "E3"); v != "missing" {
		t.Fatalf("text sample value = %q", v)
	}
	rows, err := f.GetRows("All Features")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header plus 3 ranked rows, got %d", len(rows))
	}
	if len(rows[3]) > 3 && rows[3][3] != "" {
		t.Fatalf("missing value should be an empty cell, got %q", rows[3][3])
	}
}

func TestWriteAbstracts(t *testing.T) {
	articles := []pubmed.Article{
		{PMID: "1", Title: "First", Journal: "Nature", Year: "2021", Authors: []string{"A, B", "C, D", "E, F", "G, H"}, Abstract: "x"},
		{PMID: "2", Title: "Second", Journal: "Cell", Year: "2023", Authors: []string{"I, J"}, Abstract: "y"},
		{PMID: "3", Title: "Third", Journal: "Cell", Year: "2021", Abstract: "z"},
	}
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	var buf bytes.Buffer
	if err := WriteAbstracts(&buf, "TP53", articles, now); err != nil {
		t.Fatalf("WriteAbstracts: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}
	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		files[f.Name] = string(b)
	}
	if len(files) != 4 {
		t.Fatalf("expected 3 abstracts and a README, got %v", len(files))
	}
	if !strings.HasPrefix(files["pubmed_2.txt"], "# Second") {
		t.Fatalf("unexpected abstract body %q", files["pubmed_2.txt"])
	}

	readme := files["README.txt"]
	for _, want := range []string{
		"Gene Research Summary: TP53",
		"Generated on: 2024-05-06 07:08:09",
		"Total articles: 3",
		"Journal: Nature (2021)",
		"Authors: A, B, C, D, E, F...",
	} {
		if !strings.Contains(readme, want) {
			t.Fatalf("README missing %q:\n%s", want, readme)
		}
	}
	if strings.Index(readme, "2023: 1 articles") > strings.Index(readme, "2021: 2 articles") {
		t.Fatalf("years should be listed newest first:\n%s", readme)
	}
}
