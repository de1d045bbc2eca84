// Package report renders downloadable artifacts: XLSX prediction reports
// and ZIP bundles of PubMed abstracts.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Skufu/GeneLens/internal/predict"
	"github.com/Skufu/GeneLens/internal/quant"
)

// Patient identifies the sample a report was produced for.
type Patient struct {
	ID         string
	SampleType string
	Files      []string
	CreatedAt  time.Time
}

const (
	summarySheet  = "Summary"
	topSheet      = "Top Features"
	rankingSheet  = "All Features"
	maxRankedRows = 5000
)

// WritePrediction writes an XLSX workbook with a summary sheet, the top
// features (with gene names when available) and the full ranking.
func WritePrediction(w io.Writer, p Patient, res *predict.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}

	summary := [][]any{
		{"Patient ID", p.ID},
		{"Sample type", p.SampleType},
		{"Generated", p.CreatedAt.Format(time.RFC3339)},
		{"Predicted class", res.PredictedClass},
		{"Interpretation", predict.Interpretation(res.PredictedClass)},
		{"Confidence", res.Confidence},
		{"Features", res.SampleInfo.TotalFeatures},
		{"Degraded alignment", res.SampleInfo.Degraded},
	}
	if res.SampleInfo.DegradedReason != "" {
		summary = append(summary, []any{"Degradation reason", res.SampleInfo.DegradedReason})
	}
	for i, prob := range res.Probabilities {
		label := i
		if i < len(res.Classes) {
			label = res.Classes[i]
		}
		summary = append(summary, []any{fmt.Sprintf("P(class %d)", label), prob})
	}
	for i, file := range p.Files {
		summary = append(summary, []any{fmt.Sprintf("File %d", i+1), file})
	}
	if err := writeRows(f, summarySheet, 1, summary); err != nil {
		return err
	}
	f.SetColWidth(summarySheet, "A", "A", 22)
	f.SetColWidth(summarySheet, "B", "B", 48)

	if _, err := f.NewSheet(topSheet); err != nil {
		return err
	}
	top := [][]any{{"Rank", "Feature", "Gene", "Importance", "Sample value"}}
	for i, ft := range res.TopFeatures {
		gene := ""
		if i < len(res.TopFeaturesWithGeneNames) {
			gene = res.TopFeaturesWithGeneNames[i].GeneName
		}
		top = append(top, []any{i + 1, ft.Feature, gene, ft.Importance, cellValue(ft.SampleValue)})
	}
	if err := writeRows(f, topSheet, 1, top); err != nil {
		return err
	}
	f.SetCellStyle(topSheet, "A1", "E1", headerStyle)
	f.SetColWidth(topSheet, "B", "B", 48)

	if _, err := f.NewSheet(rankingSheet); err != nil {
		return err
	}
	all := [][]any{{"Rank", "Feature", "Importance", "Sample value"}}
	for i, ft := range res.AllFeatureImportance {
		if i == maxRankedRows {
			break
		}
		all = append(all, []any{i + 1, ft.Feature, ft.Importance, cellValue(ft.SampleValue)})
	}
	if err := writeRows(f, rankingSheet, 1, all); err != nil {
		return err
	}
	f.SetCellStyle(rankingSheet, "A1", "D1", headerStyle)
	f.SetColWidth(rankingSheet, "B", "B", 48)

	f.SetActiveSheet(0)
	_, err = f.WriteTo(w)
	return err
}

func writeRows(f *excelize.File, sheet string, firstRow int, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, firstRow+i)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, firstRow+i, err)
		}
	}
	return nil
}

// cellValue leaves missing cells empty and writes text verbatim.
func cellValue(v quant.Value) any {
	switch {
	case v.IsText:
		return v.Str
	case v.IsMissing():
		return nil
	default:
		return v.Num
	}
}
