// Command genelens assembles patient datasets from quantification files and
// runs offline predictions against a trained classifier.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/dataset"
	"github.com/Skufu/GeneLens/internal/features"
	"github.com/Skufu/GeneLens/internal/model"
	_ "github.com/Skufu/GeneLens/internal/model/cbm"
	_ "github.com/Skufu/GeneLens/internal/model/onnx"
	"github.com/Skufu/GeneLens/internal/predict"
	"github.com/Skufu/GeneLens/internal/quant"
)

var (
	baseDir        string
	placeholderDir string
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:           "genelens",
	Short:         "Assemble quantification files into feature rows and classify them",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", ".", "directory relative batch paths are resolved against")
	rootCmd.PersistentFlags().StringVar(&placeholderDir, "placeholders", "assets/data", "directory holding placeholder quantification files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline details to stderr")
	rootCmd.AddCommand(datasetCmd(), predictCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// readBatch loads {category: {patient_id: [path, ...]}} from a JSON file,
// which may be gzip-compressed.
func readBatch(path string) (dataset.Batch, error) {
	fh, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("open batch: %w", err)
	}
	defer fh.Close()
	var b dataset.Batch
	if err := json.NewDecoder(fh).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", path, err)
	}
	return b, nil
}

func assemble(batchPath string, logger *zap.Logger) (*dataset.Dataset, *dataset.Report, error) {
	batch, err := readBatch(batchPath)
	if err != nil {
		return nil, nil, err
	}
	a := dataset.NewAssembler(placeholderDir, dataset.WithLogger(logger))
	ds, report := a.Assemble(batch, baseDir)
	for _, o := range report.Outcomes {
		if !o.Accepted {
			fmt.Fprintf(os.Stderr, "dropped %s/%s: %s\n", o.Category, o.PatientID, o.Reason)
		}
	}
	return ds, report, nil
}

func datasetCmd() *cobra.Command {
	var out, refs string
	cmd := &cobra.Command{
		Use:   "dataset <batch.json>",
		Short: "Assemble a batch into a TSV feature matrix",
		Long: `Assemble every patient of a batch JSON into one row per patient and
write the matrix as TSV. The matrix holds feature columns only; --refs
writes the category and patient id of each row to a separate TSV in the
same order. Missing values are left empty. An output name ending in .gz
is compressed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()

			ds, report, err := assemble(args[0], logger)
			if err != nil {
				return err
			}
			if ds.Len() == 0 {
				return fmt.Errorf("no usable patients in %s", args[0])
			}
			if err := writeDataset(out, ds); err != nil {
				return err
			}
			if refs != "" {
				if err := writeRefs(refs, ds); err != nil {
					return err
				}
			}
			fmt.Fprintf(os.Stderr, "wrote %d patients x %d features (%d dropped)\n",
				ds.Len(), len(ds.Columns()), len(report.Outcomes)-report.Accepted())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", `output file ("-" for stdout)`)
	cmd.Flags().StringVar(&refs, "refs", "", "also write row,category,patient_id to this TSV")
	return cmd
}

// writeTSV opens path and hands it to fill. The error from closing, which
// includes the final buffer and gzip flush, is returned.
func writeTSV(path string, fill func(w io.Writer) error) (err error) {
	w, err := xopen.Wopen(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("write %s: %w", path, cerr)
		}
	}()
	return fill(w)
}

func writeDataset(path string, ds *dataset.Dataset) error {
	return writeTSV(path, func(w io.Writer) error {
		cols := ds.Columns()
		if _, err := fmt.Fprintln(w, strings.Join(cols, "\t")); err != nil {
			return err
		}
		cells := make([]string, len(cols))
		for i := 0; i < ds.Len(); i++ {
			for j, c := range cols {
				cells[j] = formatCell(ds.Value(i, c))
			}
			if _, err := fmt.Fprintln(w, strings.Join(cells, "\t")); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeRefs(path string, ds *dataset.Dataset) error {
	return writeTSV(path, func(w io.Writer) error {
		if _, err := fmt.Fprintln(w, "row\tcategory\tpatient_id"); err != nil {
			return err
		}
		for i, ref := range ds.Patients() {
			if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", i, ref.Category, ref.PatientID); err != nil {
				return err
			}
		}
		return nil
	})
}

func formatCell(v quant.Value) string {
	switch {
	case v.IsText:
		return v.Str
	case v.IsMissing():
		return ""
	default:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	}
}

func predictCmd() *cobra.Command {
	var (
		modelPath  string
		metaPath   string
		runtimeLib string
		topK       int
		strict     bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "predict <batch.json>",
		Short: "Classify the single patient of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()

			clf, err := model.Load(modelPath, model.Options{MetaPath: metaPath, RuntimeLib: runtimeLib, Logger: logger})
			if err != nil {
				return err
			}
			defer model.Close(clf)

			ds, _, err := assemble(args[0], logger)
			if err != nil {
				return err
			}
			if ds.Len() == 0 {
				return fmt.Errorf("no usable patients in %s", args[0])
			}

			p := predict.New(clf,
				predict.WithLogger(logger),
				predict.WithAligner(features.NewAligner(features.Strict(strict), features.WithLogger(logger))),
			)
			res, err := p.Predict(ds, predict.Options{TopK: topK, BaseDir: baseDir})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResult(cmd, ds.Patients()[0], res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelPath, "model", "m", "assets/catboost.json", "classifier artifact (.json, .cbm or .onnx)")
	cmd.Flags().StringVar(&metaPath, "meta", "", "metadata sidecar (default <model>.meta.json)")
	cmd.Flags().StringVar(&runtimeLib, "onnxruntime", os.Getenv("ONNXRUNTIME_LIB"), "onnxruntime shared library")
	cmd.Flags().IntVarP(&topK, "top", "k", predict.DefaultTopK, "number of ranked features to show")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail instead of truncating or padding when feature names are unavailable")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func printResult(cmd *cobra.Command, ref dataset.PatientRef, res *predict.Result) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "patient:    %s (%s)\n", ref.PatientID, ref.Category)
	fmt.Fprintf(w, "prediction: %d (%s)\n", res.PredictedClass, predict.Interpretation(res.PredictedClass))
	fmt.Fprintf(w, "confidence: %.4f\n", res.Confidence)
	if res.SampleInfo.Degraded {
		fmt.Fprintf(w, "warning:    %s\n", res.SampleInfo.DegradedReason)
	}
	fmt.Fprintln(w, "\nrank\timportance\tvalue\tfeature\tgene")
	for i, f := range res.TopFeatures {
		gene := ""
		if i < len(res.TopFeaturesWithGeneNames) {
			gene = res.TopFeaturesWithGeneNames[i].GeneName
		}
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\t%s\n", i+1, f.Importance, formatCell(f.SampleValue), f.Feature, gene)
	}
}
