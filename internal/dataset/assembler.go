// Package dataset assembles per-patient feature rows from quantification
// files. Gene expression is mandatory; miRNA isoform and aggregate data are
// optional and backfilled with NaN rows shaped like a placeholder file.
package dataset

import (
	"errors"
	"io/fs"
	"sort"

	"github.com/maruel/natural"
	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/quant"
)

// Batch maps category -> patient id -> file paths.
type Batch map[string]map[string][]string

// Outcome records what happened to one patient during assembly.
type Outcome struct {
	PatientRef
	Accepted     bool         `json:"accepted"`
	Reason       string       `json:"reason,omitempty"`
	Files        Selection    `json:"files"`
	Placeholders []quant.Kind `json:"placeholders,omitempty"`
	Skipped      []quant.Kind `json:"skipped,omitempty"`
	Features     int          `json:"features"`
}

// Report lists one outcome per patient in processing order.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
}

func (r *Report) Accepted() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Accepted {
			n++
		}
	}
	return n
}

// Assembler builds datasets from batches.
type Assembler struct {
	parser         *quant.Parser
	placeholderDir string
	logger         *zap.Logger
}

type Option func(*Assembler)

func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

func WithParser(p *quant.Parser) Option {
	return func(a *Assembler) { a.parser = p }
}

// NewAssembler returns an assembler that looks for placeholder files in
// placeholderDir.
func NewAssembler(placeholderDir string, opts ...Option) *Assembler {
	a := &Assembler{
		placeholderDir: placeholderDir,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.parser == nil {
		a.parser = quant.NewParser(quant.WithLogger(a.logger))
	}
	return a
}

// Assemble builds one row per accepted patient. Categories and patients are
// visited in natural order. Per-patient failures are logged and reported,
// never returned; a batch with no usable patient yields an empty dataset.
func (a *Assembler) Assemble(batch Batch, baseDir string) (*Dataset, *Report) {
	ds := New()
	report := &Report{}

	for _, category := range sortedKeys(batch) {
		patients := batch[category]
		ids := make([]string, 0, len(patients))
		for id := range patients {
			ids = append(ids, id)
		}
		sort.Sort(natural.StringSlice(ids))

		for _, id := range ids {
			ref := PatientRef{Category: category, PatientID: id}
			rec, out := a.assemblePatient(ref, patients[id], baseDir)
			report.Outcomes = append(report.Outcomes, out)
			if out.Accepted {
				ds.Append(ref, rec)
			}
		}
	}

	if ds.Len() == 0 {
		a.logger.Warn("no usable patient rows in batch", zap.Int("patients", len(report.Outcomes)))
	}
	return ds, report
}

func (a *Assembler) assemblePatient(ref PatientRef, paths []string, baseDir string) (quant.Record, Outcome) {
	log := a.logger.With(zap.String("patient_id", ref.PatientID), zap.String("category", ref.Category))
	sel := Select(paths, baseDir)
	out := Outcome{PatientRef: ref, Files: sel}

	if sel.Gene == "" {
		out.Reason = "no gene expression file"
		log.Warn("patient dropped: gene expression file missing")
		return quant.Record{}, out
	}

	gene, err := a.parser.ParseGeneExpression(sel.Gene)
	if err != nil {
		out.Reason = err.Error()
		log.Error("patient dropped: gene expression parse failed", zap.String("path", sel.Gene), zap.Error(err))
		return quant.Record{}, out
	}

	row := quant.NewRecord(gene.Record.Len())
	row.Merge(gene.Record)

	for _, kind := range []quant.Kind{quant.MirnaIsoform, quant.MirnaAggregate} {
		rec, placeholder, err := a.optional(kind, sel.Path(kind), log)
		if err != nil {
			out.Skipped = append(out.Skipped, kind)
			log.Error("optional quantification skipped", zap.Stringer("kind", kind), zap.Error(err))
			continue
		}
		if placeholder {
			out.Placeholders = append(out.Placeholders, kind)
		}
		row.Merge(rec)
	}

	out.Accepted = true
	out.Features = row.Len()
	return row, out
}

// optional parses an isoform or aggregate file. When the file is absent the
// placeholder's key set is emitted with every value missing.
func (a *Assembler) optional(kind quant.Kind, path string, log *zap.Logger) (quant.Record, bool, error) {
	if path != "" {
		res, err := a.parser.Parse(kind, path)
		if err == nil {
			return res.Record, false, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return quant.Record{}, false, err
		}
		log.Warn("quantification file not found; using placeholder", zap.Stringer("kind", kind), zap.String("path", path))
	}

	placeholder, err := FindPlaceholder(a.placeholderDir, kind)
	if err != nil {
		log.Warn("no placeholder available; category contributes no features",
			zap.Stringer("kind", kind), zap.String("dir", a.placeholderDir))
		return quant.Record{}, false, nil
	}
	res, err := a.parser.Parse(kind, placeholder)
	if err != nil {
		return quant.Record{}, false, err
	}
	log.Info("using placeholder shape", zap.Stringer("kind", kind), zap.String("placeholder", placeholder))
	return res.Record.Blank(), true, nil
}

func sortedKeys(b Batch) []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Sort(natural.StringSlice(keys))
	return keys
}
