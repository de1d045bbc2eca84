// Package quant parses GDC quantification files (STAR gene counts, miRNA
// isoform and miRNA aggregate quantifications) into flat feature records
// keyed "<prefix>_<identifier>|<metric>".
package quant

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// QCPrefix marks STAR summary rows (N_unmapped, N_multimapping, ...).
const QCPrefix = "N_"

// Result is the output of parsing one file.
type Result struct {
	Kind   Kind
	Path   string
	Record Record
	Schema Resolved

	// Duplicates lists identifiers seen more than once, in order of first
	// appearance. Only the first row of each was kept.
	Duplicates []string
	// Excluded counts QC summary rows skipped in gene-expression files.
	Excluded int
	// Dropped counts isoform rows discarded for missing required values.
	Dropped int
}

// Parser turns quantification files into feature records.
type Parser struct {
	registry *Registry
	logger   *zap.Logger
}

type Option func(*Parser)

func WithRegistry(r *Registry) Option {
	return func(p *Parser) { p.registry = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{
		registry: DefaultRegistry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse dispatches to the parser for kind.
func (p *Parser) Parse(kind Kind, path string) (*Result, error) {
	switch kind {
	case GeneExpression:
		return p.ParseGeneExpression(path)
	case MirnaIsoform:
		return p.ParseIsoforms(path)
	case MirnaAggregate:
		return p.ParseAggregate(path)
	default:
		return nil, fmt.Errorf("unsupported file kind %v", kind)
	}
}

func (p *Parser) load(kind Kind, path string) (*Table, Resolved, error) {
	t, err := ReadTable(path)
	if err != nil {
		if errors.Is(err, errNoHeader) {
			return nil, Resolved{}, &SchemaError{Path: path, Kind: kind, Missing: p.requiredFor(kind)}
		}
		return nil, Resolved{}, err
	}
	res, err := p.registry.Resolve(kind, t.Header, path)
	if err != nil {
		return nil, Resolved{}, err
	}
	if res.Drift {
		p.logger.Warn("quantification header matched no registered schema; using substring match",
			zap.String("path", path),
			zap.Stringer("kind", kind),
			zap.String("id_column", res.ID.Name),
			zap.String("coord_column", res.Coord.Name),
			zap.Strings("header", t.Header),
		)
	}
	return t, res, nil
}

func (p *Parser) requiredFor(kind Kind) []string {
	if s := p.registry.Schemas(kind); len(s) > 0 {
		return s[0].required()
	}
	return nil
}

// ParseGeneExpression reads a STAR augmented gene-counts file. QC rows are
// excluded and duplicate gene ids keep their first occurrence.
func (p *Parser) ParseGeneExpression(path string) (*Result, error) {
	t, res, err := p.load(GeneExpression, path)
	if err != nil {
		return nil, err
	}

	out := &Result{Kind: GeneExpression, Path: path, Schema: res}
	rows := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		if strings.HasPrefix(t.Cell(row, res.ID.Index), QCPrefix) {
			out.Excluded++
			continue
		}
		rows = append(rows, row)
	}
	rows, out.Duplicates = dedupe(t, rows, res.ID.Index)
	p.reportDuplicates(out)

	out.Record = emit(t, rows, column(t, rows, res.ID.Index), GeneExpression.Prefix(), res)
	return out, nil
}

// ParseIsoforms reads a miRNA isoform quantification. Rows missing any
// required value are dropped; each remaining row gets a per-miRNA ordinal
// suffix so that repeated isoforms of one miRNA produce distinct keys.
func (p *Parser) ParseIsoforms(path string) (*Result, error) {
	t, res, err := p.load(MirnaIsoform, path)
	if err != nil {
		return nil, err
	}

	required := []int{res.ID.Index, res.Coord.Index}
	for _, m := range res.Metrics {
		required = append(required, m.Index)
	}

	out := &Result{Kind: MirnaIsoform, Path: path, Schema: res}
	rows := make([][]string, 0, len(t.Rows))
	ids := make([]string, 0, len(t.Rows))
	seen := make(map[string]int)
	for _, row := range t.Rows {
		if anyMissing(t, row, required) {
			out.Dropped++
			continue
		}
		id := t.Cell(row, res.ID.Index)
		ids = append(ids, id+"_"+IsoformSuffix(seen[id]))
		seen[id]++
		rows = append(rows, row)
	}
	if out.Dropped > 0 {
		p.logger.Debug("dropped isoform rows with missing values",
			zap.String("path", path), zap.Int("rows", out.Dropped))
	}

	out.Record = emit(t, rows, ids, MirnaIsoform.Prefix(), res)
	return out, nil
}

// ParseAggregate reads a miRNA aggregate quantification. Duplicate miRNA ids
// keep their first occurrence.
func (p *Parser) ParseAggregate(path string) (*Result, error) {
	t, res, err := p.load(MirnaAggregate, path)
	if err != nil {
		return nil, err
	}

	out := &Result{Kind: MirnaAggregate, Path: path, Schema: res}
	rows, dups := dedupe(t, t.Rows, res.ID.Index)
	out.Duplicates = dups
	p.reportDuplicates(out)

	out.Record = emit(t, rows, column(t, rows, res.ID.Index), MirnaAggregate.Prefix(), res)
	return out, nil
}

func (p *Parser) reportDuplicates(r *Result) {
	if len(r.Duplicates) == 0 {
		return
	}
	examples := r.Duplicates
	if len(examples) > 3 {
		examples = examples[:3]
	}
	p.logger.Warn("duplicate identifiers found; keeping first occurrence",
		zap.String("path", r.Path),
		zap.Stringer("kind", r.Kind),
		zap.Int("count", len(r.Duplicates)),
		zap.Strings("examples", examples),
	)
}

// dedupe keeps the first row per identifier and lists the duplicated ids.
func dedupe(t *Table, rows [][]string, idIdx int) ([][]string, []string) {
	seen := make(map[string]int, len(rows))
	kept := rows[:0:0]
	var dups []string
	for _, row := range rows {
		id := t.Cell(row, idIdx)
		n := seen[id]
		seen[id] = n + 1
		if n == 0 {
			kept = append(kept, row)
			continue
		}
		if n == 1 {
			dups = append(dups, id)
		}
	}
	return kept, dups
}

func anyMissing(t *Table, row []string, cols []int) bool {
	for _, c := range cols {
		if ParseCell(t.Cell(row, c)).IsMissing() {
			return true
		}
	}
	return false
}

func column(t *Table, rows [][]string, idx int) []string {
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = t.Cell(row, idx)
	}
	return out
}

// emit builds metric-major keys: every identifier for the first metric,
// then every identifier for the next one. ids[i] names rows[i].
func emit(t *Table, rows [][]string, ids []string, prefix string, res Resolved) Record {
	rec := NewRecord(len(rows) * len(res.Metrics))
	for _, m := range res.Metrics {
		for i, row := range rows {
			rec.Set(featureKey(prefix, ids[i], m.Name), ParseCell(t.Cell(row, m.Index)))
		}
	}
	return rec
}

func featureKey(prefix, id, metric string) string {
	return prefix + "_" + id + "|" + metric
}
