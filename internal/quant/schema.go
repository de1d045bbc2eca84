package quant

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Kind identifies one of the supported quantification file formats.
type Kind int

const (
	GeneExpression Kind = iota
	MirnaIsoform
	MirnaAggregate
)

func (k Kind) String() string {
	switch k {
	case GeneExpression:
		return "gene_expr"
	case MirnaIsoform:
		return "mirna_iso"
	case MirnaAggregate:
		return "mirna_agg"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Prefix is the feature-key prefix emitted for the kind.
func (k Kind) Prefix() string {
	switch k {
	case GeneExpression:
		return "gene"
	case MirnaIsoform:
		return "mirna_iso"
	case MirnaAggregate:
		return "mirna_agg"
	default:
		return ""
	}
}

// Schema declares the columns of one revision of a quantification format.
type Schema struct {
	Name    string
	Version int
	Kind    Kind

	IDColumn    string
	CoordColumn string // isoform files only
	Metrics     []string

	// RequireAllMetrics rejects files missing any metric column. When false,
	// only the metrics present in the file are emitted.
	RequireAllMetrics bool
}

func (s Schema) required() []string {
	cols := []string{s.IDColumn}
	if s.CoordColumn != "" {
		cols = append(cols, s.CoordColumn)
	}
	if s.RequireAllMetrics {
		cols = append(cols, s.Metrics...)
	}
	return cols
}

// Column is a resolved header name and its position.
type Column struct {
	Name  string
	Index int
}

// Resolved binds a schema to the header of a concrete file.
type Resolved struct {
	Schema  Schema
	ID      Column
	Coord   Column
	Metrics []Column

	// Drift is set when no registered schema matched and the columns were
	// found by the substring heuristic instead.
	Drift bool
}

// SchemaError reports required columns absent from an input file.
type SchemaError struct {
	Path      string
	Kind      Kind
	Missing   []string
	Available []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s file %s: missing columns %v (available: %v)",
		e.Kind, e.Path, e.Missing, e.Available)
}

// Registry holds the known schema revisions per file kind.
type Registry struct {
	mu      sync.RWMutex
	schemas map[Kind][]Schema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[Kind][]Schema)}
}

var geneMetrics = []string{
	"unstranded",
	"stranded_first",
	"stranded_second",
	"tpm_unstranded",
	"fpkm_unstranded",
	"fpkm_uq_unstranded",
}

// DefaultRegistry returns the GDC STAR-counts and miRBase v21 layouts.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Schema{
		Name:              "gdc-star-augmented-counts",
		Version:           1,
		Kind:              GeneExpression,
		IDColumn:          "gene_id",
		Metrics:           geneMetrics,
		RequireAllMetrics: true,
	})
	r.Register(Schema{
		Name:        "mirbase21-isoforms",
		Version:     1,
		Kind:        MirnaIsoform,
		IDColumn:    "miRNA_ID",
		CoordColumn: "isoform_coords",
		Metrics:     []string{"read_count", "reads_per_million_miRNA_mapped", "miRNA_region"},
	})
	r.Register(Schema{
		Name:     "mirbase21-mirnas",
		Version:  1,
		Kind:     MirnaAggregate,
		IDColumn: "miRNA_ID",
		Metrics:  []string{"read_count", "reads_per_million_miRNA_mapped"},
	})
	return r
}

func (r *Registry) Register(s Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Kind] = append(r.schemas[s.Kind], s)
}

// Schemas returns the registered revisions for kind, highest version first.
func (r *Registry) Schemas(kind Kind) []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]Schema(nil), r.schemas[kind]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}

// Resolve picks the registered schema that best matches header: every
// required column present, then most columns present, then highest version.
// Isoform and aggregate files fall back to substring matching, flagged as drift.
func (r *Registry) Resolve(kind Kind, header []string, path string) (Resolved, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	schemas := r.Schemas(kind)
	var (
		best      *Resolved
		bestScore = -1
		missing   []string
	)
	for _, s := range schemas {
		res, miss := bind(s, index)
		if len(miss) > 0 {
			if missing == nil {
				missing = miss
			}
			continue
		}
		score := 1 + len(res.Metrics)
		if s.CoordColumn != "" {
			score++
		}
		if score > bestScore {
			res := res
			best, bestScore = &res, score
		}
	}
	if best != nil {
		return *best, nil
	}

	if kind != GeneExpression && len(schemas) > 0 {
		if res, ok := fuzzyBind(schemas[0], header, index); ok {
			return res, nil
		}
	}
	if missing == nil && len(schemas) > 0 {
		missing = schemas[0].required()
	}
	return Resolved{}, &SchemaError{
		Path:      path,
		Kind:      kind,
		Missing:   missing,
		Available: append([]string(nil), header...),
	}
}

func bind(s Schema, index map[string]int) (Resolved, []string) {
	var missing []string
	for _, c := range s.required() {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return Resolved{}, missing
	}
	res := Resolved{Schema: s, ID: Column{Name: s.IDColumn, Index: index[s.IDColumn]}}
	if s.CoordColumn != "" {
		res.Coord = Column{Name: s.CoordColumn, Index: index[s.CoordColumn]}
	}
	for _, m := range s.Metrics {
		if i, ok := index[m]; ok {
			res.Metrics = append(res.Metrics, Column{Name: m, Index: i})
		}
	}
	return res, nil
}

// normalizeHeader folds case after NFKC. Casers are stateful, so one is
// built per call.
func normalizeHeader(h string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(h)))
}

func fuzzyBind(s Schema, header []string, index map[string]int) (Resolved, bool) {
	res := Resolved{Schema: s, Drift: true}
	res.ID.Index = -1
	res.Coord.Index = -1
	for i, h := range header {
		n := normalizeHeader(h)
		if res.ID.Index < 0 && strings.Contains(n, "mirna") {
			res.ID = Column{Name: h, Index: i}
		}
		if s.CoordColumn != "" && res.Coord.Index < 0 && strings.Contains(n, "coord") {
			res.Coord = Column{Name: h, Index: i}
		}
	}
	if res.ID.Index < 0 || (s.CoordColumn != "" && res.Coord.Index < 0) {
		return Resolved{}, false
	}
	for _, m := range s.Metrics {
		if i, ok := index[m]; ok && i != res.ID.Index {
			res.Metrics = append(res.Metrics, Column{Name: m, Index: i})
		}
	}
	return res, true
}
