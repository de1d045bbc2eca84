package dataset

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Skufu/GeneLens/internal/quant"
)

// WXSMarker identifies whole-exome files, which never carry expression data.
const WXSMarker = ".wxs."

// Classify returns the quantification kind of a file from its name.
func Classify(path string) (quant.Kind, bool) {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(name, "rna_seq"),
		strings.Contains(name, "gene_counts"),
		strings.Contains(name, "star_gene"):
		return quant.GeneExpression, true
	case strings.Contains(name, "isoform"):
		return quant.MirnaIsoform, true
	case strings.Contains(name, "mirna"):
		return quant.MirnaAggregate, true
	}
	return 0, false
}

// Selection holds at most one file per kind for a patient.
type Selection struct {
	Gene      string `json:"gene_expr,omitempty"`
	Isoform   string `json:"mirna_iso,omitempty"`
	Aggregate string `json:"mirna_agg,omitempty"`
}

func (s Selection) Path(kind quant.Kind) string {
	switch kind {
	case quant.GeneExpression:
		return s.Gene
	case quant.MirnaIsoform:
		return s.Isoform
	case quant.MirnaAggregate:
		return s.Aggregate
	}
	return ""
}

// Select drops whole-exome paths and keeps the first path of each kind,
// resolving relative paths against baseDir.
func Select(paths []string, baseDir string) Selection {
	var s Selection
	for _, p := range paths {
		if strings.Contains(p, WXSMarker) {
			continue
		}
		kind, ok := Classify(p)
		if !ok {
			continue
		}
		full := resolve(baseDir, p)
		switch kind {
		case quant.GeneExpression:
			if s.Gene == "" {
				s.Gene = full
			}
		case quant.MirnaIsoform:
			if s.Isoform == "" {
				s.Isoform = full
			}
		case quant.MirnaAggregate:
			if s.Aggregate == "" {
				s.Aggregate = full
			}
		}
	}
	return s
}

func resolve(baseDir, p string) string {
	if baseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// FindPlaceholder returns the first file in dir, by name, classified as kind.
func FindPlaceholder(dir string, kind quant.Kind) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), WXSMarker) {
			continue
		}
		if k, ok := Classify(e.Name()); ok && k == kind {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", os.ErrNotExist
}
