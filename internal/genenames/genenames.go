// Package genenames annotates model feature keys with human-readable gene
// symbols taken from a GDC STAR gene-counts reference file.
package genenames

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/quant"
)

// ReferenceSuffix is the file-name suffix of the annotation reference.
const ReferenceSuffix = "augmented_star_gene_counts.tsv"

var idPattern = regexp.MustCompile(`_([^_|]+)\|`)

// ExtractID pulls the identifier out of a feature key such as
// "gene_ENSG00000000003.15|tpm_unstranded".
func ExtractID(key string) string {
	if m := idPattern.FindStringSubmatch(key); m != nil {
		return m[1]
	}
	_, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	id, _, _ := strings.Cut(rest, "|")
	return id
}

// FindReference returns the first reference file under <baseDir>/assets/data.
func FindReference(baseDir string) (string, bool) {
	dir := filepath.Join(baseDir, "assets", "data")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ReferenceSuffix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), true
}

type cached struct {
	modTime time.Time
	mapping map[string]string
}

// Mapper loads reference mappings and keeps the most recent ones in memory,
// keyed by path and modification time.
type Mapper struct {
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cached
}

func NewMapper(logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{logger: logger, cache: make(map[string]cached)}
}

// LoadMapping reads gene_id -> gene_name. Read failures are logged and
// yield an empty mapping.
func (m *Mapper) LoadMapping(path string) map[string]string {
	st, err := os.Stat(path)
	if err != nil {
		m.logger.Warn("gene reference unavailable", zap.String("path", path), zap.Error(err))
		return map[string]string{}
	}

	m.mu.Lock()
	c, ok := m.cache[path]
	m.mu.Unlock()
	if ok && c.modTime.Equal(st.ModTime()) {
		return c.mapping
	}

	mapping := m.read(path)
	m.mu.Lock()
	m.cache[path] = cached{modTime: st.ModTime(), mapping: mapping}
	m.mu.Unlock()
	return mapping
}

func (m *Mapper) read(path string) map[string]string {
	t, err := quant.ReadTable(path)
	if err != nil {
		m.logger.Warn("gene reference unreadable", zap.String("path", path), zap.Error(err))
		return map[string]string{}
	}
	idCol, nameCol := -1, -1
	for i, h := range t.Header {
		switch h {
		case "gene_id":
			idCol = i
		case "gene_name":
			nameCol = i
		}
	}
	if idCol < 0 || nameCol < 0 {
		m.logger.Warn("gene reference lacks gene_id/gene_name columns",
			zap.String("path", path), zap.Strings("columns", t.Header))
		return map[string]string{}
	}

	mapping := make(map[string]string, len(t.Rows))
	for _, row := range t.Rows {
		id := strings.TrimSpace(t.Cell(row, idCol))
		name := strings.TrimSpace(t.Cell(row, nameCol))
		if id == "" || name == "" || id == "nan" || name == "nan" {
			continue
		}
		mapping[id] = name
	}
	m.logger.Debug("gene reference loaded", zap.String("path", path), zap.Int("genes", len(mapping)))
	return mapping
}

// MapFeatures returns one display name per feature key. Without a reference
// file the key itself is used; otherwise the mapped symbol, falling back to
// the extracted identifier.
func (m *Mapper) MapFeatures(keys []string, baseDir string) []string {
	names := make([]string, len(keys))
	ref, ok := FindReference(baseDir)
	if !ok {
		m.logger.Info("no gene reference found; using feature keys as names", zap.String("base_dir", baseDir))
		copy(names, keys)
		return names
	}
	mapping := m.LoadMapping(ref)
	for i, k := range keys {
		id := ExtractID(k)
		if name, ok := mapping[id]; ok {
			names[i] = name
			continue
		}
		names[i] = id
	}
	return names
}
