package report

import (
	"archive/zip"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Skufu/GeneLens/internal/pubmed"
)

// WriteAbstracts writes one markdown file per article plus a README.txt
// summary into a ZIP archive.
func WriteAbstracts(w io.Writer, gene string, articles []pubmed.Article, now time.Time) error {
	zw := zip.NewWriter(w)
	for _, a := range articles {
		if err := writeEntry(zw, a.FileName(), a.Markdown(), now); err != nil {
			return err
		}
	}
	if err := writeEntry(zw, "README.txt", Summary(gene, articles, now), now); err != nil {
		return err
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, name, body string, now time.Time) error {
	f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: now})
	if err != nil {
		return fmt.Errorf("zip %s: %w", name, err)
	}
	_, err = io.WriteString(f, body)
	return err
}

// Summary renders the README placed in abstract bundles.
func Summary(gene string, articles []pubmed.Article, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gene Research Summary: %s\n", gene)
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&b, "Generated on: %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Total articles: %d\n\n", len(articles))

	years := map[string]int{}
	for _, a := range articles {
		years[a.Year]++
	}
	keys := make([]string, 0, len(years))
	for y := range years {
		keys = append(keys, y)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	b.WriteString("Year Distribution:\n")
	for _, y := range keys {
		fmt.Fprintf(&b, "  %s: %d articles\n", y, years[y])
	}

	b.WriteString("\nArticles Included:\n")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for i, a := range articles {
		fmt.Fprintf(&b, "%d. PMID: %s\n", i+1, a.PMID)
		fmt.Fprintf(&b, "   Title: %s\n", a.Title)
		fmt.Fprintf(&b, "   Journal: %s (%s)\n", a.Journal, a.Year)
		authors := a.Authors
		more := ""
		if len(authors) > 3 {
			authors, more = authors[:3], "..."
		}
		fmt.Fprintf(&b, "   Authors: %s%s\n\n", strings.Join(authors, ", "), more)
	}
	return b.String()
}
