package pubmed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const esearchXML = `<?xml version="1.0" encoding="UTF-8"?>
<eSearchResult><Count>2</Count><RetMax>2</RetMax>
<IdList><Id>111</Id><Id>222</Id></IdList>
</eSearchResult>`

const efetchXML = `<?xml version="1.0"?>
<PubmedArticleSet>
 <PubmedArticle>
  <MedlineCitation>
   <PMID Version="1">222</PMID>
   <Article>
    <Journal><JournalIssue><PubDate><Year>2021</Year></PubDate></JournalIssue><Title>Oncogene</Title></Journal>
    <ArticleTitle>RUNX1   in <i>leukemia</i></ArticleTitle>
    <Abstract>
     <AbstractText Label="BACKGROUND">First
       part.</AbstractText>
     <AbstractText>Second part.</AbstractText>
    </Abstract>
    <AuthorList>
     <Author><LastName>Rossi</LastName><ForeName>Anna</ForeName></Author>
     <Author><CollectiveName>Consortium</CollectiveName></Author>
     <Author><LastName>Bianchi</LastName></Author>
    </AuthorList>
   </Article>
  </MedlineCitation>
 </PubmedArticle>
 <PubmedArticle>
  <MedlineCitation>
   <PMID>111</PMID>
   <Article><ArticleTitle>Bare</ArticleTitle></Article>
  </MedlineCitation>
 </PubmedArticle>
</PubmedArticleSet>`

func fakeEutils(t *testing.T, fetches *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "esearch.fcgi"):
			if !strings.Contains(r.URL.Query().Get("term"), "RUNX1[Gene Name]") {
				t.Errorf("unexpected term %q", r.URL.Query().Get("term"))
			}
			w.Write([]byte(esearchXML))
		case strings.HasSuffix(r.URL.Path, "efetch.fcgi"):
			atomic.AddInt32(fetches, 1)
			w.Write([]byte(efetchXML))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestValidateGeneName(t *testing.T) {
	for _, ok := range []string{"RUNX1", "  TP53 ", "HLA-A", "mir_21"} {
		if err := ValidateGeneName(ok); err != nil {
			t.Fatalf("%q should be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "A", "BRCA1; DROP", "a b"} {
		if err := ValidateGeneName(bad); !errors.Is(err, ErrInvalidGeneName) {
			t.Fatalf("%q should be invalid, got %v", bad, err)
		}
	}
}

func TestSearchAndFetch(t *testing.T) {
	var fetches int32
	srv := fakeEutils(t, &fetches)
	c := NewClient(WithBaseURL(srv.URL), WithBatchPause(0))

	ids, err := c.Search(context.Background(), "RUNX1", 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 2 || ids[0] != "111" {
		t.Fatalf("unexpected ids %v", ids)
	}

	articles, err := c.Fetch(context.Background(), ids)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(articles) != 2 || articles[0].PMID != "111" {
		t.Fatalf("articles should follow pmid order, got %+v", articles)
	}
	bare, full := articles[0], articles[1]
	if bare.Abstract != "No abstract available" || bare.Year != "Unknown" || bare.Journal != "Unknown Journal" {
		t.Fatalf("unexpected defaults %+v", bare)
	}
	if full.Title != "RUNX1 in leukemia" {
		t.Fatalf("title markup should be flattened, got %q", full.Title)
	}
	if full.Abstract != "BACKGROUND: First part. Second part." {
		t.Fatalf("unexpected abstract %q", full.Abstract)
	}
	if len(full.Authors) != 2 || full.Authors[0] != "Rossi, Anna" || full.Authors[1] != "Bianchi" {
		t.Fatalf("unexpected authors %v", full.Authors)
	}
	if full.Year != "2021" || full.Journal != "Oncogene" {
		t.Fatalf("unexpected journal info %+v", full)
	}
}

func TestSearchRejectsInvalidName(t *testing.T) {
	c := NewClient(WithBaseURL("http://127.0.0.1:0"))
	if _, err := c.Search(context.Background(), "x", 10); !errors.Is(err, ErrInvalidGeneName) {
		t.Fatalf("expected ErrInvalidGeneName, got %v", err)
	}
}

func TestFetchSkipsFailedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	articles, err := NewClient(WithBaseURL(srv.URL)).Fetch(context.Background(), []string{"1"})
	if err != nil {
		t.Fatalf("batch failures are not fatal: %v", err)
	}
	if len(articles) != 0 {
		t.Fatalf("expected no articles, got %d", len(articles))
	}
}

func TestFetchUsesCache(t *testing.T) {
	var fetches int32
	srv := fakeEutils(t, &fetches)
	cache, err := OpenCache(t.TempDir())
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	c := NewClient(WithBaseURL(srv.URL), WithCache(cache), WithBatchPause(0))
	if _, err := c.Fetch(context.Background(), []string{"111", "222"}); err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 2 {
		t.Fatalf("expected 2 cached articles, got %d", cache.Len())
	}
	articles, err := c.Fetch(context.Background(), []string{"222"})
	if err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&fetches); got != 1 {
		t.Fatalf("second fetch should be served from cache, efetch called %d times", got)
	}
	if len(articles) != 1 || articles[0].Title != "RUNX1 in leukemia" {
		t.Fatalf("unexpected cached article %+v", articles)
	}
}

func TestMarkdown(t *testing.T) {
	a := Article{PMID: "9", Title: "T", Journal: "J", Year: "2020", Authors: []string{"A, B", "C"}, Abstract: "Text."}
	md := a.Markdown()
	for _, want := range []string{"# T\n", "**PMID:** 9\n", "**Authors:** A, B, C\n", "## Abstract\n\nText.\n", "---\n"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
	if a.FileName() != "pubmed_9.txt" {
		t.Fatalf("unexpected file name %q", a.FileName())
	}
}
