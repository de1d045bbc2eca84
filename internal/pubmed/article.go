package pubmed

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// MaxAuthors is the number of authors kept per article.
const MaxAuthors = 5

type Article struct {
	PMID     string   `json:"pmid"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract"`
	Year     string   `json:"year"`
	Authors  []string `json:"authors"`
	Journal  string   `json:"journal"`
}

// Markdown renders the article as the plain-text document that is uploaded
// for retrieval and bundled in abstract downloads.
func (a Article) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", a.Title)
	fmt.Fprintf(&b, "**PMID:** %s\n", a.PMID)
	fmt.Fprintf(&b, "**Journal:** %s\n", a.Journal)
	fmt.Fprintf(&b, "**Year:** %s\n", a.Year)
	if len(a.Authors) > 0 {
		fmt.Fprintf(&b, "**Authors:** %s\n", strings.Join(a.Authors, ", "))
	}
	fmt.Fprintf(&b, "\n## Abstract\n\n%s\n\n---\n", a.Abstract)
	return b.String()
}

// FileName is the name used for the article in uploads and archives.
func (a Article) FileName() string {
	return "pubmed_" + a.PMID + ".txt"
}

// efetch XML, reduced to the fields we read.
type articleSet struct {
	Articles []xmlArticle `xml:"PubmedArticle"`
}

type xmlArticle struct {
	PMID    string `xml:"MedlineCitation>PMID"`
	Article struct {
		Title    innerText `xml:"ArticleTitle"`
		Abstract []section `xml:"Abstract>AbstractText"`
		Authors  []struct {
			LastName string `xml:"LastName"`
			ForeName string `xml:"ForeName"`
		} `xml:"AuthorList>Author"`
		Journal struct {
			Title   string `xml:"Title"`
			PubYear string `xml:"JournalIssue>PubDate>Year"`
		} `xml:"Journal"`
	} `xml:"MedlineCitation>Article"`
}

// innerText keeps the character data of an element and its children, so
// titles with <i> or <sup> markup are not truncated.
type innerText string

func (t *innerText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch v := tok.(type) {
		case xml.CharData:
			b.Write(v)
		case xml.EndElement:
			if v.Name == start.Name {
				*t = innerText(b.String())
				return nil
			}
		}
	}
}

// section is one AbstractText, optionally labelled (BACKGROUND, METHODS, ...).
type section struct {
	Label string
	Text  innerText
}

func (s *section) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		if attr.Name.Local == "Label" {
			s.Label = attr.Value
		}
	}
	return s.Text.UnmarshalXML(d, start)
}

func (x xmlArticle) toArticle() (Article, error) {
	if strings.TrimSpace(x.PMID) == "" {
		return Article{}, fmt.Errorf("article without PMID")
	}
	a := Article{
		PMID:    strings.TrimSpace(x.PMID),
		Title:   clean(string(x.Article.Title)),
		Year:    strings.TrimSpace(x.Article.Journal.PubYear),
		Journal: strings.TrimSpace(x.Article.Journal.Title),
	}
	if a.Title == "" {
		a.Title = "No title"
	}
	if a.Year == "" {
		a.Year = "Unknown"
	}
	if a.Journal == "" {
		a.Journal = "Unknown Journal"
	}

	var parts []string
	for _, s := range x.Article.Abstract {
		text := clean(string(s.Text))
		if text == "" {
			continue
		}
		if s.Label != "" {
			text = s.Label + ": " + text
		}
		parts = append(parts, text)
	}
	a.Abstract = strings.Join(parts, " ")
	if a.Abstract == "" {
		a.Abstract = "No abstract available"
	}

	for _, au := range x.Article.Authors {
		if au.LastName == "" {
			continue
		}
		name := au.LastName
		if au.ForeName != "" {
			name += ", " + au.ForeName
		}
		a.Authors = append(a.Authors, name)
		if len(a.Authors) == MaxAuthors {
			break
		}
	}
	return a, nil
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
