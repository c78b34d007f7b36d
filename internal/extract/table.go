// Package extract turns classified HTML table rows into normalized records.
package extract

import (
	"slices"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/racing-crawler/internal/record"
)

// Link is an anchor found inside a cell.
type Link struct {
	Href string
	Text string
}

// Cell is one table cell reduced to its text.
type Cell struct {
	// Label is the data-label attribute, which some layouts use in place of headers.
	Label string
	// Text is the whole cell text with whitespace collapsed.
	Text string
	// Lines holds each non-blank text node in document order.
	Lines []string
	Links []Link
	// Small is the text of the first span.small, used for speed figures.
	Small string
}

// Row is one data row together with the headers of its table.
type Row struct {
	Headers []string
	Cells   []Cell
	// Index is the 1-based position of the row among data rows.
	Index int
}

// Table is an HTML table split into headers and data rows.
type Table struct {
	Headers []string
	Rows    []Row
}

// TextCells builds plain cells from strings.
func TextCells(texts ...string) []Cell {
	cells := make([]Cell, 0, len(texts))
	for _, t := range texts {
		c := Cell{Text: record.Clean(t)}
		if c.Text != "" {
			c.Lines = []string{c.Text}
		}
		cells = append(cells, c)
	}
	return cells
}

// Tables reads every table under sel in document order.
func Tables(sel *goquery.Selection) []Table {
	var out []Table
	sel.Find("table").Each(func(_ int, tbl *goquery.Selection) {
		out = append(out, ReadTable(tbl))
	})
	return out
}

// ReadTable reads one table. Rows without td cells are treated as header rows.
func ReadTable(tbl *goquery.Selection) Table {
	var t Table
	tbl.Find("th").Each(func(_ int, th *goquery.Selection) {
		if text := record.Clean(th.Text()); text != "" {
			t.Headers = append(t.Headers, text)
		}
	})
	index := 0
	tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.ChildrenFiltered("td")
		if tds.Length() == 0 {
			return
		}
		index++
		cells := make([]Cell, 0, tds.Length())
		tds.Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, ReadCell(td))
		})
		t.Rows = append(t.Rows, Row{Headers: t.Headers, Cells: cells, Index: index})
	})
	return t
}

// ReadCell captures the text, lines and links of a single cell.
func ReadCell(td *goquery.Selection) Cell {
	label, _ := td.Attr("data-label")
	c := Cell{
		Label: strings.TrimSpace(label),
		Text:  record.Clean(td.Text()),
		Small: record.Clean(td.Find("span.small").First().Text()),
	}
	for _, n := range td.Nodes {
		collectLines(n, &c.Lines)
	}
	td.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		c.Links = append(c.Links, Link{Href: strings.TrimSpace(href), Text: record.Clean(a.Text())})
	})
	return c
}

func collectLines(n *html.Node, out *[]string) {
	switch n.Type {
	case html.TextNode:
		if s := record.Clean(n.Data); s != "" {
			*out = append(*out, s)
		}
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		collectLines(ch, out)
	}
}

// texts returns the non-blank whole-cell texts.
func texts(cells []Cell) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		if c.Text != "" {
			out = append(out, c.Text)
		}
	}
	return out
}

// lines flattens the lines of cells, in order.
func lines(cells []Cell) []string {
	var out []string
	for _, c := range cells {
		out = append(out, c.Lines...)
	}
	return out
}

// column finds the cell whose data-label or header contains one of keywords.
func column(row Row, keywords ...string) (int, bool) {
	for i, c := range row.Cells {
		if headerMatches(c.Label, keywords) {
			return i, true
		}
	}
	for i := range row.Cells {
		if i < len(row.Headers) && headerMatches(row.Headers[i], keywords) {
			return i, true
		}
	}
	return -1, false
}

// headerMatches reports whether any keyword appears in text as whole words,
// so "pp" matches "PP" but not "Apprentice". Multi-word keywords such as
// "morning line" or "m/l" must appear as consecutive words.
func headerMatches(text string, keywords []string) bool {
	words := headerWords(text)
	if len(words) == 0 {
		return false
	}
	for _, kw := range keywords {
		if hasRun(words, headerWords(kw)) {
			return true
		}
	}
	return false
}

func headerWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasRun(words, run []string) bool {
	if len(run) == 0 {
		return false
	}
	for i := 0; i+len(run) <= len(words); i++ {
		if slices.Equal(words[i:i+len(run)], run) {
			return true
		}
	}
	return false
}
