// Package arxiv provides a paper source adapter for the arXiv Atom query API.
package arxiv

import "encoding/xml"

// feed represents the Atom XML response from the arXiv API.
type feed struct {
	XMLName      xml.Name `xml:"feed"`
	TotalResults int      `xml:"totalResults"`
	Entries      []entry  `xml:"entry"`
}

// entry represents a single arXiv paper in the Atom feed. The arXiv API
// reports unknown id_list members as an entry titled "Error".
type entry struct {
	ID         string     `xml:"id"` // "http://arxiv.org/abs/2301.12345v1"
	Title      string     `xml:"title"`
	Summary    string     `xml:"summary"`
	Published  string     `xml:"published"` // "2023-01-15T18:30:00Z"
	Authors    []author   `xml:"author"`
	Categories []category `xml:"category"`
	Links      []link     `xml:"link"`
	DOI        string     `xml:"doi"`
	JournalRef string     `xml:"journal_ref"`
}

type author struct {
	Name string `xml:"name"`
}

type category struct {
	Term string `xml:"term,attr"`
}

type link struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}
