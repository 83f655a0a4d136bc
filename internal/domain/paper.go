package domain

import (
	"fmt"
	"strings"
	"time"
)

// Paper is the canonical, source-independent record of one academic paper.
// Values are immutable once built; a re-fetch produces a new Paper.
type Paper struct {
	ID              string
	Title           string
	Authors         []string
	Abstract        string
	Source          SourceType
	PublicationDate *time.Time
	Journal         string
	DOI             string
	URL             string
	Keywords        []string
}

// PaperID is a parsed "<source>:<native_id>" identifier.
type PaperID struct {
	Source   SourceType
	NativeID string
}

// String returns the wire form of the identifier.
func (id PaperID) String() string {
	return string(id.Source) + ":" + id.NativeID
}

// ParsePaperID splits a "<source>:<native_id>" identifier. Only the first
// colon separates the source; native ids may contain further colons.
func ParsePaperID(raw string) (PaperID, error) {
	raw = strings.TrimSpace(raw)
	prefix, native, ok := strings.Cut(raw, ":")
	if !ok || prefix == "" || strings.TrimSpace(native) == "" {
		return PaperID{}, NewValidationError("paper_id", fmt.Sprintf("malformed paper id %q", raw))
	}
	source, err := ParseSourceType(prefix)
	if err != nil {
		return PaperID{}, NewValidationError("paper_id", fmt.Sprintf("unknown source in paper id %q", raw))
	}
	return PaperID{Source: source, NativeID: native}, nil
}

// NewPaper builds a Paper for the given source and native id, enforcing the
// id/source invariant and normalizing free-text fields.
func NewPaper(source SourceType, nativeID string, p Paper) (*Paper, error) {
	nativeID = strings.TrimSpace(nativeID)
	if nativeID == "" {
		return nil, NewValidationError("id", "native id must not be empty")
	}
	if _, err := ParseSourceType(string(source)); err != nil {
		return nil, err
	}

	out := p
	out.Source = source
	out.ID = PaperID{Source: source, NativeID: nativeID}.String()
	out.Title = CollapseWhitespace(p.Title)
	out.Abstract = CollapseWhitespace(p.Abstract)
	out.Journal = strings.TrimSpace(p.Journal)
	out.DOI = NormalizeDOI(p.DOI)

	authors := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		if a = CollapseWhitespace(a); a != "" {
			authors = append(authors, a)
		}
	}
	out.Authors = authors

	seen := make(map[string]struct{}, len(p.Keywords))
	keywords := make([]string, 0, len(p.Keywords))
	for _, k := range p.Keywords {
		k = CollapseWhitespace(k)
		norm := strings.ToLower(k)
		if k == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		keywords = append(keywords, k)
	}
	out.Keywords = keywords

	if p.PublicationDate != nil {
		d := time.Date(p.PublicationDate.Year(), p.PublicationDate.Month(), p.PublicationDate.Day(), 0, 0, 0, 0, time.UTC)
		out.PublicationDate = &d
	}

	return &out, nil
}

// NativeID returns the source-specific part of the paper id.
func (p *Paper) NativeID() string {
	_, native, _ := strings.Cut(p.ID, ":")
	return native
}

// PublicationYear returns the publication year, or 0 when unknown.
func (p *Paper) PublicationYear() int {
	if p.PublicationDate == nil {
		return 0
	}
	return p.PublicationDate.Year()
}

// WithURL returns a copy of the paper with its URL replaced.
func (p *Paper) WithURL(url string) *Paper {
	cp := *p
	cp.URL = url
	return &cp
}
