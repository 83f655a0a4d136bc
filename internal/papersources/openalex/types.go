// Package openalex provides the "other" paper source, backed by the OpenAlex
// works API.
//
// OpenAlex is a free, open catalog of scholarly works. Native ids are the
// short work identifiers ("W2741809807"), so a paper id looks like
// "other:W2741809807".
//
// API Documentation: https://docs.openalex.org/
package openalex

// worksResponse is the envelope returned by the /works list endpoint.
type worksResponse struct {
	Meta    meta   `json:"meta"`
	Results []work `json:"results"`
}

type meta struct {
	Count   int `json:"count"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// work is the subset of an OpenAlex work record this source maps.
type work struct {
	ID              string       `json:"id"`
	DOI             string       `json:"doi"`
	Title           string       `json:"title"`
	DisplayName     string       `json:"display_name"`
	PublicationDate string       `json:"publication_date"`
	PublicationYear int          `json:"publication_year"`
	OpenAccess      *openAccess  `json:"open_access"`
	Authorships     []authorship `json:"authorships"`
	PrimaryLocation *location    `json:"primary_location"`
	Keywords        []keyword    `json:"keywords"`

	// AbstractInvertedIndex maps each word to the positions it occupies.
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

type openAccess struct {
	IsOA  bool   `json:"is_oa"`
	OAURL string `json:"oa_url"`
}

type authorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type location struct {
	LandingPageURL string `json:"landing_page_url"`
	PDFURL         string `json:"pdf_url"`
	Source         *struct {
		DisplayName string `json:"display_name"`
	} `json:"source"`
}

type keyword struct {
	DisplayName string `json:"display_name"`
}
