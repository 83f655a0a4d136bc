// Package pubmed provides a paper source adapter for the NCBI PubMed E-utilities API.
//
// Searches run in two steps: esearch.fcgi resolves the query to PMIDs, then a
// single batched efetch.fcgi call retrieves the article records. The
// E-utilities documentation is available at
// https://www.ncbi.nlm.nih.gov/books/NBK25499/
package pubmed

import "encoding/xml"

// eSearchResult is the response of esearch.fcgi.
type eSearchResult struct {
	XMLName   xml.Name   `xml:"eSearchResult"`
	Count     int        `xml:"Count"`
	IDList    idList     `xml:"IdList"`
	ErrorList *errorList `xml:"ErrorList,omitempty"`
	Error     string     `xml:"ERROR,omitempty"`
}

type idList struct {
	IDs []string `xml:"Id"`
}

type errorList struct {
	PhraseNotFound []string `xml:"PhraseNotFound,omitempty"`
	FieldNotFound  []string `xml:"FieldNotFound,omitempty"`
}

// articleSet is the response of efetch.fcgi.
type articleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation medlineCitation `xml:"MedlineCitation"`
	Data     pubmedData      `xml:"PubmedData"`
}

type medlineCitation struct {
	PMID        string       `xml:"PMID"`
	Article     article      `xml:"Article"`
	MeshList    *meshList    `xml:"MeshHeadingList,omitempty"`
	KeywordList *keywordList `xml:"KeywordList,omitempty"`
}

type article struct {
	Journal     journal       `xml:"Journal"`
	Title       string        `xml:"ArticleTitle"`
	ELocationID []eLocationID `xml:"ELocationID,omitempty"`
	Abstract    *abstract     `xml:"Abstract,omitempty"`
	AuthorList  *authorList   `xml:"AuthorList,omitempty"`
	ArticleDate []articleDate `xml:"ArticleDate,omitempty"`
}

type journal struct {
	Title           string       `xml:"Title,omitempty"`
	ISOAbbreviation string       `xml:"ISOAbbreviation,omitempty"`
	Issue           journalIssue `xml:"JournalIssue"`
}

type journalIssue struct {
	PubDate pubDate `xml:"PubDate"`
}

// pubDate may carry a structured date or a free-form MedlineDate ("2020 Jan-Feb").
type pubDate struct {
	Year        string `xml:"Year,omitempty"`
	Month       string `xml:"Month,omitempty"`
	Day         string `xml:"Day,omitempty"`
	MedlineDate string `xml:"MedlineDate,omitempty"`
}

type eLocationID struct {
	EIdType string `xml:"EIdType,attr"`
	Valid   string `xml:"ValidYN,attr,omitempty"`
	Value   string `xml:",chardata"`
}

type abstract struct {
	Texts []abstractText `xml:"AbstractText"`
}

// abstractText is one section of a possibly structured abstract.
type abstractText struct {
	Label string `xml:"Label,attr,omitempty"`
	Value string `xml:",chardata"`
}

type authorList struct {
	Authors []author `xml:"Author"`
}

type author struct {
	ValidYN        string `xml:"ValidYN,attr,omitempty"`
	LastName       string `xml:"LastName,omitempty"`
	ForeName       string `xml:"ForeName,omitempty"`
	CollectiveName string `xml:"CollectiveName,omitempty"`
}

type articleDate struct {
	DateType string `xml:"DateType,attr,omitempty"`
	Year     string `xml:"Year"`
	Month    string `xml:"Month,omitempty"`
	Day      string `xml:"Day,omitempty"`
}

type meshList struct {
	Headings []struct {
		Descriptor string `xml:"DescriptorName"`
	} `xml:"MeshHeading"`
}

type keywordList struct {
	Keywords []string `xml:"Keyword"`
}

type pubmedData struct {
	ArticleIDs articleIDList `xml:"ArticleIdList"`
}

type articleIDList struct {
	IDs []articleID `xml:"ArticleId"`
}

type articleID struct {
	IDType string `xml:"IdType,attr"`
	Value  string `xml:",chardata"`
}
