package domain

import (
	"regexp"
	"strings"
	"unicode"
)

// whitespaceRegex matches one or more whitespace characters (spaces, tabs, newlines).
var whitespaceRegex = regexp.MustCompile(`\s+`)

// doiPrefixRegex strips resolver prefixes from DOIs.
var doiPrefixRegex = regexp.MustCompile(`(?i)^(?:https?://(?:dx\.)?doi\.org/|doi:\s*)`)

// CollapseWhitespace trims s and collapses runs of whitespace into one space.
func CollapseWhitespace(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// NormalizeQuery normalizes a query string by:
// - Converting to lowercase
// - Trimming leading/trailing whitespace
// - Collapsing multiple whitespace characters into a single space
func NormalizeQuery(s string) string {
	return strings.ToLower(CollapseWhitespace(s))
}

// NormalizeDOI lowercases a DOI and strips resolver prefixes.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return ""
	}
	return strings.ToLower(doiPrefixRegex.ReplaceAllString(doi, ""))
}

// NormalizeTitle reduces a title to lowercase alphanumeric words separated by
// single spaces, so punctuation and casing differences do not matter.
func NormalizeTitle(title string) string {
	var sb strings.Builder
	sb.Grow(len(title))
	space := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return sb.String()
}

// Tokenize splits text into its distinct normalized words, in first-seen order.
func Tokenize(text string) []string {
	fields := strings.Fields(NormalizeTitle(text))
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
