package summarizer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/helixir/research-integrator/internal/domain"
)

const systemPrompt = `You are a research assistant that writes faithful summaries of scientific papers.
Use only the information given. Do not invent results, numbers or citations.
Answer with the summary text only, without headings or preamble.`

var styleInstructions = map[domain.SummaryType]string{
	domain.SummaryTypeBrief: "Write a brief summary for a reader deciding whether the paper is relevant. " +
		"State the question addressed and the main finding.",
	domain.SummaryTypeDetailed: "Write a detailed summary covering the background, objectives, methods, " +
		"key results and conclusions.",
	domain.SummaryTypeTechnical: "Write a technical summary for a specialist. Focus on the methodology, " +
		"data, quantitative results and limitations.",
}

// BuildPrompt returns the system and user prompts for summarizing p. The
// output depends only on its arguments.
func BuildPrompt(p *domain.Paper, summaryType domain.SummaryType, maxLength int) (string, string) {
	var b strings.Builder

	b.WriteString(styleInstructions[summaryType])
	fmt.Fprintf(&b, " Use at most %d words.\n\n", maxLength)

	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	if len(p.Authors) > 0 {
		fmt.Fprintf(&b, "Authors: %s\n", strings.Join(p.Authors, ", "))
	}
	if p.Journal != "" {
		fmt.Fprintf(&b, "Journal: %s\n", p.Journal)
	}
	if y := p.PublicationYear(); y != 0 {
		fmt.Fprintf(&b, "Year: %d\n", y)
	}

	abstract := p.Abstract
	if abstract == "" {
		abstract = "(no abstract available; summarize from the title only)"
	}
	fmt.Fprintf(&b, "\nAbstract:\n%s\n", abstract)

	return systemPrompt, b.String()
}

// truncateWords cuts text after its first n words, keeping the original
// spacing between the words it keeps.
func truncateWords(text string, n int) string {
	words := 0
	inWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			inWord = true
			words++
			if words > n {
				return strings.TrimRightFunc(text[:i], unicode.IsSpace)
			}
		}
	}
	return text
}
