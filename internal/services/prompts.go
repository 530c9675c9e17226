package services

import (
	"strings"
	"unicode"
)

const (
	// ClassificationTextLimit and SummaryTextLimit bound the document text, in
	// characters, that goes into each prompt.
	ClassificationTextLimit = 2000
	SummaryTextLimit        = 3000

	classificationMaxTokens int32 = 100
	summaryMaxTokens        int32 = 200

	// ClassificationConfidence is a fixed placeholder; the model returns no score.
	ClassificationConfidence = 0.85

	CategoryOther = "Other"
)

// Categories is the closed label set a document is classified into.
var Categories = []string{"Invoice", "Contract", "Report", "Letter", "Form", CategoryOther}

const classificationPromptTemplate = `Classify the following document text into one of these categories:
- Invoice
- Contract
- Report
- Letter
- Form
- Other

Document text:
%TEXT%

Respond with only the category name.`

const summaryPromptTemplate = `Provide a concise summary of the following document in 2-3 sentences:

%TEXT%

Summary:`

// BuildClassificationPrompt embeds at most ClassificationTextLimit characters of text.
func BuildClassificationPrompt(text string) string {
	return strings.Replace(classificationPromptTemplate, "%TEXT%", Truncate(text, ClassificationTextLimit), 1)
}

// BuildSummaryPrompt embeds at most SummaryTextLimit characters of text.
func BuildSummaryPrompt(text string) string {
	return strings.Replace(summaryPromptTemplate, "%TEXT%", Truncate(text, SummaryTextLimit), 1)
}

// Truncate returns the first limit characters of s.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// NormalizeCategory maps a model answer onto the closed label set. Anything
// that is not one of the labels becomes Other.
func NormalizeCategory(raw string) string {
	answer := strings.TrimFunc(strings.TrimSpace(raw), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	for _, c := range Categories {
		if strings.EqualFold(answer, c) {
			return c
		}
	}
	return CategoryOther
}
