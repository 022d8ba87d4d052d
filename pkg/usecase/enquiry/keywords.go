// Package enquiry implements the Q&A cycle: answer user questions from
// the verified-enquiry cache when possible, otherwise synthesize a new
// answer from model output plus fetched web content, and log every
// question asked.
package enquiry

import (
	"strings"
	"unicode/utf8"
)

// ExtractKeywords normalizes a question into its keyword set: lowercase
// whitespace-separated tokens with trailing punctuation stripped, minus
// tokens too short to discriminate. The same normalization is applied at
// write and lookup time so cache matching stays symmetric.
func ExtractKeywords(question string) []string {
	var out []string
	seen := map[string]bool{}
	for _, tok := range strings.Fields(question) {
		tok = strings.ToLower(strings.TrimRight(tok, ".,?!"))
		if utf8.RuneCountInString(tok) <= 2 || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}
