package enquiry

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/finwatch/finwatch/pkg/adapter"
	"github.com/finwatch/finwatch/pkg/utils/logging"
	"google.golang.org/genai"
)

// Disclaimer is appended to every synthesized answer. Cached answers
// already carry it from their original synthesis.
const Disclaimer = "Please note: this is AI-generated information, not professional financial advice. Verify details against official GOV.UK guidance before acting on them."

const (
	maxDiscoveryURLs    = 3
	maxFetchURLs        = 2
	fetchedTextMaxRunes = 15000

	errorPlaceholderAnswer = "I was unable to look up an answer to this question right now."
	errorExplanation       = "discovery failed"
)

// Discovery is the first-phase model output: an initial answer plus
// candidate authoritative URLs to corroborate it.
type Discovery struct {
	Answer      string   `json:"answer"`
	URLs        []string `json:"urls"`
	Explanation string   `json:"url_search_explanation"`

	// Failed marks a discovery that fell back to the error placeholder.
	Failed bool `json:"-"`
}

var discoverySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"answer": {
			Type:        genai.TypeString,
			Description: "Best-effort answer to the question from general knowledge",
		},
		"urls": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "Up to 3 authoritative URLs (gov.uk, fca.org.uk) likely to confirm the answer, most relevant first",
		},
		"url_search_explanation": {
			Type: genai.TypeString,
		},
	},
	Required: []string{"answer", "urls"},
}

// Fetcher is the page-fetch capability consumed by synthesis.
type Fetcher interface {
	FetchReadable(ctx context.Context, url string) (string, error)
}

// Synthesizer runs the two-phase answer pipeline: discovery, fetching
// the candidate URLs, then a final synthesis call over the fetched text.
// None of its methods return errors: every failure degrades to a usable
// answer so a question never goes unanswered.
type Synthesizer struct {
	llm     adapter.LLM
	fetcher Fetcher
}

func NewSynthesizer(llm adapter.LLM, fetcher Fetcher) *Synthesizer {
	return &Synthesizer{llm: llm, fetcher: fetcher}
}

// Discover asks the model for an initial answer and candidate URLs. On
// any failure it returns the error placeholder with zero URLs.
func (s *Synthesizer) Discover(ctx context.Context, question string) Discovery {
	failed := Discovery{
		Answer:      errorPlaceholderAnswer,
		Explanation: errorExplanation,
		Failed:      true,
	}
	if s.llm == nil {
		return failed
	}

	prompt := "Answer the following UK tax or financial regulation question. " +
		"Provide your best answer and up to 3 authoritative URLs (prefer www.gov.uk) where the answer can be verified.\n\nQuestion: " + question
	raw, err := s.llm.GenerateJSON(ctx, prompt, discoverySchema)
	if err != nil {
		logging.From(ctx).Warn("discovery call failed", "error", err)
		return failed
	}

	var d Discovery
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &d); err != nil {
		logging.From(ctx).Warn("discovery returned unparseable output", "error", err)
		return failed
	}
	if d.Answer == "" {
		d.Answer = errorPlaceholderAnswer
	}
	if len(d.URLs) > maxDiscoveryURLs {
		d.URLs = d.URLs[:maxDiscoveryURLs]
	}
	return d
}

// FetchSources fetches readable text for the first two candidate URLs,
// preserving order. Per-URL failures contribute nothing; the result may
// be empty.
func (s *Synthesizer) FetchSources(ctx context.Context, urls []string) []string {
	if s.fetcher == nil {
		return nil
	}
	if len(urls) > maxFetchURLs {
		urls = urls[:maxFetchURLs]
	}

	var texts []string
	for _, url := range urls {
		text, err := s.fetcher.FetchReadable(ctx, url)
		if err != nil {
			logging.From(ctx).Info("skipping candidate url", "url", url, "error", err)
			continue
		}
		if runes := []rune(text); len(runes) > fetchedTextMaxRunes {
			text = string(runes[:fetchedTextMaxRunes])
		}
		texts = append(texts, text)
	}
	return texts
}

// Synthesize merges the discovery answer with the fetched page texts
// into the final answer. Model failure falls back to the discovery
// answer; either way the disclaimer is present exactly once.
func (s *Synthesizer) Synthesize(ctx context.Context, question, initialAnswer string, fetchedTexts []string) string {
	if s.llm == nil {
		return appendDisclaimer(initialAnswer)
	}

	var b strings.Builder
	b.WriteString("Refine the draft answer to this UK tax or financial regulation question using the fetched official page content. ")
	b.WriteString("Prefer facts from the fetched content over the draft. Answer concisely.\n\n")
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nDraft answer: ")
	b.WriteString(initialAnswer)
	for i, text := range fetchedTexts {
		b.WriteString("\n\nFetched content #")
		b.WriteRune(rune('1' + i))
		b.WriteString(":\n")
		b.WriteString(text)
	}

	answer, err := s.llm.GenerateText(ctx, b.String())
	if err != nil || strings.TrimSpace(answer) == "" {
		logging.From(ctx).Warn("synthesis call failed, using discovery answer", "error", err)
		return appendDisclaimer(initialAnswer)
	}
	return appendDisclaimer(answer)
}

// appendDisclaimer adds the disclaimer unless the text already contains
// it. Idempotent: applying it twice never duplicates.
func appendDisclaimer(answer string) string {
	if strings.Contains(answer, Disclaimer) {
		return answer
	}
	if answer == "" {
		return Disclaimer
	}
	return answer + "\n\n" + Disclaimer
}

// stripCodeFence removes a surrounding markdown code fence some models
// wrap around JSON output.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
