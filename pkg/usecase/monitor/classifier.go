package monitor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/finwatch/finwatch/pkg/adapter"
	"github.com/finwatch/finwatch/pkg/model"
	"google.golang.org/genai"
)

const rawResponseMaxRunes = 500

// Classifier turns a before/after summary pair into a structured change
// record. It never returns an error: every failure mode resolves to an
// error-flavored record so a cycle can always report what happened.
type Classifier struct {
	llm adapter.LLM
}

// NewClassifier creates a Classifier. A nil llm is valid and yields
// Configuration Error records, surfacing the missing credential as a
// reportable condition instead of a crash.
func NewClassifier(llm adapter.LLM) *Classifier {
	return &Classifier{llm: llm}
}

var classifySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"change_type": {
			Type:        genai.TypeString,
			Description: "Short category of the change, e.g. 'Tax Code Adjustment', 'Regulatory Guidance', 'Generic Update'",
		},
		"significance_level": {
			Type:        genai.TypeString,
			Description: "One of: High, Medium, Low, Unknown",
		},
		"main_summary": {
			Type:        genai.TypeString,
			Description: "One or two sentences describing what changed",
		},
		"key_details": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
		"affected_parties": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
		"actionable_insights": {
			Type: genai.TypeString,
		},
		"referenced_regulation": {
			Type: genai.TypeString,
		},
		"source_trustworthiness": {
			Type:        genai.TypeString,
			Description: "Assessment of the source, e.g. 'Official government source'",
		},
	},
	Required: []string{"change_type", "significance_level", "main_summary"},
}

// Classify analyzes the difference between two summaries of a monitored
// source. Returns nil when the summaries are identical (no semantic
// change to analyze); otherwise always returns a record.
func (c *Classifier) Classify(ctx context.Context, prevSummary, currSummary, sourceName string) *model.ChangeAnalysis {
	if prevSummary == currSummary {
		return nil
	}

	if c.llm == nil {
		return &model.ChangeAnalysis{
			ChangeType:        model.ChangeTypeConfigurationError,
			SignificanceLevel: model.SignificanceHigh,
			MainSummary:       "AI analysis unavailable: no model credential configured. Change detected for " + sourceName + " but not classified.",
		}
	}

	prompt := buildClassifyPrompt(prevSummary, currSummary, sourceName)
	raw, err := c.llm.GenerateJSON(ctx, prompt, classifySchema)
	if err != nil {
		return &model.ChangeAnalysis{
			ChangeType:        model.ChangeTypeProcessingError,
			SignificanceLevel: model.SignificanceUnknown,
			MainSummary:       "AI analysis failed for " + sourceName + ": " + err.Error(),
		}
	}

	var analysis model.ChangeAnalysis
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &analysis); err != nil {
		return &model.ChangeAnalysis{
			ChangeType:        model.ChangeTypeResponseError,
			SignificanceLevel: model.SignificanceUnknown,
			MainSummary:       "AI returned an unparseable response for " + sourceName + ".",
			RawResponse:       truncateRunes(raw, rawResponseMaxRunes),
		}
	}

	// Defaults applied once at the model-output boundary.
	if analysis.ChangeType == "" {
		analysis.ChangeType = "Generic Update"
	}
	if analysis.SignificanceLevel == "" {
		analysis.SignificanceLevel = model.SignificanceUnknown
	}
	if analysis.MainSummary == "" {
		analysis.MainSummary = "Content changed for " + sourceName + "."
	}

	return &analysis
}

func buildClassifyPrompt(prevSummary, currSummary, sourceName string) string {
	var b strings.Builder
	b.WriteString("You are analyzing a UK government or financial regulator web page for material changes to tax or financial regulation.\n\n")
	b.WriteString("Source: ")
	b.WriteString(sourceName)
	b.WriteString("\n\nPrevious content summary:\n")
	b.WriteString(prevSummary)
	b.WriteString("\n\nCurrent content summary:\n")
	b.WriteString(currSummary)
	b.WriteString("\n\nDescribe what changed, how significant it is for UK taxpayers and businesses, ")
	b.WriteString("who is affected, and any regulation referenced.")
	return b.String()
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

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
