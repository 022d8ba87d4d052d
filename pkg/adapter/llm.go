// Package adapter holds clients for external capabilities: LLM
// backends, web fetching, and the optional snapshot archive.
package adapter

import (
	"context"

	"google.golang.org/genai"
)

// LLM is the model-call capability consumed by the monitoring and
// enquiry cycles. Implementations return transport/parse errors as-is;
// the fail-closed behavior required by the callers lives in the
// usecases, which translate errors into structured records.
type LLM interface {
	// GenerateText returns free-form text output for the prompt.
	GenerateText(ctx context.Context, prompt string) (string, error)

	// GenerateJSON returns a JSON document shaped by schema.
	GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error)
}
