package transcript

import (
	"context"
	"time"

	"github.com/agentplexus/twilio-realtime-bridge/internal/completion"
)

const extractionPrompt = "Extract customer details: name, availability, and any special notes from the transcript " +
	"(you can add the customer's problem to the special notes). " +
	"Also extract the phone number, date of birth and doctor name when the caller gives them. " +
	"Return customer's availability as a date in ISO 8601 format. Today's date is "

// Completer runs one chat completion. *completion.Client implements it.
type Completer interface {
	Complete(ctx context.Context, messages []completion.Message, schema *completion.JSONSchema) (string, error)
}

// CompletionExtractor extracts details with a structured-output chat
// completion.
type CompletionExtractor struct {
	completer Completer
	now       func() time.Time
}

// NewCompletionExtractor creates an extractor.
func NewCompletionExtractor(c Completer) *CompletionExtractor {
	return &CompletionExtractor{completer: c, now: time.Now}
}

// Extract returns the raw JSON document produced for transcript.
func (e *CompletionExtractor) Extract(ctx context.Context, transcript string) ([]byte, error) {
	messages := []completion.Message{
		{Role: "system", Content: extractionPrompt + e.now().Format(time.RFC1123)},
		{Role: "user", Content: transcript},
	}
	content, err := e.completer.Complete(ctx, messages, &completion.JSONSchema{
		Name:   SchemaName,
		Schema: Schema(),
	})
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}
