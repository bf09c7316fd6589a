// Package nlp turns a chat utterance into one or more ParsedCommands.
//
// A Provider does the language work and returns raw JSON. The Classifier
// validates that JSON against a fixed schema, normalises the slots and maps
// provider failures onto the classification error kinds. Providers never
// see store contents beyond the recent record summaries in the request.
package nlp

import (
	"context"
	"encoding/json"
	"errors"

	"ledgerchat/internal/core"
	"ledgerchat/internal/history"
)

// ErrRateLimit is returned by a Provider when the upstream API reports a
// rate-limiting condition (HTTP 429).
var ErrRateLimit = errors.New("nlp: upstream rate limit exceeded")

// ErrUpstream is returned for 5xx responses and transport failures.
var ErrUpstream = errors.New("nlp: upstream unavailable")

// ErrMalformedOutput is returned when the response cannot be interpreted as
// a command list.
var ErrMalformedOutput = errors.New("nlp: malformed response from LLM")

// RecentRecord is a short description of a recent ledger record, given to
// the provider so "#5" or "the taxi" can be disambiguated.
type RecentRecord struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
}

// Request is the input to a single extraction call.
type Request struct {
	Utterance       string
	Today           core.Date
	Timezone        string
	RecentRecords   []RecentRecord
	Categories      []string
	DefaultCurrency string
	// History holds the previous turns of the conversation, oldest first.
	// Only Utterance is classified.
	History []history.Turn
}

// Extraction is the raw provider output. Raw must be a JSON object of the
// form {"commands": [{"intent": ..., "slots": {...}}, ...]}.
type Extraction struct {
	Raw      json.RawMessage
	Provider string
	Model    string
}

// Provider extracts intents and slots from an utterance.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	Extract(ctx context.Context, req Request) (*Extraction, error)
}
