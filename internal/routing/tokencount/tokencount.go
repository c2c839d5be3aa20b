// Package tokencount estimates request/response token counts for the
// model router's (C15) budget tracking, grounded on the pack's
// tiktoken-go singleton-encoder pattern
// (teradata-labs-loom/pkg/agent/token_counter.go): one shared
// cl100k_base encoder, a char-based fallback when the encoder cannot be
// built, and per-message overhead padding.
package tokencount

import (
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// perMessageOverhead approximates the role/formatting tokens a chat
// message adds beyond its raw text content.
const perMessageOverhead = 4

// Counter estimates token counts. It is safe for concurrent use.
type Counter struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

var (
	shared     *Counter
	sharedOnce sync.Once
)

// Shared returns a process-wide Counter built once on first use.
func Shared() *Counter {
	sharedOnce.Do(func() {
		shared = New()
	})
	return shared
}

// New builds a Counter against the cl100k_base encoding, the
// GPT-4/Claude-compatible approximation the corpus standardizes on for
// cross-provider estimates. If the encoding tables cannot be loaded, the
// Counter falls back to a char/4 estimate rather than failing callers.
func New() *Counter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Counter{}
	}
	return &Counter{encoder: enc}
}

// Count returns the estimated token count of text.
func (c *Counter) Count(text string) int {
	if c.encoder == nil {
		return len(text) / 4
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

// Message is the minimal shape Count needs from a routing message: a
// role plus text content.
type Message struct {
	Role    string
	Content string
}

// CountMessages estimates the token cost of a full chat-style request,
// including per-message formatting overhead.
func (c *Counter) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += perMessageOverhead
		total += c.Count(m.Role)
		total += c.Count(m.Content)
	}
	return total
}

// CountAny estimates the token cost of an arbitrary payload by rendering
// it with fmt and counting the result; used for tool-call arguments and
// other non-text structures where an exact tokenizer pass is not worth
// the complexity.
func (c *Counter) CountAny(v any) int {
	return c.Count(fmt.Sprintf("%v", v))
}
