package llm

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token counts as a pure function of the
// serialized history. Counts are provider-agnostic: budget enforcement
// needs stable accounting, not provider-exact numbers.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter backed by the cl100k_base encoding.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (c *TokenCounter) encoding() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken unavailable, falling back to byte heuristic", "error", err)
			return
		}
		c.enc = enc
	})
	return c.enc
}

// CountText returns the token count of a single string.
func (c *TokenCounter) CountText(s string) int {
	if enc := c.encoding(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	// Rough fallback: ~4 bytes per token.
	return (len(s) + 3) / 4
}

// CountTurns returns the token count of a full history snapshot.
func (c *TokenCounter) CountTurns(turns []Turn) int {
	total := 0
	for _, turn := range turns {
		for _, block := range turn {
			switch v := block.(type) {
			case TextPrompt:
				total += c.CountText(v.Text)
			case TextResult:
				total += c.CountText(v.Text)
			case Thinking:
				total += c.CountText(v.Thinking)
			case RedactedThinking:
				total += c.CountText(v.Data)
			case ToolCall:
				input, _ := json.Marshal(v.Input)
				total += c.CountText(v.Name) + c.CountText(string(input))
			case ToolResult:
				total += c.CountText(v.Output)
			}
		}
	}
	return total
}
