package usecase

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"chatstream/internal/domain"
)

// perMessageOverhead approximates the tokens the chat format adds around
// each message (role markers and separators).
const perMessageOverhead = 4

// TiktokenCounter implements domain.TokenCounter using a BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter for the named encoding
// (e.g. "cl100k_base").
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) CountText(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

func (c *TiktokenCounter) CountMessages(messages []domain.Message) int {
	total := 0
	for _, m := range messages {
		total += perMessageOverhead + c.CountText(m.Content)
	}
	return total
}

// trimToBudget drops the oldest non-system messages until the history fits
// within budget tokens. The system prompt and the newest message always
// survive. A budget of zero disables trimming.
func trimToBudget(counter domain.TokenCounter, messages []domain.Message, budget int) []domain.Message {
	if budget <= 0 || counter == nil || len(messages) == 0 {
		return messages
	}
	if counter.CountMessages(messages) <= budget {
		return messages
	}

	var system []domain.Message
	rest := messages
	if messages[0].Role == domain.RoleSystem {
		system = messages[:1]
		rest = messages[1:]
	}

	// Drop from the front until it fits, keeping at least the last message.
	for len(rest) > 1 {
		combined := append(append([]domain.Message{}, system...), rest...)
		if counter.CountMessages(combined) <= budget {
			break
		}
		rest = rest[1:]
	}

	return append(append([]domain.Message{}, system...), rest...)
}

var _ domain.TokenCounter = (*TiktokenCounter)(nil)
