// Package tokens estimates token counts for cost and context-limit
// accounting.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Accountant counts tokens using the model's tokenizer, falling back to
// cl100k_base for unknown models and to a character heuristic when no
// encoding can be loaded at all. The zero value is usable and counts
// with the heuristic only.
type Accountant struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	disabled bool // set when encoding data cannot be loaded
}

// NewAccountant creates a token accountant with an empty encoder cache.
func NewAccountant() *Accountant {
	return &Accountant{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// Count returns the token count of text for the given model. Never
// fails; degraded estimates are acceptable for limit warnings.
func (a *Accountant) Count(text, model string) int {
	if text == "" {
		return 0
	}
	if enc := a.encoderFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return heuristicCount(text)
}

func (a *Accountant) encoderFor(model string) *tiktoken.Tiktoken {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.disabled || a.encoders == nil {
		return nil
	}
	if enc, ok := a.encoders[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		a.disabled = true
		return nil
	}
	a.encoders[model] = enc
	return enc
}

// heuristicCount approximates tokens as one per four characters, the
// usual rule of thumb for English and Portuguese prose.
func heuristicCount(text string) int {
	n := utf8.RuneCountInString(text)
	count := n / 4
	if count == 0 && n > 0 {
		count = 1
	}
	return count
}
