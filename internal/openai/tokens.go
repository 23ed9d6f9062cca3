package openai

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts prompt tokens.
type TokenCounter interface {
	CountTokens(text string) (int, error)
}

// TiktokenCounter counts tokens with the BPE encoding of a model. The
// encoding is loaded on first use.
type TiktokenCounter struct {
	model string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

var _ TokenCounter = (*TiktokenCounter)(nil)

// NewTiktokenCounter creates a counter for model, DefaultModel when empty.
func NewTiktokenCounter(model string) *TiktokenCounter {
	if model == "" {
		model = DefaultModel
	}
	return &TiktokenCounter{model: model}
}

// CountTokens implements TokenCounter.
func (t *TiktokenCounter) CountTokens(text string) (int, error) {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.EncodingForModel(t.model)
		if t.err != nil {
			t.enc, t.err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		}
	})
	if t.err != nil {
		return 0, fmt.Errorf("failed to load tokenizer for %s: %w", t.model, t.err)
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}
