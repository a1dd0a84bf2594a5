package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// EstimateTokens counts text with the cl100k encoding. It falls back to a
// four-characters-per-token guess if the encoding cannot be loaded.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	if codec != nil {
		if ids, _, err := codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (len(text) + 3) / 4
}

// EstimateUsage builds a Usage for backends that do not report one.
func EstimateUsage(prompt, completion string) models.Usage {
	p := EstimateTokens(prompt)
	c := EstimateTokens(completion)
	return models.Usage{
		PromptTokens:     p,
		CompletionTokens: c,
		TotalTokens:      p + c,
		Estimated:        true,
	}
}
