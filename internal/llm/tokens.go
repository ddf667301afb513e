package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

// EstimateTokens counts text with the cl100k_base encoding. Providers that
// report usage are never estimated; this covers the ones that don't. If the
// codec is unavailable it falls back to four characters per token.
func EstimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if codecErr == nil {
		if ids, _, err := codec.Encode(text); err == nil {
			return int64(len(ids))
		}
	}
	return int64((len(text) + 3) / 4)
}
