package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter returns the number of tokens a provider will see for text.
type TokenCounter func(text string) int

// ApproxTokens estimates four runes per token.
func ApproxTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// TiktokenCounter counts with cl100k_base. The encoding is loaded on first
// use; if it cannot be loaded the estimate from ApproxTokens is used.
func TiktokenCounter(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		return ApproxTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}
