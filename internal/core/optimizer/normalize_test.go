package optimizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"line endings and tabs", "Hello\r\nworld\tand\rmore\nlines", "Hello world and more lines"},
		{"collapse spaces and nbsp", "a   b  c", "a b c"},
		{"space before punctuation", "Hi , there . Really ? Yes !", "Hi, there. Really? Yes!"},
		{"brackets", "( a + b ) = c", "(a+b)=c"},
		{"operators", "x - y / z & w * v", "x-y/z&w*v"},
		{"currency and percent", "Price : $ 5 , up 10 %", "Price: $5, up 10%"},
		{"bullets", "• item one\n• item two", "•item one •item two"},
		{"trim", "  spaced out  ", "spaced out"},
		{"braces", "{ key }", "{key }"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeIdempotentAndShrinking(t *testing.T) {
	inputs := []string{
		"a - - - b",
		"x - - - - y",
		"Total : $ 1 , 200 ( approx . ) = 40 % of   budget\n\n• next",
		"a $ - b ( - c ) 5 % - x",
		"\t\t( ( ( nested ) ) )\r\n",
		"• • bullets • ,",
		"tabs\tand nbsp   mixed",
		"already-normalized text.",
		"trailing operator -",
	}
	for _, in := range inputs {
		once := Normalize(in)
		require.Equal(t, once, Normalize(once), "not idempotent for %q", in)
		require.LessOrEqual(t, len(once), len(in), "grew for %q", in)
		require.LessOrEqual(t, len([]rune(once)), len([]rune(in)), "grew in runes for %q", in)
	}
}
