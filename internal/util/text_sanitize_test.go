package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeTextStripsNulAndControls(t *testing.T) {
	in := "hello\x00 world\x01\x02"
	require.Equal(t, "hello world", SanitizeText(in))
}

func TestSanitizeTextKeepsWhitespace(t *testing.T) {
	in := "line one\nline two\ttabbed"
	require.Equal(t, in, SanitizeText(in))
}

func TestSanitizeTextTrims(t *testing.T) {
	require.Equal(t, "body", SanitizeText("  body \n"))
	require.Equal(t, "", SanitizeText(""))
}

func TestWordCount(t *testing.T) {
	require.Equal(t, 0, WordCount(""))
	require.Equal(t, 3, WordCount("  one two\nthree "))
}
