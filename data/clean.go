package data

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// 1. Characters that end a sentence in "str" documents.
	SentenceDelims = []string{".", "?", "|"}

	// 2. A sentence is kept only with more whitespace tokens than this.
	MinSentenceTokens = 5

	// 3. Global Regex variables (compiled once at startup)
	ReSplit *regexp.Regexp
	ReTok   *regexp.Regexp
)

func init() {
	// --- A. Compile ReSplit ---
	escaped := make([]string, len(SentenceDelims))
	for i, c := range SentenceDelims {
		escaped[i] = regexp.QuoteMeta(c)
	}
	ReSplit = regexp.MustCompile(fmt.Sprintf(`[%s]`, strings.Join(escaped, "")))

	// --- B. Compile ReTok ---
	// Logic: match <tags> OR words (letters/digits with inner apostrophes or
	// hyphens) OR any single other non-space symbol.

	// 1. Tag Pattern: <[^>\s]+>
	tagPattern := `<[^>\s]+>`

	// 2. Word Pattern
	wordPattern := `[\p{L}\p{N}]+(?:['’\-][\p{L}\p{N}]+)*`

	// 3. Symbol Pattern
	symbolPattern := `[^\s\p{L}\p{N}]`

	ReTok = regexp.MustCompile(fmt.Sprintf(`%s|%s|%s`, tagPattern, wordPattern, symbolPattern))
}

// SplitSentences lower-cases doc, splits it on SentenceDelims and drops
// sentences of MinSentenceTokens whitespace tokens or fewer.
func SplitSentences(doc string) []string {
	var out []string
	for _, sen := range ReSplit.Split(strings.ToLower(doc), -1) {
		if len(strings.Split(strings.TrimSpace(sen), " ")) > MinSentenceTokens {
			out = append(out, sen)
		}
	}
	return out
}

// Tokenize splits a sentence into words and punctuation.
func Tokenize(sentence string) []string {
	return ReTok.FindAllString(sentence, -1)
}
