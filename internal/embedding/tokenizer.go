package embedding

import (
	"strings"
	"unicode"
)

const (
	tokenCLS       = 101
	tokenSEP       = 102
	vocabSize      = 30000
	defaultMaxToks = 256
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer maps words to hash-based token IDs. Han, Hiragana, Katakana
// and Hangul runes are emitted as one token each since those scripts do not
// separate words with spaces.
type SimpleTokenizer struct{}

// Tokenize produces [CLS] tokens... [SEP] padded with zeros to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxToks
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1

	pos := 1
	for _, word := range SplitWords(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(HashString(strings.ToLower(word))%(vocabSize-1000)) + 1000
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = tokenSEP
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords splits text on whitespace and punctuation. Runes of unspaced
// scripts become single-rune words.
func SplitWords(text string) []string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range text {
		switch {
		case isUnspacedScript(r):
			flush()
			words = append(words, string(r))
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return words
}

func isUnspacedScript(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		// -MinInt overflows
		h = 0
	}
	return h
}
