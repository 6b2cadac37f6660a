// Package textmatch scores how closely a recognized transcript matches an
// expected phrase. The score blends order-independent word recall with
// character-level edit similarity so partial recognition still earns
// partial credit.
package textmatch

import (
	"strings"
	"unicode"
)

const (
	wordWeight = 0.7
	charWeight = 0.3
)

// Accuracy returns a score in [0,1] for how well the recognized text matches
// the expected text. An empty expected phrase scores 0.
func Accuracy(expected, recognized string) float64 {
	expectedWords := normalizeWords(expected)
	recognizedWords := normalizeWords(recognized)

	if len(expectedWords) == 0 {
		return 0
	}

	word := wordRecall(expectedWords, recognizedWords)
	char := charSimilarity(strings.ToLower(expected), strings.ToLower(recognized))

	return wordWeight*word + charWeight*char
}

// wordRecall counts how many expected words appear anywhere in the recognized
// text, consuming each recognized word at most once.
func wordRecall(expected, recognized []string) float64 {
	available := make(map[string]int, len(recognized))
	for _, w := range recognized {
		available[w]++
	}

	matched := 0
	for _, w := range expected {
		if available[w] > 0 {
			available[w]--
			matched++
		}
	}

	return float64(matched) / float64(len(expected))
}

// charSimilarity is the normalized Levenshtein similarity of the two strings:
// 1 - distance/max(len). Two empty strings are identical.
func charSimilarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}

	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}

	return 1.0 - float64(Levenshtein(a, b))/float64(longest)
}

// Levenshtein computes the edit distance between two strings with unit costs
// for insertion, deletion, and substitution.
func Levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}

			deletion := prev[j] + 1
			insertion := curr[j-1] + 1
			substitution := prev[j-1] + cost

			best := deletion
			if insertion < best {
				best = insertion
			}
			if substitution < best {
				best = substitution
			}
			curr[j] = best
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// normalizeWords lowercases the text, strips punctuation, and splits it into
// non-empty words.
func normalizeWords(s string) []string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}

	return strings.Fields(b.String())
}
