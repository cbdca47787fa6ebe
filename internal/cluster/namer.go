package cluster

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/RuBiCK/viberetro-sub000/internal/board"
)

// Words too generic to make a useful theme label.
var stopWords = map[string]bool{
	"about": true, "after": true, "again": true, "also": true, "been": true,
	"before": true, "being": true, "could": true, "doing": true, "dont": true,
	"every": true, "from": true, "have": true, "having": true, "just": true,
	"like": true, "more": true, "much": true, "need": true, "needs": true,
	"only": true, "other": true, "our": true, "over": true, "really": true,
	"should": true, "some": true, "than": true, "that": true, "them": true,
	"then": true, "there": true, "they": true, "this": true, "very": true,
	"want": true, "were": true, "what": true, "when": true, "will": true,
	"with": true, "would": true, "your": true,
}

// DefaultNamer labels a cluster with the most frequent significant word
// shared across its member cards, falling back to a member count.
func DefaultNamer(cards []board.Card) string {
	counts := make(map[string]int)
	for _, card := range cards {
		seen := make(map[string]bool)
		for _, raw := range strings.Fields(strings.ToLower(card.Content)) {
			word := strings.Trim(raw, ".,;:!?\"'()[]{}#*_-")
			if len(word) < 4 || stopWords[word] || seen[word] {
				continue
			}
			// Count each word once per card so one repetitive card
			// cannot dominate the theme.
			seen[word] = true
			counts[word]++
		}
	}

	best := ""
	bestCount := 1
	words := make([]string, 0, len(counts))
	for word := range counts {
		words = append(words, word)
	}
	sort.Strings(words)
	for _, word := range words {
		if counts[word] > bestCount {
			best = word
			bestCount = counts[word]
		}
	}
	if best != "" {
		first, size := utf8.DecodeRuneInString(best)
		return string(unicode.ToUpper(first)) + best[size:]
	}
	return fmt.Sprintf("Group of %d", len(cards))
}
