package engine

import (
	"unicode/utf8"

	"github.com/encnetwork/doctrans/internal/document"
)

// estimateTokens approximates the token count of a text as one token per
// four characters, never below one. Characters, not bytes, so multi-byte
// scripts are not over-counted.
func estimateTokens(text string) int {
	n := (utf8.RuneCountInString(text) + 3) / 4
	if n < 1 {
		return 1
	}
	return n
}

// chunkUnits splits units into consecutive batches whose summed token
// estimates stay within budget. Order is preserved. A single unit larger
// than the whole budget still gets a batch of its own rather than being
// dropped.
func chunkUnits(units []document.TranslationUnit, budget int) [][]document.TranslationUnit {
	if len(units) == 0 {
		return nil
	}

	batches := make([][]document.TranslationUnit, 0)
	current := make([]document.TranslationUnit, 0)
	used := 0
	for _, unit := range units {
		cost := estimateTokens(unit.Text)
		if len(current) > 0 && used+cost > budget {
			batches = append(batches, current)
			current = make([]document.TranslationUnit, 0)
			used = 0
		}
		current = append(current, unit)
		used += cost
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
