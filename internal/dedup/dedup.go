// Package dedup reconciles offer sets from one or more backends into a
// canonical, duplicate-free collection.
//
// The fuzzy title pass compares each candidate against every retained title,
// so a batch of n offers costs O(n²) edit-distance computations in the worst
// case. Per-request batches stay small enough that this has not been worth
// optimizing.
package dedup

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/offerscout/offerscout/internal/hash/sha256"
	"github.com/offerscout/offerscout/internal/scout"
)

// DefaultSimilarityThreshold collapses titles whose normalized Levenshtein
// similarity meets or exceeds it.
const DefaultSimilarityThreshold = 0.85

// Engine removes near-duplicate offers while preserving first-seen order.
type Engine struct {
	threshold float64
}

// New builds an Engine with the given similarity threshold; values outside
// (0, 1] fall back to the default.
func New(threshold float64) *Engine {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return &Engine{threshold: threshold}
}

// Deduplicate returns the input with duplicates removed. An offer is a
// duplicate of an earlier-retained offer when any one criterion matches:
// stripped image URL, normalized title, the (title, price, brand) composite
// key, or fuzzy title similarity above the threshold. First match wins.
func (e *Engine) Deduplicate(offers []scout.Offer) []scout.Offer {
	kept := make([]scout.Offer, 0, len(offers))
	seenImages := make(map[string]struct{})
	seenTitles := make(map[string]struct{})
	seenComposite := make(map[string]struct{})
	retainedTitles := make([]string, 0, len(offers))

	for _, offer := range offers {
		image := stripQuery(offer.ImageURL)
		title := NormalizeTitle(offer.Title)
		composite := compositeKey(title, offer.Price, offer.Brand)

		if image != "" {
			if _, ok := seenImages[image]; ok {
				continue
			}
		}
		if title != "" {
			if _, ok := seenTitles[title]; ok {
				continue
			}
		}
		if _, ok := seenComposite[composite]; ok {
			continue
		}
		if e.fuzzyMatch(title, retainedTitles) {
			continue
		}

		kept = append(kept, offer)
		if image != "" {
			seenImages[image] = struct{}{}
		}
		if title != "" {
			seenTitles[title] = struct{}{}
			retainedTitles = append(retainedTitles, title)
		}
		seenComposite[composite] = struct{}{}
	}
	return kept
}

func (e *Engine) fuzzyMatch(title string, retained []string) bool {
	if title == "" {
		return false
	}
	for _, prev := range retained {
		if Similarity(title, prev) >= e.threshold {
			return true
		}
	}
	return false
}

// NormalizeTitle case-folds, strips punctuation, and collapses whitespace.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// compositeKey digests the (title, price, brand) tuple so map keys stay a
// fixed size regardless of title length.
func compositeKey(normTitle string, price float64, brand string) string {
	raw := fmt.Sprintf("%s|%.2f|%s", normTitle, price, strings.ToLower(brand))
	digest, err := sha256.New().Hash([]byte(raw))
	if err != nil {
		return raw
	}
	return digest
}

func stripQuery(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
