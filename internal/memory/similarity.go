package memory

import (
	"math"
	"strings"
)

// embed and cosine mirror internal/retrieval's bag-of-words approach,
// kept as a private copy here because memory's vocabulary grows with
// every Put and can't share a fixed corpus-built vocab.
func embed(text string, vocab map[string]int) []float64 {
	v := make([]float64, len(vocab))
	for _, t := range tokenize(text) {
		if idx, ok := vocab[t]; ok {
			v[idx]++
		}
	}
	return v
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// tokenOverlap is the fallback used when an entry carries no stored
// embedding (e.g. written before embeddings were computed for it).
func tokenOverlap(a, b string) float64 {
	at, bt := tokenize(a), tokenize(b)
	if len(at) == 0 || len(bt) == 0 {
		return 0
	}
	set := map[string]bool{}
	for _, t := range bt {
		set[t] = true
	}
	hits := 0
	for _, t := range at {
		if set[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(at))
}
